// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/opentrusty/tenantcore/internal/tenant"
)

// Span attribute keys
const (
	AttrTenantID    = attribute.Key("tenant.id")
	AttrTenantScope = attribute.Key("tenant.scope")
)

// Config holds tracing configuration
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	SamplingRate   float64
}

func (c Config) sampler() sdktrace.Sampler {
	rate := c.SamplingRate
	if rate <= 0 || rate > 1 {
		rate = 1
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
}

// Tracer wraps OpenTelemetry tracer
type Tracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// New installs an OTLP/HTTP provider as the global one. The endpoint
// comes from the standard OTEL_EXPORTER_OTLP_* environment variables.
func New(ctx context.Context, cfg Config) (*Tracer, error) {
	if !cfg.Enabled {
		return Noop(), nil
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(TenantSpanProcessor{}),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(cfg.sampler()),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return NewWithProvider(provider, cfg.ServiceName), nil
}

// NewWithProvider wraps an existing provider.
func NewWithProvider(provider *sdktrace.TracerProvider, name string) *Tracer {
	return &Tracer{tracer: provider.Tracer(name), provider: provider}
}

// Noop returns a tracer that records nothing.
func Noop() *Tracer {
	return &Tracer{tracer: noop.NewTracerProvider().Tracer("noop")}
}

// Shutdown flushes pending spans.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// Start starts a new span
func (t *Tracer) Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, spanName, opts...)
}

// StartTenant starts a span for an operation whose tenant is known
// before the request context carries it. An empty id marks a platform
// operation.
func (t *Tracer) StartTenant(ctx context.Context, spanName, tenantID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, spanName, trace.WithAttributes(tenantAttrs(tenantID)...))
}

// End closes span, recording err as the span status when set.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func tenantAttrs(tenantID string) []attribute.KeyValue {
	scope := "tenant"
	if tenantID == "" {
		scope = "platform"
	}
	return []attribute.KeyValue{AttrTenantID.String(tenantID), AttrTenantScope.String(scope)}
}

// TenantSpanProcessor tags every span started under a resolved tenant
// context, including spans opened by instrumentation libraries.
type TenantSpanProcessor struct{}

func (TenantSpanProcessor) OnStart(ctx context.Context, s sdktrace.ReadWriteSpan) {
	if tc, ok := tenant.FromContext(ctx); ok && tc.ID != "" {
		s.SetAttributes(tenantAttrs(tc.ID)...)
	}
}

func (TenantSpanProcessor) OnEnd(sdktrace.ReadOnlySpan)      {}
func (TenantSpanProcessor) Shutdown(context.Context) error   { return nil }
func (TenantSpanProcessor) ForceFlush(context.Context) error { return nil }
