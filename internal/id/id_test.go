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

package id

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPurpose: Validates that record identifiers are UUIDv7 so rows sort by creation time.
// Scope: Unit Test
// Security: Traceability of durable records
// Expected: Parsed identifier reports version 7 and consecutive ids differ.
// Test Case ID: ID-01
func TestID_NewUUIDv7(t *testing.T) {
	a := NewUUIDv7()
	b := NewUUIDv7()

	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.NotEqual(t, a, b)
}

// TestPurpose: Validates opaque token length and uniqueness.
// Scope: Unit Test
// Security: Unpredictability of one-time tokens (CWE-330)
// Expected: 32 random bytes encode to 64 hex characters and two tokens differ.
// Test Case ID: ID-02
func TestID_NewOpaqueToken(t *testing.T) {
	a, err := NewOpaqueToken(32)
	require.NoError(t, err)
	b, err := NewOpaqueToken(32)
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}
