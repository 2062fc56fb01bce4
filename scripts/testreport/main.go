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

// Command testreport merges `go test -json` output with the TestPurpose
// annotations found in the test sources and renders JSON, Markdown and
// HTML reports.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"golang.org/x/mod/modfile"
)

// TestMetadata holds info parsed from Go source comments
type TestMetadata struct {
	Name       string `json:"name"`
	Purpose    string `json:"purpose,omitempty"`
	Scope      string `json:"scope,omitempty"`
	Security   string `json:"security,omitempty"`
	Expected   string `json:"expected,omitempty"`
	TestCaseID string `json:"test_case_id,omitempty"`
	Package    string `json:"package"`
	Category   string `json:"category"`
	Type       string `json:"type"` // UT or IT
}

// GoTestEvent represents a single event from 'go test -json'
type GoTestEvent struct {
	Time    time.Time `json:"Time"`
	Action  string    `json:"Action"`
	Package string    `json:"Package"`
	Test    string    `json:"Test"`
	Elapsed float64   `json:"Elapsed"`
	Output  string    `json:"Output"`
}

// FinalTestResult is the merged result for a single test
type FinalTestResult struct {
	Name        string       `json:"name"`
	Status      string       `json:"status"`
	Elapsed     float64      `json:"elapsed_seconds"`
	Package     string       `json:"package"`
	Failure     string       `json:"failure_reason,omitempty"`
	Annotations TestMetadata `json:"annotations"`
}

// ReportSummary holds top-level stats
type ReportSummary struct {
	Title       string            `json:"title"`
	GeneratedAt time.Time         `json:"generated_at"`
	Total       int               `json:"total"`
	Passed      int               `json:"passed"`
	Failed      int               `json:"failed"`
	Skipped     int               `json:"skipped"`
	Results     []FinalTestResult `json:"results"`
}

// PassRate is the share of passed tests in percent.
func (s ReportSummary) PassRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Passed) / float64(s.Total) * 100
}

var cli struct {
	Input             string   `required:"" help:"Path to go test -json output file"`
	OutJSON           string   `name:"out-json" required:"" help:"Path for output JSON report"`
	OutMD             string   `name:"out-md" required:"" help:"Path for output Markdown report"`
	OutHTML           string   `name:"out-html" help:"Path for output HTML report"`
	Title             string   `default:"Test Report" help:"Report title"`
	Root              string   `default:"." help:"Module root to scan for annotations"`
	FilterCategories  []string `name:"filter-categories" help:"Categories to include"`
	ExcludeCategories []string `name:"exclude-categories" help:"Categories to exclude"`
	FilterType        string   `name:"filter-type" help:"Only this test type (UT, IT)"`
}

func main() {
	kctx := kong.Parse(&cli, kong.Name("testreport"))

	modulePath, err := readModulePath(cli.Root)
	kctx.FatalIfErrorf(err)

	meta, err := scanMetadata(cli.Root, modulePath)
	kctx.FatalIfErrorf(err)

	f, err := os.Open(cli.Input)
	kctx.FatalIfErrorf(err)
	results, err := parseTestOutput(f, meta)
	_ = f.Close()
	kctx.FatalIfErrorf(err)

	results = filterResults(results, cli.FilterCategories, cli.ExcludeCategories, cli.FilterType)
	summary := generateSummary(cli.Title, results)

	kctx.FatalIfErrorf(writeReport(cli.OutJSON, summary, renderJSON))
	kctx.FatalIfErrorf(writeReport(cli.OutMD, summary, renderMarkdown))
	if cli.OutHTML != "" {
		kctx.FatalIfErrorf(writeReport(cli.OutHTML, summary, renderHTML))
	}

	// Exit with error if any tests failed to ensure CI gates work correctly
	if summary.Failed > 0 {
		fmt.Printf("\nTest Reporting: %d tests failed. Exiting with error.\n", summary.Failed)
		os.Exit(1)
	}
}

func readModulePath(root string) (string, error) {
	data, err := os.ReadFile(filepath.Join(root, "go.mod"))
	if err != nil {
		return "", fmt.Errorf("failed to read go.mod: %w", err)
	}
	path := modfile.ModulePath(data)
	if path == "" {
		return "", fmt.Errorf("go.mod in %s has no module directive", root)
	}
	return path, nil
}

func scanMetadata(root, modulePath string) (map[string]TestMetadata, error) {
	metadataMap := make(map[string]TestMetadata)
	fset := token.NewFileSet()

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "vendor" || name == "testdata") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, "_test.go") {
			return nil
		}

		node, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
		if err != nil {
			return nil
		}

		rel, err := filepath.Rel(root, filepath.Dir(path))
		if err != nil {
			return err
		}
		pkgPath := modulePath
		if rel != "." {
			pkgPath += "/" + filepath.ToSlash(rel)
		}
		testType := "UT"
		if hasBuildTag(node, "integration") {
			testType = "IT"
		}

		for _, decl := range node.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || fn.Recv != nil || !strings.HasPrefix(fn.Name.Name, "Test") {
				continue
			}
			meta := TestMetadata{
				Name:     fn.Name.Name,
				Package:  pkgPath,
				Type:     testType,
				Category: determineCategory(filepath.ToSlash(rel)),
			}
			if fn.Doc != nil {
				parseAnnotations(fn.Doc, &meta)
			}
			metadataMap[pkgPath+"."+fn.Name.Name] = meta
		}
		return nil
	})
	return metadataMap, err
}

func hasBuildTag(file *ast.File, tag string) bool {
	for _, group := range file.Comments {
		if group.Pos() > file.Package {
			break
		}
		for _, c := range group.List {
			if strings.HasPrefix(c.Text, "//go:build") && strings.Contains(c.Text, tag) {
				return true
			}
		}
	}
	return false
}

var annotationFields = []struct {
	prefix string
	set    func(*TestMetadata, string)
}{
	{"TestPurpose:", func(m *TestMetadata, v string) { m.Purpose = v }},
	{"Scope:", func(m *TestMetadata, v string) { m.Scope = v }},
	{"Security:", func(m *TestMetadata, v string) { m.Security = v }},
	{"Expected:", func(m *TestMetadata, v string) { m.Expected = v }},
	{"Test Case ID:", func(m *TestMetadata, v string) { m.TestCaseID = v }},
}

func parseAnnotations(doc *ast.CommentGroup, meta *TestMetadata) {
	for _, line := range doc.List {
		text := strings.TrimSpace(strings.TrimPrefix(line.Text, "//"))
		for _, f := range annotationFields {
			if v, ok := strings.CutPrefix(text, f.prefix); ok {
				f.set(meta, strings.TrimSpace(v))
				break
			}
		}
	}
}

// categoryOrder is also the order of sections in the reports.
var categoryOrder = []struct {
	dir, name string
}{
	{"internal/store", "Isolation"},
	{"internal/tenant", "Tenant"},
	{"internal/auth", "Authentication"},
	{"internal/autherr", "Authentication"},
	{"internal/identity", "Identity"},
	{"internal/token", "Tokens"},
	{"internal/mfa", "MFA"},
	{"internal/device", "Devices"},
	{"internal/transport/http", "API"},
	{"internal/audit", "Audit"},
	{"internal/notify", "Notifications"},
	{"internal/cache", "Platform"},
	{"internal/config", "Platform"},
	{"internal/observability", "Platform"},
	{"cmd", "Tooling"},
	{"scripts", "Tooling"},
}

func determineCategory(rel string) string {
	for _, c := range categoryOrder {
		if rel == c.dir || strings.HasPrefix(rel, c.dir+"/") {
			return c.name
		}
	}
	return "Other"
}

func categories() []string {
	var out []string
	seen := map[string]bool{}
	for _, c := range categoryOrder {
		if !seen[c.name] {
			seen[c.name] = true
			out = append(out, c.name)
		}
	}
	return append(out, "Other")
}

func parseTestOutput(r io.Reader, meta map[string]TestMetadata) ([]FinalTestResult, error) {
	// Initialize with all known tests from metadata
	testStates := make(map[string]*FinalTestResult)
	for key, m := range meta {
		testStates[key] = &FinalTestResult{
			Name:        m.Name,
			Package:     m.Package,
			Status:      "not run",
			Annotations: m,
		}
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var event GoTestEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil || event.Test == "" {
			continue
		}

		key := event.Package + "." + event.Test
		res, ok := testStates[key]
		if !ok {
			res = newResult(event, meta)
			testStates[key] = res
		}

		switch event.Action {
		case "pass", "fail":
			res.Status = event.Action
			res.Elapsed = event.Elapsed
		case "skip":
			res.Status = "skip"
		case "output":
			if res.Status == "fail" || res.Status == "" || res.Status == "not run" {
				res.Failure += event.Output
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read test output: %w", err)
	}

	list := make([]FinalTestResult, 0, len(testStates))
	for _, v := range testStates {
		if v.Status != "fail" {
			v.Failure = ""
		}
		list = append(list, *v)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Package != list[j].Package {
			return list[i].Package < list[j].Package
		}
		return list[i].Name < list[j].Name
	})
	return list, nil
}

// newResult describes a test that has no annotations of its own.
// Subtests inherit their parent's.
func newResult(event GoTestEvent, meta map[string]TestMetadata) *FinalTestResult {
	res := &FinalTestResult{
		Name:    event.Test,
		Package: event.Package,
		Annotations: TestMetadata{
			Name:     event.Test,
			Package:  event.Package,
			Type:     "UT",
			Category: "Other",
		},
	}
	parent, _, isSub := strings.Cut(event.Test, "/")
	if !isSub {
		return res
	}
	if pm, found := meta[event.Package+"."+parent]; found {
		a := pm
		a.Name = event.Test
		a.Purpose = pm.Purpose + " (Subtest: " + event.Test + ")"
		res.Annotations = a
	}
	return res
}

func filterResults(results []FinalTestResult, include, exclude []string, testType string) []FinalTestResult {
	in := func(list []string, v string) bool {
		for _, s := range list {
			if strings.TrimSpace(s) == v {
				return true
			}
		}
		return false
	}

	out := results[:0:0]
	for _, r := range results {
		if len(include) > 0 && !in(include, r.Annotations.Category) {
			continue
		}
		if in(exclude, r.Annotations.Category) {
			continue
		}
		if testType != "" && !strings.EqualFold(r.Annotations.Type, testType) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func generateSummary(title string, results []FinalTestResult) ReportSummary {
	summary := ReportSummary{
		Title:       title,
		GeneratedAt: time.Now(),
		Results:     results,
	}
	for _, r := range results {
		summary.Total++
		switch r.Status {
		case "pass":
			summary.Passed++
		case "fail":
			summary.Failed++
		case "skip":
			summary.Skipped++
		}
	}
	return summary
}

func writeReport(path string, summary ReportSummary, render func(io.Writer, ReportSummary) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render(f, summary); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to render %s: %w", path, err)
	}
	return f.Close()
}

func renderJSON(w io.Writer, summary ReportSummary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
