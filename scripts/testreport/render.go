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

package main

import (
	htmltemplate "html/template"
	"io"
	"strings"
	texttemplate "text/template"
)

type categoryGroup struct {
	Name  string
	Tests []FinalTestResult
}

func groupByCategory(results []FinalTestResult) []categoryGroup {
	byName := map[string][]FinalTestResult{}
	for _, r := range results {
		byName[r.Annotations.Category] = append(byName[r.Annotations.Category], r)
	}
	var groups []categoryGroup
	for _, name := range categories() {
		if tests := byName[name]; len(tests) > 0 {
			groups = append(groups, categoryGroup{Name: name, Tests: tests})
		}
	}
	return groups
}

func statusIcon(status string) string {
	switch status {
	case "pass":
		return "✅"
	case "fail":
		return "❌"
	case "skip":
		return "⏭️"
	default:
		return "⚪"
	}
}

// cell keeps table cells on one line.
func cell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", `\|`), "\n", " ")
}

type reportView struct {
	ReportSummary
	Groups []categoryGroup
}

func view(s ReportSummary) reportView {
	return reportView{ReportSummary: s, Groups: groupByCategory(s.Results)}
}

var funcs = map[string]any{"icon": statusIcon, "cell": cell}

var markdownTmpl = texttemplate.Must(texttemplate.New("md").Funcs(funcs).Parse(`# tenantcore {{.Title}}

**Generated:** {{.GeneratedAt.Format "2006-01-02 15:04:05 MST"}}  
**Status:** {{if gt .Failed 0}}❌ FAILED{{else}}✅ PASSED{{end}}

## Summary

| Total | Passed | Failed | Skipped | Pass Rate |
|-------|--------|--------|---------|-----------|
| {{.Total}} | {{.Passed}} | {{.Failed}} | {{.Skipped}} | {{printf "%.1f" .PassRate}}% |

## Test Results by Category
{{range .Groups}}
### {{.Name}}

| ID | Test Name | Type | Status | Purpose | Security |
|----|-----------|------|--------|---------|----------|
{{range .Tests}}| {{.Annotations.TestCaseID}} | {{.Name}} | {{.Annotations.Type}} | {{icon .Status}} | {{cell .Annotations.Purpose}} | {{with .Annotations.Security}}**{{cell .}}**{{end}} |
{{end}}{{end}}
{{- if gt .Failed 0}}
## Failure Details
{{range .Results}}{{if eq .Status "fail"}}
### {{.Name}} ({{.Package}})
` + "```" + `
{{.Failure}}
` + "```" + `
{{end}}{{end}}{{end}}
---
*Report generated by tenantcore test tooling*
`))

var htmlTmpl = htmltemplate.Must(htmltemplate.New("html").Funcs(funcs).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>tenantcore - {{.Title}}</title>
    <style>
        :root { --primary: #2563eb; --success: #10b981; --danger: #ef4444; --warning: #f59e0b; --bg: #f8fafc; --text: #1e293b; --border: #e2e8f0; }
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; background: var(--bg); color: var(--text); line-height: 1.5; margin: 0; padding: 2rem; }
        .container { max-width: 1000px; margin: 0 auto; background: white; padding: 2rem; border-radius: 8px; box-shadow: 0 1px 3px rgba(0,0,0,0.1); }
        .status-pass { background: #dcfce7; color: #166534; }
        .status-fail { background: #fee2e2; color: #991b1b; }
        .status-badge { display: inline-block; padding: 0.25rem 0.75rem; border-radius: 9999px; font-weight: 600; font-size: 0.875rem; }
        .summary-grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(150px, 1fr)); gap: 1rem; margin-bottom: 2rem; }
        .summary-card { background: var(--bg); padding: 1rem; border-radius: 6px; text-align: center; border: 1px solid var(--border); }
        .summary-val { display: block; font-size: 1.5rem; font-weight: 700; }
        .summary-label { font-size: 0.75rem; text-transform: uppercase; color: #64748b; }
        table { width: 100%; border-collapse: collapse; margin-top: 1rem; }
        th { text-align: left; background: #f1f5f9; padding: 0.75rem; border-bottom: 2px solid var(--border); }
        td { padding: 0.75rem; border-bottom: 1px solid var(--border); font-size: 0.875rem; vertical-align: top; }
        .cat-header { background: #f8fafc; padding: 0.5rem 1rem; margin-top: 2rem; border-left: 4px solid var(--primary); font-weight: 600; }
        .failure-box { background: #0f172a; color: #f8fafc; padding: 1rem; border-radius: 4px; overflow-x: auto; font-size: 0.75rem; }
        .security-mark { color: var(--warning); font-weight: 600; }
    </style>
</head>
<body>
    <div class="container">
        <h1>{{.Title}}</h1>
        <div>
            Generated at: {{.GeneratedAt.Format "2006-01-02 15:04:05 MST"}} |
            Status: {{if gt .Failed 0}}<span class="status-badge status-fail">FAILED</span>{{else}}<span class="status-badge status-pass">PASSED</span>{{end}}
        </div>
        <div class="summary-grid">
            <div class="summary-card"><span class="summary-val">{{.Total}}</span><span class="summary-label">Total</span></div>
            <div class="summary-card"><span class="summary-val" style="color: var(--success)">{{.Passed}}</span><span class="summary-label">Passed</span></div>
            <div class="summary-card"><span class="summary-val" style="color: var(--danger)">{{.Failed}}</span><span class="summary-label">Failed</span></div>
            <div class="summary-card"><span class="summary-val">{{.Skipped}}</span><span class="summary-label">Skipped</span></div>
            <div class="summary-card"><span class="summary-val">{{printf "%.1f%%" .PassRate}}</span><span class="summary-label">Pass Rate</span></div>
        </div>
        <h2>Test Results</h2>
        {{range .Groups}}
        <div class="cat-header">{{.Name}}</div>
        <table>
            <thead><tr><th>ID</th><th>Test Name</th><th>Type</th><th>Status</th><th>Purpose</th><th>Security</th></tr></thead>
            <tbody>
            {{range .Tests}}<tr>
                <td>{{.Annotations.TestCaseID}}</td>
                <td><code>{{.Name}}</code></td>
                <td>{{.Annotations.Type}}</td>
                <td>{{icon .Status}}</td>
                <td>{{.Annotations.Purpose}}</td>
                <td>{{with .Annotations.Security}}<span class="security-mark">{{.}}</span>{{end}}</td>
            </tr>{{end}}
            </tbody>
        </table>
        {{end}}
        {{if gt .Failed 0}}<h2>Failure Details</h2>
        {{range .Results}}{{if eq .Status "fail"}}<h3>{{.Name}}</h3>
        <div class="failure-box"><pre>{{.Failure}}</pre></div>{{end}}{{end}}{{end}}
    </div>
</body>
</html>
`))

func renderMarkdown(w io.Writer, summary ReportSummary) error {
	return markdownTmpl.Execute(w, view(summary))
}

func renderHTML(w io.Writer, summary ReportSummary) error {
	return htmlTmpl.Execute(w, view(summary))
}
