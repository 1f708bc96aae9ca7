package report

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/yourorg/ecu-report/internal/model"
)

const markdownTemplate = `# ECU Security Scan Report

## Scan Information

| Field | Value |
|-------|-------|
| ECU Name | {{ cell .Scan.ECUName }} |
| ECU Type | {{ cell .Scan.ECUType }} |
| Version | {{ na .Scan.Version | cell }} |
| Manufacturer | {{ na .Scan.Manufacturer | cell }} |
| Architecture | {{ na .Scan.Architecture | cell }} |
| File Name | {{ cell .Scan.FileName }} |
| File Size | {{ fileSize .Scan.FileSize }} |
| File Hash | {{ na .Scan.FileHash }} |
| Risk Score | {{ riskScore .Scan.RiskScore }} |
| Scan Date | {{ date .Scan.CreatedAt }} |
| Report Generated | {{ date .GeneratedAt }} |

## Executive Summary

{{ or (deref .Scan.ExecutiveSummary) "No executive summary available." }}

## Vulnerability Summary

| Severity | Count |
|----------|-------|
| Critical | {{ .Summary.Severity.Critical }} |
| High | {{ .Summary.Severity.High }} |
| Medium | {{ .Summary.Severity.Medium }} |
| Low | {{ .Summary.Severity.Low }} |
| Info | {{ .Summary.Severity.Info }} |
| **Total** | **{{ .Summary.TotalVulnerabilities }}** |

## Compliance Summary

| Status | Count |
|--------|-------|
| Pass | {{ .Summary.Compliance.Pass }} |
| Fail | {{ .Summary.Compliance.Fail }} |
| Warning | {{ .Summary.Compliance.Warning }} |

**Compliance Score:** {{ .Summary.ComplianceScore }}%

## Detailed Findings
{{ range $i, $v := .Vulnerabilities }}
### {{ inc $i }}. {{ $v.Title }}

- **Severity:** {{ upper $v.Severity }}
- **CVE:** {{ na $v.CVEID }}
- **CWE:** {{ na $v.CWEID }}
- **CVSS Score:** {{ cvss $v.CVSSScore }}
- **Affected Component:** {{ na $v.AffectedComponent }}
- **Affected Function:** {{ na $v.AffectedFunction }}
- **Detection Method:** {{ na $v.DetectionMethod }}

**Description:**

{{ or (deref $v.Description) "No description available." }}

**Remediation:**

{{ or (deref $v.Remediation) "No remediation available." }}
{{- if deref $v.CodeSnippet }}

**Code{{ with $v.LineNumber }} (line {{ . }}){{ end }}:**

{{ fence }}
{{ deref $v.CodeSnippet }}
{{ fence }}
{{- end }}
{{ else }}
No vulnerabilities detected.
{{ end }}
## Software Bill of Materials

| Component | Version | License |
|-----------|---------|---------|
{{ range .SBOM }}| {{ cell .Name }} | {{ na .Version | cell }} | {{ na .License | cell }} |
{{ else }}| No components detected | - | - |
{{ end }}`

var markdownTmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"na": func(s *string) string {
		if s == nil || *s == "" {
			return "N/A"
		}
		return *s
	},
	"deref": model.Deref,
	"cell": func(s string) string {
		s = strings.ReplaceAll(s, "|", `\|`)
		return strings.ReplaceAll(s, "\n", " ")
	},
	"upper": func(v any) string { return strings.ToUpper(fmt.Sprint(v)) },
	"inc":   func(i int) int { return i + 1 },
	"fence": func() string { return "```" },
	"cvss": func(f *float64) string {
		if f == nil {
			return "N/A"
		}
		return fmt.Sprintf("%.1f", *f)
	},
	"riskScore": func(n *int) string {
		if n == nil {
			return "N/A"
		}
		return fmt.Sprintf("%d/100", *n)
	},
	"fileSize": func(n *int64) string {
		if n == nil || *n < 0 {
			return "N/A"
		}
		return fmt.Sprintf("%s (%s bytes)", humanize.Bytes(uint64(*n)), humanize.Comma(*n))
	},
	"date": func(t time.Time) string { return t.UTC().Format("2006-01-02 15:04:05 UTC") },
}).Parse(markdownTemplate))

// RenderMarkdown renders rep as a narrative Markdown document.
func RenderMarkdown(rep *Report) ([]byte, error) {
	var buf bytes.Buffer
	if err := markdownTmpl.Execute(&buf, rep); err != nil {
		return nil, fmt.Errorf("render markdown report: %w", err)
	}
	return buf.Bytes(), nil
}
