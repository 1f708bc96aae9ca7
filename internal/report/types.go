package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/yourorg/ecu-report/internal/model"
)

type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	// FormatPDF is accepted for older clients and rendered as JSON.
	FormatPDF Format = "pdf"
)

// ParseFormat defaults an empty value to JSON.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatMarkdown, FormatPDF:
		return f, nil
	}
	return "", fmt.Errorf("%w: unsupported report format %q", model.ErrInvalidInput, s)
}

// Document is a rendered report plus the hints the transport needs to hand it out as a file.
type Document struct {
	Body        []byte
	Filename    string
	ContentType string
}

type Report struct {
	Scan            ScanInfo                 `json:"scan"`
	Summary         Summary                  `json:"summary"`
	Vulnerabilities []VulnerabilityEntry     `json:"vulnerabilities"`
	Compliance      []model.ComplianceResult `json:"compliance"`
	SBOM            []model.SBOMComponent    `json:"sbom"`
	Timeline        []TimelineEntry          `json:"timeline"`
	GeneratedAt     time.Time                `json:"generated_at"`
}

type ScanInfo struct {
	ID               string     `json:"id"`
	ECUName          string     `json:"ecu_name"`
	ECUType          string     `json:"ecu_type"`
	Version          *string    `json:"version"`
	Manufacturer     *string    `json:"manufacturer"`
	Architecture     *string    `json:"architecture"`
	FileName         string     `json:"file_name"`
	FileHash         *string    `json:"file_hash"`
	FileSize         *int64     `json:"file_size"`
	Status           string     `json:"status"`
	RiskScore        *int       `json:"risk_score"`
	ExecutiveSummary *string    `json:"executive_summary"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at"`
}

type Summary struct {
	TotalVulnerabilities int              `json:"total_vulnerabilities"`
	Severity             SeverityCounts   `json:"severity_breakdown"`
	Compliance           ComplianceCounts `json:"compliance_breakdown"`
	ComplianceScore      int              `json:"compliance_score"`
	SBOMComponents       int              `json:"sbom_components"`
}

type SeverityCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
}

func (c SeverityCounts) Total() int {
	return c.Critical + c.High + c.Medium + c.Low + c.Info
}

type ComplianceCounts struct {
	Pass    int `json:"pass"`
	Fail    int `json:"fail"`
	Warning int `json:"warning"`
}

// VulnerabilityEntry is a Vulnerability without its owning scan id.
type VulnerabilityEntry struct {
	ID                string           `json:"id"`
	CVEID             *string          `json:"cve_id"`
	CWEID             *string          `json:"cwe_id"`
	Severity          model.Severity   `json:"severity"`
	CVSSScore         *float64         `json:"cvss_score"`
	Title             string           `json:"title"`
	Description       *string          `json:"description"`
	AffectedComponent *string          `json:"affected_component"`
	AffectedFunction  *string          `json:"affected_function"`
	CodeSnippet       *string          `json:"code_snippet"`
	LineNumber        *int             `json:"line_number"`
	DetectionMethod   *string          `json:"detection_method"`
	Status            model.VulnStatus `json:"status"`
	Remediation       *string          `json:"remediation"`
	AttackVector      *string          `json:"attack_vector"`
	Impact            *string          `json:"impact"`
}

type TimelineEntry struct {
	Stage     string    `json:"stage"`
	Level     string    `json:"log_level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
