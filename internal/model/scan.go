package model

import (
	"encoding/json"
	"time"
)

type Scan struct {
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

type Vulnerability struct {
	ID                string     `json:"id"`
	ScanID            string     `json:"scan_id"`
	CVEID             *string    `json:"cve_id"`
	CWEID             *string    `json:"cwe_id"`
	Severity          Severity   `json:"severity"`
	CVSSScore         *float64   `json:"cvss_score"`
	Title             string     `json:"title"`
	Description       *string    `json:"description"`
	AffectedComponent *string    `json:"affected_component"`
	AffectedFunction  *string    `json:"affected_function"`
	CodeSnippet       *string    `json:"code_snippet"`
	LineNumber        *int       `json:"line_number"`
	DetectionMethod   *string    `json:"detection_method"`
	Status            VulnStatus `json:"status"`
	Remediation       *string    `json:"remediation"`
	AttackVector      *string    `json:"attack_vector"`
	Impact            *string    `json:"impact"`
	CreatedAt         time.Time  `json:"created_at"`
}

type ComplianceResult struct {
	ID              string           `json:"id"`
	ScanID          string           `json:"scan_id"`
	Framework       string           `json:"framework"`
	RuleID          string           `json:"rule_id"`
	RuleDescription *string          `json:"rule_description"`
	Status          ComplianceStatus `json:"status"`
	Details         *string          `json:"details"`
}

type SBOMComponent struct {
	ID         string   `json:"id"`
	ScanID     string   `json:"scan_id"`
	Name       string   `json:"component_name"`
	Version    *string  `json:"version"`
	License    *string  `json:"license"`
	SourceFile *string  `json:"source_file"`
	CVEIDs     []string `json:"cve_ids"`
}

type AnalysisLog struct {
	ID        string    `json:"id"`
	ScanID    string    `json:"scan_id"`
	Stage     string    `json:"stage"`
	Level     string    `json:"log_level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

type CVEReference struct {
	URL    string   `json:"url"`
	Source string   `json:"source,omitempty"`
	Tags   []string `json:"tags,omitempty"`
}

// CVECacheEntry is keyed by CVEID and shared across scans.
type CVECacheEntry struct {
	CVEID            string          `json:"cve_id"`
	Description      string          `json:"description"`
	CVSSScore        *float64        `json:"cvss_score"`
	Severity         *string         `json:"severity"`
	PublishedDate    *time.Time      `json:"published_date"`
	LastModifiedDate *time.Time      `json:"last_modified_date"`
	References       []CVEReference  `json:"references"`
	CWEIDs           []string        `json:"cwe_ids"`
	AffectedProducts json.RawMessage `json:"affected_products"`
	FetchedAt        time.Time       `json:"fetched_at"`
}

// Deref returns the pointed-to string or "" for nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
