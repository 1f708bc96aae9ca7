package report

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yourorg/ecu-report/internal/model"
)

// Store is the read side of the scan repository.
type Store interface {
	GetScan(ctx context.Context, id string) (*model.Scan, error)
	ListVulnerabilities(ctx context.Context, scanID string) ([]model.Vulnerability, error)
	ListComplianceResults(ctx context.Context, scanID string) ([]model.ComplianceResult, error)
	ListSBOMComponents(ctx context.Context, scanID string) ([]model.SBOMComponent, error)
	ListAnalysisLogs(ctx context.Context, scanID string) ([]model.AnalysisLog, error)
}

type Generator struct {
	store Store
	log   *zap.Logger
	now   func() time.Time
}

func NewGenerator(store Store, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{store: store, log: logger.Named("report"), now: time.Now}
}

// Generate builds the report for scanID and renders it in the requested format.
func (g *Generator) Generate(ctx context.Context, scanID, format string) (*Document, error) {
	f, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}
	rep, err := g.Build(ctx, scanID)
	if err != nil {
		return nil, err
	}
	return g.Render(rep, f)
}

// Build collects everything known about a scan into a Report. It does not write anything.
func (g *Generator) Build(ctx context.Context, scanID string) (*Report, error) {
	scanID = strings.TrimSpace(scanID)
	if scanID == "" {
		return nil, fmt.Errorf("%w: scanId is required", model.ErrInvalidInput)
	}

	scan, err := g.store.GetScan(ctx, scanID)
	if err != nil {
		return nil, fmt.Errorf("load scan: %w", err)
	}
	if scan == nil {
		return nil, fmt.Errorf("%w: scan %s not found", model.ErrNotFound, scanID)
	}

	vulns, err := g.store.ListVulnerabilities(ctx, scanID)
	if err != nil {
		return nil, fmt.Errorf("load vulnerabilities: %w", err)
	}
	compliance, err := g.store.ListComplianceResults(ctx, scanID)
	if err != nil {
		return nil, fmt.Errorf("load compliance results: %w", err)
	}
	components, err := g.store.ListSBOMComponents(ctx, scanID)
	if err != nil {
		return nil, fmt.Errorf("load sbom components: %w", err)
	}
	logs, err := g.store.ListAnalysisLogs(ctx, scanID)
	if err != nil {
		return nil, fmt.Errorf("load analysis logs: %w", err)
	}

	summary, err := Summarize(vulns, compliance, components)
	if err != nil {
		return nil, err
	}

	sortBySeverity(vulns)
	sort.SliceStable(logs, func(i, j int) bool { return logs[i].CreatedAt.Before(logs[j].CreatedAt) })

	rep := &Report{
		Scan:            scanInfo(scan),
		Summary:         summary,
		Vulnerabilities: make([]VulnerabilityEntry, 0, len(vulns)),
		Compliance:      nonNil(compliance),
		SBOM:            nonNil(components),
		Timeline:        make([]TimelineEntry, 0, len(logs)),
		GeneratedAt:     g.now().UTC(),
	}
	for _, v := range vulns {
		rep.Vulnerabilities = append(rep.Vulnerabilities, vulnerabilityEntry(v))
	}
	for _, l := range logs {
		rep.Timeline = append(rep.Timeline, TimelineEntry{Stage: l.Stage, Level: l.Level, Message: l.Message, Timestamp: l.CreatedAt})
	}

	g.log.Debug("report built",
		zap.String("scan_id", scanID),
		zap.Int("vulnerabilities", len(vulns)),
		zap.Int("compliance_results", len(compliance)),
		zap.Int("components", len(components)),
	)
	return rep, nil
}

// Render serializes rep. pdf is served as JSON.
func (g *Generator) Render(rep *Report, f Format) (*Document, error) {
	switch f {
	case FormatPDF:
		g.log.Warn("pdf report format is deprecated, rendering json", zap.String("scan_id", rep.Scan.ID))
		fallthrough
	case FormatJSON, "":
		body, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode report: %w", err)
		}
		return &Document{
			Body:        body,
			Filename:    fmt.Sprintf("scan-report-%s.json", rep.Scan.ID),
			ContentType: "application/json",
		}, nil
	case FormatMarkdown:
		body, err := RenderMarkdown(rep)
		if err != nil {
			return nil, err
		}
		return &Document{
			Body:        body,
			Filename:    fmt.Sprintf("scan-report-%s.md", rep.Scan.ID),
			ContentType: "text/markdown",
		}, nil
	}
	return nil, fmt.Errorf("%w: unsupported report format %q", model.ErrInvalidInput, f)
}

// sortBySeverity orders critical first and keeps the store order within a bucket.
func sortBySeverity(vulns []model.Vulnerability) {
	sort.SliceStable(vulns, func(i, j int) bool {
		return vulns[i].Severity.Ordinal() < vulns[j].Severity.Ordinal()
	})
}

func scanInfo(s *model.Scan) ScanInfo {
	return ScanInfo{
		ID:               s.ID,
		ECUName:          s.ECUName,
		ECUType:          s.ECUType,
		Version:          s.Version,
		Manufacturer:     s.Manufacturer,
		Architecture:     s.Architecture,
		FileName:         s.FileName,
		FileHash:         s.FileHash,
		FileSize:         s.FileSize,
		Status:           s.Status,
		RiskScore:        s.RiskScore,
		ExecutiveSummary: s.ExecutiveSummary,
		CreatedAt:        s.CreatedAt,
		CompletedAt:      s.CompletedAt,
	}
}

func vulnerabilityEntry(v model.Vulnerability) VulnerabilityEntry {
	return VulnerabilityEntry{
		ID:                v.ID,
		CVEID:             v.CVEID,
		CWEID:             v.CWEID,
		Severity:          v.Severity,
		CVSSScore:         v.CVSSScore,
		Title:             v.Title,
		Description:       v.Description,
		AffectedComponent: v.AffectedComponent,
		AffectedFunction:  v.AffectedFunction,
		CodeSnippet:       v.CodeSnippet,
		LineNumber:        v.LineNumber,
		DetectionMethod:   v.DetectionMethod,
		Status:            v.Status,
		Remediation:       v.Remediation,
		AttackVector:      v.AttackVector,
		Impact:            v.Impact,
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
