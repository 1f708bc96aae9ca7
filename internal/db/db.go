package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/yourorg/ecu-report/internal/model"
)

// DBPool is the subset of pgxpool.Pool the store needs; pgxmock satisfies it in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Store struct {
	pool DBPool
	log  *zap.Logger
}

func Open(ctx context.Context, url string) (*pgxpool.Pool, error) {
	return pgxpool.New(ctx, url)
}

func New(pool DBPool, logger *zap.Logger) *Store {
	return &Store{pool: pool, log: logger.Named("store")}
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

const scanColumns = `id::text, ecu_name, ecu_type, version, manufacturer, architecture,
	file_name, file_hash, file_size, status, risk_score, executive_summary, created_at, completed_at`

func scanScan(row pgx.Row) (*model.Scan, error) {
	var sc model.Scan
	err := row.Scan(&sc.ID, &sc.ECUName, &sc.ECUType, &sc.Version, &sc.Manufacturer, &sc.Architecture,
		&sc.FileName, &sc.FileHash, &sc.FileSize, &sc.Status, &sc.RiskScore, &sc.ExecutiveSummary,
		&sc.CreatedAt, &sc.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

// GetScan returns nil, nil when no scan has the given id.
func (s *Store) GetScan(ctx context.Context, id string) (*model.Scan, error) {
	sc, err := scanScan(s.pool.QueryRow(ctx, `SELECT `+scanColumns+` FROM scans WHERE id::text = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get scan %s: %w", id, err)
	}
	return sc, nil
}

// ListCompletedScans returns the most recently completed scans first.
func (s *Store) ListCompletedScans(ctx context.Context, limit int) ([]model.Scan, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
SELECT `+scanColumns+`
FROM scans
WHERE status = 'completed'
ORDER BY COALESCE(completed_at, created_at) DESC, id
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list completed scans: %w", err)
	}
	defer rows.Close()

	out := make([]model.Scan, 0, limit)
	for rows.Next() {
		sc, err := scanScan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, *sc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListVulnerabilities orders by severity ordinal (critical first), then creation time.
func (s *Store) ListVulnerabilities(ctx context.Context, scanID string) ([]model.Vulnerability, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id::text, scan_id::text, cve_id, cwe_id, severity, cvss_score, title, description,
       affected_component, affected_function, code_snippet, line_number, detection_method,
       status, remediation, attack_vector, impact, created_at
FROM vulnerabilities
WHERE scan_id::text = $1
ORDER BY CASE severity
           WHEN 'critical' THEN 0
           WHEN 'high' THEN 1
           WHEN 'medium' THEN 2
           WHEN 'low' THEN 3
           WHEN 'info' THEN 4
           ELSE 5
         END, created_at, id`, scanID)
	if err != nil {
		return nil, fmt.Errorf("list vulnerabilities: %w", err)
	}
	defer rows.Close()

	out := make([]model.Vulnerability, 0)
	for rows.Next() {
		var (
			v                model.Vulnerability
			severity, status string
		)
		if err := rows.Scan(&v.ID, &v.ScanID, &v.CVEID, &v.CWEID, &severity, &v.CVSSScore, &v.Title,
			&v.Description, &v.AffectedComponent, &v.AffectedFunction, &v.CodeSnippet, &v.LineNumber,
			&v.DetectionMethod, &status, &v.Remediation, &v.AttackVector, &v.Impact, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan vulnerability row: %w", err)
		}
		if v.Severity, err = model.ParseSeverity(severity); err != nil {
			return nil, fmt.Errorf("vulnerability %s: %w", v.ID, err)
		}
		if v.Status, err = model.ParseVulnStatus(status); err != nil {
			return nil, fmt.Errorf("vulnerability %s: %w", v.ID, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListComplianceResults(ctx context.Context, scanID string) ([]model.ComplianceResult, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id::text, scan_id::text, framework, rule_id, rule_description, status, details
FROM compliance_results
WHERE scan_id::text = $1
ORDER BY framework, rule_id`, scanID)
	if err != nil {
		return nil, fmt.Errorf("list compliance results: %w", err)
	}
	defer rows.Close()

	out := make([]model.ComplianceResult, 0)
	for rows.Next() {
		var (
			c      model.ComplianceResult
			status string
		)
		if err := rows.Scan(&c.ID, &c.ScanID, &c.Framework, &c.RuleID, &c.RuleDescription, &status, &c.Details); err != nil {
			return nil, fmt.Errorf("scan compliance row: %w", err)
		}
		if c.Status, err = model.ParseComplianceStatus(status); err != nil {
			return nil, fmt.Errorf("compliance result %s: %w", c.ID, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListSBOMComponents(ctx context.Context, scanID string) ([]model.SBOMComponent, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id::text, scan_id::text, component_name, version, license, source_file, COALESCE(cve_ids, '{}')
FROM sbom_components
WHERE scan_id::text = $1
ORDER BY created_at, id`, scanID)
	if err != nil {
		return nil, fmt.Errorf("list sbom components: %w", err)
	}
	defer rows.Close()

	out := make([]model.SBOMComponent, 0)
	for rows.Next() {
		var c model.SBOMComponent
		if err := rows.Scan(&c.ID, &c.ScanID, &c.Name, &c.Version, &c.License, &c.SourceFile, &c.CVEIDs); err != nil {
			return nil, fmt.Errorf("scan sbom row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListAnalysisLogs(ctx context.Context, scanID string) ([]model.AnalysisLog, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id::text, scan_id::text, stage, log_level, message, created_at
FROM analysis_logs
WHERE scan_id::text = $1
ORDER BY created_at ASC, id`, scanID)
	if err != nil {
		return nil, fmt.Errorf("list analysis logs: %w", err)
	}
	defer rows.Close()

	out := make([]model.AnalysisLog, 0)
	for rows.Next() {
		var l model.AnalysisLog
		if err := rows.Scan(&l.ID, &l.ScanID, &l.Stage, &l.Level, &l.Message, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan analysis log row: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// GetCVE returns nil, nil on a cache miss.
func (s *Store) GetCVE(ctx context.Context, cveID string) (*model.CVECacheEntry, error) {
	var (
		e        model.CVECacheEntry
		refsJSON []byte
		affected []byte
	)
	err := s.pool.QueryRow(ctx, `
SELECT cve_id, COALESCE(description, ''), cvss_score, severity, published_date, last_modified_date,
       COALESCE(references_json, '[]'::jsonb), COALESCE(cwe_ids, '{}'), affected_products, fetched_at
FROM cve_cache
WHERE cve_id = $1`, cveID).Scan(&e.CVEID, &e.Description, &e.CVSSScore, &e.Severity, &e.PublishedDate,
		&e.LastModifiedDate, &refsJSON, &e.CWEIDs, &affected, &e.FetchedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cve %s: %w", cveID, err)
	}
	if len(refsJSON) > 0 {
		if err := json.Unmarshal(refsJSON, &e.References); err != nil {
			return nil, fmt.Errorf("cve %s references: %w", cveID, err)
		}
	}
	if len(affected) > 0 {
		e.AffectedProducts = json.RawMessage(affected)
	}
	return &e, nil
}

// UpsertCVE inserts or replaces the cache row for e.CVEID.
func (s *Store) UpsertCVE(ctx context.Context, e *model.CVECacheEntry) error {
	refs := e.References
	if refs == nil {
		refs = []model.CVEReference{}
	}
	refsJSON, err := json.Marshal(refs)
	if err != nil {
		return err
	}
	cwes := e.CWEIDs
	if cwes == nil {
		cwes = []string{}
	}
	var affected *string
	if len(e.AffectedProducts) > 0 {
		a := string(e.AffectedProducts)
		affected = &a
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO cve_cache (
  cve_id, description, cvss_score, severity, published_date, last_modified_date,
  references_json, cwe_ids, affected_products, fetched_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9::jsonb, $10)
ON CONFLICT (cve_id) DO UPDATE SET
  description = EXCLUDED.description,
  cvss_score = EXCLUDED.cvss_score,
  severity = EXCLUDED.severity,
  published_date = EXCLUDED.published_date,
  last_modified_date = EXCLUDED.last_modified_date,
  references_json = EXCLUDED.references_json,
  cwe_ids = EXCLUDED.cwe_ids,
  affected_products = EXCLUDED.affected_products,
  fetched_at = EXCLUDED.fetched_at`,
		e.CVEID, e.Description, e.CVSSScore, e.Severity, e.PublishedDate, e.LastModifiedDate,
		string(refsJSON), cwes, affected, e.FetchedAt)
	if err != nil {
		return fmt.Errorf("upsert cve %s: %w", e.CVEID, err)
	}
	return nil
}

// IsInsufficientPrivilege reports whether err is Postgres 42501, which EnsureSchema callers tolerate
// when the service role cannot create objects.
func IsInsufficientPrivilege(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42501"
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS scans (
  id UUID PRIMARY KEY,
  ecu_name TEXT NOT NULL,
  ecu_type TEXT NOT NULL DEFAULT 'unknown',
  version TEXT,
  manufacturer TEXT,
  architecture TEXT,
  file_name TEXT NOT NULL,
  file_hash TEXT,
  file_size BIGINT,
  status TEXT NOT NULL DEFAULT 'pending',
  risk_score INTEGER CHECK (risk_score BETWEEN 0 AND 100),
  executive_summary TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_scans_status_completed ON scans (status, completed_at);

CREATE TABLE IF NOT EXISTS vulnerabilities (
  id UUID PRIMARY KEY,
  scan_id UUID NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
  cve_id TEXT,
  cwe_id TEXT,
  severity TEXT NOT NULL CHECK (severity IN ('critical','high','medium','low','info')),
  cvss_score DOUBLE PRECISION,
  title TEXT NOT NULL,
  description TEXT,
  affected_component TEXT,
  affected_function TEXT,
  code_snippet TEXT,
  line_number INTEGER,
  detection_method TEXT,
  status TEXT NOT NULL DEFAULT 'new'
    CHECK (status IN ('new','reopened','fixed','false_positive','risk_accepted')),
  remediation TEXT,
  attack_vector TEXT,
  impact TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_vulnerabilities_scan ON vulnerabilities (scan_id, severity);

CREATE TABLE IF NOT EXISTS compliance_results (
  id UUID PRIMARY KEY,
  scan_id UUID NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
  framework TEXT NOT NULL,
  rule_id TEXT NOT NULL,
  rule_description TEXT,
  status TEXT NOT NULL CHECK (status IN ('pass','fail','warning')),
  details TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_compliance_results_scan ON compliance_results (scan_id);

CREATE TABLE IF NOT EXISTS sbom_components (
  id UUID PRIMARY KEY,
  scan_id UUID NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
  component_name TEXT NOT NULL,
  version TEXT,
  license TEXT,
  source_file TEXT,
  cve_ids TEXT[] NOT NULL DEFAULT '{}',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sbom_components_scan ON sbom_components (scan_id);

CREATE TABLE IF NOT EXISTS analysis_logs (
  id UUID PRIMARY KEY,
  scan_id UUID NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
  stage TEXT NOT NULL,
  log_level TEXT NOT NULL,
  message TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_analysis_logs_scan_created ON analysis_logs (scan_id, created_at);

CREATE TABLE IF NOT EXISTS cve_cache (
  cve_id TEXT PRIMARY KEY,
  description TEXT,
  cvss_score DOUBLE PRECISION,
  severity TEXT,
  published_date TIMESTAMPTZ,
  last_modified_date TIMESTAMPTZ,
  references_json JSONB NOT NULL DEFAULT '[]'::jsonb,
  cwe_ids TEXT[] NOT NULL DEFAULT '{}',
  affected_products JSONB,
  fetched_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`)
	return err
}
