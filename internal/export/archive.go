package export

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourorg/ecu-report/internal/model"
	"github.com/yourorg/ecu-report/internal/report"
	"github.com/yourorg/ecu-report/internal/sbom"
)

// Artifact names one document the archiver can produce per scan.
type Artifact string

const (
	ArtifactReportJSON     Artifact = "json"
	ArtifactReportMarkdown Artifact = "markdown"
	ArtifactCycloneDX      Artifact = Artifact(sbom.FormatCycloneDX)
	ArtifactSPDX           Artifact = Artifact(sbom.FormatSPDX)
	ArtifactSWID           Artifact = Artifact(sbom.FormatSWID)
)

// AllArtifacts is the default artifact set in upload order.
var AllArtifacts = []Artifact{ArtifactReportJSON, ArtifactReportMarkdown, ArtifactCycloneDX, ArtifactSPDX, ArtifactSWID}

// ParseArtifacts reads a comma separated artifact list; an empty list selects everything.
func ParseArtifacts(s string) ([]Artifact, error) {
	if strings.TrimSpace(s) == "" {
		return AllArtifacts, nil
	}
	seen := map[Artifact]bool{}
	var out []Artifact
	for _, part := range strings.Split(s, ",") {
		a := Artifact(strings.ToLower(strings.TrimSpace(part)))
		switch a {
		case ArtifactReportJSON, ArtifactReportMarkdown, ArtifactCycloneDX, ArtifactSPDX, ArtifactSWID:
		default:
			return nil, fmt.Errorf("%w: unknown artifact %q", model.ErrInvalidInput, part)
		}
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out, nil
}

func (a Artifact) isSBOM() bool {
	return a == ArtifactCycloneDX || a == ArtifactSPDX || a == ArtifactSWID
}

type Uploader interface {
	PutBytes(ctx context.Context, bucket, key string, data []byte, contentType string) error
}

// ScanSource finds the scans to archive. GetScan returns nil, nil for an unknown id.
type ScanSource interface {
	GetScan(ctx context.Context, id string) (*model.Scan, error)
	ListCompletedScans(ctx context.Context, limit int) ([]model.Scan, error)
}

type ReportBuilder interface {
	Build(ctx context.Context, scanID string) (*report.Report, error)
	Render(rep *report.Report, f report.Format) (*report.Document, error)
}

type SBOMExporter interface {
	Export(ctx context.Context, scanID, format string) (*sbom.Export, error)
}

type Config struct {
	Bucket      string
	Concurrency int
	Artifacts   []Artifact
	MaxAttempts int
	BaseDelay   time.Duration
}

// Result counts scans by outcome. Uploaded counts objects.
type Result struct {
	RunID     string
	Processed int
	OK        int
	Failed    int
	Uploaded  int
}

// Archiver renders reports and SBOMs for finished scans and stores them in object storage under
// reports/<scanId>/.
type Archiver struct {
	cfg     Config
	scans   ScanSource
	reports ReportBuilder
	sboms   SBOMExporter
	up      Uploader
	log     *zap.Logger
}

func NewArchiver(cfg Config, scans ScanSource, reports ReportBuilder, sboms SBOMExporter, up Uploader, logger *zap.Logger) *Archiver {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if len(cfg.Artifacts) == 0 {
		cfg.Artifacts = AllArtifacts
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 200 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{cfg: cfg, scans: scans, reports: reports, sboms: sboms, up: up, log: logger.Named("export")}
}

// Run archives the given scans, or the newest limit completed scans when scanIDs is empty.
// A failing scan is logged and counted; only a failure to list scans aborts the run.
func (a *Archiver) Run(ctx context.Context, scanIDs []string, limit int) (Result, error) {
	res := Result{RunID: uuid.NewString()}
	log := a.log.With(zap.String("run_id", res.RunID))

	if len(scanIDs) == 0 {
		listCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
		scans, err := a.scans.ListCompletedScans(listCtx, limit)
		cancel()
		if err != nil {
			return res, fmt.Errorf("list completed scans: %w", err)
		}
		for _, s := range scans {
			scanIDs = append(scanIDs, s.ID)
		}
	}
	log.Info("export starting",
		zap.Int("scans", len(scanIDs)),
		zap.Int("concurrency", a.cfg.Concurrency),
		zap.String("bucket", a.cfg.Bucket),
	)

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, a.cfg.Concurrency)
	)
	for _, id := range scanIDs {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(scanID string) {
			defer wg.Done()
			defer func() { <-sem }()

			n, err := a.archiveOne(ctx, scanID)
			mu.Lock()
			defer mu.Unlock()
			res.Processed++
			res.Uploaded += n
			if err != nil {
				res.Failed++
				log.Error("scan export failed", zap.String("scan_id", scanID), zap.Int("uploaded", n), zap.Error(err))
				return
			}
			res.OK++
			log.Info("scan exported", zap.String("scan_id", scanID), zap.Int("uploaded", n))
		}(id)
	}
	wg.Wait()

	log.Info("export complete",
		zap.Int("processed", res.Processed),
		zap.Int("ok", res.OK),
		zap.Int("failed", res.Failed),
		zap.Int("uploaded", res.Uploaded),
	)
	return res, ctx.Err()
}

func (a *Archiver) archiveOne(ctx context.Context, scanID string) (int, error) {
	scan, err := a.scans.GetScan(ctx, scanID)
	if err != nil {
		return 0, fmt.Errorf("load scan: %w", err)
	}
	if scan == nil {
		return 0, fmt.Errorf("%w: scan %s not found", model.ErrNotFound, scanID)
	}

	var rep *report.Report
	uploaded := 0
	skipSBOM := false

	for _, art := range a.cfg.Artifacts {
		var (
			key, contentType string
			data             []byte
		)
		switch {
		case art.isSBOM():
			if skipSBOM {
				continue
			}
			out, err := a.sboms.Export(ctx, scanID, string(art))
			if errors.Is(err, model.ErrNotFound) {
				a.log.Info("no sbom components, skipping sbom artifacts", zap.String("scan_id", scanID))
				skipSBOM = true
				continue
			}
			if err != nil {
				return uploaded, fmt.Errorf("export %s: %w", art, err)
			}
			key = ObjectKey(scanID, fmt.Sprintf("sbom-%s.%s", art, sbom.Format(art).Extension()))
			data, contentType = []byte(out.Data), out.ContentType
		default:
			if rep == nil {
				var err error
				if rep, err = a.reports.Build(ctx, scanID); err != nil {
					return uploaded, fmt.Errorf("build report: %w", err)
				}
			}
			doc, err := a.reports.Render(rep, report.Format(art))
			if err != nil {
				return uploaded, fmt.Errorf("render %s report: %w", art, err)
			}
			key = ObjectKey(scanID, doc.Filename)
			data, contentType = doc.Body, doc.ContentType
		}

		err := retry(ctx, a.cfg.MaxAttempts, a.cfg.BaseDelay, func() error {
			upCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
			defer cancel()
			return a.up.PutBytes(upCtx, a.cfg.Bucket, key, data, contentType)
		})
		if err != nil {
			return uploaded, fmt.Errorf("upload %s: %w", key, err)
		}
		uploaded++
		a.log.Debug("uploaded", zap.String("scan_id", scanID), zap.String("key", key), zap.Int("bytes", len(data)))
	}
	return uploaded, nil
}

// ObjectKey is the storage key of an artifact named name for scanID.
func ObjectKey(scanID, name string) string {
	return fmt.Sprintf("reports/%s/%s", scanID, name)
}
