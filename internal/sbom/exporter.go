package sbom

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yourorg/ecu-report/internal/model"
)

type Store interface {
	GetScan(ctx context.Context, id string) (*model.Scan, error)
	ListSBOMComponents(ctx context.Context, scanID string) ([]model.SBOMComponent, error)
}

// Export is an encoded SBOM with the file name and media type to hand it out under.
type Export struct {
	Data        string `json:"data"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
}

type Exporter struct {
	store Store
	opts  Options
	log   *zap.Logger
	now   func() time.Time
}

func NewExporter(store Store, opts Options, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{store: store, opts: opts.withDefaults(), log: logger.Named("sbom"), now: time.Now}
}

// Export renders the component inventory of scanID. The format is checked before the store is
// touched; a scan without components is reported as not found.
func (e *Exporter) Export(ctx context.Context, scanID, format string) (*Export, error) {
	f, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}
	scanID = strings.TrimSpace(scanID)
	if scanID == "" {
		return nil, fmt.Errorf("%w: scanId is required", model.ErrInvalidInput)
	}

	scan, err := e.store.GetScan(ctx, scanID)
	if err != nil {
		return nil, fmt.Errorf("load scan: %w", err)
	}
	if scan == nil {
		return nil, fmt.Errorf("%w: scan %s not found", model.ErrNotFound, scanID)
	}
	components, err := e.store.ListSBOMComponents(ctx, scanID)
	if err != nil {
		return nil, fmt.Errorf("load sbom components: %w", err)
	}
	if len(components) == 0 {
		return nil, fmt.Errorf("%w: no SBOM components for scan %s", model.ErrNotFound, scanID)
	}

	opts := e.opts
	opts.Timestamp = e.now()
	data, err := Encode(f, scan, components, opts)
	if err != nil {
		return nil, err
	}

	e.log.Info("sbom exported",
		zap.String("scan_id", scanID),
		zap.String("format", string(f)),
		zap.Int("components", len(components)),
		zap.Int("bytes", len(data)),
	)
	return &Export{
		Data:        string(data),
		Filename:    fmt.Sprintf("%s-sbom-%s.%s", scan.ECUName, f, f.Extension()),
		ContentType: f.ContentType(),
	}, nil
}

// Encode dispatches to the encoder for f.
func Encode(f Format, scan *model.Scan, components []model.SBOMComponent, opts Options) ([]byte, error) {
	switch f {
	case FormatCycloneDX:
		return EncodeCycloneDX(scan, components, opts)
	case FormatSPDX:
		return EncodeSPDX(scan, components, opts)
	case FormatSWID:
		return EncodeSWID(scan, components, opts)
	}
	return nil, fmt.Errorf("%w: invalid format %q", model.ErrInvalidInput, f)
}
