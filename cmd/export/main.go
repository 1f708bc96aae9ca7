package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yourorg/ecu-report/internal/config"
	"github.com/yourorg/ecu-report/internal/db"
	"github.com/yourorg/ecu-report/internal/export"
	"github.com/yourorg/ecu-report/internal/logging"
	"github.com/yourorg/ecu-report/internal/report"
	"github.com/yourorg/ecu-report/internal/s3"
	"github.com/yourorg/ecu-report/internal/sbom"
)

func main() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	if err := newExportCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newExportCmd() *cobra.Command {
	v := config.NewViper()

	cmd := &cobra.Command{
		Use:   "export [scanId...]",
		Short: "Archive scan reports and SBOMs to object storage",
		Long: `export renders the JSON and Markdown reports and the CycloneDX, SPDX and SWID SBOMs of
completed scans and uploads them to the reports bucket under reports/<scanId>/.

Without arguments the most recently completed scans are exported.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromViper(v)
			if err != nil {
				return err
			}
			if err := cfg.ValidateArchive(); err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			formats, _ := cmd.Flags().GetString("formats")
			artifacts, err := export.ParseArtifacts(formats)
			if err != nil {
				return err
			}
			return runExport(cmd.Context(), cfg, args, limit, artifacts)
		},
	}

	cmd.Flags().Int("limit", 50, "number of completed scans to export when no scan ids are given")
	cmd.Flags().Int("concurrency", 2, "scans exported in parallel")
	cmd.Flags().String("formats", "", "comma separated artifacts: json,markdown,cyclonedx,spdx,swid (default all)")
	_ = v.BindPFlag("export_concurrency", cmd.Flags().Lookup("concurrency"))
	return cmd
}

func runExport(parent context.Context, cfg config.Config, scanIDs []string, limit int, artifacts []export.Artifact) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := logging.New(cfg.Log, "ecu-export")
	defer func() { _ = logger.Sync() }()

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	defer pool.Close()
	store := db.New(pool, logger)

	if err := store.EnsureSchema(ctx); err != nil {
		if !db.IsInsufficientPrivilege(err) {
			return fmt.Errorf("ensure schema: %w", err)
		}
		logger.Warn("ensure schema skipped due to insufficient privilege", zap.Error(err))
	}

	s3c, err := s3.New(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3UseSSL)
	if err != nil {
		return fmt.Errorf("s3 client: %w", err)
	}
	if err := s3c.EnsureBucket(ctx, cfg.ReportsBucket); err != nil {
		return err
	}

	archiver := export.NewArchiver(
		export.Config{
			Bucket:      cfg.ReportsBucket,
			Concurrency: cfg.ExportConcurrency,
			Artifacts:   artifacts,
		},
		store,
		report.NewGenerator(store, logger),
		sbom.NewExporter(store, sbom.Options{
			ToolName:    cfg.ScannerName,
			ToolVersion: cfg.ScannerVersion,
			Namespace:   cfg.SPDXNamespace,
		}, logger),
		s3c,
		logger,
	)

	res, err := archiver.Run(ctx, scanIDs, limit)
	if err != nil {
		return err
	}
	fmt.Printf("export %s complete: processed=%d ok=%d failed=%d uploaded=%d\n",
		res.RunID, res.Processed, res.OK, res.Failed, res.Uploaded)
	if res.Failed > 0 {
		return fmt.Errorf("%d scan(s) failed to export", res.Failed)
	}
	return nil
}
