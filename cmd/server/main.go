package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/yourorg/ecu-report/internal/api"
	"github.com/yourorg/ecu-report/internal/config"
	"github.com/yourorg/ecu-report/internal/cve"
	"github.com/yourorg/ecu-report/internal/db"
	"github.com/yourorg/ecu-report/internal/logging"
	"github.com/yourorg/ecu-report/internal/report"
	"github.com/yourorg/ecu-report/internal/sbom"
)

func main() {
	// Local dev: pick up .env files from the working directory or the repo root.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../../.env")

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := logging.New(cfg.Log, "ecu-report")
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := db.New(pool, logger)
	if err := store.Ping(ctx); err != nil {
		return err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		if !db.IsInsufficientPrivilege(err) {
			return err
		}
		logger.Warn("ensure schema skipped due to insufficient privilege", zap.Error(err))
	}

	nvd := cve.NewNVDClient(
		cve.WithAPIURL(cfg.NVDAPIURL),
		cve.WithAPIKey(cfg.NVDAPIKey),
		cve.WithHTTPClient(&http.Client{Timeout: cfg.NVDTimeout}),
		cve.WithRequestsPer30s(cfg.NVDRequestsPer30s),
	)
	handlers := api.NewHandlers(
		report.NewGenerator(store, logger),
		sbom.NewExporter(store, sbom.Options{
			ToolName:    cfg.ScannerName,
			ToolVersion: cfg.ScannerVersion,
			Namespace:   cfg.SPDXNamespace,
		}, logger),
		cve.NewResolver(store, nvd, logger),
		store,
		logger,
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(handlers, cfg.CORSAllowOrigin, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shctx); err != nil {
			logger.Error("http shutdown", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", cfg.HTTPAddr), zap.Bool("nvd_api_key", cfg.NVDAPIKey != ""))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
