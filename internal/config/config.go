package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	DatabaseURL string
	HTTPAddr    string

	CORSAllowOrigin string

	NVDAPIURL         string
	NVDAPIKey         string
	NVDTimeout        time.Duration
	NVDRequestsPer30s int
	SPDXNamespace     string
	ScannerName       string
	ScannerVersion    string
	ExportConcurrency int
	S3Endpoint        string
	S3AccessKey       string
	S3SecretKey       string
	S3UseSSL          bool
	ReportsBucket     string

	Log LogConfig
}

type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// SetDefaults registers every key with its default so env binding works for all of them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database_url", "")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("cors_allow_origin", "*")
	v.SetDefault("nvd_api_url", "https://services.nvd.nist.gov/rest/json/cves/2.0")
	v.SetDefault("nvd_api_key", "")
	v.SetDefault("nvd_timeout", 15*time.Second)
	v.SetDefault("nvd_requests_per_30s", 5)
	v.SetDefault("spdx_namespace", "https://ecu-scanner.io/spdx")
	v.SetDefault("scanner_name", "ECU Vulnerability Scanner")
	v.SetDefault("scanner_version", "1.0.0")
	v.SetDefault("export_concurrency", 2)
	v.SetDefault("s3_endpoint", "")
	v.SetDefault("s3_access_key", "")
	v.SetDefault("s3_secret_key", "")
	v.SetDefault("s3_use_ssl", false)
	v.SetDefault("reports_bucket", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("log_file", "")
	v.SetDefault("log_max_size_mb", 100)
	v.SetDefault("log_max_backups", 3)
	v.SetDefault("log_max_age_days", 28)
}

// Load reads configuration from the environment (upper-cased keys, e.g. DATABASE_URL).
func Load() (Config, error) {
	return FromViper(NewViper())
}

// NewViper returns a viper instance with defaults registered and environment binding enabled, for
// callers that bind command-line flags on top.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func FromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		DatabaseURL:       v.GetString("database_url"),
		HTTPAddr:          v.GetString("http_addr"),
		CORSAllowOrigin:   v.GetString("cors_allow_origin"),
		NVDAPIURL:         v.GetString("nvd_api_url"),
		NVDAPIKey:         v.GetString("nvd_api_key"),
		NVDTimeout:        v.GetDuration("nvd_timeout"),
		NVDRequestsPer30s: v.GetInt("nvd_requests_per_30s"),
		SPDXNamespace:     strings.TrimRight(v.GetString("spdx_namespace"), "/"),
		ScannerName:       v.GetString("scanner_name"),
		ScannerVersion:    v.GetString("scanner_version"),
		ExportConcurrency: v.GetInt("export_concurrency"),
		S3Endpoint:        v.GetString("s3_endpoint"),
		S3AccessKey:       v.GetString("s3_access_key"),
		S3SecretKey:       v.GetString("s3_secret_key"),
		S3UseSSL:          v.GetBool("s3_use_ssl"),
		ReportsBucket:     v.GetString("reports_bucket"),
		Log: LogConfig{
			Level:      v.GetString("log_level"),
			Format:     v.GetString("log_format"),
			File:       v.GetString("log_file"),
			MaxSizeMB:  v.GetInt("log_max_size_mb"),
			MaxBackups: v.GetInt("log_max_backups"),
			MaxAgeDays: v.GetInt("log_max_age_days"),
		},
	}
	if cfg.ExportConcurrency <= 0 {
		cfg.ExportConcurrency = 2
	}
	if cfg.NVDRequestsPer30s <= 0 {
		cfg.NVDRequestsPer30s = 5
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.NVDTimeout <= 0 {
		return errors.New("NVD_TIMEOUT must be positive")
	}
	return nil
}

// ValidateArchive checks the settings the export CLI needs on top of Validate.
func (c Config) ValidateArchive() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.S3Endpoint == "" {
		return errors.New("S3_ENDPOINT is required")
	}
	if c.ReportsBucket == "" {
		return errors.New("REPORTS_BUCKET is required")
	}
	return nil
}
