package config

import (
	"os"
	"testing"
	"time"
)

// writeTempConfig creates a minimal configuration file required for
// LoadConfig and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	t.Cleanup(func() { os.Remove(f.Name()) })
	return f.Name()
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeTempConfig(t, `fundingflow:
  name: "TestApp"
  version: "1.0"
exchanges:
  bitget:
    enabled: true
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.HTTP.MaxAttempts != 3 {
		t.Errorf("expected default http.max_attempts 3, got %d", cfg.HTTP.MaxAttempts)
	}
	if cfg.Ingestion.BackfillDays != 30 || cfg.Ingestion.IncrementalDays != 1 {
		t.Errorf("unexpected lookback defaults: %+v", cfg.Ingestion)
	}
	if cfg.Ingestion.MaxAbsAPR != "2000" {
		t.Errorf("expected default max_abs_apr 2000, got %s", cfg.Ingestion.MaxAbsAPR)
	}
	if cfg.Stream.DepthLevels != 15 {
		t.Errorf("expected default depth_levels 15, got %d", cfg.Stream.DepthLevels)
	}
	if cfg.Stream.CacheTTL != 5*time.Second {
		t.Errorf("expected default cache_ttl 5s, got %s", cfg.Stream.CacheTTL)
	}
	if !cfg.Exchanges["bitget"].Enabled {
		t.Error("bitget should be enabled")
	}
}

func TestLoadConfigMissingName(t *testing.T) {
	path := writeTempConfig(t, `fundingflow:
  version: "1.0"
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected validation error for missing name")
	}
}

func TestLoadConfigLookbackOrdering(t *testing.T) {
	path := writeTempConfig(t, `fundingflow:
  name: "TestApp"
  version: "1.0"
ingestion:
  backfill_days: 2
  incremental_days: 7
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected validation error when incremental exceeds backfill")
	}
}

func TestLoadConfigEnvExpansion(t *testing.T) {
	t.Setenv("FF_TEST_BUCKET", "my-funding-bucket")
	path := writeTempConfig(t, `fundingflow:
  name: "TestApp"
  version: "1.0"
storage:
  s3:
    enabled: true
    bucket: "${FF_TEST_BUCKET}"
    region: "eu-west-1"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Storage.S3.Bucket != "my-funding-bucket" {
		t.Fatalf("env expansion failed, bucket = %q", cfg.Storage.S3.Bucket)
	}
}

func TestLoadConfigS3BucketValidation(t *testing.T) {
	path := writeTempConfig(t, `fundingflow:
  name: "TestApp"
  version: "1.0"
storage:
  s3:
    enabled: true
    bucket: "Bad_Bucket"
    region: "eu-west-1"
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected validation error for invalid bucket name")
	}
}
