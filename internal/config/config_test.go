package config

import (
	"os"
	"path/filepath"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"BROKER_HOST", "BROKER_PORT", "BROKER_VHOST", "BROKER_USER", "BROKER_PASS",
		"BROKER_HEARTBEAT_SECONDS", "RPC_TIMEOUT_SECONDS", "RPC_MAX_RETRIES",
		"WORKER_PREFETCH", "RECOGNITION_THRESHOLD", "DATA_SOURCE", "DATA_FILE",
		"API_URL", "API_KEY", "API_TIMEOUT", "LOG_LEVEL", "STORE_PATH",
		"BLOB_BUCKET", "BLOB_REGION",
	}
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaultsWithNoFileOrEnv(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Broker.Host != "localhost" || cfg.Broker.Port != 5672 {
		t.Errorf("unexpected broker defaults: %+v", cfg.Broker)
	}
	if cfg.DataSource != "NONE" {
		t.Errorf("expected default DataSource=NONE, got %s", cfg.DataSource)
	}
	if cfg.WorkerPrefetch != 1 {
		t.Errorf("expected default prefetch=1, got %d", cfg.WorkerPrefetch)
	}
}

func TestEnvOverridesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("BROKER_HOST", "bus.internal")
	t.Setenv("BROKER_PORT", "5673")
	t.Setenv("RECOGNITION_THRESHOLD", "0.8")
	t.Setenv("DATA_SOURCE", "local_file")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Broker.Host != "bus.internal" || cfg.Broker.Port != 5673 {
		t.Errorf("unexpected broker override: %+v", cfg.Broker)
	}
	if cfg.RecognitionThreshold != 0.8 {
		t.Errorf("expected threshold=0.8, got %v", cfg.RecognitionThreshold)
	}
	if cfg.DataSource != "LOCAL_FILE" {
		t.Errorf("expected normalized DataSource=LOCAL_FILE, got %s", cfg.DataSource)
	}
}

func TestYAMLOverridesDefaultsAndEnvOverridesYAML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(`
broker:
  host: yaml-host
  port: 9999
recognition_threshold: 0.75
`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Broker.Host != "yaml-host" || cfg.Broker.Port != 9999 {
		t.Errorf("expected yaml values, got %+v", cfg.Broker)
	}

	t.Setenv("BROKER_HOST", "env-host")
	cfg2, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg2.Broker.Host != "env-host" {
		t.Errorf("expected env to win over yaml, got %s", cfg2.Broker.Host)
	}
}

func TestInvalidRecognitionThresholdFallsBackToDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("RECOGNITION_THRESHOLD", "5.0")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RecognitionThreshold != 0.6 {
		t.Errorf("expected fallback to default 0.6, got %v", cfg.RecognitionThreshold)
	}
}

func TestMissingConfigFileIsNotAnError(t *testing.T) {
	clearEnv(t)
	if _, err := Load("/nonexistent/path/config.yaml"); err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
}
