// Package config loads process configuration from environment variables
// (§6.3) with an optional YAML override file, following the teacher's
// env-override-over-yaml-defaults layering.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Broker holds AMQP connection settings.
type Broker struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	VHost            string `yaml:"vhost"`
	User             string `yaml:"user"`
	Pass             string `yaml:"pass"`
	HeartbeatSeconds int    `yaml:"heartbeat_seconds"`
}

// Config is the full process configuration, shared by the worker and
// control-plane binaries.
type Config struct {
	Broker Broker `yaml:"broker"`

	RPCTimeoutSeconds int `yaml:"rpc_timeout_seconds"`
	RPCMaxRetries     int `yaml:"rpc_max_retries"`

	WorkerPrefetch       int     `yaml:"worker_prefetch"`
	RecognitionThreshold float32 `yaml:"recognition_threshold"`

	DataSource string `yaml:"data_source"` // NONE | LOCAL_FILE | API
	DataFile   string `yaml:"data_file"`
	APIURL     string `yaml:"api_url"`
	APIKey     string `yaml:"api_key"`
	APITimeout int    `yaml:"api_timeout_seconds"`

	LogLevel string `yaml:"log_level"`

	StorePath string `yaml:"store_path"`

	BlobBucket string `yaml:"blob_bucket"`
	BlobRegion string `yaml:"blob_region"`

	// FanoutWorkerCount is the number of workers the control plane expects
	// to reply to a fan-out mutation; 0 means unknown, in which case
	// CallFanout relies on FanoutWindowSeconds alone.
	FanoutWorkerCount   int `yaml:"fanout_worker_count"`
	FanoutWindowSeconds int `yaml:"fanout_window_seconds"`

	// HomeDir holds logs/audit.jsonl and the JSONL structured log, mirroring
	// the teacher's HomeDir-scoped runtime state directory.
	HomeDir string `yaml:"home_dir"`

	OTelEnabled     bool    `yaml:"otel_enabled"`
	OTelExporter    string  `yaml:"otel_exporter"` // none | stdout | otlp
	OTelEndpoint    string  `yaml:"otel_endpoint"`
	OTelSampleRate  float64 `yaml:"otel_sample_rate"`
	OTelServiceName string  `yaml:"otel_service_name"`

	// SnapshotRefreshSeconds controls internal/maintenance's periodic
	// reload interval; 0 disables the job.
	SnapshotRefreshSeconds int `yaml:"snapshot_refresh_seconds"`
	// AuditRetentionDays controls internal/maintenance's audit_log sweep;
	// 0 disables the job.
	AuditRetentionDays int `yaml:"audit_retention_days"`

	// ConfigFile is the path this config was loaded from, if any; used by
	// the hot-reload watcher.
	ConfigFile string `yaml:"-"`
}

func defaultConfig() Config {
	return Config{
		Broker: Broker{
			Host:             "localhost",
			Port:             5672,
			VHost:            "/",
			User:             "guest",
			Pass:             "guest",
			HeartbeatSeconds: 600,
		},
		RPCTimeoutSeconds:      30,
		RPCMaxRetries:          0,
		WorkerPrefetch:         1,
		RecognitionThreshold:   0.6,
		DataSource:             "NONE",
		APITimeout:             30,
		LogLevel:               "info",
		StorePath:              "./facehive.db",
		FanoutWorkerCount:      0,
		FanoutWindowSeconds:    5,
		HomeDir:                "./facehive-data",
		OTelEnabled:            false,
		OTelExporter:           "none",
		OTelSampleRate:         1.0,
		OTelServiceName:        "facehive",
		SnapshotRefreshSeconds: 300,
		AuditRetentionDays:     30,
	}
}

// Load builds a Config from optional YAML at configPath (ignored if
// empty or missing) overlaid with environment variables, mirroring the
// teacher's defaults-then-yaml-then-env layering in
// internal/config/config.go.
func Load(configPath string) (Config, error) {
	cfg := defaultConfig()
	cfg.ConfigFile = configPath

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config file: %w", err)
			}
		} else if len(data) > 0 {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BROKER_HOST"); v != "" {
		cfg.Broker.Host = v
	}
	if v := os.Getenv("BROKER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Broker.Port = n
		}
	}
	if v := os.Getenv("BROKER_VHOST"); v != "" {
		cfg.Broker.VHost = v
	}
	if v := os.Getenv("BROKER_USER"); v != "" {
		cfg.Broker.User = v
	}
	if v := os.Getenv("BROKER_PASS"); v != "" {
		cfg.Broker.Pass = v
	}
	if v := os.Getenv("BROKER_HEARTBEAT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Broker.HeartbeatSeconds = n
		}
	}
	if v := os.Getenv("RPC_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RPCTimeoutSeconds = n
		}
	}
	if v := os.Getenv("RPC_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RPCMaxRetries = n
		}
	}
	if v := os.Getenv("WORKER_PREFETCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WorkerPrefetch = n
		}
	}
	if v := os.Getenv("RECOGNITION_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			cfg.RecognitionThreshold = float32(f)
		}
	}
	if v := os.Getenv("DATA_SOURCE"); v != "" {
		cfg.DataSource = v
	}
	if v := os.Getenv("DATA_FILE"); v != "" {
		cfg.DataFile = v
	}
	if v := os.Getenv("API_URL"); v != "" {
		cfg.APIURL = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("API_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.APITimeout = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("STORE_PATH"); v != "" {
		cfg.StorePath = v
	}
	if v := os.Getenv("BLOB_BUCKET"); v != "" {
		cfg.BlobBucket = v
	}
	if v := os.Getenv("BLOB_REGION"); v != "" {
		cfg.BlobRegion = v
	}
	if v := os.Getenv("FANOUT_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FanoutWorkerCount = n
		}
	}
	if v := os.Getenv("FANOUT_WINDOW_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FanoutWindowSeconds = n
		}
	}
	if v := os.Getenv("FACEHIVE_HOME"); v != "" {
		cfg.HomeDir = v
	}
	if v := os.Getenv("OTEL_ENABLED"); v != "" {
		cfg.OTelEnabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("OTEL_EXPORTER"); v != "" {
		cfg.OTelExporter = v
	}
	if v := os.Getenv("OTEL_ENDPOINT"); v != "" {
		cfg.OTelEndpoint = v
	}
	if v := os.Getenv("OTEL_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.OTelSampleRate = f
		}
	}
	if v := os.Getenv("OTEL_SERVICE_NAME"); v != "" {
		cfg.OTelServiceName = v
	}
	if v := os.Getenv("SNAPSHOT_REFRESH_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SnapshotRefreshSeconds = n
		}
	}
	if v := os.Getenv("AUDIT_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AuditRetentionDays = n
		}
	}
}

func normalize(cfg *Config) {
	cfg.DataSource = strings.ToUpper(strings.TrimSpace(cfg.DataSource))
	if cfg.DataSource == "" {
		cfg.DataSource = "NONE"
	}
	if cfg.WorkerPrefetch <= 0 {
		cfg.WorkerPrefetch = 1
	}
	if cfg.RecognitionThreshold <= 0 || cfg.RecognitionThreshold > 1 {
		cfg.RecognitionThreshold = 0.6
	}
	if cfg.RPCTimeoutSeconds <= 0 {
		cfg.RPCTimeoutSeconds = 30
	}
	if cfg.Broker.HeartbeatSeconds <= 0 {
		cfg.Broker.HeartbeatSeconds = 600
	}
	if cfg.FanoutWindowSeconds <= 0 {
		cfg.FanoutWindowSeconds = 5
	}
	if cfg.HomeDir == "" {
		cfg.HomeDir = "./facehive-data"
	}
	cfg.OTelExporter = strings.ToLower(strings.TrimSpace(cfg.OTelExporter))
	if cfg.OTelExporter == "" {
		cfg.OTelExporter = "none"
	}
	if cfg.OTelServiceName == "" {
		cfg.OTelServiceName = "facehive"
	}
	if cfg.OTelSampleRate <= 0 {
		cfg.OTelSampleRate = 1.0
	}
}

// SnapshotRefreshInterval returns SnapshotRefreshSeconds as a
// time.Duration for internal/maintenance.Config.
func (c Config) SnapshotRefreshInterval() time.Duration {
	return time.Duration(c.SnapshotRefreshSeconds) * time.Second
}

// AuditRetention returns AuditRetentionDays as a time.Duration for
// internal/maintenance.Config.
func (c Config) AuditRetention() time.Duration {
	return time.Duration(c.AuditRetentionDays) * 24 * time.Hour
}

// FanoutWindow returns FanoutWindowSeconds as a time.Duration.
func (c Config) FanoutWindow() time.Duration {
	return time.Duration(c.FanoutWindowSeconds) * time.Second
}

// RPCTimeout returns RPCTimeoutSeconds as a time.Duration.
func (c Config) RPCTimeout() time.Duration {
	return time.Duration(c.RPCTimeoutSeconds) * time.Second
}

// APITimeoutDuration returns APITimeout as a time.Duration.
func (c Config) APITimeoutDuration() time.Duration {
	return time.Duration(c.APITimeout) * time.Second
}
