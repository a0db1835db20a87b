// Package doctor runs startup diagnostics for a facehive process: config
// sanity, broker reachability, store connectivity, and blob bucket
// configuration. Invoked through the `-doctor` flag of facehive-worker and
// facehive-control before joining the fleet.
package doctor

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/facehive/facehive/internal/config"
	"github.com/facehive/facehive/internal/store/sqlitestore"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Run executes all diagnostic checks against cfg.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkStorePath,
		checkBroker,
		checkBlobConfig,
	}

	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}

	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "configuration not loaded"}
	}
	if cfg.Broker.Host == "" {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "BROKER_HOST is empty"}
	}
	return CheckResult{Name: "Config", Status: "PASS", Message: fmt.Sprintf("broker=%s:%d data_source=%s", cfg.Broker.Host, cfg.Broker.Port, cfg.DataSource)}
}

func checkStorePath(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil || cfg.StorePath == "" {
		return CheckResult{Name: "Store", Status: "SKIP", Message: "STORE_PATH not configured"}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0o755); err != nil {
		return CheckResult{Name: "Store", Status: "FAIL", Message: fmt.Sprintf("cannot create store directory: %v", err)}
	}

	s, err := sqlitestore.Open(cfg.StorePath)
	if err != nil {
		return CheckResult{Name: "Store", Status: "FAIL", Message: fmt.Sprintf("open failed: %v", err)}
	}
	defer s.Close()

	if _, err := s.ListTenantFaces(ctx, "__doctor_probe__"); err != nil {
		return CheckResult{Name: "Store", Status: "FAIL", Message: fmt.Sprintf("query failed: %v", err)}
	}

	return CheckResult{Name: "Store", Status: "PASS", Message: "connection and schema valid"}
}

func checkBroker(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil || cfg.Broker.Host == "" {
		return CheckResult{Name: "Broker", Status: "SKIP", Message: "broker host not configured"}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	addr := fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port)
	conn, err := (&net.Dialer{}).DialContext(lookupCtx, "tcp", addr)
	latency := time.Since(start)
	if err != nil {
		return CheckResult{
			Name:    "Broker",
			Status:  "FAIL",
			Message: fmt.Sprintf("dial %s failed: %v", addr, err),
			Detail:  fmt.Sprintf("latency=%dms", latency.Milliseconds()),
		}
	}
	_ = conn.Close()

	return CheckResult{
		Name:    "Broker",
		Status:  "PASS",
		Message: fmt.Sprintf("connected to %s (%dms)", addr, latency.Milliseconds()),
	}
}

func checkBlobConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Blob", Status: "SKIP", Message: "configuration not loaded"}
	}
	if cfg.DataSource == "NONE" {
		return CheckResult{Name: "Blob", Status: "SKIP", Message: "DATA_SOURCE=NONE, blob bucket not checked"}
	}
	if cfg.BlobBucket == "" {
		return CheckResult{Name: "Blob", Status: "WARN", Message: "BLOB_BUCKET not set"}
	}
	return CheckResult{Name: "Blob", Status: "PASS", Message: fmt.Sprintf("bucket=%s region=%s", cfg.BlobBucket, cfg.BlobRegion)}
}
