// Command facehive-worker runs one worker process (C3/C4/C5): it loads a
// snapshot of tenants/users/faces into an in-memory recognition index,
// joins the fan-out and processing queues, and dispatches tasks until
// told to stop. Grounded on _examples/zkoranges-go-claw/cmd/goclaw/main.go's
// startup/shutdown sequencing (audit before logger, signal.NotifyContext,
// deferred closes in reverse-acquisition order, bounded drain), stripped
// of everything TUI/daemon-mode specific since a worker has no REPL.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/facehive/facehive/internal/audit"
	"github.com/facehive/facehive/internal/bus"
	"github.com/facehive/facehive/internal/config"
	"github.com/facehive/facehive/internal/consumer"
	"github.com/facehive/facehive/internal/doctor"
	"github.com/facehive/facehive/internal/facemodel"
	"github.com/facehive/facehive/internal/handlers"
	"github.com/facehive/facehive/internal/loader"
	"github.com/facehive/facehive/internal/maintenance"
	otelpkg "github.com/facehive/facehive/internal/otel"
	"github.com/facehive/facehive/internal/recog"
	"github.com/facehive/facehive/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v1-dev"

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional, env vars always win)")
	doctorMode := flag.Bool("doctor", false, "run startup diagnostics and exit")
	jsonOutput := flag.Bool("json", false, "doctor: emit JSON instead of a human report")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	if *doctorMode {
		os.Exit(runDoctor(&cfg, *jsonOutput))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := audit.Init(cfg.HomeDir); err != nil {
		fatalStartup(nil, "E_AUDIT_INIT", err)
	}
	defer func() { _ = audit.Close() }()

	quiet := !isatty.IsTerminal(os.Stdout.Fd())
	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quiet)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "data_source", cfg.DataSource)

	otelProvider, err := otelpkg.Init(ctx, otelpkg.Config{
		Enabled:     cfg.OTelEnabled,
		Exporter:    cfg.OTelExporter,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: cfg.OTelServiceName,
		SampleRate:  cfg.OTelSampleRate,
	})
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer func() { _ = otelProvider.Shutdown(context.Background()) }()

	transport, err := bus.NewAMQPTransport(ctx, bus.Config{
		Host:             cfg.Broker.Host,
		Port:             cfg.Broker.Port,
		VHost:            cfg.Broker.VHost,
		User:             cfg.Broker.User,
		Pass:             cfg.Broker.Pass,
		HeartbeatSeconds: cfg.Broker.HeartbeatSeconds,
	}, logger)
	if err != nil {
		fatalStartup(logger, "E_BROKER_CONNECT", err)
	}
	defer func() { _ = transport.Close() }()
	logger.Info("startup phase", "phase", "broker_connected")

	index := recog.New()
	model := facemodel.NewStub(128)

	loaderCfg := loader.Config{
		DataSource: loaderSource(cfg.DataSource),
		DataFile:   cfg.DataFile,
		APIURL:     cfg.APIURL,
		APIKey:     cfg.APIKey,
		APITimeout: cfg.APITimeoutDuration(),
	}
	result, err := loader.Load(ctx, loaderCfg, index, logger)
	if err != nil {
		logger.Error("initial snapshot load failed, starting with an empty index", "error", err)
	} else {
		logger.Info("snapshot loaded", "tenants", result.TenantsLoaded, "faces", result.FacesLoaded, "orphans_skipped", result.OrphansSkipped)
	}

	workerID := fmt.Sprintf("worker-%d", os.Getpid())
	dispatcher := &handlers.Handlers{
		Index:     index,
		Model:     model,
		Threshold: cfg.RecognitionThreshold,
		WorkerID:  workerID,
	}

	// Workers have no durable store of their own, so internal/maintenance
	// runs snapshot refresh only; the audit-log sweep needs an AuditStore
	// and lives on the control plane.
	scheduler := maintenance.New(maintenance.Config{
		SnapshotRefreshInterval: cfg.SnapshotRefreshInterval(),
		LoaderConfig:            loaderCfg,
		Logger:                  logger,
	}, index, nil)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	runtime := consumer.New(transport, dispatcher, consumer.Config{
		WorkerID:      workerID,
		Prefetch:      cfg.WorkerPrefetch,
		DrainTimeout:  5 * time.Second,
		HandlerBudget: cfg.RPCTimeout(),
	}, logger)

	logger.Info("worker ready", "worker_id", workerID)
	if err := runtime.Run(ctx); err != nil {
		logger.Error("consumer runtime exited with error", "error", err)
	}
	logger.Info("shutdown complete")
}

func loaderSource(dataSource string) loader.Source {
	switch dataSource {
	case "API":
		return loader.SourceAPI
	case "LOCAL_FILE":
		return loader.SourceLocalFile
	default:
		return loader.SourceNone
	}
}

func runDoctor(cfg *config.Config, jsonOutput bool) int {
	diag := doctor.Run(context.Background(), cfg, Version)
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(diag); err != nil {
			fmt.Fprintf(os.Stderr, "error encoding json: %v\n", err)
			return 1
		}
		return 0
	}

	fmt.Printf("facehive-worker doctor report (%s)\n", diag.Timestamp.Format(time.RFC3339))
	fmt.Printf("system: %s/%s (%s)\n", diag.System.OS, diag.System.Arch, diag.System.Go)
	fmt.Println("---")
	failed := false
	for _, r := range diag.Results {
		fmt.Printf("[%s] %s: %s\n", r.Status, r.Name, r.Message)
		if r.Status == "FAIL" {
			failed = true
		}
	}
	if failed {
		return 1
	}
	return 0
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	audit.Record("fatal", "runtime.startup", reasonCode, audit.OutcomeFailed, message)
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(os.Stderr, "startup failure: reason_code=%s error=%s\n", reasonCode, message)
	}
	os.Exit(1)
}
