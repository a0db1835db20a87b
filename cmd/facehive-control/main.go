// Command facehive-control runs the control plane (C1/C2): the HTTP/WS
// gateway, the RPC producer that drives fan-out and processing tasks
// against the worker fleet, and the durable sqlite store and blob store
// enrollment images are persisted to before a fan-out message is ever
// published. Grounded on
// _examples/zkoranges-go-claw/cmd/goclaw/main.go's startup/shutdown
// sequencing, stripped of TUI/agent-registry/skill-watcher concerns that
// have no equivalent here.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/facehive/facehive/internal/audit"
	"github.com/facehive/facehive/internal/blob"
	"github.com/facehive/facehive/internal/blob/memblob"
	"github.com/facehive/facehive/internal/blob/s3blob"
	"github.com/facehive/facehive/internal/bus"
	"github.com/facehive/facehive/internal/config"
	"github.com/facehive/facehive/internal/controlsvc"
	"github.com/facehive/facehive/internal/doctor"
	"github.com/facehive/facehive/internal/gateway"
	"github.com/facehive/facehive/internal/loader"
	"github.com/facehive/facehive/internal/maintenance"
	otelpkg "github.com/facehive/facehive/internal/otel"
	"github.com/facehive/facehive/internal/recog"
	"github.com/facehive/facehive/internal/rpc"
	"github.com/facehive/facehive/internal/store/sqlitestore"
	"github.com/facehive/facehive/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v1-dev"

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional, env vars always win)")
	addr := flag.String("addr", ":8080", "HTTP listen address")
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
	logger.Info("startup phase", "phase", "config_loaded")

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

	st, err := sqlitestore.Open(cfg.StorePath)
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer st.Close()
	audit.SetDB(st.DB())
	logger.Info("startup phase", "phase", "schema_migrated")

	blobStore, err := openBlobStore(ctx, cfg)
	if err != nil {
		fatalStartup(logger, "E_BLOB_INIT", err)
	}

	producer, err := rpc.New(ctx, transport, rpc.Config{
		DefaultTimeout: cfg.RPCTimeout(),
		ProducerID:     fmt.Sprintf("control-%d", os.Getpid()),
	}, logger)
	if err != nil {
		fatalStartup(logger, "E_PRODUCER_INIT", err)
	}

	control := controlsvc.New(producer, st, blobStore, controlsvc.Config{
		FanoutWorkerCount: cfg.FanoutWorkerCount,
		FanoutWindow:      cfg.FanoutWindow(),
	}, logger)

	// The control plane keeps its own in-memory index solely so /healthz
	// and the status stream have live tenant/face counts to report; it is
	// never written to directly, only refreshed from the same snapshot
	// source workers load from.
	statusIndex := recog.New()
	loaderCfg := loader.Config{
		DataSource: loaderSource(cfg.DataSource),
		DataFile:   cfg.DataFile,
		APIURL:     cfg.APIURL,
		APIKey:     cfg.APIKey,
		APITimeout: cfg.APITimeoutDuration(),
	}
	if result, err := loader.Load(ctx, loaderCfg, statusIndex, logger); err != nil {
		logger.Error("initial status snapshot load failed", "error", err)
	} else {
		logger.Info("status snapshot loaded", "tenants", result.TenantsLoaded, "faces", result.FacesLoaded)
	}

	scheduler := maintenance.New(maintenance.Config{
		SnapshotRefreshInterval: cfg.SnapshotRefreshInterval(),
		AuditRetention:          cfg.AuditRetention(),
		LoaderConfig:            loaderCfg,
		Logger:                  logger,
	}, statusIndex, st)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	gw := gateway.New(gateway.Config{
		Control: control,
		Data:    sqlitestore.NewAnalyticsSource(st),
		Status:  statusIndex,
		Logger:  logger,
	})

	cors := gateway.NewCORSMiddleware(gateway.CORSConfig{Enabled: false})
	server := &http.Server{Addr: *addr, Handler: cors(gw.Handler())}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("control plane listening", "addr", *addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()
	go gw.Run(ctx)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("gateway server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	logger.Info("shutdown complete")
}

func openBlobStore(ctx context.Context, cfg config.Config) (blob.Store, error) {
	if cfg.BlobBucket == "" {
		return memblob.New(), nil
	}
	return s3blob.New(ctx, s3blob.Config{
		Bucket: cfg.BlobBucket,
		Region: cfg.BlobRegion,
	})
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

	fmt.Printf("facehive-control doctor report (%s)\n", diag.Timestamp.Format(time.RFC3339))
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
