// Command durableserver hosts invocation handlers behind the
// /invoke and /discover endpoints, the way cmd/agentflow's main.go
// hosts AgentFlow's HTTP surface.
//
// Usage:
//
//	durableserver serve                      # start the server
//	durableserver serve --config config.yaml # with a config file
//	durableserver version                    # print version info
//	durableserver health                     # health check a running server
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/durableflow/archive"
	"github.com/BaSui01/durableflow/broker"
	"github.com/BaSui01/durableflow/discovery"
	"github.com/BaSui01/durableflow/durable"
	"github.com/BaSui01/durableflow/internal/archiveopen"
	"github.com/BaSui01/durableflow/internal/durableconfig"
	"github.com/BaSui01/durableflow/internal/durabletelemetry"
	"github.com/BaSui01/durableflow/internal/migration"
	"github.com/BaSui01/durableflow/internal/tlsutil"
	"github.com/BaSui01/durableflow/invocation"
	"github.com/BaSui01/durableflow/journal"
	"github.com/BaSui01/durableflow/server"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	envPrefix := fs.String("env-prefix", "DURABLEFLOW", "environment variable prefix")
	_ = fs.Parse(args)

	cfg, err := durableconfig.Load(*configPath, *envPrefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting durableserver",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	providers, err := durabletelemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	defer providers.Shutdown(context.Background())

	metricsCollector := durabletelemetry.NewCollector("durableflow", logger)

	arc, err := openArchive(cfg.Archive, logger)
	if err != nil {
		logger.Fatal("failed to open archive backend", zap.Error(err))
	}
	defer arc.Close()
	arc = archive.NewInstrumentedArchive(arc, metricsCollector, cfg.Archive.Backend)

	awakeableBroker, err := openBroker(cfg.Broker)
	if err != nil {
		logger.Fatal("failed to open broker backend", zap.Error(err))
	}

	validator, err := buildValidator(cfg.Signature)
	if err != nil {
		logger.Fatal("failed to configure signature validation", zap.Error(err))
	}

	router := server.NewRouterWithArchive(validator, logger, metricsCollector, durabletelemetry.Tracer(), arc)
	registerDemoService(router, arc, awakeableBroker)

	httpServer := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: router.Handler(),
	}
	useTLS := cfg.Server.TLSCertFile != "" && cfg.Server.TLSKeyFile != ""
	if useTLS {
		httpServer.TLSConfig = tlsutil.DefaultTLSConfig()
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    cfg.Server.MetricsAddr,
		Handler: metricsMux,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Server.HTTPAddr), zap.Bool("tls", useTLS))
		var err error
		if useTLS {
			err = httpServer.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()
	go func() {
		logger.Info("metrics server listening", zap.String("addr", cfg.Server.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	waitForShutdown(httpServer, metricsServer, cfg.Server.ShutdownTimeout, logger)
	logger.Info("durableserver stopped")
}

func waitForShutdown(srv, metricsSrv *http.Server, timeout time.Duration, logger *zap.Logger) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutdown signal received, draining connections")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", zap.Error(err))
	}
}

func openArchive(cfg durableconfig.ArchiveConfig, logger *zap.Logger) (archive.Archive, error) {
	return archiveopen.Open(cfg, logger)
}

func openBroker(cfg durableconfig.BrokerConfig) (broker.AwakeableBroker, error) {
	switch cfg.Backend {
	case "inprocess", "":
		return broker.NewInProcessBroker(), nil
	case "nats":
		conn, err := nats.Connect(cfg.Addr)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		return broker.NewNATSBroker(conn), nil
	default:
		return nil, fmt.Errorf("unsupported broker backend %q", cfg.Backend)
	}
}

func buildValidator(cfg durableconfig.SignatureConfig) (server.SignatureValidator, error) {
	switch cfg.Mode {
	case "none", "":
		return server.NoopValidator{}, nil
	case "jwt":
		return server.NewJWTValidator([]byte(cfg.Secret)), nil
	default:
		return nil, fmt.Errorf("unsupported signature mode %q", cfg.Mode)
	}
}

// registerDemoService registers a handful of minimal handlers so a
// freshly built binary has something reachable at /invoke without
// requiring an embedding application; real deployments register their
// own handlers the same way before calling router.Handler(). Beyond
// the plain echo, these exercise arc and b from inside a real
// handler: lookup reads back what OnComplete archived, and publish
// drives an awakeable resolution through the broker, both wrapped in
// RunSideEffect since neither archive nor broker I/O is deterministic
// and thus cannot run directly in handler code.
func registerDemoService(router *server.Router, arc archive.Archive, b broker.AwakeableBroker) {
	router.RegisterService("echo", false, server.RegisteredHandler{
		Name: "greet",
		Kind: discovery.HandlerUnkeyed,
		Mode: invocation.ModeBidirectional,
		Handler: func(ctx *durable.Context, input []byte) ([]byte, error) {
			return input, nil
		},
	})

	router.RegisterService("archive", false, server.RegisteredHandler{
		Name:    "lookup",
		Kind:    discovery.HandlerUnkeyed,
		Mode:    invocation.ModeBidirectional,
		Handler: archiveLookupHandler(arc),
	})

	router.RegisterService("awakeable", false, server.RegisteredHandler{
		Name:    "publish",
		Kind:    discovery.HandlerUnkeyed,
		Mode:    invocation.ModeBidirectional,
		Handler: awakeablePublishHandler(b),
	})
}

// archiveLookupHandler treats its input as an invocation id and
// returns that invocation's archived record as JSON, so the archive
// backends wired through server.NewRouterWithArchive's OnComplete hook
// are reachable from a real handler too, not only written to.
func archiveLookupHandler(arc archive.Archive) invocation.Handler {
	return func(ctx *durable.Context, input []byte) ([]byte, error) {
		result, err := ctx.RunSideEffect(func() ([]byte, error) {
			rec, err := arc.Get(context.Background(), string(input))
			if err != nil {
				return nil, err
			}
			return json.Marshal(rec)
		}, durable.RetryPolicy{MaxRetries: 2}).Await()
		if err != nil {
			return nil, err
		}
		if result.State == journal.ResultFailure {
			return nil, fmt.Errorf("archive lookup: %s", result.FailureMessage)
		}
		return result.Value, nil
	}
}

// awakeablePublishRequest is the JSON body awakeablePublishHandler
// expects: the id of an awakeable some other invocation is waiting on
// (spec.md §4.11's "a third party resolves an awakeable"), and the
// payload to resolve it with.
type awakeablePublishRequest struct {
	ID      string `json:"id"`
	Payload []byte `json:"payload"`
}

// awakeablePublishHandler publishes a resolution onto the broker for
// an awakeable id supplied by the caller — the role an out-of-process
// party or a NATS-connected resolver plays against broker.NATSBroker,
// exercised here synchronously through broker.InProcessBroker so it
// is reachable without a separate resolve HTTP surface.
func awakeablePublishHandler(b broker.AwakeableBroker) invocation.Handler {
	return func(ctx *durable.Context, input []byte) ([]byte, error) {
		var req awakeablePublishRequest
		if err := json.Unmarshal(input, &req); err != nil {
			return nil, durable.NewTerminalError("awakeable publish: invalid request: " + err.Error())
		}

		result, err := ctx.RunSideEffect(func() ([]byte, error) {
			err := b.Publish(context.Background(), broker.Resolution{
				ID:      req.ID,
				Success: true,
				Payload: req.Payload,
			})
			return nil, err
		}, durable.RetryPolicy{MaxRetries: 2}).Await()
		if err != nil {
			return nil, err
		}
		if result.State == journal.ResultFailure {
			return nil, fmt.Errorf("awakeable publish: %s", result.FailureMessage)
		}
		return []byte(`{"status":"published"}`), nil
	}
}

func initLogger(cfg durableconfig.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := cfg.Format
	if encoding == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoding = "json"
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	var opts []zap.Option
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	logger, err := zapConfig.Build(opts...)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

func runMigrate(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: durableserver migrate <up|down|down-all|steps|goto|force|version|status|info> [options]")
		os.Exit(1)
	}
	sub := args[0]
	rest := args[1:]

	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	envPrefix := fs.String("env-prefix", "DURABLEFLOW", "environment variable prefix")
	steps := fs.Int("steps", 0, "number of steps for the 'steps' subcommand (negative rolls back)")
	version := fs.Uint("version", 0, "target version for the 'goto' subcommand")
	forceVersion := fs.Int("force-version", -1, "version to force for the 'force' subcommand")
	_ = fs.Parse(rest)

	cfg, err := durableconfig.Load(*configPath, *envPrefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	m, err := migration.NewMigratorFromArchiveConfig(cfg.Archive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build migrator: %v\n", err)
		os.Exit(1)
	}
	defer m.Close()

	cli := migration.NewCLI(m)
	ctx := context.Background()

	switch sub {
	case "up":
		err = cli.RunUp(ctx)
	case "down":
		err = cli.RunDown(ctx)
	case "down-all":
		err = cli.RunDownAll(ctx)
	case "steps":
		err = cli.RunSteps(ctx, *steps)
	case "goto":
		err = cli.RunGoto(ctx, *version)
	case "force":
		err = cli.RunForce(ctx, *forceVersion)
	case "version":
		err = cli.RunVersion(ctx)
	case "status":
		err = cli.RunStatus(ctx)
	case "info":
		err = cli.RunInfo(ctx)
	default:
		fmt.Fprintf(os.Stderr, "unknown migrate subcommand: %s\n", sub)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s failed: %v\n", sub, err)
		os.Exit(1)
	}
}

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "server address")
	_ = fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/discover")
	if err != nil {
		fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func printVersion() {
	fmt.Printf("durableserver %s\n", Version)
	fmt.Printf("  build time: %s\n", BuildTime)
	fmt.Printf("  git commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`durableserver - durable execution invocation host

Usage:
  durableserver <command> [options]

Commands:
  serve     Start the server
  version   Show version information
  health    Check server health
  migrate   Manage the invocation archive's SQL schema
  help      Show this help message

Options for 'serve' and 'migrate':
  --config <path>        Path to configuration file (YAML)
  --env-prefix <prefix>   Environment variable prefix (default DURABLEFLOW)

Migrate subcommands:
  up, down, down-all, steps --steps <n>, goto --version <n>,
  force --force-version <n>, version, status, info

Examples:
  durableserver serve
  durableserver serve --config /etc/durableflow/config.yaml
  durableserver health --addr http://localhost:8080
  durableserver migrate up
  durableserver migrate status
  durableserver version`)
}
