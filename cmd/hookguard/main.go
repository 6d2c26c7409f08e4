// Package main is the entry point of the HookGuard service.
// It initializes the Kratos application with the webhook HTTP server and the gRPC
// health server.
package main

import (
	"context"
	"flag"
	"os"

	"HookGuard/internal/conf"
	"HookGuard/internal/server"
	zapLogger "HookGuard/pkg/log"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/tracing"
	"github.com/go-kratos/kratos/v2/transport/grpc"
	"github.com/go-kratos/kratos/v2/transport/http"

	_ "go.uber.org/automaxprocs"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	// Name is the name of the compiled software.
	Name = "hookguard"
	// Version is the version of the compiled software.
	Version string
	// flagconf is the config flag.
	flagconf string

	id, _ = os.Hostname()
)

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs/config.yaml", "config path, eg: -conf config.yaml")
}

func newApp(logger log.Logger, gs *grpc.Server, hs *http.Server, health *server.Health, jobs *Scheduler) *kratos.App {
	return kratos.New(
		kratos.ID(id),
		kratos.Name(Name),
		kratos.Version(Version),
		kratos.Metadata(map[string]string{}),
		kratos.Logger(logger),
		kratos.Server(
			gs,
			hs,
		),
		kratos.AfterStart(func(context.Context) error {
			jobs.Start()
			return nil
		}),
		kratos.BeforeStop(func(ctx context.Context) error {
			health.Shutdown()
			jobs.Stop(ctx)
			return nil
		}),
	)
}

func main() {
	flag.Parse()

	// Load configuration using Viper with environment variable and CLI flag support
	bc, err := conf.NewBootstrap(flagconf)
	if err != nil {
		// Use fallback logger before Zap is initialized
		log.Fatalf("failed to load configuration: %v", err)
	}

	zapLog, err := zapLogger.NewZapLogger(bc.Log)
	if err != nil {
		log.Fatalf("failed to initialize zap logger: %v", err)
	}
	defer func() { _ = zapLog.Sync() }()

	logger := zapLogger.NewKratosAdapter(zapLog)
	logger = log.With(logger,
		"service.id", id,
		"service.name", Name,
		"service.version", Version,
		"trace.id", tracing.TraceID(),
		"span.id", tracing.SpanID(),
	)

	zapLogger.NewLogHelper(logger).Startup("HookGuard service starting",
		"log.level", bc.Log.Level,
		"log.format", bc.Log.Format,
		"gate.enabled", bc.Gate.Enabled,
		"gate.fail_fast", bc.Gate.FailFast,
		"gate.environment", bc.Gate.Environment,
		"rate_limit.backend", bc.Gate.RateLimit.Backend,
		"state_store.driver", bc.Data.StateStore.Driver,
	)

	app, cleanup, err := wireApp(bc.Server, bc.Data, bc.Gate, bc.Breaker, bc.Downstream, logger)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	// start and wait for stop signal
	if err := app.Run(); err != nil {
		panic(err)
	}
}
