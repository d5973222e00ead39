package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"streampay/config"
	"streampay/core/events"
	"streampay/core/types"
	"streampay/gateway/middleware"
	"streampay/native/escrow"
	"streampay/observability/logging"
	"streampay/observability/metrics"
	"streampay/rpc"
	"streampay/state"
	"streampay/storage"
)

const envVar = "STREAMPAY_ENV"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	env := strings.TrimSpace(os.Getenv(envVar))
	if env == "" {
		env = cfg.Env
	}
	logger := logging.Setup("streampayd", env, logWriter(cfg))

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "db"))
	if err != nil {
		logger.Error("Failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	store := state.NewStore(db)
	engine := escrow.NewEngine()
	engine.SetState(store)
	engine.SetEmitter(loggingEmitter{logger: logger})

	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:    cfg.Auth.Enabled,
		HMACSecret: cfg.Auth.HMACSecret,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
	}, logger)
	limiter := middleware.NewRateLimiter(map[string]middleware.RateLimit{
		"rpc": {
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
	}, logger)
	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName: "streampayd",
		Enabled:     cfg.Observability.Enabled,
		LogRequests: cfg.Observability.LogRequests,
	}, logger)

	server := rpc.NewServer(engine, auth, logger)
	server.SetMetrics(metrics.NewEscrow(obs.Registry()))
	router := rpc.NewRouter(server, rpc.RouterConfig{
		RateLimiter:   limiter,
		Observability: obs,
		CORS:          &middleware.CORSConfig{},
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.RPCAddress, router)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown failed", slog.Any("error", err))
			os.Exit(1)
		}
	case err := <-errCh:
		if err != nil {
			logger.Error("RPC server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}
}

// logWriter rotates the log file when one is configured, otherwise stdout.
func logWriter(cfg *config.Config) io.Writer {
	if strings.TrimSpace(cfg.LogFile) == "" {
		return os.Stdout
	}
	return &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    100, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}
}

// loggingEmitter surfaces engine events on the structured log. Emission is
// fire-and-forget: a failure to log never aborts the operation that raised
// the event.
type loggingEmitter struct {
	logger *slog.Logger
}

func (l loggingEmitter) Emit(evt events.Event) {
	carrier, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		l.logger.Info("escrow event", "type", evt.EventType())
		return
	}
	event := carrier.Event()
	if event == nil {
		return
	}
	args := make([]any, 0, 2+2*len(event.Attributes))
	args = append(args, "type", event.Type)
	for k, v := range event.Attributes {
		args = append(args, k, v)
	}
	l.logger.Info("escrow event", args...)
}
