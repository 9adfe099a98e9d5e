package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	marketcfg "peerlend/config"
	"peerlend/core/state"
	"peerlend/observability"
	"peerlend/observability/logging"
	telemetry "peerlend/observability/otel"
	"peerlend/services/lending/engine"
	"peerlend/services/lending/journal"
	lendingserver "peerlend/services/lending/server"
	"peerlend/services/lendingd/config"
	"peerlend/storage"
)

const serviceName = "lendingd"

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/lendingd/config.yaml", "path to lendingd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	env := cfg.Environment
	if env == "" {
		env = strings.TrimSpace(os.Getenv("PEERLEND_ENV"))
	}
	logger, logCloser := logging.SetupWithOptions(serviceName, env, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logCloser.Close()

	if err := run(cfg, env, logger); err != nil {
		logger.Error("lendingd exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, env string, logger *slog.Logger) error {
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: serviceName,
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	db, err := openStorage(cfg.Storage)
	if err != nil {
		return err
	}
	defer db.Close()

	markets, err := marketcfg.Load(cfg.MarketsFile)
	if err != nil {
		return fmt.Errorf("load markets: %w", err)
	}
	sim, err := newSimulation(markets, state.NewLendingStore(db), logger)
	if err != nil {
		return err
	}
	if len(cfg.Engine.Halted) > 0 {
		sim.native.SetPauses(haltSwitchboard(cfg.Engine.Halted))
		logger.Warn("markets halted by configuration", "markets", strings.Join(cfg.Engine.Halted, ","))
	}

	metrics := observability.Lending()
	opts := engine.Options{
		Metrics:           metrics,
		Logger:            logger,
		DefaultMaxMatches: cfg.Engine.DefaultMaxMatches,
	}
	if cfg.Journal.DSN != "" {
		j, err := journal.Open(cfg.Journal.DSN)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer j.Close()
		opts.Journal = j
	}
	adapter := engine.NewNodeAdapter(sim.native, opts)

	limits := make(map[string]lendingserver.RateLimit, len(cfg.RateLimits))
	for group, limit := range cfg.RateLimits {
		limits[group] = lendingserver.RateLimit{RequestsPerMinute: limit.RequestsPerMinute, Burst: limit.Burst}
	}
	handler, err := lendingserver.New(lendingserver.Config{
		Engine: adapter,
		Logger: logger,
		Auth: lendingserver.NewAuthenticator(lendingserver.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ScopeClaim: cfg.Auth.ScopeClaim,
			ClockSkew:  cfg.Auth.ClockSkew,
		}, logger),
		RateLimiter: lendingserver.NewRateLimiter(limits, logger),
		Timeout:     cfg.HTTP.RequestTimeout,
	})
	if err != nil {
		return err
	}

	tlsConfig, err := loadTLSConfig(cfg.TLS)
	if err != nil {
		return fmt.Errorf("configure tls: %w", err)
	}

	listener, err := net.Listen("tcp", cfg.HTTP.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.HTTP.Listen, err)
	}
	if err := checkPlaintext(cfg.TLS, env, listener); err != nil {
		listener.Close()
		return err
	}
	if tlsConfig != nil {
		listener = tls.NewListener(listener, tlsConfig)
	}
	httpServer := &http.Server{
		Handler:           otelhttp.NewHandler(handler, serviceName),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 2)
	go func() {
		logger.Info("lendingd listening", "addr", cfg.HTTP.Listen, "tls", tlsConfig != nil)
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("serve http: %w", err)
		}
	}()

	var grpcServer *grpc.Server
	var healthServer *health.Server
	if cfg.GRPCHealth != "" {
		grpcServer, healthServer, err = startHealthServer(cfg, env, tlsConfig, logger, serverErr)
		if err != nil {
			return err
		}
	}

	if cfg.Engine.AccrueInterval > 0 {
		go accrueLoop(ctx, sim, adapter, cfg.Engine.AccrueInterval, logger)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		return err
	}

	if healthServer != nil {
		healthServer.Shutdown()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if grpcServer != nil {
		done := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			logger.Warn("forcing health server stop")
			grpcServer.Stop()
		}
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http: %w", err)
	}
	return nil
}

func openStorage(cfg config.StorageConfig) (storage.Database, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return storage.NewMemDB(), nil
	default:
		db, err := storage.NewLevelDB(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open leveldb %s: %w", cfg.Path, err)
		}
		return db, nil
	}
}

func startHealthServer(cfg config.Config, env string, tlsConfig *tls.Config, logger *slog.Logger, serverErr chan<- error) (*grpc.Server, *health.Server, error) {
	listener, err := net.Listen("tcp", cfg.GRPCHealth)
	if err != nil {
		return nil, nil, fmt.Errorf("listen on %s: %w", cfg.GRPCHealth, err)
	}
	if err := checkPlaintext(cfg.TLS, env, listener); err != nil {
		listener.Close()
		return nil, nil, err
	}
	options := []grpc.ServerOption{grpc.ChainUnaryInterceptor(otelgrpc.UnaryServerInterceptor())}
	if tlsConfig != nil {
		options = append(options, grpc.Creds(credentials.NewTLS(tlsConfig)))
	}
	server := grpc.NewServer(options...)
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)

	go func() {
		logger.Info("lendingd health listening", "addr", cfg.GRPCHealth)
		if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			serverErr <- fmt.Errorf("serve grpc health: %w", err)
		}
	}()
	return server, healthServer, nil
}

func accrueLoop(ctx context.Context, sim *simulation, adapter *engine.NodeAdapter, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sim.tick(ctx, adapter); err != nil {
				logger.Warn("index refresh failed", "error", err)
			}
		}
	}
}

// checkPlaintext restricts listeners without TLS to loopback addresses unless
// the environment is dev.
func checkPlaintext(cfg config.TLSConfig, env string, listener net.Listener) error {
	if cfg.Enabled() {
		return nil
	}
	tcpAddr, _ := listener.Addr().(*net.TCPAddr)
	loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
	if !strings.EqualFold(env, "dev") && !loopback {
		return fmt.Errorf("plaintext lendingd mode is restricted to loopback listeners or dev environment")
	}
	return nil
}

func loadTLSConfig(cfg config.TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled() {
		if cfg.AllowInsecure {
			return nil, nil
		}
		return nil, fmt.Errorf("tls credentials are required")
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load tls keypair: %w", err)
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}, nil
}
