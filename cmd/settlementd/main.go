package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"merklepay/config"
	"merklepay/gateway"
	"merklepay/native/campaign"
	"merklepay/native/token"
	"merklepay/observability/logging"
	telemetry "merklepay/observability/otel"
	"merklepay/state"
	"merklepay/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "settlementd.toml", "path to settlementd config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("MERKLEPAY_ENV"))
	logger := logging.Setup("settlementd", env)

	shutdownTelemetry := initTelemetry(env, "settlementd")
	defer shutdownTelemetry()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("open database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)
	ledger, err := campaign.NewLedger(manager, cfg.Owner())
	if err != nil {
		logger.Error("init ledger", "err", err)
		os.Exit(1)
	}

	for _, tok := range cfg.Tokens {
		err := manager.Update(func(tx *state.Tx) error {
			return token.Register(tx, token.Metadata{Symbol: tok.Symbol, Name: tok.Name, Decimals: tok.Decimals})
		})
		if err != nil && !errors.Is(err, token.ErrTokenExists) {
			logger.Error("register token", "symbol", tok.Symbol, "err", err)
			os.Exit(1)
		}
	}

	server := gateway.NewServer(ledger, manager, logger, gateway.Config{
		ClaimsPerMinute: cfg.ClaimsPerMinute,
		ClaimBurst:      cfg.ClaimBurst,
	})
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           otelhttp.NewHandler(server, "gateway"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("settlement gateway listening", "addr", cfg.ListenAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "err", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown", "err", err)
	}
}

func initTelemetry(env, service string) func() {
	endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if endpoint == "" {
		return func() {}
	}
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdown, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: service,
		Environment: env,
		Endpoint:    endpoint,
		Insecure:    insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     true,
		Traces:      true,
	})
	if err != nil || shutdown == nil {
		return func() {}
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(ctx)
	}
}
