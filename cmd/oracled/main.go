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

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"merklepay/observability/logging"
	telemetry "merklepay/observability/otel"
	"merklepay/services/oracled"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "oracled.yaml", "path to oracled config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("MERKLEPAY_ENV"))
	logger := logging.Setup("oracled", env)

	shutdownTelemetry := initTelemetry(env)
	defer shutdownTelemetry()

	cfg, err := oracled.LoadConfig(cfgPath)
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}

	client := oracled.NewHTTPClient(cfg.GatewayURL, cfg.Oracle())
	source := oracled.NewFileSource(cfg.EngagementDir)
	processor := oracled.NewProcessor(client, source,
		oracled.WithLogger(logger),
		oracled.WithProofDir(cfg.ProofDir),
		oracled.WithPollInterval(cfg.PollInterval.Duration),
		oracled.WithRetry(cfg.MaxAttempts, cfg.InitialBackoff.Duration, cfg.MaxBackoff.Duration),
	)

	metricsServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("metrics listening", "addr", cfg.ListenAddress)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "err", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("oracle pipeline running", "gateway", cfg.GatewayURL)
	if err := processor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("pipeline stopped", "err", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsServer.Shutdown(shutdownCtx)
}

func initTelemetry(env string) func() {
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
		ServiceName: "oracled",
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
