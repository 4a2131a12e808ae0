// Command discordclient boots the rate-limited REST pipeline, the retry
// harness, the voice session state machine, and the admin HTTP surface as
// one process, following the same wiring shape as the bot's config.
package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tjfontaine/discordgw/internal/adminserver"
	"github.com/tjfontaine/discordgw/internal/auditlog"
	"github.com/tjfontaine/discordgw/internal/config"
	"github.com/tjfontaine/discordgw/internal/ledger"
	"github.com/tjfontaine/discordgw/internal/pipeline"
	"github.com/tjfontaine/discordgw/internal/reqres"
	"github.com/tjfontaine/discordgw/internal/retry"
	"github.com/tjfontaine/discordgw/internal/telemetry"
	"github.com/tjfontaine/discordgw/internal/voice"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("DGW_CONFIG_FILE"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownTracer, err := telemetry.InitTracer("discordgw", logger)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shut down tracer", slog.String("error", err.Error()))
		}
	}()

	audit, err := auditlog.New(os.Getenv("DGW_AUDIT_DB_PATH"))
	if err != nil {
		log.Fatalf("failed to open audit log: %v", err)
	}
	defer audit.Close()

	l := ledger.New(logger)
	defer l.Close()

	pcfg, err := cfg.Pipeline.ToPipelineConfig(cfg.Bot.Token, cfg.Bot.UserAgent())
	if err != nil {
		log.Fatalf("invalid pipeline config: %v", err)
	}
	pcfg.LogSentREST = cfg.Logging.LogSentREST
	pcfg.LogReceivedREST = cfg.Logging.LogReceivedREST

	client := pipeline.NewHTTPClient(30 * time.Second)
	harness := retry.NewPipelineHarness[json.RawMessage, string](cfg.Pipeline.MaxRetryCount, pcfg, l, client, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ingress := make(chan *reqres.Request[json.RawMessage, string], pcfg.BufferSize)
	answers := harness.Run(ctx, ingress)

	go func() {
		for answer := range answers {
			if err := auditlog.Record(ctx, audit, answer, ""); err != nil {
				logger.Warn("audit log write failed", slog.String("error", err.Error()))
			}
			if answer.Failed() {
				logger.Warn("request failed", slog.String("route", answer.Route.RawRoute), slog.String("kind", answer.Kind.String()))
			}
		}
	}()

	session := voice.New(voice.Config{
		Address:        os.Getenv("DGW_VOICE_ADDRESS"),
		GatewayVersion: 8,
		Logger:         logger,
		LogSentWS:      cfg.Logging.LogSentWS,
		LogReceivedWS:  cfg.Logging.LogReceivedWS,
	})
	defer session.Close()

	supervisor := voice.NewSupervisor(session, 5*time.Second, false, logger)
	defer supervisor.Stop()

	admin := adminserver.New(cfg.Admin.Port, logger, l, session)
	go func() {
		if err := admin.Start(); err != nil {
			logger.Error("admin server stopped", slog.String("error", err.Error()))
		}
	}()

	logger.Info("discordgw started",
		slog.Int("admin_port", cfg.Admin.Port),
		slog.Int("pipeline_buffer_size", pcfg.BufferSize),
		slog.String("pipeline_overflow_strategy", pcfg.OverflowStrategy.String()))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")
	close(ingress)
	cancel()
}
