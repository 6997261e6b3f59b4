// Package main is the entrypoint for the Tikiti API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tikiti/tikiti/internal/cache"
	"github.com/tikiti/tikiti/internal/config"
	"github.com/tikiti/tikiti/internal/events"
	"github.com/tikiti/tikiti/internal/gateway"
	"github.com/tikiti/tikiti/internal/handler"
	"github.com/tikiti/tikiti/internal/ledger"
	"github.com/tikiti/tikiti/internal/lottery"
	"github.com/tikiti/tikiti/internal/metrics"
	"github.com/tikiti/tikiti/internal/repository"
	"github.com/tikiti/tikiti/internal/server"
	"github.com/tikiti/tikiti/internal/service"
)

const version = "1.0.0"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := initLogger(cfg)

	if cfg.MigrateOnStart {
		v, err := repository.Migrate(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("migrate: %s", sanitizeError(err, cfg.DatabaseURL))
		}
		logger.Info("migrations_applied", "version", v)
	}

	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		return errors.New("connect database")
	}
	defer repo.Close()
	logger.Info("connected to database")

	cacheClient, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		return errors.New("connect redis")
	}
	defer cacheClient.Close()
	logger.Info("connected to Redis")

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	totals := metrics.NewInMemory()
	recorder := metrics.Fanout{metrics.NewPrometheus(registry), totals}

	// Domain
	publisher := events.NewPublisher(cacheClient.Client(), logger, recorder)
	l := ledger.New(repository.NewLedgerStore(repo), logger)
	lotteryStore := repository.NewLotteryStore(repo)

	manager, err := lottery.NewManager(lotteryStore, lottery.RoundConfig{
		Capacity:              cfg.RoundCapacity,
		Price:                 cfg.TicketPrice,
		MaxTicketsPerUser:     cfg.MaxTicketsPerUser,
		MaxTicketsPerPurchase: cfg.MaxTicketsPerPurchase,
	}, publisher, logger)
	if err != nil {
		return err
	}
	settler, err := lottery.NewSettler(lotteryStore, l, manager, publisher, recorder, lottery.SettlerConfig{
		HouseFeeBPS: cfg.HouseFeeBPS,
		Beacon:      cfg.DrawBeacon,
	}, logger)
	if err != nil {
		return err
	}
	engine := lottery.NewEngine(manager, settler, l, lotteryStore, recorder, logger)
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start lottery: %w", err)
	}

	provider, err := newProvider(cfg)
	if err != nil {
		return err
	}
	withdrawals := repository.NewWithdrawalStore(repo)
	payments := gateway.NewAdapter(provider, l, withdrawals, recorder, gateway.Config{
		Timeout:        cfg.GatewayTimeout,
		ConfirmTimeout: cfg.PayoutConfirmTimeout,
	}, logger)
	sweeper := gateway.NewSweeper(payments, withdrawals, cfg.SweeperPollInterval, logger)

	accounts := service.NewAccountService(repo, cacheClient, l, cfg.SessionTTL, logger)
	feed := events.NewWinnerFeed(cacheClient.Client())
	consumer := events.NewConsumer(cacheClient.Client(), feed, repo, recorder, logger)

	// HTTP
	r := setupRouter(routes{
		root:     handler.New(version),
		health:   handler.NewHealthHandler(repo, cacheClient, engine),
		metrics:  handler.NewMetricsHandler(registry),
		lottery:  handler.NewLotteryHandler(engine, feed, logger),
		payments: handler.NewPaymentHandler(payments, accounts, l, cfg.GatewayCallbackSecret, logger),
		accounts: handler.NewAccountHandler(accounts, !cfg.IsDevelopment(), logger),
		auth:     accounts,
	}, cfg, logger)

	srv := server.New(r, server.Config{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	srv.OnShutdown("metrics_summary", func(ctx context.Context) error {
		snap := totals.Snapshot()
		logger.Info("metrics_summary",
			"tickets_sold", snap.TicketsSold,
			"rounds_settled", snap.RoundsSettled,
			"payout_total", snap.PayoutTotal,
			"invariant_violations", snap.InvariantViolations,
		)
		return nil
	})
	srv.Go("payout_sweeper", sweeper.Run)
	srv.Go("winner_feed", consumer.Run)

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"gateway_mode", cfg.GatewayMode,
		"round_capacity", cfg.RoundCapacity,
		"ticket_price", cfg.TicketPrice,
	)

	return srv.Run(ctx)
}

func newProvider(cfg *config.Config) (gateway.Provider, error) {
	if cfg.GatewayMode == config.GatewayHTTP {
		return gateway.NewHTTPProvider(gateway.HTTPConfig{
			BaseURL:    cfg.GatewayBaseURL,
			APIKey:     cfg.GatewayAPIKey,
			Secret:     cfg.GatewayCallbackSecret,
			Currency:   cfg.Currency,
			MinorUnits: cfg.CurrencyMinorUnits,
			Timeout:    cfg.GatewayTimeout,
		})
	}
	return gateway.NewSandboxProvider(true), nil
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h).With("service", "tikiti", "version", version)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}

