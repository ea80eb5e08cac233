package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradedesk/internal/app"
	"tradedesk/internal/broker/brokerobs"
	"tradedesk/internal/broker/kite"
	"tradedesk/internal/broker/shoonya"
	"tradedesk/internal/broker/socket"
	"tradedesk/internal/domain"
	"tradedesk/internal/eod"
	"tradedesk/internal/eod/eodobs"
	"tradedesk/internal/hub"
	"tradedesk/internal/interfaces"
	"tradedesk/internal/logger"
	"tradedesk/internal/market"
	"tradedesk/internal/notify"
	"tradedesk/internal/persist"
	"tradedesk/internal/risk"
	"tradedesk/internal/state"
	"tradedesk/internal/store"
	"tradedesk/internal/trace"
	"tradedesk/internal/tradelog"

	"github.com/joho/godotenv"
)

const shutdownTimeout = 10 * time.Second

// initializeSystem loads .env and starts logging and tracing.
func initializeSystem() error {
	_ = godotenv.Load()

	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if err := trace.Init("tradedesk", version); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}
	return nil
}

func accountConfig(cfg *store.Config) domain.AccountConfig {
	return domain.AccountConfig{
		Socket: socket.Config{
			RetryDelay:     cfg.RetryDelay(),
			SubscribeRetry: cfg.SubscribeRetry(),
			SettleDelay:    cfg.SettleDelay(),
		},
		Limits:       risk.LimitsFromConfig(cfg),
		RiskInterval: cfg.RiskInterval(),
	}
}

// initializeAccounts builds one account per enabled venue.
func initializeAccounts(ctx context.Context, cfg *store.Config, deps domain.Deps) []*domain.Account {
	var accounts []*domain.Account
	if c := cfg.Brokers.Shoonya; c.Enabled {
		session := brokerobs.Wrap(shoonya.NewSession(c))
		accounts = append(accounts, domain.NewAccount(session, shoonya.NewFeed(c.WSURL), accountConfig(cfg), deps))
	}
	if c := cfg.Brokers.Kite; c.Enabled {
		session := brokerobs.Wrap(kite.NewSession(c))
		accounts = append(accounts, domain.NewAccount(session, kite.NewFeed(c.APIKey), accountConfig(cfg), deps))
	}
	if len(accounts) == 0 {
		logger.Warn(ctx, "No broker enabled in config")
	}
	return accounts
}

func serve(parent context.Context, configPath string) error {
	if err := initializeSystem(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := store.LoadConfig(configPath)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err, "path", configPath)
		return err
	}

	gw, err := persist.Open(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to open storage", err, "driver", cfg.Storage.Driver)
		return err
	}
	defer gw.Close()

	h := hub.New()
	journal := tradelog.New(cfg.Journal.Dir)
	sink := notify.New(h, journal)
	writer := persist.NewWriter(gw, cfg.Storage.QueueSize, func(ctx context.Context, err error) {
		sink.Error(ctx, "Failed to save state: "+err.Error())
	})
	writer.Start()

	deps := domain.Deps{
		State: state.Deps{
			Collection:  cfg.Storage.Collection,
			Broadcaster: h,
			Persister:   writer,
			Notifier:    sink,
		},
		Journal: journal,
	}

	appDomain := domain.NewApp(deps, market.NewCalendar(cfg.Market.MIC))
	registry := state.NewRegistry()
	registry.MustRegister(appDomain)

	accounts := initializeAccounts(ctx, cfg, deps)
	httpAccounts := make(map[string]hub.Account, len(accounts))
	subscribers := make(map[string]interfaces.TickSubscriber, len(accounts))
	sources := make(map[string]interfaces.TickSource, len(accounts))
	for _, acct := range accounts {
		appDomain.Track(acct)
		registry.MustRegister(acct)
		h.AddTickSource(acct.Adapter())
		httpAccounts[acct.Venue()] = acct
		subscribers[acct.Venue()] = acct.Adapter()
		sources[acct.Venue()] = acct.Adapter()
	}
	registry.MustRegister(
		domain.NewSymbols(deps, subscribers),
		domain.NewDrawings(deps),
		domain.NewAlerts(deps, sources, cfg.AlertInterval()),
	)
	h.Bind(registry)

	orch := app.New(app.Config{
		Collection:    cfg.Storage.Collection,
		RetentionDays: cfg.Journal.RetentionDays,
	}, app.Deps{
		Domains:    registry,
		Day:        appDomain,
		Store:      gw,
		Summarizer: eodobs.Wrap(eod.NewSummarizer(cfg.Journal.Dir)),
		Journal:    journal,
	})
	if err := orch.Startup(ctx); err != nil {
		return err
	}

	srv := hub.NewServer(cfg.Addr(), h, httpAccounts, logger.IsDebugEnabled())
	errc := make(chan error, 1)
	go func() {
		errc <- srv.Start()
	}()

	logger.Info(ctx, "tradedesk started", "addr", cfg.Addr(), "domains", len(registry.All()), "version", version)

	select {
	case <-ctx.Done():
		logger.Info(context.Background(), "Shutting down...")
	case err = <-errc:
		if err != nil {
			logger.ErrorWithErr(ctx, "HTTP server failed", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "HTTP shutdown incomplete", "error", err)
	}
	orch.Shutdown(shutdownCtx)
	if err := writer.Close(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "Pending state writes were not flushed", "error", err)
	}
	_ = trace.Shutdown(shutdownCtx)
	_ = logger.Shutdown(shutdownCtx)
	return err
}
