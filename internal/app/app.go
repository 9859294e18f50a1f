package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"fare-alerts/internal/access"
	"fare-alerts/internal/alerting"
	"fare-alerts/internal/bot"
	"fare-alerts/internal/config"
	"fare-alerts/internal/conversation"
	"fare-alerts/internal/domain"
	"fare-alerts/internal/health"
	"fare-alerts/internal/logging"
	"fare-alerts/internal/messenger/telegram"
	"fare-alerts/internal/offers"
	"fare-alerts/internal/scheduler"
	"fare-alerts/internal/service"
	"fare-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app")}
}

func (a *App) admin() domain.UserID {
	return domain.UserID(a.Config.Access.AdminID)
}

func (a *App) openRegistry(ctx context.Context) (storage.Registry, error) {
	return storage.Open(ctx, a.Config.Storage, a.admin(), a.Logger)
}

func (a *App) newSource() offers.Source {
	cfg := a.Config.Offers
	return offers.NewSerpAPI(offers.SerpAPIOptions{
		BaseURL:  cfg.BaseURL,
		APIKey:   cfg.APIKey,
		Currency: cfg.Currency,
		Language: cfg.Language,
		Timeout:  cfg.RequestTimeout,
	}, a.Logger)
}

func (a *App) newMessenger() (*telegram.Messenger, error) {
	cfg := a.Config.Telegram
	return telegram.New(telegram.Options{
		Token:       cfg.BotToken,
		APIEndpoint: cfg.APIEndpoint,
		PollTimeout: cfg.PollTimeout,
		Debug:       cfg.Debug,
	}, a.Logger)
}

func (a *App) newService(sched *scheduler.Scheduler, registry storage.AlertRegistry, notifier alerting.Notifier) *service.Service {
	return service.New(service.OptionsFromConfig(a.Config), sched, a.newSource(), registry, notifier, a.Config.Catalog(), a.Logger)
}

// Run executes the long-running bot: chat transport, evaluation loop and health responder.
func (a *App) Run(ctx context.Context) error {
	if err := a.Config.RequireBot(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry, err := a.openRegistry(ctx)
	if err != nil {
		return err
	}
	defer registry.Close()

	chat, err := a.newMessenger()
	if err != nil {
		return err
	}

	catalog := a.Config.Catalog()
	currency := a.Config.Offers.Currency
	gate := access.NewGate(registry, a.admin())

	engine := conversation.NewEngine(conversation.Options{
		Catalog:        catalog,
		Alerts:         registry,
		Gate:           gate,
		AskDestination: a.Config.Conversation.AskDestination,
		SessionTTL:     a.Config.Conversation.SessionTTL,
		Location:       a.Config.TimeLocation(),
		Currency:       currency,
	}, a.Logger)

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	notifier := alerting.NewMessengerNotifier(chat, catalog, currency, a.Logger)
	svc := a.newService(sched, registry, notifier)

	bot.New(bot.Deps{
		Sender:       chat,
		Registry:     registry,
		Gate:         gate,
		Conversation: engine,
		Checker:      svc,
		Catalog:      catalog,
		Currency:     currency,
	}, a.Logger).Register(chat)

	var healthSrv *health.Server
	if a.Config.Health.Enabled {
		healthSrv = health.NewServer(a.Config.Health.Addr, a.Logger)
		svc.OnTick(func(scheduler.Tick, service.TickSummary) { healthSrv.RecordTick() })
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return chat.Start(gctx)
	})
	g.Go(func() error {
		return svc.Run(gctx)
	})
	if healthSrv != nil {
		g.Go(func() error {
			return healthSrv.Run(gctx)
		})
	}

	a.Logger.Info().
		Str("storage", a.Config.Storage.Driver).
		Dur("interval", sched.Interval()).
		Int("locations", len(catalog.All())).
		Msg("starting fare alert bot")

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("bot terminated with error")
		return err
	}

	a.Logger.Info().Msg("fare alert bot stopped")
	return nil
}

// CheckOptions configure the one-off check command.
type CheckOptions struct {
	Owner  domain.UserID
	Notify bool
}

// ExportOptions configure the alert export.
type ExportOptions struct {
	Path  string
	Owner domain.UserID
}

func requireOwner(owner domain.UserID) error {
	if owner == 0 {
		return fmt.Errorf("--owner is required")
	}
	return nil
}
