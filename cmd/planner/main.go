package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"planner/internal/bot"
	"planner/internal/config"
	"planner/internal/httpapi"
	"planner/internal/logging"
	"planner/internal/notify"
	"planner/internal/repository"
	"planner/internal/service"
)

const (
	reminderJobTimeout = 45 * time.Second
	digestJobTimeout   = 2 * time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// The root logger lets everything through; the global level filters,
	// so a config reload can raise or lower verbosity.
	log := logging.New(zerolog.LevelTraceValue, cfg.LogFormat)
	logging.SetGlobalLevel(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("planner stopped with error")
	}
	log.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	db, err := repository.NewDB(cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	taskRepo := repository.NewTaskRepository(db)
	classRepo := repository.NewClassRepository(db)
	profileRepo := repository.NewProfileRepository(db)
	endpointRepo := repository.NewEndpointRepository(db)

	var push notify.PushSender
	if cfg.PushEnabled() {
		push = notify.NewWebPushSender(notify.WebPushConfig{
			Subscriber:      cfg.VAPIDSubject,
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			TTL:             cfg.PushTTL,
		}, nil)
	} else {
		log.Warn().Msg("VAPID keys not configured, push reminders disabled")
	}

	var (
		botAPI    *tgbotapi.BotAPI
		messenger notify.Messenger
	)
	if cfg.TelegramToken != "" {
		botAPI, err = tgbotapi.NewBotAPI(cfg.TelegramToken)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		log.Info().Str("account", botAPI.Self.UserName).Msg("telegram authorized")
		messenger = notify.NewTelegramMessenger(botAPI)
	} else {
		log.Warn().Msg("TELEGRAM_TOKEN not set, daily digests disabled")
	}

	dispatcher := notify.NewDispatcher(notify.Config{RatePerSec: cfg.PushRatePerSec}, push, messenger, endpointRepo, log)

	reminders := service.NewReminderScheduler(service.ReminderConfig{
		Fallback: cfg.ReminderFallback,
		Workers:  cfg.DispatchWorkers,
	}, taskRepo, endpointRepo, dispatcher, log)
	digests := service.NewDigestScheduler(profileRepo, taskRepo, classRepo, dispatcher, log)

	settingsSvc := service.NewSettingsService(profileRepo, dispatcher, cfg.DefaultDigestTime, cfg.DefaultTimezone)
	taskSvc := service.NewTaskService(taskRepo, classRepo, reminders, log, service.WithTaskLocation(settingsSvc.Location))
	classSvc := service.NewClassService(classRepo, log)
	subscriptionSvc := service.NewSubscriptionService(endpointRepo)

	scheduler := service.NewSchedulerService(cfg.Location(), log)
	if _, err := scheduler.ScheduleInterval(cfg.ReminderInterval, func() {
		jobCtx, cancel := context.WithTimeout(ctx, reminderJobTimeout)
		defer cancel()
		if _, err := reminders.Tick(jobCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("reminder cycle failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule reminders: %w", err)
	}
	if _, err := scheduler.ScheduleInterval(cfg.DigestInterval, func() {
		jobCtx, cancel := context.WithTimeout(ctx, digestJobTimeout)
		defer cancel()
		if _, err := digests.Tick(jobCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("digest cycle failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule digests: %w", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	if logging.ParseLevel(cfg.LogLevel) > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	server := httpapi.NewServer(httpapi.Deps{
		Settings:       settingsSvc,
		Digests:        digests,
		Subscriptions:  subscriptionSvc,
		Tasks:          taskSvc,
		Classes:        classSvc,
		Reminders:      reminders,
		VAPIDPublicKey: cfg.VAPIDPublicKey,
		AllowedOrigin:  cfg.FrontendURL,
	}, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx, cfg.HTTPAddr) })
	if botAPI != nil {
		telegramBot := bot.New(botAPI, settingsSvc, digests, taskSvc, log)
		g.Go(func() error { return telegramBot.Start(gctx) })
	}
	if cfg.File != "" {
		g.Go(func() error {
			return config.Watch(gctx, cfg.File, func(next config.Config) {
				lvl := logging.SetGlobalLevel(next.LogLevel)
				log.Info().Str("level", lvl.String()).Msg("config reloaded")
			}, func(err error) {
				log.Warn().Err(err).Msg("config reload rejected")
			})
		})
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn().Err(err).Msg("systemd notify failed")
	} else if ok {
		log.Debug().Msg("systemd notified ready")
	}
	log.Info().Msg("planner started")

	err = g.Wait()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
