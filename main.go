package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"github.com/wxt2005/image-command-bot-go/config"
	"github.com/wxt2005/image-command-bot-go/controller"
	"github.com/wxt2005/image-command-bot-go/service"
	"github.com/wxt2005/image-command-bot-go/store"
	"github.com/wxt2005/image-command-bot-go/supervisor"
	"github.com/wxt2005/image-command-bot-go/transform"
)

func setupLogging(cfg config.Log) (io.Closer, error) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	env := os.Getenv("ENV")
	if env == "DEBUG" || env == "LOCAL" {
		level = log.DebugLevel
	}
	log.SetLevel(level)

	tgbotapi.SetLogger(log.WithField("component", "tgbotapi"))

	if cfg.File == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	log.SetOutput(io.MultiWriter(os.Stdout, f))
	return f, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load config")
	}

	logFile, err := setupLogging(cfg.Log)
	if err != nil {
		log.WithError(err).Fatal("Failed to set up logging")
	}
	if logFile != nil {
		defer logFile.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	images, err := store.New(ctx, cfg.Store)
	if err != nil {
		log.WithFields(log.Fields{
			"store": cfg.Store.Type,
			"error": err,
		}).Fatal("Failed to init image store")
	}
	defer images.Close()

	registry := transform.Default()
	opts := controller.Options{
		Workers:   cfg.Router.Workers,
		QueueSize: cfg.Router.QueueSize,
	}

	sv := supervisor.New(cfg.Supervisor.RestartDelay, func(ctx context.Context) error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		transport, err := service.NewTelegramService(ctx, cfg.Telegram)
		if err != nil {
			return err
		}
		return controller.NewRouter(transport, images, registry, opts).Run(ctx)
	})

	log.Info("Start")
	_ = sv.Run(ctx)
	log.Info("Finish")
}
