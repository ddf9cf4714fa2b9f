package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/seujia/storefront/internal/logging"
	"github.com/seujia/storefront/internal/notify"
	"github.com/seujia/storefront/pkg/config"
)

// The notifier drains the e-mail topic and delivers each message over SMTP.
func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		logging.Setup("notifier", "info", "console")
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logging.Setup("notifier", cfg.App.LogLevel, cfg.App.LogFormat)

	if len(cfg.Kafka.Brokers) == 0 {
		log.Fatal().Msg("KAFKA_BROKERS is required")
	}
	if cfg.SMTP.User == "" {
		log.Fatal().Msg("SMTP_USER is required")
	}

	mailer := notify.NewSMTPMailer(notify.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.User,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	})
	relay := notify.NewRelay(cfg.Kafka.Brokers, cfg.Kafka.EmailTopic, cfg.Kafka.GroupID, mailer, cfg.Checkout.NotifyTimeout)
	defer relay.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.EmailTopic).Msg("Notifier starting...")
	if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Relay stopped unexpectedly")
	}
	log.Info().Msg("Notifier stopped")
}
