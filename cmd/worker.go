package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"chat-relay/internal/config"
	"chat-relay/internal/infrastructure/kafka"
	"chat-relay/internal/pkg/logger"

	"github.com/spf13/cobra"
)

var errNoBrokers = errors.New("notify-worker: KAFKA_BROKERS is not set")

func newNotifyWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notify-worker",
		Short: "Relay queued visitor notifications to operators",
		Long:  "Consumes KAFKA_NOTIFY_TOPIC and delivers each event to the configured email, Telegram and Slack channels.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()
			if len(cfg.KafkaBrokers) == 0 {
				return errNoBrokers
			}
			log := logger.NewZapLogger(cfg.LogFilePath, cfg.IsProduction())
			defer log.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runNotifyWorker(ctx, cfg, log)
		},
	}
}

func runNotifyWorker(ctx context.Context, cfg *config.Config, log logger.ILogger) error {
	dispatcher := newDispatcher(cfg, log)
	consumer := kafka.NewNotificationConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, cfg.KafkaNotifyTopic, dispatcher, cfg.NotifyTimeout, log)
	defer consumer.Close()

	log.Info(module, "Notification worker started", map[string]interface{}{
		"topic": cfg.KafkaNotifyTopic,
		"group": cfg.KafkaGroupID,
	})
	return consumer.Run(ctx)
}
