package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"chat-relay/internal/chat"
	"chat-relay/internal/config"
	"chat-relay/internal/delivery"
	"chat-relay/internal/infrastructure/kafka"
	"chat-relay/internal/infrastructure/redis"
	"chat-relay/internal/metrics"
	"chat-relay/internal/pkg/logger"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var embeddedWorker bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the WebSocket and HTTP server",
		Long: `Runs the chat relay server.

When KAFKA_BROKERS is set, visitor notifications are queued on Kafka and, unless
--embedded-worker=false, consumed by a worker running in the same process.
Without Kafka they are sent to the operator channels directly.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()
			log := logger.NewZapLogger(cfg.LogFilePath, cfg.IsProduction())
			defer log.Sync()
			return runServe(cfg, log, embeddedWorker)
		},
	}

	cmd.Flags().BoolVar(&embeddedWorker, "embedded-worker", true, "consume the Kafka notification topic in this process")
	return cmd
}

func runServe(cfg *config.Config, log logger.ILogger, embeddedWorker bool) error {
	log.Info(module, "Starting chat relay", map[string]interface{}{
		"environment": cfg.Environment,
		"port":        cfg.Port,
		"instance":    cfg.InstanceID,
		"cors":        cfg.GetCORSOrigins(),
	})
	metrics.MustRegister()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A failed database leaves the site up with every chat endpoint answering 503.
	var registry *chat.Registry
	store, db, err := openStore(cfg, log)
	if err != nil {
		log.Error(module, "Message store unavailable, chat disabled", map[string]interface{}{"error": err})
	} else {
		defer closeDB(db)

		dispatcher := newDispatcher(cfg, log)
		var notifier chat.Notifier
		if dispatcher.Channels() > 0 {
			notifier = dispatcher
		}

		if len(cfg.KafkaBrokers) > 0 {
			producer := kafka.NewNotificationProducer(cfg.KafkaBrokers, cfg.KafkaNotifyTopic)
			defer producer.Close()
			notifier = producer

			if embeddedWorker {
				consumer := kafka.NewNotificationConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, cfg.KafkaNotifyTopic, dispatcher, cfg.NotifyTimeout, log)
				defer consumer.Close()
				go func() {
					if err := consumer.Run(ctx); err != nil {
						log.Error(module, "Notification worker stopped", map[string]interface{}{"error": err})
					}
				}()
			}
		}

		registry = chat.NewRegistry(store, notifier, log, registryOptions(cfg))

		if cfg.RedisEnabled {
			redisClient := redis.NewRedisClient(cfg.RedisHost, cfg.RedisPort, cfg.RedisPassword)
			defer redisClient.Close()
			if err := redisClient.Ping(ctx); err != nil {
				log.Warn(module, "Redis connection failed, session leases disabled", map[string]interface{}{"error": err.Error()})
			} else {
				registry.WithCoordinator(redis.NewLeaseCoordinator(redisClient, cfg.InstanceID, cfg.LeaseTTL))
				log.Info(module, "Session leases enabled", map[string]interface{}{"ttl": cfg.LeaseTTL.String()})
			}
		}

		if err := registry.Start(); err != nil {
			return err
		}
		defer registry.Close()
	}

	server := delivery.NewServer(cfg, registry, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			log.Info(module, "Shutting down", nil)
			cancel()
			if err := server.Shutdown(); err != nil {
				log.Warn(module, "Error shutting down server", map[string]interface{}{"error": err.Error()})
			}
		case <-ctx.Done():
		}
	}()

	return server.Start()
}
