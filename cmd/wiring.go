package main

import (
	"fmt"

	"chat-relay/internal/chat"
	"chat-relay/internal/config"
	"chat-relay/internal/infrastructure/database"
	"chat-relay/internal/notify"
	"chat-relay/internal/pkg/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"gorm.io/gorm"
)

const module = "Main"

// openStore connects and migrates the database and wraps it in the session cache.
func openStore(cfg *config.Config, log logger.ILogger) (chat.MessageStore, *gorm.DB, error) {
	db, err := database.Open(cfg.DatabaseDSN, cfg.IsDevelopment())
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		closeDB(db)
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	log.Info(module, "Database ready", nil)
	return database.NewCachedStore(database.NewMessageStore(db), cfg.SessionCacheTTL), db, nil
}

func closeDB(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// newDispatcher builds the operator channels that are configured. Channels that
// fail to initialise are skipped.
func newDispatcher(cfg *config.Config, log logger.ILogger) *notify.Dispatcher {
	var channels []notify.Channel

	if cfg.SMTP.Enabled() {
		channels = append(channels, notify.NewEmailNotifier(
			cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password,
			cfg.SMTP.From, cfg.SMTP.SenderName, cfg.SMTP.To,
		))
	}
	if cfg.Telegram.Enabled() {
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			log.Warn(module, "Telegram bot unavailable, channel disabled", map[string]interface{}{"error": err.Error()})
		} else {
			channels = append(channels, notify.NewTelegramNotifier(bot, cfg.Telegram.ChatID))
		}
	}
	if cfg.Slack.Enabled() {
		channels = append(channels, notify.NewSlackNotifier(cfg.Slack.WebhookURL))
	}

	names := make([]string, 0, len(channels))
	for _, ch := range channels {
		names = append(names, ch.Name())
	}
	log.Info(module, "Notification channels configured", map[string]interface{}{"channels": names})
	return notify.NewDispatcher(log, channels...)
}

func registryOptions(cfg *config.Config) chat.Options {
	return chat.Options{
		WriteTimeout:  cfg.WSWriteTimeout,
		NotifyTimeout: cfg.NotifyTimeout,
		IdleTimeout:   cfg.ActorIdleTimeout,
		SweepInterval: cfg.SweepInterval,
	}
}
