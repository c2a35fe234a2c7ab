package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/mixelka/mailticket/internal/config"
	"github.com/mixelka/mailticket/internal/journal"
	"github.com/mixelka/mailticket/internal/mailbox"
	"github.com/mixelka/mailticket/internal/notify"
	"github.com/mixelka/mailticket/internal/ticket"
	"github.com/mixelka/mailticket/internal/watch"
)

func main() {
	// Load configuration; misconfiguration is the only fatal error class
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting mailticket daemon", "account", cfg.Username)

	imapServer := cfg.IMAPServer
	if imapServer == "" {
		imapServer, err = mailbox.ResolveIMAPServer(cfg.Username)
		if err != nil {
			logger.Error("failed to resolve IMAP server", "error", err)
			os.Exit(1)
		}
		logger.Info("autodiscovered IMAP server", "server", imapServer)
	}

	client := mailbox.NewClient(mailbox.ClientConfig{
		Username:         cfg.Username,
		Password:         cfg.Password,
		Server:           imapServer,
		IdleTimeout:      cfg.IdleTimeout,
		DialTimeout:      cfg.DialTimeout,
		OperationTimeout: cfg.OperationTimeout,
		PollInterval:     cfg.PollInterval,
	}, logger)

	sender := mailbox.NewSender(mailbox.SenderConfig{
		Server:           cfg.SMTPServer,
		Username:         cfg.Username,
		Password:         cfg.Password,
		DialTimeout:      cfg.DialTimeout,
		OperationTimeout: cfg.OperationTimeout,
	}, logger)

	exclusions := ticket.NewExclusions(cfg.ExcludedSenders, cfg.SuppressAll)

	loop := watch.New(client, sender, exclusions, watch.Config{
		Mailbox:       cfg.Mailbox,
		ArchiveFolder: cfg.ArchiveFolder,
		Account:       cfg.Username,
		ReplyTemplate: cfg.ReplyTemplate,
		ExcerptLimit:  cfg.ExcerptLimit,
		MaxBackoff:    cfg.MaxBackoff,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.JournalPath != "" {
		db, err := journal.New(cfg.JournalPath)
		if err != nil {
			logger.Error("failed to open journal", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			logger.Error("failed to run journal migrations", "error", err)
			os.Exit(1)
		}
		loop.SetJournal(db)
		logger.Info("journal enabled", "path", cfg.JournalPath)
	}

	if cfg.NotifyEnabled() {
		notifier, err := notify.New(cfg.TelegramToken, cfg.TelegramChatID, logger)
		if err != nil {
			logger.Error("failed to create notifier", "error", err)
			os.Exit(1)
		}
		loop.SetNotifier(notifier)
		logger.Info("operator notifications enabled", "chat_id", cfg.TelegramChatID)
	}

	// Verify credentials and folders before entering the loop: bad
	// configuration should fail fast, not retry forever.
	if err := client.Connect(ctx); err != nil {
		logger.Error("startup connection failed", "error", err)
		os.Exit(1)
	}
	if err := client.Select(ctx, cfg.Mailbox); err != nil {
		logger.Error("failed to select mailbox", "mailbox", cfg.Mailbox, "error", err)
		os.Exit(1)
	}
	if err := client.Select(ctx, cfg.ArchiveFolder); err != nil {
		logger.Error("archive folder unavailable", "folder", cfg.ArchiveFolder, "error", err)
		os.Exit(1)
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	logger.Info("watching mailbox", "mailbox", cfg.Mailbox, "archive", cfg.ArchiveFolder)
	if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("watch loop failed", "error", err)
		os.Exit(1)
	}

	client.Close()
	logger.Info("stopped")
}

func setupLogger(level, format string) *slog.Logger {
	var handler slog.Handler
	logLevel := parseLevel(level)

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		})
	} else {
		// Pretty colored output for console
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.DateTime,
		})
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
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
