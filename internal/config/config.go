package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DefaultReplyTemplate is the acknowledgement body used when no template is
// configured. Placeholders: {ticket_id}, {subject}, {excerpt}.
const DefaultReplyTemplate = "Thank you for your message! We have received it. " +
	"You will get a response within 24 hours.\n\nYour ticket number: {ticket_id}"

// Config application configuration
type Config struct {
	// Mail account
	IMAPServer string `env:"IMAP_SERVER"`             // host:port; autodiscovered when empty
	SMTPServer string `env:"SMTP_SERVER,required"`    // host:port, implicit TLS
	Username   string `env:"MAIL_USERNAME,required"`  // also the account address
	Password   string `env:"MAIL_PASSWORD,required"`

	// Folders
	Mailbox       string `env:"MAILBOX" envDefault:"INBOX"`
	ArchiveFolder string `env:"ARCHIVE_FOLDER" envDefault:"Originals"`

	// Ticketing
	ExcludedSenders []string `env:"EXCLUDED_SENDERS" envSeparator:","`
	SuppressAll     bool     `env:"SUPPRESS_ALL" envDefault:"false"`
	ReplyTemplate   string   `env:"REPLY_TEMPLATE"`
	ExcerptLimit    int      `env:"EXCERPT_LIMIT" envDefault:"0"`

	// Timing
	IdleTimeout      time.Duration `env:"IMAP_IDLE_TIMEOUT" envDefault:"25m"`
	DialTimeout      time.Duration `env:"DIAL_TIMEOUT" envDefault:"30s"`
	OperationTimeout time.Duration `env:"OPERATION_TIMEOUT" envDefault:"30s"` // deadline per network command
	PollInterval     time.Duration `env:"POLL_INTERVAL" envDefault:"1m"`
	MaxBackoff       time.Duration `env:"MAX_BACKOFF" envDefault:"2m"`

	// Audit journal (optional, empty path disables)
	JournalPath string `env:"JOURNAL_PATH" envDefault:"./data/ticketd.db"`

	// Operator notifications (optional)
	TelegramToken  string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID int64  `env:"TELEGRAM_CHAT_ID"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
}

// NotifyEnabled returns true if the Telegram operator notifier is configured
func (c *Config) NotifyEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != 0
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if !strings.Contains(cfg.Username, "@") {
		return nil, fmt.Errorf("MAIL_USERNAME must be a full address, got %q", cfg.Username)
	}
	if cfg.Mailbox == cfg.ArchiveFolder {
		return nil, fmt.Errorf("ARCHIVE_FOLDER must differ from MAILBOX (%q)", cfg.Mailbox)
	}
	if cfg.ReplyTemplate == "" {
		cfg.ReplyTemplate = DefaultReplyTemplate
	}

	return cfg, nil
}
