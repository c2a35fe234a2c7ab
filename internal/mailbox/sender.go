package mailbox

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// Ack is an outbound acknowledgement message.
type Ack struct {
	To        string
	ToName    string
	Subject   string
	Body      string
	InReplyTo string // Message-ID of the conversation root, without brackets
}

// SenderConfig configuration for the SMTP sender
type SenderConfig struct {
	Server           string // host:port, implicit TLS
	Username         string // also the From address
	Password         string
	DialTimeout      time.Duration
	OperationTimeout time.Duration // deadline per SMTP command and submission
}

// Sender sends acknowledgement replies. A fresh SMTP session is opened per
// send; sends are rare enough that connection reuse buys nothing.
type Sender struct {
	config SenderConfig
	logger *slog.Logger
}

// NewSender creates a new SMTP sender
func NewSender(cfg SenderConfig, logger *slog.Logger) *Sender {
	return &Sender{
		config: cfg,
		logger: logger.With("component", "sender", "server", cfg.Server),
	}
}

// Send composes and sends one acknowledgement
func (s *Sender) Send(ctx context.Context, ack Ack) error {
	raw, err := composeAck(s.config.Username, ack)
	if err != nil {
		return fmt.Errorf("failed to compose reply: %w", err)
	}

	timeout := s.config.DialTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", s.config.Server, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	c := smtp.NewClient(conn)
	defer c.Close()

	// Bound AUTH and submission too, not just the dial; a dead peer must
	// surface as a SendError, not a hung loop.
	opTimeout := s.config.OperationTimeout
	if opTimeout == 0 {
		opTimeout = 30 * time.Second
	}
	c.CommandTimeout = opTimeout
	c.SubmissionTimeout = opTimeout

	if err := c.Auth(sasl.NewPlainClient("", s.config.Username, s.config.Password)); err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}
	if err := c.SendMail(s.config.Username, []string{ack.To}, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("failed to send: %w", err)
	}
	if err := c.Quit(); err != nil {
		s.logger.Debug("SMTP quit failed", "error", err)
	}

	s.logger.Info("acknowledgement sent", "to", ack.To, "subject", ack.Subject)
	return nil
}

func composeAck(from string, ack Ack) ([]byte, error) {
	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	h.SetAddressList("To", []*mail.Address{{Name: ack.ToName, Address: ack.To}})
	h.SetSubject(ack.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, err
	}
	if ack.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{ack.InReplyTo})
		h.SetMsgIDList("References", []string{ack.InReplyTo})
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, ack.Body); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
