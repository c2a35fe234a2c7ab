// Package watch drives the mailbox event loop: wait for changes, drain newly
// arrived messages through classification, ticketing, archival and
// acknowledgement, and reconnect forever on connection trouble.
//
// All recovery is derived from mailbox content. A rewritten copy is found by
// the References it keeps to the original Message-ID, an archived original by
// its Message-ID in the archive folder, and a pending acknowledgement by the
// absence of the \Answered flag on the rewritten copy. Re-running any prefix
// of the mutation sequence therefore converges without duplicates.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mixelka/mailticket/internal/mailbox"
	"github.com/mixelka/mailticket/internal/notify"
	"github.com/mixelka/mailticket/internal/parser"
	"github.com/mixelka/mailticket/internal/ticket"
	"github.com/mixelka/mailticket/pkg/models"
)

// Mailbox is the connection contract consumed by the loop. *mailbox.Client
// implements it; tests use an in-memory fake.
type Mailbox interface {
	Connect(ctx context.Context) error
	WaitForChange(ctx context.Context, folder string) (mailbox.WaitResult, error)
	ListSince(ctx context.Context, folder string, watermark uint32) ([]uint32, error)
	FetchHeaders(ctx context.Context, folder string, uid uint32) (*mailbox.Headers, error)
	FetchRaw(ctx context.Context, folder string, uid uint32) ([]byte, error)
	Append(ctx context.Context, folder string, raw []byte) error
	Delete(ctx context.Context, folder string, uid uint32) error
	Move(ctx context.Context, folder string, uid uint32, dest string) error
	SearchHeader(ctx context.Context, folder, field, value string) ([]uint32, error)
	SearchUnanswered(ctx context.Context, folder string) ([]uint32, error)
	MarkAnswered(ctx context.Context, folder string, uid uint32) error
	Disconnect()
}

// Mailer sends acknowledgement replies
type Mailer interface {
	Send(ctx context.Context, ack mailbox.Ack) error
}

// Journal is the optional audit trail. Never read by the loop.
type Journal interface {
	RecordTicket(ctx context.Context, rec *models.TicketRecord) error
	RecordEvent(ctx context.Context, ticketID uint32, kind, detail string) error
}

// Config loop parameters
type Config struct {
	Mailbox       string // watched folder
	ArchiveFolder string
	Account       string // own address, To of rewritten copies
	ReplyTemplate string
	ExcerptLimit  int
	MaxBackoff    time.Duration
}

// Loop is the watch loop. One loop owns one mailbox session and one mailer;
// processing is strictly sequential in ascending UID order.
type Loop struct {
	mbox       Mailbox
	mailer     Mailer
	exclusions *ticket.Exclusions
	journal    Journal
	notifier   *notify.Notifier
	html       *parser.HTMLParser
	cfg        Config
	logger     *slog.Logger

	// watermarks are in-memory hints only; they reset on reconnect and
	// correctness never depends on them.
	watermark        uint32
	archiveWatermark uint32
}

// New creates a watch loop
func New(mbox Mailbox, mailer Mailer, exclusions *ticket.Exclusions, cfg Config, logger *slog.Logger) *Loop {
	return &Loop{
		mbox:       mbox,
		mailer:     mailer,
		exclusions: exclusions,
		html:       parser.NewHTMLParser(),
		cfg:        cfg,
		logger:     logger.With("component", "watch"),
	}
}

// SetJournal attaches the optional audit journal
func (l *Loop) SetJournal(j Journal) { l.journal = j }

// SetNotifier attaches the optional operator notifier
func (l *Loop) SetNotifier(n *notify.Notifier) { l.notifier = n }

// Run runs until ctx is cancelled. Connection errors never escape; the loop
// backs off and reconnects indefinitely.
func (l *Loop) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = l.cfg.MaxBackoff
	if bo.MaxInterval == 0 {
		bo.MaxInterval = 2 * time.Minute
	}
	bo.MaxElapsedTime = 0 // retry forever

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := l.mbox.Connect(ctx); err != nil {
			l.logger.Error("failed to connect", "error", err)
			l.notifier.ConnectionTrouble(ctx, err)
			if !sleepCtx(ctx, bo.NextBackOff()) {
				return ctx.Err()
			}
			continue
		}
		bo.Reset()

		err := l.session(ctx)
		if ctx.Err() != nil {
			l.mbox.Disconnect()
			return ctx.Err()
		}

		l.logger.Warn("connection error, reconnecting", "error", err)
		l.notifier.ConnectionTrouble(ctx, err)
		l.mbox.Disconnect()
		// Do not assume nothing was missed while disconnected.
		l.watermark = 0
		l.archiveWatermark = 0

		if !sleepCtx(ctx, bo.NextBackOff()) {
			return ctx.Err()
		}
	}
}

// session alternates between draining and idling until the connection fails
// or ctx is cancelled.
func (l *Loop) session(ctx context.Context) error {
	for {
		if err := l.drain(ctx); err != nil {
			return err
		}
		// Timed-out waits drain anyway: the re-enumeration is cheap and
		// doubles as a liveness probe.
		if _, err := l.mbox.WaitForChange(ctx, l.cfg.Mailbox); err != nil {
			return err
		}
	}
}

// drain processes everything that arrived since the watermark, preceded by
// the two recovery sweeps. Returned errors are connection-level; per-message
// trouble is logged and retried on the next pass.
func (l *Loop) drain(ctx context.Context) error {
	if err := l.resendUnanswered(ctx); err != nil {
		return err
	}
	if err := l.requeueOrphans(ctx); err != nil {
		return err
	}

	uids, err := l.mbox.ListSince(ctx, l.cfg.Mailbox, l.watermark)
	if err != nil {
		return err
	}

	stalled := false
	for _, uid := range uids {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := l.process(ctx, uid)
		switch {
		case err == nil:
			if !stalled {
				l.watermark = uid
			}
		case isRetryable(err):
			// Leave the message in place; re-enumerated next pass. The
			// watermark stalls here so it cannot be skipped.
			l.logger.Warn("message left for retry", "uid", uid, "error", err)
			stalled = true
		default:
			return err
		}
	}
	return nil
}

// transientError marks a single-message failure that must not abort the
// draining episode.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var te *transientError
	var ae *ticket.AssignmentError
	return errors.As(err, &te) || errors.As(err, &ae)
}

// process runs one message through the classification and ticketing pipeline
func (l *Loop) process(ctx context.Context, uid uint32) error {
	h, err := l.mbox.FetchHeaders(ctx, l.cfg.Mailbox, uid)
	if err != nil {
		if errors.Is(err, mailbox.ErrNotConnected) {
			return err
		}
		return &transientError{err: fmt.Errorf("fetch headers: %w", err)}
	}

	log := l.logger.With("uid", uid, "sender", h.FromAddr)

	if l.exclusions.Excluded(h.FromAddr) {
		log.Info("sender excluded, skipping")
		return nil
	}
	if ticket.Classify(h) == ticket.Continuation {
		log.Debug("continuation, skipping")
		return nil
	}

	log.Info("new conversation", "subject", h.Subject)
	return l.ticketMessage(ctx, h)
}

// ticketMessage performs the idempotent ticketing sequence: rewritten copy
// into the inbox, original into the archive, delete original, acknowledge.
// Each step checks mailbox state first, so a rerun after a partial failure
// picks up where the previous attempt stopped.
func (l *Loop) ticketMessage(ctx context.Context, h *mailbox.Headers) error {
	// Once mutation starts the sequence runs to completion even during
	// shutdown; a message is never left between archive and delete because
	// of ctx cancellation.
	mctx := context.WithoutCancel(ctx)

	copyExists, err := l.rewrittenCopyExists(mctx, h)
	if err != nil {
		return err
	}

	var raw []byte
	var asg *ticket.Assignment

	if !copyExists {
		raw, err = l.mbox.FetchRaw(mctx, l.cfg.Mailbox, h.UID)
		if err != nil {
			if errors.Is(err, mailbox.ErrNotConnected) {
				return err
			}
			return &transientError{err: fmt.Errorf("fetch raw: %w", err)}
		}

		asg, err = ticket.Assign(h, raw, l.cfg.Account)
		if err != nil {
			return err
		}
		if err := l.mbox.Append(mctx, l.cfg.Mailbox, asg.Raw); err != nil {
			return err
		}
		l.logger.Info("ticket assigned", "ticket", asg.TicketID, "subject", asg.Subject)
		l.recordTicket(mctx, asg, h)
		l.notifier.TicketCreated(mctx, asg.TicketID, h.FromAddr, h.Subject)
	}

	archived, err := l.archivedCopyExists(mctx, h)
	if err != nil {
		return err
	}
	if !archived {
		if raw == nil {
			raw, err = l.mbox.FetchRaw(mctx, l.cfg.Mailbox, h.UID)
			if err != nil {
				return err
			}
		}
		if err := l.mbox.Append(mctx, l.cfg.ArchiveFolder, raw); err != nil {
			return err
		}
		l.recordEvent(mctx, h.UID, models.EventArchived, h.MessageID)
	}

	if err := l.mbox.Delete(mctx, l.cfg.Mailbox, h.UID); err != nil {
		return err
	}

	// The acknowledgement for a recovered copy is owned by the unanswered
	// sweep; sending it here as well would double up.
	if asg != nil {
		l.acknowledge(mctx, asg, h, raw)
	}
	return nil
}

// acknowledge sends the auto-reply and marks the rewritten copy \Answered.
// Failures are not propagated: the conversation is already ticketed and the
// unanswered sweep retries the send on the next pass.
func (l *Loop) acknowledge(ctx context.Context, asg *ticket.Assignment, h *mailbox.Headers, raw []byte) {
	ack := mailbox.Ack{
		To:        h.FromAddr,
		ToName:    h.FromName,
		Subject:   asg.Subject,
		Body:      l.renderReply(asg.TicketID, h.Subject, raw),
		InReplyTo: asg.OriginalMessageID,
	}
	if err := l.mailer.Send(ctx, ack); err != nil {
		l.logger.Warn("acknowledgement send failed, will retry", "ticket", asg.TicketID, "error", err)
		return
	}
	l.recordEvent(ctx, asg.TicketID, models.EventAcked, ack.To)

	uids, err := l.mbox.SearchHeader(ctx, l.cfg.Mailbox, "Message-Id", asg.NewMessageID)
	if err != nil || len(uids) == 0 {
		l.logger.Warn("cannot locate rewritten copy to mark answered", "ticket", asg.TicketID, "error", err)
		return
	}
	if err := l.mbox.MarkAnswered(ctx, l.cfg.Mailbox, uids[0]); err != nil {
		l.logger.Warn("failed to mark answered", "ticket", asg.TicketID, "error", err)
	}
}

// rewrittenCopyExists reports whether the inbox already holds a ticketed copy
// of the message, identified by a References entry naming the original
// Message-ID plus a ticket marker carrying the original's UID.
func (l *Loop) rewrittenCopyExists(ctx context.Context, h *mailbox.Headers) (bool, error) {
	if h.MessageID == "" {
		return false, nil
	}
	uids, err := l.mbox.SearchHeader(ctx, l.cfg.Mailbox, "References", h.MessageID)
	if err != nil {
		return false, err
	}
	for _, uid := range uids {
		if uid == h.UID {
			continue
		}
		ch, err := l.mbox.FetchHeaders(ctx, l.cfg.Mailbox, uid)
		if err != nil {
			continue
		}
		if id, _, ok := ticket.SubjectTicketID(ch.Subject); ok && id == h.UID {
			return true, nil
		}
	}
	return false, nil
}

// archivedCopyExists reports whether the archive already holds the original
func (l *Loop) archivedCopyExists(ctx context.Context, h *mailbox.Headers) (bool, error) {
	if h.MessageID == "" {
		return false, nil
	}
	uids, err := l.mbox.SearchHeader(ctx, l.cfg.ArchiveFolder, "Message-Id", h.MessageID)
	if err != nil {
		return false, err
	}
	return len(uids) > 0, nil
}

func (l *Loop) renderReply(ticketID uint32, subject string, raw []byte) string {
	excerpt := ""
	if strings.Contains(l.cfg.ReplyTemplate, "{excerpt}") {
		excerpt = parser.Excerpt(l.html, raw, l.cfg.ExcerptLimit)
	}
	if subject == "" {
		subject = ticket.NoSubject
	}
	return strings.NewReplacer(
		"{ticket_id}", fmt.Sprintf("%d", ticketID),
		"{subject}", subject,
		"{excerpt}", excerpt,
	).Replace(l.cfg.ReplyTemplate)
}

func (l *Loop) recordTicket(ctx context.Context, asg *ticket.Assignment, h *mailbox.Headers) {
	if l.journal == nil {
		return
	}
	rec := &models.TicketRecord{
		TicketID:  asg.TicketID,
		MessageID: h.MessageID,
		Sender:    h.FromAddr,
		Subject:   h.Subject,
	}
	if err := l.journal.RecordTicket(ctx, rec); err != nil {
		l.logger.Warn("journal write failed", "error", err)
		return
	}
	l.recordEvent(ctx, asg.TicketID, models.EventTicketed, asg.Subject)
}

func (l *Loop) recordEvent(ctx context.Context, ticketID uint32, kind, detail string) {
	if l.journal == nil {
		return
	}
	if err := l.journal.RecordEvent(ctx, ticketID, kind, detail); err != nil {
		l.logger.Warn("journal write failed", "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
