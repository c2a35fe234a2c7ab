package watch

import (
	"context"
	"errors"
	"strings"

	"github.com/mixelka/mailticket/internal/mailbox"
	"github.com/mixelka/mailticket/internal/ticket"
	"github.com/mixelka/mailticket/pkg/models"
)

// resendUnanswered retries the acknowledgement for rewritten copies that
// never got their \Answered flag, using only the copy's own headers: ticket
// id from the subject, recipient from Reply-To / X-Original-Sender, thread
// root from References. Runs at the start of every draining episode.
func (l *Loop) resendUnanswered(ctx context.Context) error {
	uids, err := l.mbox.SearchUnanswered(ctx, l.cfg.Mailbox)
	if err != nil {
		return err
	}

	for _, uid := range uids {
		h, err := l.mbox.FetchHeaders(ctx, l.cfg.Mailbox, uid)
		if err != nil {
			if errors.Is(err, mailbox.ErrNotConnected) {
				return err
			}
			l.logger.Warn("unanswered sweep: fetch failed", "uid", uid, "error", err)
			continue
		}

		id, original, ok := ticket.SubjectTicketID(h.Subject)
		if !ok {
			// SUBJECT search matches substrings; not one of ours.
			continue
		}
		// Only rewritten copies carry X-Original-Sender. An inbound message
		// that merely looks ticketed is a continuation, not a pending ack.
		if h.XOriginalSender == "" {
			continue
		}

		to := h.ReplyTo
		if to == "" {
			to = h.XOriginalSender
		}
		root := ""
		if len(h.References) > 0 {
			root = h.References[0]
		} else if len(h.InReplyTo) > 0 {
			root = h.InReplyTo[0]
		}

		var raw []byte
		if strings.Contains(l.cfg.ReplyTemplate, "{excerpt}") {
			// The copy's body is the original body, good enough for the
			// excerpt.
			raw, _ = l.mbox.FetchRaw(ctx, l.cfg.Mailbox, uid)
		}

		ack := mailbox.Ack{
			To:        to,
			Subject:   h.Subject,
			Body:      l.renderReply(id, original, raw),
			InReplyTo: root,
		}
		if err := l.mailer.Send(ctx, ack); err != nil {
			l.logger.Warn("acknowledgement resend failed", "ticket", id, "error", err)
			continue
		}
		l.logger.Info("acknowledgement sent", "ticket", id, "to", to)
		l.recordEvent(ctx, id, models.EventAcked, to)

		if err := l.mbox.MarkAnswered(ctx, l.cfg.Mailbox, uid); err != nil {
			l.logger.Warn("failed to mark answered", "ticket", id, "error", err)
		}
	}
	return nil
}

// requeueOrphans returns archived originals that never got a rewritten inbox
// copy back to the inbox, where the normal pipeline picks them up again. The
// loop's own write order cannot produce such a state; this covers operator
// mistakes and interrupted runs of other tooling.
func (l *Loop) requeueOrphans(ctx context.Context) error {
	uids, err := l.mbox.ListSince(ctx, l.cfg.ArchiveFolder, l.archiveWatermark)
	if err != nil {
		return err
	}

	for _, uid := range uids {
		h, err := l.mbox.FetchHeaders(ctx, l.cfg.ArchiveFolder, uid)
		if err != nil {
			if errors.Is(err, mailbox.ErrNotConnected) {
				return err
			}
			l.logger.Warn("orphan sweep: fetch failed", "uid", uid, "error", err)
			l.archiveWatermark = uid
			continue
		}
		if h.MessageID == "" {
			l.archiveWatermark = uid
			continue
		}

		ticketed, err := l.ticketedCopyReferences(ctx, h.MessageID)
		if err != nil {
			return err
		}
		inInbox, err := l.inboxHolds(ctx, h.MessageID)
		if err != nil {
			return err
		}

		// Orphan only when the conversation left no trace in the inbox: no
		// rewritten copy and no original still waiting to be processed.
		if !ticketed && !inInbox {
			l.logger.Info("requeueing orphaned archive copy", "uid", uid, "message_id", h.MessageID)
			if err := l.mbox.Move(ctx, l.cfg.ArchiveFolder, uid, l.cfg.Mailbox); err != nil {
				return err
			}
			l.recordEvent(ctx, 0, models.EventRequeued, h.MessageID)
			continue
		}
		l.archiveWatermark = uid
	}
	return nil
}

// ticketedCopyReferences reports whether the inbox holds a rewritten copy
// whose References name the given Message-ID
func (l *Loop) ticketedCopyReferences(ctx context.Context, messageID string) (bool, error) {
	uids, err := l.mbox.SearchHeader(ctx, l.cfg.Mailbox, "References", messageID)
	if err != nil {
		return false, err
	}
	for _, uid := range uids {
		h, err := l.mbox.FetchHeaders(ctx, l.cfg.Mailbox, uid)
		if err != nil {
			continue
		}
		if _, _, ok := ticket.SubjectTicketID(h.Subject); ok {
			return true, nil
		}
	}
	return false, nil
}

// inboxHolds reports whether the inbox still holds a message with the given
// Message-ID
func (l *Loop) inboxHolds(ctx context.Context, messageID string) (bool, error) {
	uids, err := l.mbox.SearchHeader(ctx, l.cfg.Mailbox, "Message-Id", messageID)
	if err != nil {
		return false, err
	}
	return len(uids) > 0, nil
}
