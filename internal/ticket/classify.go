// Package ticket implements conversation classification, ticket assignment
// and the exclusion policy. Everything here is derived from message headers;
// no state outside the mailbox is consulted.
package ticket

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/mixelka/mailticket/internal/mailbox"
)

// Decision is the classification of an inbound message.
type Decision int

const (
	// NewConversation starts a ticket.
	NewConversation Decision = iota
	// Continuation belongs to an existing conversation and is left alone.
	Continuation
)

func (d Decision) String() string {
	if d == Continuation {
		return "continuation"
	}
	return "new_conversation"
}

// NoSubject is rendered in place of an empty original subject.
const NoSubject = "(no subject)"

// Accepts any digit width and arbitrary casing of the marker.
var subjectPattern = regexp.MustCompile(`(?i)^\s*ticket\s+(\d+)\s*:\s?(.*)$`)

// SubjectTicketID parses a rewritten subject. It returns the ticket id and
// the original subject, or ok=false when the subject carries no ticket marker.
func SubjectTicketID(subject string) (id uint32, original string, ok bool) {
	m := subjectPattern.FindStringSubmatch(subject)
	if m == nil {
		return 0, "", false
	}
	n, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		return 0, "", false
	}
	return uint32(n), strings.TrimSpace(m[2]), true
}

// RenderSubject produces the wire-visible rewritten subject for a ticket.
func RenderSubject(id uint32, original string) string {
	original = cleanSubject(original)
	if original == "" {
		original = NoSubject
	}
	return fmt.Sprintf("Ticket %d: %s", id, original)
}

// cleanSubject removes line breaks and collapses the whitespace a folded or
// malformed header can carry.
func cleanSubject(s string) string {
	s = strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// Classify decides whether a message starts a new conversation.
//
// A message continues an existing conversation when its subject already
// carries the ticket marker (a client may copy the rewritten subject into a
// fresh message), or when it references another message via In-Reply-To or
// References. The reference check does not resolve the referenced id against
// the mailbox: any reply is treated as part of a conversation, which can
// never re-ticket a genuine reply at the cost of never ticketing a reply to
// an outside thread.
func Classify(h *mailbox.Headers) Decision {
	if _, _, ok := SubjectTicketID(h.Subject); ok {
		return Continuation
	}
	if len(h.InReplyTo) > 0 || len(h.References) > 0 {
		return Continuation
	}
	return NewConversation
}
