package ticket

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/mixelka/mailticket/internal/mailbox"
)

const account = "support@example.com"

func sampleRaw(from, subject, messageID, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", account)
	if subject != "" {
		fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	}
	if messageID != "" {
		fmt.Fprintf(&b, "Message-Id: <%s>\r\n", messageID)
	}
	b.WriteString("Date: Mon, 02 Jan 2006 15:04:05 -0700\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

func parseRaw(t *testing.T, uid uint32, raw []byte) *mailbox.Headers {
	t.Helper()
	h, err := mailbox.ParseHeaders(uid, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ParseHeaders: %v", err)
	}
	return h
}

func TestAssign(t *testing.T) {
	body := "Hello,\r\n\r\nsomething is broken.\r\n"
	raw := sampleRaw("Alice <alice@example.com>", "Need help", "orig-1@example.com", body)
	h := parseRaw(t, 4821, raw)

	asg, err := Assign(h, raw, account)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}

	if asg.TicketID != 4821 {
		t.Errorf("TicketID = %d, want 4821", asg.TicketID)
	}
	if asg.Subject != "Ticket 4821: Need help" {
		t.Errorf("Subject = %q", asg.Subject)
	}
	if asg.OriginalMessageID != "orig-1@example.com" {
		t.Errorf("OriginalMessageID = %q", asg.OriginalMessageID)
	}
	if asg.NewMessageID == "" || asg.NewMessageID == asg.OriginalMessageID {
		t.Errorf("NewMessageID = %q, want fresh id", asg.NewMessageID)
	}
	if !bytes.HasSuffix(asg.Raw, []byte(body)) {
		t.Error("body bytes were not preserved")
	}

	rh := parseRaw(t, 9999, asg.Raw)
	if rh.Subject != "Ticket 4821: Need help" {
		t.Errorf("rewritten subject = %q", rh.Subject)
	}
	if rh.MessageID != asg.NewMessageID {
		t.Errorf("rewritten Message-ID = %q, want %q", rh.MessageID, asg.NewMessageID)
	}
	if rh.To != account {
		t.Errorf("rewritten To = %q, want %q", rh.To, account)
	}
	if rh.ReplyTo != "alice@example.com" {
		t.Errorf("rewritten Reply-To = %q", rh.ReplyTo)
	}
	if rh.XOriginalSender != "alice@example.com" {
		t.Errorf("rewritten X-Original-Sender = %q", rh.XOriginalSender)
	}
	if rh.FromAddr != "alice@example.com" {
		t.Errorf("rewritten From = %q, original sender must be preserved", rh.FromAddr)
	}
	if len(rh.References) != 1 || rh.References[0] != "orig-1@example.com" {
		t.Errorf("rewritten References = %v, want the original Message-ID", rh.References)
	}

	// Round-trip: the rewritten copy and any reply threading off it must
	// classify as continuations.
	if Classify(rh) != Continuation {
		t.Error("rewritten copy classified as NewConversation")
	}
}

func TestAssignEmptySubject(t *testing.T) {
	raw := sampleRaw("alice@example.com", "", "orig-2@example.com", "hi")
	h := parseRaw(t, 12, raw)

	asg, err := Assign(h, raw, account)
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if asg.Subject != "Ticket 12: (no subject)" {
		t.Errorf("Subject = %q", asg.Subject)
	}
}

func TestAssignUnique(t *testing.T) {
	raw := sampleRaw("alice@example.com", "same subject", "orig-3@example.com", "hi")
	a1, err := Assign(parseRaw(t, 100, raw), raw, account)
	if err != nil {
		t.Fatal(err)
	}
	a2, err := Assign(parseRaw(t, 101, raw), raw, account)
	if err != nil {
		t.Fatal(err)
	}
	if a1.TicketID == a2.TicketID {
		t.Errorf("distinct identifiers produced the same ticket id %d", a1.TicketID)
	}
}

func TestAssignNoIdentifier(t *testing.T) {
	raw := sampleRaw("alice@example.com", "Need help", "orig-4@example.com", "hi")
	h := parseRaw(t, 0, raw)

	_, err := Assign(h, raw, account)
	var ae *AssignmentError
	if !errors.As(err, &ae) {
		t.Fatalf("Assign with uid 0 returned %v, want AssignmentError", err)
	}
}
