package models

import "time"

// TicketRecord is one journal row per created ticket. The journal is an
// operator-facing audit trail; the mailbox itself remains the source of truth
// and nothing reads these rows back during processing.
type TicketRecord struct {
	ID        int64     `db:"id"`
	TicketID  uint32    `db:"ticket_id"`  // inbox UID of the original message
	MessageID string    `db:"message_id"` // original Message-ID header
	Sender    string    `db:"sender"`
	Subject   string    `db:"subject"` // original subject
	CreatedAt time.Time `db:"created_at"`
}

// Event kinds recorded in the journal.
const (
	EventTicketed = "ticketed"
	EventArchived = "archived"
	EventAcked    = "acked"
	EventRequeued = "requeued"
)

// TicketEvent is one processing step taken for a ticket
type TicketEvent struct {
	ID        int64     `db:"id"`
	TicketID  uint32    `db:"ticket_id"`
	Kind      string    `db:"kind"`
	Detail    string    `db:"detail"`
	CreatedAt time.Time `db:"created_at"`
}
