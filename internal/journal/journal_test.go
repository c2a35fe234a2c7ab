package journal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mixelka/mailticket/pkg/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return db
}

func TestRecordTicketIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	rec := &models.TicketRecord{
		TicketID:  4821,
		MessageID: "orig-1@example.com",
		Sender:    "alice@example.com",
		Subject:   "Need help",
	}
	if err := db.RecordTicket(ctx, rec); err != nil {
		t.Fatalf("RecordTicket: %v", err)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	// Same ticket again, e.g. after a recovery pass.
	if err := db.RecordTicket(ctx, rec); err != nil {
		t.Fatalf("RecordTicket repeat: %v", err)
	}

	var count int
	if err := db.Get(&count, "SELECT COUNT(*) FROM tickets WHERE ticket_id = ?", 4821); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("tickets rows = %d, want 1", count)
	}
}

func TestRecordAndListEvents(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	steps := []struct{ kind, detail string }{
		{models.EventTicketed, "Ticket 7: Need help"},
		{models.EventArchived, "orig-1@example.com"},
		{models.EventAcked, "alice@example.com"},
	}
	for _, s := range steps {
		if err := db.RecordEvent(ctx, 7, s.kind, s.detail); err != nil {
			t.Fatalf("RecordEvent(%s): %v", s.kind, err)
		}
	}

	events, err := db.ListEvents(ctx, 7)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != len(steps) {
		t.Fatalf("ListEvents returned %d events, want %d", len(events), len(steps))
	}
	for i, ev := range events {
		if ev.Kind != steps[i].kind || ev.Detail != steps[i].detail {
			t.Errorf("event %d = %s/%q, want %s/%q", i, ev.Kind, ev.Detail, steps[i].kind, steps[i].detail)
		}
		if ev.TicketID != 7 {
			t.Errorf("event %d ticket id = %d", i, ev.TicketID)
		}
	}

	other, err := db.ListEvents(ctx, 8)
	if err != nil {
		t.Fatalf("ListEvents(8): %v", err)
	}
	if len(other) != 0 {
		t.Errorf("ListEvents(8) = %d events, want 0", len(other))
	}
}
