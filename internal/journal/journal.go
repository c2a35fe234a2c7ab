// Package journal persists an audit trail of ticketing activity to sqlite.
// It is strictly write-only during processing: classification and recovery
// derive everything from mailbox state, never from these tables.
package journal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mixelka/mailticket/pkg/models"
)

// DB wraps sqlx.DB
type DB struct {
	*sqlx.DB
}

// New creates a new journal database
func New(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	return &DB{db}, nil
}

// Migrate creates the journal schema
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// RecordTicket records a created ticket (ignored if already recorded)
func (db *DB) RecordTicket(ctx context.Context, rec *models.TicketRecord) error {
	query := `
		INSERT OR IGNORE INTO tickets (ticket_id, message_id, sender, subject, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	now := time.Now()
	if _, err := db.ExecContext(ctx, query, rec.TicketID, rec.MessageID, rec.Sender, rec.Subject, now); err != nil {
		return fmt.Errorf("failed to record ticket: %w", err)
	}
	rec.CreatedAt = now
	return nil
}

// RecordEvent records one processing step for a ticket
func (db *DB) RecordEvent(ctx context.Context, ticketID uint32, kind, detail string) error {
	query := `
		INSERT INTO ticket_events (ticket_id, kind, detail, created_at)
		VALUES (?, ?, ?, ?)
	`
	if _, err := db.ExecContext(ctx, query, ticketID, kind, detail, time.Now()); err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// ListEvents returns the recorded events for a ticket, oldest first
func (db *DB) ListEvents(ctx context.Context, ticketID uint32) ([]*models.TicketEvent, error) {
	query := `
		SELECT id, ticket_id, kind, detail, created_at
		FROM ticket_events WHERE ticket_id = ? ORDER BY id
	`
	var events []*models.TicketEvent
	if err := db.SelectContext(ctx, &events, query, ticketID); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}
