package mailbox

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestOpTimeout(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	c := NewClient(ClientConfig{Server: "imap.example.com:993"}, logger)
	if got := c.opTimeout(); got != 30*time.Second {
		t.Errorf("default opTimeout = %v, want 30s", got)
	}

	c = NewClient(ClientConfig{Server: "imap.example.com:993", OperationTimeout: 5 * time.Second}, logger)
	if got := c.opTimeout(); got != 5*time.Second {
		t.Errorf("configured opTimeout = %v, want 5s", got)
	}
}
