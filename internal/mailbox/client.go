package mailbox

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// ErrNotConnected is returned by operations attempted without a live session.
var ErrNotConnected = fmt.Errorf("mailbox: not connected")

// ClientConfig configuration for the IMAP session
type ClientConfig struct {
	Username         string
	Password         string
	Server           string // host:port
	IdleTimeout      time.Duration
	DialTimeout      time.Duration
	OperationTimeout time.Duration // deadline per IMAP command
	PollInterval     time.Duration // fallback when the server lacks IDLE
}

// Client is the single IMAP session owned by the watch loop. All operations
// are serialized behind the mutex; there is never more than one command in
// flight against the connection.
type Client struct {
	config    ClientConfig
	client    *client.Client
	logger    *slog.Logger
	mu        sync.Mutex
	connected bool
	selected  string
}

// NewClient creates a new IMAP client
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	return &Client{
		config: cfg,
		logger: logger.With("component", "mailbox", "server", cfg.Server),
	}
}

// Connect dials the IMAP server over TLS and logs in
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	c.logger.Info("connecting to IMAP server")

	timeout := c.config.DialTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	dialer := &net.Dialer{Timeout: timeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", c.config.Server, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	imapClient, err := client.New(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create IMAP client: %w", err)
	}

	// A command that outlives this deadline errors out and drops the
	// connection, which the watch loop observes and handles by reconnecting.
	// Without it a silently dead peer would hang a fetch forever.
	imapClient.Timeout = c.opTimeout()

	if err := imapClient.Login(c.config.Username, c.config.Password); err != nil {
		imapClient.Logout()
		return fmt.Errorf("failed to login: %w", err)
	}

	c.client = imapClient
	c.connected = true
	c.selected = ""
	c.logger.Info("connected to IMAP server")

	return nil
}

// opTimeout is the deadline applied to each IMAP command
func (c *Client) opTimeout() time.Duration {
	if c.config.OperationTimeout > 0 {
		return c.config.OperationTimeout
	}
	return 30 * time.Second
}

// ensureSelected selects folder if it is not the currently selected one.
// Caller must hold the mutex.
func (c *Client) ensureSelected(folder string) error {
	if !c.connected || c.client == nil {
		return ErrNotConnected
	}
	if c.selected == folder {
		return nil
	}
	if _, err := c.client.Select(folder, false); err != nil {
		return fmt.Errorf("failed to select %s: %w", folder, err)
	}
	c.selected = folder
	return nil
}

// Select selects a folder, verifying it exists
func (c *Client) Select(ctx context.Context, folder string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureSelected(folder)
}

// ListSince returns the UIDs in folder greater than watermark, ascending
func (c *Client) ListSince(ctx context.Context, folder string, watermark uint32) ([]uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureSelected(folder); err != nil {
		return nil, err
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(watermark+1, 0) // 0 means * (all)

	criteria := imap.NewSearchCriteria()
	criteria.Uid = seqSet

	uids, err := c.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	// Servers may match UID n even when watermark+1 > n and the range
	// wrapped; filter and order explicitly.
	out := uids[:0]
	for _, uid := range uids {
		if uid > watermark {
			out = append(out, uid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// FetchHeaders fetches and parses the header section of a single message
func (c *Client) FetchHeaders(ctx context.Context, folder string, uid uint32) (*Headers, error) {
	section := &imap.BodySectionName{
		BodyPartName: imap.BodyPartName{Specifier: imap.HeaderSpecifier},
		Peek:         true,
	}
	msg, err := c.fetchOne(folder, uid, section)
	if err != nil {
		return nil, err
	}

	body := msg.GetBody(section)
	if body == nil {
		return nil, fmt.Errorf("no header section for uid %d", uid)
	}
	headers, err := ParseHeaders(msg.Uid, body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse headers for uid %d: %w", uid, err)
	}
	return headers, nil
}

// FetchRaw fetches the full raw message
func (c *Client) FetchRaw(ctx context.Context, folder string, uid uint32) ([]byte, error) {
	section := &imap.BodySectionName{Peek: true}
	msg, err := c.fetchOne(folder, uid, section)
	if err != nil {
		return nil, err
	}

	body := msg.GetBody(section)
	if body == nil {
		return nil, fmt.Errorf("no body for uid %d", uid)
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body for uid %d: %w", uid, err)
	}
	return raw, nil
}

func (c *Client) fetchOne(folder string, uid uint32, section *imap.BodySectionName) (*imap.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureSelected(folder); err != nil {
		return nil, err
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}
	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)

	go func() {
		done <- c.client.UidFetch(seqSet, items, messages)
	}()

	var found *imap.Message
	for msg := range messages {
		if found == nil {
			found = msg
		}
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch uid %d: %w", uid, err)
	}
	if found == nil {
		return nil, fmt.Errorf("uid %d not found in %s", uid, folder)
	}
	return found, nil
}

// Append appends a raw message to folder
func (c *Client) Append(ctx context.Context, folder string, raw []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.client == nil {
		return ErrNotConnected
	}

	if err := c.client.Append(folder, nil, time.Now(), bytes.NewBuffer(raw)); err != nil {
		return fmt.Errorf("failed to append to %s: %w", folder, err)
	}
	return nil
}

// Delete deletes a message (adds \Deleted flag and expunges)
func (c *Client) Delete(ctx context.Context, folder string, uid uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureSelected(folder); err != nil {
		return err
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.DeletedFlag}

	if err := c.client.UidStore(seqSet, item, flags, nil); err != nil {
		return fmt.Errorf("failed to mark as deleted: %w", err)
	}
	if err := c.client.Expunge(nil); err != nil {
		return fmt.Errorf("failed to expunge: %w", err)
	}
	return nil
}

// Move moves a message out of folder into dest. Uses UID MOVE when the
// server supports it, otherwise copy+store+expunge.
func (c *Client) Move(ctx context.Context, folder string, uid uint32, dest string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureSelected(folder); err != nil {
		return err
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	if err := c.client.UidMove(seqSet, dest); err != nil {
		return fmt.Errorf("failed to move uid %d to %s: %w", uid, dest, err)
	}
	return nil
}

// SearchHeader returns UIDs in folder whose named header contains value
func (c *Client) SearchHeader(ctx context.Context, folder, field, value string) ([]uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureSelected(folder); err != nil {
		return nil, err
	}

	criteria := imap.NewSearchCriteria()
	criteria.Header.Add(field, value)

	uids, err := c.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s header: %w", field, err)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

// SearchUnanswered returns UIDs in folder carrying a "Ticket" subject marker
// but no \Answered flag. IMAP SUBJECT search is a substring match; callers
// verify the exact pattern on the fetched headers.
func (c *Client) SearchUnanswered(ctx context.Context, folder string) ([]uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureSelected(folder); err != nil {
		return nil, err
	}

	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Subject", "Ticket")
	criteria.WithoutFlags = []string{imap.AnsweredFlag}

	uids, err := c.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search unanswered: %w", err)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

// MarkAnswered sets the \Answered flag on a message
func (c *Client) MarkAnswered(ctx context.Context, folder string, uid uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureSelected(folder); err != nil {
		return err
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.AnsweredFlag}

	if err := c.client.UidStore(seqSet, item, flags, nil); err != nil {
		return fmt.Errorf("failed to mark as answered: %w", err)
	}
	return nil
}

// Close logs out and drops the connection
func (c *Client) Close() {
	c.mu.Lock()
	imapClient := c.client
	c.client = nil
	c.connected = false
	c.selected = ""
	c.mu.Unlock()

	if imapClient != nil {
		// Try logout with timeout, then force close
		done := make(chan struct{})
		go func() {
			imapClient.Logout()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			imapClient.Terminate()
		}
	}
}

// Disconnect drops the session without a clean logout, typically after a
// protocol error. The next Connect establishes a fresh session.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = false
	c.selected = ""
	if c.client != nil {
		c.client.Terminate()
		c.client = nil
	}
}

// IsConnected returns whether the client has a live session
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
