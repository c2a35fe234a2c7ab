package mailbox

import (
	"context"
	"time"

	"github.com/emersion/go-imap/client"
)

// WaitResult is the outcome of a WaitForChange call.
type WaitResult int

const (
	// WaitChanged means the server reported mailbox activity.
	WaitChanged WaitResult = iota
	// WaitTimedOut means the bounded idle window elapsed without activity.
	// Callers re-enumerate anyway; the timeout exists to detect silently
	// dead connections, not to signal emptiness.
	WaitTimedOut
)

// WaitForChange blocks until the selected folder changes, the idle window
// elapses, or ctx is cancelled. IDLE is used when the server supports it,
// with a poll fallback otherwise. This is the loop's sole suspension point.
func (c *Client) WaitForChange(ctx context.Context, folder string) (WaitResult, error) {
	c.mu.Lock()
	if err := c.ensureSelected(folder); err != nil {
		c.mu.Unlock()
		return WaitTimedOut, err
	}
	cl := c.client
	c.mu.Unlock()

	idleTimeout := c.config.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = 25 * time.Minute
	}

	// The per-command deadline would cut IDLE short; widen it for the wait.
	// Each restarted IDLE command re-arms the connection deadline, so a
	// silently dead peer is still detected within one idle window.
	cl.Timeout = idleTimeout + c.opTimeout()
	defer func() { cl.Timeout = c.opTimeout() }()

	updates := make(chan client.Update, 16)
	cl.Updates = updates
	defer func() { cl.Updates = nil }()

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cl.Idle(stop, &client.IdleOptions{
			LogoutTimeout: idleTimeout,
			PollInterval:  c.config.PollInterval,
		})
	}()

	timer := time.NewTimer(idleTimeout)
	defer timer.Stop()

	finish := func() error {
		close(stop)
		for {
			select {
			case <-updates:
				// drain so the idle goroutine can exit
			case err := <-done:
				return err
			}
		}
	}

	select {
	case <-updates:
		if err := finish(); err != nil {
			return WaitTimedOut, err
		}
		return WaitChanged, nil
	case <-timer.C:
		if err := finish(); err != nil {
			return WaitTimedOut, err
		}
		return WaitTimedOut, nil
	case <-ctx.Done():
		finish()
		return WaitTimedOut, ctx.Err()
	case err := <-done:
		// idle ended on its own: connection trouble
		return WaitTimedOut, err
	}
}
