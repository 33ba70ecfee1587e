// Package watchdog talks to an external watchdog-multiplex daemon over
// a Unix domain socket: one registration per lockspace, followed by a
// steady stream of "renewed-at t" pets. Failure to pet for
// host_id_renewal_fail_seconds causes the daemon to let its own
// watchdog device fire, hard-resetting the host.
package watchdog

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sanlockd/sanlockd/internal/logger"
)

// Client registers lockspaces with the external watchdog daemon and
// pets them on every successful renewal.
type Client interface {
	// Register opens a watchdog entry for lockspace, keyed by hostID.
	Register(ctx context.Context, lockspace string, hostID uint64) error

	// Pet reports a successful renewal at timestamp (monotonic seconds).
	Pet(ctx context.Context, lockspace string, timestamp int64) error

	// Unregister closes the watchdog entry for lockspace. Once
	// unregistered, the daemon no longer expects pets for it.
	Unregister(ctx context.Context, lockspace string) error

	// Close tears down the connection to the watchdog daemon.
	Close() error
}

// SocketClient is a Client backed by a Unix domain socket connection
// to the watchdog-multiplex daemon.
type SocketClient struct {
	addr string

	mu   sync.Mutex
	conn net.Conn
}

// NewSocketClient dials the watchdog-multiplex daemon listening on a
// Unix domain socket at addr (e.g. "/run/sanlockd/watchdogd.sock").
func NewSocketClient(addr string) (*SocketClient, error) {
	conn, err := net.DialTimeout("unix", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dial watchdog daemon at %q: %w", addr, err)
	}
	return &SocketClient{addr: addr, conn: conn}, nil
}

func (c *SocketClient) send(ctx context.Context, line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("watchdog client for %q is closed", c.addr)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(dl)
	} else {
		_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	}
	_, err := c.conn.Write([]byte(line + "\n"))
	return err
}

// Register implements Client.
func (c *SocketClient) Register(ctx context.Context, lockspace string, hostID uint64) error {
	err := c.send(ctx, fmt.Sprintf("register %s %d", lockspace, hostID))
	if err != nil {
		logger.WarnCtx(ctx, "watchdog register failed", logger.Lockspace(lockspace), logger.Err(err))
	}
	return err
}

// Pet implements Client.
func (c *SocketClient) Pet(ctx context.Context, lockspace string, timestamp int64) error {
	return c.send(ctx, fmt.Sprintf("renewed %s %d", lockspace, timestamp))
}

// Unregister implements Client.
func (c *SocketClient) Unregister(ctx context.Context, lockspace string) error {
	return c.send(ctx, fmt.Sprintf("unregister %s", lockspace))
}

// Close implements Client.
func (c *SocketClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// NullClient is a no-op Client used when no watchdog daemon is
// configured (testing, or a deployment without hardware fencing).
type NullClient struct{}

// Register implements Client.
func (NullClient) Register(context.Context, string, uint64) error { return nil }

// Pet implements Client.
func (NullClient) Pet(context.Context, string, int64) error { return nil }

// Unregister implements Client.
func (NullClient) Unregister(context.Context, string) error { return nil }

// Close implements Client.
func (NullClient) Close() error { return nil }
