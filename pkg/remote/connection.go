package remote

import (
	"context"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/dizhaung/cantal/pkg/hostid"
)

// dialTimeout bounds how long a single connection attempt may take
// before it's counted as a failure.
const dialTimeout = 10 * time.Second

// Connection owns the lifecycle of one outbound link to a peer: dial,
// hold open, and report back when it dies. The actual metrics-streaming
// protocol carried over the link is an external collaborator (spec's
// frontend/transport layer); this type only owns connect/teardown.
type Connection struct {
	id      hostid.HostId
	addr    *net.UDPAddr
	dialer  *net.Dialer
	metrics *Metrics
}

func newConnection(id hostid.HostId, addr *net.UDPAddr, metrics *Metrics) *Connection {
	return &Connection{
		id:      id,
		addr:    addr,
		dialer:  &net.Dialer{Timeout: dialTimeout},
		metrics: metrics,
	}
}

// run dials c.addr and blocks until ctx is cancelled or the link drops,
// then reports the peer id on dead so the manager can bump its throttle.
// It never returns an error to the caller: every outcome short of a
// clean ctx cancellation is reported the same way, as a dead connection.
func (c *Connection) run(ctx context.Context, dead chan<- hostid.HostId) {
	attempt := uuid.NewString()
	c.metrics.ConnectAttemptsTotal.Inc()
	start := time.Now()

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, err := c.dialer.DialContext(dialCtx, "tcp", c.addr.String())
	cancel()
	if err != nil {
		slog.Warn("remote: dial failed", "peer", c.id, "addr", c.addr, "attempt", attempt, "error", err)
		c.metrics.ConnectFailuresTotal.Inc()
		c.reportDead(ctx, dead)
		return
	}
	defer conn.Close()

	slog.Debug("remote: connected", "peer", c.id, "addr", c.addr, "attempt", attempt)
	c.metrics.ConnectionsEstablished.Inc()
	defer c.metrics.ConnectionsEstablished.Dec()

	closed := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-closed:
		}
	}()

	// With no framing of our own, a read to EOF/error is the only
	// liveness signal available; the actual payload is produced and
	// consumed by the external streaming layer this package doesn't own.
	_, _ = io.Copy(io.Discard, conn)
	close(closed)

	c.metrics.ConnectionLifetime.Observe(time.Since(start).Seconds())
	slog.Debug("remote: connection closed", "peer", c.id, "addr", c.addr, "attempt", attempt)
	c.reportDead(ctx, dead)
}

// reportDead sends c.id on dead unless the manager is already shutting
// down, in which case the channel may have no reader left.
func (c *Connection) reportDead(ctx context.Context, dead chan<- hostid.HostId) {
	select {
	case dead <- c.id:
	case <-ctx.Done():
	}
}
