// Package remote implements the connection-lifecycle controller that
// keeps one outbound link open per known gossip peer, throttling
// reconnects after repeated failures.
package remote

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/dizhaung/cantal/pkg/gossip"
	"github.com/dizhaung/cantal/pkg/hostid"
)

// Message is a command fed into the manager's single goroutine.
type Message int

const (
	// Start initialises manager state on first receipt; later Starts
	// are no-ops. Matches the original source's panic-on-dropped-input
	// posture for anything it doesn't expect: the command channel is
	// never closed while the manager is running.
	Start Message = iota
	// PeersUpdated asks the manager to re-check the gossip peer table
	// for newly-addressable or newly-seen peers.
	PeersUpdated
)

// farFuture is the timer deadline used when there's nothing throttled
// to wait on.
const farFuture = 24 * time.Hour

// Manager maintains exactly one outbound Connection per known peer id,
// and exactly one Throttle per peer currently failing to connect.
type Manager struct {
	info     *gossip.Info
	metrics  *Metrics
	commands chan Message

	mu        sync.RWMutex
	started   bool
	active    map[hostid.HostId]context.CancelFunc
	throttled map[hostid.HostId]*Throttle

	dead chan hostid.HostId
}

// NewManager returns a Manager that is not yet started. Call Run, then
// send Start on its command channel to begin opening connections; Run
// alone opens nothing.
func NewManager(info *gossip.Info, metrics *Metrics) *Manager {
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Manager{
		info:     info,
		metrics:  metrics,
		commands: make(chan Message, 64),
		dead:     make(chan hostid.HostId, 64),
	}
}

// Commands returns the send side of the manager's command channel.
func (m *Manager) Commands() chan<- Message {
	return m.commands
}

// Run processes commands, dead-connection reports, and throttle
// deadlines until ctx is cancelled. Cancelling ctx also cancels every
// in-flight Connection, since each is dialled with a child context.
func (m *Manager) Run(ctx context.Context) error {
	timer := time.NewTimer(farFuture)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-m.commands:
			if !ok {
				panic("remote: command channel closed")
			}
			m.handleMessage(ctx, msg)
		case id, ok := <-m.dead:
			if !ok {
				return nil
			}
			m.handleDead(id)
		case <-timer.C:
			m.newConnections(ctx)
		}
		resetTimer(timer, m.nextDeadline())
	}
}

func (m *Manager) handleMessage(ctx context.Context, msg Message) {
	switch msg {
	case Start:
		m.mu.Lock()
		first := !m.started
		if first {
			m.started = true
			m.active = make(map[hostid.HostId]context.CancelFunc)
			m.throttled = make(map[hostid.HostId]*Throttle)
		}
		m.mu.Unlock()
		if first {
			m.checkConnections(ctx)
		}
	case PeersUpdated:
		m.mu.RLock()
		started := m.started
		m.mu.RUnlock()
		if started {
			m.checkConnections(ctx)
		} else {
			slog.Debug("remote: PeersUpdated before Start, ignoring")
		}
	}
}

// checkConnections implements the manager's reaction to Start and
// PeersUpdated: dial every peer not already active, and throttle every
// peer still lacking an address to connect to.
func (m *Manager) checkConnections(ctx context.Context) {
	peers, _ := m.info.Snapshot()
	now := time.Now()

	m.mu.Lock()
	for _, p := range peers {
		if _, ok := m.active[p.ID]; ok {
			continue
		}
		if p.PrimaryAddr != nil {
			m.spawnLocked(ctx, p.ID, p.PrimaryAddr)
		} else if _, ok := m.throttled[p.ID]; !ok {
			m.throttled[p.ID] = newThrottle(now)
		}
	}
	m.updateGaugesLocked()
	m.mu.Unlock()
}

// newConnections fires on the timer: any throttled peer whose deadline
// has passed gets promoted to a Connection if it now has an address,
// bumped again if not, or dropped if gossip no longer knows it.
func (m *Manager) newConnections(ctx context.Context) {
	peers, _ := m.info.Snapshot()
	byID := make(map[hostid.HostId]gossip.Snapshot, len(peers))
	for _, p := range peers {
		byID[p.ID] = p
	}
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	var drop []hostid.HostId
	for id, th := range m.throttled {
		if _, ok := m.active[id]; ok {
			continue
		}
		if !th.eligible(now) {
			continue
		}
		p, ok := byID[id]
		if !ok {
			drop = append(drop, id)
			continue
		}
		if p.PrimaryAddr != nil {
			m.spawnLocked(ctx, id, p.PrimaryAddr)
		} else {
			th.bump(now)
		}
	}
	for _, id := range drop {
		delete(m.throttled, id)
	}
	m.updateGaugesLocked()
}

// handleDead reacts to a Connection's termination report: the peer
// leaves active and its throttle is bumped (or created fresh).
func (m *Manager) handleDead(id hostid.HostId) {
	now := time.Now()
	m.mu.Lock()
	delete(m.active, id)
	if th, ok := m.throttled[id]; ok {
		th.bump(now)
	} else {
		m.throttled[id] = newThrottleAfterFailure(now)
	}
	m.updateGaugesLocked()
	m.mu.Unlock()
}

// spawnLocked starts a Connection for id and marks it active. Callers
// must hold m.mu.
func (m *Manager) spawnLocked(ctx context.Context, id hostid.HostId, addr *net.UDPAddr) {
	cctx, cancel := context.WithCancel(ctx)
	m.active[id] = cancel
	delete(m.throttled, id)
	conn := newConnection(id, addr, m.metrics)
	go conn.run(cctx, m.dead)
}

func (m *Manager) updateGaugesLocked() {
	m.metrics.ConnectionsActive.Set(float64(len(m.active)))
	m.metrics.ThrottledPeers.Set(float64(len(m.throttled)))
	// The gossip peer table's self-report (spec §3/§6 "report:
	// {peers, has_remote}") needs to know whether this agent currently
	// holds any remote link, so every Ping/Pong it sends advertises it.
	m.info.SetHasRemote(len(m.active) > 0)
}

// nextDeadline returns the earliest throttle deadline across all
// throttled peers, or farFuture if none are waiting.
func (m *Manager) nextDeadline() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	deadline := time.Now().Add(farFuture)
	for _, th := range m.throttled {
		if th.timestamp.Before(deadline) {
			deadline = th.timestamp
		}
	}
	return deadline
}

func resetTimer(timer *time.Timer, deadline time.Time) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	d := time.Until(deadline)
	if d < 0 {
		d = 0
	}
	timer.Reset(d)
}

// ActivePeers returns the ids currently holding an open or in-flight
// Connection, for internal/control's read-only status surface.
func (m *Manager) ActivePeers() []hostid.HostId {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]hostid.HostId, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	return ids
}

// ThrottledPeers returns the ids currently waiting out a reconnect
// backoff, for internal/control's read-only status surface.
func (m *Manager) ThrottledPeers() []hostid.HostId {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]hostid.HostId, 0, len(m.throttled))
	for id := range m.throttled {
		ids = append(ids, id)
	}
	return ids
}
