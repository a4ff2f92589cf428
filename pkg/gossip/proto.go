// Package gossip implements the UDP gossip state machine: agents
// periodically ping a subset of known peers, piggyback friend lists on
// every ping/pong, and maintain a backoff queue of manually-added hosts
// that haven't yet answered.
package gossip

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/dizhaung/cantal/pkg/hostid"
)

// Tuning constants carried over from the original source (its p2p
// gossip module used the same values under different names): how many
// gossip targets to pick per tick, and how recently a peer must have
// been talked to before it's skipped as a target.
const (
	numFriends       = 10
	minProbeInterval = 5 * time.Second
	maxRetryInterval = 60 * time.Second

	// friendsEnvelopeOverhead is a conservative estimate of everything
	// in a packet besides the friends list (kind tag, cluster name,
	// MyInfo, timestamps) — subtracted from MaxPacketSize to get the
	// friends-list byte budget GetFriends truncates against.
	friendsEnvelopeOverhead = 256
)

// Config carries the subset of the agent's configuration the gossip
// task needs, decoupled from internal/config so this package has no
// dependency on YAML or file loading.
type Config struct {
	Bind              string
	ClusterName       string
	MachineID         hostid.HostId
	Hostname          string
	Name              string
	Addresses         []string
	Interval          time.Duration
	MaxPacketSize     int
	AddHostFirstSleep time.Duration
}

// AddrStatus records the state of an address solicited via AddHost.
// Proto assigns PingSent when AddHost first sees an address; nothing in
// this package assigns Available, so every AddHost call sends a ping.
type AddrStatus int

const (
	Available AddrStatus = iota
	PingSent
)

// Command is a request fed into the gossip task's single goroutine.
// Today the only variant is AddHost; it is modeled as a tagged struct
// rather than a bare channel of addresses so the command set can grow
// without changing the channel's element type.
type Command struct {
	addHost *net.UDPAddr
}

// AddHost requests that addr be pinged now and then re-pinged on an
// exponential backoff capped at maxRetryInterval. The retry entry is
// never removed, including after addr becomes a known peer.
func AddHost(addr *net.UDPAddr) Command {
	return Command{addHost: addr}
}

// Proto is the UDP gossip state machine. It owns the socket, the peer
// table (Info), and the AddHost retry queue. All state changes happen on
// Run's goroutine; a separate reader goroutine started by Run only
// copies inbound datagrams to it.
type Proto struct {
	conn   *net.UDPConn
	cfg    Config
	info   *Info
	metrics *Metrics

	// OnTouch is invoked whenever a peer's primary address becomes
	// known or changes. It corresponds to the original source's
	// send_touch hook; the agent wires it to notify pkg/remote's
	// Manager via a PeersUpdated message.
	OnTouch func(hostid.HostId)

	addrStatus map[string]AddrStatus
	queue      futureHostQueue
	nextPing   time.Time

	commands chan Command
	buf      []byte
}

// NewProto binds the gossip UDP socket and returns a ready-to-run
// Proto. Call Run to start processing.
func NewProto(cfg Config, info *Info, metrics *Metrics) (*Proto, error) {
	addr, err := net.ResolveUDPAddr("udp", cfg.Bind)
	if err != nil {
		return nil, fmt.Errorf("gossip: resolve bind address %s: %w", cfg.Bind, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("gossip: bind %s: %w", cfg.Bind, err)
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Proto{
		conn:       conn,
		cfg:        cfg,
		info:       info,
		metrics:    metrics,
		OnTouch:    func(hostid.HostId) {},
		addrStatus: make(map[string]AddrStatus),
		nextPing:   time.Now().Add(cfg.Interval),
		// Generously buffered: at the AddHost rate a telemetry agent
		// sees (bounded by cluster size and the add_host_first_sleep
		// backoff), this is unbounded in practice without the
		// complexity of a hand-rolled growable queue.
		commands: make(chan Command, 4096),
		buf:      make([]byte, cfg.MaxPacketSize),
	}, nil
}

// Commands returns the send side of the command channel.
func (p *Proto) Commands() chan<- Command {
	return p.commands
}

// Close releases the UDP socket, unblocking Run's reader goroutine.
func (p *Proto) Close() error {
	return p.conn.Close()
}

type udpPacket struct {
	data []byte
	addr *net.UDPAddr
}

// Run processes commands, inbound packets, and scheduled retries until
// ctx is cancelled or the socket is closed.
func (p *Proto) Run(ctx context.Context) error {
	packets := make(chan udpPacket, 64)
	go p.readLoop(packets)

	timer := time.NewTimer(time.Until(p.nextWakeup()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd, ok := <-p.commands:
			if !ok {
				panic("gossip: command channel closed")
			}
			p.handleCommand(cmd)
		case pkt, ok := <-packets:
			if !ok {
				return nil
			}
			p.handlePacket(pkt.data, pkt.addr)
		case <-timer.C:
			p.tick()
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(time.Until(p.nextWakeup()))
	}
}

func (p *Proto) readLoop(out chan<- udpPacket) {
	defer close(out)
	for {
		n, addr, err := p.conn.ReadFromUDP(p.buf)
		if err != nil {
			return // socket closed
		}
		data := make([]byte, n)
		copy(data, p.buf[:n])
		out <- udpPacket{data: data, addr: addr}
	}
}

func (p *Proto) nextWakeup() time.Time {
	if head := p.queue.peek(); head != nil && head.deadline.Before(p.nextPing) {
		return head.deadline
	}
	return p.nextPing
}

func (p *Proto) handleCommand(cmd Command) {
	if cmd.addHost == nil {
		return
	}
	addr := cmd.addHost
	key := addr.String()
	status, known := p.addrStatus[key]

	// We send a ping regardless of prior status (unless it is
	// Available) so a manual retry doesn't have to wait out the
	// existing backoff.
	if !known || status == PingSent {
		p.sendGossip(addr)
	}

	if !known {
		p.addrStatus[key] = PingSent
		p.queue.pushHost(&futureHost{
			deadline: time.Now().Add(p.cfg.AddHostFirstSleep),
			address:  addr,
			attempts: 1,
			timeout:  p.cfg.AddHostFirstSleep,
		})
	}
}

func (p *Proto) tick() {
	now := time.Now()

	if !now.Before(p.nextPing) {
		p.sendPeriodicPings(now)
		p.nextPing = now.Add(p.cfg.Interval)
	}

	for {
		head := p.queue.peek()
		if head == nil || head.deadline.After(now) {
			break
		}
		entry := p.queue.popHost()
		p.sendGossip(entry.address)
		newTimeout := entry.timeout * 2
		if newTimeout > maxRetryInterval {
			newTimeout = maxRetryInterval
		}
		p.queue.pushHost(&futureHost{
			deadline: now.Add(newTimeout),
			address:  entry.address,
			attempts: entry.attempts + 1,
			timeout:  newTimeout,
		})
	}
}

// sendPeriodicPings implements the under-specified target-selection
// policy spec.md leaves open: a random subset of known peers, bounded
// by numFriends, excluding anyone probed or heard from within
// minProbeInterval.
func (p *Proto) sendPeriodicPings(now time.Time) {
	ids := p.info.PeerIDs()
	shuffle(ids)

	cutoff := now.Add(-minProbeInterval)
	sent := 0
	for _, id := range ids {
		if sent >= numFriends {
			break
		}
		snap, ok := p.info.Peek(id)
		if !ok || snap.PrimaryAddr == nil {
			continue
		}
		if snap.LastProbe != nil && msToTime(snap.LastProbe.TimestampMs).After(cutoff) {
			continue
		}
		if snap.Report != nil && msToTime(snap.Report.TimestampMs).After(cutoff) {
			continue
		}
		p.sendGossip(snap.PrimaryAddr)
		sent++
	}
}

func (p *Proto) handlePacket(data []byte, addr *net.UDPAddr) {
	var pkt Packet
	if err := cbor.Unmarshal(data, &pkt); err != nil {
		slog.Warn("gossip: malformed packet", "addr", addr, "error", err)
		p.metrics.DecodeErrorsTotal.Inc()
		return
	}
	p.consumeGossip(pkt, addr)
}

func (p *Proto) consumeGossip(pkt Packet, addr *net.UDPAddr) {
	tm := nowMs()

	switch pkt.Kind {
	case KindPing:
		p.metrics.PacketsReceivedTotal.WithLabelValues("ping").Inc()
		if pkt.Cluster != p.cfg.ClusterName {
			slog.Info("gossip: packet from foreign cluster", "cluster", pkt.Cluster, "addr", addr)
			p.metrics.ClusterMismatchTotal.Inc()
			return
		}
		if pkt.Me.ID == p.cfg.MachineID {
			slog.Debug("gossip: packet from myself")
			p.metrics.SelfEchoTotal.Inc()
			return
		}
		touched := p.applyDirect(pkt.Me, addr, tm)
		p.info.withPeer(pkt.Me.ID, func(peer *Peer) { peer.PingsReceived++ })
		if touched {
			p.OnTouch(pkt.Me.ID)
		}
		p.applyFriends(pkt.Friends, addr)

		me := p.myInfo()
		friends := p.info.GetFriends(addr, p.friendsBudget())
		pong := newPong(pkt.Cluster, me, pkt.Now, tm, friends)
		p.send(pong, addr)

	case KindPong:
		p.metrics.PacketsReceivedTotal.WithLabelValues("pong").Inc()
		if pkt.Cluster != p.cfg.ClusterName {
			slog.Info("gossip: packet from foreign cluster", "cluster", pkt.Cluster, "addr", addr)
			p.metrics.ClusterMismatchTotal.Inc()
			return
		}
		if pkt.Me.ID == p.cfg.MachineID {
			slog.Debug("gossip: packet from myself")
			p.metrics.SelfEchoTotal.Inc()
			return
		}
		touched := p.applyDirect(pkt.Me, addr, tm)
		p.info.withPeer(pkt.Me.ID, func(peer *Peer) {
			peer.PongsReceived++
			if pkt.PingTime <= tm && pkt.PingTime <= pkt.PeerTime {
				rtt := tm - pkt.PingTime
				peer.ApplyRoundtrip(Roundtrip{MeasuredAtMs: tm, RTTMs: rtt}, addr, true)
				p.metrics.RoundtripSeconds.Observe(float64(rtt) / 1000)
			}
		})
		if touched {
			p.OnTouch(pkt.Me.ID)
		}
		p.applyFriends(pkt.Friends, addr)
	}
}

// applyDirect merges a packet's "me" section into the sender's Peer
// entry as trusted data, and reports whether the primary address
// changed (triggering the send_touch hook).
func (p *Proto) applyDirect(me MyInfo, addr *net.UDPAddr, tm uint64) bool {
	touched := false
	p.info.withPeer(me.ID, func(peer *Peer) {
		peer.ApplyAddresses(parseAddrs(me.Addresses), true)
		peer.ApplyReport(&ReportSample{TimestampMs: tm, Report: me.Report}, true)
		peer.ApplyHostname(me.Host, true)
		peer.ApplyNodeName(me.Name, true)
		if !sameAddr(peer.PrimaryAddr, addr) {
			peer.PrimaryAddr = addr
			touched = true
		}
	})
	return touched
}

func (p *Proto) applyFriends(friends []FriendInfo, source *net.UDPAddr) {
	for _, friend := range friends {
		if friend.ID == p.cfg.MachineID {
			slog.Debug("gossip: got myself in friend list")
			continue
		}
		var sendTo *net.UDPAddr
		p.info.withPeer(friend.ID, func(peer *Peer) {
			peer.ApplyAddresses(parseAddrs(friend.Addresses), false)
			if friend.Report != nil {
				peer.ApplyReport(&ReportSample{TimestampMs: friend.Report.TimestampMs, Report: friend.Report.Report}, false)
			}
			if friend.Host != nil {
				peer.ApplyHostname(*friend.Host, false)
			}
			if friend.Name != nil {
				peer.ApplyNodeName(*friend.Name, false)
			}
			if friend.Roundtrip != nil {
				peer.ApplyRoundtrip(Roundtrip{MeasuredAtMs: friend.Roundtrip.MeasuredAtMs, RTTMs: friend.Roundtrip.RTTMs}, source, false)
			}
			if peer.PrimaryAddr == nil && friend.MyPrimaryAddr != nil {
				addr, err := net.ResolveUDPAddr("udp", *friend.MyPrimaryAddr)
				if err != nil {
					slog.Error("gossip: can't parse relayed address", "addr", *friend.MyPrimaryAddr, "error", err)
					return
				}
				peer.PrimaryAddr = addr
				p.OnTouch(friend.ID)
				peer.LastProbe = &LastProbe{TimestampMs: nowMs(), Addr: addr}
				peer.ProbesSent++
				sendTo = addr
			}
		})
		if sendTo != nil {
			p.sendGossip(sendTo)
		}
	}
}

func (p *Proto) myInfo() MyInfo {
	return MyInfo{
		ID:        p.cfg.MachineID,
		Addresses: p.cfg.Addresses,
		Host:      p.cfg.Hostname,
		Name:      p.cfg.Name,
		Report:    p.info.SelfReport(),
	}
}

func (p *Proto) sendGossip(addr *net.UDPAddr) {
	friends := p.info.GetFriends(addr, p.friendsBudget())
	pkt := newPing(p.cfg.ClusterName, p.myInfo(), nowMs(), friends)
	p.send(pkt, addr)
}

// friendsBudget is the byte budget GetFriends truncates its list
// against, leaving friendsEnvelopeOverhead of MaxPacketSize for the
// rest of the packet.
func (p *Proto) friendsBudget() int {
	budget := p.cfg.MaxPacketSize - friendsEnvelopeOverhead
	if budget < 0 {
		return 0
	}
	return budget
}

func (p *Proto) send(pkt Packet, addr *net.UDPAddr) {
	data, err := cbor.Marshal(pkt)
	if err != nil {
		slog.Error("gossip: encode failed", "addr", addr, "error", err)
		return
	}
	// cbor.Marshal returns the complete encoding, so its length is
	// compared to the limit directly; an oversize packet is logged and
	// still sent.
	if len(data) >= p.cfg.MaxPacketSize {
		slog.Error("gossip: packet too large, configured limits are too tight", "addr", addr, "size", len(data), "limit", p.cfg.MaxPacketSize)
	}
	if _, err := p.conn.WriteToUDP(data, addr); err != nil {
		slog.Error("gossip: send failed", "addr", addr, "error", err)
		return
	}
	switch pkt.Kind {
	case KindPing:
		p.metrics.PacketsSentTotal.WithLabelValues("ping").Inc()
	case KindPong:
		p.metrics.PacketsSentTotal.WithLabelValues("pong").Inc()
	}
	p.metrics.KnownPeers.Set(float64(len(p.info.PeerIDs())))
}

func parseAddrs(ss []string) []*net.UDPAddr {
	out := make([]*net.UDPAddr, 0, len(ss))
	for _, s := range ss {
		addr, err := net.ResolveUDPAddr("udp", s)
		if err != nil {
			slog.Error("gossip: can't parse advertised address", "addr", s, "error", err)
			continue
		}
		out = append(out, addr)
	}
	return out
}

func nowMs() uint64 {
	return uint64(time.Now().UnixMilli())
}

func msToTime(ms uint64) time.Time {
	return time.UnixMilli(int64(ms))
}

// shuffle performs an in-place Fisher-Yates shuffle using a
// crypto/rand source so target selection doesn't need a seeded PRNG
// threaded through the whole package.
func shuffle(ids []hostid.HostId) {
	for i := len(ids) - 1; i > 0; i-- {
		jBig, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		var j int64
		if err == nil {
			j = jBig.Int64()
		}
		ids[i], ids[j] = ids[j], ids[i]
	}
}
