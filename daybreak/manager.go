package daybreak

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/eqemu-go/daybreak/pkg/logger"
)

// NewConnectionCallback, StateChangeCallback, PacketRecvCallback and
// ErrorCallback are the four hooks SPEC_FULL.md §6 lists on
// ConnectionManager.
type (
	NewConnectionCallback = func(*Connection)
	StateChangeCallback   = func(conn *Connection, from, to Status)
	PacketRecvCallback    = func(conn *Connection, stream int, payload []byte)
	ErrorCallback         = func(conn *Connection, event ErrorEvent)
)

// event is whatever the read loop or the tick loop posts onto the
// manager's single event channel.
type event struct {
	isTick bool
	now    time.Time
	addr   *net.UDPAddr
	data   []byte
}

// ConnectionManager owns the UDP socket and every Connection keyed by
// peer address. Its concurrency model is three goroutines supervised by
// one errgroup.Group (SPEC_FULL.md's CONCURRENCY MODEL DECISION): a
// socket-read loop, a tick loop, both of which only ever post onto a
// shared channel, and a single event-loop goroutine that drains that
// channel and performs every bit of demultiplexing, protocol
// processing and callback invocation. No connection is ever touched
// from two goroutines at once, so none of them need their own mutex -
// a different single-writer discipline than the teacher's
// goroutine-per-packet-plus-per-session-mutex style, chosen because a
// session-layer engine's per-tick bookkeeping (resend scans, budget
// replenishment, coalesce flush) reads and mutates far more connection
// state per touch than RakNet's ack-handling ever does, and serializing
// all of it onto one goroutine removes an entire class of lock-ordering
// bugs between "a packet arrived" and "the tick fired" at the same
// moment.
type ConnectionManager struct {
	opts ConnectionManagerOptions
	conn *net.UDPConn

	connections map[string]*Connection

	events chan event

	onNewConnection NewConnectionCallback
	onStateChange   StateChangeCallback
	onPacketRecv    PacketRecvCallback
	onErrorMessage  ErrorCallback

	collector *ManagerCollector
	sendPool  *sendBufferPool

	ready chan struct{}
	now   func() time.Time
}

// SetMetricsCollector attaches a ManagerCollector to be refreshed once
// per tick. Register the same collector with a prometheus.Registry to
// expose it.
func (m *ConnectionManager) SetMetricsCollector(c *ManagerCollector) { m.collector = c }

// LocalAddr blocks until the manager's socket is bound (Run has been
// called) and returns the address it is listening on. Useful when Port
// is 0 and the OS assigns an ephemeral port.
func (m *ConnectionManager) LocalAddr() *net.UDPAddr {
	<-m.ready
	return m.conn.LocalAddr().(*net.UDPAddr)
}

// NewConnectionManager builds a manager from DefaultConnectionManagerOptions
// overridden by opts.
func NewConnectionManager(opts ...ManagerOption) *ConnectionManager {
	o := DefaultConnectionManagerOptions()
	for _, apply := range opts {
		apply(&o)
	}
	poolSlotSize := int(o.MaxPacketSize)
	if poolSlotSize <= 0 {
		poolSlotSize = 512
	}
	return &ConnectionManager{
		opts:        o,
		connections: make(map[string]*Connection),
		events:      make(chan event, 256),
		sendPool:    newSendBufferPool(64, poolSlotSize),
		ready:       make(chan struct{}),
		now:         func() time.Time { return time.Now() },
	}
}

func (m *ConnectionManager) SetOnNewConnection(cb NewConnectionCallback) { m.onNewConnection = cb }
func (m *ConnectionManager) SetOnConnectionStateChange(cb StateChangeCallback) {
	m.onStateChange = cb
}
func (m *ConnectionManager) SetOnPacketRecv(cb PacketRecvCallback) { m.onPacketRecv = cb }
func (m *ConnectionManager) SetOnErrorMessage(cb ErrorCallback)    { m.onErrorMessage = cb }

// Run binds the UDP socket and blocks until ctx is cancelled or one of
// the three supervised goroutines returns an error, at which point the
// other two are cancelled and that first error is returned.
func (m *ConnectionManager) Run(ctx context.Context) error {
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: m.opts.Port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return errors.Wrapf(err, "daybreak: bind udp :%d", m.opts.Port)
	}
	m.conn = conn
	defer conn.Close()

	if err := conn.SetReadBuffer(512 * 1024); err != nil {
		logger.With("component", "manager").Warn().Err(err).Msg("could not raise socket receive buffer")
	}

	logger.Info("daybreak manager listening on :%d", m.opts.Port)
	close(m.ready)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error { return m.readLoop(egCtx) })
	eg.Go(func() error { return m.tickLoop(egCtx) })
	eg.Go(func() error { return m.eventLoop(egCtx) })

	err = eg.Wait()
	if err != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (m *ConnectionManager) readLoop(ctx context.Context) error {
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		m.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, addr, err := m.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return nil
			default:
				return errors.Wrap(err, "daybreak: udp read")
			}
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case m.events <- event{addr: addr, data: data}:
		case <-ctx.Done():
			return nil
		}
	}
}

func (m *ConnectionManager) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.TickInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-ticker.C:
			select {
			case m.events <- event{isTick: true, now: t}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (m *ConnectionManager) eventLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-m.events:
			if ev.isTick {
				m.onTick(ev.now)
			} else {
				m.onDatagram(ev.addr, ev.data)
			}
		}
	}
}

func (m *ConnectionManager) onDatagram(addr *net.UDPAddr, data []byte) {
	if len(data) < 1 {
		return
	}
	if m.opts.SimulatedInPacketLoss > 0 && randPercent() < m.opts.SimulatedInPacketLoss {
		return
	}

	key := addr.String()
	conn, ok := m.connections[key]
	if !ok {
		m.onUnknownPeerDatagram(addr, key, data)
		return
	}
	conn.handleDatagram(data)
}

func (m *ConnectionManager) onUnknownPeerDatagram(addr *net.UDPAddr, key string, data []byte) {
	if len(data) >= 2 && data[0] == 0x00 && Opcode(data[1]) == OpSessionRequest {
		req, err := parseSessionRequest(data[2:])
		if err != nil {
			return
		}
		conn := newInboundConnection(m, addr, req, m.opts, m.now())
		m.connections[key] = conn
		if m.onNewConnection != nil {
			m.onNewConnection(conn)
		}
		return
	}
	if len(data) >= 2 && data[0] == 0x00 && Opcode(data[1]) == OpOutOfSession {
		return
	}
	// Unknown peer, neither a SessionRequest nor an OutOfSession: the
	// peer believes it has a session we have no record of, so tell it
	// plainly rather than silently dropping every subsequent retry.
	m.writeDatagram(addr, buildOutOfSession())
}

func (m *ConnectionManager) onTick(now time.Time) {
	tickMs := float64(m.opts.TickInterval().Milliseconds())
	for _, conn := range m.connections {
		conn.process(now, tickMs)
		conn.processResend(now)
	}
	for key, conn := range m.connections {
		if conn.Status() == StatusDisconnected {
			delete(m.connections, key)
		}
	}
	if m.collector != nil {
		m.collector.Snapshot(m.Connections())
	}
}

// Connect starts an outbound (client-side) connection to addr, which
// begins in StatusConnecting and retries its SessionRequest until a
// SessionResponse arrives or connect_stale_ms elapses.
func (m *ConnectionManager) Connect(addr *net.UDPAddr, connectCode uint32) *Connection {
	conn := newOutboundConnection(m, addr, connectCode, m.opts, m.now())
	m.connections[addr.String()] = conn
	return conn
}

// SendDisconnect closes the connection to peer, if one exists.
func (m *ConnectionManager) SendDisconnect(peer *net.UDPAddr) {
	if conn, ok := m.connections[peer.String()]; ok {
		conn.Close()
	}
}

// Connection looks up an existing connection by peer address.
func (m *ConnectionManager) Connection(peer *net.UDPAddr) (*Connection, bool) {
	c, ok := m.connections[peer.String()]
	return c, ok
}

// Connections returns a snapshot slice of every tracked connection, for
// metrics collection and broadcast-style sends.
func (m *ConnectionManager) Connections() []*Connection {
	out := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		out = append(out, c)
	}
	return out
}

func (m *ConnectionManager) writeDatagram(peer *net.UDPAddr, data []byte) error {
	_, err := m.conn.WriteToUDP(data, peer)
	return err
}

func (m *ConnectionManager) notifyStateChange(conn *Connection, from, to Status) {
	logger.With("peer", conn.peerKey, "from", from.String(), "to", to.String()).
		Debug().Msg("connection state change")
	if m.onStateChange != nil {
		m.onStateChange(conn, from, to)
	}
}

func (m *ConnectionManager) notifyPacketRecv(conn *Connection, stream int, payload []byte) {
	if m.onPacketRecv != nil {
		m.onPacketRecv(conn, stream, payload)
	}
}

func (m *ConnectionManager) notifyError(conn *Connection, kind ErrorKind, err error) {
	logger.With("peer", conn.peerKey, "kind", kind.String()).Debug().Err(err).Msg("connection error")
	if m.onErrorMessage != nil {
		m.onErrorMessage(conn, ErrorEvent{Kind: kind, Err: err})
	}
}
