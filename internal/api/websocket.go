package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/sensor-relay/internal/auth"
	"github.com/nerrad567/sensor-relay/internal/infrastructure/logging"
	"github.com/nerrad567/sensor-relay/internal/relay"
	"github.com/nerrad567/sensor-relay/internal/session"
)

const (
	// writeWait bounds every write, control frames included.
	writeWait = 10 * time.Second

	// closeGrace is how long a rejected peer has to answer the close frame.
	closeGrace = time.Second

	// defaultSendBuffer is used when the configured buffer is not positive.
	defaultSendBuffer = 256
)

// rejection describes a failed admission and how the connection is closed.
type rejection struct {
	reason string
	code   int
	delay  time.Duration
}

var (
	rejectTokenFormat  = rejection{reason: "token_invalid_format", code: 4001, delay: 250 * time.Millisecond}
	rejectTokenInvalid = rejection{reason: "invalid_home_token", code: 4003, delay: 250 * time.Millisecond}
	rejectMissingMAC   = rejection{reason: "missing_mac", code: 4005, delay: 100 * time.Millisecond}
)

// Hub tracks admitted WebSocket peers so they can be counted and closed on
// shutdown. Routing between peers is the relay's job, not the hub's.
type Hub struct {
	logger *logging.Logger
	peers  map[*wsPeer]struct{}
	mu     sync.RWMutex
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger: logger,
		peers:  make(map[*wsPeer]struct{}),
	}
}

// Run blocks until the context is cancelled, then closes every peer.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a peer to the hub.
func (h *Hub) Register(p *wsPeer) {
	h.mu.Lock()
	h.peers[p] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket peer registered", "role", p.role, "clients", h.ClientCount())
}

// Unregister removes a peer from the hub.
// Only the goroutine that successfully removes the peer from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(p *wsPeer) {
	h.mu.Lock()
	_, existed := h.peers[p]
	delete(h.peers, p)
	h.mu.Unlock()

	if existed {
		p.closed.Store(true)
		close(p.send)
	}
	h.logger.Debug("websocket peer unregistered", "role", p.role, "clients", h.ClientCount())
}

// ClientCount returns the number of connected peers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// CountByRole returns the number of connected devices and apps.
func (h *Hub) CountByRole() (devices, apps int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for p := range h.peers {
		if p.role == session.RoleDevice {
			devices++
		} else {
			apps++
		}
	}
	return devices, apps
}

// closeAll disconnects all peers and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for p := range h.peers {
		p.closed.Store(true)
		close(p.send)
		if p.conn != nil {
			p.conn.Close()
		}
		delete(h.peers, p)
	}
}

// wsPeer is one WebSocket connection, device or app. It implements
// relay.Peer.
type wsPeer struct {
	id         string
	role       session.Role
	conn       *websocket.Conn
	send       chan []byte
	remoteAddr string
	tokenFP    string
	mac        string // normalised

	closed atomic.Bool

	mu           sync.Mutex
	forcedReason string
}

func newPeer(conn *websocket.Conn, role session.Role, remoteAddr, token, mac string, buffer int) *wsPeer {
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	return &wsPeer{
		id:         uuid.NewString(),
		role:       role,
		conn:       conn,
		send:       make(chan []byte, buffer),
		remoteAddr: host,
		tokenFP:    auth.Fingerprint(token),
		mac:        auth.NormalizeMAC(mac),
	}
}

// ID implements relay.Peer.
func (p *wsPeer) ID() string { return p.id }

// RemoteAddr implements relay.Peer.
func (p *wsPeer) RemoteAddr() string { return p.remoteAddr }

// Send queues msg for the write pump without blocking.
// It silently handles closed channels (peer disconnected during a
// broadcast) and full buffers (slow peer).
func (p *wsPeer) Send(msg []byte) (sent bool) {
	if p.closed.Load() {
		return false
	}
	defer func() {
		if recover() != nil { // send on closed channel
			sent = false
		}
	}()

	select {
	case p.send <- msg:
		return true
	default:
		return false
	}
}

// Writable reports whether the peer is open and has buffer room.
func (p *wsPeer) Writable() bool {
	return !p.closed.Load() && len(p.send) < cap(p.send)
}

// Ping writes a ping control frame. Safe to call concurrently with the
// write pump.
func (p *wsPeer) Ping() error {
	return p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Terminate closes the underlying connection without a close handshake.
func (p *wsPeer) Terminate() {
	p.closed.Store(true)
	p.conn.Close()
}

func (p *wsPeer) setForcedReason(reason string) {
	p.mu.Lock()
	p.forcedReason = reason
	p.mu.Unlock()
}

func (p *wsPeer) forced() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.forcedReason
}

// writePump writes queued messages to the connection. A positive
// pingInterval also sends keepalive pings.
func (p *wsPeer) writePump(pingInterval time.Duration) {
	var tick <-chan time.Time
	if pingInterval > 0 {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer func() {
		p.closed.Store(true)
		p.conn.Close()
	}()

	for {
		select {
		case message, ok := <-p.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				p.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-tick:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleDeviceSocket admits a device connection.
func (s *Server) handleDeviceSocket(w http.ResponseWriter, r *http.Request) {
	s.serveSocket(w, r, session.RoleDevice)
}

// handleAppSocket admits an app connection.
func (s *Server) handleAppSocket(w http.ResponseWriter, r *http.Request) {
	s.serveSocket(w, r, session.RoleApp)
}

// serveSocket upgrades the request, runs admission and hands the connection
// to the relay. Credentials are checked after the upgrade so a rejected
// client learns the reason over the socket.
func (s *Server) serveSocket(w http.ResponseWriter, r *http.Request, role session.Role) {
	q := r.URL.Query()
	token := strings.TrimSpace(q.Get("token"))
	mac := strings.TrimSpace(q.Get("mac"))

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "role", role, "error", err)
		return
	}
	p := newPeer(conn, role, r.RemoteAddr, token, mac, s.wsCfg.SendBuffer)

	claims, rej := s.admit(token, mac)
	if rej != nil {
		s.reject(p, *rej)
		return
	}

	if s.wsCfg.MaxMessageSize > 0 {
		conn.SetReadLimit(int64(s.wsCfg.MaxMessageSize))
	}
	s.hub.Register(p)
	sessionID := s.openSession(p, claims)

	if role == session.RoleDevice {
		s.runDevice(p, token, mac, claims, sessionID)
	} else {
		s.runApp(p, token, mac, sessionID)
	}
}

// admit checks credentials in order: token shape, token signature and
// claims, then MAC presence.
func (s *Server) admit(token, mac string) (*auth.HomeClaims, *rejection) {
	if err := s.verifier.CheckFormat(token); err != nil {
		rej := rejectTokenFormat
		return nil, &rej
	}
	claims, err := s.verifier.Verify(token)
	if err != nil {
		rej := rejectTokenInvalid
		return nil, &rej
	}
	if mac == "" {
		rej := rejectMissingMAC
		return nil, &rej
	}
	return claims, nil
}

// reject tells the peer why it was refused, then closes it after the
// reason's delay. The notice and ping are written before the close is
// scheduled so the client sees them first.
func (s *Server) reject(p *wsPeer, rej rejection) {
	p.setForcedReason(rej.reason)

	//nolint:errcheck // Best-effort deadline; write error caught below
	p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := p.conn.WriteMessage(websocket.TextMessage, relay.EncodeAuthError(rej.reason)); err != nil {
		s.logger.Debug("auth error notice not delivered", "conn", p.id, "error", err)
	}
	if err := p.Ping(); err != nil {
		s.logger.Debug("auth error ping not delivered", "conn", p.id, "error", err)
	}

	s.logger.Warn("websocket admission rejected",
		"role", p.role,
		"reason", rej.reason,
		"code", rej.code,
		"mac", p.mac,
		"token", p.tokenFP,
		"remote_addr", p.remoteAddr,
	)
	s.recordRejection(p, rej)

	//nolint:errcheck // Bounds the drain loop below
	p.conn.SetReadDeadline(time.Now().Add(rej.delay + closeGrace))
	time.AfterFunc(rej.delay, func() {
		//nolint:errcheck // Peer may already be gone
		p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(rej.code, rej.reason),
			time.Now().Add(writeWait))
	})
	go s.drainRejected(p)
}

// drainRejected reads a rejected connection until the peer answers the
// close frame or the grace period runs out.
func (s *Server) drainRejected(p *wsPeer) {
	defer p.Terminate()
	for {
		if _, _, err := p.conn.ReadMessage(); err != nil {
			code, reason := closeStatus(err, p.forced())
			s.logClose(p, code, reason)
			return
		}
	}
}

// runDevice attaches an admitted device. Devices have no read deadline;
// the liveness monitor pings them and the pong handler marks them alive.
func (s *Server) runDevice(p *wsPeer, token, mac string, claims *auth.HomeClaims, sessionID string) {
	slot := relay.NewDeviceSlot(p, token, mac, claims)
	p.conn.SetPongHandler(func(string) error {
		slot.MarkAlive()
		return nil
	})

	go p.writePump(0)
	s.relay.AttachDevice(slot)

	go s.readPump(p, sessionID,
		func(msg []byte) { s.relay.HandleDeviceMessage(slot, msg) },
		func() { s.relay.DetachDevice(slot) },
	)
}

// runApp subscribes an admitted app. Apps keep the ping ticker and read
// deadline of the write pump.
func (s *Server) runApp(p *wsPeer, token, mac, sessionID string) {
	pingInterval := time.Duration(s.wsCfg.PingInterval) * time.Second
	pongWait := time.Duration(s.wsCfg.PongTimeout) * time.Second
	extendDeadline := func() {
		if pingInterval > 0 {
			//nolint:errcheck // Best-effort deadline reset
			p.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		}
	}
	extendDeadline()
	p.conn.SetPongHandler(func(string) error {
		extendDeadline()
		return nil
	})

	go p.writePump(pingInterval)
	key := s.relay.AttachApp(p, token, mac)

	go s.readPump(p, sessionID,
		func(msg []byte) {
			// Any app message counts as a sign of life.
			extendDeadline()
			s.relay.HandleAppMessage(p, key, msg)
		},
		func() { s.relay.DetachApp(p) },
	)
}

// readPump reads messages until the connection fails, handing each one to
// handle. On exit the peer is detached from the relay, unregistered and
// its session closed.
func (s *Server) readPump(p *wsPeer, sessionID string, handle func([]byte), detach func()) {
	defer func() {
		p.Terminate()
		detach()
		s.hub.Unregister(p)
	}()

	for {
		_, message, err := p.conn.ReadMessage()
		if err != nil {
			code, reason := closeStatus(err, p.forced())
			s.logClose(p, code, reason)
			s.closeSession(sessionID, code, reason)
			return
		}
		s.dispatch(p, message, handle)
	}
}

// dispatch runs handle for one message, recovering from panics so one bad
// payload cannot take down the connection.
func (s *Server) dispatch(p *wsPeer, msg []byte, handle func([]byte)) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("panic recovered in websocket handler",
				"error", rec,
				"role", p.role,
				"conn", p.id,
			)
		}
	}()
	handle(msg)
}

// logClose logs the end of a connection.
func (s *Server) logClose(p *wsPeer, code int, reason string) {
	s.logger.Info("websocket closed",
		"role", p.role,
		"conn", p.id,
		"code", code,
		"reason", reason,
		"mac", p.mac,
		"token", p.tokenFP,
	)
}

// closeStatus extracts the close code and reason from a read error. When
// the peer gave no reason, or the connection dropped without a close frame
// (1006), the reason recorded on the connection is used.
func closeStatus(err error, recorded string) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Text == "" {
			return ce.Code, recorded
		}
		return ce.Code, ce.Text
	}
	return websocket.CloseAbnormalClosure, recorded
}
