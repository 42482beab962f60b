package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

var peerSeq atomic.Int64

// fakePeer records everything sent to it.
type fakePeer struct {
	id string

	mu         sync.Mutex
	sent       [][]byte
	pings      int
	terminated bool
	blocked    bool // Writable but Send fails
	closed     bool // neither writable nor sendable

	// beforeSend, if set, runs at the start of every Send.
	beforeSend func()
}

func newFakePeer() *fakePeer {
	return &fakePeer{id: fmt.Sprintf("peer-%d", peerSeq.Add(1))}
}

func (p *fakePeer) ID() string         { return p.id }
func (p *fakePeer) RemoteAddr() string { return "192.0.2.10:5000" }

func (p *fakePeer) Send(msg []byte) bool {
	if p.beforeSend != nil {
		p.beforeSend()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.blocked || p.terminated {
		return false
	}
	p.sent = append(p.sent, append([]byte(nil), msg...))
	return true
}

func (p *fakePeer) Writable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed && !p.terminated
}

func (p *fakePeer) Ping() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.terminated {
		return errors.New("terminated")
	}
	p.pings++
	return nil
}

func (p *fakePeer) Terminate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminated = true
}

func (p *fakePeer) isTerminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

func (p *fakePeer) pingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pings
}

// messages returns every sent message decoded as a JSON object.
func (p *fakePeer) messages(t *testing.T) []map[string]any {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]map[string]any, 0, len(p.sent))
	for _, raw := range p.sent {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("peer %s received non-JSON message %q: %v", p.id, raw, err)
		}
		out = append(out, m)
	}
	return out
}

// last returns the most recent message, failing the test if none was sent.
func (p *fakePeer) last(t *testing.T) map[string]any {
	t.Helper()
	msgs := p.messages(t)
	if len(msgs) == 0 {
		t.Fatalf("peer %s received no messages", p.id)
	}
	return msgs[len(msgs)-1]
}

func (p *fakePeer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func (p *fakePeer) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = nil
}
