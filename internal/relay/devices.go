package relay

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/sensor-relay/internal/auth"
)

// DeviceSlot is the single registered connection for one device key.
type DeviceSlot struct {
	Key         auth.ScopingKey
	Peer        Peer
	MAC         string // as presented by the device, before normalisation
	Fingerprint string // auth.Fingerprint of the owning token
	Claims      *auth.HomeClaims
	RemoteAddr  string
	ConnectedAt time.Time

	token string
	alive atomic.Bool
}

// NewDeviceSlot builds a slot for an admitted device connection.
// The slot starts out alive.
func NewDeviceSlot(peer Peer, token, mac string, claims *auth.HomeClaims) *DeviceSlot {
	s := &DeviceSlot{
		Key:         auth.DeriveKey(token, mac),
		Peer:        peer,
		MAC:         mac,
		Fingerprint: auth.Fingerprint(token),
		Claims:      claims,
		RemoteAddr:  peer.RemoteAddr(),
		ConnectedAt: time.Now(),
		token:       token,
	}
	s.alive.Store(true)
	return s
}

// MarkAlive records a liveness response from the device.
func (s *DeviceSlot) MarkAlive() {
	s.alive.Store(true)
}

// OwnedBy reports whether the slot was admitted with token.
func (s *DeviceSlot) OwnedBy(token string) bool {
	return s.token == token
}

// takeAlive clears the liveness flag and returns its previous value.
func (s *DeviceSlot) takeAlive() bool {
	return s.alive.Swap(false)
}

// DeviceRegistry maps scoping keys to the one live device connection
// holding each key.
type DeviceRegistry struct {
	mu    sync.Mutex
	slots map[auth.ScopingKey]*DeviceSlot
}

// NewDeviceRegistry creates an empty registry.
func NewDeviceRegistry() *DeviceRegistry {
	return &DeviceRegistry{slots: make(map[auth.ScopingKey]*DeviceSlot)}
}

// Replace installs slot under its key and returns the slot it displaced, if
// any. The caller is responsible for terminating the displaced connection.
// Replacing a slot with itself returns nil.
func (r *DeviceRegistry) Replace(slot *DeviceSlot) *DeviceSlot {
	r.mu.Lock()
	old := r.slots[slot.Key]
	r.slots[slot.Key] = slot
	r.mu.Unlock()

	if old == slot || (old != nil && old.Peer == slot.Peer) {
		return nil
	}
	return old
}

// RemoveIfCurrent deletes the entry for key only if it still belongs to
// peer. Returns true if an entry was removed.
func (r *DeviceRegistry) RemoveIfCurrent(key auth.ScopingKey, peer Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.slots[key]
	if !ok || cur.Peer != peer {
		return false
	}
	delete(r.slots, key)
	return true
}

// Lookup returns the slot registered for key.
func (r *DeviceRegistry) Lookup(key auth.ScopingKey) (*DeviceSlot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[key]
	return s, ok
}

// Snapshot returns the current slots ordered by connection time.
func (r *DeviceRegistry) Snapshot() []*DeviceSlot {
	r.mu.Lock()
	out := make([]*DeviceSlot, 0, len(r.slots))
	for _, s := range r.slots {
		out = append(out, s)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// Len returns the number of occupied slots.
func (r *DeviceRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}
