package relay

import (
	"sync"

	"github.com/nerrad567/sensor-relay/internal/auth"
)

// SubscriptionRegistry tracks which app connections watch which key.
// Each peer belongs to at most one key.
type SubscriptionRegistry struct {
	mu    sync.Mutex
	sets  map[auth.ScopingKey]map[Peer]struct{}
	owner map[Peer]auth.ScopingKey
}

// NewSubscriptionRegistry creates an empty registry.
func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{
		sets:  make(map[auth.ScopingKey]map[Peer]struct{}),
		owner: make(map[Peer]auth.ScopingKey),
	}
}

// Add attaches peer to key, detaching it from any previous key first.
// Returns the number of subscribers now watching key.
func (r *SubscriptionRegistry) Add(key auth.ScopingKey, peer Peer) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.owner[peer]; ok && prev != key {
		r.removeLocked(prev, peer)
	}

	set, ok := r.sets[key]
	if !ok {
		set = make(map[Peer]struct{})
		r.sets[key] = set
	}
	set[peer] = struct{}{}
	r.owner[peer] = key
	return len(set)
}

// Remove detaches peer from whichever key it watches. The key's set is
// deleted once empty. Returns the key, the remaining subscriber count, and
// whether peer was subscribed at all.
func (r *SubscriptionRegistry) Remove(peer Peer) (auth.ScopingKey, int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, ok := r.owner[peer]
	if !ok {
		return "", 0, false
	}
	remaining := r.removeLocked(key, peer)
	return key, remaining, true
}

func (r *SubscriptionRegistry) removeLocked(key auth.ScopingKey, peer Peer) int {
	delete(r.owner, peer)
	set := r.sets[key]
	delete(set, peer)
	if len(set) == 0 {
		delete(r.sets, key)
		return 0
	}
	return len(set)
}

// Broadcast delivers msg to every subscriber of key, skipping peers that
// are not writable. Returns the number of peers the message was queued for.
func (r *SubscriptionRegistry) Broadcast(key auth.ScopingKey, msg []byte) int {
	peers := r.members(key)

	sent := 0
	for _, p := range peers {
		if !p.Writable() {
			continue
		}
		if p.Send(msg) {
			sent++
		}
	}
	return sent
}

// members snapshots the subscriber set so sends happen outside the lock.
func (r *SubscriptionRegistry) members(key auth.ScopingKey) []Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.sets[key]
	peers := make([]Peer, 0, len(set))
	for p := range set {
		peers = append(peers, p)
	}
	return peers
}

// Count returns the number of subscribers watching key.
func (r *SubscriptionRegistry) Count(key auth.ScopingKey) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sets[key])
}

// Keys returns the keys that currently have subscribers.
func (r *SubscriptionRegistry) Keys() []auth.ScopingKey {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]auth.ScopingKey, 0, len(r.sets))
	for k := range r.sets {
		keys = append(keys, k)
	}
	return keys
}

// Total returns the number of subscribed peers across all keys.
func (r *SubscriptionRegistry) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.owner)
}
