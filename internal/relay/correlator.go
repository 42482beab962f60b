package relay

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/sensor-relay/internal/auth"
)

// CallOutcome describes what the correlator did with an app message.
type CallOutcome int

// Call outcomes.
const (
	// CallIgnored means the message was not a call (not JSON, or no method).
	CallIgnored CallOutcome = iota
	// CallForwarded means the call was queued to the device and is pending.
	CallForwarded
	// CallDeviceOffline means no writable device held the key.
	CallDeviceOffline
	// CallSendFailed means queueing to the device failed.
	CallSendFailed
	// CallDuplicate means the identifier was already pending.
	CallDuplicate
)

// String returns the outcome name used in logs.
func (o CallOutcome) String() string {
	switch o {
	case CallForwarded:
		return "forwarded"
	case CallDeviceOffline:
		return ErrCodeDeviceOffline
	case CallSendFailed:
		return ErrCodeSendFailed
	case CallDuplicate:
		return ErrCodeDuplicateID
	default:
		return "ignored"
	}
}

// Call is the parsed form of an app-to-device request.
type Call struct {
	// ID is the compact JSON encoding of the call identifier.
	ID     json.RawMessage
	Method string
	// Raw is the message to forward to the device.
	Raw []byte
	// Assigned is true when the relay generated ID because the app sent none.
	Assigned bool
}

// ParseCall decodes an app message. It returns false for anything that is
// not a JSON object with a non-empty method. A call without a usable
// identifier is given a generated one, and Raw is re-encoded to carry it.
func ParseCall(msg []byte) (Call, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(msg, &fields); err != nil || fields == nil {
		return Call{}, false
	}
	if !truthy(fields["method"]) {
		return Call{}, false
	}

	var method string
	if err := json.Unmarshal(fields["method"], &method); err != nil {
		// Non-string methods are forwarded as-is; the device decides.
		method = string(fields["method"])
	}

	call := Call{Method: method, Raw: msg}
	if id := fields["id"]; truthy(id) {
		call.ID = compact(id)
		return call, true
	}

	generated, _ := json.Marshal(uuid.NewString()) //nolint:errcheck // string marshal cannot fail
	fields["id"] = generated
	raw, err := json.Marshal(fields)
	if err != nil {
		return Call{}, false
	}
	call.ID = generated
	call.Raw = raw
	call.Assigned = true
	return call, true
}

// Reply is the parsed form of a device-to-app response.
type Reply struct {
	ID     json.RawMessage
	Failed bool
	Raw    []byte
}

// ParseReply reports whether msg is shaped like a call reply: a JSON object
// with an identifier and either a result field or a non-empty error field.
func ParseReply(msg []byte) (Reply, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(msg, &fields); err != nil || fields == nil {
		return Reply{}, false
	}
	id := fields["id"]
	if !truthy(id) {
		return Reply{}, false
	}
	_, hasResult := fields["result"]
	failed := truthy(fields["error"])
	if !hasResult && !failed {
		return Reply{}, false
	}
	return Reply{ID: compact(id), Failed: failed, Raw: msg}, true
}

// truthy reports whether a raw JSON value is present and not one of null,
// false, 0 or the empty string.
func truthy(raw json.RawMessage) bool {
	v := bytes.TrimSpace(raw)
	if len(v) == 0 {
		return false
	}
	switch string(v) {
	case "null", "false", "0", `""`:
		return false
	}
	return true
}

func compact(raw json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

// pendingCall is one call awaiting a device reply.
type pendingCall struct {
	caller    Peer
	key       auth.ScopingKey
	createdAt time.Time
}

// Correlator routes calls from apps to devices and replies back to the
// exact app that issued each call.
type Correlator struct {
	devices *DeviceRegistry
	now     func() time.Time

	mu      sync.Mutex
	pending map[string]pendingCall
}

// NewCorrelator creates a correlator that resolves call targets in devices.
func NewCorrelator(devices *DeviceRegistry) *Correlator {
	return &Correlator{
		devices: devices,
		now:     time.Now,
		pending: make(map[string]pendingCall),
	}
}

// Forward sends call to the device holding key on behalf of caller.
// The caller always learns the outcome synchronously: either the call is
// pending, or an error reply has already been queued to it.
func (c *Correlator) Forward(caller Peer, key auth.ScopingKey, call Call) CallOutcome {
	slot, ok := c.devices.Lookup(key)
	if !ok || !slot.Peer.Writable() {
		caller.Send(encodeCallError(call.ID, ErrCodeDeviceOffline))
		return CallDeviceOffline
	}

	id := string(call.ID)
	c.mu.Lock()
	if _, dup := c.pending[id]; dup {
		c.mu.Unlock()
		caller.Send(encodeCallError(call.ID, ErrCodeDuplicateID))
		return CallDuplicate
	}
	c.pending[id] = pendingCall{caller: caller, key: key, createdAt: c.now()}
	c.mu.Unlock()

	if !slot.Peer.Send(call.Raw) {
		c.mu.Lock()
		if p, ok := c.pending[id]; ok && p.caller == caller {
			delete(c.pending, id)
		}
		c.mu.Unlock()
		caller.Send(encodeCallError(call.ID, ErrCodeSendFailed))
		return CallSendFailed
	}
	return CallForwarded
}

// Resolve delivers reply to the app awaiting it and clears the entry.
// Replies with no matching entry are discarded. Returns true if delivered
// to a caller.
func (c *Correlator) Resolve(reply Reply) bool {
	id := string(reply.ID)

	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	p.caller.Send(reply.Raw)
	return true
}

// PurgeCaller drops every pending call issued by caller.
// Returns the number of entries removed.
func (c *Correlator) PurgeCaller(caller Peer) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for id, p := range c.pending {
		if p.caller == caller {
			delete(c.pending, id)
			n++
		}
	}
	return n
}

// FailDevice answers every call pending against key with device_offline
// and drops the entries. Returns the number of calls failed.
func (c *Correlator) FailDevice(key auth.ScopingKey) int {
	type failed struct {
		id     string
		caller Peer
	}

	c.mu.Lock()
	var victims []failed
	for id, p := range c.pending {
		if p.key == key {
			victims = append(victims, failed{id: id, caller: p.caller})
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()

	for _, v := range victims {
		v.caller.Send(encodeCallError(json.RawMessage(v.id), ErrCodeDeviceOffline))
	}
	return len(victims)
}

// Sweep drops pending calls older than ttl without notifying their callers.
// Returns the number of entries removed.
func (c *Correlator) Sweep(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := c.now().Add(-ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for id, p := range c.pending {
		if p.createdAt.Before(cutoff) {
			delete(c.pending, id)
			n++
		}
	}
	return n
}

// Len returns the number of pending calls.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
