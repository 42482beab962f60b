package relay

import (
	"sync"
	"time"

	"github.com/nerrad567/sensor-relay/internal/auth"
	"github.com/nerrad567/sensor-relay/internal/infrastructure/logging"
)

// Options configures a Relay.
type Options struct {
	// Logger receives relay events. Defaults to a discarding logger.
	Logger *logging.Logger

	// FailPendingOnDeviceLoss answers calls still pending against a device
	// with device_offline when that device goes away. When false those calls
	// are left to the pending-call TTL sweep, if any.
	FailPendingOnDeviceLoss bool

	// Exporter, if set, receives copies of telemetry and presence changes.
	Exporter Exporter
}

// Relay ties the device registry, subscription registry and call correlator
// together. One Relay serves the whole process.
type Relay struct {
	devices *DeviceRegistry
	subs    *SubscriptionRegistry
	calls   *Correlator

	logger      *logging.Logger
	failPending bool
	exporter    Exporter

	// presenceMu orders device registration changes, their status
	// broadcasts and the initial status sent to a new subscriber, so an app
	// never ends on a stale status.
	presenceMu sync.Mutex
}

// New creates a Relay with empty registries.
func New(opts Options) *Relay {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	devices := NewDeviceRegistry()
	return &Relay{
		devices:     devices,
		subs:        NewSubscriptionRegistry(),
		calls:       NewCorrelator(devices),
		logger:      logger.With("component", "relay"),
		failPending: opts.FailPendingOnDeviceLoss,
		exporter:    opts.Exporter,
	}
}

// Devices returns the device registry.
func (r *Relay) Devices() *DeviceRegistry { return r.devices }

// Subscriptions returns the subscription registry.
func (r *Relay) Subscriptions() *SubscriptionRegistry { return r.subs }

// Calls returns the call correlator.
func (r *Relay) Calls() *Correlator { return r.calls }

// AttachDevice registers an admitted device. A connection already holding
// the same key is terminated, and subscribers are told the device is online.
func (r *Relay) AttachDevice(slot *DeviceSlot) {
	slot.MarkAlive()

	r.presenceMu.Lock()
	old := r.devices.Replace(slot)
	r.notifyPresence(slot, true)
	r.presenceMu.Unlock()

	if old != nil {
		r.logger.Info("device slot reclaimed",
			"mac", auth.NormalizeMAC(slot.MAC),
			"token", slot.Fingerprint,
			"old_conn", old.Peer.ID(),
			"new_conn", slot.Peer.ID(),
		)
		old.Peer.Terminate()
	}

	r.logger.Info("device connected",
		"mac", auth.NormalizeMAC(slot.MAC),
		"token", slot.Fingerprint,
		"remote_addr", slot.RemoteAddr,
	)
}

// DetachDevice handles a closed device connection. It only acts if slot is
// still the registered holder of its key, so a connection displaced by a
// newer one does not mark the device offline. Returns true if the slot was
// removed.
func (r *Relay) DetachDevice(slot *DeviceSlot) bool {
	r.presenceMu.Lock()
	removed := r.devices.RemoveIfCurrent(slot.Key, slot.Peer)
	if removed {
		r.notifyPresence(slot, false)
	}
	r.presenceMu.Unlock()
	if !removed {
		return false
	}
	if r.failPending {
		if n := r.calls.FailDevice(slot.Key); n > 0 {
			r.logger.Debug("pending calls failed on device loss", "mac", auth.NormalizeMAC(slot.MAC), "calls", n)
		}
	}
	return true
}

// EvictDevice removes slot and terminates its connection. Used when a
// device stops answering liveness pings.
func (r *Relay) EvictDevice(slot *DeviceSlot) {
	r.DetachDevice(slot)
	slot.Peer.Terminate()
}

// notifyPresence sends an online/offline status to every subscriber of the
// slot's key and to the exporter. Callers hold presenceMu.
func (r *Relay) notifyPresence(slot *DeviceSlot, online bool) {
	n := r.subs.Broadcast(slot.Key, encodeStatus(online, slot.MAC))
	r.logger.Debug("device presence broadcast",
		"mac", auth.NormalizeMAC(slot.MAC),
		"online", online,
		"recipients", n,
	)
	if r.exporter != nil {
		r.exporter.ExportPresence(refFor(slot), online, time.Now())
	}
}

// ResendPresence exports an online event for every registered device, for
// collaborators that lost their state (an MQTT broker restart drops
// retained presence). Returns the number of devices exported.
func (r *Relay) ResendPresence() int {
	if r.exporter == nil {
		return 0
	}
	r.presenceMu.Lock()
	defer r.presenceMu.Unlock()

	now := time.Now()
	slots := r.devices.Snapshot()
	for _, slot := range slots {
		r.exporter.ExportPresence(refFor(slot), true, now)
	}
	return len(slots)
}

// HandleDeviceMessage processes one message from a device. Call replies are
// routed to their caller; anything else is decoded as telemetry and fanned
// out to subscribers.
func (r *Relay) HandleDeviceMessage(slot *DeviceSlot, msg []byte) {
	if reply, ok := ParseReply(msg); ok {
		if r.calls.Resolve(reply) {
			r.logger.Debug("call reply delivered", "id", string(reply.ID), "failed", reply.Failed)
		} else {
			r.logger.Debug("call reply discarded", "id", string(reply.ID))
		}
		return
	}

	t := DecodeTelemetry(msg)
	if t.Empty() {
		r.logger.Debug("device payload carried no records", "mac", auth.NormalizeMAC(slot.MAC), "bytes", len(msg))
		return
	}

	data, err := t.Message().MarshalJSON()
	if err != nil {
		r.logger.Error("failed to encode telemetry", "error", err)
		return
	}
	n := r.subs.Broadcast(slot.Key, data)
	r.logger.Debug("telemetry fanned out",
		"mac", auth.NormalizeMAC(slot.MAC),
		"records", t.RecordCount(),
		"recipients", n,
	)
	if r.exporter != nil {
		r.exporter.ExportTelemetry(refFor(slot), t, time.Now())
	}
}

// AttachApp subscribes an admitted app to the device identified by token
// and mac, then tells it whether that device is currently online.
// Returns the key the app was attached to.
func (r *Relay) AttachApp(peer Peer, token, mac string) auth.ScopingKey {
	key := auth.DeriveKey(token, mac)

	r.presenceMu.Lock()
	viewers := r.subs.Add(key, peer)
	_, online := r.devices.Lookup(key)
	peer.Send(encodeStatus(online, mac))
	r.presenceMu.Unlock()

	r.logger.Info("app subscribed",
		"mac", auth.NormalizeMAC(mac),
		"token", auth.Fingerprint(token),
		"viewers", viewers,
		"device_online", online,
	)
	return key
}

// DetachApp unsubscribes a closed app and drops its pending calls.
func (r *Relay) DetachApp(peer Peer) {
	_, remaining, ok := r.subs.Remove(peer)
	purged := r.calls.PurgeCaller(peer)
	if ok {
		r.logger.Info("app unsubscribed", "conn", peer.ID(), "viewers", remaining, "pending_purged", purged)
	}
}

// HandleAppMessage processes one message from an app. Only calls are
// meaningful; anything else is ignored.
func (r *Relay) HandleAppMessage(peer Peer, key auth.ScopingKey, msg []byte) CallOutcome {
	call, ok := ParseCall(msg)
	if !ok {
		return CallIgnored
	}
	outcome := r.calls.Forward(peer, key, call)
	r.logger.Debug("call handled",
		"id", string(call.ID),
		"method", call.Method,
		"assigned_id", call.Assigned,
		"outcome", outcome.String(),
	)
	return outcome
}

// DeviceView describes an online device for status endpoints.
type DeviceView struct {
	MAC         string    `json:"mac"`
	Viewers     int       `json:"viewers"`
	IP          string    `json:"ip"`
	ConnectedAt time.Time `json:"connected_at"`
}

// OnlineDevices lists the devices admitted with token.
func (r *Relay) OnlineDevices(token string) []DeviceView {
	views := make([]DeviceView, 0)
	for _, slot := range r.devices.Snapshot() {
		if !slot.OwnedBy(token) {
			continue
		}
		views = append(views, DeviceView{
			MAC:         slot.MAC,
			Viewers:     r.subs.Count(slot.Key),
			IP:          slot.RemoteAddr,
			ConnectedAt: slot.ConnectedAt,
		})
	}
	return views
}

// Stats is a point-in-time summary of relay state.
type Stats struct {
	OnlineDevices  int `json:"online_devices"`
	Subscribers    int `json:"subscribers"`
	WatchedDevices int `json:"watched_devices"`
	PendingCalls   int `json:"pending_calls"`
}

// Stats returns current relay counts.
func (r *Relay) Stats() Stats {
	return Stats{
		OnlineDevices:  r.devices.Len(),
		Subscribers:    r.subs.Total(),
		WatchedDevices: len(r.subs.Keys()),
		PendingCalls:   r.calls.Len(),
	}
}
