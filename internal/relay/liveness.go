package relay

import (
	"context"
	"time"

	"github.com/nerrad567/sensor-relay/internal/auth"
	"github.com/nerrad567/sensor-relay/internal/infrastructure/logging"
)

// DefaultLivenessInterval is the ping period used when none is configured.
const DefaultLivenessInterval = 15 * time.Second

// LivenessMonitor periodically pings every registered device and evicts
// those that did not answer the previous ping. It also expires stale
// pending calls when a TTL is configured.
type LivenessMonitor struct {
	relay      *Relay
	interval   time.Duration
	pendingTTL time.Duration
	logger     *logging.Logger
}

// NewLivenessMonitor creates a monitor for r. A non-positive interval falls
// back to DefaultLivenessInterval; a zero pendingTTL disables call expiry.
func NewLivenessMonitor(r *Relay, interval, pendingTTL time.Duration, logger *logging.Logger) *LivenessMonitor {
	if interval <= 0 {
		interval = DefaultLivenessInterval
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &LivenessMonitor{
		relay:      r,
		interval:   interval,
		pendingTTL: pendingTTL,
		logger:     logger.With("component", "liveness"),
	}
}

// Run pings devices on every tick until ctx is cancelled.
func (m *LivenessMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("liveness monitor started", "interval", m.interval, "pending_call_ttl", m.pendingTTL)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("liveness monitor stopped")
			return nil
		case <-ticker.C:
			m.Tick()
		}
	}
}

// Tick runs one ping pass. A device whose liveness flag is still clear from
// the previous pass is evicted; every other device has its flag cleared and
// is pinged. Returns the number of devices evicted.
func (m *LivenessMonitor) Tick() int {
	evicted := 0
	for _, slot := range m.relay.Devices().Snapshot() {
		if !slot.takeAlive() {
			m.logger.Warn("evicting unresponsive device",
				"mac", auth.NormalizeMAC(slot.MAC),
				"token", slot.Fingerprint,
				"remote_addr", slot.RemoteAddr,
			)
			m.relay.EvictDevice(slot)
			evicted++
			continue
		}
		if err := slot.Peer.Ping(); err != nil {
			m.logger.Debug("device ping failed", "mac", auth.NormalizeMAC(slot.MAC), "error", err)
		}
	}

	if n := m.relay.Calls().Sweep(m.pendingTTL); n > 0 {
		m.logger.Debug("expired pending calls", "calls", n)
	}
	return evicted
}
