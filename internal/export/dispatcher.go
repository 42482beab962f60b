package export

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/sensor-relay/internal/infrastructure/logging"
	"github.com/nerrad567/sensor-relay/internal/relay"
)

// DefaultQueueSize is used when NewDispatcher is given a non-positive size.
const DefaultQueueSize = 1024

// TelemetryEvent is one decoded device payload.
type TelemetryEvent struct {
	Device    relay.DeviceRef
	Telemetry relay.Telemetry
	At        time.Time
}

// PresenceEvent is a device coming online or going offline.
type PresenceEvent struct {
	Device relay.DeviceRef
	Online bool
	At     time.Time
}

// Sink delivers events to one external system. Calls come from a single
// goroutine and may block briefly.
type Sink interface {
	Name() string
	Telemetry(ev TelemetryEvent) error
	Presence(ev PresenceEvent) error
}

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	Queued    int      `json:"queued"`
	Delivered uint64   `json:"delivered"`
	Dropped   uint64   `json:"dropped"`
	Failed    uint64   `json:"failed"`
	Sinks     []string `json:"sinks"`
}

// event holds exactly one of telemetry or presence.
type event struct {
	telemetry *TelemetryEvent
	presence  *PresenceEvent
}

// Dispatcher implements relay.Exporter on top of a bounded queue.
//
// Thread Safety:
//   - ExportTelemetry and ExportPresence are safe for concurrent use.
//   - Run must be called once.
type Dispatcher struct {
	sinks  []Sink
	queue  chan event
	logger *logging.Logger

	delivered atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64

	// failing tracks which sinks are currently erroring so only state
	// changes get logged.
	failing   map[string]bool
	failingMu sync.Mutex
}

var _ relay.Exporter = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher over the given sinks.
//
// Parameters:
//   - logger: Receives sink failures and recoveries (nil discards)
//   - queueSize: Events buffered before new ones are dropped
//   - sinks: Destinations, called in order for every event
func NewDispatcher(logger *logging.Logger, queueSize int, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = logging.Discard()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Dispatcher{
		sinks:   sinks,
		queue:   make(chan event, queueSize),
		logger:  logger.With("component", "export"),
		failing: make(map[string]bool, len(sinks)),
	}
}

// ExportTelemetry enqueues a decoded payload without blocking.
func (d *Dispatcher) ExportTelemetry(dev relay.DeviceRef, t relay.Telemetry, at time.Time) {
	d.enqueue(event{telemetry: &TelemetryEvent{Device: dev, Telemetry: t, At: at}})
}

// ExportPresence enqueues a presence change without blocking.
func (d *Dispatcher) ExportPresence(dev relay.DeviceRef, online bool, at time.Time) {
	d.enqueue(event{presence: &PresenceEvent{Device: dev, Online: online, At: at}})
}

func (d *Dispatcher) enqueue(ev event) {
	if len(d.sinks) == 0 {
		return
	}
	select {
	case d.queue <- ev:
	default:
		d.dropped.Add(1)
	}
}

// Run delivers queued events until ctx is cancelled, then delivers whatever
// is still queued and returns nil.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-ctx.Done():
			d.drain()
			return nil
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ev event) {
	for _, sink := range d.sinks {
		err := d.call(sink, ev)
		d.track(sink.Name(), err)
		if err != nil {
			d.failed.Add(1)
			continue
		}
		d.delivered.Add(1)
	}
}

// call invokes one sink, turning a panic into an error.
func (d *Dispatcher) call(sink Sink, ev event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink %s panicked: %v", sink.Name(), r)
		}
	}()
	if ev.telemetry != nil {
		return sink.Telemetry(*ev.telemetry)
	}
	return sink.Presence(*ev.presence)
}

func (d *Dispatcher) track(name string, err error) {
	d.failingMu.Lock()
	was := d.failing[name]
	d.failing[name] = err != nil
	d.failingMu.Unlock()

	switch {
	case err != nil && !was:
		d.logger.Warn("export sink failing", "sink", name, "error", err)
	case err == nil && was:
		d.logger.Info("export sink recovered", "sink", name)
	}
}

// Stats returns current counters.
func (d *Dispatcher) Stats() Stats {
	names := make([]string, 0, len(d.sinks))
	for _, s := range d.sinks {
		names = append(names, s.Name())
	}
	return Stats{
		Queued:    len(d.queue),
		Delivered: d.delivered.Load(),
		Dropped:   d.dropped.Load(),
		Failed:    d.failed.Load(),
		Sinks:     names,
	}
}
