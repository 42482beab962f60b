// Package export copies relay traffic to external systems.
//
// The relay calls the Dispatcher inline on device read paths, so the
// Dispatcher only enqueues. A single goroutine started by Run drains the
// queue and hands every event to each configured Sink in turn. When the
// queue is full the event is dropped and counted; export never slows down
// fan-out to apps.
//
// Two sinks are provided:
//
//   - MQTTSink publishes telemetry and retained presence per device.
//   - InfluxSink writes one point per sensor record and presence changes.
package export
