// Package api implements the HTTP and WebSocket surface of the sensor relay.
//
// This package provides:
//   - WebSocket admission for devices (/device) and apps (/app)
//   - Read/write pumps that feed the relay core
//   - Token-scoped status endpoints (whoami, online devices, sessions)
//   - Health and metrics endpoints for monitoring
//   - Middleware stack (request ID, logging, recovery, CORS)
//   - The optional single-page UI
//
// # Admission
//
// Both roles present a home token and a MAC as query parameters. The token is
// shape-checked, then verified, then the MAC is required. A failed admission
// is told why with an auth_error notice and closed after a short delay with a
// reason-specific close code:
//
//	token_invalid_format  4001  250ms
//	invalid_home_token    4003  250ms
//	missing_mac           4005  100ms
//
// # Keepalive
//
// App connections use the ping ticker and read deadline of the write pump.
// Device connections have no read deadline; the relay's liveness monitor
// pings them and evicts the ones that stop answering.
//
// # Graceful Degradation
//
// The session log and telemetry exporters are optional. Without them the
// relay still admits, fans out and correlates.
package api
