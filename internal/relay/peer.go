package relay

// Peer is one side of a relayed connection, either a device or an app.
//
// Implementations must make Send non-blocking: a message that cannot be
// queued immediately is dropped and Send reports false.
type Peer interface {
	// ID returns a unique identifier for the connection, used in logs.
	ID() string

	// RemoteAddr returns the peer's network address.
	RemoteAddr() string

	// Send queues a text message for delivery.
	// Returns false if the peer is closing or its buffer is full.
	Send(msg []byte) bool

	// Writable reports whether Send can currently succeed.
	Writable() bool

	// Ping queues a transport-level liveness ping.
	Ping() error

	// Terminate closes the connection immediately without a close handshake.
	Terminate()
}
