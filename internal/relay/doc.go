// Package relay holds the in-memory state that connects sensor devices to
// the apps observing them.
//
// A Relay owns three pieces of process-wide state, each behind its own
// narrow mutex:
//
//   - DeviceRegistry: at most one live device connection per scoping key
//   - SubscriptionRegistry: the set of app connections watching each key
//   - Correlator: outstanding app-to-device calls awaiting a reply
//
// Nothing here touches the network directly. Connections are represented by
// the Peer interface, which the API layer implements on top of WebSocket
// connections and tests implement with in-memory fakes. Sends are
// non-blocking; a peer whose buffer is full or closed is skipped.
//
// Thread Safety:
//
// All exported methods are safe for concurrent use. No lock is held while
// sending to a peer.
package relay
