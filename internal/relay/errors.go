package relay

// Call-level error codes returned to apps in {"id":..., "error":...} replies.
const (
	// ErrCodeDeviceOffline means no writable device occupies the caller's key.
	ErrCodeDeviceOffline = "device_offline"

	// ErrCodeSendFailed means the device was present but the call could not
	// be queued on its connection.
	ErrCodeSendFailed = "send_failed"

	// ErrCodeDuplicateID means a call with the same identifier is already
	// awaiting a reply.
	ErrCodeDuplicateID = "duplicate_id"
)
