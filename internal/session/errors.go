package session

import "errors"

// ErrNotFound is returned when closing a session that is not open.
var ErrNotFound = errors.New("session not found")
