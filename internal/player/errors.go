package player

import "errors"

var (
	// ErrInvalidCredentials is the expected result of a rejected login, not a
	// failure of the system.
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrNotOnline          = errors.New("player is not online")
	ErrStaleSession       = errors.New("session has been replaced")
	ErrShuttingDown       = errors.New("player manager is shutting down")
)
