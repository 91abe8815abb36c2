package worlds

import "errors"

var (
	ErrInvalidName    = errors.New("invalid world name")
	ErrWorldNotFound  = errors.New("world not found")
	ErrNoCurrentWorld = errors.New("no current world")
)
