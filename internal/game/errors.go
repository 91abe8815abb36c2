package game

import "errors"

var ErrEmptyWorldName = errors.New("world name must not be empty")
