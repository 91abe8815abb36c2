package storage

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrCorrupt        = errors.New("record is corrupt")
	ErrAccountExists  = errors.New("account already exists")
	ErrNotInitialized = errors.New("storage not initialized")
)

// VerificationError reports that a freshly written world did not read back as
// what was written. The previous durable copy is left in place.
type VerificationError struct {
	World string
	Path  string
	Err   error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verifying world %q at %s: %v", e.World, e.Path, e.Err)
}

func (e *VerificationError) Unwrap() error {
	return e.Err
}

// CorruptError reports a durable record that exists but cannot be parsed or
// validated. It matches both ErrCorrupt and ErrNotFound so callers that only
// care about presence treat it as absent.
type CorruptError struct {
	Name string
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("record %q at %s is corrupt: %v", e.Name, e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error {
	return e.Err
}

func (e *CorruptError) Is(target error) bool {
	return target == ErrCorrupt || target == ErrNotFound
}
