// Package common defines shared constants and sentinel errors used across
// gophvault layers. Callers should use errors.Is to match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Credential and identity errors.
	ErrAuthentication = errors.New("authentication failed")
	ErrAuthorization  = errors.New("not authorized")

	// Crypto errors. ErrDecryption also matches ErrAuthentication: a tag
	// mismatch means a wrong key or tampered ciphertext.
	ErrKeyDerivation = errors.New("key derivation failed")
	ErrDecryption    = fmt.Errorf("decryption failed: %w", ErrAuthentication)

	// Repository-level errors.
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrVersionConflict   = errors.New("version conflict")
	ErrNamespaceNotEmpty = errors.New("namespace not empty")
	ErrStorage           = errors.New("storage error")
	ErrLocked            = errors.New("store is locked by another process")

	// Sync errors. ErrSync is transient and retried, ErrSyncCorruption is not.
	ErrSync           = errors.New("sync failed")
	ErrSyncCorruption = errors.New("sync envelope corrupted")

	// Session lifecycle errors.
	ErrSessionExpired = errors.New("session expired")
	ErrSessionInvalid = errors.New("session invalid")

	ErrInvalidInput = errors.New("invalid input")
)

// OpError attaches operation context to a sentinel error. Reason must never
// contain secret plaintext or key material.
type OpError struct {
	Op       string
	Resource string
	Reason   string
	Err      error
}

func (e *OpError) Error() string {
	s := e.Op
	if e.Resource != "" {
		s += " " + e.Resource
	}
	if e.Reason != "" {
		s += ": " + e.Reason
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *OpError) Unwrap() error { return e.Err }

// NewOpError builds an *OpError; a nil err returns nil.
func NewOpError(op, resource, reason string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Resource: resource, Reason: reason, Err: err}
}

// IsAny reports whether err matches any of targets.
func IsAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
