// Package storage defines the backend contract shared by the embedded
// sqlite store and the hosted postgres store.
package storage

import "errors"

// Sentinel errors for storage operations. Check with errors.Is.
var (
	// ErrUnavailable indicates the backend cannot be reached. Callers
	// must fail closed: deny entitlement, never debit.
	ErrUnavailable = errors.New("storage unavailable")

	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyRedeemed indicates a license token that was already
	// consumed. This is a benign outcome, not a system fault.
	ErrAlreadyRedeemed = errors.New("license already redeemed")
)
