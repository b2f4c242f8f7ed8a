package types

import "errors"

var (
	// usage errors - the caller broke the calling contract, the state
	// machine never retries these
	ErrPendingRequest = errors.New("owner already has a pending request")
	ErrNotPending     = errors.New("owner has no pending request")

	// allocation errors - the request list itself is malformed and is
	// rejected outright, never queued
	ErrRepeatedLock = errors.New("lock requested more than once")
	ErrInvalidMode  = errors.New("invalid request mode")
)
