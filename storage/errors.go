package storage

import "kepler.host/kepler/storage/storeerr"

var (
	ErrNotFound    = storeerr.ErrNotFound
	ErrExists      = storeerr.ErrExists
	ErrInvalidCID  = storeerr.ErrInvalidCID
	ErrCIDMismatch = storeerr.ErrCIDMismatch
	// ErrConflict signals a hash collision: the backend already holds a
	// block under this CID whose bytes differ (§4.1 "a collision with
	// different bytes fails fatally"). Callers treat this as §7's
	// *conflict* kind and abort the process after logging.
	ErrConflict = storeerr.ErrConflict
)

func IsNotFound(err error) bool { return storeerr.IsNotFound(err) }
func IsExists(err error) bool   { return storeerr.IsExists(err) }
func IsConflict(err error) bool { return storeerr.IsConflict(err) }
