package auctionerrors

import "errors"

// Repository-level errors
var (
	ErrAuctionNotFound = errors.New("auction not found")
	ErrNoBids          = errors.New("no bids found for auction")
	ErrVersionConflict = errors.New("auction was modified concurrently")
	ErrDuplicateBid    = errors.New("bid already recorded")
)

// ErrStoreUnavailable marks connectivity faults with the store. Callers treat it as transient.
var ErrStoreUnavailable = errors.New("store unavailable")

// Validation errors
var (
	ErrMalformedBid   = errors.New("malformed bid message")
	ErrStaleBid       = errors.New("stale bid message")
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidAuction = errors.New("invalid auction")
)

// State machine errors
var ErrInvalidTransition = errors.New("invalid auction status transition")
