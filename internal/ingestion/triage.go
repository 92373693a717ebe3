package ingestion

import (
	"time"

	"auction-service/internal/auctionerrors"
	"auction-service/internal/models"
)

// DefaultFreshnessWindow is how old a bid may be when it reaches the consumer
const DefaultFreshnessWindow = 5 * time.Minute

// Verdict is the triage decision for one decoded bid message
type Verdict int

const (
	// VerdictReject drops the message without redelivery.
	VerdictReject Verdict = iota - 1
	// VerdictStale acknowledges the message without storing the bid.
	VerdictStale
	// VerdictAccept stores the bid.
	VerdictAccept
)

func (v Verdict) String() string {
	switch v {
	case VerdictReject:
		return "reject"
	case VerdictStale:
		return "stale"
	case VerdictAccept:
		return "accept"
	default:
		return "unknown"
	}
}

// Err returns the validation error behind a dropped verdict, nil for VerdictAccept
func (v Verdict) Err() error {
	switch v {
	case VerdictReject:
		return auctionerrors.ErrMalformedBid
	case VerdictStale:
		return auctionerrors.ErrStaleBid
	default:
		return nil
	}
}

// Triage classifies a bid. Checks run in order: absent, then stale, then accept.
// A bid is stale when it was sent more than window before now; bids dated in the future pass.
func Triage(bid *models.Bid, now time.Time, window time.Duration) Verdict {
	if bid == nil {
		return VerdictReject
	}
	if bid.DateSent.Before(now.Add(-window)) {
		return VerdictStale
	}
	return VerdictAccept
}
