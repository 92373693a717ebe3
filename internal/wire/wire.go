// Package wire converts broker payloads to and from domain models.
//
// Both payloads keep the PascalCase field names already used by the bidding clients
// and the product service, so the schema must stay stable.
package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"auction-service/internal/auctionerrors"
	"auction-service/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/shopspring/decimal"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(fmt.Sprintf("wire: register notblank validation: %v", err))
	}
	return v
}

// layouts accepted for DateSent. Timestamps without an offset are taken as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.9999999",
	"2006-01-02T15:04:05",
}

type timestamp struct {
	time.Time
}

func (ts *timestamp) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			ts.Time = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", raw)
}

type bidPayload struct {
	ID        *string          `json:"Id"`
	AuctionID *string          `json:"AuctionId" validate:"required,notblank"`
	BidderID  *string          `json:"BidderId" validate:"required,notblank"`
	Amount    *decimal.Decimal `json:"Amount" validate:"required"`
	DateSent  *timestamp       `json:"DateSent" validate:"required"`
}

// DecodeBid parses an inbound bid message. An empty body or a JSON null yields a nil bid
// and no error; the caller decides what an absent bid means. Any other payload that does
// not match the bid schema returns ErrMalformedBid.
func DecodeBid(body []byte) (*models.Bid, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()

	var p *bidPayload
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", auctionerrors.ErrMalformedBid, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after payload", auctionerrors.ErrMalformedBid)
	}
	if p == nil {
		return nil, nil
	}

	if err := validate.Struct(p); err != nil {
		return nil, fmt.Errorf("%w: %v", auctionerrors.ErrMalformedBid, err)
	}
	if p.Amount.IsNegative() {
		return nil, fmt.Errorf("%w: negative amount %s", auctionerrors.ErrMalformedBid, p.Amount)
	}

	bid := &models.Bid{
		AuctionID: strings.TrimSpace(*p.AuctionID),
		BidderID:  strings.TrimSpace(*p.BidderID),
		Amount:    *p.Amount,
		DateSent:  p.DateSent.Time,
	}
	if p.ID != nil {
		bid.ID = strings.TrimSpace(*p.ID)
	}
	return bid, nil
}

type settlementPayload struct {
	ProductID      string      `json:"ProductId" validate:"required"`
	AuctionEndDate time.Time   `json:"AuctionEndDate"`
	BidderID       string      `json:"BidderId" validate:"required"`
	Status         string      `json:"Status" validate:"oneof=ToBeStarted Ongoing Finished"`
	Amount         json.Number `json:"Amount"`
}

// EncodeSettlement renders a settlement notification. The amount is written as a JSON number.
func EncodeSettlement(n models.SettlementNotification) ([]byte, error) {
	p := settlementPayload{
		ProductID:      n.ProductID,
		AuctionEndDate: n.AuctionEndDate.UTC(),
		BidderID:       n.BidderID,
		Status:         string(n.Status),
		Amount:         json.Number(n.Amount.String()),
	}
	if err := validate.Struct(p); err != nil {
		return nil, fmt.Errorf("encode settlement: %w", err)
	}

	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode settlement: %w", err)
	}
	return body, nil
}
