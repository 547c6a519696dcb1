// Package tx defines the escrow transaction record and its status machine.
//
// Records are immutable once signed. A status change never mutates an
// existing record; it produces a successor record that is signed and
// sealed into the chain on its own.
package tx

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// Status represents the state of an escrow transaction.
type Status string

const (
	StatusCreated          Status = "created"           // funds moved A -> escrow
	StatusServiceCompleted Status = "service_completed" // B reported delivery
	StatusConfirmed        Status = "confirmed"         // funds moved escrow -> B
	StatusCancelled        Status = "cancelled"         // funds moved escrow -> A
	StatusDisputed         Status = "disputed"          // frozen pending resolution
)

// IsTerminal returns true if no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusCancelled
}

// ParseStatus validates a status string from an API boundary.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusCreated, StatusServiceCompleted, StatusConfirmed, StatusCancelled, StatusDisputed:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Event is an operation attempted against a transaction.
type Event string

const (
	EventComplete       Event = "mark_completed"
	EventConfirm        Event = "confirm"
	EventCancel         Event = "cancel"
	EventDispute        Event = "dispute"
	EventResolveRelease Event = "resolve_release" // escrow -> B
	EventResolveRefund  Event = "resolve_refund"  // escrow -> A
)

// Transition returns the status that event leads to from the current
// status, or ErrInvalidTransition when the guard fails. It is a pure
// function; ledger effects and persistence live with the caller.
func Transition(from Status, event Event) (Status, error) {
	switch event {
	case EventComplete:
		if from == StatusCreated {
			return StatusServiceCompleted, nil
		}
	case EventConfirm:
		if from == StatusServiceCompleted {
			return StatusConfirmed, nil
		}
	case EventCancel:
		if from == StatusCreated || from == StatusServiceCompleted {
			return StatusCancelled, nil
		}
	case EventDispute:
		if !from.IsTerminal() && from != StatusDisputed {
			return StatusDisputed, nil
		}
	case EventResolveRelease:
		if from == StatusDisputed {
			return StatusConfirmed, nil
		}
	case EventResolveRefund:
		if from == StatusDisputed {
			return StatusCancelled, nil
		}
	default:
		return "", fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, event)
	}
	return "", fmt.Errorf("%w: cannot %s a %s transaction", ErrInvalidTransition, event, from)
}

// Record is one immutable, signed snapshot of a transaction.
type Record struct {
	ID            string    `json:"id"`
	Amount        string    `json:"amount"` // decimal string, 2 places
	Description   string    `json:"description,omitempty"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	Status        Status    `json:"status"`
	DisputeReason string    `json:"disputeReason,omitempty"`
	Resolution    string    `json:"resolution,omitempty"` // "release" or "refund"
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	SignedBy      string    `json:"signedBy"`
	Signature     string    `json:"signature,omitempty"`
}

// signingPayload is the canonical serialization signed by the acting
// party. The signature itself is excluded; everything financial and
// state-bearing is included so any later edit invalidates it.
type signingPayload struct {
	Amount        string `json:"amount"`
	CreatedAt     int64  `json:"created_at"`
	Description   string `json:"description"`
	DisputeReason string `json:"dispute_reason"`
	From          string `json:"from"`
	ID            string `json:"id"`
	Resolution    string `json:"resolution"`
	SignedBy      string `json:"signed_by"`
	Status        Status `json:"status"`
	To            string `json:"to"`
	UpdatedAt     int64  `json:"updated_at"`
}

// SigningBytes returns the canonical bytes covered by the record's
// signature.
func (r *Record) SigningBytes() []byte {
	payload, _ := json.Marshal(signingPayload{
		Amount:        r.Amount,
		CreatedAt:     r.CreatedAt.Unix(),
		Description:   r.Description,
		DisputeReason: r.DisputeReason,
		From:          r.From,
		ID:            r.ID,
		Resolution:    r.Resolution,
		SignedBy:      r.SignedBy,
		Status:        r.Status,
		To:            r.To,
		UpdatedAt:     r.UpdatedAt.Unix(),
	})
	return payload
}

// Successor returns a copy of r carrying the new status, with the
// signature cleared so the acting party must re-sign. Financial fields
// are carried over unchanged.
func (r *Record) Successor(status Status, signedBy string, now time.Time) *Record {
	next := *r
	next.Status = status
	next.SignedBy = signedBy
	next.Signature = ""
	next.UpdatedAt = now
	return &next
}
