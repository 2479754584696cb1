// Package ledger records payment outcomes as an append-only
// transaction history. Records are written once when a payment
// submission is processed to completion and are never updated or
// deleted afterwards; the package deliberately exposes no mutation
// beyond Append.
//
// Appends are durable before Append returns: a crash immediately
// after a successful Append must not lose the record. The session
// store holds no reference into the ledger; the dependency runs one
// way, session to ledger.
package ledger

import (
	"context"
	"time"
)

// Status is the outcome of a processed payment submission.
type Status string

const (
	StatusAccepted Status = "ACCEPTED"
	StatusRejected Status = "REJECTED"
)

// Record is one processed payment submission. ID and Timestamp are
// assigned by the ledger on append.
type Record struct {
	ID       string `json:"id"`
	UserID   string `json:"userId"`
	Category string `json:"category"`
	Variant  string `json:"variant"`
	// Amount in minor currency units.
	Amount int64 `json:"amount"`
	// Timestamp is the processing time, monotonic within one user's
	// records.
	Timestamp time.Time `json:"timestamp"`
	// ProofRef is the opaque handle of the submitted payment proof.
	ProofRef string `json:"proofRef"`
	Status   Status `json:"status"`
}

// Ledger is the append-only transaction history.
type Ledger interface {
	// Append durably writes a record and returns its assigned ID.
	// The record's ID and Timestamp fields are set by the call.
	Append(ctx context.Context, rec *Record) (string, error)

	// ListByUser returns a user's records ordered by timestamp
	// ascending. A user with no records yields an empty slice.
	ListByUser(ctx context.Context, userID string) ([]*Record, error)
}
