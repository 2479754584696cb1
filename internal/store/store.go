// Package store provides session state storage for the order
// workflow. One session exists per user at a time; it tracks the
// user's progress from category selection through payment and is
// removed on fulfillment or after the idle TTL.
//
// The package guarantees per-session mutual exclusion: for a single
// user ID, at most one state-mutating operation runs at a time. This
// is what prevents the regenerate/re-select race and the
// double-payment race in the state machine built on top. Read-only
// lookups (Get) never wait on a mutation in progress.
//
// Two implementations exist: MemoryStore for a single-process bot,
// and DynamoStore for deployments that need sessions to survive a
// restart.
package store

import (
	"context"
	"time"
)

// SessionTTL is the default idle lifetime of an abandoned session.
// Sessions with no activity for this long are removed, keeping the
// store bounded when users walk away mid-order.
const SessionTTL = 24 * time.Hour

// State is a session's position in the order lifecycle.
type State string

const (
	StateNew              State = "NEW"
	StateCategorySelected State = "CATEGORY_SELECTED"
	StateVariantSelected  State = "VARIANT_SELECTED"
	StatePreviewed        State = "PREVIEWED"
	StateAwaitingPayment  State = "AWAITING_PAYMENT"
	StateFulfilled        State = "FULFILLED"
)

// Session is one user's in-progress order. The user ID doubles as the
// session key; the store holds at most one session per user.
type Session struct {
	UserID string `json:"userId" dynamodbav:"-"`
	State  State  `json:"state" dynamodbav:"state"`

	// Category and Variant are fixed once selected; a category
	// re-selection restarts the order and clears them.
	Category string `json:"category,omitempty" dynamodbav:"category,omitempty"`
	Variant  string `json:"variant,omitempty" dynamodbav:"variant,omitempty"`
	// Price is the catalog price captured at variant selection,
	// in minor currency units.
	Price int64 `json:"price,omitempty" dynamodbav:"price,omitempty"`

	// Description is the user's free-text brief used as the
	// generation prompt.
	Description string `json:"description,omitempty" dynamodbav:"description,omitempty"`

	// PreviewRef is the most recent watermarked preview artifact.
	// Overwritten on regeneration, never retained historically.
	PreviewRef string `json:"previewRef,omitempty" dynamodbav:"previewRef,omitempty"`

	// GenInFlight is true while an artifact-generation call is
	// outstanding for this session. It blocks a second concurrent
	// generation.
	GenInFlight bool `json:"genInFlight,omitempty" dynamodbav:"genInFlight,omitempty"`
	// GenSeq increments every time the order restarts. A generation
	// completing with a stale sequence stores nothing; its result is
	// discarded. This is the documented no-cancellation policy for
	// generations orphaned by a category re-selection.
	GenSeq int64 `json:"genSeq,omitempty" dynamodbav:"genSeq,omitempty"`

	CreatedAt int64 `json:"createdAt" dynamodbav:"createdAt"`
	UpdatedAt int64 `json:"updatedAt" dynamodbav:"updatedAt"`
}

// SessionStore is the persistence boundary for order sessions.
// All methods are safe for concurrent use.
type SessionStore interface {
	// Mutate runs fn with exclusive access to the session for userID.
	// fn receives the current session, or nil if none exists. The
	// session fn returns is persisted; returning nil removes the
	// session. If fn returns an error, nothing is persisted and the
	// error is returned unchanged.
	Mutate(ctx context.Context, userID string, fn func(cur *Session) (*Session, error)) error

	// Get retrieves a session without blocking on mutations in
	// progress. Returns nil, nil if no session exists.
	Get(ctx context.Context, userID string) (*Session, error)

	// Delete removes a session. Deleting an absent session is not an
	// error.
	Delete(ctx context.Context, userID string) error
}
