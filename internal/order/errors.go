package order

import "errors"

// Sentinel errors for state machine operations. User-action errors
// (ErrInvalidSelection, ErrUnknownSession) are reported back to the
// user; ErrGenerationBusy and ErrLedgerWrite leave the session in a
// retriable state. Transient generator failures surface as
// *generate.GenerationError.
var (
	// ErrUnknownSession means no session exists for the user; the
	// caller must create one via SelectCategory first.
	ErrUnknownSession = errors.New("unknown session")

	// ErrInvalidSelection means the user's action is inconsistent
	// with the session's current state.
	ErrInvalidSelection = errors.New("invalid selection")

	// ErrGenerationBusy means an artifact generation is already
	// outstanding for this session.
	ErrGenerationBusy = errors.New("generation already in progress")

	// ErrLedgerWrite means the transaction record could not be
	// durably written. The payment submission failed as a whole and
	// must be retried; the session does not advance.
	ErrLedgerWrite = errors.New("ledger write failed")
)
