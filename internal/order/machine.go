// Package order drives a user's session through the order lifecycle:
//
//	NEW -> CATEGORY_SELECTED -> VARIANT_SELECTED -> PREVIEWED
//	    -> AWAITING_PAYMENT -> FULFILLED (session removed)
//
// A rejected payment keeps the session in AWAITING_PAYMENT for retry.
// Every operation runs under the session store's per-user exclusivity,
// except the artifact generation call itself, which is guarded by the
// session's in-flight flag instead of the lock so that status reads
// and the payment path are never blocked behind a slow render.
package order

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/procoder700/telegrambot/internal/catalog"
	"github.com/procoder700/telegrambot/internal/generate"
	"github.com/procoder700/telegrambot/internal/ledger"
	"github.com/procoder700/telegrambot/internal/store"
)

// Machine coordinates the catalog, session store, ledger and
// generator. It holds no per-session state of its own; everything
// lives in the store.
type Machine struct {
	catalog   *catalog.Catalog
	sessions  store.SessionStore
	ledger    ledger.Ledger
	generator generate.Generator
	verifier  PaymentVerifier
}

// NewMachine wires a state machine. A nil verifier defaults to
// AlwaysAccept, the documented observed behavior.
func NewMachine(cat *catalog.Catalog, sessions store.SessionStore, led ledger.Ledger, gen generate.Generator, verifier PaymentVerifier) *Machine {
	if verifier == nil {
		verifier = AlwaysAccept{}
	}
	return &Machine{
		catalog:   cat,
		sessions:  sessions,
		ledger:    led,
		generator: gen,
		verifier:  verifier,
	}
}

// Receipt is the outcome of a processed payment submission.
type Receipt struct {
	Record   *ledger.Record
	Accepted bool
	// FinalRef is the unwatermarked deliverable, set when the final
	// render succeeded.
	FinalRef string
}

// SelectCategory starts (or restarts) an order. Creates the session
// if absent; a re-selection before payment resets any pending
// variant, description and preview. Returns the variant menu for the
// category.
//
// Re-selecting while a generation is outstanding is allowed: the
// session's generation sequence advances, so the outstanding render
// completes into the void and its artifact reference is discarded.
// No cancellation of the backend call is attempted.
func (m *Machine) SelectCategory(ctx context.Context, userID string, cat catalog.Category) ([]catalog.Variant, error) {
	variants, err := m.catalog.VariantsOf(cat)
	if err != nil {
		return nil, fmt.Errorf("%w: no such category %q", ErrInvalidSelection, cat)
	}

	err = m.sessions.Mutate(ctx, userID, func(cur *store.Session) (*store.Session, error) {
		if cur == nil {
			return &store.Session{
				State:    store.StateCategorySelected,
				Category: string(cat),
			}, nil
		}
		if cur.State == store.StateAwaitingPayment {
			return nil, fmt.Errorf("%w: order awaiting payment, submit the payment proof first", ErrInvalidSelection)
		}

		// Restart: drop the pending selection, keep the session.
		cur.State = store.StateCategorySelected
		cur.Category = string(cat)
		cur.Variant = ""
		cur.Price = 0
		cur.Description = ""
		cur.PreviewRef = ""
		cur.GenInFlight = false
		cur.GenSeq++
		return cur, nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("userId", userID).Str("category", string(cat)).Msg("Category selected")
	return variants, nil
}

// SelectVariant fixes the variant and its catalog price. Valid once a
// category is chosen; picking again overwrites the pending choice.
func (m *Machine) SelectVariant(ctx context.Context, userID, variant string) (catalog.Variant, error) {
	var chosen catalog.Variant
	err := m.sessions.Mutate(ctx, userID, func(cur *store.Session) (*store.Session, error) {
		if cur == nil {
			return nil, fmt.Errorf("%w: no category selected yet", ErrInvalidSelection)
		}
		if cur.State != store.StateCategorySelected && cur.State != store.StateVariantSelected {
			return nil, fmt.Errorf("%w: cannot pick a variant in state %s", ErrInvalidSelection, cur.State)
		}

		v, err := m.catalog.Variant(catalog.Category(cur.Category), variant)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not offered for %s", ErrInvalidSelection, variant, cur.Category)
		}

		chosen = v
		cur.Variant = v.Name
		cur.Price = v.Price
		cur.State = store.StateVariantSelected
		return cur, nil
	})
	if err != nil {
		return catalog.Variant{}, err
	}

	log.Info().Str("userId", userID).Str("variant", chosen.Name).Int64("price", chosen.Price).Msg("Variant selected")
	return chosen, nil
}

// RequestPreview renders a watermarked preview. A non-empty
// description is stored as the session's generation brief; an empty
// one reuses the stored brief (regeneration). Only the preview
// reference changes on regeneration.
//
// Returns ErrGenerationBusy while a render is already outstanding.
// A backend failure leaves the session in its prior state with the
// in-flight guard cleared; the caller may retry. If the order was
// restarted while the render ran, the result is discarded and
// RequestPreview returns an empty reference with no error.
func (m *Machine) RequestPreview(ctx context.Context, userID, description string) (string, error) {
	var (
		seq    int64
		prompt string
	)
	err := m.sessions.Mutate(ctx, userID, func(cur *store.Session) (*store.Session, error) {
		if cur == nil {
			return nil, ErrUnknownSession
		}
		if cur.State != store.StateVariantSelected && cur.State != store.StatePreviewed {
			return nil, fmt.Errorf("%w: no variant selected yet", ErrInvalidSelection)
		}
		if cur.GenInFlight {
			return nil, ErrGenerationBusy
		}
		if description != "" {
			cur.Description = description
		}
		if cur.Description == "" {
			return nil, fmt.Errorf("%w: describe your idea for the product first", ErrInvalidSelection)
		}

		cur.GenInFlight = true
		seq = cur.GenSeq
		prompt = buildPrompt(cur.Category, cur.Variant, cur.Description)
		return cur, nil
	})
	if err != nil {
		return "", err
	}

	// Render without holding the session lock.
	ref, genErr := m.generator.Generate(ctx, prompt, true)

	var stale bool
	err = m.sessions.Mutate(ctx, userID, func(cur *store.Session) (*store.Session, error) {
		if cur == nil {
			// Session expired while rendering; nothing to store.
			stale = true
			return nil, nil
		}
		if cur.GenSeq != seq {
			// The order restarted mid-render. The guard now belongs
			// to the new lifecycle; leave everything untouched.
			stale = true
			return cur, nil
		}

		cur.GenInFlight = false
		if genErr != nil {
			// Recoverable: prior state kept, guard cleared, retry allowed.
			return cur, nil
		}
		cur.PreviewRef = ref
		cur.State = store.StatePreviewed
		return cur, nil
	})
	if err != nil {
		return "", err
	}

	if stale {
		log.Info().Str("userId", userID).Int64("seq", seq).Msg("Preview result discarded after restart")
		return "", nil
	}
	if genErr != nil {
		log.Warn().Err(genErr).Str("userId", userID).Msg("Preview generation failed")
		return "", genErr
	}

	log.Info().Str("userId", userID).Str("previewRef", ref).Msg("Preview ready")
	return ref, nil
}

// ConfirmDone accepts the current preview and moves the session to
// AWAITING_PAYMENT. Returns the amount due from the catalog.
func (m *Machine) ConfirmDone(ctx context.Context, userID string) (int64, error) {
	var amount int64
	err := m.sessions.Mutate(ctx, userID, func(cur *store.Session) (*store.Session, error) {
		if cur == nil {
			return nil, ErrUnknownSession
		}
		if cur.State != store.StatePreviewed {
			return nil, fmt.Errorf("%w: nothing to confirm in state %s", ErrInvalidSelection, cur.State)
		}

		due, err := m.catalog.PriceOf(catalog.Category(cur.Category), cur.Variant)
		if err != nil {
			return nil, err
		}
		amount = due
		cur.State = store.StateAwaitingPayment
		return cur, nil
	})
	if err != nil {
		return 0, err
	}

	log.Info().Str("userId", userID).Int64("amountDue", amount).Msg("Awaiting payment")
	return amount, nil
}

// SubmitPayment processes a payment proof. Exactly one transaction
// record is appended per completed submission. On acceptance the
// record is written before any state change becomes visible, the
// session is fulfilled and removed, and the final unwatermarked
// artifact is rendered. On rejection the session stays in
// AWAITING_PAYMENT for retry.
//
// If the ledger append fails the submission fails as a whole with
// ErrLedgerWrite and the session does not advance; an accepted
// payment is never fulfilled without its durable record.
func (m *Machine) SubmitPayment(ctx context.Context, userID, proofRef string) (*Receipt, error) {
	var (
		receipt     Receipt
		finalPrompt string
	)
	err := m.sessions.Mutate(ctx, userID, func(cur *store.Session) (*store.Session, error) {
		if cur == nil {
			return nil, ErrUnknownSession
		}
		if cur.State != store.StateAwaitingPayment {
			return nil, fmt.Errorf("%w: no payment expected in state %s", ErrInvalidSelection, cur.State)
		}

		accepted, reason := m.verifier.Verify(ctx, proofRef, cur.Price)

		rec := &ledger.Record{
			UserID:   userID,
			Category: cur.Category,
			Variant:  cur.Variant,
			Amount:   cur.Price,
			ProofRef: proofRef,
			Status:   ledger.StatusRejected,
		}
		if accepted {
			rec.Status = ledger.StatusAccepted
		}

		// The durable record gates the transition: an append failure
		// aborts the whole mutation and the session stays put.
		if _, err := m.ledger.Append(ctx, rec); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLedgerWrite, err)
		}

		receipt = Receipt{Record: rec, Accepted: accepted}
		if !accepted {
			log.Info().Str("userId", userID).Str("reason", reason).Msg("Payment rejected, awaiting retry")
			return cur, nil
		}

		finalPrompt = buildPrompt(cur.Category, cur.Variant, cur.Description)
		cur.State = store.StateFulfilled
		log.Info().
			Str("userId", userID).
			Str("txnId", rec.ID).
			Int64("amount", rec.Amount).
			Str("state", string(cur.State)).
			Msg("Payment accepted, order fulfilled")
		// Fulfilled sessions are removed; the ledger record is the
		// only durable trace of the completed order.
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	if !receipt.Accepted {
		return &receipt, nil
	}

	finalRef, genErr := m.generator.Generate(ctx, finalPrompt, false)
	if genErr != nil {
		// The payment is recorded; only delivery failed. Surface the
		// error so the caller can apologize and retry delivery.
		log.Error().Err(genErr).Str("userId", userID).Str("txnId", receipt.Record.ID).Msg("Final artifact generation failed after accepted payment")
		return &receipt, genErr
	}
	receipt.FinalRef = finalRef
	return &receipt, nil
}

// Status returns the user's session without blocking on mutations in
// progress. Returns nil, nil when no session exists.
func (m *Machine) Status(ctx context.Context, userID string) (*store.Session, error) {
	return m.sessions.Get(ctx, userID)
}

// buildPrompt assembles the generation prompt from the structured
// selection plus the user's brief.
func buildPrompt(category, variant, description string) string {
	return fmt.Sprintf("%s, %s style: %s", category, variant, description)
}
