// Package dispatch translates normalized chat events into order state
// machine calls and turns the results into outbound chat instructions.
// It holds no business state: every decision about what a user may do
// next lives in the state machine, the dispatcher only routes and
// renders.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/procoder700/telegrambot/internal/catalog"
	"github.com/procoder700/telegrambot/internal/generate"
	"github.com/procoder700/telegrambot/internal/order"
	"github.com/procoder700/telegrambot/internal/store"
)

// Dispatcher routes inbound events to the order machine and replies
// through the transport.
type Dispatcher struct {
	machine   *order.Machine
	catalog   *catalog.Catalog
	transport Transport
	upiID     string
}

// NewDispatcher wires a dispatcher. upiID is the payment address shown
// in the payment instructions.
func NewDispatcher(m *order.Machine, cat *catalog.Catalog, tr Transport, upiID string) *Dispatcher {
	return &Dispatcher{machine: m, catalog: cat, transport: tr, upiID: upiID}
}

// Handle processes one inbound event. Business errors are rendered as
// user-visible replies and logged, not returned; the returned error is
// reserved for transport failures.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) error {
	log.Debug().
		Str("kind", string(ev.Kind)).
		Str("userId", ev.UserID).
		Str("data", ev.Data).
		Msg("Dispatching event")

	switch ev.Kind {
	case KindStart:
		return d.handleStart(ctx, ev)
	case KindMenu:
		return d.handleMenu(ctx, ev)
	case KindText:
		return d.handleText(ctx, ev)
	case KindPhoto:
		return d.handlePhoto(ctx, ev)
	default:
		log.Warn().Str("kind", string(ev.Kind)).Msg("Unknown event kind dropped")
		return nil
	}
}

func (d *Dispatcher) handleStart(ctx context.Context, ev Event) error {
	return d.sendCategoryMenu(ctx, ev.ChatID)
}

func (d *Dispatcher) handleMenu(ctx context.Context, ev Event) error {
	if ev.CallbackID != "" {
		// Best effort; a stale ack must not block the reply.
		if err := d.transport.AckMenuChoice(ctx, ev.CallbackID); err != nil {
			log.Warn().Err(err).Msg("Failed to ack menu choice")
		}
	}

	switch {
	case strings.HasPrefix(ev.Data, dataCategoryPrefix):
		return d.handleCategory(ctx, ev, catalog.Category(strings.TrimPrefix(ev.Data, dataCategoryPrefix)))
	case strings.HasPrefix(ev.Data, dataVariantPrefix):
		return d.handleVariant(ctx, ev, strings.TrimPrefix(ev.Data, dataVariantPrefix))
	case ev.Data == dataRegenerate:
		return d.handlePreview(ctx, ev, "")
	case ev.Data == dataDone:
		return d.handleDone(ctx, ev)
	default:
		log.Warn().Str("data", ev.Data).Msg("Unknown menu payload dropped")
		return d.transport.SendText(ctx, ev.ChatID, "Please use the menu buttons to continue.")
	}
}

func (d *Dispatcher) handleCategory(ctx context.Context, ev Event, cat catalog.Category) error {
	variants, err := d.machine.SelectCategory(ctx, ev.UserID, cat)
	if err != nil {
		return d.replyError(ctx, ev, err)
	}

	rows := make([][]Button, 0, len(variants))
	for _, v := range variants {
		rows = append(rows, []Button{{
			Label: fmt.Sprintf("%s — %s", v.Name, formatAmount(v.Price)),
			Data:  dataVariantPrefix + v.Name,
		}})
	}
	return d.transport.SendMenu(ctx, ev.ChatID, "Choose a style:", rows)
}

func (d *Dispatcher) handleVariant(ctx context.Context, ev Event, name string) error {
	v, err := d.machine.SelectVariant(ctx, ev.UserID, name)
	if err != nil {
		return d.replyError(ctx, ev, err)
	}

	text := fmt.Sprintf(
		"%s selected (%s). Describe what you want and I will generate a watermarked preview.",
		v.Name, formatAmount(v.Price))
	if !v.SampleAllowed {
		text = fmt.Sprintf(
			"%s selected (%s). Describe what you want; this style goes straight to payment without a preview sample.",
			v.Name, formatAmount(v.Price))
	}
	return d.transport.SendText(ctx, ev.ChatID, text)
}

func (d *Dispatcher) handleText(ctx context.Context, ev Event) error {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return nil
	}
	return d.handlePreview(ctx, ev, text)
}

// handlePreview runs a preview generation (first request or
// regeneration) and delivers the watermarked sample with the
// regenerate/done menu.
func (d *Dispatcher) handlePreview(ctx context.Context, ev Event, description string) error {
	if err := d.transport.SendText(ctx, ev.ChatID, "Generating your preview, one moment..."); err != nil {
		return err
	}

	ref, err := d.machine.RequestPreview(ctx, ev.UserID, description)
	if err != nil {
		return d.replyError(ctx, ev, err)
	}
	if ref == "" {
		// The order was restarted while this render was outstanding;
		// the result was discarded and the user already has a fresh menu.
		return nil
	}

	rows := [][]Button{{
		{Label: "Regenerate", Data: dataRegenerate},
		{Label: "I'm happy, continue", Data: dataDone},
	}}
	if err := d.transport.SendArtifact(ctx, ev.ChatID, ref, "Here is your watermarked preview."); err != nil {
		return err
	}
	return d.transport.SendMenu(ctx, ev.ChatID, "Regenerate, or continue to payment?", rows)
}

func (d *Dispatcher) handleDone(ctx context.Context, ev Event) error {
	amount, err := d.machine.ConfirmDone(ctx, ev.UserID)
	if err != nil {
		return d.replyError(ctx, ev, err)
	}
	text := fmt.Sprintf(
		"Amount due: %s.\nPay via UPI to %s and send a screenshot of the payment here.",
		formatAmount(amount), d.upiID)
	return d.transport.SendText(ctx, ev.ChatID, text)
}

func (d *Dispatcher) handlePhoto(ctx context.Context, ev Event) error {
	receipt, err := d.machine.SubmitPayment(ctx, ev.UserID, ev.PhotoRef)

	// A generation error after an accepted payment still carries a
	// receipt; the payment is recorded and delivery can be retried
	// out of band.
	var genErr *generate.GenerationError
	if err != nil && !(errors.As(err, &genErr) && receipt != nil) {
		return d.replyError(ctx, ev, err)
	}

	if !receipt.Accepted {
		return d.transport.SendText(ctx, ev.ChatID,
			"Payment could not be verified. Please check the amount and send the screenshot again.")
	}

	if receipt.FinalRef == "" {
		log.Error().
			Str("userId", ev.UserID).
			Str("transactionId", receipt.Record.ID).
			Msg("Payment accepted but final render failed")
		return d.transport.SendText(ctx, ev.ChatID,
			"Payment received! Your order is confirmed; the final artwork will follow shortly.")
	}

	if err := d.transport.SendArtifact(ctx, ev.ChatID, receipt.FinalRef, "Here is your final artwork. Thank you!"); err != nil {
		return err
	}
	return d.transport.SendText(ctx, ev.ChatID, "Order complete. Send /start any time for a new order.")
}

// sendCategoryMenu shows the top-level product menu.
func (d *Dispatcher) sendCategoryMenu(ctx context.Context, chatID int64) error {
	rows := make([][]Button, 0, 3)
	for _, cat := range d.catalog.Categories() {
		rows = append(rows, []Button{{
			Label: categoryLabel(cat),
			Data:  dataCategoryPrefix + string(cat),
		}})
	}
	return d.transport.SendMenu(ctx, chatID, "Welcome! What would you like to order?", rows)
}

// replyError maps machine errors to user-visible replies. Unknown
// errors get a generic apology and a log entry.
func (d *Dispatcher) replyError(ctx context.Context, ev Event, err error) error {
	var genErr *generate.GenerationError
	var text string
	switch {
	case errors.Is(err, order.ErrUnknownSession):
		text = "No active order. Send /start to begin."
	case errors.Is(err, order.ErrGenerationBusy):
		text = "Still working on your previous image, please wait."
	case errors.Is(err, order.ErrInvalidSelection):
		text = "That action does not fit where your order is right now. " + d.nextStepHint(ctx, ev.UserID)
	case errors.Is(err, order.ErrLedgerWrite):
		text = "We could not record your payment just now. Nothing was lost; please resend the screenshot."
	case errors.As(err, &genErr):
		text = "Image generation failed, please try again."
	default:
		log.Error().Err(err).Str("userId", ev.UserID).Msg("Unhandled dispatch error")
		text = "Something went wrong, please try again."
	}
	return d.transport.SendText(ctx, ev.ChatID, text)
}

// nextStepHint looks at the session to tell the user what input is
// expected next.
func (d *Dispatcher) nextStepHint(ctx context.Context, userID string) string {
	s, err := d.machine.Status(ctx, userID)
	if err != nil || s == nil {
		return "Send /start to begin."
	}
	switch s.State {
	case store.StateCategorySelected:
		return "Pick a style from the menu."
	case store.StateVariantSelected:
		return "Send a text description of what you want."
	case store.StatePreviewed:
		return "Use the Regenerate or continue buttons under your preview."
	case store.StateAwaitingPayment:
		return "Send a screenshot of your payment."
	default:
		return "Send /start to begin."
	}
}

func categoryLabel(cat catalog.Category) string {
	switch cat {
	case catalog.CategoryCV:
		return "CV / Resume"
	case catalog.CategoryArt:
		return "AI Art"
	case catalog.CategoryLogo:
		return "Logo Design"
	default:
		return string(cat)
	}
}

// formatAmount renders minor currency units as rupees.
func formatAmount(minor int64) string {
	return fmt.Sprintf("₹%d.%02d", minor/100, minor%100)
}
