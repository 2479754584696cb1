package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/procoder700/telegrambot/internal/catalog"
	"github.com/procoder700/telegrambot/internal/generate"
	"github.com/procoder700/telegrambot/internal/ledger"
	"github.com/procoder700/telegrambot/internal/store"
)

// --- Test doubles ---

// fakeGenerator counts calls and can fail or block on demand.
type fakeGenerator struct {
	mu       sync.Mutex
	calls    int
	failNext bool

	// When block is non-nil, Generate signals started (if set) and
	// waits for block to close before returning.
	block   chan struct{}
	started chan struct{}
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string, watermark bool) (string, error) {
	g.mu.Lock()
	g.calls++
	n := g.calls
	fail := g.failNext
	g.failNext = false
	block := g.block
	started := g.started
	g.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if fail {
		return "", &generate.GenerationError{Reason: "backend unavailable"}
	}
	if watermark {
		return fmt.Sprintf("preview-%d", n), nil
	}
	return fmt.Sprintf("final-%d", n), nil
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// fakeLedger records appends in memory and can fail on demand.
type fakeLedger struct {
	mu       sync.Mutex
	records  []*ledger.Record
	failNext bool
}

func (l *fakeLedger) Append(ctx context.Context, rec *ledger.Record) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failNext {
		l.failNext = false
		return "", errors.New("disk full")
	}
	rec.ID = fmt.Sprintf("txn-%d", len(l.records)+1)
	rec.Timestamp = time.Now().UTC()
	stored := *rec
	l.records = append(l.records, &stored)
	return rec.ID, nil
}

func (l *fakeLedger) ListByUser(ctx context.Context, userID string) ([]*ledger.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*ledger.Record
	for _, r := range l.records {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (l *fakeLedger) acceptedCount(userID string) int {
	records, _ := l.ListByUser(context.Background(), userID)
	n := 0
	for _, r := range records {
		if r.Status == ledger.StatusAccepted {
			n++
		}
	}
	return n
}

// rejectingVerifier rejects the first n submissions.
type rejectingVerifier struct {
	mu        sync.Mutex
	remaining int
}

func (v *rejectingVerifier) Verify(ctx context.Context, proofRef string, amountDue int64) (bool, string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.remaining > 0 {
		v.remaining--
		return false, "the amount paid is not as per the price"
	}
	return true, ""
}

type fixture struct {
	machine  *Machine
	sessions *store.MemoryStore
	ledger   *fakeLedger
	gen      *fakeGenerator
}

func newFixture(t *testing.T, verifier PaymentVerifier) *fixture {
	t.Helper()
	f := &fixture{
		sessions: store.NewMemoryStore(0),
		ledger:   &fakeLedger{},
		gen:      &fakeGenerator{},
	}
	f.machine = NewMachine(catalog.Default(), f.sessions, f.ledger, f.gen, verifier)
	return f
}

// advanceTo walks a session to AWAITING_PAYMENT on ART/Fantasy.
func (f *fixture) advanceTo(t *testing.T, userID string) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.machine.SelectCategory(ctx, userID, catalog.CategoryArt); err != nil {
		t.Fatalf("SelectCategory: %v", err)
	}
	if _, err := f.machine.SelectVariant(ctx, userID, "Fantasy"); err != nil {
		t.Fatalf("SelectVariant: %v", err)
	}
	if _, err := f.machine.RequestPreview(ctx, userID, "a dragon over a castle"); err != nil {
		t.Fatalf("RequestPreview: %v", err)
	}
	if _, err := f.machine.ConfirmDone(ctx, userID); err != nil {
		t.Fatalf("ConfirmDone: %v", err)
	}
}

// --- Full order scenario ---

func TestOrderLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	variants, err := f.machine.SelectCategory(ctx, "user-1", catalog.CategoryArt)
	if err != nil {
		t.Fatalf("SelectCategory: %v", err)
	}
	if len(variants) != 3 {
		t.Fatalf("expected 3 ART variants, got %d", len(variants))
	}

	chosen, err := f.machine.SelectVariant(ctx, "user-1", "Fantasy")
	if err != nil {
		t.Fatalf("SelectVariant: %v", err)
	}
	if chosen.Price != 4500 {
		t.Errorf("expected price 4500, got %d", chosen.Price)
	}

	ref, err := f.machine.RequestPreview(ctx, "user-1", "a dragon over a castle")
	if err != nil {
		t.Fatalf("RequestPreview: %v", err)
	}
	if ref == "" {
		t.Fatal("expected non-empty preview ref")
	}
	s, _ := f.machine.Status(ctx, "user-1")
	if s.State != store.StatePreviewed {
		t.Errorf("expected PREVIEWED, got %s", s.State)
	}
	if s.PreviewRef == "" {
		t.Error("expected preview ref stored on session")
	}

	amount, err := f.machine.ConfirmDone(ctx, "user-1")
	if err != nil {
		t.Fatalf("ConfirmDone: %v", err)
	}
	if amount != 4500 {
		t.Errorf("expected amount due 4500, got %d", amount)
	}

	receipt, err := f.machine.SubmitPayment(ctx, "user-1", "photo-proof-1")
	if err != nil {
		t.Fatalf("SubmitPayment: %v", err)
	}
	if !receipt.Accepted {
		t.Fatal("expected payment accepted")
	}
	if receipt.FinalRef == "" {
		t.Error("expected final artifact ref")
	}

	records, _ := f.ledger.ListByUser(ctx, "user-1")
	if len(records) != 1 {
		t.Fatalf("expected exactly 1 transaction record, got %d", len(records))
	}
	rec := records[0]
	if rec.Category != "ART" || rec.Variant != "Fantasy" || rec.Amount != 4500 || rec.Status != ledger.StatusAccepted {
		t.Errorf("unexpected record: %+v", rec)
	}

	// Fulfilled sessions are removed.
	if s, _ := f.machine.Status(ctx, "user-1"); s != nil {
		t.Errorf("expected session removed after fulfillment, still in state %s", s.State)
	}
}

// --- Transition edges ---

func TestNoSkippingEdges(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.machine.SelectCategory(ctx, "user-1", catalog.CategoryArt)
	f.machine.SelectVariant(ctx, "user-1", "Fantasy")

	// VARIANT_SELECTED cannot jump straight to AWAITING_PAYMENT.
	if _, err := f.machine.ConfirmDone(ctx, "user-1"); !errors.Is(err, ErrInvalidSelection) {
		t.Errorf("ConfirmDone from VARIANT_SELECTED: expected ErrInvalidSelection, got %v", err)
	}

	// CATEGORY_SELECTED cannot preview.
	f.machine.SelectCategory(ctx, "user-2", catalog.CategoryCV)
	if _, err := f.machine.RequestPreview(ctx, "user-2", "my details"); !errors.Is(err, ErrInvalidSelection) {
		t.Errorf("RequestPreview from CATEGORY_SELECTED: expected ErrInvalidSelection, got %v", err)
	}
}

func TestSubmitPaymentBeforeConfirmationWritesNoRecord(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.machine.SelectCategory(ctx, "user-1", catalog.CategoryArt)
	f.machine.SelectVariant(ctx, "user-1", "Fantasy")

	_, err := f.machine.SubmitPayment(ctx, "user-1", "photo-proof")
	if !errors.Is(err, ErrInvalidSelection) {
		t.Fatalf("expected ErrInvalidSelection, got %v", err)
	}
	if records, _ := f.ledger.ListByUser(ctx, "user-1"); len(records) != 0 {
		t.Fatalf("expected no transaction record, got %d", len(records))
	}
}

func TestOperationsOnUnknownSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.machine.RequestPreview(ctx, "ghost", "anything"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("RequestPreview: expected ErrUnknownSession, got %v", err)
	}
	if _, err := f.machine.SubmitPayment(ctx, "ghost", "photo"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("SubmitPayment: expected ErrUnknownSession, got %v", err)
	}
	if _, err := f.machine.ConfirmDone(ctx, "ghost"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("ConfirmDone: expected ErrUnknownSession, got %v", err)
	}
	// Picking a variant with no session is an invalid selection, not
	// an unknown-session failure: no category has been chosen yet.
	if _, err := f.machine.SelectVariant(ctx, "ghost", "Fantasy"); !errors.Is(err, ErrInvalidSelection) {
		t.Errorf("SelectVariant: expected ErrInvalidSelection, got %v", err)
	}
}

func TestSelectVariantNotInCategory(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.machine.SelectCategory(ctx, "user-1", catalog.CategoryLogo)
	if _, err := f.machine.SelectVariant(ctx, "user-1", "Fantasy"); !errors.Is(err, ErrInvalidSelection) {
		t.Fatalf("expected ErrInvalidSelection for cross-category variant, got %v", err)
	}
}

func TestSelectCategoryUnknown(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.machine.SelectCategory(context.Background(), "user-1", catalog.Category("POSTER")); !errors.Is(err, ErrInvalidSelection) {
		t.Fatalf("expected ErrInvalidSelection, got %v", err)
	}
}

func TestSelectCategoryIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.machine.SelectCategory(ctx, "user-1", catalog.CategoryCV)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := f.machine.SelectCategory(ctx, "user-1", catalog.CategoryCV)
	if err != nil {
		t.Fatalf("unexpected error on re-selection: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("menus differ in length: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("menu entry %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}

	s, _ := f.machine.Status(ctx, "user-1")
	if s.State != store.StateCategorySelected {
		t.Errorf("expected CATEGORY_SELECTED, got %s", s.State)
	}
}

// --- Regeneration ---

func TestRegenerationChangesOnlyPreviewRef(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.machine.SelectCategory(ctx, "user-1", catalog.CategoryArt)
	f.machine.SelectVariant(ctx, "user-1", "Fantasy")
	f.machine.RequestPreview(ctx, "user-1", "a dragon over a castle")

	before, _ := f.machine.Status(ctx, "user-1")

	ref, err := f.machine.RequestPreview(ctx, "user-1", "")
	if err != nil {
		t.Fatalf("regeneration: %v", err)
	}
	if ref == before.PreviewRef {
		t.Error("expected a fresh preview ref on regeneration")
	}

	after, _ := f.machine.Status(ctx, "user-1")
	if after.Category != before.Category || after.Variant != before.Variant || after.Price != before.Price {
		t.Error("regeneration must not change category, variant or price")
	}
	if after.State != store.StatePreviewed {
		t.Errorf("expected PREVIEWED, got %s", after.State)
	}
	if after.PreviewRef != ref {
		t.Errorf("expected stored ref %s, got %s", ref, after.PreviewRef)
	}
}

func TestGeneratorFailureIsRecoverable(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.machine.SelectCategory(ctx, "user-1", catalog.CategoryArt)
	f.machine.SelectVariant(ctx, "user-1", "Fantasy")

	f.gen.failNext = true
	_, err := f.machine.RequestPreview(ctx, "user-1", "a dragon over a castle")
	var genErr *generate.GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected GenerationError, got %v", err)
	}

	s, _ := f.machine.Status(ctx, "user-1")
	if s.State != store.StateVariantSelected {
		t.Errorf("expected session to stay VARIANT_SELECTED, got %s", s.State)
	}
	if s.GenInFlight {
		t.Error("expected in-flight guard cleared after failure")
	}

	// A retry succeeds.
	ref, err := f.machine.RequestPreview(ctx, "user-1", "")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if ref == "" {
		t.Fatal("expected preview ref on retry")
	}
}

// --- Concurrency ---

func TestConcurrentPreviewRequestsOneWins(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.machine.SelectCategory(ctx, "user-1", catalog.CategoryArt)
	f.machine.SelectVariant(ctx, "user-1", "Fantasy")

	f.gen.block = make(chan struct{})
	f.gen.started = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := f.machine.RequestPreview(ctx, "user-1", "a dragon over a castle")
		done <- err
	}()

	// Wait until the first render is in flight, then race a second.
	<-f.gen.started
	_, err := f.machine.RequestPreview(ctx, "user-1", "")
	if !errors.Is(err, ErrGenerationBusy) {
		t.Errorf("expected ErrGenerationBusy for concurrent request, got %v", err)
	}

	close(f.gen.block)
	if err := <-done; err != nil {
		t.Fatalf("first request: %v", err)
	}

	if f.gen.callCount() != 1 {
		t.Errorf("expected exactly 1 generation call, got %d", f.gen.callCount())
	}
	s, _ := f.machine.Status(ctx, "user-1")
	if s.State != store.StatePreviewed {
		t.Errorf("expected PREVIEWED, got %s", s.State)
	}
}

func TestRestartDuringGenerationDiscardsResult(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.machine.SelectCategory(ctx, "user-1", catalog.CategoryArt)
	f.machine.SelectVariant(ctx, "user-1", "Fantasy")

	f.gen.block = make(chan struct{})
	f.gen.started = make(chan struct{}, 1)

	type result struct {
		ref string
		err error
	}
	done := make(chan result, 1)
	go func() {
		ref, err := f.machine.RequestPreview(ctx, "user-1", "a dragon over a castle")
		done <- result{ref, err}
	}()

	<-f.gen.started

	// Restarting the order while the render is outstanding is allowed.
	if _, err := f.machine.SelectCategory(ctx, "user-1", catalog.CategoryLogo); err != nil {
		t.Fatalf("SelectCategory during render: %v", err)
	}

	f.gen.mu.Lock()
	block := f.gen.block
	f.gen.block, f.gen.started = nil, nil
	f.gen.mu.Unlock()
	close(block)

	res := <-done
	if res.err != nil {
		t.Fatalf("orphaned render should not error: %v", res.err)
	}
	if res.ref != "" {
		t.Errorf("expected discarded result, got ref %q", res.ref)
	}

	s, _ := f.machine.Status(ctx, "user-1")
	if s.Category != "LOGO" {
		t.Errorf("expected restarted session on LOGO, got %s", s.Category)
	}
	if s.PreviewRef != "" {
		t.Error("discarded render must not leak a preview ref")
	}
	if s.GenInFlight {
		t.Error("restart must clear the in-flight guard")
	}

	// The new lifecycle is fully usable.
	if _, err := f.machine.SelectVariant(ctx, "user-1", "Logo"); err != nil {
		t.Fatalf("SelectVariant after restart: %v", err)
	}
	if _, err := f.machine.RequestPreview(ctx, "user-1", "minimal monogram"); err != nil {
		t.Fatalf("RequestPreview after restart: %v", err)
	}
}

// --- Payment ---

func TestRejectedPaymentKeepsSessionForRetry(t *testing.T) {
	f := newFixture(t, &rejectingVerifier{remaining: 1})
	ctx := context.Background()
	f.advanceTo(t, "user-1")

	receipt, err := f.machine.SubmitPayment(ctx, "user-1", "photo-bad")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipt.Accepted {
		t.Fatal("expected rejection")
	}
	if receipt.Record.Status != ledger.StatusRejected {
		t.Errorf("expected REJECTED record, got %s", receipt.Record.Status)
	}

	s, _ := f.machine.Status(ctx, "user-1")
	if s == nil || s.State != store.StateAwaitingPayment {
		t.Fatalf("expected session kept in AWAITING_PAYMENT, got %+v", s)
	}

	// Retry succeeds and yields exactly one ACCEPTED record.
	receipt, err = f.machine.SubmitPayment(ctx, "user-1", "photo-good")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !receipt.Accepted {
		t.Fatal("expected retry accepted")
	}

	records, _ := f.ledger.ListByUser(ctx, "user-1")
	if len(records) != 2 {
		t.Fatalf("expected 2 records (rejected + accepted), got %d", len(records))
	}
	if f.ledger.acceptedCount("user-1") != 1 {
		t.Fatalf("expected exactly 1 ACCEPTED record, got %d", f.ledger.acceptedCount("user-1"))
	}
}

func TestAtMostOneAcceptedRecord(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.advanceTo(t, "user-1")

	if _, err := f.machine.SubmitPayment(ctx, "user-1", "photo-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The session is gone; a duplicate submission cannot double-accept.
	if _, err := f.machine.SubmitPayment(ctx, "user-1", "photo-1"); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession on duplicate submission, got %v", err)
	}
	if f.ledger.acceptedCount("user-1") != 1 {
		t.Fatalf("expected exactly 1 ACCEPTED record, got %d", f.ledger.acceptedCount("user-1"))
	}
}

func TestLedgerWriteFailureBlocksFulfillment(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.advanceTo(t, "user-1")

	f.ledger.failNext = true
	_, err := f.machine.SubmitPayment(ctx, "user-1", "photo-1")
	if !errors.Is(err, ErrLedgerWrite) {
		t.Fatalf("expected ErrLedgerWrite, got %v", err)
	}

	// The session must not advance without its durable record.
	s, _ := f.machine.Status(ctx, "user-1")
	if s == nil || s.State != store.StateAwaitingPayment {
		t.Fatalf("expected session kept in AWAITING_PAYMENT, got %+v", s)
	}
	if len(f.ledger.records) != 0 {
		t.Fatalf("expected no record after failed append, got %d", len(f.ledger.records))
	}

	// Retrying after the ledger recovers completes the order.
	receipt, err := f.machine.SubmitPayment(ctx, "user-1", "photo-1")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !receipt.Accepted {
		t.Fatal("expected retry accepted")
	}
	if f.ledger.acceptedCount("user-1") != 1 {
		t.Fatalf("expected exactly 1 ACCEPTED record, got %d", f.ledger.acceptedCount("user-1"))
	}
}

func TestSelectCategoryBlockedWhileAwaitingPayment(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.advanceTo(t, "user-1")

	if _, err := f.machine.SelectCategory(ctx, "user-1", catalog.CategoryCV); !errors.Is(err, ErrInvalidSelection) {
		t.Fatalf("expected ErrInvalidSelection while awaiting payment, got %v", err)
	}
}

func TestFinalGenerationFailureStillRecordsPayment(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.advanceTo(t, "user-1")

	f.gen.failNext = true
	receipt, err := f.machine.SubmitPayment(ctx, "user-1", "photo-1")
	var genErr *generate.GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
	if receipt == nil || !receipt.Accepted {
		t.Fatal("expected accepted receipt despite delivery failure")
	}
	if receipt.FinalRef != "" {
		t.Error("expected empty final ref on delivery failure")
	}
	if f.ledger.acceptedCount("user-1") != 1 {
		t.Fatalf("expected the accepted record kept, got %d", f.ledger.acceptedCount("user-1"))
	}
}
