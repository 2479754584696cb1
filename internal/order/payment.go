package order

import "context"

// PaymentVerifier decides whether a submitted payment proof covers
// the amount due. It is the seam where a real payment-gateway check
// plugs in; the state machine itself never inspects the proof.
type PaymentVerifier interface {
	// Verify returns whether the proof is accepted and, when it is
	// not, a short user-facing reason.
	Verify(ctx context.Context, proofRef string, amountDue int64) (accepted bool, reason string)
}

// AlwaysAccept accepts every submitted proof. This preserves the
// observed behavior of the system being modeled: a payment screenshot
// is trusted without verification. It is a known weakness kept
// deliberately behind this seam rather than silently strengthened;
// swap in a real verifier here to close it.
type AlwaysAccept struct{}

var _ PaymentVerifier = AlwaysAccept{}

func (AlwaysAccept) Verify(ctx context.Context, proofRef string, amountDue int64) (bool, string) {
	return true, ""
}
