package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/HemantMali8233/Krishivishwa-Biotech/internal/domain"
)

// RefundCheck carries the inputs for verifying a gateway refund against an order.
type RefundCheck struct {
	RefundID          string
	ExpectedPaymentID string
	OrderTotalPaise   int64
}

// RefundVerifier validates that a refund recorded against an order is real:
// it belongs to the order's payment, has been processed, and covers the order
// total within tolerance.
type RefundVerifier struct {
	gateway Gateway
}

// NewRefundVerifier constructs a RefundVerifier over the given gateway.
func NewRefundVerifier(gateway Gateway) (*RefundVerifier, error) {
	if gateway == nil {
		return nil, errors.New("refund verifier: gateway is required")
	}
	return &RefundVerifier{gateway: gateway}, nil
}

// Verify fetches the refund and runs the three checks. Verification failures
// surface as *RefundVerificationError; gateway trouble keeps its own typing so
// callers can distinguish "refund is wrong" from "could not check".
func (v *RefundVerifier) Verify(ctx context.Context, check RefundCheck) (Refund, error) {
	if v == nil || v.gateway == nil {
		return Refund{}, errors.New("refund verifier: not initialised")
	}
	refundID := strings.TrimSpace(check.RefundID)
	if refundID == "" {
		return Refund{}, errors.New("refund verifier: refund id is required")
	}
	expected := strings.TrimSpace(check.ExpectedPaymentID)
	if expected == "" {
		return Refund{}, &RefundVerificationError{
			Code:    RefundNoPaymentOnRecord,
			Message: fmt.Sprintf("refund %s cannot be verified: order has no gateway payment id on record", refundID),
		}
	}

	refund, err := v.gateway.FetchRefund(ctx, refundID)
	if err != nil {
		return Refund{}, err
	}

	if refund.PaymentID != expected {
		return Refund{}, &RefundVerificationError{
			Code:    RefundPaymentMismatch,
			Message: fmt.Sprintf("refund %s belongs to payment %s, order paid with %s", refund.ID, refund.PaymentID, expected),
		}
	}
	if refund.Status != RefundStatusProcessed {
		return Refund{}, &RefundVerificationError{
			Code:    RefundNotProcessed,
			Message: fmt.Sprintf("refund %s has status %s", refund.ID, refund.Status),
		}
	}
	if !domain.WithinRefundTolerance(check.OrderTotalPaise, refund.Amount) {
		return Refund{}, &RefundVerificationError{
			Code: RefundAmountOutOfTolerance,
			Message: fmt.Sprintf("refund %s amount %d deviates from order total %d beyond tolerance %d",
				refund.ID, refund.Amount, check.OrderTotalPaise, domain.RefundTolerance(check.OrderTotalPaise)),
		}
	}

	return refund, nil
}
