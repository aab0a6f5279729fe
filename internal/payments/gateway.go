package payments

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Logger defines the logging contract for payment gateway operations.
type Logger func(ctx context.Context, event string, fields map[string]any)

// ErrUnavailable indicates a transient gateway failure (5xx, network, timeout).
var ErrUnavailable = errors.New("payments: gateway unavailable")

// ErrNotFound indicates the referenced gateway resource does not exist.
var ErrNotFound = errors.New("payments: resource not found")

// RefundStatusProcessed is the gateway status of a completed refund.
const RefundStatusProcessed = "processed"

// GatewayOrder is the normalised result of creating an order at the gateway.
type GatewayOrder struct {
	ID       string
	Amount   int64
	Currency string
	Receipt  string
	Status   string
}

// Payment is the normalised view of a gateway payment.
type Payment struct {
	ID       string
	OrderID  string
	Amount   int64
	Currency string
	Status   string
	Method   string
	Email    string
	Contact  string
}

// Refund is the normalised view of a gateway refund.
type Refund struct {
	ID        string
	PaymentID string
	Amount    int64
	Currency  string
	Status    string
	CreatedAt time.Time
}

// CreateOrderRequest carries the inputs for creating a gateway order.
type CreateOrderRequest struct {
	AmountPaise int64
	Currency    string
	Receipt     string
	Notes       map[string]string
}

// Gateway abstracts the payment gateway operations this service depends on.
type Gateway interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (GatewayOrder, error)
	FetchPayment(ctx context.Context, paymentID string) (Payment, error)
	FetchRefund(ctx context.Context, refundID string) (Refund, error)
}

// RefundVerificationCode identifies the check a refund failed.
type RefundVerificationCode string

const (
	// RefundNoPaymentOnRecord means the order carries no gateway payment id to verify against.
	RefundNoPaymentOnRecord RefundVerificationCode = "refund_no_payment_on_record"
	// RefundPaymentMismatch means the refund belongs to a different payment.
	RefundPaymentMismatch RefundVerificationCode = "refund_payment_mismatch"
	// RefundNotProcessed means the refund has not reached processed status.
	RefundNotProcessed RefundVerificationCode = "refund_not_processed"
	// RefundAmountOutOfTolerance means the refunded amount deviates too far from the order total.
	RefundAmountOutOfTolerance RefundVerificationCode = "refund_amount_out_of_tolerance"
)

// RefundVerificationError reports why a refund failed verification.
type RefundVerificationError struct {
	Code    RefundVerificationCode
	Message string
}

// Error implements the error interface.
func (e *RefundVerificationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("refund verification failed (%s): %s", e.Code, e.Message)
}
