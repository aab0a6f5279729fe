package services

import (
	"context"
	"time"

	domain "github.com/HemantMali8233/Krishivishwa-Biotech/internal/domain"
	"github.com/HemantMali8233/Krishivishwa-Biotech/internal/payments"
	"github.com/HemantMali8233/Krishivishwa-Biotech/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order         = domain.Order
	OrderStatus   = domain.OrderStatus
	OrderItem     = domain.OrderItem
	CustomerInfo  = domain.CustomerInfo
	Pricing       = domain.Pricing
	PaymentInfo   = domain.PaymentInfo
	PaymentMethod = domain.PaymentMethod
	StatusChange  = domain.StatusChange
	Product       = domain.Product
	StockLine     = repositories.StockLine
)

// OrderService encapsulates the order lifecycle: creation with stock
// reservation and payment verification, the fulfillment state machine, refund
// recording and administrative deletion.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, query GetOrderQuery) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) ([]Order, error)
	AssignOrder(ctx context.Context, cmd AssignOrderCommand) (Order, error)
	DeliverOrder(ctx context.Context, cmd DeliverOrderCommand) (Order, error)
	RejectOrder(ctx context.Context, cmd RejectOrderCommand) (Order, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	AdminCancelOrder(ctx context.Context, cmd AdminCancelOrderCommand) (Order, error)
	RecordRefund(ctx context.Context, cmd RecordRefundCommand) (Order, error)
	DeleteOrder(ctx context.Context, cmd DeleteOrderCommand) error
}

// InventoryService guards product stock: all-or-nothing reservation,
// restoration and administrative adjustments.
type InventoryService interface {
	ReserveStock(ctx context.Context, lines []StockLine) error
	RestoreStock(ctx context.Context, lines []StockLine) error
	AdjustStock(ctx context.Context, cmd AdjustStockCommand) (Product, error)
	StockLevels(ctx context.Context, productIDs []string) ([]Product, error)
}

// PaymentSignatureVerifier checks the gateway signature transmitted after an
// online payment.
type PaymentSignatureVerifier interface {
	Verify(orderRef, paymentRef, signature string) bool
}

// RefundVerifier validates a recorded refund against the gateway.
type RefundVerifier interface {
	Verify(ctx context.Context, check payments.RefundCheck) (payments.Refund, error)
}

// OrderEvent describes a state change published for downstream consumers
// (notifications, analytics).
type OrderEvent struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	OrderID        string         `json:"orderId"`
	UserID         string         `json:"userId,omitempty"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	Status         string         `json:"status,omitempty"`
	Actor          string         `json:"actor,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Order event types.
const (
	OrderEventCreated        = "order.created"
	OrderEventAssigned       = "order.assigned"
	OrderEventDelivered      = "order.delivered"
	OrderEventRejected       = "order.rejected"
	OrderEventCancelled      = "order.cancelled"
	OrderEventRefundRecorded = "order.refund_recorded"
	OrderEventDeleted        = "order.deleted"
	OrderEventStockAdjusted  = "inventory.stock_adjusted"
)

// OrderEventPublisher dispatches order events. Publishing is fire-and-forget
// from the service's perspective; failures are logged, never surfaced.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) (string, error)
}

// GetOrderQuery identifies an order read and the identity asking for it.
type GetOrderQuery struct {
	OrderID string
	// UserID restricts the read to the order's owner when set. Staff readers
	// leave it empty.
	UserID string
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	UserID            string
	Statuses          []OrderStatus
	PaymentMethod     PaymentMethod
	PendingRefundOnly bool
	Limit             int
}

// CreateOrderCommand carries everything needed to place an order.
type CreateOrderCommand struct {
	OrderID       string
	UserID        string
	CustomerInfo  CustomerInfo
	Items         []OrderItem
	Pricing       Pricing
	PaymentMethod PaymentMethod
	// Gateway references, required for online orders.
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

// AssignOrderCommand hands a pending order to a delivery person.
type AssignOrderCommand struct {
	OrderID      string
	AssignedTo   string
	AssignedFrom string
	Actor        string
}

// DeliverOrderCommand marks an assigned order delivered.
type DeliverOrderCommand struct {
	OrderID     string
	DeliveredBy string
	ConfirmedBy string
	Actor       string
}

// RejectOrderCommand refuses a pending or assigned order. Online orders
// require a refund transaction id, verified against the gateway unless
// SkipVerification is set.
type RejectOrderCommand struct {
	OrderID             string
	RejectedBy          string
	Reason              string
	RefundTransactionID string
	SkipVerification    bool
	Actor               string
}

// CancelOrderCommand is the user-facing cancellation of a pending order.
type CancelOrderCommand struct {
	OrderID string
	UserID  string
	Reason  string
}

// AdminCancelOrderCommand cancels an order in any non-cancelled state. A
// supplied refund id is recorded unverified.
type AdminCancelOrderCommand struct {
	OrderID             string
	AdminName           string
	Reason              string
	RefundTransactionID string
}

// RecordRefundCommand attaches a verified refund to a rejected or cancelled
// online order.
type RecordRefundCommand struct {
	OrderID             string
	RefundTransactionID string
	SkipVerification    bool
	Actor               string
}

// DeleteOrderCommand purges an order, restoring stock first when needed.
type DeleteOrderCommand struct {
	OrderID string
	Actor   string
}

// AdjustStockCommand applies a signed stock delta to one product.
type AdjustStockCommand struct {
	ProductID string
	Delta     int64
	Actor     string
	Reason    string
}
