package domain

import (
	"time"
)

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order is placed and awaiting assignment.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusAssigned indicates the order has been handed to a delivery person.
	OrderStatusAssigned OrderStatus = "assigned"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusRejected indicates staff refused the order before delivery.
	OrderStatusRejected OrderStatus = "rejected"
	// OrderStatusCancelled indicates the order was withdrawn by the user or an admin.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// PaymentMethod enumerates how an order is paid.
type PaymentMethod string

const (
	// PaymentMethodCOD is cash on delivery.
	PaymentMethodCOD PaymentMethod = "cod"
	// PaymentMethodOnline is a gateway-prepaid order.
	PaymentMethodOnline PaymentMethod = "online"
)

// Address represents the postal address captured with an order.
type Address struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
}

// CustomerInfo snapshots the customer contact details at order time.
type CustomerInfo struct {
	Name    string
	Phone   string
	Email   string
	Address Address
}

// OrderItem snapshots a purchased product line. Amounts are int64 paise.
type OrderItem struct {
	ProductID string
	Name      string
	ImageURL  string
	UnitPrice int64
	Quantity  int64
	LineTotal int64
}

// Pricing holds the rolled-up monetary fields of an order in paise.
type Pricing struct {
	Subtotal    int64
	ShippingFee int64
	Tax         int64
	Total       int64
}

// PaymentInfo stores gateway references for online orders.
type PaymentInfo struct {
	GatewayOrderID    string
	GatewayPaymentID  string
	SignatureVerified bool
	PaidAt            *time.Time
}

// StatusChange records a single transition in the order's audit trail.
type StatusChange struct {
	From   OrderStatus
	To     OrderStatus
	Actor  string
	Reason string
	At     time.Time
}

// Order captures the full order aggregate shared across layers.
//
// OrderID is the client-assigned business key and doubles as the document id;
// the service enforces its uniqueness at creation.
type Order struct {
	OrderID       string
	UserID        string
	CustomerInfo  CustomerInfo
	Items         []OrderItem
	Pricing       Pricing
	PaymentMethod PaymentMethod
	PaymentInfo   PaymentInfo
	Status        OrderStatus

	AssignedTo   string
	AssignedFrom string
	AssignedAt   *time.Time

	DeliveredBy string
	ConfirmedBy string
	DeliveredAt *time.Time
	ConfirmedAt *time.Time

	RejectedBy      string
	RejectionReason string
	RejectedAt      *time.Time

	CancelledByUser    bool
	CancelledBy        string
	CancellationReason string
	CancelledAt        *time.Time

	RefundTransactionID string
	RefundAmount        int64
	RefundVerified      bool
	RefundedAt          *time.Time

	// StockRestored guards the cancel/delete restore path so reserved stock is
	// returned exactly once per order.
	StockRestored bool

	StatusHistory []StatusChange

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsTerminal reports whether no further user-facing transition applies. Admin
// cancellation may still move a delivered order to cancelled.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusRejected, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// RequiresRefund reports whether a prepaid order in this state owes the
// customer money back.
func (o Order) RequiresRefund() bool {
	if o.PaymentMethod != PaymentMethodOnline {
		return false
	}
	return o.Status == OrderStatusRejected || o.Status == OrderStatusCancelled
}

// Product is a catalog entry with its live stock level.
type Product struct {
	ID        string
	Name      string
	UnitPrice int64
	Stock     int64
	ImageURL  string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
