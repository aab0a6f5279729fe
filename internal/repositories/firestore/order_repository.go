package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/HemantMali8233/Krishivishwa-Biotech/internal/domain"
	pfirestore "github.com/HemantMali8233/Krishivishwa-Biotech/internal/platform/firestore"
	"github.com/HemantMali8233/Krishivishwa-Biotech/internal/repositories"
)

const (
	ordersCollection = "orders"
	defaultListLimit = 100
	maxListLimit     = 500
)

// OrderRepository persists order aggregates keyed by the client-assigned order id.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs an OrderRepository bound to the orders collection.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	orders := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{provider: provider, orders: orders}, nil
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// Insert creates the order document. A taken order id surfaces as a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.OrderID)
	if orderID == "" {
		return errors.New("order insert: order id is required")
	}

	doc := newOrderDocument(order)
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		if err := tx.Create(orderRef, doc); err != nil {
			return err
		}
		return nil
	})
	return pfirestore.WrapError("orders.insert", err)
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order find: order id is required")
	}

	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// UpdateWithStatus replaces the stored order after re-reading it and checking
// the status still equals expected. A mismatch means another writer got there
// first and surfaces as a conflict.
func (r *OrderRepository) UpdateWithStatus(ctx context.Context, order domain.Order, expected domain.OrderStatus) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	orderID := strings.TrimSpace(order.OrderID)
	if orderID == "" {
		return errors.New("order update: order id is required")
	}

	doc := newOrderDocument(order)
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(orderRef)
		if err != nil {
			return err
		}
		var current orderDocument
		if err := snap.DataTo(&current); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}
		if domain.OrderStatus(current.Status) != expected {
			return pfirestore.NewConflictError("orders.update",
				fmt.Errorf("order %s status is %s, expected %s", orderID, current.Status, expected))
		}
		return tx.Set(orderRef, doc)
	})
	return pfirestore.WrapError("orders.update", err)
}

func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return errors.New("order delete: order id is required")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return err
		}
		if _, err := tx.Get(orderRef); err != nil {
			if status.Code(err) == codes.NotFound {
				return pfirestore.NewNotFoundError("orders.delete", fmt.Errorf("order %s not found", orderID))
			}
			return err
		}
		return tx.Delete(orderRef)
	})
	return pfirestore.WrapError("orders.delete", err)
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	if r == nil || r.orders == nil {
		return nil, errors.New("order repository not initialised")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	docs, err := r.orders.Query(ctx, func(query firestore.Query) firestore.Query {
		if userID := strings.TrimSpace(filter.UserID); userID != "" {
			query = query.Where("userId", "==", userID)
		}
		if filter.PendingRefundOnly {
			query = query.
				Where("paymentMethod", "==", string(domain.PaymentMethodOnline)).
				Where("status", "in", []string{string(domain.OrderStatusRejected), string(domain.OrderStatusCancelled)}).
				Where("refundVerified", "==", false)
		} else {
			if len(filter.Statuses) > 0 {
				statuses := make([]string, 0, len(filter.Statuses))
				for _, s := range filter.Statuses {
					statuses = append(statuses, string(s))
				}
				query = query.Where("status", "in", statuses)
			}
			if filter.PaymentMethod != "" {
				query = query.Where("paymentMethod", "==", string(filter.PaymentMethod))
			}
		}
		return query.OrderBy("createdAt", firestore.Desc).Limit(limit)
	})
	if err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}
	return orders, nil
}

// Helper structures ---------------------------------------------------------

type orderDocument struct {
	UserID         string              `firestore:"userId"`
	Customer       customerDocument    `firestore:"customer"`
	Items          []orderItemDocument `firestore:"items"`
	Pricing        pricingDocument     `firestore:"pricing"`
	PaymentMethod  string              `firestore:"paymentMethod"`
	Payment        paymentInfoDocument `firestore:"payment"`
	Status         string              `firestore:"status"`
	RefundVerified bool                `firestore:"refundVerified"`

	AssignedTo   string     `firestore:"assignedTo,omitempty"`
	AssignedFrom string     `firestore:"assignedFrom,omitempty"`
	AssignedAt   *time.Time `firestore:"assignedAt,omitempty"`

	DeliveredBy string     `firestore:"deliveredBy,omitempty"`
	ConfirmedBy string     `firestore:"confirmedBy,omitempty"`
	DeliveredAt *time.Time `firestore:"deliveredAt,omitempty"`
	ConfirmedAt *time.Time `firestore:"confirmedAt,omitempty"`

	RejectedBy      string     `firestore:"rejectedBy,omitempty"`
	RejectionReason string     `firestore:"rejectionReason,omitempty"`
	RejectedAt      *time.Time `firestore:"rejectedAt,omitempty"`

	CancelledByUser    bool       `firestore:"cancelledByUser"`
	CancelledBy        string     `firestore:"cancelledBy,omitempty"`
	CancellationReason string     `firestore:"cancellationReason,omitempty"`
	CancelledAt        *time.Time `firestore:"cancelledAt,omitempty"`

	RefundTransactionID string     `firestore:"refundTransactionId,omitempty"`
	RefundAmount        int64      `firestore:"refundAmount,omitempty"`
	RefundedAt          *time.Time `firestore:"refundedAt,omitempty"`

	StockRestored bool `firestore:"stockRestored"`

	StatusHistory []statusChangeDocument `firestore:"statusHistory"`

	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type customerDocument struct {
	Name       string `firestore:"name"`
	Phone      string `firestore:"phone"`
	Email      string `firestore:"email,omitempty"`
	Line1      string `firestore:"addressLine1"`
	Line2      string `firestore:"addressLine2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state"`
	PostalCode string `firestore:"postalCode"`
}

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	Name      string `firestore:"name"`
	ImageURL  string `firestore:"imageUrl,omitempty"`
	UnitPrice int64  `firestore:"unitPrice"`
	Quantity  int64  `firestore:"qty"`
	LineTotal int64  `firestore:"lineTotal"`
}

type pricingDocument struct {
	Subtotal    int64 `firestore:"subtotal"`
	ShippingFee int64 `firestore:"shippingFee"`
	Tax         int64 `firestore:"tax"`
	Total       int64 `firestore:"total"`
}

type paymentInfoDocument struct {
	GatewayOrderID    string     `firestore:"gatewayOrderId,omitempty"`
	GatewayPaymentID  string     `firestore:"gatewayPaymentId,omitempty"`
	SignatureVerified bool       `firestore:"signatureVerified"`
	PaidAt            *time.Time `firestore:"paidAt,omitempty"`
}

type statusChangeDocument struct {
	From   string    `firestore:"from,omitempty"`
	To     string    `firestore:"to"`
	Actor  string    `firestore:"actor"`
	Reason string    `firestore:"reason,omitempty"`
	At     time.Time `firestore:"at"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDocument{
			ProductID: strings.TrimSpace(item.ProductID),
			Name:      strings.TrimSpace(item.Name),
			ImageURL:  strings.TrimSpace(item.ImageURL),
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal,
		}
	}

	history := make([]statusChangeDocument, len(order.StatusHistory))
	for i, change := range order.StatusHistory {
		history[i] = statusChangeDocument{
			From:   string(change.From),
			To:     string(change.To),
			Actor:  strings.TrimSpace(change.Actor),
			Reason: strings.TrimSpace(change.Reason),
			At:     change.At.UTC(),
		}
	}

	return orderDocument{
		UserID: strings.TrimSpace(order.UserID),
		Customer: customerDocument{
			Name:       strings.TrimSpace(order.CustomerInfo.Name),
			Phone:      strings.TrimSpace(order.CustomerInfo.Phone),
			Email:      strings.TrimSpace(order.CustomerInfo.Email),
			Line1:      strings.TrimSpace(order.CustomerInfo.Address.Line1),
			Line2:      strings.TrimSpace(order.CustomerInfo.Address.Line2),
			City:       strings.TrimSpace(order.CustomerInfo.Address.City),
			State:      strings.TrimSpace(order.CustomerInfo.Address.State),
			PostalCode: strings.TrimSpace(order.CustomerInfo.Address.PostalCode),
		},
		Items: items,
		Pricing: pricingDocument{
			Subtotal:    order.Pricing.Subtotal,
			ShippingFee: order.Pricing.ShippingFee,
			Tax:         order.Pricing.Tax,
			Total:       order.Pricing.Total,
		},
		PaymentMethod: string(order.PaymentMethod),
		Payment: paymentInfoDocument{
			GatewayOrderID:    strings.TrimSpace(order.PaymentInfo.GatewayOrderID),
			GatewayPaymentID:  strings.TrimSpace(order.PaymentInfo.GatewayPaymentID),
			SignatureVerified: order.PaymentInfo.SignatureVerified,
			PaidAt:            utcPtr(order.PaymentInfo.PaidAt),
		},
		Status:         string(order.Status),
		RefundVerified: order.RefundVerified,

		AssignedTo:   strings.TrimSpace(order.AssignedTo),
		AssignedFrom: strings.TrimSpace(order.AssignedFrom),
		AssignedAt:   utcPtr(order.AssignedAt),

		DeliveredBy: strings.TrimSpace(order.DeliveredBy),
		ConfirmedBy: strings.TrimSpace(order.ConfirmedBy),
		DeliveredAt: utcPtr(order.DeliveredAt),
		ConfirmedAt: utcPtr(order.ConfirmedAt),

		RejectedBy:      strings.TrimSpace(order.RejectedBy),
		RejectionReason: strings.TrimSpace(order.RejectionReason),
		RejectedAt:      utcPtr(order.RejectedAt),

		CancelledByUser:    order.CancelledByUser,
		CancelledBy:        strings.TrimSpace(order.CancelledBy),
		CancellationReason: strings.TrimSpace(order.CancellationReason),
		CancelledAt:        utcPtr(order.CancelledAt),

		RefundTransactionID: strings.TrimSpace(order.RefundTransactionID),
		RefundAmount:        order.RefundAmount,
		RefundedAt:          utcPtr(order.RefundedAt),

		StockRestored: order.StockRestored,
		StatusHistory: history,

		CreatedAt: order.CreatedAt.UTC(),
		UpdatedAt: order.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			ImageURL:  item.ImageURL,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal,
		}
	}

	history := make([]domain.StatusChange, len(d.StatusHistory))
	for i, change := range d.StatusHistory {
		history[i] = domain.StatusChange{
			From:   domain.OrderStatus(change.From),
			To:     domain.OrderStatus(change.To),
			Actor:  change.Actor,
			Reason: change.Reason,
			At:     change.At,
		}
	}

	return domain.Order{
		OrderID: id,
		UserID:  d.UserID,
		CustomerInfo: domain.CustomerInfo{
			Name:  d.Customer.Name,
			Phone: d.Customer.Phone,
			Email: d.Customer.Email,
			Address: domain.Address{
				Line1:      d.Customer.Line1,
				Line2:      d.Customer.Line2,
				City:       d.Customer.City,
				State:      d.Customer.State,
				PostalCode: d.Customer.PostalCode,
			},
		},
		Items: items,
		Pricing: domain.Pricing{
			Subtotal:    d.Pricing.Subtotal,
			ShippingFee: d.Pricing.ShippingFee,
			Tax:         d.Pricing.Tax,
			Total:       d.Pricing.Total,
		},
		PaymentMethod: domain.PaymentMethod(d.PaymentMethod),
		PaymentInfo: domain.PaymentInfo{
			GatewayOrderID:    d.Payment.GatewayOrderID,
			GatewayPaymentID:  d.Payment.GatewayPaymentID,
			SignatureVerified: d.Payment.SignatureVerified,
			PaidAt:            d.Payment.PaidAt,
		},
		Status: domain.OrderStatus(d.Status),

		AssignedTo:   d.AssignedTo,
		AssignedFrom: d.AssignedFrom,
		AssignedAt:   d.AssignedAt,

		DeliveredBy: d.DeliveredBy,
		ConfirmedBy: d.ConfirmedBy,
		DeliveredAt: d.DeliveredAt,
		ConfirmedAt: d.ConfirmedAt,

		RejectedBy:      d.RejectedBy,
		RejectionReason: d.RejectionReason,
		RejectedAt:      d.RejectedAt,

		CancelledByUser:    d.CancelledByUser,
		CancelledBy:        d.CancelledBy,
		CancellationReason: d.CancellationReason,
		CancelledAt:        d.CancelledAt,

		RefundTransactionID: d.RefundTransactionID,
		RefundAmount:        d.RefundAmount,
		RefundVerified:      d.RefundVerified,
		RefundedAt:          d.RefundedAt,

		StockRestored: d.StockRestored,
		StatusHistory: history,

		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
