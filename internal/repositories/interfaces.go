package repositories

import (
	"context"

	domain "github.com/HemantMali8233/Krishivishwa-Biotech/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderListFilter narrows order list queries.
type OrderListFilter struct {
	UserID        string
	Statuses      []domain.OrderStatus
	PaymentMethod domain.PaymentMethod
	// PendingRefundOnly keeps only prepaid rejected/cancelled orders whose
	// refund has not been verified yet.
	PendingRefundOnly bool
	Limit             int
}

// OrderRepository persists order aggregates keyed by the client-assigned order id.
type OrderRepository interface {
	// Insert creates the order document and fails with a conflict when the
	// order id is already taken.
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// UpdateWithStatus replaces the stored order inside a transaction that
	// re-reads the document and fails with a conflict unless its status still
	// equals expected. This is the optimistic guard for status transitions.
	UpdateWithStatus(ctx context.Context, order domain.Order, expected domain.OrderStatus) error
	Delete(ctx context.Context, orderID string) error
	List(ctx context.Context, filter OrderListFilter) ([]domain.Order, error)
}

// StockLine pairs a product with a quantity for reservation and restoration.
type StockLine struct {
	ProductID string
	Quantity  int64
}

// ProductRepository manages catalog products and their stock counters with
// transactional guarantees.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	// ReserveStock decrements stock for every line inside one transaction.
	// Either all decrements commit or none do; insufficient stock or a missing
	// product aborts with a typed *InventoryError naming the product.
	ReserveStock(ctx context.Context, lines []StockLine) error
	// RestoreStock adds the quantities back, same all-or-nothing shape.
	RestoreStock(ctx context.Context, lines []StockLine) error
	// AdjustStock applies a signed delta to a single product and returns the
	// updated product. The resulting stock must not go negative.
	AdjustStock(ctx context.Context, productID string, delta int64) (domain.Product, error)
	ListByIDs(ctx context.Context, productIDs []string) ([]domain.Product, error)
}
