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

const productsCollection = "products"

// ProductRepository persists catalog products and applies transactional stock
// mutations.
type ProductRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs a ProductRepository bound to the products collection.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	products := pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil)
	return &ProductRepository{provider: provider, products: products}, nil
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("product find: id is required")
	}

	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Product{}, repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, fmt.Sprintf("product %s not found", productID), err)
		}
		return domain.Product{}, wrapStockError("products.find", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ReserveStock decrements every line inside one transaction. The transaction
// aborts on the first missing product or short stock, so no partial decrement
// ever commits.
func (r *ProductRepository) ReserveStock(ctx context.Context, lines []repositories.StockLine) error {
	return r.mutateStock(ctx, "products.reserve", lines, func(doc *productDocument, line repositories.StockLine) error {
		if doc.Stock < line.Quantity {
			err := repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, fmt.Sprintf("insufficient stock for %s", line.ProductID), nil)
			err.ProductID = line.ProductID
			return err
		}
		doc.Stock -= line.Quantity
		return nil
	})
}

// RestoreStock adds quantities back, same all-or-nothing shape as ReserveStock.
func (r *ProductRepository) RestoreStock(ctx context.Context, lines []repositories.StockLine) error {
	return r.mutateStock(ctx, "products.restore", lines, func(doc *productDocument, line repositories.StockLine) error {
		doc.Stock += line.Quantity
		return nil
	})
}

func (r *ProductRepository) mutateStock(ctx context.Context, op string, lines []repositories.StockLine, apply func(*productDocument, repositories.StockLine) error) error {
	if r == nil || r.provider == nil {
		return errors.New("product repository not initialised")
	}
	if len(lines) == 0 {
		return repositories.NewInventoryError(repositories.InventoryErrorUnknown, "stock mutation: at least one line is required", nil)
	}

	merged := make([]repositories.StockLine, 0, len(lines))
	index := make(map[string]int, len(lines))
	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, "stock mutation: product id is required", nil)
		}
		if line.Quantity <= 0 {
			return repositories.NewInventoryError(repositories.InventoryErrorUnknown, fmt.Sprintf("stock mutation: quantity for %s must be > 0", productID), nil)
		}
		if i, ok := index[productID]; ok {
			merged[i].Quantity += line.Quantity
			continue
		}
		index[productID] = len(merged)
		merged = append(merged, repositories.StockLine{ProductID: productID, Quantity: line.Quantity})
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		refs := make([]*firestore.DocumentRef, len(merged))
		for i, line := range merged {
			ref, err := r.products.DocumentRef(ctx, line.ProductID)
			if err != nil {
				return err
			}
			refs[i] = ref
		}

		// Firestore transactions reject reads issued after the first buffered
		// write, so every snapshot is fetched before any Set is queued.
		snaps, err := tx.GetAll(refs)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		docs := make([]productDocument, len(merged))
		for i, line := range merged {
			if !snaps[i].Exists() {
				invErr := repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, fmt.Sprintf("product %s not found", line.ProductID), nil)
				invErr.ProductID = line.ProductID
				return invErr
			}
			if err := snaps[i].DataTo(&docs[i]); err != nil {
				return fmt.Errorf("decode product %s: %w", line.ProductID, err)
			}
			if err := apply(&docs[i], line); err != nil {
				return err
			}
			docs[i].UpdatedAt = now
		}

		for i, ref := range refs {
			if err := tx.Set(ref, docs[i]); err != nil {
				return err
			}
		}
		return nil
	})
	return wrapStockError(op, err)
}

func (r *ProductRepository) AdjustStock(ctx context.Context, productID string, delta int64) (domain.Product, error) {
	if r == nil || r.provider == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, "stock adjust: product id is required", nil)
	}
	if delta == 0 {
		return domain.Product{}, repositories.NewInventoryError(repositories.InventoryErrorUnknown, "stock adjust: delta must be non-zero", nil)
	}

	var updated domain.Product
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		productRef, err := r.products.DocumentRef(ctx, productID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(productRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				invErr := repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, fmt.Sprintf("product %s not found", productID), err)
				invErr.ProductID = productID
				return invErr
			}
			return err
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode product %s: %w", productID, err)
		}
		if doc.Stock+delta < 0 {
			invErr := repositories.NewInventoryError(repositories.InventoryErrorNegativeStock, fmt.Sprintf("stock for %s cannot drop below zero", productID), nil)
			invErr.ProductID = productID
			return invErr
		}
		doc.Stock += delta
		doc.UpdatedAt = time.Now().UTC()
		if err := tx.Set(productRef, doc); err != nil {
			return err
		}
		updated = doc.toDomain(productID)
		return nil
	})
	if err != nil {
		return domain.Product{}, wrapStockError("products.adjust", err)
	}
	return updated, nil
}

func (r *ProductRepository) ListByIDs(ctx context.Context, productIDs []string) ([]domain.Product, error) {
	if r == nil || r.products == nil {
		return nil, errors.New("product repository not initialised")
	}

	out := make([]domain.Product, 0, len(productIDs))
	seen := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		doc, err := r.products.Get(ctx, id)
		if err != nil {
			var repoErr *pfirestore.Error
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				invErr := repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, fmt.Sprintf("product %s not found", id), err)
				invErr.ProductID = id
				return nil, invErr
			}
			return nil, wrapStockError("products.list", err)
		}
		out = append(out, doc.Data.toDomain(doc.ID))
	}
	return out, nil
}

// Helper structures ---------------------------------------------------------

type productDocument struct {
	Name      string    `firestore:"name"`
	UnitPrice int64     `firestore:"unitPrice"`
	Stock     int64     `firestore:"stock"`
	ImageURL  string    `firestore:"imageUrl,omitempty"`
	Active    bool      `firestore:"active"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:        id,
		Name:      strings.TrimSpace(d.Name),
		UnitPrice: d.UnitPrice,
		Stock:     d.Stock,
		ImageURL:  strings.TrimSpace(d.ImageURL),
		Active:    d.Active,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func wrapStockError(op string, err error) error {
	if err == nil {
		return nil
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		if invErr.Op == "" {
			invErr.Op = op
		}
		return invErr
	}
	return pfirestore.WrapError(op, err)
}
