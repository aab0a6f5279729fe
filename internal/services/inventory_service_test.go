package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/HemantMali8233/Krishivishwa-Biotech/internal/repositories"
)

type stubProductRepository struct {
	findByIDFn     func(ctx context.Context, productID string) (Product, error)
	reserveStockFn func(ctx context.Context, lines []repositories.StockLine) error
	restoreStockFn func(ctx context.Context, lines []repositories.StockLine) error
	adjustStockFn  func(ctx context.Context, productID string, delta int64) (Product, error)
	listByIDsFn    func(ctx context.Context, productIDs []string) ([]Product, error)
}

func (s *stubProductRepository) FindByID(ctx context.Context, productID string) (Product, error) {
	if s.findByIDFn == nil {
		return Product{}, errors.New("unexpected FindByID call")
	}
	return s.findByIDFn(ctx, productID)
}

func (s *stubProductRepository) ReserveStock(ctx context.Context, lines []repositories.StockLine) error {
	if s.reserveStockFn == nil {
		return errors.New("unexpected ReserveStock call")
	}
	return s.reserveStockFn(ctx, lines)
}

func (s *stubProductRepository) RestoreStock(ctx context.Context, lines []repositories.StockLine) error {
	if s.restoreStockFn == nil {
		return errors.New("unexpected RestoreStock call")
	}
	return s.restoreStockFn(ctx, lines)
}

func (s *stubProductRepository) AdjustStock(ctx context.Context, productID string, delta int64) (Product, error) {
	if s.adjustStockFn == nil {
		return Product{}, errors.New("unexpected AdjustStock call")
	}
	return s.adjustStockFn(ctx, productID, delta)
}

func (s *stubProductRepository) ListByIDs(ctx context.Context, productIDs []string) ([]Product, error) {
	if s.listByIDsFn == nil {
		return nil, errors.New("unexpected ListByIDs call")
	}
	return s.listByIDsFn(ctx, productIDs)
}

func newInventoryService(t *testing.T, products repositories.ProductRepository, publisher OrderEventPublisher) InventoryService {
	t.Helper()
	svc, err := NewInventoryService(InventoryServiceDeps{
		Products:    products,
		Clock:       func() time.Time { return testNow },
		IDGenerator: func() string { return "01TESTSTOCK" },
		Events:      publisher,
	})
	if err != nil {
		t.Fatalf("NewInventoryService: %v", err)
	}
	return svc
}

func TestReserveStockMergesDuplicateLines(t *testing.T) {
	var captured []repositories.StockLine
	svc := newInventoryService(t, &stubProductRepository{
		reserveStockFn: func(_ context.Context, lines []repositories.StockLine) error {
			captured = lines
			return nil
		},
	}, nil)

	err := svc.ReserveStock(context.Background(), []StockLine{
		{ProductID: " prod-a ", Quantity: 2},
		{ProductID: "prod-b", Quantity: 1},
		{ProductID: "prod-a", Quantity: 3},
	})
	if err != nil {
		t.Fatalf("ReserveStock: %v", err)
	}
	if len(captured) != 2 {
		t.Fatalf("expected merged lines, got %+v", captured)
	}
	if captured[0].ProductID != "prod-a" || captured[0].Quantity != 5 {
		t.Fatalf("expected prod-a merged to 5, got %+v", captured[0])
	}
}

func TestReserveStockValidatesLines(t *testing.T) {
	svc := newInventoryService(t, &stubProductRepository{}, nil)

	if err := svc.ReserveStock(context.Background(), nil); !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("expected invalid input for empty lines, got %v", err)
	}
	if err := svc.ReserveStock(context.Background(), []StockLine{{ProductID: "prod-a", Quantity: 0}}); !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("expected invalid input for zero quantity, got %v", err)
	}
	if err := svc.ReserveStock(context.Background(), []StockLine{{ProductID: "  ", Quantity: 1}}); !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("expected invalid input for blank product id, got %v", err)
	}
}

func TestReserveStockMapsInsufficientStock(t *testing.T) {
	svc := newInventoryService(t, &stubProductRepository{
		reserveStockFn: func(context.Context, []repositories.StockLine) error {
			return repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, "product prod-b has 1 of 2 requested", nil)
		},
	}, nil)

	err := svc.ReserveStock(context.Background(), []StockLine{{ProductID: "prod-b", Quantity: 2}})
	if !errors.Is(err, ErrInventoryInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
}

func TestReserveStockMapsUnknownProduct(t *testing.T) {
	svc := newInventoryService(t, &stubProductRepository{
		reserveStockFn: func(context.Context, []repositories.StockLine) error {
			return repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, "product prod-x not found", nil)
		},
	}, nil)

	err := svc.ReserveStock(context.Background(), []StockLine{{ProductID: "prod-x", Quantity: 1}})
	if !errors.Is(err, ErrInventoryProductNotFound) {
		t.Fatalf("expected product not found, got %v", err)
	}
}

func TestRestoreStockForwardsLines(t *testing.T) {
	var captured []repositories.StockLine
	svc := newInventoryService(t, &stubProductRepository{
		restoreStockFn: func(_ context.Context, lines []repositories.StockLine) error {
			captured = lines
			return nil
		},
	}, nil)

	if err := svc.RestoreStock(context.Background(), []StockLine{{ProductID: "prod-a", Quantity: 2}}); err != nil {
		t.Fatalf("RestoreStock: %v", err)
	}
	if len(captured) != 1 || captured[0].Quantity != 2 {
		t.Fatalf("unexpected lines: %+v", captured)
	}
}

func TestAdjustStockPublishesEvent(t *testing.T) {
	publisher := &capturePublisher{}
	svc := newInventoryService(t, &stubProductRepository{
		adjustStockFn: func(_ context.Context, productID string, delta int64) (Product, error) {
			if productID != "prod-a" || delta != 10 {
				t.Fatalf("unexpected adjust args: %s %d", productID, delta)
			}
			return Product{ID: "prod-a", Stock: 15}, nil
		},
	}, publisher)

	product, err := svc.AdjustStock(context.Background(), AdjustStockCommand{
		ProductID: "prod-a",
		Delta:     10,
		Actor:     "admin-meera",
		Reason:    "new shipment",
	})
	if err != nil {
		t.Fatalf("AdjustStock: %v", err)
	}
	if product.Stock != 15 {
		t.Fatalf("expected updated stock, got %+v", product)
	}
	if len(publisher.events) != 1 {
		t.Fatalf("expected one event, got %d", len(publisher.events))
	}
	event := publisher.events[0]
	if event.Type != OrderEventStockAdjusted || event.ID != "evt_01TESTSTOCK" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Metadata["delta"] != int64(10) || event.Metadata["stock"] != int64(15) {
		t.Fatalf("unexpected metadata: %+v", event.Metadata)
	}
}

func TestAdjustStockRejectsZeroDelta(t *testing.T) {
	svc := newInventoryService(t, &stubProductRepository{}, nil)

	_, err := svc.AdjustStock(context.Background(), AdjustStockCommand{ProductID: "prod-a", Delta: 0})
	if !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("expected invalid input for zero delta, got %v", err)
	}
}

func TestAdjustStockMapsNegativeResult(t *testing.T) {
	svc := newInventoryService(t, &stubProductRepository{
		adjustStockFn: func(context.Context, string, int64) (Product, error) {
			return Product{}, repositories.NewInventoryError(repositories.InventoryErrorNegativeStock, "stock would drop below zero", nil)
		},
	}, nil)

	_, err := svc.AdjustStock(context.Background(), AdjustStockCommand{ProductID: "prod-a", Delta: -20})
	if !errors.Is(err, ErrInventoryInsufficientStock) {
		t.Fatalf("expected insufficient stock for negative result, got %v", err)
	}
}

func TestStockLevelsTrimsAndRequiresIDs(t *testing.T) {
	var captured []string
	svc := newInventoryService(t, &stubProductRepository{
		listByIDsFn: func(_ context.Context, ids []string) ([]Product, error) {
			captured = ids
			return []Product{{ID: "prod-a", Stock: 5}}, nil
		},
	}, nil)

	products, err := svc.StockLevels(context.Background(), []string{" prod-a ", ""})
	if err != nil {
		t.Fatalf("StockLevels: %v", err)
	}
	if len(products) != 1 || products[0].ID != "prod-a" {
		t.Fatalf("unexpected products: %+v", products)
	}
	if len(captured) != 1 || captured[0] != "prod-a" {
		t.Fatalf("expected trimmed ids forwarded, got %v", captured)
	}

	if _, err := svc.StockLevels(context.Background(), []string{"  "}); !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("expected invalid input for blank ids, got %v", err)
	}
}
