package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/HemantMali8233/Krishivishwa-Biotech/internal/repositories"
)

var (
	// ErrInventoryInvalidInput signals the caller provided invalid data.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInventoryInsufficientStock indicates a requested quantity exceeds availability.
	ErrInventoryInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInventoryProductNotFound indicates a referenced product does not exist.
	ErrInventoryProductNotFound = errors.New("inventory: product not found")
)

// InventoryServiceDeps bundles collaborators required to construct the inventory service.
type InventoryServiceDeps struct {
	Products    repositories.ProductRepository
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	products repositories.ProductRepository
	clock    func() time.Time
	newID    func() string
	events   OrderEventPublisher
	logger   func(context.Context, string, map[string]any)
}

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Products == nil {
		return nil, errors.New("inventory service: product repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &inventoryService{
		products: deps.Products,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *inventoryService) ReserveStock(ctx context.Context, lines []StockLine) error {
	normalized, err := normalizeStockLines(lines)
	if err != nil {
		return err
	}
	if err := s.products.ReserveStock(ctx, normalized); err != nil {
		return mapStockError(err)
	}
	s.logger(ctx, "inventory.stock.reserved", map[string]any{
		"lines": len(normalized),
	})
	return nil
}

func (s *inventoryService) RestoreStock(ctx context.Context, lines []StockLine) error {
	normalized, err := normalizeStockLines(lines)
	if err != nil {
		return err
	}
	if err := s.products.RestoreStock(ctx, normalized); err != nil {
		return mapStockError(err)
	}
	s.logger(ctx, "inventory.stock.restored", map[string]any{
		"lines": len(normalized),
	})
	return nil
}

func (s *inventoryService) AdjustStock(ctx context.Context, cmd AdjustStockCommand) (Product, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	if cmd.Delta == 0 {
		return Product{}, fmt.Errorf("%w: delta must be non-zero", ErrInventoryInvalidInput)
	}

	product, err := s.products.AdjustStock(ctx, productID, cmd.Delta)
	if err != nil {
		return Product{}, mapStockError(err)
	}

	if s.events != nil {
		event := OrderEvent{
			ID:         "evt_" + s.newID(),
			Type:       OrderEventStockAdjusted,
			Actor:      strings.TrimSpace(cmd.Actor),
			OccurredAt: s.clock(),
			Metadata: map[string]any{
				"productId": productID,
				"delta":     cmd.Delta,
				"stock":     product.Stock,
				"reason":    strings.TrimSpace(cmd.Reason),
			},
		}
		if _, err := s.events.PublishOrderEvent(ctx, event); err != nil {
			s.logger(ctx, "inventory.event.publish.failed", map[string]any{
				"type":    event.Type,
				"product": productID,
				"error":   err.Error(),
			})
		}
	}

	return product, nil
}

func (s *inventoryService) StockLevels(ctx context.Context, productIDs []string) ([]Product, error) {
	ids := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: at least one product id is required", ErrInventoryInvalidInput)
	}

	products, err := s.products.ListByIDs(ctx, ids)
	if err != nil {
		return nil, mapStockError(err)
	}
	return products, nil
}

// normalizeStockLines trims ids, validates quantities and merges duplicate
// product lines so the repository touches each document once.
func normalizeStockLines(lines []StockLine) ([]StockLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrInventoryInvalidInput)
	}

	index := make(map[string]int, len(lines))
	normalized := make([]StockLine, 0, len(lines))
	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s must be positive", ErrInventoryInvalidInput, productID)
		}
		if i, ok := index[productID]; ok {
			normalized[i].Quantity += line.Quantity
			continue
		}
		index[productID] = len(normalized)
		normalized = append(normalized, StockLine{ProductID: productID, Quantity: line.Quantity})
	}
	return normalized, nil
}

func mapStockError(err error) error {
	if err == nil {
		return nil
	}

	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorInsufficientStock, repositories.InventoryErrorNegativeStock:
			return fmt.Errorf("%w: %s", ErrInventoryInsufficientStock, invErr.Message)
		case repositories.InventoryErrorProductNotFound:
			return fmt.Errorf("%w: %s", ErrInventoryProductNotFound, invErr.Message)
		default:
			return fmt.Errorf("%w: %s", ErrInventoryInvalidInput, invErr.Message)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrInventoryProductNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("inventory: repository unavailable: %w", err)
		}
	}

	return err
}
