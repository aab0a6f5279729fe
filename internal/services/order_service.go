package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	domain "github.com/HemantMali8233/Krishivishwa-Biotech/internal/domain"
	"github.com/HemantMali8233/Krishivishwa-Biotech/internal/payments"
	"github.com/HemantMali8233/Krishivishwa-Biotech/internal/repositories"
)

const eventIDPrefix = "evt_"

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicate order ids.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderForbidden indicates the caller does not own the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrRefundVerification indicates the gateway refund failed verification.
	ErrRefundVerification = errors.New("order: refund verification failed")
	// ErrGatewayUnavailable indicates the payment gateway could not be reached.
	ErrGatewayUnavailable = errors.New("order: payment gateway unavailable")
)

// orderStateTransitions covers the staff-driven fulfillment flow. User and
// admin cancellation are validated separately: user cancel is pending only,
// admin cancel reaches every status except cancelled.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:  {domain.OrderStatusAssigned, domain.OrderStatusRejected, domain.OrderStatusCancelled},
	domain.OrderStatusAssigned: {domain.OrderStatusDelivered, domain.OrderStatusRejected, domain.OrderStatusCancelled},
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Inventory   InventoryService
	Signatures  PaymentSignatureVerifier
	Refunds     RefundVerifier
	Events      OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	inventory  InventoryService
	signatures PaymentSignatureVerifier
	refunds    RefundVerifier
	events     OrderEventPublisher
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory service is required")
	}
	if deps.Signatures == nil {
		return nil, errors.New("order service: signature verifier is required")
	}
	if deps.Refunds == nil {
		return nil, errors.New("order service: refund verifier is required")
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

	return &orderService{
		orders:     deps.Orders,
		inventory:  deps.Inventory,
		signatures: deps.Signatures,
		refunds:    deps.Refunds,
		events:     deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if err := validateCreateOrder(cmd); err != nil {
		return Order{}, err
	}

	now := s.now()
	order := Order{
		OrderID:       strings.TrimSpace(cmd.OrderID),
		UserID:        strings.TrimSpace(cmd.UserID),
		CustomerInfo:  cmd.CustomerInfo,
		Items:         slices.Clone(cmd.Items),
		Pricing:       cmd.Pricing,
		PaymentMethod: cmd.PaymentMethod,
		Status:        domain.OrderStatusPending,
		StatusHistory: []StatusChange{{
			To:    domain.OrderStatusPending,
			Actor: strings.TrimSpace(cmd.UserID),
			At:    now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if cmd.PaymentMethod == domain.PaymentMethodOnline {
		if !s.signatures.Verify(cmd.GatewayOrderID, cmd.GatewayPaymentID, cmd.Signature) {
			return Order{}, fmt.Errorf("%w: payment signature verification failed", ErrOrderInvalidInput)
		}
		order.PaymentInfo = PaymentInfo{
			GatewayOrderID:    strings.TrimSpace(cmd.GatewayOrderID),
			GatewayPaymentID:  strings.TrimSpace(cmd.GatewayPaymentID),
			SignatureVerified: true,
			PaidAt:            &now,
		}
	}

	lines := stockLines(order.Items)
	if err := s.inventory.ReserveStock(ctx, lines); err != nil {
		return Order{}, err
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		// The decrement already committed, give the stock back before failing.
		if restoreErr := s.inventory.RestoreStock(ctx, lines); restoreErr != nil {
			s.logger(ctx, "order.create.compensation.failed", map[string]any{
				"order": order.OrderID,
				"error": restoreErr.Error(),
			})
		}
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:       OrderEventCreated,
		OrderID:    order.OrderID,
		UserID:     order.UserID,
		Status:     string(order.Status),
		Actor:      order.UserID,
		OccurredAt: now,
		Metadata: map[string]any{
			"paymentMethod": string(order.PaymentMethod),
			"total":         order.Pricing.Total,
		},
	})

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, query GetOrderQuery) (Order, error) {
	orderID := strings.TrimSpace(query.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if userID := strings.TrimSpace(query.UserID); userID != "" && order.UserID != userID {
		return Order{}, fmt.Errorf("%w: order %s does not belong to the caller", ErrOrderForbidden, orderID)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) ([]Order, error) {
	orders, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserID:            strings.TrimSpace(filter.UserID),
		Statuses:          filter.Statuses,
		PaymentMethod:     filter.PaymentMethod,
		PendingRefundOnly: filter.PendingRefundOnly,
		Limit:             filter.Limit,
	})
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return orders, nil
}

func (s *orderService) AssignOrder(ctx context.Context, cmd AssignOrderCommand) (Order, error) {
	assignedTo := strings.TrimSpace(cmd.AssignedTo)
	if utf8.RuneCountInString(assignedTo) < 2 {
		return Order{}, fmt.Errorf("%w: assignee must be at least 2 characters", ErrOrderInvalidInput)
	}
	assignedFrom := strings.TrimSpace(cmd.AssignedFrom)
	if utf8.RuneCountInString(assignedFrom) < 2 {
		return Order{}, fmt.Errorf("%w: assignment source must be at least 2 characters", ErrOrderInvalidInput)
	}
	actor := strings.TrimSpace(cmd.Actor)
	if actor == "" {
		return Order{}, fmt.Errorf("%w: actor is required", ErrOrderInvalidInput)
	}

	return s.applyTransition(ctx, cmd.OrderID, domain.OrderStatusAssigned, OrderEventAssigned, func(order *Order, now time.Time) (string, map[string]any, error) {
		order.AssignedTo = assignedTo
		order.AssignedFrom = assignedFrom
		order.AssignedAt = &now
		return actor, map[string]any{"assignedTo": assignedTo}, nil
	})
}

func (s *orderService) DeliverOrder(ctx context.Context, cmd DeliverOrderCommand) (Order, error) {
	deliveredBy := strings.TrimSpace(cmd.DeliveredBy)
	if deliveredBy == "" {
		return Order{}, fmt.Errorf("%w: delivered by is required", ErrOrderInvalidInput)
	}
	confirmedBy := strings.TrimSpace(cmd.ConfirmedBy)
	if confirmedBy == "" {
		return Order{}, fmt.Errorf("%w: confirmed by is required", ErrOrderInvalidInput)
	}
	actor := strings.TrimSpace(cmd.Actor)
	if actor == "" {
		return Order{}, fmt.Errorf("%w: actor is required", ErrOrderInvalidInput)
	}

	return s.applyTransition(ctx, cmd.OrderID, domain.OrderStatusDelivered, OrderEventDelivered, func(order *Order, now time.Time) (string, map[string]any, error) {
		order.DeliveredBy = deliveredBy
		order.ConfirmedBy = confirmedBy
		order.DeliveredAt = &now
		order.ConfirmedAt = &now
		return actor, map[string]any{"deliveredBy": deliveredBy}, nil
	})
}

func (s *orderService) RejectOrder(ctx context.Context, cmd RejectOrderCommand) (Order, error) {
	rejectedBy := strings.TrimSpace(cmd.RejectedBy)
	if rejectedBy == "" {
		return Order{}, fmt.Errorf("%w: rejected by is required", ErrOrderInvalidInput)
	}
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		return Order{}, fmt.Errorf("%w: rejection reason is required", ErrOrderInvalidInput)
	}
	actor := strings.TrimSpace(cmd.Actor)
	if actor == "" {
		actor = rejectedBy
	}

	// Rejected goods stay out of stock; handled through manual returns.
	return s.applyTransition(ctx, cmd.OrderID, domain.OrderStatusRejected, OrderEventRejected, func(order *Order, now time.Time) (string, map[string]any, error) {
		if order.PaymentMethod == domain.PaymentMethodOnline {
			refundID := strings.TrimSpace(cmd.RefundTransactionID)
			if refundID == "" {
				return "", nil, fmt.Errorf("%w: refund transaction id is required to reject a prepaid order", ErrOrderInvalidInput)
			}
			if cmd.SkipVerification {
				order.RefundTransactionID = refundID
				order.RefundVerified = false
			} else {
				refund, err := s.verifyRefund(ctx, order, refundID)
				if err != nil {
					return "", nil, err
				}
				order.RefundTransactionID = refund.ID
				order.RefundAmount = refund.Amount
				order.RefundVerified = true
				order.RefundedAt = &now
			}
		}
		order.RejectedBy = rejectedBy
		order.RejectionReason = reason
		order.RejectedAt = &now
		return actor, map[string]any{"reason": reason}, nil
	})
}

func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.UserID != userID {
		return Order{}, fmt.Errorf("%w: order %s does not belong to the caller", ErrOrderForbidden, orderID)
	}
	if order.Status != domain.OrderStatusPending {
		return Order{}, fmt.Errorf("%w: only pending orders can be cancelled by the customer", ErrOrderInvalidState)
	}

	now := s.now()
	previous := order.Status
	order.CancelledByUser = true
	order.CancelledBy = userID
	order.CancellationReason = strings.TrimSpace(cmd.Reason)
	order.CancelledAt = &now
	s.recordStatusChange(&order, domain.OrderStatusCancelled, userID, order.CancellationReason, now)

	order, err = s.persistWithStockRestore(ctx, order, previous)
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           OrderEventCancelled,
		OrderID:        order.OrderID,
		UserID:         order.UserID,
		PreviousStatus: string(previous),
		Status:         string(order.Status),
		Actor:          userID,
		OccurredAt:     now,
		Metadata:       map[string]any{"byUser": true},
	})

	return order, nil
}

func (s *orderService) AdminCancelOrder(ctx context.Context, cmd AdminCancelOrderCommand) (Order, error) {
	adminName := strings.TrimSpace(cmd.AdminName)
	if adminName == "" {
		return Order{}, fmt.Errorf("%w: admin name is required", ErrOrderInvalidInput)
	}
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		return Order{}, fmt.Errorf("%w: cancellation reason is required", ErrOrderInvalidInput)
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if order.Status == domain.OrderStatusCancelled {
		return Order{}, fmt.Errorf("%w: order %s is already cancelled", ErrOrderInvalidState, orderID)
	}

	now := s.now()
	previous := order.Status
	order.CancelledByUser = false
	order.CancelledBy = adminName
	order.CancellationReason = reason
	order.CancelledAt = &now
	// The refund id is recorded as supplied; RecordRefund verifies it later.
	if refundID := strings.TrimSpace(cmd.RefundTransactionID); refundID != "" && order.PaymentMethod == domain.PaymentMethodOnline {
		order.RefundTransactionID = refundID
		order.RefundVerified = false
	}
	s.recordStatusChange(&order, domain.OrderStatusCancelled, adminName, reason, now)

	order, err = s.persistWithStockRestore(ctx, order, previous)
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           OrderEventCancelled,
		OrderID:        order.OrderID,
		UserID:         order.UserID,
		PreviousStatus: string(previous),
		Status:         string(order.Status),
		Actor:          adminName,
		OccurredAt:     now,
		Metadata:       map[string]any{"byUser": false, "reason": reason},
	})

	return order, nil
}

func (s *orderService) RecordRefund(ctx context.Context, cmd RecordRefundCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	refundID := strings.TrimSpace(cmd.RefundTransactionID)
	if refundID == "" {
		return Order{}, fmt.Errorf("%w: refund transaction id is required", ErrOrderInvalidInput)
	}
	actor := strings.TrimSpace(cmd.Actor)
	if actor == "" {
		return Order{}, fmt.Errorf("%w: actor is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if !order.RequiresRefund() {
		return Order{}, fmt.Errorf("%w: refunds apply to rejected or cancelled online orders only", ErrOrderInvalidState)
	}

	now := s.now()
	if cmd.SkipVerification {
		order.RefundTransactionID = refundID
		order.RefundVerified = false
		order.RefundedAt = &now
	} else {
		refund, err := s.verifyRefund(ctx, &order, refundID)
		if err != nil {
			return Order{}, err
		}
		order.RefundTransactionID = refund.ID
		order.RefundAmount = refund.Amount
		order.RefundVerified = true
		order.RefundedAt = &now
	}
	order.UpdatedAt = now

	if err := s.orders.UpdateWithStatus(ctx, order, order.Status); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:       OrderEventRefundRecorded,
		OrderID:    order.OrderID,
		UserID:     order.UserID,
		Status:     string(order.Status),
		Actor:      actor,
		OccurredAt: now,
		Metadata: map[string]any{
			"refundId": order.RefundTransactionID,
			"verified": order.RefundVerified,
		},
	})

	return order, nil
}

func (s *orderService) DeleteOrder(ctx context.Context, cmd DeleteOrderCommand) error {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	actor := strings.TrimSpace(cmd.Actor)
	if actor == "" {
		return fmt.Errorf("%w: actor is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return s.mapRepositoryError(err)
	}

	lines := stockLines(order.Items)
	if !order.StockRestored && len(lines) > 0 {
		if err := s.inventory.RestoreStock(ctx, lines); err != nil {
			return err
		}
		// The flag must reach storage before the delete; a retried delete
		// after a crash would otherwise restore the same lines twice.
		order.StockRestored = true
		order.UpdatedAt = s.now()
		if err := s.orders.UpdateWithStatus(ctx, order, order.Status); err != nil {
			if reserveErr := s.inventory.ReserveStock(ctx, lines); reserveErr != nil {
				s.logger(ctx, "order.delete.compensation.failed", map[string]any{
					"order": orderID,
					"error": reserveErr.Error(),
				})
			}
			return s.mapRepositoryError(err)
		}
	}

	if err := s.orders.Delete(ctx, orderID); err != nil {
		return s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:       OrderEventDeleted,
		OrderID:    orderID,
		UserID:     order.UserID,
		Status:     string(order.Status),
		Actor:      actor,
		OccurredAt: s.now(),
	})

	return nil
}

// applyTransition loads the order, validates the transition, lets mutate fill
// in the transition-specific fields and persists conditioned on the pre-read
// status. mutate returns the acting identity and event metadata.
func (s *orderService) applyTransition(ctx context.Context, orderID string, target domain.OrderStatus, eventType string, mutate func(order *Order, now time.Time) (string, map[string]any, error)) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if !canTransition(order.Status, target) {
		return Order{}, fmt.Errorf("%w: %s to %s", ErrOrderInvalidState, order.Status, target)
	}

	now := s.now()
	previous := order.Status
	actor, metadata, err := mutate(&order, now)
	if err != nil {
		return Order{}, err
	}
	reason := order.RejectionReason
	if target != domain.OrderStatusRejected {
		reason = ""
	}
	s.recordStatusChange(&order, target, actor, reason, now)

	if err := s.orders.UpdateWithStatus(ctx, order, previous); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           eventType,
		OrderID:        order.OrderID,
		UserID:         order.UserID,
		PreviousStatus: string(previous),
		Status:         string(order.Status),
		Actor:          actor,
		OccurredAt:     now,
		Metadata:       metadata,
	})

	return order, nil
}

// persistWithStockRestore restores reserved stock exactly once and persists
// the cancellation. A failed persist re-reserves the restored quantities so
// the ledger stays balanced.
func (s *orderService) persistWithStockRestore(ctx context.Context, order Order, expected domain.OrderStatus) (Order, error) {
	lines := stockLines(order.Items)
	restored := false
	if !order.StockRestored && len(lines) > 0 {
		if err := s.inventory.RestoreStock(ctx, lines); err != nil {
			return Order{}, err
		}
		order.StockRestored = true
		restored = true
	}

	if err := s.orders.UpdateWithStatus(ctx, order, expected); err != nil {
		if restored {
			if reserveErr := s.inventory.ReserveStock(ctx, lines); reserveErr != nil {
				s.logger(ctx, "order.cancel.compensation.failed", map[string]any{
					"order": order.OrderID,
					"error": reserveErr.Error(),
				})
			}
		}
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) verifyRefund(ctx context.Context, order *Order, refundID string) (payments.Refund, error) {
	refund, err := s.refunds.Verify(ctx, payments.RefundCheck{
		RefundID:          refundID,
		ExpectedPaymentID: order.PaymentInfo.GatewayPaymentID,
		OrderTotalPaise:   order.Pricing.Total,
	})
	if err != nil {
		var verr *payments.RefundVerificationError
		if errors.As(err, &verr) {
			return payments.Refund{}, fmt.Errorf("%w: %s", ErrRefundVerification, verr.Message)
		}
		if errors.Is(err, payments.ErrUnavailable) {
			return payments.Refund{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		if errors.Is(err, payments.ErrNotFound) {
			return payments.Refund{}, fmt.Errorf("%w: refund %s does not exist", ErrRefundVerification, refundID)
		}
		return payments.Refund{}, err
	}
	return refund, nil
}

func (s *orderService) recordStatusChange(order *Order, target domain.OrderStatus, actor, reason string, now time.Time) {
	order.StatusHistory = append(order.StatusHistory, StatusChange{
		From:   order.Status,
		To:     target,
		Actor:  actor,
		Reason: reason,
		At:     now,
	})
	order.Status = target
	order.UpdatedAt = now
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.ID == "" {
		event.ID = eventIDPrefix + s.newID()
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if _, err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.Status,
		})
	}
}

func validateCreateOrder(cmd CreateOrderCommand) error {
	if strings.TrimSpace(cmd.OrderID) == "" {
		return fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.CustomerInfo.Name) == "" {
		return fmt.Errorf("%w: customer name is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.CustomerInfo.Phone) == "" {
		return fmt.Errorf("%w: customer phone is required", ErrOrderInvalidInput)
	}
	addr := cmd.CustomerInfo.Address
	if strings.TrimSpace(addr.Line1) == "" || strings.TrimSpace(addr.City) == "" || strings.TrimSpace(addr.PostalCode) == "" {
		return fmt.Errorf("%w: delivery address is incomplete", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	for _, item := range cmd.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return fmt.Errorf("%w: item product id is required", ErrOrderInvalidInput)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item quantity for %s must be positive", ErrOrderInvalidInput, item.ProductID)
		}
		if item.UnitPrice < 0 {
			return fmt.Errorf("%w: item price for %s must not be negative", ErrOrderInvalidInput, item.ProductID)
		}
	}
	if !domain.ValidatePricing(cmd.Items, cmd.Pricing) {
		return fmt.Errorf("%w: pricing does not add up", ErrOrderInvalidInput)
	}

	switch cmd.PaymentMethod {
	case domain.PaymentMethodCOD:
	case domain.PaymentMethodOnline:
		if strings.TrimSpace(cmd.GatewayOrderID) == "" || strings.TrimSpace(cmd.GatewayPaymentID) == "" || strings.TrimSpace(cmd.Signature) == "" {
			return fmt.Errorf("%w: online orders require gateway references and a signature", ErrOrderInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}

	return nil
}

func stockLines(items []OrderItem) []StockLine {
	lines := make([]StockLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}

func canTransition(current, target domain.OrderStatus) bool {
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}
