package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/HemantMali8233/Krishivishwa-Biotech/internal/domain"
	"github.com/HemantMali8233/Krishivishwa-Biotech/internal/payments"
	"github.com/HemantMali8233/Krishivishwa-Biotech/internal/repositories"
)

var testNow = time.Date(2025, time.March, 14, 9, 30, 0, 0, time.UTC)

type stubOrderRepository struct {
	insertFn           func(ctx context.Context, order Order) error
	findByIDFn         func(ctx context.Context, orderID string) (Order, error)
	updateWithStatusFn func(ctx context.Context, order Order, expected OrderStatus) error
	deleteFn           func(ctx context.Context, orderID string) error
	listFn             func(ctx context.Context, filter repositories.OrderListFilter) ([]Order, error)
}

func (s *stubOrderRepository) Insert(ctx context.Context, order Order) error {
	if s.insertFn == nil {
		return errors.New("unexpected Insert call")
	}
	return s.insertFn(ctx, order)
}

func (s *stubOrderRepository) FindByID(ctx context.Context, orderID string) (Order, error) {
	if s.findByIDFn == nil {
		return Order{}, errors.New("unexpected FindByID call")
	}
	return s.findByIDFn(ctx, orderID)
}

func (s *stubOrderRepository) UpdateWithStatus(ctx context.Context, order Order, expected OrderStatus) error {
	if s.updateWithStatusFn == nil {
		return errors.New("unexpected UpdateWithStatus call")
	}
	return s.updateWithStatusFn(ctx, order, expected)
}

func (s *stubOrderRepository) Delete(ctx context.Context, orderID string) error {
	if s.deleteFn == nil {
		return errors.New("unexpected Delete call")
	}
	return s.deleteFn(ctx, orderID)
}

func (s *stubOrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]Order, error) {
	if s.listFn == nil {
		return nil, errors.New("unexpected List call")
	}
	return s.listFn(ctx, filter)
}

type stubInventoryService struct {
	reserveFn     func(ctx context.Context, lines []StockLine) error
	restoreFn     func(ctx context.Context, lines []StockLine) error
	adjustFn      func(ctx context.Context, cmd AdjustStockCommand) (Product, error)
	stockLevelsFn func(ctx context.Context, productIDs []string) ([]Product, error)
}

func (s *stubInventoryService) ReserveStock(ctx context.Context, lines []StockLine) error {
	if s.reserveFn == nil {
		return errors.New("unexpected ReserveStock call")
	}
	return s.reserveFn(ctx, lines)
}

func (s *stubInventoryService) RestoreStock(ctx context.Context, lines []StockLine) error {
	if s.restoreFn == nil {
		return errors.New("unexpected RestoreStock call")
	}
	return s.restoreFn(ctx, lines)
}

func (s *stubInventoryService) AdjustStock(ctx context.Context, cmd AdjustStockCommand) (Product, error) {
	if s.adjustFn == nil {
		return Product{}, errors.New("unexpected AdjustStock call")
	}
	return s.adjustFn(ctx, cmd)
}

func (s *stubInventoryService) StockLevels(ctx context.Context, productIDs []string) ([]Product, error) {
	if s.stockLevelsFn == nil {
		return nil, errors.New("unexpected StockLevels call")
	}
	return s.stockLevelsFn(ctx, productIDs)
}

type stubSignatureVerifier struct {
	fn func(orderRef, paymentRef, signature string) bool
}

func (s *stubSignatureVerifier) Verify(orderRef, paymentRef, signature string) bool {
	if s.fn == nil {
		return false
	}
	return s.fn(orderRef, paymentRef, signature)
}

type stubRefundVerifier struct {
	fn func(ctx context.Context, check payments.RefundCheck) (payments.Refund, error)
}

func (s *stubRefundVerifier) Verify(ctx context.Context, check payments.RefundCheck) (payments.Refund, error) {
	if s.fn == nil {
		return payments.Refund{}, errors.New("unexpected refund Verify call")
	}
	return s.fn(ctx, check)
}

type capturePublisher struct {
	events []OrderEvent
	err    error
}

func (p *capturePublisher) PublishOrderEvent(_ context.Context, event OrderEvent) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.events = append(p.events, event)
	return event.ID, nil
}

type stubConflictError struct{ msg string }

func (e *stubConflictError) Error() string       { return e.msg }
func (e *stubConflictError) IsNotFound() bool    { return false }
func (e *stubConflictError) IsConflict() bool    { return true }
func (e *stubConflictError) IsUnavailable() bool { return false }

type stubNotFoundError struct{ msg string }

func (e *stubNotFoundError) Error() string       { return e.msg }
func (e *stubNotFoundError) IsNotFound() bool    { return true }
func (e *stubNotFoundError) IsConflict() bool    { return false }
func (e *stubNotFoundError) IsUnavailable() bool { return false }

type stubUnavailableError struct{ msg string }

func (e *stubUnavailableError) Error() string       { return e.msg }
func (e *stubUnavailableError) IsNotFound() bool    { return false }
func (e *stubUnavailableError) IsConflict() bool    { return false }
func (e *stubUnavailableError) IsUnavailable() bool { return true }

type orderFixture struct {
	orders     *stubOrderRepository
	inventory  *stubInventoryService
	signatures *stubSignatureVerifier
	refunds    *stubRefundVerifier
	publisher  *capturePublisher
}

func newOrderService(t *testing.T, fx orderFixture) OrderService {
	t.Helper()
	if fx.orders == nil {
		fx.orders = &stubOrderRepository{}
	}
	if fx.inventory == nil {
		fx.inventory = &stubInventoryService{}
	}
	if fx.signatures == nil {
		fx.signatures = &stubSignatureVerifier{}
	}
	if fx.refunds == nil {
		fx.refunds = &stubRefundVerifier{}
	}
	var publisher OrderEventPublisher
	if fx.publisher != nil {
		publisher = fx.publisher
	}

	counter := 0
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:     fx.orders,
		Inventory:  fx.inventory,
		Signatures: fx.signatures,
		Refunds:    fx.refunds,
		Events:     publisher,
		Clock:      func() time.Time { return testNow },
		IDGenerator: func() string {
			counter++
			return fmt.Sprintf("01TEST%04d", counter)
		},
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	return svc
}

func codCreateCommand() CreateOrderCommand {
	return CreateOrderCommand{
		OrderID: "ord-1001",
		UserID:  "user-1",
		CustomerInfo: CustomerInfo{
			Name:  "Asha Patil",
			Phone: "+919812345678",
			Address: domain.Address{
				Line1:      "14 Market Road",
				City:       "Nashik",
				PostalCode: "422001",
			},
		},
		Items: []OrderItem{
			{ProductID: "prod-a", Name: "Bio Fertilizer 5kg", UnitPrice: 17500, Quantity: 2, LineTotal: 35000},
		},
		Pricing:       Pricing{Subtotal: 35000, Total: 35000},
		PaymentMethod: domain.PaymentMethodCOD,
	}
}

func onlineCreateCommand() CreateOrderCommand {
	cmd := codCreateCommand()
	cmd.PaymentMethod = domain.PaymentMethodOnline
	cmd.GatewayOrderID = "order_Mk1"
	cmd.GatewayPaymentID = "pay_Mk1"
	cmd.Signature = "deadbeef"
	return cmd
}

func pendingOrder() Order {
	return Order{
		OrderID:       "ord-1001",
		UserID:        "user-1",
		Items:         []OrderItem{{ProductID: "prod-a", UnitPrice: 17500, Quantity: 2, LineTotal: 35000}},
		Pricing:       Pricing{Subtotal: 35000, Total: 35000},
		PaymentMethod: domain.PaymentMethodCOD,
		Status:        domain.OrderStatusPending,
		StatusHistory: []StatusChange{{To: domain.OrderStatusPending, Actor: "user-1", At: testNow.Add(-time.Hour)}},
		CreatedAt:     testNow.Add(-time.Hour),
		UpdatedAt:     testNow.Add(-time.Hour),
	}
}

func TestCreateOrderCODReservesStock(t *testing.T) {
	var reserved []StockLine
	var inserted Order
	publisher := &capturePublisher{}
	svc := newOrderService(t, orderFixture{
		orders: &stubOrderRepository{
			insertFn: func(_ context.Context, order Order) error {
				inserted = order
				return nil
			},
		},
		inventory: &stubInventoryService{
			reserveFn: func(_ context.Context, lines []StockLine) error {
				reserved = lines
				return nil
			},
		},
		publisher: publisher,
	})

	order, err := svc.CreateOrder(context.Background(), codCreateCommand())
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending status, got %s", order.Status)
	}
	if len(reserved) != 1 || reserved[0].ProductID != "prod-a" || reserved[0].Quantity != 2 {
		t.Fatalf("unexpected reservation: %+v", reserved)
	}
	if inserted.OrderID != "ord-1001" {
		t.Fatalf("expected order persisted, got %+v", inserted)
	}
	if len(order.StatusHistory) != 1 || order.StatusHistory[0].To != domain.OrderStatusPending {
		t.Fatalf("expected creation recorded in history, got %+v", order.StatusHistory)
	}
	if order.PaymentInfo.SignatureVerified {
		t.Fatalf("cod order must not carry a verified signature")
	}
	if len(publisher.events) != 1 || publisher.events[0].Type != OrderEventCreated {
		t.Fatalf("expected order.created event, got %+v", publisher.events)
	}
}

func TestCreateOrderOnlineVerifiesSignature(t *testing.T) {
	var verifiedWith [3]string
	svc := newOrderService(t, orderFixture{
		orders: &stubOrderRepository{
			insertFn: func(context.Context, Order) error { return nil },
		},
		inventory: &stubInventoryService{
			reserveFn: func(context.Context, []StockLine) error { return nil },
		},
		signatures: &stubSignatureVerifier{fn: func(orderRef, paymentRef, signature string) bool {
			verifiedWith = [3]string{orderRef, paymentRef, signature}
			return true
		}},
	})

	order, err := svc.CreateOrder(context.Background(), onlineCreateCommand())
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if verifiedWith != [3]string{"order_Mk1", "pay_Mk1", "deadbeef"} {
		t.Fatalf("unexpected verifier input: %v", verifiedWith)
	}
	if !order.PaymentInfo.SignatureVerified || order.PaymentInfo.GatewayPaymentID != "pay_Mk1" {
		t.Fatalf("expected payment info populated, got %+v", order.PaymentInfo)
	}
	if order.PaymentInfo.PaidAt == nil || !order.PaymentInfo.PaidAt.Equal(testNow) {
		t.Fatalf("expected paid at set, got %v", order.PaymentInfo.PaidAt)
	}
}

func TestCreateOrderRejectsBadSignatureBeforeTouchingStock(t *testing.T) {
	svc := newOrderService(t, orderFixture{
		signatures: &stubSignatureVerifier{fn: func(string, string, string) bool { return false }},
	})

	_, err := svc.CreateOrder(context.Background(), onlineCreateCommand())
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for bad signature, got %v", err)
	}
}

func TestCreateOrderInsufficientStockFailsWithoutInsert(t *testing.T) {
	svc := newOrderService(t, orderFixture{
		inventory: &stubInventoryService{
			reserveFn: func(context.Context, []StockLine) error {
				return fmt.Errorf("%w: prod-a has 1 left", ErrInventoryInsufficientStock)
			},
		},
	})

	_, err := svc.CreateOrder(context.Background(), codCreateCommand())
	if !errors.Is(err, ErrInventoryInsufficientStock) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}
}

func TestCreateOrderDuplicateIDRestoresStock(t *testing.T) {
	restored := false
	svc := newOrderService(t, orderFixture{
		orders: &stubOrderRepository{
			insertFn: func(context.Context, Order) error {
				return &stubConflictError{msg: "document already exists"}
			},
		},
		inventory: &stubInventoryService{
			reserveFn: func(context.Context, []StockLine) error { return nil },
			restoreFn: func(_ context.Context, lines []StockLine) error {
				restored = true
				if len(lines) != 1 || lines[0].Quantity != 2 {
					t.Fatalf("unexpected compensation lines: %+v", lines)
				}
				return nil
			},
		},
	})

	_, err := svc.CreateOrder(context.Background(), codCreateCommand())
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected conflict for duplicate order id, got %v", err)
	}
	if !restored {
		t.Fatalf("expected reserved stock returned after failed insert")
	}
}

func TestCreateOrderRejectsInconsistentPricing(t *testing.T) {
	svc := newOrderService(t, orderFixture{})
	cmd := codCreateCommand()
	cmd.Pricing.Total = 34000

	_, err := svc.CreateOrder(context.Background(), cmd)
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for mismatched totals, got %v", err)
	}
}

func TestGetOrderEnforcesOwnership(t *testing.T) {
	svc := newOrderService(t, orderFixture{
		orders: &stubOrderRepository{
			findByIDFn: func(_ context.Context, orderID string) (Order, error) {
				order := pendingOrder()
				order.OrderID = orderID
				return order, nil
			},
		},
	})

	if _, err := svc.GetOrder(context.Background(), GetOrderQuery{OrderID: "ord-1001", UserID: "user-1"}); err != nil {
		t.Fatalf("owner read: %v", err)
	}
	if _, err := svc.GetOrder(context.Background(), GetOrderQuery{OrderID: "ord-1001", UserID: "user-2"}); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected forbidden for foreign order, got %v", err)
	}
	if _, err := svc.GetOrder(context.Background(), GetOrderQuery{OrderID: "ord-1001"}); err != nil {
		t.Fatalf("staff read without user id: %v", err)
	}
}

func TestAssignOrderTransitionsPending(t *testing.T) {
	var persisted Order
	var expectedStatus OrderStatus
	publisher := &capturePublisher{}
	svc := newOrderService(t, orderFixture{
		orders: &stubOrderRepository{
			findByIDFn: func(context.Context, string) (Order, error) { return pendingOrder(), nil },
			updateWithStatusFn: func(_ context.Context, order Order, expected OrderStatus) error {
				persisted = order
				expectedStatus = expected
				return nil
			},
		},
		publisher: publisher,
	})

	order, err := svc.AssignOrder(context.Background(), AssignOrderCommand{
		OrderID:      "ord-1001",
		AssignedTo:   "ravi",
		AssignedFrom: "warehouse-1",
		Actor:        "admin-meera",
	})
	if err != nil {
		t.Fatalf("AssignOrder: %v", err)
	}
	if order.Status != domain.OrderStatusAssigned || order.AssignedTo != "ravi" {
		t.Fatalf("unexpected order: %+v", order)
	}
	if order.AssignedAt == nil || !order.AssignedAt.Equal(testNow) {
		t.Fatalf("expected assignment timestamp, got %v", order.AssignedAt)
	}
	if expectedStatus != domain.OrderStatusPending {
		t.Fatalf("expected optimistic check against pending, got %s", expectedStatus)
	}
	last := persisted.StatusHistory[len(persisted.StatusHistory)-1]
	if last.From != domain.OrderStatusPending || last.To != domain.OrderStatusAssigned || last.Actor != "admin-meera" {
		t.Fatalf("unexpected history entry: %+v", last)
	}
	if len(publisher.events) != 1 || publisher.events[0].Type != OrderEventAssigned {
		t.Fatalf("expected order.assigned event, got %+v", publisher.events)
	}
}

func TestAssignOrderRejectsTerminalStates(t *testing.T) {
	for _, status := range []OrderStatus{domain.OrderStatusDelivered, domain.OrderStatusRejected, domain.OrderStatusCancelled} {
		svc := newOrderService(t, orderFixture{
			orders: &stubOrderRepository{
				findByIDFn: func(context.Context, string) (Order, error) {
					order := pendingOrder()
					order.Status = status
					return order, nil
				},
			},
		})

		_, err := svc.AssignOrder(context.Background(), AssignOrderCommand{OrderID: "ord-1001", AssignedTo: "ravi", AssignedFrom: "warehouse-1", Actor: "admin"})
		if !errors.Is(err, ErrOrderInvalidState) {
			t.Fatalf("status %s: expected invalid state, got %v", status, err)
		}
	}
}

func TestAssignOrderValidatesNames(t *testing.T) {
	svc := newOrderService(t, orderFixture{})

	cases := []struct {
		name string
		cmd  AssignOrderCommand
	}{
		{"missing assignee", AssignOrderCommand{OrderID: "ord-1001", AssignedFrom: "warehouse-1", Actor: "admin"}},
		{"short assignee", AssignOrderCommand{OrderID: "ord-1001", AssignedTo: "r", AssignedFrom: "warehouse-1", Actor: "admin"}},
		{"missing source", AssignOrderCommand{OrderID: "ord-1001", AssignedTo: "ravi", Actor: "admin"}},
		{"short source", AssignOrderCommand{OrderID: "ord-1001", AssignedTo: "ravi", AssignedFrom: "w", Actor: "admin"}},
	}
	for _, tc := range cases {
		if _, err := svc.AssignOrder(context.Background(), tc.cmd); !errors.Is(err, ErrOrderInvalidInput) {
			t.Fatalf("%s: expected invalid input, got %v", tc.name, err)
		}
	}
}

func TestDeliverOrderRequiresConfirmedBy(t *testing.T) {
	svc := newOrderService(t, orderFixture{})

	_, err := svc.DeliverOrder(context.Background(), DeliverOrderCommand{OrderID: "ord-1001", DeliveredBy: "ravi", Actor: "ravi"})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input without confirming party, got %v", err)
	}
}

func TestDeliverOrderRequiresAssigned(t *testing.T) {
	svc := newOrderService(t, orderFixture{
		orders: &stubOrderRepository{
			findByIDFn: func(context.Context, string) (Order, error) { return pendingOrder(), nil },
		},
	})

	_, err := svc.DeliverOrder(context.Background(), DeliverOrderCommand{OrderID: "ord-1001", DeliveredBy: "ravi", ConfirmedBy: "customer", Actor: "ravi"})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected invalid state for pending delivery, got %v", err)
	}
}

func TestDeliverOrderMarksAssignedDelivered(t *testing.T) {
	svc := newOrderService(t, orderFixture{
		orders: &stubOrderRepository{
			findByIDFn: func(context.Context, string) (Order, error) {
				order := pendingOrder()
				order.Status = domain.OrderStatusAssigned
				order.AssignedTo = "ravi"
				return order, nil
			},
			updateWithStatusFn: func(context.Context, Order, OrderStatus) error { return nil },
		},
	})

	order, err := svc.DeliverOrder(context.Background(), DeliverOrderCommand{
		OrderID:     "ord-1001",
		DeliveredBy: "ravi",
		ConfirmedBy: "customer",
		Actor:       "ravi",
	})
	if err != nil {
		t.Fatalf("DeliverOrder: %v", err)
	}
	if order.Status != domain.OrderStatusDelivered || order.DeliveredBy != "ravi" || order.DeliveredAt == nil {
		t.Fatalf("unexpected order: %+v", order)
	}
	if order.ConfirmedBy != "customer" || order.ConfirmedAt == nil {
		t.Fatalf("expected confirmation details, got %+v", order)
	}
}

func TestRejectOrderOnlineRequiresRefundID(t *testing.T) {
	svc := newOrderService(t, orderFixture{
		orders: &stubOrderRepository{
			findByIDFn: func(context.Context, string) (Order, error) {
				order := pendingOrder()
				order.PaymentMethod = domain.PaymentMethodOnline
				order.PaymentInfo = PaymentInfo{GatewayPaymentID: "pay_Mk1", SignatureVerified: true}
				return order, nil
			},
		},
	})

	_, err := svc.RejectOrder(context.Background(), RejectOrderCommand{
		OrderID:    "ord-1001",
		RejectedBy: "admin-meera",
		Reason:     "out of delivery range",
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input without refund id, got %v", err)
	}
}

func TestRejectOrderOnlineVerifiesRefund(t *testing.T) {
	var checked payments.RefundCheck
	var persisted Order
	svc := newOrderService(t, orderFixture{
		orders: &stubOrderRepository{
			findByIDFn: func(context.Context, string) (Order, error) {
				order := pendingOrder()
				order.PaymentMethod = domain.PaymentMethodOnline
				order.PaymentInfo = PaymentInfo{GatewayPaymentID: "pay_Mk1", SignatureVerified: true}
				return order, nil
			},
			updateWithStatusFn: func(_ context.Context, order Order, _ OrderStatus) error {
				persisted = order
				return nil
			},
		},
		refunds: &stubRefundVerifier{fn: func(_ context.Context, check payments.RefundCheck) (payments.Refund, error) {
			checked = check
			return payments.Refund{ID: check.RefundID, PaymentID: "pay_Mk1", Amount: 35000, Status: payments.RefundStatusProcessed}, nil
		}},
	})

	order, err := svc.RejectOrder(context.Background(), RejectOrderCommand{
		OrderID:             "ord-1001",
		RejectedBy:          "admin-meera",
		Reason:              "damaged packaging",
		RefundTransactionID: "rfnd_1",
	})
	if err != nil {
		t.Fatalf("RejectOrder: %v", err)
	}
	if checked.ExpectedPaymentID != "pay_Mk1" || checked.OrderTotalPaise != 35000 {
		t.Fatalf("unexpected refund check: %+v", checked)
	}
	if !order.RefundVerified || order.RefundTransactionID != "rfnd_1" || order.RefundedAt == nil {
		t.Fatalf("expected verified refund recorded, got %+v", order)
	}
	if persisted.Status != domain.OrderStatusRejected || persisted.RejectionReason != "damaged packaging" {
		t.Fatalf("unexpected persisted order: %+v", persisted)
	}
	if persisted.StockRestored {
		t.Fatalf("rejection must not restore stock")
	}
}

func TestRejectOrderRefundVerificationFailure(t *testing.T) {
	svc := newOrderService(t, orderFixture{
		orders: &stubOrderRepository{
			findByIDFn: func(context.Context, string) (Order, error) {
				order := pendingOrder()
				order.PaymentMethod = domain.PaymentMethodOnline
				order.PaymentInfo = PaymentInfo{GatewayPaymentID: "pay_Mk1"}
				return order, nil
			},
		},
		refunds: &stubRefundVerifier{fn: func(context.Context, payments.RefundCheck) (payments.Refund, error) {
			return payments.Refund{}, &payments.RefundVerificationError{
				Code:    payments.RefundPaymentMismatch,
				Message: "refund belongs to a different payment",
			}
		}},
	})

	_, err := svc.RejectOrder(context.Background(), RejectOrderCommand{
		OrderID:             "ord-1001",
		RejectedBy:          "admin-meera",
		Reason:              "stock damaged",
		RefundTransactionID: "rfnd_1",
	})
	if !errors.Is(err, ErrRefundVerification) {
		t.Fatalf("expected refund verification error, got %v", err)
	}
}

func TestRejectOrderSkipVerificationLeavesUnverified(t *testing.T) {
	var persisted Order
	svc := newOrderService(t, orderFixture{
		orders: &stubOrderRepository{
			findByIDFn: func(context.Context, string) (Order, error) {
				order := pendingOrder()
				order.PaymentMethod = domain.PaymentMethodOnline
				order.PaymentInfo = PaymentInfo{GatewayPaymentID: "pay_Mk1"}
				return order, nil
			},
			updateWithStatusFn: func(_ context.Context, order Order, _ OrderStatus) error {
				persisted = order
				return nil
			},
		},
	})

	_, err := svc.RejectOrder(context.Background(), RejectOrderCommand{
		OrderID:             "ord-1001",
		RejectedBy:          "admin-meera",
		Reason:              "gateway outage, refund done manually",
		RefundTransactionID: "rfnd_manual",
		SkipVerification:    true,
	})
	if err != nil {
		t.Fatalf("RejectOrder: %v", err)
	}
	if persisted.RefundVerified {
		t.Fatalf("skipped verification must leave refund unverified")
	}
	if persisted.RefundTransactionID != "rfnd_manual" {
		t.Fatalf("expected refund id recorded, got %q", persisted.RefundTransactionID)
	}
}

func TestRejectOrderCODNeedsNoRefund(t *testing.T) {
	svc := newOrderService(t, orderFixture{
		orders: &stubOrderRepository{
			findByIDFn:         func(context.Context, string) (Order, error) { return pendingOrder(), nil },
			updateWithStatusFn: func(context.Context, Order, OrderStatus) error { return nil },
		},
	})

	order, err := svc.RejectOrder(context.Background(), RejectOrderCommand{
		OrderID:    "ord-1001",
		RejectedBy: "admin-meera",
		Reason:     "address unreachable",
	})
	if err != nil {
		t.Fatalf("RejectOrder: %v", err)
	}
	if order.RefundTransactionID != "" {
		t.Fatalf("cod rejection must not record a refund")
	}
}

func TestCancelOrderRestoresStockOnce(t *testing.T) {
	restoreCalls := 0
	var persisted Order
	svc := newOrderService(t, orderFixture{
		orders: &stubOrderRepository{
			findByIDFn: func(context.Context, string) (Order, error) { return pendingOrder(), nil },
			updateWithStatusFn: func(_ context.Context, order Order, expected OrderStatus) error {
				if expected != domain.OrderStatusPending {
					t.Fatalf("expected optimistic check against pending, got %s", expected)
				}
				persisted = order
				return nil
			},
		},
		inventory: &stubInventoryService{
			restoreFn: func(_ context.Context, lines []StockLine) error {
				restoreCalls++
				if len(lines) != 1 || lines[0].Quantity != 2 {
					t.Fatalf("unexpected restore lines: %+v", lines)
				}
				return nil
			},
		},
	})

	order, err := svc.CancelOrder(context.Background(), CancelOrderCommand{
		OrderID: "ord-1001",
		UserID:  "user-1",
		Reason:  "ordered by mistake",
	})
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if restoreCalls != 1 {
		t.Fatalf("expected exactly one restore, got %d", restoreCalls)
	}
	if !order.StockRestored || !persisted.StockRestored {
		t.Fatalf("expected stock restored flag set")
	}
	if !order.CancelledByUser || order.CancelledBy != "user-1" {
		t.Fatalf("unexpected cancellation attribution: %+v", order)
	}
}

func TestCancelOrderForbiddenForOtherUsers(t *testing.T) {
	svc := newOrderService(t, orderFixture{
		orders: &stubOrderRepository{
			findByIDFn: func(context.Context, string) (Order, error) { return pendingOrder(), nil },
		},
	})

	_, err := svc.CancelOrder(context.Background(), CancelOrderCommand{OrderID: "ord-1001", UserID: "user-2"})
	if !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestCancelOrderPendingOnly(t *testing.T) {
	svc := newOrderService(t, orderFixture{
		orders: &stubOrderRepository{
			findByIDFn: func(context.Context, string) (Order, error) {
				order := pendingOrder()
				order.Status = domain.OrderStatusAssigned
				return order, nil
			},
		},
	})

	_, err := svc.CancelOrder(context.Background(), CancelOrderCommand{OrderID: "ord-1001", UserID: "user-1"})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected invalid state for assigned order, got %v", err)
	}
}

func TestCancelOrderReReservesWhenPersistFails(t *testing.T) {
	reserveCalls := 0
	svc := newOrderService(t, orderFixture{
		orders: &stubOrderRepository{
			findByIDFn: func(context.Context, string) (Order, error) { return pendingOrder(), nil },
			updateWithStatusFn: func(context.Context, Order, OrderStatus) error {
				return &stubConflictError{msg: "status changed concurrently"}
			},
		},
		inventory: &stubInventoryService{
			restoreFn: func(context.Context, []StockLine) error { return nil },
			reserveFn: func(context.Context, []StockLine) error {
				reserveCalls++
				return nil
			},
		},
	})

	_, err := svc.CancelOrder(context.Background(), CancelOrderCommand{OrderID: "ord-1001", UserID: "user-1"})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if reserveCalls != 1 {
		t.Fatalf("expected restored stock to be re-reserved once, got %d", reserveCalls)
	}
}

func TestAdminCancelOrderReachesDelivered(t *testing.T) {
	var persisted Order
	svc := newOrderService(t, orderFixture{
		orders: &stubOrderRepository{
			findByIDFn: func(context.Context, string) (Order, error) {
				order := pendingOrder()
				order.Status = domain.OrderStatusDelivered
				return order, nil
			},
			updateWithStatusFn: func(_ context.Context, order Order, expected OrderStatus) error {
				if expected != domain.OrderStatusDelivered {
					t.Fatalf("expected optimistic check against delivered, got %s", expected)
				}
				persisted = order
				return nil
			},
		},
		inventory: &stubInventoryService{
			restoreFn: func(context.Context, []StockLine) error { return nil },
		},
	})

	order, err := svc.AdminCancelOrder(context.Background(), AdminCancelOrderCommand{
		OrderID:   "ord-1001",
		AdminName: "admin-meera",
		Reason:    "customer escalation",
	})
	if err != nil {
		t.Fatalf("AdminCancelOrder: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled || order.CancelledByUser {
		t.Fatalf("unexpected order: %+v", order)
	}
	last := persisted.StatusHistory[len(persisted.StatusHistory)-1]
	if last.From != domain.OrderStatusDelivered || last.To != domain.OrderStatusCancelled {
		t.Fatalf("unexpected history entry: %+v", last)
	}
}

func TestAdminCancelOrderRejectsAlreadyCancelled(t *testing.T) {
	svc := newOrderService(t, orderFixture{
		orders: &stubOrderRepository{
			findByIDFn: func(context.Context, string) (Order, error) {
				order := pendingOrder()
				order.Status = domain.OrderStatusCancelled
				return order, nil
			},
		},
	})

	_, err := svc.AdminCancelOrder(context.Background(), AdminCancelOrderCommand{
		OrderID:   "ord-1001",
		AdminName: "admin-meera",
		Reason:    "duplicate request",
	})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestAdminCancelOrderSkipsRestoreWhenAlreadyRestored(t *testing.T) {
	// No restore function wired: a second restore would fail the test.
	svc := newOrderService(t, orderFixture{
		orders: &stubOrderRepository{
			findByIDFn: func(context.Context, string) (Order, error) {
				order := pendingOrder()
				order.StockRestored = true
				return order, nil
			},
			updateWithStatusFn: func(context.Context, Order, OrderStatus) error { return nil },
		},
	})

	if _, err := svc.AdminCancelOrder(context.Background(), AdminCancelOrderCommand{
		OrderID:   "ord-1001",
		AdminName: "admin-meera",
		Reason:    "follow-up cancellation",
	}); err != nil {
		t.Fatalf("AdminCancelOrder: %v", err)
	}
}

func TestRecordRefundVerifiesAgainstGateway(t *testing.T) {
	var persisted Order
	svc := newOrderService(t, orderFixture{
		orders: &stubOrderRepository{
			findByIDFn: func(context.Context, string) (Order, error) {
				order := pendingOrder()
				order.Status = domain.OrderStatusRejected
				order.PaymentMethod = domain.PaymentMethodOnline
				order.PaymentInfo = PaymentInfo{GatewayPaymentID: "pay_Mk1"}
				return order, nil
			},
			updateWithStatusFn: func(_ context.Context, order Order, _ OrderStatus) error {
				persisted = order
				return nil
			},
		},
		refunds: &stubRefundVerifier{fn: func(_ context.Context, check payments.RefundCheck) (payments.Refund, error) {
			return payments.Refund{ID: check.RefundID, PaymentID: "pay_Mk1", Amount: 34300, Status: payments.RefundStatusProcessed}, nil
		}},
	})

	order, err := svc.RecordRefund(context.Background(), RecordRefundCommand{
		OrderID:             "ord-1001",
		RefundTransactionID: "rfnd_1",
		Actor:               "admin-meera",
	})
	if err != nil {
		t.Fatalf("RecordRefund: %v", err)
	}
	if !order.RefundVerified || order.RefundedAt == nil {
		t.Fatalf("expected verified refund, got %+v", order)
	}
	if persisted.RefundTransactionID != "rfnd_1" || persisted.RefundAmount != 34300 {
		t.Fatalf("expected refund persisted, got %+v", persisted)
	}
}

func TestRecordRefundRejectsCODOrders(t *testing.T) {
	svc := newOrderService(t, orderFixture{
		orders: &stubOrderRepository{
			findByIDFn: func(context.Context, string) (Order, error) {
				order := pendingOrder()
				order.Status = domain.OrderStatusRejected
				return order, nil
			},
		},
	})

	_, err := svc.RecordRefund(context.Background(), RecordRefundCommand{
		OrderID:             "ord-1001",
		RefundTransactionID: "rfnd_1",
		Actor:               "admin-meera",
	})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected invalid state for cod refund, got %v", err)
	}
}

func TestRecordRefundGatewayUnavailable(t *testing.T) {
	svc := newOrderService(t, orderFixture{
		orders: &stubOrderRepository{
			findByIDFn: func(context.Context, string) (Order, error) {
				order := pendingOrder()
				order.Status = domain.OrderStatusCancelled
				order.PaymentMethod = domain.PaymentMethodOnline
				order.PaymentInfo = PaymentInfo{GatewayPaymentID: "pay_Mk1"}
				return order, nil
			},
		},
		refunds: &stubRefundVerifier{fn: func(context.Context, payments.RefundCheck) (payments.Refund, error) {
			return payments.Refund{}, fmt.Errorf("%w: connection reset", payments.ErrUnavailable)
		}},
	})

	_, err := svc.RecordRefund(context.Background(), RecordRefundCommand{
		OrderID:             "ord-1001",
		RefundTransactionID: "rfnd_1",
		Actor:               "admin-meera",
	})
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected gateway unavailable, got %v", err)
	}
}

func TestDeleteOrderRestoresStockFirst(t *testing.T) {
	var sequence []string
	svc := newOrderService(t, orderFixture{
		orders: &stubOrderRepository{
			findByIDFn: func(context.Context, string) (Order, error) { return pendingOrder(), nil },
			updateWithStatusFn: func(_ context.Context, order Order, _ OrderStatus) error {
				if !order.StockRestored {
					t.Fatal("expected the restore flag on the persisted order")
				}
				sequence = append(sequence, "persist-flag")
				return nil
			},
			deleteFn: func(context.Context, string) error {
				sequence = append(sequence, "delete")
				return nil
			},
		},
		inventory: &stubInventoryService{
			restoreFn: func(context.Context, []StockLine) error {
				sequence = append(sequence, "restore")
				return nil
			},
		},
	})

	if err := svc.DeleteOrder(context.Background(), DeleteOrderCommand{OrderID: "ord-1001", Actor: "admin-meera"}); err != nil {
		t.Fatalf("DeleteOrder: %v", err)
	}
	want := []string{"restore", "persist-flag", "delete"}
	if len(sequence) != len(want) || sequence[0] != want[0] || sequence[1] != want[1] || sequence[2] != want[2] {
		t.Fatalf("expected %v, got %v", want, sequence)
	}
}

func TestDeleteOrderReReservesWhenFlagPersistFails(t *testing.T) {
	var reserved [][]StockLine
	deleteCalled := false
	svc := newOrderService(t, orderFixture{
		orders: &stubOrderRepository{
			findByIDFn: func(context.Context, string) (Order, error) { return pendingOrder(), nil },
			updateWithStatusFn: func(context.Context, Order, OrderStatus) error {
				return &stubUnavailableError{msg: "backend down"}
			},
			deleteFn: func(context.Context, string) error {
				deleteCalled = true
				return nil
			},
		},
		inventory: &stubInventoryService{
			restoreFn: func(context.Context, []StockLine) error { return nil },
			reserveFn: func(_ context.Context, lines []StockLine) error {
				reserved = append(reserved, lines)
				return nil
			},
		},
	})

	err := svc.DeleteOrder(context.Background(), DeleteOrderCommand{OrderID: "ord-1001", Actor: "admin-meera"})
	if err == nil {
		t.Fatal("expected delete to fail when the restore flag cannot be persisted")
	}
	if len(reserved) != 1 {
		t.Fatalf("expected restored stock to be re-reserved once, got %d", len(reserved))
	}
	if deleteCalled {
		t.Fatal("delete must not run when the restore flag was not persisted")
	}
}

func TestDeleteOrderSkipsRestoreWhenAlreadyRestored(t *testing.T) {
	svc := newOrderService(t, orderFixture{
		orders: &stubOrderRepository{
			findByIDFn: func(context.Context, string) (Order, error) {
				order := pendingOrder()
				order.StockRestored = true
				return order, nil
			},
			deleteFn: func(context.Context, string) error { return nil },
		},
	})

	if err := svc.DeleteOrder(context.Background(), DeleteOrderCommand{OrderID: "ord-1001", Actor: "admin-meera"}); err != nil {
		t.Fatalf("DeleteOrder: %v", err)
	}
}

func TestDeleteOrderNotFound(t *testing.T) {
	svc := newOrderService(t, orderFixture{
		orders: &stubOrderRepository{
			findByIDFn: func(context.Context, string) (Order, error) {
				return Order{}, &stubNotFoundError{msg: "no such order"}
			},
		},
	})

	err := svc.DeleteOrder(context.Background(), DeleteOrderCommand{OrderID: "missing", Actor: "admin-meera"})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListOrdersForwardsFilter(t *testing.T) {
	var captured repositories.OrderListFilter
	svc := newOrderService(t, orderFixture{
		orders: &stubOrderRepository{
			listFn: func(_ context.Context, filter repositories.OrderListFilter) ([]Order, error) {
				captured = filter
				return []Order{pendingOrder()}, nil
			},
		},
	})

	orders, err := svc.ListOrders(context.Background(), OrderListFilter{
		UserID:            " user-1 ",
		Statuses:          []OrderStatus{domain.OrderStatusPending},
		PendingRefundOnly: true,
		Limit:             25,
	})
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected one order, got %d", len(orders))
	}
	if captured.UserID != "user-1" || !captured.PendingRefundOnly || captured.Limit != 25 {
		t.Fatalf("unexpected filter forwarded: %+v", captured)
	}
}

func TestEventPublishFailureDoesNotFailOperation(t *testing.T) {
	var logged []string
	svc, err := NewOrderService(OrderServiceDeps{
		Orders: &stubOrderRepository{
			insertFn: func(context.Context, Order) error { return nil },
		},
		Inventory: &stubInventoryService{
			reserveFn: func(context.Context, []StockLine) error { return nil },
		},
		Signatures: &stubSignatureVerifier{},
		Refunds:    &stubRefundVerifier{},
		Events:     &capturePublisher{err: errors.New("topic unreachable")},
		Clock:      func() time.Time { return testNow },
		Logger: func(_ context.Context, event string, _ map[string]any) {
			logged = append(logged, event)
		},
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}

	if _, err := svc.CreateOrder(context.Background(), codCreateCommand()); err != nil {
		t.Fatalf("CreateOrder must survive publish failure: %v", err)
	}
	if len(logged) != 1 || logged[0] != "order.event.publish.failed" {
		t.Fatalf("expected publish failure logged, got %v", logged)
	}
}
