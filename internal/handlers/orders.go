package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/HemantMali8233/Krishivishwa-Biotech/internal/domain"
	"github.com/HemantMali8233/Krishivishwa-Biotech/internal/platform/auth"
	"github.com/HemantMali8233/Krishivishwa-Biotech/internal/platform/httpx"
	"github.com/HemantMali8233/Krishivishwa-Biotech/internal/services"
)

const (
	defaultOrderPageSize   = 20
	maxOrderPageSize       = 100
	maxOrderBodySize       = 64 * 1024
	maxOrderCancelBodySize = 4 * 1024
)

var validOrderStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusPending:   {},
	domain.OrderStatusAssigned:  {},
	domain.OrderStatusDelivered: {},
	domain.OrderStatusRejected:  {},
	domain.OrderStatusCancelled: {},
}

// OrderHandlers exposes order endpoints for authenticated customers.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
}

type addressRequest struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
}

type customerInfoRequest struct {
	Name    string         `json:"name"`
	Phone   string         `json:"phone"`
	Email   string         `json:"email,omitempty"`
	Address addressRequest `json:"address"`
}

type orderItemRequest struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int64  `json:"quantity"`
	LineTotal int64  `json:"line_total"`
}

type pricingRequest struct {
	Subtotal    int64 `json:"subtotal"`
	ShippingFee int64 `json:"shipping_fee"`
	Tax         int64 `json:"tax"`
	Total       int64 `json:"total"`
}

type createOrderRequest struct {
	OrderID          string              `json:"order_id"`
	CustomerInfo     customerInfoRequest `json:"customer_info"`
	Items            []orderItemRequest  `json:"items"`
	Pricing          pricingRequest      `json:"pricing"`
	PaymentMethod    string              `json:"payment_method"`
	GatewayOrderID   string              `json:"razorpay_order_id,omitempty"`
	GatewayPaymentID string              `json:"razorpay_payment_id,omitempty"`
	Signature        string              `json:"razorpay_signature,omitempty"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.orders != nil)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	items := make([]services.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, services.OrderItem{
			ProductID: strings.TrimSpace(item.ProductID),
			Name:      strings.TrimSpace(item.Name),
			ImageURL:  strings.TrimSpace(item.ImageURL),
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal,
		})
	}

	cmd := services.CreateOrderCommand{
		OrderID: strings.TrimSpace(req.OrderID),
		UserID:  strings.TrimSpace(identity.UID),
		CustomerInfo: services.CustomerInfo{
			Name:  strings.TrimSpace(req.CustomerInfo.Name),
			Phone: strings.TrimSpace(req.CustomerInfo.Phone),
			Email: strings.TrimSpace(req.CustomerInfo.Email),
			Address: domain.Address{
				Line1:      strings.TrimSpace(req.CustomerInfo.Address.Line1),
				Line2:      strings.TrimSpace(req.CustomerInfo.Address.Line2),
				City:       strings.TrimSpace(req.CustomerInfo.Address.City),
				State:      strings.TrimSpace(req.CustomerInfo.Address.State),
				PostalCode: strings.TrimSpace(req.CustomerInfo.Address.PostalCode),
			},
		},
		Items: items,
		Pricing: services.Pricing{
			Subtotal:    req.Pricing.Subtotal,
			ShippingFee: req.Pricing.ShippingFee,
			Tax:         req.Pricing.Tax,
			Total:       req.Pricing.Total,
		},
		PaymentMethod:    domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		GatewayOrderID:   strings.TrimSpace(req.GatewayOrderID),
		GatewayPaymentID: strings.TrimSpace(req.GatewayPaymentID),
		Signature:        strings.TrimSpace(req.Signature),
	}

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.orders != nil)
	if !ok {
		return
	}

	query := r.URL.Query()
	statuses, err := parseStatusFilters(query["status"])
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	limit := defaultOrderPageSize
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be an integer", http.StatusBadRequest))
			return
		}
		switch {
		case parsed <= 0:
			limit = defaultOrderPageSize
		case parsed > maxOrderPageSize:
			limit = maxOrderPageSize
		default:
			limit = parsed
		}
	}

	orders, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		UserID:   strings.TrimSpace(identity.UID),
		Statuses: statuses,
		Limit:    limit,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(orders))
	for _, order := range orders {
		items = append(items, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{Items: items})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.orders != nil)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, services.GetOrderQuery{
		OrderID: orderID,
		UserID:  strings.TrimSpace(identity.UID),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.orders != nil)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req cancelOrderRequest
	body, err := readLimitedBody(r, maxOrderCancelBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	}

	order, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		UserID:  strings.TrimSpace(identity.UID),
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type orderListResponse struct {
	Items []orderSummaryPayload `json:"items"`
}

type orderSummaryPayload struct {
	OrderID       string `json:"order_id"`
	Status        string `json:"status"`
	PaymentMethod string `json:"payment_method"`
	Total         int64  `json:"total"`
	ItemCount     int    `json:"item_count"`
	CreatedAt     string `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	OrderID       string                `json:"order_id"`
	UserID        string                `json:"user_id"`
	Status        string                `json:"status"`
	PaymentMethod string                `json:"payment_method"`
	CustomerInfo  customerInfoPayload   `json:"customer_info"`
	Items         []orderItemPayload    `json:"items"`
	Pricing       pricingPayload        `json:"pricing"`
	Payment       *paymentInfoPayload   `json:"payment,omitempty"`
	Assignment    *assignmentPayload    `json:"assignment,omitempty"`
	Delivery      *deliveryPayload      `json:"delivery,omitempty"`
	Rejection     *rejectionPayload     `json:"rejection,omitempty"`
	Cancellation  *cancellationPayload  `json:"cancellation,omitempty"`
	Refund        *refundPayload        `json:"refund,omitempty"`
	StatusHistory []statusChangePayload `json:"status_history"`
	CreatedAt     string                `json:"created_at"`
	UpdatedAt     string                `json:"updated_at,omitempty"`
}

type customerInfoPayload struct {
	Name    string         `json:"name"`
	Phone   string         `json:"phone"`
	Email   string         `json:"email,omitempty"`
	Address addressPayload `json:"address"`
}

type addressPayload struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
}

type orderItemPayload struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int64  `json:"quantity"`
	LineTotal int64  `json:"line_total"`
}

type pricingPayload struct {
	Subtotal    int64 `json:"subtotal"`
	ShippingFee int64 `json:"shipping_fee"`
	Tax         int64 `json:"tax"`
	Total       int64 `json:"total"`
}

type paymentInfoPayload struct {
	RazorpayOrderID   string `json:"razorpay_order_id,omitempty"`
	RazorpayPaymentID string `json:"razorpay_payment_id,omitempty"`
	SignatureVerified bool   `json:"signature_verified"`
	PaidAt            string `json:"paid_at,omitempty"`
}

type assignmentPayload struct {
	AssignedTo   string `json:"assigned_to"`
	AssignedFrom string `json:"assigned_from,omitempty"`
	AssignedAt   string `json:"assigned_at,omitempty"`
}

type deliveryPayload struct {
	DeliveredBy string `json:"delivered_by"`
	ConfirmedBy string `json:"confirmed_by,omitempty"`
	DeliveredAt string `json:"delivered_at,omitempty"`
	ConfirmedAt string `json:"confirmed_at,omitempty"`
}

type rejectionPayload struct {
	RejectedBy string `json:"rejected_by"`
	Reason     string `json:"reason"`
	RejectedAt string `json:"rejected_at,omitempty"`
}

type cancellationPayload struct {
	CancelledBy     string `json:"cancelled_by"`
	CancelledByUser bool   `json:"cancelled_by_user"`
	Reason          string `json:"reason,omitempty"`
	CancelledAt     string `json:"cancelled_at,omitempty"`
}

type refundPayload struct {
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount,omitempty"`
	Verified      bool   `json:"verified"`
	RefundedAt    string `json:"refunded_at,omitempty"`
}

type statusChangePayload struct {
	From   string `json:"from,omitempty"`
	To     string `json:"to"`
	Actor  string `json:"actor,omitempty"`
	Reason string `json:"reason,omitempty"`
	At     string `json:"at"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		OrderID:       order.OrderID,
		Status:        string(order.Status),
		PaymentMethod: string(order.PaymentMethod),
		Total:         order.Pricing.Total,
		ItemCount:     len(order.Items),
		CreatedAt:     formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		OrderID:       order.OrderID,
		UserID:        order.UserID,
		Status:        string(order.Status),
		PaymentMethod: string(order.PaymentMethod),
		CustomerInfo: customerInfoPayload{
			Name:  order.CustomerInfo.Name,
			Phone: order.CustomerInfo.Phone,
			Email: order.CustomerInfo.Email,
			Address: addressPayload{
				Line1:      order.CustomerInfo.Address.Line1,
				Line2:      order.CustomerInfo.Address.Line2,
				City:       order.CustomerInfo.Address.City,
				State:      order.CustomerInfo.Address.State,
				PostalCode: order.CustomerInfo.Address.PostalCode,
			},
		},
		Items: make([]orderItemPayload, 0, len(order.Items)),
		Pricing: pricingPayload{
			Subtotal:    order.Pricing.Subtotal,
			ShippingFee: order.Pricing.ShippingFee,
			Tax:         order.Pricing.Tax,
			Total:       order.Pricing.Total,
		},
		StatusHistory: make([]statusChangePayload, 0, len(order.StatusHistory)),
		CreatedAt:     formatTime(order.CreatedAt),
		UpdatedAt:     formatTime(order.UpdatedAt),
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			ImageURL:  item.ImageURL,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal,
		})
	}

	for _, change := range order.StatusHistory {
		payload.StatusHistory = append(payload.StatusHistory, statusChangePayload{
			From:   string(change.From),
			To:     string(change.To),
			Actor:  change.Actor,
			Reason: change.Reason,
			At:     formatTime(change.At),
		})
	}

	if order.PaymentMethod == domain.PaymentMethodOnline {
		payload.Payment = &paymentInfoPayload{
			RazorpayOrderID:   order.PaymentInfo.GatewayOrderID,
			RazorpayPaymentID: order.PaymentInfo.GatewayPaymentID,
			SignatureVerified: order.PaymentInfo.SignatureVerified,
			PaidAt:            formatTime(pointerTime(order.PaymentInfo.PaidAt)),
		}
	}

	if order.AssignedTo != "" {
		payload.Assignment = &assignmentPayload{
			AssignedTo:   order.AssignedTo,
			AssignedFrom: order.AssignedFrom,
			AssignedAt:   formatTime(pointerTime(order.AssignedAt)),
		}
	}

	if order.DeliveredBy != "" {
		payload.Delivery = &deliveryPayload{
			DeliveredBy: order.DeliveredBy,
			ConfirmedBy: order.ConfirmedBy,
			DeliveredAt: formatTime(pointerTime(order.DeliveredAt)),
			ConfirmedAt: formatTime(pointerTime(order.ConfirmedAt)),
		}
	}

	if order.RejectedBy != "" {
		payload.Rejection = &rejectionPayload{
			RejectedBy: order.RejectedBy,
			Reason:     order.RejectionReason,
			RejectedAt: formatTime(pointerTime(order.RejectedAt)),
		}
	}

	if order.CancelledBy != "" {
		payload.Cancellation = &cancellationPayload{
			CancelledBy:     order.CancelledBy,
			CancelledByUser: order.CancelledByUser,
			Reason:          order.CancellationReason,
			CancelledAt:     formatTime(pointerTime(order.CancelledAt)),
		}
	}

	if order.RefundTransactionID != "" {
		payload.Refund = &refundPayload{
			TransactionID: order.RefundTransactionID,
			Amount:        order.RefundAmount,
			Verified:      order.RefundVerified,
			RefundedAt:    formatTime(pointerTime(order.RefundedAt)),
		}
	}

	return payload
}

func requireIdentity(ctx context.Context, w http.ResponseWriter, serviceReady bool) (*auth.Identity, bool) {
	if !serviceReady {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func parseStatusFilters(values []string) ([]services.OrderStatus, error) {
	filters := parseFilterValues(values)
	if len(filters) == 0 {
		return nil, nil
	}
	statuses := make([]services.OrderStatus, 0, len(filters))
	for _, raw := range filters {
		status := domain.OrderStatus(raw)
		if _, ok := validOrderStatuses[status]; !ok {
			return nil, errors.New("status filter contains an unknown status")
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrInventoryInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		// Avoid leaking whether a foreign order exists.
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrInventoryInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrInventoryProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrRefundVerification):
		httpx.WriteError(ctx, w, httpx.NewError("refund_verification_failed", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrGatewayUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("gateway_unavailable", "payment gateway unavailable", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
