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

const maxAdminBodySize = 16 * 1024

// AdminHandlers exposes the staff-facing order and inventory endpoints.
type AdminHandlers struct {
	authn     *auth.Authenticator
	orders    services.OrderService
	inventory services.InventoryService
}

// NewAdminHandlers constructs a new AdminHandlers instance.
func NewAdminHandlers(authn *auth.Authenticator, orders services.OrderService, inventory services.InventoryService) *AdminHandlers {
	return &AdminHandlers{
		authn:     authn,
		orders:    orders,
		inventory: inventory,
	}
}

// Routes registers the /admin endpoints. Every route requires a staff or
// admin role claim.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin, auth.RoleStaff))
	}
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Post("/orders/{orderID}:assign", h.assignOrder)
	r.Post("/orders/{orderID}:deliver", h.deliverOrder)
	r.Post("/orders/{orderID}:reject", h.rejectOrder)
	r.Post("/orders/{orderID}:cancel", h.cancelOrder)
	r.Post("/orders/{orderID}:refund", h.recordRefund)
	r.Delete("/orders/{orderID}", h.deleteOrder)
	r.Get("/inventory", h.stockLevels)
	r.Post("/inventory/{productID}:adjust", h.adjustStock)
}

type assignOrderRequest struct {
	AssignedTo   string `json:"assigned_to"`
	AssignedFrom string `json:"assigned_from,omitempty"`
}

type deliverOrderRequest struct {
	DeliveredBy string `json:"delivered_by"`
	ConfirmedBy string `json:"confirmed_by,omitempty"`
}

type rejectOrderRequest struct {
	Reason              string `json:"reason"`
	RefundTransactionID string `json:"refund_transaction_id,omitempty"`
	SkipVerification    bool   `json:"skip_verification,omitempty"`
}

type adminCancelOrderRequest struct {
	Reason              string `json:"reason"`
	RefundTransactionID string `json:"refund_transaction_id,omitempty"`
}

type recordRefundRequest struct {
	RefundTransactionID string `json:"refund_transaction_id"`
	SkipVerification    bool   `json:"skip_verification,omitempty"`
}

type adjustStockRequest struct {
	Delta  int64  `json:"delta"`
	Reason string `json:"reason,omitempty"`
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireIdentity(ctx, w, h.orders != nil); !ok {
		return
	}

	query := r.URL.Query()
	statuses, err := parseStatusFilters(query["status"])
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.OrderListFilter{
		UserID:   strings.TrimSpace(query.Get("user_id")),
		Statuses: statuses,
		Limit:    defaultOrderPageSize,
	}

	if raw := strings.ToLower(strings.TrimSpace(query.Get("payment_method"))); raw != "" {
		method := domain.PaymentMethod(raw)
		if method != domain.PaymentMethodCOD && method != domain.PaymentMethodOnline {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment_method must be cod or online", http.StatusBadRequest))
			return
		}
		filter.PaymentMethod = method
	}

	if raw := strings.TrimSpace(query.Get("pending_refund_only")); raw != "" {
		pendingOnly, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "pending_refund_only must be a boolean", http.StatusBadRequest))
			return
		}
		filter.PendingRefundOnly = pendingOnly
	}

	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be an integer", http.StatusBadRequest))
			return
		}
		switch {
		case parsed <= 0:
			filter.Limit = defaultOrderPageSize
		case parsed > maxOrderPageSize:
			filter.Limit = maxOrderPageSize
		default:
			filter.Limit = parsed
		}
	}

	orders, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, adminOrderListResponse{Items: items})
}

func (h *AdminHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireIdentity(ctx, w, h.orders != nil); !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	// Staff reads skip the ownership restriction.
	order, err := h.orders.GetOrder(ctx, services.GetOrderQuery{OrderID: orderID})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) assignOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.orders != nil)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	var req assignOrderRequest
	if !decodeAdminBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.AssignOrder(ctx, services.AssignOrderCommand{
		OrderID:      orderID,
		AssignedTo:   strings.TrimSpace(req.AssignedTo),
		AssignedFrom: strings.TrimSpace(req.AssignedFrom),
		Actor:        identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) deliverOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.orders != nil)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	var req deliverOrderRequest
	if !decodeAdminBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.DeliverOrder(ctx, services.DeliverOrderCommand{
		OrderID:     orderID,
		DeliveredBy: strings.TrimSpace(req.DeliveredBy),
		ConfirmedBy: strings.TrimSpace(req.ConfirmedBy),
		Actor:       identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) rejectOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.orders != nil)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	var req rejectOrderRequest
	if !decodeAdminBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.RejectOrder(ctx, services.RejectOrderCommand{
		OrderID:             orderID,
		RejectedBy:          identity.UID,
		Reason:              strings.TrimSpace(req.Reason),
		RefundTransactionID: strings.TrimSpace(req.RefundTransactionID),
		SkipVerification:    req.SkipVerification,
		Actor:               identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.orders != nil)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	var req adminCancelOrderRequest
	if !decodeAdminBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.AdminCancelOrder(ctx, services.AdminCancelOrderCommand{
		OrderID:             orderID,
		AdminName:           identity.UID,
		Reason:              strings.TrimSpace(req.Reason),
		RefundTransactionID: strings.TrimSpace(req.RefundTransactionID),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) recordRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.orders != nil)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	var req recordRefundRequest
	if !decodeAdminBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.RecordRefund(ctx, services.RecordRefundCommand{
		OrderID:             orderID,
		RefundTransactionID: strings.TrimSpace(req.RefundTransactionID),
		SkipVerification:    req.SkipVerification,
		Actor:               identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.orders != nil)
	if !ok {
		return
	}

	// Deletion is reserved for admins; staff can only move orders through the
	// state machine.
	if !identity.HasRole(auth.RoleAdmin) {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "admin role required", http.StatusForbidden))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	if err := h.orders.DeleteOrder(ctx, services.DeleteOrderCommand{
		OrderID: orderID,
		Actor:   identity.UID,
	}); err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandlers) stockLevels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireIdentity(ctx, w, h.inventory != nil); !ok {
		return
	}

	ids := parseFilterValues(r.URL.Query()["product_id"])
	products, err := h.inventory.StockLevels(ctx, ids)
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}

	items := make([]productPayload, 0, len(products))
	for _, product := range products {
		items = append(items, buildProductPayload(product))
	}
	writeJSONResponse(w, http.StatusOK, productListResponse{Items: items})
}

func (h *AdminHandlers) adjustStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.inventory != nil)
	if !ok {
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	var req adjustStockRequest
	if !decodeAdminBody(ctx, w, r, &req) {
		return
	}

	product, err := h.inventory.AdjustStock(ctx, services.AdjustStockCommand{
		ProductID: productID,
		Delta:     req.Delta,
		Actor:     identity.UID,
		Reason:    strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

type adminOrderListResponse struct {
	Items []orderPayload `json:"items"`
}

type productListResponse struct {
	Items []productPayload `json:"items"`
}

type productResponse struct {
	Product productPayload `json:"product"`
}

type productPayload struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name,omitempty"`
	UnitPrice int64  `json:"unit_price"`
	Stock     int64  `json:"stock"`
	ImageURL  string `json:"image_url,omitempty"`
	Active    bool   `json:"active"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

func buildProductPayload(product services.Product) productPayload {
	return productPayload{
		ProductID: product.ID,
		Name:      product.Name,
		UnitPrice: product.UnitPrice,
		Stock:     product.Stock,
		ImageURL:  product.ImageURL,
		Active:    product.Active,
		UpdatedAt: formatTime(product.UpdatedAt),
	}
}

func decodeAdminBody(ctx context.Context, w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		if errors.Is(err, errEmptyBody) {
			return true
		}
		writeBodyError(ctx, w, err)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func writeInventoryError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrInventoryInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrInventoryProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", err.Error(), http.StatusNotFound))
	case errors.Is(err, services.ErrInventoryInsufficientStock):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("inventory_error", "failed to process inventory request", http.StatusInternalServerError))
	}
}
