package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/HemantMali8233/Krishivishwa-Biotech/internal/payments"
	"github.com/HemantMali8233/Krishivishwa-Biotech/internal/platform/auth"
	"github.com/HemantMali8233/Krishivishwa-Biotech/internal/platform/httpx"
	"github.com/HemantMali8233/Krishivishwa-Biotech/internal/services"
)

const maxPaymentBodySize = 8 * 1024

// PaymentHandlers exposes the gateway-facing endpoints used during online
// checkout: creating a gateway order, verifying the returned signature and
// fetching payment details.
type PaymentHandlers struct {
	authn      *auth.Authenticator
	gateway    payments.Gateway
	signatures services.PaymentSignatureVerifier
	currency   string
}

// PaymentOption customises PaymentHandlers construction.
type PaymentOption func(*PaymentHandlers)

// WithPaymentCurrency overrides the default settlement currency.
func WithPaymentCurrency(currency string) PaymentOption {
	return func(h *PaymentHandlers) {
		if trimmed := strings.TrimSpace(currency); trimmed != "" {
			h.currency = strings.ToUpper(trimmed)
		}
	}
}

// NewPaymentHandlers constructs a new PaymentHandlers instance.
func NewPaymentHandlers(authn *auth.Authenticator, gateway payments.Gateway, signatures services.PaymentSignatureVerifier, opts ...PaymentOption) *PaymentHandlers {
	h := &PaymentHandlers{
		authn:      authn,
		gateway:    gateway,
		signatures: signatures,
		currency:   "INR",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/orders", h.createGatewayOrder)
	r.Post("/verify", h.verifySignature)
	r.Get("/{paymentID}", h.getPayment)
}

type createGatewayOrderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency,omitempty"`
	Receipt  string `json:"receipt,omitempty"`
}

type gatewayOrderPayload struct {
	RazorpayOrderID string `json:"razorpay_order_id"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Receipt         string `json:"receipt,omitempty"`
	Status          string `json:"status,omitempty"`
}

type verifySignatureRequest struct {
	RazorpayOrderID   string `json:"razorpay_order_id"`
	RazorpayPaymentID string `json:"razorpay_payment_id"`
	RazorpaySignature string `json:"razorpay_signature"`
}

type verifySignatureResponse struct {
	Verified bool `json:"verified"`
}

type paymentPayload struct {
	PaymentID       string `json:"payment_id"`
	RazorpayOrderID string `json:"razorpay_order_id,omitempty"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Status          string `json:"status"`
	Method          string `json:"method,omitempty"`
	Email           string `json:"email,omitempty"`
	Contact         string `json:"contact,omitempty"`
}

func (h *PaymentHandlers) createGatewayOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.gateway != nil)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxPaymentBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req createGatewayOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}
	if req.Amount <= 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "amount must be a positive number of paise", http.StatusBadRequest))
		return
	}

	currency := h.currency
	if trimmed := strings.TrimSpace(req.Currency); trimmed != "" {
		currency = strings.ToUpper(trimmed)
	}

	order, err := h.gateway.CreateOrder(ctx, payments.CreateOrderRequest{
		AmountPaise: req.Amount,
		Currency:    currency,
		Receipt:     strings.TrimSpace(req.Receipt),
		Notes:       map[string]string{"userId": identity.UID},
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, gatewayOrderPayload{
		RazorpayOrderID: order.ID,
		Amount:          order.Amount,
		Currency:        order.Currency,
		Receipt:         order.Receipt,
		Status:          order.Status,
	})
}

func (h *PaymentHandlers) verifySignature(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireIdentity(ctx, w, h.signatures != nil); !ok {
		return
	}

	body, err := readLimitedBody(r, maxPaymentBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req verifySignatureRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}
	orderRef := strings.TrimSpace(req.RazorpayOrderID)
	paymentRef := strings.TrimSpace(req.RazorpayPaymentID)
	signature := strings.TrimSpace(req.RazorpaySignature)
	if orderRef == "" || paymentRef == "" || signature == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "razorpay_order_id, razorpay_payment_id and razorpay_signature are required", http.StatusBadRequest))
		return
	}

	writeJSONResponse(w, http.StatusOK, verifySignatureResponse{
		Verified: h.signatures.Verify(orderRef, paymentRef, signature),
	})
}

func (h *PaymentHandlers) getPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w, h.gateway != nil)
	if !ok {
		return
	}

	// Payment lookups expose gateway state; restrict them to staff.
	if !identity.HasAnyRole(auth.RoleAdmin, auth.RoleStaff) {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "staff role required", http.StatusForbidden))
		return
	}

	paymentID := strings.TrimSpace(chi.URLParam(r, "paymentID"))
	if paymentID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment id is required", http.StatusBadRequest))
		return
	}

	payment, err := h.gateway.FetchPayment(ctx, paymentID)
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, paymentPayload{
		PaymentID:       payment.ID,
		RazorpayOrderID: payment.OrderID,
		Amount:          payment.Amount,
		Currency:        payment.Currency,
		Status:          payment.Status,
		Method:          payment.Method,
		Email:           payment.Email,
		Contact:         payment.Contact,
	})
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, payments.ErrNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_found", "gateway resource not found", http.StatusNotFound))
	case errors.Is(err, payments.ErrUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("gateway_unavailable", "payment gateway unavailable", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_error", "failed to process payment request", http.StatusInternalServerError))
	}
}
