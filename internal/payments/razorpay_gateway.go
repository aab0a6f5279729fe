package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/googleapis/gax-go/v2"
	razorpay "github.com/razorpay/razorpay-go"
	rzperrs "github.com/razorpay/razorpay-go/errors"
)

const (
	defaultGatewayTimeout  = 10 * time.Second
	defaultGatewayAttempts = 3
	defaultCurrency        = "INR"
)

type razorpayOrderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type razorpayPaymentAPI interface {
	Fetch(paymentID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type razorpayRefundAPI interface {
	Fetch(refundID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type razorpayClients struct {
	orders   razorpayOrderAPI
	payments razorpayPaymentAPI
	refunds  razorpayRefundAPI
}

// RazorpayGatewayConfig configures the RazorpayGateway.
type RazorpayGatewayConfig struct {
	KeyID     string
	KeySecret string
	Timeout   time.Duration
	Attempts  int
	Logger    Logger
	Clock     func() time.Time
	Clients   *razorpayClients
}

// RazorpayGateway implements Gateway using the Razorpay SDK. Calls carry a
// per-request timeout and retry transient failures with bounded backoff;
// client errors are never retried.
type RazorpayGateway struct {
	api      razorpayClients
	timeout  time.Duration
	attempts int
	clock    func() time.Time
	logger   Logger
}

// NewRazorpayGateway constructs a Razorpay-backed Gateway.
func NewRazorpayGateway(cfg RazorpayGatewayConfig) (*RazorpayGateway, error) {
	keyID := strings.TrimSpace(cfg.KeyID)
	keySecret := strings.TrimSpace(cfg.KeySecret)
	if (keyID == "" || keySecret == "") && cfg.Clients == nil {
		return nil, errors.New("razorpay: key id and key secret are required")
	}

	var clients razorpayClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		rc := razorpay.NewClient(keyID, keySecret)
		clients = razorpayClients{
			orders:   rc.Order,
			payments: rc.Payment,
			refunds:  rc.Refund,
		}
	}
	if clients.orders == nil || clients.payments == nil || clients.refunds == nil {
		return nil, errors.New("razorpay: incomplete client configuration")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = defaultGatewayAttempts
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &RazorpayGateway{
		api:      clients,
		timeout:  timeout,
		attempts: attempts,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

var _ Gateway = (*RazorpayGateway)(nil)

// CreateOrder creates a gateway order for the given amount.
func (g *RazorpayGateway) CreateOrder(ctx context.Context, req CreateOrderRequest) (GatewayOrder, error) {
	if g == nil {
		return GatewayOrder{}, errors.New("razorpay: gateway is nil")
	}
	if req.AmountPaise <= 0 {
		return GatewayOrder{}, errors.New("razorpay: amount must be positive")
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = defaultCurrency
	}

	data := map[string]interface{}{
		"amount":   req.AmountPaise,
		"currency": currency,
	}
	if receipt := strings.TrimSpace(req.Receipt); receipt != "" {
		data["receipt"] = receipt
	}
	if len(req.Notes) > 0 {
		notes := make(map[string]interface{}, len(req.Notes))
		for k, v := range req.Notes {
			notes[k] = v
		}
		data["notes"] = notes
	}

	body, err := g.call(ctx, "razorpay.order.create", func() (map[string]interface{}, error) {
		return g.api.orders.Create(data, nil)
	})
	if err != nil {
		return GatewayOrder{}, err
	}

	return GatewayOrder{
		ID:       stringField(body, "id"),
		Amount:   amountField(body, "amount"),
		Currency: stringField(body, "currency"),
		Receipt:  stringField(body, "receipt"),
		Status:   stringField(body, "status"),
	}, nil
}

// FetchPayment retrieves a payment by id.
func (g *RazorpayGateway) FetchPayment(ctx context.Context, paymentID string) (Payment, error) {
	if g == nil {
		return Payment{}, errors.New("razorpay: gateway is nil")
	}
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return Payment{}, errors.New("razorpay: payment id is required")
	}

	body, err := g.call(ctx, "razorpay.payment.fetch", func() (map[string]interface{}, error) {
		return g.api.payments.Fetch(paymentID, nil, nil)
	})
	if err != nil {
		return Payment{}, err
	}

	return Payment{
		ID:       stringField(body, "id"),
		OrderID:  stringField(body, "order_id"),
		Amount:   amountField(body, "amount"),
		Currency: stringField(body, "currency"),
		Status:   stringField(body, "status"),
		Method:   stringField(body, "method"),
		Email:    stringField(body, "email"),
		Contact:  stringField(body, "contact"),
	}, nil
}

// FetchRefund retrieves a refund by id.
func (g *RazorpayGateway) FetchRefund(ctx context.Context, refundID string) (Refund, error) {
	if g == nil {
		return Refund{}, errors.New("razorpay: gateway is nil")
	}
	refundID = strings.TrimSpace(refundID)
	if refundID == "" {
		return Refund{}, errors.New("razorpay: refund id is required")
	}

	body, err := g.call(ctx, "razorpay.refund.fetch", func() (map[string]interface{}, error) {
		return g.api.refunds.Fetch(refundID, nil, nil)
	})
	if err != nil {
		return Refund{}, err
	}

	refund := Refund{
		ID:        stringField(body, "id"),
		PaymentID: stringField(body, "payment_id"),
		Amount:    amountField(body, "amount"),
		Currency:  stringField(body, "currency"),
		Status:    strings.ToLower(stringField(body, "status")),
	}
	if created := amountField(body, "created_at"); created > 0 {
		refund.CreatedAt = time.Unix(created, 0).UTC()
	}
	return refund, nil
}

func (g *RazorpayGateway) call(ctx context.Context, op string, fn func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	backoff := gax.Backoff{
		Initial:    200 * time.Millisecond,
		Max:        2 * time.Second,
		Multiplier: 2,
	}

	var lastErr error
	for attempt := 0; attempt < g.attempts; attempt++ {
		if attempt > 0 {
			if err := gax.Sleep(ctx, backoff.Pause()); err != nil {
				return nil, err
			}
		}

		body, err := g.invoke(ctx, fn)
		if err == nil {
			return body, nil
		}
		lastErr = classifyGatewayError(err)
		if !errors.Is(lastErr, ErrUnavailable) {
			break
		}
		g.logger(ctx, "payments.gateway.retry", map[string]any{
			"op":      op,
			"attempt": attempt + 1,
			"error":   lastErr.Error(),
		})
	}
	g.logger(ctx, "payments.gateway.error", map[string]any{
		"op":    op,
		"error": lastErr.Error(),
	})
	return nil, lastErr
}

// invoke runs fn under the configured timeout. The SDK does not accept a
// context, so the call runs in a goroutine and an expired deadline abandons it.
func (g *RazorpayGateway) invoke(ctx context.Context, fn func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type callResult struct {
		body map[string]interface{}
		err  error
	}
	ch := make(chan callResult, 1)
	go func() {
		body, err := fn()
		ch <- callResult{body: body, err: err}
	}()

	select {
	case <-callCtx.Done():
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, callCtx.Err())
	case res := <-ch:
		return res.body, res.err
	}
}

func classifyGatewayError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrNotFound) {
		return err
	}

	var badReq *rzperrs.BadRequestError
	if errors.As(err, &badReq) {
		if strings.Contains(strings.ToLower(badReq.Error()), "does not exist") {
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		return err
	}

	var serverErr *rzperrs.ServerError
	if errors.As(err, &serverErr) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var gatewayErr *rzperrs.GatewayError
	if errors.As(err, &gatewayErr) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// Anything the SDK did not type is treated as transport trouble.
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func stringField(body map[string]interface{}, key string) string {
	if body == nil {
		return ""
	}
	if v, ok := body[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// amountField tolerates the numeric types the SDK's JSON decoding may produce.
func amountField(body map[string]interface{}, key string) int64 {
	if body == nil {
		return 0
	}
	switch v := body[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
