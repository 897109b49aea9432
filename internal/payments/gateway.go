package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// CreateOrderRequest asks the provider for a remote order. Amount is in minor units.
type CreateOrderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

// RemoteOrder is the provider's order reference.
type RemoteOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

// Provider is the external payment gateway.
type Provider interface {
	KeyID() string
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*RemoteOrder, error)
	VerifySignature(remoteOrderID, remotePaymentID, signature string) bool
}

// GatewayConfig configures HTTPGateway.
type GatewayConfig struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
}

// HTTPGateway talks to a Razorpay-style orders API with basic auth.
type HTTPGateway struct {
	baseURL   string
	keyID     string
	keySecret string
	client    *http.Client
}

func NewHTTPGateway(cfg GatewayConfig) *HTTPGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPGateway{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		client:    &http.Client{Timeout: timeout},
	}
}

func (g *HTTPGateway) KeyID() string { return g.keyID }

// CreateOrder registers a remote order for the amount to be charged.
func (g *HTTPGateway) CreateOrder(ctx context.Context, req CreateOrderRequest) (*RemoteOrder, error) {
	ctx, span := otel.Tracer("orderledger/payments").Start(ctx, "gateway.create_order")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("payment.amount_minor", req.Amount),
		attribute.String("payment.currency", req.Currency),
		attribute.String("payment.receipt", req.Receipt),
	)

	ro, err := g.createOrder(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("payment.remote_order_id", ro.ID))
	return ro, nil
}

func (g *HTTPGateway) createOrder(ctx context.Context, req CreateOrderRequest) (*RemoteOrder, error) {
	if g.keyID == "" || g.keySecret == "" {
		return nil, fmt.Errorf("gateway credentials not configured")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal gateway order: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}
	httpReq.SetBasicAuth(g.keyID, g.keySecret)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call gateway: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("read gateway response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var ro RemoteOrder
	if err := json.Unmarshal(raw, &ro); err != nil {
		return nil, fmt.Errorf("decode gateway order: %w", err)
	}
	if ro.ID == "" {
		return nil, fmt.Errorf("gateway response missing order id")
	}
	return &ro, nil
}

// VerifySignature checks the callback signature: hex HMAC-SHA256 of
// "<remote_order_id>|<remote_payment_id>" keyed with the secret.
func (g *HTTPGateway) VerifySignature(remoteOrderID, remotePaymentID, signature string) bool {
	return VerifySignature(g.keySecret, remoteOrderID, remotePaymentID, signature)
}

// Sign returns the signature the provider would send for the pair.
func Sign(secret, remoteOrderID, remotePaymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(remoteOrderID + "|" + remotePaymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares in constant time. An empty secret never verifies.
func VerifySignature(secret, remoteOrderID, remotePaymentID, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := Sign(secret, remoteOrderID, remotePaymentID)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}
