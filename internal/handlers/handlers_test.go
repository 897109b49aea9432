package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/imrishuroy/go-orderledger/internal/apperr"
	"github.com/imrishuroy/go-orderledger/internal/auth"
	"github.com/imrishuroy/go-orderledger/internal/cart"
	"github.com/imrishuroy/go-orderledger/internal/inventory"
	"github.com/imrishuroy/go-orderledger/internal/orders"
	"github.com/imrishuroy/go-orderledger/internal/payments"
	"github.com/imrishuroy/go-orderledger/internal/pricing"
	"github.com/imrishuroy/go-orderledger/internal/ratings"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "handler-secret"

type fakeCart struct {
	lines  []cart.PricedLine
	addErr error
	added  []string
}

func (f *fakeCart) Add(_ context.Context, userID, productID, size string, qty int) (*cart.Line, error) {
	if f.addErr != nil {
		return nil, f.addErr
	}
	f.added = append(f.added, fmt.Sprintf("%s:%s:%s:%d", userID, productID, size, qty))
	return &cart.Line{LineID: cart.LineID(productID, size), ProductID: productID, Size: size, Quantity: qty}, nil
}

func (f *fakeCart) UpdateQuantity(_ context.Context, _, lineID string, qty int) (*cart.Line, error) {
	return &cart.Line{LineID: lineID, Quantity: qty}, nil
}

func (f *fakeCart) ChangeSize(_ context.Context, _, _, size string) (*cart.Line, error) {
	return &cart.Line{Size: size}, nil
}

func (f *fakeCart) Remove(context.Context, string, string) error { return nil }

func (f *fakeCart) Lines(context.Context, string) ([]cart.PricedLine, error) { return f.lines, nil }

func (f *fakeCart) Breakup(context.Context, string) (pricing.Breakup, []cart.PricedLine, error) {
	return pricing.Calculate(cart.PricingLines(f.lines)), f.lines, nil
}

type fakeOrders struct {
	created *orders.Created
	err     error
	keys    []string
	admin   []bool
}

func (f *fakeOrders) Create(_ context.Context, _, _, key string) (*orders.Created, error) {
	f.keys = append(f.keys, key)
	return f.created, f.err
}

func (f *fakeOrders) List(context.Context, string) ([]orders.View, error) {
	return []orders.View{{OrderID: "o1", Status: orders.StatusPending}}, nil
}

func (f *fakeOrders) Get(_ context.Context, _, orderID string) (*orders.View, error) {
	if orderID != "o1" {
		return nil, orders.ErrOrderNotFound
	}
	return &orders.View{OrderID: "o1", Status: orders.StatusPending, CanCancel: true}, nil
}

func (f *fakeOrders) Cancel(context.Context, string, string) (*orders.View, error) {
	return nil, orders.ErrNotCancellable
}

func (f *fakeOrders) AdminSetStatus(_ context.Context, admin bool, orderID, _ string) (*orders.View, error) {
	f.admin = append(f.admin, admin)
	if !admin {
		return nil, fmt.Errorf("%w: admin privilege required", apperr.ErrForbidden)
	}
	return &orders.View{OrderID: orderID, Status: orders.StatusShipped}, nil
}

type fakePayments struct{ err error }

func (f *fakePayments) PayCOD(_ context.Context, _, orderID, method string) (*payments.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &payments.Result{OrderID: orderID, Status: "CONFIRMED", Method: payments.Method(method)}, nil
}

func (f *fakePayments) InitiateGateway(_ context.Context, _, _ string) (*payments.Initiated, error) {
	return nil, f.err
}

func (f *fakePayments) VerifyGateway(_ context.Context, _ string, req payments.VerifyRequest) (*payments.Result, error) {
	return &payments.Result{OrderID: req.OrderID, Status: "CONFIRMED", Method: payments.MethodGateway}, nil
}

type fakeRatings struct{}

func (fakeRatings) Submit(_ context.Context, userID, lineID string, score int, comment string) (*ratings.Rating, error) {
	if lineID == "undelivered" {
		return nil, ratings.ErrNotDelivered
	}
	return &ratings.Rating{LineID: lineID, UserID: userID, Score: score, Comment: comment}, nil
}

type testAPI struct {
	router   *gin.Engine
	cart     *fakeCart
	orders   *fakeOrders
	payments *fakePayments
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	v, err := auth.NewVerifier(secret)
	require.NoError(t, err)
	a := &testAPI{cart: &fakeCart{}, orders: &fakeOrders{}, payments: &fakePayments{}}
	a.router = API(NewHandler(a.cart, a.orders, a.payments, fakeRatings{}), v)
	return a
}

func (a *testAPI) do(t *testing.T, method, path, body, role string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	tok, err := auth.NewToken(secret, "u1", role, time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func TestHealthNeedsNoToken(t *testing.T) {
	a := newTestAPI(t)
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	a.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/cart", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAddCartItem(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPost, "/cart/items", `{"product_id":"p1","size":"M","quantity":2}`, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, []string{"u1:p1:M:2"}, a.cart.added)

	w = a.do(t, http.MethodPost, "/cart/items", `{"product_id":"p1","size":"Blue Tee","quantity":2}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"size":"size_code"`)

	a.cart.addErr = inventory.ErrInsufficientStock
	w = a.do(t, http.MethodPost, "/cart/items", `{"product_id":"p1","size":"M","quantity":2}`, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.JSONEq(t, `{"error":"conflict","detail":"not enough stock for selected size"}`, w.Body.String())
}

func TestCheckoutBreakup(t *testing.T) {
	a := newTestAPI(t)
	a.cart.lines = []cart.PricedLine{{
		Line:          cart.Line{LineID: "l1", ProductID: "p1", Size: "M", Quantity: 2},
		Price:         decimal.RequireFromString("500"),
		DiscountPrice: decimal.RequireFromString("400"),
	}}

	w := a.do(t, http.MethodGet, "/checkout/breakup", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `"bag_total":"1000.00"`)
	assert.Contains(t, body, `"bag_discount":"200.00"`)
	assert.Contains(t, body, `"order_total":"928.00"`)
	assert.Contains(t, body, `"size_label":"M"`)
}

func TestCreateOrder(t *testing.T) {
	a := newTestAPI(t)
	a.orders.created = &orders.Created{OrderID: "o1", EstimatedDelivery: "2025-03-15", TotalAmount: "928.00"}

	w := a.do(t, http.MethodPost, "/orders", `{"address_id":"addr-1"}`, "", "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "/orders/o1", w.Header().Get("Location"))
	assert.JSONEq(t, `{"order_id":"o1","estimated_delivery":"2025-03-15","total_amount":"928.00"}`, w.Body.String())
	assert.Equal(t, []string{"k-1"}, a.orders.keys)

	a.orders.created.Replayed = true
	w = a.do(t, http.MethodPost, "/orders", `{"address_id":"addr-1"}`, "", "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "true", w.Header().Get("Idempotent-Replayed"))

	w = a.do(t, http.MethodPost, "/orders", `{}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	a.orders.err = fmt.Errorf("%w: cart is empty", apperr.ErrValidation)
	w = a.do(t, http.MethodPost, "/orders", `{"address_id":"addr-1"}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"validation_failed","detail":"cart is empty"}`, w.Body.String())
}

func TestOrderRoutes(t *testing.T) {
	a := newTestAPI(t)

	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/orders", "", "").Code)
	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/orders/o1", "", "").Code)
	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/orders/nope", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/orders/o1/cancel", "", "").Code)
}

func TestSetOrderStatus_AdminOnly(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPatch, "/orders/o1/status", `{"status":"shipped"}`, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	// privilege is checked before the body
	w = a.do(t, http.MethodPatch, "/orders/o1/status", `{"status":"LOST"}`, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = a.do(t, http.MethodPatch, "/orders/o1/status", `not json`, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(t, http.MethodPatch, "/orders/o1/status", `{"status":"shipped"}`, auth.RoleAdmin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"SHIPPED"`)
	assert.Equal(t, []bool{true}, a.orders.admin)

	w = a.do(t, http.MethodPatch, "/orders/o1/status", `{"status":"LOST"}`, auth.RoleAdmin)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPaymentRoutes(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPost, "/payments", `{"order_id":"o1","payment_method":"COD"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"CONFIRMED"`)

	w = a.do(t, http.MethodPost, "/payments/gateway/verify",
		`{"order_id":"o1","remote_order_id":"order_1","remote_payment_id":"pay_1","signature":"abcdef"}`, "")
	assert.Equal(t, http.StatusOK, w.Code)

	a.payments.err = payments.ErrGatewayFailure
	w = a.do(t, http.MethodPost, "/payments/gateway/initiate", `{"order_id":"o1"}`, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"external_service_error","detail":"payment gateway unavailable"}`, w.Body.String())

	a.payments.err = fmt.Errorf("dynamodb exploded")
	w = a.do(t, http.MethodPost, "/payments", `{"order_id":"o1","payment_method":"COD"}`, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal_error","detail":"internal error"}`, w.Body.String())
}

func TestSubmitRating(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPost, "/ratings", `{"order_line_id":"l1","rating":4,"comment":"fits well"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"rating":4`)

	w = a.do(t, http.MethodPost, "/ratings", `{"order_line_id":"undelivered","rating":4}`, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(t, http.MethodPost, "/ratings", `{"order_line_id":"l1","rating":9}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
