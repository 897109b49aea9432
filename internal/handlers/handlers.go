// Package handlers exposes the order ledger over HTTP.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/imrishuroy/go-orderledger/internal/apperr"
	"github.com/imrishuroy/go-orderledger/internal/auth"
	"github.com/imrishuroy/go-orderledger/internal/cart"
	"github.com/imrishuroy/go-orderledger/internal/orders"
	"github.com/imrishuroy/go-orderledger/internal/payments"
	"github.com/imrishuroy/go-orderledger/internal/pricing"
	"github.com/imrishuroy/go-orderledger/internal/ratings"
	"github.com/imrishuroy/go-orderledger/internal/validation"
)

type CartService interface {
	Add(ctx context.Context, userID, productID, size string, qty int) (*cart.Line, error)
	UpdateQuantity(ctx context.Context, userID, lineID string, qty int) (*cart.Line, error)
	ChangeSize(ctx context.Context, userID, lineID, size string) (*cart.Line, error)
	Remove(ctx context.Context, userID, lineID string) error
	Lines(ctx context.Context, userID string) ([]cart.PricedLine, error)
	Breakup(ctx context.Context, userID string) (pricing.Breakup, []cart.PricedLine, error)
}

type OrderService interface {
	Create(ctx context.Context, userID, addressID, idempotencyKey string) (*orders.Created, error)
	List(ctx context.Context, userID string) ([]orders.View, error)
	Get(ctx context.Context, userID, orderID string) (*orders.View, error)
	Cancel(ctx context.Context, userID, orderID string) (*orders.View, error)
	AdminSetStatus(ctx context.Context, admin bool, orderID, rawStatus string) (*orders.View, error)
}

type PaymentService interface {
	PayCOD(ctx context.Context, userID, orderID, method string) (*payments.Result, error)
	InitiateGateway(ctx context.Context, userID, orderID string) (*payments.Initiated, error)
	VerifyGateway(ctx context.Context, userID string, req payments.VerifyRequest) (*payments.Result, error)
}

type RatingService interface {
	Submit(ctx context.Context, userID, lineID string, score int, comment string) (*ratings.Rating, error)
}

// Handler groups the services behind the routes.
type Handler struct {
	cart     CartService
	orders   OrderService
	payments PaymentService
	ratings  RatingService
	validate *validatorv10.Validate
}

func NewHandler(c CartService, o OrderService, p PaymentService, r RatingService) *Handler {
	return &Handler{
		cart:     c,
		orders:   o,
		payments: p,
		ratings:  r,
		validate: validation.New(),
	}
}

// API builds the router. Every route except /health requires a bearer token.
func API(h *Handler, verifier *auth.Verifier) *gin.Engine {
	r := gin.New()
	r.Use(Logger(), gin.Recovery())

	r.GET("/health", HealthCheck)

	v1 := r.Group("")
	v1.Use(verifier.Authentication())
	{
		v1.GET("/cart", h.GetCart)
		v1.POST("/cart/items", h.AddCartItem)
		v1.PATCH("/cart/items/:id", h.UpdateCartItem)
		v1.PATCH("/cart/items/:id/size", h.ChangeCartItemSize)
		v1.DELETE("/cart/items/:id", h.RemoveCartItem)
		v1.GET("/checkout/breakup", h.CheckoutBreakup)

		v1.POST("/orders", h.CreateOrder)
		v1.GET("/orders", h.ListOrders)
		v1.GET("/orders/:id", h.GetOrder)
		v1.POST("/orders/:id/cancel", h.CancelOrder)
		v1.PATCH("/orders/:id/status", h.SetOrderStatus)

		v1.POST("/payments", h.Pay)
		v1.POST("/payments/gateway/initiate", h.InitiateGatewayPayment)
		v1.POST("/payments/gateway/verify", h.VerifyGatewayPayment)

		v1.POST("/ratings", h.SubmitRating)
	}
	return r
}

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Logger writes one structured line per request.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.InfoContext(c.Request.Context(), "http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// identity returns the authenticated caller, aborting with 401 when there is none.
func identity(c *gin.Context) (auth.Identity, bool) {
	id, ok := auth.FromContext(c.Request.Context())
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "detail": "bearer token required"})
	}
	return id, ok
}

// writeError maps err to its status and the {"error", "detail"} body. Unclassified errors
// are logged and their detail hidden.
func writeError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	detail := apperr.Reason(err)
	if status == http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
		if !errors.Is(err, apperr.ErrExternal) {
			detail = "internal error"
		}
	}
	c.AbortWithStatusJSON(status, gin.H{"error": apperr.Code(err), "detail": detail})
}
