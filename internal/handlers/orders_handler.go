package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/imrishuroy/go-orderledger/internal/orders"
	"github.com/imrishuroy/go-orderledger/internal/validation"
)

// CreateOrder checks out the cart. An Idempotency-Key header makes retries return the first
// response.
func (h *Handler) CreateOrder(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req validation.CreateOrderRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return
	}
	created, err := h.orders.Create(c.Request.Context(), id.UserID, req.AddressID, c.GetHeader("Idempotency-Key"))
	if err != nil {
		writeError(c, err)
		return
	}
	if created.Replayed {
		c.Header("Idempotent-Replayed", "true")
	}
	c.Header("Location", fmt.Sprintf("/orders/%s", created.OrderID))
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) ListOrders(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	views, err := h.orders.List(c.Request.Context(), id.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": views})
}

func (h *Handler) GetOrder(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	v, err := h.orders.Get(c.Request.Context(), id.UserID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handler) CancelOrder(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	v, err := h.orders.Cancel(c.Request.Context(), id.UserID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handler) SetOrderStatus(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	if !id.Admin {
		writeError(c, orders.ErrAdminOnly)
		return
	}
	var req validation.AdminStatusRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return
	}
	v, err := h.orders.AdminSetStatus(c.Request.Context(), id.Admin, c.Param("id"), req.Status)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}
