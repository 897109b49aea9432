package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/imrishuroy/go-orderledger/internal/payments"
	"github.com/imrishuroy/go-orderledger/internal/validation"
)

func (h *Handler) Pay(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req validation.PayRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return
	}
	res, err := h.payments.PayCOD(c.Request.Context(), id.UserID, req.OrderID, req.PaymentMethod)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) InitiateGatewayPayment(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req validation.InitiateRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return
	}
	started, err := h.payments.InitiateGateway(c.Request.Context(), id.UserID, req.OrderID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, started)
}

func (h *Handler) VerifyGatewayPayment(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req validation.VerifyRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return
	}
	res, err := h.payments.VerifyGateway(c.Request.Context(), id.UserID, payments.VerifyRequest{
		OrderID:         req.OrderID,
		RemoteOrderID:   req.RemoteOrderID,
		RemotePaymentID: req.RemotePaymentID,
		Signature:       req.Signature,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
