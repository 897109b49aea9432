package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/imrishuroy/go-orderledger/internal/cart"
	"github.com/imrishuroy/go-orderledger/internal/catalog"
	"github.com/imrishuroy/go-orderledger/internal/pricing"
	"github.com/imrishuroy/go-orderledger/internal/validation"
)

type cartLineView struct {
	LineID        string `json:"line_id"`
	ProductID     string `json:"product_id"`
	Name          string `json:"name,omitempty"`
	Size          string `json:"size"`
	SizeLabel     string `json:"size_label,omitempty"`
	Quantity      int    `json:"quantity"`
	Price         string `json:"price"`
	DiscountPrice string `json:"discount_price"`
}

type breakupView struct {
	BagTotal       string `json:"bag_total"`
	BagDiscount    string `json:"bag_discount"`
	PayableItems   string `json:"payable_items_total"`
	ConvenienceFee string `json:"convenience_fee"`
	DeliveryFee    string `json:"delivery_fee"`
	PlatformFee    string `json:"platform_fee"`
	OrderTotal     string `json:"order_total"`
}

func newCartLineViews(lines []cart.PricedLine) []cartLineView {
	out := make([]cartLineView, len(lines))
	for i, l := range lines {
		out[i] = cartLineView{
			LineID:        l.LineID,
			ProductID:     l.ProductID,
			Name:          l.Name,
			Size:          l.Size,
			SizeLabel:     catalog.SizeLabel(l.Size),
			Quantity:      l.Quantity,
			Price:         pricing.Format(l.Price),
			DiscountPrice: pricing.Format(l.DiscountPrice),
		}
	}
	return out
}

func newBreakupView(b pricing.Breakup) breakupView {
	return breakupView{
		BagTotal:       pricing.Format(b.BagTotal),
		BagDiscount:    pricing.Format(b.BagDiscount),
		PayableItems:   pricing.Format(b.PayableItems),
		ConvenienceFee: pricing.Format(b.ConvenienceFee),
		DeliveryFee:    pricing.Format(b.DeliveryFee),
		PlatformFee:    pricing.Format(b.PlatformFee),
		OrderTotal:     pricing.Format(b.OrderTotal),
	}
}

func (h *Handler) GetCart(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	lines, err := h.cart.Lines(c.Request.Context(), id.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": newCartLineViews(lines)})
}

func (h *Handler) AddCartItem(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req validation.AddCartItemRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return
	}
	line, err := h.cart.Add(c.Request.Context(), id.UserID, req.ProductID, req.Size, req.Quantity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, line)
}

func (h *Handler) UpdateCartItem(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req validation.UpdateQuantityRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return
	}
	line, err := h.cart.UpdateQuantity(c.Request.Context(), id.UserID, c.Param("id"), req.Quantity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, line)
}

func (h *Handler) ChangeCartItemSize(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req validation.ChangeSizeRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return
	}
	line, err := h.cart.ChangeSize(c.Request.Context(), id.UserID, c.Param("id"), req.Size)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, line)
}

func (h *Handler) RemoveCartItem(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	if err := h.cart.Remove(c.Request.Context(), id.UserID, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) CheckoutBreakup(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	b, lines, err := h.cart.Breakup(c.Request.Context(), id.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"items":   newCartLineViews(lines),
		"breakup": newBreakupView(b),
	})
}
