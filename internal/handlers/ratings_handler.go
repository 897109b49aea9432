package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/imrishuroy/go-orderledger/internal/validation"
)

func (h *Handler) SubmitRating(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	var req validation.RatingRequest
	if err := validation.BindAndValidate(c, &req, h.validate); err != nil {
		return
	}
	r, err := h.ratings.Submit(c.Request.Context(), id.UserID, req.OrderLineID, req.Rating, req.Comment)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}
