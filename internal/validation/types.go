package validation

// AddCartItemRequest is the payload for POST /cart/items.
type AddCartItemRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Size      string `json:"size" validate:"required,size_code"`
	Quantity  int    `json:"quantity" validate:"required,min=1,max=10"`
}

// UpdateQuantityRequest is the payload for PATCH /cart/items/:id.
type UpdateQuantityRequest struct {
	Quantity int `json:"quantity" validate:"required,min=1,max=10"`
}

// ChangeSizeRequest is the payload for PATCH /cart/items/:id/size.
type ChangeSizeRequest struct {
	Size string `json:"size" validate:"required,size_code"`
}

// CreateOrderRequest is the payload for POST /orders.
type CreateOrderRequest struct {
	AddressID string `json:"address_id" validate:"required"`
}

// PayRequest is the payload for POST /payments.
type PayRequest struct {
	OrderID       string `json:"order_id" validate:"required"`
	PaymentMethod string `json:"payment_method" validate:"required"`
}

// InitiateRequest is the payload for POST /payments/gateway/initiate.
type InitiateRequest struct {
	OrderID string `json:"order_id" validate:"required"`
}

// VerifyRequest is the gateway callback relayed by the client.
type VerifyRequest struct {
	OrderID         string `json:"order_id" validate:"required"`
	RemoteOrderID   string `json:"remote_order_id" validate:"required"`
	RemotePaymentID string `json:"remote_payment_id" validate:"required"`
	Signature       string `json:"signature" validate:"required,hexadecimal"`
}

// AdminStatusRequest is the payload for PATCH /orders/:id/status.
type AdminStatusRequest struct {
	Status string `json:"status" validate:"required,order_status"`
}

// RatingRequest is the payload for POST /ratings.
type RatingRequest struct {
	OrderLineID string `json:"order_line_id" validate:"required"`
	Rating      int    `json:"rating" validate:"required,min=1,max=5"`
	Comment     string `json:"comment" validate:"omitempty,max=1000"`
}
