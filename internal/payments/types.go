package payments

import (
	"fmt"
	"time"

	"github.com/imrishuroy/go-orderledger/internal/apperr"
)

type Method string

const (
	MethodCOD     Method = "COD"
	MethodGateway Method = "GATEWAY"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Timeline notes
const (
	NoteCODConfirmed    = "COD confirmed"
	NoteGatewaySuccess  = "Online payment success"
	NoteSignatureFailed = "Gateway signature failed"
)

var (
	ErrPaymentExists  = fmt.Errorf("%w: payment already recorded for this order", apperr.ErrConflict)
	ErrNotPayable     = fmt.Errorf("%w: order is not awaiting payment", apperr.ErrConflict)
	ErrInvalidMethod  = fmt.Errorf("%w: use gateway endpoints for online payment", apperr.ErrValidation)
	ErrBadSignature   = fmt.Errorf("%w: payment signature verification failed", apperr.ErrValidation)
	ErrOrderMismatch  = fmt.Errorf("%w: gateway order mismatch", apperr.ErrConflict)
	ErrInvalidAmount  = fmt.Errorf("%w: order amount must be positive", apperr.ErrValidation)
	ErrGatewayFailure = fmt.Errorf("%w: payment gateway unavailable", apperr.ErrExternal)
)

// Payment is the single settlement record of an order.
type Payment struct {
	OrderID       string    `dynamodbav:"order_id" json:"order_id"` // PK
	UserID        string    `dynamodbav:"user_id" json:"-"`
	Method        Method    `dynamodbav:"method" json:"method"`
	Status        Status    `dynamodbav:"status" json:"status"`
	TransactionID string    `dynamodbav:"transaction_id,omitempty" json:"transaction_id,omitempty"`
	Amount        string    `dynamodbav:"amount" json:"amount"`
	CreatedAt     time.Time `dynamodbav:"created_at" json:"created_at"`
}

// Initiated is returned to the client to open the provider checkout.
type Initiated struct {
	Key           string `json:"key"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	RemoteOrderID string `json:"remote_order_id"`
}

// VerifyRequest is the provider callback relayed by the client.
type VerifyRequest struct {
	OrderID         string
	RemoteOrderID   string
	RemotePaymentID string
	Signature       string
}

// Result reports the outcome of a payment call.
type Result struct {
	OrderID  string `json:"order_id"`
	Status   string `json:"status"`
	Method   Method `json:"method"`
	Replayed bool   `json:"replayed,omitempty"`
}
