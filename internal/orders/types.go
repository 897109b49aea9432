package orders

import (
	"fmt"
	"strings"
	"time"

	"github.com/imrishuroy/go-orderledger/internal/apperr"
	"github.com/imrishuroy/go-orderledger/internal/pricing"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an order.
type Status string

// Order statuses
const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusShipped   Status = "SHIPPED"
	StatusDelivered Status = "DELIVERED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Timeline notes
const (
	NoteCreated       = "Order created"
	NoteAutoDelivered = "Auto delivered (ETA reached)"
	NoteAdminUpdate   = "Admin updated status"
	NoteUserCancelled = "Cancelled by user"
)

var (
	ErrOrderNotFound  = fmt.Errorf("%w: order not found", apperr.ErrNotFound)
	ErrLineNotFound   = fmt.Errorf("%w: order item not found", apperr.ErrNotFound)
	ErrNotCancellable = fmt.Errorf("%w: order can no longer be cancelled", apperr.ErrValidation)
	ErrInvalidStatus  = fmt.Errorf("%w: invalid status", apperr.ErrValidation)
	ErrTerminal       = fmt.Errorf("%w: order is already closed", apperr.ErrConflict)
	ErrStatusMismatch = fmt.Errorf("%w: order status changed concurrently", apperr.ErrConflict)
	ErrTooManyLines   = fmt.Errorf("%w: too many items for one order", apperr.ErrValidation)
	ErrAdminOnly      = fmt.Errorf("%w: admin privilege required", apperr.ErrForbidden)
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusConfirmed, StatusShipped, StatusDelivered, StatusFailed, StatusCancelled}

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusFailed, StatusCancelled},
	StatusConfirmed: {StatusShipped, StatusFailed, StatusCancelled},
	StatusShipped:   {StatusDelivered},
}

// ParseStatus accepts any casing of an enumerated status.
func ParseStatus(raw string) (Status, bool) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	for _, known := range Statuses {
		if s == known {
			return s, true
		}
	}
	return "", false
}

// IsTerminal reports whether no transition may leave s.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusFailed
}

// Label is the human readable status, e.g. "Confirmed".
func (s Status) Label() string {
	if s == "" {
		return ""
	}
	lower := strings.ToLower(string(s))
	return strings.ToUpper(lower[:1]) + lower[1:]
}

// CanCancel reports whether the buyer may still cancel.
func (s Status) CanCancel() bool {
	return CanTransition(s, StatusCancelled)
}

// CanTransition reports whether the regular flow allows from -> to.
func CanTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Order is the checkout record. Amounts are fixed at creation.
type Order struct {
	OrderID           string
	UserID            string
	AddressID         string
	Pincode           string
	Status            Status
	Breakup           pricing.Breakup
	TotalAmount       decimal.Decimal
	EtaDays           int
	EstimatedDelivery string // YYYY-MM-DD
	GatewayOrderID    string
	StockCommitted    bool // cart stock now belongs to the order
	EventSeq          int
	CreatedAt         time.Time
	UpdatedAt         time.Time
	DeliveredAt       *time.Time
}

// Line is one purchased (product, size) with its price copied at checkout.
type Line struct {
	LineID    string
	OrderID   string
	UserID    string
	ProductID string
	Name      string
	Size      string
	Quantity  int
	UnitPrice decimal.Decimal
	ListPrice decimal.Decimal
}

// Event is one immutable entry of an order's status timeline.
type Event struct {
	OrderID   string    `dynamodbav:"order_id" json:"-"`
	Seq       int       `dynamodbav:"seq" json:"seq"`
	Status    Status    `dynamodbav:"status" json:"status"`
	Note      string    `dynamodbav:"note" json:"note"`
	CreatedAt time.Time `dynamodbav:"created_at" json:"created_at"`
}

// Transition describes one status change.
type Transition struct {
	To   Status
	Note string
	// From restricts the statuses the change may start from. Empty means any non-terminal status.
	From []Status
	// CommitStock marks the cart reservations as consumed by this order.
	CommitStock bool
}

func (t Transition) allows(from Status) bool {
	if len(t.From) == 0 {
		return true
	}
	for _, s := range t.From {
		if s == from {
			return true
		}
	}
	return false
}

// StatusChanged is published after every committed transition.
type StatusChanged struct {
	Type           string    `json:"type"`
	OrderID        string    `json:"order_id"`
	UserID         string    `json:"user_id"`
	From           Status    `json:"from,omitempty"`
	To             Status    `json:"to"`
	StockCommitted bool      `json:"stock_committed"`
	At             time.Time `json:"at"`
}

const EventStatusChanged = "order.status_changed"
