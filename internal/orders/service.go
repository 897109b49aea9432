package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/imrishuroy/go-orderledger/internal/addresses"
	"github.com/imrishuroy/go-orderledger/internal/apperr"
	"github.com/imrishuroy/go-orderledger/internal/aws"
	"github.com/imrishuroy/go-orderledger/internal/cart"
	"github.com/imrishuroy/go-orderledger/internal/catalog"
	"github.com/imrishuroy/go-orderledger/internal/delivery"
	"github.com/imrishuroy/go-orderledger/internal/idempotency"
	"github.com/imrishuroy/go-orderledger/internal/pricing"
)

// CartReader returns the caller's priced cart.
type CartReader interface {
	Lines(ctx context.Context, userID string) ([]cart.PricedLine, error)
}

// AddressReader returns (nil, nil) for an address the user does not own.
type AddressReader interface {
	Get(ctx context.Context, addressID, userID string) (*addresses.Address, error)
}

// EtaEstimator resolves the slowest delivery eta for a set of products.
type EtaEstimator interface {
	Estimate(ctx context.Context, productIDs []string, pincode string) (int, error)
}

// Counter records diagnostic counts.
type Counter interface {
	Count(ctx context.Context, name string, value float64, dims map[string]string) error
}

// Deps are the collaborators of Service. Idempotency, Notifier and Metrics are optional.
type Deps struct {
	Store       *Store
	Cart        CartReader
	Addresses   AddressReader
	Estimator   EtaEstimator
	Idempotency *idempotency.Store
	Notifier    Notifier
	Metrics     Counter
	Location    *time.Location
}

// Service is the order state machine.
type Service struct {
	Deps
	nowFunc func() time.Time
}

func NewService(deps Deps) *Service {
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	return &Service{Deps: deps, nowFunc: time.Now}
}

// Created is the response of a successful checkout.
type Created struct {
	OrderID           string `json:"order_id"`
	EstimatedDelivery string `json:"estimated_delivery"`
	TotalAmount       string `json:"total_amount"`
	Replayed          bool   `json:"-"`
}

// Create turns the caller's cart into a PENDING order. The cart itself is left in place until
// payment consumes it. A non-empty idempotencyKey makes retries return the first response.
func (s *Service) Create(ctx context.Context, userID, addressID, idempotencyKey string) (*Created, error) {
	recordKey := ""
	if idempotencyKey != "" && s.Idempotency != nil {
		recordKey = "order:" + userID + ":" + idempotencyKey
		if prev, err := s.replay(ctx, recordKey, addressID); err != nil || prev != nil {
			return prev, err
		}
	}

	addr, err := s.Addresses.Get(ctx, addressID, userID)
	if err != nil {
		return nil, err
	}
	if addr == nil {
		return nil, fmt.Errorf("%w: invalid address", apperr.ErrValidation)
	}

	cartLines, err := s.Cart.Lines(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(cartLines) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", apperr.ErrValidation)
	}

	productIDs := make([]string, len(cartLines))
	for i, l := range cartLines {
		productIDs[i] = l.ProductID
	}
	etaDays, err := s.Estimator.Estimate(ctx, productIDs, addr.Pincode)
	if err != nil {
		return nil, err
	}

	now := s.nowFunc()
	breakup := pricing.Calculate(cart.PricingLines(cartLines))
	o := Order{
		OrderID:           uuid.NewString(),
		UserID:            userID,
		AddressID:         addr.AddressID,
		Pincode:           addr.Pincode,
		Breakup:           breakup,
		TotalAmount:       breakup.OrderTotal,
		EtaDays:           etaDays,
		EstimatedDelivery: delivery.EstimatedDate(now, etaDays, s.Location),
		CreatedAt:         now.UTC(),
	}
	lines := make([]Line, len(cartLines))
	for i, cl := range cartLines {
		size, ok := catalog.NormalizeSize(cl.Size)
		if !ok {
			slog.WarnContext(ctx, "order line size coerced", "order_id", o.OrderID, "product_id", cl.ProductID, "raw_size", cl.Size)
			s.count(ctx, "SizeCoerced", 1, map[string]string{"Source": "checkout"})
		}
		lines[i] = Line{
			LineID:    uuid.NewString(),
			ProductID: cl.ProductID,
			Name:      cl.Name,
			Size:      size,
			Quantity:  cl.Quantity,
			UnitPrice: pricing.UnitPayable(cl.Price, cl.DiscountPrice),
			ListPrice: cl.Price.Round(2),
		}
	}

	created := &Created{OrderID: o.OrderID, EstimatedDelivery: o.EstimatedDelivery, TotalAmount: pricing.Format(o.TotalAmount)}
	var extra []types.TransactWriteItem
	if recordKey != "" {
		body, err := json.Marshal(created)
		if err != nil {
			return nil, fmt.Errorf("marshal create response: %w", err)
		}
		op, err := s.Idempotency.CompletedOp(recordKey, o.OrderID, addressID, string(body), http.StatusCreated)
		if err != nil {
			return nil, err
		}
		extra = append(extra, op)
	}

	if err := s.Store.Create(ctx, o, lines, extra...); err != nil {
		if recordKey != "" && idempotency.IsDuplicate(err, 0) {
			return s.replay(ctx, recordKey, addressID)
		}
		return nil, err
	}
	slog.InfoContext(ctx, "order created", "order_id", o.OrderID, "user_id", userID, "total_amount", created.TotalAmount, "eta_days", etaDays)
	s.notify(ctx, o, "")
	return created, nil
}

func (s *Service) replay(ctx context.Context, key, addressID string) (*Created, error) {
	rec, err := s.Idempotency.Replay(ctx, key, addressID)
	if err != nil || rec == nil {
		return nil, err
	}
	var c Created
	if err := json.Unmarshal([]byte(rec.ResponseBody), &c); err != nil {
		return nil, fmt.Errorf("decode stored response: %w", err)
	}
	c.Replayed = true
	return &c, nil
}

// Owned loads an order of userID, advancing it if its ETA has passed.
func (s *Service) Owned(ctx context.Context, userID, orderID string) (*Order, error) {
	o, err := s.Store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o == nil || o.UserID != userID {
		return nil, ErrOrderNotFound
	}
	if err := s.AutoAdvance(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// Get returns the detail view of an owned order.
func (s *Service) Get(ctx context.Context, userID, orderID string) (*View, error) {
	o, err := s.Owned(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	lines, err := s.Store.Lines(ctx, o.OrderID)
	if err != nil {
		return nil, err
	}
	events, err := s.Store.Events(ctx, o.OrderID)
	if err != nil {
		return nil, err
	}
	v := NewDetailView(*o, lines, events)
	return &v, nil
}

// List returns the caller's orders, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]View, error) {
	list, err := s.Store.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := make([]View, 0, len(list))
	for i := range list {
		if err := s.AutoAdvance(ctx, &list[i]); err != nil {
			return nil, err
		}
		views = append(views, NewView(list[i]))
	}
	return views, nil
}

// Line returns an order line owned by userID together with its (advanced) order.
func (s *Service) Line(ctx context.Context, userID, lineID string) (*Line, *Order, error) {
	l, err := s.Store.GetLine(ctx, lineID)
	if err != nil {
		return nil, nil, err
	}
	if l == nil || l.UserID != userID {
		return nil, nil, ErrLineNotFound
	}
	o, err := s.Owned(ctx, userID, l.OrderID)
	if errors.Is(err, ErrOrderNotFound) {
		return nil, nil, ErrLineNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return l, o, nil
}

// Cancel is the buyer's cancellation.
func (s *Service) Cancel(ctx context.Context, userID, orderID string) (*View, error) {
	o, err := s.Owned(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if !o.Status.CanCancel() {
		return nil, ErrNotCancellable
	}
	err = s.Transition(ctx, o, Transition{
		To:   StatusCancelled,
		Note: NoteUserCancelled,
		From: []Status{StatusPending, StatusConfirmed},
	})
	if errors.Is(err, ErrStatusMismatch) || errors.Is(err, ErrTerminal) {
		return nil, ErrNotCancellable
	}
	if err != nil {
		return nil, err
	}
	v := NewView(*o)
	return &v, nil
}

// AdminSetStatus moves an order to any enumerated status. Closed orders stay closed.
func (s *Service) AdminSetStatus(ctx context.Context, admin bool, orderID, rawStatus string) (*View, error) {
	if !admin {
		return nil, ErrAdminOnly
	}
	to, ok := ParseStatus(rawStatus)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrInvalidStatus, rawStatus)
	}
	o, err := s.Store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, ErrOrderNotFound
	}
	if o.Status != to {
		if err := s.Transition(ctx, o, Transition{To: to, Note: NoteAdminUpdate}); err != nil {
			return nil, err
		}
		slog.InfoContext(ctx, "order status set by admin", "order_id", orderID, "status", to)
	}
	v := NewView(*o)
	return &v, nil
}

// AutoAdvance delivers a non-terminal order once today (in the configured zone) reaches its
// estimated delivery date. There is no SHIPPED step on this path.
func (s *Service) AutoAdvance(ctx context.Context, o *Order) error {
	if o.Status.IsTerminal() || o.EstimatedDelivery == "" {
		return nil
	}
	today := s.nowFunc().In(s.Location).Format(time.DateOnly)
	if today < o.EstimatedDelivery {
		return nil
	}
	err := s.Transition(ctx, o, Transition{To: StatusDelivered, Note: NoteAutoDelivered})
	if errors.Is(err, ErrTerminal) || errors.Is(err, ErrStatusMismatch) {
		slog.WarnContext(ctx, "auto delivery skipped", "order_id", o.OrderID, "status", o.Status, "error", err)
		return nil
	}
	return err
}

// SweepDue auto-advances every due order. It returns how many orders were delivered.
func (s *Service) SweepDue(ctx context.Context) (int, error) {
	today := s.nowFunc().In(s.Location).Format(time.DateOnly)
	delivered := 0
	for _, st := range Statuses {
		if st.IsTerminal() {
			continue
		}
		due, err := s.Store.ListDue(ctx, st, today)
		if err != nil {
			return delivered, err
		}
		for i := range due {
			before := due[i].Status
			if err := s.AutoAdvance(ctx, &due[i]); err != nil {
				slog.ErrorContext(ctx, "auto delivery failed", "order_id", due[i].OrderID, "error", err)
				continue
			}
			if before != due[i].Status {
				delivered++
			}
		}
	}
	if delivered > 0 {
		s.count(ctx, "AutoDelivered", float64(delivered), nil)
	}
	return delivered, nil
}

const maxTransitionAttempts = 3

// Transition applies t to o, retrying against fresh state if another writer moved the order
// or held one of the written items in between. o is updated in place.
func (s *Service) Transition(ctx context.Context, o *Order, t Transition, extra ...types.TransactWriteItem) error {
	for attempt := 1; ; attempt++ {
		if o.Status.IsTerminal() && o.Status != t.To {
			return ErrTerminal
		}
		if o.Status != t.To && !t.allows(o.Status) {
			return ErrStatusMismatch
		}
		from := o.Status
		wrote, err := s.Store.PushStatus(ctx, o, t, extra...)
		if err == nil {
			if wrote && from != t.To {
				slog.InfoContext(ctx, "order status changed", "order_id", o.OrderID, "from", from, "to", t.To, "note", t.Note)
				s.notify(ctx, *o, from)
			}
			return nil
		}
		retry := errors.Is(err, ErrStatusMismatch) || errors.Is(err, aws.ErrContention)
		if !retry || attempt >= maxTransitionAttempts {
			return err
		}
		slog.WarnContext(ctx, "order transition retried", "order_id", o.OrderID, "to", t.To, "attempt", attempt, "error", err)
		fresh, gerr := s.Store.Get(ctx, o.OrderID)
		if gerr != nil {
			return gerr
		}
		if fresh == nil {
			return ErrOrderNotFound
		}
		*o = *fresh
	}
}

func (s *Service) notify(ctx context.Context, o Order, from Status) {
	if s.Notifier == nil {
		return
	}
	ev := StatusChanged{
		Type:           EventStatusChanged,
		OrderID:        o.OrderID,
		UserID:         o.UserID,
		From:           from,
		To:             o.Status,
		StockCommitted: o.StockCommitted,
		At:             s.nowFunc().UTC(),
	}
	if err := s.Notifier.Notify(ctx, ev); err != nil {
		slog.ErrorContext(ctx, "publish status change failed", "order_id", o.OrderID, "status", o.Status, "error", err)
	}
}

func (s *Service) count(ctx context.Context, name string, value float64, dims map[string]string) {
	if s.Metrics == nil {
		return
	}
	if err := s.Metrics.Count(ctx, name, value, dims); err != nil {
		slog.WarnContext(ctx, "metric publish failed", "metric", name, "error", err)
	}
}

// Lines returns the purchased lines of an order.
func (s *Service) Lines(ctx context.Context, orderID string) ([]Line, error) {
	return s.Store.Lines(ctx, orderID)
}

// AttachGatewayOrder records the provider's order reference on a PENDING order.
func (s *Service) AttachGatewayOrder(ctx context.Context, orderID, remoteOrderID string) error {
	return s.Store.SetGatewayOrderID(ctx, orderID, remoteOrderID)
}
