package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-orderledger/internal/aws"
	"github.com/imrishuroy/go-orderledger/internal/cart"
	"github.com/imrishuroy/go-orderledger/internal/idempotency"
	"github.com/imrishuroy/go-orderledger/internal/inventory"
	"github.com/imrishuroy/go-orderledger/internal/orders"
	"github.com/imrishuroy/go-orderledger/internal/pricing"
)

// OrderMachine is the part of the order state machine payments drive.
type OrderMachine interface {
	Owned(ctx context.Context, userID, orderID string) (*orders.Order, error)
	Transition(ctx context.Context, o *orders.Order, t orders.Transition, extra ...types.TransactWriteItem) error
	AttachGatewayOrder(ctx context.Context, orderID, remoteOrderID string) error
	Lines(ctx context.Context, orderID string) ([]orders.Line, error)
}

// CartHandOver moves an order's quantities out of the cart inside the confirming transaction.
type CartHandOver interface {
	HandOverOps(ctx context.Context, userID string, moves []inventory.Movement) ([]types.TransactWriteItem, error)
}

type Service struct {
	store       *Store
	orders      OrderMachine
	cart        CartHandOver
	provider    Provider
	idempotency *idempotency.Store
	currency    string
}

func NewService(store *Store, orders OrderMachine, cart CartHandOver, provider Provider, idem *idempotency.Store, currency string) *Service {
	if currency == "" {
		currency = "INR"
	}
	return &Service{
		store:       store,
		orders:      orders,
		cart:        cart,
		provider:    provider,
		idempotency: idem,
		currency:    currency,
	}
}

// PayCOD records a cash-on-delivery payment and confirms the order. The payment row, the
// status change and the cart hand-over commit together.
func (s *Service) PayCOD(ctx context.Context, userID, orderID, method string) (*Result, error) {
	if Method(strings.ToUpper(strings.TrimSpace(method))) != MethodCOD {
		return nil, ErrInvalidMethod
	}
	o, err := s.orders.Owned(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != orders.StatusPending {
		return nil, ErrNotPayable
	}
	if err := s.confirm(ctx, o, Payment{
		OrderID: o.OrderID,
		UserID:  userID,
		Method:  MethodCOD,
		Status:  StatusPending,
		Amount:  pricing.Format(o.TotalAmount),
	}, NoteCODConfirmed); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "cod payment recorded", "order_id", o.OrderID, "user_id", userID)
	return &Result{OrderID: o.OrderID, Status: string(o.Status), Method: MethodCOD}, nil
}

// InitiateGateway creates the provider order for an owned PENDING order. A provider failure
// leaves the order untouched.
func (s *Service) InitiateGateway(ctx context.Context, userID, orderID string) (*Initiated, error) {
	o, err := s.orders.Owned(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != orders.StatusPending {
		return nil, ErrNotPayable
	}
	amount := pricing.ToMinorUnits(o.TotalAmount)
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	remote, err := s.provider.CreateOrder(ctx, CreateOrderRequest{
		Amount:   amount,
		Currency: s.currency,
		Receipt:  "order_" + o.OrderID,
	})
	if err != nil {
		slog.ErrorContext(ctx, "gateway create order failed", "order_id", o.OrderID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrGatewayFailure, err)
	}
	if err := s.orders.AttachGatewayOrder(ctx, o.OrderID, remote.ID); err != nil {
		if errors.Is(err, orders.ErrStatusMismatch) {
			return nil, ErrNotPayable
		}
		return nil, err
	}
	slog.InfoContext(ctx, "gateway order created", "order_id", o.OrderID, "remote_order_id", remote.ID, "amount_minor", amount)
	return &Initiated{
		Key:           s.provider.KeyID(),
		Amount:        amount,
		Currency:      s.currency,
		RemoteOrderID: remote.ID,
	}, nil
}

// VerifyGateway settles a gateway payment from the signed callback. A bad signature fails a
// PENDING order and records no payment. Replaying an accepted callback succeeds without
// writing anything.
func (s *Service) VerifyGateway(ctx context.Context, userID string, req VerifyRequest) (*Result, error) {
	o, err := s.orders.Owned(ctx, userID, req.OrderID)
	if err != nil {
		return nil, err
	}

	if !s.provider.VerifySignature(req.RemoteOrderID, req.RemotePaymentID, req.Signature) {
		slog.WarnContext(ctx, "gateway signature rejected", "order_id", o.OrderID, "remote_order_id", req.RemoteOrderID)
		if o.Status == orders.StatusPending {
			err := s.orders.Transition(ctx, o, orders.Transition{
				To:   orders.StatusFailed,
				Note: NoteSignatureFailed,
				From: []orders.Status{orders.StatusPending},
			})
			if err != nil {
				slog.ErrorContext(ctx, "mark order failed", "order_id", o.OrderID, "error", err)
			}
		}
		return nil, ErrBadSignature
	}

	if o.GatewayOrderID == "" || o.GatewayOrderID != req.RemoteOrderID {
		return nil, ErrOrderMismatch
	}

	replayed := &Result{OrderID: o.OrderID, Status: string(orders.StatusConfirmed), Method: MethodGateway, Replayed: true}
	existing, err := s.store.Get(ctx, o.OrderID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Method == MethodGateway && existing.TransactionID == req.RemotePaymentID {
			return replayed, nil
		}
		s.recordOrphan(ctx, o, req, "already paid by "+string(existing.Method))
		return nil, ErrPaymentExists
	}

	key := "verify:" + o.OrderID + ":" + req.RemotePaymentID
	if err := s.claim(ctx, key, o.OrderID); err != nil {
		if errors.Is(err, errAlreadyDone) {
			return replayed, nil
		}
		return nil, err
	}

	if o.Status != orders.StatusPending {
		if merr := s.idempotency.MarkFailed(ctx, key, "order not pending"); merr != nil {
			slog.ErrorContext(ctx, "mark verification failed", "key", key, "error", merr)
		}
		s.recordOrphan(ctx, o, req, "order "+string(o.Status))
		return nil, ErrNotPayable
	}

	err = s.confirm(ctx, o, Payment{
		OrderID:       o.OrderID,
		UserID:        userID,
		Method:        MethodGateway,
		Status:        StatusSuccess,
		TransactionID: req.RemotePaymentID,
		Amount:        pricing.Format(o.TotalAmount),
	}, NoteGatewaySuccess)
	if err != nil {
		if merr := s.idempotency.MarkFailed(ctx, key, err.Error()); merr != nil {
			slog.ErrorContext(ctx, "mark verification failed", "key", key, "error", merr)
		}
		return nil, err
	}
	if err := s.idempotency.MarkDone(ctx, key, `{"status":"CONFIRMED"}`, http.StatusOK); err != nil {
		slog.ErrorContext(ctx, "mark verification done", "key", key, "error", err)
	}
	slog.InfoContext(ctx, "gateway payment verified", "order_id", o.OrderID, "remote_payment_id", req.RemotePaymentID)
	return &Result{OrderID: o.OrderID, Status: string(o.Status), Method: MethodGateway}, nil
}

var errAlreadyDone = errors.New("verification already completed")

// claim takes the verification key, reclaiming it after an earlier failed attempt.
func (s *Service) claim(ctx context.Context, key, orderID string) error {
	created, err := s.idempotency.CreateIfNotExists(ctx, key, orderID)
	if err != nil || created {
		return err
	}
	rec, err := s.idempotency.Get(ctx, key)
	if err != nil {
		return err
	}
	if rec == nil {
		return idempotency.ErrInProgress
	}
	switch rec.Status {
	case idempotency.StatusDone:
		return errAlreadyDone
	case idempotency.StatusFailed:
		ok, err := s.idempotency.Reclaim(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			return idempotency.ErrInProgress
		}
		return nil
	default:
		return idempotency.ErrInProgress
	}
}

// recordOrphan keeps a settled provider payment that the order can no longer take, so it can
// be refunded or reconciled by hand.
func (s *Service) recordOrphan(ctx context.Context, o *orders.Order, req VerifyRequest, reason string) {
	slog.ErrorContext(ctx, "verified gateway payment not applied",
		"order_id", o.OrderID,
		"status", o.Status,
		"remote_order_id", req.RemoteOrderID,
		"remote_payment_id", req.RemotePaymentID,
		"reason", reason,
	)
	key := OrphanKey(o.OrderID, req.RemotePaymentID)
	note := fmt.Sprintf(`{"remote_order_id":%q,"remote_payment_id":%q,"reason":%q}`, req.RemoteOrderID, req.RemotePaymentID, reason)
	if _, err := s.idempotency.RecordOrphan(ctx, key, o.OrderID, note); err != nil {
		slog.ErrorContext(ctx, "record orphan payment", "key", key, "error", err)
	}
}

// OrphanKey names the record kept for a verified payment that could not be applied.
func OrphanKey(orderID, remotePaymentID string) string {
	return "orphan:" + orderID + ":" + remotePaymentID
}

// confirm commits the payment row, PENDING -> CONFIRMED with stock_committed, and the hand-over
// of the ordered quantities out of the cart in one transaction.
func (s *Service) confirm(ctx context.Context, o *orders.Order, p Payment, note string) error {
	put, err := s.store.PutOp(p)
	if err != nil {
		return err
	}
	lines, err := s.orders.Lines(ctx, o.OrderID)
	if err != nil {
		return err
	}
	moves := make([]inventory.Movement, 0, len(lines))
	for _, l := range lines {
		if l.Size == "" {
			slog.WarnContext(ctx, "line without size not taken from cart", "order_id", o.OrderID, "line_id", l.LineID)
			continue
		}
		moves = append(moves, inventory.Movement{Key: inventory.Key{ProductID: l.ProductID, Size: l.Size}, Quantity: l.Quantity})
	}
	handover, err := s.cart.HandOverOps(ctx, o.UserID, moves)
	if err != nil {
		return err
	}
	extra := append([]types.TransactWriteItem{put}, handover...)

	err = s.orders.Transition(ctx, o, orders.Transition{
		To:          orders.StatusConfirmed,
		Note:        note,
		From:        []orders.Status{orders.StatusPending},
		CommitStock: true,
	}, extra...)
	switch {
	case err == nil:
		return nil
	case aws.CancelledAt(err, 0):
		return ErrPaymentExists
	case errors.Is(err, orders.ErrStatusMismatch), errors.Is(err, orders.ErrTerminal):
		return ErrNotPayable
	case aws.IsCancelled(err):
		return cart.ErrCartMismatch
	default:
		return err
	}
}
