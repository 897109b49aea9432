package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-orderledger/internal/aws"
	"github.com/imrishuroy/go-orderledger/internal/idempotency"
	"github.com/imrishuroy/go-orderledger/internal/inventory"
	"github.com/imrishuroy/go-orderledger/internal/orders"
)

type OrderReader interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	Lines(ctx context.Context, orderID string) ([]orders.Line, error)
}

type StockReleaser interface {
	ReleaseAll(ctx context.Context, moves []inventory.Movement, extra ...types.TransactWriteItem) error
}

type Sweeper interface {
	SweepDue(ctx context.Context) (int, error)
}

// Deps are the processor collaborators. Sweeper may be nil when the processor only receives
// inline status changes.
type Deps struct {
	Orders      OrderReader
	Stock       StockReleaser
	Idempotency *idempotency.Store
	Sweeper     Sweeper
}

// Processor handles worker queue messages.
type Processor struct {
	Deps
}

func NewProcessor(deps Deps) *Processor {
	return &Processor{Deps: deps}
}

// Handle receives an SQS batch event and processes each message.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) error {
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec.Body); err != nil {
			// Lambda retries the batch; repeated failures land in the DLQ.
			slog.ErrorContext(ctx, "worker message failed", "message_id", rec.MessageId, "error", err)
			return err
		}
	}
	return nil
}

// Notify processes a status change in-process, for deployments without a queue.
func (p *Processor) Notify(ctx context.Context, ev orders.StatusChanged) error {
	return p.statusChanged(ctx, ev)
}

func (p *Processor) processMessage(ctx context.Context, body string) error {
	var env Envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	switch env.Type {
	case orders.EventStatusChanged:
		var ev orders.StatusChanged
		if err := json.Unmarshal([]byte(body), &ev); err != nil {
			return fmt.Errorf("invalid status change: %w", err)
		}
		return p.statusChanged(ctx, ev)
	case MessageSweep:
		return p.sweep(ctx)
	default:
		slog.WarnContext(ctx, "worker skipped unknown message", "type", env.Type)
		return nil
	}
}

func (p *Processor) sweep(ctx context.Context) error {
	if p.Sweeper == nil {
		return fmt.Errorf("sweep requested but no sweeper configured")
	}
	n, err := p.Sweeper.SweepDue(ctx)
	if err != nil {
		return fmt.Errorf("sweep due orders: %w", err)
	}
	slog.InfoContext(ctx, "due orders swept", "delivered", n)
	return nil
}

// statusChanged returns the stock of a cancelled paid order to the ledger, once.
func (p *Processor) statusChanged(ctx context.Context, ev orders.StatusChanged) error {
	if ev.To != orders.StatusCancelled || !ev.StockCommitted {
		return nil
	}
	o, err := p.Orders.Get(ctx, ev.OrderID)
	if err != nil {
		return fmt.Errorf("failed to fetch order: %w", err)
	}
	if o == nil {
		return fmt.Errorf("order not found: %s", ev.OrderID)
	}
	if o.Status != orders.StatusCancelled || !o.StockCommitted {
		slog.WarnContext(ctx, "stale cancellation event", "order_id", o.OrderID, "status", o.Status)
		return nil
	}

	key := "release:" + o.OrderID
	rec, err := p.Idempotency.Get(ctx, key)
	if err != nil {
		return err
	}
	if rec != nil {
		slog.InfoContext(ctx, "stock already released", "order_id", o.OrderID)
		return nil
	}

	lines, err := p.Orders.Lines(ctx, o.OrderID)
	if err != nil {
		return err
	}
	moves := make([]inventory.Movement, 0, len(lines))
	for _, l := range lines {
		if l.Size == "" {
			slog.WarnContext(ctx, "line without size not returned to stock", "order_id", o.OrderID, "line_id", l.LineID)
			continue
		}
		moves = append(moves, inventory.Movement{Key: inventory.Key{ProductID: l.ProductID, Size: l.Size}, Quantity: l.Quantity})
	}

	marker, err := p.Idempotency.CompletedOp(key, o.OrderID, "", "", http.StatusOK)
	if err != nil {
		return err
	}
	if err := p.Stock.ReleaseAll(ctx, moves, marker); err != nil {
		if aws.IsCancelled(err) {
			if rec, gerr := p.Idempotency.Get(ctx, key); gerr == nil && rec != nil {
				slog.InfoContext(ctx, "stock released by a concurrent worker", "order_id", o.OrderID)
				return nil
			}
		}
		return fmt.Errorf("release order stock: %w", err)
	}
	slog.InfoContext(ctx, "cancelled order stock released", "order_id", o.OrderID, "lines", len(moves))
	return nil
}
