package orders

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/imrishuroy/go-orderledger/internal/aws"
)

// Notifier receives committed status changes.
type Notifier interface {
	Notify(ctx context.Context, ev StatusChanged) error
}

// QueueNotifier publishes status changes to SQS for the worker.
type QueueNotifier struct {
	publisher *aws.Publisher
}

func NewQueueNotifier(publisher *aws.Publisher) *QueueNotifier {
	return &QueueNotifier{publisher: publisher}
}

func (n *QueueNotifier) Notify(ctx context.Context, ev StatusChanged) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}
	return n.publisher.Send(ctx, string(body), map[string]string{
		"type":     ev.Type,
		"order_id": ev.OrderID,
		"status":   string(ev.To),
	})
}
