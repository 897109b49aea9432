package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/imrishuroy/go-orderledger/internal/aws"
	"github.com/imrishuroy/go-orderledger/internal/config"
	"github.com/imrishuroy/go-orderledger/internal/idempotency"
	"github.com/imrishuroy/go-orderledger/internal/inventory"
	"github.com/imrishuroy/go-orderledger/internal/logger"
	"github.com/imrishuroy/go-orderledger/internal/orders"
	"github.com/imrishuroy/go-orderledger/internal/worker"
)

func main() {
	cfg := config.Load()
	log := logger.New(logger.Options{
		Service: "orderledger-worker",
		Env:     cfg.AppEnv,
		Level:   cfg.LogLevel,
	})

	clients, err := aws.NewAWSClients(context.Background())
	if err != nil {
		log.Error("failed to init aws clients", "error", err)
		os.Exit(1)
	}

	db := clients.DynamoDB
	orderStore := orders.NewStore(db, orders.Tables{
		Orders: cfg.Tables.Orders,
		Lines:  cfg.Tables.OrderLines,
		Events: cfg.Tables.OrderEvents,
	})
	// Deliveries made by the sweep are published like any other status change.
	var notifier orders.Notifier
	if cfg.QueueURL != "" {
		notifier = orders.NewQueueNotifier(aws.NewPublisher(clients.SQS, cfg.QueueURL))
	}
	orderSvc := orders.NewService(orders.Deps{
		Store:    orderStore,
		Notifier: notifier,
		Metrics:  aws.NewMetrics(clients.CloudWatch, cfg.MetricsNS),
		Location: cfg.Location(),
	})
	p := worker.NewProcessor(worker.Deps{
		Orders:      orderStore,
		Stock:       inventory.NewLedger(db, cfg.Tables.Inventory),
		Idempotency: idempotency.NewStore(db, cfg.Tables.Idempotency, cfg.IdempotencyTTL),
		Sweeper:     orderSvc,
	})

	// If RUN_LOCAL=true, process a single message from LOCAL_SQS_BODY (default: a sweep).
	if cfg.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			body = `{"type":"` + worker.MessageSweep + `"}`
		}
		event := events.SQSEvent{Records: []events.SQSMessage{{MessageId: "local", Body: body}}}
		if err := p.Handle(context.Background(), event); err != nil {
			log.Error("local handler error", "error", err)
			os.Exit(1)
		}
		return
	}

	lambda.Start(p.Handle)
}
