package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/imrishuroy/go-orderledger/internal/addresses"
	"github.com/imrishuroy/go-orderledger/internal/auth"
	"github.com/imrishuroy/go-orderledger/internal/aws"
	"github.com/imrishuroy/go-orderledger/internal/cart"
	"github.com/imrishuroy/go-orderledger/internal/catalog"
	"github.com/imrishuroy/go-orderledger/internal/config"
	"github.com/imrishuroy/go-orderledger/internal/delivery"
	"github.com/imrishuroy/go-orderledger/internal/handlers"
	"github.com/imrishuroy/go-orderledger/internal/idempotency"
	"github.com/imrishuroy/go-orderledger/internal/inventory"
	"github.com/imrishuroy/go-orderledger/internal/logger"
	"github.com/imrishuroy/go-orderledger/internal/orders"
	"github.com/imrishuroy/go-orderledger/internal/payments"
	"github.com/imrishuroy/go-orderledger/internal/ratings"
	"github.com/imrishuroy/go-orderledger/internal/worker"
)

const estimatorConcurrency = 8

func setupRouter(ctx context.Context, cfg config.Config, clients *aws.AWSClients) (*gin.Engine, error) {
	db := clients.DynamoDB
	ledger := inventory.NewLedger(db, cfg.Tables.Inventory)
	cartStore := cart.NewStore(db, cfg.Tables.Cart, ledger)
	catalogStore := catalog.NewStore(db, cfg.Tables.Products, cfg.Tables.Availability)
	orderStore := orders.NewStore(db, orders.Tables{
		Orders: cfg.Tables.Orders,
		Lines:  cfg.Tables.OrderLines,
		Events: cfg.Tables.OrderEvents,
	})
	idem := idempotency.NewStore(db, cfg.Tables.Idempotency, cfg.IdempotencyTTL)

	var availability delivery.AvailabilityReader = catalogStore
	if cfg.RedisAddr != "" {
		rdb := delivery.NewRedisClient(cfg.RedisAddr)
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.WarnContext(ctx, "redis unreachable, availability cache disabled", "addr", cfg.RedisAddr, "error", err)
		} else {
			availability = delivery.NewCachedAvailability(catalogStore, rdb, "orderledger", cfg.AvailabilityCacheTTL)
		}
	}

	// Without a queue, status changes are processed in-process.
	var notifier orders.Notifier
	if cfg.QueueURL != "" {
		notifier = orders.NewQueueNotifier(aws.NewPublisher(clients.SQS, cfg.QueueURL))
	} else {
		notifier = worker.NewProcessor(worker.Deps{Orders: orderStore, Stock: ledger, Idempotency: idem})
	}

	cartSvc := cart.NewService(cartStore, catalogStore)
	orderSvc := orders.NewService(orders.Deps{
		Store:       orderStore,
		Cart:        cartSvc,
		Addresses:   addresses.NewStore(db, cfg.Tables.Addresses),
		Estimator:   delivery.NewEstimator(availability, estimatorConcurrency),
		Idempotency: idem,
		Notifier:    notifier,
		Metrics:     aws.NewMetrics(clients.CloudWatch, cfg.MetricsNS),
		Location:    cfg.Location(),
	})
	gateway := payments.NewHTTPGateway(payments.GatewayConfig{
		BaseURL:   cfg.Gateway.BaseURL,
		KeyID:     cfg.Gateway.KeyID,
		KeySecret: cfg.Gateway.KeySecret,
		Timeout:   cfg.Gateway.Timeout,
	})
	paySvc := payments.NewService(payments.NewStore(db, cfg.Tables.Payments), orderSvc, cartStore, gateway, idem, cfg.Gateway.Currency)
	ratingSvc := ratings.NewService(ratings.NewStore(db, cfg.Tables.Ratings), orderSvc)

	verifier, err := auth.NewVerifier(cfg.JWTSecret)
	if err != nil {
		return nil, err
	}
	return handlers.API(handlers.NewHandler(cartSvc, orderSvc, paySvc, ratingSvc), verifier), nil
}

func main() {
	cfg := config.Load()
	log := logger.New(logger.Options{
		Service: "orderledger-api",
		Env:     cfg.AppEnv,
		Level:   cfg.LogLevel,
	})
	if cfg.AppEnv != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	clients, err := aws.NewAWSClients(context.Background())
	if err != nil {
		log.Error("failed to init aws clients", "error", err)
		os.Exit(1)
	}

	r, err := setupRouter(context.Background(), cfg, clients)
	if err != nil {
		log.Error("failed to build router", "error", err)
		os.Exit(1)
	}

	if cfg.RunLocal {
		runLocal(log, cfg.HTTPAddr, r)
		return
	}

	adapter := ginadapter.New(r)
	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}

func runLocal(log *slog.Logger, addr string, h http.Handler) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("running local server", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown error", "error", err)
	}
	wg.Wait()
}
