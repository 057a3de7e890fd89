package main

import (
	"context"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/imrishuroy/storefront-ledger/internal/auth"
	"github.com/imrishuroy/storefront-ledger/internal/aws"
	"github.com/imrishuroy/storefront-ledger/internal/catalog"
	"github.com/imrishuroy/storefront-ledger/internal/config"
	"github.com/imrishuroy/storefront-ledger/internal/designs"
	"github.com/imrishuroy/storefront-ledger/internal/handlers"
	"github.com/imrishuroy/storefront-ledger/internal/idempotency"
	"github.com/imrishuroy/storefront-ledger/internal/imagegen"
	"github.com/imrishuroy/storefront-ledger/internal/inventory"
	"github.com/imrishuroy/storefront-ledger/internal/logging"
	"github.com/imrishuroy/storefront-ledger/internal/metrics"
	"github.com/imrishuroy/storefront-ledger/internal/orders"
	"github.com/imrishuroy/storefront-ledger/internal/validation"
)

func setupRouter(cfg handlers.HandlerConfig, logger *log.Logger, trustHeaders bool) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logging.Middleware(logger))
	r.Use(metrics.GinMiddleware())
	r.Use(auth.Middleware(trustHeaders))

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.RegisterRoutes(r, cfg)

	return r
}

// eventPublisher returns nil when no queue is configured so services skip
// publishing instead of failing every send.
func eventPublisher(clients *aws.AWSClients, queueURL string) *aws.Publisher {
	if queueURL == "" {
		return nil
	}
	return aws.NewPublisher(clients.SQS, queueURL)
}

func buildHandlerConfig(cfg *config.Config, clients *aws.AWSClients, logger *log.Logger) (handlers.HandlerConfig, error) {
	taxRate, err := cfg.Tax()
	if err != nil {
		return handlers.HandlerConfig{}, err
	}

	var ordersPub orders.Publisher
	var stockPub inventory.Publisher
	if pub := eventPublisher(clients, cfg.EventsQueueURL); pub != nil {
		ordersPub, stockPub = pub, pub
	} else {
		logger.Warn("EVENTS_QUEUE_URL not set, events will not be published")
	}

	v := validation.New()
	return handlers.HandlerConfig{
		Orders: orders.NewService(
			orders.NewStore(clients.DynamoDB, orders.Tables{
				Orders:   cfg.OrdersTable,
				Items:    cfg.OrderItemsTable,
				Counters: cfg.CountersTable,
			}, cfg.OrderSeed),
			idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.TTLWindow),
			v,
			ordersPub,
			cfg.StoreID,
			taxRate,
		),
		Catalog: catalog.NewStore(clients.DynamoDB, cfg.ProductsTable, cfg.SKUsTable, v),
		Ledger: inventory.NewLedger(clients.DynamoDB, inventory.Tables{
			Products:       cfg.ProductsTable,
			Movements:      cfg.MovementsTable,
			MovementsIndex: cfg.MovementsIndex,
		}, stockPub, cfg.LowStockThreshold),
		Designs:           designs.NewService(clients.DynamoDB, cfg.DesignsTable, imagegen.New(cfg.ImageServiceURL, cfg.ImageServiceTimeout), v),
		Validator:         v,
		ConflictRetries:   cfg.ConflictRetries,
		LowStockThreshold: cfg.LowStockThreshold,
	}, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := logging.New(cfg.LogLevel, os.Stdout)

	clients, err := aws.NewAWSClients(context.Background(), cfg)
	if err != nil {
		logger.Fatalf("failed to init aws clients: %v", err)
	}

	hcfg, err := buildHandlerConfig(cfg, clients, logger)
	if err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}

	r := setupRouter(hcfg, logger, cfg.TrustPrincipalHeaders)

	// RUN_LOCAL=true serves plain HTTP for development.
	if cfg.RunLocal {
		logger.WithFields(log.Fields{
			"addr":     cfg.ListenAddr,
			"region":   cfg.AWSRegion,
			"endpoint": cfg.EndpointOverride,
		}).Info("running local server")
		if err := r.Run(cfg.ListenAddr); err != nil {
			logger.Fatalf("failed to run local server: %v", err)
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		// ProxyWithContext carries the authorizer context through to auth.Middleware
		return adapter.ProxyWithContext(ctx, req)
	})
}
