package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	log "github.com/sirupsen/logrus"

	"github.com/imrishuroy/storefront-ledger/internal/aws"
	"github.com/imrishuroy/storefront-ledger/internal/config"
	"github.com/imrishuroy/storefront-ledger/internal/inventory"
	"github.com/imrishuroy/storefront-ledger/internal/logging"
)

func newProcessor(cfg *config.Config, clients *aws.AWSClients) *Processor {
	var pub inventory.Publisher
	if cfg.EventsQueueURL != "" {
		pub = aws.NewPublisher(clients.SQS, cfg.EventsQueueURL)
	}
	ledger := inventory.NewLedger(clients.DynamoDB, inventory.Tables{
		Products:       cfg.ProductsTable,
		Movements:      cfg.MovementsTable,
		MovementsIndex: cfg.MovementsIndex,
	}, pub, cfg.LowStockThreshold)
	return NewProcessor(ledger, aws.NewMetricsEmitter(clients.CloudWatch, cfg.MetricsNamespace), cfg.AutoStockOut)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := logging.New(cfg.LogLevel, os.Stdout)
	log.SetFormatter(logger.Formatter)
	log.SetLevel(logger.GetLevel())

	clients, err := aws.NewAWSClients(context.Background(), cfg)
	if err != nil {
		logger.Fatalf("failed to init aws clients: %v", err)
	}
	p := newProcessor(cfg, clients)

	// If RUN_LOCAL=true, process a single simulated SQS event and exit.
	if cfg.RunLocal {
		testBody := os.Getenv("LOCAL_SQS_BODY")
		if testBody == "" {
			testBody = `{"type":"stock.low","data":{"product_id":"local-product-1","stock":1,"threshold":10}}`
		}
		event := events.SQSEvent{
			Records: []events.SQSMessage{
				{MessageId: "local-1", Body: testBody},
			},
		}
		resp, err := p.Handle(context.Background(), event)
		if err != nil || len(resp.BatchItemFailures) > 0 {
			logger.Fatalf("local handler error: %v (failures: %d)", err, len(resp.BatchItemFailures))
		}
		return
	}

	lambda.Start(p.Handle)
}
