// Command ledgerctl inspects and repairs the stock ledger.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/imrishuroy/storefront-ledger/internal/aws"
	"github.com/imrishuroy/storefront-ledger/internal/config"
	"github.com/imrishuroy/storefront-ledger/internal/inventory"
	"github.com/imrishuroy/storefront-ledger/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := logging.New(cfg.LogLevel, os.Stderr)

	clients, err := aws.NewAWSClients(context.Background(), cfg)
	if err != nil {
		logger.Fatalf("failed to init aws clients: %v", err)
	}

	app := newApp(&env{
		ledger: inventory.NewLedger(clients.DynamoDB, inventory.Tables{
			Products:       cfg.ProductsTable,
			Movements:      cfg.MovementsTable,
			MovementsIndex: cfg.MovementsIndex,
		}, nil, cfg.LowStockThreshold),
		drift:     aws.NewMetricsEmitter(clients.CloudWatch, cfg.MetricsNamespace),
		threshold: cfg.LowStockThreshold,
		logger:    log.NewEntry(logger),
		out:       os.Stdout,
	})
	if err := app.Run(os.Args); err != nil {
		var ec cli.ExitCoder
		if errors.As(err, &ec) {
			fmt.Fprintln(os.Stderr, ec.Error())
			os.Exit(ec.ExitCode())
		}
		logger.Fatal(err)
	}
}
