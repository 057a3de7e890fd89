package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

// Config is read from the environment by Load.
type Config struct {
	AWSRegion        string `envconfig:"AWS_REGION" default:"us-east-1"`
	EndpointOverride string `envconfig:"AWS_ENDPOINT_OVERRIDE"`

	OrdersTable      string `envconfig:"ORDERS_TABLE" default:"orders"`
	OrderItemsTable  string `envconfig:"ORDER_ITEMS_TABLE" default:"order_items"`
	CountersTable    string `envconfig:"COUNTERS_TABLE" default:"counters"`
	IdempotencyTable string `envconfig:"IDEMPOTENCY_TABLE" default:"idempotency"`
	ProductsTable    string `envconfig:"PRODUCTS_TABLE" default:"products"`
	SKUsTable        string `envconfig:"SKUS_TABLE" default:"product_skus"`
	MovementsTable   string `envconfig:"MOVEMENTS_TABLE" default:"stock_movements"`
	MovementsIndex   string `envconfig:"MOVEMENTS_PRODUCT_INDEX" default:"product_id-index"`
	DesignsTable     string `envconfig:"DESIGNS_TABLE" default:"designs"`

	EventsQueueURL   string `envconfig:"EVENTS_QUEUE_URL"`
	MetricsNamespace string `envconfig:"METRICS_NAMESPACE" default:"Storefront/Ledger"`

	StoreID         string        `envconfig:"STORE_ID" default:"default"`
	OrderSeed       int64         `envconfig:"ORDER_NUMBER_SEED" default:"7000"`
	TaxRate         string        `envconfig:"TAX_RATE" default:"0"`
	TTLWindow       time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"48h"`
	ConflictRetries int           `envconfig:"CHECKOUT_CONFLICT_RETRIES" default:"5"`

	LowStockThreshold int64 `envconfig:"LOW_STOCK_THRESHOLD" default:"10"`
	AutoStockOut      bool  `envconfig:"AUTO_STOCK_OUT" default:"false"`

	ImageServiceURL     string        `envconfig:"IMAGE_SERVICE_URL" default:"http://localhost:8090"`
	ImageServiceTimeout time.Duration `envconfig:"IMAGE_SERVICE_TIMEOUT" default:"20s"`

	RunLocal              bool   `envconfig:"RUN_LOCAL" default:"false"`
	ListenAddr            string `envconfig:"LISTEN_ADDR" default:":8080"`
	LogLevel              string `envconfig:"LOG_LEVEL" default:"info"`
	TrustPrincipalHeaders bool   `envconfig:"TRUST_PRINCIPAL_HEADERS" default:"false"`
}

// Load processes the environment and validates derived values.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if _, err := cfg.Tax(); err != nil {
		return nil, err
	}
	if cfg.ConflictRetries < 0 {
		return nil, fmt.Errorf("CHECKOUT_CONFLICT_RETRIES must be >= 0, got %d", cfg.ConflictRetries)
	}
	return &cfg, nil
}

// Tax parses TaxRate as a fraction (0.0825 for 8.25%).
func (c *Config) Tax() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(c.TaxRate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid TAX_RATE %q: %w", c.TaxRate, err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("TAX_RATE must be in [0, 1), got %s", c.TaxRate)
	}
	return rate, nil
}
