// Package events defines the JSON envelopes exchanged between the API and the
// worker over SQS.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types
const (
	TypeOrderPlaced = "order.placed"
	TypeStockLow    = "stock.low"
)

// Envelope is the SQS message body.
type Envelope struct {
	Type          string          `json:"type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Data          json.RawMessage `json:"data"`
}

// OrderLine is the stock-relevant part of an order line.
type OrderLine struct {
	LineNo    int    `json:"line_no"`
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

// OrderPlaced is emitted after an order commits.
type OrderPlaced struct {
	OrderID     string      `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	StoreID     string      `json:"store_id"`
	Lines       []OrderLine `json:"lines"`
}

// StockLow is emitted when a movement leaves a product below the alert threshold.
type StockLow struct {
	ProductID string `json:"product_id"`
	Stock     int64  `json:"stock"`
	Threshold int64  `json:"threshold"`
}

// New wraps data in an envelope of the given type.
func New(eventType string, data any, now time.Time) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s: %w", eventType, err)
	}
	return Envelope{Type: eventType, OccurredAt: now.UTC(), Data: raw}, nil
}

// Decode unmarshals the envelope payload into out.
func (e Envelope) Decode(out any) error {
	if err := json.Unmarshal(e.Data, out); err != nil {
		return fmt.Errorf("decode %s: %w", e.Type, err)
	}
	return nil
}
