package inventory

import "time"

// Kind classifies a stock movement.
type Kind string

const (
	KindStockIn    Kind = "STOCK_IN"   // delta > 0
	KindStockOut   Kind = "STOCK_OUT"  // delta < 0
	KindAdjustment Kind = "ADJUSTMENT" // any non-zero delta
)

// Allows reports whether delta has a sign this kind accepts.
func (k Kind) Allows(delta int64) bool {
	switch k {
	case KindStockIn:
		return delta > 0
	case KindStockOut:
		return delta < 0
	case KindAdjustment:
		return delta != 0
	}
	return false
}

// Movement is one append-only entry of the stock ledger.
type Movement struct {
	MovementID string    `dynamodbav:"movement_id" json:"movement_id"` // PK
	ProductID  string    `dynamodbav:"product_id" json:"product_id"`   // GSI PK
	Delta      int64     `dynamodbav:"delta" json:"delta"`
	Kind       Kind      `dynamodbav:"kind" json:"kind"`
	Reason     string    `dynamodbav:"reason,omitempty" json:"reason,omitempty"`
	ActorID    string    `dynamodbav:"actor_id,omitempty" json:"actor_id,omitempty"`
	CreatedAt  time.Time `dynamodbav:"created_at" json:"created_at"`
}

// MovementInput asks for one movement. An empty MovementID is generated;
// supplying one makes the call safe to repeat.
type MovementInput struct {
	MovementID string
	ProductID  string
	Kind       Kind
	Delta      int64
	Reason     string
	ActorID    string
}

// Result is the outcome of RecordMovement. Stock is the on-hand counter
// observed after the write. Replayed is set when the movement id had
// already been applied and nothing changed.
type Result struct {
	Movement Movement `json:"movement"`
	Stock    int64    `json:"stock"`
	Replayed bool     `json:"replayed"`
}

// StockLevel is the cached counter of one product.
type StockLevel struct {
	ProductID     string `dynamodbav:"product_id" json:"product_id"`
	Name          string `dynamodbav:"name" json:"name"`
	SKU           string `dynamodbav:"sku,omitempty" json:"sku,omitempty"`
	Stock         int64  `dynamodbav:"stock" json:"stock"`
	MovementCount int64  `dynamodbav:"movement_count" json:"movement_count"`
}

// Report describes one reconciliation.
type Report struct {
	ProductID string `json:"product_id"`
	Cached    int64  `json:"cached"`
	Replayed  int64  `json:"replayed"`
	Movements int    `json:"movements"`
	Drift     int64  `json:"drift"` // cached - replayed
	Repaired  bool   `json:"repaired"`
	Conflict  bool   `json:"conflict,omitempty"`
}
