package idempotency

import "time"

// Status values for idempotency entries
const (
	// StatusDone is written in the same transaction as the order, so a
	// record never exists without the order it points to.
	StatusDone = "DONE"
)

// IdempotencyRecord is the shape persisted in the idempotency DynamoDB table.
type IdempotencyRecord struct {
	IdempotencyKey string    `dynamodbav:"idempotency_key"` // PK
	Status         string    `dynamodbav:"status"`
	RequestHash    string    `dynamodbav:"request_hash"`
	OrderID        string    `dynamodbav:"order_id"`
	OrderNumber    string    `dynamodbav:"order_number"`
	ResponseStatus int       `dynamodbav:"response_status,omitempty"` // e.g., 201
	CreatedAt      time.Time `dynamodbav:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at"`
	ExpiresAt      int64     `dynamodbav:"expires_at"` // TTL epoch seconds
}
