package main

import (
	"context"

	"github.com/google/uuid"

	"github.com/imrishuroy/storefront-ledger/internal/inventory"
)

// movementNamespace seeds the deterministic ids of automatic stock-outs, so
// a redelivered order.placed replays instead of decrementing twice.
var movementNamespace = uuid.MustParse("3f0b7c64-5d8e-4a1f-9b8e-61c0a3e2d9a7")

// workerActor is recorded as the actor of movements the worker writes.
const workerActor = "worker"

// StockRecorder is the part of the ledger the worker uses.
type StockRecorder interface {
	RecordMovement(ctx context.Context, in inventory.MovementInput) (inventory.Result, error)
}

// Alerts publishes operator-facing metrics.
type Alerts interface {
	LowStock(ctx context.Context, productID string, stock int64) error
	StockOutRejected(ctx context.Context, productID string) error
}
