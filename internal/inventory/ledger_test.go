package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/storefront-ledger/internal/apperr"
	"github.com/imrishuroy/storefront-ledger/internal/aws/awstest"
	"github.com/imrishuroy/storefront-ledger/internal/events"
)

var testTables = Tables{Products: "products", Movements: "stock_movements", MovementsIndex: "product_id-index"}

type recordingPublisher struct {
	mu   sync.Mutex
	envs []events.Envelope
}

func (p *recordingPublisher) Publish(ctx context.Context, env events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envs = append(p.envs, env)
	return nil
}

func newTestLedger(t *testing.T) (*Ledger, *awstest.Dynamo, *recordingPublisher) {
	t.Helper()
	db := awstest.NewDynamo()
	db.CreateTable("products", "product_id", "")
	db.CreateTable("stock_movements", "movement_id", "")
	pub := &recordingPublisher{}
	return NewLedger(db, testTables, pub, 5), db, pub
}

func seedProduct(db *awstest.Dynamo, id string) {
	db.Seed("products", map[string]types.AttributeValue{
		"product_id":     &types.AttributeValueMemberS{Value: id},
		"name":           &types.AttributeValueMemberS{Value: "Product " + id},
		"stock":          &types.AttributeValueMemberN{Value: "0"},
		"movement_count": &types.AttributeValueMemberN{Value: "0"},
	})
}

func stockIn(t *testing.T, l *Ledger, id string, qty int64) {
	t.Helper()
	_, err := l.RecordMovement(context.Background(), MovementInput{ProductID: id, Kind: KindStockIn, Delta: qty, Reason: "restock"})
	require.NoError(t, err)
}

func TestRecordMovement_AppliesDelta(t *testing.T) {
	l, db, pub := newTestLedger(t)
	seedProduct(db, "tee")
	ctx := context.Background()

	res, err := l.RecordMovement(ctx, MovementInput{ProductID: "tee", Kind: KindStockIn, Delta: 20, ActorID: "admin-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(20), res.Stock)
	assert.False(t, res.Replayed)
	assert.NotEmpty(t, res.Movement.MovementID)

	res, err = l.RecordMovement(ctx, MovementInput{ProductID: "tee", Kind: KindStockOut, Delta: -7})
	require.NoError(t, err)
	assert.Equal(t, int64(13), res.Stock)

	res, err = l.RecordMovement(ctx, MovementInput{ProductID: "tee", Kind: KindAdjustment, Delta: -3, Reason: "damaged"})
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Stock)

	moves, err := l.Movements(ctx, "tee")
	require.NoError(t, err)
	assert.Len(t, moves, 3)
	assert.Equal(t, 3, db.Count("stock_movements"))
	assert.Empty(t, pub.envs)
}

func TestRecordMovement_InsufficientStockMutatesNothing(t *testing.T) {
	l, db, _ := newTestLedger(t)
	seedProduct(db, "cap")
	stockIn(t, l, "cap", 3)

	_, err := l.RecordMovement(context.Background(), MovementInput{ProductID: "cap", Kind: KindStockOut, Delta: -4})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInsufficientStock), "got %v", err)

	stock, err := l.CurrentStock(context.Background(), "cap")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stock)
	assert.Equal(t, 1, db.Count("stock_movements"))

	// negative adjustments are guarded the same way
	_, err = l.RecordMovement(context.Background(), MovementInput{ProductID: "cap", Kind: KindAdjustment, Delta: -10})
	assert.True(t, apperr.Is(err, apperr.KindInsufficientStock))
}

func TestRecordMovement_ProductNotFound(t *testing.T) {
	l, db, _ := newTestLedger(t)

	_, err := l.RecordMovement(context.Background(), MovementInput{ProductID: "ghost", Kind: KindStockIn, Delta: 5})
	assert.True(t, apperr.Is(err, apperr.KindProductNotFound), "got %v", err)
	assert.Equal(t, 0, db.Count("products"))
	assert.Equal(t, 0, db.Count("stock_movements"))

	_, err = l.CurrentStock(context.Background(), "ghost")
	assert.True(t, apperr.Is(err, apperr.KindProductNotFound))
}

func TestRecordMovement_Validation(t *testing.T) {
	l, db, _ := newTestLedger(t)
	cases := []MovementInput{
		{ProductID: "tee", Kind: KindStockIn, Delta: -1},
		{ProductID: "tee", Kind: KindStockOut, Delta: 1},
		{ProductID: "tee", Kind: KindAdjustment, Delta: 0},
		{ProductID: "tee", Kind: "RESTOCK", Delta: 1},
		{Kind: KindStockIn, Delta: 1},
	}
	for _, in := range cases {
		_, err := l.RecordMovement(context.Background(), in)
		assert.True(t, apperr.Is(err, apperr.KindValidationFailed), "%+v: got %v", in, err)
	}
	assert.Equal(t, 0, db.Calls("TransactWriteItems"))
}

func TestRecordMovement_ReplayIsNoop(t *testing.T) {
	l, db, _ := newTestLedger(t)
	seedProduct(db, "tote")
	ctx := context.Background()

	in := MovementInput{MovementID: "6f1c7d4e-0000-4000-8000-000000000001", ProductID: "tote", Kind: KindStockIn, Delta: 4}
	first, err := l.RecordMovement(ctx, in)
	require.NoError(t, err)

	again, err := l.RecordMovement(ctx, in)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.Movement.MovementID, again.Movement.MovementID)
	assert.Equal(t, int64(4), again.Stock)
	assert.Equal(t, 1, db.Count("stock_movements"))

	// same id, different content
	in.Delta = 9
	_, err = l.RecordMovement(ctx, in)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestRecordMovement_ReplayComparesKindAndReason(t *testing.T) {
	l, db, _ := newTestLedger(t)
	seedProduct(db, "mug")
	stockIn(t, l, "mug", 10)
	ctx := context.Background()

	in := MovementInput{MovementID: "6f1c7d4e-0000-4000-8000-000000000002", ProductID: "mug", Kind: KindStockOut, Delta: -3, Reason: "order ORD-0001"}
	_, err := l.RecordMovement(ctx, in)
	require.NoError(t, err)

	adjust := in
	adjust.Kind = KindAdjustment
	_, err = l.RecordMovement(ctx, adjust)
	assert.True(t, apperr.Is(err, apperr.KindConflict), "got %v", err)

	relabel := in
	relabel.Reason = "damaged"
	_, err = l.RecordMovement(ctx, relabel)
	assert.True(t, apperr.Is(err, apperr.KindConflict), "got %v", err)

	stock, err := l.CurrentStock(ctx, "mug")
	require.NoError(t, err)
	assert.Equal(t, int64(7), stock)
	assert.Equal(t, 2, db.Count("stock_movements"))
}

func TestRecordMovement_LowStockPublishes(t *testing.T) {
	l, db, pub := newTestLedger(t)
	seedProduct(db, "hoodie")
	stockIn(t, l, "hoodie", 6)

	_, err := l.RecordMovement(context.Background(), MovementInput{ProductID: "hoodie", Kind: KindStockOut, Delta: -2})
	require.NoError(t, err)

	require.Len(t, pub.envs, 1)
	assert.Equal(t, events.TypeStockLow, pub.envs[0].Type)
	var low events.StockLow
	require.NoError(t, pub.envs[0].Decode(&low))
	assert.Equal(t, events.StockLow{ProductID: "hoodie", Stock: 4, Threshold: 5}, low)
}

func TestRecordMovement_StoreFailure(t *testing.T) {
	l, db, _ := newTestLedger(t)
	seedProduct(db, "tee")
	db.FailNext("TransactWriteItems", errors.New("throttled"))

	_, err := l.RecordMovement(context.Background(), MovementInput{ProductID: "tee", Kind: KindStockIn, Delta: 1})
	assert.True(t, apperr.Is(err, apperr.KindPersistenceFailed))
}

func TestRecordMovement_TransactionConflictIsConflict(t *testing.T) {
	l, db, _ := newTestLedger(t)
	seedProduct(db, "tee")
	stockIn(t, l, "tee", 5)
	db.FailNext("TransactWriteItems", awstest.TransactionConflict(2, 0))

	_, err := l.RecordMovement(context.Background(), MovementInput{ProductID: "tee", Kind: KindStockOut, Delta: -2})
	assert.True(t, apperr.Is(err, apperr.KindConflict), "got %v", err)

	stock, err := l.CurrentStock(context.Background(), "tee")
	require.NoError(t, err)
	assert.Equal(t, int64(5), stock)
	assert.Equal(t, 1, db.Count("stock_movements"))
}

func TestRecordMovement_UndecodableStockStillInsufficient(t *testing.T) {
	l, db, _ := newTestLedger(t)
	seedProduct(db, "tee")
	// the product item comes back with a stock value that is not a number
	reasons := []types.CancellationReason{
		{Code: awsString("ConditionalCheckFailed"), Item: map[string]types.AttributeValue{
			"product_id": &types.AttributeValueMemberS{Value: "tee"},
			"stock":      &types.AttributeValueMemberS{Value: "lots"},
		}},
		{Code: awsString("None")},
	}
	db.FailNext("TransactWriteItems", &types.TransactionCanceledException{CancellationReasons: reasons})

	_, err := l.RecordMovement(context.Background(), MovementInput{ProductID: "tee", Kind: KindStockOut, Delta: -2})
	assert.True(t, apperr.Is(err, apperr.KindInsufficientStock), "got %v", err)
	assert.Contains(t, err.Error(), "has less than 2")
	assert.NotContains(t, err.Error(), "has 0")
}

// Concurrent movements must fold to the sum of their deltas.
func TestRecordMovement_ConcurrentFold(t *testing.T) {
	l, db, _ := newTestLedger(t)
	seedProduct(db, "tee")
	stockIn(t, l, "tee", 100)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var applied int64
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := MovementInput{ProductID: "tee", Kind: KindStockIn, Delta: 3}
			if i%2 == 0 {
				in = MovementInput{ProductID: "tee", Kind: KindStockOut, Delta: -5}
			}
			if _, err := l.RecordMovement(ctx, in); err == nil {
				mu.Lock()
				applied += in.Delta
				mu.Unlock()
			} else if !apperr.Is(err, apperr.KindInsufficientStock) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	stock, err := l.CurrentStock(ctx, "tee")
	require.NoError(t, err)
	assert.Equal(t, 100+applied, stock)
	assert.GreaterOrEqual(t, stock, int64(0))

	moves, err := l.Movements(ctx, "tee")
	require.NoError(t, err)
	var fold int64
	for _, m := range moves {
		fold += m.Delta
	}
	assert.Equal(t, stock, fold)
}

func TestLowStock(t *testing.T) {
	l, db, _ := newTestLedger(t)
	for i, qty := range []int64{50, 2, 0, 9, 12} {
		id := fmt.Sprintf("p-%d", i)
		seedProduct(db, id)
		if qty > 0 {
			stockIn(t, l, id, qty)
		}
	}

	low, err := l.LowStock(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, low, 3)
	assert.Equal(t, "p-2", low[0].ProductID)
	assert.Equal(t, int64(0), low[0].Stock)
	assert.Equal(t, int64(9), low[2].Stock)

	_, err = l.LowStock(context.Background(), -1)
	assert.True(t, apperr.Is(err, apperr.KindValidationFailed))
}

func TestMovements_Ordered(t *testing.T) {
	l, db, _ := newTestLedger(t)
	seedProduct(db, "tee")
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(2-i) * time.Hour)
		l.nowFunc = func() time.Time { return at }
		stockIn(t, l, "tee", int64(i+1))
	}

	moves, err := l.Movements(context.Background(), "tee")
	require.NoError(t, err)
	require.Len(t, moves, 3)
	assert.Equal(t, int64(3), moves[0].Delta)
	assert.Equal(t, int64(1), moves[2].Delta)
}
