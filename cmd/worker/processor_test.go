package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/storefront-ledger/internal/aws"
	"github.com/imrishuroy/storefront-ledger/internal/aws/awstest"
	ledgerevents "github.com/imrishuroy/storefront-ledger/internal/events"
	"github.com/imrishuroy/storefront-ledger/internal/inventory"
)

type fixture struct {
	db     *awstest.Dynamo
	cw     *awstest.CloudWatch
	ledger *inventory.Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := awstest.NewDynamo()
	db.CreateTable("products", "product_id", "")
	db.CreateTable("stock_movements", "movement_id", "")
	ledger := inventory.NewLedger(db, inventory.Tables{
		Products: "products", Movements: "stock_movements", MovementsIndex: "product_id-index",
	}, nil, 3)
	return &fixture{db: db, cw: &awstest.CloudWatch{}, ledger: ledger}
}

func (f *fixture) processor(auto bool) *Processor {
	return NewProcessor(f.ledger, aws.NewMetricsEmitter(f.cw, "Test/Ledger"), auto)
}

func (f *fixture) product(t *testing.T, id string, stock int64) {
	t.Helper()
	f.db.Seed("products", map[string]types.AttributeValue{
		"product_id":     &types.AttributeValueMemberS{Value: id},
		"name":           &types.AttributeValueMemberS{Value: id},
		"stock":          &types.AttributeValueMemberN{Value: "0"},
		"movement_count": &types.AttributeValueMemberN{Value: "0"},
	})
	_, err := f.ledger.RecordMovement(context.Background(), inventory.MovementInput{
		ProductID: id, Kind: inventory.KindStockIn, Delta: stock,
	})
	require.NoError(t, err)
}

func message(t *testing.T, id, eventType string, data any) events.SQSMessage {
	t.Helper()
	env, err := ledgerevents.New(eventType, data, time.Now())
	require.NoError(t, err)
	body, err := json.Marshal(env)
	require.NoError(t, err)
	return events.SQSMessage{MessageId: id, Body: string(body)}
}

func placed() ledgerevents.OrderPlaced {
	return ledgerevents.OrderPlaced{
		OrderID:     "o-1",
		OrderNumber: "ORD-7001",
		StoreID:     "default",
		Lines: []ledgerevents.OrderLine{
			{LineNo: 1, ProductID: "tee", Quantity: 2},
			{LineNo: 2, ProductID: "cap", Quantity: 5},
		},
	}
}

func TestWorkerProcess_StockOutPerLine(t *testing.T) {
	f := newFixture(t)
	f.product(t, "tee", 10)
	f.product(t, "cap", 10)
	p := f.processor(true)

	ev := events.SQSEvent{Records: []events.SQSMessage{message(t, "m-1", ledgerevents.TypeOrderPlaced, placed())}}
	resp, err := p.Handle(context.Background(), ev)
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)

	tee, _ := f.ledger.CurrentStock(context.Background(), "tee")
	cp, _ := f.ledger.CurrentStock(context.Background(), "cap")
	assert.Equal(t, int64(8), tee)
	assert.Equal(t, int64(5), cp)

	// redelivery replays the same movement ids
	resp, err = p.Handle(context.Background(), ev)
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	tee, _ = f.ledger.CurrentStock(context.Background(), "tee")
	assert.Equal(t, int64(8), tee)
	assert.Equal(t, 4, f.db.Count("stock_movements"))
}

func TestWorkerProcess_StockOutDisabled(t *testing.T) {
	f := newFixture(t)
	f.product(t, "tee", 10)
	p := f.processor(false)

	resp, err := p.Handle(context.Background(), events.SQSEvent{
		Records: []events.SQSMessage{message(t, "m-1", ledgerevents.TypeOrderPlaced, placed())},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	assert.Equal(t, 1, f.db.Count("stock_movements"))
}

func TestWorkerProcess_InsufficientStockAlerts(t *testing.T) {
	f := newFixture(t)
	f.product(t, "tee", 10)
	f.product(t, "cap", 1)
	p := f.processor(true)

	resp, err := p.Handle(context.Background(), events.SQSEvent{
		Records: []events.SQSMessage{message(t, "m-1", ledgerevents.TypeOrderPlaced, placed())},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)

	cp, _ := f.ledger.CurrentStock(context.Background(), "cap")
	assert.Equal(t, int64(1), cp)
	tee, _ := f.ledger.CurrentStock(context.Background(), "tee")
	assert.Equal(t, int64(8), tee)

	require.Len(t, f.cw.Datums, 1)
	assert.Equal(t, "StockOutRejected", *f.cw.Datums[0].MetricName)
	assert.Equal(t, "cap", *f.cw.Datums[0].Dimensions[0].Value)
}

func TestWorkerProcess_LowStockMetric(t *testing.T) {
	f := newFixture(t)
	p := f.processor(false)

	resp, err := p.Handle(context.Background(), events.SQSEvent{
		Records: []events.SQSMessage{message(t, "m-1", ledgerevents.TypeStockLow, ledgerevents.StockLow{ProductID: "tee", Stock: 2, Threshold: 3})},
	})
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)

	require.Len(t, f.cw.Datums, 1)
	assert.Equal(t, "LowStock", *f.cw.Datums[0].MetricName)
	assert.Equal(t, 2.0, *f.cw.Datums[0].Value)
}

func TestWorkerProcess_PartialBatchFailure(t *testing.T) {
	f := newFixture(t)
	f.product(t, "tee", 10)
	f.product(t, "cap", 10)
	p := f.processor(true)
	f.cw.Err = errors.New("throttled")

	ev := events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "bad-json", Body: "{not json"},
		message(t, "ok", ledgerevents.TypeOrderPlaced, placed()),
		message(t, "cw-down", ledgerevents.TypeStockLow, ledgerevents.StockLow{ProductID: "tee", Stock: 1, Threshold: 3}),
		message(t, "unknown", "order.refunded", map[string]string{"order_id": "o-1"}),
	}}
	resp, err := p.Handle(context.Background(), ev)
	require.NoError(t, err)

	var failed []string
	for _, item := range resp.BatchItemFailures {
		failed = append(failed, item.ItemIdentifier)
	}
	assert.Equal(t, []string{"bad-json", "cw-down"}, failed)
}

func TestWorkerProcess_StoreFailureIsRetried(t *testing.T) {
	f := newFixture(t)
	f.product(t, "tee", 10)
	f.product(t, "cap", 10)
	p := f.processor(true)
	f.db.FailNext("TransactWriteItems", errors.New("throttled"))

	ev := events.SQSEvent{Records: []events.SQSMessage{message(t, "m-1", ledgerevents.TypeOrderPlaced, placed())}}
	resp, err := p.Handle(context.Background(), ev)
	require.NoError(t, err)
	require.Len(t, resp.BatchItemFailures, 1)

	// the retry completes without double counting
	resp, err = p.Handle(context.Background(), ev)
	require.NoError(t, err)
	assert.Empty(t, resp.BatchItemFailures)
	tee, _ := f.ledger.CurrentStock(context.Background(), "tee")
	cp, _ := f.ledger.CurrentStock(context.Background(), "cap")
	assert.Equal(t, int64(8), tee)
	assert.Equal(t, int64(5), cp)
}

func TestLineMovementID_Deterministic(t *testing.T) {
	assert.Equal(t, lineMovementID("o-1", 1), lineMovementID("o-1", 1))
	assert.NotEqual(t, lineMovementID("o-1", 1), lineMovementID("o-1", 2))
	assert.NotEqual(t, lineMovementID("o-1", 1), lineMovementID("o-2", 1))
}
