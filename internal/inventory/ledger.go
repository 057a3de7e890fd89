// Package inventory is the stock ledger: an append-only movement log with a
// cached on-hand counter on each product item.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/imrishuroy/storefront-ledger/internal/apperr"
	"github.com/imrishuroy/storefront-ledger/internal/aws"
	"github.com/imrishuroy/storefront-ledger/internal/events"
	"github.com/imrishuroy/storefront-ledger/internal/logging"
	"github.com/imrishuroy/storefront-ledger/internal/metrics"
)

// Publisher sends stock alerts.
type Publisher interface {
	Publish(ctx context.Context, env events.Envelope) error
}

// Tables names the ledger's DynamoDB tables.
type Tables struct {
	Products       string
	Movements      string
	MovementsIndex string // GSI on movements keyed by product_id
}

// Ledger records stock movements.
type Ledger struct {
	client    aws.DynamoDBAPI
	tables    Tables
	publisher Publisher
	lowStock  int64
	nowFunc   func() time.Time
	newID     func() string
}

// NewLedger returns a Ledger. A stock.low event is published whenever a
// decrement leaves a product below lowStockThreshold; publisher may be nil.
func NewLedger(client aws.DynamoDBAPI, tables Tables, publisher Publisher, lowStockThreshold int64) *Ledger {
	return &Ledger{
		client:    client,
		tables:    tables,
		publisher: publisher,
		lowStock:  lowStockThreshold,
		nowFunc:   time.Now,
		newID:     uuid.NewString,
	}
}

func validateMovement(in MovementInput) map[string]string {
	fields := map[string]string{}
	if in.ProductID == "" {
		fields["product_id"] = "is required"
	}
	if in.Delta == 0 {
		fields["delta"] = "must be non-zero"
	}
	switch in.Kind {
	case KindStockIn, KindStockOut, KindAdjustment:
		if in.Delta != 0 && !in.Kind.Allows(in.Delta) {
			fields["delta"] = fmt.Sprintf("sign not allowed for %s", in.Kind)
		}
	default:
		fields["kind"] = "must be one of: STOCK_IN STOCK_OUT ADJUSTMENT"
	}
	if len(in.Reason) > 500 {
		fields["reason"] = "must be at most 500"
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// RecordMovement appends a movement and applies its delta to the product's
// counter in one transaction. Negative deltas are guarded so the counter
// never drops below zero:
//   - product missing: KindProductNotFound
//   - not enough stock: KindInsufficientStock
//   - movement id already recorded: Result.Replayed, no change
//
// Nothing is written on rejection.
func (l *Ledger) RecordMovement(ctx context.Context, in MovementInput) (Result, error) {
	const op = "inventory.RecordMovement"
	logger := logging.FromContext(ctx).WithFields(log.Fields{"op": op, "product_id": in.ProductID, "kind": in.Kind})

	if fields := validateMovement(in); fields != nil {
		metrics.StockMovements.WithLabelValues(string(in.Kind), "invalid").Inc()
		return Result{}, apperr.Validation(op, fields)
	}
	if in.MovementID == "" {
		in.MovementID = l.newID()
	}

	now := l.nowFunc().UTC()
	m := Movement{
		MovementID: in.MovementID,
		ProductID:  in.ProductID,
		Delta:      in.Delta,
		Kind:       in.Kind,
		Reason:     in.Reason,
		ActorID:    in.ActorID,
		CreatedAt:  now,
	}
	movementItem, err := attributevalue.MarshalMap(m)
	if err != nil {
		return Result{}, apperr.E(apperr.KindPersistenceFailed, op, fmt.Errorf("marshal movement: %w", err))
	}

	cond := "attribute_exists(product_id)"
	values := map[string]types.AttributeValue{
		":d":   &types.AttributeValueMemberN{Value: strconv.FormatInt(in.Delta, 10)},
		":one": &types.AttributeValueMemberN{Value: "1"},
		":ua":  &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
	}
	if in.Delta < 0 {
		cond += " AND #st >= :need"
		values[":need"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(-in.Delta, 10)}
	}

	_, err = l.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Update: &types.Update{
					TableName:                           &l.tables.Products,
					Key:                                 productKey(in.ProductID),
					UpdateExpression:                    awsString("SET #st = #st + :d, #mc = #mc + :one, updated_at = :ua"),
					ConditionExpression:                 &cond,
					ExpressionAttributeNames:            map[string]string{"#st": "stock", "#mc": "movement_count"},
					ExpressionAttributeValues:           values,
					ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
				},
			},
			{
				Put: &types.Put{
					TableName:           &l.tables.Movements,
					Item:                movementItem,
					ConditionExpression: awsString("attribute_not_exists(movement_id)"),
				},
			},
		},
	})
	if err != nil {
		return l.classify(ctx, op, in, err, logger)
	}

	stock, err := l.CurrentStock(ctx, in.ProductID)
	if err != nil {
		// committed; only the read-back failed
		logger.WithError(err).Warn("read back stock")
		stock = -1
	} else {
		metrics.InventoryLevel.WithLabelValues(in.ProductID).Set(float64(stock))
	}
	metrics.StockMovements.WithLabelValues(string(in.Kind), "applied").Inc()
	logger.WithFields(log.Fields{
		"movement_id": m.MovementID,
		"delta":       m.Delta,
		"stock":       stock,
	}).Info("stock movement recorded")

	if in.Delta < 0 && stock >= 0 && stock < l.lowStock {
		l.publishLow(ctx, in.ProductID, stock, logger)
	}
	return Result{Movement: m, Stock: stock}, nil
}

func (l *Ledger) classify(ctx context.Context, op string, in MovementInput, err error, logger *log.Entry) (Result, error) {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		metrics.StockMovements.WithLabelValues(string(in.Kind), "failed").Inc()
		return Result{}, apperr.E(apperr.KindPersistenceFailed, op, fmt.Errorf("transact write: %w", err))
	}
	reasons := tce.CancellationReasons

	// an applied movement id wins: a replay must not be reported as a stock failure
	if failed(reasons, 1) {
		existing, err := l.movement(ctx, in.MovementID)
		if err != nil {
			return Result{}, apperr.E(apperr.KindPersistenceFailed, op, err)
		}
		if !sameMovement(*existing, in) {
			metrics.StockMovements.WithLabelValues(string(in.Kind), "conflict").Inc()
			return Result{}, apperr.E(apperr.KindConflict, op, fmt.Errorf("movement %s already recorded with different content", in.MovementID))
		}
		stock, err := l.CurrentStock(ctx, in.ProductID)
		if err != nil {
			return Result{}, err
		}
		metrics.StockMovements.WithLabelValues(string(in.Kind), "replayed").Inc()
		logger.WithField("movement_id", in.MovementID).Info("stock movement already applied")
		return Result{Movement: *existing, Stock: stock, Replayed: true}, nil
	}

	if failed(reasons, 0) {
		if len(reasons[0].Item) == 0 {
			metrics.StockMovements.WithLabelValues(string(in.Kind), "not_found").Inc()
			return Result{}, apperr.E(apperr.KindProductNotFound, op, fmt.Errorf("product %s", in.ProductID))
		}
		metrics.StockMovements.WithLabelValues(string(in.Kind), "insufficient").Inc()
		var cur StockLevel
		if err := attributevalue.UnmarshalMap(reasons[0].Item, &cur); err != nil {
			logger.WithError(err).Warn("decode product on condition failure")
			return Result{}, apperr.E(apperr.KindInsufficientStock, op, fmt.Errorf("product %s has less than %d", in.ProductID, -in.Delta))
		}
		return Result{}, apperr.E(apperr.KindInsufficientStock, op, fmt.Errorf("product %s has %d, need %d", in.ProductID, cur.Stock, -in.Delta))
	}

	for _, r := range reasons {
		if r.Code != nil && *r.Code == "TransactionConflict" {
			metrics.StockMovements.WithLabelValues(string(in.Kind), "conflict").Inc()
			return Result{}, apperr.E(apperr.KindConflict, op, fmt.Errorf("concurrent write on product %s: %w", in.ProductID, err))
		}
	}

	metrics.StockMovements.WithLabelValues(string(in.Kind), "failed").Inc()
	return Result{}, apperr.E(apperr.KindPersistenceFailed, op, fmt.Errorf("transact write: %w", err))
}

// sameMovement reports whether a recorded movement carries the content of in.
func sameMovement(m Movement, in MovementInput) bool {
	return m.ProductID == in.ProductID && m.Kind == in.Kind && m.Delta == in.Delta && m.Reason == in.Reason
}

func failed(reasons []types.CancellationReason, i int) bool {
	return i < len(reasons) && reasons[i].Code != nil && *reasons[i].Code == "ConditionalCheckFailed"
}

func (l *Ledger) publishLow(ctx context.Context, productID string, stock int64, logger *log.Entry) {
	if l.publisher == nil {
		return
	}
	env, err := events.New(events.TypeStockLow, events.StockLow{ProductID: productID, Stock: stock, Threshold: l.lowStock}, l.nowFunc())
	if err == nil {
		env.CorrelationID = productID
		err = l.publisher.Publish(ctx, env)
	}
	if err != nil {
		logger.WithError(err).Error("publish stock.low")
	}
}

func (l *Ledger) movement(ctx context.Context, movementID string) (*Movement, error) {
	out, err := l.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &l.tables.Movements,
		Key:            map[string]types.AttributeValue{"movement_id": &types.AttributeValueMemberS{Value: movementID}},
		ConsistentRead: boolPtr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get movement: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("movement %s vanished", movementID)
	}
	var m Movement
	if err := attributevalue.UnmarshalMap(out.Item, &m); err != nil {
		return nil, fmt.Errorf("unmarshal movement: %w", err)
	}
	return &m, nil
}

// level reads a product's cached counter with a consistent read.
func (l *Ledger) level(ctx context.Context, op, productID string) (*StockLevel, error) {
	out, err := l.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:                &l.tables.Products,
		Key:                      productKey(productID),
		ConsistentRead:           boolPtr(true),
		ProjectionExpression:     awsString("product_id, #n, sku, #st, #mc"),
		ExpressionAttributeNames: map[string]string{"#n": "name", "#st": "stock", "#mc": "movement_count"},
	})
	if err != nil {
		return nil, apperr.E(apperr.KindPersistenceFailed, op, fmt.Errorf("get item: %w", err))
	}
	if len(out.Item) == 0 {
		return nil, apperr.E(apperr.KindProductNotFound, op, fmt.Errorf("product %s", productID))
	}
	var lvl StockLevel
	if err := attributevalue.UnmarshalMap(out.Item, &lvl); err != nil {
		return nil, apperr.E(apperr.KindPersistenceFailed, op, fmt.Errorf("unmarshal product: %w", err))
	}
	return &lvl, nil
}

// CurrentStock returns the cached on-hand counter.
func (l *Ledger) CurrentStock(ctx context.Context, productID string) (int64, error) {
	lvl, err := l.level(ctx, "inventory.CurrentStock", productID)
	if err != nil {
		return 0, err
	}
	return lvl.Stock, nil
}

// LowStock returns products whose cached counter is below threshold,
// lowest first.
func (l *Ledger) LowStock(ctx context.Context, threshold int64) ([]StockLevel, error) {
	const op = "inventory.LowStock"
	if threshold < 0 {
		return nil, apperr.Validation(op, map[string]string{"threshold": "must be >= 0"})
	}

	input := &dyn.ScanInput{
		TableName:                &l.tables.Products,
		FilterExpression:         awsString("#st < :t"),
		ProjectionExpression:     awsString("product_id, #n, sku, #st, #mc"),
		ExpressionAttributeNames: map[string]string{"#n": "name", "#st": "stock", "#mc": "movement_count"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t": &types.AttributeValueMemberN{Value: strconv.FormatInt(threshold, 10)},
		},
	}
	var out []StockLevel
	for {
		page, err := l.client.Scan(ctx, input)
		if err != nil {
			return nil, apperr.E(apperr.KindPersistenceFailed, op, fmt.Errorf("scan: %w", err))
		}
		var batch []StockLevel
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, apperr.E(apperr.KindPersistenceFailed, op, fmt.Errorf("unmarshal products: %w", err))
		}
		out = append(out, batch...)
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = page.LastEvaluatedKey
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Stock < out[j].Stock })
	return out, nil
}

// Movements returns a product's movement log, oldest first. The index is
// eventually consistent.
func (l *Ledger) Movements(ctx context.Context, productID string) ([]Movement, error) {
	const op = "inventory.Movements"

	input := &dyn.QueryInput{
		TableName:                 &l.tables.Movements,
		IndexName:                 &l.tables.MovementsIndex,
		KeyConditionExpression:    awsString("#pid = :pid"),
		ExpressionAttributeNames:  map[string]string{"#pid": "product_id"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":pid": &types.AttributeValueMemberS{Value: productID}},
	}
	var out []Movement
	for {
		page, err := l.client.Query(ctx, input)
		if err != nil {
			return nil, apperr.E(apperr.KindPersistenceFailed, op, fmt.Errorf("query movements: %w", err))
		}
		var batch []Movement
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, apperr.E(apperr.KindPersistenceFailed, op, fmt.Errorf("unmarshal movements: %w", err))
		}
		out = append(out, batch...)
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = page.LastEvaluatedKey
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].MovementID < out[j].MovementID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func productKey(productID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"product_id": &types.AttributeValueMemberS{Value: productID}}
}

func awsString(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }
