package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/storefront-ledger/internal/apperr"
	"github.com/imrishuroy/storefront-ledger/internal/aws"
)

// ErrStatusMismatch means the stored status changed between read and write.
var ErrStatusMismatch = errors.New("status mismatch/conditional failed")

// Tables names the DynamoDB tables the order store writes.
type Tables struct {
	Orders   string
	Items    string
	Counters string
}

// Store encapsulates operations on the orders, order items and counters tables.
type Store struct {
	client  aws.DynamoDBAPI
	tables  Tables
	seed    int64
	nowFunc func() time.Time
}

// NewStore creates a new orders Store. seed is the counter value assumed for
// a store with no orders yet, so the first order number is seed+1.
func NewStore(client aws.DynamoDBAPI, tables Tables, seed int64) *Store {
	return &Store{
		client:  client,
		tables:  tables,
		seed:    seed,
		nowFunc: time.Now,
	}
}

// lastNumber reads the store's counter. found is false when no order has
// been placed yet.
func (s *Store) lastNumber(ctx context.Context, storeID string) (last string, n int64, found bool, err error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tables.Counters,
		Key: map[string]types.AttributeValue{
			"counter_id": &types.AttributeValueMemberS{Value: counterKey(storeID)},
		},
		ConsistentRead: boolPtr(true),
	})
	if err != nil {
		return "", 0, false, fmt.Errorf("get counter: %w", err)
	}
	if len(out.Item) == 0 {
		return "", s.seed, false, nil
	}
	var c counter
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return "", 0, false, fmt.Errorf("unmarshal counter: %w", err)
	}
	n, err = ParseOrderNumber(c.LastOrderNumber)
	if err != nil {
		return "", 0, false, fmt.Errorf("corrupt counter %s: %w", c.CounterID, err)
	}
	return c.LastOrderNumber, n, true, nil
}

// IdempotencyPut builds the conditional put claiming the caller's key. It is
// invoked once the order id and number are known.
type IdempotencyPut func(orderID, orderNumber string) (types.TransactWriteItem, error)

// Create assigns the next order number and writes the counter, the order,
// its line items and (when claim is non-nil) the idempotency record in one
// TransactWriteItems. Nothing is written unless all of them are.
//
// Failures are classified: a moved counter or a transaction cancelled by a
// concurrent write (TransactionConflict) is KindConflict, a claimed key is
// KindDuplicate, a context deadline is KindTimeout and anything else is
// KindPersistenceFailed. Conflicts are not retried here.
func (s *Store) Create(ctx context.Context, order *Order, claim IdempotencyPut) error {
	const op = "orders.Create"

	prev, n, found, err := s.lastNumber(ctx, order.StoreID)
	if err != nil {
		return apperr.E(apperr.KindPersistenceFailed, op, err)
	}

	now := s.nowFunc().UTC()
	order.OrderNumber = FormatOrderNumber(n + 1)
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	counterUpdate := &types.Update{
		TableName: &s.tables.Counters,
		Key: map[string]types.AttributeValue{
			"counter_id": &types.AttributeValueMemberS{Value: counterKey(order.StoreID)},
		},
		UpdateExpression:         awsString("SET #lon = :next, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{"#lon": "last_order_number"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":next": &types.AttributeValueMemberS{Value: order.OrderNumber},
			":ua":   &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
	}
	if found {
		counterUpdate.ConditionExpression = awsString("#lon = :prev")
		counterUpdate.ExpressionAttributeValues[":prev"] = &types.AttributeValueMemberS{Value: prev}
	} else {
		counterUpdate.ConditionExpression = awsString("attribute_not_exists(counter_id)")
	}

	orderMap, err := attributevalue.MarshalMap(order)
	if err != nil {
		return apperr.E(apperr.KindPersistenceFailed, op, fmt.Errorf("marshal order item: %w", err))
	}

	transactItems := []types.TransactWriteItem{
		{Update: counterUpdate},
		{
			Put: &types.Put{
				TableName:           &s.tables.Orders,
				Item:                orderMap,
				ConditionExpression: awsString("attribute_not_exists(order_id)"),
			},
		},
	}
	for i := range order.Items {
		line := order.Items[i]
		line.OrderID = order.OrderID
		itemMap, err := attributevalue.MarshalMap(line)
		if err != nil {
			return apperr.E(apperr.KindPersistenceFailed, op, fmt.Errorf("marshal line %d: %w", line.LineNo, err))
		}
		transactItems = append(transactItems, types.TransactWriteItem{
			Put: &types.Put{TableName: &s.tables.Items, Item: itemMap},
		})
	}
	claimIdx := -1
	if claim != nil {
		put, err := claim(order.OrderID, order.OrderNumber)
		if err != nil {
			return apperr.E(apperr.KindPersistenceFailed, op, err)
		}
		claimIdx = len(transactItems)
		transactItems = append(transactItems, put)
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: transactItems})
	if err == nil {
		return nil
	}

	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		// a reused key wins over a moved counter: retrying would only hit it again
		if claimIdx >= 0 && conditionFailed(tce.CancellationReasons, claimIdx) {
			return apperr.E(apperr.KindDuplicate, op, fmt.Errorf("idempotency key already used: %w", err))
		}
		if conditionFailed(tce.CancellationReasons, 0) {
			return apperr.E(apperr.KindConflict, op, fmt.Errorf("counter moved past %s: %w", FormatOrderNumber(n), err))
		}
		if transactionConflict(tce.CancellationReasons) {
			return apperr.E(apperr.KindConflict, op, fmt.Errorf("concurrent checkout on %s: %w", counterKey(order.StoreID), err))
		}
	}
	return apperr.E(apperr.KindPersistenceFailed, op, fmt.Errorf("transact write: %w", err))
}

func conditionFailed(reasons []types.CancellationReason, i int) bool {
	return i < len(reasons) && reasons[i].Code != nil && *reasons[i].Code == "ConditionalCheckFailed"
}

// transactionConflict reports whether DynamoDB cancelled the transaction
// because another one was writing the same item.
func transactionConflict(reasons []types.CancellationReason) bool {
	for _, r := range reasons {
		if r.Code != nil && *r.Code == "TransactionConflict" {
			return true
		}
	}
	return false
}

// Get fetches an order and its line items. A missing order is KindOrderNotFound.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	const op = "orders.Get"

	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tables.Orders,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		ConsistentRead: boolPtr(true),
	})
	if err != nil {
		return nil, apperr.E(apperr.KindPersistenceFailed, op, fmt.Errorf("get item: %w", err))
	}
	if len(out.Item) == 0 {
		return nil, apperr.E(apperr.KindOrderNotFound, op, fmt.Errorf("order %s", orderID))
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, apperr.E(apperr.KindPersistenceFailed, op, fmt.Errorf("unmarshal order: %w", err))
	}

	var start map[string]types.AttributeValue
	for {
		page, err := s.client.Query(ctx, &dyn.QueryInput{
			TableName:                 &s.tables.Items,
			KeyConditionExpression:    awsString("#oid = :oid"),
			ExpressionAttributeNames:  map[string]string{"#oid": "order_id"},
			ExpressionAttributeValues: map[string]types.AttributeValue{":oid": &types.AttributeValueMemberS{Value: orderID}},
			ConsistentRead:            boolPtr(true),
			ExclusiveStartKey:         start,
		})
		if err != nil {
			return nil, apperr.E(apperr.KindPersistenceFailed, op, fmt.Errorf("query items: %w", err))
		}
		var lines []LineItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &lines); err != nil {
			return nil, apperr.E(apperr.KindPersistenceFailed, op, fmt.Errorf("unmarshal items: %w", err))
		}
		o.Items = append(o.Items, lines...)
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		start = page.LastEvaluatedKey
	}
	sort.Slice(o.Items, func(i, j int) bool { return o.Items[i].LineNo < o.Items[j].LineNo })
	return &o, nil
}

// List scans orders, optionally filtered by status, newest first. Line items
// are not loaded. limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, status Status, limit int) ([]Order, error) {
	const op = "orders.List"

	input := &dyn.ScanInput{TableName: &s.tables.Orders}
	if status != "" {
		input.FilterExpression = awsString("#s = :s")
		input.ExpressionAttributeNames = map[string]string{"#s": "status"}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{":s": &types.AttributeValueMemberS{Value: string(status)}}
	}

	var out []Order
	for {
		page, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, apperr.E(apperr.KindPersistenceFailed, op, fmt.Errorf("scan: %w", err))
		}
		var batch []Order
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, apperr.E(apperr.KindPersistenceFailed, op, fmt.Errorf("unmarshal orders: %w", err))
		}
		out = append(out, batch...)
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = page.LastEvaluatedKey
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateStatus conditionally updates the order status from expected -> newStatus.
// A failed condition is KindInvalidTransition wrapping ErrStatusMismatch.
func (s *Store) UpdateStatus(ctx context.Context, orderID string, expected, newStatus Status) error {
	const op = "orders.UpdateStatus"

	now := s.nowFunc().UTC()
	input := &dyn.UpdateItemInput{
		TableName: &s.tables.Orders,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:         awsString("SET #s = :new, updated_at = :ua"),
		ConditionExpression:      awsString("#s = :expected"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":      &types.AttributeValueMemberS{Value: string(newStatus)},
			":expected": &types.AttributeValueMemberS{Value: string(expected)},
			":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
	}

	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var sc *types.ConditionalCheckFailedException
		if errors.As(err, &sc) {
			return apperr.E(apperr.KindInvalidTransition, op, ErrStatusMismatch)
		}
		return apperr.E(apperr.KindPersistenceFailed, op, fmt.Errorf("update item: %w", err))
	}
	return nil
}

func awsString(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }
