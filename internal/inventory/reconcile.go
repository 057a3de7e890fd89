package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/imrishuroy/storefront-ledger/internal/apperr"
	"github.com/imrishuroy/storefront-ledger/internal/logging"
	"github.com/imrishuroy/storefront-ledger/internal/metrics"
)

// Reconcile replays a product's movements and, when the fold disagrees with
// the cached counter, rewrites the counter. The rewrite is guarded by the
// movement count read up front, so a movement landing mid-replay makes the
// call fail with KindConflict instead of clobbering it.
func (l *Ledger) Reconcile(ctx context.Context, productID string) (Report, error) {
	const op = "inventory.Reconcile"
	logger := logging.FromContext(ctx).WithFields(log.Fields{"op": op, "product_id": productID})

	lvl, err := l.level(ctx, op, productID)
	if err != nil {
		return Report{}, err
	}
	moves, err := l.Movements(ctx, productID)
	if err != nil {
		return Report{}, err
	}

	var fold int64
	for _, m := range moves {
		fold += m.Delta
	}
	rep := Report{
		ProductID: productID,
		Cached:    lvl.Stock,
		Replayed:  fold,
		Movements: len(moves),
		Drift:     lvl.Stock - fold,
	}

	if int64(len(moves)) != lvl.MovementCount {
		rep.Conflict = true
		return rep, apperr.E(apperr.KindConflict, op,
			fmt.Errorf("product %s counts %d movements, log has %d", productID, lvl.MovementCount, len(moves)))
	}
	if rep.Drift == 0 {
		return rep, nil
	}

	_, err = l.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &l.tables.Products,
		Key:                      productKey(productID),
		UpdateExpression:         awsString("SET #st = :fold, updated_at = :ua"),
		ConditionExpression:      awsString("#mc = :mc"),
		ExpressionAttributeNames: map[string]string{"#st": "stock", "#mc": "movement_count"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":fold": &types.AttributeValueMemberN{Value: strconv.FormatInt(fold, 10)},
			":mc":   &types.AttributeValueMemberN{Value: strconv.FormatInt(lvl.MovementCount, 10)},
			":ua":   &types.AttributeValueMemberS{Value: l.nowFunc().UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			rep.Conflict = true
			return rep, apperr.E(apperr.KindConflict, op, fmt.Errorf("product %s moved during replay", productID))
		}
		return rep, apperr.E(apperr.KindPersistenceFailed, op, fmt.Errorf("update item: %w", err))
	}

	rep.Repaired = true
	metrics.ReconcileRepairs.Inc()
	metrics.InventoryLevel.WithLabelValues(productID).Set(float64(fold))
	logger.WithFields(log.Fields{"cached": rep.Cached, "replayed": fold, "drift": rep.Drift}).Warn("stock counter repaired")
	return rep, nil
}

// ReconcileAll reconciles every product with at most concurrency in flight.
// Per-product conflicts are reported, not returned; any other failure
// cancels the run.
func (l *Ledger) ReconcileAll(ctx context.Context, concurrency int) ([]Report, error) {
	const op = "inventory.ReconcileAll"
	if concurrency < 1 {
		concurrency = 1
	}

	ids, err := l.productIDs(ctx)
	if err != nil {
		return nil, apperr.E(apperr.KindPersistenceFailed, op, err)
	}

	reports := make([]Report, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, id := range ids {
		g.Go(func() error {
			rep, err := l.Reconcile(gctx, id)
			if err != nil && !apperr.Is(err, apperr.KindConflict) {
				return err
			}
			reports[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

func (l *Ledger) productIDs(ctx context.Context) ([]string, error) {
	input := &dyn.ScanInput{
		TableName:            &l.tables.Products,
		ProjectionExpression: awsString("product_id"),
	}
	var ids []string
	for {
		page, err := l.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("scan products: %w", err)
		}
		var batch []struct {
			ProductID string `dynamodbav:"product_id"`
		}
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal products: %w", err)
		}
		for _, b := range batch {
			ids = append(ids, b.ProductID)
		}
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = page.LastEvaluatedKey
	}
	return ids, nil
}
