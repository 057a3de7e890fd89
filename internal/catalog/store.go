// Package catalog stores the products stock is counted against.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/imrishuroy/storefront-ledger/internal/apperr"
	"github.com/imrishuroy/storefront-ledger/internal/aws"
	"github.com/imrishuroy/storefront-ledger/internal/logging"
	"github.com/imrishuroy/storefront-ledger/internal/validation"
)

// Store encapsulates operations on the products table.
type Store struct {
	client        aws.DynamoDBAPI
	productsTable string
	skusTable     string
	validate      *validatorv10.Validate
	nowFunc       func() time.Time
	newID         func() string
}

func NewStore(client aws.DynamoDBAPI, productsTable, skusTable string, v *validatorv10.Validate) *Store {
	return &Store{
		client:        client,
		productsTable: productsTable,
		skusTable:     skusTable,
		validate:      v,
		nowFunc:       time.Now,
		newID:         uuid.NewString,
	}
}

// Create validates req and writes a product with zero stock. A SKU, when
// given, is claimed through a guard item in the same transaction; a taken
// SKU is KindConflict.
func (s *Store) Create(ctx context.Context, req validation.ProductRequest) (*Product, error) {
	const op = "catalog.Create"

	if err := s.validate.Struct(req); err != nil {
		return nil, apperr.Validation(op, validation.Fields(err))
	}

	now := s.nowFunc().UTC()
	p := &Product{
		ProductID:   s.newID(),
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Category:    Category(req.Category),
		Sizes:       req.Sizes,
		Colors:      req.Colors,
		SKU:         req.SKU,
		IsNew:       req.IsNew,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, m := range req.Media {
		p.Media = append(p.Media, Media{Kind: m.Kind, URL: m.URL})
	}

	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return nil, apperr.E(apperr.KindPersistenceFailed, op, fmt.Errorf("marshal product: %w", err))
	}
	transactItems := []types.TransactWriteItem{{
		Put: &types.Put{
			TableName:           &s.productsTable,
			Item:                item,
			ConditionExpression: awsString("attribute_not_exists(product_id)"),
		},
	}}
	if p.SKU != "" {
		guard, err := attributevalue.MarshalMap(skuGuard{SKU: p.SKU, ProductID: p.ProductID})
		if err != nil {
			return nil, apperr.E(apperr.KindPersistenceFailed, op, fmt.Errorf("marshal sku guard: %w", err))
		}
		transactItems = append(transactItems, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           &s.skusTable,
				Item:                guard,
				ConditionExpression: awsString("attribute_not_exists(sku)"),
			},
		})
	}

	if _, err := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: transactItems}); err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) && len(tce.CancellationReasons) > 1 &&
			tce.CancellationReasons[1].Code != nil && *tce.CancellationReasons[1].Code == "ConditionalCheckFailed" {
			return nil, apperr.E(apperr.KindConflict, op, fmt.Errorf("sku %s already in use", p.SKU))
		}
		return nil, apperr.E(apperr.KindPersistenceFailed, op, fmt.Errorf("transact write: %w", err))
	}

	logging.FromContext(ctx).WithFields(log.Fields{
		"product_id": p.ProductID,
		"sku":        p.SKU,
		"category":   p.Category,
	}).Info("product created")
	return p, nil
}

// Get fetches a product. A missing product is KindProductNotFound.
func (s *Store) Get(ctx context.Context, productID string) (*Product, error) {
	const op = "catalog.Get"

	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.productsTable,
		Key: map[string]types.AttributeValue{
			"product_id": &types.AttributeValueMemberS{Value: productID},
		},
		ConsistentRead: boolPtr(true),
	})
	if err != nil {
		return nil, apperr.E(apperr.KindPersistenceFailed, op, fmt.Errorf("get item: %w", err))
	}
	if len(out.Item) == 0 {
		return nil, apperr.E(apperr.KindProductNotFound, op, fmt.Errorf("product %s", productID))
	}
	var p Product
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return nil, apperr.E(apperr.KindPersistenceFailed, op, fmt.Errorf("unmarshal product: %w", err))
	}
	return &p, nil
}

func awsString(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }
