// Package designs runs the review workflow for generated designs:
// DRAFT -> APPROVED | REJECTED, decided once by an admin.
package designs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/imrishuroy/storefront-ledger/internal/apperr"
	"github.com/imrishuroy/storefront-ledger/internal/auth"
	"github.com/imrishuroy/storefront-ledger/internal/aws"
	"github.com/imrishuroy/storefront-ledger/internal/logging"
	"github.com/imrishuroy/storefront-ledger/internal/metrics"
	"github.com/imrishuroy/storefront-ledger/internal/validation"
)

// Generator renders a prompt into an image URL.
type Generator interface {
	Generate(ctx context.Context, prompt, productType string) (string, error)
}

// Service stores designs in DynamoDB.
type Service struct {
	client    aws.DynamoDBAPI
	tableName string
	generator Generator
	validate  *validatorv10.Validate
	nowFunc   func() time.Time
	newID     func() string
}

func NewService(client aws.DynamoDBAPI, tableName string, generator Generator, v *validatorv10.Validate) *Service {
	return &Service{
		client:    client,
		tableName: tableName,
		generator: generator,
		validate:  v,
		nowFunc:   time.Now,
		newID:     uuid.NewString,
	}
}

// Generate renders a design for the principal and stores it as a DRAFT.
func (s *Service) Generate(ctx context.Context, p auth.Principal, req validation.DesignRequest) (*Design, error) {
	const op = "designs.Generate"

	if p.ID == "" {
		return nil, apperr.E(apperr.KindUnauthorized, op, errors.New("anonymous caller"))
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, apperr.Validation(op, validation.Fields(err))
	}

	url, err := s.generator.Generate(ctx, req.Prompt, req.ProductType)
	if err != nil {
		return nil, apperr.E(apperr.KindUpstreamFailed, op, err)
	}

	now := s.nowFunc().UTC()
	d := &Design{
		DesignID:    s.newID(),
		OwnerID:     p.ID,
		Prompt:      req.Prompt,
		ProductType: req.ProductType,
		ImageURL:    url,
		Status:      StatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	item, err := attributevalue.MarshalMap(d)
	if err != nil {
		return nil, apperr.E(apperr.KindPersistenceFailed, op, fmt.Errorf("marshal design: %w", err))
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(design_id)"),
	}); err != nil {
		return nil, apperr.E(apperr.KindPersistenceFailed, op, fmt.Errorf("put item: %w", err))
	}

	logging.FromContext(ctx).WithFields(log.Fields{"design_id": d.DesignID, "owner_id": p.ID}).Info("design drafted")
	return d, nil
}

// Review records an admin decision on a DRAFT design. Repeating the
// decision a design already carries is a no-op; the opposite decision on a
// decided design is KindInvalidTransition.
func (s *Service) Review(ctx context.Context, p auth.Principal, designID string, decision Status) (*Design, error) {
	const op = "designs.Review"

	if !p.IsAdmin {
		metrics.DesignReviews.WithLabelValues(string(decision), "unauthorized").Inc()
		return nil, apperr.E(apperr.KindUnauthorized, op, fmt.Errorf("%q may not review designs", p.ID))
	}
	if !decision.Terminal() {
		return nil, apperr.Validation(op, map[string]string{"decision": "must be one of: APPROVED REJECTED"})
	}

	now := s.nowFunc().UTC()
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      designKey(designID),
		UpdateExpression:         awsString("SET #s = :decision, reviewed_by = :by, reviewed_at = :at, updated_at = :at"),
		ConditionExpression:      awsString("attribute_exists(design_id) AND #s = :draft"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":decision": &types.AttributeValueMemberS{Value: string(decision)},
			":draft":    &types.AttributeValueMemberS{Value: string(StatusDraft)},
			":by":       &types.AttributeValueMemberS{Value: p.ID},
			":at":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if !errors.As(err, &ccf) {
			metrics.DesignReviews.WithLabelValues(string(decision), "failed").Inc()
			return nil, apperr.E(apperr.KindPersistenceFailed, op, fmt.Errorf("update item: %w", err))
		}
		if len(ccf.Item) == 0 {
			metrics.DesignReviews.WithLabelValues(string(decision), "not_found").Inc()
			return nil, apperr.E(apperr.KindDesignNotFound, op, fmt.Errorf("design %s", designID))
		}
		var cur Design
		if err := attributevalue.UnmarshalMap(ccf.Item, &cur); err != nil {
			return nil, apperr.E(apperr.KindPersistenceFailed, op, fmt.Errorf("unmarshal design: %w", err))
		}
		if cur.Status == decision {
			metrics.DesignReviews.WithLabelValues(string(decision), "unchanged").Inc()
			return &cur, nil
		}
		metrics.DesignReviews.WithLabelValues(string(decision), "rejected").Inc()
		return nil, apperr.E(apperr.KindInvalidTransition, op, fmt.Errorf("design %s is %s", designID, cur.Status))
	}

	var d Design
	if err := attributevalue.UnmarshalMap(out.Attributes, &d); err != nil {
		return nil, apperr.E(apperr.KindPersistenceFailed, op, fmt.Errorf("unmarshal design: %w", err))
	}
	metrics.DesignReviews.WithLabelValues(string(decision), "applied").Inc()
	logging.FromContext(ctx).WithFields(log.Fields{
		"design_id": designID,
		"decision":  decision,
		"reviewer":  p.ID,
	}).Info("design reviewed")
	return &d, nil
}

// Get returns a design. Non-admins only see their own designs.
func (s *Service) Get(ctx context.Context, p auth.Principal, designID string) (*Design, error) {
	const op = "designs.Get"

	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key:       designKey(designID),
	})
	if err != nil {
		return nil, apperr.E(apperr.KindPersistenceFailed, op, fmt.Errorf("get item: %w", err))
	}
	if len(out.Item) == 0 {
		return nil, apperr.E(apperr.KindDesignNotFound, op, fmt.Errorf("design %s", designID))
	}
	var d Design
	if err := attributevalue.UnmarshalMap(out.Item, &d); err != nil {
		return nil, apperr.E(apperr.KindPersistenceFailed, op, fmt.Errorf("unmarshal design: %w", err))
	}
	if !p.IsAdmin && d.OwnerID != p.ID {
		// indistinguishable from a missing design
		return nil, apperr.E(apperr.KindDesignNotFound, op, fmt.Errorf("design %s", designID))
	}
	return &d, nil
}

// List returns designs in a status (all statuses when empty), oldest first.
func (s *Service) List(ctx context.Context, status Status) ([]Design, error) {
	const op = "designs.List"

	input := &dyn.ScanInput{TableName: &s.tableName}
	if status != "" {
		if status != StatusDraft && !status.Terminal() {
			return nil, apperr.Validation(op, map[string]string{"status": "must be one of: DRAFT APPROVED REJECTED"})
		}
		input.FilterExpression = awsString("#s = :s")
		input.ExpressionAttributeNames = map[string]string{"#s": "status"}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{":s": &types.AttributeValueMemberS{Value: string(status)}}
	}

	var out []Design
	for {
		page, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, apperr.E(apperr.KindPersistenceFailed, op, fmt.Errorf("scan: %w", err))
		}
		var batch []Design
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, apperr.E(apperr.KindPersistenceFailed, op, fmt.Errorf("unmarshal designs: %w", err))
		}
		out = append(out, batch...)
		if len(page.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = page.LastEvaluatedKey
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func designKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"design_id": &types.AttributeValueMemberS{Value: id}}
}

func awsString(s string) *string { return &s }
