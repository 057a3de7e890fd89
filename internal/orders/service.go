package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/imrishuroy/storefront-ledger/internal/apperr"
	"github.com/imrishuroy/storefront-ledger/internal/auth"
	"github.com/imrishuroy/storefront-ledger/internal/events"
	"github.com/imrishuroy/storefront-ledger/internal/idempotency"
	"github.com/imrishuroy/storefront-ledger/internal/logging"
	"github.com/imrishuroy/storefront-ledger/internal/metrics"
	"github.com/imrishuroy/storefront-ledger/internal/validation"
)

// Publisher sends committed-order events.
type Publisher interface {
	Publish(ctx context.Context, env events.Envelope) error
}

// Service runs checkout: validation, pricing, numbering and persistence.
type Service struct {
	store     *Store
	idem      *idempotency.Store
	validate  *validatorv10.Validate
	publisher Publisher
	storeID   string
	taxRate   decimal.Decimal
	nowFunc   func() time.Time
	newID     func() string
}

// NewService wires a checkout service. publisher may be nil.
func NewService(store *Store, idem *idempotency.Store, v *validatorv10.Validate, publisher Publisher, storeID string, taxRate decimal.Decimal) *Service {
	return &Service{
		store:     store,
		idem:      idem,
		validate:  v,
		publisher: publisher,
		storeID:   storeID,
		taxRate:   taxRate,
		nowFunc:   time.Now,
		newID:     uuid.NewString,
	}
}

// Totals are the computed amounts of a cart, in minor units.
type Totals struct {
	Subtotal int64
	Tax      int64
	Total    int64
}

// ComputeTotals sums qty x unit price per line and applies rate, rounding
// the tax half-up to the minor unit.
func ComputeTotals(items []validation.CheckoutItem, rate decimal.Decimal) Totals {
	var subtotal int64
	for _, it := range items {
		subtotal += it.Quantity * it.UnitPrice
	}
	tax := decimal.NewFromInt(subtotal).Mul(rate).Round(0).IntPart()
	return Totals{Subtotal: subtotal, Tax: tax, Total: subtotal + tax}
}

// PlaceOrder validates req, checks the claimed total and persists the order
// atomically. With a non-empty idempotencyKey the key is claimed in the same
// transaction; a second use returns KindDuplicate (see Replay).
//
// KindConflict means another checkout took the number first; the caller may
// retry.
func (s *Service) PlaceOrder(ctx context.Context, req validation.CheckoutRequest, idempotencyKey string) (Placed, error) {
	const op = "orders.PlaceOrder"
	logger := logging.FromContext(ctx).WithFields(log.Fields{"op": op, "store_id": s.storeID})

	if err := s.validate.Struct(req); err != nil {
		metrics.OrdersTotal.WithLabelValues("invalid").Inc()
		return Placed{}, apperr.Validation(op, validation.Fields(err))
	}

	totals := ComputeTotals(req.Items, s.taxRate)
	if totals.Total != req.Total {
		metrics.OrdersTotal.WithLabelValues("invalid").Inc()
		return Placed{}, apperr.Validation(op, map[string]string{
			"total": fmt.Sprintf("expected %d (subtotal %d + tax %d), got %d", totals.Total, totals.Subtotal, totals.Tax, req.Total),
		})
	}

	order := s.newOrder(req, totals)
	if p, ok := auth.FromContext(ctx); ok {
		order.CustomerID = p.ID
	}

	var claim IdempotencyPut
	if idempotencyKey != "" {
		hash, err := idempotency.HashRequest(req)
		if err != nil {
			return Placed{}, apperr.E(apperr.KindPersistenceFailed, op, err)
		}
		claim = func(orderID, orderNumber string) (types.TransactWriteItem, error) {
			return s.idem.TransactPut(idempotencyKey, hash, orderID, orderNumber)
		}
	}

	if err := s.store.Create(ctx, order, claim); err != nil {
		kind := apperr.KindOf(err)
		metrics.OrdersTotal.WithLabelValues(outcome(kind)).Inc()
		logger.WithError(err).WithField("kind", kind.String()).Warn("checkout not committed")
		return Placed{}, err
	}

	metrics.OrdersTotal.WithLabelValues("placed").Inc()
	logger.WithFields(log.Fields{
		"order_id":     order.OrderID,
		"order_number": order.OrderNumber,
		"total":        order.Total,
	}).Info("order placed")

	s.publishPlaced(ctx, order, logger)
	return Placed{OrderID: order.OrderID, OrderNumber: order.OrderNumber}, nil
}

func (s *Service) newOrder(req validation.CheckoutRequest, totals Totals) *Order {
	now := s.nowFunc().UTC()
	o := &Order{
		OrderID:   s.newID(),
		StoreID:   s.storeID,
		Status:    StatusPending,
		Subtotal:  totals.Subtotal,
		Tax:       totals.Tax,
		Total:     totals.Total,
		ItemCount: len(req.Items),
		Shipping: Address{
			Name:       req.Shipping.Name,
			Email:      req.Shipping.Email,
			Street:     req.Shipping.Street,
			City:       req.Shipping.City,
			State:      req.Shipping.State,
			PostalCode: req.Shipping.PostalCode,
			Phone:      req.Shipping.Phone,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i, it := range req.Items {
		o.Items = append(o.Items, LineItem{
			OrderID:   o.OrderID,
			LineNo:    i + 1,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Size:      it.Size,
			Color:     it.Color,
			Subtotal:  it.Quantity * it.UnitPrice,
		})
	}
	return o
}

// publishPlaced is best effort: the order is already committed.
func (s *Service) publishPlaced(ctx context.Context, order *Order, logger *log.Entry) {
	if s.publisher == nil {
		return
	}
	data := events.OrderPlaced{OrderID: order.OrderID, OrderNumber: order.OrderNumber, StoreID: order.StoreID}
	for _, l := range order.Items {
		data.Lines = append(data.Lines, events.OrderLine{LineNo: l.LineNo, ProductID: l.ProductID, Quantity: l.Quantity})
	}
	env, err := events.New(events.TypeOrderPlaced, data, s.nowFunc())
	if err == nil {
		env.CorrelationID = order.OrderID
		err = s.publisher.Publish(ctx, env)
	}
	if err != nil {
		metrics.OrdersTotal.WithLabelValues("publish_failed").Inc()
		logger.WithError(err).WithField("order_id", order.OrderID).Error("publish order.placed")
	}
}

// Replay resolves a KindDuplicate checkout. It returns the order originally
// placed under idempotencyKey, or KindConflict when the key was used for a
// different request body.
func (s *Service) Replay(ctx context.Context, req validation.CheckoutRequest, idempotencyKey string) (Placed, error) {
	const op = "orders.Replay"

	rec, err := s.idem.Get(ctx, idempotencyKey)
	if err != nil {
		return Placed{}, apperr.E(apperr.KindPersistenceFailed, op, err)
	}
	if rec == nil {
		// expired between the failed claim and this read
		return Placed{}, apperr.E(apperr.KindConflict, op, fmt.Errorf("idempotency key %s expired", idempotencyKey))
	}
	hash, err := idempotency.HashRequest(req)
	if err != nil {
		return Placed{}, apperr.E(apperr.KindPersistenceFailed, op, err)
	}
	if hash != rec.RequestHash {
		return Placed{}, apperr.E(apperr.KindDuplicate, op, fmt.Errorf("idempotency key %s reused with a different request", idempotencyKey))
	}
	metrics.OrdersTotal.WithLabelValues("replayed").Inc()
	return Placed{OrderID: rec.OrderID, OrderNumber: rec.OrderNumber}, nil
}

// GetOrder returns an order with its line items. Non-admins only see
// orders they placed themselves.
func (s *Service) GetOrder(ctx context.Context, p auth.Principal, orderID string) (*Order, error) {
	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin && (order.CustomerID == "" || order.CustomerID != p.ID) {
		// indistinguishable from a missing order
		return nil, apperr.E(apperr.KindOrderNotFound, "orders.GetOrder", fmt.Errorf("order %s", orderID))
	}
	return order, nil
}

// ListOrders returns up to limit orders, newest first, optionally filtered by status.
func (s *Service) ListOrders(ctx context.Context, status Status, limit int) ([]Order, error) {
	if status != "" && !status.Valid() {
		return nil, apperr.Validation("orders.ListOrders", map[string]string{"status": "unknown status " + string(status)})
	}
	return s.store.List(ctx, status, limit)
}

// UpdateStatus moves an order along the status table. Forbidden moves and
// races with another update are KindInvalidTransition.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, to Status) (*Order, error) {
	const op = "orders.UpdateStatus"

	if !to.Valid() {
		return nil, apperr.Validation(op, map[string]string{"status": "unknown status " + string(to)})
	}
	order, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.CanTransition(to) {
		return nil, apperr.E(apperr.KindInvalidTransition, op, fmt.Errorf("%s -> %s", order.Status, to))
	}
	if err := s.store.UpdateStatus(ctx, orderID, order.Status, to); err != nil {
		return nil, err
	}
	logging.FromContext(ctx).WithFields(log.Fields{
		"order_id": orderID,
		"from":     order.Status,
		"to":       to,
	}).Info("order status updated")

	order.Status = to
	order.UpdatedAt = s.store.nowFunc().UTC()
	return order, nil
}

func outcome(k apperr.Kind) string {
	switch k {
	case apperr.KindConflict:
		return "conflict"
	case apperr.KindDuplicate:
		return "duplicate"
	case apperr.KindTimeout:
		return "timeout"
	}
	return "failed"
}
