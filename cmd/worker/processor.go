package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/imrishuroy/storefront-ledger/internal/apperr"
	ledgerevents "github.com/imrishuroy/storefront-ledger/internal/events"
	"github.com/imrishuroy/storefront-ledger/internal/inventory"
	"github.com/imrishuroy/storefront-ledger/internal/logging"
)

// Processor handles SQS messages published by the API and the ledger.
type Processor struct {
	ledger       StockRecorder
	alerts       Alerts
	autoStockOut bool
}

// NewProcessor creates a worker processor. With autoStockOut unset,
// order.placed events are acknowledged without touching stock.
func NewProcessor(ledger StockRecorder, alerts Alerts, autoStockOut bool) *Processor {
	return &Processor{ledger: ledger, alerts: alerts, autoStockOut: autoStockOut}
}

// Handle processes a batch. Failed messages are reported individually so
// only they are redelivered.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		logger := logging.FromContext(ctx).WithField("message_id", rec.MessageId)
		if err := p.processMessage(logging.WithEntry(ctx, logger), rec); err != nil {
			logger.WithError(err).Error("worker error")
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var env ledgerevents.Envelope
	if err := json.Unmarshal([]byte(rec.Body), &env); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}

	logger := logging.FromContext(ctx).WithFields(log.Fields{
		"event_type":     env.Type,
		"correlation_id": env.CorrelationID,
	})

	switch env.Type {
	case ledgerevents.TypeOrderPlaced:
		var data ledgerevents.OrderPlaced
		if err := env.Decode(&data); err != nil {
			return err
		}
		return p.stockOut(ctx, data, logger)
	case ledgerevents.TypeStockLow:
		var data ledgerevents.StockLow
		if err := env.Decode(&data); err != nil {
			return err
		}
		logger.WithFields(log.Fields{
			"product_id": data.ProductID,
			"stock":      data.Stock,
			"threshold":  data.Threshold,
		}).Warn("stock below threshold")
		return p.alerts.LowStock(ctx, data.ProductID, data.Stock)
	default:
		// nothing subscribes to it; acknowledge
		logger.Warn("ignoring unknown event type")
		return nil
	}
}

// stockOut records one STOCK_OUT per order line. A line the ledger refuses
// (not enough stock, unknown product) is alerted on and skipped; a
// redelivery would be refused the same way.
func (p *Processor) stockOut(ctx context.Context, order ledgerevents.OrderPlaced, logger *log.Entry) error {
	if !p.autoStockOut {
		logger.WithField("order_id", order.OrderID).Debug("auto stock-out disabled")
		return nil
	}

	for _, line := range order.Lines {
		lineLog := logger.WithFields(log.Fields{
			"order_id":   order.OrderID,
			"line_no":    line.LineNo,
			"product_id": line.ProductID,
		})
		res, err := p.ledger.RecordMovement(ctx, inventory.MovementInput{
			MovementID: lineMovementID(order.OrderID, line.LineNo),
			ProductID:  line.ProductID,
			Kind:       inventory.KindStockOut,
			Delta:      -line.Quantity,
			Reason:     "order " + order.OrderNumber,
			ActorID:    workerActor,
		})
		switch {
		case apperr.Is(err, apperr.KindInsufficientStock), apperr.Is(err, apperr.KindProductNotFound):
			lineLog.WithError(err).Warn("stock-out rejected")
			if aerr := p.alerts.StockOutRejected(ctx, line.ProductID); aerr != nil {
				return aerr
			}
		case err != nil:
			return fmt.Errorf("stock-out %s line %d: %w", order.OrderID, line.LineNo, err)
		default:
			lineLog.WithFields(log.Fields{"stock": res.Stock, "replayed": res.Replayed}).Info("stock-out recorded")
		}
	}
	return nil
}

func lineMovementID(orderID string, lineNo int) string {
	return uuid.NewSHA1(movementNamespace, []byte(fmt.Sprintf("%s#%d", orderID, lineNo))).String()
}
