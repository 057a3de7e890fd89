package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// MetricsEmitter publishes alerting metrics to CloudWatch.
type MetricsEmitter struct {
	CW        CloudWatchAPI
	Namespace string
	nowFunc   func() time.Time
}

func NewMetricsEmitter(cw CloudWatchAPI, namespace string) *MetricsEmitter {
	return &MetricsEmitter{CW: cw, Namespace: namespace, nowFunc: time.Now}
}

// LowStock records the on-hand level of a product that crossed its threshold.
func (m *MetricsEmitter) LowStock(ctx context.Context, productID string, stock int64) error {
	return m.put(ctx, "LowStock", float64(stock), cwtypes.StandardUnitCount, productID)
}

// StockOutRejected counts automatic stock-outs refused for lack of stock.
func (m *MetricsEmitter) StockOutRejected(ctx context.Context, productID string) error {
	return m.put(ctx, "StockOutRejected", 1, cwtypes.StandardUnitCount, productID)
}

// StockDrift records how far a cached counter was from the replayed ledger.
func (m *MetricsEmitter) StockDrift(ctx context.Context, productID string, drift int64) error {
	return m.put(ctx, "StockDrift", float64(drift), cwtypes.StandardUnitCount, productID)
}

func (m *MetricsEmitter) put(ctx context.Context, name string, value float64, unit cwtypes.StandardUnit, productID string) error {
	now := m.nowFunc()
	_, err := m.CW.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: &m.Namespace,
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: awsString(name),
				Dimensions: []cwtypes.Dimension{
					{Name: awsString("ProductId"), Value: awsString(productID)},
				},
				Timestamp: &now,
				Unit:      unit,
				Value:     &value,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("put metric %s: %w", name, err)
	}
	return nil
}
