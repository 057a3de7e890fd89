package awstest

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQS records every SendMessage call. Err, when set, is returned instead.
type SQS struct {
	mu       sync.Mutex
	Err      error
	Messages []*sqs.SendMessageInput
}

func (s *SQS) SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	s.Messages = append(s.Messages, in)
	id := fmt.Sprintf("msg-%d", len(s.Messages))
	return &sqs.SendMessageOutput{MessageId: &id}, nil
}

// Bodies returns the message bodies sent so far.
func (s *SQS) Bodies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.Messages))
	for _, m := range s.Messages {
		if m.MessageBody != nil {
			out = append(out, *m.MessageBody)
		}
	}
	return out
}

// CloudWatch records every datum put.
type CloudWatch struct {
	mu     sync.Mutex
	Err    error
	Datums []cwtypes.MetricDatum
}

func (c *CloudWatch) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	c.Datums = append(c.Datums, in.MetricData...)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

// Named returns the datums recorded under a metric name.
func (c *CloudWatch) Named(name string) []cwtypes.MetricDatum {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []cwtypes.MetricDatum
	for _, d := range c.Datums {
		if d.MetricName != nil && *d.MetricName == name {
			out = append(out, d)
		}
	}
	return out
}
