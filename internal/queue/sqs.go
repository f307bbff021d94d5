package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSAPI is the subset of the SQS client used by SQSQueue.
// Tests substitute a fake; production uses *sqs.Client.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	GetQueueAttributes(ctx context.Context, in *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// SQSConfig carries the connection settings for an SQS queue.
// Empty credentials fall back to the default AWS credential chain.
type SQSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	QueueURL        string
	// Endpoint overrides the service endpoint (e.g. a local emulator).
	Endpoint string
}

// SQSQueue is a Queue backed by a single Amazon SQS queue.
type SQSQueue struct {
	api      SQSAPI
	queueURL string
}

// maxSQSWait is the longest long-poll SQS accepts.
const maxSQSWait = 20 * time.Second

// NewSQSQueue loads AWS configuration and returns a queue bound to cfg.QueueURL.
func NewSQSQueue(ctx context.Context, cfg SQSConfig) (*SQSQueue, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewSQSQueueWithAPI(client, cfg.QueueURL), nil
}

// NewSQSQueueWithAPI wraps an existing client.
func NewSQSQueueWithAPI(api SQSAPI, queueURL string) *SQSQueue {
	return &SQSQueue{api: api, queueURL: queueURL}
}

func (q *SQSQueue) Send(ctx context.Context, body []byte) (Receipt, error) {
	out, err := q.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("sqs send: %w", err)
	}
	return Receipt{MessageID: aws.ToString(out.MessageId)}, nil
}

// Receive long-polls SQS. SQS accepts at most 10 messages and 20 seconds;
// larger values are clamped.
func (q *SQSQueue) Receive(ctx context.Context, limit int, wait time.Duration) ([]Delivery, error) {
	limit = min(max(limit, 1), 10)
	wait = min(max(wait, 0), maxSQSWait)

	out, err := q.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: int32(limit),
		WaitTimeSeconds:     int32(wait / time.Second),
		MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{
			sqstypes.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("sqs receive: %w", err)
	}

	deliveries := make([]Delivery, 0, len(out.Messages))
	for _, m := range out.Messages {
		count, _ := strconv.Atoi(m.Attributes[string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount)])
		deliveries = append(deliveries, Delivery{
			ID:            aws.ToString(m.MessageId),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Body:          []byte(aws.ToString(m.Body)),
			ReceiveCount:  count,
		})
	}
	return deliveries, nil
}

func (q *SQSQueue) Delete(ctx context.Context, receiptHandle string) error {
	_, err := q.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		var invalid *sqstypes.ReceiptHandleIsInvalid
		if errors.As(err, &invalid) {
			return fmt.Errorf("sqs delete: %w", ErrUnknownReceipt)
		}
		return fmt.Errorf("sqs delete: %w", err)
	}
	return nil
}

// Depth reports SQS's ApproximateNumberOfMessages.
func (q *SQSQueue) Depth(ctx context.Context) (int, error) {
	attr := sqstypes.QueueAttributeNameApproximateNumberOfMessages
	out, err := q.api.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(q.queueURL),
		AttributeNames: []sqstypes.QueueAttributeName{attr},
	})
	if err != nil {
		return 0, fmt.Errorf("sqs attributes: %w", err)
	}
	n, err := strconv.Atoi(out.Attributes[string(attr)])
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", attr, err)
	}
	return n, nil
}

// Close is a no-op; the SQS client holds no long-lived connections of its own.
func (q *SQSQueue) Close() error { return nil }

var (
	_ Queue   = (*SQSQueue)(nil)
	_ Depther = (*SQSQueue)(nil)
)
