package relay

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"prism-live/domain"
)

// QueueMessage is one dequeued message.
type QueueMessage struct {
	ID         string
	PopReceipt string
	Text       string
}

// Queue is the part of a storage queue the consumer needs.
type Queue interface {
	Receive(ctx context.Context) ([]QueueMessage, error)
	Delete(ctx context.Context, msg QueueMessage) error
}

// AzureQueue adapts an Azure Storage queue.
type AzureQueue struct {
	client *azqueue.QueueClient
}

// NewAzureQueue connects to queue name and creates it if it does not exist.
func NewAzureQueue(ctx context.Context, connStr, name string) (*AzureQueue, error) {
	client, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
	if err != nil {
		return nil, err
	}
	if _, err := client.Create(ctx, nil); err != nil {
		var respErr *azcore.ResponseError
		if !(errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists") {
			return nil, err
		}
	}
	return &AzureQueue{client: client}, nil
}

func (q *AzureQueue) Receive(ctx context.Context) ([]QueueMessage, error) {
	resp, err := q.client.DequeueMessage(ctx, nil)
	if err != nil {
		return nil, err
	}
	out := make([]QueueMessage, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		if m == nil || m.MessageID == nil || m.PopReceipt == nil {
			continue
		}
		msg := QueueMessage{ID: *m.MessageID, PopReceipt: *m.PopReceipt}
		if m.MessageText != nil {
			msg.Text = *m.MessageText
		}
		out = append(out, msg)
	}
	return out, nil
}

func (q *AzureQueue) Delete(ctx context.Context, msg QueueMessage) error {
	_, err := q.client.DeleteMessage(ctx, msg.ID, msg.PopReceipt, nil)
	return err
}

// Enqueue puts env on the queue in wire form.
func (q *AzureQueue) Enqueue(ctx context.Context, env domain.Envelope) error {
	data, err := encodeEvent(env)
	if err != nil {
		return err
	}
	_, err = q.client.EnqueueMessage(ctx, string(data), nil)
	return err
}

// ConsumeQueue drains task event frames from q and hands each valid one to
// publish. Every received message is deleted, including ones that fail to
// parse, so a bad message cannot block the queue.
func ConsumeQueue(
	ctx context.Context,
	logger *log.Logger,
	q Queue,
	interval time.Duration,
	publish func(domain.Envelope),
) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if interval <= 0 {
		interval = time.Second
	}
	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := q.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WithError(err).Error("receive task events")
		}
		if len(msgs) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
			continue
		}
		for _, msg := range msgs {
			env, err := decodeEvent([]byte(msg.Text))
			if err != nil {
				logger.WithError(err).WithField("message", msg.ID).Warn("discarding unparseable task event")
			} else {
				publish(env)
			}
			if err := q.Delete(ctx, msg); err != nil {
				logger.WithError(err).WithField("message", msg.ID).Error("delete task event")
			}
		}
	}
}
