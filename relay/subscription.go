package relay

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-live/domain"
)

// SubscribeUpdates listens for task event frames on a Redis channel and
// hands each valid one to publish. The subscription is re-established when
// the channel closes, until ctx is done.
func SubscribeUpdates(
	ctx context.Context,
	logger *log.Logger,
	rc *redis.Client,
	channel string,
	publish func(domain.Envelope),
) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	for {
		sub := rc.Subscribe(ctx, channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				env, err := decodeEvent([]byte(msg.Payload))
				if err != nil {
					logger.WithError(err).WithField("channel", channel).Error("unable to parse task event")
					continue
				}
				publish(env)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.WithField("channel", channel).Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// PublishUpdate sends env on a Redis channel in wire form.
func PublishUpdate(ctx context.Context, rc *redis.Client, channel string, env domain.Envelope) error {
	data, err := encodeEvent(env)
	if err != nil {
		return err
	}
	return rc.Publish(ctx, channel, data).Err()
}
