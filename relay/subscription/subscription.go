// Package subscription fans relay events out between relay instances over
// Redis pub/sub.
package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// DefaultChannel is the pub/sub channel relay instances share.
const DefaultChannel = "relay-events"

var reconnectDelay = time.Second

type message struct {
	Origin string                 `json:"origin"`
	Frame  sonic.NoCopyRawMessage `json:"frame"`
}

// Publisher publishes frames handled by this instance.
type Publisher struct {
	rc      *redis.Client
	channel string
	origin  string
}

// NewPublisher creates a publisher tagging messages with origin, the id of
// this relay instance.
func NewPublisher(rc *redis.Client, channel, origin string) *Publisher {
	return &Publisher{rc: rc, channel: channel, origin: origin}
}

func (p *Publisher) Publish(ctx context.Context, frame []byte) error {
	data, err := sonic.ConfigStd.Marshal(message{Origin: p.origin, Frame: frame})
	if err != nil {
		return err
	}
	return p.rc.Publish(ctx, p.channel, data).Err()
}

// SubscribeUpdates listens for frames published by other relay instances and
// hands them to deliver. Messages from origin itself are skipped.
func SubscribeUpdates(
	ctx context.Context,
	logger *log.Logger,
	rc *redis.Client,
	channel string,
	origin string,
	deliver func(ctx context.Context, frame []byte) error,
) {
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
				var m message
				if err := sonic.ConfigStd.Unmarshal([]byte(msg.Payload), &m); err != nil {
					logger.WithError(err).Error("unable to parse relayed event")
					continue
				}
				if m.Origin == origin {
					continue
				}
				if len(m.Frame) == 0 {
					logger.WithError(errors.New("empty frame")).Error("unable to parse relayed event")
					continue
				}
				if err := deliver(ctx, m.Frame); err != nil {
					logger.WithError(err).WithField("origin", m.Origin).Warn("failed to deliver relayed event")
				}
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}
