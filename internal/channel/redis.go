package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/at-ishikawa/playtrack/internal/log"
	"github.com/at-ishikawa/playtrack/internal/metrics"
)

// DefaultRedisChannel is the pub/sub channel used when none is configured.
const DefaultRedisChannel = "playtrack:changes"

// Redis carries changes over Redis pub/sub between processes on any host
// sharing the same Redis medium.
type Redis struct {
	client  *redis.Client
	channel string
	logger  zerolog.Logger
}

func NewRedis(client *redis.Client, channel string) *Redis {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &Redis{
		client:  client,
		channel: channel,
		logger:  log.WithComponent("channel.redis"),
	}
}

func (r *Redis) Publish(ctx context.Context, change Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		metrics.IncNotification("dropped")
		return fmt.Errorf("publish %s: %w", change.Key, err)
	}
	metrics.IncNotification("published")
	return nil
}

// Subscribe returns once Redis has confirmed the subscription.
func (r *Redis) Subscribe(ctx context.Context, origin string) (Subscription, error) {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	s := &redisSub{
		pubsub: pubsub,
		out:    make(chan Change, subscriptionBuffer),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.forward(origin, r.logger)
	return s, nil
}

type redisSub struct {
	pubsub    *redis.PubSub
	out       chan Change
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func (s *redisSub) forward(origin string, logger zerolog.Logger) {
	defer s.wg.Done()
	defer close(s.out)

	for msg := range s.pubsub.Channel() {
		var change Change
		if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
			logger.Warn().Err(err).Msg("ignoring malformed change notification")
			continue
		}
		if change.Origin == origin {
			continue
		}
		select {
		case s.out <- change:
			metrics.IncNotification("received")
		case <-s.done:
			return
		}
	}
}

func (s *redisSub) C() <-chan Change {
	return s.out
}

func (s *redisSub) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
		s.wg.Wait()
	})
	return err
}

var _ Channel = (*Redis)(nil)
