package channel

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/at-ishikawa/playtrack/internal/log"
	"github.com/at-ishikawa/playtrack/internal/metrics"
)

// Memory fans changes out to subscribers in the same process. Delivery never
// blocks: a subscriber whose buffer is full misses the change and has to
// reload the state itself.
type Memory struct {
	mu     sync.RWMutex
	subs   map[*memorySub]struct{}
	logger zerolog.Logger
}

func NewMemory() *Memory {
	return &Memory{
		subs:   make(map[*memorySub]struct{}),
		logger: log.WithComponent("channel"),
	}
}

func (m *Memory) Publish(ctx context.Context, change Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	subs := make([]*memorySub, 0, len(m.subs))
	for s := range m.subs {
		if s.origin != change.Origin {
			subs = append(subs, s)
		}
	}
	m.mu.RUnlock()

	metrics.IncNotification("published")
	for _, s := range subs {
		if !s.deliver(change) {
			metrics.IncNotification("dropped")
			m.logger.Warn().
				Str("key", change.Key).
				Str("origin", change.Origin).
				Str("subscriber", s.origin).
				Msg("subscriber is full, change notification dropped")
		}
	}
	return nil
}

func (m *Memory) Subscribe(_ context.Context, origin string) (Subscription, error) {
	s := &memorySub{
		m:      m,
		origin: origin,
		ch:     make(chan Change, subscriptionBuffer),
	}
	m.mu.Lock()
	m.subs[s] = struct{}{}
	m.mu.Unlock()
	return s, nil
}

type memorySub struct {
	m      *Memory
	origin string

	mu     sync.RWMutex
	closed bool
	ch     chan Change
}

// deliver reports false when the buffer is full.
func (s *memorySub) deliver(change Change) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- change:
		metrics.IncNotification("delivered")
		return true
	default:
		return false
	}
}

func (s *memorySub) C() <-chan Change {
	return s.ch
}

func (s *memorySub) Close() error {
	s.m.mu.Lock()
	delete(s.m.subs, s)
	s.m.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

var _ Channel = (*Memory)(nil)
