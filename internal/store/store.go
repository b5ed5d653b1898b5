// Package store owns the canonical envelope. Every read goes through the
// in-memory cache, every write through validation and the durable medium,
// and every durable write is announced on the change channel.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/at-ishikawa/playtrack/internal/channel"
	"github.com/at-ishikawa/playtrack/internal/log"
	"github.com/at-ishikawa/playtrack/internal/metrics"
	"github.com/at-ishikawa/playtrack/internal/migration"
	"github.com/at-ishikawa/playtrack/internal/scheduler"
	"github.com/at-ishikawa/playtrack/internal/schema"
	"github.com/at-ishikawa/playtrack/internal/storage"
)

// DefaultKey is the storage key of the envelope.
const DefaultKey = "playtrack-state"

type Store struct {
	medium    storage.Medium
	channel   channel.Channel
	validator *schema.Validator
	engine    *migration.Engine
	writer    *scheduler.CoalescingWriter
	key       string
	origin    string
	debounce  time.Duration
	logger    zerolog.Logger

	// writeMu serializes loads and mutations. mu guards cache and persisted
	// so readers never wait for the durable medium.
	writeMu   sync.Mutex
	mu        sync.RWMutex
	cache     *schema.Envelope
	persisted []byte

	listenersMu sync.RWMutex
	listeners   []func(channel.Change)

	watchMu     sync.Mutex
	watchCancel context.CancelFunc
	watchDone   chan struct{}
}

type Option func(*Store)

func WithKey(key string) Option {
	return func(s *Store) {
		s.key = key
	}
}

// WithOrigin names this store on the change channel. Defaults to a random id.
func WithOrigin(origin string) Option {
	return func(s *Store) {
		s.origin = origin
	}
}

// WithDebounce sets the window of the deferred write path.
func WithDebounce(window time.Duration) Option {
	return func(s *Store) {
		s.debounce = window
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a store on top of a durable medium. A nil channel keeps
// notifications inside the process.
func New(medium storage.Medium, ch channel.Channel, opts ...Option) (*Store, error) {
	validator, err := schema.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("create validator: %w", err)
	}
	if ch == nil {
		ch = channel.NewMemory()
	}

	s := &Store{
		medium:    medium,
		channel:   ch,
		validator: validator,
		key:       DefaultKey,
		origin:    uuid.NewString(),
		debounce:  scheduler.DefaultWindow,
		logger:    log.WithComponent("store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = migration.NewEngine(validator, migration.WithLogger(s.logger))
	s.writer = scheduler.NewCoalescingWriter(s.debounce, s.Save, scheduler.WithLogger(s.logger))
	return s, nil
}

func (s *Store) Key() string {
	return s.key
}

func (s *Store) Origin() string {
	return s.origin
}

// Init loads the envelope eagerly.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.Get(ctx)
	return err
}

// Get returns a deep copy of the current envelope, loading it from the
// medium on first use.
func (s *Store) Get(ctx context.Context) (schema.Envelope, error) {
	s.mu.RLock()
	if s.cache != nil {
		env := s.cache.Clone()
		s.mu.RUnlock()
		return env, nil
	}
	s.mu.RUnlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	env, err := s.currentLocked(ctx)
	if err != nil {
		return schema.Envelope{}, err
	}
	return env.Clone(), nil
}

// Set shallow-merges partial into the current envelope, validates the
// result and persists it before it becomes visible.
func (s *Store) Set(ctx context.Context, partial schema.Partial) error {
	return s.set(ctx, partial, false)
}

// SetDeferred is Set with the durable write left to the coalescing writer.
// The new envelope is visible immediately.
func (s *Store) SetDeferred(ctx context.Context, partial schema.Partial) error {
	return s.set(ctx, partial, true)
}

// Update applies fn to a copy of the envelope and takes over only the named
// slice of the result.
func (s *Store) Update(ctx context.Context, slice schema.Slice, fn func(*schema.Envelope) error) error {
	return s.mutate(ctx, false, fn, slice)
}

// UpdateDeferred is Update with the durable write left to the coalescing writer.
func (s *Store) UpdateDeferred(ctx context.Context, slice schema.Slice, fn func(*schema.Envelope) error) error {
	return s.mutate(ctx, true, fn, slice)
}

// Flush writes any deferred change synchronously.
func (s *Store) Flush(ctx context.Context) error {
	return s.writer.FlushNow(ctx)
}

// Save writes the current cache if it differs from what was last persisted.
func (s *Store) Save(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	cached := s.cache
	s.mu.RUnlock()
	if cached == nil {
		return nil
	}
	return s.commitLocked(ctx, *cached)
}

// Clear removes the stored document. The next Get starts from a fresh
// default envelope.
func (s *Store) Clear(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.medium.Remove(ctx, s.key); err != nil && !errors.Is(err, storage.ErrNotFound) {
		metrics.IncStoreWrite("error")
		return &StorageError{Op: "remove", Key: s.key, Err: err}
	}

	s.mu.Lock()
	old := s.persisted
	s.cache = nil
	s.persisted = nil
	s.mu.Unlock()

	if old != nil {
		s.publish(ctx, old, nil)
	}
	s.logger.Info().Str("key", s.key).Msg("cleared stored state")
	return nil
}

// OnExternalChange registers fn for changes made by other contexts. It is
// called after the cache has been invalidated.
func (s *Store) OnExternalChange(fn func(channel.Change)) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Watch subscribes to the change channel until ctx ends or the store is
// closed. It returns once the subscription is active.
func (s *Store) Watch(ctx context.Context) error {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.watchCancel != nil {
		return errors.New("store is already watching")
	}

	sub, err := s.channel.Subscribe(ctx, s.origin)
	if err != nil {
		return fmt.Errorf("subscribe to changes: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.watchCancel = cancel
	s.watchDone = done

	go func() {
		defer close(done)
		defer sub.Close()
		for {
			select {
			case <-watchCtx.Done():
				return
			case change, ok := <-sub.C():
				if !ok {
					return
				}
				s.handleExternal(change)
			}
		}
	}()
	return nil
}

// Close stops watching and flushes deferred writes.
func (s *Store) Close(ctx context.Context) error {
	s.watchMu.Lock()
	if s.watchCancel != nil {
		s.watchCancel()
		<-s.watchDone
		s.watchCancel = nil
	}
	s.watchMu.Unlock()

	return s.writer.Close(ctx)
}

func (s *Store) handleExternal(change channel.Change) {
	if change.Key != s.key || change.Origin == s.origin {
		return
	}

	s.mu.Lock()
	if s.cache != nil && bytes.Equal(s.persisted, []byte(change.NewValue)) {
		s.mu.Unlock()
		return
	}
	s.cache = nil
	s.persisted = nil
	s.mu.Unlock()

	event := s.logger.Info().Str("origin", change.Origin).Bool("removed", change.Removed())
	if s.writer.Pending() {
		event = event.Bool("discarded_pending_write", true)
	}
	event.Msg("state changed elsewhere, cache invalidated")

	s.listenersMu.RLock()
	listeners := slices.Clone(s.listeners)
	s.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(change)
	}
}

func (s *Store) set(ctx context.Context, partial schema.Partial, deferred bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, err := s.currentLocked(ctx)
	if err != nil {
		return err
	}
	return s.acceptLocked(ctx, partial.Apply(current.Clone()), deferred)
}

func (s *Store) mutate(ctx context.Context, deferred bool, fn func(*schema.Envelope) error, names ...schema.Slice) error {
	for _, slice := range names {
		if !slice.Valid() {
			return fmt.Errorf("unknown slice %q", slice)
		}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, err := s.currentLocked(ctx)
	if err != nil {
		return err
	}
	work := current.Clone()
	if err := fn(&work); err != nil {
		return err
	}
	next := current.Clone()
	for _, slice := range names {
		slice.Copy(&next, work)
	}
	return s.acceptLocked(ctx, next, deferred)
}

func (s *Store) acceptLocked(ctx context.Context, next schema.Envelope, deferred bool) error {
	validated, err := s.validator.ValidateEnvelope(next)
	if err != nil {
		metrics.ValidationFailuresTotal.Inc()
		return err
	}
	if !deferred {
		return s.commitLocked(ctx, validated)
	}

	s.mu.Lock()
	s.cache = &validated
	s.mu.Unlock()
	s.writer.Schedule()
	return nil
}

// commitLocked persists env and then makes it the cache. Nothing changes
// when the write fails.
func (s *Store) commitLocked(ctx context.Context, env schema.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	s.mu.RLock()
	old := s.persisted
	s.mu.RUnlock()
	if bytes.Equal(old, data) {
		s.mu.Lock()
		s.cache = &env
		s.mu.Unlock()
		return nil
	}

	if err := s.medium.Set(ctx, s.key, data); err != nil {
		metrics.IncStoreWrite("error")
		s.logger.Error().Err(err).Str("key", s.key).Msg("durable write failed")
		return &StorageError{Op: "write", Key: s.key, Err: err}
	}
	metrics.IncStoreWrite("ok")

	s.mu.Lock()
	s.cache = &env
	s.persisted = data
	s.mu.Unlock()

	s.publish(ctx, old, data)
	return nil
}

func (s *Store) publish(ctx context.Context, old, data []byte) {
	change := channel.Change{
		Key:      s.key,
		NewValue: string(data),
		OldValue: string(old),
		Origin:   s.origin,
	}
	if err := s.channel.Publish(ctx, change); err != nil {
		s.logger.Warn().Err(err).Str("key", s.key).Msg("change notification not delivered")
	}
}

func (s *Store) currentLocked(ctx context.Context) (schema.Envelope, error) {
	s.mu.RLock()
	cached := s.cache
	s.mu.RUnlock()
	if cached != nil {
		return *cached, nil
	}
	return s.loadLocked(ctx)
}

// loadLocked reads, migrates and validates the stored document. Only a
// document from a newer build is an error; anything else unusable is
// replaced by a default envelope.
func (s *Store) loadLocked(ctx context.Context) (schema.Envelope, error) {
	raw, found, err := s.medium.Get(ctx, s.key)
	if err != nil {
		// The unreadable document is left alone; the next write replaces it.
		s.logger.Warn().Err(err).Str("key", s.key).Msg("could not read stored state, starting from defaults")
		metrics.IncStoreLoad("recovered")
		env := schema.NewEnvelope()
		s.mu.Lock()
		s.cache = &env
		s.persisted = nil
		s.mu.Unlock()
		return env, nil
	}
	if !found {
		return s.adoptLocked(ctx, schema.NewEnvelope(), nil, "fresh")
	}

	doc, err := schema.ParseDocument(raw)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", s.key).Msg("stored state is not a JSON object, starting from defaults")
		return s.adoptLocked(ctx, schema.NewEnvelope(), raw, "recovered")
	}

	version, _ := schema.Version(doc)
	env, err := s.engine.Upgrade(doc)
	var exhausted *migration.ExhaustedError
	switch {
	case errors.Is(err, migration.ErrUnsupportedVersion):
		s.logger.Error().Err(err).Str("key", s.key).Msg("stored state was written by a newer version")
		return schema.Envelope{}, err
	case errors.As(err, &exhausted):
		return s.adoptLocked(ctx, env, raw, "recovered")
	case err != nil:
		s.logger.Warn().Err(err).Str("key", s.key).Msg("stored state is invalid, starting from defaults")
		return s.adoptLocked(ctx, schema.NewEnvelope(), raw, "recovered")
	case version < schema.CurrentVersion:
		return s.adoptLocked(ctx, env, raw, "migrated")
	}

	metrics.IncStoreLoad("current")
	s.mu.Lock()
	s.cache = &env
	s.persisted = raw
	s.mu.Unlock()
	return env, nil
}

// adoptLocked persists an envelope produced while loading. A failed write is
// logged and the envelope is still used.
func (s *Store) adoptLocked(ctx context.Context, env schema.Envelope, previous []byte, result string) (schema.Envelope, error) {
	metrics.IncStoreLoad(result)

	s.mu.Lock()
	s.persisted = previous
	s.mu.Unlock()

	if err := s.commitLocked(ctx, env); err != nil {
		s.logger.Warn().Err(err).Str("result", result).Msg("could not persist loaded state")
		s.mu.Lock()
		s.cache = &env
		s.mu.Unlock()
	}
	return env, nil
}
