// Package tracker records which seconds of a video were watched during a
// viewing session and turns them into stored progress.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/at-ishikawa/playtrack/internal/log"
	"github.com/at-ishikawa/playtrack/internal/metrics"
	"github.com/at-ishikawa/playtrack/internal/schema"
)

const (
	DefaultTick     = time.Second
	DefaultAutosave = 5 * time.Second
)

var (
	ErrUnknownVideo  = errors.New("unknown video")
	ErrSessionClosed = errors.New("session is closed")
)

// Store is the part of the state store a session needs.
type Store interface {
	Progress(ctx context.Context, videoID string) (schema.Progress, bool, error)
	Video(ctx context.Context, videoID string) (schema.Video, bool, error)
	UpsertProgress(ctx context.Context, progress schema.Progress) error
	UpsertProgressDeferred(ctx context.Context, progress schema.Progress) error
	Flush(ctx context.Context) error
}

// PlaybackSource reports the playhead. Run stops when it returns io.EOF.
type PlaybackSource interface {
	Playback(ctx context.Context) (position float64, playing bool, err error)
}

// PlaybackFunc adapts a function to PlaybackSource.
type PlaybackFunc func(ctx context.Context) (float64, bool, error)

func (f PlaybackFunc) Playback(ctx context.Context) (float64, bool, error) {
	return f(ctx)
}

// Session tracks one video during one viewing session. It is safe for
// concurrent use.
type Session struct {
	store      Store
	videoID    string
	duration   int
	tick       time.Duration
	autosave   time.Duration
	threshold  float64
	resume     ResumePolicy
	now        func() time.Time
	onComplete func(schema.Progress)
	logger     zerolog.Logger

	mu           sync.Mutex
	intervals    []Interval
	lastPosition int
	position     float64
	prevSecond   int
	playing      bool
	lastSave     time.Time
	closed       bool
}

type Option func(*Session)

func WithTick(d time.Duration) Option {
	return func(s *Session) {
		s.tick = d
	}
}

func WithAutosave(d time.Duration) Option {
	return func(s *Session) {
		s.autosave = d
	}
}

// WithCompletionThreshold sets the completion at which a video counts as done.
func WithCompletionThreshold(threshold float64) Option {
	return func(s *Session) {
		s.threshold = threshold
	}
}

// WithResumePolicy sets where a new session assumes playback starts.
func WithResumePolicy(policy ResumePolicy) Option {
	return func(s *Session) {
		s.resume = policy
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// OnComplete is called once when the video crosses the completion threshold.
// fn runs with the session locked and must not call back into it.
func OnComplete(fn func(schema.Progress)) Option {
	return func(s *Session) {
		s.onComplete = fn
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// NewSession starts tracking a stored video. Playback is assumed to start at
// the resume position of the stored progress.
func NewSession(ctx context.Context, store Store, videoID string, opts ...Option) (*Session, error) {
	video, ok, err := store.Video(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("load video %s: %w", videoID, err)
	}
	if !ok {
		return nil, fmt.Errorf("video %s: %w", videoID, ErrUnknownVideo)
	}
	progress, _, err := store.Progress(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("load progress %s: %w", videoID, err)
	}

	s := &Session{
		store:      store,
		videoID:    videoID,
		duration:   video.DurationSeconds,
		tick:       DefaultTick,
		autosave:   DefaultAutosave,
		threshold:  schema.CompletedThreshold,
		resume:     DefaultResumePolicy,
		now:        time.Now,
		onComplete: func(schema.Progress) {},
		logger:     log.WithComponent("tracker"),
		prevSecond: -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("video_id", videoID).Logger()

	start := s.resume.ResumeTime(progress)
	s.position = start
	s.lastPosition = int(start)
	s.lastSave = s.now()
	if s.duration == 0 {
		s.logger.Debug().Msg("video has no duration, tracking disabled")
	}
	return s, nil
}

func (s *Session) VideoID() string {
	return s.videoID
}

// Intervals returns the merged watched intervals of this session.
func (s *Session) Intervals() []Interval {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Interval(nil), s.intervals...)
}

// WatchedSeconds is the coverage of this session alone.
func (s *Session) WatchedSeconds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return TotalLength(s.intervals)
}

// Sample records one playhead observation.
func (s *Session) Sample(ctx context.Context, position float64, playing bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.duration == 0 {
		return nil
	}
	// players report NaN before metadata has loaded
	if math.IsNaN(position) || math.IsInf(position, 0) {
		return nil
	}

	position = s.clamp(position)
	second := int(math.Floor(position))
	if playing && second != s.prevSecond && second < s.duration {
		s.addLocked(Interval{Start: second, End: second + 1})
	}
	s.prevSecond = second
	s.position = position
	s.lastPosition = second

	wasPlaying := s.playing
	s.playing = playing
	switch {
	case wasPlaying && !playing:
		if err := s.saveLocked(ctx); err != nil {
			return err
		}
		return s.store.Flush(ctx)
	case playing && s.now().Sub(s.lastSave) >= s.autosave:
		return s.saveLocked(ctx)
	}
	return nil
}

// Checkpoint closes the interval from the last playhead position to t and
// saves. A t before the last position is a rewind and still counts.
func (s *Session) Checkpoint(ctx context.Context, t int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.duration == 0 {
		return nil
	}

	t = int(s.clamp(float64(t)))
	s.addLocked(Interval{Start: s.lastPosition, End: t})
	s.lastPosition = t
	s.position = float64(t)
	s.prevSecond = t
	return s.saveLocked(ctx)
}

// Save writes the merged progress through the deferred write path.
func (s *Session) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.duration == 0 {
		return nil
	}
	return s.saveLocked(ctx)
}

// Reset forgets this session's intervals and stores zeroed progress.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.duration == 0 {
		return nil
	}

	s.intervals = nil
	s.lastPosition = 0
	s.position = 0
	s.prevSecond = -1
	s.lastSave = s.now()
	progress := schema.Progress{
		VideoID:       s.videoID,
		LastWatchedAt: s.timestamp(),
	}
	if err := s.store.UpsertProgress(ctx, progress); err != nil {
		return fmt.Errorf("reset progress %s: %w", s.videoID, err)
	}
	s.logger.Info().Msg("progress reset")
	return nil
}

// Close saves one last time and flushes deferred writes. It is idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.duration == 0 {
		return nil
	}
	if err := s.saveLocked(ctx); err != nil {
		return err
	}
	return s.store.Flush(ctx)
}

// Run samples source on every tick until ctx ends or the source reports
// io.EOF, then closes the session.
func (s *Session) Run(ctx context.Context, source PlaybackSource) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	closeCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return s.Close(closeCtx)
		case <-ticker.C:
			position, playing, err := source.Playback(ctx)
			if errors.Is(err, io.EOF) {
				return s.Close(closeCtx)
			}
			if err != nil {
				return errors.Join(fmt.Errorf("read playback: %w", err), s.Close(closeCtx))
			}
			if err := s.Sample(ctx, position, playing); err != nil {
				s.logger.Warn().Err(err).Msg("could not record sample")
			}
		}
	}
}

func (s *Session) addLocked(in Interval) {
	s.intervals = Merge(append(s.intervals, in))
}

func (s *Session) clamp(position float64) float64 {
	return math.Max(0, math.Min(position, float64(s.duration)))
}

func (s *Session) saveLocked(ctx context.Context) error {
	stored, _, err := s.store.Progress(ctx, s.videoID)
	if err != nil {
		return fmt.Errorf("load progress %s: %w", s.videoID, err)
	}

	watched := max(TotalLength(s.intervals), stored.WatchedSeconds)
	completion := math.Min(float64(watched)/float64(s.duration), 1)
	completion = math.Max(completion, stored.Completion)

	next := schema.Progress{
		VideoID:             s.videoID,
		WatchedSeconds:      watched,
		LastPositionSeconds: s.position,
		Completion:          completion,
		LastWatchedAt:       s.timestamp(),
		CompletedAt:         stored.CompletedAt,
	}
	crossed := stored.Completion < s.threshold && completion >= s.threshold
	if crossed {
		at := next.LastWatchedAt
		next.CompletedAt = &at
	}

	if err := s.store.UpsertProgressDeferred(ctx, next); err != nil {
		return fmt.Errorf("save progress %s: %w", s.videoID, err)
	}
	s.lastSave = s.now()

	if crossed {
		metrics.CompletionsTotal.Inc()
		s.logger.Info().Float64("completion", completion).Msg("video completed")
		s.onComplete(next)
	}
	return nil
}

func (s *Session) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}
