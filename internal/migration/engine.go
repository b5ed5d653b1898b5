// Package migration upgrades stored documents of older envelope versions to
// schema.CurrentVersion.
package migration

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/at-ishikawa/playtrack/internal/log"
	"github.com/at-ishikawa/playtrack/internal/metrics"
	"github.com/at-ishikawa/playtrack/internal/schema"
)

// ErrUnsupportedVersion is returned for documents written by a newer build.
var ErrUnsupportedVersion = errors.New("unsupported document version")

// ExhaustedError reports a document that still failed validation after all
// migrations ran. It is returned together with a fresh default envelope.
type ExhaustedError struct {
	From  int
	Cause error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("migration from version %d exhausted: %v", e.From, e.Cause)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Cause
}

// Func transforms a document at version N-1 into version N. It receives a
// private copy and may modify it in place.
type Func func(doc schema.Document) (schema.Document, error)

// Engine applies the registered migrations in increasing version order.
type Engine struct {
	validator  *schema.Validator
	migrations map[int]Func
	logger     zerolog.Logger
}

type Option func(*Engine)

// WithMigrations replaces the registered migrations.
func WithMigrations(migrations map[int]Func) Option {
	return func(e *Engine) {
		e.migrations = migrations
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func NewEngine(validator *schema.Validator, opts ...Option) *Engine {
	e := &Engine{
		validator:  validator,
		migrations: Migrations,
		logger:     log.WithComponent("migration"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Upgrade turns an untyped document of any supported version into a valid
// current envelope. The input is never modified.
//
// A document already at the current version is only validated. A document
// from a newer build returns ErrUnsupportedVersion. When a migrated document
// is still invalid, Upgrade returns schema.NewEnvelope() and *ExhaustedError.
func (e *Engine) Upgrade(doc schema.Document) (schema.Envelope, error) {
	from, err := schema.Version(doc)
	if err != nil {
		return schema.Envelope{}, &schema.ValidationError{Problems: []string{err.Error()}}
	}
	if from > schema.CurrentVersion {
		return schema.Envelope{}, fmt.Errorf("%w: document is version %d, this build supports up to %d",
			ErrUnsupportedVersion, from, schema.CurrentVersion)
	}
	if from == schema.CurrentVersion {
		return e.validator.Validate(doc)
	}

	migrated, err := e.apply(doc, from)
	if err != nil {
		return e.exhausted(from, err)
	}
	env, err := e.validator.Validate(migrated)
	if err != nil {
		return e.exhausted(from, err)
	}
	e.logger.Info().
		Int("from", from).
		Int("to", schema.CurrentVersion).
		Ints("applied", e.Pending(from)).
		Msg("migrated document")
	return env, nil
}

// Pending lists the versions whose migrations would run for a document at
// version from.
func (e *Engine) Pending(from int) []int {
	var versions []int
	for v := range e.migrations {
		if v > from && v <= schema.CurrentVersion {
			versions = append(versions, v)
		}
	}
	sort.Ints(versions)
	return versions
}

func (e *Engine) apply(doc schema.Document, from int) (schema.Document, error) {
	current := schema.CloneDocument(doc).(map[string]any)
	for version := from + 1; version <= schema.CurrentVersion; version++ {
		if migrate, ok := e.migrations[version]; ok {
			next, err := migrate(current)
			if err != nil {
				return nil, fmt.Errorf("migration to version %d: %w", version, err)
			}
			if next == nil {
				return nil, fmt.Errorf("migration to version %d returned no document", version)
			}
			current = next
		}
		current["version"] = float64(version)
	}
	return current, nil
}

func (e *Engine) exhausted(from int, cause error) (schema.Envelope, error) {
	metrics.MigrationsExhaustedTotal.Inc()
	e.logger.Warn().Err(cause).Int("from", from).
		Msg("MIGRATED DOCUMENT IS STILL INVALID, DISCARDING IT AND STARTING FROM DEFAULTS")
	return schema.NewEnvelope(), &ExhaustedError{From: from, Cause: cause}
}
