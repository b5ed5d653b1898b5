package migration

import (
	"errors"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/at-ishikawa/playtrack/internal/log"
	"github.com/at-ishikawa/playtrack/internal/metrics"
	"github.com/at-ishikawa/playtrack/internal/schema"
)

func newTestEngine(opts ...Option) *Engine {
	opts = append([]Option{WithLogger(log.Nop())}, opts...)
	return NewEngine(schema.MustNewValidator(), opts...)
}

// currentDocument is a default envelope in the untyped form read from storage.
func currentDocument(t *testing.T) schema.Document {
	t.Helper()
	doc, err := schema.ToDocument(schema.NewEnvelope())
	require.NoError(t, err)
	return doc
}

func exhaustedCount(t *testing.T) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, metrics.MigrationsExhaustedTotal.Write(&m))
	return m.GetCounter().GetValue()
}

func TestEngine_Upgrade_AllOlderVersionsReachCurrent(t *testing.T) {
	tests := []struct {
		name string
		doc  schema.Document
	}{
		{name: "empty legacy document", doc: schema.Document{}},
		{name: "explicit version 0", doc: schema.Document{"version": float64(0), "progress": map[string]any{}}},
		{name: "version 1 without notes", doc: schema.Document{"version": float64(1), "playlists": map[string]any{}}},
		{name: "version 2 with null slices", doc: schema.Document{"version": float64(2), "notes": nil, "settings": nil}},
		{
			name: "legacy progress fields",
			doc: schema.Document{
				"progress": map[string]any{
					"v1": map[string]any{"watched": float64(30), "position": float64(31), "percent": float64(15)},
				},
			},
		},
	}

	engine := newTestEngine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := engine.Upgrade(tt.doc)
			require.NoError(t, err)
			assert.Equal(t, schema.CurrentVersion, env.Version)

			_, err = schema.MustNewValidator().ValidateEnvelope(env)
			assert.NoError(t, err)
		})
	}
}

func TestEngine_Upgrade_LegacyProgress(t *testing.T) {
	doc := schema.Document{
		"videos": map[string]any{
			"v1": map[string]any{"id": "v1", "playlistId": "p1", "channelTitle": "gophers", "durationSec": float64(200), "position": float64(0)},
		},
		"progress": map[string]any{
			"v1": map[string]any{"watched": float64(120), "position": float64(118.5), "percent": float64(60)},
		},
	}

	env, err := newTestEngine().Upgrade(doc)
	require.NoError(t, err)

	assert.Equal(t, schema.Progress{
		VideoID:             "v1",
		WatchedSeconds:      120,
		LastPositionSeconds: 118.5,
		Completion:          0.6,
	}, env.Progress["v1"])
	assert.Equal(t, "gophers", env.Videos["v1"].Channel)
	assert.Equal(t, 200, env.Videos["v1"].DurationSeconds)

	// the caller's document is untouched
	legacy := doc["progress"].(map[string]any)["v1"].(map[string]any)
	assert.Equal(t, float64(60), legacy["percent"])
}

func TestEngine_Upgrade_NoteMarkers(t *testing.T) {
	doc := schema.Document{
		"version": float64(2),
		"notes": map[string]any{
			"n1": map[string]any{
				"id": "n1", "videoId": "v1", "content": "x",
				"timestamps": []any{float64(30), float64(10), float64(10)},
			},
		},
	}

	env, err := newTestEngine().Upgrade(doc)
	require.NoError(t, err)
	assert.Equal(t, []schema.Timestamp{{Seconds: 10}, {Seconds: 30}}, env.Notes["n1"].Timestamps)
}

func TestEngine_Upgrade_OrderAndSkips(t *testing.T) {
	var calls []int
	record := func(version int) Func {
		return func(doc schema.Document) (schema.Document, error) {
			calls = append(calls, version)
			// each step sees the version stamped by the previous one
			got, err := schema.Version(doc)
			if err != nil {
				return nil, err
			}
			if got != version-1 {
				return nil, errors.New("out of order")
			}
			return doc, nil
		}
	}

	engine := newTestEngine(WithMigrations(map[int]Func{
		1: record(1),
		3: record(3),
	}))

	env, err := engine.Upgrade(schema.Document{"version": float64(0)})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, calls)
	assert.Equal(t, schema.CurrentVersion, env.Version)

	calls = nil
	_, err = engine.Upgrade(schema.Document{"version": float64(2)})
	require.NoError(t, err)
	assert.Equal(t, []int{3}, calls)

	calls = nil
	_, err = engine.Upgrade(currentDocument(t))
	require.NoError(t, err)
	assert.Empty(t, calls)
}

func TestEngine_Upgrade_UnsupportedVersion(t *testing.T) {
	_, err := newTestEngine().Upgrade(schema.Document{"version": float64(schema.CurrentVersion + 1)})
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestEngine_Upgrade_Exhausted(t *testing.T) {
	tests := []struct {
		name       string
		migrations map[int]Func
		doc        schema.Document
	}{
		{
			name: "migrated document out of bounds",
			doc: schema.Document{
				"progress": map[string]any{
					"v1": map[string]any{"percent": float64(150)},
				},
			},
		},
		{
			name: "migration function fails",
			migrations: map[int]Func{
				1: func(schema.Document) (schema.Document, error) { return nil, errors.New("boom") },
			},
			doc: schema.Document{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []Option
			if tt.migrations != nil {
				opts = append(opts, WithMigrations(tt.migrations))
			}
			before := exhaustedCount(t)

			env, err := newTestEngine(opts...).Upgrade(tt.doc)

			var exhausted *ExhaustedError
			require.ErrorAs(t, err, &exhausted)
			assert.Equal(t, 0, exhausted.From)
			assert.Equal(t, schema.NewEnvelope(), env)
			assert.Equal(t, before+1, exhaustedCount(t))
		})
	}
}

func TestEngine_Upgrade_CurrentVersionInvalid(t *testing.T) {
	doc := currentDocument(t)
	doc["settings"] = map[string]any{"playbackRate": float64(9)}

	_, err := newTestEngine().Upgrade(doc)

	var verr *schema.ValidationError
	require.ErrorAs(t, err, &verr)
	var exhausted *ExhaustedError
	assert.False(t, errors.As(err, &exhausted))
}

func TestEngine_Pending(t *testing.T) {
	engine := newTestEngine()
	assert.Equal(t, []int{1, 3}, engine.Pending(0))
	assert.Equal(t, []int{3}, engine.Pending(1))
	assert.Empty(t, engine.Pending(schema.CurrentVersion))
}
