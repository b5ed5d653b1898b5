package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/at-ishikawa/playtrack/internal/channel"
	"github.com/at-ishikawa/playtrack/internal/log"
	"github.com/at-ishikawa/playtrack/internal/migration"
	mock_storage "github.com/at-ishikawa/playtrack/internal/mocks/storage"
	"github.com/at-ishikawa/playtrack/internal/schema"
	"github.com/at-ishikawa/playtrack/internal/storage"
)

func newTestStore(t *testing.T, medium storage.Medium, ch channel.Channel, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithLogger(log.Nop())}, opts...)
	s, err := New(medium, ch, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close(context.Background())
	})
	return s
}

func storedEnvelope(t *testing.T, medium storage.Medium) schema.Envelope {
	t.Helper()
	raw, found, err := medium.Get(context.Background(), DefaultKey)
	require.NoError(t, err)
	require.True(t, found, "nothing stored under %s", DefaultKey)
	var env schema.Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func samplePlaylist() (schema.Playlist, []schema.Video) {
	return schema.Playlist{ID: "p1", Title: "Go basics", Channel: "gophers"},
		[]schema.Video{
			{ID: "v1", PlaylistID: "p1", Title: "Intro", DurationSeconds: 200, Position: 0},
			{ID: "v2", PlaylistID: "p1", Title: "Types", DurationSeconds: 300, Position: 1},
		}
}

func TestStore_Get_FreshStartPersistsDefaults(t *testing.T) {
	ctx := context.Background()
	medium := storage.NewMemoryMedium()
	s := newTestStore(t, medium, nil)

	env, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, schema.NewEnvelope(), env)
	assert.Equal(t, schema.NewEnvelope(), storedEnvelope(t, medium))
}

func TestStore_Get_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, storage.NewMemoryMedium(), nil)
	playlist, videos := samplePlaylist()
	require.NoError(t, s.AddPlaylist(ctx, playlist, videos))

	env, err := s.Get(ctx)
	require.NoError(t, err)
	delete(env.Videos, "v1")
	env.Settings.Theme = "dark"

	again, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Contains(t, again.Videos, "v1")
	assert.Equal(t, "system", again.Settings.Theme)
}

func TestStore_Load(t *testing.T) {
	legacy, err := json.Marshal(map[string]any{
		"version": 2,
		"videos": map[string]any{
			"v1": map[string]any{"id": "v1", "playlistId": "p1", "channelTitle": "gophers", "durationSec": 200, "position": 0},
		},
	})
	require.NoError(t, err)

	tests := []struct {
		name      string
		stored    string
		want      func() schema.Envelope
		wantErr   error
		unchanged bool
	}{
		{
			name:   "unparseable document is replaced by defaults",
			stored: "{not json",
			want:   schema.NewEnvelope,
		},
		{
			name:   "document that is not an object is replaced by defaults",
			stored: `[1, 2, 3]`,
			want:   schema.NewEnvelope,
		},
		{
			name:   "invalid current document is replaced by defaults",
			stored: `{"version": 3, "settings": {"theme": "neon"}}`,
			want:   schema.NewEnvelope,
		},
		{
			name:   "older document is migrated and persisted",
			stored: string(legacy),
			want: func() schema.Envelope {
				env := schema.NewEnvelope()
				env.Videos["v1"] = schema.Video{ID: "v1", PlaylistID: "p1", Channel: "gophers", DurationSeconds: 200}
				return env
			},
		},
		{
			name:      "document from a newer version is left alone",
			stored:    `{"version": 99}`,
			wantErr:   migration.ErrUnsupportedVersion,
			unchanged: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			medium := storage.NewMemoryMedium()
			require.NoError(t, medium.Set(ctx, DefaultKey, []byte(tt.stored)))
			s := newTestStore(t, medium, nil)

			got, err := s.Get(ctx)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want(), got)
			}

			raw, _, err := medium.Get(ctx, DefaultKey)
			require.NoError(t, err)
			if tt.unchanged {
				assert.Equal(t, tt.stored, string(raw))
				return
			}
			assert.Equal(t, tt.want(), storedEnvelope(t, medium))
		})
	}
}

func TestStore_Load_RecoveryAnnouncesBrokenDocument(t *testing.T) {
	ctx := context.Background()
	medium := storage.NewMemoryMedium()
	require.NoError(t, medium.Set(ctx, DefaultKey, []byte("{not json")))
	ch := channel.NewMemory()
	sub, err := ch.Subscribe(ctx, "observer")
	require.NoError(t, err)
	defer sub.Close()

	s := newTestStore(t, medium, ch)
	require.NoError(t, s.Init(ctx))

	select {
	case change := <-sub.C():
		assert.Equal(t, "{not json", change.OldValue)
		assert.Equal(t, s.Origin(), change.Origin)
	case <-time.After(time.Second):
		t.Fatal("no change published for the recovered document")
	}
}

func TestStore_Load_ReadErrorIsNotPersisted(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	medium := mock_storage.NewMockMedium(ctrl)
	medium.EXPECT().Get(gomock.Any(), DefaultKey).Return(nil, false, errors.New("disk unavailable"))

	s := newTestStore(t, medium, nil)
	env, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, schema.NewEnvelope(), env)

	// The next write replaces the unreadable document.
	medium.EXPECT().Set(gomock.Any(), DefaultKey, gomock.Any()).Return(nil)
	settings := schema.DefaultSettings()
	settings.Theme = "dark"
	require.NoError(t, s.UpdateSettings(ctx, settings))
}

func TestStore_Set_StorageFailureKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	medium := mock_storage.NewMockMedium(ctrl)
	gomock.InOrder(
		medium.EXPECT().Get(gomock.Any(), DefaultKey).Return(nil, false, nil),
		medium.EXPECT().Set(gomock.Any(), DefaultKey, gomock.Any()).Return(nil),
		medium.EXPECT().Set(gomock.Any(), DefaultKey, gomock.Any()).
			Return(fmt.Errorf("write 5242881 bytes: %w", storage.ErrQuotaExceeded)),
	)

	s := newTestStore(t, medium, nil)
	before, err := s.Get(ctx)
	require.NoError(t, err)

	playlist, videos := samplePlaylist()
	err = s.AddPlaylist(ctx, playlist, videos)

	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "write", storageErr.Op)
	assert.Equal(t, DefaultKey, storageErr.Key)
	assert.ErrorIs(t, err, storage.ErrQuotaExceeded)

	after, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestStore_Set_ValidationFailureKeepsSnapshot(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, storage.NewMemoryMedium(), nil)
	before, err := s.Get(ctx)
	require.NoError(t, err)

	settings := schema.DefaultSettings()
	settings.Theme = "neon"
	err = s.UpdateSettings(ctx, settings)

	var validationErr *schema.ValidationError
	assert.ErrorAs(t, err, &validationErr)
	after, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestStore_Set_IdenticalStateSkipsWrite(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	medium := mock_storage.NewMockMedium(ctrl)
	medium.EXPECT().Get(gomock.Any(), DefaultKey).Return(nil, false, nil)
	medium.EXPECT().Set(gomock.Any(), DefaultKey, gomock.Any()).Return(nil).Times(1)

	s := newTestStore(t, medium, nil)
	require.NoError(t, s.Init(ctx))
	require.NoError(t, s.UpdateSettings(ctx, schema.DefaultSettings()))
	require.NoError(t, s.Save(ctx))
}

func TestStore_Update_TakesOnlyNamedSlice(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, storage.NewMemoryMedium(), nil)

	err := s.Update(ctx, schema.SliceProgress, func(env *schema.Envelope) error {
		env.Progress["v1"] = schema.Progress{VideoID: "v1", WatchedSeconds: 10, Completion: 0.05}
		env.Notes["n1"] = schema.Note{ID: "n1", VideoID: "v1", Content: "ignored"}
		env.Settings.Theme = "dark"
		return nil
	})
	require.NoError(t, err)

	env, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Contains(t, env.Progress, "v1")
	assert.Empty(t, env.Notes)
	assert.Equal(t, "system", env.Settings.Theme)
}

func TestStore_Update_Errors(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, storage.NewMemoryMedium(), nil)

	err := s.Update(ctx, schema.Slice("history"), func(*schema.Envelope) error { return nil })
	assert.ErrorContains(t, err, `unknown slice "history"`)

	boom := errors.New("boom")
	err = s.Update(ctx, schema.SliceNotes, func(*schema.Envelope) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestStore_VideoDurationIsKeptOnReimport(t *testing.T) {
	renamed := schema.Video{ID: "v1", PlaylistID: "p1", Title: "Intro (remastered)", DurationSeconds: 20, Position: 0}

	tests := []struct {
		name   string
		upsert func(ctx context.Context, s *Store) error
	}{
		{
			name: "AddVideos",
			upsert: func(ctx context.Context, s *Store) error {
				return s.AddVideos(ctx, renamed)
			},
		},
		{
			name: "AddPlaylist",
			upsert: func(ctx context.Context, s *Store) error {
				playlist, _ := samplePlaylist()
				return s.AddPlaylist(ctx, playlist, []schema.Video{renamed})
			},
		},
		{
			name: "merge import",
			upsert: func(ctx context.Context, s *Store) error {
				doc, err := schema.ParseDocument([]byte(`{"version": 3, "videos": {"v1": {"id": "v1", "playlistId": "p1", "title": "Intro (remastered)", "durationSeconds": 20, "position": 0}}}`))
				if err != nil {
					return err
				}
				_, err = s.Import(ctx, doc, ImportOptions{Merge: true})
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := newTestStore(t, storage.NewMemoryMedium(), nil)
			playlist, videos := samplePlaylist()
			require.NoError(t, s.AddPlaylist(ctx, playlist, videos))
			require.NoError(t, s.UpsertProgress(ctx, schema.Progress{VideoID: "v1", WatchedSeconds: 100, Completion: 0.5}))

			require.NoError(t, tt.upsert(ctx, s))

			video, ok, err := s.Video(ctx, "v1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, 200, video.DurationSeconds)
			assert.Equal(t, "Intro (remastered)", video.Title)

			stats, err := s.PlaylistStats(ctx, "p1")
			require.NoError(t, err)
			assert.Equal(t, 500, stats.TotalDurationSeconds)
		})
	}

	t.Run("new video takes its own duration", func(t *testing.T) {
		ctx := context.Background()
		s := newTestStore(t, storage.NewMemoryMedium(), nil)
		require.NoError(t, s.AddVideos(ctx, schema.Video{ID: "v7", PlaylistID: "p1", DurationSeconds: 20}))
		video, _, err := s.Video(ctx, "v7")
		require.NoError(t, err)
		assert.Equal(t, 20, video.DurationSeconds)
	})
}

func TestStore_RemovePlaylist_Cascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, storage.NewMemoryMedium(), nil)

	playlist, videos := samplePlaylist()
	require.NoError(t, s.AddPlaylist(ctx, playlist, videos))
	require.NoError(t, s.AddPlaylist(ctx,
		schema.Playlist{ID: "p2", Title: "Concurrency"},
		[]schema.Video{{ID: "v3", PlaylistID: "p2", DurationSeconds: 100}},
	))
	require.NoError(t, s.UpsertProgress(ctx, schema.Progress{VideoID: "v1", WatchedSeconds: 50, Completion: 0.25}))
	require.NoError(t, s.UpsertProgress(ctx, schema.Progress{VideoID: "v3", WatchedSeconds: 100, Completion: 1}))
	require.NoError(t, s.UpsertNote(ctx, schema.Note{ID: "n1", VideoID: "v1", Content: "remember"}))

	require.NoError(t, s.RemovePlaylist(ctx, "p1"))

	env, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, keys(env.Playlists))
	assert.Equal(t, []string{"v3"}, keys(env.Videos))
	assert.Equal(t, []string{"v3"}, keys(env.Progress))
	assert.Equal(t, []string{"n1"}, keys(env.Notes))

	assert.ErrorIs(t, s.RemovePlaylist(ctx, "p1"), ErrNotFound)
}

func TestStore_Notes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, storage.NewMemoryMedium(), nil)

	note := schema.Note{
		ID:         "n1",
		VideoID:    "v1",
		Content:    "check #generics",
		Timestamps: []schema.Timestamp{{Seconds: 10}, {Seconds: 30, Label: "example"}},
		Tags:       []string{"generics"},
	}
	require.NoError(t, s.UpsertNote(ctx, note))
	env, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, note, env.Notes["n1"])

	require.NoError(t, s.RemoveNote(ctx, "n1"))
	assert.ErrorIs(t, s.RemoveNote(ctx, "n1"), ErrNotFound)
}

func TestStore_Clear(t *testing.T) {
	ctx := context.Background()
	medium := storage.NewMemoryMedium()
	s := newTestStore(t, medium, nil)
	playlist, videos := samplePlaylist()
	require.NoError(t, s.AddPlaylist(ctx, playlist, videos))

	require.NoError(t, s.Clear(ctx))
	_, found, err := medium.Get(ctx, DefaultKey)
	require.NoError(t, err)
	assert.False(t, found)

	env, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, schema.NewEnvelope(), env)

	// Clearing twice is fine.
	require.NoError(t, s.Clear(ctx))
}

func TestStore_Deferred(t *testing.T) {
	ctx := context.Background()
	medium := storage.NewMemoryMedium()
	s := newTestStore(t, medium, nil, WithDebounce(time.Hour))
	require.NoError(t, s.Init(ctx))

	for _, watched := range []int{10, 20, 30} {
		require.NoError(t, s.UpsertProgressDeferred(ctx, schema.Progress{VideoID: "v1", WatchedSeconds: watched}))
	}

	progress, ok, err := s.Progress(ctx, "v1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 30, progress.WatchedSeconds)
	assert.NotContains(t, storedEnvelope(t, medium).Progress, "v1")

	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, 30, storedEnvelope(t, medium).Progress["v1"].WatchedSeconds)
}

func TestStore_Close_FlushesDeferredWrites(t *testing.T) {
	ctx := context.Background()
	medium := storage.NewMemoryMedium()
	s, err := New(medium, nil, WithLogger(log.Nop()), WithDebounce(time.Hour))
	require.NoError(t, err)

	require.NoError(t, s.UpsertProgressDeferred(ctx, schema.Progress{VideoID: "v1", WatchedSeconds: 42}))
	require.NoError(t, s.Close(ctx))
	assert.Equal(t, 42, storedEnvelope(t, medium).Progress["v1"].WatchedSeconds)
}

func TestStore_Watch(t *testing.T) {
	ctx := context.Background()
	medium := storage.NewMemoryMedium()
	ch := channel.NewMemory()

	writer := newTestStore(t, medium, ch, WithOrigin("tab-a"))
	reader := newTestStore(t, medium, ch, WithOrigin("tab-b"))
	require.NoError(t, writer.Init(ctx))
	require.NoError(t, reader.Init(ctx))

	writerChanges := make(chan channel.Change, 4)
	readerChanges := make(chan channel.Change, 4)
	writer.OnExternalChange(func(c channel.Change) { writerChanges <- c })
	reader.OnExternalChange(func(c channel.Change) { readerChanges <- c })
	require.NoError(t, writer.Watch(ctx))
	require.NoError(t, reader.Watch(ctx))
	assert.Error(t, reader.Watch(ctx))

	playlist, videos := samplePlaylist()
	require.NoError(t, writer.AddPlaylist(ctx, playlist, videos))

	select {
	case change := <-readerChanges:
		assert.Equal(t, "tab-a", change.Origin)
		assert.Equal(t, DefaultKey, change.Key)
	case <-time.After(time.Second):
		t.Fatal("reader was not notified")
	}

	env, err := reader.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, playlist, env.Playlists["p1"])

	select {
	case change := <-writerChanges:
		t.Fatalf("writer received its own change: %+v", change)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStore_WritesDoNotWaitForIdleSubscribers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch := channel.NewMemory()
	idle, err := ch.Subscribe(ctx, "idle-tab")
	require.NoError(t, err)
	defer idle.Close()

	s := newTestStore(t, storage.NewMemoryMedium(), ch)
	settings := schema.DefaultSettings()
	for i := 0; i < 100; i++ {
		settings.Theme = []string{"light", "dark"}[i%2]
		require.NoError(t, s.UpdateSettings(ctx, settings))
	}

	env, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "dark", env.Settings.Theme)
	assert.NotEmpty(t, idle.C())
}

func TestStore_PruneOrphans(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, storage.NewMemoryMedium(), nil)
	playlist, videos := samplePlaylist()
	require.NoError(t, s.AddPlaylist(ctx, playlist, videos))
	require.NoError(t, s.UpsertProgress(ctx, schema.Progress{VideoID: "v1", WatchedSeconds: 10}))
	require.NoError(t, s.UpsertProgress(ctx, schema.Progress{VideoID: "gone", WatchedSeconds: 10}))
	require.NoError(t, s.UpsertNote(ctx, schema.Note{ID: "n1", VideoID: "gone"}))
	require.NoError(t, s.UpsertNote(ctx, schema.Note{ID: "n2", VideoID: "v2"}))

	result, err := s.PruneOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, PruneResult{Progress: 1, Notes: 1}, result)

	env, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1"}, keys(env.Progress))
	assert.Equal(t, []string{"n2"}, keys(env.Notes))
}

func TestStore_Stats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, storage.NewMemoryMedium(), nil)
	playlist, videos := samplePlaylist()
	require.NoError(t, s.AddPlaylist(ctx, playlist, videos))
	require.NoError(t, s.UpsertProgress(ctx, schema.Progress{VideoID: "v1", WatchedSeconds: 200, Completion: 1}))

	stats, err := s.PlaylistStats(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.VideoCount)
	assert.Equal(t, 1, stats.CompletedCount)
	assert.Equal(t, 500, stats.TotalDurationSeconds)
	assert.Equal(t, 200, stats.WatchedSeconds)

	_, err = s.PlaylistStats(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := s.AllPlaylistStats(ctx)
	require.NoError(t, err)
	assert.Len(t, all.Playlists, 1)
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
