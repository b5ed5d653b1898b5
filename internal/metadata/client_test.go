package metadata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/at-ishikawa/playtrack/internal/config"
	"github.com/at-ishikawa/playtrack/internal/schema"
)

const playlistBody = `{
  "playlist": {
    "id": "PL1",
    "title": "Go basics",
    "channelTitle": "gophers",
    "description": "from zero",
    "thumbnails": {"default": {"url": "https://img.example.com/pl-s.jpg"}, "high": {"url": "https://img.example.com/pl-h.jpg"}}
  },
  "videos": [
    {"id": "v1", "title": "Intro", "channelTitle": "gophers", "durationSec": 200, "position": 0, "thumbnails": {"medium": {"url": "https://img.example.com/v1.jpg"}}},
    {"id": "v2", "title": "Types", "channelTitle": "gophers", "durationSec": 300, "position": 1}
  ]
}`

func TestClient_Playlist(t *testing.T) {
	tests := []struct {
		name       string
		apiKey     string
		status     int
		body       string
		wantErr    error
		wantErrMsg string
		wantAuth   string
	}{
		{
			name:     "found",
			apiKey:   "secret",
			status:   http.StatusOK,
			body:     playlistBody,
			wantAuth: "Bearer secret",
		},
		{
			name:    "not found",
			status:  http.StatusNotFound,
			body:    `{"error": "no such playlist"}`,
			wantErr: ErrPlaylistNotFound,
		},
		{
			name:       "server error is not retried",
			status:     http.StatusInternalServerError,
			body:       `oops`,
			wantErrMsg: "status code: 500, body: oops",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			var gotAuth atomic.Value
			gotAuth.Store("")
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				gotAuth.Store(r.Header.Get("Authorization"))
				assert.Equal(t, "/playlists/PL1", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(config.MetadataConfig{BaseURL: server.URL, APIKey: tt.apiKey, TimeoutSeconds: 5})
			got, err := client.Playlist(context.Background(), "PL1")
			assert.Equal(t, int32(1), calls.Load())

			if tt.wantErr != nil || tt.wantErrMsg != "" {
				require.Error(t, err)
				if tt.wantErr != nil {
					assert.ErrorIs(t, err, tt.wantErr)
				}
				if tt.wantErrMsg != "" {
					assert.ErrorContains(t, err, tt.wantErrMsg)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAuth, gotAuth.Load())
			assert.Equal(t, "Go basics", got.Playlist.Title)
			assert.Len(t, got.Videos, 2)
		})
	}
}

func TestClient_Playlist_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient(config.MetadataConfig{BaseURL: server.URL}).Playlist(ctx, "PL1")
	assert.ErrorContains(t, err, "context canceled")
}

func TestPlaylistResponse_Entities(t *testing.T) {
	resp := PlaylistResponse{
		Playlist: PlaylistItem{
			ID:           "PL1",
			Title:        "Go basics",
			ChannelTitle: "gophers",
			Thumbnails:   Thumbnails{"default": {URL: "https://img.example.com/s.jpg"}, "high": {URL: "https://img.example.com/h.jpg"}},
		},
		Videos: []VideoItem{
			{ID: "v1", Title: "Intro", ChannelTitle: "gophers", DurationSec: 200, Position: 0},
			{ID: "v2", Title: "Types", ChannelTitle: "others", DurationSec: 300, Position: 1, Thumbnails: Thumbnails{"medium": {URL: "https://img.example.com/v2.jpg"}}},
		},
	}

	playlist, videos := resp.Entities(time.Date(2024, 3, 1, 18, 0, 0, 0, time.FixedZone("JST", 9*60*60)))
	assert.Equal(t, schema.Playlist{
		ID:           "PL1",
		Title:        "Go basics",
		Channel:      "gophers",
		ThumbnailURL: "https://img.example.com/h.jpg",
		ImportedAt:   "2024-03-01T09:00:00Z",
	}, playlist)
	assert.Equal(t, []schema.Video{
		{ID: "v1", PlaylistID: "PL1", Title: "Intro", Channel: "gophers", DurationSeconds: 200, Position: 0},
		{ID: "v2", PlaylistID: "PL1", Title: "Types", Channel: "others", DurationSeconds: 300, Position: 1, ThumbnailURL: "https://img.example.com/v2.jpg"},
	}, videos)
}

func TestThumbnails_Best(t *testing.T) {
	assert.Equal(t, "", Thumbnails(nil).Best())
	assert.Equal(t, "m", Thumbnails{"default": {URL: "d"}, "medium": {URL: "m"}}.Best())
	assert.Equal(t, "x", Thumbnails{"maxres": {URL: "x"}, "high": {URL: "h"}}.Best())
}
