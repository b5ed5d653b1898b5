// Package metadata fetches playlist and video metadata from the metadata
// service. Responses are passed on as opaque fields; the store validates them.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/at-ishikawa/playtrack/internal/config"
	"github.com/at-ishikawa/playtrack/internal/schema"
)

var ErrPlaylistNotFound = errors.New("playlist not found")

type Thumbnail struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Thumbnails are keyed by size name: default, medium, high.
type Thumbnails map[string]Thumbnail

// Best returns the URL of the largest known thumbnail.
func (t Thumbnails) Best() string {
	for _, size := range []string{"maxres", "high", "medium", "default"} {
		if th, ok := t[size]; ok && th.URL != "" {
			return th.URL
		}
	}
	return ""
}

type PlaylistItem struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	ChannelTitle string     `json:"channelTitle"`
	Description  string     `json:"description"`
	Thumbnails   Thumbnails `json:"thumbnails"`
}

type VideoItem struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	ChannelTitle string     `json:"channelTitle"`
	DurationSec  int        `json:"durationSec"`
	Thumbnails   Thumbnails `json:"thumbnails"`
	Position     int        `json:"position"`
}

type PlaylistResponse struct {
	Playlist PlaylistItem `json:"playlist"`
	Videos   []VideoItem  `json:"videos"`
}

// Entities converts the response into store entities.
func (r PlaylistResponse) Entities(importedAt time.Time) (schema.Playlist, []schema.Video) {
	playlist := schema.Playlist{
		ID:           r.Playlist.ID,
		Title:        r.Playlist.Title,
		Channel:      r.Playlist.ChannelTitle,
		Description:  r.Playlist.Description,
		ThumbnailURL: r.Playlist.Thumbnails.Best(),
		ImportedAt:   importedAt.UTC().Format(time.RFC3339),
	}
	videos := make([]schema.Video, 0, len(r.Videos))
	for _, v := range r.Videos {
		videos = append(videos, schema.Video{
			ID:              v.ID,
			PlaylistID:      r.Playlist.ID,
			Title:           v.Title,
			Channel:         v.ChannelTitle,
			DurationSeconds: v.DurationSec,
			Position:        v.Position,
			ThumbnailURL:    v.Thumbnails.Best(),
		})
	}
	return playlist, videos
}

type Client struct {
	httpClient *resty.Client
}

// NewClient creates a client for cfg.BaseURL. Requests are not retried.
func NewClient(cfg config.MetadataConfig) *Client {
	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	if cfg.TimeoutSeconds > 0 {
		client.SetTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second)
	}
	return &Client{httpClient: client}
}

// Playlist fetches a playlist with its videos.
func (c *Client) Playlist(ctx context.Context, id string) (*PlaylistResponse, error) {
	var result PlaylistResponse
	res, err := c.httpClient.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(&result).
		Get("/playlists/{id}")
	if err != nil {
		return nil, fmt.Errorf("client.R.Get(%s) > %w", id, err)
	}
	switch {
	case res.StatusCode() == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", id, ErrPlaylistNotFound)
	case res.StatusCode() != http.StatusOK:
		return nil, fmt.Errorf("status code: %d, body: %s", res.StatusCode(), string(res.Body()))
	}
	if result.Playlist.ID == "" {
		result.Playlist.ID = id
	}
	return &result, nil
}
