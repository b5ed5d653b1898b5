// Package schema defines the persisted envelope, its entities, and the
// validator every read and write boundary passes through.
package schema

import "sort"

// CurrentVersion is the envelope version this build reads and writes.
const CurrentVersion = 3

// Completion threshold at which a video counts as completed.
const CompletedThreshold = 0.9

// Envelope is the single persisted document.
type Envelope struct {
	Version   int                 `json:"version" yaml:"version"`
	Playlists map[string]Playlist `json:"playlists" yaml:"playlists" validate:"dive"`
	Videos    map[string]Video    `json:"videos" yaml:"videos" validate:"dive"`
	Progress  map[string]Progress `json:"progress" yaml:"progress" validate:"dive"`
	Notes     map[string]Note     `json:"notes" yaml:"notes" validate:"dive"`
	Settings  Settings            `json:"settings" yaml:"settings"`
}

type Playlist struct {
	ID           string `json:"id" yaml:"id" validate:"required"`
	Title        string `json:"title" yaml:"title"`
	Channel      string `json:"channel" yaml:"channel"`
	Description  string `json:"description,omitempty" yaml:"description,omitempty"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty" yaml:"thumbnailUrl,omitempty" validate:"omitempty,url"`
	ImportedAt   string `json:"importedAt,omitempty" yaml:"importedAt,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

type Video struct {
	ID              string `json:"id" yaml:"id" validate:"required"`
	PlaylistID      string `json:"playlistId" yaml:"playlistId" validate:"required"`
	Title           string `json:"title" yaml:"title"`
	Channel         string `json:"channel" yaml:"channel"`
	DurationSeconds int    `json:"durationSeconds" yaml:"durationSeconds" validate:"gte=0"`
	Position        int    `json:"position" yaml:"position" validate:"gte=0"`
	ThumbnailURL    string `json:"thumbnailUrl,omitempty" yaml:"thumbnailUrl,omitempty" validate:"omitempty,url"`
}

// Progress is created lazily on the first watch event of a video.
type Progress struct {
	VideoID             string  `json:"videoId" yaml:"videoId" validate:"required"`
	WatchedSeconds      int     `json:"watchedSeconds" yaml:"watchedSeconds" validate:"gte=0"`
	LastPositionSeconds float64 `json:"lastPositionSeconds" yaml:"lastPositionSeconds" validate:"gte=0"`
	Completion          float64 `json:"completion" yaml:"completion" validate:"gte=0,lte=1"`
	LastWatchedAt       string  `json:"lastWatchedAt" yaml:"lastWatchedAt" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	CompletedAt         *string `json:"completedAt,omitempty" yaml:"completedAt,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

// IsCompleted reports whether the stored completion reached the threshold.
func (p Progress) IsCompleted() bool {
	return p.Completion >= CompletedThreshold
}

type Timestamp struct {
	Seconds float64 `json:"seconds" yaml:"seconds" validate:"gte=0"`
	Label   string  `json:"label" yaml:"label"`
}

type Note struct {
	ID         string      `json:"id" yaml:"id" validate:"required"`
	VideoID    string      `json:"videoId" yaml:"videoId" validate:"required"`
	Content    string      `json:"content" yaml:"content"`
	Timestamps []Timestamp `json:"timestamps" yaml:"timestamps" validate:"dive"`
	Tags       []string    `json:"tags" yaml:"tags"`
	CreatedAt  string      `json:"createdAt" yaml:"createdAt" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	UpdatedAt  string      `json:"updatedAt" yaml:"updatedAt" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

type Settings struct {
	Theme             string  `json:"theme" yaml:"theme" validate:"oneof=system light dark"`
	PlaybackRate      float64 `json:"playbackRate" yaml:"playbackRate" validate:"gte=0.25,lte=2"`
	PlayerMode        string  `json:"playerMode" yaml:"playerMode" validate:"oneof=default theater fullscreen"`
	KeyboardShortcuts bool    `json:"keyboardShortcuts" yaml:"keyboardShortcuts"`
}

// DefaultSettings returns the settings of a fresh envelope.
func DefaultSettings() Settings {
	return Settings{
		Theme:             "system",
		PlaybackRate:      1,
		PlayerMode:        "default",
		KeyboardShortcuts: true,
	}
}

// NewEnvelope returns an empty envelope at CurrentVersion.
func NewEnvelope() Envelope {
	return Envelope{
		Version:   CurrentVersion,
		Playlists: map[string]Playlist{},
		Videos:    map[string]Video{},
		Progress:  map[string]Progress{},
		Notes:     map[string]Note{},
		Settings:  DefaultSettings(),
	}
}

// Clone returns a deep copy of e. Callers outside the store only ever see clones.
func (e Envelope) Clone() Envelope {
	out := Envelope{
		Version:   e.Version,
		Playlists: make(map[string]Playlist, len(e.Playlists)),
		Videos:    make(map[string]Video, len(e.Videos)),
		Progress:  make(map[string]Progress, len(e.Progress)),
		Notes:     make(map[string]Note, len(e.Notes)),
		Settings:  e.Settings,
	}
	for k, v := range e.Playlists {
		out.Playlists[k] = v
	}
	for k, v := range e.Videos {
		out.Videos[k] = v
	}
	for k, v := range e.Progress {
		if v.CompletedAt != nil {
			at := *v.CompletedAt
			v.CompletedAt = &at
		}
		out.Progress[k] = v
	}
	for k, v := range e.Notes {
		v.Timestamps = append([]Timestamp(nil), v.Timestamps...)
		v.Tags = append([]string(nil), v.Tags...)
		out.Notes[k] = v
	}
	return out
}

// PlaylistVideos returns the videos of a playlist ordered by position.
func (e Envelope) PlaylistVideos(playlistID string) []Video {
	var videos []Video
	for _, v := range e.Videos {
		if v.PlaylistID == playlistID {
			videos = append(videos, v)
		}
	}
	sort.Slice(videos, func(i, j int) bool {
		if videos[i].Position != videos[j].Position {
			return videos[i].Position < videos[j].Position
		}
		return videos[i].ID < videos[j].ID
	})
	return videos
}

// Slice names a top-level slice of the envelope.
type Slice string

const (
	SlicePlaylists Slice = "playlists"
	SliceVideos    Slice = "videos"
	SliceProgress  Slice = "progress"
	SliceNotes     Slice = "notes"
	SliceSettings  Slice = "settings"
)

// Valid reports whether s names an existing slice.
func (s Slice) Valid() bool {
	switch s {
	case SlicePlaylists, SliceVideos, SliceProgress, SliceNotes, SliceSettings:
		return true
	}
	return false
}

// Copy replaces the slice named by s in dst with the one from src.
func (s Slice) Copy(dst *Envelope, src Envelope) {
	switch s {
	case SlicePlaylists:
		dst.Playlists = src.Playlists
	case SliceVideos:
		dst.Videos = src.Videos
	case SliceProgress:
		dst.Progress = src.Progress
	case SliceNotes:
		dst.Notes = src.Notes
	case SliceSettings:
		dst.Settings = src.Settings
	}
}

// Partial is a shallow update: every non-nil field replaces the matching
// top-level slice. The version is owned by the store and cannot be set.
type Partial struct {
	Playlists map[string]Playlist
	Videos    map[string]Video
	Progress  map[string]Progress
	Notes     map[string]Note
	Settings  *Settings
}

// Apply returns e with the partial merged in.
func (p Partial) Apply(e Envelope) Envelope {
	if p.Playlists != nil {
		e.Playlists = p.Playlists
	}
	if p.Videos != nil {
		e.Videos = p.Videos
	}
	if p.Progress != nil {
		e.Progress = p.Progress
	}
	if p.Notes != nil {
		e.Notes = p.Notes
	}
	if p.Settings != nil {
		e.Settings = *p.Settings
	}
	return e
}
