package report

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/at-ishikawa/playtrack/internal/log"
	"github.com/at-ishikawa/playtrack/internal/schema"
)

func sampleEnvelope() schema.Envelope {
	env := schema.NewEnvelope()
	env.Playlists["p1"] = schema.Playlist{ID: "p1", Title: "Go basics", Channel: "gophers"}
	env.Playlists["p2"] = schema.Playlist{ID: "p2", Title: "Empty"}
	env.Videos["v1"] = schema.Video{ID: "v1", PlaylistID: "p1", Title: "Intro", DurationSeconds: 200, Position: 0}
	env.Videos["v2"] = schema.Video{ID: "v2", PlaylistID: "p1", Title: "Types", DurationSeconds: 300, Position: 1}
	env.Progress["v1"] = schema.Progress{VideoID: "v1", WatchedSeconds: 200, LastPositionSeconds: 199, Completion: 1}
	env.Progress["v2"] = schema.Progress{VideoID: "v2", WatchedSeconds: 100, LastPositionSeconds: 95, Completion: 1.0 / 3}
	env.Notes["n2"] = schema.Note{ID: "n2", VideoID: "v2", Content: "second", CreatedAt: "2024-04-02T10:00:00Z"}
	env.Notes["n1"] = schema.Note{
		ID: "n1", VideoID: "v2", Content: "interfaces #go", Tags: []string{"go"},
		Timestamps: []schema.Timestamp{{Seconds: 65, Label: "embedding"}},
		CreatedAt:  "2024-04-01T10:00:00Z",
	}
	return env
}

func TestBuild(t *testing.T) {
	generatedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	got := Build(sampleEnvelope(), generatedAt)

	assert.Equal(t, generatedAt, got.GeneratedAt)
	assert.Equal(t, 2, got.Aggregate.PlaylistCount)
	assert.Equal(t, 1, got.Aggregate.CompletedCount)
	assert.Equal(t, 300, got.Aggregate.WatchedSeconds)

	require.Len(t, got.Playlists, 2)
	assert.Equal(t, "p1", got.Playlists[0].ID)
	assert.Empty(t, got.Playlists[1].Videos)

	videos := got.Playlists[0].Videos
	require.Len(t, videos, 2)
	assert.Equal(t, "v1", videos[0].ID)
	assert.True(t, videos[0].Completed)
	assert.Zero(t, videos[0].ResumeSeconds)
	assert.Equal(t, 95.0, videos[1].ResumeSeconds)
	require.Len(t, videos[1].Notes, 2)
	assert.Equal(t, "n1", videos[1].Notes[0].ID)
	assert.Equal(t, "n2", videos[1].Notes[1].ID)
}

func TestWrite_EmbeddedTemplate(t *testing.T) {
	tmpl, err := ParseTemplate("", log.Nop())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, tmpl, Build(sampleEnvelope(), time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))))

	out := buf.String()
	assert.Contains(t, out, "Generated 2024-05-01 12:00")
	assert.Contains(t, out, "2 playlists, 1/2 videos completed, 5:00 watched of 8:20.")
	assert.Contains(t, out, "## Go basics (gophers)")
	assert.Contains(t, out, "| 0 | Intro ✓ | 3:20 | 100% | - |")
	assert.Contains(t, out, "| 1 | Types | 5:00 | 33% | 1:35 |")
	assert.Contains(t, out, "- **Types**: interfaces #go _go_")
	assert.Contains(t, out, "  - 1:05 embedding")
	assert.Contains(t, out, "## Empty")
}

func TestParseTemplate(t *testing.T) {
	dir := t.TempDir()

	custom := filepath.Join(dir, "custom.md.go.tmpl")
	require.NoError(t, os.WriteFile(custom, []byte(`{{ range .Playlists }}{{ .Title }}={{ percent .Stats.Completion }};{{ end }}`), 0o644))

	broken := filepath.Join(dir, "broken.md.go.tmpl")
	require.NoError(t, os.WriteFile(broken, []byte(`{{ range }}`), 0o644))

	tests := []struct {
		name         string
		path         string
		wantContains string
	}{
		{name: "custom template", path: custom, wantContains: "Go basics=60%;Empty=0%;"},
		{name: "missing file falls back", path: filepath.Join(dir, "missing.tmpl"), wantContains: "# Watch progress"},
		{name: "broken file falls back", path: broken, wantContains: "# Watch progress"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl, err := ParseTemplate(tt.path, log.Nop())
			require.NoError(t, err)

			var buf bytes.Buffer
			require.NoError(t, Write(&buf, tmpl, Build(sampleEnvelope(), time.Now())))
			assert.Contains(t, buf.String(), tt.wantContains)
		})
	}
}

func TestWriteFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	tmpl, err := ParseTemplate("", log.Nop())
	require.NoError(t, err)

	path, err := WriteFile(dir, tmpl, Build(sampleEnvelope(), time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "progress-20240501-120000.md"), path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "## Go basics")
}

func TestConvertMarkdownToPDF(t *testing.T) {
	_, err := ConvertMarkdownToPDF("report.txt")
	assert.ErrorContains(t, err, "input file must have .md extension")

	_, err = ConvertMarkdownToPDF(filepath.Join(t.TempDir(), "missing.md"))
	assert.ErrorContains(t, err, "os.ReadFile")
}
