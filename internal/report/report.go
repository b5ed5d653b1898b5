// Package report renders a markdown progress report and converts it to PDF.
package report

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/rs/zerolog"

	"github.com/at-ishikawa/playtrack/internal/notes"
	"github.com/at-ishikawa/playtrack/internal/schema"
	"github.com/at-ishikawa/playtrack/internal/statistics"
	"github.com/at-ishikawa/playtrack/internal/tracker"
)

//go:embed templates/progress-report.md.go.tmpl
var fallbackTemplate string

const fallbackTemplateName = "progress-report.md.go.tmpl"

// Report is the data passed to the report template.
type Report struct {
	GeneratedAt time.Time
	Aggregate   statistics.AggregateStats
	Playlists   []Playlist
}

type Playlist struct {
	ID      string
	Title   string
	Channel string
	Stats   statistics.PlaylistStats
	Videos  []Video
}

type Video struct {
	ID              string
	Title           string
	Position        int
	DurationSeconds int
	Completion      float64
	Completed       bool
	ResumeSeconds   float64
	Notes           []schema.Note
}

// Build collects the report data from an envelope. Playlists are sorted by
// id, videos by position and notes by creation time.
func Build(env schema.Envelope, generatedAt time.Time) Report {
	stats := statistics.ForAll(env)
	report := Report{
		GeneratedAt: generatedAt,
		Aggregate:   stats.Aggregate,
	}

	notesByVideo := make(map[string][]schema.Note)
	for _, n := range env.Notes {
		notesByVideo[n.VideoID] = append(notesByVideo[n.VideoID], n)
	}
	for _, list := range notesByVideo {
		sort.Slice(list, func(i, j int) bool {
			if list[i].CreatedAt != list[j].CreatedAt {
				return list[i].CreatedAt < list[j].CreatedAt
			}
			return list[i].ID < list[j].ID
		})
	}

	for _, ps := range stats.Playlists {
		playlist := env.Playlists[ps.PlaylistID]
		p := Playlist{
			ID:      playlist.ID,
			Title:   playlist.Title,
			Channel: playlist.Channel,
			Stats:   ps,
		}
		for _, v := range env.PlaylistVideos(playlist.ID) {
			progress := env.Progress[v.ID]
			p.Videos = append(p.Videos, Video{
				ID:              v.ID,
				Title:           v.Title,
				Position:        v.Position,
				DurationSeconds: v.DurationSeconds,
				Completion:      progress.Completion,
				Completed:       progress.IsCompleted(),
				ResumeSeconds:   tracker.ResumeTime(progress),
				Notes:           notesByVideo[v.ID],
			})
		}
		report.Playlists = append(report.Playlists, p)
	}
	return report
}

// ParseTemplate reads the template at templatePath and falls back to the
// embedded one when the path is empty or unusable.
func ParseTemplate(templatePath string, logger zerolog.Logger) (*template.Template, error) {
	funcMap := template.FuncMap{
		"join":    strings.Join,
		"clock":   clock,
		"percent": percent,
	}

	if templatePath != "" {
		if _, err := os.Stat(templatePath); err == nil {
			tmpl, err := template.New(filepath.Base(templatePath)).
				Funcs(funcMap).
				ParseFiles(templatePath)
			if err == nil {
				return tmpl, nil
			}
			logger.Warn().Err(err).Str("template", templatePath).Msg("failed to parse report template, using the embedded one")
		}
	}

	tmpl, err := template.New(fallbackTemplateName).
		Funcs(funcMap).
		Parse(fallbackTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse embedded template: %w", err)
	}
	return tmpl, nil
}

func Write(output io.Writer, tmpl *template.Template, report Report) error {
	if err := tmpl.Execute(output, report); err != nil {
		return fmt.Errorf("tmpl.Execute() > %w", err)
	}
	return nil
}

// WriteFile renders the report into outputDirectory and returns the path of
// the markdown file.
func WriteFile(outputDirectory string, tmpl *template.Template, report Report) (string, error) {
	if err := os.MkdirAll(outputDirectory, 0o755); err != nil {
		return "", fmt.Errorf("os.MkdirAll(%s) > %w", outputDirectory, err)
	}
	path := filepath.Join(outputDirectory, "progress-"+report.GeneratedAt.Format("20060102-150405")+".md")
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("os.Create(%s) > %w", path, err)
	}
	defer func() {
		_ = file.Close()
	}()

	if err := Write(file, tmpl, report); err != nil {
		return "", err
	}
	return path, file.Close()
}

func clock(seconds any) string {
	switch v := seconds.(type) {
	case int:
		return notes.FormatClock(float64(v))
	case float64:
		return notes.FormatClock(v)
	default:
		return fmt.Sprint(seconds)
	}
}

func percent(ratio float64) string {
	return fmt.Sprintf("%.0f%%", ratio*100)
}
