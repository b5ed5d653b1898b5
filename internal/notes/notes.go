// Package notes builds note entities: ids, #tags taken from the content and
// timestamp markers kept as an ordered set.
package notes

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/at-ishikawa/playtrack/internal/schema"
)

var tagPattern = regexp.MustCompile(`(?:^|\s)#([\p{L}\p{N}_-]+)`)

// New creates a note for a video. The id is a random UUID.
func New(videoID, content string, markers []schema.Timestamp, now time.Time) schema.Note {
	at := now.UTC().Format(time.RFC3339)
	return schema.Note{
		ID:         uuid.NewString(),
		VideoID:    videoID,
		Content:    content,
		Timestamps: NormalizeMarkers(markers),
		Tags:       Tags(content),
		CreatedAt:  at,
		UpdatedAt:  at,
	}
}

// Edit replaces the content of a note and adds markers to it.
func Edit(note schema.Note, content string, markers []schema.Timestamp, now time.Time) schema.Note {
	note.Content = content
	note.Tags = Tags(content)
	note.Timestamps = NormalizeMarkers(append(append([]schema.Timestamp(nil), note.Timestamps...), markers...))
	note.UpdatedAt = now.UTC().Format(time.RFC3339)
	return note
}

// Tags returns the lowercased #tags of content, unique and sorted.
func Tags(content string) []string {
	seen := make(map[string]struct{})
	var tags []string
	for _, m := range tagPattern.FindAllStringSubmatch(content, -1) {
		tag := strings.ToLower(m[1])
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// NormalizeMarkers sorts markers by seconds and keeps one marker per second.
// A labelled marker wins over an unlabelled one at the same second.
func NormalizeMarkers(markers []schema.Timestamp) []schema.Timestamp {
	if len(markers) == 0 {
		return nil
	}
	sorted := append([]schema.Timestamp(nil), markers...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Seconds < sorted[j].Seconds
	})

	out := sorted[:1]
	for _, m := range sorted[1:] {
		last := &out[len(out)-1]
		if m.Seconds == last.Seconds {
			if last.Label == "" {
				last.Label = m.Label
			}
			continue
		}
		out = append(out, m)
	}
	return out
}

// ParseMarker reads a marker written as "90", "1:30" or "1:02:03",
// optionally followed by "=label".
func ParseMarker(s string) (schema.Timestamp, error) {
	at, label, _ := strings.Cut(strings.TrimSpace(s), "=")
	seconds, err := ParseClock(at)
	if err != nil {
		return schema.Timestamp{}, err
	}
	return schema.Timestamp{Seconds: seconds, Label: strings.TrimSpace(label)}, nil
}

// ParseClock converts "ss", "mm:ss" or "hh:mm:ss" into seconds.
func ParseClock(s string) (float64, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) > 3 || parts[0] == "" {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	var total float64
	for i, part := range parts {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("invalid time %q", s)
		}
		if i > 0 && v >= 60 {
			return 0, fmt.Errorf("invalid time %q: component %q out of range", s, part)
		}
		total = total*60 + v
	}
	return total, nil
}

// FormatClock renders seconds as "m:ss" or "h:mm:ss".
func FormatClock(seconds float64) string {
	total := int(seconds)
	h, m, sec := total/3600, total%3600/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%d:%02d", m, sec)
}
