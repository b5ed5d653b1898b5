package migration

import (
	"fmt"
	"sort"

	"github.com/at-ishikawa/playtrack/internal/schema"
)

// Migrations maps a target version to the function producing it. Version 2
// added notes and settings defaults and needs no migration.
var Migrations = map[int]Func{
	1: toVersion1,
	3: toVersion3,
}

// toVersion1 renames the pre-versioned progress fields. Completion used to
// be stored as a percentage.
func toVersion1(doc schema.Document) (schema.Document, error) {
	progress, ok := doc["progress"].(map[string]any)
	if !ok {
		return doc, nil
	}
	for key, raw := range progress {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		rename(entry, "watched", "watchedSeconds")
		rename(entry, "position", "lastPositionSeconds")
		if percent, ok := entry["percent"]; ok {
			delete(entry, "percent")
			p, ok := percent.(float64)
			if !ok {
				return nil, fmt.Errorf("progress %s: percent must be a number, got %T", key, percent)
			}
			entry["completion"] = p / 100
		}
		if _, ok := entry["videoId"]; !ok {
			entry["videoId"] = key
		}
	}
	return doc, nil
}

// toVersion3 turns bare note timestamps into markers and adopts the current
// video field names.
func toVersion3(doc schema.Document) (schema.Document, error) {
	if videos, ok := doc["videos"].(map[string]any); ok {
		for _, raw := range videos {
			if video, ok := raw.(map[string]any); ok {
				rename(video, "channelTitle", "channel")
				rename(video, "durationSec", "durationSeconds")
			}
		}
	}

	notes, ok := doc["notes"].(map[string]any)
	if !ok {
		return doc, nil
	}
	for key, raw := range notes {
		note, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		list, ok := note["timestamps"].([]any)
		if !ok {
			continue
		}
		markers, err := toMarkers(list)
		if err != nil {
			return nil, fmt.Errorf("note %s: %w", key, err)
		}
		note["timestamps"] = markers
	}
	return doc, nil
}

func toMarkers(list []any) ([]any, error) {
	bySecond := make(map[float64]map[string]any, len(list))
	for _, item := range list {
		switch v := item.(type) {
		case float64:
			if _, ok := bySecond[v]; !ok {
				bySecond[v] = map[string]any{"seconds": v, "label": ""}
			}
		case map[string]any:
			seconds, ok := v["seconds"].(float64)
			if !ok {
				return nil, fmt.Errorf("timestamp marker without numeric seconds")
			}
			bySecond[seconds] = v
		default:
			return nil, fmt.Errorf("unexpected timestamp %T", item)
		}
	}

	seconds := make([]float64, 0, len(bySecond))
	for s := range bySecond {
		seconds = append(seconds, s)
	}
	sort.Float64s(seconds)

	markers := make([]any, 0, len(seconds))
	for _, s := range seconds {
		markers = append(markers, bySecond[s])
	}
	return markers, nil
}

func rename(m map[string]any, from, to string) {
	v, ok := m[from]
	if !ok {
		return
	}
	delete(m, from)
	if _, exists := m[to]; !exists {
		m[to] = v
	}
}
