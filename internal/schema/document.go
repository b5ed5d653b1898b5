package schema

import (
	"encoding/json"
	"fmt"
)

// Document is the untyped form of a persisted envelope. Stored bytes are
// parsed into a Document first so that migration and validation see the
// data as it is, not as the current Go types would like it to be.
type Document = map[string]any

// ParseDocument decodes JSON bytes into a Document.
func ParseDocument(data []byte) (Document, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	doc, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("parse document: top level must be an object, got %T", raw)
	}
	return doc, nil
}

// ToDocument converts a typed envelope into its untyped form.
func ToDocument(env Envelope) (Document, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return ParseDocument(data)
}

// Normalize converts any decoded value (YAML decoders included) into the
// shapes produced by encoding/json: map[string]any, []any, float64, string, bool.
func Normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalize document: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("normalize document: %w", err)
	}
	return out, nil
}

// CloneDocument deep copies an untyped value.
func CloneDocument(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = CloneDocument(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = CloneDocument(val)
		}
		return out
	default:
		return v
	}
}

// Version reads the version field of a document. An absent version is 0.
func Version(doc Document) (int, error) {
	raw, ok := doc["version"]
	if !ok || raw == nil {
		return 0, nil
	}
	switch v := raw.(type) {
	case float64:
		if v != float64(int(v)) || v < 0 {
			return 0, fmt.Errorf("version must be a non-negative integer, got %v", v)
		}
		return int(v), nil
	case int:
		if v < 0 {
			return 0, fmt.Errorf("version must be a non-negative integer, got %d", v)
		}
		return v, nil
	case json.Number:
		n, err := v.Int64()
		if err != nil || n < 0 {
			return 0, fmt.Errorf("version must be a non-negative integer, got %s", v)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("version must be a number, got %T", raw)
	}
}

// applyDefaults fills absent optional fields in place. It only touches
// values of the expected shape and leaves anything else for the schema
// check to reject.
func applyDefaults(doc Document) {
	for _, slice := range []Slice{SlicePlaylists, SliceVideos, SliceProgress, SliceNotes, SliceSettings} {
		if v, ok := doc[string(slice)]; !ok || v == nil {
			doc[string(slice)] = map[string]any{}
		}
	}

	if settings, ok := doc[string(SliceSettings)].(map[string]any); ok {
		defaults := DefaultSettings()
		setDefault(settings, "theme", defaults.Theme)
		setDefault(settings, "playbackRate", defaults.PlaybackRate)
		setDefault(settings, "playerMode", defaults.PlayerMode)
		setDefault(settings, "keyboardShortcuts", defaults.KeyboardShortcuts)
	}

	eachEntry(doc, SlicePlaylists, func(p map[string]any) {
		setDefault(p, "title", "")
		setDefault(p, "channel", "")
	})
	eachEntry(doc, SliceVideos, func(v map[string]any) {
		setDefault(v, "title", "")
		setDefault(v, "channel", "")
	})
	eachEntry(doc, SliceProgress, func(p map[string]any) {
		setDefault(p, "watchedSeconds", float64(0))
		setDefault(p, "lastPositionSeconds", float64(0))
		setDefault(p, "completion", float64(0))
		setDefault(p, "lastWatchedAt", "")
		if v, ok := p["completedAt"]; ok && v == nil {
			delete(p, "completedAt")
		}
	})
	eachEntry(doc, SliceNotes, func(n map[string]any) {
		setDefault(n, "content", "")
		setDefault(n, "timestamps", []any{})
		setDefault(n, "tags", []any{})
		setDefault(n, "createdAt", "")
		setDefault(n, "updatedAt", "")
		if markers, ok := n["timestamps"].([]any); ok {
			for _, m := range markers {
				if marker, ok := m.(map[string]any); ok {
					setDefault(marker, "label", "")
				}
			}
		}
	})
}

func setDefault(m map[string]any, key string, value any) {
	if v, ok := m[key]; !ok || v == nil {
		m[key] = value
	}
}

func eachEntry(doc Document, slice Slice, fn func(map[string]any)) {
	entries, ok := doc[string(slice)].(map[string]any)
	if !ok {
		return
	}
	for _, e := range entries {
		if entry, ok := e.(map[string]any); ok {
			fn(entry)
		}
	}
}
