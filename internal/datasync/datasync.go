// Package datasync moves the whole state between the store and export
// documents in JSON or YAML.
package datasync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/at-ishikawa/playtrack/internal/schema"
	"github.com/at-ishikawa/playtrack/internal/store"
)

// Format is the encoding of an export document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format from a file extension. Unknown
// extensions are JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// ParseFormat validates a user supplied format name.
func ParseFormat(name string) (Format, error) {
	switch Format(strings.ToLower(name)) {
	case FormatJSON:
		return FormatJSON, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown format %q, expected json or yaml", name)
}

//go:generate mockgen -source=datasync.go -destination=../mocks/datasync/mock_store.go -package=mock_datasync

// Store is the part of the state store used for import and export.
type Store interface {
	Get(ctx context.Context) (schema.Envelope, error)
	Import(ctx context.Context, doc schema.Document, opts store.ImportOptions) (store.ImportResult, error)
}

// Decode reads an untrusted document. YAML input is normalized to the
// shapes JSON decoding produces so both formats reach the validator alike.
func Decode(r io.Reader, format Format) (schema.Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("io.ReadAll() > %w", err)
	}

	switch format {
	case FormatYAML:
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, &store.ImportError{Reason: "document is not valid YAML", Err: err}
		}
		normalized, err := schema.Normalize(raw)
		if err != nil {
			return nil, &store.ImportError{Reason: "document cannot be represented as JSON", Err: err}
		}
		doc, ok := normalized.(map[string]any)
		if !ok {
			return nil, &store.ImportError{Reason: fmt.Sprintf("top level must be a mapping, got %T", normalized)}
		}
		return doc, nil
	default:
		doc, err := schema.ParseDocument(data)
		if err != nil {
			return nil, &store.ImportError{Reason: "document is not a JSON object", Err: err}
		}
		return doc, nil
	}
}

// Encode writes env in the given format.
func Encode(w io.Writer, env schema.Envelope, format Format) error {
	switch format {
	case FormatYAML:
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(env); err != nil {
			return fmt.Errorf("yaml.Encode() > %w", err)
		}
		return encoder.Close()
	default:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(env); err != nil {
			return fmt.Errorf("json.Encode() > %w", err)
		}
		return nil
	}
}

// Importer reads export documents into the store and reports what changed.
type Importer struct {
	store  Store
	writer io.Writer
}

func NewImporter(s Store, writer io.Writer) *Importer {
	return &Importer{
		store:  s,
		writer: writer,
	}
}

// Import decodes r and hands it to the store, which migrates and validates
// it like any stored document.
func (imp *Importer) Import(ctx context.Context, r io.Reader, format Format, opts store.ImportOptions) (*store.ImportResult, error) {
	doc, err := Decode(r, format)
	if err != nil {
		return nil, err
	}
	result, err := imp.store.Import(ctx, doc, opts)
	if err != nil {
		return nil, err
	}

	if result.FromVersion < schema.CurrentVersion {
		fmt.Fprintf(imp.writer, "  [MIGRATE]  version %d -> %d\n", result.FromVersion, schema.CurrentVersion)
	}
	imp.report("playlists", result.Playlists)
	imp.report("videos", result.Videos)
	imp.report("progress", result.Progress)
	imp.report("notes", result.Notes)
	if result.DryRun {
		fmt.Fprintln(imp.writer, "  (dry run, nothing was written)")
	}
	return &result, nil
}

func (imp *Importer) report(name string, c store.Counts) {
	if c.Added > 0 {
		fmt.Fprintf(imp.writer, "  [NEW]  %d %s\n", c.Added, name)
	}
	if c.Updated > 0 {
		fmt.Fprintf(imp.writer, "  [UPDATE]  %d %s\n", c.Updated, name)
	}
	if c.Removed > 0 {
		fmt.Fprintf(imp.writer, "  [REMOVE]  %d %s\n", c.Removed, name)
	}
}

// Exporter writes the current state.
type Exporter struct {
	store Store
}

func NewExporter(s Store) *Exporter {
	return &Exporter{store: s}
}

func (e *Exporter) Export(ctx context.Context, w io.Writer, format Format) error {
	env, err := e.store.Get(ctx)
	if err != nil {
		return fmt.Errorf("store.Get() > %w", err)
	}
	return Encode(w, env, format)
}
