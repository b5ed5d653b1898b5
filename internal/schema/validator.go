package schema

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslations "github.com/go-playground/validator/v10/translations/en"
	"github.com/go-viper/mapstructure/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed envelope.schema.json
var envelopeSchema []byte

const envelopeSchemaURL = "https://playtrack.local/envelope.schema.json"

// ValidationError lists every problem found in a document. A document that
// fails validation is never accepted as canonical.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid envelope: " + strings.Join(e.Problems, "; ")
}

// Validator checks untyped documents against the envelope schema, fills
// defaults and enforces value rules on the typed result.
type Validator struct {
	schema     *jsonschema.Schema
	validate   *validator.Validate
	translator ut.Translator
}

// NewValidator compiles the embedded envelope schema.
func NewValidator() (*Validator, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(envelopeSchema))
	if err != nil {
		return nil, fmt.Errorf("decode envelope schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(envelopeSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add envelope schema: %w", err)
	}
	compiled, err := compiler.Compile(envelopeSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile envelope schema: %w", err)
	}

	validate, trans, err := newStructValidator()
	if err != nil {
		return nil, err
	}
	return &Validator{
		schema:     compiled,
		validate:   validate,
		translator: trans,
	}, nil
}

// MustNewValidator is NewValidator for package initialisation and tests.
func MustNewValidator() *Validator {
	v, err := NewValidator()
	if err != nil {
		panic(err)
	}
	return v
}

// Validate turns an untyped document into a canonical Envelope or reports
// why it cannot be one. The input is not modified.
func (v *Validator) Validate(raw any) (Envelope, error) {
	src, ok := raw.(map[string]any)
	if !ok {
		return Envelope{}, &ValidationError{Problems: []string{fmt.Sprintf("document must be an object, got %T", raw)}}
	}
	doc := CloneDocument(src).(map[string]any)
	applyDefaults(doc)

	if err := v.schema.Validate(doc); err != nil {
		return Envelope{}, schemaError(err)
	}

	var env Envelope
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  &env,
	})
	if err != nil {
		return Envelope{}, fmt.Errorf("create decoder: %w", err)
	}
	if err := decoder.Decode(doc); err != nil {
		return Envelope{}, &ValidationError{Problems: []string{err.Error()}}
	}
	canonicalize(&env)

	if err := v.validate.Struct(env); err != nil {
		var fieldErrors validator.ValidationErrors
		if !errors.As(err, &fieldErrors) {
			return Envelope{}, fmt.Errorf("validate envelope: %w", err)
		}
		problems := make([]string, 0, len(fieldErrors))
		for _, fe := range fieldErrors {
			problems = append(problems, fmt.Sprintf("%s: %s",
				strings.TrimPrefix(fe.Namespace(), "Envelope."), fe.Translate(v.translator)))
		}
		return Envelope{}, &ValidationError{Problems: problems}
	}
	return env, nil
}

// ValidateEnvelope runs a typed envelope through the same pipeline as a
// stored document and returns its canonical form.
func (v *Validator) ValidateEnvelope(env Envelope) (Envelope, error) {
	doc, err := ToDocument(env)
	if err != nil {
		return Envelope{}, err
	}
	return v.Validate(doc)
}

func schemaError(err error) error {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return &ValidationError{Problems: []string{err.Error()}}
	}
	var problems []string
	for _, line := range strings.Split(verr.Error(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "jsonschema validation failed") {
			continue
		}
		problems = append(problems, strings.TrimPrefix(line, "- "))
	}
	if len(problems) == 0 {
		problems = []string{verr.Error()}
	}
	return &ValidationError{Problems: problems}
}

// canonicalize gives empty collections a single representation: top-level
// maps are never nil, per-note slices are nil when empty.
func canonicalize(env *Envelope) {
	if env.Playlists == nil {
		env.Playlists = map[string]Playlist{}
	}
	if env.Videos == nil {
		env.Videos = map[string]Video{}
	}
	if env.Progress == nil {
		env.Progress = map[string]Progress{}
	}
	if env.Notes == nil {
		env.Notes = map[string]Note{}
	}
	for id, n := range env.Notes {
		if len(n.Timestamps) == 0 {
			n.Timestamps = nil
		}
		if len(n.Tags) == 0 {
			n.Tags = nil
		}
		env.Notes[id] = n
	}
}

func newStructValidator() (*validator.Validate, ut.Translator, error) {
	validate := validator.New()

	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	trans, _ := uni.GetTranslator("en")
	if err := enTranslations.RegisterDefaultTranslations(validate, trans); err != nil {
		return nil, nil, fmt.Errorf("failed to register default translations: %w", err)
	}

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	validate.RegisterStructValidation(validateEnvelope, Envelope{})

	custom := map[string]string{
		"version":    "{0} must be the current envelope version",
		"keymatch":   "{0} must match the key it is stored under",
		"position":   "{0} must be unique within its playlist",
		"orderedset": "{0} must be sorted by seconds without duplicates",
	}
	for tag, text := range custom {
		tag, text := tag, text
		if err := validate.RegisterTranslation(tag, trans, func(ut ut.Translator) error {
			return ut.Add(tag, text, true)
		}, func(ut ut.Translator, fe validator.FieldError) string {
			t, _ := ut.T(tag, fe.Field())
			return t
		}); err != nil {
			return nil, nil, fmt.Errorf("failed to register %s translation: %w", tag, err)
		}
	}

	return validate, trans, nil
}

func validateEnvelope(sl validator.StructLevel) {
	env := sl.Current().Interface().(Envelope)

	if env.Version != CurrentVersion {
		sl.ReportError(env.Version, "version", "Version", "version", "")
	}

	for _, key := range sortedKeys(env.Playlists) {
		if p := env.Playlists[key]; p.ID != key {
			sl.ReportError(p.ID, fmt.Sprintf("playlists[%s].id", key), "ID", "keymatch", "")
		}
	}

	positions := make(map[string]map[int]string)
	for _, key := range sortedKeys(env.Videos) {
		v := env.Videos[key]
		if v.ID != key {
			sl.ReportError(v.ID, fmt.Sprintf("videos[%s].id", key), "ID", "keymatch", "")
		}
		if positions[v.PlaylistID] == nil {
			positions[v.PlaylistID] = make(map[int]string)
		}
		if _, taken := positions[v.PlaylistID][v.Position]; taken {
			sl.ReportError(v.Position, fmt.Sprintf("videos[%s].position", key), "Position", "position", "")
			continue
		}
		positions[v.PlaylistID][v.Position] = key
	}

	for _, key := range sortedKeys(env.Progress) {
		if p := env.Progress[key]; p.VideoID != key {
			sl.ReportError(p.VideoID, fmt.Sprintf("progress[%s].videoId", key), "VideoID", "keymatch", "")
		}
	}

	for _, key := range sortedKeys(env.Notes) {
		n := env.Notes[key]
		if n.ID != key {
			sl.ReportError(n.ID, fmt.Sprintf("notes[%s].id", key), "ID", "keymatch", "")
		}
		for i := 1; i < len(n.Timestamps); i++ {
			if n.Timestamps[i].Seconds <= n.Timestamps[i-1].Seconds {
				sl.ReportError(n.Timestamps, fmt.Sprintf("notes[%s].timestamps", key), "Timestamps", "orderedset", "")
				break
			}
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
