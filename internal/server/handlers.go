package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/at-ishikawa/playtrack/internal/datasync"
	"github.com/at-ishikawa/playtrack/internal/schema"
	"github.com/at-ishikawa/playtrack/internal/storage"
	"github.com/at-ishikawa/playtrack/internal/store"
)

const maxSettingsBytes = 1 << 20

type errorResponse struct {
	Error    string   `json:"error"`
	Detail   string   `json:"detail,omitempty"`
	Problems []string `json:"problems,omitempty"`
}

type statsResponse struct {
	PlaylistID           string  `json:"playlistId"`
	Title                string  `json:"title"`
	VideoCount           int     `json:"videoCount"`
	CompletedCount       int     `json:"completedCount"`
	TotalDurationSeconds int     `json:"totalDurationSeconds"`
	WatchedSeconds       int     `json:"watchedSeconds"`
	Completion           float64 `json:"completion"`
}

// requestError is a malformed request, as opposed to a rejected state.
type requestError struct {
	err error
}

func (e *requestError) Error() string {
	return e.err.Error()
}

func (e *requestError) Unwrap() error {
	return e.err
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	env, err := s.store.Get(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

// handleSettings applies the fields present in the body to the current
// settings. Missing fields keep their value.
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSettingsBytes))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var settings schema.Settings
	err = s.store.Update(r.Context(), schema.SliceSettings, func(env *schema.Envelope) error {
		decoder := json.NewDecoder(bytes.NewReader(body))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&env.Settings); err != nil {
			return &requestError{err: fmt.Errorf("decode settings: %w", err)}
		}
		settings = env.Settings
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleRemovePlaylist(w http.ResponseWriter, r *http.Request) {
	if err := s.store.RemovePlaylist(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePlaylistStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.PlaylistStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		PlaylistID:           stats.PlaylistID,
		Title:                stats.Title,
		VideoCount:           stats.VideoCount,
		CompletedCount:       stats.CompletedCount,
		TotalDurationSeconds: stats.TotalDurationSeconds,
		WatchedSeconds:       stats.WatchedSeconds,
		Completion:           stats.Completion(),
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := datasync.FormatJSON
	if name := r.URL.Query().Get("format"); name != "" {
		parsed, err := datasync.ParseFormat(name)
		if err != nil {
			s.writeError(w, r, &requestError{err: err})
			return
		}
		format = parsed
	}

	var buf bytes.Buffer
	if err := datasync.NewExporter(s.store).Export(r.Context(), &buf, format); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="playtrack-export.%s"`, format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// handleImport accepts a JSON or YAML document. The format comes from the
// format query parameter, then from the Content-Type header.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	format, err := requestFormat(r)
	if err != nil {
		s.writeError(w, r, &requestError{err: err})
		return
	}
	var opts store.ImportOptions
	if opts.DryRun, err = queryBool(query.Get("dry_run")); err != nil {
		s.writeError(w, r, &requestError{err: fmt.Errorf("dry_run: %w", err)})
		return
	}
	if opts.Merge, err = queryBool(query.Get("merge")); err != nil {
		s.writeError(w, r, &requestError{err: fmt.Errorf("merge: %w", err)})
		return
	}

	doc, err := datasync.Decode(http.MaxBytesReader(w, r.Body, maxImportBytes), format)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.store.Import(r.Context(), doc, opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func requestFormat(r *http.Request) (datasync.Format, error) {
	if name := r.URL.Query().Get("format"); name != "" {
		return datasync.ParseFormat(name)
	}
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return datasync.FormatJSON, nil
	}
	switch mediaType {
	case "application/yaml", "application/x-yaml", "text/yaml":
		return datasync.FormatYAML, nil
	default:
		return datasync.FormatJSON, nil
	}
}

func queryBool(value string) (bool, error) {
	if value == "" {
		return false, nil
	}
	return strconv.ParseBool(value)
}

func contentType(format datasync.Format) string {
	if format == datasync.FormatYAML {
		return "application/yaml"
	}
	return "application/json"
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		requestErr    *requestError
		importErr     *store.ImportError
		validationErr *schema.ValidationError
		maxBytesErr   *http.MaxBytesError
	)
	resp := errorResponse{Detail: err.Error()}
	if errors.As(err, &validationErr) {
		resp.Problems = validationErr.Problems
	}

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &maxBytesErr):
		status, resp.Error = http.StatusRequestEntityTooLarge, "too_large"
	case errors.As(err, &requestErr):
		status, resp.Error = http.StatusBadRequest, "invalid_request"
	case errors.As(err, &importErr):
		status, resp.Error, resp.Detail = http.StatusBadRequest, "import_rejected", importErr.Reason
	case validationErr != nil:
		status, resp.Error = http.StatusUnprocessableEntity, "invalid_state"
	case errors.Is(err, store.ErrNotFound):
		status, resp.Error = http.StatusNotFound, "not_found"
	case errors.Is(err, storage.ErrQuotaExceeded):
		status, resp.Error = http.StatusInsufficientStorage, "quota_exceeded"
	default:
		resp.Error = "internal"
	}

	event := s.logger.Debug()
	if status >= http.StatusInternalServerError {
		event = s.logger.Error()
	}
	event.Err(err).Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
