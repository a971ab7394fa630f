package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/optimisticlucifer/ghostGuide-sub001/internal/audio"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/pipeline"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/process"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/session"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/storage"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/transcribe"
)

const maxBodyBytes = 1 << 16

var sessionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_.:-]{1,128}$`)

type RecordingStore interface {
	GetRecordingsByDate(date string) ([]storage.Recording, error)
	GetRecording(id string) (storage.Recording, error)
	GetFragments(recordingID string) ([]transcribe.Fragment, error)
	GetReplies(recordingID string) ([]storage.Reply, error)
	GetDates() ([]string, error)
}

// Controller is the recording surface of the pipeline.
type Controller interface {
	StartRecording(ctx context.Context, sessionID string, source audio.Source) error
	StopRecording(ctx context.Context, sessionID string) (string, error)
	IsRecording(sessionID string) session.Status
	ActiveSessions() []string
	Fragments(sessionID string) []transcribe.Fragment
	ToggleAutoRecorder(ctx context.Context, sessionID string, active bool, source audio.Source) (string, error)
	FlushAutoRecorder(ctx context.Context, sessionID string) (pipeline.FlushResult, error)
	CloseSession(ctx context.Context, sessionID string) error
}

type recordingRequest struct {
	Source string `json:"source"`
}

type autoRecorderRequest struct {
	Active bool   `json:"active"`
	Source string `json:"source"`
}

func registerControlRoutes(mux *http.ServeMux, ctrl Controller, opts Options) {
	mux.HandleFunc("POST /api/sessions/{id}/recording", func(w http.ResponseWriter, r *http.Request) {
		id, ok := sessionID(w, r)
		if !ok {
			return
		}
		var req recordingRequest
		if !decodeBody(w, r, &req) {
			return
		}
		source, err := sourceOr(req.Source, opts.DefaultSource)
		if err != nil {
			writeError(w, err)
			return
		}

		if err := ctrl.StartRecording(r.Context(), id, source); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, ctrl.IsRecording(id))
	})

	mux.HandleFunc("DELETE /api/sessions/{id}/recording", func(w http.ResponseWriter, r *http.Request) {
		id, ok := sessionID(w, r)
		if !ok {
			return
		}
		transcript, err := ctrl.StopRecording(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"transcript": transcript})
	})

	mux.HandleFunc("GET /api/sessions/{id}/recording", func(w http.ResponseWriter, r *http.Request) {
		id, ok := sessionID(w, r)
		if !ok {
			return
		}
		fragments := ctrl.Fragments(id)
		if fragments == nil {
			fragments = []transcribe.Fragment{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    ctrl.IsRecording(id),
			"fragments": fragments,
		})
	})

	mux.HandleFunc("PUT /api/sessions/{id}/auto-recorder", func(w http.ResponseWriter, r *http.Request) {
		id, ok := sessionID(w, r)
		if !ok {
			return
		}
		var req autoRecorderRequest
		if !decodeBody(w, r, &req) {
			return
		}

		var source audio.Source
		if req.Active {
			var err error
			if source, err = sourceOr(req.Source, opts.DefaultSource); err != nil {
				writeError(w, err)
				return
			}
		}

		transcript, err := ctrl.ToggleAutoRecorder(r.Context(), id, req.Active, source)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     ctrl.IsRecording(id),
			"transcript": transcript,
		})
	})

	mux.HandleFunc("POST /api/sessions/{id}/auto-recorder/flush", func(w http.ResponseWriter, r *http.Request) {
		id, ok := sessionID(w, r)
		if !ok {
			return
		}
		res, err := ctrl.FlushAutoRecorder(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	mux.HandleFunc("DELETE /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, ok := sessionID(w, r)
		if !ok {
			return
		}
		if err := ctrl.CloseSession(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		var warnings []string
		if opts.Warnings != nil {
			warnings = opts.Warnings()
		}
		if warnings == nil {
			warnings = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"warnings": warnings,
			"active":   ctrl.ActiveSessions(),
		})
	})
}

func registerArchiveRoutes(mux *http.ServeMux, store RecordingStore) {
	mux.HandleFunc("GET /api/recordings", func(w http.ResponseWriter, r *http.Request) {
		date := r.URL.Query().Get("date")
		if date == "" {
			date = time.Now().UTC().Format("2006-01-02")
		}
		if _, err := time.Parse("2006-01-02", date); err != nil {
			writeJSONError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}

		recordings, err := store.GetRecordingsByDate(date)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list recordings: %v", err))
			return
		}
		if recordings == nil {
			recordings = []storage.Recording{}
		}
		writeJSON(w, http.StatusOK, recordings)
	})

	mux.HandleFunc("GET /api/recordings/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if !validSessionID(id) {
			writeJSONError(w, http.StatusBadRequest, "invalid recording id")
			return
		}

		rec, err := store.GetRecording(id)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, sql.ErrNoRows) {
				status = http.StatusNotFound
			}
			writeJSONError(w, status, fmt.Sprintf("get recording: %v", err))
			return
		}

		fragments, err := store.GetFragments(id)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get recording fragments: %v", err))
			return
		}
		replies, err := store.GetReplies(id)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get recording replies: %v", err))
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"recording": rec,
			"fragments": fragments,
			"replies":   replies,
		})
	})

	mux.HandleFunc("GET /api/dates", func(w http.ResponseWriter, r *http.Request) {
		dates, err := store.GetDates()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get dates: %v", err))
			return
		}
		if dates == nil {
			dates = []string{}
		}
		writeJSON(w, http.StatusOK, dates)
	})
}

func sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if !validSessionID(id) {
		writeJSONError(w, http.StatusBadRequest, "invalid session id")
		return "", false
	}
	return id, true
}

func validSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// decodeBody reads an optional JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func sourceOr(raw string, fallback audio.Source) (audio.Source, error) {
	if raw == "" && fallback != "" {
		return fallback, nil
	}
	return audio.ParseSource(raw)
}

// statusFor maps pipeline errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrAlreadyRecording), errors.Is(err, session.ErrNotRecording):
		return http.StatusConflict
	case errors.Is(err, audio.ErrUnknownSource), errors.Is(err, session.ErrInvalidID):
		return http.StatusBadRequest
	case errors.Is(err, process.ErrDeviceUnavailable),
		errors.Is(err, process.ErrExecutableNotFound),
		errors.Is(err, pipeline.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSONError(w, statusFor(err), err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
