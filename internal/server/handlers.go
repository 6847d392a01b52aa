package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"time"

	apperrors "github.com/satindergrewal/phonoscope/internal/errors"
	"github.com/satindergrewal/phonoscope/internal/filter"
	"github.com/satindergrewal/phonoscope/internal/logging"
	"github.com/satindergrewal/phonoscope/internal/render"
	"github.com/satindergrewal/phonoscope/internal/session"
)

const maxRequestBody = 64 << 10

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDevices lists capture inputs.
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devs, err := s.deps.Devices.Devices()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devs})
}

type filterResponse struct {
	Mode string `json:"mode"`
	Kind string `json:"kind"`
	filter.Config
}

// handleFilter selects the pre-filter for the next recording.
func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	cfg := s.deps.Session.ConfigureFilter(req.Mode)
	writeJSON(w, http.StatusOK, filterResponse{Mode: cfg.Mode.String(), Kind: cfg.Kind.String(), Config: cfg})
}

// handleStart acquires the device and begins recording. The body is
// optional: an empty device falls back to the configured default.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID string  `json:"device_id"`
		Filter   *string `json:"filter"`
	}
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	if req.DeviceID == "" {
		req.DeviceID = s.config.DefaultDevice
	}
	if req.Filter != nil {
		s.deps.Session.ConfigureFilter(*req.Filter)
	}

	if err := s.deps.Session.Start(r.Context(), req.DeviceID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Session.Status())
}

// handleStop ends the recording and waits for the WAV.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Session.Stop(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Session.Status())
}

type statusResponse struct {
	session.Status
	Trace *render.Stats `json:"trace,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Status: s.deps.Session.Status()}
	if s.deps.Renderer != nil {
		st := s.deps.Renderer.Stats()
		resp.Trace = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRecording serves the last finished recording as a download.
func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	f, ok := s.deps.Session.Output()
	if !ok {
		http.Error(w, "no recording available", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", s.config.OutputName))
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, s.config.OutputName, time.Time{}, f.Reader())
}

// handleTracePNG returns the current scroll buffer.
func (s *Server) handleTracePNG(w http.ResponseWriter, r *http.Request) {
	if s.deps.Renderer == nil {
		http.Error(w, "trace not available", http.StatusNotFound)
		return
	}
	img := s.deps.Renderer.Snapshot()
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := png.Encode(w, img); err != nil {
		log.Warn("trace encode", logging.KeyError, err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("response encode", logging.KeyError, err)
	}
}

// statusFor maps the error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrNoDeviceSelected):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, apperrors.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, apperrors.ErrSessionActive), errors.Is(err, apperrors.ErrNotRecording):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrDecodeFailure), errors.Is(err, apperrors.ErrEncodeFailure):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		log.Error("request failed", logging.KeyError, err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
