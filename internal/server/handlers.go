package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/Impulse-Zero/python.github.io/internal/logger"
	"github.com/Impulse-Zero/python.github.io/internal/page"
	"github.com/Impulse-Zero/python.github.io/internal/progress"
	"github.com/Impulse-Zero/python.github.io/internal/tracker"
)

// maxBody caps request bodies; progress documents are the largest payload
const maxBody = 1 << 20

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ProgressSummary is returned by GET /api/progress
type ProgressSummary struct {
	Progress      *progress.Record `json:"progress"`
	GlobalPercent int              `json:"globalPercent"`
	Modules       map[string]int   `json:"modules"`
}

type checkRequest struct {
	Code string `json:"code"`
}

type expansionRequest struct {
	Module   string `json:"module"`
	Expanded bool   `json:"expanded"`
}

type scrollRequest struct {
	Position float64 `json:"position"`
}

type outlineRequest struct {
	Hrefs []string `json:"hrefs"`
}

// writeJSONResponse writes a JSON response
func (s *Server) writeJSONResponse(w http.ResponseWriter, statusCode int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode JSON response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// writeErrorResponse writes an error response
func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSONResponse(w, statusCode, APIResponse{
		Success: false,
		Error:   message,
	})
}

// writeSuccessResponse writes a success response
func (s *Server) writeSuccessResponse(w http.ResponseWriter, data interface{}) {
	s.writeJSONResponse(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writePageError maps session errors to status codes
func (s *Server) writePageError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, page.ErrNotCoursePage):
		s.writeErrorResponse(w, http.StatusConflict, err.Error())
	case errors.Is(err, page.ErrClosed):
		s.writeErrorResponse(w, http.StatusGone, err.Error())
	case errors.Is(err, page.ErrNotInbound), errors.Is(err, page.ErrBadEvent):
		s.writeErrorResponse(w, http.StatusBadRequest, err.Error())
	default:
		logger.FromContext(r.Context()).Error("Page request failed", map[string]interface{}{
			"error": err.Error(),
		})
		s.writeErrorResponse(w, http.StatusInternalServerError, "Internal error")
	}
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(dst); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// session looks up the page named in the path, refreshing its idle timer
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*page.Session, bool) {
	id := r.PathValue("id")
	sess, ok := s.sessions.Get(id)
	if !ok {
		s.writeErrorResponse(w, http.StatusNotFound, "Page session not found")
		return nil, false
	}
	return sess, true
}

// handleProgress handles GET /api/progress
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	if s.deps.Repo == nil {
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "Progress storage is not configured")
		return
	}

	rec, err := s.deps.Repo.Load(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to load progress", map[string]interface{}{
			"error": err.Error(),
		})
		s.writeErrorResponse(w, http.StatusInternalServerError, "Failed to load progress")
		return
	}

	summary := ProgressSummary{
		Progress:      rec,
		GlobalPercent: rec.GlobalPercent(),
		Modules:       make(map[string]int, len(rec.Modules)),
	}
	for id := range rec.Modules {
		summary.Modules[id] = rec.ModulePercent(id)
	}
	s.writeSuccessResponse(w, summary)
}

// handleOpenPage handles POST /api/pages
func (s *Server) handleOpenPage(w http.ResponseWriter, r *http.Request) {
	var opts page.Options
	if !s.decodeBody(w, r, &opts) {
		return
	}
	if opts.URL == "" {
		s.writeErrorResponse(w, http.StatusBadRequest, "url is required")
		return
	}

	sess, err := page.Open(r.Context(), s.deps, opts)
	if err != nil {
		logger.FromContext(r.Context()).Warn("Failed to open page", map[string]interface{}{
			"url":   opts.URL,
			"error": err.Error(),
		})
		s.writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	s.sessions.Set(sess.ID(), sess, s.ttl)

	s.writeJSONResponse(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    sess.Info(),
	})
}

// handleGetPage handles GET /api/pages/{id}
func (s *Server) handleGetPage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	s.writeSuccessResponse(w, sess.Info())
}

// handleClosePage handles DELETE /api/pages/{id}, the page unload
func (s *Server) handleClosePage(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.Delete(r.PathValue("id")) {
		s.writeErrorResponse(w, http.StatusNotFound, "Page session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePublishEvent handles POST /api/pages/{id}/events. The response
// carries the events the page should react to.
func (s *Server) handlePublishEvent(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := sess.Dispatch(data); err != nil {
		s.writePageError(w, r, err)
		return
	}
	s.writeSuccessResponse(w, sess.Drain())
}

// handleDrainEvents handles GET /api/pages/{id}/events
func (s *Server) handleDrainEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	s.writeSuccessResponse(w, sess.Drain())
}

// handleToggleTheme handles POST /api/pages/{id}/theme
func (s *Server) handleToggleTheme(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	theme, err := sess.ToggleTheme(r.Context())
	if err != nil {
		s.writePageError(w, r, err)
		return
	}
	s.writeSuccessResponse(w, map[string]string{"theme": string(theme)})
}

// handleCheckExercise handles POST /api/pages/{id}/check
func (s *Server) handleCheckExercise(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req checkRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	passed, err := sess.CheckExercise(req.Code)
	if err != nil {
		s.writePageError(w, r, err)
		return
	}
	s.writeSuccessResponse(w, map[string]interface{}{
		"passed": passed,
		"events": sess.Drain(),
	})
}

// handleGetExpansion handles GET /api/pages/{id}/expansion
func (s *Server) handleGetExpansion(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	state, err := sess.ModuleExpansion()
	if err != nil {
		s.writePageError(w, r, err)
		return
	}
	s.writeSuccessResponse(w, state)
}

// handleSetExpansion handles PUT /api/pages/{id}/expansion
func (s *Server) handleSetExpansion(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req expansionRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Module == "" {
		s.writeErrorResponse(w, http.StatusBadRequest, "module is required")
		return
	}
	saved, err := sess.SetModuleExpanded(req.Module, req.Expanded)
	if err != nil {
		s.writePageError(w, r, err)
		return
	}
	s.writeSuccessResponse(w, map[string]bool{"saved": saved})
}

// handleRestoreScroll handles GET /api/pages/{id}/scroll. The saved
// position is handed out once.
func (s *Server) handleRestoreScroll(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	state, found, err := sess.RestoreScroll()
	if err != nil {
		s.writePageError(w, r, err)
		return
	}
	var data *tracker.ScrollState
	if found {
		data = &state
	}
	s.writeSuccessResponse(w, map[string]interface{}{
		"found": found,
		"state": data,
	})
}

// handleSaveScroll handles POST /api/pages/{id}/scroll
func (s *Server) handleSaveScroll(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req scrollRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	saved, err := sess.SaveScroll(req.Position)
	if err != nil {
		s.writePageError(w, r, err)
		return
	}
	s.writeSuccessResponse(w, map[string]bool{"saved": saved})
}

// handleOutline handles POST /api/pages/{id}/outline
func (s *Server) handleOutline(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req outlineRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	items, err := sess.Outline(req.Hrefs)
	if err != nil {
		s.writePageError(w, r, err)
		return
	}
	s.writeSuccessResponse(w, items)
}
