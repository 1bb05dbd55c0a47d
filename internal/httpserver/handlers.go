package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"

	"burnpaste/internal/paste"
)

// expiresLayout renders expiry instants as ISO-8601 UTC with milliseconds.
const expiresLayout = "2006-01-02T15:04:05.000Z"

const notFoundMessage = "Paste not found"

type createResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type pasteResponse struct {
	Content        string  `json:"content"`
	RemainingViews *int    `json:"remaining_views"`
	ExpiresAt      *string `json:"expires_at"`
}

type errorResponse struct {
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type statusResponse struct {
	OK bool `json:"ok"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{OK: true})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, statusResponse{OK: false})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{OK: true})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	maxBytes := s.service.MaxBytes()
	// JSON escaping can grow content up to six times.
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes)*6+4096)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Message: fmt.Sprintf("Content exceeds %d byte limit", maxBytes),
				Field:   "content",
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "Unable to read request body"})
		return
	}

	in, err := paste.ParseCreateInput(body, maxBytes)
	if err != nil {
		s.createError(w, err)
		return
	}

	p, err := s.service.Create(r.Context(), in)
	if err != nil {
		s.createError(w, err)
		return
	}
	s.metrics.created.Inc()

	writeJSON(w, http.StatusCreated, createResponse{ID: p.ID, URL: s.shareURL(r, p.ID)})
}

func (s *Server) createError(w http.ResponseWriter, err error) {
	var verr *paste.ValidationError
	switch {
	case errors.Is(err, paste.ErrMalformedJSON):
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "Invalid JSON body"})
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: verr.Message, Field: verr.Field})
	default:
		s.serverError(w, err)
	}
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	view, ok := s.consume(w, r)
	if !ok {
		return
	}
	resp := pasteResponse{Content: view.Content, RemainingViews: view.RemainingViews}
	if view.ExpiresAt != nil {
		formatted := view.ExpiresAt.UTC().Format(expiresLayout)
		resp.ExpiresAt = &formatted
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleView serves the paste body as plain text. It consumes a view exactly
// like the JSON endpoint.
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	view, ok := s.consume(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	_, _ = io.WriteString(w, view.Content)
}

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var err error
	if now, ok := s.readTime(r); ok {
		_, err = s.service.PeekAt(r.Context(), id, now)
	} else {
		_, err = s.service.Peek(r.Context(), id)
	}
	if err != nil {
		if errors.Is(err, paste.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Message: notFoundMessage})
			return
		}
		s.serverError(w, err)
		return
	}

	png, err := qrcode.Encode(s.shareURL(r, id), qrcode.Medium, 256)
	if err != nil {
		s.serverError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// consume reads the paste named in the route, spending one view. On failure
// it writes the error response and returns false.
func (s *Server) consume(w http.ResponseWriter, r *http.Request) (*paste.View, bool) {
	id := chi.URLParam(r, "id")

	var (
		view *paste.View
		err  error
	)
	if now, ok := s.readTime(r); ok {
		view, err = s.service.ReadAt(r.Context(), id, now)
	} else {
		view, err = s.service.Read(r.Context(), id)
	}
	if err != nil {
		if errors.Is(err, paste.ErrNotFound) {
			s.metrics.read(readNotFound)
			writeJSON(w, http.StatusNotFound, errorResponse{Message: notFoundMessage})
			return nil, false
		}
		s.metrics.read(readError)
		s.serverError(w, err)
		return nil, false
	}
	s.metrics.read(readServed)
	return view, true
}

func (s *Server) serverError(w http.ResponseWriter, err error) {
	var perr *paste.PersistenceError
	if errors.As(err, &perr) {
		s.logger.Error("persistence failure", "op", perr.Op, "error", perr.Err)
	} else {
		s.logger.Error("internal error", "error", err)
	}
	writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "Internal server error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
