package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/bootrelay/internal/dispatch"
	"github.com/mattjoyce/bootrelay/internal/entrypoint"
	"github.com/mattjoyce/bootrelay/internal/journal"
	"github.com/mattjoyce/bootrelay/internal/protocol"
	"github.com/mattjoyce/bootrelay/internal/worker"
)

const maxBodyBytes = 64 * 1024

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.svc.Health())
}

// handleStart handles POST /start. The body is [dispatcherHandle, callbackHandle].
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	dispatcherHandle, callbackHandle, err := parseHandles(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = s.svc.Start(r.Context(), dispatcherHandle, callbackHandle)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, StartResponse{Result: true})
	case errors.Is(err, entrypoint.ErrChecksumMismatch):
		s.logger.Error("refusing to start tampered worker", "dispatcher_handle", dispatcherHandle, "error", err)
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, worker.ErrEntrypointNotFound):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error("start failed", "dispatcher_handle", dispatcherHandle, "error", err)
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("bootrelay error: %v", err))
	}
}

// parseHandles accepts exactly two JSON integers in an array.
func parseHandles(body []byte) (int64, int64, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil || raw == nil {
		return 0, 0, errors.New("JSON error: expected an array of two integer handles")
	}
	if len(raw) != 2 {
		return 0, 0, fmt.Errorf("JSON error: expected 2 handles, got %d", len(raw))
	}

	var out [2]int64
	for i, v := range raw {
		n, err := strconv.ParseInt(string(bytes.TrimSpace(v)), 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("JSON error: handle %d is not a 64-bit integer: %s", i, v)
		}
		out[i] = n
	}
	return out[0], out[1], nil
}

// handleSubmit handles POST /events/{kind}.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	kind := strings.TrimSpace(chi.URLParam(r, "kind"))
	if kind == "" {
		s.writeError(w, http.StatusBadRequest, "event kind is required")
		return
	}

	var req SubmitRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
			return
		}
	}
	if req.Source == "" {
		req.Source = "api"
	}

	ev := protocol.NewEvent(kind, req.Source, req.Attributes)
	resp := SubmitResponse{EventID: ev.ID, Kind: ev.Kind}

	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if !wait {
		disp := s.svc.Submit(r.Context(), ev)
		resp.Disposition = disp.String()
		if disp == dispatch.Rejected {
			s.writeError(w, http.StatusServiceUnavailable, "relay is shutting down")
			return
		}
		respondJSON(w, http.StatusAccepted, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.MaxWait)
	defer cancel()

	res, err := s.svc.SubmitAndWait(ctx, ev)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusGatewayTimeout, fmt.Sprintf("event %s not dispatched within %s", ev.ID, s.config.MaxWait))
		return
	case errors.Is(err, dispatch.ErrShutdown):
		s.writeError(w, http.StatusServiceUnavailable, "relay is shutting down")
		return
	case err != nil:
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	resp.Disposition = "completed"
	resp.Outcome = res.Outcome.String()
	resp.CallbackHandle = res.CallbackHandle
	resp.Message = res.Message
	respondJSON(w, http.StatusOK, resp)
}

// handleDispatches handles GET /dispatches?limit=N.
func (s *Server) handleDispatches(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.svc.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to read dispatch journal", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read dispatch journal")
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	respondJSON(w, http.StatusOK, DispatchesResponse{Dispatches: entries})
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
