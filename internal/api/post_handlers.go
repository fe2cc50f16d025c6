package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/opensyndicate/syndicate/internal/broadcast"
)

// broadcastPost handles POST /api/multiple/post. The response body is an
// object keyed by platform name; the status code is 200 when every platform
// accepted the post, otherwise the worst failure status.
func (s *Server) broadcastPost(w http.ResponseWriter, r *http.Request) {
	var req broadcast.PostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	composite, err := s.broadcaster.Broadcast(r.Context(), req)
	if err != nil {
		s.writeBroadcastError(w, err)
		return
	}

	w.Header().Set("X-Broadcast-ID", composite.BroadcastID)
	s.writeJSON(w, composite.StatusCode(), composite.Payload())
}

// platformPost handles POST /api/{platform}/post. A success answers with the
// platform's own payload; a failure with the platform's error payload and
// status.
func (s *Server) platformPost(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "platform")
	if !broadcast.KnownTarget(name) {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown platform %q", name))
		return
	}
	target := broadcast.Target(strings.ToLower(strings.TrimSpace(name)))

	var req broadcast.PostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	composite, err := s.broadcaster.Post(r.Context(), target, req)
	if err != nil {
		s.writeBroadcastError(w, err)
		return
	}
	if len(composite.Results) == 0 {
		s.writeError(w, http.StatusInternalServerError, "no result for platform")
		return
	}

	w.Header().Set("X-Broadcast-ID", composite.BroadcastID)
	result := composite.Results[0]
	if result.Succeeded() {
		s.writeJSON(w, http.StatusOK, result.Response)
		return
	}
	payload := broadcast.NewErrorPayload(target, result.Err)
	s.writeJSON(w, payload.Status, payload)
}
