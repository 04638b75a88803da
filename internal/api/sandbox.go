package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/blast/internal/email"
	"github.com/foxzi/blast/internal/transport"
)

// SandboxListResponse is the response for GET /api/v1/sandbox/messages
type SandboxListResponse struct {
	Messages []transport.CapturedMessage `json:"messages"`
	Total    int                         `json:"total"`
}

// handleSandboxList handles GET /api/v1/sandbox/messages, newest first.
// Supports ?to= and ?limit= (default 100, max 1000).
func (s *Server) handleSandboxList(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 {
			limit = min(l, 1000)
		}
	}
	to := email.Normalize(r.URL.Query().Get("to"))

	all := s.mailbox.Messages()
	resp := SandboxListResponse{Messages: []transport.CapturedMessage{}}
	for i := len(all) - 1; i >= 0; i-- {
		if to != "" && !strings.EqualFold(email.Normalize(all[i].To), to) {
			continue
		}
		resp.Total++
		if len(resp.Messages) < limit {
			resp.Messages = append(resp.Messages, all[i])
		}
	}

	sendJSON(w, http.StatusOK, resp)
}

// handleSandboxGet handles GET /api/v1/sandbox/messages/{id}
func (s *Server) handleSandboxGet(w http.ResponseWriter, r *http.Request) {
	msg, ok := s.mailbox.Get(chi.URLParam(r, "id"))
	if !ok {
		sendError(w, http.StatusNotFound, "Message not found")
		return
	}
	sendJSON(w, http.StatusOK, msg)
}

// handleSandboxClear handles DELETE /api/v1/sandbox/messages
func (s *Server) handleSandboxClear(w http.ResponseWriter, r *http.Request) {
	n := s.mailbox.Clear()
	s.logger.Info("sandbox mailbox cleared", "deleted", n)
	sendJSON(w, http.StatusOK, map[string]int{"deleted": n})
}
