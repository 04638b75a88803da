package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/foxzi/blast/internal/campaign"
	"github.com/foxzi/blast/internal/progress"
	"github.com/foxzi/blast/internal/transport"
)

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status          string   `json:"status"`
	Version         string   `json:"version"`
	Uptime          string   `json:"uptime"`
	ActiveCampaigns int64    `json:"active_campaigns"`
	Providers       []string `json:"providers"`
}

// ProvidersResponse is the response for GET /api/v1/providers
type ProvidersResponse struct {
	Providers []ProviderInfo `json:"providers"`
}

// ProviderInfo describes one selectable emailProvider value
type ProviderInfo struct {
	Name           string `json:"name"`
	SMTPHost       string `json:"smtp_host,omitempty"`
	RequiresSecret bool   `json:"requires_secret"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleSendEmails handles POST /api/sendEmails and POST /api/v1/campaigns.
// Request problems are answered with a JSON error before anything is
// streamed. After the 200 header only progress records follow.
func (s *Server) handleSendEmails(w http.ResponseWriter, r *http.Request) {
	if s.config.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	}

	req, err := campaign.DecodeRequest(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		var verr *campaign.ValidationError
		switch {
		case errors.As(err, &maxErr):
			sendError(w, http.StatusRequestEntityTooLarge, "Request body too large.")
		case errors.As(err, &verr):
			sendError(w, http.StatusBadRequest, verr.Message)
		default:
			sendError(w, http.StatusBadRequest, "Invalid JSON request body.")
		}
		return
	}

	c, err := s.campaigns.Prepare(r.Context(), req)
	if err != nil {
		var verr *campaign.ValidationError
		switch {
		case errors.As(err, &verr):
			sendError(w, http.StatusBadRequest, verr.Message)
		case errors.Is(err, campaign.ErrTransportSetup):
			sendError(w, http.StatusBadGateway, err.Error())
		default:
			s.logger.Error("failed to prepare campaign", "error", err)
			sendError(w, http.StatusInternalServerError, "Failed to prepare campaign.")
		}
		return
	}
	defer c.Close()

	// The campaign outlives the server read and write timeouts
	rc := http.NewResponseController(w)
	if err := rc.SetReadDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.logger.Warn("failed to clear read deadline", "error", err)
	}
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.logger.Warn("failed to clear write deadline", "error", err)
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Campaign-ID", c.ID)
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.logger.Warn("failed to flush stream header", "error", err)
	}

	s.active.Add(1)
	defer s.active.Add(-1)

	summary, err := s.campaigns.Run(r.Context(), c, progress.NewWriter(w))
	if err != nil {
		if r.Context().Err() != nil {
			s.logger.Warn("client disconnected during campaign",
				"campaign_id", c.ID,
				"sent", summary.Sent,
				"failed", summary.Failed)
			return
		}
		s.logger.Error("campaign aborted", "campaign_id", c.ID, "error", err)
		// Drop the connection so the client sees a stream without a complete record
		panic(http.ErrAbortHandler)
	}
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	kinds := s.campaigns.Providers()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}

	sendJSON(w, http.StatusOK, HealthResponse{
		Status:          "ok",
		Version:         Version,
		Uptime:          time.Since(s.startTime).Round(time.Second).String(),
		ActiveCampaigns: s.active.Load(),
		Providers:       names,
	})
}

// handleProviders handles GET /api/v1/providers
func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	kinds := s.campaigns.Providers()
	resp := ProvidersResponse{Providers: make([]ProviderInfo, 0, len(kinds))}
	for _, k := range kinds {
		info := ProviderInfo{Name: string(k), RequiresSecret: k.RequiresSecret()}
		if k.IsSMTP() {
			info.SMTPHost = transport.SMTPHost(k)
		}
		resp.Providers = append(resp.Providers, info)
	}
	sendJSON(w, http.StatusOK, resp)
}

func sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, status int, message string) {
	sendJSON(w, status, ErrorResponse{Error: message})
}
