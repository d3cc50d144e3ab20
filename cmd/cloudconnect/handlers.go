package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/showdeck/cloudconnect/internal/connection"
	"github.com/showdeck/cloudconnect/internal/oauthflow"
	"github.com/showdeck/cloudconnect/internal/oauthstate"
)

// Health check handler
func (s *server) handleHealth() http.HandlerFunc {
	type healthResponse struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{
			Status:  "ok",
			Version: Version,
		}
		if err := s.checkHealth(r.Context()); err != nil {
			resp.Status = "degraded"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		writeJSON(w, resp)
	}
}

// Flow initiation: returns the provider consent URL and the state token.
func (s *server) handleInitiate() http.HandlerFunc {
	type initiateRequest struct {
		Provider       string `json:"provider"`
		OrganizationID string `json:"organization_id"`
		UserID         string `json:"user_id"`
		ReturnURL      string `json:"return_url"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req initiateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Provider == "" || req.OrganizationID == "" || req.UserID == "" {
			http.Error(w, "provider, organization_id and user_id are required", http.StatusBadRequest)
			return
		}

		result, err := s.svc.Initiate(r.Context(), req.Provider, req.OrganizationID, req.UserID, req.ReturnURL)
		if err != nil {
			if errors.Is(err, oauthflow.ErrUnknownProvider) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			s.log.Error("initiate failed", zap.String("provider", req.Provider), zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, result)
	}
}

// Provider callback: consumes the state, exchanges the code, and returns
// the redirect target for the outer HTTP layer. This service never talks
// to the browser directly.
func (s *server) handleCallback() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		state := r.URL.Query().Get("state")
		if code == "" || state == "" {
			http.Error(w, "code and state are required", http.StatusBadRequest)
			return
		}

		result, err := s.svc.HandleCallback(r.Context(), code, state)
		if err != nil {
			switch {
			case errors.Is(err, oauthstate.ErrStateNotFound), errors.Is(err, oauthstate.ErrStateExpired):
				// The user must restart the flow.
				http.Error(w, err.Error(), http.StatusBadRequest)
			case errors.Is(err, oauthflow.ErrUnknownProvider):
				http.Error(w, err.Error(), http.StatusBadRequest)
			default:
				s.log.Error("callback failed", zap.Error(err))
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}
		writeJSON(w, result)
	}
}

type adminRequest struct {
	OrganizationID string `json:"organization_id"`
	Provider       string `json:"provider"`
}

type adminResponse struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// Administrative refresh of one connection.
func (s *server) handleRefresh() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.handleAdmin(w, r, s.svc.RefreshConnection)
	}
}

// Administrative revoke of one connection.
func (s *server) handleRevoke() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.handleAdmin(w, r, s.svc.RevokeConnection)
	}
}

func (s *server) handleAdmin(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, organizationID, provider string) error) {
	var req adminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.OrganizationID == "" || req.Provider == "" {
		http.Error(w, "organization_id and provider are required", http.StatusBadRequest)
		return
	}

	if err := op(r.Context(), req.OrganizationID, req.Provider); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, oauthflow.ErrUnknownProvider):
			status = http.StatusBadRequest
		case errors.Is(err, oauthflow.ErrConnectionNotFound):
			status = http.StatusNotFound
		case errors.Is(err, oauthflow.ErrNoRefreshToken):
			status = http.StatusConflict
		default:
			s.log.Error("admin operation failed",
				zap.String("provider", req.Provider),
				zap.String("organization_id", req.OrganizationID),
				zap.Error(err))
		}
		w.WriteHeader(status)
		writeJSON(w, adminResponse{Success: false, Reason: err.Error()})
		return
	}
	writeJSON(w, adminResponse{Success: true})
}

// connectionView is the sanitized listing shape: no token material.
type connectionView struct {
	Provider             string `json:"provider"`
	AccountID            string `json:"account_id,omitempty"`
	AccountEmail         string `json:"account_email,omitempty"`
	AccountName          string `json:"account_name,omitempty"`
	IsActive             bool   `json:"is_active"`
	RequiresReconnection bool   `json:"requires_reconnection"`
	ConnectedAt          string `json:"connected_at"`
	LastRefreshedAt      string `json:"last_refreshed_at,omitempty"`
	LastError            string `json:"last_error,omitempty"`
}

// Sanitized per-organization connection listing for the admin UI.
func (s *server) handleConnections() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID := r.URL.Query().Get("organization_id")
		if orgID == "" {
			http.Error(w, "organization_id is required", http.StatusBadRequest)
			return
		}

		views := make([]connectionView, 0, len(s.providers))
		for _, name := range s.providers {
			conn, err := s.conns.Get(r.Context(), orgID, name)
			if err != nil {
				s.log.Error("loading connection", zap.String("provider", name), zap.Error(err))
				continue
			}
			if conn == nil {
				continue
			}
			views = append(views, newConnectionView(conn))
		}
		writeJSON(w, views)
	}
}

func newConnectionView(c *connection.Connection) connectionView {
	v := connectionView{
		Provider:             c.Provider,
		AccountID:            c.Account.ID,
		AccountEmail:         c.Account.Email,
		AccountName:          c.Account.Name,
		IsActive:             c.IsActive,
		RequiresReconnection: c.RequiresReconnection,
		ConnectedAt:          c.ConnectedAt.Format(time.RFC3339),
		LastError:            c.LastError,
	}
	if c.LastRefreshedAt != nil {
		v.LastRefreshedAt = c.LastRefreshedAt.Format(time.RFC3339)
	}
	return v
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "error encoding response", http.StatusInternalServerError)
		return
	}
}
