package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"disbursa.org/internal/address"
	"disbursa.org/internal/audit"
	"disbursa.org/internal/models"
)

type tokenRequest struct {
	Handle    string `json:"handle"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

type tokenResponse struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	Identity  models.Identity `json:"identity"`
}

// handleAuthToken exchanges a wallet signature for a bearer token.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !bind(w, r, &req) {
		return
	}

	handle := address.Normalize(req.Handle)
	if !address.Valid(handle) {
		writeError(w, r, http.StatusBadRequest, "handle must be a wallet address")
		return
	}
	if strings.TrimSpace(req.Message) == "" || strings.TrimSpace(req.Signature) == "" {
		writeError(w, r, http.StatusBadRequest, "message and signature are required")
		return
	}

	if err := a.svc.Verifier.Verify(r.Context(), handle, req.Message, req.Signature); err != nil {
		_ = audit.LogEvent(r.Context(), "auth.signature.rejected", map[string]any{
			"handle": handle,
		})
		if errors.Is(err, models.ErrUnauthenticated) {
			a.fail(w, r, err)
			return
		}
		writeError(w, r, http.StatusUnauthorized, "signature verification failed")
		return
	}

	ident, err := a.svc.Identity.Resolve(r.Context(), handle)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	token, expiresAt, err := a.svc.Tokens.Issue(ident.Handle)
	if err != nil {
		a.log.Error().Err(err).Msg("token generation failed")
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"handle":     ident.Handle,
		"identity":   ident.ID,
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		Identity:  ident,
	})
}

func (a *API) handleProfile(w http.ResponseWriter, r *http.Request) {
	ident, err := a.svc.Identity.Resolve(r.Context(), handleOf(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ident)
}

func (a *API) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req models.ProfileUpdate
	if !bind(w, r, &req) {
		return
	}
	ident, err := a.svc.Identity.UpdateProfile(r.Context(), handleOf(r), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ident)
}
