package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"disbursa.org/internal/audit"
	"disbursa.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withAuth requires a valid bearer token and stores its handle in the context.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="disbursa"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := a.svc.Tokens.Parse(token)
		if err != nil {
			_ = audit.LogEvent(r.Context(), "auth.token.rejected", map[string]any{
				"path": r.URL.Path,
			})
			w.Header().Set("WWW-Authenticate", `Bearer realm="disbursa", error="invalid_token"`)
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := auth.ContextWithHandle(r.Context(), claims.Subject)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// handleOf returns the authenticated wallet handle.
func handleOf(r *http.Request) string {
	h, _ := auth.HandleFromContext(r.Context())
	return h
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
