package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"disbursa.org/internal/audit"
	"disbursa.org/internal/auth"
	"disbursa.org/internal/models"
	"disbursa.org/internal/store"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders {error, code, request_id} for failures raised by the
// HTTP layer itself.
func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	payload := map[string]any{
		"error": msg,
		"code":  statusCode(status),
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, status, payload)
}

// fail renders a service error using its kind.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		a.log.Error().Err(err).
			Str("request_id", RequestIDFromContext(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
		msg = "internal error"
	case http.StatusForbidden:
		_ = audit.LogEvent(r.Context(), "access.denied", map[string]any{
			"path":   r.URL.Path,
			"method": r.Method,
			"reason": msg,
		})
	}
	payload := map[string]any{
		"error": msg,
		"code":  models.KindName(err),
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, status, payload)
}

// authorize runs the access check for op on the request's organization.
func (a *API) authorize(r *http.Request, op auth.Operation) error {
	return a.svc.Store.View(r.Context(), func(ctx context.Context, tx store.Tx) error {
		_, _, err := a.svc.Gate.Require(ctx, tx, chi.URLParam(r, "orgID"), handleOf(r), op)
		return err
	})
}

// rejectInput reports malformed query input only to callers allowed to
// perform op; everyone else gets the access failure.
func (a *API) rejectInput(w http.ResponseWriter, r *http.Request, op auth.Operation, err error) {
	if denied := a.authorize(r, op); denied != nil {
		a.fail(w, r, denied)
		return
	}
	a.fail(w, r, err)
}

func statusFor(err error) int {
	switch models.Kind(err) {
	case models.ErrNotFound:
		return http.StatusNotFound
	case models.ErrUnauthenticated:
		return http.StatusUnauthorized
	case models.ErrUnauthorized:
		return http.StatusForbidden
	case models.ErrTierLimitExceeded:
		return http.StatusPaymentRequired
	case models.ErrValidation, models.ErrCrossTenant:
		return http.StatusBadRequest
	case models.ErrComplianceBlock, models.ErrInvariantViolation, models.ErrConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func statusCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "ValidationError"
	case http.StatusUnauthorized:
		return "Unauthenticated"
	case http.StatusForbidden:
		return "Unauthorized"
	case http.StatusNotFound:
		return "NotFound"
	case http.StatusMethodNotAllowed:
		return "MethodNotAllowed"
	case http.StatusTooManyRequests:
		return "RateLimited"
	case http.StatusServiceUnavailable:
		return "Unavailable"
	}
	return "Internal"
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// bind decodes the body into dst and answers 400 on failure.
func bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(r, dst); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	return val, nil
}
