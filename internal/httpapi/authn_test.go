package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"disbursa.org/internal/auth"
)

func newAuthAPI(t *testing.T, now func() time.Time) (*API, *auth.Tokens) {
	t.Helper()
	tokens, err := auth.NewTokens("authn-secret", time.Minute, auth.WithTokenClock(now))
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	return &API{svc: Services{Tokens: tokens}}, tokens
}

func echoHandle() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(handleOf(r)))
	})
}

func TestWithAuthAcceptsValidToken(t *testing.T) {
	api, tokens := newAuthAPI(t, time.Now)
	handle := "0x00000000000000000000000000000000000000AA"
	token, _, err := tokens.Issue(handle)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/orgs", nil)
	req.Header.Set("Authorization", "bearer "+token)
	rr := httptest.NewRecorder()
	api.withAuth(echoHandle()).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Body.String(); got != "0x00000000000000000000000000000000000000aa" {
		t.Fatalf("unexpected handle in context: %q", got)
	}
}

func TestWithAuthRejectsMissingToken(t *testing.T) {
	api, _ := newAuthAPI(t, time.Now)

	req := httptest.NewRequest(http.MethodGet, "/v1/orgs", nil)
	rr := httptest.NewRecorder()
	api.withAuth(echoHandle()).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got == "" {
		t.Fatalf("expected WWW-Authenticate header set")
	}
}

func TestWithAuthRejectsExpiredToken(t *testing.T) {
	issuedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := issuedAt
	api, tokens := newAuthAPI(t, func() time.Time { return clock })
	token, _, err := tokens.Issue("0x00000000000000000000000000000000000000aa")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	clock = issuedAt.Add(2 * time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/v1/orgs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	api.withAuth(echoHandle()).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"  bearer   abc  ", "abc", true},
		{"Basic abc", "", false},
		{"Bearer ", "", false},
		{"", "", false},
		{"Bear", "", false},
	}
	for _, tc := range cases {
		got, err := extractBearerToken(tc.header)
		if tc.ok != (err == nil) || got != tc.want {
			t.Fatalf("extractBearerToken(%q) = %q, %v", tc.header, got, err)
		}
	}
}
