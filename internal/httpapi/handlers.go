// Package httpapi exposes the treasury services over HTTP and gRPC health.
package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"disbursa.org/internal/audit"
	"disbursa.org/internal/auth"
	"disbursa.org/internal/beneficiary"
	"disbursa.org/internal/billing"
	"disbursa.org/internal/config"
	"disbursa.org/internal/disbursement"
	"disbursa.org/internal/identity"
	"disbursa.org/internal/obs"
	"disbursa.org/internal/org"
	"disbursa.org/internal/screening"
	"disbursa.org/internal/store"
	"disbursa.org/internal/stream"
)

const serviceName = "disbursa-api"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe is a simple readiness check (database ping when configured).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Services are the domain components served by the API.
type Services struct {
	Store         store.Store
	Gate          *auth.Gate
	Tokens        *auth.Tokens
	Verifier      auth.SignatureVerifier
	Identity      *identity.Service
	Orgs          *org.Service
	Billing       *billing.Service
	Beneficiaries *beneficiary.Registry
	Disbursements *disbursement.Engine
	Screening     *screening.Service
	Audit         *audit.Service
	Events        *stream.Stream
}

// Options tune the HTTP surface.
type Options struct {
	Version     string
	Ready       readinessChecker
	CORSOrigins []string
	Rate        config.Rate
	// IngestKey guards the screening ingest endpoint; empty disables it.
	IngestKey    string
	MaxBodyBytes int64
}

// API is the HTTP layer.
type API struct {
	router  chi.Router
	svc     Services
	opts    Options
	limiter *rateLimiter
	log     zerolog.Logger
}

// New builds the router. Close releases the rate limiter cache.
func New(svc Services, opts Options) (*API, error) {
	if svc.Store == nil || svc.Gate == nil || svc.Tokens == nil {
		return nil, errors.New("httpapi: store, gate and tokens are required")
	}
	if svc.Verifier == nil {
		svc.Verifier = auth.UnavailableVerifier
	}
	if opts.Ready == nil {
		opts.Ready = ReadyProbe{}
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	limiter, err := newRateLimiter(opts.Rate)
	if err != nil {
		return nil, err
	}
	a := &API{
		svc:     svc,
		opts:    opts,
		limiter: limiter,
		log:     obs.Component("httpapi"),
	}
	a.router = a.routes()
	return a, nil
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(chimw.Recoverer)
	r.Use(LoggingJSON)
	r.Use(obs.Instrument)
	r.Use(SecurityHeaders)
	r.Use(newCORS(a.opts.CORSOrigins).Handler)
	r.Use(a.limiter.Middleware)
	r.Use(func(next http.Handler) http.Handler { return MaxBodyBytes(next, a.opts.MaxBodyBytes) })

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	// health/ready/info
	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Handle("/metrics", obs.Handler())

	r.Post("/v1/auth/token", a.handleAuthToken)
	r.Put("/v1/internal/orgs/{orgID}/screening/{beneficiaryID}", a.handleScreeningIngest)

	r.Group(func(r chi.Router) {
		r.Use(a.withAuth)

		r.Get("/v1/me", a.handleProfile)
		r.Patch("/v1/me", a.handleUpdateProfile)

		r.Get("/v1/orgs", a.handleListOrganizations)
		r.Post("/v1/orgs", a.handleCreateOrganization)

		r.Route("/v1/orgs/{orgID}", func(r chi.Router) {
			r.Get("/", a.handleGetOrganization)
			r.Patch("/settings", a.handleUpdateSettings)
			r.Get("/safe", a.handleGetSafe)
			r.Put("/safe", a.handleLinkSafe)

			r.Get("/members", a.handleListMembers)
			r.Post("/members", a.handleInviteMember)
			r.Post("/members/accept", a.handleAcceptInvitation)
			r.Patch("/members/{memberID}", a.handleUpdateMemberRole)
			r.Delete("/members/{memberID}", a.handleRemoveMember)

			r.Get("/billing", a.handleGetBilling)
			r.Post("/billing/subscribe", a.handleSubscribe)
			r.Post("/billing/cancel", a.handleCancelSubscription)

			r.Get("/beneficiaries", a.handleListBeneficiaries)
			r.Post("/beneficiaries", a.handleCreateBeneficiary)
			r.Post("/beneficiaries/bulk", a.handleBulkCreateBeneficiaries)
			r.Get("/beneficiaries/{beneficiaryID}", a.handleGetBeneficiary)
			r.Patch("/beneficiaries/{beneficiaryID}", a.handleUpdateBeneficiary)
			r.Get("/beneficiaries/{beneficiaryID}/screening", a.handleGetScreening)
			r.Post("/beneficiaries/{beneficiaryID}/screening/review", a.handleReviewScreening)

			r.Get("/disbursements", a.handleListDisbursements)
			r.Post("/disbursements", a.handleCreateDisbursement)
			r.Post("/disbursements/batch", a.handleCreateBatch)
			r.Get("/disbursements/{disbursementID}", a.handleGetDisbursement)
			r.Post("/disbursements/{disbursementID}/status", a.handleUpdateStatus)

			r.Get("/audit", a.handleListAudit)
			r.Get("/events", a.Stream)
		})
	})
	return r
}

// Handler returns the root http.Handler.
func (a *API) Handler() http.Handler {
	return a.router
}

// Close releases background resources.
func (a *API) Close() {
	a.limiter.Close()
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.opts.Ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.opts.Version,
	})
}

func newCORS(origins []string) *cors.Cors {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedHeaders: []string{"Authorization", "Content-Type", headerRequestID},
		ExposedHeaders: []string{headerRequestID, "Retry-After"},
		MaxAge:         600,
	})
}
