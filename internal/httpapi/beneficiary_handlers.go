package httpapi

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"disbursa.org/internal/auth"
	"disbursa.org/internal/beneficiary"
	"disbursa.org/internal/models"
)

const headerIngestKey = "X-Ingest-Key"

type bulkCreateRequest struct {
	Beneficiaries []models.BeneficiaryInput `json:"beneficiaries"`
}

type reviewRequest struct {
	Status models.ScreeningStatus `json:"status"`
	Note   string                 `json:"note"`
}

type ingestRequest struct {
	Status      models.ScreeningStatus `json:"status"`
	MatchedName string                 `json:"matched_name"`
}

func (a *API) handleListBeneficiaries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := beneficiary.ListOptions{Query: q.Get("q")}
	if raw := q.Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			a.rejectInput(w, r, auth.OpBeneficiaryRead, fmt.Errorf("%w: active must be a boolean", models.ErrInvalidFilter))
			return
		}
		opts.ActiveOnly = active
	}
	list, err := a.svc.Beneficiaries.List(r.Context(), chi.URLParam(r, "orgID"), handleOf(r), opts)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[models.Beneficiary]{Items: list})
}

func (a *API) handleCreateBeneficiary(w http.ResponseWriter, r *http.Request) {
	var req models.BeneficiaryInput
	if !bind(w, r, &req) {
		return
	}
	orgID := chi.URLParam(r, "orgID")
	b, err := a.svc.Beneficiaries.Create(r.Context(), orgID, handleOf(r), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/orgs/"+orgID+"/beneficiaries/"+b.ID)
	writeJSON(w, http.StatusCreated, b)
}

func (a *API) handleBulkCreateBeneficiaries(w http.ResponseWriter, r *http.Request) {
	var req bulkCreateRequest
	if !bind(w, r, &req) {
		return
	}
	list, err := a.svc.Beneficiaries.BulkCreate(r.Context(), chi.URLParam(r, "orgID"), handleOf(r), req.Beneficiaries)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, listResponse[models.Beneficiary]{Items: list})
}

func (a *API) handleGetBeneficiary(w http.ResponseWriter, r *http.Request) {
	b, err := a.svc.Beneficiaries.Get(r.Context(), chi.URLParam(r, "orgID"), handleOf(r), chi.URLParam(r, "beneficiaryID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (a *API) handleUpdateBeneficiary(w http.ResponseWriter, r *http.Request) {
	var req models.BeneficiaryUpdate
	if !bind(w, r, &req) {
		return
	}
	b, err := a.svc.Beneficiaries.Update(r.Context(), chi.URLParam(r, "orgID"), handleOf(r), chi.URLParam(r, "beneficiaryID"), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// --- screening ---

func (a *API) handleGetScreening(w http.ResponseWriter, r *http.Request) {
	res, err := a.svc.Screening.Get(r.Context(), chi.URLParam(r, "orgID"), handleOf(r), chi.URLParam(r, "beneficiaryID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleReviewScreening(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if !bind(w, r, &req) {
		return
	}
	res, err := a.svc.Screening.Review(r.Context(), chi.URLParam(r, "orgID"), handleOf(r), chi.URLParam(r, "beneficiaryID"), req.Status, req.Note)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleScreeningIngest accepts verdicts from the external matcher, which
// authenticates with the shared ingest key instead of a wallet token.
func (a *API) handleScreeningIngest(w http.ResponseWriter, r *http.Request) {
	if a.opts.IngestKey == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	key := strings.TrimSpace(r.Header.Get(headerIngestKey))
	if subtle.ConstantTimeCompare([]byte(key), []byte(a.opts.IngestKey)) != 1 {
		writeError(w, r, http.StatusUnauthorized, "invalid ingest key")
		return
	}
	var req ingestRequest
	if !bind(w, r, &req) {
		return
	}
	res, err := a.svc.Screening.Ingest(r.Context(), chi.URLParam(r, "orgID"), chi.URLParam(r, "beneficiaryID"), req.Status, req.MatchedName)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
