package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"disbursa.org/internal/auth"
	"disbursa.org/internal/disbursement"
	"disbursa.org/internal/models"
	"disbursa.org/internal/screening"
)

type createDisbursementRequest struct {
	BeneficiaryID string `json:"beneficiary_id"`
	Token         string `json:"token"`
	Amount        string `json:"amount"`
	Memo          string `json:"memo"`
}

type createBatchRequest struct {
	Token      string                  `json:"token"`
	Recipients []models.RecipientInput `json:"recipients"`
	Memo       string                  `json:"memo"`
}

type updateStatusRequest struct {
	Status     string `json:"status"`
	SafeTxHash string `json:"safe_tx_hash"`
	TxHash     string `json:"tx_hash"`
}

// disbursementView flattens the payout variant for the wire.
type disbursementView struct {
	models.Disbursement
	Type          models.DisbursementType `json:"type"`
	Amount        string                  `json:"amount"`
	BeneficiaryID string                  `json:"beneficiary_id,omitempty"`
	Recipients    []models.Recipient      `json:"recipients,omitempty"`
}

type transitionResponse struct {
	Disbursement   disbursementView          `json:"disbursement"`
	PreviousStatus models.DisbursementStatus `json:"previous_status"`
	Warnings       []screening.Flag          `json:"warnings,omitempty"`
}

func viewOf(d models.Disbursement) disbursementView {
	v := disbursementView{Disbursement: d, Type: d.Type()}
	switch p := d.Payout.(type) {
	case *models.SinglePayout:
		v.Amount = p.Amount
		v.BeneficiaryID = p.BeneficiaryID
	case *models.BatchPayout:
		v.Amount = p.TotalAmount
		v.Recipients = p.Recipients
	}
	return v
}

func (a *API) handleCreateDisbursement(w http.ResponseWriter, r *http.Request) {
	var req createDisbursementRequest
	if !bind(w, r, &req) {
		return
	}
	orgID := chi.URLParam(r, "orgID")
	d, err := a.svc.Disbursements.CreateSingle(r.Context(), orgID, handleOf(r), req.BeneficiaryID, req.Token, req.Amount, req.Memo)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/orgs/"+orgID+"/disbursements/"+d.ID)
	writeJSON(w, http.StatusCreated, viewOf(d))
}

func (a *API) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if !bind(w, r, &req) {
		return
	}
	orgID := chi.URLParam(r, "orgID")
	d, err := a.svc.Disbursements.CreateBatch(r.Context(), orgID, handleOf(r), req.Token, req.Recipients, req.Memo)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/orgs/"+orgID+"/disbursements/"+d.ID)
	writeJSON(w, http.StatusCreated, viewOf(d))
}

func (a *API) handleGetDisbursement(w http.ResponseWriter, r *http.Request) {
	detail, err := a.svc.Disbursements.GetWithRecipients(r.Context(), chi.URLParam(r, "orgID"), handleOf(r), chi.URLParam(r, "disbursementID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (a *API) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if !bind(w, r, &req) {
		return
	}
	status := models.DisbursementStatus(strings.TrimSpace(req.Status))
	tr, err := a.svc.Disbursements.UpdateStatus(r.Context(), chi.URLParam(r, "orgID"), handleOf(r), chi.URLParam(r, "disbursementID"), status, req.SafeTxHash, req.TxHash)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transitionResponse{
		Disbursement:   viewOf(tr.Disbursement),
		PreviousStatus: tr.PreviousStatus,
		Warnings:       tr.Warnings,
	})
}

func (a *API) handleListDisbursements(w http.ResponseWriter, r *http.Request) {
	q, err := parseDisbursementQuery(r)
	if err != nil {
		a.rejectInput(w, r, auth.OpDisbursementRead, err)
		return
	}
	page, err := a.svc.Disbursements.List(r.Context(), chi.URLParam(r, "orgID"), handleOf(r), q)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if page.Items == nil {
		page.Items = []disbursement.Summary{}
	}
	writeJSON(w, http.StatusOK, page)
}

// parseDisbursementQuery reads status (repeated or comma separated), token,
// from, to, q, sort, order, cursor and limit.
func parseDisbursementQuery(r *http.Request) (disbursement.Query, error) {
	v := r.URL.Query()
	q := disbursement.Query{
		Token:  v.Get("token"),
		Search: v.Get("q"),
		Sort:   disbursement.SortKey(v.Get("sort")),
		Cursor: v.Get("cursor"),
	}
	for _, raw := range v["status"] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			q.Statuses = append(q.Statuses, models.DisbursementStatus(part))
		}
	}
	switch strings.ToLower(v.Get("order")) {
	case "", "desc":
		q.Desc = true
	case "asc":
	default:
		return q, fmt.Errorf("%w: order must be asc or desc", models.ErrInvalidFilter)
	}
	var err error
	if q.From, err = parseTime(v.Get("from")); err != nil {
		return q, err
	}
	if q.To, err = parseTime(v.Get("to")); err != nil {
		return q, err
	}
	if q.Limit, err = parseLimit(v.Get("limit")); err != nil {
		return q, fmt.Errorf("%w: %v", models.ErrInvalidFilter, err)
	}
	return q, nil
}

func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: time %q must be RFC 3339 or YYYY-MM-DD", models.ErrInvalidFilter, raw)
	}
	return t, nil
}
