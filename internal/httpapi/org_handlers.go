package httpapi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"disbursa.org/internal/auth"
	"disbursa.org/internal/models"
	"disbursa.org/internal/org"
)

type createOrganizationRequest struct {
	Name string `json:"name"`
}

type linkSafeRequest struct {
	Address string `json:"address"`
	ChainID int64  `json:"chain_id"`
}

type inviteMemberRequest struct {
	Handle string      `json:"handle"`
	Role   models.Role `json:"role"`
}

type updateRoleRequest struct {
	Role models.Role `json:"role"`
}

type subscribeRequest struct {
	Plan models.Plan `json:"plan"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

func (a *API) handleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	var req createOrganizationRequest
	if !bind(w, r, &req) {
		return
	}
	o, err := a.svc.Orgs.CreateOrganization(r.Context(), handleOf(r), req.Name)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/orgs/"+o.ID)
	writeJSON(w, http.StatusCreated, o)
}

func (a *API) handleListOrganizations(w http.ResponseWriter, r *http.Request) {
	list, err := a.svc.Orgs.ListForHandle(r.Context(), handleOf(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if list == nil {
		list = []org.Summary{}
	}
	writeJSON(w, http.StatusOK, listResponse[org.Summary]{Items: list})
}

func (a *API) handleGetOrganization(w http.ResponseWriter, r *http.Request) {
	o, err := a.svc.Orgs.Get(r.Context(), chi.URLParam(r, "orgID"), handleOf(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (a *API) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req models.SettingsUpdate
	if !bind(w, r, &req) {
		return
	}
	o, err := a.svc.Orgs.UpdateSettings(r.Context(), chi.URLParam(r, "orgID"), handleOf(r), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (a *API) handleGetSafe(w http.ResponseWriter, r *http.Request) {
	safe, err := a.svc.Orgs.Safe(r.Context(), chi.URLParam(r, "orgID"), handleOf(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, safe)
}

func (a *API) handleLinkSafe(w http.ResponseWriter, r *http.Request) {
	var req linkSafeRequest
	if !bind(w, r, &req) {
		return
	}
	safe, err := a.svc.Orgs.LinkSafe(r.Context(), chi.URLParam(r, "orgID"), handleOf(r), req.Address, req.ChainID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, safe)
}

// --- members ---

func (a *API) handleListMembers(w http.ResponseWriter, r *http.Request) {
	list, err := a.svc.Orgs.ListMembers(r.Context(), chi.URLParam(r, "orgID"), handleOf(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if list == nil {
		list = []models.MemberView{}
	}
	writeJSON(w, http.StatusOK, listResponse[models.MemberView]{Items: list})
}

func (a *API) handleInviteMember(w http.ResponseWriter, r *http.Request) {
	var req inviteMemberRequest
	if !bind(w, r, &req) {
		return
	}
	m, err := a.svc.Orgs.InviteMember(r.Context(), chi.URLParam(r, "orgID"), handleOf(r), req.Handle, req.Role)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (a *API) handleAcceptInvitation(w http.ResponseWriter, r *http.Request) {
	m, err := a.svc.Orgs.AcceptInvitation(r.Context(), chi.URLParam(r, "orgID"), handleOf(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) handleUpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if !bind(w, r, &req) {
		return
	}
	m, err := a.svc.Orgs.UpdateMemberRole(r.Context(), chi.URLParam(r, "orgID"), handleOf(r), chi.URLParam(r, "memberID"), req.Role)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Orgs.RemoveMember(r.Context(), chi.URLParam(r, "orgID"), handleOf(r), chi.URLParam(r, "memberID")); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// --- billing ---

func (a *API) handleGetBilling(w http.ResponseWriter, r *http.Request) {
	st, err := a.svc.Billing.Get(r.Context(), chi.URLParam(r, "orgID"), handleOf(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if !bind(w, r, &req) {
		return
	}
	st, err := a.svc.Billing.Subscribe(r.Context(), chi.URLParam(r, "orgID"), handleOf(r), req.Plan)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) handleCancelSubscription(w http.ResponseWriter, r *http.Request) {
	st, err := a.svc.Billing.Cancel(r.Context(), chi.URLParam(r, "orgID"), handleOf(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// --- audit ---

func (a *API) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		a.rejectInput(w, r, auth.OpAuditList, fmt.Errorf("%w: %v", models.ErrInvalidFilter, err))
		return
	}
	page, err := a.svc.Audit.List(r.Context(), chi.URLParam(r, "orgID"), handleOf(r), models.AuditFilter{
		ObjectType: q.Get("object_type"),
		ObjectID:   q.Get("object_id"),
		Action:     q.Get("action"),
		Cursor:     q.Get("cursor"),
		Limit:      limit,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}
