package org

import (
	"context"
	"errors"
	"fmt"

	"disbursa.org/internal/address"
	"disbursa.org/internal/auth"
	"disbursa.org/internal/billing"
	"disbursa.org/internal/ids"
	"disbursa.org/internal/models"
	"disbursa.org/internal/store"
)

// InviteMember invites inviteeHandle with role. A removed member is
// re-invited on its existing record. Invitations hold a seat.
func (s *Service) InviteMember(ctx context.Context, orgID, handle, inviteeHandle string, role models.Role) (models.MemberView, error) {
	var out models.MemberView
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		actor, _, err := s.gate.Require(ctx, tx, orgID, handle, auth.OpMemberInvite)
		if err != nil {
			return err
		}
		if !role.Valid() {
			return fmt.Errorf("%w: %q", models.ErrInvalidRole, role)
		}
		inviteeHandle = address.Normalize(inviteeHandle)
		if !address.Valid(inviteeHandle) {
			return fmt.Errorf("%w: %q", models.ErrInvalidAddress, inviteeHandle)
		}
		invitee, err := s.gate.Resolver().Resolve(ctx, tx, inviteeHandle)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		m, err := tx.Memberships().Get(ctx, orgID, invitee.ID)
		reactivated := false
		switch {
		case err == nil && m.HoldsSeat():
			return fmt.Errorf("%w: %s", models.ErrAlreadyMember, invitee.Handle)
		case err == nil:
			reactivated = true
		case !errors.Is(err, models.ErrNotFound):
			return err
		}
		if err := s.tiers.AdmitSeats(ctx, tx, orgID, 1); err != nil {
			return err
		}
		if reactivated {
			m.Role, m.Status, m.InvitedBy, m.UpdatedAt = role, models.MembershipInvited, actor.ID, now
			err = tx.Memberships().Update(ctx, m)
		} else {
			m = models.Membership{
				ID:         ids.New(),
				OrgID:      orgID,
				IdentityID: invitee.ID,
				Role:       role,
				Status:     models.MembershipInvited,
				InvitedBy:  actor.ID,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			err = tx.Memberships().Create(ctx, m)
		}
		if err != nil {
			return err
		}
		if _, err := s.audit.Record(ctx, tx, orgID, actor.ID, models.ActionMemberInvited, models.ObjectMembership, m.ID, map[string]any{
			"identityId":  invitee.ID,
			"handle":      invitee.Handle,
			"role":        string(role),
			"reactivated": reactivated,
		}); err != nil {
			return err
		}
		out = models.MemberView{Membership: m, Handle: invitee.Handle}
		return nil
	})
	return out, err
}

// AcceptInvitation activates the pending invitation of handle.
func (s *Service) AcceptInvitation(ctx context.Context, orgID, handle string) (models.MemberView, error) {
	var out models.MemberView
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		ident, err := s.gate.Resolver().Lookup(ctx, tx, handle)
		if err != nil {
			return err
		}
		m, err := tx.Memberships().Get(ctx, orgID, ident.ID)
		if errors.Is(err, models.ErrNotFound) || (err == nil && m.Status != models.MembershipInvited) {
			return models.ErrNotInvited
		}
		if err != nil {
			return err
		}
		m.Status = models.MembershipActive
		m.UpdatedAt = s.now().UTC()
		if err := tx.Memberships().Update(ctx, m); err != nil {
			return err
		}
		if _, err := s.audit.Record(ctx, tx, orgID, ident.ID, models.ActionMemberJoined, models.ObjectMembership, m.ID, map[string]any{
			"role": string(m.Role),
		}); err != nil {
			return err
		}
		out = models.MemberView{Membership: m, Handle: ident.Handle}
		return nil
	})
	return out, err
}

// UpdateMemberRole changes the role of membership memberID.
func (s *Service) UpdateMemberRole(ctx context.Context, orgID, handle, memberID string, role models.Role) (models.MemberView, error) {
	var out models.MemberView
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		actor, _, err := s.gate.Require(ctx, tx, orgID, handle, auth.OpMemberUpdateRole)
		if err != nil {
			return err
		}
		if !role.Valid() {
			return fmt.Errorf("%w: %q", models.ErrInvalidRole, role)
		}
		m, err := member(ctx, tx, orgID, memberID)
		if err != nil {
			return err
		}
		old := m.Role
		if m.IsActive() && old == models.RoleAdmin && role != models.RoleAdmin {
			if err := ensureOtherAdmin(ctx, tx, orgID, m.ID); err != nil {
				return err
			}
		}
		m.Role = role
		m.UpdatedAt = s.now().UTC()
		if err := tx.Memberships().Update(ctx, m); err != nil {
			return err
		}
		if _, err := s.audit.Record(ctx, tx, orgID, actor.ID, models.ActionMemberRoleUpdated, models.ObjectMembership, m.ID, map[string]any{
			"oldRole": string(old),
			"newRole": string(role),
		}); err != nil {
			return err
		}
		out, err = view(ctx, tx, m)
		return err
	})
	return out, err
}

// RemoveMember revokes membership memberID. Members cannot remove themselves.
func (s *Service) RemoveMember(ctx context.Context, orgID, handle, memberID string) error {
	return s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		actor, _, err := s.gate.Require(ctx, tx, orgID, handle, auth.OpMemberRemove)
		if err != nil {
			return err
		}
		m, err := member(ctx, tx, orgID, memberID)
		if err != nil {
			return err
		}
		if m.IdentityID == actor.ID {
			return models.ErrSelfRemoval
		}
		if m.IsActive() && m.Role == models.RoleAdmin {
			if err := ensureOtherAdmin(ctx, tx, orgID, m.ID); err != nil {
				return err
			}
		}
		prev := m.Status
		m.Status = models.MembershipRemoved
		m.UpdatedAt = s.now().UTC()
		if err := tx.Memberships().Update(ctx, m); err != nil {
			return err
		}
		_, err = s.audit.Record(ctx, tx, orgID, actor.ID, models.ActionMemberRemoved, models.ObjectMembership, m.ID, map[string]any{
			"identityId":     m.IdentityID,
			"role":           string(m.Role),
			"previousStatus": string(prev),
		})
		return err
	})
}

// ListMembers returns active and invited members with their handles.
func (s *Service) ListMembers(ctx context.Context, orgID, handle string) ([]models.MemberView, error) {
	out := []models.MemberView{}
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, _, err := s.gate.Require(ctx, tx, orgID, handle, auth.OpMemberList); err != nil {
			return err
		}
		ms, err := tx.Memberships().ListByOrg(ctx, orgID)
		if err != nil {
			return err
		}
		for _, m := range ms {
			if !m.HoldsSeat() {
				continue
			}
			v, err := view(ctx, tx, m)
			if err != nil {
				return err
			}
			out = append(out, v)
		}
		return nil
	})
	return out, err
}

// SeatsUsed reports the seats currently held in the organization.
func (s *Service) SeatsUsed(ctx context.Context, orgID string) (int, error) {
	var n int
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		n, err = billing.SeatsUsed(ctx, tx, orgID)
		return err
	})
	return n, err
}

// member loads a non-removed membership of the organization.
func member(ctx context.Context, tx store.Tx, orgID, memberID string) (models.Membership, error) {
	m, err := tx.Memberships().ByID(ctx, memberID)
	if errors.Is(err, models.ErrNotFound) || (err == nil && (m.OrgID != orgID || m.Status == models.MembershipRemoved)) {
		return models.Membership{}, fmt.Errorf("%w: member %s", models.ErrNotFound, memberID)
	}
	return m, err
}

// ensureOtherAdmin fails unless an active admin other than exceptID exists.
func ensureOtherAdmin(ctx context.Context, tx store.Tx, orgID, exceptID string) error {
	ms, err := tx.Memberships().ListByOrg(ctx, orgID)
	if err != nil {
		return err
	}
	for _, m := range ms {
		if m.ID != exceptID && m.IsActive() && m.Role == models.RoleAdmin {
			return nil
		}
	}
	return models.ErrLastAdmin
}

func view(ctx context.Context, tx store.Tx, m models.Membership) (models.MemberView, error) {
	ident, err := tx.Identities().ByID(ctx, m.IdentityID)
	if err != nil {
		return models.MemberView{}, err
	}
	return models.MemberView{Membership: m, Handle: ident.Handle}, nil
}
