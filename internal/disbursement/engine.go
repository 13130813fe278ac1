// Package disbursement implements the disbursement lifecycle: creation of
// single and batch payouts, status transitions gated by screening, and the
// listing projection.
package disbursement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"disbursa.org/internal/audit"
	"disbursa.org/internal/auth"
	"disbursa.org/internal/beneficiary"
	"disbursa.org/internal/ids"
	"disbursa.org/internal/models"
	"disbursa.org/internal/obs"
	"disbursa.org/internal/screening"
	"disbursa.org/internal/store"
	"disbursa.org/internal/stream"
)

// Engine implements disbursement operations.
type Engine struct {
	store     store.Store
	gate      *auth.Gate
	screening *screening.Service
	audit     *audit.Recorder
	events    stream.Publisher
	now       func() time.Time
	log       zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

// WithPublisher sets where committed changes are announced.
func WithPublisher(p stream.Publisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.events = p
		}
	}
}

// NewEngine constructs an Engine.
func NewEngine(st store.Store, gate *auth.Gate, scr *screening.Service, rec *audit.Recorder, opts ...Option) *Engine {
	e := &Engine{
		store:     st,
		gate:      gate,
		screening: scr,
		audit:     rec,
		events:    stream.Discard,
		now:       time.Now,
		log:       obs.Component("disbursement"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Transition is the outcome of a status change.
type Transition struct {
	Disbursement   models.Disbursement       `json:"disbursement"`
	PreviousStatus models.DisbursementStatus `json:"previous_status"`
	// Warnings lists flagged beneficiaries let through under warn enforcement.
	Warnings []screening.Flag `json:"warnings,omitempty"`
}

// CreateSingle creates a draft disbursement paying one beneficiary.
func (e *Engine) CreateSingle(ctx context.Context, orgID, handle, beneficiaryID, token, amount, memo string) (models.Disbursement, error) {
	var out models.Disbursement
	err := e.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		actor, _, err := e.gate.Require(ctx, tx, orgID, handle, auth.OpDisbursementCreate)
		if err != nil {
			return err
		}
		safe, err := e.prepare(ctx, tx, orgID, &token)
		if err != nil {
			return err
		}
		b, err := beneficiary.Payable(ctx, tx, orgID, beneficiaryID)
		if err != nil {
			return err
		}
		amt, err := parseAmount(amount)
		if err != nil {
			return err
		}
		now := e.now().UTC()
		d := models.Disbursement{
			ID:        ids.New(),
			OrgID:     orgID,
			SafeID:    safe.ID,
			Token:     token,
			Memo:      strings.TrimSpace(memo),
			Status:    models.StatusDraft,
			CreatedBy: actor.ID,
			CreatedAt: now,
			UpdatedAt: now,
			Payout:    &models.SinglePayout{BeneficiaryID: b.ID, Amount: amt},
		}
		if err := tx.Disbursements().Create(ctx, d); err != nil {
			return err
		}
		if _, err := e.audit.Record(ctx, tx, orgID, actor.ID, models.ActionDisbursementCreated, models.ObjectDisbursement, d.ID, map[string]any{
			"type":          string(models.TypeSingle),
			"beneficiaryId": b.ID,
			"amount":        amt,
			"token":         token,
		}); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return models.Disbursement{}, err
	}
	e.created(out)
	return out, nil
}

// CreateBatch creates a draft disbursement fanning out to several
// beneficiaries. The total is the exact decimal sum of the recipient amounts.
func (e *Engine) CreateBatch(ctx context.Context, orgID, handle, token string, recipients []models.RecipientInput, memo string) (models.Disbursement, error) {
	var out models.Disbursement
	err := e.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		actor, _, err := e.gate.Require(ctx, tx, orgID, handle, auth.OpDisbursementCreate)
		if err != nil {
			return err
		}
		safe, err := e.prepare(ctx, tx, orgID, &token)
		if err != nil {
			return err
		}
		if len(recipients) == 0 {
			return models.ErrEmptyBatch
		}
		id := ids.New()
		seen := make(map[string]struct{}, len(recipients))
		lines := make([]models.Recipient, 0, len(recipients))
		total := decimal.Zero
		for i, in := range recipients {
			bid := strings.TrimSpace(in.BeneficiaryID)
			if _, dup := seen[bid]; dup {
				return fmt.Errorf("%w: %s", models.ErrDuplicateBeneficiary, bid)
			}
			seen[bid] = struct{}{}
			b, err := beneficiary.Payable(ctx, tx, orgID, bid)
			if err != nil {
				return fmt.Errorf("recipient %d: %w", i+1, err)
			}
			amt, err := parseAmount(in.Amount)
			if err != nil {
				return fmt.Errorf("recipient %d: %w", i+1, err)
			}
			total = total.Add(decimal.RequireFromString(amt))
			lines = append(lines, models.Recipient{
				ID:             ids.New(),
				DisbursementID: id,
				BeneficiaryID:  b.ID,
				Address:        b.Address,
				Amount:         amt,
			})
		}
		now := e.now().UTC()
		d := models.Disbursement{
			ID:        id,
			OrgID:     orgID,
			SafeID:    safe.ID,
			Token:     token,
			Memo:      strings.TrimSpace(memo),
			Status:    models.StatusDraft,
			CreatedBy: actor.ID,
			CreatedAt: now,
			UpdatedAt: now,
			Payout:    &models.BatchPayout{Recipients: lines, TotalAmount: total.String()},
		}
		if err := tx.Disbursements().Create(ctx, d); err != nil {
			return err
		}
		if _, err := e.audit.Record(ctx, tx, orgID, actor.ID, models.ActionDisbursementCreated, models.ObjectDisbursement, d.ID, map[string]any{
			"type":           string(models.TypeBatch),
			"totalAmount":    d.Payout.Total(),
			"recipientCount": len(lines),
			"token":          token,
		}); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return models.Disbursement{}, err
	}
	e.created(out)
	return out, nil
}

// UpdateStatus moves a disbursement to status. Moving into pending or proposed
// consults screening verdicts of every paid beneficiary first. No transition
// table is enforced; the audit trail keeps the previous status.
func (e *Engine) UpdateStatus(ctx context.Context, orgID, handle, id string, status models.DisbursementStatus, safeTxHash, txHash string) (Transition, error) {
	var (
		out     Transition
		actorID string
	)
	err := e.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		actor, _, err := e.gate.Require(ctx, tx, orgID, handle, auth.OpDisbursementStatus)
		if err != nil {
			return err
		}
		actorID = actor.ID
		if status, err = models.ParseStatus(string(status)); err != nil {
			return err
		}
		d, err := owned(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		var flags []screening.Flag
		if status.InFlight() {
			org, err := tx.Organizations().Get(ctx, orgID)
			if err != nil {
				return err
			}
			flags, err = e.screening.Check(ctx, tx, org, d.Payout.BeneficiaryIDs())
			if err != nil {
				return err
			}
		}
		safeTxHash, txHash = strings.TrimSpace(safeTxHash), strings.TrimSpace(txHash)
		now := e.now().UTC()
		if err := tx.Disbursements().UpdateStatus(ctx, d.ID, status, safeTxHash, txHash, now); err != nil {
			return err
		}
		updated, err := tx.Disbursements().Get(ctx, d.ID)
		if err != nil {
			return err
		}
		meta := map[string]any{
			"status":         string(status),
			"previousStatus": string(d.Status),
			"safeTxHash":     updated.SafeTxHash,
			"txHash":         updated.TxHash,
		}
		if len(flags) > 0 {
			flagged := make([]string, 0, len(flags))
			for _, f := range flags {
				flagged = append(flagged, f.BeneficiaryID)
			}
			meta["screeningWarnings"] = flagged
		}
		if _, err := e.audit.Record(ctx, tx, orgID, actor.ID, models.StatusAction(status), models.ObjectDisbursement, d.ID, meta); err != nil {
			return err
		}
		out = Transition{Disbursement: updated, PreviousStatus: d.Status, Warnings: flags}
		return nil
	})
	if err != nil {
		return Transition{}, err
	}
	obs.DisbursementStatusChanges.WithLabelValues(string(status)).Inc()
	e.events.Publish(stream.Event{
		Kind:           stream.KindStatusChanged,
		OrgID:          orgID,
		DisbursementID: out.Disbursement.ID,
		Type:           out.Disbursement.Type(),
		Status:         status,
		PreviousStatus: out.PreviousStatus,
		Token:          out.Disbursement.Token,
		Amount:         out.Disbursement.Payout.Total(),
		ActorID:        actorID,
		Timestamp:      out.Disbursement.UpdatedAt,
	})
	return out, nil
}

// Get returns one disbursement of the organization.
func (e *Engine) Get(ctx context.Context, orgID, handle, id string) (models.Disbursement, error) {
	var out models.Disbursement
	err := e.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, _, err := e.gate.Require(ctx, tx, orgID, handle, auth.OpDisbursementRead); err != nil {
			return err
		}
		var err error
		out, err = owned(ctx, tx, orgID, id)
		return err
	})
	return out, err
}

// prepare validates the token and returns the organization's linked Safe.
func (e *Engine) prepare(ctx context.Context, tx store.Tx, orgID string, token *string) (models.Safe, error) {
	*token = strings.TrimSpace(*token)
	if *token == "" {
		return models.Safe{}, models.ErrTokenRequired
	}
	safe, err := tx.Safes().Get(ctx, orgID)
	if errors.Is(err, models.ErrNotFound) {
		return models.Safe{}, models.ErrNoSafeLinked
	}
	return safe, err
}

func (e *Engine) created(d models.Disbursement) {
	obs.DisbursementsCreated.WithLabelValues(string(d.Type())).Inc()
	e.log.Info().
		Str("org_id", d.OrgID).
		Str("disbursement_id", d.ID).
		Str("type", string(d.Type())).
		Str("amount", d.Payout.Total()).
		Msg("disbursement created")
	e.events.Publish(stream.Event{
		Kind:           stream.KindCreated,
		OrgID:          d.OrgID,
		DisbursementID: d.ID,
		Type:           d.Type(),
		Status:         d.Status,
		Token:          d.Token,
		Amount:         d.Payout.Total(),
		ActorID:        d.CreatedBy,
		Timestamp:      d.CreatedAt,
	})
}

func owned(ctx context.Context, tx store.Tx, orgID, id string) (models.Disbursement, error) {
	d, err := tx.Disbursements().Get(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return models.Disbursement{}, fmt.Errorf("%w: disbursement %s", models.ErrNotFound, id)
	}
	if err != nil {
		return models.Disbursement{}, err
	}
	if d.OrgID != orgID {
		return models.Disbursement{}, fmt.Errorf("%w: disbursement %s belongs to another organization", models.ErrCrossTenant, id)
	}
	return d, nil
}

// parseAmount validates a positive decimal and returns it trimmed.
func parseAmount(s string) (string, error) {
	s = strings.TrimSpace(s)
	if strings.ContainsAny(s, "eE") {
		return "", fmt.Errorf("%w: %q", models.ErrInvalidAmount, s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return "", fmt.Errorf("%w: %q", models.ErrInvalidAmount, s)
	}
	return s, nil
}
