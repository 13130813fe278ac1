// Package audit records the append-only trail of state-changing actions.
package audit

import (
	"context"
	"errors"
	"maps"
	"strings"
	"time"

	"disbursa.org/internal/auth"
	"disbursa.org/internal/ids"
	"disbursa.org/internal/models"
	"disbursa.org/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Recorder appends audit entries inside the caller's transaction, so an entry
// exists if and only if the mutation it describes was committed.
type Recorder struct {
	now func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRecorder constructs a Recorder.
func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends one entry. Metadata is copied.
func (r *Recorder) Record(ctx context.Context, tx store.Tx, orgID, actorID, action, objectType, objectID string, metadata map[string]any) (models.AuditEntry, error) {
	if strings.TrimSpace(action) == "" {
		return models.AuditEntry{}, errors.New("audit action is required")
	}
	e := models.AuditEntry{
		ID:         ids.New(),
		OrgID:      orgID,
		ActorID:    actorID,
		Action:     action,
		ObjectType: objectType,
		ObjectID:   objectID,
		OccurredAt: r.now().UTC(),
	}
	if len(metadata) > 0 {
		e.Metadata = maps.Clone(metadata)
	}
	if err := tx.Audit().Append(ctx, e); err != nil {
		return models.AuditEntry{}, err
	}
	return e, nil
}

// Service exposes audit queries.
type Service struct {
	store store.Store
	gate  *auth.Gate
}

// NewService constructs a Service.
func NewService(st store.Store, gate *auth.Gate) *Service {
	return &Service{store: st, gate: gate}
}

// Page is one page of audit entries. NextCursor is empty on the last page.
type Page struct {
	Entries    []models.AuditEntry `json:"entries"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

// List returns the organization's audit trail newest first.
func (s *Service) List(ctx context.Context, orgID, handle string, f models.AuditFilter) (Page, error) {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	limit := f.Limit
	f.Limit = limit + 1

	var page Page
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, _, err := s.gate.Require(ctx, tx, orgID, handle, auth.OpAuditList); err != nil {
			return err
		}
		if f.Cursor != "" && !ids.Valid(f.Cursor) {
			return models.ErrInvalidCursor
		}
		entries, err := tx.Audit().List(ctx, orgID, f)
		if err != nil {
			return err
		}
		if len(entries) > limit {
			entries = entries[:limit]
			page.NextCursor = entries[limit-1].ID
		}
		page.Entries = entries
		return nil
	})
	if page.Entries == nil {
		page.Entries = []models.AuditEntry{}
	}
	return page, err
}
