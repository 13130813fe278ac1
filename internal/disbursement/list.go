package disbursement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"disbursa.org/internal/auth"
	"disbursa.org/internal/models"
	"disbursa.org/internal/store"
)

// SortKey orders a listing.
type SortKey string

const (
	SortCreatedAt SortKey = "createdAt"
	SortAmount    SortKey = "amount"
	SortStatus    SortKey = "status"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Query filters, orders and pages a listing. Zero values disable a filter.
type Query struct {
	Statuses []models.DisbursementStatus
	Token    string
	From     time.Time
	To       time.Time
	// Search matches display name, memo and amount, case-insensitively.
	Search string
	Sort   SortKey
	Desc   bool
	// Cursor is the ID of the last record of the previous page.
	Cursor string
	Limit  int
}

// Summary is the list projection of a disbursement. Amount carries the batch
// total for batches.
type Summary struct {
	ID             string                    `json:"id"`
	Type           models.DisbursementType   `json:"type"`
	Status         models.DisbursementStatus `json:"status"`
	Token          string                    `json:"token"`
	Amount         string                    `json:"amount"`
	DisplayName    string                    `json:"display_name"`
	RecipientCount int                       `json:"recipient_count"`
	Memo           string                    `json:"memo,omitempty"`
	SafeID         string                    `json:"safe_id"`
	SafeTxHash     string                    `json:"safe_tx_hash,omitempty"`
	TxHash         string                    `json:"tx_hash,omitempty"`
	CreatedBy      string                    `json:"created_by"`
	CreatedAt      time.Time                 `json:"created_at"`
	UpdatedAt      time.Time                 `json:"updated_at"`
}

// Line is one paid beneficiary of a disbursement.
type Line struct {
	RecipientID   string `json:"recipient_id,omitempty"`
	BeneficiaryID string `json:"beneficiary_id"`
	Name          string `json:"name"`
	Address       string `json:"address"`
	Amount        string `json:"amount"`
}

// Detail is a disbursement with its recipient lines.
type Detail struct {
	Summary
	Recipients []Line `json:"recipients"`
}

// Page is one page of a listing.
type Page struct {
	Items      []Summary `json:"items"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

// GetWithRecipients returns a disbursement and the beneficiaries it pays.
func (e *Engine) GetWithRecipients(ctx context.Context, orgID, handle, id string) (Detail, error) {
	var out Detail
	err := e.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, _, err := e.gate.Require(ctx, tx, orgID, handle, auth.OpDisbursementRead); err != nil {
			return err
		}
		d, err := owned(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		names := newNameCache(tx)
		sum, err := summarize(ctx, names, d)
		if err != nil {
			return err
		}
		out = Detail{Summary: sum, Recipients: []Line{}}
		switch p := d.Payout.(type) {
		case *models.SinglePayout:
			b, err := names.get(ctx, p.BeneficiaryID)
			if err != nil {
				return err
			}
			out.Recipients = append(out.Recipients, Line{BeneficiaryID: b.ID, Name: b.Name, Address: b.Address, Amount: p.Amount})
		case *models.BatchPayout:
			for _, r := range p.Recipients {
				b, err := names.get(ctx, r.BeneficiaryID)
				if err != nil {
					return err
				}
				out.Recipients = append(out.Recipients, Line{RecipientID: r.ID, BeneficiaryID: r.BeneficiaryID, Name: b.Name, Address: r.Address, Amount: r.Amount})
			}
		}
		return nil
	})
	return out, err
}

// List returns a filtered, ordered page of the organization's disbursements.
func (e *Engine) List(ctx context.Context, orgID, handle string, q Query) (Page, error) {
	var out Page
	err := e.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, _, err := e.gate.Require(ctx, tx, orgID, handle, auth.OpDisbursementRead); err != nil {
			return err
		}
		if err := q.normalize(); err != nil {
			return err
		}
		rows, err := tx.Disbursements().ListByOrg(ctx, orgID, store.DisbursementQuery{
			Statuses: q.Statuses,
			Token:    strings.TrimSpace(q.Token),
			From:     q.From,
			To:       q.To,
		})
		if err != nil {
			return err
		}
		names := newNameCache(tx)
		needle := strings.ToLower(strings.TrimSpace(q.Search))
		items := make([]Summary, 0, len(rows))
		for _, d := range rows {
			s, err := summarize(ctx, names, d)
			if err != nil {
				return err
			}
			if needle != "" && !matches(s, needle) {
				continue
			}
			items = append(items, s)
		}
		sortSummaries(items, q.Sort, q.Desc)

		if q.Cursor != "" {
			idx := -1
			for i, s := range items {
				if s.ID == q.Cursor {
					idx = i
					break
				}
			}
			if idx < 0 {
				return fmt.Errorf("%w: %q", models.ErrInvalidCursor, q.Cursor)
			}
			items = items[idx+1:]
		}
		if len(items) > q.Limit {
			items = items[:q.Limit]
			out.NextCursor = items[q.Limit-1].ID
		}
		out.Items = items
		return nil
	})
	return out, err
}

// normalize applies defaults and rejects unusable filters.
func (q *Query) normalize() error {
	if q.Sort == "" {
		q.Sort = SortCreatedAt
	}
	switch q.Sort {
	case SortCreatedAt, SortAmount, SortStatus:
	default:
		return fmt.Errorf("%w: sort %q", models.ErrInvalidFilter, q.Sort)
	}
	for _, st := range q.Statuses {
		if _, err := models.ParseStatus(string(st)); err != nil {
			return err
		}
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return fmt.Errorf("%w: date range ends before it starts", models.ErrInvalidFilter)
	}
	switch {
	case q.Limit <= 0:
		q.Limit = defaultLimit
	case q.Limit > maxLimit:
		q.Limit = maxLimit
	}
	return nil
}

// BatchName renders the payee column of a batch paying n beneficiaries, the
// first of which is named first.
func BatchName(first string, n int) string {
	switch {
	case n <= 0:
		return "Batch"
	case n == 1:
		return first
	case n == 2:
		return first + " +1 other"
	default:
		return fmt.Sprintf("%s +%d others", first, n-1)
	}
}

func summarize(ctx context.Context, names *nameCache, d models.Disbursement) (Summary, error) {
	s := Summary{
		ID:         d.ID,
		Type:       d.Type(),
		Status:     d.Status,
		Token:      d.Token,
		Memo:       d.Memo,
		SafeID:     d.SafeID,
		SafeTxHash: d.SafeTxHash,
		TxHash:     d.TxHash,
		CreatedBy:  d.CreatedBy,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
	if d.Payout == nil {
		return s, nil
	}
	s.Amount = d.Payout.Total()
	paid := d.Payout.BeneficiaryIDs()
	s.RecipientCount = len(paid)
	if len(paid) == 0 {
		s.DisplayName = BatchName("", 0)
		return s, nil
	}
	first, err := names.get(ctx, paid[0])
	if err != nil {
		return Summary{}, err
	}
	s.DisplayName = BatchName(first.Name, len(paid))
	return s, nil
}

func matches(s Summary, needle string) bool {
	for _, field := range []string{s.DisplayName, s.Memo, s.Amount} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

var statusRank = map[models.DisbursementStatus]int{
	models.StatusDraft:     0,
	models.StatusPending:   1,
	models.StatusProposed:  2,
	models.StatusExecuted:  3,
	models.StatusFailed:    4,
	models.StatusCancelled: 5,
}

// sortSummaries orders items by key; ties fall back to ID so cursors are stable.
func sortSummaries(items []Summary, key SortKey, desc bool) {
	cmp := func(a, b Summary) int {
		switch key {
		case SortAmount:
			if c := amountOf(a).Cmp(amountOf(b)); c != 0 {
				return c
			}
		case SortStatus:
			if c := statusRank[a.Status] - statusRank[b.Status]; c != 0 {
				return c
			}
		default:
			if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
				return c
			}
		}
		return strings.Compare(a.ID, b.ID)
	}
	sort.SliceStable(items, func(i, j int) bool {
		c := cmp(items[i], items[j])
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func amountOf(s Summary) decimal.Decimal {
	d, err := decimal.NewFromString(s.Amount)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// nameCache memoizes beneficiary lookups within one listing.
type nameCache struct {
	tx   store.Tx
	seen map[string]models.Beneficiary
}

func newNameCache(tx store.Tx) *nameCache {
	return &nameCache{tx: tx, seen: make(map[string]models.Beneficiary)}
}

func (c *nameCache) get(ctx context.Context, id string) (models.Beneficiary, error) {
	if b, ok := c.seen[id]; ok {
		return b, nil
	}
	b, err := c.tx.Beneficiaries().Get(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		b = models.Beneficiary{ID: id, Name: id}
	} else if err != nil {
		return models.Beneficiary{}, err
	}
	c.seen[id] = b
	return b, nil
}
