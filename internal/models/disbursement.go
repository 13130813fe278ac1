package models

import (
	"fmt"
	"time"
)

// DisbursementStatus is the lifecycle status of a disbursement.
type DisbursementStatus string

const (
	StatusDraft     DisbursementStatus = "draft"
	StatusPending   DisbursementStatus = "pending"
	StatusProposed  DisbursementStatus = "proposed"
	StatusExecuted  DisbursementStatus = "executed"
	StatusFailed    DisbursementStatus = "failed"
	StatusCancelled DisbursementStatus = "cancelled"
)

// ParseStatus validates a status name.
func ParseStatus(s string) (DisbursementStatus, error) {
	switch st := DisbursementStatus(s); st {
	case StatusDraft, StatusPending, StatusProposed, StatusExecuted, StatusFailed, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// InFlight reports whether moving to s hands the payment to the Safe layer.
func (s DisbursementStatus) InFlight() bool {
	return s == StatusPending || s == StatusProposed
}

// Terminal reports whether s is a final status.
func (s DisbursementStatus) Terminal() bool {
	return s == StatusExecuted || s == StatusFailed || s == StatusCancelled
}

// DisbursementType discriminates the payout variants.
type DisbursementType string

const (
	TypeSingle DisbursementType = "single"
	TypeBatch  DisbursementType = "batch"
)

// Payout is the variant part of a disbursement: *SinglePayout or *BatchPayout.
type Payout interface {
	Type() DisbursementType
	// Total is the amount moved by the payout as an exact decimal string.
	Total() string
	// BeneficiaryIDs lists every beneficiary paid by the payout.
	BeneficiaryIDs() []string
	isPayout()
}

// SinglePayout pays one beneficiary.
type SinglePayout struct {
	BeneficiaryID string `json:"beneficiary_id"`
	Amount        string `json:"amount"`
}

func (*SinglePayout) Type() DisbursementType     { return TypeSingle }
func (p *SinglePayout) Total() string            { return p.Amount }
func (p *SinglePayout) BeneficiaryIDs() []string { return []string{p.BeneficiaryID} }
func (*SinglePayout) isPayout()                  {}

// BatchPayout fans out to several recipients. TotalAmount equals the exact sum
// of the recipient amounts.
type BatchPayout struct {
	Recipients  []Recipient `json:"recipients"`
	TotalAmount string      `json:"total_amount"`
}

func (*BatchPayout) Type() DisbursementType { return TypeBatch }
func (p *BatchPayout) Total() string        { return p.TotalAmount }
func (p *BatchPayout) BeneficiaryIDs() []string {
	out := make([]string, 0, len(p.Recipients))
	for _, r := range p.Recipients {
		out = append(out, r.BeneficiaryID)
	}
	return out
}
func (*BatchPayout) isPayout() {}

// Recipient is one line of a batch disbursement. Address is copied from the
// beneficiary at creation time.
type Recipient struct {
	ID             string `json:"id"`
	DisbursementID string `json:"disbursement_id"`
	BeneficiaryID  string `json:"beneficiary_id"`
	Address        string `json:"address"`
	Amount         string `json:"amount"`
}

// RecipientInput is one requested batch line.
type RecipientInput struct {
	BeneficiaryID string `json:"beneficiary_id"`
	Amount        string `json:"amount"`
}

// Disbursement is a payment intent from an organization's Safe.
type Disbursement struct {
	ID         string             `json:"id"`
	OrgID      string             `json:"org_id"`
	SafeID     string             `json:"safe_id"`
	Token      string             `json:"token"`
	Memo       string             `json:"memo,omitempty"`
	Status     DisbursementStatus `json:"status"`
	SafeTxHash string             `json:"safe_tx_hash,omitempty"`
	TxHash     string             `json:"tx_hash,omitempty"`
	CreatedBy  string             `json:"created_by"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
	Payout     Payout             `json:"-"`
}

// Type returns the payout discriminator.
func (d Disbursement) Type() DisbursementType {
	if d.Payout == nil {
		return ""
	}
	return d.Payout.Type()
}

// Clone returns a deep copy of d.
func (d Disbursement) Clone() Disbursement {
	switch p := d.Payout.(type) {
	case *SinglePayout:
		cp := *p
		d.Payout = &cp
	case *BatchPayout:
		cp := BatchPayout{TotalAmount: p.TotalAmount, Recipients: append([]Recipient(nil), p.Recipients...)}
		d.Payout = &cp
	}
	return d
}
