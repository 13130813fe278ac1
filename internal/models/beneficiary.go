package models

import "time"

// BeneficiaryType distinguishes natural persons from companies.
type BeneficiaryType string

const (
	BeneficiaryIndividual BeneficiaryType = "individual"
	BeneficiaryBusiness   BeneficiaryType = "business"
)

// Valid reports whether t is a known beneficiary type.
func (t BeneficiaryType) Valid() bool {
	return t == BeneficiaryIndividual || t == BeneficiaryBusiness
}

// Beneficiary is a payment recipient owned by one organization. Beneficiaries
// are never deleted; IsActive is the only removal path.
type Beneficiary struct {
	ID        string          `json:"id"`
	OrgID     string          `json:"org_id"`
	Name      string          `json:"name"`
	Type      BeneficiaryType `json:"type"`
	Address   string          `json:"address"`
	Notes     string          `json:"notes,omitempty"`
	IsActive  bool            `json:"is_active"`
	CreatedBy string          `json:"created_by"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// BeneficiaryInput holds the fields of a new beneficiary.
type BeneficiaryInput struct {
	Name    string          `json:"name"`
	Type    BeneficiaryType `json:"type"`
	Address string          `json:"address"`
	Notes   string          `json:"notes,omitempty"`
}

// BeneficiaryUpdate carries optional field replacements.
type BeneficiaryUpdate struct {
	Name     *string          `json:"name,omitempty"`
	Type     *BeneficiaryType `json:"type,omitempty"`
	Address  *string          `json:"address,omitempty"`
	Notes    *string          `json:"notes,omitempty"`
	IsActive *bool            `json:"is_active,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u BeneficiaryUpdate) Empty() bool {
	return u.Name == nil && u.Type == nil && u.Address == nil && u.Notes == nil && u.IsActive == nil
}
