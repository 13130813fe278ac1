package models

import (
	"fmt"
	"time"
)

// ScreeningEnforcement controls how sanctions-screening verdicts gate disbursements.
type ScreeningEnforcement string

const (
	EnforcementOff   ScreeningEnforcement = "off"
	EnforcementWarn  ScreeningEnforcement = "warn"
	EnforcementBlock ScreeningEnforcement = "block"
)

// Valid reports whether e is a known enforcement mode.
func (e ScreeningEnforcement) Valid() bool {
	switch e {
	case EnforcementOff, EnforcementWarn, EnforcementBlock:
		return true
	}
	return false
}

// FeeMode selects who pays network fees for executed disbursements.
type FeeMode string

const (
	FeeModeSponsored FeeMode = "sponsored"
	FeeModeSafe      FeeMode = "safe"
)

// Valid reports whether m is a known fee mode.
func (m FeeMode) Valid() bool {
	return m == FeeModeSponsored || m == FeeModeSafe
}

// OrgSettings holds optional per-tenant settings.
type OrgSettings struct {
	ScreeningEnforcement ScreeningEnforcement `json:"screening_enforcement"`
	FeeToken             string               `json:"fee_token,omitempty"`
	FeeMode              FeeMode              `json:"fee_mode,omitempty"`
}

// Enforcement returns the configured screening mode, defaulting to off.
func (s OrgSettings) Enforcement() ScreeningEnforcement {
	if s.ScreeningEnforcement == "" {
		return EnforcementOff
	}
	return s.ScreeningEnforcement
}

// Validate checks enumerated settings values.
func (s OrgSettings) Validate() error {
	if s.ScreeningEnforcement != "" && !s.ScreeningEnforcement.Valid() {
		return fmt.Errorf("%w: screening_enforcement %q", ErrInvalidSettings, s.ScreeningEnforcement)
	}
	if s.FeeMode != "" && !s.FeeMode.Valid() {
		return fmt.Errorf("%w: fee_mode %q", ErrInvalidSettings, s.FeeMode)
	}
	return nil
}

// SettingsUpdate carries optional settings changes.
type SettingsUpdate struct {
	ScreeningEnforcement *ScreeningEnforcement `json:"screening_enforcement,omitempty"`
	FeeToken             *string               `json:"fee_token,omitempty"`
	FeeMode              *FeeMode              `json:"fee_mode,omitempty"`
}

// Apply returns s with the non-nil fields of upd applied, plus the applied field set.
func (s OrgSettings) Apply(upd SettingsUpdate) (OrgSettings, map[string]any) {
	applied := map[string]any{}
	if upd.ScreeningEnforcement != nil {
		s.ScreeningEnforcement = *upd.ScreeningEnforcement
		applied["screening_enforcement"] = string(*upd.ScreeningEnforcement)
	}
	if upd.FeeToken != nil {
		s.FeeToken = *upd.FeeToken
		applied["fee_token"] = *upd.FeeToken
	}
	if upd.FeeMode != nil {
		s.FeeMode = *upd.FeeMode
		applied["fee_mode"] = string(*upd.FeeMode)
	}
	return s, applied
}

// Organization is the tenant boundary.
type Organization struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	CreatedBy string      `json:"created_by"`
	Settings  OrgSettings `json:"settings"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Safe is the multisig payment-source account linked to an organization.
type Safe struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	Address   string    `json:"address"`
	ChainID   int64     `json:"chain_id"`
	LinkedBy  string    `json:"linked_by"`
	CreatedAt time.Time `json:"created_at"`
}
