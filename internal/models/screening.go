package models

import "time"

// ScreeningStatus is the sanctions-screening verdict for a beneficiary.
type ScreeningStatus string

const (
	ScreeningClear          ScreeningStatus = "clear"
	ScreeningPotentialMatch ScreeningStatus = "potential_match"
	ScreeningConfirmedMatch ScreeningStatus = "confirmed_match"
	ScreeningFalsePositive  ScreeningStatus = "false_positive"
)

// Valid reports whether s is a known verdict.
func (s ScreeningStatus) Valid() bool {
	switch s {
	case ScreeningClear, ScreeningPotentialMatch, ScreeningConfirmedMatch, ScreeningFalsePositive:
		return true
	}
	return false
}

// Flagged reports whether the verdict blocks in-flight transitions under block enforcement.
func (s ScreeningStatus) Flagged() bool {
	return s == ScreeningPotentialMatch || s == ScreeningConfirmedMatch
}

// ScreeningOverride is one human review of a verdict.
type ScreeningOverride struct {
	ReviewerID string          `json:"reviewer_id"`
	From       ScreeningStatus `json:"from"`
	To         ScreeningStatus `json:"to"`
	Note       string          `json:"note,omitempty"`
	ReviewedAt time.Time       `json:"reviewed_at"`
}

// ScreeningResult is the latest verdict for a beneficiary plus its review history.
type ScreeningResult struct {
	BeneficiaryID string              `json:"beneficiary_id"`
	OrgID         string              `json:"org_id"`
	Status        ScreeningStatus     `json:"status"`
	MatchedName   string              `json:"matched_name,omitempty"`
	Overrides     []ScreeningOverride `json:"overrides,omitempty"`
	CheckedAt     time.Time           `json:"checked_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}
