// Package models defines the records, enumerations and error kinds shared by
// every treasury component.
package models

import "time"

// Identity is the internal user behind a normalized wallet handle.
type Identity struct {
	ID        string    `json:"id"`
	Handle    string    `json:"handle"`
	Email     string    `json:"email,omitempty"`
	Locale    string    `json:"locale,omitempty"`
	Theme     string    `json:"theme,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProfileUpdate carries optional profile changes; nil fields are left untouched.
type ProfileUpdate struct {
	Email  *string `json:"email,omitempty"`
	Locale *string `json:"locale,omitempty"`
	Theme  *string `json:"theme,omitempty"`
}
