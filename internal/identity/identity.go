// Package identity resolves a person across the messaging service and the
// document store, starting from an email address.
//
// Resolution is staged; the first stage that finds someone wins:
//
//  1. exact email in the messaging directory or the member set (1.0)
//  2. the only member sharing the email's domain (0.7)
//  3. closest member name to the email's local part (0.1 to 0.3)
//
// Only identities at or above the configured threshold drive automated
// flows. Results, misses included, are cached for the life of a Session.
package identity

import (
	"context"
	"strings"
)

// Source records which stage produced an Identity.
type Source string

const (
	SourceExact  Source = "exact"
	SourceDomain Source = "domain"
	SourceName   Source = "name"
)

// Stage confidences.
const (
	ConfidenceExact  = 1.0
	ConfidenceDomain = 0.7
	// Name matches score in (ConfidenceNameFloor, ConfidenceNameFloor+ConfidenceNameSpan].
	ConfidenceNameFloor = 0.1
	ConfidenceNameSpan  = 0.2

	// DefaultThreshold gates automated flows.
	DefaultThreshold = 0.9
)

// Identity is one person as seen by both external systems.
type Identity struct {
	Email           string  `json:"email"`
	Name            string  `json:"name,omitempty"`
	MessagingHandle string  `json:"messaging_handle,omitempty"`
	DocumentHandle  string  `json:"document_handle,omitempty"`
	Confidence      float64 `json:"confidence"`
	Source          Source  `json:"source"`
}

// Usable reports whether the identity may drive an automated flow.
func (i *Identity) Usable(threshold float64) bool {
	return i != nil && i.Confidence >= threshold
}

// Notifiable reports whether the identity is usable and reachable.
func (i *Identity) Notifiable(threshold float64) bool {
	return i.Usable(threshold) && i.MessagingHandle != ""
}

// Profile is a messaging-service user.
type Profile struct {
	Handle string
	Email  string
	Name   string
}

// ProfileLookup finds messaging-service users. A miss is (nil, nil).
type ProfileLookup interface {
	LookupByEmail(ctx context.Context, email string) (*Profile, error)
}

// Member is a person known to the document store.
type Member struct {
	Email          string `json:"email" toml:"email"`
	Name           string `json:"name" toml:"name"`
	DocumentHandle string `json:"document_handle,omitempty" toml:"document_handle"`
}

// MemberDirectory lists the document store's members.
type MemberDirectory interface {
	Members(ctx context.Context) ([]Member, error)
}

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// splitEmail returns the local part and domain of a normalized address.
func splitEmail(email string) (local, domain string, ok bool) {
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return "", "", false
	}
	return email[:at], email[at+1:], true
}
