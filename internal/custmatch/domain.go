package custmatch

import (
	"time"
)

// SyncStatus tracks the lifecycle of an external customer link.
type SyncStatus string

const (
	StatusPending SyncStatus = "pending"
	StatusSynced  SyncStatus = "synced"
	StatusIgnored SyncStatus = "ignored"
)

// Confidence bands for match scores.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"

	// AutoLinkThreshold is the minimum score for automatic linking.
	AutoLinkThreshold = 80
)

// BandFor returns the confidence band of a score.
func BandFor(score int) string {
	switch {
	case score >= AutoLinkThreshold:
		return ConfidenceHigh
	case score >= 50:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// ExternalIdentity is the raw customer snapshot observed on a remote
// document.
type ExternalIdentity struct {
	Name    string
	TaxCode string
	Email   string
	Phone   string
}

// ExternalLink ties a remote customer identity to an optional local
// customer. Links are soft state: created on first observation, refreshed on
// re-sync, never deleted.
type ExternalLink struct {
	ID              int64
	Provider        string
	ExternalID      string
	LocalCustomerID *int64
	Identity        ExternalIdentity
	Status          SyncStatus
	Conflict        string
	LastSyncedAt    time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Linked reports whether the link points at a local customer.
func (l *ExternalLink) Linked() bool {
	return l.LocalCustomerID != nil
}

// LocalCustomer is the read-only local record matching runs against.
type LocalCustomer struct {
	ID      int64
	Name    string
	TaxCode string
	Email   string
	Phone   string
}

// MatchCandidate is a scored pairing between one external identity and one
// local customer. Computed per request, never persisted.
type MatchCandidate struct {
	Customer   LocalCustomer `json:"customer"`
	Score      int           `json:"score"`
	Confidence string        `json:"confidence"`
	Reasons    []string      `json:"reasons"`
}
