// Package account implements the credential store: the pool of upstream
// Kiro accounts, their derived health state, and the persisted credential
// envelope each one carries.
package account

import (
	"sync/atomic"
	"time"
)

// Provenance records how an account's credentials were originally obtained.
type Provenance string

const (
	ProvenanceAWSDeviceCode  Provenance = "aws-device-code"
	ProvenanceSocialGoogle   Provenance = "social-google"
	ProvenanceSocialGitHub   Provenance = "social-github"
	ProvenanceScannedLocal   Provenance = "scanned-local-cache"
)

// AuthKind selects which upstream refresh endpoint applies to an account.
type AuthKind string

const (
	AuthKindSocial     AuthKind = "social"
	AuthKindIDC        AuthKind = "idc"
	AuthKindBuilderID  AuthKind = "builder-id"
)

// Health is the account's lifecycle state as driven by request outcomes and
// operator action. Store.MarkFailure, MarkSuccess, MarkRefreshed, UpdateToken
// and SetEnabled drive the transitions.
type Health string

const (
	HealthActive    Health = "active"
	HealthCooldown  Health = "cooldown"
	HealthUnhealthy Health = "unhealthy"
	HealthDisabled  Health = "disabled"
)

// Credential is the opaque envelope returned by login/refresh flows.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	AuthKind     AuthKind

	// ClientID/ClientSecret/StartURL are only populated for AuthKindIDC and
	// AuthKindBuilderID; they were issued at device-code registration time
	// and must be replayed on every refresh.
	ClientID     string
	ClientSecret string
	StartURL     string
	Region       string
	ProfileArn   string
}

// Quota is a best-effort snapshot harvested from upstream response headers.
type Quota struct {
	Remaining int
	ResetAt   time.Time
	Valid     bool
}

// Account is one upstream credential plus its derived runtime state.
//
// Account has no lock of its own: all mutation happens through Store methods
// under Store.mu so that the "choose LRU active account" read-and-bookkeep
// critical section in Store.Select cannot interleave with a concurrent health
// transition.
type Account struct {
	ID         string
	Label      string
	Provenance Provenance
	Credential Credential
	Enabled    bool

	health         Health
	cooldownUntil  time.Time
	lastUsedAt     time.Time
	requestCount   int64
	errorCount     int64
	inFlightCount  atomic.Int64
	lastPersistErr string
	quota          Quota
}

// Snapshot is an immutable, externally safe copy of an Account's observable
// state, used for API responses and config export.
type Snapshot struct {
	ID             string
	Label          string
	Provenance     Provenance
	AuthKind       AuthKind
	ExpiresAt      time.Time
	Enabled        bool
	Health         Health
	CooldownUntil  time.Time
	LastUsedAt     time.Time
	RequestCount   int64
	ErrorCount     int64
	InFlightCount  int64
	LastPersistErr string
	Quota          Quota
}

func (a *Account) snapshot() Snapshot {
	return Snapshot{
		ID:             a.ID,
		Label:          a.Label,
		Provenance:     a.Provenance,
		AuthKind:       a.Credential.AuthKind,
		ExpiresAt:      a.Credential.ExpiresAt,
		Enabled:        a.Enabled,
		Health:         a.health,
		CooldownUntil:  a.cooldownUntil,
		LastUsedAt:     a.lastUsedAt,
		RequestCount:   a.requestCount,
		ErrorCount:     a.errorCount,
		InFlightCount:  a.inFlightCount.Load(),
		LastPersistErr: a.lastPersistErr,
		Quota:          a.quota,
	}
}

// Selectable reports whether the account may be handed to a new request:
// active health and enabled. Disabled/unhealthy/cooldown accounts are never
// selectable; cooldown accounts become selectable again once the deadline
// passes (handled by Store on read, see Store.Select).
func (a *Account) selectable(now time.Time) bool {
	if !a.Enabled {
		return false
	}
	if a.health == HealthCooldown && now.Before(a.cooldownUntil) {
		return false
	}
	return a.health == HealthActive || (a.health == HealthCooldown && !now.Before(a.cooldownUntil))
}
