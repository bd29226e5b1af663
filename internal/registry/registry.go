// Package registry tracks which canonical models exist and which accounts
// are currently unable to serve them, so the management API can answer
// "what's unavailable right now" without walking the account store directly.
package registry

import (
	"sync"
	"time"
)

// ModelInfo describes one canonical model the translators accept.
type ModelInfo struct {
	ID          string
	DisplayName string
}

// Registration tracks per-account unavailability for one model.
type Registration struct {
	Info                 *ModelInfo
	Type                 string // provider/channel label, e.g. "kiro" or "aws-idc"
	QuotaExceededClients map[string]*time.Time
	SuspendedClients     map[string]*time.Time
}

// Registry is the process-wide view of model availability.
type Registry struct {
	mu     sync.RWMutex
	models map[string]*Registration
	// provider maps an account ID to the upstream provider label it uses.
	provider map[string]string
}

var global = New()

// New returns an empty Registry seeded with the four canonical models.
func New() *Registry {
	r := &Registry{
		models:   make(map[string]*Registration),
		provider: make(map[string]string),
	}
	for _, id := range []string{"claude-sonnet-4", "claude-sonnet-4.5", "claude-haiku-4.5", "claude-opus-4.5"} {
		r.models[id] = &Registration{
			Info:                 &ModelInfo{ID: id, DisplayName: id},
			Type:                 "kiro",
			QuotaExceededClients: make(map[string]*time.Time),
			SuspendedClients:     make(map[string]*time.Time),
		}
	}
	return r
}

// GetGlobalRegistry returns the process-wide Registry singleton.
func GetGlobalRegistry() *Registry { return global }

// GetAllModels returns every tracked model's registration.
func (r *Registry) GetAllModels() map[string]*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Registration, len(r.models))
	for k, v := range r.models {
		out[k] = v
	}
	return out
}

// LookupModelInfo returns the registration for modelID, or nil if unknown.
func (r *Registry) LookupModelInfo(modelID string) *Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.models[modelID]
}

// RegisterAccountProvider records the upstream provider label an account
// uses, for GetClientProvider lookups.
func (r *Registry) RegisterAccountProvider(accountID, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.provider[accountID] = provider
}

// GetClientProvider returns the provider label registered for accountID, or
// "unknown" if it was never registered.
func (r *Registry) GetClientProvider(accountID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.provider[accountID]; ok {
		return p
	}
	return "unknown"
}

// MarkQuotaExceeded records that accountID cannot currently serve modelID
// due to a quota/rate-limit cooldown.
func (r *Registry) MarkQuotaExceeded(modelID, accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.models[modelID]
	if !ok {
		return
	}
	now := time.Now()
	reg.QuotaExceededClients[accountID] = &now
}

// ClearModelQuotaExceeded clears accountID's quota-exceeded marker across
// every tracked model.
func (r *Registry) ClearModelQuotaExceeded(accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reg := range r.models {
		delete(reg.QuotaExceededClients, accountID)
	}
}

// ResumeClientModel clears both the quota-exceeded and suspended markers
// for accountID on modelID, so it no longer reports as unavailable. The
// account store's selection does not consult the registry.
func (r *Registry) ResumeClientModel(modelID, accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reg, ok := r.models[modelID]; ok {
		delete(reg.QuotaExceededClients, accountID)
		delete(reg.SuspendedClients, accountID)
	}
}

// LookupModelInfo is the package-level convenience form used by middleware
// that only has the global registry in scope.
func LookupModelInfo(modelID string) *Registration {
	return global.LookupModelInfo(modelID)
}
