package account

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/petehsu/KiroProxy/internal/auth/kiro"
	"github.com/petehsu/KiroProxy/internal/config"
	log "github.com/sirupsen/logrus"
)

const (
	stickyTTL = 60 * time.Second
	// rateLimitCooldown is the fixed window a rate-limited account sits out,
	// independent of its failure streak (spec'd at 5 minutes regardless of
	// how many times it has been rate-limited before).
	rateLimitCooldown   = 5 * time.Minute
	unhealthyRetryDelay = 10 * time.Minute
)

type stickyEntry struct {
	accountID string
	expiresAt time.Time
}

// ErrNoAccount is returned by Select when no account is selectable.
var ErrNoAccount = fmt.Errorf("account: no selectable account available")

// Store is the credential store: the in-memory pool of accounts, their
// health, and the session-stickiness table binding a session to the
// account it was last routed to.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	order    []string

	stickyMu sync.Mutex
	sticky   map[string]stickyEntry

	// limiter tracks consecutive non-success outcomes per account and derives
	// the exponential-backoff cooldown for server/transport errors; rate-limit
	// cooldowns use the fixed rateLimitCooldown window instead.
	limiter *kiro.RateLimiter
}

// NewStore returns an empty credential store.
func NewStore() *Store {
	return &Store{
		accounts: make(map[string]*Account),
		sticky:   make(map[string]stickyEntry),
		limiter:  kiro.NewRateLimiter(),
	}
}

// LoadFromConfig replaces the store's contents with the accounts persisted
// in cfg.
func (s *Store) LoadFromConfig(cfg *config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts = make(map[string]*Account, len(cfg.Accounts))
	s.order = s.order[:0]

	for _, e := range cfg.Accounts {
		expiresAt := kiro.ParseExpiresAt(e.ExpiresAt)
		acc := &Account{
			ID:         e.ID,
			Label:      e.Label,
			Provenance: Provenance(e.Provenance),
			Enabled:    e.Enabled,
			health:     HealthActive,
			Credential: Credential{
				AccessToken:  e.AccessToken,
				RefreshToken: e.RefreshToken,
				ExpiresAt:    expiresAt,
				AuthKind:     AuthKind(e.AuthMethod),
				ClientID:     e.ClientID,
				ClientSecret: e.ClientSecret,
				StartURL:     e.StartURL,
				Region:       e.Region,
				ProfileArn:   e.ProfileArn,
			},
		}
		if !acc.Enabled {
			acc.health = HealthDisabled
		}
		s.accounts[acc.ID] = acc
		s.order = append(s.order, acc.ID)
	}
	return nil
}

// ExportToConfig renders the store back into the persisted account-entry
// shape for Config.Save.
func (s *Store) ExportToConfig() []config.AccountEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]config.AccountEntry, 0, len(s.accounts))
	for _, id := range s.order {
		a := s.accounts[id]
		out = append(out, config.AccountEntry{
			ID:           a.ID,
			Label:        a.Label,
			Provenance:   string(a.Provenance),
			AuthMethod:   string(a.Credential.AuthKind),
			AccessToken:  a.Credential.AccessToken,
			RefreshToken: a.Credential.RefreshToken,
			ProfileArn:   a.Credential.ProfileArn,
			ExpiresAt:    a.Credential.ExpiresAt.Format(time.RFC3339),
			ClientID:     a.Credential.ClientID,
			ClientSecret: a.Credential.ClientSecret,
			StartURL:     a.Credential.StartURL,
			Region:       a.Credential.Region,
			Enabled:      a.Enabled,
		})
	}
	return out
}

// Add registers a new account, replacing any existing one with the same ID.
func (s *Store) Add(a *Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[a.ID]; !exists {
		s.order = append(s.order, a.ID)
	}
	s.accounts[a.ID] = a
}

// Remove deletes an account from the pool.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// SetEnabled toggles an account's Enabled flag and, when disabling, its
// health state.
func (s *Store) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("account %s not found", id)
	}
	a.Enabled = enabled
	if !enabled {
		a.health = HealthDisabled
	} else if a.health == HealthDisabled {
		a.health = HealthActive
	}
	return nil
}

// ActiveCount returns the number of enabled, currently-selectable accounts,
// used by the Orchestrator to bound its retry loop at min(3, ActiveCount).
func (s *Store) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	n := 0
	for _, id := range s.order {
		if s.accounts[id].selectable(now) {
			n++
		}
	}
	return n
}

// PruneSessions removes sticky bindings idle past stickyTTL. Intended to be
// called from a 30-second periodic task; Select also lazily ignores expired
// entries, so PruneSessions only bounds memory growth.
func (s *Store) PruneSessions() {
	now := time.Now()
	s.stickyMu.Lock()
	defer s.stickyMu.Unlock()
	for k, v := range s.sticky {
		if now.After(v.expiresAt) {
			delete(s.sticky, k)
		}
	}
}

// Get returns the account with the given ID.
func (s *Store) Get(id string) (*Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	return a, ok
}

// List returns a stable-ordered snapshot of every account.
func (s *Store) List() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Snapshot, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.accounts[id].snapshot())
	}
	return out
}

// Select returns the account to use for sessionID, skipping any account
// whose ID is in excludedIDs (accounts that already failed this request's
// earlier retry attempts). The account sessionID is already sticky to (if
// still selectable, not excluded, and within the idle TTL) is preferred;
// otherwise the selectable, non-excluded account least recently used wins,
// breaking ties by fewest in-flight requests. The caller must call Release
// when the request completes.
func (s *Store) Select(ctx context.Context, sessionID string, excludedIDs ...string) (*Account, error) {
	now := time.Now()
	excluded := make(map[string]struct{}, len(excludedIDs))
	for _, id := range excludedIDs {
		excluded[id] = struct{}{}
	}

	if sessionID != "" {
		s.stickyMu.Lock()
		entry, ok := s.sticky[sessionID]
		s.stickyMu.Unlock()
		if _, isExcluded := excluded[entry.accountID]; ok && !isExcluded && now.Before(entry.expiresAt) {
			if a, found := s.Get(entry.accountID); found {
				s.mu.RLock()
				selectable := a.selectable(now)
				if selectable {
					a.inFlightCount.Add(1)
				}
				s.mu.RUnlock()
				if selectable {
					s.touchSticky(sessionID, a.ID, now)
					return a, nil
				}
			}
		}
	}

	s.mu.RLock()
	var candidates []*Account
	for _, id := range s.order {
		if _, isExcluded := excluded[id]; isExcluded {
			continue
		}
		a := s.accounts[id]
		if a.selectable(now) {
			candidates = append(candidates, a)
		}
	}

	if len(candidates) == 0 {
		s.mu.RUnlock()
		return nil, ErrNoAccount
	}

	sort.Slice(candidates, func(i, j int) bool {
		li, lj := candidates[i].lastUsedAt, candidates[j].lastUsedAt
		if !li.Equal(lj) {
			return li.Before(lj)
		}
		return candidates[i].inFlightCount.Load() < candidates[j].inFlightCount.Load()
	})

	chosen := candidates[0]
	chosen.inFlightCount.Add(1)
	s.mu.RUnlock()
	if sessionID != "" {
		s.touchSticky(sessionID, chosen.ID, now)
	}
	return chosen, nil
}

func (s *Store) touchSticky(sessionID, accountID string, now time.Time) {
	s.stickyMu.Lock()
	s.sticky[sessionID] = stickyEntry{accountID: accountID, expiresAt: now.Add(stickyTTL)}
	s.stickyMu.Unlock()
}

// Release decrements the account's in-flight count after a request
// completes, regardless of outcome.
func (s *Store) Release(id string) {
	if a, ok := s.Get(id); ok {
		a.inFlightCount.Add(-1)
	}
}

// MarkSuccess records a successful upstream call: resets the failure streak,
// restores Active health, and records the harvested quota snapshot.
func (s *Store) MarkSuccess(id string, quota Quota) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return
	}
	a.lastUsedAt = time.Now()
	a.requestCount++
	if quota.Valid {
		a.quota = quota
	}
	if a.health == HealthCooldown {
		a.health = HealthActive
	}
	s.limiter.MarkTokenSuccess(id)
}

// MarkFailure records a failed upstream call and applies the health
// transition appropriate to kind.
func (s *Store) MarkFailure(id string, kind ErrorKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return
	}
	a.errorCount++
	a.requestCount++

	switch kind {
	case ErrRateLimited:
		// Fixed 5-minute window, per account, regardless of failure streak.
		a.health = HealthCooldown
		a.cooldownUntil = time.Now().Add(rateLimitCooldown)
		log.Warnf("account %s: rate limited, cooldown until %s", id, a.cooldownUntil.Format(time.RFC3339))
	case ErrServerError, ErrTransportError:
		s.limiter.MarkTokenFailed(id)
		a.health = HealthCooldown
		a.cooldownUntil = s.limiter.GetTokenState(id).CooldownEnd
		log.Warnf("account %s: entering cooldown until %s (kind=%s)", id, a.cooldownUntil.Format(time.RFC3339), kind)
	case ErrAuthFailed:
		a.health = HealthUnhealthy
		a.cooldownUntil = time.Now().Add(unhealthyRetryDelay)
		log.Warnf("account %s: marked unhealthy (auth failure), retry after %s", id, a.cooldownUntil.Format(time.RFC3339))
	case ErrLengthExceeded, ErrClientError:
		// Not the account's fault; no health transition.
	}
}

// --- kiro.TokenRepository adapter, used to wire the Store into
// kiro.BackgroundRefresher without that package knowing about Account. ---

// refreshEligibilityWindow is how close to expiry an account's token must be
// before the refresher bothers calling the upstream refresh endpoint for it.
const refreshEligibilityWindow = 15 * time.Minute

// FindOldestUnverified implements kiro.TokenRepository: it returns up to
// limit accounts whose token expires within refreshEligibilityWindow,
// soonest-to-expire first.
func (s *Store) FindOldestUnverified(limit int) []*kiro.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()

	deadline := time.Now().Add(refreshEligibilityWindow)
	candidates := make([]*Account, 0, len(s.order))
	for _, id := range s.order {
		a := s.accounts[id]
		if a.Enabled && a.health != HealthDisabled && a.Credential.ExpiresAt.Before(deadline) {
			candidates = append(candidates, a)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Credential.ExpiresAt.Before(candidates[j].Credential.ExpiresAt)
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]*kiro.Token, 0, len(candidates))
	for _, a := range candidates {
		out = append(out, &kiro.Token{
			ID:           a.ID,
			AccessToken:  a.Credential.AccessToken,
			RefreshToken: a.Credential.RefreshToken,
			ExpiresAt:    a.Credential.ExpiresAt,
			ClientID:     a.Credential.ClientID,
			ClientSecret: a.Credential.ClientSecret,
			AuthMethod:   string(a.Credential.AuthKind),
			StartURL:     a.Credential.StartURL,
			Region:       a.Credential.Region,
		})
	}
	return out
}

// UpdateToken implements kiro.TokenRepository: it writes a refreshed token
// back onto the matching account.
func (s *Store) UpdateToken(token *kiro.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[token.ID]
	if !ok {
		return fmt.Errorf("account %s not found", token.ID)
	}
	a.Credential.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		a.Credential.RefreshToken = token.RefreshToken
	}
	a.Credential.ExpiresAt = token.ExpiresAt
	if a.health == HealthUnhealthy {
		a.health = HealthActive
	}
	return nil
}

// MarkRefreshed restores an account to active health after a successful
// out-of-band refresh (the orchestrator reacting to auth_failed mid-request,
// or an operator-triggered management refresh) that wrote directly onto the
// Account's Credential without going through UpdateToken. A no-op for an
// account that wasn't unhealthy or cooling down.
func (s *Store) MarkRefreshed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return
	}
	if a.health == HealthUnhealthy || a.health == HealthCooldown {
		a.health = HealthActive
		a.cooldownUntil = time.Time{}
	}
	s.limiter.MarkTokenSuccess(id)
}
