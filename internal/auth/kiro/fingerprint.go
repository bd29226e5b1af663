package kiro

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// kiroIDEVersion is the Kiro IDE release the proxy impersonates in its
// User-Agent header. Upstream rate limiting keys partly on this string.
const kiroIDEVersion = "0.7.45"

// Fingerprint is a stable per-token identity used to build the User-Agent
// header so that repeated refreshes for the same account look like the same
// installed IDE rather than a new device every time.
type Fingerprint struct {
	KiroVersion string
	KiroHash    string
}

// FingerprintManager caches fingerprints per token key so the same account
// always presents the same synthetic device identity.
type FingerprintManager struct {
	mu           sync.Mutex
	fingerprints map[string]Fingerprint
}

var (
	fingerprintManagerOnce sync.Once
	fingerprintManager     *FingerprintManager
)

// NewFingerprintManager returns the process-wide fingerprint manager.
func NewFingerprintManager() *FingerprintManager {
	fingerprintManagerOnce.Do(func() {
		fingerprintManager = &FingerprintManager{fingerprints: make(map[string]Fingerprint)}
	})
	return fingerprintManager
}

// GetFingerprint returns the fingerprint for tokenKey, deriving and caching
// one on first use.
func (m *FingerprintManager) GetFingerprint(tokenKey string) Fingerprint {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fp, ok := m.fingerprints[tokenKey]; ok {
		return fp
	}
	sum := sha256.Sum256([]byte(tokenKey))
	fp := Fingerprint{
		KiroVersion: kiroIDEVersion,
		KiroHash:    hex.EncodeToString(sum[:]),
	}
	m.fingerprints[tokenKey] = fp
	return fp
}
