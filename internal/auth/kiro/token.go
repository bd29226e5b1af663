// Package kiro provides OAuth token exchange and refresh for the Kiro upstream provider.
//
// Interactive login (device-code polling, browser-based authorization-code
// exchange) is handled by an external collaborator and is intentionally not
// reimplemented here; this package only consumes and refreshes the resulting
// credential envelope.
package kiro

// KiroTokenData is the credential envelope produced by a login or refresh
// call against Kiro's auth backends. AuthMethod is one of "social", "idc",
// "builder-id" and records which backend issued the token; RefreshAccount
// picks its refresh endpoint from the account's Credential.AuthKind instead.
type KiroTokenData struct {
	AccessToken  string
	RefreshToken string
	ProfileArn   string
	ExpiresAt    string // RFC3339
	AuthMethod   string
	Provider     string
	Email        string
	ClientID     string
	ClientSecret string
	StartURL     string
	Region       string
}
