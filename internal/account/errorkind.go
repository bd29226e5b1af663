package account

// ErrorKind classifies an upstream request failure so MarkFailure can apply
// the right health transition and cooldown policy.
type ErrorKind string

const (
	ErrRateLimited    ErrorKind = "rate_limited"
	ErrAuthFailed     ErrorKind = "auth_failed"
	ErrLengthExceeded ErrorKind = "length_exceeded"
	ErrServerError    ErrorKind = "server_error"
	ErrTransportError ErrorKind = "transport_error"
	ErrClientError    ErrorKind = "client_error"
)
