package logging

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type requestIDKey struct{}

const ginRequestIDKey = "__request_id__"

// GenerateRequestID returns a short random identifier for correlating one
// request's log lines, taken from a UUIDv4's first 8 hex characters.
func GenerateRequestID() string {
	id := uuid.NewString()
	return id[:8]
}

// SetGinRequestID stashes id on c so downstream handlers and the logger
// middleware agree on the same value.
func SetGinRequestID(c *gin.Context, id string) {
	c.Set(ginRequestIDKey, id)
}

// GinRequestID returns the request ID stashed by SetGinRequestID, if any.
func GinRequestID(c *gin.Context) string {
	v, ok := c.Get(ginRequestIDKey)
	if !ok {
		return ""
	}
	id, _ := v.(string)
	return id
}

// WithRequestID returns a context carrying id, retrievable via RequestIDFromContext.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request ID carried by ctx, or "" if none.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
