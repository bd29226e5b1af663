// Package orchestrator is the front door: it drives every accepted request
// through normalization, governance, account selection, the upstream call,
// and the outbound translation, retrying across accounts on recoverable
// failures per the bounded state machine described in the package's
// originating design.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/petehsu/KiroProxy/internal/account"
	"github.com/petehsu/KiroProxy/internal/flow"
	"github.com/petehsu/KiroProxy/internal/governor"
	"github.com/petehsu/KiroProxy/internal/normalize"
	"github.com/petehsu/KiroProxy/internal/registry"
	"github.com/petehsu/KiroProxy/internal/translate"
	"github.com/petehsu/KiroProxy/internal/upstream"
)

// ErrorKind is the caller-facing error taxonomy from §7, distinct from
// account.ErrorKind which classifies the upstream cause.
type ErrorKind string

const (
	ErrNoAccountAvailable    ErrorKind = "no_account_available"
	ErrAuthenticationFailed  ErrorKind = "authentication_failed"
	ErrRateLimitedAll        ErrorKind = "rate_limited_all_accounts"
	ErrContentLengthExceeded ErrorKind = "content_length_exceeded"
	ErrUpstreamUnavailable   ErrorKind = "upstream_unavailable"
	ErrBadRequest            ErrorKind = "bad_request"
	ErrUnsupportedFeature    ErrorKind = "unsupported_feature"
	ErrInternal              ErrorKind = "internal"
)

// Error is the orchestrator's caller-facing error value; callers translate
// Kind into their protocol's native error shape.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Message) }

const defaultDeadline = 120 * time.Second

// Request is one inbound call, already decoded into canonical shapes by
// the protocol translator.
type Request struct {
	ClientProtocol string // "openai" | "anthropic" | "gemini"
	SessionID      string
	Conversation   normalize.Conversation
	Tools          []translate.Tool
	ToolChoice     translate.ToolChoice
	Model          string
	Stream         bool
}

// StreamWriter renders canonical Events into a client protocol's wire
// framing and writes them to the response as they arrive.
type StreamWriter interface {
	WriteStart(model, messageID string) error
	WriteEvent(ev translate.Event) error
	WriteError(err *Error) error
	Flush()
}

// Orchestrator wires the account pool, upstream client, and governor
// together to serve one request end to end.
type Orchestrator struct {
	Store    *account.Store
	Upstream *upstream.Client
	Governor *governor.Governor
	Flows    *flow.Ring
	Deadline time.Duration
}

// New returns an Orchestrator with the default 120s per-request deadline.
func New(store *account.Store, up *upstream.Client, gov *governor.Governor, flows *flow.Ring) *Orchestrator {
	return &Orchestrator{Store: store, Upstream: up, Governor: gov, Flows: flows, Deadline: defaultDeadline}
}

// ExecuteCollected runs req to completion and returns the single collected
// Result, for non-streaming protocol handlers.
func (o *Orchestrator) ExecuteCollected(ctx context.Context, req Request) (*translate.Result, *Error) {
	rec := flow.Record{ID: newID(), StartedAt: time.Now(), ClientProtocol: req.ClientProtocol, ModelRequested: req.Model}
	defer func() { o.Flows.Push(rec) }()

	ctx, cancel := context.WithTimeout(ctx, o.deadline())
	defer cancel()

	conv := o.Governor.PreSend(req.Conversation)
	conversationID := sessionOrNewID(req.SessionID)

	var excluded []string
	lengthRetried := false
	maxAttempts := clampAttempts(o.Store.ActiveCount())
	var lastKind account.ErrorKind

	for attempt := 0; attempt < maxAttempts; attempt++ {
		acc, selErr := o.Store.Select(ctx, req.SessionID, excluded...)
		if selErr != nil {
			rec.Status, rec.ErrorKind = "error", string(ErrNoAccountAvailable)
			return nil, &Error{Kind: ErrNoAccountAvailable, Message: "no selectable account"}
		}
		rec.AccountID = acc.ID

		model := req.Model
		body, buildErr := translate.BuildCodeWhispererRequest(conv, req.Tools, req.ToolChoice, model, conversationID)
		if buildErr != nil {
			o.Store.Release(acc.ID)
			rec.Status, rec.ErrorKind = "error", string(ErrBadRequest)
			return nil, &Error{Kind: ErrBadRequest, Message: buildErr.Error()}
		}

		resp, sendErr := o.Upstream.Send(ctx, acc, body, false)
		if sendErr != nil {
			o.Store.MarkFailure(acc.ID, account.ErrTransportError)
			o.Store.Release(acc.ID)
			excluded = append(excluded, acc.ID)
			lastKind = account.ErrTransportError
			continue
		}

		if resp.HTTP.StatusCode >= 400 {
			errBody, kind := upstream.ReadError(resp.HTTP)
			o.Store.Release(acc.ID)
			lastKind = kind

			switch kind {
			case account.ErrLengthExceeded:
				if !lengthRetried {
					lengthRetried = true
					conv = o.Governor.OnLengthExceeded(conv)
					continue // same account set; this isn't the account's fault
				}
				rec.Status, rec.ErrorKind = "error", string(ErrContentLengthExceeded)
				return nil, &Error{Kind: ErrContentLengthExceeded, Message: "conversation too long even after truncation"}
			case account.ErrClientError:
				rec.Status, rec.ErrorKind = "error", string(ErrBadRequest)
				return nil, &Error{Kind: ErrBadRequest, Message: errBody}
			default:
				o.Store.MarkFailure(acc.ID, kind)
				if kind == account.ErrRateLimited {
					registry.GetGlobalRegistry().MarkQuotaExceeded(model, acc.ID)
				}
				if kind == account.ErrAuthFailed {
					o.triggerRefresh(ctx, acc)
				}
				excluded = append(excluded, acc.ID)
				continue
			}
		}

		body2, readErr := io.ReadAll(resp.HTTP.Body)
		resp.HTTP.Body.Close()
		if readErr != nil {
			o.Store.Release(acc.ID)
			o.Store.MarkFailure(acc.ID, account.ErrTransportError)
			excluded = append(excluded, acc.ID)
			lastKind = account.ErrTransportError
			continue
		}

		result, parseErr := translate.ParseCollected(body2, model)
		if parseErr != nil {
			o.Store.Release(acc.ID)
			rec.Status, rec.ErrorKind = "error", string(ErrInternal)
			return nil, &Error{Kind: ErrInternal, Message: parseErr.Error()}
		}
		result.Usage.InputTokens = translate.EstimateConversationTokens(conv)

		o.Store.MarkSuccess(acc.ID, account.Quota{})
		o.Store.Release(acc.ID)
		registry.GetGlobalRegistry().ClearModelQuotaExceeded(acc.ID)
		rec.Status = "ok"
		rec.ModelActual = result.Model
		rec.DurationMS = time.Since(rec.StartedAt).Milliseconds()
		rec.InputTokens = int64(result.Usage.InputTokens)
		rec.OutputTokens = int64(result.Usage.OutputTokens)
		return result, nil
	}

	kind := ErrUpstreamUnavailable
	if lastKind == account.ErrRateLimited {
		kind = ErrRateLimitedAll
	}
	rec.Status, rec.ErrorKind = "error", string(kind)
	return nil, &Error{Kind: kind, Message: "exhausted all selectable accounts"}
}

// ExecuteStream runs req to completion, writing canonical Events to sw as
// they arrive. Once sw.WriteStart has been called, the response has
// committed: a mid-stream upstream failure is reported through
// sw.WriteError as a terminal event rather than switching accounts.
func (o *Orchestrator) ExecuteStream(ctx context.Context, req Request, sw StreamWriter) {
	rec := flow.Record{ID: newID(), StartedAt: time.Now(), ClientProtocol: req.ClientProtocol, ModelRequested: req.Model}
	defer func() { o.Flows.Push(rec) }()

	ctx, cancel := context.WithTimeout(ctx, o.deadline())
	defer cancel()

	conv := o.Governor.PreSend(req.Conversation)
	conversationID := sessionOrNewID(req.SessionID)

	var excluded []string
	lengthRetried := false
	maxAttempts := clampAttempts(o.Store.ActiveCount())
	committed := false

	for attempt := 0; attempt < maxAttempts; attempt++ {
		acc, selErr := o.Store.Select(ctx, req.SessionID, excluded...)
		if selErr != nil {
			if !committed {
				sw.WriteError(&Error{Kind: ErrNoAccountAvailable, Message: "no selectable account"})
			}
			rec.Status, rec.ErrorKind = "error", string(ErrNoAccountAvailable)
			return
		}
		rec.AccountID = acc.ID

		body, buildErr := translate.BuildCodeWhispererRequest(conv, req.Tools, req.ToolChoice, req.Model, conversationID)
		if buildErr != nil {
			o.Store.Release(acc.ID)
			sw.WriteError(&Error{Kind: ErrBadRequest, Message: buildErr.Error()})
			rec.Status, rec.ErrorKind = "error", string(ErrBadRequest)
			return
		}

		resp, sendErr := o.Upstream.Send(ctx, acc, body, true)
		if sendErr != nil {
			o.Store.MarkFailure(acc.ID, account.ErrTransportError)
			o.Store.Release(acc.ID)
			excluded = append(excluded, acc.ID)
			continue
		}

		if resp.HTTP.StatusCode >= 400 {
			_, kind := upstream.ReadError(resp.HTTP)
			o.Store.Release(acc.ID)

			if kind == account.ErrLengthExceeded && !lengthRetried {
				lengthRetried = true
				conv = o.Governor.OnLengthExceeded(conv)
				continue
			}
			o.Store.MarkFailure(acc.ID, kind)
			if kind == account.ErrRateLimited {
				registry.GetGlobalRegistry().MarkQuotaExceeded(req.Model, acc.ID)
			}
			if kind == account.ErrAuthFailed {
				o.triggerRefresh(ctx, acc)
			}
			excluded = append(excluded, acc.ID)
			continue
		}

		// First byte is about to be written: the response commits here.
		committed = true
		sw.WriteStart(req.Model, rec.ID)

		streamErr := translate.ParseStream(resp.HTTP.Body, func(ev translate.Event) error {
			return sw.WriteEvent(ev)
		})
		resp.HTTP.Body.Close()

		if streamErr != nil && ctx.Err() != nil {
			// Client disconnected or deadline hit: drop the stream, release
			// bookkeeping, forge nothing further.
			sw.Flush()
			o.Store.Release(acc.ID)
			rec.Status, rec.ErrorKind = "cancelled", ""
			return
		}
		if streamErr != nil {
			o.Store.MarkFailure(acc.ID, account.ErrTransportError)
			o.Store.Release(acc.ID)
			// The error goes out before Flush writes the stream terminator.
			sw.WriteError(&Error{Kind: ErrUpstreamUnavailable, Message: streamErr.Error()})
			sw.Flush()
			rec.Status, rec.ErrorKind = "error", string(ErrUpstreamUnavailable)
			return
		}

		sw.Flush()
		o.Store.MarkSuccess(acc.ID, account.Quota{})
		o.Store.Release(acc.ID)
		registry.GetGlobalRegistry().ClearModelQuotaExceeded(acc.ID)
		rec.Status = "ok"
		rec.DurationMS = time.Since(rec.StartedAt).Milliseconds()
		return
	}

	if !committed {
		sw.WriteError(&Error{Kind: ErrUpstreamUnavailable, Message: "exhausted all selectable accounts"})
	}
	rec.Status, rec.ErrorKind = "error", string(ErrUpstreamUnavailable)
}

// triggerRefresh implements the auth_failed state transition's "trigger
// refresh" step: a synchronous, in-band refresh attempt for the account that
// just failed, so it's healthy again for the next request even though this
// request still excludes it and moves on to another account.
func (o *Orchestrator) triggerRefresh(ctx context.Context, acc *account.Account) {
	if err := o.Upstream.RefreshAccount(ctx, acc); err != nil {
		log.Warnf("orchestrator: refresh after auth_failed for account %s failed: %v", acc.ID, err)
		return
	}
	o.Store.MarkRefreshed(acc.ID)
}

func (o *Orchestrator) deadline() time.Duration {
	if o.Deadline <= 0 {
		return defaultDeadline
	}
	return o.Deadline
}

func clampAttempts(activeCount int) int {
	if activeCount < 1 {
		return 1 // still try once so the caller gets a real error, not a silent no-op
	}
	if activeCount > 3 {
		return 3
	}
	return activeCount
}

func sessionOrNewID(sessionID string) string {
	if sessionID != "" {
		return sessionID
	}
	return newID()
}

func newID() string {
	return uuid.NewString()
}

