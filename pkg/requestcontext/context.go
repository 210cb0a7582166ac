// Package requestcontext provides HTTP-independent accessors for request-scoped
// values. Middleware sets them; services and audit emitters read them.
//
//	caller := requestcontext.Caller(ctx)
//	requestID := requestcontext.RequestID(ctx)
//	now := requestcontext.Now(ctx)
//
// Tests inject values directly:
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
package requestcontext

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type (
	callerKey      struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
	clientIPKey    struct{}
	clientAgentKey struct{}
)

var (
	ContextKeyCaller      = callerKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
	ContextKeyClientIP    = clientIPKey{}
	ContextKeyClientAgent = clientAgentKey{}
)

// Caller returns the authenticated principal, or the zero address when unset.
func Caller(ctx context.Context) common.Address {
	if addr, ok := ctx.Value(ContextKeyCaller).(common.Address); ok {
		return addr
	}
	return common.Address{}
}

// WithCaller injects the authenticated principal.
func WithCaller(ctx context.Context, caller common.Address) context.Context {
	return context.WithValue(ctx, ContextKeyCaller, caller)
}

// RequestID retrieves the correlation id.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a correlation id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// ClientIP retrieves the remote address recorded by middleware.
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ContextKeyClientIP).(string); ok {
		return ip
	}
	return ""
}

// WithClientIP injects the remote address.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ContextKeyClientIP, ip)
}

// ClientAgent retrieves the parsed client description, e.g. "Chrome on Linux".
func ClientAgent(ctx context.Context) string {
	if agent, ok := ctx.Value(ContextKeyClientAgent).(string); ok {
		return agent
	}
	return ""
}

func WithClientAgent(ctx context.Context, agent string) context.Context {
	return context.WithValue(ctx, ContextKeyClientAgent, agent)
}

// Now retrieves the request-scoped time. Falls back to time.Now() outside HTTP
// requests (workers, CLI, tests without an injected time).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a fixed time, used by middleware and tests.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
