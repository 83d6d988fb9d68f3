package jrpc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/danmuck/jrpc/internal/observability"
	"github.com/danmuck/jrpc/internal/rpcerr"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Call is one outgoing message as seen by middleware.
type Call struct {
	// Method is the namespaced method name.
	Method string
	// ID is empty for notifications.
	ID           string
	Payload      []byte
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c *Call) IsNotification() bool { return c.ID == "" }

func (c *Call) kind() string {
	if c.IsNotification() {
		return observability.CallKindNotification
	}
	return observability.CallKindRequest
}

// Invoker sends a call and returns the raw result. Notifications return a nil
// result.
type Invoker func(call *Call) (json.RawMessage, error)

type Middleware func(next Invoker) Invoker

// Chain composes middlewares so the first one runs outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next Invoker) Invoker {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// LoggingMiddleware writes one trace line per call with the method, the
// truncated request and result, and the elapsed time.
func LoggingMiddleware(logger zerolog.Logger, truncateLen int) Middleware {
	return func(next Invoker) Invoker {
		return func(call *Call) (json.RawMessage, error) {
			start := time.Now()
			result, err := next(call)
			tr := observability.CallTrace{
				Method:   call.Method,
				ID:       call.ID,
				Kind:     call.kind(),
				Request:  call.Payload,
				Response: result,
				Elapsed:  time.Since(start),
				Err:      err,
			}
			if err != nil {
				kind := rpcerr.KindOf(err)
				tr.ErrorKind = kind.String()
				tr.Server = kind.IsServer()
			}
			observability.LogCall(logger, tr, truncateLen)
			return result, err
		}
	}
}

// MetricsMiddleware counts calls and observes their duration.
func MetricsMiddleware() Middleware {
	observability.RegisterMetrics()
	return func(next Invoker) Invoker {
		return func(call *Call) (json.RawMessage, error) {
			start := time.Now()
			result, err := next(call)
			errorKind := ""
			if err != nil {
				errorKind = rpcerr.KindOf(err).String()
			}
			observability.RecordCall(call.Method, call.kind(), errorKind, time.Since(start))
			return result, err
		}
	}
}

// RateLimitMiddleware paces calls with a token bucket of r calls per second.
// A call waits for a token at most its write timeout. r <= 0 disables the
// limit.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limit := rate.Limit(r)
	if r <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(limit, burst)
	return func(next Invoker) Invoker {
		return func(call *Call) (json.RawMessage, error) {
			ctx, cancel := context.WithTimeout(context.Background(), call.WriteTimeout)
			defer cancel()
			if err := limiter.Wait(ctx); err != nil {
				return nil, &rpcerr.Error{
					Kind:    rpcerr.KindTimeout,
					Op:      rpcerr.OpWrite,
					Message: "rate limit wait exceeded write timeout",
					Err:     err,
				}
			}
			return next(call)
		}
	}
}
