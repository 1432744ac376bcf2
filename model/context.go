package model

import (
	"context"
	"errors"
	"fmt"
)

// RequestContext carries the resolved actor and tracing information for the
// lifetime of an authenticated request. It is immutable after construction and
// safe for concurrent reads.
type RequestContext struct {
	SubjectID     string
	Email         string
	Actor         Actor
	Claims        map[string]any
	CorrelationID string
	TraceID       string
}

// Validate checks that all mandatory fields are present.
// SubjectID must be non-empty and the actor must be usable by the guard.
func (rc *RequestContext) Validate() error {
	var errs []error
	if rc.SubjectID == "" {
		errs = append(errs, fmt.Errorf("SubjectID is required"))
	}
	if err := rc.Actor.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("actor: %w", err))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

type contextKey struct{}

// WithRequestContext attaches a RequestContext to the given context.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom extracts the RequestContext from the context, or returns nil
// if not present.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}

// ActorFrom returns the actor resolved for the request, if any.
func ActorFrom(ctx context.Context) (Actor, bool) {
	rctx := RequestContextFrom(ctx)
	if rctx == nil {
		return Actor{}, false
	}
	return rctx.Actor, true
}
