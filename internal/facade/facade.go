// Package facade exposes one named-operation API per record kind on top of
// the generic transition engine, and resolves the acting officer from token
// claims.
package facade

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/rynzz22/digital.talibon/internal/workflow"
	"github.com/rynzz22/digital.talibon/model"
)

// Engine is the part of the transition engine the facades drive.
type Engine interface {
	Apply(ctx context.Context, actor model.Actor, req workflow.Request) (model.Record, error)
	Open(ctx context.Context, actor model.Actor, in workflow.Intake) (model.Record, error)
	Get(ctx context.Context, kind model.Kind, id string) (model.Record, error)
	ListLegalActions(ctx context.Context, actor model.Actor, kind model.Kind, id string) ([]model.ActionName, error)
	History(ctx context.Context, kind model.Kind, id string) ([]model.AuditEntry, error)
	Worklist(ctx context.Context, actor model.Actor, kind model.Kind, limit, offset int) ([]model.Record, error)
}

// CallOption adjusts a single facade call.
type CallOption func(*call)

type call struct {
	notes          string
	idempotencyKey string
}

// WithNotes attaches free-text notes to the audit entry.
func WithNotes(notes string) CallOption {
	return func(c *call) { c.notes = notes }
}

// WithIdempotencyKey makes a retried call return the first result.
func WithIdempotencyKey(key string) CallOption {
	return func(c *call) { c.idempotencyKey = key }
}

// payloadSpec lists the payload keys one action accepts.
type payloadSpec struct {
	allowed  []string
	required []string
	// rename maps caller-facing keys to attribute names.
	rename map[string]string
}

// Workflow is the kind-independent surface every facade offers.
type Workflow interface {
	Kind() model.Kind
	Open(ctx context.Context, actor model.Actor, attrs map[string]any, opts ...CallOption) (model.Record, error)
	OpenWithID(ctx context.Context, actor model.Actor, id string, attrs map[string]any, opts ...CallOption) (model.Record, error)
	Invoke(ctx context.Context, actor model.Actor, id string, action model.ActionName, payload map[string]any, opts ...CallOption) (model.Record, error)
	Get(ctx context.Context, id string) (model.Record, error)
	Actions(ctx context.Context, actor model.Actor, id string) ([]model.ActionName, error)
	History(ctx context.Context, id string) ([]model.AuditEntry, error)
	Worklist(ctx context.Context, actor model.Actor, limit, offset int) ([]model.Record, error)
}

// base implements Workflow for one kind. Named operations on the concrete
// facades are thin wrappers over invoke.
type base struct {
	engine Engine
	kind   model.Kind
	specs  map[model.ActionName]payloadSpec
}

func (b *base) Kind() model.Kind { return b.kind }

func (b *base) Open(ctx context.Context, actor model.Actor, attrs map[string]any, opts ...CallOption) (model.Record, error) {
	return b.OpenWithID(ctx, actor, "", attrs, opts...)
}

func (b *base) OpenWithID(ctx context.Context, actor model.Actor, id string, attrs map[string]any, opts ...CallOption) (model.Record, error) {
	c := collect(opts)
	return b.engine.Open(ctx, actor, workflow.Intake{Kind: b.kind, ID: id, Attributes: attrs, Notes: c.notes})
}

// Invoke applies the action. The payload is checked against the action's
// accepted keys and translated to attribute names only after the engine has
// found the record and authorized the actor, so NOT_FOUND and guard errors
// take precedence over payload shape.
func (b *base) Invoke(ctx context.Context, actor model.Actor, id string, action model.ActionName, payload map[string]any, opts ...CallOption) (model.Record, error) {
	c := collect(opts)
	return b.engine.Apply(ctx, actor, workflow.Request{
		Kind:           b.kind,
		ID:             id,
		Action:         action,
		Payload:        payload,
		Notes:          c.notes,
		IdempotencyKey: c.idempotencyKey,
		Check:          b.specs[action].translate,
	})
}

func (b *base) Get(ctx context.Context, id string) (model.Record, error) {
	return b.engine.Get(ctx, b.kind, id)
}

func (b *base) Actions(ctx context.Context, actor model.Actor, id string) ([]model.ActionName, error) {
	return b.engine.ListLegalActions(ctx, actor, b.kind, id)
}

func (b *base) History(ctx context.Context, id string) ([]model.AuditEntry, error) {
	return b.engine.History(ctx, b.kind, id)
}

func (b *base) Worklist(ctx context.Context, actor model.Actor, limit, offset int) ([]model.Record, error) {
	return b.engine.Worklist(ctx, actor, b.kind, limit, offset)
}

func collect(opts []CallOption) call {
	var c call
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (s payloadSpec) translate(payload map[string]any) (map[string]any, []model.FieldError) {
	var details []model.FieldError

	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any, len(payload))
	for _, k := range keys {
		if !slices.Contains(s.allowed, k) {
			details = append(details, model.FieldError{
				Field:   k,
				Code:    "UNEXPECTED",
				Message: fmt.Sprintf("%s is not accepted by this action", k),
			})
			continue
		}
		name := k
		if renamed, ok := s.rename[k]; ok {
			name = renamed
		}
		out[name] = payload[k]
	}
	for _, k := range s.required {
		if _, ok := payload[k]; !ok {
			details = append(details, model.FieldError{
				Field:   k,
				Code:    "REQUIRED",
				Message: k + " is required",
			})
		}
	}
	return out, details
}
