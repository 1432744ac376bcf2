package facade

import (
	"context"

	"github.com/rynzz22/digital.talibon/internal/stagegraph"
	"github.com/rynzz22/digital.talibon/model"
)

// DocumentWorkflow drives internal correspondence.
type DocumentWorkflow struct {
	*base
}

// NewDocumentWorkflow creates the document facade.
func NewDocumentWorkflow(engine Engine) *DocumentWorkflow {
	routing := payloadSpec{allowed: []string{stagegraph.PayloadToDepartment, stagegraph.PayloadToHolder}}
	return &DocumentWorkflow{base: &base{
		engine: engine,
		kind:   model.KindDocument,
		specs: map[model.ActionName]payloadSpec{
			model.ActionRoute:             routing,
			model.ActionForward:           routing,
			model.ActionSubmitForApproval: {allowed: []string{stagegraph.PayloadToDepartment}},
		},
	}}
}

func routePayload(toDept model.Department, holder string) map[string]any {
	p := map[string]any{stagegraph.PayloadToDepartment: string(toDept)}
	if holder != "" {
		p[stagegraph.PayloadToHolder] = holder
	}
	return p
}

// Route sends a received document to its first reviewing department.
func (w *DocumentWorkflow) Route(ctx context.Context, actor model.Actor, id string, toDept model.Department, holder string, opts ...CallOption) (model.Record, error) {
	return w.Invoke(ctx, actor, id, model.ActionRoute, routePayload(toDept, holder), opts...)
}

// Forward passes a document under review to another department.
func (w *DocumentWorkflow) Forward(ctx context.Context, actor model.Actor, id string, toDept model.Department, holder string, opts ...CallOption) (model.Record, error) {
	return w.Invoke(ctx, actor, id, model.ActionForward, routePayload(toDept, holder), opts...)
}

// SubmitForApproval sends a reviewed document to an executive. An empty
// toDept means the Mayor's Office.
func (w *DocumentWorkflow) SubmitForApproval(ctx context.Context, actor model.Actor, id string, toDept model.Department, opts ...CallOption) (model.Record, error) {
	var payload map[string]any
	if toDept != "" {
		payload = map[string]any{stagegraph.PayloadToDepartment: string(toDept)}
	}
	return w.Invoke(ctx, actor, id, model.ActionSubmitForApproval, payload, opts...)
}

// SignAndApprove approves a document awaiting executive action.
func (w *DocumentWorkflow) SignAndApprove(ctx context.Context, actor model.Actor, id string, opts ...CallOption) (model.Record, error) {
	return w.Invoke(ctx, actor, id, model.ActionSignAndApprove, nil, opts...)
}

// Reject disapproves a document awaiting executive action.
func (w *DocumentWorkflow) Reject(ctx context.Context, actor model.Actor, id string, opts ...CallOption) (model.Record, error) {
	return w.Invoke(ctx, actor, id, model.ActionReject, nil, opts...)
}

// Return sends the document back to the department that filed it.
func (w *DocumentWorkflow) Return(ctx context.Context, actor model.Actor, id string, opts ...CallOption) (model.Record, error) {
	return w.Invoke(ctx, actor, id, model.ActionReturn, nil, opts...)
}

// Archive files a closed document with Records.
func (w *DocumentWorkflow) Archive(ctx context.Context, actor model.Actor, id string, opts ...CallOption) (model.Record, error) {
	return w.Invoke(ctx, actor, id, model.ActionArchive, nil, opts...)
}
