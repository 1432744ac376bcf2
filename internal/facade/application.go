package facade

import (
	"context"

	"github.com/rynzz22/digital.talibon/internal/stagegraph"
	"github.com/rynzz22/digital.talibon/model"
)

// PayloadAmount is the caller-facing name of the assessed fee.
const PayloadAmount = "amount"

// ApplicationWorkflow drives business permit applications.
type ApplicationWorkflow struct {
	*base
}

// NewApplicationWorkflow creates the application facade.
func NewApplicationWorkflow(engine Engine) *ApplicationWorkflow {
	return &ApplicationWorkflow{base: &base{
		engine: engine,
		kind:   model.KindApplication,
		specs: map[model.ActionName]payloadSpec{
			model.ActionSubmitAssessment: {
				allowed:  []string{PayloadAmount},
				required: []string{PayloadAmount},
				rename:   map[string]string{PayloadAmount: stagegraph.AttrAssessedAmount},
			},
			model.ActionConfirmPayment: {
				allowed: []string{stagegraph.AttrORNumber},
			},
		},
	}}
}

// VerifyAndForward sends a verified application to Engineering for
// inspection.
func (w *ApplicationWorkflow) VerifyAndForward(ctx context.Context, actor model.Actor, id string, opts ...CallOption) (model.Record, error) {
	return w.Invoke(ctx, actor, id, model.ActionVerifyAndForward, nil, opts...)
}

// InspectionApproved passes an inspected application to Treasury.
func (w *ApplicationWorkflow) InspectionApproved(ctx context.Context, actor model.Actor, id string, opts ...CallOption) (model.Record, error) {
	return w.Invoke(ctx, actor, id, model.ActionInspectionApproved, nil, opts...)
}

// SubmitAssessment records the assessed fee.
func (w *ApplicationWorkflow) SubmitAssessment(ctx context.Context, actor model.Actor, id string, amount float64, opts ...CallOption) (model.Record, error) {
	return w.Invoke(ctx, actor, id, model.ActionSubmitAssessment, map[string]any{PayloadAmount: amount}, opts...)
}

// ConfirmPayment marks the fee paid and forwards the application for the
// Mayor's signature. orNumber may be empty.
func (w *ApplicationWorkflow) ConfirmPayment(ctx context.Context, actor model.Actor, id, orNumber string, opts ...CallOption) (model.Record, error) {
	var payload map[string]any
	if orNumber != "" {
		payload = map[string]any{stagegraph.AttrORNumber: orNumber}
	}
	return w.Invoke(ctx, actor, id, model.ActionConfirmPayment, payload, opts...)
}

// SignAndApprove approves the permit.
func (w *ApplicationWorkflow) SignAndApprove(ctx context.Context, actor model.Actor, id string, opts ...CallOption) (model.Record, error) {
	return w.Invoke(ctx, actor, id, model.ActionSignAndApprove, nil, opts...)
}

// MarkReleased records that the permit was handed to the applicant.
func (w *ApplicationWorkflow) MarkReleased(ctx context.Context, actor model.Actor, id string, opts ...CallOption) (model.Record, error) {
	return w.Invoke(ctx, actor, id, model.ActionMarkReleased, nil, opts...)
}

// Return sends the application back for missing requirements.
func (w *ApplicationWorkflow) Return(ctx context.Context, actor model.Actor, id string, opts ...CallOption) (model.Record, error) {
	return w.Invoke(ctx, actor, id, model.ActionReturn, nil, opts...)
}

// Reject closes the application as denied.
func (w *ApplicationWorkflow) Reject(ctx context.Context, actor model.Actor, id string, opts ...CallOption) (model.Record, error) {
	return w.Invoke(ctx, actor, id, model.ActionReject, nil, opts...)
}
