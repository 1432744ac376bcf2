package facade

import (
	"context"

	"github.com/rynzz22/digital.talibon/internal/stagegraph"
	"github.com/rynzz22/digital.talibon/model"
)

// VoucherWorkflow drives disbursement vouchers.
type VoucherWorkflow struct {
	*base
}

// NewVoucherWorkflow creates the voucher facade.
func NewVoucherWorkflow(engine Engine) *VoucherWorkflow {
	return &VoucherWorkflow{base: &base{
		engine: engine,
		kind:   model.KindVoucher,
		specs: map[model.ActionName]payloadSpec{
			model.ActionSign: {allowed: []string{stagegraph.AttrFundSource}},
		},
	}}
}

// Sign signs the voucher at its current desk and passes it on.
func (w *VoucherWorkflow) Sign(ctx context.Context, actor model.Actor, id string, opts ...CallOption) (model.Record, error) {
	return w.Invoke(ctx, actor, id, model.ActionSign, nil, opts...)
}

// SignWithFundSource signs at Budget Review and records the fund source.
func (w *VoucherWorkflow) SignWithFundSource(ctx context.Context, actor model.Actor, id, fundSource string, opts ...CallOption) (model.Record, error) {
	return w.Invoke(ctx, actor, id, model.ActionSign, map[string]any{stagegraph.AttrFundSource: fundSource}, opts...)
}

// Release disburses the voucher.
func (w *VoucherWorkflow) Release(ctx context.Context, actor model.Actor, id string, opts ...CallOption) (model.Record, error) {
	return w.Invoke(ctx, actor, id, model.ActionRelease, nil, opts...)
}

// Return sends the voucher back to the preparing department.
func (w *VoucherWorkflow) Return(ctx context.Context, actor model.Actor, id string, opts ...CallOption) (model.Record, error) {
	return w.Invoke(ctx, actor, id, model.ActionReturn, nil, opts...)
}
