package facade

import (
	"fmt"

	"github.com/rynzz22/digital.talibon/model"
)

// Set holds one facade per kind.
type Set struct {
	Applications *ApplicationWorkflow
	Documents    *DocumentWorkflow
	Vouchers     *VoucherWorkflow
}

// NewSet builds every facade on the same engine.
func NewSet(engine Engine) *Set {
	return &Set{
		Applications: NewApplicationWorkflow(engine),
		Documents:    NewDocumentWorkflow(engine),
		Vouchers:     NewVoucherWorkflow(engine),
	}
}

// For returns the facade of kind.
func (s *Set) For(kind model.Kind) (Workflow, error) {
	switch kind {
	case model.KindApplication:
		return s.Applications, nil
	case model.KindDocument:
		return s.Documents, nil
	case model.KindVoucher:
		return s.Vouchers, nil
	}
	return nil, model.NewBadRequestError(fmt.Sprintf("unknown record kind %q", kind))
}
