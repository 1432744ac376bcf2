package workflow

import (
	"fmt"
	"slices"

	"github.com/rynzz22/digital.talibon/internal/stagegraph"
	"github.com/rynzz22/digital.talibon/model"
)

// Intake describes a new record to open.
type Intake struct {
	Kind model.Kind
	// ID is optional; a UUID is assigned when empty.
	ID         string
	Attributes map[string]any
	Notes      string
}

// Application intake attributes.
const (
	AttrApplicantName = "applicantName"
	AttrBusinessName  = "businessName"
	AttrPermitType    = "permitType"
)

// validateIntake checks the intake attributes of a new record. It rewrites
// voucher type codes to their labels in place.
func validateIntake(g *stagegraph.Graph, attrs map[string]any) []model.FieldError {
	var errs []model.FieldError
	requireString := func(key string) {
		s, ok := attrs[key].(string)
		if !ok || s == "" {
			errs = append(errs, model.FieldError{Field: key, Code: "REQUIRED", Message: key + " is required"})
		}
	}
	requireOneOf := func(key string, allowed []string) {
		s, ok := attrs[key].(string)
		if !ok || !slices.Contains(allowed, s) {
			errs = append(errs, model.FieldError{
				Field:   key,
				Code:    "INVALID_VALUE",
				Message: fmt.Sprintf("%s must be one of %v", key, allowed),
			})
		}
	}

	switch g.Kind() {
	case model.KindApplication:
		requireString(AttrApplicantName)
		requireString(AttrBusinessName)
		requireString(AttrPermitType)
	case model.KindDocument:
		requireString(stagegraph.AttrTitle)
		requireOneOf(stagegraph.AttrDocumentType, stagegraph.DocumentTypes)
		requireOneOf(stagegraph.AttrPriority, []string{
			stagegraph.PriorityRoutine, stagegraph.PriorityUrgent, stagegraph.PriorityHighlyUrgent,
		})
	case model.KindVoucher:
		if s, ok := attrs[stagegraph.AttrVoucherType].(string); ok {
			attrs[stagegraph.AttrVoucherType] = stagegraph.CanonicalVoucherType(s)
		}
		requireOneOf(stagegraph.AttrVoucherType, stagegraph.VoucherTypes)
		requireString(stagegraph.AttrPayee)
		if amt, ok := attrs[stagegraph.AttrAmount].(float64); !ok || amt <= 0 {
			errs = append(errs, model.FieldError{
				Field:   stagegraph.AttrAmount,
				Code:    "INVALID_VALUE",
				Message: "amount must be a positive number",
			})
		}
	}

	owned := append(g.OwnedAttributes(), stagegraph.AttrOriginatingDepartment)
	for _, key := range owned {
		if _, ok := attrs[key]; ok {
			errs = append(errs, model.FieldError{Field: key, Code: "NOT_OWNED", Message: key + " cannot be set at intake"})
		}
	}
	return errs
}
