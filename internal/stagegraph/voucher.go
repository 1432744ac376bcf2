package stagegraph

import "github.com/rynzz22/digital.talibon/model"

// Voucher attribute names.
const (
	AttrVoucherType = "voucherType"
	AttrAmount      = "amount"
	AttrPayee       = "payee"
	AttrDescription = "description"
	AttrFundSource  = "fundSource"
)

// VoucherTypes lists the stored voucherType values.
var VoucherTypes = []string{"Obligation Request", "Disbursement Voucher", "Purchase Request", "Payroll"}

// voucherTypeCodes maps the form codes clerks type to the stored labels.
var voucherTypeCodes = map[string]string{
	"ORS": "Obligation Request",
	"DV":  "Disbursement Voucher",
	"PR":  "Purchase Request",
}

// CanonicalVoucherType returns the stored label for a voucher type given
// either its form code or its label. Unknown values are returned unchanged.
func CanonicalVoucherType(v string) string {
	if label, ok := voucherTypeCodes[v]; ok {
		return label
	}
	return v
}

// voucherGraph is the strictly linear disbursement pipeline:
// Preparation -> Budget Review -> Accounting Audit -> Mayor Approval ->
// Treasury Release -> Released. Any open stage may instead end in Returned,
// which is terminal.
func voucherGraph() *Graph {
	sign := func(roles []model.Role, target model.Stage, dept model.Department) Rule {
		return Rule{
			Action:       model.ActionSign,
			AllowedRoles: roles,
			Target:       target,
			Custodian:    Fixed(dept),
			Audit:        model.AuditSigned,
		}
	}
	ret := func(roles []model.Role) Rule {
		return Rule{
			Action:       model.ActionReturn,
			AllowedRoles: roles,
			Target:       model.StageReturned,
			Custodian:    CustodianTarget{Source: SourceOriginating},
			Audit:        model.AuditReturned,
		}
	}

	budget := []model.Role{model.RoleBudgetOfficer}
	budgetSign := sign(budget, model.StageAccountingAudit, model.DeptAccounting)
	budgetSign.Writes = []string{AttrFundSource}
	budgetSign.Requires = []*Precondition{
		Require(AttrFundSource,
			`!has(payload.fundSource) || (type(payload.fundSource) == string && payload.fundSource != "")`,
			"fund source must be a non-empty string when given"),
	}

	accounting := []model.Role{model.RoleAccountant}
	mayor := []model.Role{model.RoleMayor}
	treasury := []model.Role{model.RoleTreasurer}

	return newGraph(model.KindVoucher, model.StagePreparation, CustodianTarget{Source: SourceActor},
		[]Seal{{Attribute: AttrAmount}, {Attribute: AttrVoucherType}, {Attribute: AttrPayee}},
		StageDef{
			Stage: model.StagePreparation,
			Rules: []Rule{
				sign(DeskRoles, model.StageBudgetReview, model.DeptBudget),
				ret(DeskRoles),
			},
		},
		StageDef{
			Stage:      model.StageBudgetReview,
			Custodians: []model.Department{model.DeptBudget},
			Rules:      []Rule{budgetSign, ret(budget)},
		},
		StageDef{
			Stage:      model.StageAccountingAudit,
			Custodians: []model.Department{model.DeptAccounting},
			Rules: []Rule{
				sign(accounting, model.StageMayorApproval, model.DeptMayorsOffice),
				ret(accounting),
			},
		},
		StageDef{
			Stage:      model.StageMayorApproval,
			Custodians: []model.Department{model.DeptMayorsOffice},
			Rules: []Rule{
				sign(mayor, model.StageTreasuryRelease, model.DeptTreasury),
				ret(mayor),
			},
		},
		StageDef{
			Stage:      model.StageTreasuryRelease,
			Custodians: []model.Department{model.DeptTreasury},
			Rules: []Rule{
				{
					Action:       model.ActionRelease,
					AllowedRoles: treasury,
					Target:       model.StageReleased,
					Custodian:    Fixed(model.DeptTreasury),
					Audit:        model.AuditReleased,
				},
				ret(treasury),
			},
		},
		StageDef{Stage: model.StageReleased, Custodians: []model.Department{model.DeptTreasury}},
		StageDef{Stage: model.StageReturned},
	)
}
