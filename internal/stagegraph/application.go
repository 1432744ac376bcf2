package stagegraph

import "github.com/rynzz22/digital.talibon/model"

// Application attribute names.
const (
	AttrAssessedAmount = "assessedAmount"
	AttrPaymentStatus  = "paymentStatus"
	AttrORNumber       = "orNumber"
)

// PaymentPaid is the paymentStatus value set when payment is confirmed.
const PaymentPaid = "Paid"

// applicationGraph is the business permit pipeline:
// Submitted -> For Inspection -> For Assessment -> For Payment -> For Approval
// -> Approved -> Released, with Return and Reject side branches.
func applicationGraph() *Graph {
	intakeDesk := []model.Role{model.RoleClerk, model.RoleAdminClerk, model.RoleEvaluator}
	inspectors := []model.Role{model.RoleEngineer, model.RoleEvaluator}
	treasury := []model.Role{model.RoleTreasurer}
	mayor := []model.Role{model.RoleMayor}

	reject := func(roles []model.Role) Rule {
		return Rule{
			Action:       model.ActionReject,
			AllowedRoles: roles,
			Target:       model.StageRejected,
			Custodian:    Fixed(model.DeptReceiving),
			Audit:        model.AuditRejected,
		}
	}
	ret := func(roles []model.Role) Rule {
		return Rule{
			Action:       model.ActionReturn,
			AllowedRoles: roles,
			Target:       model.StageReturned,
			Custodian:    Fixed(model.DeptReceiving),
			Audit:        model.AuditReturned,
		}
	}

	return newGraph(model.KindApplication, model.StageSubmitted, Fixed(model.DeptBPLO),
		[]Seal{{Attribute: AttrAssessedAmount, After: AttrPaymentStatus}},
		StageDef{
			Stage:      model.StageSubmitted,
			Custodians: []model.Department{model.DeptBPLO},
			Rules: []Rule{
				{
					Action:       model.ActionVerifyAndForward,
					AllowedRoles: intakeDesk,
					Target:       model.StageForInspection,
					Custodian:    Fixed(model.DeptEngineering),
					Audit:        model.AuditForwarded,
				},
				ret(intakeDesk),
				reject(intakeDesk),
			},
		},
		StageDef{
			Stage:      model.StageForInspection,
			Custodians: []model.Department{model.DeptEngineering},
			Rules: []Rule{
				{
					Action:       model.ActionInspectionApproved,
					AllowedRoles: inspectors,
					Target:       model.StageForAssessment,
					Custodian:    Fixed(model.DeptTreasury),
					Audit:        model.AuditApproved,
				},
				ret(inspectors),
				reject(inspectors),
			},
		},
		StageDef{
			Stage:      model.StageForAssessment,
			Custodians: []model.Department{model.DeptTreasury},
			Rules: []Rule{
				{
					Action:       model.ActionSubmitAssessment,
					AllowedRoles: treasury,
					Target:       model.StageForPayment,
					Custodian:    Fixed(model.DeptTreasury),
					Audit:        model.AuditAssessed,
					Writes:       []string{AttrAssessedAmount},
					Requires: []*Precondition{
						Require(AttrAssessedAmount,
							`has(payload.assessedAmount) && type(payload.assessedAmount) == double && payload.assessedAmount > 0.0`,
							"assessed amount must be a positive number"),
					},
				},
				reject(treasury),
			},
		},
		StageDef{
			Stage:      model.StageForPayment,
			Custodians: []model.Department{model.DeptTreasury},
			Rules: []Rule{
				{
					Action:       model.ActionConfirmPayment,
					AllowedRoles: treasury,
					Target:       model.StageForApproval,
					Custodian:    Fixed(model.DeptMayorsOffice),
					Audit:        model.AuditForwarded,
					Writes:       []string{AttrORNumber},
					Sets:         map[string]any{AttrPaymentStatus: PaymentPaid},
					Requires: []*Precondition{
						Require(AttrAssessedAmount,
							`has(attributes.assessedAmount) && attributes.assessedAmount > 0.0`,
							"payment cannot be confirmed before assessment"),
					},
				},
				reject(treasury),
			},
		},
		StageDef{
			Stage:      model.StageForApproval,
			Custodians: []model.Department{model.DeptMayorsOffice},
			Rules: []Rule{
				{
					Action:       model.ActionSignAndApprove,
					AllowedRoles: mayor,
					Target:       model.StageApproved,
					Custodian:    Fixed(model.DeptRecords),
					Audit:        model.AuditSigned,
				},
				reject(mayor),
			},
		},
		StageDef{
			Stage:      model.StageApproved,
			Custodians: []model.Department{model.DeptRecords},
			Rules: []Rule{
				{
					Action:       model.ActionMarkReleased,
					AllowedRoles: []model.Role{model.RoleRecordsOfficer, model.RoleReleaseOfficer},
					Target:       model.StageReleased,
					Custodian:    Fixed(model.DeptRecords),
					Audit:        model.AuditReleased,
				},
			},
		},
		StageDef{Stage: model.StageReleased, Custodians: []model.Department{model.DeptRecords}},
		StageDef{Stage: model.StageReturned, Custodians: []model.Department{model.DeptReceiving}},
		StageDef{Stage: model.StageRejected, Custodians: []model.Department{model.DeptReceiving}},
	)
}
