package stagegraph

import "github.com/rynzz22/digital.talibon/model"

// Document attribute names.
const (
	AttrTitle        = "title"
	AttrDocumentType = "documentType"
	AttrPriority     = "priority"
)

// Document priorities.
const (
	PriorityRoutine      = "Routine"
	PriorityUrgent       = "Urgent"
	PriorityHighlyUrgent = "Highly Urgent"
)

// DocumentTypes lists the accepted documentType values.
var DocumentTypes = []string{
	"Memorandum", "Incoming Letter", "Outgoing Letter", "Endorsement",
	"Permit Application", "Resolution", "Ordinance", "Payroll/Voucher",
	"Contract/MOA", "Project Proposal",
}

// DeskRoles are the non-executive roles that route and review documents and
// prepare vouchers.
var DeskRoles = []model.Role{
	model.RoleDeptHead, model.RoleClerk, model.RoleAdminClerk, model.RoleEngineer,
	model.RoleEvaluator, model.RoleTreasurer, model.RoleBudgetOfficer,
	model.RoleAccountant, model.RoleRecordsOfficer, model.RoleReleaseOfficer,
	model.RoleMPDCOfficer, model.RoleStaff, model.RoleSBMember,
}

const routedToDepartment = `has(payload.toDepartment) && type(payload.toDepartment) == string && payload.toDepartment != ""`

// documentGraph is the internal correspondence pipeline:
// Received -> Routed -> Under Review (repeatable) -> For Approval ->
// Approved | Rejected | Returned -> Archived.
func documentGraph() *Graph {
	approvers := []model.Role{model.RoleMayor, model.RoleViceMayor, model.RoleDeptHead}
	executive := []model.JobLevel{model.LevelExecutive}
	archivists := []model.Role{model.RoleRecordsOfficer, model.RoleClerk}
	records := []model.Department{model.DeptRecords}

	routeTo := func(action model.ActionName, target model.Stage) Rule {
		return Rule{
			Action:       action,
			AllowedRoles: DeskRoles,
			Target:       target,
			Custodian:    CustodianTarget{Source: SourcePayload},
			Audit:        model.AuditForwarded,
			Requires: []*Precondition{
				Require(PayloadToDepartment, routedToDepartment, "a destination department is required"),
			},
		}
	}
	archive := func(roles []model.Role) Rule {
		return Rule{
			Action:       model.ActionArchive,
			AllowedRoles: roles,
			Target:       model.StageArchived,
			Custodian:    Fixed(model.DeptRecords),
			Audit:        model.AuditArchived,
		}
	}

	return newGraph(model.KindDocument, model.StageReceived, CustodianTarget{Source: SourceActor},
		nil,
		StageDef{
			Stage: model.StageReceived,
			Rules: []Rule{routeTo(model.ActionRoute, model.StageRouted)},
		},
		StageDef{
			Stage: model.StageRouted,
			Rules: []Rule{routeTo(model.ActionForward, model.StageUnderReview)},
		},
		StageDef{
			Stage: model.StageUnderReview,
			Rules: []Rule{
				routeTo(model.ActionForward, model.StageUnderReview),
				{
					Action:       model.ActionSubmitForApproval,
					AllowedRoles: DeskRoles,
					Target:       model.StageForApproval,
					Custodian:    CustodianTarget{Source: SourcePayload, Department: model.DeptMayorsOffice},
					Audit:        model.AuditForwarded,
				},
				{
					Action:       model.ActionReturn,
					AllowedRoles: DeskRoles,
					Target:       model.StageReturned,
					Custodian:    CustodianTarget{Source: SourceOriginating},
					Audit:        model.AuditReturned,
				},
			},
		},
		StageDef{
			Stage: model.StageForApproval,
			Rules: []Rule{
				{
					Action:       model.ActionSignAndApprove,
					AllowedRoles: approvers,
					JobLevels:    executive,
					Target:       model.StageApproved,
					Custodian:    Fixed(model.DeptRecords),
					Audit:        model.AuditSigned,
				},
				{
					Action:       model.ActionReject,
					AllowedRoles: approvers,
					JobLevels:    executive,
					Target:       model.StageRejected,
					Custodian:    Fixed(model.DeptRecords),
					Audit:        model.AuditRejected,
				},
				{
					Action:       model.ActionReturn,
					AllowedRoles: approvers,
					JobLevels:    executive,
					Target:       model.StageReturned,
					Custodian:    CustodianTarget{Source: SourceOriginating},
					Audit:        model.AuditReturned,
				},
			},
		},
		StageDef{Stage: model.StageApproved, Custodians: records, Rules: []Rule{archive(archivists)}},
		StageDef{Stage: model.StageRejected, Custodians: records, Rules: []Rule{archive(archivists)}},
		StageDef{Stage: model.StageReturned, Rules: []Rule{archive(DeskRoles)}},
		StageDef{Stage: model.StageArchived, Custodians: records},
	)
}
