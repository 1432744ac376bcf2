package model

import (
	"errors"
	"fmt"
)

// Role is an organizational role carried by an actor.
type Role string

const (
	RoleMayor          Role = "MAYOR"
	RoleViceMayor      Role = "VICE_MAYOR"
	RoleSBMember       Role = "SB_MEMBER"
	RoleDeptHead       Role = "DEPT_HEAD"
	RoleClerk          Role = "CLERK"
	RoleAdminClerk     Role = "ADMIN_CLERK"
	RoleEngineer       Role = "ENGINEER"
	RoleEvaluator      Role = "EVALUATOR"
	RoleTreasurer      Role = "TREASURER"
	RoleBudgetOfficer  Role = "BUDGET_OFFICER"
	RoleAccountant     Role = "ACCOUNTANT"
	RoleRecordsOfficer Role = "RECORDS_OFFICER"
	RoleReleaseOfficer Role = "RELEASE_OFFICER"
	RoleMPDCOfficer    Role = "MPDC_OFFICER"
	RoleStaff          Role = "STAFF"
)

var knownRoles = map[Role]bool{
	RoleMayor: true, RoleViceMayor: true, RoleSBMember: true, RoleDeptHead: true,
	RoleClerk: true, RoleAdminClerk: true, RoleEngineer: true, RoleEvaluator: true,
	RoleTreasurer: true, RoleBudgetOfficer: true, RoleAccountant: true,
	RoleRecordsOfficer: true, RoleReleaseOfficer: true, RoleMPDCOfficer: true,
	RoleStaff: true,
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return knownRoles[r] }

// Roles returns every known role.
func Roles() []Role {
	return []Role{
		RoleMayor, RoleViceMayor, RoleSBMember, RoleDeptHead, RoleClerk,
		RoleAdminClerk, RoleEngineer, RoleEvaluator, RoleTreasurer,
		RoleBudgetOfficer, RoleAccountant, RoleRecordsOfficer,
		RoleReleaseOfficer, RoleMPDCOfficer, RoleStaff,
	}
}

// JobLevel is the seniority band of an actor.
type JobLevel string

const (
	LevelExecutive     JobLevel = "EXECUTIVE"
	LevelLegislative   JobLevel = "LEGISLATIVE"
	LevelDeptHead      JobLevel = "DEPT_HEAD"
	LevelDivisionChief JobLevel = "DIVISION_CHIEF"
	LevelOfficer       JobLevel = "OFFICER"
	LevelClerk         JobLevel = "CLERK"
	LevelAdmin         JobLevel = "ADMIN"
)

// JobLevels returns every known job level.
func JobLevels() []JobLevel {
	return []JobLevel{
		LevelExecutive, LevelLegislative, LevelDeptHead, LevelDivisionChief,
		LevelOfficer, LevelClerk, LevelAdmin,
	}
}

// Valid reports whether l is a known job level.
func (l JobLevel) Valid() bool {
	for _, k := range JobLevels() {
		if k == l {
			return true
		}
	}
	return false
}

// Department is a municipal office that can hold records.
type Department string

const (
	DeptBPLO             Department = "BPLO"
	DeptEngineering      Department = "Engineering"
	DeptTreasury         Department = "Treasury"
	DeptBudget           Department = "Budget"
	DeptAccounting       Department = "Accounting"
	DeptMayorsOffice     Department = "Mayor's Office"
	DeptRecords          Department = "Records"
	DeptReceiving        Department = "Receiving"
	DeptViceMayorsOffice Department = "Vice Mayor's Office"
	DeptSangguniang      Department = "Sangguniang Bayan"
	DeptMPDC             Department = "MPDC"
	DeptHumanResources   Department = "Human Resources"
	DeptAssessor         Department = "Assessor"
	DeptMENRO            Department = "MENRO"
	DeptMSWDO            Department = "MSWDO"
	DeptAgriculture      Department = "Agriculture"
)

// Departments returns every known department.
func Departments() []Department {
	return []Department{
		DeptBPLO, DeptEngineering, DeptTreasury, DeptBudget, DeptAccounting,
		DeptMayorsOffice, DeptRecords, DeptReceiving, DeptViceMayorsOffice,
		DeptSangguniang, DeptMPDC, DeptHumanResources, DeptAssessor,
		DeptMENRO, DeptMSWDO, DeptAgriculture,
	}
}

// Valid reports whether d is a known department.
func (d Department) Valid() bool {
	for _, k := range Departments() {
		if k == d {
			return true
		}
	}
	return false
}

// Actor is the person invoking a workflow operation. It is passed explicitly
// into every engine call.
type Actor struct {
	ID         string     `json:"id" yaml:"id"`
	Name       string     `json:"name" yaml:"name"`
	Email      string     `json:"email,omitempty" yaml:"email"`
	Role       Role       `json:"role" yaml:"role"`
	Department Department `json:"department" yaml:"department"`
	JobLevel   JobLevel   `json:"job_level" yaml:"job_level"`
	// Synthesized is set when the actor was built from token claims because
	// no directory profile exists.
	Synthesized bool `json:"synthesized,omitempty" yaml:"-"`
}

// Validate checks that the fields the guard depends on are present.
func (a Actor) Validate() error {
	var errs []error
	if a.ID == "" {
		errs = append(errs, fmt.Errorf("ID is required"))
	}
	if !a.Role.Valid() {
		errs = append(errs, fmt.Errorf("role %q is not recognized", a.Role))
	}
	if !a.Department.Valid() {
		errs = append(errs, fmt.Errorf("department %q is not recognized", a.Department))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Snapshot copies the actor fields recorded in the audit ledger.
func (a Actor) Snapshot() ActorSnapshot {
	return ActorSnapshot{
		ID:         a.ID,
		Name:       a.Name,
		Role:       a.Role,
		Department: a.Department,
		JobLevel:   a.JobLevel,
	}
}

// ActorSnapshot is the actor as they were when an audit entry was written.
type ActorSnapshot struct {
	ID         string     `json:"id" yaml:"id"`
	Name       string     `json:"name" yaml:"name"`
	Role       Role       `json:"role" yaml:"role"`
	Department Department `json:"department" yaml:"department"`
	JobLevel   JobLevel   `json:"job_level,omitempty" yaml:"job_level"`
}
