package model

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies which stage graph a record follows.
type Kind string

const (
	KindApplication Kind = "application"
	KindDocument    Kind = "document"
	KindVoucher     Kind = "voucher"
)

// Kinds returns every record kind.
func Kinds() []Kind {
	return []Kind{KindApplication, KindDocument, KindVoucher}
}

// ParseKind accepts the singular or plural kind name in any case.
func ParseKind(s string) (Kind, error) {
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s") {
	case "application":
		return KindApplication, nil
	case "document":
		return KindDocument, nil
	case "voucher":
		return KindVoucher, nil
	}
	return "", fmt.Errorf("unknown record kind %q", s)
}

// Stage is a named state within a kind's workflow.
type Stage string

// Application stages.
const (
	StageSubmitted     Stage = "Submitted"
	StageForInspection Stage = "For Inspection"
	StageForAssessment Stage = "For Assessment"
	StageForPayment    Stage = "For Payment"
)

// Document stages.
const (
	StageReceived    Stage = "Received"
	StageRouted      Stage = "Routed"
	StageUnderReview Stage = "Under Review"
	StageArchived    Stage = "Archived"
)

// Voucher stages.
const (
	StagePreparation     Stage = "Preparation"
	StageBudgetReview    Stage = "Budget Review"
	StageAccountingAudit Stage = "Accounting Audit"
	StageMayorApproval   Stage = "Mayor Approval"
	StageTreasuryRelease Stage = "Treasury Release"
)

// Stages shared by more than one kind.
const (
	StageForApproval Stage = "For Approval"
	StageApproved    Stage = "Approved"
	StageRejected    Stage = "Rejected"
	StageReturned    Stage = "Returned"
	StageReleased    Stage = "Released"
)

// ActionName is the command a caller requests on a record.
type ActionName string

const (
	ActionVerifyAndForward   ActionName = "verify_and_forward"
	ActionInspectionApproved ActionName = "inspection_approved"
	ActionSubmitAssessment   ActionName = "submit_assessment"
	ActionConfirmPayment     ActionName = "confirm_payment"
	ActionSignAndApprove     ActionName = "sign_and_approve"
	ActionMarkReleased       ActionName = "mark_released"
	ActionReturn             ActionName = "return"
	ActionReject             ActionName = "reject"
	ActionRoute              ActionName = "route"
	ActionForward            ActionName = "forward"
	ActionSubmitForApproval  ActionName = "submit_for_approval"
	ActionArchive            ActionName = "archive"
	ActionSign               ActionName = "sign"
	ActionRelease            ActionName = "release"
)

// AuditAction is the verb recorded in the audit ledger.
type AuditAction string

const (
	AuditCreated   AuditAction = "Created"
	AuditForwarded AuditAction = "Forwarded"
	AuditReturned  AuditAction = "Returned"
	AuditRejected  AuditAction = "Rejected"
	AuditApproved  AuditAction = "Approved"
	AuditSigned    AuditAction = "Signed"
	AuditAssessed  AuditAction = "Assessed"
	AuditReleased  AuditAction = "Released"
	AuditArchived  AuditAction = "Archived"
)

// Custodian is the department, and optionally the specific holder, currently
// responsible for acting on a record.
type Custodian struct {
	Department Department `json:"department" yaml:"department"`
	HolderID   string     `json:"holder_id,omitempty" yaml:"holder_id"`
}

// AuditEntry is one immutable line of a record's history.
type AuditEntry struct {
	ID        string        `json:"id" yaml:"id"`
	Seq       int           `json:"seq" yaml:"seq"`
	Stage     Stage         `json:"stage" yaml:"stage"`
	FromStage Stage         `json:"from_stage,omitempty" yaml:"from_stage"`
	Actor     ActorSnapshot `json:"actor" yaml:"actor"`
	Action    AuditAction   `json:"action" yaml:"action"`
	Timestamp time.Time     `json:"timestamp" yaml:"timestamp"`
	Notes     string        `json:"notes,omitempty" yaml:"notes"`
}

// Record is a case file moving through a kind's stage graph.
type Record struct {
	ID         string         `json:"id"`
	Kind       Kind           `json:"kind"`
	Stage      Stage          `json:"stage"`
	Custodian  Custodian      `json:"custodian"`
	Attributes map[string]any `json:"attributes"`
	History    []AuditEntry   `json:"history"`
	Version    int            `json:"version"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Clone returns a deep copy of the record. Attribute values are expected to
// be JSON-shaped (maps, slices, scalars).
func (r Record) Clone() Record {
	out := r
	out.Attributes = CloneAttributes(r.Attributes)
	if r.History != nil {
		out.History = make([]AuditEntry, len(r.History))
		copy(out.History, r.History)
	}
	return out
}

// LastEntry returns the most recent audit entry and whether one exists.
func (r Record) LastEntry() (AuditEntry, bool) {
	if len(r.History) == 0 {
		return AuditEntry{}, false
	}
	return r.History[len(r.History)-1], true
}

// CloneAttributes deep-copies an attribute map.
func CloneAttributes(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneAttributes(t)
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	default:
		return v
	}
}
