// Package stagegraph declares the static per-kind workflow tables: the stages
// each record kind moves through, who may leave each stage, and where the
// record goes next.
package stagegraph

import (
	"fmt"
	"slices"

	"github.com/rynzz22/digital.talibon/model"
)

// Payload keys and attribute names shared between the graphs and the engine.
const (
	PayloadToDepartment = "toDepartment"
	PayloadToHolder     = "toHolder"

	AttrOriginatingDepartment = "originatingDepartment"
)

// CustodianSource selects how a rule computes the next custodian.
type CustodianSource int

const (
	// SourceFixed hands the record to CustodianTarget.Department.
	SourceFixed CustodianSource = iota
	// SourceKeep leaves the custodian unchanged.
	SourceKeep
	// SourcePayload reads the department from the payload's toDepartment
	// key, falling back to CustodianTarget.Department when omitted.
	SourcePayload
	// SourceOriginating returns the record to the department recorded in
	// the originatingDepartment attribute at intake.
	SourceOriginating
	// SourceActor hands the record to the acting actor's department. It is
	// only meaningful at intake.
	SourceActor
)

// CustodianTarget describes the custodian a record has after a transition.
type CustodianTarget struct {
	Source     CustodianSource
	Department model.Department
}

// Fixed returns a target that always hands the record to dept.
func Fixed(dept model.Department) CustodianTarget {
	return CustodianTarget{Source: SourceFixed, Department: dept}
}

// Rule is a single outgoing transition from a stage.
type Rule struct {
	Action       model.ActionName
	AllowedRoles []model.Role
	// JobLevels, when non-empty, further restricts the rule to actors of the
	// listed levels.
	JobLevels []model.JobLevel
	Target    model.Stage
	Custodian CustodianTarget
	Audit     model.AuditAction
	// Writes lists the attribute keys this action owns. Only these keys are
	// copied from the payload onto the record.
	Writes []string
	// Sets are constant attribute writes applied on success.
	Sets     map[string]any
	Requires []*Precondition
}

// AllowsRole reports whether role may invoke the rule.
func (r Rule) AllowsRole(role model.Role) bool {
	return slices.Contains(r.AllowedRoles, role)
}

// AllowsLevel reports whether level satisfies the rule's job level
// restriction.
func (r Rule) AllowsLevel(level model.JobLevel) bool {
	return len(r.JobLevels) == 0 || slices.Contains(r.JobLevels, level)
}

// StageDef declares one stage of a graph.
type StageDef struct {
	Stage model.Stage
	// Custodians lists the departments that may hold a record in this
	// stage. Nil means any known department.
	Custodians []model.Department
	Rules      []Rule
}

// Seal makes Attribute immutable. When After is set the seal applies only
// once the After attribute is present on the record.
type Seal struct {
	Attribute string
	After     string
}

// Graph is the immutable stage table of one record kind. It is safe for
// concurrent use.
type Graph struct {
	kind    model.Kind
	initial model.Stage
	intake  CustodianTarget
	stages  []StageDef
	index   map[model.Stage]int
	seals   []Seal
}

// Kind returns the record kind the graph belongs to.
func (g *Graph) Kind() model.Kind { return g.kind }

// Initial returns the stage new records are created in.
func (g *Graph) Initial() model.Stage { return g.initial }

// Intake returns how the custodian of a new record is chosen.
func (g *Graph) Intake() CustodianTarget { return g.intake }

// Stages returns the stages in declaration order.
func (g *Graph) Stages() []model.Stage {
	out := make([]model.Stage, len(g.stages))
	for i, s := range g.stages {
		out[i] = s.Stage
	}
	return out
}

// Has reports whether stage belongs to the graph.
func (g *Graph) Has(stage model.Stage) bool {
	_, ok := g.index[stage]
	return ok
}

// Rules returns the outgoing rules of stage. The result is a copy.
func (g *Graph) Rules(stage model.Stage) []Rule {
	i, ok := g.index[stage]
	if !ok {
		return nil
	}
	return slices.Clone(g.stages[i].Rules)
}

// IsTerminal reports whether stage has no outgoing transitions.
func (g *Graph) IsTerminal(stage model.Stage) bool {
	i, ok := g.index[stage]
	return ok && len(g.stages[i].Rules) == 0
}

// Custodians returns the legal custodian departments of stage. A nil result
// for a known stage means any known department.
func (g *Graph) Custodians(stage model.Stage) []model.Department {
	i, ok := g.index[stage]
	if !ok {
		return nil
	}
	return slices.Clone(g.stages[i].Custodians)
}

// LegalCustodian reports whether dept may hold a record in stage.
func (g *Graph) LegalCustodian(stage model.Stage, dept model.Department) bool {
	i, ok := g.index[stage]
	if !ok || !dept.Valid() {
		return false
	}
	allowed := g.stages[i].Custodians
	return allowed == nil || slices.Contains(allowed, dept)
}

// Sealed returns the attribute names that can no longer be written given the
// record's current attributes.
func (g *Graph) Sealed(attrs map[string]any) []string {
	var out []string
	for _, s := range g.seals {
		if s.After == "" {
			out = append(out, s.Attribute)
			continue
		}
		if _, ok := attrs[s.After]; ok {
			out = append(out, s.Attribute)
		}
	}
	return out
}

// OwnedAttributes returns, sorted, every attribute some rule of the graph
// writes or sets. None of them may be supplied at intake.
func (g *Graph) OwnedAttributes() []string {
	var out []string
	for _, s := range g.stages {
		for _, r := range s.Rules {
			out = append(out, r.Writes...)
			for k := range r.Sets {
				out = append(out, k)
			}
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// validate checks the structural rules every graph must satisfy. Graphs are
// compiled into the binary, so a failure here is a programming error.
func (g *Graph) validate() error {
	if !g.Has(g.initial) {
		return fmt.Errorf("%s: initial stage %q not declared", g.kind, g.initial)
	}
	for _, s := range g.stages {
		for _, r := range s.Rules {
			if !g.Has(r.Target) {
				return fmt.Errorf("%s: %q -%s-> unknown stage %q", g.kind, s.Stage, r.Action, r.Target)
			}
			if len(r.AllowedRoles) == 0 {
				return fmt.Errorf("%s: %q -%s-> has no allowed roles", g.kind, s.Stage, r.Action)
			}
			if r.Custodian.Source == SourceFixed || (r.Custodian.Source == SourcePayload && r.Custodian.Department != "") {
				if !g.LegalCustodian(r.Target, r.Custodian.Department) {
					return fmt.Errorf("%s: %q -%s-> hands %q to illegal custodian %q",
						g.kind, s.Stage, r.Action, r.Target, r.Custodian.Department)
				}
			}
			if r.Custodian.Source == SourceKeep && s.Custodians != nil {
				for _, d := range s.Custodians {
					if !g.LegalCustodian(r.Target, d) {
						return fmt.Errorf("%s: %q -%s-> keeps custodian %q illegal in %q",
							g.kind, s.Stage, r.Action, d, r.Target)
					}
				}
			}
		}
	}
	return nil
}

func newGraph(kind model.Kind, initial model.Stage, intake CustodianTarget, seals []Seal, stages ...StageDef) *Graph {
	g := &Graph{
		kind:    kind,
		initial: initial,
		intake:  intake,
		stages:  stages,
		index:   make(map[model.Stage]int, len(stages)),
		seals:   seals,
	}
	for i, s := range stages {
		g.index[s.Stage] = i
	}
	if err := g.validate(); err != nil {
		panic("stagegraph: " + err.Error())
	}
	return g
}

var graphs = map[model.Kind]*Graph{
	model.KindApplication: applicationGraph(),
	model.KindDocument:    documentGraph(),
	model.KindVoucher:     voucherGraph(),
}

// For returns the graph of kind.
func For(kind model.Kind) (*Graph, bool) {
	g, ok := graphs[kind]
	return g, ok
}

// MustFor returns the graph of kind and panics for an unknown kind.
func MustFor(kind model.Kind) *Graph {
	g, ok := graphs[kind]
	if !ok {
		panic(fmt.Sprintf("stagegraph: unknown kind %q", kind))
	}
	return g
}

// LegalTransitions returns the outgoing rules of stage in kind's graph. It
// returns nil for terminal and unknown stages.
func LegalTransitions(kind model.Kind, stage model.Stage) []Rule {
	g, ok := graphs[kind]
	if !ok {
		return nil
	}
	return g.Rules(stage)
}
