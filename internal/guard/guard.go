// Package guard decides whether an actor may move a record out of its current
// stage. It is the single place custodianship and role checks are made; no
// role is exempt.
package guard

import (
	"github.com/rynzz22/digital.talibon/internal/stagegraph"
	"github.com/rynzz22/digital.talibon/model"
)

// Authorize returns the rule that lets actor perform action on rec.
//
// Errors, in order of precedence:
//   - UNKNOWN_ACTION when the current stage defines no such action
//   - WRONG_DEPARTMENT when the record is not with the actor's department
//   - WRONG_ROLE when the record is with the actor's department but no rule
//     admits the actor's role and job level
func Authorize(g *stagegraph.Graph, actor model.Actor, rec model.Record, action model.ActionName) (stagegraph.Rule, error) {
	candidates := matching(g.Rules(rec.Stage), action)
	if len(candidates) == 0 {
		return stagegraph.Rule{}, model.NewUnknownActionError(action, rec.Stage)
	}

	if actor.Department != rec.Custodian.Department {
		return stagegraph.Rule{}, model.NewWrongDepartmentError(rec.Custodian.Department)
	}

	for _, r := range candidates {
		if r.AllowsRole(actor.Role) && r.AllowsLevel(actor.JobLevel) {
			return r, nil
		}
	}
	return stagegraph.Rule{}, model.NewWrongRoleError(actor.Role, action)
}

// LegalActions returns the actions actor could perform on rec right now, in
// rule declaration order without duplicates. Payload preconditions are not
// evaluated.
func LegalActions(g *stagegraph.Graph, actor model.Actor, rec model.Record) []model.ActionName {
	if actor.Department != rec.Custodian.Department {
		return []model.ActionName{}
	}
	seen := make(map[model.ActionName]bool)
	out := []model.ActionName{}
	for _, r := range g.Rules(rec.Stage) {
		if seen[r.Action] {
			continue
		}
		if r.AllowsRole(actor.Role) && r.AllowsLevel(actor.JobLevel) {
			seen[r.Action] = true
			out = append(out, r.Action)
		}
	}
	return out
}

func matching(rules []stagegraph.Rule, action model.ActionName) []stagegraph.Rule {
	var out []stagegraph.Rule
	for _, r := range rules {
		if r.Action == action {
			out = append(out, r)
		}
	}
	return out
}
