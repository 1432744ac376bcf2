package workflow

import (
	"context"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/rynzz22/digital.talibon/internal/stagegraph"
	"github.com/rynzz22/digital.talibon/model"
)

var propertyActors = []model.Actor{
	bploClerk, engineer, treasurer, mayor, budgetOff, account, records, receiving,
	{ID: "u-vm", Name: "Vice Mayor", Role: model.RoleViceMayor, Department: model.DeptMayorsOffice, JobLevel: model.LevelExecutive},
	{ID: "u-mpdc", Name: "Planner", Role: model.RoleMPDCOfficer, Department: model.DeptMPDC, JobLevel: model.LevelOfficer},
}

var propertyPayloads = []map[string]any{
	nil,
	{"assessedAmount": 2500},
	{"assessedAmount": -1},
	{"orNumber": "OR-1"},
	{"toDepartment": "Engineering"},
	{"toDepartment": "Nowhere"},
	{"fundSource": "Trust Fund"},
	{"amount": 1},
}

var propertyTargets = []struct {
	kind model.Kind
	id   string
}{
	{model.KindApplication, "app-1"},
	{model.KindVoucher, "v-1"},
	{model.KindVoucher, "v-2"},
	{model.KindDocument, "doc-101"},
	{model.KindDocument, "doc-102"},
	{model.KindDocument, "doc-103"},
}

var propertyActions = []model.ActionName{
	model.ActionVerifyAndForward, model.ActionInspectionApproved, model.ActionSubmitAssessment,
	model.ActionConfirmPayment, model.ActionSignAndApprove, model.ActionMarkReleased,
	model.ActionReturn, model.ActionReject, model.ActionRoute, model.ActionForward,
	model.ActionSubmitForApproval, model.ActionArchive, model.ActionSign, model.ActionRelease,
}

// Property: over any sequence of calls, a failed Apply leaves the record
// exactly as it was, a successful Apply appends one entry and leaves the
// record with a custodian its stage admits, and earlier history is never
// rewritten.
func TestApplySequenceInvariants(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("apply is atomic and history is append-only", prop.ForAll(
		func(steps []int) bool {
			repo := seededRepository(t)
			e := NewEngine(repo, WithClock(newStepClock()))
			ctx := context.Background()

			for _, s := range steps {
				target := propertyTargets[s%len(propertyTargets)]
				actor := propertyActors[(s/7)%len(propertyActors)]
				action := propertyActions[(s/11)%len(propertyActions)]
				payload := propertyPayloads[(s/13)%len(propertyPayloads)]

				before, err := repo.Get(ctx, target.kind, target.id)
				if err != nil {
					return false
				}
				_, err = e.Apply(ctx, actor, Request{Kind: target.kind, ID: target.id, Action: action, Payload: payload})
				after, gerr := repo.Get(ctx, target.kind, target.id)
				if gerr != nil {
					return false
				}

				if err != nil {
					if !reflect.DeepEqual(before, after) {
						return false
					}
					continue
				}

				if len(after.History) != len(before.History)+1 || after.Version != before.Version+1 {
					return false
				}
				if !reflect.DeepEqual(before.History, after.History[:len(before.History)]) {
					return false
				}
				g := stagegraph.MustFor(target.kind)
				if !g.LegalCustodian(after.Stage, after.Custodian.Department) {
					return false
				}
				last := after.History[len(after.History)-1]
				if last.Stage != after.Stage || last.FromStage != before.Stage || last.Actor != actor.Snapshot() {
					return false
				}
				if last.Timestamp.Before(before.History[len(before.History)-1].Timestamp) {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(25, gen.IntRange(0, 100000)),
	))

	properties.TestingRun(t)
}
