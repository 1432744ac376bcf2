package stagegraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rynzz22/digital.talibon/model"
)

// --- Totality ---

func TestLegalTransitions_nonEmptyIffNonTerminal(t *testing.T) {
	for _, kind := range model.Kinds() {
		g := MustFor(kind)
		for _, stage := range g.Stages() {
			rules := LegalTransitions(kind, stage)
			if g.IsTerminal(stage) {
				assert.Empty(t, rules, "%s/%s is terminal but has rules", kind, stage)
			} else {
				assert.NotEmpty(t, rules, "%s/%s is open but has no rules", kind, stage)
			}
		}
	}
}

func TestLegalTransitions_unknown(t *testing.T) {
	assert.Nil(t, LegalTransitions(model.KindVoucher, model.StageSubmitted))
	assert.Nil(t, LegalTransitions(model.Kind("permit"), model.StageSubmitted))
}

func TestTerminalStages(t *testing.T) {
	tests := []struct {
		kind  model.Kind
		stage model.Stage
	}{
		{model.KindApplication, model.StageReleased},
		{model.KindApplication, model.StageRejected},
		{model.KindApplication, model.StageReturned},
		{model.KindDocument, model.StageArchived},
		{model.KindVoucher, model.StageReleased},
		{model.KindVoucher, model.StageReturned},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind)+"/"+string(tt.stage), func(t *testing.T) {
			assert.True(t, MustFor(tt.kind).IsTerminal(tt.stage))
		})
	}
}

// --- Reachability ---

func TestEveryStageReachableFromInitial(t *testing.T) {
	for _, kind := range model.Kinds() {
		g := MustFor(kind)
		seen := map[model.Stage]bool{g.Initial(): true}
		queue := []model.Stage{g.Initial()}
		for len(queue) > 0 {
			s := queue[0]
			queue = queue[1:]
			for _, r := range g.Rules(s) {
				if !seen[r.Target] {
					seen[r.Target] = true
					queue = append(queue, r.Target)
				}
			}
		}
		for _, s := range g.Stages() {
			assert.True(t, seen[s], "%s: stage %q unreachable", kind, s)
		}
	}
}

// --- Custodians ---

func TestFixedTargetsAreLegalCustodians(t *testing.T) {
	for _, kind := range model.Kinds() {
		g := MustFor(kind)
		for _, stage := range g.Stages() {
			for _, r := range g.Rules(stage) {
				if r.Custodian.Source != SourceFixed {
					continue
				}
				assert.True(t, g.LegalCustodian(r.Target, r.Custodian.Department),
					"%s: %s -%s-> %s hands to %s", kind, stage, r.Action, r.Target, r.Custodian.Department)
			}
		}
	}
}

func TestApplicationPipeline(t *testing.T) {
	want := []struct {
		from   model.Stage
		action model.ActionName
		to     model.Stage
		dept   model.Department
	}{
		{model.StageSubmitted, model.ActionVerifyAndForward, model.StageForInspection, model.DeptEngineering},
		{model.StageForInspection, model.ActionInspectionApproved, model.StageForAssessment, model.DeptTreasury},
		{model.StageForAssessment, model.ActionSubmitAssessment, model.StageForPayment, model.DeptTreasury},
		{model.StageForPayment, model.ActionConfirmPayment, model.StageForApproval, model.DeptMayorsOffice},
		{model.StageForApproval, model.ActionSignAndApprove, model.StageApproved, model.DeptRecords},
		{model.StageApproved, model.ActionMarkReleased, model.StageReleased, model.DeptRecords},
	}
	for _, w := range want {
		rule, ok := findRule(LegalTransitions(model.KindApplication, w.from), w.action)
		require.True(t, ok, "no %s rule at %s", w.action, w.from)
		assert.Equal(t, w.to, rule.Target)
		assert.Equal(t, w.dept, rule.Custodian.Department)
	}
}

func TestApplicationReturnOnlyBeforeAssessment(t *testing.T) {
	g := MustFor(model.KindApplication)
	for _, stage := range g.Stages() {
		_, ok := findRule(g.Rules(stage), model.ActionReturn)
		wantReturn := stage == model.StageSubmitted || stage == model.StageForInspection
		assert.Equal(t, wantReturn, ok, "return rule at %s", stage)
	}
}

func TestVoucherIsLinear(t *testing.T) {
	g := MustFor(model.KindVoucher)
	for _, stage := range g.Stages() {
		forward := 0
		for _, r := range g.Rules(stage) {
			if r.Target != model.StageReturned {
				forward++
			}
		}
		if g.IsTerminal(stage) {
			continue
		}
		assert.Equal(t, 1, forward, "voucher stage %s should have one forward rule", stage)
		_, ok := findRule(g.Rules(stage), model.ActionReturn)
		assert.True(t, ok, "voucher stage %s should allow return", stage)
	}
}

func TestDocumentApprovalRequiresExecutive(t *testing.T) {
	rule, ok := findRule(LegalTransitions(model.KindDocument, model.StageForApproval), model.ActionSignAndApprove)
	require.True(t, ok)
	assert.True(t, rule.AllowsLevel(model.LevelExecutive))
	assert.False(t, rule.AllowsLevel(model.LevelDeptHead))

	for _, stage := range MustFor(model.KindDocument).Stages() {
		for _, r := range LegalTransitions(model.KindDocument, stage) {
			if r.Target == model.StageApproved {
				assert.Equal(t, model.StageForApproval, stage, "Approved reached from %s", stage)
			}
		}
	}
}

func TestDocumentUnderReviewIsRevisitable(t *testing.T) {
	rule, ok := findRule(LegalTransitions(model.KindDocument, model.StageUnderReview), model.ActionForward)
	require.True(t, ok)
	assert.Equal(t, model.StageUnderReview, rule.Target)
}

// --- Seals ---

func TestSealed(t *testing.T) {
	app := MustFor(model.KindApplication)
	assert.Empty(t, app.Sealed(map[string]any{AttrAssessedAmount: 5000.0}))
	assert.Equal(t, []string{AttrAssessedAmount},
		app.Sealed(map[string]any{AttrAssessedAmount: 5000.0, AttrPaymentStatus: PaymentPaid}))

	voucher := MustFor(model.KindVoucher)
	assert.Contains(t, voucher.Sealed(nil), AttrAmount)
}

func TestOwnedAttributes(t *testing.T) {
	assert.Equal(t, []string{AttrAssessedAmount, AttrORNumber, AttrPaymentStatus},
		MustFor(model.KindApplication).OwnedAttributes())
	assert.Equal(t, []string{AttrFundSource}, MustFor(model.KindVoucher).OwnedAttributes())
	assert.Empty(t, MustFor(model.KindDocument).OwnedAttributes())
}

func TestRulesReturnsCopy(t *testing.T) {
	g := MustFor(model.KindApplication)
	rules := g.Rules(model.StageSubmitted)
	rules[0].Target = model.StageReleased
	assert.Equal(t, model.StageForInspection, g.Rules(model.StageSubmitted)[0].Target)
}

func findRule(rules []Rule, action model.ActionName) (Rule, bool) {
	for _, r := range rules {
		if r.Action == action {
			return r, true
		}
	}
	return Rule{}, false
}
