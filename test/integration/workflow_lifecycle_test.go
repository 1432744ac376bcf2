package integration

import (
	"net/http"
	"slices"
	"testing"

	"github.com/rynzz22/digital.talibon/model"
)

func openVoucher(t *testing.T, h *TestHarness, token string) model.Record {
	t.Helper()

	resp := h.POST("/api/records/voucher", map[string]any{
		"attributes": map[string]any{
			"voucherType": "DV",
			"amount":      18500,
			"payee":       "Talibon Printing Press",
			"description": "Tax declaration forms",
		},
		"notes": "prepared for Q2",
	}, token)

	var rec model.Record
	h.AssertJSON(t, resp, http.StatusCreated, &rec)
	if rec.ID == "" {
		t.Fatal("expected a generated record ID")
	}
	return rec
}

// ==========================================================================
// Voucher disbursement pipeline
// ==========================================================================

func TestWorkflow_VoucherFullPipeline(t *testing.T) {
	h := NewTestHarness(t)

	rec := openVoucher(t, h, h.TokenFor("u-hr"))
	assertEqual(t, rec.Stage, model.StagePreparation, "intake stage")
	assertEqual(t, rec.Custodian.Department, model.DeptHumanResources, "intake custodian")
	assertEqual(t, rec.Attributes["originatingDepartment"], "Human Resources", "originating department")

	steps := []struct {
		actor   string
		action  model.ActionName
		payload map[string]any
		stage   model.Stage
		dept    model.Department
	}{
		{"u-hr", model.ActionSign, nil, model.StageBudgetReview, model.DeptBudget},
		{"u-budget", model.ActionSign, map[string]any{"fundSource": "General Fund"}, model.StageAccountingAudit, model.DeptAccounting},
		{"u-acct", model.ActionSign, nil, model.StageMayorApproval, model.DeptMayorsOffice},
		{"u-mayor", model.ActionSign, nil, model.StageTreasuryRelease, model.DeptTreasury},
		{"u-treas", model.ActionRelease, nil, model.StageReleased, model.DeptTreasury},
	}
	for i, step := range steps {
		rec = h.Act(t, model.KindVoucher, rec.ID, step.action, step.payload, h.TokenFor(step.actor))
		assertEqual(t, rec.Stage, step.stage, "stage after step")
		assertEqual(t, rec.Custodian.Department, step.dept, "custodian after step")
		assertEqual(t, rec.Version, i+2, "version after step")
	}

	assertEqual(t, rec.Attributes["fundSource"], "General Fund", "fund source")

	// History is append-only: one Created entry plus one per transition.
	var history struct {
		History []model.AuditEntry `json:"history"`
	}
	h.AssertJSON(t, h.GET(recordPath(model.KindVoucher, rec.ID)+"/history", h.TokenFor("u-treas")), http.StatusOK, &history)
	if len(history.History) != 6 {
		t.Fatalf("history length = %d, want 6", len(history.History))
	}
	assertEqual(t, history.History[0].Action, model.AuditCreated, "first entry")
	assertEqual(t, history.History[0].Notes, "prepared for Q2", "intake notes")
	for i, e := range history.History {
		assertEqual(t, e.Seq, i+1, "entry sequence")
	}
	last := history.History[5]
	assertEqual(t, last.Action, model.AuditReleased, "last entry action")
	assertEqual(t, last.FromStage, model.StageTreasuryRelease, "last entry from stage")
	assertEqual(t, last.Actor.ID, "u-treas", "last entry actor")

	// Released is terminal: nothing is legal any more.
	var actions struct {
		Actions []model.ActionName `json:"actions"`
	}
	h.AssertJSON(t, h.GET(recordPath(model.KindVoucher, rec.ID)+"/actions", h.TokenFor("u-treas")), http.StatusOK, &actions)
	if len(actions.Actions) != 0 {
		t.Errorf("actions on released voucher = %v, want none", actions.Actions)
	}

	// Every transition published an event, in order.
	events := h.Events.For(model.KindVoucher, rec.ID)
	if len(events) != 6 {
		t.Fatalf("events = %d, want 6", len(events))
	}
	assertEqual(t, events[0].Audit, model.AuditCreated, "first event")
	assertEqual(t, events[5].ToStage, model.StageReleased, "last event stage")
	assertEqual(t, events[5].Version, 6, "last event version")
}

func TestWorkflow_VoucherReturnGoesToOriginatingDepartment(t *testing.T) {
	h := NewTestHarness(t)

	// v-2 is seeded at Budget Review, prepared by Human Resources.
	rec := h.Act(t, model.KindVoucher, "v-2", model.ActionReturn, nil, h.TokenFor("u-budget"))
	assertEqual(t, rec.Stage, model.StageReturned, "stage")
	assertEqual(t, rec.Custodian.Department, model.DeptHumanResources, "custodian")

	resp := h.POST(actionPath(model.KindVoucher, "v-2", model.ActionSign), map[string]any{}, h.TokenFor("u-hr"))
	h.AssertError(t, resp, http.StatusUnprocessableEntity, model.ErrUnknownAction)
}

func TestWorkflow_SealedVoucherAmountCannotChange(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.POST(actionPath(model.KindVoucher, "v-2", model.ActionSign), map[string]any{
		"payload": map[string]any{"amount": 1},
	}, h.TokenFor("u-budget"))
	h.AssertError(t, resp, http.StatusUnprocessableEntity, model.ErrInvalidPayload)

	rec := h.Record(t, model.KindVoucher, "v-2", h.TokenFor("u-budget"))
	assertEqual[any](t, rec.Attributes["amount"], float64(48000), "amount")
	assertEqual(t, rec.Version, 1, "version")
}

// ==========================================================================
// Business permit application pipeline
// ==========================================================================

func TestWorkflow_ApplicationFullPipeline(t *testing.T) {
	h := NewTestHarness(t)

	rec := h.Act(t, model.KindApplication, "app-1", model.ActionVerifyAndForward, nil, h.TokenFor("u-bplo"))
	assertEqual(t, rec.Stage, model.StageForInspection, "after verify")

	rec = h.Act(t, model.KindApplication, "app-1", model.ActionInspectionApproved, nil, h.TokenFor("u-eng"))
	assertEqual(t, rec.Stage, model.StageForAssessment, "after inspection")
	assertEqual(t, rec.Custodian.Department, model.DeptTreasury, "assessment desk")

	// Payment cannot be confirmed before assessment: the action is not legal
	// in For Assessment.
	resp := h.POST(actionPath(model.KindApplication, "app-1", model.ActionConfirmPayment), map[string]any{}, h.TokenFor("u-treas"))
	h.AssertError(t, resp, http.StatusUnprocessableEntity, model.ErrUnknownAction)

	rec = h.Act(t, model.KindApplication, "app-1", model.ActionSubmitAssessment,
		map[string]any{"amount": 3250.5}, h.TokenFor("u-treas"))
	assertEqual(t, rec.Stage, model.StageForPayment, "after assessment")
	assertEqual(t, rec.Attributes["assessedAmount"], 3250.5, "assessed amount")

	rec = h.Act(t, model.KindApplication, "app-1", model.ActionConfirmPayment,
		map[string]any{"orNumber": "OR-2024-0117"}, h.TokenFor("u-treas"))
	assertEqual(t, rec.Stage, model.StageForApproval, "after payment")
	assertEqual(t, rec.Attributes["paymentStatus"], "Paid", "payment status")
	assertEqual(t, rec.Attributes["orNumber"], "OR-2024-0117", "OR number")

	rec = h.Act(t, model.KindApplication, "app-1", model.ActionSignAndApprove, nil, h.TokenFor("u-mayor"))
	assertEqual(t, rec.Stage, model.StageApproved, "after approval")
	assertEqual(t, rec.Custodian.Department, model.DeptRecords, "release desk")

	rec = h.Act(t, model.KindApplication, "app-1", model.ActionMarkReleased, nil, h.TokenFor("u-records"))
	assertEqual(t, rec.Stage, model.StageReleased, "final stage")
	assertEqual(t, len(rec.History), 7, "history length")

	// Assessment is sealed once payment is recorded.
	assertEqual(t, rec.Attributes["assessedAmount"], 3250.5, "assessed amount after release")
}

func TestWorkflow_RejectedApplicationIsTerminal(t *testing.T) {
	h := NewTestHarness(t)

	rec := h.Act(t, model.KindApplication, "app-1", model.ActionReject, nil, h.TokenFor("u-bplo"))
	assertEqual(t, rec.Stage, model.StageRejected, "stage")
	assertEqual(t, rec.Custodian.Department, model.DeptReceiving, "custodian")

	var actions struct {
		Actions []model.ActionName `json:"actions"`
	}
	h.AssertJSON(t, h.GET(recordPath(model.KindApplication, "app-1")+"/actions", h.TokenFor("u-bplo")), http.StatusOK, &actions)
	if len(actions.Actions) != 0 {
		t.Errorf("actions = %v, want none", actions.Actions)
	}
}

// ==========================================================================
// Worklists and legal actions
// ==========================================================================

func TestWorkflow_WorklistFollowsCustody(t *testing.T) {
	h := NewTestHarness(t)

	worklist := func(sub string, kind model.Kind) []string {
		t.Helper()
		var body struct {
			Data []model.Record `json:"data"`
		}
		h.AssertJSON(t, h.GET("/api/worklist/"+string(kind), h.TokenFor(sub)), http.StatusOK, &body)
		ids := make([]string, len(body.Data))
		for i, r := range body.Data {
			ids[i] = r.ID
		}
		return ids
	}

	if got := worklist("u-mayor", model.KindVoucher); !slices.Equal(got, []string{"v-1"}) {
		t.Errorf("mayor voucher worklist = %v, want [v-1]", got)
	}
	if got := worklist("u-bplo", model.KindApplication); !slices.Equal(got, []string{"app-1"}) {
		t.Errorf("BPLO application worklist = %v, want [app-1]", got)
	}

	h.Act(t, model.KindApplication, "app-1", model.ActionVerifyAndForward, nil, h.TokenFor("u-bplo"))

	if got := worklist("u-bplo", model.KindApplication); len(got) != 0 {
		t.Errorf("BPLO worklist after forward = %v, want empty", got)
	}
	if got := worklist("u-eng", model.KindApplication); !slices.Equal(got, []string{"app-1"}) {
		t.Errorf("Engineering worklist = %v, want [app-1]", got)
	}
}

func TestWorkflow_LegalActionsDependOnActor(t *testing.T) {
	h := NewTestHarness(t)

	legal := func(sub string) []model.ActionName {
		t.Helper()
		var body struct {
			Actions []model.ActionName `json:"actions"`
		}
		h.AssertJSON(t, h.GET(recordPath(model.KindVoucher, "v-1")+"/actions", h.TokenFor(sub)), http.StatusOK, &body)
		return body.Actions
	}

	mayor := legal("u-mayor")
	if !slices.Contains(mayor, model.ActionSign) || !slices.Contains(mayor, model.ActionReturn) {
		t.Errorf("mayor actions = %v, want sign and return", mayor)
	}
	if got := legal("u-treas"); len(got) != 0 {
		t.Errorf("treasurer actions on a voucher held by the Mayor's Office = %v, want none", got)
	}
}

// ==========================================================================
// Persistence and idempotency
// ==========================================================================

func TestWorkflow_StatePersistsAcrossRestart(t *testing.T) {
	first := NewTestHarness(t)
	first.Act(t, model.KindVoucher, "v-1", model.ActionSign, nil, first.TokenFor("u-mayor"))
	first.Repository.Close()

	// Reseeding the same database leaves the advanced record alone.
	second := NewTestHarness(t, WithDatabase(first.DatabasePath()))
	rec := second.Record(t, model.KindVoucher, "v-1", second.TokenFor("u-treas"))
	assertEqual(t, rec.Stage, model.StageTreasuryRelease, "stage after restart")
	assertEqual(t, rec.Version, 2, "version after restart")
	assertEqual(t, len(rec.History), 2, "history after restart")
}

func TestWorkflow_IdempotentRetry(t *testing.T) {
	h := NewTestHarness(t, WithIdempotency())
	token := h.TokenFor("u-bplo")
	headers := map[string]string{"X-Idempotency-Key": "verify-app-1"}

	var first, retry model.Record
	h.AssertJSON(t, h.POSTWithHeaders(actionPath(model.KindApplication, "app-1", model.ActionVerifyAndForward),
		map[string]any{}, token, headers), http.StatusOK, &first)
	h.AssertJSON(t, h.POSTWithHeaders(actionPath(model.KindApplication, "app-1", model.ActionVerifyAndForward),
		map[string]any{}, token, headers), http.StatusOK, &retry)

	assertEqual(t, retry.Version, first.Version, "replayed version")
	assertEqual(t, len(retry.History), len(first.History), "replayed history length")

	stored := h.Record(t, model.KindApplication, "app-1", token)
	assertEqual(t, len(stored.History), 2, "stored history length")
	assertEqual(t, len(h.Events.For(model.KindApplication, "app-1")), 1, "published events")

	// Same key, different input.
	resp := h.POSTWithHeaders(actionPath(model.KindApplication, "app-1", model.ActionVerifyAndForward),
		map[string]any{"notes": "changed"}, token, headers)
	h.AssertError(t, resp, http.StatusConflict, model.ErrConflict)
}

func TestWorkflow_StaleVersionAfterConcurrentMove(t *testing.T) {
	h := NewTestHarness(t)
	token := h.TokenFor("u-bplo")

	h.Act(t, model.KindApplication, "app-1", model.ActionVerifyAndForward, nil, token)

	// The second clerk acted on a page rendered before the move.
	resp := h.POST(actionPath(model.KindApplication, "app-1", model.ActionVerifyAndForward), map[string]any{}, token)
	h.AssertError(t, resp, http.StatusUnprocessableEntity, model.ErrUnknownAction)

	rec := h.Record(t, model.KindApplication, "app-1", token)
	assertEqual(t, len(rec.History), 2, "history length")
}

// ==========================================================================
// Helpers
// ==========================================================================

func assertEqual[T comparable](t *testing.T, got, want T, label string) {
	t.Helper()
	if got != want {
		t.Errorf("%s = %v, want %v", label, got, want)
	}
}
