package workflow

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rynzz22/digital.talibon/internal/guard"
	"github.com/rynzz22/digital.talibon/internal/observability"
	"github.com/rynzz22/digital.talibon/internal/stagegraph"
	"github.com/rynzz22/digital.talibon/model"
)

const defaultIdempotencyTTL = 24 * time.Hour

// Request is a single action invocation against a record.
type Request struct {
	Kind    model.Kind
	ID      string
	Action  model.ActionName
	Payload map[string]any
	Notes   string
	// IdempotencyKey, when set, makes a retried request return the result
	// of the first successful attempt instead of applying the action twice.
	IdempotencyKey string
	// Check, when set, validates and rewrites the payload once the record
	// is loaded and the actor is authorized for the action.
	Check PayloadCheck
}

// PayloadCheck validates a caller's payload and returns the payload the
// engine should apply.
type PayloadCheck func(payload map[string]any) (map[string]any, []model.FieldError)

// Engine executes transitions against the repository. It holds no
// per-record state and is safe for concurrent use.
type Engine struct {
	repo      Repository
	clock     Clock
	idem      IdempotencyStore
	idemTTL   time.Duration
	publisher Publisher
	metrics   Recorder
	logger    *zap.Logger
	newID     func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the clock used for audit timestamps.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithIdempotency enables replay protection for requests that carry an
// idempotency key.
func WithIdempotency(store IdempotencyStore, ttl time.Duration) Option {
	return func(e *Engine) {
		e.idem = store
		if ttl > 0 {
			e.idemTTL = ttl
		}
	}
}

// WithPublisher sets the sink for committed transition events.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithRecorder sets the metrics sink.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.metrics = r }
}

// WithLogger sets the fallback logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithIDGenerator overrides how audit entry and record IDs are generated.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// NewEngine creates a new transition executor.
func NewEngine(repo Repository, opts ...Option) *Engine {
	e := &Engine{
		repo:      repo,
		clock:     SystemClock{},
		idemTTL:   defaultIdempotencyTTL,
		publisher: nopPublisher{},
		metrics:   nopRecorder{},
		logger:    zap.NewNop(),
		newID:     func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Invoke applies req on behalf of the actor carried by ctx.
func (e *Engine) Invoke(ctx context.Context, req Request) (model.Record, error) {
	actor, ok := model.ActorFrom(ctx)
	if !ok {
		return model.Record{}, model.NewUnauthorizedError("no actor in request context")
	}
	return e.Apply(ctx, actor, req)
}

// Apply performs req.Action on the record as actor. On success it returns the
// updated record. On failure nothing is written and the returned record is
// the one the decision was made against, or the freshly read record when the
// error is STALE_STATE.
//
// Of two racing calls for the same action, the loser gets STALE_STATE when it
// read the record before the winner committed, and UNKNOWN_ACTION when it read
// the advanced stage, where the action is no longer offered.
func (e *Engine) Apply(ctx context.Context, actor model.Actor, req Request) (rec model.Record, err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "workflow.apply",
		observability.AttrRecordKind.String(string(req.Kind)),
		observability.AttrRecordID.String(req.ID),
		observability.AttrAction.String(string(req.Action)),
		observability.AttrSubjectID.String(actor.ID),
		observability.AttrDepartment.String(string(actor.Department)),
	)
	logger := observability.RequestLogger(ctx, e.logger).With(
		zap.String("kind", string(req.Kind)),
		zap.String("record_id", req.ID),
		zap.String("action", string(req.Action)),
	)
	defer func() {
		outcome := outcomeOf(err)
		e.metrics.RecordTransition(string(req.Kind), string(req.Action), outcome, time.Since(start))
		span.SetAttributes(observability.AttrOutcome.String(outcome))
		observability.EndSpanWithError(span, err)
	}()

	// 1. Look up the stage graph.
	g, ok := stagegraph.For(req.Kind)
	if !ok {
		return model.Record{}, model.NewBadRequestError(fmt.Sprintf("unknown record kind %q", req.Kind))
	}

	payload := stagegraph.NormalizePayload(req.Payload)

	// 2. Replay a previous result for the same idempotency key.
	var idemKey, inputHash string
	if e.idem != nil && req.IdempotencyKey != "" {
		idemKey = FormatIdempotencyKey(actor.ID, req.Kind, req.ID, req.IdempotencyKey)
		inputHash = InputHash(req.Action, payload, req.Notes)
		cached, found, cerr := e.idem.Check(ctx, idemKey, inputHash)
		switch {
		case cerr != nil && model.IsCode(cerr, model.ErrConflict):
			return model.Record{}, cerr
		case cerr != nil:
			logger.Warn("idempotency lookup failed", zap.Error(cerr))
		case found:
			span.SetAttributes(observability.AttrReplayed.Bool(true))
			logger.Debug("replaying idempotent result")
			return *cached, nil
		}
	}

	// 3. Load the record.
	current, err := e.repo.Get(ctx, req.Kind, req.ID)
	if err != nil {
		return model.Record{}, storageError(err)
	}

	// 4. Authorize against the current stage.
	rule, err := guard.Authorize(g, actor, current, req.Action)
	if err != nil {
		logger.Debug("transition denied", zap.String("code", model.CodeOf(err)))
		return current, err
	}

	// 5. Validate the payload.
	if req.Check != nil {
		var details []model.FieldError
		if payload, details = req.Check(payload); len(details) > 0 {
			return current, model.NewInvalidPayloadError(details)
		}
	}
	if details := checkPayload(g, rule, current, payload); len(details) > 0 {
		return current, model.NewInvalidPayloadError(details)
	}

	// 6. Resolve the next custodian.
	custodian, details := resolveCustodian(g, rule, actor, current, payload)
	if len(details) > 0 {
		return current, model.NewInvalidPayloadError(details)
	}

	// 7. Apply attribute writes.
	attrs := model.CloneAttributes(current.Attributes)
	for _, key := range rule.Writes {
		if v, ok := payload[key]; ok {
			attrs[key] = v
		}
	}
	for k, v := range rule.Sets {
		attrs[k] = v
	}

	// 8. Build the audit entry.
	entry := model.AuditEntry{
		ID:        e.newID(),
		Seq:       len(current.History) + 1,
		Stage:     rule.Target,
		FromStage: current.Stage,
		Actor:     actor.Snapshot(),
		Action:    rule.Audit,
		Timestamp: e.timestamp(current),
		Notes:     req.Notes,
	}

	// 9. Commit with optimistic locking.
	err = e.repo.Commit(ctx, Commit{
		Kind:            req.Kind,
		ID:              req.ID,
		ExpectedVersion: current.Version,
		Stage:           rule.Target,
		Custodian:       custodian,
		Attributes:      attrs,
		Entry:           entry,
		UpdatedAt:       entry.Timestamp,
	})
	if err != nil {
		switch model.CodeOf(err) {
		case model.ErrVersionConflict:
			fresh, gerr := e.repo.Get(ctx, req.Kind, req.ID)
			if gerr != nil {
				fresh = current
			}
			logger.Info("transition lost race", zap.Int("expected_version", current.Version))
			return fresh, model.NewStaleStateError(req.ID)
		case model.ErrNotFound:
			return current, err
		default:
			logger.Error("commit failed", zap.Error(err))
			return current, model.NewStorageError(err)
		}
	}

	updated := current.Clone()
	updated.Stage = rule.Target
	updated.Custodian = custodian
	updated.Attributes = attrs
	updated.History = append(updated.History, entry)
	updated.Version = current.Version + 1
	updated.UpdatedAt = entry.Timestamp

	// 10. Post-commit side effects. None of these can fail the transition.
	e.publish(ctx, logger, TransitionEvent{
		Kind:       updated.Kind,
		RecordID:   updated.ID,
		Action:     rule.Action,
		Audit:      rule.Audit,
		FromStage:  current.Stage,
		ToStage:    updated.Stage,
		Custodian:  updated.Custodian,
		Actor:      entry.Actor,
		Version:    updated.Version,
		OccurredAt: entry.Timestamp,
	})
	if idemKey != "" {
		if serr := e.idem.Store(ctx, idemKey, inputHash, updated, e.idemTTL); serr != nil {
			logger.Warn("idempotency store failed", zap.Error(serr))
		}
	}

	span.SetAttributes(
		observability.AttrFromStage.String(string(current.Stage)),
		observability.AttrToStage.String(string(updated.Stage)),
	)
	logger.Info("transition applied",
		zap.String("from_stage", string(current.Stage)),
		zap.String("to_stage", string(updated.Stage)),
		zap.String("custodian", string(custodian.Department)),
		zap.Int("version", updated.Version),
	)
	return updated, nil
}

// Open creates a new record in its kind's initial stage with a Created
// audit entry.
func (e *Engine) Open(ctx context.Context, actor model.Actor, in Intake) (rec model.Record, err error) {
	ctx, span := observability.StartSpan(ctx, "workflow.open",
		observability.AttrRecordKind.String(string(in.Kind)),
		observability.AttrDepartment.String(string(actor.Department)),
	)
	logger := observability.RequestLogger(ctx, e.logger).With(zap.String("kind", string(in.Kind)))
	defer func() {
		e.metrics.RecordIntake(string(in.Kind), outcomeOf(err))
		observability.EndSpanWithError(span, err)
	}()

	// 1. Look up the stage graph.
	g, ok := stagegraph.For(in.Kind)
	if !ok {
		return model.Record{}, model.NewBadRequestError(fmt.Sprintf("unknown record kind %q", in.Kind))
	}
	if err := actor.Validate(); err != nil {
		return model.Record{}, model.NewUnauthorizedError(err.Error())
	}

	// 2. Validate intake attributes.
	attrs := stagegraph.NormalizePayload(in.Attributes)
	if details := validateIntake(g, attrs); len(details) > 0 {
		return model.Record{}, model.NewInvalidPayloadError(details)
	}

	// 3. Resolve the intake custodian.
	custodian := model.Custodian{Department: g.Intake().Department}
	if g.Intake().Source == stagegraph.SourceActor {
		custodian.Department = actor.Department
		attrs[stagegraph.AttrOriginatingDepartment] = string(actor.Department)
	}
	if !g.LegalCustodian(g.Initial(), custodian.Department) {
		return model.Record{}, model.NewInvalidPayloadError([]model.FieldError{{
			Field:   "department",
			Code:    "ILLEGAL_CUSTODIAN",
			Message: fmt.Sprintf("%s cannot hold a %s in %s", custodian.Department, in.Kind, g.Initial()),
		}})
	}

	// 4. Build the record.
	now := e.clock.Now().UTC()
	id := in.ID
	if id == "" {
		id = e.newID()
	}
	rec = model.Record{
		ID:         id,
		Kind:       in.Kind,
		Stage:      g.Initial(),
		Custodian:  custodian,
		Attributes: attrs,
		History: []model.AuditEntry{{
			ID:        e.newID(),
			Seq:       1,
			Stage:     g.Initial(),
			Actor:     actor.Snapshot(),
			Action:    model.AuditCreated,
			Timestamp: now,
			Notes:     in.Notes,
		}},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// 5. Persist.
	if err := e.repo.Create(ctx, rec); err != nil {
		if model.IsCode(err, model.ErrConflict) {
			return model.Record{}, err
		}
		logger.Error("create failed", zap.Error(err))
		return model.Record{}, model.NewStorageError(err)
	}

	e.publish(ctx, logger, TransitionEvent{
		Kind:       rec.Kind,
		RecordID:   rec.ID,
		Audit:      model.AuditCreated,
		ToStage:    rec.Stage,
		Custodian:  rec.Custodian,
		Actor:      actor.Snapshot(),
		Version:    rec.Version,
		OccurredAt: now,
	})
	logger.Info("record opened", zap.String("record_id", rec.ID), zap.String("custodian", string(custodian.Department)))
	return rec.Clone(), nil
}

// Get returns a record with its full history.
func (e *Engine) Get(ctx context.Context, kind model.Kind, id string) (model.Record, error) {
	if _, ok := stagegraph.For(kind); !ok {
		return model.Record{}, model.NewBadRequestError(fmt.Sprintf("unknown record kind %q", kind))
	}
	rec, err := e.repo.Get(ctx, kind, id)
	if err != nil {
		return model.Record{}, storageError(err)
	}
	return rec, nil
}

// ListLegalActions returns the actions actor may perform on the record right
// now. Actors outside the custodian department get an empty list.
func (e *Engine) ListLegalActions(ctx context.Context, actor model.Actor, kind model.Kind, id string) ([]model.ActionName, error) {
	g, ok := stagegraph.For(kind)
	if !ok {
		return nil, model.NewBadRequestError(fmt.Sprintf("unknown record kind %q", kind))
	}
	rec, err := e.repo.Get(ctx, kind, id)
	if err != nil {
		return nil, storageError(err)
	}
	return guard.LegalActions(g, actor, rec), nil
}

// History returns the record's audit entries in append order.
func (e *Engine) History(ctx context.Context, kind model.Kind, id string) ([]model.AuditEntry, error) {
	if _, ok := stagegraph.For(kind); !ok {
		return nil, model.NewBadRequestError(fmt.Sprintf("unknown record kind %q", kind))
	}
	entries, err := e.repo.History(ctx, kind, id)
	if err != nil {
		return nil, storageError(err)
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	return entries, nil
}

// Worklist returns the open records of kind currently held by the actor's
// department. Records in terminal stages are excluded.
func (e *Engine) Worklist(ctx context.Context, actor model.Actor, kind model.Kind, limit, offset int) ([]model.Record, error) {
	g, ok := stagegraph.For(kind)
	if !ok {
		return nil, model.NewBadRequestError(fmt.Sprintf("unknown record kind %q", kind))
	}
	var open []model.Stage
	for _, st := range g.Stages() {
		if !g.IsTerminal(st) {
			open = append(open, st)
		}
	}
	recs, err := e.repo.List(ctx, Filter{
		Kind:       kind,
		Department: actor.Department,
		Stages:     open,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return nil, storageError(err)
	}
	if recs == nil {
		recs = []model.Record{}
	}
	return recs, nil
}

// HealthCheck reports whether the repository is reachable.
func (e *Engine) HealthCheck(ctx context.Context) error {
	return e.repo.HealthCheck(ctx)
}

// timestamp returns the clock's time, clamped so history never goes
// backwards.
func (e *Engine) timestamp(rec model.Record) time.Time {
	now := e.clock.Now().UTC()
	if last, ok := rec.LastEntry(); ok && now.Before(last.Timestamp) {
		return last.Timestamp
	}
	return now
}

func (e *Engine) publish(ctx context.Context, logger *zap.Logger, ev TransitionEvent) {
	if err := e.publisher.Publish(ctx, ev); err != nil {
		logger.Warn("event publish failed", zap.Error(err))
	}
}

// checkPayload rejects sealed attributes and every key the rule neither
// writes nor routes by, then evaluates the rule's preconditions.
func checkPayload(g *stagegraph.Graph, rule stagegraph.Rule, rec model.Record, payload map[string]any) []model.FieldError {
	var details []model.FieldError
	sealed := g.Sealed(rec.Attributes)

	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		switch {
		case slices.Contains(sealed, k):
			details = append(details, model.FieldError{
				Field:   k,
				Code:    "IMMUTABLE",
				Message: k + " can no longer be changed",
			})
		case k == stagegraph.AttrOriginatingDepartment:
			details = append(details, model.FieldError{
				Field:   k,
				Code:    "NOT_OWNED",
				Message: k + " is set at intake only",
			})
		case slices.Contains(rule.Writes, k):
		case routingKey(rule, k):
		default:
			details = append(details, model.FieldError{
				Field:   k,
				Code:    "NOT_OWNED",
				Message: fmt.Sprintf("%s does not accept %s", rule.Action, k),
			})
		}
	}

	for _, p := range rule.Requires {
		ok, err := p.Check(payload, rec.Attributes)
		if err != nil || !ok {
			details = append(details, model.FieldError{
				Field:   p.Field,
				Code:    "PRECONDITION",
				Message: p.Message,
			})
		}
	}
	return details
}

// routingKey reports whether k is read by rule to choose the next custodian.
func routingKey(rule stagegraph.Rule, k string) bool {
	return rule.Custodian.Source == stagegraph.SourcePayload &&
		(k == stagegraph.PayloadToDepartment || k == stagegraph.PayloadToHolder)
}

// resolveCustodian computes the custodian the record will have after rule.
func resolveCustodian(g *stagegraph.Graph, rule stagegraph.Rule, actor model.Actor, rec model.Record, payload map[string]any) (model.Custodian, []model.FieldError) {
	var c model.Custodian
	switch rule.Custodian.Source {
	case stagegraph.SourceFixed:
		c.Department = rule.Custodian.Department
	case stagegraph.SourceKeep:
		c = rec.Custodian
	case stagegraph.SourceActor:
		c.Department = actor.Department
	case stagegraph.SourceOriginating:
		dept, _ := rec.Attributes[stagegraph.AttrOriginatingDepartment].(string)
		c.Department = model.Department(dept)
		if !c.Department.Valid() {
			c.Department = model.DeptReceiving
		}
	case stagegraph.SourcePayload:
		raw, present := payload[stagegraph.PayloadToDepartment]
		dept, isString := raw.(string)
		switch {
		case present && (!isString || strings.TrimSpace(dept) == ""):
			return c, []model.FieldError{{
				Field:   stagegraph.PayloadToDepartment,
				Code:    "INVALID_VALUE",
				Message: "toDepartment must be a department name",
			}}
		case present:
			c.Department = model.Department(dept)
		case rule.Custodian.Department != "":
			c.Department = rule.Custodian.Department
		default:
			return c, []model.FieldError{{
				Field:   stagegraph.PayloadToDepartment,
				Code:    "REQUIRED",
				Message: "toDepartment is required",
			}}
		}
		if holder, ok := payload[stagegraph.PayloadToHolder].(string); ok {
			c.HolderID = holder
		}
	}

	if !c.Department.Valid() {
		return c, []model.FieldError{{
			Field:   stagegraph.PayloadToDepartment,
			Code:    "UNKNOWN_DEPARTMENT",
			Message: fmt.Sprintf("unknown department %q", c.Department),
		}}
	}
	if !g.LegalCustodian(rule.Target, c.Department) {
		return c, []model.FieldError{{
			Field:   stagegraph.PayloadToDepartment,
			Code:    "ILLEGAL_CUSTODIAN",
			Message: fmt.Sprintf("%s cannot hold a record in %s", c.Department, rule.Target),
		}}
	}
	return c, nil
}

// storageError passes typed not-found errors through and wraps everything
// else as STORAGE_ERROR.
func storageError(err error) error {
	if model.IsCode(err, model.ErrNotFound) || model.IsCode(err, model.ErrStorage) {
		return err
	}
	return model.NewStorageError(err)
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	if code := model.CodeOf(err); code != "" {
		return strings.ToLower(code)
	}
	return "error"
}
