package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rynzz22/digital.talibon/internal/facade"
	"github.com/rynzz22/digital.talibon/internal/observability"
	"github.com/rynzz22/digital.talibon/model"
)

const (
	maxBodyBytes     = 1 << 20
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// idempotencyHeader carries the client's retry key for action requests.
const idempotencyHeader = "X-Idempotency-Key"

type actionBody struct {
	Payload map[string]any `json:"payload"`
	Notes   string         `json:"notes"`
}

type intakeBody struct {
	ID         string         `json:"id"`
	Attributes map[string]any `json:"attributes"`
	Notes      string         `json:"notes"`
}

func handleMe(w http.ResponseWriter, r *http.Request) {
	rctx := model.RequestContextFrom(r.Context())
	if rctx == nil {
		WriteError(w, model.NewUnauthorizedError("missing request context"))
		return
	}
	WriteJSON(w, http.StatusOK, rctx.Actor)
}

func handleWorklist(facades *facade.Set) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, wf, ok := resolveTarget(w, r, facades)
		if !ok {
			return
		}

		limit := queryInt(r, "limit", defaultPageLimit)
		if limit <= 0 || limit > maxPageLimit {
			limit = defaultPageLimit
		}
		offset := max(queryInt(r, "offset", 0), 0)

		recs, err := wf.Worklist(r.Context(), actor, limit, offset)
		if err != nil {
			WriteRequestError(r.Context(), w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"data":   recs,
			"limit":  limit,
			"offset": offset,
		})
	}
}

func handleOpen(facades *facade.Set, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, wf, ok := resolveTarget(w, r, facades)
		if !ok {
			return
		}

		var body intakeBody
		if err := decodeBody(r, &body); err != nil {
			WriteRequestError(r.Context(), w, err)
			return
		}
		observability.LoggerFrom(r.Context(), logger).Debug("intake request",
			zap.String("kind", string(wf.Kind())),
			zap.Any("attributes", observability.RedactBody(body.Attributes, nil)),
		)

		rec, err := wf.OpenWithID(r.Context(), actor, body.ID, body.Attributes, facade.WithNotes(body.Notes))
		if err != nil {
			WriteRequestError(r.Context(), w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, rec)
	}
}

func handleGet(facades *facade.Set) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, wf, ok := resolveTarget(w, r, facades)
		if !ok {
			return
		}
		rec, err := wf.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			WriteRequestError(r.Context(), w, err)
			return
		}
		WriteJSON(w, http.StatusOK, rec)
	}
}

func handleActions(facades *facade.Set) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, wf, ok := resolveTarget(w, r, facades)
		if !ok {
			return
		}
		actions, err := wf.Actions(r.Context(), actor, chi.URLParam(r, "id"))
		if err != nil {
			WriteRequestError(r.Context(), w, err)
			return
		}
		if actions == nil {
			actions = []model.ActionName{}
		}
		WriteJSON(w, http.StatusOK, map[string]any{"actions": actions})
	}
}

func handleInvoke(facades *facade.Set, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, wf, ok := resolveTarget(w, r, facades)
		if !ok {
			return
		}

		var body actionBody
		if err := decodeBody(r, &body); err != nil {
			WriteRequestError(r.Context(), w, err)
			return
		}

		id := chi.URLParam(r, "id")
		action := model.ActionName(chi.URLParam(r, "action"))
		observability.LoggerFrom(r.Context(), logger).Debug("action request",
			zap.String("record_id", id),
			zap.String("action", string(action)),
			zap.Any("payload", observability.RedactBody(body.Payload, nil)),
		)

		opts := []facade.CallOption{facade.WithNotes(body.Notes)}
		if key := r.Header.Get(idempotencyHeader); key != "" {
			opts = append(opts, facade.WithIdempotencyKey(key))
		}
		rec, err := wf.Invoke(r.Context(), actor, id, action, body.Payload, opts...)
		if err != nil {
			WriteRequestError(r.Context(), w, err)
			return
		}
		WriteJSON(w, http.StatusOK, rec)
	}
}

func handleHistory(facades *facade.Set) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, wf, ok := resolveTarget(w, r, facades)
		if !ok {
			return
		}
		entries, err := wf.History(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			WriteRequestError(r.Context(), w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"history": entries})
	}
}

// resolveTarget returns the request's actor and the facade for the {kind}
// URL parameter, writing an error response when either is missing.
func resolveTarget(w http.ResponseWriter, r *http.Request, facades *facade.Set) (model.Actor, facade.Workflow, bool) {
	rctx := model.RequestContextFrom(r.Context())
	if rctx == nil {
		WriteError(w, model.NewUnauthorizedError("missing request context"))
		return model.Actor{}, nil, false
	}
	kind, err := model.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		WriteRequestError(r.Context(), w, model.NewBadRequestError(err.Error()))
		return model.Actor{}, nil, false
	}
	wf, err := facades.For(kind)
	if err != nil {
		WriteRequestError(r.Context(), w, err)
		return model.Actor{}, nil, false
	}
	return rctx.Actor, wf, true
}

// decodeBody reads a JSON body into v. An empty body leaves v unchanged.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return model.NewBadRequestError("invalid JSON body: " + err.Error())
	}
	return nil
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
