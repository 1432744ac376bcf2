package facade

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/rynzz22/digital.talibon/internal/identity"
	"github.com/rynzz22/digital.talibon/model"
)

// ActorResolver turns verified token claims into the Actor the guard sees.
// Officers without a directory profile are synthesized from their claims.
type ActorResolver struct {
	source identity.ProfileSource
	logger *zap.Logger
}

// NewActorResolver creates a resolver. source may be nil, in which case
// every actor is synthesized.
func NewActorResolver(source identity.ProfileSource, logger *zap.Logger) *ActorResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActorResolver{source: source, logger: logger}
}

// Resolve returns the directory profile for the claims' subject, or an actor
// built from the claims when none exists.
func (r *ActorResolver) Resolve(ctx context.Context, c identity.Claims) (model.Actor, error) {
	if c.Subject == "" {
		return model.Actor{}, model.NewUnauthorizedError("token has no subject")
	}

	if r.source != nil {
		actor, found, err := r.source.Lookup(ctx, c.Subject, c.Email)
		switch {
		case err != nil:
			r.logger.Warn("profile lookup failed, synthesizing actor from claims",
				zap.String("subject_id", c.Subject),
				zap.Error(err),
			)
		case found:
			if actor.Email == "" {
				actor.Email = c.Email
			}
			return actor, nil
		}
	}

	actor, err := synthesize(c)
	if err != nil {
		return model.Actor{}, err
	}
	r.logger.Info("synthesized actor from claims",
		zap.String("subject_id", actor.ID),
		zap.String("role", string(actor.Role)),
		zap.String("department", string(actor.Department)),
	)
	return actor, nil
}

// Current returns the actor attached to the request.
func (r *ActorResolver) Current(ctx context.Context) (model.Actor, error) {
	actor, ok := model.ActorFrom(ctx)
	if !ok {
		return model.Actor{}, model.NewUnauthorizedError("no authenticated actor")
	}
	return actor, nil
}

func synthesize(c identity.Claims) (model.Actor, error) {
	if c.Role == "" || c.Department == "" {
		return model.Actor{}, model.NewUnauthorizedError("token lacks role or department claims")
	}
	role := model.Role(strings.ToUpper(c.Role))
	if !role.Valid() {
		return model.Actor{}, model.NewUnauthorizedError("unrecognized role " + c.Role)
	}
	dept, ok := parseDepartment(c.Department)
	if !ok {
		return model.Actor{}, model.NewUnauthorizedError("unrecognized department " + c.Department)
	}

	actor := model.Actor{
		ID:          c.Subject,
		Name:        displayName(c),
		Email:       c.Email,
		Role:        role,
		Department:  dept,
		Synthesized: true,
	}
	if level := model.JobLevel(c.JobLevel); level.Valid() {
		actor.JobLevel = level
	}
	return actor, nil
}

func displayName(c identity.Claims) string {
	if c.Name != "" {
		return c.Name
	}
	prefix, _, _ := strings.Cut(c.Email, "@")
	if prefix == "" {
		prefix = c.Subject
	}
	return "Officer " + prefix
}

func parseDepartment(s string) (model.Department, bool) {
	for _, d := range model.Departments() {
		if strings.EqualFold(string(d), s) {
			return d, true
		}
	}
	return "", false
}
