package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/campusstore-backend/pkg/enums"
)

type contextKey string

const (
	ctxActorID contextKey = "actor_id"
	ctxRole    contextKey = "actor_role"
)

// ActorFromContext returns the authenticated actor seeded by Actor.
func ActorFromContext(ctx context.Context) (uuid.UUID, enums.ActorRole, bool) {
	if ctx == nil {
		return uuid.Nil, "", false
	}
	id, ok := ctx.Value(ctxActorID).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, "", false
	}
	role, _ := ctx.Value(ctxRole).(enums.ActorRole)
	return id, role, true
}

func RoleFromContext(ctx context.Context) enums.ActorRole {
	if ctx == nil {
		return ""
	}
	role, _ := ctx.Value(ctxRole).(enums.ActorRole)
	return role
}

// WithActor injects an actor into ctx. Tests use it to skip token minting.
func WithActor(ctx context.Context, id uuid.UUID, role enums.ActorRole) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, ctxActorID, id)
	return context.WithValue(ctx, ctxRole, role)
}
