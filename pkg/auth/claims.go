package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/campusstore-backend/pkg/enums"
)

// ActorPayload captures the data available when minting an actor token.
type ActorPayload struct {
	ActorID uuid.UUID
	Role    enums.ActorRole
}

// ActorClaims is the typed JWT carried on every API call. The actor id rides
// in the registered "sub" claim.
type ActorClaims struct {
	Role enums.ActorRole `json:"role"`
	jwt.RegisteredClaims
}

// ActorID parses the subject claim.
func (c *ActorClaims) ActorID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("subject is not an actor id: %w", err)
	}
	if id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("subject is empty")
	}
	return id, nil
}
