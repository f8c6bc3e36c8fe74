package auth

import (
	"context"
	goerrors "errors"
	"fmt"
	"strings"

	"session-chat/domain/chat"
	"session-chat/errors"
	"session-chat/repositories"
)

// JWTGate admits a connection when its token is valid and its subject is
// still a known user.
type JWTGate struct {
	tokens *TokenIssuer
	users  repositories.IUserRepository
}

func NewJWTGate(tokens *TokenIssuer, users repositories.IUserRepository) *JWTGate {
	return &JWTGate{tokens: tokens, users: users}
}

func (g *JWTGate) Authenticate(ctx context.Context, credential string) (chat.Identity, error) {
	if err := ctx.Err(); err != nil {
		return chat.Identity{}, err
	}
	credential = strings.TrimSpace(credential)
	credential = strings.TrimSpace(strings.TrimPrefix(credential, "Bearer "))
	if credential == "" {
		return chat.Identity{}, fmt.Errorf("%w: credential is missing", errors.ErrUnauthenticated)
	}
	claims, err := g.tokens.Validate(credential)
	if err != nil {
		return chat.Identity{}, fmt.Errorf("%w: invalid or expired token", errors.ErrUnauthenticated)
	}
	user, err := g.users.GetUserByUsername(claims.Subject)
	if goerrors.Is(err, errors.ErrUserNotFound) {
		return chat.Identity{}, fmt.Errorf("%w: unknown user", errors.ErrUnauthenticated)
	}
	if err != nil {
		return chat.Identity{}, fmt.Errorf("%w: %v", errors.ErrStorage, err)
	}
	return chat.Identity{ID: user.ID, DisplayName: user.Name()}, nil
}
