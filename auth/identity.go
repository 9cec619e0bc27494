package auth

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/errors"
	"context"
	"fmt"
)

var _ contract.IdentityProvider = TokenIdentityProvider{}

// TokenIdentityProvider resolves the caller from the token of its AuthSession.
type TokenIdentityProvider struct {
	tokens Tokens
}

func NewTokenIdentityProvider(tokens Tokens) TokenIdentityProvider {
	return TokenIdentityProvider{tokens: tokens}
}

func (p TokenIdentityProvider) Resolve(ctx context.Context, session domain.AuthSession) (domain.Identity, error) {
	if err := ctx.Err(); err != nil {
		return domain.Identity{}, err
	}
	claims, err := p.tokens.Validate(session.Token)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %w", errors.ErrValidation, err)
	}
	return domain.Identity{UID: claims.Subject, DisplayName: claims.Name}, nil
}
