package services

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/errors"
	"context"
	"fmt"
	"log/slog"
)

// Ensure *UserService implements the contract.IUserDirectory interface at compile time.
var _ contract.IUserDirectory = (*UserService)(nil)

// UserService keeps the users/{uid} profiles.
type UserService struct {
	store contract.DocumentStore
	log   *slog.Logger
}

func NewUserService(store contract.DocumentStore, log *slog.Logger) *UserService {
	return &UserService{store: store, log: log}
}

// Register writes the profile of identity, merged into any existing one.
// The provider display name is normalized into a username first.
func (s *UserService) Register(ctx context.Context, identity domain.Identity) (domain.User, error) {
	user := domain.User{UID: identity.UID, Username: domain.NormalizeUsername(identity.DisplayName)}
	if err := user.Validate(); err != nil {
		return domain.User{}, err
	}
	err := s.store.Set(ctx, userPath(user.UID), contract.Fields{
		fieldUID:      user.UID,
		fieldUsername: user.Username,
	}, true)
	if err != nil {
		return domain.User{}, storeFailure(err, "register user %s", user.UID)
	}
	s.log.Info("User registered", "uid", user.UID, "username", user.Username)
	return user, nil
}

// DisplayName returns the stored username of uid.
func (s *UserService) DisplayName(ctx context.Context, uid string) (string, error) {
	if err := domain.ValidateUID(uid); err != nil {
		return "", err
	}
	snapshot, err := s.store.Get(ctx, userPath(uid))
	if err != nil {
		return "", storeFailure(err, "read user %s", uid)
	}
	username, _ := snapshot.Fields[fieldUsername].(string)
	if !snapshot.Exists || username == "" {
		return "", fmt.Errorf("%w: user %s", errors.ErrNotFound, uid)
	}
	return username, nil
}

// ResolveMember returns the room member of identity under its stored username.
// An unknown user is registered first.
func (s *UserService) ResolveMember(ctx context.Context, identity domain.Identity) (domain.Member, error) {
	name, err := s.DisplayName(ctx, identity.UID)
	if errors.Is(err, errors.ErrNotFound) {
		user, err := s.Register(ctx, identity)
		if err != nil {
			return domain.Member{}, err
		}
		name = user.Username
	} else if err != nil {
		return domain.Member{}, err
	}
	return domain.NewMember(identity.UID, name), nil
}
