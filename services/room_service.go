package services

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/errors"
	"context"
	"fmt"
	"log/slog"
	"strings"
)

const defaultRoomCodeAttempts = 8

type RoomService struct {
	store    contract.DocumentStore
	log      *slog.Logger
	attempts int
	newCode  func() domain.RoomID
}

func NewRoomService(store contract.DocumentStore, log *slog.Logger, attempts int) *RoomService {
	if attempts <= 0 {
		attempts = defaultRoomCodeAttempts
	}
	return &RoomService{store: store, log: log, attempts: attempts, newCode: domain.RandomRoomID}
}

// WithCodeGenerator replaces the random room code source.
func (s *RoomService) WithCodeGenerator(newCode func() domain.RoomID) *RoomService {
	s.newCode = newCode
	return s
}

// CreateRoom stores a new room with creator as its first member and returns its code.
// A drawn code already in use is never overwritten: the document is created only if
// absent, and another code is drawn, up to the configured number of attempts.
func (s *RoomService) CreateRoom(ctx context.Context, name string, creator domain.Member) (domain.RoomID, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: room name is required", errors.ErrValidation)
	}
	if err := creator.Validate(); err != nil {
		return "", err
	}

	for attempt := 1; attempt <= s.attempts; attempt++ {
		code := s.newCode()
		err := s.store.Create(ctx, roomPath(code), contract.Fields{
			fieldName:      name,
			fieldCreatedBy: creator.UID,
			fieldCreatedAt: contract.ServerTimestamp,
			fieldMembers:   []any{memberValue(creator)},
		})
		if errors.Is(err, errors.ErrDocumentExists) {
			s.log.Debug("Room code already taken", "room", code, "attempt", attempt)
			continue
		}
		if err != nil {
			return "", storeFailure(err, "create room %s", code)
		}
		s.log.Info("Room created", "room", code, "name", name, "creator", creator.UID)
		return code, nil
	}
	return "", fmt.Errorf("%w: %w after %d attempts", errors.ErrWriteFailure, errors.ErrRoomCodeExhausted, s.attempts)
}

// Room reads the room metadata and its current members.
func (s *RoomService) Room(ctx context.Context, id domain.RoomID) (domain.Room, error) {
	if err := id.Validate(); err != nil {
		return domain.Room{}, err
	}
	snapshot, err := s.store.Get(ctx, roomPath(id))
	if err != nil {
		return domain.Room{}, storeFailure(err, "read room %s", id)
	}
	if !snapshot.Exists {
		return domain.Room{}, fmt.Errorf("%w: room %s", errors.ErrNotFound, id)
	}
	return roomFromSnapshot(snapshot), nil
}
