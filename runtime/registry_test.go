package runtime

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestRegistry_Register_And_Unregister(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	key1, key2 := uuid.NewString(), uuid.NewString()
	session1, _ := newMockedSession(t)
	session2, _ := newMockedSession(t)

	// Given no session is registered
	req.Nil(registry.SessionsForRoom("042913"))

	// When two sessions register in the same room
	registry.Register(key1, "042913", session1)
	registry.Register(key2, "042913", session2)

	// Then both are found
	req.ElementsMatch([]*Session{session1, session2}, registry.SessionsForRoom("042913"))

	// When both leave, the room entry is dropped
	registry.Unregister(key1, "042913")
	req.Equal([]*Session{session2}, registry.SessionsForRoom("042913"))
	registry.Unregister(key2, "042913")
	req.Nil(registry.SessionsForRoom("042913"))
	req.Empty(registry.rooms)
}

func TestRegistry_StopAll(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	session, deps := newMockedSession(t)

	deps.identity.EXPECT().Resolve(gomock.Any(), gomock.Any()).Return(domain.Identity{UID: "u1"}, nil)
	deps.users.EXPECT().ResolveMember(gomock.Any(), gomock.Any()).Return(domain.NewMember("u1", "Ann"), nil)
	deps.presence.EXPECT().Join(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
	deps.presence.EXPECT().SubscribeMembers(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(contract.Unsubscribe(noopUnsubscribe), nil)
	deps.messages.EXPECT().Subscribe(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(contract.Unsubscribe(noopUnsubscribe), nil)
	deps.presence.EXPECT().Leave(gomock.Any(), domain.RoomID("042913"), domain.NewMember("u1", "Ann")).Return(nil).Times(1)

	req.NoError(session.Start(context.Background(), "042913"))
	registry.Register("a", "042913", session)

	req.NoError(registry.StopAll(context.Background()))
	req.Equal(domain.StateLeft, session.State())
}
