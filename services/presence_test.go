package services

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/errors"
	"chat-sync/mocks"
	"chat-sync/observability"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestPresenceManager_Join_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newTestStore(t)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	presence := NewPresenceManager(store, logs.GetLoggerFromLevel(slog.LevelDebug), metrics)
	createRoom(t, store, "042913")
	bob := domain.NewMember("u-bob", "Bob")

	// When joining twice
	req.NoError(presence.Join(ctx, "042913", bob))
	req.NoError(presence.Join(ctx, "042913", bob))

	// Then exactly one entry exists and the second join wrote nothing
	req.Equal([]domain.Member{bob}, roomMembers(t, store, "042913"))
	req.Equal(float64(1), testutil.ToFloat64(metrics.MembershipOps.WithLabelValues("join", "written")))
	req.Equal(float64(1), testutil.ToFloat64(metrics.MembershipOps.WithLabelValues("join", "noop")))
}

func TestPresenceManager_Join_Missing_Room(t *testing.T) {
	req := require.New(t)
	presence := NewPresenceManager(newTestStore(t), logs.GetLoggerFromLevel(slog.LevelDebug), nil)

	err := presence.Join(context.Background(), "404404", domain.NewMember("u1", "Ann"))
	req.ErrorIs(err, errors.ErrNotFound)
	req.Equal(errors.KindNotFound, errors.KindOf(err))
}

func TestPresenceManager_Join_Validation(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	mockStore := mocks.NewMockDocumentStore(ctrl)
	presence := NewPresenceManager(mockStore, logs.GetLoggerFromLevel(slog.LevelDebug), nil)

	// The store is never reached with invalid input
	mockStore.EXPECT().Get(gomock.Any(), gomock.Any()).Times(0)

	tests := []struct {
		name   string
		room   domain.RoomID
		member domain.Member
	}{
		{"empty room", "", domain.NewMember("u1", "Ann")},
		{"empty uid", "042913", domain.NewMember("", "Ann")},
		{"empty name", "042913", domain.NewMember("u1", "")},
		{"slash in uid", "042913", domain.NewMember("u/1", "Ann")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := presence.Join(context.Background(), tt.room, tt.member)
			require.Equal(t, errors.KindValidation, errors.KindOf(err))
		})
	}
}

func TestPresenceManager_Join_Heals_Renamed_Member(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newTestStore(t)
	presence := NewPresenceManager(store, logs.GetLoggerFromLevel(slog.LevelDebug), nil)

	// Given a stale entry left by a previous display name
	createRoom(t, store, "042913", domain.NewMember("u1", "Ann"), domain.NewMember("u2", "Bob"))

	// When u1 joins under a new name
	req.NoError(presence.Join(ctx, "042913", domain.NewMember("u1", "Annie")))

	// Then u1 appears once, under the new name
	req.ElementsMatch([]domain.Member{domain.NewMember("u2", "Bob"), domain.NewMember("u1", "Annie")},
		roomMembers(t, store, "042913"))
}

func TestPresenceManager_Concurrent_Joins_Are_Not_Lost(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newTestStore(t)
	presence := NewPresenceManager(store, logs.GetLoggerFromLevel(slog.LevelError), nil)
	createRoom(t, store, "000001")

	var wg sync.WaitGroup
	results := make(chan error, 25)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results <- presence.Join(ctx, "000001", domain.NewMember(fmt.Sprintf("u%d", i), fmt.Sprintf("User%d", i)))
		}(i)
	}
	wg.Wait()
	close(results)
	for err := range results {
		req.NoError(err)
	}
	req.Len(roomMembers(t, store, "000001"), 25)
}

func TestPresenceManager_Leave(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newTestStore(t)
	presence := NewPresenceManager(store, logs.GetLoggerFromLevel(slog.LevelDebug), nil)
	ann := domain.NewMember("u1", "Ann")
	bob := domain.NewMember("u2", "Bob")
	createRoom(t, store, "042913", ann, bob)

	// When leaving with an absent member, nothing changes
	req.NoError(presence.Leave(ctx, "042913", domain.NewMember("u9", "Zed")))
	req.Equal([]domain.Member{ann, bob}, roomMembers(t, store, "042913"))

	// When leaving twice, the second call is a no-op
	req.NoError(presence.Leave(ctx, "042913", ann))
	req.NoError(presence.Leave(ctx, "042913", ann))
	req.Equal([]domain.Member{bob}, roomMembers(t, store, "042913"))

	// Only the exact pair is removed
	req.NoError(presence.Leave(ctx, "042913", domain.NewMember("u2", "Robert")))
	req.Equal([]domain.Member{bob}, roomMembers(t, store, "042913"))

	// Leaving a room that does not exist is reported as not found
	req.ErrorIs(presence.Leave(ctx, "404404", ann), errors.ErrNotFound)
}

func TestPresenceManager_Leave_Write_Failure(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	mockStore := mocks.NewMockDocumentStore(ctrl)
	presence := NewPresenceManager(mockStore, logs.GetLoggerFromLevel(slog.LevelDebug), nil)

	mockStore.EXPECT().
		ArrayRemove(gomock.Any(), "rooms/042913", fieldMembers, gomock.Any()).
		Return(errors.ErrStoreClosed).
		Times(1)

	err := presence.Leave(context.Background(), "042913", domain.NewMember("u1", "Ann"))
	req.ErrorIs(err, errors.ErrWriteFailure)
	req.ErrorIs(err, errors.ErrStoreClosed)
}

func TestPresenceManager_SubscribeMembers(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newTestStore(t)
	presence := NewPresenceManager(store, logs.GetLoggerFromLevel(slog.LevelDebug), nil)
	ann := domain.NewMember("u1", "Ann")
	bob := domain.NewMember("u2", "Bob")

	updates := make(chan []domain.Member, 10)
	errs := make(chan error, 10)
	unsubscribe, err := presence.SubscribeMembers(ctx, "042913",
		func(members []domain.Member) { updates <- members },
		func(err error) { errs <- err })
	req.NoError(err)
	defer unsubscribe()

	// Then a room not created yet is reported without closing the stream
	req.ErrorIs(receive(t, errs), errors.ErrNotFound)

	// When the room is created, the full member set arrives
	createRoom(t, store, "042913", ann)
	req.Equal([]domain.Member{ann}, receive(t, updates))

	// When Bob joins
	req.NoError(presence.Join(ctx, "042913", bob))
	req.Equal([]domain.Member{ann, bob}, receive(t, updates))
}

func TestPresenceManager_SubscribeMembers_Store_Failure(t *testing.T) {
	req := require.New(t)
	store := newTestStore(t)
	presence := NewPresenceManager(store, logs.GetLoggerFromLevel(slog.LevelDebug), nil)
	createRoom(t, store, "042913")

	errs := make(chan error, 1)
	_, err := presence.SubscribeMembers(context.Background(), "042913",
		func([]domain.Member) {}, func(err error) { errs <- err })
	req.NoError(err)

	req.NoError(store.Close())
	err = receive(t, errs)
	req.Equal(errors.KindSubscription, errors.KindOf(err))
	req.ErrorIs(err, errors.ErrStoreClosed)
}

func TestPresenceManager_SubscribeMembers_Rejected(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	mockStore := mocks.NewMockDocumentStore(ctrl)
	presence := NewPresenceManager(mockStore, logs.GetLoggerFromLevel(slog.LevelDebug), nil)

	mockStore.EXPECT().
		WatchDocument(gomock.Any(), "rooms/042913", gomock.Any(), gomock.Any()).
		Return(contract.Unsubscribe(nil), errors.ErrStoreClosed).
		Times(1)

	_, err := presence.SubscribeMembers(context.Background(), "042913", func([]domain.Member) {}, nil)
	req.ErrorIs(err, errors.ErrSubscription)
}
