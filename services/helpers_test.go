package services

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/repositories"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func newTestStore(t *testing.T) *repositories.BadgerStore {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	store := repositories.NewBadgerStore(db, logs.GetLoggerFromLevel(slog.LevelDebug))
	t.Cleanup(func() {
		_ = store.Close()
		_ = db.Close()
	})
	return store
}

// createRoom stores a room document with the given members.
func createRoom(t *testing.T, store contract.DocumentStore, id domain.RoomID, members ...domain.Member) {
	t.Helper()
	err := store.Create(context.Background(), roomPath(id), contract.Fields{
		fieldName:      "room " + id.String(),
		fieldCreatedBy: "test",
		fieldCreatedAt: contract.ServerTimestamp,
		fieldMembers:   memberValues(members),
	})
	require.NoError(t, err)
}

func roomMembers(t *testing.T, store contract.DocumentStore, id domain.RoomID) []domain.Member {
	t.Helper()
	snapshot, err := store.Get(context.Background(), roomPath(id))
	require.NoError(t, err)
	return membersFromFields(snapshot.Fields)
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitFor):
		t.Fatal("timeout waiting for value")
	}
	var zero T
	return zero
}
