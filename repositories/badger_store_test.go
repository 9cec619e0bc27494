package repositories

import (
	"chat-sync/contract"
	"chat-sync/errors"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func newBadgerStore(t *testing.T) *BadgerStore {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	store := NewBadgerStore(db, slog.Default())
	t.Cleanup(func() {
		_ = store.Close()
		_ = db.Close()
	})
	return store
}

func TestBadgerStore_Get_Missing_Document(t *testing.T) {
	req := require.New(t)
	store := newBadgerStore(t)

	snapshot, err := store.Get(context.Background(), "rooms/000001")
	req.NoError(err)
	req.False(snapshot.Exists)
	req.Equal("000001", snapshot.ID)
}

func TestBadgerStore_Set_And_Merge(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newBadgerStore(t)

	// Given a user document
	req.NoError(store.Set(ctx, "users/u1", contract.Fields{"uid": "u1", "username": "Ann"}, false))

	// When merging a new field
	req.NoError(store.Set(ctx, "users/u1", contract.Fields{"status": "away"}, true))

	// Then previous fields are kept
	snapshot, err := store.Get(ctx, "users/u1")
	req.NoError(err)
	req.Equal(contract.Fields{"uid": "u1", "username": "Ann", "status": "away"}, snapshot.Fields)

	// When overwriting without merge
	req.NoError(store.Set(ctx, "users/u1", contract.Fields{"uid": "u1"}, false))
	snapshot, err = store.Get(ctx, "users/u1")
	req.NoError(err)
	req.Equal(contract.Fields{"uid": "u1"}, snapshot.Fields)
}

func TestBadgerStore_Create_Only_Once(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newBadgerStore(t)

	req.NoError(store.Create(ctx, "rooms/042913", contract.Fields{"name": "first", "createdAt": contract.ServerTimestamp}))
	err := store.Create(ctx, "rooms/042913", contract.Fields{"name": "second"})
	req.ErrorIs(err, errors.ErrDocumentExists)

	snapshot, err := store.Get(ctx, "rooms/042913")
	req.NoError(err)
	req.Equal("first", snapshot.Fields["name"])
	req.IsType(time.Time{}, snapshot.Fields["createdAt"])
}

func TestBadgerStore_Concurrent_Create_Has_One_Winner(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newBadgerStore(t)

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results <- store.Create(ctx, "rooms/000007", contract.Fields{"name": fmt.Sprintf("room-%d", i)})
		}(i)
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		req.ErrorIs(err, errors.ErrDocumentExists)
	}
	req.Equal(1, wins)
}

func TestBadgerStore_ArrayUnion_Requires_Document(t *testing.T) {
	req := require.New(t)
	err := newBadgerStore(t).ArrayUnion(context.Background(), "rooms/404404", "members", "x")
	req.ErrorIs(err, errors.ErrDocumentNotFound)
}

func TestBadgerStore_Concurrent_ArrayUnion_Loses_Nothing(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newBadgerStore(t)
	req.NoError(store.Create(ctx, "rooms/000001", contract.Fields{"members": []any{}}))

	var wg sync.WaitGroup
	results := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			member := map[string]any{"uid": fmt.Sprintf("u%d", i), "displayName": fmt.Sprintf("User %d", i)}
			results <- store.ArrayUnion(ctx, "rooms/000001", "members", member)
		}(i)
	}
	wg.Wait()
	close(results)
	for err := range results {
		req.NoError(err)
	}

	snapshot, err := store.Get(ctx, "rooms/000001")
	req.NoError(err)
	req.Len(snapshot.Fields["members"], 20)
}

func TestBadgerStore_ArrayRemove_Absent_Is_Noop(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newBadgerStore(t)
	member := map[string]any{"uid": "u1", "displayName": "Ann"}
	req.NoError(store.Create(ctx, "rooms/000001", contract.Fields{"members": []any{member}}))

	req.NoError(store.ArrayRemove(ctx, "rooms/000001", "members", map[string]any{"uid": "u9", "displayName": "Zed"}))
	req.NoError(store.ArrayRemove(ctx, "rooms/000001", "members", member))
	req.NoError(store.ArrayRemove(ctx, "rooms/000001", "members", member))

	snapshot, err := store.Get(ctx, "rooms/000001")
	req.NoError(err)
	req.Empty(snapshot.Fields["members"])
}

func TestBadgerStore_Add_Orders_By_Store_Time(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newBadgerStore(t)

	// Given a frozen clock, every append still gets a distinct increasing stamp
	frozen := time.Now()
	store.now = func() time.Time { return frozen }

	var ids []string
	for _, text := range []string{"one", "two", "three"} {
		id, err := store.Add(ctx, "rooms/000001/messages", contract.Fields{"text": text, "timestamp": contract.ServerTimestamp})
		req.NoError(err)
		ids = append(ids, id)
	}

	snapshot, err := store.readCollection("rooms/000001/messages")
	req.NoError(err)
	req.Len(snapshot.Docs, 3)
	var previous time.Time
	for i, doc := range snapshot.Docs {
		req.Equal(ids[i], doc.ID)
		stamp, ok := doc.Fields["timestamp"].(time.Time)
		req.True(ok)
		req.True(stamp.After(previous))
		previous = stamp
	}
	req.Equal("one", snapshot.Docs[0].Fields["text"])
}

func TestBadgerStore_Invalid_Paths(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newBadgerStore(t)

	_, err := store.Get(ctx, "rooms")
	req.ErrorIs(err, errors.ErrInvalidPath)
	_, err = store.Add(ctx, "rooms/000001", contract.Fields{})
	req.ErrorIs(err, errors.ErrInvalidPath)
	_, err = store.WatchCollection(ctx, "rooms/000001", func(contract.QuerySnapshot) {}, nil)
	req.ErrorIs(err, errors.ErrInvalidPath)
}

func TestBadgerStore_WatchDocument(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newBadgerStore(t)
	req.NoError(store.Create(ctx, "rooms/000001", contract.Fields{"members": []any{}}))

	snapshots := make(chan contract.DocumentSnapshot, 10)
	unsubscribe, err := store.WatchDocument(ctx, "rooms/000001",
		func(s contract.DocumentSnapshot) { snapshots <- s }, func(err error) { t.Errorf("unexpected error: %v", err) })
	req.NoError(err)

	// Then the current state comes first
	first := receive(t, snapshots)
	req.True(first.Exists)
	req.Empty(first.Fields["members"])

	// When a member joins
	req.NoError(store.ArrayUnion(ctx, "rooms/000001", "members", "u1"))
	next := receive(t, snapshots)
	req.Equal([]any{"u1"}, next.Fields["members"])

	// When unsubscribing, the watcher goes away
	unsubscribe()
	unsubscribe()
	req.Eventually(func() bool { return store.ActiveWatchers("rooms/000001") == 0 }, waitFor, 10*time.Millisecond)
}

func TestBadgerStore_WatchCollection(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newBadgerStore(t)
	_, err := store.Add(ctx, "rooms/000001/messages", contract.Fields{"text": "hello"})
	req.NoError(err)

	snapshots := make(chan contract.QuerySnapshot, 10)
	unsubscribe, err := store.WatchCollection(ctx, "rooms/000001/messages",
		func(s contract.QuerySnapshot) { snapshots <- s }, nil)
	req.NoError(err)
	defer unsubscribe()

	// Then the first snapshot lists the whole history as added
	first := receive(t, snapshots)
	req.Len(first.Docs, 1)
	req.Len(first.Added, 1)

	// When another message is appended
	_, err = store.Add(ctx, "rooms/000001/messages", contract.Fields{"text": "world"})
	req.NoError(err)

	// Then only that message is added and the history is kept
	last := receive(t, snapshots)
	req.Len(last.Docs, 2)
	req.Equal("world", last.Docs[1].Fields["text"])
	req.Len(last.Added, 1)
	req.Equal("world", last.Added[0].Fields["text"])
}

func TestBadgerStore_ReadAppended_Resumes_After_Cursor(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newBadgerStore(t)

	// Given two messages already read
	for _, text := range []string{"one", "two"} {
		_, err := store.Add(ctx, "rooms/000001/messages", contract.Fields{"text": text})
		req.NoError(err)
	}
	docs, cursor, err := store.readAppended("rooms/000001/messages", nil)
	req.NoError(err)
	req.Len(docs, 2)

	// When nothing new is appended, nothing is read
	docs, unchanged, err := store.readAppended("rooms/000001/messages", cursor)
	req.NoError(err)
	req.Empty(docs)
	req.Equal(cursor, unchanged)

	// When a third message is appended, only it is read
	_, err = store.Add(ctx, "rooms/000001/messages", contract.Fields{"text": "three"})
	req.NoError(err)
	docs, _, err = store.readAppended("rooms/000001/messages", cursor)
	req.NoError(err)
	req.Len(docs, 1)
	req.Equal("three", docs[0].Fields["text"])
}

func TestBadgerStore_Add_Keeps_Order_After_Reopen_With_Earlier_Clock(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	req.NoError(err)
	defer func() { _ = db.Close() }()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	// Given a message appended by a first process
	first := NewBadgerStore(db, slog.Default())
	first.now = func() time.Time { return base }
	_, err = first.Add(ctx, "rooms/000001/messages", contract.Fields{"text": "A", "timestamp": contract.ServerTimestamp})
	req.NoError(err)
	req.NoError(first.Close())

	// When a restarted process with its clock one second behind appends another
	second := NewBadgerStore(db, slog.Default())
	defer func() { _ = second.Close() }()
	second.now = func() time.Time { return base.Add(-time.Second) }
	_, err = second.Add(ctx, "rooms/000001/messages", contract.Fields{"text": "B", "timestamp": contract.ServerTimestamp})
	req.NoError(err)

	// Then the new message still sorts after the history
	snapshot, err := second.readCollection("rooms/000001/messages")
	req.NoError(err)
	req.Len(snapshot.Docs, 2)
	req.Equal("A", snapshot.Docs[0].Fields["text"])
	req.Equal("B", snapshot.Docs[1].Fields["text"])
	previous, ok := snapshot.Docs[0].Fields["timestamp"].(time.Time)
	req.True(ok)
	stamp, ok := snapshot.Docs[1].Fields["timestamp"].(time.Time)
	req.True(ok)
	req.True(stamp.After(previous))
}

func TestBadgerStore_Close_Fails_Watchers(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	store := newBadgerStore(t)

	errs := make(chan error, 1)
	_, err := store.WatchDocument(ctx, "rooms/000001", func(contract.DocumentSnapshot) {}, func(err error) { errs <- err })
	req.NoError(err)

	req.NoError(store.Close())
	req.ErrorIs(receive(t, errs), errors.ErrStoreClosed)

	_, err = store.WatchDocument(ctx, "rooms/000001", func(contract.DocumentSnapshot) {}, nil)
	req.ErrorIs(err, errors.ErrStoreClosed)
}

func TestBadgerStore_Cancelled_Context_Stops_Watch_Silently(t *testing.T) {
	req := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	store := newBadgerStore(t)

	_, err := store.WatchDocument(ctx, "rooms/000001", func(contract.DocumentSnapshot) {},
		func(err error) { t.Errorf("unexpected error: %v", err) })
	req.NoError(err)
	cancel()
	req.Eventually(func() bool { return store.ActiveWatchers("rooms/000001") == 0 }, waitFor, 10*time.Millisecond)
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
