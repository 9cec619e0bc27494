package repositories

import (
	"chat-sync/contract"
	"chat-sync/errors"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	docPrefix          = "doc:"
	indexPrefix        = "idx:"
	clockPrefix        = "clock:"
	maxConflictRetries = 64
)

// Ensure *BadgerStore implements the contract.DocumentStore interface at compile time.
var _ contract.DocumentStore = (*BadgerStore)(nil)

// BadgerStore is an embedded DocumentStore for a single process.
//
// Documents live under "doc:{path}" as protobuf-encoded structpb values.
// Appended documents also get an index key "idx:{collection}:{micros19}:{id}",
// so a prefix scan returns a collection in append order.
//
// Every mutation of an existing document runs in one Badger transaction and is
// retried on conflict, which makes ArrayUnion/ArrayRemove atomic without any
// caller-side read-modify-write.
type BadgerStore struct {
	db         *badger.DB
	log        *slog.Logger
	hub        *watchHub
	now        func() time.Time
	maxRetries int

	clockMu   sync.Mutex
	lastStamp int64

	// appendMu keeps index order equal to commit order
	appendMu sync.Mutex
}

func NewBadgerStore(db *badger.DB, log *slog.Logger) *BadgerStore {
	return &BadgerStore{
		db:         db,
		log:        log,
		hub:        newWatchHub(),
		now:        time.Now,
		maxRetries: maxConflictRetries,
	}
}

func docKey(path string) []byte {
	return []byte(docPrefix + path)
}

// indexKey is formatted so that lexicographical order is append order:
// 19-digit zero padding on the stamp, the id as a tie breaker.
func indexKey(collection string, stamp time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%019d:%s", indexPrefix, collection, stamp.UnixMicro(), id))
}

// clockKey holds the last stamp appended to a collection, so that
// ordering survives a restart with a clock set back.
func clockKey(collection string) []byte {
	return []byte(clockPrefix + collection)
}

// nextStamp returns a strictly increasing store time.
func (s *BadgerStore) nextStamp() time.Time {
	return s.nextStampAfter(0)
}

// nextStampAfter returns a store time strictly above both the previous one
// and floor, in microseconds.
func (s *BadgerStore) nextStampAfter(floor int64) time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	micros := s.now().UnixMicro()
	if micros <= s.lastStamp {
		micros = s.lastStamp + 1
	}
	if micros <= floor {
		micros = floor + 1
	}
	s.lastStamp = micros
	return time.UnixMicro(micros).UTC()
}

func (s *BadgerStore) stampFor(fields contract.Fields) time.Time {
	if hasServerTimestamp(fields) {
		return s.nextStamp()
	}
	return time.Time{}
}

func (s *BadgerStore) Get(ctx context.Context, path string) (contract.DocumentSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return contract.DocumentSnapshot{}, err
	}
	id, err := checkDocumentPath(path)
	if err != nil {
		return contract.DocumentSnapshot{}, err
	}
	return s.get(cleanPath(path), id)
}

func (s *BadgerStore) get(path, id string) (contract.DocumentSnapshot, error) {
	var snapshot contract.DocumentSnapshot
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		snapshot, err = readSnapshot(txn, path, id)
		return err
	})
	return snapshot, err
}

func (s *BadgerStore) Set(ctx context.Context, path string, fields contract.Fields, merge bool) error {
	data, err := encodeFields(fields, s.stampFor(fields))
	if err != nil {
		return err
	}
	return s.update(ctx, path, func(current map[string]any, exists bool) (map[string]any, bool, error) {
		if merge && exists {
			return mergeFields(current, data), true, nil
		}
		return data, true, nil
	})
}

func (s *BadgerStore) Create(ctx context.Context, path string, fields contract.Fields) error {
	data, err := encodeFields(fields, s.stampFor(fields))
	if err != nil {
		return err
	}
	return s.update(ctx, path, func(_ map[string]any, exists bool) (map[string]any, bool, error) {
		if exists {
			return nil, false, fmt.Errorf("%w: %s", errors.ErrDocumentExists, path)
		}
		return data, true, nil
	})
}

func (s *BadgerStore) ArrayUnion(ctx context.Context, path, field string, elements ...any) error {
	return s.updateArray(ctx, path, field, elements, arrayUnion)
}

func (s *BadgerStore) ArrayRemove(ctx context.Context, path, field string, elements ...any) error {
	return s.updateArray(ctx, path, field, elements, arrayRemove)
}

func (s *BadgerStore) updateArray(ctx context.Context, path, field string, elements []any,
	op func([]any, []any) ([]any, bool)) error {
	return s.update(ctx, path, func(current map[string]any, exists bool) (map[string]any, bool, error) {
		if !exists {
			return nil, false, fmt.Errorf("%w: %s", errors.ErrDocumentNotFound, path)
		}
		changed, err := applyArrayOp(current, field, elements, op)
		return current, changed, err
	})
}

// update runs fn inside a read-write transaction on the document at path.
// fn reports whether the document has to be written. The transaction is
// replayed when Badger detects a conflicting concurrent commit.
func (s *BadgerStore) update(ctx context.Context, path string,
	fn func(current map[string]any, exists bool) (map[string]any, bool, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := checkDocumentPath(path); err != nil {
		return err
	}
	path = cleanPath(path)
	key := docKey(path)

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		written := false
		err := s.db.Update(func(txn *badger.Txn) error {
			current, exists, err := readRecord(txn, key)
			if err != nil {
				return err
			}
			updated, write, err := fn(current, exists)
			if err != nil || !write {
				return err
			}
			value, err := encodeRecord(updated)
			if err != nil {
				return err
			}
			written = true
			return txn.Set(key, value)
		})
		if errors.Is(err, badger.ErrConflict) {
			s.log.Debug("Transaction conflict, retrying", "path", path, "attempt", attempt)
			continue
		}
		if err != nil {
			return err
		}
		if written {
			s.hub.notify(path, parentCollection(path))
		}
		return nil
	}
	return fmt.Errorf("%w: %s", errors.ErrTooManyConflicts, path)
}

// Add stores a new document under a generated id. Its ServerTimestamp fields
// and its index position share the same strictly increasing stamp.
func (s *BadgerStore) Add(ctx context.Context, collection string, fields contract.Fields) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := checkCollectionPath(collection); err != nil {
		return "", err
	}
	collection = cleanPath(collection)
	id := uuid.NewString()
	path := collection + "/" + id

	s.appendMu.Lock()
	err := s.db.Update(func(txn *badger.Txn) error {
		floor, err := readClock(txn, collection)
		if err != nil {
			return err
		}
		stamp := s.nextStampAfter(floor)
		data, err := encodeFields(fields, stamp)
		if err != nil {
			return err
		}
		value, err := encodeRecord(data)
		if err != nil {
			return err
		}
		if err := txn.Set(docKey(path), value); err != nil {
			return err
		}
		if err := txn.Set(indexKey(collection, stamp, id), []byte(id)); err != nil {
			return err
		}
		return txn.Set(clockKey(collection), []byte(strconv.FormatInt(stamp.UnixMicro(), 10)))
	})
	s.appendMu.Unlock()
	if err != nil {
		return "", err
	}

	s.hub.notify(path, collection)
	return id, nil
}

func (s *BadgerStore) WatchDocument(ctx context.Context, path string,
	onNext func(contract.DocumentSnapshot), onError func(error)) (contract.Unsubscribe, error) {
	id, err := checkDocumentPath(path)
	if err != nil {
		return nil, err
	}
	path = cleanPath(path)
	read := func(context.Context) (contract.DocumentSnapshot, error) {
		return s.get(path, id)
	}
	return startWatch(ctx, s.hub, path, read, onNext, onError)
}

func (s *BadgerStore) WatchCollection(ctx context.Context, collection string,
	onNext func(contract.QuerySnapshot), onError func(error)) (contract.Unsubscribe, error) {
	if err := checkCollectionPath(collection); err != nil {
		return nil, err
	}
	collection = cleanPath(collection)
	view := &collectionView{path: collection}
	var cursor []byte
	read := func(context.Context) (contract.QuerySnapshot, error) {
		added, last, err := s.readAppended(collection, cursor)
		if err != nil {
			return contract.QuerySnapshot{}, err
		}
		cursor = last
		return view.advance(added), nil
	}
	return startWatch(ctx, s.hub, collection, read, onNext, onError)
}

// readCollection scans the append index of a collection in ascending order.
func (s *BadgerStore) readCollection(collection string) (contract.QuerySnapshot, error) {
	docs, _, err := s.readAppended(collection, nil)
	if err != nil {
		return contract.QuerySnapshot{}, err
	}
	return (&collectionView{path: collection}).advance(docs), nil
}

// readAppended returns the documents indexed after the index key after, nil for
// the whole collection, and the last index key read. Index keys are committed
// in order under appendMu, so nothing can appear behind a key already read.
func (s *BadgerStore) readAppended(collection string, after []byte) ([]contract.DocumentSnapshot, []byte, error) {
	var docs []contract.DocumentSnapshot
	last := after
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(indexPrefix + collection + ":")
		options := badger.DefaultIteratorOptions
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		seek := prefix
		if after != nil {
			seek = append(slices.Clone(after), 0)
		}
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			id, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			last = item.KeyCopy(nil)
			doc, err := readSnapshot(txn, collection+"/"+string(id), string(id))
			if err != nil {
				return err
			}
			if doc.Exists {
				docs = append(docs, doc)
			}
		}
		return nil
	})
	return docs, last, err
}

// ActiveWatchers returns how many watches are registered on a document or collection path.
func (s *BadgerStore) ActiveWatchers(path string) int {
	return s.hub.count(cleanPath(path))
}

// Close stops every watch with ErrStoreClosed. The Badger handle is owned by the caller.
func (s *BadgerStore) Close() error {
	s.hub.close()
	return nil
}

func startWatch[T any](ctx context.Context, hub *watchHub, path string,
	read func(context.Context) (T, error), onNext func(T), onError func(error)) (contract.Unsubscribe, error) {
	watchCtx, cancel := context.WithCancelCause(ctx)
	w, err := hub.register(path, cancel)
	if err != nil {
		cancel(nil)
		return nil, err
	}
	go func() {
		defer hub.unregister(w)
		watchLoop(watchCtx, w.changed, read, onNext, onError)
	}()
	return func() { cancel(nil) }, nil
}

func readClock(txn *badger.Txn, collection string) (int64, error) {
	item, err := txn.Get(clockKey(collection))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return 0, err
	}
	micros, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: clock of %s: %v", errors.ErrMalformedValue, collection, err)
	}
	return micros, nil
}

func readSnapshot(txn *badger.Txn, path, id string) (contract.DocumentSnapshot, error) {
	data, exists, err := readRecord(txn, docKey(path))
	if err != nil {
		return contract.DocumentSnapshot{}, err
	}
	snapshot := contract.DocumentSnapshot{Path: path, ID: id, Exists: exists}
	if exists {
		snapshot.Fields = decodeFields(data)
	}
	return snapshot, nil
}

func readRecord(txn *badger.Txn, key []byte) (map[string]any, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var data map[string]any
	err = item.Value(func(val []byte) error {
		data, err = decodeRecord(val)
		return err
	})
	return data, err == nil, err
}

func encodeRecord(data map[string]any) ([]byte, error) {
	value, err := structpb.NewStruct(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrUnsupportedValue, err)
	}
	return proto.Marshal(value)
}

func decodeRecord(b []byte) (map[string]any, error) {
	var value structpb.Struct
	if err := proto.Unmarshal(b, &value); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedValue, err)
	}
	return value.AsMap(), nil
}

// DecodeBadgerValue decodes a raw "doc:" value, for inspection tools.
func DecodeBadgerValue(b []byte) (contract.Fields, error) {
	data, err := decodeRecord(b)
	if err != nil {
		return nil, err
	}
	return decodeFields(data), nil
}
