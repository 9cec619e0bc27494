package repositories

import (
	"chat-sync/contract"
	"chat-sync/errors"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Ensure *RedisStore implements the contract.DocumentStore interface at compile time.
var _ contract.DocumentStore = (*RedisStore)(nil)

// appendScript stores a new document and indexes it with one stamp taken from the
// Redis clock, forced strictly above the previous stamp of the collection.
// KEYS: doc, index, clock. ARGV: json, id, doc channel, collection channel.
var appendScript = redis.NewScript(`
local now = redis.call('TIME')
local micros = tonumber(now[1]) * 1000000 + tonumber(now[2])
local last = tonumber(redis.call('GET', KEYS[3]) or '0')
if micros <= last then
  micros = last + 1
end
local stamp = string.format('%d', micros)
redis.call('SET', KEYS[3], stamp)
local doc = string.gsub(ARGV[1], '{"%$serverTimestamp":true}', '{"$ts":' .. stamp .. '}')
redis.call('SET', KEYS[1], doc)
redis.call('ZADD', KEYS[2], stamp, ARGV[2])
redis.call('PUBLISH', ARGV[3], '1')
redis.call('PUBLISH', ARGV[4], '1')
return stamp
`)

// RedisStore is a DocumentStore shared by every process connected to the same Redis.
//
// Layout, under a configurable prefix:
//
//	doc:{path}          JSON document
//	idx:{collection}    sorted set of appended ids, scored by stamp
//	clock:{collection}  last stamp handed out by appendScript
//	changes:{path}      pub/sub channel signalled on every write
type RedisStore struct {
	client     *redis.Client
	prefix     string
	log        *slog.Logger
	hub        *watchHub
	maxRetries int
}

func NewRedisStore(ctx context.Context, url, prefix string, log *slog.Logger) (*RedisStore, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return NewRedisStoreFromClient(client, prefix, log), nil
}

// NewRedisStoreFromClient takes ownership of client: Close closes it.
// A non-empty prefix is separated from the keys by a colon.
func NewRedisStoreFromClient(client *redis.Client, prefix string, log *slog.Logger) *RedisStore {
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &RedisStore{
		client:     client,
		prefix:     prefix,
		log:        log,
		hub:        newWatchHub(),
		maxRetries: maxConflictRetries,
	}
}

func (s *RedisStore) docKey(path string) string        { return s.prefix + docPrefix + path }
func (s *RedisStore) indexKey(collection string) string { return s.prefix + indexPrefix + collection }
func (s *RedisStore) clockKey(collection string) string { return s.prefix + "clock:" + collection }
func (s *RedisStore) channel(path string) string        { return s.prefix + "changes:" + path }

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) Get(ctx context.Context, path string) (contract.DocumentSnapshot, error) {
	id, err := checkDocumentPath(path)
	if err != nil {
		return contract.DocumentSnapshot{}, err
	}
	return s.get(ctx, cleanPath(path), id)
}

func (s *RedisStore) get(ctx context.Context, path, id string) (contract.DocumentSnapshot, error) {
	data, exists, err := s.readRecord(ctx, s.client, s.docKey(path))
	if err != nil {
		return contract.DocumentSnapshot{}, err
	}
	snapshot := contract.DocumentSnapshot{Path: path, ID: id, Exists: exists}
	if exists {
		snapshot.Fields = decodeFields(data)
	}
	return snapshot, nil
}

func (s *RedisStore) readRecord(ctx context.Context, g stringGetter, key string) (map[string]any, bool, error) {
	b, err := g.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	data, err := decodeJSON(b)
	return data, err == nil, err
}

func decodeJSON(b []byte) (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedValue, err)
	}
	return data, nil
}

// encode resolves ServerTimestamp fields with the Redis clock.
func (s *RedisStore) encode(ctx context.Context, fields contract.Fields) (map[string]any, error) {
	if !hasServerTimestamp(fields) {
		return encodeFields(fields, time.Time{})
	}
	now, err := s.client.Time(ctx).Result()
	if err != nil {
		return nil, err
	}
	return encodeFields(fields, now.UTC())
}

func (s *RedisStore) Set(ctx context.Context, path string, fields contract.Fields, merge bool) error {
	data, err := s.encode(ctx, fields)
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

func (s *RedisStore) Create(ctx context.Context, path string, fields contract.Fields) error {
	data, err := s.encode(ctx, fields)
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

func (s *RedisStore) ArrayUnion(ctx context.Context, path, field string, elements ...any) error {
	return s.updateArray(ctx, path, field, elements, arrayUnion)
}

func (s *RedisStore) ArrayRemove(ctx context.Context, path, field string, elements ...any) error {
	return s.updateArray(ctx, path, field, elements, arrayRemove)
}

func (s *RedisStore) updateArray(ctx context.Context, path, field string, elements []any,
	op func([]any, []any) ([]any, bool)) error {
	return s.update(ctx, path, func(current map[string]any, exists bool) (map[string]any, bool, error) {
		if !exists {
			return nil, false, fmt.Errorf("%w: %s", errors.ErrDocumentNotFound, path)
		}
		changed, err := applyArrayOp(current, field, elements, op)
		return current, changed, err
	})
}

// update is an optimistic WATCH/MULTI/EXEC cycle on one document key,
// replayed when another client modified the key in between.
func (s *RedisStore) update(ctx context.Context, path string,
	fn func(current map[string]any, exists bool) (map[string]any, bool, error)) error {
	if _, err := checkDocumentPath(path); err != nil {
		return err
	}
	path = cleanPath(path)
	key := s.docKey(path)

	txf := func(tx *redis.Tx) error {
		current, exists, err := s.readRecord(ctx, tx, key)
		if err != nil {
			return err
		}
		updated, write, err := fn(current, exists)
		if err != nil || !write {
			return err
		}
		value, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("%w: %v", errors.ErrUnsupportedValue, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, value, 0)
			pipe.Publish(ctx, s.channel(path), "1")
			pipe.Publish(ctx, s.channel(parentCollection(path)), "1")
			return nil
		})
		return err
	}

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			s.log.Debug("Optimistic transaction failed, retrying", "path", path, "attempt", attempt)
			continue
		}
		return err
	}
	return fmt.Errorf("%w: %s", errors.ErrTooManyConflicts, path)
}

func (s *RedisStore) Add(ctx context.Context, collection string, fields contract.Fields) (string, error) {
	if err := checkCollectionPath(collection); err != nil {
		return "", err
	}
	collection = cleanPath(collection)
	data, err := encodeFields(fields, time.Time{})
	if err != nil {
		return "", err
	}
	value, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errors.ErrUnsupportedValue, err)
	}
	id := uuid.NewString()
	path := collection + "/" + id

	keys := []string{s.docKey(path), s.indexKey(collection), s.clockKey(collection)}
	err = appendScript.Run(ctx, s.client, keys, string(value), id, s.channel(path), s.channel(collection)).Err()
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *RedisStore) WatchDocument(ctx context.Context, path string,
	onNext func(contract.DocumentSnapshot), onError func(error)) (contract.Unsubscribe, error) {
	id, err := checkDocumentPath(path)
	if err != nil {
		return nil, err
	}
	path = cleanPath(path)
	read := func(ctx context.Context) (contract.DocumentSnapshot, error) {
		return s.get(ctx, path, id)
	}
	return redisWatch(ctx, s, path, read, onNext, onError)
}

func (s *RedisStore) WatchCollection(ctx context.Context, collection string,
	onNext func(contract.QuerySnapshot), onError func(error)) (contract.Unsubscribe, error) {
	if err := checkCollectionPath(collection); err != nil {
		return nil, err
	}
	collection = cleanPath(collection)
	view := &collectionView{path: collection}
	cursor := math.Inf(-1)
	read := func(ctx context.Context) (contract.QuerySnapshot, error) {
		added, last, err := s.readAppended(ctx, collection, cursor)
		if err != nil {
			return contract.QuerySnapshot{}, err
		}
		cursor = last
		return view.advance(added), nil
	}
	return redisWatch(ctx, s, collection, read, onNext, onError)
}

// readAppended returns the documents indexed with a score above after and the
// highest score read. Scores are append stamps in microseconds, exact in a float64.
func (s *RedisStore) readAppended(ctx context.Context, collection string, after float64) ([]contract.DocumentSnapshot, float64, error) {
	lower := "-inf"
	if !math.IsInf(after, -1) {
		lower = "(" + strconv.FormatFloat(after, 'f', -1, 64)
	}
	entries, err := s.client.ZRangeByScoreWithScores(ctx, s.indexKey(collection), &redis.ZRangeBy{Min: lower, Max: "+inf"}).Result()
	if err != nil || len(entries) == 0 {
		return nil, after, err
	}
	keys := make([]string, 0, len(entries))
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		id, ok := entry.Member.(string)
		if !ok {
			return nil, after, fmt.Errorf("%w: index member of %s", errors.ErrMalformedValue, collection)
		}
		ids = append(ids, id)
		keys = append(keys, s.docKey(collection+"/"+id))
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, after, err
	}
	var docs []contract.DocumentSnapshot
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		data, err := decodeJSON([]byte(raw))
		if err != nil {
			return nil, after, err
		}
		docs = append(docs, contract.DocumentSnapshot{
			Path:   collection + "/" + ids[i],
			ID:     ids[i],
			Exists: true,
			Fields: decodeFields(data),
		})
	}
	return docs, entries[len(entries)-1].Score, nil
}

// redisWatch subscribes to the change channel of path before the first read,
// so no write between the read and the subscription can be missed.
func redisWatch[T any](ctx context.Context, s *RedisStore, path string,
	read func(context.Context) (T, error), onNext func(T), onError func(error)) (contract.Unsubscribe, error) {
	watchCtx, cancel := context.WithCancelCause(ctx)
	w, err := s.hub.register(path, cancel)
	if err != nil {
		cancel(nil)
		return nil, err
	}
	pubsub := s.client.Subscribe(watchCtx, s.channel(path))
	if _, err := pubsub.Receive(watchCtx); err != nil {
		_ = pubsub.Close()
		s.hub.unregister(w)
		cancel(nil)
		return nil, err
	}

	go func() {
		messages := pubsub.Channel()
		for {
			select {
			case <-watchCtx.Done():
				return
			case _, ok := <-messages:
				if !ok {
					return
				}
				w.signal()
			}
		}
	}()
	go func() {
		defer s.hub.unregister(w)
		defer func() { _ = pubsub.Close() }()
		watchLoop(watchCtx, w.changed, read, onNext, onError)
	}()
	return func() { cancel(nil) }, nil
}

func (s *RedisStore) ActiveWatchers(path string) int {
	return s.hub.count(cleanPath(path))
}

// Close stops every watch with ErrStoreClosed and closes the Redis client.
func (s *RedisStore) Close() error {
	s.hub.close()
	return s.client.Close()
}
