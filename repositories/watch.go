package repositories

import (
	"chat-sync/contract"
	"chat-sync/errors"
	"context"
	"sync"
)

// watcher is one live WatchDocument/WatchCollection registration.
// changed holds at most one pending signal: snapshots are full states,
// so several changes observed before a read collapse into one delivery.
type watcher struct {
	id      uint64
	path    string
	changed chan struct{}
	cancel  context.CancelCauseFunc
}

func (w *watcher) signal() {
	select {
	case w.changed <- struct{}{}:
	default:
	}
}

// watchHub maps watched paths to their watchers.
// It is safe for concurrent use by multiple goroutines.
type watchHub struct {
	mu       sync.RWMutex
	nextID   uint64
	closed   bool
	watchers map[string]map[uint64]*watcher
}

func newWatchHub() *watchHub {
	return &watchHub{watchers: make(map[string]map[uint64]*watcher)}
}

// register adds a watcher on path. It fails once the hub is closed.
func (h *watchHub) register(path string, cancel context.CancelCauseFunc) (*watcher, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errors.ErrStoreClosed
	}
	h.nextID++
	w := &watcher{id: h.nextID, path: path, changed: make(chan struct{}, 1), cancel: cancel}
	if _, ok := h.watchers[path]; !ok {
		h.watchers[path] = make(map[uint64]*watcher)
	}
	h.watchers[path][w.id] = w
	return w, nil
}

// unregister removes the watcher and drops empty path entries.
func (h *watchHub) unregister(w *watcher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.watchers[w.path]; ok {
		delete(set, w.id)
		if len(set) == 0 {
			delete(h.watchers, w.path)
		}
	}
}

// notify signals every watcher of the given paths without blocking.
func (h *watchHub) notify(paths ...string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, path := range paths {
		for _, w := range h.watchers[path] {
			w.signal()
		}
	}
}

// close stops every watcher with ErrStoreClosed as the cause.
func (h *watchHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, set := range h.watchers {
		for _, w := range set {
			w.cancel(errors.ErrStoreClosed)
		}
	}
	h.watchers = make(map[string]map[uint64]*watcher)
}

func (h *watchHub) count(path string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watchers[path])
}

// watchLoop delivers a first snapshot, then a fresh one after every change signal.
// It returns when ctx ends or after reporting a single error. Cancellation is silent
// unless its cause is ErrStoreClosed.
func watchLoop[T any](ctx context.Context, changed <-chan struct{},
	read func(ctx context.Context) (T, error), onNext func(T), onError func(error)) {
	fail := func(err error) {
		if onError != nil {
			onError(err)
		}
	}
	stopped := func() bool {
		if ctx.Err() == nil {
			return false
		}
		if cause := context.Cause(ctx); errors.Is(cause, errors.ErrStoreClosed) {
			fail(cause)
		}
		return true
	}
	deliver := func() bool {
		snapshot, err := read(ctx)
		if stopped() {
			return false
		}
		if err != nil {
			fail(err)
			return false
		}
		onNext(snapshot)
		return true
	}

	if !deliver() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			stopped()
			return
		case <-changed:
			if !deliver() {
				return
			}
		}
	}
}

// collectionView accumulates the documents seen by one collection watch,
// so that a change only costs the read of what was appended.
type collectionView struct {
	path string
	docs []contract.DocumentSnapshot
}

func (v *collectionView) advance(added []contract.DocumentSnapshot) contract.QuerySnapshot {
	v.docs = append(v.docs, added...)
	n := len(v.docs)
	return contract.QuerySnapshot{Path: v.path, Docs: v.docs[:n:n], Added: added}
}
