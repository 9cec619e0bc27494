package runtime

import (
	"chat-sync/domain"
	"context"
	stderrors "errors"
	"sync"
)

type Set map[string]struct{}

// Registry tracks the live sessions of the process so that shutdown can
// reach every one of them.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session  // map session key -> Session
	rooms    map[domain.RoomID]Set // map room to session keys
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		rooms:    make(map[domain.RoomID]Set),
	}
}

// Register stores session under key for roomID, replacing any session under the same key.
func (r *Registry) Register(key string, roomID domain.RoomID, session *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[key] = session
	if _, ok := r.rooms[roomID]; !ok {
		r.rooms[roomID] = make(Set)
	}
	r.rooms[roomID][key] = struct{}{}
}

// Unregister removes the session and drops the room entry once empty.
func (r *Registry) Unregister(key string, roomID domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, key)
	if keys, ok := r.rooms[roomID]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(r.rooms, roomID)
		}
	}
}

// SessionsForRoom returns the sessions registered for roomID, nil when none.
func (r *Registry) SessionsForRoom(roomID domain.RoomID) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	var res []*Session
	for key := range keys {
		if session, exists := r.sessions[key]; exists {
			res = append(res, session)
		}
	}
	return res
}

func (r *Registry) all() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		res = append(res, session)
	}
	return res
}

// StopAll stops every session concurrently and joins their errors.
func (r *Registry) StopAll(ctx context.Context) error {
	sessions := r.all()
	errs := make([]error, len(sessions))
	var wg sync.WaitGroup
	for i, session := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = session.Stop(ctx)
		}()
	}
	wg.Wait()
	return stderrors.Join(errs...)
}

// AbandonAll fires the best-effort teardown of every session without waiting.
func (r *Registry) AbandonAll() {
	for _, session := range r.all() {
		session.Abandon()
	}
}
