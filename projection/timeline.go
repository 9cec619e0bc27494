// Package projection builds local timelines from observed events.
// Handles ordering and deduplication.
// Does not emit events or interact with UI directly.
package projection

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/domain/event"
	"chat-sync/observability"
	"context"
	"slices"
	"sync"

	"github.com/samber/lo"
)

var _ contract.EventSink = (*Timeline)(nil)

// Timeline holds the local view of one room: its current members and every
// message seen once, in delivery order. A message replayed after a
// resubscription is dropped by id.
type Timeline struct {
	Owner   string
	metrics *observability.Metrics

	mu       sync.RWMutex
	seen     map[string]struct{}
	messages []domain.Message
	members  []domain.Member
}

func NewTimeline(owner string, metrics *observability.Metrics) *Timeline {
	return &Timeline{
		Owner:   owner,
		metrics: metrics,
		seen:    make(map[string]struct{}),
	}
}

func (t *Timeline) Consume(_ context.Context, e event.DomainEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch evt := e.(type) {
	case event.MessageReceived:
		if _, ok := t.seen[evt.Message.ID]; ok {
			t.metrics.DuplicateDropped()
			return nil
		}
		t.seen[evt.Message.ID] = struct{}{}
		t.messages = append(t.messages, evt.Message)
	case event.MembersChanged:
		t.members = domain.UniqueMembers(evt.Members)
	case event.RoomMissing:
		t.members = nil
	}
	return nil
}

// Messages returns a copy of the timeline.
func (t *Timeline) Messages() []domain.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.messages)
}

func (t *Timeline) Members() []domain.Member {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.members)
}

// Own returns the messages sent by the timeline owner.
func (t *Timeline) Own() []domain.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return lo.Filter(t.messages, func(m domain.Message, _ int) bool { return m.IsFrom(t.Owner) })
}
