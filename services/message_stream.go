package services

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/observability"
	"context"
	"iter"
	"log/slog"
	"sync"
	"time"
)

// Ensure *MessageStream implements the contract.IMessageStream interface at compile time.
var _ contract.IMessageStream = (*MessageStream)(nil)

// MessageStream appends messages to rooms/{roomId}/messages and replays them in
// store order. The timestamp of a message is always assigned by the store.
type MessageStream struct {
	store   contract.DocumentStore
	log     *slog.Logger
	metrics *observability.Metrics
}

func NewMessageStream(store contract.DocumentStore, log *slog.Logger, metrics *observability.Metrics) *MessageStream {
	return &MessageStream{store: store, log: log, metrics: metrics}
}

// Send appends one message. Blank text or missing identifiers are rejected
// before anything is written. A failed write is returned as is, never retried.
func (m *MessageStream) Send(ctx context.Context, roomID domain.RoomID, text, senderID, senderName string) error {
	cmd := domain.SendMessageCommand{Room: roomID, Text: text, SenderID: senderID, SenderName: senderName}
	if err := cmd.Validate(); err != nil {
		m.metrics.MessageSent("invalid")
		return err
	}

	start := time.Now()
	id, err := m.store.Add(ctx, messagesPath(roomID), contract.Fields{
		fieldText:       cmd.Text,
		fieldSenderID:   cmd.SenderID,
		fieldSenderName: cmd.SenderName,
		fieldTimestamp:  contract.ServerTimestamp,
	})
	m.metrics.ObserveStore("add", time.Since(start).Seconds())
	if err != nil {
		m.metrics.MessageSent("error")
		return storeFailure(err, "send to room %s", roomID)
	}
	m.log.Debug("Message sent", "room", roomID, "id", id, "sender", senderID)
	m.metrics.MessageSent("ok")
	return nil
}

// Subscribe replays the whole history of the room, then every new message.
// Each message id is delivered at most once per subscription, in store order.
func (m *MessageStream) Subscribe(ctx context.Context, roomID domain.RoomID,
	onEvent func(domain.Message), onError func(error)) (contract.Unsubscribe, error) {
	if err := roomID.Validate(); err != nil {
		return nil, err
	}
	target := string(domain.TargetMessages)

	// snapshots of one watch are delivered serially, seen needs no lock
	seen := make(map[string]struct{})
	unsubscribe, err := m.store.WatchCollection(ctx, messagesPath(roomID),
		func(snapshot contract.QuerySnapshot) {
			for _, doc := range snapshot.Added {
				if _, ok := seen[doc.ID]; ok {
					continue
				}
				seen[doc.ID] = struct{}{}
				m.metrics.MessageReceived()
				onEvent(messageFromSnapshot(doc))
			}
		},
		func(err error) {
			m.log.Warn("Messages subscription ended", "room", roomID, "error", err)
			m.metrics.SubscriptionFailed(target)
			report(onError, subscriptionFailure(err, "messages of room %s", roomID))
		})
	if err != nil {
		return nil, subscriptionFailure(err, "messages of room %s", roomID)
	}

	m.metrics.SubscriptionOpened(target)
	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			m.metrics.SubscriptionClosed(target)
		})
	}, nil
}

// Messages is Subscribe as an iterator. Every range over it opens a fresh
// subscription, so it starts again from the first message of the room.
// Leaving the loop unsubscribes. A SubscriptionError is yielded once and ends it.
func (m *MessageStream) Messages(ctx context.Context, roomID domain.RoomID) iter.Seq2[domain.Message, error] {
	return func(yield func(domain.Message, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		type item struct {
			msg domain.Message
			err error
		}
		items := make(chan item)
		push := func(it item) {
			select {
			case items <- it:
			case <-ctx.Done():
			}
		}

		unsubscribe, err := m.Subscribe(ctx, roomID,
			func(msg domain.Message) { push(item{msg: msg}) },
			func(err error) { push(item{err: err}) })
		if err != nil {
			yield(domain.Message{}, err)
			return
		}
		defer unsubscribe()

		for {
			select {
			case <-ctx.Done():
				return
			case it := <-items:
				if !yield(it.msg, it.err) || it.err != nil {
					return
				}
			}
		}
	}
}
