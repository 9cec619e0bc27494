package services

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/errors"
	"chat-sync/observability"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Ensure *PresenceManager implements the contract.IPresenceManager interface at compile time.
var _ contract.IPresenceManager = (*PresenceManager)(nil)

// PresenceManager owns the member array of room documents.
// Members are only ever added and removed with the store's atomic array
// operations, never by rewriting the whole array.
type PresenceManager struct {
	store   contract.DocumentStore
	log     *slog.Logger
	metrics *observability.Metrics
}

func NewPresenceManager(store contract.DocumentStore, log *slog.Logger, metrics *observability.Metrics) *PresenceManager {
	return &PresenceManager{store: store, log: log, metrics: metrics}
}

// Join admits member into the room. A member already present with the same
// (uid, display name) is left untouched. Entries of the same uid under an older
// display name are removed after the add, so a renamed participant never shows twice.
func (p *PresenceManager) Join(ctx context.Context, roomID domain.RoomID, member domain.Member) error {
	if err := roomID.Validate(); err != nil {
		return err
	}
	if err := member.Validate(); err != nil {
		return err
	}
	path := roomPath(roomID)

	snapshot, err := p.store.Get(ctx, path)
	if err != nil {
		p.metrics.MembershipOp("join", "error")
		return storeFailure(err, "read room %s", roomID)
	}
	if !snapshot.Exists {
		p.metrics.MembershipOp("join", "error")
		return fmt.Errorf("%w: room %s", errors.ErrNotFound, roomID)
	}
	members := membersFromFields(snapshot.Fields)
	stale := domain.StaleEntries(members, member)

	if domain.ContainsMember(members, member) && len(stale) == 0 {
		p.log.Debug("Member already in room", "room", roomID, "uid", member.UID)
		p.metrics.MembershipOp("join", "noop")
		return nil
	}

	start := time.Now()
	err = p.store.ArrayUnion(ctx, path, fieldMembers, memberValue(member))
	p.metrics.ObserveStore("array_union", time.Since(start).Seconds())
	if err != nil {
		p.metrics.MembershipOp("join", "error")
		return storeFailure(err, "join room %s", roomID)
	}

	if len(stale) > 0 {
		if err := p.store.ArrayRemove(ctx, path, fieldMembers, memberValues(stale)...); err != nil {
			p.log.Warn("Unable to remove stale member entries", "room", roomID, "uid", member.UID, "error", err)
		}
	}
	p.log.Info("Member joined", "room", roomID, "uid", member.UID, "name", member.DisplayName)
	p.metrics.MembershipOp("join", "written")
	return nil
}

// Leave removes the exact (uid, display name) entry. An absent member is a success,
// a missing room is a NotFound error.
func (p *PresenceManager) Leave(ctx context.Context, roomID domain.RoomID, member domain.Member) error {
	if err := roomID.Validate(); err != nil {
		return err
	}
	if err := member.Validate(); err != nil {
		return err
	}

	start := time.Now()
	err := p.store.ArrayRemove(ctx, roomPath(roomID), fieldMembers, memberValue(member))
	p.metrics.ObserveStore("array_remove", time.Since(start).Seconds())
	if err != nil {
		p.metrics.MembershipOp("leave", "error")
		return storeFailure(err, "leave room %s", roomID)
	}
	p.log.Info("Member left", "room", roomID, "uid", member.UID)
	p.metrics.MembershipOp("leave", "written")
	return nil
}

// SubscribeMembers delivers the full member set on every change of the room document.
// A room that does not exist (yet) is reported with a NotFound error and the
// subscription stays open. A store failure ends it with a SubscriptionError.
func (p *PresenceManager) SubscribeMembers(ctx context.Context, roomID domain.RoomID,
	onUpdate func([]domain.Member), onError func(error)) (contract.Unsubscribe, error) {
	if err := roomID.Validate(); err != nil {
		return nil, err
	}
	target := string(domain.TargetMembers)

	unsubscribe, err := p.store.WatchDocument(ctx, roomPath(roomID),
		func(snapshot contract.DocumentSnapshot) {
			if !snapshot.Exists {
				report(onError, fmt.Errorf("%w: room %s", errors.ErrNotFound, roomID))
				return
			}
			onUpdate(membersFromFields(snapshot.Fields))
		},
		func(err error) {
			p.log.Warn("Members subscription ended", "room", roomID, "error", err)
			p.metrics.SubscriptionFailed(target)
			report(onError, subscriptionFailure(err, "members of room %s", roomID))
		})
	if err != nil {
		return nil, subscriptionFailure(err, "members of room %s", roomID)
	}

	p.metrics.SubscriptionOpened(target)
	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			p.metrics.SubscriptionClosed(target)
		})
	}, nil
}
