package runtime

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/domain/event"
	"chat-sync/errors"
	"chat-sync/observability"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const defaultLeaveTimeout = 5 * time.Second

// SessionDeps are the collaborators of a Session.
type SessionDeps struct {
	Identity contract.IdentityProvider
	Users    contract.IUserDirectory
	Presence contract.IPresenceManager
	Messages contract.IMessageStream
	Sink     contract.EventSink
	Log      *slog.Logger
	Metrics  *observability.Metrics
	// LeaveTimeout bounds the leave issued by Abandon
	LeaveTimeout time.Duration
}

type subscription struct {
	gen         uint64
	unsubscribe contract.Unsubscribe
	active      bool
}

// Session is one participant's presence in one room:
// identity resolution, join, one members and one messages subscription, leave.
//
// All lifecycle state sits behind mu. Store calls are never made while holding it,
// so a Start in flight does not block State, Stop or the subscription callbacks.
type Session struct {
	deps SessionDeps
	auth domain.AuthSession

	mu            sync.Mutex
	state         domain.SessionState
	room          domain.RoomID
	member        domain.Member
	subs          map[domain.SubscriptionTarget]*subscription
	nextGen       uint64
	stopRequested bool
	runCtx        context.Context
	cancelRun     context.CancelFunc
}

func NewSession(deps SessionDeps, auth domain.AuthSession) *Session {
	if deps.LeaveTimeout <= 0 {
		deps.LeaveTimeout = defaultLeaveTimeout
	}
	return &Session{
		deps:  deps,
		auth:  auth,
		state: domain.StateInit,
		subs:  make(map[domain.SubscriptionTarget]*subscription),
	}
}

func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Member is the resolved participant, zero before the first identity resolution.
func (s *Session) Member() domain.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.member
}

func (s *Session) Room() domain.RoomID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// Subscriptions lists the subscriptions held by the session, ordered by target.
func (s *Session) Subscriptions() []domain.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]domain.Subscription, 0, len(s.subs))
	for target, sub := range s.subs {
		res = append(res, domain.Subscription{Target: target, Room: s.room, Active: sub.active})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Target < res[j].Target })
	return res
}

// Start joins roomID and opens both subscriptions.
// Only the first of concurrent or repeated calls runs the sequence, the others
// return nil at once. Naming another room while busy is a validation error.
func (s *Session) Start(ctx context.Context, roomID domain.RoomID) error {
	if err := roomID.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state.Busy() || s.state == domain.StateLeaving {
		room, leaving := s.room, s.state == domain.StateLeaving
		s.mu.Unlock()
		if room != roomID || leaving {
			return fmt.Errorf("%w: %w: room %s", errors.ErrValidation, errors.ErrSessionBound, room)
		}
		return nil
	}
	previous := s.state
	s.room = roomID
	s.stopRequested = false
	s.runCtx, s.cancelRun = context.WithCancel(context.WithoutCancel(ctx))
	changed := s.transition(domain.StateResolvingIdentity)
	s.mu.Unlock()
	s.emit(changed)

	member, err := s.resolveMember(ctx)
	if err != nil {
		s.abort(previous)
		return err
	}

	s.mu.Lock()
	s.member = member
	if s.stopRequested {
		changed = s.transition(domain.StateLeft)
		s.cancelRun()
		s.mu.Unlock()
		s.emit(changed)
		return nil
	}
	changed = s.transition(domain.StateJoining)
	s.mu.Unlock()
	s.emit(changed)

	if err := s.deps.Presence.Join(ctx, roomID, member); err != nil {
		s.abort(previous)
		return err
	}

	for _, target := range []domain.SubscriptionTarget{domain.TargetMembers, domain.TargetMessages} {
		if err := s.open(target); err != nil {
			s.closeSubscriptions()
			_ = s.leave(ctx)
			s.abort(previous)
			return err
		}
	}

	s.mu.Lock()
	changed = s.transition(domain.StateActive)
	stop := s.stopRequested
	s.mu.Unlock()
	s.emit(changed)
	s.deps.Log.Info("Session active", "room", roomID, "uid", member.UID)

	if stop {
		return s.Stop(ctx)
	}
	return nil
}

// Stop closes both subscriptions and leaves the room, once.
// A Stop arriving while Start is still running is applied when Start completes.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case domain.StateResolvingIdentity, domain.StateJoining:
		s.stopRequested = true
		s.mu.Unlock()
		return nil
	case domain.StateActive:
	default:
		s.mu.Unlock()
		return nil
	}
	changed := s.transition(domain.StateLeaving)
	s.mu.Unlock()
	s.emit(changed)

	s.closeSubscriptions()
	err := s.leave(ctx)

	s.mu.Lock()
	changed = s.transition(domain.StateLeft)
	s.cancelRun()
	s.mu.Unlock()
	s.emit(changed)
	return err
}

// Abandon is the teardown hook for abrupt termination. It returns at once;
// the leave is attempted in the background and may never complete.
func (s *Session) Abandon() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.deps.LeaveTimeout)
		defer cancel()
		if err := s.Stop(ctx); err != nil {
			s.deps.Log.Warn("Abandoned session did not leave", "error", err)
		}
	}()
}

// Resubscribe reopens target after its stream ended with a SubscriptionError.
// It is a no-op when target is still active.
func (s *Session) Resubscribe(ctx context.Context, target domain.SubscriptionTarget) error {
	if target != domain.TargetMembers && target != domain.TargetMessages {
		return fmt.Errorf("%w: unknown subscription target %q", errors.ErrValidation, target)
	}
	s.mu.Lock()
	if s.state != domain.StateActive {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: session is %s", errors.ErrValidation, state)
	}
	if sub, ok := s.subs[target]; ok && sub.active {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.deps.Log.Info("Resubscribing", "room", s.Room(), "target", target)
	return s.open(target)
}

// Send appends text to the session room as the resolved member.
func (s *Session) Send(ctx context.Context, text string) error {
	s.mu.Lock()
	state, room, member := s.state, s.room, s.member
	s.mu.Unlock()
	if state != domain.StateActive {
		return fmt.Errorf("%w: session is %s", errors.ErrValidation, state)
	}
	return s.deps.Messages.Send(ctx, room, text, member.UID, member.DisplayName)
}

func (s *Session) resolveMember(ctx context.Context) (domain.Member, error) {
	identity, err := s.deps.Identity.Resolve(ctx, s.auth)
	if err != nil {
		return domain.Member{}, err
	}
	return s.deps.Users.ResolveMember(ctx, identity)
}

// open starts the subscription of target and installs its handle.
// A handle opened once the session is already leaving is released at once.
func (s *Session) open(target domain.SubscriptionTarget) error {
	s.mu.Lock()
	s.nextGen++
	gen := s.nextGen
	room := s.room
	ctx := s.runCtx
	s.mu.Unlock()

	onError := func(err error) { s.subscriptionError(target, gen, err) }
	var unsubscribe contract.Unsubscribe
	var err error
	switch target {
	case domain.TargetMembers:
		unsubscribe, err = s.deps.Presence.SubscribeMembers(ctx, room, func(members []domain.Member) {
			s.emit(event.MembersChanged{Room: room, Members: members})
		}, onError)
	case domain.TargetMessages:
		unsubscribe, err = s.deps.Messages.Subscribe(ctx, room, func(msg domain.Message) {
			s.emit(event.MessageReceived{Room: room, Message: msg})
		}, onError)
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != domain.StateJoining && s.state != domain.StateActive {
		s.mu.Unlock()
		unsubscribe()
		return nil
	}
	previous := s.subs[target]
	s.subs[target] = &subscription{gen: gen, unsubscribe: unsubscribe, active: true}
	s.mu.Unlock()

	if previous != nil {
		previous.unsubscribe()
	}
	return nil
}

func (s *Session) subscriptionError(target domain.SubscriptionTarget, gen uint64, err error) {
	room := s.Room()
	if errors.Is(err, errors.ErrNotFound) {
		s.emit(event.RoomMissing{Room: room})
		return
	}

	s.mu.Lock()
	sub, ok := s.subs[target]
	current := ok && sub.gen == gen && sub.active
	if current {
		sub.active = false
	}
	s.mu.Unlock()
	if !current {
		return
	}
	s.deps.Log.Warn("Subscription failed", "room", room, "target", target, "error", err)
	s.emit(event.SubscriptionFailed{Room: room, Target: target, Err: err})
}

// closeSubscriptions releases every handle exactly once.
func (s *Session) closeSubscriptions() {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[domain.SubscriptionTarget]*subscription)
	s.mu.Unlock()
	for _, sub := range subs {
		sub.unsubscribe()
	}
}

func (s *Session) leave(ctx context.Context) error {
	s.mu.Lock()
	room, member := s.room, s.member
	s.mu.Unlock()
	err := s.deps.Presence.Leave(ctx, room, member)
	if err != nil {
		s.deps.Log.Warn("Unable to leave room", "room", room, "uid", member.UID, "error", err)
	}
	return err
}

// abort puts a failed Start back into the state it started from.
func (s *Session) abort(previous domain.SessionState) {
	s.mu.Lock()
	changed := s.transition(previous)
	s.cancelRun()
	s.mu.Unlock()
	s.emit(changed)
}

// transition must be called with mu held.
func (s *Session) transition(to domain.SessionState) event.StateChanged {
	changed := event.StateChanged{Room: s.room, From: s.state, To: to, Actor: s.member}
	s.state = to
	s.deps.Metrics.SessionTransition(to.String())
	return changed
}

func (s *Session) emit(e event.DomainEvent) {
	if s.deps.Sink == nil {
		return
	}
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.deps.Sink.Consume(ctx, e); err != nil {
		s.deps.Log.Debug("Event not consumed", "event", fmt.Sprintf("%T", e), "error", err)
	}
}
