// Package event defines what a session forwards to its consumer.
// Membership and message events are ordered within their own target only.
package event

import (
	"chat-sync/domain"
)

type DomainEvent interface {
	RoomID() domain.RoomID
}

// MembersChanged carries the full member set after a room document change.
type MembersChanged struct {
	Room    domain.RoomID
	Members []domain.Member
}

func (e MembersChanged) RoomID() domain.RoomID { return e.Room }

// MessageReceived carries one message, history first then live appends.
type MessageReceived struct {
	Room    domain.RoomID
	Message domain.Message
}

func (e MessageReceived) RoomID() domain.RoomID { return e.Room }

// RoomMissing is emitted when the observed room document does not exist.
// The membership subscription stays open.
type RoomMissing struct {
	Room domain.RoomID
}

func (e RoomMissing) RoomID() domain.RoomID { return e.Room }

// SubscriptionFailed is emitted once when a stream terminates abnormally.
// The stream is not reopened automatically.
type SubscriptionFailed struct {
	Room   domain.RoomID
	Target domain.SubscriptionTarget
	Err    error
}

func (e SubscriptionFailed) RoomID() domain.RoomID { return e.Room }

type StateChanged struct {
	Room  domain.RoomID
	From  domain.SessionState
	To    domain.SessionState
	Actor domain.Member
}

func (e StateChanged) RoomID() domain.RoomID { return e.Room }
