package services

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/errors"
	"fmt"
	"time"

	"github.com/samber/lo"
)

// Document layout:
//
//	users/{uid}                      {uid, username}
//	rooms/{roomId}                   {name, createdBy, createdAt, members: [{uid, username}]}
//	rooms/{roomId}/messages/{msgId}  {text, senderId, senderName, timestamp}
const (
	fieldMembers    = "members"
	fieldUID        = "uid"
	fieldUsername   = "username"
	fieldName       = "name"
	fieldCreatedBy  = "createdBy"
	fieldCreatedAt  = "createdAt"
	fieldText       = "text"
	fieldSenderID   = "senderId"
	fieldSenderName = "senderName"
	fieldTimestamp  = "timestamp"
)

func roomPath(id domain.RoomID) string {
	return "rooms/" + id.String()
}

func messagesPath(id domain.RoomID) string {
	return roomPath(id) + "/messages"
}

func userPath(uid string) string {
	return "users/" + uid
}

func memberValue(m domain.Member) map[string]any {
	return map[string]any{fieldUID: m.UID, fieldUsername: m.DisplayName}
}

func memberValues(members []domain.Member) []any {
	return lo.Map(members, func(m domain.Member, _ int) any { return memberValue(m) })
}

// membersFromFields reads the member array of a room document, skipping malformed entries.
func membersFromFields(fields contract.Fields) []domain.Member {
	raw, _ := fields[fieldMembers].([]any)
	return lo.FilterMap(raw, func(item any, _ int) (domain.Member, bool) {
		entry, ok := item.(map[string]any)
		if !ok {
			return domain.Member{}, false
		}
		uid, _ := entry[fieldUID].(string)
		name, _ := entry[fieldUsername].(string)
		return domain.NewMember(uid, name), uid != ""
	})
}

func roomFromSnapshot(snapshot contract.DocumentSnapshot) domain.Room {
	name, _ := snapshot.Fields[fieldName].(string)
	createdBy, _ := snapshot.Fields[fieldCreatedBy].(string)
	createdAt, _ := snapshot.Fields[fieldCreatedAt].(time.Time)
	return domain.Room{
		ID:        domain.RoomID(snapshot.ID),
		Name:      name,
		CreatedBy: createdBy,
		CreatedAt: createdAt,
		Members:   membersFromFields(snapshot.Fields),
	}
}

func messageFromSnapshot(snapshot contract.DocumentSnapshot) domain.Message {
	text, _ := snapshot.Fields[fieldText].(string)
	senderID, _ := snapshot.Fields[fieldSenderID].(string)
	senderName, _ := snapshot.Fields[fieldSenderName].(string)
	timestamp, _ := snapshot.Fields[fieldTimestamp].(time.Time)
	return domain.Message{
		ID:         snapshot.ID,
		Text:       text,
		SenderID:   senderID,
		SenderName: senderName,
		Timestamp:  timestamp,
	}
}

// storeFailure converts a store error into a kind of the taxonomy.
// A missing document is NotFound, anything else the store rejected is a WriteFailure.
func storeFailure(err error, format string, args ...any) error {
	what := fmt.Sprintf(format, args...)
	if errors.Is(err, errors.ErrDocumentNotFound) {
		return fmt.Errorf("%w: %s: %w", errors.ErrNotFound, what, err)
	}
	return fmt.Errorf("%w: %s: %w", errors.ErrWriteFailure, what, err)
}

func subscriptionFailure(err error, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %w", errors.ErrSubscription, fmt.Sprintf(format, args...), err)
}

func report(onError func(error), err error) {
	if onError != nil {
		onError(err)
	}
}
