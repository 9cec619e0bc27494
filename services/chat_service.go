package services

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"context"
)

// IChatService is the surface consumed by the rendering layer.
type IChatService interface {
	JoinRoom(ctx context.Context, roomID domain.RoomID, uid, displayName string) error
	LeaveRoom(ctx context.Context, roomID domain.RoomID, uid, displayName string) error
	SubscribeMembers(ctx context.Context, roomID domain.RoomID,
		onUpdate func([]domain.Member), onError func(error)) (contract.Unsubscribe, error)
	SubscribeMessages(ctx context.Context, roomID domain.RoomID,
		onEvent func(domain.Message), onError func(error)) (contract.Unsubscribe, error)
	SendMessage(ctx context.Context, roomID domain.RoomID, text, senderID, senderName string) error
	CreateRoom(ctx context.Context, name, uid, displayName string) (domain.RoomID, error)
}

type ChatService struct {
	presence contract.IPresenceManager
	stream   contract.IMessageStream
	rooms    *RoomService
}

func NewChatService(presence contract.IPresenceManager, stream contract.IMessageStream, rooms *RoomService) *ChatService {
	return &ChatService{presence: presence, stream: stream, rooms: rooms}
}

func (s *ChatService) JoinRoom(ctx context.Context, roomID domain.RoomID, uid, displayName string) error {
	return s.presence.Join(ctx, roomID, domain.NewMember(uid, displayName))
}

func (s *ChatService) LeaveRoom(ctx context.Context, roomID domain.RoomID, uid, displayName string) error {
	return s.presence.Leave(ctx, roomID, domain.NewMember(uid, displayName))
}

func (s *ChatService) SubscribeMembers(ctx context.Context, roomID domain.RoomID,
	onUpdate func([]domain.Member), onError func(error)) (contract.Unsubscribe, error) {
	return s.presence.SubscribeMembers(ctx, roomID, onUpdate, onError)
}

func (s *ChatService) SubscribeMessages(ctx context.Context, roomID domain.RoomID,
	onEvent func(domain.Message), onError func(error)) (contract.Unsubscribe, error) {
	return s.stream.Subscribe(ctx, roomID, onEvent, onError)
}

func (s *ChatService) SendMessage(ctx context.Context, roomID domain.RoomID, text, senderID, senderName string) error {
	return s.stream.Send(ctx, roomID, text, senderID, senderName)
}

func (s *ChatService) CreateRoom(ctx context.Context, name, uid, displayName string) (domain.RoomID, error) {
	return s.rooms.CreateRoom(ctx, name, domain.NewMember(uid, displayName))
}
