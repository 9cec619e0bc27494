package e2e

import (
	"chat-sync/auth"
	"chat-sync/domain"
	"chat-sync/domain/event"
	"chat-sync/projection"
	"chat-sync/repositories"
	"chat-sync/runtime"
	"chat-sync/services"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/suite"
)

const secret = "e2e-secret"

// BaseRedisSuite runs scenarios where every client owns its own Redis connection,
// as separate processes sharing one store would.
type BaseRedisSuite struct {
	suite.Suite
	Config Config
	wait   time.Duration
	prefix string
	tokens auth.Tokens
}

// SetupSuite loads the environment configuration before running tests
func (s *BaseRedisSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if s.Config.RedisURL == "" {
		s.T().Skip("REDIS_URL not set")
	}
	s.wait, err = time.ParseDuration(s.Config.Wait)
	s.Require().NoError(err)
	s.tokens = auth.NewTokens(secret, time.Hour)
}

// SetupTest isolates every scenario under its own key prefix
func (s *BaseRedisSuite) SetupTest() {
	s.prefix = "e2e:" + uuid.NewString() + ":"
}

// Step prints a colorized header for a scenario step
func (s *BaseRedisSuite) Step(name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)
}

// Client is one simulated participant process.
type Client struct {
	Store    *repositories.RedisStore
	Chat     *services.ChatService
	Session  *runtime.Session
	Timeline *projection.Timeline
	Events   chan event.DomainEvent
}

type channelSink struct {
	timeline *projection.Timeline
	events   chan event.DomainEvent
}

func (c channelSink) Consume(ctx context.Context, e event.DomainEvent) error {
	if err := c.timeline.Consume(ctx, e); err != nil {
		return err
	}
	select {
	case c.events <- e:
	default:
	}
	return nil
}

// NewClient connects a participant with its own store connection.
func (s *BaseRedisSuite) NewClient(uid, name string) *Client {
	log := logs.GetLoggerFromLevel(slog.LevelDebug).With("client", uid)
	store, err := repositories.NewRedisStore(context.Background(), s.Config.RedisURL, s.prefix, log)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = store.Close() })

	token, err := s.tokens.Generate(uid, name)
	s.Require().NoError(err)

	presence := services.NewPresenceManager(store, log, nil)
	stream := services.NewMessageStream(store, log, nil)
	rooms := services.NewRoomService(store, log, 8)
	timeline := projection.NewTimeline(uid, nil)
	events := make(chan event.DomainEvent, 256)
	session := runtime.NewSession(runtime.SessionDeps{
		Identity: auth.NewTokenIdentityProvider(s.tokens),
		Users:    services.NewUserService(store, log),
		Presence: presence,
		Messages: stream,
		Sink:     channelSink{timeline: timeline, events: events},
		Log:      log,
	}, domain.AuthSession{Token: token})
	return &Client{
		Store:    store,
		Chat:     services.NewChatService(presence, stream, rooms),
		Session:  session,
		Timeline: timeline,
		Events:   events,
	}
}

// EventuallyMembers waits until the client sees exactly the given uids.
func (s *BaseRedisSuite) EventuallyMembers(c *Client, uids ...string) {
	s.Require().Eventually(func() bool {
		members := c.Timeline.Members()
		if len(members) != len(uids) {
			return false
		}
		for i, m := range members {
			if m.UID != uids[i] {
				return false
			}
		}
		return true
	}, s.wait, 10*time.Millisecond, "members %v", uids)
}

// EventuallyTexts waits until the client timeline holds exactly texts, in order.
func (s *BaseRedisSuite) EventuallyTexts(c *Client, texts ...string) {
	s.Require().Eventually(func() bool {
		messages := c.Timeline.Messages()
		if len(messages) != len(texts) {
			return false
		}
		for i, m := range messages {
			if m.Text != texts[i] {
				return false
			}
		}
		return true
	}, s.wait, 10*time.Millisecond, "messages %v", texts)
}
