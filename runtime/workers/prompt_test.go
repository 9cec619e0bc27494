package workers

import (
	"bytes"
	"chat-sync/domain"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu       sync.Mutex
	sent     []string
	reopened []domain.SubscriptionTarget
	sendErr  error
}

func (f *fakeSession) Send(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeSession) Resubscribe(_ context.Context, target domain.SubscriptionTarget) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reopened = append(f.reopened, target)
	return nil
}

func (f *fakeSession) Member() domain.Member { return domain.NewMember("alice", "Alice") }

type fixedMembers []domain.Member

func (m fixedMembers) Members() []domain.Member { return m }

func runPrompt(t *testing.T, input string, session *fakeSession) (string, bool) {
	t.Helper()
	var out bytes.Buffer
	quit := false
	worker := NewPromptWorker(logs.GetLoggerFromLevel(slog.LevelDebug), strings.NewReader(input), &out,
		session, fixedMembers{domain.NewMember("alice", "Alice"), domain.NewMember("bob", "Bob")},
		func() { quit = true })

	done := make(chan error, 1)
	go func() { done <- worker.Run(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		require.Fail(t, "prompt did not return")
	}
	return out.String(), quit
}

func TestPromptWorker_SendsLinesUntilQuit(t *testing.T) {
	req := require.New(t)
	session := &fakeSession{}

	// When three lines are typed, the second blank, then /quit and one more line
	_, quit := runPrompt(t, "hello\n   \nhow are you?\n/quit\nignored\n", session)

	// Then only the non blank lines before /quit are sent
	req.Equal([]string{"hello", "how are you?"}, session.sent)
	req.True(quit)
}

func TestPromptWorker_Commands(t *testing.T) {
	req := require.New(t)
	session := &fakeSession{}

	// When /who, /retry and an unknown command are typed before the input ends
	out, quit := runPrompt(t, "/who\n/retry\n/dance\n", session)

	// Then the member table is printed and both streams are reopened
	req.Contains(out, "Bob")
	req.Contains(out, "(you)")
	req.Contains(out, "unknown command /dance")
	req.Equal([]domain.SubscriptionTarget{domain.TargetMembers, domain.TargetMessages}, session.reopened)
	req.Empty(session.sent)
	// And the end of the input ends the session
	req.True(quit)
}

func TestPromptWorker_SendFailureIsReported(t *testing.T) {
	req := require.New(t)
	session := &fakeSession{sendErr: errors.New("store down")}

	out, _ := runPrompt(t, "hello\n", session)

	req.Contains(out, "not sent: store down")
}

func TestPromptWorker_StopsWithContext(t *testing.T) {
	req := require.New(t)
	reader, writer := io.Pipe()
	defer writer.Close()
	worker := NewPromptWorker(logs.GetLoggerFromLevel(slog.LevelDebug), reader, &bytes.Buffer{},
		&fakeSession{}, fixedMembers{}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	// When the context is canceled while waiting for input
	cancel()

	// Then Run returns
	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(time.Second):
		req.Fail("prompt ignored its context")
	}
}
