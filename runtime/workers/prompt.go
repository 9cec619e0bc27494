package workers

import (
	"bufio"
	"chat-sync/domain"
	"chat-sync/sink"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

const (
	commandWho    = "/who"
	commandRetry  = "/retry"
	commandQuit   = "/quit"
	commandPrefix = "/"
)

type promptSession interface {
	Send(ctx context.Context, text string) error
	Resubscribe(ctx context.Context, target domain.SubscriptionTarget) error
	Member() domain.Member
}

type memberSource interface {
	Members() []domain.Member
}

// PromptWorker turns input lines into messages of the session room.
// Lines starting with "/" are commands: /who lists the members, /retry reopens
// failed streams and /quit ends the session.
type PromptWorker struct {
	log     *slog.Logger
	in      io.Reader
	out     io.Writer
	session promptSession
	members memberSource
	onQuit  func()
	lines   chan string
}

func NewPromptWorker(log *slog.Logger, in io.Reader, out io.Writer,
	session promptSession, members memberSource, onQuit func()) *PromptWorker {
	return &PromptWorker{log: log, in: in, out: out, session: session, members: members, onQuit: onQuit}
}

// Run returns nil on /quit or at the end of the input.
// The reader goroutine is started once and survives a restart of the worker.
func (w *PromptWorker) Run(ctx context.Context) error {
	if w.lines == nil {
		w.lines = make(chan string)
		go w.read()
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-w.lines:
			if !ok {
				w.log.Debug("Input closed")
				w.quit()
				return nil
			}
			if done := w.handle(ctx, strings.TrimSpace(line)); done {
				return nil
			}
		}
	}
}

func (w *PromptWorker) read() {
	defer close(w.lines)
	scanner := bufio.NewScanner(w.in)
	for scanner.Scan() {
		w.lines <- scanner.Text()
	}
	if err := scanner.Err(); err != nil {
		w.log.Warn("Unable to read input", "error", err)
	}
}

func (w *PromptWorker) handle(ctx context.Context, line string) bool {
	switch {
	case line == "":
		return false
	case line == commandQuit:
		w.quit()
		return true
	case line == commandWho:
		sink.WriteMembers(w.out, w.members.Members(), w.session.Member().UID)
	case line == commandRetry:
		for _, target := range []domain.SubscriptionTarget{domain.TargetMembers, domain.TargetMessages} {
			if err := w.session.Resubscribe(ctx, target); err != nil {
				fmt.Fprintf(w.out, "! unable to reopen %s: %v\n", target, err)
			}
		}
	case strings.HasPrefix(line, commandPrefix):
		fmt.Fprintf(w.out, "! unknown command %s (%s, %s, %s)\n", line, commandWho, commandRetry, commandQuit)
	default:
		if err := w.session.Send(ctx, line); err != nil {
			fmt.Fprintf(w.out, "! not sent: %v\n", err)
		}
	}
	return false
}

func (w *PromptWorker) quit() {
	if w.onQuit != nil {
		w.onQuit()
	}
}
