package sink

import (
	"chat-sync/contract"
	"chat-sync/domain"
	"chat-sync/domain/event"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

var _ contract.EventSink = (*ConsoleSink)(nil)

// ConsoleSink renders session events for a terminal.
// Messages are rendered relative to the owner: own ones as "you", others under their sender name.
type ConsoleSink struct {
	out     io.Writer
	owner   string
	colours bool
	log     *slog.Logger

	mu sync.Mutex
}

func NewConsoleSink(out io.Writer, owner string, colours bool, log *slog.Logger) *ConsoleSink {
	return &ConsoleSink{out: out, owner: owner, colours: colours, log: log}
}


func (c *ConsoleSink) Consume(_ context.Context, e event.DomainEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var line string
	switch evt := e.(type) {
	case event.MessageReceived:
		line = c.message(evt.Message)
	case event.MembersChanged:
		line = c.paint(fmt.Sprintf("* %d member(s) in room %s", len(evt.Members), evt.Room), color.FgDarkGray)
	case event.RoomMissing:
		line = c.paint(fmt.Sprintf("! room %s does not exist", evt.Room), color.FgRed)
	case event.SubscriptionFailed:
		line = c.paint(fmt.Sprintf("! %s stream of room %s stopped: %v", evt.Target, evt.Room, evt.Err), color.FgRed)
	case event.StateChanged:
		line = c.paint(fmt.Sprintf("* %s -> %s", evt.From, evt.To), color.FgDarkGray)
	default:
		c.log.Debug(fmt.Sprintf("Not rendered event : %T", evt))
		return nil
	}
	_, err := fmt.Fprintln(c.out, line)
	return err
}

func (c *ConsoleSink) message(m domain.Message) string {
	at := m.Timestamp.Local().Format("15:04:05")
	if m.IsFrom(c.owner) {
		return c.paint(fmt.Sprintf("[%s] you: %s", at, m.Text), color.FgGreen)
	}
	sender := m.SenderName
	if c.colours {
		sender = color.New(color.FgCyan, color.OpBold).Render(sender)
	}
	return fmt.Sprintf("[%s] %s: %s", at, sender, m.Text)
}

func (c *ConsoleSink) paint(text string, colour color.Color) string {
	if !c.colours {
		return text
	}
	return colour.Render(text)
}

// WriteMembers prints members as a borderless table.
func WriteMembers(out io.Writer, members []domain.Member, owner string) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"UID", "Name", ""})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	for _, m := range members {
		mark := ""
		if m.UID == owner {
			mark = "(you)"
		}
		table.Append([]string{m.UID, m.DisplayName, mark})
	}
	table.Render()
}
