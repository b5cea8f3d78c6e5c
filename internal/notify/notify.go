// Package notify carries outbound chat messages and task events out of the core.
// Every send is best-effort: failures are logged and reported, never retried.
package notify

import (
	"context"
	"strings"

	"github.com/hubflo/hubflo/internal/logging"
)

// Choice is one row of an interactive menu.
type Choice struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Message is either plain text or text with a menu.
type Message struct {
	Text string
	Menu []Choice
}

func Text(s string) Message {
	return Message{Text: s}
}

// Sender delivers a message to one chat recipient and reports success.
type Sender interface {
	Send(ctx context.Context, recipient string, msg Message) bool
}

// LogSender only logs outbound messages. Used when no channel key is configured.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, recipient string, msg Message) bool {
	choices := make([]string, 0, len(msg.Menu))
	for _, c := range msg.Menu {
		choices = append(choices, c.ID)
	}
	logging.FromContext(ctx).Info("outbound message",
		"to", recipient,
		"text", msg.Text,
		"menu", strings.Join(choices, ","),
	)
	return true
}

// Broadcast sends msg to every distinct non-empty recipient and returns how many succeeded.
func Broadcast(ctx context.Context, s Sender, recipients []string, msg Message) int {
	seen := make(map[string]struct{}, len(recipients))
	sent := 0
	for _, r := range recipients {
		if r == "" {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		if s.Send(ctx, r, msg) {
			sent++
		}
	}
	return sent
}
