package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hubflo/hubflo/internal/logging"
	"github.com/hubflo/hubflo/internal/metrics"
)

const menuButton = "Edit order"

// Dialog360Sender posts messages to the 360dialog WhatsApp API.
type Dialog360Sender struct {
	apiKey  string
	baseURL string
	client  *http.Client
	metrics *metrics.Metrics
}

func NewDialog360Sender(apiKey, baseURL string, m *metrics.Metrics) *Dialog360Sender {
	return &Dialog360Sender{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		metrics: m,
	}
}

type textBody struct {
	Body string `json:"body"`
}

type listRow struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type listSection struct {
	Title string    `json:"title"`
	Rows  []listRow `json:"rows"`
}

type interactive struct {
	Type   string   `json:"type"`
	Body   textBody `json:"body"`
	Action struct {
		Button   string        `json:"button"`
		Sections []listSection `json:"sections"`
	} `json:"action"`
}

type outbound struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             *textBody    `json:"text,omitempty"`
	Interactive      *interactive `json:"interactive,omitempty"`
}

func payloadFor(recipient string, msg Message) outbound {
	out := outbound{MessagingProduct: "whatsapp", To: recipient}
	if len(msg.Menu) == 0 {
		out.Type = "text"
		out.Text = &textBody{Body: msg.Text}
		return out
	}

	rows := make([]listRow, 0, len(msg.Menu))
	for _, c := range msg.Menu {
		rows = append(rows, listRow{ID: c.ID, Title: c.Title})
	}
	in := &interactive{Type: "list", Body: textBody{Body: msg.Text}}
	in.Action.Button = menuButton
	in.Action.Sections = []listSection{{Title: "Order fields", Rows: rows}}

	out.Type = "interactive"
	out.Interactive = in
	return out
}

// Send returns false when the key, recipient or text is missing, or on any non-2xx reply.
func (s *Dialog360Sender) Send(ctx context.Context, recipient string, msg Message) bool {
	ok := s.send(ctx, recipient, msg)
	s.metrics.Send(ok)
	return ok
}

func (s *Dialog360Sender) send(ctx context.Context, recipient string, msg Message) bool {
	logger := logging.FromContext(ctx)
	if s.apiKey == "" || recipient == "" || msg.Text == "" {
		logger.Warn("outbound send skipped, missing key, recipient or body", "to", recipient)
		return false
	}

	body, err := json.Marshal(payloadFor(recipient, msg))
	if err != nil {
		logger.Error("failed to encode outbound message", "error", err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		logger.Error("failed to build outbound request", "error", err)
		return false
	}
	req.Header.Set("D360-API-KEY", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		logger.Error("outbound send failed", "to", recipient, "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		logger.Warn("outbound send rejected",
			"to", recipient,
			"status", resp.StatusCode,
			"body", fmt.Sprintf("%.512s", raw),
		)
		return false
	}
	logger.Debug("outbound send accepted", "to", recipient, "status", resp.StatusCode)
	return true
}
