package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/hubflo/hubflo/internal/dto"
	apierrors "github.com/hubflo/hubflo/internal/errors"
	"github.com/hubflo/hubflo/internal/logging"
	"github.com/hubflo/hubflo/internal/services"
)

// Inbound handles one normalised chat message.
type Inbound interface {
	Handle(ctx context.Context, env services.Envelope) (*services.InboundResult, error)
}

// WebhookHandler turns WhatsApp webhook deliveries into envelopes.
type WebhookHandler struct {
	inbound     Inbound
	boundNumber string
}

// NewWebhookHandler creates a WebhookHandler. Messages addressed to another
// business number, or echoed from boundNumber itself, are skipped.
func NewWebhookHandler(inbound Inbound, boundNumber string) *WebhookHandler {
	return &WebhookHandler{
		inbound:     inbound,
		boundNumber: digits(boundNumber),
	}
}

// Receive always answers 200 unless storing a message failed, in which case
// the channel is asked to redeliver with a 500.
func (h *WebhookHandler) Receive(c *gin.Context) {
	var payload dto.WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		logging.FromContext(c.Request.Context()).Debug("webhook body ignored", "error", err)
		c.JSON(http.StatusOK, gin.H{"handled": 0})
		return
	}

	handled := 0
	for _, am := range payload.WebhookMessages() {
		if h.skip(am) {
			continue
		}
		result, err := h.inbound.Handle(c.Request.Context(), EnvelopeFor(am.Message))
		if err != nil {
			logging.FromContext(c.Request.Context()).Error("webhook message failed", "message_id", am.Message.ID, "error", err)
			if errors.Is(err, services.ErrStorageFailure) {
				apierrors.StorageFailure(c, "")
			} else {
				apierrors.InternalError(c, "")
			}
			return
		}
		if result.Outcome != services.OutcomeDropped {
			handled++
		}
	}

	c.JSON(http.StatusOK, gin.H{"handled": handled})
}

func (h *WebhookHandler) skip(am dto.AddressedMessage) bool {
	if h.boundNumber == "" {
		return false
	}
	if digits(am.Message.From) == h.boundNumber {
		return true
	}
	return am.To != "" && digits(am.To) != h.boundNumber
}

// EnvelopeFor maps a WhatsApp message onto an Envelope. Unsupported types
// produce an envelope with no content, which the inbound service drops.
func EnvelopeFor(m dto.WhatsAppMessage) services.Envelope {
	env := services.Envelope{SenderID: digits(m.From), Kind: services.KindText}

	switch m.Type {
	case "text":
		if m.Text != nil {
			env.Text = m.Text.Body
		}
	case "image", "document", "audio", "video":
		media := mediaOf(m)
		if media == nil {
			break
		}
		env.Kind = services.KindMedia
		env.Text = media.Caption
		env.AttachmentURL = media.Link
		if env.AttachmentURL == "" && media.ID != "" {
			env.AttachmentURL = "media:" + media.ID
		}
		env.AttachmentMime = media.MimeType
		env.AttachmentName = media.Filename
	case "interactive":
		if m.Interactive == nil {
			break
		}
		reply := m.Interactive.ButtonReply
		if reply == nil {
			reply = m.Interactive.ListReply
		}
		if reply != nil {
			env.Kind = services.KindInteractiveReply
			env.InteractiveReplyID = reply.ID
			env.Text = reply.Title
		}
	case "button":
		if m.Button != nil {
			env.Kind = services.KindInteractiveReply
			env.InteractiveReplyID = m.Button.Payload
			env.Text = m.Button.Text
		}
	}
	return env
}

func mediaOf(m dto.WhatsAppMessage) *dto.WhatsAppMedia {
	switch m.Type {
	case "image":
		return m.Image
	case "document":
		return m.Document
	case "audio":
		return m.Audio
	case "video":
		return m.Video
	}
	return nil
}

// digits strips everything but digits, so "+44 7700 900001" and
// "447700900001" compare equal.
func digits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}
