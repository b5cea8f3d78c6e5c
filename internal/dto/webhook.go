package dto

// WebhookPayload accepts both the WhatsApp Cloud envelope (entry/changes/value)
// and the flat 360dialog on-premise shape (top-level messages).
type WebhookPayload struct {
	Entry    []WebhookEntry    `json:"entry"`
	Messages []WhatsAppMessage `json:"messages"`
}

type WebhookEntry struct {
	Changes []WebhookChange `json:"changes"`
}

type WebhookChange struct {
	Value WebhookValue `json:"value"`
}

type WebhookValue struct {
	Metadata WebhookMetadata   `json:"metadata"`
	Messages []WhatsAppMessage `json:"messages"`
}

type WebhookMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// WhatsAppMessage is one inbound message. Only the field named by Type is set.
type WhatsAppMessage struct {
	From        string               `json:"from"`
	ID          string               `json:"id"`
	Timestamp   string               `json:"timestamp"`
	Type        string               `json:"type"`
	Text        *WhatsAppText        `json:"text,omitempty"`
	Image       *WhatsAppMedia       `json:"image,omitempty"`
	Document    *WhatsAppMedia       `json:"document,omitempty"`
	Audio       *WhatsAppMedia       `json:"audio,omitempty"`
	Video       *WhatsAppMedia       `json:"video,omitempty"`
	Interactive *WhatsAppInteractive `json:"interactive,omitempty"`
	Button      *WhatsAppButton      `json:"button,omitempty"`
}

type WhatsAppText struct {
	Body string `json:"body"`
}

type WhatsAppMedia struct {
	ID       string `json:"id"`
	Link     string `json:"link"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
}

type WhatsAppInteractive struct {
	Type        string         `json:"type"`
	ButtonReply *WhatsAppReply `json:"button_reply,omitempty"`
	ListReply   *WhatsAppReply `json:"list_reply,omitempty"`
}

type WhatsAppReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// WhatsAppButton is a quick-reply button tap on a template message.
type WhatsAppButton struct {
	Payload string `json:"payload"`
	Text    string `json:"text"`
}

// WebhookMessages flattens every message in the payload, paired with the
// business number it was addressed to (empty for the flat shape).
func (p WebhookPayload) WebhookMessages() []AddressedMessage {
	var out []AddressedMessage
	for _, m := range p.Messages {
		out = append(out, AddressedMessage{Message: m})
	}
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			for _, m := range change.Value.Messages {
				out = append(out, AddressedMessage{
					To:      change.Value.Metadata.DisplayPhoneNumber,
					Message: m,
				})
			}
		}
	}
	return out
}

type AddressedMessage struct {
	To      string
	Message WhatsAppMessage
}
