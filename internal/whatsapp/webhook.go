package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// SignatureHeader carries the HMAC of the request body when an app secret is set.
const SignatureHeader = "X-Hub-Signature-256"

// Message types the bot understands.
const (
	TypeText  = "text"
	TypeImage = "image"
)

// ErrInvalidSignature is returned when the webhook signature does not match the body.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Event is one inbound message reduced to what the bot needs. Body holds the text
// for text messages and the media ID for images.
type Event struct {
	MessageID string
	Sender    string
	Type      string
	Body      string
	MimeType  string
}

type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Value struct {
				Messages []inboundMessage `json:"messages"`
			} `json:"value"`
			Field string `json:"field"`
		} `json:"changes"`
	} `json:"entry"`
}

type inboundMessage struct {
	ID   string `json:"id"`
	From string `json:"from"`
	Type string `json:"type"`
	Text *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image *struct {
		ID       string `json:"id"`
		MimeType string `json:"mime_type"`
	} `json:"image"`
}

// ParseEvents extracts every message in a webhook payload. Status callbacks and
// other change types carry no messages and yield an empty slice.
func ParseEvents(body []byte) ([]Event, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode webhook payload: %w", err)
	}

	var events []Event
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				events = append(events, msg.event())
			}
		}
	}
	return events, nil
}

func (m inboundMessage) event() Event {
	ev := Event{MessageID: m.ID, Sender: m.From, Type: m.Type}
	switch {
	case m.Type == TypeText && m.Text != nil:
		ev.Body = m.Text.Body
	case m.Type == TypeImage && m.Image != nil:
		ev.Body = m.Image.ID
		ev.MimeType = m.Image.MimeType
	}
	return ev
}

// VerifySignature checks a "sha256=<hex>" header against the HMAC-SHA256 of body.
func VerifySignature(appSecret string, body []byte, header string) error {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return ErrInvalidSignature
	}
	want, err := hex.DecodeString(sig)
	if err != nil {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), want) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the header value VerifySignature accepts for body.
func Sign(appSecret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
