package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/jkindrix/plumbot/internal/errors"
)

// SignatureHeader carries the HMAC-SHA256 of the raw body keyed with the app secret.
const SignatureHeader = "X-Hub-Signature-256"

// MessageType is the type field of an inbound message.
type MessageType string

const (
	TypeText        MessageType = "text"
	TypeImage       MessageType = "image"
	TypeDocument    MessageType = "document"
	TypeAudio       MessageType = "audio"
	TypeVideo       MessageType = "video"
	TypeLocation    MessageType = "location"
	TypeSticker     MessageType = "sticker"
	TypeContacts    MessageType = "contacts"
	TypeInteractive MessageType = "interactive"
	TypeButton      MessageType = "button"
	TypeReaction    MessageType = "reaction"
	TypeUnsupported MessageType = "unsupported"
)

// IsMedia reports whether the type carries a downloadable file the
// operator should see.
func (t MessageType) IsMedia() bool {
	switch t {
	case TypeImage, TypeDocument, TypeAudio, TypeVideo:
		return true
	}
	return false
}

// WebhookPayload is the envelope of a Cloud API webhook delivery.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry is one business account's batch of changes.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change is a single field change.
type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

// ChangeValue holds the messages, contacts and statuses of a change.
type ChangeValue struct {
	MessagingProduct string            `json:"messaging_product"`
	Metadata         Metadata          `json:"metadata"`
	Contacts         []Contact         `json:"contacts,omitempty"`
	Messages         []Message         `json:"messages,omitempty"`
	Statuses         []StatusUpdate    `json:"statuses,omitempty"`
	Errors           []json.RawMessage `json:"errors,omitempty"`
}

// Metadata identifies the receiving business number.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// Contact is the sender profile attached to a change.
type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// StatusUpdate is a delivery receipt for an outbound message.
type StatusUpdate struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

// Message is one inbound customer message.
type Message struct {
	From      string            `json:"from"`
	ID        string            `json:"id"`
	Timestamp string            `json:"timestamp"`
	Type      MessageType       `json:"type"`
	Text      *TextContent      `json:"text,omitempty"`
	Image     *MediaObject      `json:"image,omitempty"`
	Document  *MediaObject      `json:"document,omitempty"`
	Audio     *MediaObject      `json:"audio,omitempty"`
	Video     *MediaObject      `json:"video,omitempty"`
	Sticker   *MediaObject      `json:"sticker,omitempty"`
	Location  *Location         `json:"location,omitempty"`
	Contacts  []json.RawMessage `json:"contacts,omitempty"`
}

// TextContent is the body of a text message.
type TextContent struct {
	Body string `json:"body"`
}

// MediaObject references inbound media stored by the provider.
type MediaObject struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	SHA256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// Location is a shared pin.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Address   string  `json:"address,omitempty"`
}

// Describe renders the location as a short area description.
func (l *Location) Describe() string {
	switch {
	case l.Name != "" && l.Address != "":
		return l.Name + ", " + l.Address
	case l.Address != "":
		return l.Address
	case l.Name != "":
		return l.Name
	}
	return fmt.Sprintf("%.5f, %.5f", l.Latitude, l.Longitude)
}

// InboundMessage is a flattened, routable customer message.
type InboundMessage struct {
	ID          string
	From        string
	ProfileName string
	Type        MessageType
	Text        string
	Media       *MediaObject
	Location    *Location
	Timestamp   time.Time
}

// ParseWebhook decodes a webhook body.
func ParseWebhook(body []byte) (*WebhookPayload, error) {
	var p WebhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, apperrors.Wrap(err, "whatsapp.ParseWebhook", apperrors.CodeMalformed, "malformed webhook payload")
	}
	if p.Object != "" && p.Object != "whatsapp_business_account" {
		return nil, apperrors.New(apperrors.CodeMalformed, fmt.Sprintf("unexpected object %q", p.Object))
	}
	return &p, nil
}

// InboundMessages flattens every "messages" change into routable messages,
// in payload order. Messages without a sender or id are dropped.
func (p *WebhookPayload) InboundMessages() []InboundMessage {
	var out []InboundMessage
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range change.Value.Messages {
				if m.From == "" || m.ID == "" {
					continue
				}
				out = append(out, m.toInbound(names[m.From]))
			}
		}
	}
	return out
}

func (m Message) toInbound(profileName string) InboundMessage {
	in := InboundMessage{
		ID:          m.ID,
		From:        m.From,
		ProfileName: profileName,
		Type:        m.Type,
		Timestamp:   parseUnix(m.Timestamp),
	}
	switch m.Type {
	case TypeText:
		if m.Text != nil {
			in.Text = m.Text.Body
		}
	case TypeImage:
		in.Media = m.Image
	case TypeDocument:
		in.Media = m.Document
	case TypeAudio:
		in.Media = m.Audio
	case TypeVideo:
		in.Media = m.Video
	case TypeSticker:
		in.Media = m.Sticker
	case TypeLocation:
		in.Location = m.Location
	}
	if in.Media != nil {
		in.Text = in.Media.Caption
	}
	// A media type with no media object cannot be processed as media.
	if in.Type.IsMedia() && in.Media == nil {
		in.Type = TypeUnsupported
	}
	if in.Type == TypeLocation && in.Location == nil {
		in.Type = TypeUnsupported
	}
	return in
}

func parseUnix(s string) time.Time {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil || sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// VerifySignature checks the X-Hub-Signature-256 header against body.
func VerifySignature(appSecret string, body []byte, header string) error {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok || sig == "" {
		return apperrors.ErrSignatureInvalid
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(strings.ToLower(sig)), []byte(expected)) {
		return apperrors.ErrSignatureInvalid
	}
	return nil
}

// Sign computes the X-Hub-Signature-256 header value for body.
func Sign(appSecret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifyChallenge handles the subscription handshake. It returns the
// challenge to echo when the mode and token match.
func VerifyChallenge(query url.Values, verifyToken string) (string, error) {
	if verifyToken == "" ||
		query.Get("hub.mode") != "subscribe" ||
		!hmac.Equal([]byte(query.Get("hub.verify_token")), []byte(verifyToken)) {
		return "", apperrors.ErrVerificationFailed
	}
	return query.Get("hub.challenge"), nil
}
