// Package channel normalizes inbound payloads from each entry surface (web
// API, WhatsApp webhook, email webhook, telephony webhook) into the one
// canonical request shape the pipeline consumes. Adapters never panic on
// hostile input: anything malformed comes back as a structural error, and
// valid-but-unprocessable provider events (delivery receipts, media
// messages) come back as ignored events so the caller can acknowledge
// without engaging the pipeline.
package channel

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Canonical channel names. TrustFor in the policy table keys off these.
const (
	Web       = "web"
	WhatsApp  = "whatsapp"
	Email     = "email"
	Telephony = "telephony"
)

// Request is the canonical inbound request every adapter produces. Version
// is always the envelope version the pipeline validates against.
type Request struct {
	Version string  `json:"version"`
	Input   Input   `json:"input"`
	Context Context `json:"context"`
}

// Input carries the user-supplied text. Message holds typed text;
// AudioDerivedText holds a transcription when the client sends speech
// instead. At least one must be present.
type Input struct {
	Message          string `json:"message"`
	AudioDerivedText string `json:"audio_derived_text,omitempty"`
}

// Text returns the effective input text: the typed message when present,
// otherwise the audio transcription.
func (in Input) Text() string {
	if in.Message != "" {
		return in.Message
	}
	return in.AudioDerivedText
}

// AudioOnly reports that the input came solely from a transcription. Such
// requests carry voice semantics even when the client forgot to set
// voice_input in the context.
func (in Input) AudioOnly() bool {
	return in.Message == "" && in.AudioDerivedText != ""
}

// Context carries channel metadata that feeds risk classification.
type Context struct {
	Platform          string `json:"platform"`
	Channel           string `json:"channel,omitempty"`
	Device            string `json:"device,omitempty"`
	SessionID         string `json:"session_id,omitempty"`
	VoiceInput        bool   `json:"voice_input"`
	PreferredLanguage string `json:"preferred_language,omitempty"`
	DetectedLanguage  string `json:"detected_language,omitempty"`
}

// ChannelName returns the key used for trust classification: the explicit
// channel when the client sent one, otherwise the platform.
func (c Context) ChannelName() string {
	if c.Channel != "" {
		return c.Channel
	}
	return c.Platform
}

// StructuralError reports a payload the adapter could not make sense of.
// It is a client error, not a pipeline failure; no trace is allocated for it.
type StructuralError struct {
	Field  string
	Reason string
}

func (e *StructuralError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// IgnoredEvent reports a well-formed provider event that carries nothing to
// process, such as a delivery receipt or a media-only message.
type IgnoredEvent struct {
	Reason string
}

func (e *IgnoredEvent) Error() string {
	return "ignored: " + e.Reason
}

// Adapter turns one channel's raw payload into the canonical request.
type Adapter interface {
	// Name returns the canonical channel name.
	Name() string
	// Normalize parses raw into a canonical request. It returns
	// *StructuralError for malformed payloads and *IgnoredEvent for
	// well-formed events with nothing to process.
	Normalize(raw []byte) (*Request, error)
}

// Registry maps channel names to adapters.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry creates a registry with all built-in adapters installed.
func NewRegistry() *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	for _, a := range []Adapter{
		WebAdapter{},
		WhatsAppAdapter{},
		EmailAdapter{},
		TelephonyAdapter{},
	} {
		r.adapters[a.Name()] = a
	}
	return r
}

// Lookup returns the adapter for a channel name, or nil if none exists.
func (r *Registry) Lookup(name string) Adapter {
	return r.adapters[strings.ToLower(name)]
}

// WebAdapter accepts the canonical envelope directly. The web API is the
// reference surface; its payload is the internal request shape.
type WebAdapter struct{}

func (WebAdapter) Name() string { return Web }

func (WebAdapter) Normalize(raw []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, &StructuralError{Reason: "invalid JSON body"}
	}
	if req.Context.Platform == "" {
		req.Context.Platform = Web
	}
	return &req, nil
}

type whatsAppPayload struct {
	Entry []struct {
		Messaging []struct {
			Sender struct {
				ID string `json:"id"`
			} `json:"sender"`
			Message *struct {
				Type string `json:"type"`
				Text struct {
					Body string `json:"body"`
				} `json:"text"`
			} `json:"message"`
		} `json:"messaging"`
	} `json:"entry"`
}

// WhatsAppAdapter parses the WhatsApp Business webhook shape. Only text
// messages engage the pipeline; status updates and media events are ignored.
type WhatsAppAdapter struct{}

func (WhatsAppAdapter) Name() string { return WhatsApp }

func (WhatsAppAdapter) Normalize(raw []byte) (*Request, error) {
	var payload whatsAppPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &StructuralError{Reason: "invalid JSON body"}
	}
	if len(payload.Entry) == 0 {
		return nil, &IgnoredEvent{Reason: "no_entries"}
	}
	events := payload.Entry[0].Messaging
	if len(events) == 0 {
		return nil, &IgnoredEvent{Reason: "no_messaging_events"}
	}
	event := events[0]
	if event.Message == nil {
		return nil, &IgnoredEvent{Reason: "non_message_event"}
	}
	if event.Message.Type != "text" {
		return nil, &IgnoredEvent{Reason: "unsupported_message_type: " + event.Message.Type}
	}
	if event.Message.Text.Body == "" {
		return nil, &StructuralError{Field: "entry.messaging.message.text.body", Reason: "empty text message"}
	}
	return &Request{
		Version: "3.0.0",
		Input:   Input{Message: event.Message.Text.Body},
		Context: Context{
			Platform:          WhatsApp,
			Device:            "mobile",
			SessionID:         event.Sender.ID,
			PreferredLanguage: "auto",
		},
	}, nil
}

type emailPayload struct {
	Content string `json:"content"`
	Text    string `json:"text"`
	Body    string `json:"body"`
	From    string `json:"from"`
	Sender  string `json:"sender"`
	Subject string `json:"subject"`
}

// EmailAdapter parses an inbound-email webhook. Providers disagree about
// which field carries the body, so content, text, and body are tried in
// order.
type EmailAdapter struct{}

func (EmailAdapter) Name() string { return Email }

func (EmailAdapter) Normalize(raw []byte) (*Request, error) {
	var payload emailPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		// Raw (non-JSON) mail bodies are accepted as plain content.
		payload = emailPayload{Content: string(raw)}
	}

	content := payload.Content
	if content == "" {
		content = payload.Text
	}
	if content == "" {
		content = payload.Body
	}
	if strings.TrimSpace(content) == "" {
		return nil, &IgnoredEvent{Reason: "empty_content"}
	}

	sender := payload.From
	if sender == "" {
		sender = payload.Sender
	}
	subject := payload.Subject
	if subject == "" {
		subject = "No Subject"
	}

	return &Request{
		Version: "3.0.0",
		Input:   Input{Message: fmt.Sprintf("Subject: %s\n\n%s", subject, content)},
		Context: Context{
			Platform:          Email,
			Device:            "desktop",
			SessionID:         sender,
			PreferredLanguage: "auto",
		},
	}, nil
}

type telephonyPayload struct {
	CallerID      string `json:"caller_id"`
	Transcription string `json:"transcription"`
}

// TelephonyAdapter parses a call-transcription webhook. The transcript is
// treated as voice input, which raises the risk score downstream.
type TelephonyAdapter struct{}

func (TelephonyAdapter) Name() string { return Telephony }

func (TelephonyAdapter) Normalize(raw []byte) (*Request, error) {
	var payload telephonyPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &StructuralError{Reason: "invalid JSON body"}
	}
	if strings.TrimSpace(payload.Transcription) == "" {
		return nil, &IgnoredEvent{Reason: "no_transcription"}
	}
	return &Request{
		Version: "3.0.0",
		Input:   Input{Message: payload.Transcription},
		Context: Context{
			Platform:          Telephony,
			Device:            "phone",
			SessionID:         payload.CallerID,
			VoiceInput:        true,
			PreferredLanguage: "auto",
		},
	}, nil
}
