package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ProviderExecutor delivers messages through an external messaging provider
// over HTTP. One instance serves one delivery channel (email, whatsapp); the
// channel selects the provider endpoint path.
type ProviderExecutor struct {
	channel    string
	baseURL    string
	httpClient *http.Client
}

// NewProviderExecutor creates an HTTP executor for the given channel against
// the provider base URL.
func NewProviderExecutor(channel, baseURL string) *ProviderExecutor {
	return &ProviderExecutor{
		channel:    channel,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// Method returns the provider mechanism identifier.
func (p *ProviderExecutor) Method() string {
	return "provider_api"
}

type providerSendRequest struct {
	Channel   string            `json:"channel"`
	Recipient string            `json:"recipient"`
	Payload   map[string]string `json:"payload"`
}

type providerSendResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Send posts the message to the provider's channel endpoint. Any non-2xx
// response or transport failure is returned as an error; the caller
// normalizes it into an execution result.
func (p *ProviderExecutor) Send(ctx context.Context, params map[string]string) (string, error) {
	if p.baseURL == "" {
		return "", fmt.Errorf("no provider configured for channel %s", p.channel)
	}

	recipient := params["recipient"]
	if recipient == "" {
		return "", fmt.Errorf("missing recipient for %s delivery", p.channel)
	}

	payload := make(map[string]string, len(params))
	for k, v := range params {
		if k == "recipient" {
			continue
		}
		payload[k] = v
	}

	body, err := json.Marshal(providerSendRequest{
		Channel:   p.channel,
		Recipient: recipient,
		Payload:   payload,
	})
	if err != nil {
		return "", fmt.Errorf("marshal provider request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/send/%s", p.baseURL, p.channel)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create provider request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	var sendResp providerSendResponse
	if err := json.Unmarshal(respBody, &sendResp); err != nil {
		return "", fmt.Errorf("decode provider response: %w", err)
	}

	if sendResp.ID != "" {
		return fmt.Sprintf("%s delivered (provider id %s)", p.channel, sendResp.ID), nil
	}
	return fmt.Sprintf("%s delivered", p.channel), nil
}

// ReminderExecutor schedules a reminder locally rather than calling an
// external provider. The persisted task row is the schedule record; there
// is no background firing mechanism here.
type ReminderExecutor struct{}

// NewReminderExecutor creates a reminder executor.
func NewReminderExecutor() *ReminderExecutor {
	return &ReminderExecutor{}
}

// Method returns the provider mechanism identifier.
func (r *ReminderExecutor) Method() string {
	return "local_store"
}

// Send validates the reminder parameters. The caller persists the task row;
// a reminder with nothing to say is rejected.
func (r *ReminderExecutor) Send(ctx context.Context, params map[string]string) (string, error) {
	what := params["description"]
	if what == "" {
		return "", fmt.Errorf("reminder has no description")
	}
	when := params["schedule"]
	if when == "" {
		when = "unspecified time"
	}
	return fmt.Sprintf("reminder scheduled for %s at %s", what, when), nil
}

// NoopExecutor acknowledges a general task without any side effect. It backs
// task types that carry no external action.
type NoopExecutor struct{}

// Method returns the provider mechanism identifier.
func (NoopExecutor) Method() string {
	return "none"
}

// Send records the acknowledgement time and succeeds.
func (NoopExecutor) Send(_ context.Context, _ map[string]string) (string, error) {
	return fmt.Sprintf("acknowledged at %s", time.Now().UTC().Format(time.RFC3339)), nil
}
