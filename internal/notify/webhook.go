package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// WebhookPublisher posts every group message to an external endpoint, for
// integrations such as signage controllers or SMS gateways.
type WebhookPublisher struct {
	url    string
	token  string
	client *http.Client
}

type webhookBody struct {
	Group   string          `json:"group"`
	Message json.RawMessage `json:"message"`
}

func NewWebhookPublisher(url, token string) *WebhookPublisher {
	return &WebhookPublisher{
		url:   url,
		token: token,
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (p *WebhookPublisher) Publish(ctx context.Context, group string, payload []byte) error {
	body, err := json.Marshal(webhookBody{Group: group, Message: payload})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook rejected request: %s", resp.Status)
	}
	return nil
}
