// Package provider sends messages through the WhatsApp Cloud API.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/zapcrm/zapcrm/internal/model"
)

// Config holds the Cloud API endpoint settings.
type Config struct {
	GraphURL   string
	APIVersion string
	Timeout    time.Duration
}

// Client calls the Cloud API messages endpoint.
type Client struct {
	httpClient *http.Client
	graphURL   string
	version    string
}

// NewClient creates a client. Every call is bounded by cfg.Timeout.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		graphURL:   strings.TrimRight(cfg.GraphURL, "/"),
		version:    cfg.APIVersion,
	}
}

// SendRequest is one outbound message.
type SendRequest struct {
	PhoneNumberID string
	AccessToken   string
	To            string
	Kind          model.Kind
	// Content is the text body, or the media URL for media kinds.
	Content string
	Caption string
}

// APIError is a non-2xx answer from the Cloud API.
type APIError struct {
	StatusCode int
	Code       int    `json:"code"`
	Type       string `json:"type"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("cloud api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("cloud api: status %d: %s (code %d)", e.StatusCode, e.Message, e.Code)
}

type mediaObject struct {
	Link     string `json:"link"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type textObject struct {
	Body string `json:"body"`
}

// BuildPayload returns the request body for req.
func BuildPayload(req SendRequest) (map[string]any, error) {
	kind := req.Kind
	if kind == "" {
		kind = model.KindText
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("unsupported message kind %q", kind)
	}

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                req.To,
		"type":              string(kind),
	}

	switch kind {
	case model.KindText:
		payload["text"] = textObject{Body: req.Content}
	case model.KindDocument:
		payload["document"] = mediaObject{Link: req.Content, Caption: req.Caption, Filename: req.Caption}
	case model.KindAudio:
		// Audio does not accept a caption.
		payload["audio"] = mediaObject{Link: req.Content}
	default:
		payload[string(kind)] = mediaObject{Link: req.Content, Caption: req.Caption}
	}
	return payload, nil
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// Send posts one message and returns the provider message id.
func (c *Client) Send(ctx context.Context, req SendRequest) (string, error) {
	payload, err := BuildPayload(req)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s/messages", c.graphURL, c.version, req.PhoneNumberID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.AccessToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("cloud api request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read cloud api response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope struct {
			Error *APIError `json:"error"`
		}
		if json.Unmarshal(data, &envelope) == nil && envelope.Error != nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Type = envelope.Error.Type
			apiErr.Message = envelope.Error.Message
		}
		return "", apiErr
	}

	var out sendResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("failed to decode cloud api response: %w", err)
	}
	if len(out.Messages) == 0 {
		return "", nil
	}
	return out.Messages[0].ID, nil
}
