// Package notify posts contact lifecycle events to tenant webhook URLs.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zapcrm/zapcrm/internal/model"
)

// EventContactUpdated is sent when a contact is closed.
const EventContactUpdated = "contact_updated"

// Notifier delivers one event per call with no retry.
type Notifier struct {
	client *http.Client
	now    func() time.Time
}

// New creates a notifier whose calls are bounded by timeout.
func New(timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Notifier{
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}
}

// ContactUpdated posts the contact to url.
func (n *Notifier) ContactUpdated(ctx context.Context, url string, contact *model.Contact) error {
	body, err := json.Marshal(&model.ContactEvent{
		Event:     EventContactUpdated,
		Timestamp: n.now().UTC(),
		Data:      contact,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "zapcrm-webhook/1")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("tenant webhook answered %d", resp.StatusCode)
	}
	return nil
}
