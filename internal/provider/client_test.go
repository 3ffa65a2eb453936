package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapcrm/zapcrm/internal/model"
)

func TestBuildPayload(t *testing.T) {
	tests := []struct {
		name string
		req  SendRequest
		want string
	}{
		{
			name: "text",
			req:  SendRequest{To: "5511", Kind: model.KindText, Content: "hello"},
			want: `{"messaging_product":"whatsapp","recipient_type":"individual","text":{"body":"hello"},"to":"5511","type":"text"}`,
		},
		{
			name: "default kind is text",
			req:  SendRequest{To: "5511", Content: "hello"},
			want: `{"messaging_product":"whatsapp","recipient_type":"individual","text":{"body":"hello"},"to":"5511","type":"text"}`,
		},
		{
			name: "image with caption",
			req:  SendRequest{To: "5511", Kind: model.KindImage, Content: "https://x/a.png", Caption: "look"},
			want: `{"image":{"link":"https://x/a.png","caption":"look"},"messaging_product":"whatsapp","recipient_type":"individual","to":"5511","type":"image"}`,
		},
		{
			name: "document reuses caption as filename",
			req:  SendRequest{To: "5511", Kind: model.KindDocument, Content: "https://x/a.pdf", Caption: "a.pdf"},
			want: `{"document":{"link":"https://x/a.pdf","caption":"a.pdf","filename":"a.pdf"},"messaging_product":"whatsapp","recipient_type":"individual","to":"5511","type":"document"}`,
		},
		{
			name: "video without caption",
			req:  SendRequest{To: "5511", Kind: model.KindVideo, Content: "https://x/v.mp4"},
			want: `{"messaging_product":"whatsapp","recipient_type":"individual","to":"5511","type":"video","video":{"link":"https://x/v.mp4"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := BuildPayload(tt.req)
			require.NoError(t, err)
			got, err := json.Marshal(payload)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}

	_, err := BuildPayload(SendRequest{Kind: "sticker"})
	assert.Error(t, err)
}

func TestSendPostsToChannelEndpoint(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.OUT"}]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{GraphURL: srv.URL + "/", APIVersion: "v19.0", Timeout: time.Second})
	id, err := c.Send(context.Background(), SendRequest{
		PhoneNumberID: "PN1",
		AccessToken:   "tok",
		To:            "5511",
		Kind:          model.KindText,
		Content:       "hi",
	})

	require.NoError(t, err)
	assert.Equal(t, "wamid.OUT", id)
	assert.Equal(t, "/v19.0/PN1/messages", gotPath)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "text", gotBody["type"])
}

func TestSendReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid OAuth access token","type":"OAuthException","code":190}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{GraphURL: srv.URL, APIVersion: "v19.0"})
	_, err := c.Send(context.Background(), SendRequest{PhoneNumberID: "PN1", To: "5511", Content: "hi"})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, 190, apiErr.Code)
	assert.Contains(t, apiErr.Error(), "Invalid OAuth access token")
}

func TestSendIsBoundedByTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(Config{GraphURL: srv.URL, APIVersion: "v19.0", Timeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := c.Send(context.Background(), SendRequest{PhoneNumberID: "PN1", To: "5511", Content: "hi"})

	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
