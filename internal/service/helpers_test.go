package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zapcrm/zapcrm/internal/crypto"
	"github.com/zapcrm/zapcrm/internal/model"
	"github.com/zapcrm/zapcrm/internal/provider"
	"github.com/zapcrm/zapcrm/internal/store"
	"github.com/zapcrm/zapcrm/pkg/logger"
)

const testPending = "PENDING"

type recordingBroadcaster struct {
	mu   sync.Mutex
	msgs []*model.Message
	err  error
}

func (r *recordingBroadcaster) Broadcast(ctx context.Context, msg *model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.err
}

func (r *recordingBroadcaster) events() []*model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*model.Message(nil), r.msgs...)
}

// fakeGraph is a stand-in for the Cloud API.
type fakeGraph struct {
	mu     sync.Mutex
	bodies []map[string]any
	status int
}

func (f *fakeGraph) handler(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = json.Unmarshal(data, &body)

	f.mu.Lock()
	f.bodies = append(f.bodies, body)
	status := f.status
	n := len(f.bodies)
	f.mu.Unlock()

	if status != 0 && status != http.StatusOK {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","code":1}}`))
		return
	}
	_, _ = fmt.Fprintf(w, `{"messages":[{"id":"wamid.OUT%d"}]}`, n)
}

func (f *fakeGraph) calls() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.bodies...)
}

type pipeline struct {
	store       *store.Store
	cipher      *crypto.Cipher
	graph       *fakeGraph
	broadcaster *recordingBroadcaster
	sender      *Sender
	processor   *Processor
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()

	db, err := store.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(db))
	st := store.New(db)
	t.Cleanup(func() { _ = st.Close() })

	cipher, err := crypto.NewCipher("test-key")
	require.NoError(t, err)

	graph := &fakeGraph{}
	srv := httptest.NewServer(http.HandlerFunc(graph.handler))
	t.Cleanup(srv.Close)

	log := logger.NewNop()
	b := &recordingBroadcaster{}
	client := provider.NewClient(provider.Config{GraphURL: srv.URL, APIVersion: "v19.0"})
	sender := NewSender(st, client, cipher, b, testPending, log)
	proc := NewProcessor(st, sender, b, ProcessorConfig{}, log)

	return &pipeline{
		store:       st,
		cipher:      cipher,
		graph:       graph,
		broadcaster: b,
		sender:      sender,
		processor:   proc,
	}
}

func (p *pipeline) connect(t *testing.T, tenantID, channelID, token string) {
	t.Helper()
	sealed, err := p.cipher.Seal(token)
	require.NoError(t, err)
	require.NoError(t, p.store.SaveConnection(context.Background(), &model.Connection{
		TenantID:             tenantID,
		PhoneNumberID:        channelID,
		AccessTokenEncrypted: sealed,
	}))
}

func inboundJob(channelID, messageID, waID, name, kind, body, ts string) *model.Job {
	msg := map[string]any{
		"id":        messageID,
		"from":      waID,
		"timestamp": ts,
		"type":      kind,
	}
	if kind == "text" {
		msg["text"] = map[string]string{"body": body}
	}
	payload := map[string]any{
		"object": "whatsapp_business_account",
		"entry": []any{map[string]any{
			"id": "WABA",
			"changes": []any{map[string]any{
				"field": "messages",
				"value": map[string]any{
					"messaging_product": "whatsapp",
					"metadata":          map[string]string{"phone_number_id": channelID},
					"contacts": []any{map[string]any{
						"wa_id":   waID,
						"profile": map[string]string{"name": name},
					}},
					"messages": []any{msg},
				},
			}},
		}},
	}
	raw, _ := json.Marshal(payload)
	return &model.Job{ID: "job-" + messageID, ChannelID: channelID, ProviderMessageID: messageID, Payload: raw}
}
