package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/zapcrm/zapcrm/internal/middleware"
	"github.com/zapcrm/zapcrm/internal/model"
	"github.com/zapcrm/zapcrm/internal/service"
	"github.com/zapcrm/zapcrm/internal/store"
	"github.com/zapcrm/zapcrm/internal/worker"
	"github.com/zapcrm/zapcrm/pkg/logger"
)

func withIdentity(r *http.Request, tenantID, userID string) *http.Request {
	ctx := context.WithValue(r.Context(), middleware.TenantIDKey, tenantID)
	ctx = context.WithValue(ctx, middleware.UserIDKey, userID)
	return r.WithContext(ctx)
}

type fakeSender struct {
	got service.SendInput
	msg *model.Message
	err error
}

func (f *fakeSender) Send(ctx context.Context, in service.SendInput) (*model.Message, error) {
	f.got = in
	return f.msg, f.err
}

func TestSendMessage(t *testing.T) {
	s := &fakeSender{msg: &model.Message{ID: "m1", Content: "hi"}}
	h := NewMessageHandler(s, logger.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages",
		strings.NewReader(`{"to":"5511","content":"hi","channel_id":"PN2"}`))
	rec := httptest.NewRecorder()
	h.Send(rec, withIdentity(req, "t1", "u1"))

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "t1", s.got.TenantID)
	assert.Equal(t, "u1", s.got.UserID)
	assert.Equal(t, "PN2", s.got.ChannelID)
	assert.Contains(t, rec.Body.String(), `"status":"sent"`)
}

func TestSendMessageResults(t *testing.T) {
	tests := []struct {
		name   string
		sender *fakeSender
		body   string
		status int
	}{
		{"invalid body", &fakeSender{}, `{`, http.StatusBadRequest},
		{"validation", &fakeSender{}, `{"to":"","content":"hi"}`, http.StatusBadRequest},
		{"no connection", &fakeSender{err: service.ErrNoConnection}, `{"to":"5511","content":"hi"}`, http.StatusUnprocessableEntity},
		{"not recorded", &fakeSender{}, `{"to":"5511","content":"hi"}`, http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewMessageHandler(tt.sender, logger.NewNop())
			req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.Send(rec, withIdentity(req, "t1", "u1"))
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

type fakeContacts struct {
	status string
	err    error
}

func (f *fakeContacts) List(ctx context.Context, tenantID string, limit, offset int) (*model.ListContactsResponse, error) {
	return &model.ListContactsResponse{Contacts: []model.Contact{}}, f.err
}

func (f *fakeContacts) Thread(ctx context.Context, tenantID, contactID string) (*model.ListMessagesResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.ListMessagesResponse{Messages: []model.Message{}}, nil
}

func (f *fakeContacts) UpdateStatus(ctx context.Context, tenantID, contactID, status string) (*model.Contact, error) {
	f.status = status
	if f.err != nil {
		return nil, f.err
	}
	return &model.Contact{ID: contactID, TenantID: tenantID, Status: model.NormalizeStatus(status)}, nil
}

func contactRouter(h *ContactHandler, tenantID string) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, withIdentity(req, tenantID, "u1"))
		})
	})
	r.Get("/contacts", h.List)
	r.Get("/contacts/{id}/messages", h.Thread)
	r.Put("/contacts/{id}/status", h.UpdateStatus)
	return r
}

func TestContactRoutes(t *testing.T) {
	svc := &fakeContacts{}
	router := contactRouter(NewContactHandler(svc, logger.NewNop()), "t1")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/contacts?limit=10", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"contacts":[],"total":0}`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/contacts/c1/status", strings.NewReader(`{"status":"closed"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "closed", svc.status)
	assert.Contains(t, rec.Body.String(), `"status":"CLOSED"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/contacts/c1/status", strings.NewReader(`{"status":" "}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestContactNotFound(t *testing.T) {
	router := contactRouter(NewContactHandler(&fakeContacts{err: store.ErrNotFound}, logger.NewNop()), "t1")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/contacts/c9/messages", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/contacts/c9/status", strings.NewReader(`{"status":"OPEN"}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type fakeSettings struct {
	err error
}

func (f *fakeSettings) RegisterConnection(ctx context.Context, tenantID string, req *model.RegisterConnectionRequest) (*model.Connection, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.Connection{TenantID: tenantID, PhoneNumberID: req.PhoneNumberID, AccessTokenEncrypted: "sealed"}, nil
}

func (f *fakeSettings) UpdateTenant(ctx context.Context, tenantID string, req *model.UpdateTenantRequest) (*model.Tenant, error) {
	return &model.Tenant{ID: tenantID, Name: req.Name, WebhookURL: req.WebhookURL}, f.err
}

func TestRegisterConnection(t *testing.T) {
	h := NewSettingsHandler(&fakeSettings{}, logger.NewNop())

	req := httptest.NewRequest(http.MethodPut, "/api/v1/connections",
		strings.NewReader(`{"phone_number_id":"PN1","access_token":"tok"}`))
	rec := httptest.NewRecorder()
	h.RegisterConnection(rec, withIdentity(req, "t1", "u1"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "sealed", "the credential is never returned")

	h = NewSettingsHandler(&fakeSettings{err: store.ErrChannelTaken}, logger.NewNop())
	req = httptest.NewRequest(http.MethodPut, "/api/v1/connections",
		strings.NewReader(`{"phone_number_id":"PN1","access_token":"tok"}`))
	rec = httptest.NewRecorder()
	h.RegisterConnection(rec, withIdentity(req, "t1", "u1"))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUpdateTenant(t *testing.T) {
	h := NewSettingsHandler(&fakeSettings{}, logger.NewNop())

	req := httptest.NewRequest(http.MethodPut, "/api/v1/tenant",
		strings.NewReader(`{"name":"Acme","webhook_url":"https://hooks.example/zap"}`))
	rec := httptest.NewRecorder()
	h.UpdateTenant(rec, withIdentity(req, "t1", "u1"))
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPut, "/api/v1/tenant", strings.NewReader(`{"webhook_url":"nope"}`))
	rec = httptest.NewRecorder()
	h.UpdateTenant(rec, withIdentity(req, "t1", "u1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(ctx context.Context) error { return s.err }

func TestReady(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(stubPinger{}, stubPinger{}).Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	NewHealthHandler(stubPinger{}, stubPinger{err: context.DeadlineExceeded}).Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "database")
}

type stubWorkers struct{ stats worker.Stats }

func (s stubWorkers) Stats() worker.Stats { return s.stats }

func TestReadyReportsWorkerStats(t *testing.T) {
	h := NewHealthHandler(stubPinger{}, stubPinger{}).
		WithWorkers(stubWorkers{stats: worker.Stats{Shards: 8, QueueSize: 256, ActiveShards: 2, TotalDispatched: 10}})

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready","workers":{"shards":8,"queue_size":256,"active_shards":2,
		"total_dispatched":10,"total_processed":0,"total_dropped":0,"total_errors":0,"total_panics":0}}`, rec.Body.String())
}
