package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zapcrm/zapcrm/pkg/logger"
)

func TestLoggingCorrelationID(t *testing.T) {
	var seen string
	r := chi.NewRouter()
	r.Use(Logging(logger.NewNop()))
	r.Get("/contacts/{id}", func(w http.ResponseWriter, req *http.Request) {
		seen = GetCorrelationID(req.Context())
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/contacts/c1", nil)
	req.Header.Set("X-Correlation-ID", "corr-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "corr-1", rec.Header().Get("X-Correlation-ID"))
	assert.Equal(t, "corr-1", seen)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/contacts/c2", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}

func TestLoggingCapturesIdentityFromAuth(t *testing.T) {
	var who *identity
	h := Logging(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		who, _ = req.Context().Value(identityKey).(*identity)
		Auth(testSecret)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).ServeHTTP(w, req)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "t1"))
	h.ServeHTTP(httptest.NewRecorder(), req)

	if assert.NotNil(t, who) {
		assert.Equal(t, "t1", who.tenantID)
		assert.Equal(t, "user-1", who.userID)
	}
}

func TestLoggingRecordsRequestIdentity(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := Logging(&logger.Logger{Logger: zap.New(core)})(Auth(testSecret)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/contacts", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "t1"))
	req.Header.Set("X-Correlation-ID", "corr-9")
	h.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "corr-9", fields["correlation_id"])
	assert.Equal(t, "t1", fields["tenant_id"])
	assert.Equal(t, "user-1", fields["user_id"])
	assert.Equal(t, int64(http.StatusOK), fields["status"])
}

func TestWebhookRateLimit(t *testing.T) {
	h := WebhookRateLimit(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/meta/webhook", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
