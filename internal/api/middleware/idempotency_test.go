package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ayo6706/transfer-core/internal/idempotency"
	"github.com/ayo6706/transfer-core/internal/repository/memstore"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newIdempotentHandler(t *testing.T, h http.HandlerFunc) http.Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := idempotency.NewStore(client, memstore.New(), time.Minute).WithWaitTimeout(200 * time.Millisecond)
	return IdempotencyMiddleware(store, zap.NewNop())(h)
}

func postWithKey(h http.Handler, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/transfers/execute", strings.NewReader(body))
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	calls := 0
	h := newIdempotentHandler(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"reference":"TRF-20260101-ABCDEFGH"}`))
	})

	first := postWithKey(h, "k-1", `{"amount":"10"}`)
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get("X-Idempotent-Replay"))

	second := postWithKey(h, "k-1", `{"amount":"10"}`)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, idempotency.ServedByCache, second.Header().Get("X-Idempotent-Replay"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, calls)

	conflict := postWithKey(h, "k-1", `{"amount":"11"}`)
	assert.Equal(t, http.StatusConflict, conflict.Code)
	assert.Contains(t, conflict.Body.String(), "IdempotencyConflict")
	assert.Equal(t, 1, calls)
}

func TestIdempotencyReleasesKeyOnServerError(t *testing.T) {
	calls := 0
	h := newIdempotentHandler(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	assert.Equal(t, http.StatusInternalServerError, postWithKey(h, "k-2", `{}`).Code)
	retry := postWithKey(h, "k-2", `{}`)
	assert.Equal(t, http.StatusOK, retry.Code)
	assert.Empty(t, retry.Header().Get("X-Idempotent-Replay"))
	assert.Equal(t, 2, calls)
}

func TestIdempotencyRejectsBadRequests(t *testing.T) {
	h := newIdempotentHandler(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	})

	tests := []struct {
		name   string
		key    string
		body   string
		status int
	}{
		{name: "missing key", key: "", body: `{}`, status: http.StatusBadRequest},
		{name: "key too long", key: strings.Repeat("k", maxIdempotencyKeyLength+1), body: `{}`, status: http.StatusBadRequest},
		{name: "body too large", key: "k-3", body: strings.Repeat("x", maxIdempotentBodyBytes+1), status: http.StatusRequestEntityTooLarge},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			w := postWithKey(h, tc.key, tc.body)
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
		})
	}
}

func TestIdempotencyIgnoresSafeMethods(t *testing.T) {
	h := newIdempotentHandler(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	req := httptest.NewRequest(http.MethodGet, "/v1/transfers/my-transfers", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}
