package restclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailboard/internal/apperr"
	"github.com/nhle/mailboard/internal/model"
)

func TestRetriesRateLimitedRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":"ok"}`))
	}))
	defer srv.Close()

	c := New(model.ProviderGmail, srv.URL, "tok", WithBackoffUnit(time.Millisecond))
	var out struct {
		Value string `json:"value"`
	}
	require.NoError(t, c.Get(context.Background(), "/things", &out))
	assert.Equal(t, "ok", out.Value)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRateLimitRetriesAreBounded(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(model.ProviderGmail, srv.URL, "tok", WithBackoffUnit(time.Millisecond), WithMaxRetries(2))
	err := c.Get(context.Background(), "/things", nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ProviderUnavailable))
	assert.Equal(t, int32(3), calls.Load())
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   apperr.Kind
	}{
		{http.StatusUnauthorized, apperr.ReauthorizationRequired},
		{http.StatusForbidden, apperr.ReauthorizationRequired},
		{http.StatusNotFound, apperr.NotFound},
		{http.StatusBadGateway, apperr.ProviderUnavailable},
		{http.StatusBadRequest, apperr.ProviderUnavailable},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		c := New(model.ProviderGraphMail, srv.URL, "tok")
		err := c.Post(context.Background(), "/x", map[string]string{"a": "b"}, nil)
		srv.Close()
		assert.Equal(t, tt.want, apperr.KindOf(err), "status %d", tt.status)
	}
}

func TestAbsolutePathBypassesBaseURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/next", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(model.ProviderGraphMail, "https://unused.invalid", "tok")
	require.NoError(t, c.Get(context.Background(), srv.URL+"/next", nil))
}

func TestBackoff(t *testing.T) {
	c := New(model.ProviderGmail, "https://x", "tok")
	assert.Equal(t, time.Second, c.backoff("", 0))
	assert.Equal(t, 4*time.Second, c.backoff("", 2))
	assert.Equal(t, 7*time.Second, c.backoff("7", 0))
	assert.Equal(t, maxBackoff, c.backoff("", 10))
	assert.Equal(t, maxBackoff, c.backoff("600", 0))
}
