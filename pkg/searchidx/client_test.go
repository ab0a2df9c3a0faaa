package searchidx

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseprobe/discovery-cli/internal/resilience"
)

func fastRetry(attempts int) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestIndex_SendsDocument(t *testing.T) {
	var gotPath string
	var gotDoc Document

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotDoc))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "discovery-emails", WithRetryConfig(fastRetry(1)))

	sent := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	err := c.Index(context.Background(), Document{
		ID:          "email-1",
		RunID:       "run-1",
		Project:     "matter-001",
		Subject:     "budget",
		SenderEmail: "pat@site.com",
		DateSent:    &sent,
	})
	require.NoError(t, err)
	assert.Equal(t, "/discovery-emails/_doc/email-1", gotPath)
	assert.Equal(t, "email-1", gotDoc.ID)
	assert.Equal(t, "matter-001", gotDoc.Project)
}

func TestIndex_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "discovery-emails", WithRetryConfig(fastRetry(3)))

	err := c.Index(context.Background(), Document{ID: "email-1"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestIndex_DoesNotRetryClientError(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "discovery-emails", WithRetryConfig(fastRetry(3)))

	err := c.Index(context.Background(), Document{ID: "email-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestNoop(t *testing.T) {
	require.NoError(t, Noop{}.Index(context.Background(), Document{ID: "x"}))
}
