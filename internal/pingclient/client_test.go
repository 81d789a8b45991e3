package pingclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPingSuccess(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/ping", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"latency":3.5,"packet_loss":0,"ttl":64,"error":null}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", zaptest.NewLogger(t).Sugar())
	res, err := c.Ping(context.Background(), Request{IP: "10.0.0.7", Count: 2, Timeout: 1})
	require.NoError(t, err)

	assert.Equal(t, Request{IP: "10.0.0.7", Count: 2, Timeout: 1}, got)
	assert.True(t, res.Success)
	assert.Equal(t, 3.5, res.Latency)
	assert.Equal(t, 64, res.TTL)
}

func TestPingFailures(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		c := New("", zaptest.NewLogger(t).Sugar())
		res, err := c.Ping(context.Background(), Request{IP: "10.0.0.1", Count: 1, Timeout: 1})
		assert.ErrorIs(t, err, ErrDisabled)
		assert.False(t, res.Success)
		assert.Equal(t, 100.0, res.PacketLoss)
	})

	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		res, err := New(srv.URL, zaptest.NewLogger(t).Sugar()).Ping(context.Background(), Request{IP: "10.0.0.1", Count: 1, Timeout: 1})
		assert.Error(t, err)
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "502")
	})

	t.Run("bad payload", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("pong"))
		}))
		defer srv.Close()

		res, err := New(srv.URL, zaptest.NewLogger(t).Sugar()).Ping(context.Background(), Request{IP: "10.0.0.1", Count: 1, Timeout: 1})
		assert.Error(t, err)
		assert.False(t, res.Success)
	})
}
