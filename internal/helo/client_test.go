// SPDX-License-Identifier: MIT

package helo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/ctvcoop/archivist/internal/config"
	"github.com/ctvcoop/archivist/internal/faults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDeviceServer mimics the HELO control surface.
type fakeDeviceServer struct {
	*httptest.Server
	mu        sync.Mutex
	actions   []string
	rtmp      map[string]string
	failNext  int
	rejectAll bool
}

func newFakeDevice(t *testing.T) *fakeDeviceServer {
	t.Helper()
	f := &fakeDeviceServer{rtmp: map[string]string{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/config", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.rejectAll {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if f.failNext > 0 {
			f.failNext--
			http.Error(w, "busy", http.StatusInternalServerError)
			return
		}
		q := r.URL.Query()
		f.actions = append(f.actions, q.Get("action")+":"+q.Get("value"))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/rtmp", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.rtmp = body
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Status{Recording: true, Firmware: "4.2.1"})
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeDeviceServer) Actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.actions...)
}

func newDeviceClient(t *testing.T, srv *fakeDeviceServer) *Client {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	c := NewClient(config.HeloDevice{City: "birchwood", IP: u.Host}, 2*time.Second)
	// No pacing in tests.
	c.limiter.SetLimit(1e6)
	return c
}

func TestDeviceActions(t *testing.T) {
	srv := newFakeDevice(t)
	c := newDeviceClient(t, srv)
	ctx := context.Background()

	require.NoError(t, c.StartRecord(ctx))
	require.NoError(t, c.StartStream(ctx))
	require.NoError(t, c.StopStream(ctx))
	require.NoError(t, c.StopRecord(ctx))
	assert.Equal(t, []string{"record:start", "stream:start", "stream:stop", "record:stop"}, srv.Actions())
}

func TestDeviceSetRTMPAndStatus(t *testing.T) {
	srv := newFakeDevice(t)
	c := newDeviceClient(t, srv)
	ctx := context.Background()

	require.NoError(t, c.SetRTMP(ctx, "rtmp://cdn/live", "sk-123"))
	srv.mu.Lock()
	assert.Equal(t, "rtmp://cdn/live", srv.rtmp["rtmp_url"])
	assert.Equal(t, "sk-123", srv.rtmp["stream_key"])
	srv.mu.Unlock()

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Recording)
	assert.Equal(t, "4.2.1", st.Firmware)
}

func TestDeviceRetriesOn5xx(t *testing.T) {
	srv := newFakeDevice(t)
	srv.mu.Lock()
	srv.failNext = 2
	srv.mu.Unlock()
	c := newDeviceClient(t, srv)

	require.NoError(t, c.StartRecord(context.Background()))
	assert.Equal(t, []string{"record:start"}, srv.Actions())
}

func TestDevice4xxSurfacesImmediately(t *testing.T) {
	srv := newFakeDevice(t)
	srv.mu.Lock()
	srv.rejectAll = true
	srv.mu.Unlock()
	c := newDeviceClient(t, srv)

	err := c.StartRecord(context.Background())
	kind, ok := faults.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, faults.DeviceUnavailable, kind)
}

func TestDeviceUnreachable(t *testing.T) {
	c := NewClient(config.HeloDevice{City: "ghost", IP: "127.0.0.1:1"}, 200*time.Millisecond)
	c.limiter.SetLimit(1e6)

	st, err := c.Status(context.Background())
	assert.Nil(t, st)
	kind, ok := faults.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, faults.DeviceUnavailable, kind)
}
