package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/proximity-audio/internal/config"
	"github.com/skypro1111/proximity-audio/internal/device"
	"github.com/skypro1111/proximity-audio/internal/metrics"
	"github.com/skypro1111/proximity-audio/internal/modem"
	"github.com/skypro1111/proximity-audio/internal/protocol"
	"github.com/skypro1111/proximity-audio/internal/session"
)

// fakeController records calls and returns canned results
type fakeController struct {
	mu        sync.Mutex
	emitted   [][]byte
	emitErr   error
	timeouts  []time.Duration
	result    modem.DecodeResult
	stopCalls int
}

func (f *fakeController) Emit(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitted = append(f.emitted, payload)
	return f.emitErr
}

func (f *fakeController) ListenForResponse(ctx context.Context, timeout time.Duration) modem.DecodeResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeouts = append(f.timeouts, timeout)
	return f.result
}

func (f *fakeController) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
}

func (f *fakeController) Status() session.Status {
	return session.Status{State: "idle", Backend: "fake"}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, ctrl Controller, m *metrics.Metrics) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	h := NewHTTPServer(cfg.HTTP, testLogger(), cfg, ctrl, m)
	ts := httptest.NewServer(h.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, url, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestEmitEndpoint(t *testing.T) {
	ctrl := &fakeController{}
	ts := newTestServer(t, ctrl, nil)

	resp, body := post(t, ts.URL+"/v1/emit", `{"text": "CHAL-42"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "emitted", body["status"])
	assert.EqualValues(t, 7, body["bytes"])

	// base64 payload
	resp, _ = post(t, ts.URL+"/v1/emit", `{"payload": "AQID"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, ctrl.emitted, 2)
	assert.Equal(t, []byte("CHAL-42"), ctrl.emitted[0])
	assert.Equal(t, []byte{1, 2, 3}, ctrl.emitted[1])
}

func TestEmitEndpointErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"both payload and text", `{"text": "a", "payload": "AQ=="}`, nil, http.StatusBadRequest},
		{"malformed json", `{"text": `, nil, http.StatusBadRequest},
		{"unknown field", `{"message": "hi"}`, nil, http.StatusBadRequest},
		{"payload too large", `{"text": "x"}`, protocol.ErrPayloadTooLarge, http.StatusRequestEntityTooLarge},
		{"busy", `{"text": "x"}`, session.ErrSessionAlreadyActive, http.StatusConflict},
		{"closed", `{"text": "x"}`, session.ErrControllerClosed, http.StatusServiceUnavailable},
		{"speaker failure", `{"text": "x"}`, device.WrapHardware("air", "write", io.ErrClosedPipe), http.StatusBadGateway},
		{"stopped", `{"text": "x"}`, fmt.Errorf("emit cancelled: %w", context.Canceled), http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &fakeController{emitErr: tt.err}, nil)
			resp, body := post(t, ts.URL+"/v1/emit", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestListenEndpoint(t *testing.T) {
	ctrl := &fakeController{result: modem.DecodeResult{
		Outcome: modem.OutcomeSuccess,
		Payload: []byte("CHAL-42"),
		Stats:   modem.ReceiverStats{Symbols: 22},
		Elapsed: 1500 * time.Millisecond,
	}}
	ts := newTestServer(t, ctrl, nil)

	resp, body := post(t, ts.URL+"/v1/listen", `{"timeout_ms": 2000}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", body["outcome"])
	assert.Equal(t, "CHAL-42", body["text"])
	assert.EqualValues(t, 1500, body["elapsed_ms"])

	// an empty body asks for the default window
	resp, _ = post(t, ts.URL+"/v1/listen", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = post(t, ts.URL+"/v1/listen", `{"timeout_ms": 0}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, []time.Duration{2 * time.Second, 5 * time.Second, 5 * time.Second}, ctrl.timeouts)

	resp, _ = post(t, ts.URL+"/v1/listen", `{"timeout_ms": -1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListenEndpointOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		result  modem.DecodeResult
		status  int
		outcome string
	}{
		{"timeout", modem.DecodeResult{Outcome: modem.OutcomeTimeout}, http.StatusOK, "timeout"},
		{"cancelled", modem.DecodeResult{Outcome: modem.OutcomeCancelled, Err: context.Canceled}, http.StatusOK, "cancelled"},
		{"busy", modem.DecodeResult{Outcome: modem.OutcomeSessionAlreadyActive, Err: session.ErrSessionAlreadyActive}, http.StatusConflict, "session_already_active"},
		{"hardware", modem.DecodeResult{Outcome: modem.OutcomeHardwareError, Err: device.WrapHardware("air", "read", io.ErrUnexpectedEOF)}, http.StatusBadGateway, "hardware_error"},
		{"closed", modem.DecodeResult{Outcome: modem.OutcomeCancelled, Err: session.ErrControllerClosed}, http.StatusServiceUnavailable, "cancelled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &fakeController{result: tt.result}, nil)
			resp, body := post(t, ts.URL+"/v1/listen", `{}`)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.outcome, body["outcome"])
			assert.Nil(t, body["payload"])
		})
	}
}

func TestStopAndStatusEndpoints(t *testing.T) {
	ctrl := &fakeController{}
	ts := newTestServer(t, ctrl, nil)

	resp, body := post(t, ts.URL+"/v1/stop", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "idle", body["state"])
	assert.Equal(t, 1, ctrl.stopCalls)

	resp, err := http.Get(ts.URL + "/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRoutingAndMethods(t *testing.T) {
	ts := newTestServer(t, &fakeController{}, nil)

	for _, path := range []string{"/", "/health", "/config", "/metrics", "/v1/status"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	for _, path := range []string{"/v1/emit", "/v1/listen", "/v1/stop"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode, path)
	}

	resp, err := http.Post(ts.URL+"/v1/status", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestConfigEndpointOmitsInputPath(t *testing.T) {
	cfg := config.Default()
	cfg.Device.WAV.InputPath = "/home/user/secret.wav"
	h := NewHTTPServer(cfg.HTTP, testLogger(), cfg, &fakeController{}, nil)

	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/config", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret.wav")
	assert.Contains(t, rec.Body.String(), `"sample_rate":48000`)
}

func TestRequestMetrics(t *testing.T) {
	m := metrics.NewMetricsWith(prometheus.NewRegistry())
	ts := newTestServer(t, &fakeController{emitErr: session.ErrSessionAlreadyActive}, m)

	post(t, ts.URL+"/v1/emit", `{"text": "x"}`)
	post(t, ts.URL+"/v1/emit", `{"text": "x"}`)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("POST", "/v1/emit", "409")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPErrors.WithLabelValues("POST", "/v1/emit", "client_error")))
}

func TestEmitListenOverAir(t *testing.T) {
	if testing.Short() {
		t.Skip("plays real-time audio")
	}

	air, err := device.NewAir(device.AirConfig{SampleRate: 48000, NoiseLevel: 0.005, Seed: 11})
	require.NoError(t, err)

	newCtrl := func(name string) *session.Controller {
		c, err := session.NewController(air.Endpoint(name), session.DefaultConfig(), testLogger(), nil)
		require.NoError(t, err)
		t.Cleanup(func() { c.Close() })
		return c
	}
	a, b := newCtrl("A"), newCtrl("B")
	tsA := newTestServer(t, a, nil)
	tsB := newTestServer(t, b, nil)

	type listenResult struct {
		status int
		body   ListenResponse
	}
	results := make(chan listenResult, 1)
	go func() {
		resp, err := http.Post(tsB.URL+"/v1/listen", "application/json", bytes.NewBufferString(`{"timeout_ms": 3000}`))
		if err != nil {
			results <- listenResult{}
			return
		}
		defer resp.Body.Close()
		var body ListenResponse
		json.NewDecoder(resp.Body).Decode(&body)
		results <- listenResult{status: resp.StatusCode, body: body}
	}()

	require.Eventually(t, func() bool { return b.State() == session.StateListening },
		time.Second, 5*time.Millisecond)

	resp, _ := post(t, tsA.URL+"/v1/emit", `{"text": "CHAL-42"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	res := <-results
	require.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, "success", res.body.Outcome, res.body.Error)
	assert.Equal(t, "CHAL-42", res.body.Text)
	assert.Equal(t, []byte("CHAL-42"), res.body.Payload)
}

func TestSessionRequestsAreRateLimited(t *testing.T) {
	cfg := config.Default()
	cfg.HTTP.RateLimit = 0.01
	cfg.HTTP.RateBurst = 1
	ctrl := &fakeController{result: modem.DecodeResult{Outcome: modem.OutcomeTimeout}}
	h := NewHTTPServer(cfg.HTTP, testLogger(), cfg, ctrl, nil)
	ts := httptest.NewServer(h.Handler())
	defer ts.Close()

	resp, _ := post(t, ts.URL+"/v1/emit", `{"text": "a"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := post(t, ts.URL+"/v1/listen", `{}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "too many session requests", body["error"])

	// status and stop are never limited
	resp, _ = post(t, ts.URL+"/v1/stop", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Len(t, ctrl.emitted, 1)
	assert.Empty(t, ctrl.timeouts)
}
