package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dandantas/lms-worker/internal/model"
	"github.com/dandantas/lms-worker/internal/worker"
)

func testConfig(url string) Config {
	return Config{
		BaseURL:         url + "/",
		APIPath:         "/v1/telemetry",
		Timeout:         5 * time.Second,
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
	}
}

func newTestForwarder(url string) *Forwarder {
	f := NewForwarder(testConfig(url))
	f.newMsgID = func() string { return "msg-1" }
	return f
}

func TestBuildRequestEnvelope(t *testing.T) {
	f := newTestForwarder("http://localhost")
	events := []map[string]any{{"eid": "AUDIT"}}

	req := f.BuildRequest(model.TelemetryBatch{Ets: 1700000000000, Events: events})

	assert.Equal(t, "api.sunbird.telemetry", req.ID)
	assert.Equal(t, "3.0", req.Ver)
	assert.Equal(t, int64(1700000000000), req.Ets)
	assert.Equal(t, "msg-1", req.Params.MsgID)
	assert.Equal(t, events, req.Events)
}

func TestBuildRequestOmitsEmptyEvents(t *testing.T) {
	f := newTestForwarder("http://localhost")

	b, err := json.Marshal(f.BuildRequest(model.TelemetryBatch{Ets: 1, Events: []map[string]any{}}))

	require.NoError(t, err)
	assert.NotContains(t, string(b), "events")
}

func TestForwardPostsEnvelope(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/telemetry", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := newTestForwarder(server.URL).Forward(context.Background(), model.TelemetryBatch{
		Ets:    42,
		Events: []map[string]any{{"eid": "LOG"}},
	})

	require.NoError(t, err)
	assert.Equal(t, "api.sunbird.telemetry", got["id"])
	assert.Equal(t, map[string]any{"msgid": "msg-1"}, got["params"])
	assert.Len(t, got["events"], 1)
}

func TestForwardRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	err := newTestForwarder(server.URL).Forward(context.Background(), model.TelemetryBatch{Ets: 1})

	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestForwardDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	err := newTestForwarder(server.URL).Forward(context.Background(), model.TelemetryBatch{Ets: 1})

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestForwardOpensCircuitAfterRepeatedFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	f := newTestForwarder(server.URL)
	for i := 0; i < 5; i++ {
		require.Error(t, f.Forward(context.Background(), model.TelemetryBatch{Ets: 1}))
	}
	assert.Equal(t, "open", f.CircuitState())
	assert.Equal(t, int32(15), calls.Load())

	err := f.Forward(context.Background(), model.TelemetryBatch{Ets: 1})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(15), calls.Load())
}

func TestHandleTaskDropsMalformedBatch(t *testing.T) {
	f := newTestForwarder("http://127.0.0.1:1")

	err := f.HandleTask(context.Background(), worker.Task{Operation: model.OperationTelemetry, Payload: []byte("{")})

	assert.NoError(t, err)
}

func TestForwardRetriesUntilAttemptsRunOut(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	err := newTestForwarder(server.URL).Forward(context.Background(), model.TelemetryBatch{Ets: 1})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.Equal(t, int32(3), calls.Load())
}

func TestForwardStopsRetryingWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		cancel()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.InitialInterval = time.Second
	cfg.MaxInterval = time.Second
	err := NewForwarder(cfg).Forward(ctx, model.TelemetryBatch{Ets: 1})

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, int32(1), calls.Load())
}

func TestCircuitClosesAfterSuccessfulTrialBatch(t *testing.T) {
	var healthy atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.BreakerFailures = 1
	cfg.BreakerTimeout = 20 * time.Millisecond
	f := NewForwarder(cfg)

	require.Error(t, f.Forward(context.Background(), model.TelemetryBatch{Ets: 1}))
	assert.Equal(t, "open", f.CircuitState())
	assert.ErrorIs(t, f.Forward(context.Background(), model.TelemetryBatch{Ets: 1}), ErrCircuitOpen)

	healthy.Store(true)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, "half-open", f.CircuitState())

	require.NoError(t, f.Forward(context.Background(), model.TelemetryBatch{Ets: 1}))
	assert.Equal(t, "closed", f.CircuitState())
}

func TestClientErrorsCountTowardsCircuit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.BreakerFailures = 2
	f := NewForwarder(cfg)

	require.Error(t, f.Forward(context.Background(), model.TelemetryBatch{Ets: 1}))
	assert.Equal(t, "closed", f.CircuitState())
	require.Error(t, f.Forward(context.Background(), model.TelemetryBatch{Ets: 1}))
	assert.Equal(t, "open", f.CircuitState())
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(0))
	assert.True(t, retryable(http.StatusTooManyRequests))
	assert.True(t, retryable(http.StatusServiceUnavailable))
	assert.False(t, retryable(http.StatusBadRequest))
	assert.False(t, retryable(http.StatusNotFound))
}
