package manager

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/TheCacophonyProject/smart-battery-manager/charge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := get(t, newRouter(&statusHolder{}), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestStatusBeforeFirstCycle(t *testing.T) {
	rec := get(t, newRouter(&statusHolder{}), "/api/status")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusReport(t *testing.T) {
	status := &statusHolder{}
	status.Observe(Report{
		Time:         time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC),
		Percent:      76,
		Temperature:  34,
		Mode:         charge.ModeCharging,
		HeatPaused:   true,
		Directive:    "discharge 20",
		Transitions:  []string{"thermal-cut"},
		StateChanged: true,
	})

	rec := get(t, newRouter(status), "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"time": "2026-01-02T15:04:05Z",
		"percent": 76,
		"temperature": 34,
		"degraded": false,
		"mode": "charging",
		"heat_paused": true,
		"directive": "discharge 20",
		"transitions": ["thermal-cut"],
		"state_changed": true
	}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	metricsObserver{}.Observe(Report{Percent: 64, Temperature: 30.5, Mode: charge.ModeSailing})

	rec := get(t, newRouter(&statusHolder{}), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "battery_manager_charge_percent 64")
	assert.Contains(t, body, "battery_manager_temperature_celsius 30.5")
	assert.Contains(t, body, `battery_manager_mode{mode="sailing"} 1`)
	assert.Contains(t, body, `battery_manager_mode{mode="charging"} 0`)
}

func TestServeHTTPShutsDown(t *testing.T) {
	l, err := listenHTTP("127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serveHTTP(ctx, l, newRouter(&statusHolder{})) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + l.Addr().String() + "/health")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestListenHTTPBadAddress(t *testing.T) {
	_, err := listenHTTP("not-an-address")
	assert.Error(t, err)
}
