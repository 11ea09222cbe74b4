package handlers

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"poolbridge"
	"poolbridge/internal/coordinator"
	"poolbridge/internal/service"
)

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestService()
	router := newTestRouter(s)

	w := performRequest(t, router, http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", w.Code)
	}
	if got := w.Body.String(); got != `{"status":"ok"}` {
		t.Fatalf("body = %s", got)
	}
}

func TestGetState_ReturnsSnapshot(t *testing.T) {
	s, m := newTestService()
	m.monitoring.ok = true
	m.monitoring.snap = poolbridge.DeviceSnapshot{
		Fields:          map[string]any{"pool:temp": 27.5},
		SupportedFields: []string{"pool:temp"},
		FetchedAt:       time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
	}
	router := newTestRouter(s)

	w := performRequest(t, router, http.MethodGet, "/api/v1/devices/dev1/state", "", testToken)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200, body %s", w.Code, w.Body.String())
	}
	var body struct {
		Fields map[string]any `json:"fields"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Fields["pool:temp"] != 27.5 {
		t.Fatalf("pool:temp = %v", body.Fields["pool:temp"])
	}
}

func TestGetState_NoSnapshotYet(t *testing.T) {
	s, m := newTestService()
	m.monitoring.ok = false
	router := newTestRouter(s)

	w := performRequest(t, router, http.MethodGet, "/api/v1/devices/dev1/state", "", testToken)
	if w.Code != http.StatusNoContent {
		t.Fatalf("code = %d, want 204", w.Code)
	}
}

func TestGetState_DeviceNotRunning(t *testing.T) {
	s, m := newTestService()
	m.monitoring.snapErr = service.ErrDeviceNotRunning
	router := newTestRouter(s)

	w := performRequest(t, router, http.MethodGet, "/api/v1/devices/ghost/state", "", testToken)
	if w.Code != http.StatusNotFound {
		t.Fatalf("code = %d, want 404", w.Code)
	}
}

func TestRequestRefresh_Accepted(t *testing.T) {
	s, _ := newTestService()
	router := newTestRouter(s)

	w := performRequest(t, router, http.MethodPost, "/api/v1/devices/dev1/refresh", "", testToken)
	if w.Code != http.StatusAccepted {
		t.Fatalf("code = %d, want 202", w.Code)
	}
	if got := w.Body.String(); got != `{"status":"accepted"}` {
		t.Fatalf("body = %s", got)
	}
}

func TestRequestRefresh_DeferredDuringSettle(t *testing.T) {
	s, m := newTestService()
	m.pool.refreshErr = coordinator.ErrRefreshDeferred
	router := newTestRouter(s)

	w := performRequest(t, router, http.MethodPost, "/api/v1/devices/dev1/refresh", "", testToken)
	if w.Code != http.StatusConflict {
		t.Fatalf("code = %d, want 409", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "deferred" {
		t.Fatalf("status = %q, want deferred", body["status"])
	}
}

func TestRequestRefresh_AlreadyInFlight(t *testing.T) {
	s, m := newTestService()
	m.pool.refreshErr = coordinator.ErrRefreshInFlight
	router := newTestRouter(s)

	w := performRequest(t, router, http.MethodPost, "/api/v1/devices/dev1/refresh", "", testToken)
	if w.Code != http.StatusConflict {
		t.Fatalf("code = %d, want 409", w.Code)
	}
}

func TestRequestRefresh_DeviceNotRunning(t *testing.T) {
	s, m := newTestService()
	m.pool.refreshErr = service.ErrDeviceNotRunning
	router := newTestRouter(s)

	w := performRequest(t, router, http.MethodPost, "/api/v1/devices/ghost/refresh", "", testToken)
	if w.Code != http.StatusNotFound {
		t.Fatalf("code = %d, want 404", w.Code)
	}
}

func TestSubmitWrite_Applied(t *testing.T) {
	s, m := newTestService()
	router := newTestRouter(s)

	w := performRequest(t, router, http.MethodPost, "/api/v1/devices/dev1/writes",
		`{"field":"ph_sp","value":7.2}`, testToken)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200, body %s", w.Code, w.Body.String())
	}
	if m.pool.lastWrite.deviceID != "dev1" || m.pool.lastWrite.field != "ph_sp" {
		t.Fatalf("write = %+v", m.pool.lastWrite)
	}
	if m.pool.lastWrite.value != 7.2 {
		t.Fatalf("value = %v", m.pool.lastWrite.value)
	}
	if m.pool.lastWrite.origin != "user:7" {
		t.Fatalf("origin = %q, want user:7", m.pool.lastWrite.origin)
	}
}

func TestSubmitWrite_MissingField(t *testing.T) {
	s, m := newTestService()
	router := newTestRouter(s)

	w := performRequest(t, router, http.MethodPost, "/api/v1/devices/dev1/writes",
		`{"value":true}`, testToken)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", w.Code)
	}
	if m.pool.lastWrite.field != "" {
		t.Fatal("write should not reach the service on a bad body")
	}
}

func TestSubmitWrite_CommandFailed(t *testing.T) {
	s, m := newTestService()
	m.pool.writeErr = coordinator.ErrCommandFailed
	router := newTestRouter(s)

	w := performRequest(t, router, http.MethodPost, "/api/v1/devices/dev1/writes",
		`{"field":"pool:boost","value":true}`, testToken)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("code = %d, want 502", w.Code)
	}
}

func TestSetSchedule_PartialEdit(t *testing.T) {
	s, m := newTestService()
	router := newTestRouter(s)

	w := performRequest(t, router, http.MethodPut, "/api/v1/devices/dev1/schedules/sch6",
		`{"end":"22:00"}`, testToken)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200, body %s", w.Code, w.Body.String())
	}
	if m.pool.lastKey != "sch6" {
		t.Fatalf("key = %q", m.pool.lastKey)
	}
	if m.pool.lastParams.Start != "" || m.pool.lastParams.End != "22:00" || m.pool.lastParams.RPM != nil {
		t.Fatalf("params = %+v", m.pool.lastParams)
	}
}

func TestSetSchedule_WithRPM(t *testing.T) {
	s, m := newTestService()
	router := newTestRouter(s)

	w := performRequest(t, router, http.MethodPut, "/api/v1/devices/dev1/schedules/sch6",
		`{"start":"11:00","end":"23:00","rpm":2000}`, testToken)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", w.Code)
	}
	if m.pool.lastParams.RPM == nil || *m.pool.lastParams.RPM != 2000 {
		t.Fatalf("rpm = %v", m.pool.lastParams.RPM)
	}
}

func TestDisableSchedule(t *testing.T) {
	s, m := newTestService()
	router := newTestRouter(s)

	w := performRequest(t, router, http.MethodDelete, "/api/v1/devices/dev1/schedules/sch9", "", testToken)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", w.Code)
	}
	if m.pool.lastKey != "sch9" {
		t.Fatalf("key = %q", m.pool.lastKey)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "schedule_disabled" {
		t.Fatalf("status = %q", body["status"])
	}
}

func TestSetInterval_ReturnsClampedValue(t *testing.T) {
	s, m := newTestService()
	m.pool.applied = 300 // service clamps 60 up to the floor
	router := newTestRouter(s)

	w := performRequest(t, router, http.MethodPut, "/api/v1/devices/dev1/interval",
		`{"seconds":60}`, testToken)
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", w.Code)
	}
	if got := w.Body.String(); got != `{"seconds":300}` {
		t.Fatalf("body = %s", got)
	}
}

func TestSetInterval_InvalidBody(t *testing.T) {
	s, _ := newTestService()
	router := newTestRouter(s)

	w := performRequest(t, router, http.MethodPut, "/api/v1/devices/dev1/interval",
		`{"seconds":"soon"}`, testToken)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", w.Code)
	}
}
