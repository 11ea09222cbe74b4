package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"poolbridge"
	"poolbridge/internal/coordinator"
	"poolbridge/internal/service"
)

const testToken = "valid-token"

type mockAuth struct {
	signUpID  int
	signUpErr error
	token     string
	tokenErr  error
	userID    int
	parseErr  error
}

func (m *mockAuth) SignUp(username, password string) (int, error) {
	return m.signUpID, m.signUpErr
}

func (m *mockAuth) GenerateToken(username, password string) (string, error) {
	return m.token, m.tokenErr
}

func (m *mockAuth) ParseToken(accessToken string) (int, error) {
	if m.parseErr != nil {
		return 0, m.parseErr
	}
	if accessToken != testToken {
		return 0, service.ErrInvalidToken
	}
	return m.userID, nil
}

type submittedWrite struct {
	deviceID string
	field    string
	value    any
	origin   string
}

type mockPool struct {
	writeErr    error
	lastWrite   submittedWrite
	scheduleErr error
	lastKey     string
	lastParams  service.ScheduleParams
	disableErr  error
	refreshErr  error
	applied     int
	intervalErr error
}

func (m *mockPool) SubmitWrite(_ context.Context, deviceID, field string, value any, origin string) error {
	m.lastWrite = submittedWrite{deviceID: deviceID, field: field, value: value, origin: origin}
	return m.writeErr
}

func (m *mockPool) SetSchedule(_ context.Context, deviceID, key string, p service.ScheduleParams, origin string) error {
	m.lastKey = key
	m.lastParams = p
	return m.scheduleErr
}

func (m *mockPool) DisableSchedule(_ context.Context, deviceID, key, origin string) error {
	m.lastKey = key
	return m.disableErr
}

func (m *mockPool) RequestRefresh(deviceID string) error { return m.refreshErr }

func (m *mockPool) SetRefreshInterval(_ context.Context, deviceID string, seconds int) (int, error) {
	if m.intervalErr != nil {
		return 0, m.intervalErr
	}
	if m.applied != 0 {
		return m.applied, nil
	}
	return seconds, nil
}

type mockMonitoring struct {
	mu        sync.Mutex
	snap      poolbridge.DeviceSnapshot
	ok        bool
	snapErr   error
	health    coordinator.Health
	healthErr error
	subErr    error
	subFields []string
	notify    func(changed []string)
}

func (m *mockMonitoring) Snapshot(deviceID string) (poolbridge.DeviceSnapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap, m.ok, m.snapErr
}

func (m *mockMonitoring) Health(deviceID string) (coordinator.Health, error) {
	return m.health, m.healthErr
}

func (m *mockMonitoring) Subscribe(deviceID string, fields []string, fn func(changed []string)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subErr != nil {
		return nil, m.subErr
	}
	m.subFields = fields
	m.notify = fn
	return func() {}, nil
}

func (m *mockMonitoring) setSnapshot(snap poolbridge.DeviceSnapshot, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap
	m.ok = ok
}

func (m *mockMonitoring) subscribedFields() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subFields
}

func (m *mockMonitoring) push(changed []string) {
	m.mu.Lock()
	fn := m.notify
	m.mu.Unlock()
	if fn != nil {
		fn(changed)
	}
}

type mockDevices struct {
	device      poolbridge.Device
	registerErr error
	devices     []poolbridge.Device
	listErr     error
	removeErr   error
	reloadErr   error
	reloadedID  string
}

func (m *mockDevices) Register(_ context.Context, p service.RegisterParams) (poolbridge.Device, error) {
	return m.device, m.registerErr
}

func (m *mockDevices) List(_ context.Context) ([]poolbridge.Device, error) {
	return m.devices, m.listErr
}

func (m *mockDevices) Remove(_ context.Context, id string) error { return m.removeErr }

func (m *mockDevices) Reload(_ context.Context, id string) error {
	m.reloadedID = id
	return m.reloadErr
}

func (m *mockDevices) StartAll(_ context.Context) error { return nil }

type mockEventLog struct {
	events []poolbridge.PoolEvent
	err    error
	filter service.LogFilter
}

func (m *mockEventLog) List(_ context.Context, f service.LogFilter) ([]poolbridge.PoolEvent, error) {
	m.filter = f
	return m.events, m.err
}

type testMocks struct {
	auth       *mockAuth
	pool       *mockPool
	monitoring *mockMonitoring
	devices    *mockDevices
	events     *mockEventLog
}

func newTestService() (*service.Service, *testMocks) {
	m := &testMocks{
		auth:       &mockAuth{userID: 7},
		pool:       &mockPool{},
		monitoring: &mockMonitoring{},
		devices:    &mockDevices{},
		events:     &mockEventLog{},
	}
	s := &service.Service{
		Pool:          m.pool,
		Monitoring:    m.monitoring,
		EventLog:      m.events,
		Devices:       m.devices,
		Authorization: m.auth,
	}
	return s, m
}

func newTestRouter(s *service.Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewHandler(s, nil).InitRoutes()
}

func performRequest(t *testing.T, r http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}
