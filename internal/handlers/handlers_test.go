package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"pricealerts/internal/alerts"
	"pricealerts/internal/database"
	"pricealerts/internal/events"
	"pricealerts/internal/monitor"
	"pricealerts/internal/notify"
	"pricealerts/internal/price"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const hook = "https://discord.com/api/webhooks/123/abc"

type stubPrices struct {
	fail bool
}

func (s stubPrices) Resolve(_ context.Context, base, quote string) (price.Quote, error) {
	if s.fail {
		return price.Quote{}, fmt.Errorf("%w: %s/%s", price.ErrPriceUnavailable, base, quote)
	}
	return price.Quote{BasePrice: 50000, QuotePrice: 1, Ratio: 50000}, nil
}

type stubWebhooks struct{}

func (stubWebhooks) ValidateURL(url string) error { return notify.ValidateURL(url) }

func (stubWebhooks) TestDelivery(context.Context, string) error { return nil }

type fakeMonitor struct {
	running  bool
	interval time.Duration
	checks   int
}

func (f *fakeMonitor) Start() error {
	if f.running {
		return monitor.ErrAlreadyRunning
	}
	f.running = true
	return nil
}

func (f *fakeMonitor) Stop() error {
	if !f.running {
		return monitor.ErrNotRunning
	}
	f.running = false
	return nil
}

func (f *fakeMonitor) Restart() error {
	f.running = true
	return nil
}

func (f *fakeMonitor) Status(context.Context) monitor.Status {
	return monitor.Status{Running: f.running, CheckIntervalSeconds: f.interval.Seconds()}
}

func (f *fakeMonitor) ForceCheck(context.Context) (monitor.CycleStats, error) {
	f.checks++
	return monitor.CycleStats{ID: "cycle", Checked: 2, Triggered: 1}, nil
}

func (f *fakeMonitor) SetInterval(d time.Duration) error {
	if d < 5*time.Second {
		return monitor.ErrIntervalFloor
	}
	f.interval = d
	return nil
}

type memCache struct {
	mu          sync.Mutex
	data        map[string]string
	hits        int
	invalidated int
}

func (m *memCache) Get(_ context.Context, key, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if ok {
		m.hits++
	}
	return v, nil
}

func (m *memCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memCache) InvalidateByPrefix(_ context.Context, prefix, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
		}
	}
	m.invalidated++
}

type fixture struct {
	server *Server
	mon    *fakeMonitor
	cache  *memCache
	hub    *Hub
	http   http.Handler
}

func newFixture(t *testing.T, prices PriceResolver) *fixture {
	t.Helper()
	store, err := database.Open(context.Background(), database.DriverSQLite, ":memory:", zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	svc := alerts.NewService(store, prices, stubWebhooks{}, alerts.Options{}, zap.NewNop())
	f := &fixture{
		mon:   &fakeMonitor{interval: 30 * time.Second},
		cache: &memCache{data: map[string]string{}},
		hub:   NewHub(zap.NewNop()),
	}
	f.server = NewServer(Options{
		Alerts:   svc,
		Monitor:  f.mon,
		Prices:   prices,
		Hub:      f.hub,
		Cache:    f.cache,
		Instance: "test",
	}, zap.NewNop())
	f.http = f.server.Routes()
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.http.ServeHTTP(rec, req)

	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("%s %s: decode response %q: %v", method, path, rec.Body.String(), err)
	}
	return rec, resp
}

const createBody = `{"base_currency":"btc","quote_currency":"usd","condition_type":"above","target_price":50000,"webhook_url":"` + hook + `","user_identifier":"alice"}`

func TestAlertCRUD(t *testing.T) {
	f := newFixture(t, stubPrices{})

	rec, resp := f.do(t, http.MethodPost, "/alerts", createBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d (%s)", rec.Code, resp.Message)
	}
	created := resp.Data.(map[string]interface{})
	id := int64(created["id"].(float64))
	if created["base_currency"] != "BTC" {
		t.Errorf("base_currency = %v", created["base_currency"])
	}

	rec, _ = f.do(t, http.MethodGet, fmt.Sprintf("/alerts/%d", id), "")
	if rec.Code != http.StatusOK {
		t.Errorf("get status = %d", rec.Code)
	}

	rec, resp = f.do(t, http.MethodPost, fmt.Sprintf("/alerts/%d/toggle", id), "")
	if rec.Code != http.StatusOK || resp.Data.(map[string]interface{})["is_active"] != false {
		t.Errorf("toggle = %d %v", rec.Code, resp.Data)
	}

	rec, resp = f.do(t, http.MethodPost, fmt.Sprintf("/alerts/%d/reset", id), "")
	if rec.Code != http.StatusOK || resp.Data.(map[string]interface{})["is_active"] != true {
		t.Errorf("reset = %d %v", rec.Code, resp.Data)
	}

	rec, resp = f.do(t, http.MethodGet, "/alerts/statistics?user_identifier=alice", "")
	if rec.Code != http.StatusOK || resp.Data.(map[string]interface{})["total"] != float64(1) {
		t.Errorf("statistics = %d %v", rec.Code, resp.Data)
	}

	rec, _ = f.do(t, http.MethodDelete, fmt.Sprintf("/alerts/%d", id), "")
	if rec.Code != http.StatusOK {
		t.Errorf("delete status = %d", rec.Code)
	}
	rec, _ = f.do(t, http.MethodDelete, fmt.Sprintf("/alerts/%d", id), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
	rec, _ = f.do(t, http.MethodGet, fmt.Sprintf("/alerts/%d", id), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("get deleted status = %d, want 404", rec.Code)
	}
}

func TestCreateAlertErrors(t *testing.T) {
	tests := []struct {
		name   string
		prices PriceResolver
		body   string
		status int
		field  string
	}{
		{"malformed body", stubPrices{}, `{`, http.StatusBadRequest, ""},
		{"bad condition", stubPrices{}, strings.Replace(createBody, `"above"`, `"sideways"`, 1), http.StatusBadRequest, "condition_type"},
		{"bad webhook", stubPrices{}, strings.Replace(createBody, hook, "https://example.com/x", 1), http.StatusBadRequest, "webhook_url"},
		{"unpriceable pair", stubPrices{fail: true}, createBody, http.StatusBadRequest, "currency_pair"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.prices)
			rec, resp := f.do(t, http.MethodPost, "/alerts", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, resp.Message)
			}
			if tt.field != "" {
				data, _ := resp.Data.(map[string]interface{})
				if data["field"] != tt.field {
					t.Errorf("field = %v, want %s", data["field"], tt.field)
				}
			}
		})
	}
}

func TestBrowseAlertsCache(t *testing.T) {
	f := newFixture(t, stubPrices{})

	f.do(t, http.MethodGet, "/alerts?user_identifier=alice", "")
	_, resp := f.do(t, http.MethodGet, "/alerts?user_identifier=alice", "")
	if f.cache.hits != 1 {
		t.Errorf("cache hits = %d, want 1", f.cache.hits)
	}
	if list, _ := resp.Data.([]interface{}); len(list) != 0 {
		t.Errorf("cached list = %v, want empty", resp.Data)
	}

	f.do(t, http.MethodPost, "/alerts", createBody)
	_, resp = f.do(t, http.MethodGet, "/alerts?user_identifier=alice", "")
	if list, _ := resp.Data.([]interface{}); len(list) != 1 {
		t.Errorf("list after create = %v, want one alert", resp.Data)
	}

	invalidated := f.cache.invalidated
	if err := f.server.Publish(context.Background(), events.TriggerEvent{AlertID: 1}); err != nil {
		t.Fatal(err)
	}
	if f.cache.invalidated != invalidated+1 {
		t.Errorf("trigger did not invalidate listings")
	}
}

func TestMonitorControl(t *testing.T) {
	f := newFixture(t, stubPrices{})

	tests := []struct {
		method, path, body string
		status             int
	}{
		{http.MethodPost, "/monitor/start", "", http.StatusOK},
		{http.MethodPost, "/monitor/start", "", http.StatusConflict},
		{http.MethodPost, "/monitor/stop", "", http.StatusOK},
		{http.MethodPost, "/monitor/stop", "", http.StatusConflict},
		{http.MethodPost, "/monitor/restart", "", http.StatusOK},
		{http.MethodGet, "/monitor/status", "", http.StatusOK},
		{http.MethodGet, "/monitor/start", "", http.StatusMethodNotAllowed},
		{http.MethodPut, "/monitor/interval", `{"seconds":2}`, http.StatusBadRequest},
		{http.MethodPut, "/monitor/interval", `{"seconds":45}`, http.StatusOK},
		{http.MethodPost, "/monitor/check", "", http.StatusOK},
		{http.MethodPost, "/monitor/bogus", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		rec, resp := f.do(t, tt.method, tt.path, tt.body)
		if rec.Code != tt.status {
			t.Errorf("%s %s = %d, want %d (%s)", tt.method, tt.path, rec.Code, tt.status, resp.Message)
		}
	}

	if f.mon.interval != 45*time.Second {
		t.Errorf("interval = %v, want 45s", f.mon.interval)
	}
	if f.mon.checks != 1 {
		t.Errorf("force checks = %d, want 1", f.mon.checks)
	}
}

func TestCurrentPrice(t *testing.T) {
	rec, resp := newFixture(t, stubPrices{}).do(t, http.MethodGet, "/prices/current?base=btc&quote=usd", "")
	if rec.Code != http.StatusOK || resp.Data.(map[string]interface{})["ratio"] != float64(50000) {
		t.Errorf("current price = %d %v", rec.Code, resp.Data)
	}

	rec, _ = newFixture(t, stubPrices{fail: true}).do(t, http.MethodGet, "/prices/current?base=btc&quote=usd", "")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("unavailable price status = %d, want 502", rec.Code)
	}

	rec, _ = newFixture(t, stubPrices{}).do(t, http.MethodGet, "/prices/current?base=btc", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing quote status = %d, want 400", rec.Code)
	}
}

func TestSSEStream(t *testing.T) {
	f := newFixture(t, stubPrices{})
	srv := httptest.NewServer(f.http)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/alerts/stream?user_identifier=alice", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil || !strings.HasPrefix(line, ": connected") {
		t.Fatalf("first line = %q, %v", line, err)
	}

	f.hub.Publish(ctx, events.TriggerEvent{AlertID: 7, UserIdentifier: "bob"})
	f.hub.Publish(ctx, events.TriggerEvent{AlertID: 8, UserIdentifier: "alice"})

	var data string
	for data == "" {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(strings.TrimSpace(line), "data: ")
		}
	}

	var ev events.TriggerEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.AlertID != 8 {
		t.Errorf("alert_id = %d, want 8 (other users filtered)", ev.AlertID)
	}
}

func TestWebSocketStream(t *testing.T) {
	f := newFixture(t, stubPrices{})
	srv := httptest.NewServer(f.http)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/alerts/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for f.hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	f.hub.Publish(context.Background(), events.TriggerEvent{AlertID: 3, BaseCurrency: "ETH", QuoteCurrency: "BTC"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev events.TriggerEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.AlertID != 3 || ev.BaseCurrency != "ETH" {
		t.Errorf("event = %+v", ev)
	}
}

func TestAlertPathErrors(t *testing.T) {
	f := newFixture(t, stubPrices{})
	tests := []struct {
		method, path string
		status       int
	}{
		{http.MethodGet, "/alerts/abc", http.StatusBadRequest},
		{http.MethodPut, "/alerts/1", http.StatusMethodNotAllowed},
		{http.MethodGet, "/alerts/1/toggle", http.StatusMethodNotAllowed},
		{http.MethodPost, "/alerts/1/explode", http.StatusNotFound},
		{http.MethodPost, "/alerts/999/toggle", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec, _ := f.do(t, tt.method, tt.path, "")
		if rec.Code != tt.status {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.status)
		}
	}
}
