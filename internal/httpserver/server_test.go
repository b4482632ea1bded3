package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrSnakeDoc/mcwatch/internal/delivery"
	"github.com/MrSnakeDoc/mcwatch/internal/domain"
	"github.com/MrSnakeDoc/mcwatch/internal/httpserver/deps"
	"github.com/MrSnakeDoc/mcwatch/internal/logger"
	"github.com/MrSnakeDoc/mcwatch/internal/metrics"
	"github.com/MrSnakeDoc/mcwatch/internal/monitor"
	"github.com/MrSnakeDoc/mcwatch/internal/poller"
	"github.com/MrSnakeDoc/mcwatch/internal/settings"
)

type memBackend struct {
	mu   sync.Mutex
	data []byte
}

func (m *memBackend) Load(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data, nil
}

func (m *memBackend) Save(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
	return nil
}

// upProber answers for hosts starting with "up.".
type upProber struct{}

func (upProber) Probe(_ context.Context, addr domain.Address, _ domain.ProtocolKind) (*domain.StatusReading, error) {
	if strings.HasPrefix(addr.Host, "up.") {
		return &domain.StatusReading{Version: "1.21", PlayersOnline: 3, PlayersMax: 20}, nil
	}
	return nil, errors.New("connection refused")
}

type testAPI struct {
	handler http.Handler
	trigger chan struct{}
	mon     *monitor.Monitor
}

func newTestAPI(t *testing.T, allowed ...string) *testAPI {
	t.Helper()
	store, err := settings.Open(context.Background(), &memBackend{}, settings.JSONCodec{})
	if err != nil {
		t.Fatal(err)
	}
	log := logger.Nop()
	m := metrics.New()
	mon := monitor.New(store, upProber{}, delivery.NewLogOnly(log), log, m,
		poller.Options{ProbeTimeout: time.Second}, monitor.Options{})

	trigger := make(chan struct{}, 1)
	d := deps.Deps{
		Logger:          log,
		StartTime:       time.Now(),
		Version:         "test",
		AllowedCIDRS:    allowed,
		Monitor:         mon,
		Metrics:         m,
		PollTrigger:     trigger,
		QueryRatePerMin: 6,
		QueryBurst:      2,
	}
	return &testAPI{handler: NewRouter(log, d, 5*time.Second), trigger: trigger, mon: mon}
}

func (a *testAPI) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

const groupPath = "/api/bots/10001/groups/20002"

func TestHealthAndReady(t *testing.T) {
	api := newTestAPI(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		if rec := api.do(t, http.MethodGet, path, ""); rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d", path, rec.Code)
		}
	}
	rec := api.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "mcwatch_") {
		t.Errorf("GET /metrics = %d", rec.Code)
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodPost, groupPath+"/servers", `{"name":"srvA","address":"up.example.com","type":"java"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add = %d %s", rec.Code, rec.Body.String())
	}
	added := decode[struct {
		Subscription domain.Subscription `json:"subscription"`
		Key          string              `json:"server_key"`
	}](t, rec)
	if added.Subscription.Port != domain.DefaultJavaPort || added.Key == "" {
		t.Errorf("add response = %+v", added)
	}

	rec = api.do(t, http.MethodPost, groupPath+"/servers", `{"name":"srvA","address":"other.example.com"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate add = %d", rec.Code)
	}

	rec = api.do(t, http.MethodGet, "/api/servers", "")
	servers := decode[struct {
		Count int `json:"count"`
	}](t, rec)
	if servers.Count != 1 {
		t.Errorf("servers count = %d", servers.Count)
	}

	if rec := api.do(t, http.MethodDelete, groupPath+"/servers/srvA", ""); rec.Code != http.StatusNoContent {
		t.Errorf("remove = %d", rec.Code)
	}
	if rec := api.do(t, http.MethodDelete, groupPath+"/servers/srvA", ""); rec.Code != http.StatusNotFound {
		t.Errorf("second remove = %d", rec.Code)
	}
	if len(api.mon.Servers()) != 0 {
		t.Error("server still registered")
	}
}

func TestAddSubscriptionBadInput(t *testing.T) {
	api := newTestAPI(t)

	tests := []struct {
		name string
		body string
	}{
		{"bad port", `{"name":"a","address":"host:70000"}`},
		{"bad type", `{"name":"a","address":"host","type":"pocket"}`},
		{"empty name", `{"name":" ","address":"host"}`},
		{"unknown field", `{"name":"a","address":"host","extra":1}`},
		{"not json", `name=a`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, http.MethodPost, groupPath+"/servers", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (%s)", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestQueryPermissions(t *testing.T) {
	api := newTestAPI(t)
	api.do(t, http.MethodPost, groupPath+"/servers", `{"name":"srvA","address":"up.example.com"}`)
	api.do(t, http.MethodPost, groupPath+"/servers", `{"name":"srvB","address":"down.example.com:25570"}`)

	if rec := api.do(t, http.MethodGet, groupPath+"/query", ""); rec.Code != http.StatusForbidden {
		t.Fatalf("query on disabled group = %d", rec.Code)
	}

	if rec := api.do(t, http.MethodPut, "/api/bots/10001/enable", `{"enable":true}`); rec.Code != http.StatusOK {
		t.Fatalf("bot enable = %d", rec.Code)
	}
	if rec := api.do(t, http.MethodPut, groupPath+"/settings?path=enable", `true`); rec.Code != http.StatusOK {
		t.Fatalf("group enable = %d %s", rec.Code, rec.Body.String())
	}

	rec := api.do(t, http.MethodGet, groupPath+"/query", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("query = %d %s", rec.Code, rec.Body.String())
	}
	out := decode[struct {
		Results []domain.QueryResult `json:"results"`
	}](t, rec)
	if len(out.Results) != 2 {
		t.Fatalf("results = %d", len(out.Results))
	}
	if !out.Results[0].Reachable() || out.Results[1].Reachable() {
		t.Errorf("reachability = %v, %v", out.Results[0].Reachable(), out.Results[1].Reachable())
	}

	// the refused and the allowed query above spent the burst of 2
	api.do(t, http.MethodGet, groupPath+"/query", "")
	if rec := api.do(t, http.MethodGet, groupPath+"/query", ""); rec.Code != http.StatusTooManyRequests {
		t.Errorf("rate limited query = %d", rec.Code)
	}
}

func TestGroupSettings(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, groupPath+"/settings?path=enable_query", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get = %d", rec.Code)
	}
	got := decode[struct {
		Value bool `json:"value"`
	}](t, rec)
	if !got.Value {
		t.Error("enable_query default should read true")
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"write flag", http.MethodPut, "enable_check", `false`, http.StatusOK},
		{"write non bool", http.MethodPut, "enable", `"yes"`, http.StatusBadRequest},
		{"write servers", http.MethodPut, "servers", `[]`, http.StatusForbidden},
		{"unknown path", http.MethodGet, "owner", "", http.StatusBadRequest},
		{"whole group", http.MethodGet, ".", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, tt.method, groupPath+"/settings?path="+tt.path, tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	if api.mon.Access(domain.SubscriberRef{AccountID: "10001", GroupID: "20002"}).Check {
		t.Error("enable_check write not applied")
	}
}

func TestGlobalEnable(t *testing.T) {
	api := newTestAPI(t)
	if rec := api.do(t, http.MethodPut, "/api/settings/enable", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing enable = %d", rec.Code)
	}
	if rec := api.do(t, http.MethodPut, "/api/settings/enable", `{"enable":false}`); rec.Code != http.StatusOK {
		t.Errorf("disable = %d", rec.Code)
	}
}

func TestPollTrigger(t *testing.T) {
	api := newTestAPI(t)
	if rec := api.do(t, http.MethodPost, "/api/poll", ""); rec.Code != http.StatusAccepted {
		t.Errorf("first poll = %d", rec.Code)
	}
	if rec := api.do(t, http.MethodPost, "/api/poll", ""); rec.Code != http.StatusTooManyRequests {
		t.Errorf("pending poll = %d", rec.Code)
	}
	<-api.trigger
	if rec := api.do(t, http.MethodPost, "/api/poll", ""); rec.Code != http.StatusAccepted {
		t.Errorf("poll after drain = %d", rec.Code)
	}
}

func TestProbeEndpoint(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, http.MethodGet, "/api/probe?address=up.example.com&type=bedrock", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("probe = %d", rec.Code)
	}
	out := decode[struct {
		Port      int  `json:"port"`
		Reachable bool `json:"reachable"`
	}](t, rec)
	if !out.Reachable || out.Port != domain.DefaultBedrockPort {
		t.Errorf("probe = %+v", out)
	}

	rec = api.do(t, http.MethodGet, "/api/probe?address=down.example.com", "")
	down := decode[struct {
		Reachable bool   `json:"reachable"`
		Error     string `json:"error"`
	}](t, rec)
	if rec.Code != http.StatusOK || down.Reachable || down.Error == "" {
		t.Errorf("unreachable probe = %d %s", rec.Code, rec.Body.String())
	}

	if rec := api.do(t, http.MethodGet, "/api/probe?address=", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("empty address = %d", rec.Code)
	}
}

func TestAdminCIDRs(t *testing.T) {
	api := newTestAPI(t, "10.0.0.0/8")

	if rec := api.do(t, http.MethodGet, "/api/servers", ""); rec.Code != http.StatusForbidden {
		t.Errorf("outside CIDR = %d", rec.Code)
	}
	if rec := api.do(t, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz should stay open, got %d", rec.Code)
	}
}
