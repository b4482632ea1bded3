package settings

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/MrSnakeDoc/mcwatch/internal/domain"
)

type memBackend struct {
	mu       sync.Mutex
	data     []byte
	saves    int
	failSave bool
}

func (m *memBackend) Load(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data, nil
}

func (m *memBackend) Save(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave {
		return errors.New("disk full")
	}
	m.data = append([]byte(nil), data...)
	m.saves++
	return nil
}

var ref = domain.SubscriberRef{AccountID: "bot1", GroupID: "group1"}

func mustOpen(t *testing.T, b *memBackend) *Store {
	t.Helper()
	s, err := Open(context.Background(), b, JSONCodec{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return s
}

func mustSub(t *testing.T, name, addr string) domain.Subscription {
	t.Helper()
	sub, err := domain.NewSubscription(name, addr, "java")
	if err != nil {
		t.Fatalf("NewSubscription(%q) error = %v", addr, err)
	}
	return sub
}

func TestOpenEmptyWritesDefaults(t *testing.T) {
	b := &memBackend{}
	s := mustOpen(t, b)

	if b.saves != 1 {
		t.Fatalf("saves = %d, want 1", b.saves)
	}
	if !s.Snapshot().Enable {
		t.Error("default document must be globally enabled")
	}
	if !strings.Contains(string(b.data), `"bots"`) {
		t.Errorf("persisted default = %s", b.data)
	}
}

func TestOpenLegacyLayout(t *testing.T) {
	b := &memBackend{data: []byte(`{
		"enable": true,
		"bots": {
			"10001": {
				"enable": true,
				"groups": {
					"20002": {
						"enable": true,
						"enable_query": true,
						"enable_check": false,
						"servers": [
							{"name": "lobby", "host": "Play.Example.com", "port": 25565, "type": "JAVA"},
							{"name": "pe", "host": "pe.example.com", "port": 19132, "type": "bedrock"}
						]
					}
				}
			}
		}
	}`)}
	s := mustOpen(t, b)

	r := domain.SubscriberRef{AccountID: "10001", GroupID: "20002"}
	subs := s.Subscriptions(r)
	if len(subs) != 2 {
		t.Fatalf("Subscriptions() = %d, want 2", len(subs))
	}
	if subs[0].Protocol != domain.ProtocolJava || subs[1].Protocol != domain.ProtocolBedrock {
		t.Errorf("protocols = %s, %s", subs[0].Protocol, subs[1].Protocol)
	}

	got := s.Access(r)
	want := domain.Access{Enabled: true, Query: true, Check: false}
	if got != want {
		t.Errorf("Access() = %+v, want %+v", got, want)
	}
	if len(s.Bindings()) != 2 {
		t.Errorf("Bindings() = %d, want 2", len(s.Bindings()))
	}
}

func TestOpenMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{"enable": tru`},
		{"wrong type", `{"enable": "yes"}`},
		{"bad protocol", `{"enable":true,"bots":{"b":{"enable":true,"groups":{"g":{"servers":[{"name":"x","host":"h","port":1,"type":"pocket"}]}}}}}`},
		{"bad port", `{"enable":true,"bots":{"b":{"enable":true,"groups":{"g":{"servers":[{"name":"x","host":"h","port":0,"type":"java"}]}}}}}`},
		{"duplicate name", `{"enable":true,"bots":{"b":{"enable":true,"groups":{"g":{"servers":[{"name":"x","host":"h","port":1},{"name":"x","host":"i","port":1}]}}}}}`},
		{"null group", `{"enable":true,"bots":{"b":{"enable":true,"groups":{"g":null}}}}`},
		{"trailing document", `{"enable": true, "bots": {}} {"enable": false, "bots": {}}`},
		{"truncated tail", `{"enable": true, "bots": {}} {"enable": false, "bots": {"1": {"enable": tr`},
		{"trailing junk", `{"enable": true, "bots": {}} garbage`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(context.Background(), &memBackend{data: []byte(tt.data)}, JSONCodec{})
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("Open() error = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestOpenNormalizesHosts(t *testing.T) {
	b := &memBackend{data: []byte(`{"enable":true,"bots":{"b":{"enable":true,"groups":{"g":{"enable":true,"enable_query":true,"enable_check":true,"servers":[
		{"name":"local","host":"[::1]","port":25565,"type":"java"},
		{"name":"lobby","host":" Play.Example.COM ","port":25565,"type":"java"}
	]}}}}}`)}
	s := mustOpen(t, b)

	subs := s.Subscriptions(domain.SubscriberRef{AccountID: "b", GroupID: "g"})
	if len(subs) != 2 {
		t.Fatalf("Subscriptions() = %d, want 2", len(subs))
	}
	tests := []struct {
		host string
		addr string
	}{
		{"::1", "[::1]:25565"},
		{"play.example.com", "play.example.com:25565"},
	}
	for i, tt := range tests {
		if subs[i].Host != tt.host {
			t.Errorf("servers[%d].Host = %q, want %q", i, subs[i].Host, tt.host)
		}
		if got := subs[i].Address().String(); got != tt.addr {
			t.Errorf("servers[%d].Address() = %q, want %q", i, got, tt.addr)
		}
		if subs[i].Key() != domain.KeyFor(tt.host, 25565) {
			t.Errorf("servers[%d] key differs from the polled key", i)
		}
	}
}

func TestJSONKeepsMarkupCharacters(t *testing.T) {
	b := &memBackend{}
	s := mustOpen(t, b)
	if err := s.AddSubscription(context.Background(), ref, mustSub(t, "A&B <lobby>", "a.example.com")); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b.data), `"name": "A&B <lobby>"`) {
		t.Errorf("json output = %s", b.data)
	}
	if strings.HasSuffix(string(b.data), "\n") {
		t.Error("json output ends with a newline")
	}

	reopened := mustOpen(t, b)
	if subs := reopened.Subscriptions(ref); len(subs) != 1 || subs[0].Name != "A&B <lobby>" {
		t.Errorf("reopen = %+v", subs)
	}
}

func TestReadsNeverCreate(t *testing.T) {
	b := &memBackend{}
	s := mustOpen(t, b)
	saves := b.saves

	if got := s.Access(ref); got.Enabled || got.Query || got.Check {
		t.Errorf("Access() of unknown group = %+v, want all false", got)
	}
	if subs := s.Subscriptions(ref); subs != nil {
		t.Errorf("Subscriptions() of unknown group = %v", subs)
	}
	if v, err := s.GroupValue(ref, "enable_query"); err != nil || v != true {
		t.Errorf("GroupValue() = (%v, %v), want default true", v, err)
	}
	if len(s.Snapshot().Bots) != 0 || b.saves != saves {
		t.Error("reads created a bot or saved the document")
	}
}

func TestAddCreatesDefaults(t *testing.T) {
	b := &memBackend{}
	s := mustOpen(t, b)

	if err := s.AddSubscription(context.Background(), ref, mustSub(t, "srvA", "play.example.com")); err != nil {
		t.Fatal(err)
	}

	doc := s.Snapshot()
	bot := doc.Bots["bot1"]
	if bot == nil || bot.Enable {
		t.Fatalf("new bot = %+v, want created disabled", bot)
	}
	g := bot.Groups["group1"]
	if g == nil || g.Enable || !g.EnableQuery || !g.EnableCheck || len(g.Servers) != 1 {
		t.Errorf("new group = %+v", g)
	}

	// Persisted state matches memory.
	reopened := mustOpen(t, b)
	if len(reopened.Subscriptions(ref)) != 1 {
		t.Error("subscription not persisted")
	}
}

func TestAddDuplicateName(t *testing.T) {
	s := mustOpen(t, &memBackend{})
	ctx := context.Background()
	if err := s.AddSubscription(ctx, ref, mustSub(t, "srvA", "a.example.com")); err != nil {
		t.Fatal(err)
	}
	err := s.AddSubscription(ctx, ref, mustSub(t, "srvA", "b.example.com"))
	if !errors.Is(err, ErrDuplicateName) {
		t.Errorf("error = %v, want ErrDuplicateName", err)
	}

	other := domain.SubscriberRef{AccountID: "bot1", GroupID: "group2"}
	if err := s.AddSubscription(ctx, other, mustSub(t, "srvA", "b.example.com")); err != nil {
		t.Errorf("same name in another group: %v", err)
	}
}

func TestRemoveSubscription(t *testing.T) {
	s := mustOpen(t, &memBackend{})
	ctx := context.Background()
	_ = s.AddSubscription(ctx, ref, mustSub(t, "a", "a.example.com"))
	_ = s.AddSubscription(ctx, ref, mustSub(t, "b", "b.example.com"))

	removed, err := s.RemoveSubscription(ctx, ref, "a")
	if err != nil {
		t.Fatal(err)
	}
	if removed.Host != "a.example.com" {
		t.Errorf("removed = %+v", removed)
	}
	if subs := s.Subscriptions(ref); len(subs) != 1 || subs[0].Name != "b" {
		t.Errorf("remaining = %+v", subs)
	}

	if _, err := s.RemoveSubscription(ctx, ref, "a"); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Errorf("second remove error = %v", err)
	}
	missing := domain.SubscriberRef{AccountID: "nobody", GroupID: "nowhere"}
	if _, err := s.RemoveSubscription(ctx, missing, "a"); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Errorf("remove from unknown group error = %v", err)
	}
	if _, ok := s.Snapshot().Bots["nobody"]; ok {
		t.Error("failed remove created a bot")
	}
}

func TestFailedSaveRollsBack(t *testing.T) {
	b := &memBackend{}
	s := mustOpen(t, b)
	ctx := context.Background()
	_ = s.AddSubscription(ctx, ref, mustSub(t, "a", "a.example.com"))

	b.failSave = true
	if err := s.AddSubscription(ctx, ref, mustSub(t, "b", "b.example.com")); err == nil {
		t.Fatal("AddSubscription() succeeded with failing backend")
	}
	if _, err := s.RemoveSubscription(ctx, ref, "a"); err == nil {
		t.Fatal("RemoveSubscription() succeeded with failing backend")
	}
	if err := s.SetGlobalEnabled(ctx, false); err == nil {
		t.Fatal("SetGlobalEnabled() succeeded with failing backend")
	}

	if subs := s.Subscriptions(ref); len(subs) != 1 || subs[0].Name != "a" {
		t.Errorf("memory diverged from storage: %+v", subs)
	}
	if !s.Snapshot().Enable {
		t.Error("global flag changed despite failed save")
	}
}

func TestFlagHierarchy(t *testing.T) {
	s := mustOpen(t, &memBackend{})
	ctx := context.Background()
	_ = s.AddSubscription(ctx, ref, mustSub(t, "a", "a.example.com"))

	if s.Access(ref).Enabled {
		t.Fatal("fresh group must start disabled")
	}
	if err := s.SetGroupValue(ctx, ref, "enable", json.RawMessage("true")); err != nil {
		t.Fatal(err)
	}
	if s.Access(ref).Enabled {
		t.Fatal("disabled bot must disable its groups")
	}
	if err := s.SetAccountEnabled(ctx, "bot1", true); err != nil {
		t.Fatal(err)
	}
	if got := s.Access(ref); !got.Enabled || !got.Check || !got.Query {
		t.Fatalf("Access() = %+v, want everything allowed", got)
	}
	if err := s.SetGlobalEnabled(ctx, false); err != nil {
		t.Fatal(err)
	}
	if got := s.Access(ref); got.Enabled || got.Check || got.Query {
		t.Errorf("global off: Access() = %+v", got)
	}
}

func TestReloadKeepsCurrentOnError(t *testing.T) {
	b := &memBackend{}
	s := mustOpen(t, b)
	_ = s.AddSubscription(context.Background(), ref, mustSub(t, "a", "a.example.com"))

	b.data = []byte("{broken")
	if err := s.Reload(context.Background()); !errors.Is(err, ErrMalformed) {
		t.Fatalf("Reload() error = %v", err)
	}
	if len(s.Subscriptions(ref)) != 1 {
		t.Error("failed reload dropped the current document")
	}

	b.data = []byte(`{"enable": false, "bots": {}}`)
	if err := s.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.Snapshot().Enable || len(s.Bindings()) != 0 {
		t.Error("reload did not replace the document")
	}
}

func TestYAMLRoundTrip(t *testing.T) {
	b := &memBackend{}
	s, err := Open(context.Background(), b, YAMLCodec{})
	if err != nil {
		t.Fatal(err)
	}
	_ = s.AddSubscription(context.Background(), ref, mustSub(t, "a", "a.example.com:25570"))
	if !strings.Contains(string(b.data), "enable_query: true") {
		t.Errorf("yaml output = %s", b.data)
	}

	reopened, err := Open(context.Background(), b, YAMLCodec{})
	if err != nil {
		t.Fatal(err)
	}
	subs := reopened.Subscriptions(ref)
	if len(subs) != 1 || subs[0].Port != 25570 {
		t.Errorf("yaml reopen = %+v", subs)
	}
}

func TestCodecFor(t *testing.T) {
	tests := map[string]Codec{
		"config_data.json": JSONCodec{},
		"config.yaml":      YAMLCodec{},
		"config.YML":       YAMLCodec{},
		"config":           JSONCodec{},
	}
	for path, want := range tests {
		if got := CodecFor(path); got != want {
			t.Errorf("CodecFor(%q) = %T, want %T", path, got, want)
		}
	}
}
