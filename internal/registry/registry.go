// Package registry deduplicates group subscriptions into physical servers.
//
// Many (bot, group) subscribers may reference the same host:port. The
// registry keeps exactly one record per ServerKey, tracks who subscribes to
// it and holds its last known reachability. Only the polling engine writes
// reachability, through Observe.
package registry

import (
	"errors"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/MrSnakeDoc/mcwatch/internal/domain"
)

var ErrServerNotFound = errors.New("server not found")

// PhysicalServer is a point-in-time copy of one registry record.
type PhysicalServer struct {
	Key          domain.ServerKey       `json:"key"`
	Host         string                 `json:"host"`
	Port         int                    `json:"port"`
	Protocol     domain.ProtocolKind    `json:"type"`
	Reachability domain.Reachability    `json:"reachability"`
	LastChecked  time.Time              `json:"last_checked,omitempty"`
	Subscribers  []domain.SubscriberRef `json:"subscribers"`
}

func (p PhysicalServer) Address() domain.Address {
	return domain.Address{Host: p.Host, Port: p.Port}
}

type record struct {
	host        string
	port        int
	protocol    domain.ProtocolKind
	reach       domain.Reachability
	lastChecked time.Time
	// subscriber -> subscription names bound to this server in that group
	subs map[domain.SubscriberRef]mapset.Set[string]
}

func (r *record) snapshot(key domain.ServerKey) PhysicalServer {
	refs := make([]domain.SubscriberRef, 0, len(r.subs))
	for ref := range r.subs {
		refs = append(refs, ref)
	}
	slices.SortFunc(refs, compareRefs)

	return PhysicalServer{
		Key:          key,
		Host:         r.host,
		Port:         r.port,
		Protocol:     r.protocol,
		Reachability: r.reach,
		LastChecked:  r.lastChecked,
		Subscribers:  refs,
	}
}

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	servers map[domain.ServerKey]*record
}

func New() *Registry {
	return &Registry{servers: make(map[domain.ServerKey]*record)}
}

// Register binds sub to ref and returns the server's key. Registering an
// address that is already known only adds the subscriber.
func (r *Registry) Register(ref domain.SubscriberRef, sub domain.Subscription) domain.ServerKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(ref, sub)
}

func (r *Registry) registerLocked(ref domain.SubscriberRef, sub domain.Subscription) domain.ServerKey {
	key := sub.Key()
	rec, ok := r.servers[key]
	if !ok {
		rec = &record{
			host:     domain.NormalizeHost(sub.Host),
			port:     sub.Port,
			protocol: sub.Protocol,
			reach:    domain.Unknown,
			subs:     make(map[domain.SubscriberRef]mapset.Set[string]),
		}
		r.servers[key] = rec
	}

	names, ok := rec.subs[ref]
	if !ok {
		names = mapset.NewThreadUnsafeSet[string]()
		rec.subs[ref] = names
	}
	names.Add(sub.Name)
	return key
}

// Unregister removes the binding of sub to ref. The subscriber leaves the
// server once none of its subscription names point at it, and the server
// itself is dropped with its last subscriber. gone reports that drop.
func (r *Registry) Unregister(ref domain.SubscriberRef, sub domain.Subscription) (gone bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := sub.Key()
	rec, ok := r.servers[key]
	if !ok {
		return false, ErrServerNotFound
	}
	names, ok := rec.subs[ref]
	if !ok || !names.Contains(sub.Name) {
		return false, ErrServerNotFound
	}

	names.Remove(sub.Name)
	if names.Cardinality() == 0 {
		delete(rec.subs, ref)
	}
	if len(rec.subs) == 0 {
		delete(r.servers, key)
		return true, nil
	}
	return false, nil
}

// Rebuild replaces every binding, keeping the reachability of servers that
// are still referenced.
func (r *Registry) Rebuild(bindings []domain.Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous := r.servers
	r.servers = make(map[domain.ServerKey]*record, len(previous))
	for _, b := range bindings {
		r.registerLocked(b.Subscriber, b.Subscription)
	}
	for key, rec := range r.servers {
		if old, ok := previous[key]; ok {
			rec.reach = old.reach
			rec.lastChecked = old.lastChecked
		}
	}
}

// List returns a snapshot of every server ordered by key.
func (r *Registry) List() []PhysicalServer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]PhysicalServer, 0, len(r.servers))
	for key, rec := range r.servers {
		list = append(list, rec.snapshot(key))
	}
	slices.SortFunc(list, func(a, b PhysicalServer) int {
		return strings.Compare(string(a.Key), string(b.Key))
	})
	return list
}

// Servers returns a sequence over the registry as it is at call time.
// The sequence can be ranged over more than once and always yields the
// same snapshot.
func (r *Registry) Servers() iter.Seq[PhysicalServer] {
	snapshot := r.List()
	return func(yield func(PhysicalServer) bool) {
		for _, srv := range snapshot {
			if !yield(srv) {
				return
			}
		}
	}
}

func (r *Registry) Get(key domain.ServerKey) (PhysicalServer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.servers[key]
	if !ok {
		return PhysicalServer{}, false
	}
	return rec.snapshot(key), true
}

// Subscribers returns a copy of the subscriber set of key.
func (r *Registry) Subscribers(key domain.ServerKey) (mapset.Set[domain.SubscriberRef], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.servers[key]
	if !ok {
		return nil, ErrServerNotFound
	}
	set := mapset.NewThreadUnsafeSet[domain.SubscriberRef]()
	for ref := range rec.subs {
		set.Add(ref)
	}
	return set, nil
}

// SubscriptionNames returns the sorted names ref uses for key.
func (r *Registry) SubscriptionNames(key domain.ServerKey, ref domain.SubscriberRef) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.servers[key]
	if !ok {
		return nil
	}
	names, ok := rec.subs[ref]
	if !ok {
		return nil
	}
	out := names.ToSlice()
	slices.Sort(out)
	return out
}

// Observe stores next as the reachability of key and returns the value it
// replaced. ok is false when the server is no longer registered.
func (r *Registry) Observe(key domain.ServerKey, next domain.Reachability, at time.Time) (prev domain.Reachability, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.servers[key]
	if !ok {
		return domain.Unknown, false
	}
	prev = rec.reach
	rec.reach = next
	rec.lastChecked = at
	return prev, true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.servers)
}

func compareRefs(a, b domain.SubscriberRef) int {
	if c := strings.Compare(a.AccountID, b.AccountID); c != 0 {
		return c
	}
	return strings.Compare(a.GroupID, b.GroupID)
}
