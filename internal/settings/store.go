// Package settings holds the subscription configuration: which groups watch
// which servers, and the enable flags at global, bot and group scope.
//
// The document is persisted as one blob through a Backend. Every mutation
// works on a copy that is saved first and swapped in only once the save
// succeeded, so memory never runs ahead of storage.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/MrSnakeDoc/mcwatch/internal/domain"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrDuplicateName        = errors.New("subscription name already used in this group")
	ErrUnknownPath          = errors.New("unknown settings path")
	ErrReadOnlyPath         = errors.New("settings path is read only")
	ErrInvalidValue         = errors.New("invalid settings value")
	ErrMalformed            = errors.New("malformed settings document")
)

// Backend stores the encoded document.
type Backend interface {
	// Load returns nil, nil when nothing was stored yet.
	Load(ctx context.Context) ([]byte, error)
	// Save must replace the previous blob atomically.
	Save(ctx context.Context, data []byte) error
}

// Pinger is implemented by backends that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Store struct {
	mu      sync.RWMutex
	doc     *Document
	backend Backend
	codec   Codec
}

// Open loads the document from backend. An empty backend is initialized
// with DefaultDocument. A document that cannot be decoded or validated is
// an error: nothing is loaded partially.
func Open(ctx context.Context, backend Backend, codec Codec) (*Store, error) {
	if codec == nil {
		codec = JSONCodec{}
	}
	s := &Store{backend: backend, codec: codec}

	doc, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		doc = DefaultDocument()
		if err := s.save(ctx, doc); err != nil {
			return nil, fmt.Errorf("initialize settings: %w", err)
		}
	}
	s.doc = doc
	return s, nil
}

func (s *Store) load(ctx context.Context) (*Document, error) {
	data, err := s.backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	doc := &Document{}
	if err := s.codec.Unmarshal(data, doc); err != nil {
		return nil, err
	}
	if err := doc.normalize(); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) save(ctx context.Context, doc *Document) error {
	data, err := s.codec.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := s.backend.Save(ctx, data); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// Reload replaces the in-memory document with the stored one. On error the
// current document is kept.
func (s *Store) Reload(ctx context.Context) error {
	doc, err := s.load(ctx)
	if err != nil {
		return err
	}
	if doc == nil {
		doc = DefaultDocument()
	}
	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
	return nil
}

// Ping checks the backend when it supports it.
func (s *Store) Ping(ctx context.Context) error {
	if p, ok := s.backend.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// mutate applies fn to a copy of the document, persists the copy and
// swaps it in. fn errors and save errors leave the store untouched.
func (s *Store) mutate(ctx context.Context, fn func(doc *Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.doc.Clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := next.validate(); err != nil {
		return err
	}
	if err := s.save(ctx, next); err != nil {
		return err
	}
	s.doc = next
	return nil
}

// Snapshot returns a deep copy of the current document.
func (s *Store) Snapshot() *Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Clone()
}

func (s *Store) Bindings() []domain.Binding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Bindings()
}

// Access resolves the effective flags of ref. Unknown bots and groups are
// disabled.
func (s *Store) Access(ref domain.SubscriberRef) domain.Access {
	s.mu.RLock()
	defer s.mu.RUnlock()

	global := domain.ScopeFlags(s.doc.Enable)
	bot, g := s.doc.group(ref)
	if bot == nil || g == nil {
		return domain.Resolve(global, domain.ScopeFlags(bot != nil && bot.Enable), domain.EnableFlags{})
	}
	return domain.Resolve(global, domain.ScopeFlags(bot.Enable), g.flags())
}

// Subscriptions returns the subscriptions of ref in stored order.
func (s *Store) Subscriptions(ref domain.SubscriberRef) []domain.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, g := s.doc.group(ref)
	if g == nil {
		return nil
	}
	return g.clone().Servers
}

// AddSubscription appends sub to ref's group, creating the bot and group
// with their defaults when needed.
func (s *Store) AddSubscription(ctx context.Context, ref domain.SubscriberRef, sub domain.Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	return s.mutate(ctx, func(doc *Document) error {
		g := doc.ensureGroup(ref)
		if g.indexOf(sub.Name) >= 0 {
			return fmt.Errorf("%w: %q", ErrDuplicateName, sub.Name)
		}
		g.Servers = append(g.Servers, sub)
		return nil
	})
}

// RemoveSubscription deletes the subscription called name and returns it.
func (s *Store) RemoveSubscription(ctx context.Context, ref domain.SubscriberRef, name string) (domain.Subscription, error) {
	var removed domain.Subscription
	err := s.mutate(ctx, func(doc *Document) error {
		_, g := doc.group(ref)
		if g == nil {
			return fmt.Errorf("%w: %q in %s", ErrSubscriptionNotFound, name, ref)
		}
		i := g.indexOf(name)
		if i < 0 {
			return fmt.Errorf("%w: %q in %s", ErrSubscriptionNotFound, name, ref)
		}
		removed = g.Servers[i]
		g.Servers = append(g.Servers[:i], g.Servers[i+1:]...)
		return nil
	})
	return removed, err
}

func (s *Store) SetGlobalEnabled(ctx context.Context, enabled bool) error {
	return s.mutate(ctx, func(doc *Document) error {
		doc.Enable = enabled
		return nil
	})
}

func (s *Store) SetAccountEnabled(ctx context.Context, accountID string, enabled bool) error {
	return s.mutate(ctx, func(doc *Document) error {
		doc.ensureBot(accountID).Enable = enabled
		return nil
	})
}

// GroupValue reads path from ref's group. A missing group reads as the
// defaults a new group would get, without creating it.
func (s *Store) GroupValue(ref domain.SubscriberRef, path string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, g := s.doc.group(ref)
	if g == nil {
		g = newGroup()
	}
	return readPath(g, path)
}

// SetGroupValue writes the JSON value raw at path in ref's group.
func (s *Store) SetGroupValue(ctx context.Context, ref domain.SubscriberRef, path string, raw json.RawMessage) error {
	return s.mutate(ctx, func(doc *Document) error {
		return writePath(doc.ensureGroup(ref), path, raw)
	})
}
