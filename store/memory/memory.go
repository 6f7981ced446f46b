// Package memory is an in-process store.Backend. Nothing survives a restart;
// it backs tests and `store.kind: memory` local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/RAPD/rapd-relay/store"
)

var (
	_ store.Backend    = (*Store)(nil)
	_ store.Collection = (*Collection)(nil)
)

// Store keeps results, images, activities and detail collections in maps.
type Store struct {
	mu          sync.RWMutex
	results     map[string]store.Document
	images      map[string]store.Document
	activities  []store.Activity
	collections map[string]*Collection
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		results:     make(map[string]store.Document),
		images:      make(map[string]store.Document),
		collections: make(map[string]*Collection),
	}
}

// PutResult stores a result summary keyed by its "_id".
func (s *Store) PutResult(doc store.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[stringField(doc, "_id")] = cloneDoc(doc)
}

// PutImage stores an image record keyed by its "_id".
func (s *Store) PutImage(doc store.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[stringField(doc, "_id")] = cloneDoc(doc)
}

// Result returns a copy of the stored result, if any.
func (s *Store) Result(id string) (store.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.results[id]
	if !ok {
		return nil, false
	}
	return cloneDoc(doc), true
}

// Activities returns a copy of the recorded activities.
func (s *Store) Activities() []store.Activity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.Activity(nil), s.activities...)
}

// ListResults implements store.Gateway.
func (s *Store) ListResults(ctx context.Context, q store.ResultQuery) ([]store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	allowed := make(map[string]struct{}, len(q.ResultTypes))
	for _, t := range q.ResultTypes {
		allowed[t] = struct{}{}
	}

	s.mu.RLock()
	out := make([]store.Document, 0)
	for _, doc := range s.results {
		if stringField(doc, "session_id") != q.SessionID {
			continue
		}
		if !q.Unfiltered {
			if _, ok := allowed[stringField(doc, "result_type")]; !ok {
				continue
			}
		}
		out = append(out, cloneDoc(doc))
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return timeField(out[i], "timestamp").After(timeField(out[j], "timestamp"))
	})
	return out, nil
}

// UpdateResult implements store.Gateway. Patch keys overwrite top-level fields.
func (s *Store) UpdateResult(ctx context.Context, id string, patch store.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.results[id]
	if !ok {
		return fmt.Errorf("result %s: %w", id, store.ErrNotFound)
	}
	for k, v := range patch {
		if k == "_id" {
			continue
		}
		doc[k] = v
	}
	return nil
}

// FindImage implements store.Gateway.
func (s *Store) FindImage(ctx context.Context, id string) (store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.images[id]
	if !ok {
		return nil, fmt.Errorf("image %s: %w", id, store.ErrNotFound)
	}
	return cloneDoc(doc), nil
}

// RecordActivity implements store.Gateway.
func (s *Store) RecordActivity(ctx context.Context, a store.Activity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activities = append(s.activities, a)
	return nil
}

// Ping implements store.Gateway.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close implements store.Gateway.
func (s *Store) Close() {}

// EnsureCollection implements store.Collections.
func (s *Store) EnsureCollection(ctx context.Context, name string) (store.Collection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.collection(name), nil
}

// Insert adds a record to the named collection, creating the collection if needed.
func (s *Store) Insert(name string, doc store.Document) {
	c := s.collection(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs[stringField(doc, "_id")] = cloneDoc(doc)
}

// HasCollection reports whether name has been created.
func (s *Store) HasCollection(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.collections[name]
	return ok
}

func (s *Store) collection(name string) *Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		c = &Collection{name: name, docs: make(map[string]store.Document)}
		s.collections[name] = c
	}
	return c
}

// Collection is an in-memory store.Collection.
type Collection struct {
	name string
	mu   sync.RWMutex
	docs map[string]store.Document
}

// Name implements store.Collection.
func (c *Collection) Name() string { return c.name }

// FindByResultID implements store.Collection.
func (c *Collection) FindByResultID(ctx context.Context, resultID string) (store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, doc := range c.docs {
		process, _ := doc["process"].(map[string]any)
		if process != nil && fmt.Sprint(process["result_id"]) == resultID {
			return cloneDoc(doc), nil
		}
	}
	return nil, fmt.Errorf("%s result %s: %w", c.name, resultID, store.ErrNotFound)
}

// FindByID implements store.Collection.
func (c *Collection) FindByID(ctx context.Context, id string) (store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	doc, ok := c.docs[id]
	if !ok {
		return nil, fmt.Errorf("%s record %s: %w", c.name, id, store.ErrNotFound)
	}
	return cloneDoc(doc), nil
}

func stringField(doc store.Document, key string) string {
	v, ok := doc[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func timeField(doc store.Document, key string) time.Time {
	switch v := doc[key].(type) {
	case time.Time:
		return v
	case string:
		t, _ := time.Parse(time.RFC3339Nano, v)
		return t
	default:
		return time.Time{}
	}
}

// cloneDoc deep-copies nested maps and slices so callers can mutate results
// (detail population does) without touching stored state.
func cloneDoc(doc store.Document) store.Document {
	if doc == nil {
		return nil
	}
	out := make(store.Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneDoc(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
