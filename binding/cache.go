// Package binding resolves (domain, pluginKind) pairs to detail collections.
//
// The first Resolve for a pair creates the backing collection if needed;
// the result is memoized for the process lifetime. Concurrent first calls
// for the same pair share one creation.
package binding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/RAPD/rapd-relay/logging"
	"github.com/RAPD/rapd-relay/store"
)

// ErrInvalidName is returned for a domain or kind that cannot name a collection.
var ErrInvalidName = errors.New("invalid binding name")

// CollectionSuffix is appended to "<domain>_<kind>" to name a detail collection.
const CollectionSuffix = "_results"

// MaxCollectionNameLen bounds collection names to the Postgres identifier
// limit; longer names would be truncated and could collide.
const MaxCollectionNameLen = 63

type entry struct {
	done chan struct{}
	coll store.Collection
	err  error
}

// Cache is the Type Binding Cache.
type Cache struct {
	logger  logging.Logger
	backend store.Collections
	entries *xsync.Map[string, *entry]
}

// NewCache creates an empty Cache over backend.
func NewCache(logger logging.Logger, backend store.Collections) *Cache {
	return &Cache{
		logger:  logging.ForComponent(logger, logging.ComponentBindingCache),
		backend: backend,
		entries: xsync.NewMap[string, *entry](),
	}
}

// CollectionName returns the collection name for (domain, kind), e.g.
// ("MX", "INTEGRATE") -> "mx_integrate_results".
func CollectionName(domain, kind string) (string, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	kind = strings.ToLower(strings.TrimSpace(kind))
	if !validPart(domain) || !validPart(kind) {
		return "", fmt.Errorf("%w: %q/%q", ErrInvalidName, domain, kind)
	}
	name := domain + "_" + kind + CollectionSuffix
	if len(name) > MaxCollectionNameLen {
		return "", fmt.Errorf("%w: %q is longer than %d bytes", ErrInvalidName, name, MaxCollectionNameLen)
	}
	return name, nil
}

func validPart(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '+', r == '-':
		default:
			return false
		}
	}
	return true
}

// Resolve returns the collection for (domain, kind), creating it on first use.
// A failed creation is not memoized; the next caller retries.
func (c *Cache) Resolve(ctx context.Context, domain, kind string) (store.Collection, error) {
	name, err := CollectionName(domain, kind)
	if err != nil {
		return nil, err
	}

	if e, ok := c.entries.Load(name); ok {
		select {
		case <-e.done:
			if e.err == nil {
				lookupsTotal.WithLabelValues(outcomeHit).Inc()
				return e.coll, nil
			}
		default:
		}
	}

	fresh := &entry{done: make(chan struct{})}
	e, loaded := c.entries.LoadOrStore(name, fresh)
	if loaded {
		lookupsTotal.WithLabelValues(outcomeWait).Inc()
		select {
		case <-e.done:
			return e.coll, e.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	lookupsTotal.WithLabelValues(outcomeMiss).Inc()
	c.create(ctx, name, fresh)
	return fresh.coll, fresh.err
}

func (c *Cache) create(ctx context.Context, name string, e *entry) {
	defer close(e.done)

	start := time.Now()
	coll, err := c.backend.EnsureCollection(ctx, name)
	if err != nil {
		e.err = fmt.Errorf("failed to bind %s: %w", name, err)
		c.entries.Delete(name)
		creationsTotal.WithLabelValues(logging.ResultFailure).Inc()
		c.logger.Warn().
			Err(err).
			Str(logging.FieldCollection, name).
			Msg("failed to create type binding")
		return
	}

	e.coll = coll
	creationsTotal.WithLabelValues(logging.ResultSuccess).Inc()
	c.logger.Info().
		Str(logging.FieldCollection, name).
		Dur(logging.FieldDuration, time.Since(start)).
		Msg("type binding created")
}

// Size returns the number of memoized or in-flight bindings.
func (c *Cache) Size() int {
	return c.entries.Size()
}
