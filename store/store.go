// Package store defines the Historical Query Gateway the relay reads results
// through, and the dynamically named detail collections behind it.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Document is a schemaless stored record.
type Document = map[string]any

// ResultQuery selects result summaries for one session.
type ResultQuery struct {
	SessionID string

	// ResultTypes restricts results to these "<domain>:<kind>" types.
	// Ignored when Unfiltered is set; an empty list with Unfiltered unset
	// matches nothing.
	ResultTypes []string
	Unfiltered  bool
}

// Activity is an audit record of a client request.
type Activity struct {
	Source  string    `json:"source"`
	Type    string    `json:"type"`
	Subtype string    `json:"subtype"`
	User    string    `json:"user"`
	Created time.Time `json:"created"`
}

// Gateway is the Historical Query Gateway.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type Gateway interface {
	// ListResults returns summaries for q ordered by timestamp, newest first.
	ListResults(ctx context.Context, q ResultQuery) ([]Document, error)

	// UpdateResult merges patch into the result with the given id.
	UpdateResult(ctx context.Context, id string, patch Document) error

	// FindImage returns an image record by id, or ErrNotFound.
	FindImage(ctx context.Context, id string) (Document, error)

	// RecordActivity appends an activity record.
	RecordActivity(ctx context.Context, a Activity) error

	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error

	Close()
}

// Collection is one dynamically named set of detail records.
type Collection interface {
	// Name returns the backing collection name, e.g. "mx_integrate_results".
	Name() string

	// FindByResultID returns the record whose process.result_id equals resultID.
	FindByResultID(ctx context.Context, resultID string) (Document, error)

	// FindByID returns the record whose own id equals id.
	FindByID(ctx context.Context, id string) (Document, error)
}

// Collections creates and opens detail collections.
type Collections interface {
	// EnsureCollection opens the named collection, creating it with a
	// schemaless layout if it does not exist yet. Must be idempotent.
	EnsureCollection(ctx context.Context, name string) (Collection, error)
}

// Backend is a store providing both the gateway and detail collections.
type Backend interface {
	Gateway
	Collections
}
