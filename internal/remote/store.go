// Package remote defines the account-scoped document store the sync engine
// talks to.
//
// A Store exposes point reads, overwrite and merge writes, deletes, one-shot
// collection reads and live subscriptions that deliver the full collection
// on every change. Backends live in subpackages: memory, sqlite, mongo and
// rest.
package remote

import (
	"context"
	"errors"

	"github.com/roach88/tasksync/internal/doc"
)

// Sentinel errors. Backends wrap these so callers can use errors.Is.
var (
	ErrNotFound        = errors.New("document not found")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrAuthorization   = errors.New("not authorized")
	ErrUnavailable     = errors.New("store unavailable")
	ErrInvalidPath     = doc.ErrInvalidPath
	ErrClosed          = errors.New("store closed")
	ErrMalformed       = errors.New("malformed document")
)

// Document is one entry of a collection snapshot.
type Document struct {
	ID   string
	Data doc.Map
}

// Snapshot is a full point-in-time readout of a collection in backend order.
type Snapshot []Document

// Revision hashes the snapshot contents, including their order.
func (s Snapshot) Revision() (string, error) {
	ids := make([]string, len(s))
	docs := make([]doc.Map, len(s))
	for i, d := range s {
		ids[i] = d.ID
		docs[i] = d.Data
	}
	return doc.SnapshotRevision(ids, docs)
}

// Clone deep-copies the snapshot.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for i, d := range s {
		out[i] = Document{ID: d.ID, Data: d.Data.Clone()}
	}
	return out
}

// SnapshotFunc receives subscription deliveries. It is called from a
// backend goroutine, never concurrently with itself. A non-nil error ends
// the subscription. Implementations must not block and must not cancel
// their own subscription from inside the callback.
type SnapshotFunc func(Snapshot, error)

// Subscription is a live registration returned by Store.Subscribe.
type Subscription interface {
	// Cancel stops deliveries. It is idempotent, and no callback invocation
	// starts after it returns.
	Cancel()
}

// Store is an account-scoped document store.
type Store interface {
	// Get reads one document. Returns ErrNotFound when absent.
	Get(ctx context.Context, path doc.Path) (doc.Map, error)

	// Set overwrites the whole document.
	Set(ctx context.Context, path doc.Path, data doc.Map) error

	// Merge overwrites only the top-level fields present in data, creating
	// the document when absent.
	Merge(ctx context.Context, path doc.Path, data doc.Map) error

	// Delete removes a document. Deleting an absent document succeeds.
	Delete(ctx context.Context, path doc.Path) error

	// List reads a whole collection once.
	List(ctx context.Context, collection doc.Path) (Snapshot, error)

	// Subscribe registers fn for the collection. The current contents are
	// delivered first, then the full collection after every change.
	Subscribe(collection doc.Path, fn SnapshotFunc) (Subscription, error)

	// Close releases backend resources and ends all subscriptions.
	Close() error
}

// MergeFields applies a shallow merge of patch into base, returning a new map.
func MergeFields(base, patch doc.Map) doc.Map {
	out := base.Clone()
	if out == nil {
		out = make(doc.Map, len(patch))
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}
