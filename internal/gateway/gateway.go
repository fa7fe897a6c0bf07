// Package gateway is the persistence boundary: a key-value document store
// addressed by (kind, partition key, sort key) with conditional writes and
// attribute-indexed queries. It is the single source of record; every
// component above it is stateless logic.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
)

// Kind names a logical record collection.
type Kind string

const (
	KindStations  Kind = "stations"
	KindSessions  Kind = "sessions"
	KindUsers     Kind = "users"
	KindErrorLogs Kind = "error_logs"
)

// Key addresses a single record within a kind.
type Key struct {
	PK string
	SK string
}

// Item is a record together with its key.
type Item struct {
	Key Key
	Doc json.RawMessage
}

// Precondition gates a write on an attribute still holding an expected
// value at write time (compare-and-swap).
type Precondition struct {
	Attr   string
	Equals string
}

// Query selects records whose string attribute equals a value. Results are
// ordered by creation time; Descending selects newest-first.
type Query struct {
	Attr       string
	Value      string
	Descending bool
}

var (
	// ErrNotFound is returned when the addressed record does not exist.
	ErrNotFound = errors.New("gateway: record not found")
	// ErrPreconditionFailed is returned when a conditional write loses.
	ErrPreconditionFailed = errors.New("gateway: precondition failed")
)

// Store is the persistence gateway contract. Implementations must keep
// conditional semantics atomic: a Put with ifAbsent or an Update with a
// precondition either fully applies or fails with ErrPreconditionFailed.
// Infrastructure failures surface as retryable errors distinct from both
// sentinels.
type Store interface {
	// Get returns the record or ErrNotFound.
	Get(ctx context.Context, kind Kind, key Key) (json.RawMessage, error)
	// Put writes the record. With ifAbsent it fails with
	// ErrPreconditionFailed when the key already exists.
	Put(ctx context.Context, kind Kind, key Key, doc any, ifAbsent bool) error
	// Update merges the given attributes into the record and returns the
	// result. A non-nil precondition turns it into a compare-and-swap.
	Update(ctx context.Context, kind Kind, key Key, set map[string]any, pre *Precondition) (json.RawMessage, error)
	// QueryPrefix returns all records sharing a partition key, optionally
	// narrowed by a sort-key prefix.
	QueryPrefix(ctx context.Context, kind Kind, pk, skPrefix string) ([]Item, error)
	// QueryIndex returns records matching an attribute value, ordered by
	// creation time.
	QueryIndex(ctx context.Context, kind Kind, q Query) ([]Item, error)
	// Scan returns every record of the kind, optionally filtered.
	Scan(ctx context.Context, kind Kind, filter *Query) ([]Item, error)
	// Delete removes a record. Deleting a missing record is not an error.
	Delete(ctx context.Context, kind Kind, key Key) error
}

// Decode unmarshals a document into T.
func Decode[T any](doc json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(doc, &v)
	return v, err
}

// DecodeItems unmarshals every item document into a slice of T, preserving
// order.
func DecodeItems[T any](items []Item) ([]T, error) {
	out := make([]T, 0, len(items))
	for _, it := range items {
		v, err := Decode[T](it.Doc)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
