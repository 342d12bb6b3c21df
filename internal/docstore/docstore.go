// Package docstore is a small document database abstraction: slash-separated
// document paths, single-document reads, field queries within a collection and
// all-or-nothing batched writes. Repositories depend on the Store interface so a
// PostgreSQL backend, the in-memory backend and the cached wrapper are
// interchangeable.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// MaxBatchOps is the largest number of operations a single Commit accepts.
	MaxBatchOps = 500
	// MaxInValues is the largest value list an "in" filter accepts.
	MaxInValues = 30
)

var (
	ErrNotFound           = errors.New("document not found")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrBatchTooLarge      = errors.New("batch exceeds maximum operations")
	ErrTooManyInValues    = errors.New("in filter exceeds maximum values")
	ErrInvalidPath        = errors.New("invalid document path")
)

// Store is the narrow client every repository is built on.
type Store interface {
	Get(ctx context.Context, path string, opts ...GetOption) (*Snapshot, error)
	Query(ctx context.Context, q Query) ([]*Snapshot, error)
	Commit(ctx context.Context, b *Batch) error
}

// Snapshot is a document as read from the store.
type Snapshot struct {
	Path       string
	ID         string
	Data       map[string]any
	UpdateTime time.Time
}

// DataTo decodes the document into v.
func (s *Snapshot) DataTo(v any) error {
	raw, err := json.Marshal(s.Data)
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", s.Path, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode document %s: %w", s.Path, err)
	}
	return nil
}

type getOptions struct {
	fromServer bool
}

// GetOption tunes a single read.
type GetOption func(*getOptions)

// FromServer forces an authoritative read that skips any cache layer.
func FromServer() GetOption {
	return func(o *getOptions) { o.fromServer = true }
}

func resolveGetOptions(opts []GetOption) getOptions {
	var o getOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Doc joins path segments into a document path. It panics when the segments do
// not describe a document (odd count, empty segment or embedded slash).
func Doc(segments ...string) string {
	if len(segments) == 0 || len(segments)%2 != 0 {
		panic(fmt.Sprintf("docstore: %q is not a document path", segments))
	}
	for _, s := range segments {
		if s == "" || strings.Contains(s, "/") {
			panic(fmt.Sprintf("docstore: bad path segment %q", s))
		}
	}
	return strings.Join(segments, "/")
}

// splitPath returns the parent document path ("" for root collections), the
// collection name and the document id.
func splitPath(path string) (parent, collection, id string, err error) {
	parts := strings.Split(path, "/")
	if len(parts) < 2 || len(parts)%2 != 0 {
		return "", "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	for _, p := range parts {
		if p == "" {
			return "", "", "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	n := len(parts)
	return strings.Join(parts[:n-2], "/"), parts[n-2], parts[n-1], nil
}

// FilterOp is a query comparison.
type FilterOp string

const (
	OpEqual FilterOp = "=="
	OpIn    FilterOp = "in"
)

// Filter restricts a query on one string-valued field.
type Filter struct {
	Field  string
	Op     FilterOp
	Value  string
	Values []string
}

// Where builds an equality filter.
func Where(field, value string) Filter {
	return Filter{Field: field, Op: OpEqual, Value: value}
}

// WhereIn builds a membership filter.
func WhereIn(field string, values []string) Filter {
	return Filter{Field: field, Op: OpIn, Values: values}
}

// Query selects documents of one collection under Parent ("" for root).
type Query struct {
	Parent     string
	Collection string
	Filters    []Filter
	OrderBy    string
	Desc       bool
}

func (q Query) validate() error {
	if q.Collection == "" || strings.Contains(q.Collection, "/") {
		return fmt.Errorf("%w: collection %q", ErrInvalidPath, q.Collection)
	}
	for _, f := range q.Filters {
		if !validField(f.Field) {
			return fmt.Errorf("invalid filter field %q", f.Field)
		}
		switch f.Op {
		case OpEqual:
		case OpIn:
			if len(f.Values) > MaxInValues {
				return fmt.Errorf("%w: %d > %d", ErrTooManyInValues, len(f.Values), MaxInValues)
			}
		default:
			return fmt.Errorf("unsupported filter op %q", f.Op)
		}
	}
	if q.OrderBy != "" && !validField(q.OrderBy) {
		return fmt.Errorf("invalid order field %q", q.OrderBy)
	}
	return nil
}

func validField(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
