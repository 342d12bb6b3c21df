package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type memoryDoc struct {
	data       map[string]any
	updateTime time.Time
}

// MemoryStore is an in-process Store. Reads are always authoritative.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]*memoryDoc
	now  func() time.Time

	// BeforeCommit, when set, runs under the write lock before a batch is
	// applied; a non-nil error rejects the whole batch.
	BeforeCommit func(b *Batch) error
}

// NewMemoryStore returns an empty store using the wall clock.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]*memoryDoc),
		now:  time.Now,
	}
}

// SetClock replaces the commit clock.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Get(ctx context.Context, path string, _ ...GetOption) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, _, id, err := splitPath(path)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return &Snapshot{Path: path, ID: id, Data: cloneData(doc.data), UpdateTime: doc.updateTime}, nil
}

func (s *MemoryStore) Query(ctx context.Context, q Query) ([]*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := q.validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var out []*Snapshot
	for path, doc := range s.docs {
		parent, collection, id, _ := splitPath(path)
		if parent != q.Parent || collection != q.Collection {
			continue
		}
		if !matchesFilters(doc.data, q.Filters) {
			continue
		}
		out = append(out, &Snapshot{Path: path, ID: id, Data: cloneData(doc.data), UpdateTime: doc.updateTime})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if q.OrderBy != "" {
			c := compareValues(out[i].Data[q.OrderBy], out[j].Data[q.OrderBy])
			if c != 0 {
				if q.Desc {
					return c > 0
				}
				return c < 0
			}
		}
		return out[i].Path < out[j].Path
	})
	return out, nil
}

func (s *MemoryStore) Commit(ctx context.Context, b *Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.BeforeCommit != nil {
		if err := s.BeforeCommit(b); err != nil {
			return err
		}
	}

	now := s.now()
	staged := make(map[string]map[string]any)
	touched := make(map[string]bool)
	for _, op := range b.ops {
		current, ok := staged[op.Path]
		if !ok && !touched[op.Path] {
			if doc, exists := s.docs[op.Path]; exists {
				current = doc.data
			}
		}
		next, err := applyOp(current, op, now)
		if err != nil {
			return err
		}
		staged[op.Path] = next
		touched[op.Path] = true
	}

	for path, data := range staged {
		if data == nil {
			delete(s.docs, path)
			continue
		}
		s.docs[path] = &memoryDoc{data: data, updateTime: now}
	}
	return nil
}

// Len reports how many documents are stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

func matchesFilters(data map[string]any, filters []Filter) bool {
	for _, f := range filters {
		value, ok := data[f.Field].(string)
		if !ok {
			return false
		}
		switch f.Op {
		case OpEqual:
			if value != f.Value {
				return false
			}
		case OpIn:
			found := false
			for _, v := range f.Values {
				if v == value {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	return true
}

// compareValues orders numbers before strings; missing values sort first.
func compareValues(a, b any) int {
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
		if b == nil {
			return 1
		}
		return -1
	case string:
		if bv, ok := b.(string); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
		if b == nil {
			return 1
		}
		return 1
	case nil:
		if b == nil {
			return 0
		}
		return -1
	}
	return 0
}

func cloneData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneData(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	}
	return v
}
