package docstore

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// OpKind identifies a batched write.
type OpKind int

const (
	// OpSet replaces the whole document, creating it when absent.
	OpSet OpKind = iota
	// OpMerge overwrites the given fields, creating the document when absent.
	OpMerge
	// OpUpdate overwrites the given fields of an existing document.
	OpUpdate
	// OpDelete removes the document; deleting an absent document is a no-op.
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpSet:
		return "set"
	case OpMerge:
		return "merge"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return "unknown"
}

// Precondition guards a single operation. Match implies Exists.
type Precondition struct {
	Exists  bool
	Missing bool
	Match   map[string]any
}

// Exists requires the document to be present at commit time.
func Exists() *Precondition {
	return &Precondition{Exists: true}
}

// NotExists requires the document to be absent at commit time.
func NotExists() *Precondition {
	return &Precondition{Missing: true}
}

// Match requires the document to be present and every listed field to equal
// the given value. A nil value matches a null or missing field.
func Match(fields map[string]any) *Precondition {
	return &Precondition{Exists: true, Match: fields}
}

// Op is one write inside a Batch.
type Op struct {
	Kind         OpKind
	Path         string
	Data         map[string]any
	Precondition *Precondition
}

// Batch collects writes that commit atomically.
type Batch struct {
	ops []Op
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

func (b *Batch) add(kind OpKind, path string, data map[string]any, pre []*Precondition) *Batch {
	op := Op{Kind: kind, Path: path, Data: data}
	if len(pre) > 0 {
		op.Precondition = pre[0]
	}
	b.ops = append(b.ops, op)
	return b
}

func (b *Batch) Set(path string, data map[string]any, pre ...*Precondition) *Batch {
	return b.add(OpSet, path, data, pre)
}

func (b *Batch) Merge(path string, fields map[string]any, pre ...*Precondition) *Batch {
	return b.add(OpMerge, path, fields, pre)
}

func (b *Batch) Update(path string, fields map[string]any, pre ...*Precondition) *Batch {
	return b.add(OpUpdate, path, fields, pre)
}

func (b *Batch) Delete(path string, pre ...*Precondition) *Batch {
	return b.add(OpDelete, path, nil, pre)
}

// Ops returns the queued operations in order.
func (b *Batch) Ops() []Op {
	return b.ops
}

// Len reports the number of queued operations.
func (b *Batch) Len() int {
	return len(b.ops)
}

// Paths returns the distinct paths touched by the batch.
func (b *Batch) Paths() []string {
	seen := make(map[string]struct{}, len(b.ops))
	var paths []string
	for _, op := range b.ops {
		if _, ok := seen[op.Path]; ok {
			continue
		}
		seen[op.Path] = struct{}{}
		paths = append(paths, op.Path)
	}
	return paths
}

func (b *Batch) validate() error {
	if len(b.ops) > MaxBatchOps {
		return fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(b.ops), MaxBatchOps)
	}
	for _, op := range b.ops {
		if _, _, _, err := splitPath(op.Path); err != nil {
			return err
		}
	}
	return nil
}

type serverTimestamp struct{}

// ServerTimestamp is replaced with the commit time in unix milliseconds.
var ServerTimestamp any = serverTimestamp{}

type arrayUnion struct {
	values []any
}

// ArrayUnion appends the values to an array field, skipping ones already present.
func ArrayUnion(values ...any) any {
	return arrayUnion{values: values}
}

// Fields converts a JSON-tagged struct into a field map suitable for a write.
func Fields(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode fields: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode fields: %w", err)
	}
	return m, nil
}

// applyOp computes the document that results from op. A nil result means the
// document does not exist afterwards.
func applyOp(current map[string]any, op Op, now time.Time) (map[string]any, error) {
	if err := checkPrecondition(current, op); err != nil {
		return nil, err
	}

	switch op.Kind {
	case OpDelete:
		return nil, nil
	case OpUpdate:
		if current == nil {
			return nil, fmt.Errorf("%w: update %s", ErrNotFound, op.Path)
		}
		fallthrough
	case OpMerge:
		next := make(map[string]any, len(current)+len(op.Data))
		for k, v := range current {
			next[k] = v
		}
		for k, v := range op.Data {
			value, err := resolveValue(next[k], v, now)
			if err != nil {
				return nil, fmt.Errorf("%s field %q: %w", op.Path, k, err)
			}
			next[k] = value
		}
		return next, nil
	case OpSet:
		next := make(map[string]any, len(op.Data))
		for k, v := range op.Data {
			value, err := resolveValue(nil, v, now)
			if err != nil {
				return nil, fmt.Errorf("%s field %q: %w", op.Path, k, err)
			}
			next[k] = value
		}
		return next, nil
	}
	return nil, fmt.Errorf("unknown op kind %d", op.Kind)
}

func checkPrecondition(current map[string]any, op Op) error {
	pre := op.Precondition
	if pre == nil {
		return nil
	}
	if (pre.Exists || pre.Match != nil) && current == nil {
		return fmt.Errorf("%w: %s does not exist", ErrPreconditionFailed, op.Path)
	}
	if pre.Missing && current != nil {
		return fmt.Errorf("%w: %s already exists", ErrPreconditionFailed, op.Path)
	}
	for field, want := range pre.Match {
		expected, err := normalize(want)
		if err != nil {
			return err
		}
		if !reflect.DeepEqual(current[field], expected) {
			return fmt.Errorf("%w: %s field %q is %v, want %v", ErrPreconditionFailed, op.Path, field, current[field], expected)
		}
	}
	return nil
}

func resolveValue(existing, v any, now time.Time) (any, error) {
	switch val := v.(type) {
	case serverTimestamp:
		return float64(now.UnixMilli()), nil
	case arrayUnion:
		var out []any
		if arr, ok := existing.([]any); ok {
			out = append(out, arr...)
		}
		for _, item := range val.values {
			n, err := normalize(item)
			if err != nil {
				return nil, err
			}
			if !containsValue(out, n) {
				out = append(out, n)
			}
		}
		if out == nil {
			out = []any{}
		}
		return out, nil
	}
	return normalize(v)
}

// normalize maps any value onto the JSON data model so stored documents only
// hold maps, slices, strings, float64, bool and nil.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	return out, nil
}

func containsValue(values []any, v any) bool {
	for _, existing := range values {
		if reflect.DeepEqual(existing, v) {
			return true
		}
	}
	return false
}
