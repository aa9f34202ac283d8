package batchkit

import (
	"strings"
)

// Record is one structured item of a batch request.
type Record map[string]any

// Get returns the named attribute.
func (r Record) Get(name string) (any, bool) {
	v, ok := r[name]
	return v, ok
}

// ResourcePath names the resource method a batch belongs to.
// It is used in diagnostics only.
type ResourcePath []string

func (p ResourcePath) String() string {
	return strings.Join(p, ".")
}

func (p ResourcePath) prefix() string {
	return "[batchkit :: " + p.String() + "]"
}

// Result is one slot of a batch response: either a value or a per-item error.
type Result[V any] struct {
	Value V
	Err   error
}

// Ok wraps a value.
func Ok[V any](v V) Result[V] {
	return Result[V]{Value: v}
}

// Fail wraps a per-item error.
func Fail[V any](err error) Result[V] {
	return Result[V]{Err: err}
}

// Property reads the identifying attribute off a response item.
// Get reports false when the attribute is absent.
type Property[V any] struct {
	Name string
	Get  func(v V) (any, bool)
}

// RecordProperty is a Property reading the named attribute of a Record.
func RecordProperty(name string) Property[Record] {
	return Property[Record]{
		Name: name,
		Get: func(r Record) (any, bool) {
			return r.Get(name)
		},
	}
}
