// Package registry provides a concurrent string-keyed store.
package registry

import (
	"sort"

	"github.com/alphadose/haxmap"
)

type Registry[T any] interface {
	Get(name string) (T, bool)
	Add(name string, value T)
	GetOrAdd(name string, value func() T) (T, bool)
	Del(name ...string)
	Len() int
	// Names returns the registered names in lexical order.
	Names() []string
	// Each calls fn for every entry until fn returns false.
	Each(fn func(name string, value T) bool)
}

type registry[T any] struct {
	values *haxmap.Map[string, T]
}

func New[T any]() Registry[T] {
	return &registry[T]{
		values: haxmap.New[string, T](),
	}
}

func (r *registry[T]) Get(name string) (T, bool) {
	return r.values.Get(name)
}

func (r *registry[T]) Add(name string, value T) {
	r.values.Set(name, value)
}

func (r *registry[T]) GetOrAdd(name string, valueFn func() T) (T, bool) {
	return r.values.GetOrCompute(name, valueFn)
}

func (r *registry[T]) Del(names ...string) {
	if len(names) == 0 {
		return
	}
	r.values.Del(names...)
}

func (r *registry[T]) Len() int {
	return int(r.values.Len())
}

func (r *registry[T]) Names() []string {
	names := make([]string, 0, r.Len())
	r.values.ForEach(func(name string, _ T) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}

func (r *registry[T]) Each(fn func(name string, value T) bool) {
	r.values.ForEach(fn)
}
