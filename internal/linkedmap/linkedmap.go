// Package linkedmap provides a map that remembers the order in which keys were last set.
package linkedmap

import (
	"container/list"
	"sync"
)

type entry[K comparable, V any] struct {
	key K
	val V
}

// Map is a concurrency-safe map whose keys are ordered from least to most recently
// set (or touched). Reading a value with Get does not change the order.
type Map[K comparable, V any] struct {
	µ     sync.RWMutex
	items map[K]*list.Element
	order *list.List
}

func New[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{
		items: map[K]*list.Element{},
		order: list.New(),
	}
}

func (m *Map[K, V]) Len() int {
	m.µ.RLock()
	defer m.µ.RUnlock()
	return len(m.items)
}

func (m *Map[K, V]) Get(key K) (val V, ok bool) {
	m.µ.RLock()
	defer m.µ.RUnlock()
	e, ok := m.items[key]
	if !ok {
		return
	}
	return e.Value.(*entry[K, V]).val, true
}

// Set inserts or replaces the value for key and moves key to the back.
func (m *Map[K, V]) Set(key K, val V) {
	m.µ.Lock()
	defer m.µ.Unlock()
	m.set(key, val)
}

func (m *Map[K, V]) set(key K, val V) {
	if e, ok := m.items[key]; ok {
		e.Value.(*entry[K, V]).val = val
		m.order.MoveToBack(e)
		return
	}
	m.items[key] = m.order.PushBack(&entry[K, V]{key: key, val: val})
}

// GetOrSet returns the existing value for key, or stores and returns the one built by mk.
// In both cases key ends up at the back.
func (m *Map[K, V]) GetOrSet(key K, mk func() V) (val V, existed bool) {
	m.µ.Lock()
	defer m.µ.Unlock()
	if e, ok := m.items[key]; ok {
		m.order.MoveToBack(e)
		return e.Value.(*entry[K, V]).val, true
	}
	val = mk()
	m.set(key, val)
	return val, false
}

// Touch moves key to the back, if present.
func (m *Map[K, V]) Touch(key K) bool {
	m.µ.Lock()
	defer m.µ.Unlock()
	e, ok := m.items[key]
	if ok {
		m.order.MoveToBack(e)
	}
	return ok
}

func (m *Map[K, V]) Delete(key K) (val V, ok bool) {
	m.µ.Lock()
	defer m.µ.Unlock()
	return m.delete(key)
}

func (m *Map[K, V]) delete(key K) (val V, ok bool) {
	e, ok := m.items[key]
	if !ok {
		return
	}
	delete(m.items, key)
	m.order.Remove(e)
	return e.Value.(*entry[K, V]).val, true
}

// DeleteIf removes key only if cond reports true for its current value.
func (m *Map[K, V]) DeleteIf(key K, cond func(V) bool) bool {
	m.µ.Lock()
	defer m.µ.Unlock()
	e, ok := m.items[key]
	if !ok || !cond(e.Value.(*entry[K, V]).val) {
		return false
	}
	m.delete(key)
	return true
}

// Front returns the least recently set entry.
func (m *Map[K, V]) Front() (key K, val V, ok bool) {
	m.µ.RLock()
	defer m.µ.RUnlock()
	e := m.order.Front()
	if e == nil {
		return
	}
	en := e.Value.(*entry[K, V])
	return en.key, en.val, true
}

// Back returns the most recently set entry.
func (m *Map[K, V]) Back() (key K, val V, ok bool) {
	m.µ.RLock()
	defer m.µ.RUnlock()
	e := m.order.Back()
	if e == nil {
		return
	}
	en := e.Value.(*entry[K, V])
	return en.key, en.val, true
}

// Keys returns all keys, front to back.
func (m *Map[K, V]) Keys() []K {
	m.µ.RLock()
	defer m.µ.RUnlock()
	keys := make([]K, 0, len(m.items))
	for e := m.order.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*entry[K, V]).key)
	}
	return keys
}

// Range calls fn for every entry from front to back until fn returns false.
// fn must not modify the map.
func (m *Map[K, V]) Range(fn func(key K, val V) bool) {
	m.µ.RLock()
	defer m.µ.RUnlock()
	for e := m.order.Front(); e != nil; e = e.Next() {
		en := e.Value.(*entry[K, V])
		if !fn(en.key, en.val) {
			return
		}
	}
}

// PopFrontWhile removes entries from the front as long as cond reports true,
// and returns how many were removed.
func (m *Map[K, V]) PopFrontWhile(cond func(key K, val V) bool) int {
	m.µ.Lock()
	defer m.µ.Unlock()
	n := 0
	for e := m.order.Front(); e != nil; e = m.order.Front() {
		en := e.Value.(*entry[K, V])
		if !cond(en.key, en.val) {
			break
		}
		m.delete(en.key)
		n++
	}
	return n
}

// TrimFront removes entries from the front until at most size remain, and
// returns the removed entries' keys.
func (m *Map[K, V]) TrimFront(size int) []K {
	m.µ.Lock()
	defer m.µ.Unlock()
	var removed []K
	for len(m.items) > size {
		en := m.order.Front().Value.(*entry[K, V])
		m.delete(en.key)
		removed = append(removed, en.key)
	}
	return removed
}

// Clear removes all entries.
func (m *Map[K, V]) Clear() {
	m.µ.Lock()
	defer m.µ.Unlock()
	m.items = map[K]*list.Element{}
	m.order.Init()
}
