// Package lru provides an access-order tracker: an ordered set of string keys
// where every touch moves the key to the most-recently-used end. It exists to
// answer one question in O(1): which key has gone longest without access?
package lru

import "container/list"

// Tracker maintains keys in access order, oldest first. The zero value is not
// usable; construct with New. Tracker is not safe for concurrent use; callers
// serialize access.
type Tracker struct {
	order    *list.List               // front = least recently used
	elements map[string]*list.Element // key -> node in order
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{
		order:    list.New(),
		elements: make(map[string]*list.Element),
	}
}

// Touch moves key to the most-recently-used end, inserting it if absent.
func (t *Tracker) Touch(key string) {
	if el, ok := t.elements[key]; ok {
		t.order.MoveToBack(el)
		return
	}
	t.elements[key] = t.order.PushBack(key)
}

// Oldest returns the least-recently-touched key without removing it. The
// second return is false when the tracker is empty.
func (t *Tracker) Oldest() (string, bool) {
	el := t.order.Front()
	if el == nil {
		return "", false
	}
	return el.Value.(string), true
}

// Remove deletes key from the tracker wherever it sits; no-op if absent.
func (t *Tracker) Remove(key string) {
	el, ok := t.elements[key]
	if !ok {
		return
	}
	t.order.Remove(el)
	delete(t.elements, key)
}

// Contains reports whether key is tracked.
func (t *Tracker) Contains(key string) bool {
	_, ok := t.elements[key]
	return ok
}

// Len returns the number of tracked keys.
func (t *Tracker) Len() int { return t.order.Len() }

// Keys returns the tracked keys oldest-first. Used by tests and audits.
func (t *Tracker) Keys() []string {
	keys := make([]string, 0, t.order.Len())
	for el := t.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(string))
	}
	return keys
}
