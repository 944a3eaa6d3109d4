package session

import "container/list"

// LRU orders tenant IDs by recency of use. The front is the least recently
// used entry. Touch, Remove and Oldest are O(1).
type LRU struct {
	order *list.List
	index map[string]*list.Element
}

// NewLRU creates an empty LRU.
func NewLRU() *LRU {
	return &LRU{
		order: list.New(),
		index: make(map[string]*list.Element),
	}
}

// Touch moves tenantID to the most recently used end, inserting it if absent.
func (l *LRU) Touch(tenantID string) {
	if el, ok := l.index[tenantID]; ok {
		l.order.MoveToBack(el)
		return
	}
	l.index[tenantID] = l.order.PushBack(tenantID)
}

// Remove drops tenantID. It reports whether the entry was present.
func (l *LRU) Remove(tenantID string) bool {
	el, ok := l.index[tenantID]
	if !ok {
		return false
	}
	l.order.Remove(el)
	delete(l.index, tenantID)
	return true
}

// Oldest returns the least recently used tenant ID.
func (l *LRU) Oldest() (string, bool) {
	el := l.order.Front()
	if el == nil {
		return "", false
	}
	return el.Value.(string), true //nolint:errcheck,forcetypeassert // only strings are stored
}

// Contains reports whether tenantID is tracked.
func (l *LRU) Contains(tenantID string) bool {
	_, ok := l.index[tenantID]
	return ok
}

// Len returns the number of entries.
func (l *LRU) Len() int {
	return l.order.Len()
}

// Keys returns the entries from least to most recently used.
func (l *LRU) Keys() []string {
	out := make([]string, 0, l.order.Len())
	for el := l.order.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(string)) //nolint:errcheck,forcetypeassert // only strings are stored
	}
	return out
}
