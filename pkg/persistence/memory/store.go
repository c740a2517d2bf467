package memory

import (
	"sort"
	"sync"
)

// table is a generic in-memory record set keyed by K. Records are cloned on the way in and
// out so callers never share memory with the store.
type table[K comparable, T any] struct {
	mu      sync.RWMutex
	records map[K]*T
	clone   func(*T) (*T, error)
}

func newTable[K comparable, T any](clone func(*T) (*T, error)) *table[K, T] {
	return &table[K, T]{
		records: make(map[K]*T),
		clone:   clone,
	}
}

func (t *table[K, T]) put(key K, v *T) error {
	c, err := t.clone(v)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.records[key] = c

	return nil
}

func (t *table[K, T]) get(key K) (*T, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	v, ok := t.records[key]
	if !ok {
		return nil, nil
	}

	return t.clone(v)
}

// filter returns clones of the matching records ordered by less.
func (t *table[K, T]) filter(match func(*T) bool, less func(a, b *T) bool) ([]*T, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*T, 0)

	for _, v := range t.records {
		if !match(v) {
			continue
		}

		c, err := t.clone(v)
		if err != nil {
			return nil, err
		}

		out = append(out, c)
	}

	if less != nil {
		sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	}

	return out, nil
}

// deleteWhere removes the matching records and returns how many were removed.
func (t *table[K, T]) deleteWhere(match func(*T) bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0

	for key, v := range t.records {
		if match(v) {
			delete(t.records, key)

			removed++
		}
	}

	return removed
}
