package services

// entityMap is the keyed store behind a peer's entity registry. It is not safe
// for concurrent use; the owning Peer serializes access.
type entityMap[K comparable, V any] struct {
	items map[K]V
}

func newEntityMap[K comparable, V any]() entityMap[K, V] {
	return entityMap[K, V]{items: make(map[K]V)}
}

// add returns false when id is already registered.
func (m entityMap[K, V]) add(id K, v V) bool {
	if _, exists := m.items[id]; exists {
		return false
	}
	m.items[id] = v
	return true
}

// remove is idempotent: removing an absent id reports false.
func (m entityMap[K, V]) remove(id K) (V, bool) {
	v, exists := m.items[id]
	if exists {
		delete(m.items, id)
	}
	return v, exists
}

func (m entityMap[K, V]) find(id K) (V, bool) {
	v, exists := m.items[id]
	return v, exists
}

func (m entityMap[K, V]) len() int {
	return len(m.items)
}

func (m entityMap[K, V]) values() []V {
	out := make([]V, 0, len(m.items))
	for _, v := range m.items {
		out = append(out, v)
	}
	return out
}

// drain empties the map and returns what it held.
func (m entityMap[K, V]) drain() []V {
	out := m.values()
	for k := range m.items {
		delete(m.items, k)
	}
	return out
}
