// Package shard потокобезопасная map по id существ с шардированием по xxhash.
package shard

import (
	"sync"

	"github.com/annel0/mmo-fauna/internal/entity"
	"github.com/cespare/xxhash/v2"
)

const shardCount = 32

type bucket[V any] struct {
	mu    sync.RWMutex
	items map[entity.ID]V
}

// Map шардированная map; регионы, тикающие непересекающиеся id, почти не конкурируют за блокировки.
type Map[V any] struct {
	shards [shardCount]*bucket[V]
}

// New создаёт пустую Map.
func New[V any]() *Map[V] {
	m := &Map[V]{}
	for i := range m.shards {
		m.shards[i] = &bucket[V]{items: make(map[entity.ID]V)}
	}
	return m
}

func (m *Map[V]) shard(id entity.ID) *bucket[V] {
	return m.shards[xxhash.Sum64(id[:])%shardCount]
}

func (m *Map[V]) Get(id entity.ID) (V, bool) {
	b := m.shard(id)
	b.mu.RLock()
	v, ok := b.items[id]
	b.mu.RUnlock()
	return v, ok
}

func (m *Map[V]) Set(id entity.ID, v V) {
	b := m.shard(id)
	b.mu.Lock()
	b.items[id] = v
	b.mu.Unlock()
}

// GetOrCreate возвращает значение или атомарно создаёт его через create.
func (m *Map[V]) GetOrCreate(id entity.ID, create func() V) V {
	b := m.shard(id)
	b.mu.RLock()
	v, ok := b.items[id]
	b.mu.RUnlock()
	if ok {
		return v
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok = b.items[id]; ok {
		return v
	}
	v = create()
	b.items[id] = v
	return v
}

// Update атомарно изменяет значение под блокировкой шарда.
// fn получает текущее значение и флаг наличия; возврат keep=false удаляет ключ.
func (m *Map[V]) Update(id entity.ID, fn func(v V, ok bool) (V, bool)) {
	b := m.shard(id)
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.items[id]
	next, keep := fn(cur, ok)
	if keep {
		b.items[id] = next
	} else {
		delete(b.items, id)
	}
}

func (m *Map[V]) Delete(id entity.ID) {
	b := m.shard(id)
	b.mu.Lock()
	delete(b.items, id)
	b.mu.Unlock()
}

func (m *Map[V]) Len() int {
	n := 0
	for _, b := range m.shards {
		b.mu.RLock()
		n += len(b.items)
		b.mu.RUnlock()
	}
	return n
}

// Range обходит снимок каждого шарда; fn вызывается без удержания блокировки.
func (m *Map[V]) Range(fn func(id entity.ID, v V) bool) {
	for _, b := range m.shards {
		b.mu.RLock()
		ids := make([]entity.ID, 0, len(b.items))
		vals := make([]V, 0, len(b.items))
		for id, v := range b.items {
			ids = append(ids, id)
			vals = append(vals, v)
		}
		b.mu.RUnlock()

		for i := range ids {
			if !fn(ids[i], vals[i]) {
				return
			}
		}
	}
}
