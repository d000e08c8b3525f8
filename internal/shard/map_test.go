package shard

import (
	"sync"
	"testing"

	"github.com/annel0/mmo-fauna/internal/entity"
	"github.com/stretchr/testify/assert"
)

func TestMap_Basic(t *testing.T) {
	m := New[int]()
	id := entity.NewID()

	_, ok := m.Get(id)
	assert.False(t, ok)

	m.Set(id, 5)
	v, ok := m.Get(id)
	assert.True(t, ok)
	assert.Equal(t, 5, v)

	m.Update(id, func(v int, ok bool) (int, bool) { return v + 1, true })
	v, _ = m.Get(id)
	assert.Equal(t, 6, v)

	m.Update(id, func(int, bool) (int, bool) { return 0, false })
	assert.Equal(t, 0, m.Len())
}

func TestMap_GetOrCreateConcurrent(t *testing.T) {
	m := New[*int]()
	id := entity.NewID()
	created := 0
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.GetOrCreate(id, func() *int {
				mu.Lock()
				created++
				mu.Unlock()
				return new(int)
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created, "значение создаётся ровно один раз")
}

func TestMap_Range(t *testing.T) {
	m := New[string]()
	for i := 0; i < 100; i++ {
		m.Set(entity.NewID(), "x")
	}

	seen := 0
	m.Range(func(entity.ID, string) bool {
		seen++
		return true
	})
	assert.Equal(t, 100, seen)

	seen = 0
	m.Range(func(entity.ID, string) bool {
		seen++
		return seen < 3
	})
	assert.Equal(t, 3, seen)
}
