// Package clock единый источник времени движка: настенное время и счётчик тиков.
package clock

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock источник времени, внедряемый во все места, где считается затухание.
type Clock interface {
	Now() time.Time
	Tick() uint64
	ElapsedTicks(since uint64) uint64
}

// System настенное время + счётчик тиков, который продвигает планировщик.
type System struct {
	tick atomic.Uint64
}

func NewSystem() *System { return &System{} }

// NewSystemAt часы, продолжающие счёт тиков с start.
func NewSystemAt(start uint64) *System {
	s := &System{}
	s.tick.Store(start)
	return s
}

func (s *System) Now() time.Time { return time.Now() }

func (s *System) Tick() uint64 { return s.tick.Load() }

// Advance увеличивает счётчик тиков на 1 и возвращает новое значение.
func (s *System) Advance() uint64 { return s.tick.Add(1) }

func (s *System) ElapsedTicks(since uint64) uint64 {
	return elapsed(s.Tick(), since)
}

// Manual управляемые часы для тестов.
type Manual struct {
	mu   sync.RWMutex
	now  time.Time
	tick uint64
}

// NewManual создаёт часы, остановленные на start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

func (m *Manual) Tick() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tick
}

func (m *Manual) ElapsedTicks(since uint64) uint64 {
	return elapsed(m.Tick(), since)
}

// Advance сдвигает время на d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// AdvanceTicks сдвигает счётчик тиков на n и время на n * tickInterval.
func (m *Manual) AdvanceTicks(n uint64, tickInterval time.Duration) {
	m.mu.Lock()
	m.tick += n
	m.now = m.now.Add(time.Duration(n) * tickInterval)
	m.mu.Unlock()
}

func elapsed(now, since uint64) uint64 {
	if since > now {
		return 0
	}
	return now - since
}
