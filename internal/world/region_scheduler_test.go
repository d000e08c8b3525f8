package world

import (
	"sync"
	"testing"
	"time"

	"github.com/annel0/mmo-fauna/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTicker struct {
	mu      sync.Mutex
	counts  map[entity.ID]int
	panicOn entity.ID
}

func newCountingTicker() *countingTicker {
	return &countingTicker{counts: make(map[entity.ID]int)}
}

func (c *countingTicker) Tick(id entity.ID, now time.Time) {
	c.mu.Lock()
	c.counts[id]++
	c.mu.Unlock()
	if id == c.panicOn {
		panic("boom")
	}
}

func (c *countingTicker) count(id entity.ID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[id]
}

func TestRegionScheduler_TickOnceVisitsEveryCreature(t *testing.T) {
	w := NewSimWorld()
	ids := []entity.ID{
		w.Spawn("cow", at(0, 0), 10, 0).ID,
		w.Spawn("cow", at(-70, 10), 10, 0).ID,
		w.Spawn("wolf", at(200, -200), 8, 0).ID,
	}
	player := w.AddPlayer(at(1, 1))

	ticker := newCountingTicker()
	rs := NewRegionScheduler(w, ticker, 64, 2)
	defer rs.Stop()

	rs.TickOnce(time.Now())
	rs.TickOnce(time.Now())

	for _, id := range ids {
		assert.Equal(t, 2, ticker.count(id))
	}
	assert.Zero(t, ticker.count(player.ID), "Игроки не тикаются")
	assert.Equal(t, uint64(2), rs.Ticks())
	assert.Contains(t, rs.GetStats(), "3 regions")
}

func TestRegionScheduler_RecoversPanics(t *testing.T) {
	w := NewSimWorld()
	bad := w.Spawn("cow", at(0, 0), 10, 0)
	good := w.Spawn("cow", at(1, 0), 10, 0)

	ticker := newCountingTicker()
	ticker.panicOn = bad.ID
	rs := NewRegionScheduler(w, ticker, 64, 1)
	defer rs.Stop()

	rs.TickOnce(time.Now())

	assert.Equal(t, uint64(1), rs.Panics())
	assert.Equal(t, 1, ticker.count(good.ID), "Паника одного существа не должна мешать соседям")
}

func TestRegionScheduler_StartStop(t *testing.T) {
	w := NewSimWorld()
	cow := w.Spawn("cow", at(0, 0), 10, 0)

	ticker := newCountingTicker()
	rs := NewRegionScheduler(w, ticker, 64, 2)

	var pre sync.WaitGroup
	pre.Add(1)
	var once sync.Once
	rs.SetPreTick(func() { once.Do(pre.Done) })

	rs.Start(5 * time.Millisecond)
	pre.Wait()
	require.Eventually(t, func() bool { return ticker.count(cow.ID) > 0 }, time.Second, 5*time.Millisecond)

	rs.Stop()
	rs.Stop()

	n := ticker.count(cow.ID)
	rs.TickOnce(time.Now())
	assert.Equal(t, n, ticker.count(cow.ID), "После Stop тики не выполняются")
}

func TestRegionScheduler_RegionKeys(t *testing.T) {
	rs := NewRegionScheduler(NewSimWorld(), newCountingTicker(), 64, 1)
	defer rs.Stop()

	assert.Equal(t, regionKey{world: "overworld", x: 0, z: 0}, rs.getRegionKey(at(63.9, 0)))
	assert.Equal(t, regionKey{world: "overworld", x: -1, z: 1}, rs.getRegionKey(at(-0.5, 64)))
}
