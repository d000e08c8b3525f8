package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManual_Advance(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManual(start)

	c.Advance(time.Minute)
	assert.Equal(t, start.Add(time.Minute), c.Now())

	c.AdvanceTicks(40, 50*time.Millisecond)
	assert.Equal(t, uint64(40), c.Tick())
	assert.Equal(t, start.Add(time.Minute+2*time.Second), c.Now())
	assert.Equal(t, uint64(30), c.ElapsedTicks(10))
	assert.Equal(t, uint64(0), c.ElapsedTicks(100), "будущий тик не даёт переполнения")
}

func TestSystem_Advance(t *testing.T) {
	s := NewSystem()
	assert.Equal(t, uint64(1), s.Advance())
	assert.Equal(t, uint64(2), s.Advance())
	assert.Equal(t, uint64(2), s.ElapsedTicks(0))
}

func TestSystemAt_ResumesTickCount(t *testing.T) {
	s := NewSystemAt(1000)
	assert.Equal(t, uint64(1000), s.Tick())
	assert.Equal(t, uint64(1001), s.Advance())
	assert.Equal(t, uint64(1), s.ElapsedTicks(1000))
}
