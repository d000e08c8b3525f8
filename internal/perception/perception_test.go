package perception

import (
	"math"
	"testing"

	"github.com/annel0/mmo-fauna/internal/entity"
	"github.com/annel0/mmo-fauna/internal/vec"
	"github.com/stretchr/testify/assert"
)

type losStub bool

func (l losStub) LineOfSightClear(from, to entity.Location) bool { return bool(l) }

func at(x, z float64) entity.Location {
	return entity.Location{World: "w", Pos: vec.Vec3Float{X: x, Z: z}}
}

// Наблюдатель в начале координат смотрит вдоль +X.
var observer = Pose{Location: at(0, 0), Facing: vec.Vec3Float{X: 1}}

// pointAt точка на расстоянии d под углом deg от направления взгляда.
func pointAt(deg, d float64) entity.Location {
	rad := deg * math.Pi / 180
	return at(d*math.Cos(rad), d*math.Sin(rad))
}

func TestZoneOf(t *testing.T) {
	assert.Equal(t, Front, ZoneOf(observer, pointAt(0, 5)))
	assert.Equal(t, Front, ZoneOf(observer, pointAt(80, 5)))
	assert.Equal(t, Peripheral, ZoneOf(observer, pointAt(100, 5)))
	assert.Equal(t, Rear, ZoneOf(observer, pointAt(140, 5)))
	assert.Equal(t, Blind, ZoneOf(observer, pointAt(170, 5)))
	assert.Equal(t, Front, ZoneOf(observer, at(0, 0)), "цель в той же точке")
}

func TestDetectionProbability_BlindSpotIsZero(t *testing.T) {
	for _, deg := range []float64{151, 160, 180, -155} {
		for _, d := range []float64{0.5, 4, 20} {
			p := DetectionProbability(observer, pointAt(deg, d), false, true)
			assert.Equal(t, 0.0, p, "угол %v, дистанция %v", deg, d)
		}
	}
}

func TestDetectionProbability_BaseAtZeroDistance(t *testing.T) {
	assert.Equal(t, 1.0, DetectionProbability(observer, at(0, 0), false, false))
}

func TestDetectionProbability_Modifiers(t *testing.T) {
	near := pointAt(0, 0.000001)
	assert.InDelta(t, 0.3, DetectionProbability(observer, near, true, false), 1e-6)

	// на максимальной дальности вероятность падает вдвое
	far := pointAt(0, MaxRange)
	assert.InDelta(t, 0.5, DetectionProbability(observer, far, false, false), 1e-9)

	side := pointAt(100, 12)
	assert.InDelta(t, 0.7*0.75, DetectionProbability(observer, side, false, false), 1e-9)
	assert.InDelta(t, math.Min(1, 0.7*1.5*0.75), DetectionProbability(observer, side, false, true), 1e-9)
}

func TestDetectionProbability_Reproducible(t *testing.T) {
	target := pointAt(37, 9.5)
	a := DetectionProbability(observer, target, true, true)
	b := DetectionProbability(observer, target, true, true)
	assert.Equal(t, a, b)
}

func TestCanSee(t *testing.T) {
	assert.True(t, CanSee(losStub(true), observer, pointAt(0, 20), 1))
	assert.False(t, CanSee(losStub(true), observer, pointAt(0, 30), 1), "дальше фронтальной дальности")
	assert.True(t, CanSee(losStub(true), observer, pointAt(0, 30), 1.5))
	assert.False(t, CanSee(losStub(true), observer, pointAt(140, 10), 1), "тыл видит только на 8")
	assert.False(t, CanSee(losStub(true), observer, pointAt(170, 1), 10), "слепая зона")
	assert.False(t, CanSee(losStub(false), observer, pointAt(0, 5), 1), "нет линии видимости")

	other := entity.Location{World: "nether"}
	assert.False(t, CanSee(losStub(true), observer, other, 1))
}

func TestDetects(t *testing.T) {
	obs := entity.Creature{Location: at(0, 0), Facing: vec.Vec3Float{X: 1}}
	target := entity.Creature{Location: at(12, 0)}

	assert.True(t, Detects(losStub(true), obs, target, 0.74))
	assert.False(t, Detects(losStub(true), obs, target, 0.76))

	target.Crouching = true
	assert.False(t, Detects(losStub(true), obs, target, 0.3))
}
