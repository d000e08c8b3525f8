// Package perception модель зрения существ: угловые зоны, дальность,
// линия видимости и вероятность обнаружения.
package perception

import (
	"github.com/annel0/mmo-fauna/internal/entity"
	"github.com/annel0/mmo-fauna/internal/vec"
)

// Zone угловая зона относительно направления взгляда.
type Zone int

const (
	Front Zone = iota
	Peripheral
	Rear
	Blind
)

func (z Zone) String() string {
	switch z {
	case Front:
		return "front"
	case Peripheral:
		return "peripheral"
	case Rear:
		return "rear"
	default:
		return "blind"
	}
}

// Пороговые полууглы зон в градусах.
const (
	FrontAngle      = 85.0
	PeripheralAngle = 120.0
	RearAngle       = 150.0
)

// MaxRange дальность фронтальной зоны; ей нормируется затухание по расстоянию.
const MaxRange = 24.0

const (
	crouchFactor    = 0.3
	sprintFactor    = 1.5
	distanceFalloff = 0.5
)

var zoneRanges = [...]float64{Front: MaxRange, Peripheral: 16, Rear: 8, Blind: 0}

var zoneBase = [...]float64{Front: 1.0, Peripheral: 0.7, Rear: 0.3, Blind: 0}

// Pose положение и направление взгляда.
type Pose struct {
	Location entity.Location
	Facing   vec.Vec3Float
}

// PoseOf поза существа.
func PoseOf(c entity.Creature) Pose {
	return Pose{Location: c.Location, Facing: c.Facing}
}

// ZoneOf угловая зона цели. Цель в той же точке или нулевой взгляд считаются фронтом.
func ZoneOf(observer Pose, target entity.Location) Zone {
	angle := observer.Facing.AngleDegrees(target.Pos.Sub(observer.Location.Pos))
	switch {
	case angle <= FrontAngle:
		return Front
	case angle <= PeripheralAngle:
		return Peripheral
	case angle <= RearAngle:
		return Rear
	default:
		return Blind
	}
}

// RangeOf дальность зоны.
func RangeOf(z Zone) float64 { return zoneRanges[z] }

// BaseProbability базовая вероятность обнаружения в зоне.
func BaseProbability(z Zone) float64 { return zoneBase[z] }

// DetectionProbability вероятность заметить цель в [0,1]. Чистая функция.
func DetectionProbability(observer Pose, target entity.Location, crouching, sprinting bool) float64 {
	if !observer.Location.SameWorld(target) {
		return 0
	}

	p := BaseProbability(ZoneOf(observer, target))
	if p == 0 {
		return 0
	}
	if crouching {
		p *= crouchFactor
	}
	if sprinting {
		p *= sprintFactor
	}

	frac := observer.Location.Pos.DistanceTo(target.Pos) / MaxRange
	if frac > 1 {
		frac = 1
	}
	p *= 1 - frac*distanceFalloff

	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// LineOfSight внешний запрос прямой видимости.
type LineOfSight interface {
	LineOfSightClear(from, to entity.Location) bool
}

// CanSee зона + дальность (с множителем) + линия видимости.
func CanSee(los LineOfSight, observer Pose, target entity.Location, rangeMultiplier float64) bool {
	if !observer.Location.SameWorld(target) {
		return false
	}
	rng := RangeOf(ZoneOf(observer, target)) * rangeMultiplier
	if rng <= 0 {
		return false
	}
	if observer.Location.Pos.DistanceTo(target.Pos) > rng {
		return false
	}
	return los.LineOfSightClear(observer.Location, target)
}

// Detects решает, заметил ли наблюдатель цель при броске roll ∈ [0,1).
func Detects(los LineOfSight, observer, target entity.Creature, roll float64) bool {
	pose := PoseOf(observer)
	if !CanSee(los, pose, target.Location, 1) {
		return false
	}
	return roll < DetectionProbability(pose, target.Location, target.Crouching, target.Sprinting)
}
