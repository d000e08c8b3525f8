// Package entity описывает существ хоста и интерфейсы, через которые движок
// читает мир и действует в нём.
package entity

import (
	"math"

	"github.com/annel0/mmo-fauna/internal/vec"
	"github.com/google/uuid"
)

// ID непрозрачный стабильный идентификатор существа или игрока.
type ID = uuid.UUID

// Nil пустой идентификатор.
var Nil = uuid.Nil

// NewID генерирует новый случайный идентификатор.
func NewID() ID { return uuid.New() }

// ParseID разбирает строковое представление идентификатора.
func ParseID(s string) (ID, error) { return uuid.Parse(s) }

// Species тег вида ("cow", "wolf", ...).
type Species string

// Location позиция в конкретном мире.
type Location struct {
	World string
	Pos   vec.Vec3Float
}

// DistanceTo расстояние до other; для разных миров +Inf.
func (l Location) DistanceTo(other Location) float64 {
	if l.World != other.World {
		return math.Inf(1)
	}
	return l.Pos.DistanceTo(other.Pos)
}

// SameWorld true если обе позиции в одном мире.
func (l Location) SameWorld(other Location) bool {
	return l.World == other.World
}

// Creature снимок живой сущности, как его видит хост в момент запроса.
type Creature struct {
	ID         ID
	Species    Species
	Location   Location
	Facing     vec.Vec3Float
	Health     float64
	MaxHealth  float64
	TicksLived uint64
	Valid      bool
	IsPlayer   bool
	Crouching  bool
	Sprinting  bool
}

// HealthRatio доля здоровья в [0,1].
func (c Creature) HealthRatio() float64 {
	if c.MaxHealth <= 0 {
		return 0
	}
	r := c.Health / c.MaxHealth
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

// Alive существо валидно и имеет здоровье.
func (c Creature) Alive() bool {
	return c.Valid && c.Health > 0
}

// WorldQuery запросы к миру хоста.
type WorldQuery interface {
	NearbyEntities(loc Location, radius float64) []Creature
	LineOfSightClear(from, to Location) bool
	EntityByID(id ID) (Creature, bool)
}

// ModifierOp способ применения модификатора атрибута.
type ModifierOp int

const (
	OpAdd ModifierOp = iota
	OpMultiply
)

// AttributeKind атрибут, на который действует модификатор.
type AttributeKind string

const (
	AttrAttackDamage  AttributeKind = "attack_damage"
	AttrMovementSpeed AttributeKind = "movement_speed"
)

// Actuator запросы на действие; хост исполняет их сам.
type Actuator interface {
	MoveToward(id ID, target Location, speed float64)
	StopMovement(id ID)
	Attack(id ID, target ID)
	ApplyAttributeModifier(id ID, kind AttributeKind, key string, value float64, op ModifierOp)
	RemoveAttributeModifier(id ID, key string)
	DropItem(at Location, item string, count int)
}

// EffectKind вид визуального/звукового эффекта.
type EffectKind string

const (
	EffectAngry  EffectKind = "angry_villager"
	EffectHearts EffectKind = "heart"
	EffectPanic  EffectKind = "smoke"
	EffectPlay   EffectKind = "note"
)

// Feedback эффекты "выстрелил и забыл".
type Feedback interface {
	PlayEffect(at Location, kind EffectKind, count int)
}
