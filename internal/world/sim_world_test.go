package world

import (
	"testing"
	"time"

	"github.com/annel0/mmo-fauna/internal/entity"
	"github.com/annel0/mmo-fauna/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(x, z float64) entity.Location {
	return entity.Location{World: "overworld", Pos: vec.Vec3Float{X: x, Y: 64, Z: z}}
}

func TestSimWorld_NearbyEntities(t *testing.T) {
	w := NewSimWorld()
	near := w.Spawn("cow", at(2, 0), 10, 0)
	far := w.Spawn("cow", at(40, 0), 10, 0)
	other := w.Spawn("cow", entity.Location{World: "nether", Pos: vec.Vec3Float{X: 1}}, 10, 0)

	found := w.NearbyEntities(at(0, 0), 10)
	require.Len(t, found, 1, "В радиусе должна быть одна корова")
	assert.Equal(t, near.ID, found[0].ID)

	w.Invalidate(near.ID)
	assert.Empty(t, w.NearbyEntities(at(0, 0), 10), "Невалидные сущности не возвращаются")

	_, ok := w.EntityByID(far.ID)
	assert.True(t, ok)
	inNether := w.NearbyEntities(other.Location, 5)
	require.Len(t, inNether, 1, "Поиск не должен выходить за пределы мира")
	assert.Equal(t, other.ID, inNether[0].ID)
}

func TestSimWorld_NearbyEntitiesSortedByDistance(t *testing.T) {
	w := NewSimWorld()
	b := w.Spawn("sheep", at(5, 0), 8, 0)
	a := w.Spawn("sheep", at(1, 0), 8, 0)

	found := w.NearbyEntities(at(0, 0), 10)
	require.Len(t, found, 2)
	assert.Equal(t, a.ID, found[0].ID)
	assert.Equal(t, b.ID, found[1].ID)
}

func TestSimWorld_LineOfSight(t *testing.T) {
	w := NewSimWorld()
	assert.True(t, w.LineOfSightClear(at(0, 0), at(10, 0)))

	w.AddWall("overworld", 5, 0)
	assert.False(t, w.LineOfSightClear(at(0.5, 0.5), at(10.5, 0.5)), "Стена должна перекрывать обзор")
	assert.True(t, w.LineOfSightClear(at(0.5, 5.5), at(10.5, 5.5)))

	nether := entity.Location{World: "nether"}
	assert.False(t, w.LineOfSightClear(at(0, 0), nether), "Между мирами обзора нет")
}

func TestSimWorld_StepMovesTowardDestination(t *testing.T) {
	w := NewSimWorld()
	c := w.Spawn("cow", at(0, 0), 10, 0)

	w.MoveToward(c.ID, at(10, 0), 1.0)
	w.Step(time.Second)

	got, _ := w.EntityByID(c.ID)
	assert.InDelta(t, BaseSpeed, got.Location.Pos.X, 1e-9)
	assert.InDelta(t, 1.0, got.Facing.X, 1e-9)
	assert.Equal(t, uint64(1), got.TicksLived)

	w.Step(2 * time.Second)
	got, _ = w.EntityByID(c.ID)
	assert.InDelta(t, 10.0, got.Location.Pos.X, 1e-9, "Сущность должна остановиться в точке назначения")
	_, _, moving := w.Destination(c.ID)
	assert.False(t, moving)

	w.MoveToward(c.ID, at(0, 0), 1.0)
	w.StopMovement(c.ID)
	_, _, moving = w.Destination(c.ID)
	assert.False(t, moving)

	found := w.NearbyEntities(at(10, 0), 1)
	require.Len(t, found, 1, "Индекс должен следовать за перемещением")
}

func TestSimWorld_AttackAppliesModifiersAndCallbacks(t *testing.T) {
	w := NewSimWorld()
	wolf := w.Spawn("wolf", at(0, 0), 8, 0)
	cow := w.Spawn("cow", at(1, 0), 10, 0)

	var damaged, died []entity.ID
	w.OnDamage(func(victim, attacker entity.ID) {
		damaged = append(damaged, victim)
		assert.Equal(t, wolf.ID, attacker)
	})
	w.OnDeath(func(victim, killer entity.ID) { died = append(died, victim) })

	w.ApplyAttributeModifier(wolf.ID, entity.AttrAttackDamage, "rage", 2.0, entity.OpMultiply)
	w.ApplyAttributeModifier(wolf.ID, entity.AttrAttackDamage, "bonus", 1.0, entity.OpAdd)
	assert.InDelta(t, (BaseAttackDamage+1)*2, w.AttackDamage(wolf.ID), 1e-9)
	assert.True(t, w.HasModifier(wolf.ID, "rage"))

	w.Attack(wolf.ID, cow.ID)
	got, _ := w.EntityByID(cow.ID)
	assert.InDelta(t, 10-(BaseAttackDamage+1)*2, got.Health, 1e-9)
	assert.Equal(t, []entity.ID{cow.ID}, damaged)
	assert.Empty(t, died)

	w.Attack(wolf.ID, cow.ID)
	got, _ = w.EntityByID(cow.ID)
	assert.False(t, got.Valid, "Корова должна погибнуть")
	assert.Equal(t, []entity.ID{cow.ID}, died)

	w.RemoveAttributeModifier(wolf.ID, "rage")
	assert.False(t, w.HasModifier(wolf.ID, "rage"))
	assert.InDelta(t, BaseAttackDamage+1, w.AttackDamage(wolf.ID), 1e-9)

	// по мёртвым не бьют
	w.Attack(wolf.ID, cow.ID)
	assert.Len(t, damaged, 2)
}

func TestSimWorld_ItemsAndEffects(t *testing.T) {
	w := NewSimWorld()
	w.DropItem(at(0, 0), "wheat", 1)
	w.PlayEffect(at(0, 0), entity.EffectHearts, 5)
	w.PlayEffect(at(0, 0), entity.EffectHearts, 5)

	items := w.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "wheat", items[0].Item)
	assert.Equal(t, 10, w.EffectCount(entity.EffectHearts))
	assert.Zero(t, w.EffectCount(entity.EffectAngry))
}

func TestSimWorld_CreaturesSkipsPlayersAndRemoved(t *testing.T) {
	w := NewSimWorld()
	cow := w.Spawn("cow", at(0, 0), 10, 0)
	w.AddPlayer(at(1, 0))
	gone := w.Spawn("pig", at(2, 0), 10, 0)
	w.Remove(gone.ID)

	list := w.Creatures()
	require.Len(t, list, 1)
	assert.Equal(t, cow.ID, list[0].ID)
	assert.Equal(t, 2, w.Count())
	_, ok := w.EntityByID(gone.ID)
	assert.False(t, ok)
}
