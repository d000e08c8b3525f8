package behavior

import (
	"testing"
	"time"

	"github.com/annel0/mmo-fauna/internal/clock"
	"github.com/annel0/mmo-fauna/internal/entity"
	"github.com/annel0/mmo-fauna/internal/herd"
	"github.com/annel0/mmo-fauna/internal/lifecycle"
	"github.com/annel0/mmo-fauna/internal/memory"
	"github.com/annel0/mmo-fauna/internal/needs"
	"github.com/annel0/mmo-fauna/internal/vec"
	"github.com/annel0/mmo-fauna/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tick = 50 * time.Millisecond

var (
	cowProfile  = Profile{FleeSpeed: 1.4, FoodItem: "wheat"}
	wolfProfile = Profile{AggroRadius: 16, ChaseSpeed: 1.2, FleeSpeed: 1.0, FoodItem: "bone"}
)

type transition struct {
	id       entity.ID
	from, to Kind
}

type harness struct {
	clk         *clock.Manual
	world       *world.SimWorld
	ctx         *Context
	arb         *Arbitrator
	roll        float64
	transitions []transition
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clk := clock.NewManual(time.Unix(1700000000, 0))
	// взрослые регистрируются с тиком рождения 0
	clk.AdvanceTicks(300000, tick)

	w := world.NewSimWorld()
	h := &harness{clk: clk, world: w, roll: 1}
	h.ctx = &Context{
		World:    w,
		Act:      w,
		Feedback: w,
		Clock:    clk,
		Needs:    needs.NewEngine(clk),
		Memory:   memory.NewEngine(clk),
		Family:   lifecycle.NewGraph(clk),
		Herds:    herd.NewCoordinator(w, clk, nil),
		Params:   DefaultParams(),
		Rand:     func() float64 { return h.roll },
	}
	h.arb = NewArbitrator(h.ctx)
	h.arb.OnTransition(func(id entity.ID, from, to Kind) {
		h.transitions = append(h.transitions, transition{id: id, from: from, to: to})
	})
	return h
}

func loc(x, z float64) entity.Location {
	return entity.Location{World: "overworld", Pos: vec.Vec3Float{X: x, Y: 64, Z: z}}
}

func (h *harness) adult(species entity.Species, x, z float64) entity.Creature {
	c := h.world.Spawn(species, loc(x, z), 10, 200000)
	h.ctx.Family.Register(c.ID, 0, lifecycle.DefaultMaxAge)
	return c
}

func (h *harness) baby(species entity.Species, mother entity.ID, x, z float64) entity.Creature {
	c := h.world.Spawn(species, loc(x, z), 4, 0)
	h.ctx.Family.Register(c.ID, h.clk.Tick(), lifecycle.DefaultMaxAge)
	h.ctx.Family.RegisterBirth(mother, c.ID)
	return c
}

func (h *harness) tick(c entity.Creature, p Profile) Kind {
	fresh, ok := h.world.EntityByID(c.ID)
	if !ok {
		fresh = c
	}
	return h.arb.Tick(&Subject{Self: fresh, Profile: p})
}

func (h *harness) moveTo(id entity.ID, x, z float64) {
	h.world.Update(id, func(c *entity.Creature) { c.Location = loc(x, z) })
}

func TestArbitrator_DefaultIdle(t *testing.T) {
	h := newHarness(t)
	cow := h.adult("cow", 0, 0)

	assert.Equal(t, []Kind{ProtectKin, Flee, Chase, ShareFood, Play, Idle}, h.arb.Priority())
	assert.Equal(t, Idle, h.arb.Current(cow.ID), "Неизвестное существо бездействует")
	assert.Equal(t, Idle, h.tick(cow, cowProfile))
	assert.Equal(t, 1, h.arb.Len())
	assert.Empty(t, h.transitions)

	h.arb.Remove(cow.ID)
	assert.Zero(t, h.arb.Len())
}

func TestArbitrator_ProtectKin(t *testing.T) {
	h := newHarness(t)
	mother := h.adult("cow", 0, 0)
	calf := h.baby("cow", mother.ID, 3, 0)
	player := h.world.AddPlayer(loc(6, 0))

	h.arb.RecordDamage(calf.ID, player.ID)

	assert.Equal(t, ProtectKin, h.tick(mother, cowProfile))
	assert.True(t, h.world.HasModifier(mother.ID, EnrageKey), "Мать должна прийти в ярость")
	assert.GreaterOrEqual(t, h.world.EffectCount(entity.EffectAngry), 8)
	require.Len(t, h.transitions, 1)
	assert.Equal(t, transition{id: mother.ID, from: Idle, to: ProtectKin}, h.transitions[0])

	dest, speed, moving := h.world.Destination(mother.ID)
	require.True(t, moving)
	assert.Equal(t, loc(6, 0), dest)
	assert.InDelta(t, protectSpeed, speed, 1e-9)

	// в ближнем бою бьёт с удвоенным уроном
	h.moveTo(mother.ID, 5, 0)
	h.clk.AdvanceTicks(1, tick)
	assert.Equal(t, ProtectKin, h.tick(mother, cowProfile))
	got, _ := h.world.EntityByID(player.ID)
	assert.InDelta(t, world.PlayerHealth-world.BaseAttackDamage*EnrageMultiplier, got.Health, 1e-9)

	// обидчик исчез: ярость снимается
	h.world.Invalidate(player.ID)
	h.clk.AdvanceTicks(1, tick)
	assert.Equal(t, Idle, h.tick(mother, cowProfile))
	assert.False(t, h.world.HasModifier(mother.ID, EnrageKey))
}

func TestArbitrator_RemoveLiftsEnrage(t *testing.T) {
	h := newHarness(t)
	mother := h.adult("cow", 0, 0)
	calf := h.baby("cow", mother.ID, 3, 0)
	player := h.world.AddPlayer(loc(6, 0))

	h.arb.RecordDamage(calf.ID, player.ID)
	require.Equal(t, ProtectKin, h.tick(mother, cowProfile))
	require.True(t, h.world.HasModifier(mother.ID, EnrageKey))

	h.arb.Remove(mother.ID)
	assert.False(t, h.world.HasModifier(mother.ID, EnrageKey), "Снятие состояния снимает ярость")
	assert.Equal(t, Idle, h.arb.Current(mother.ID))
	assert.Zero(t, h.arb.Len())

	h.arb.Remove(mother.ID)
	assert.Zero(t, h.arb.Len())
}

func TestArbitrator_ProtectKinIgnoresKinAndStaleDamage(t *testing.T) {
	h := newHarness(t)
	mother := h.adult("cow", 0, 0)
	calf := h.baby("cow", mother.ID, 3, 0)
	sibling := h.baby("cow", mother.ID, 4, 0)

	h.arb.RecordDamage(calf.ID, sibling.ID)
	assert.Equal(t, Idle, h.tick(mother, cowProfile), "Брат или сестра не считаются обидчиком")

	player := h.world.AddPlayer(loc(6, 0))
	h.arb.RecordDamage(calf.ID, player.ID)
	h.clk.AdvanceTicks(h.ctx.Params.KinDamageWindow+1, tick)
	assert.Equal(t, Idle, h.tick(mother, cowProfile), "Старый урон забывается")

	// детёныш слишком далеко
	h.moveTo(calf.ID, 30, 0)
	h.arb.RecordDamage(calf.ID, player.ID)
	assert.Equal(t, Idle, h.tick(mother, cowProfile))
}

func TestArbitrator_FleeFromRememberedDanger(t *testing.T) {
	h := newHarness(t)
	cow := h.adult("cow", 1, 1)

	h.ctx.Memory.RememberDanger(cow.ID, loc(3, 1), memory.DangerAttack, 3)
	assert.Equal(t, Idle, h.tick(cow, cowProfile), "Тяжесть на пороге не вызывает бегства")

	h.ctx.Memory.RememberDanger(cow.ID, loc(3, 1), memory.DangerAttack, 5)
	assert.Equal(t, Flee, h.tick(cow, cowProfile))

	dest, speed, moving := h.world.Destination(cow.ID)
	require.True(t, moving)
	assert.InDelta(t, 1-FleeDistance, dest.Pos.X, 1e-9, "Бежит прочь от угрозы")
	assert.InDelta(t, 1.0, dest.Pos.Z, 1e-9)
	assert.InDelta(t, cowProfile.FleeSpeed, speed, 1e-9)

	// опасность выветрилась, угроза далеко
	h.clk.Advance(memory.DangerWindow)
	h.moveTo(cow.ID, 40, 0)
	h.clk.AdvanceTicks(1, tick)
	assert.Equal(t, Idle, h.tick(cow, cowProfile))
}

func TestArbitrator_FleeOnHerdPanic(t *testing.T) {
	h := newHarness(t)
	cow := h.adult("cow", 0, 0)
	hid, created := h.ctx.Herds.JoinOrCreate(cow)
	require.True(t, created)

	h.ctx.Herds.BroadcastPanic(hid, loc(0, 5), 10*time.Second)
	assert.Equal(t, Flee, h.tick(cow, cowProfile))

	dest, _, moving := h.world.Destination(cow.ID)
	require.True(t, moving)
	assert.InDelta(t, -FleeDistance, dest.Pos.Z, 1e-9)
}

func TestArbitrator_ChaseAssignedByHost(t *testing.T) {
	h := newHarness(t)
	horse := h.adult("horse", 0, 0)
	player := h.world.AddPlayer(loc(5, 0))
	calm := Profile{AggroRadius: 6, ChaseSpeed: 1.3, FleeSpeed: 1.8, FoodItem: "apple"}

	assert.Equal(t, Idle, h.tick(horse, calm))
	h.arb.Assign(horse.ID, player.ID)
	assert.Equal(t, Chase, h.tick(horse, calm), "Назначенный хостом враг преследуется")

	calf := h.baby("horse", horse.ID, 1, 0)
	h.arb.Assign(calf.ID, player.ID)
	assert.Equal(t, Idle, h.tick(calf, calm), "Детёныш не дерётся")
}

func TestArbitrator_ChaseAssignedEnemy(t *testing.T) {
	h := newHarness(t)
	wolf := h.adult("wolf", 0, 0)
	player := h.world.AddPlayer(loc(10, 0))

	h.arb.Assign(wolf.ID, player.ID)
	assert.Equal(t, Idle, h.tick(wolf, cowProfile), "Вид без радиуса агрессии не преследует")

	assert.Equal(t, Chase, h.tick(wolf, wolfProfile))
	dest, speed, moving := h.world.Destination(wolf.ID)
	require.True(t, moving)
	assert.Equal(t, loc(10, 0), dest)
	assert.InDelta(t, wolfProfile.ChaseSpeed, speed, 1e-9)

	h.moveTo(player.ID, 1, 0)
	h.clk.AdvanceTicks(1, tick)
	h.tick(wolf, wolfProfile)
	h.clk.AdvanceTicks(1, tick)
	h.tick(wolf, wolfProfile)
	got, _ := h.world.EntityByID(player.ID)
	assert.InDelta(t, world.PlayerHealth-world.BaseAttackDamage, got.Health, 1e-9, "Перезарядка удара")

	h.clk.AdvanceTicks(AttackCooldown, tick)
	h.tick(wolf, wolfProfile)
	got, _ = h.world.EntityByID(player.ID)
	assert.InDelta(t, world.PlayerHealth-2*world.BaseAttackDamage, got.Health, 1e-9)

	// цель ушла за поводок: погоня заканчивается и назначение снимается
	h.moveTo(player.ID, 100, 0)
	h.clk.AdvanceTicks(1, tick)
	assert.Equal(t, Idle, h.tick(wolf, wolfProfile))
	_, assigned := h.arb.Assigned(wolf.ID)
	assert.False(t, assigned)
}

func TestArbitrator_BabyDoesNotChase(t *testing.T) {
	h := newHarness(t)
	mother := h.adult("wolf", 0, 0)
	pup := h.baby("wolf", mother.ID, 1, 0)
	player := h.world.AddPlayer(loc(5, 0))

	h.arb.Assign(pup.ID, player.ID)
	assert.NotEqual(t, Chase, h.tick(pup, wolfProfile))
}

func TestArbitrator_ProtectPreemptsChaseAndChaseResumes(t *testing.T) {
	h := newHarness(t)
	wolf := h.adult("wolf", 0, 0)
	pup := h.baby("wolf", wolf.ID, 2, 0)
	player := h.world.AddPlayer(loc(10, 0))
	bear := h.adult("bear", 0, 5)

	h.arb.Assign(wolf.ID, player.ID)
	require.Equal(t, Chase, h.tick(wolf, wolfProfile))

	h.arb.RecordDamage(pup.ID, bear.ID)
	h.clk.AdvanceTicks(1, tick)
	assert.Equal(t, ProtectKin, h.tick(wolf, wolfProfile), "Защита детёныша вытесняет погоню")
	target, ok := h.arb.Assigned(wolf.ID)
	require.True(t, ok, "Вытесненная погоня не забывает цель")
	assert.Equal(t, player.ID, target)

	h.world.Invalidate(bear.ID)
	h.clk.AdvanceTicks(1, tick)
	assert.Equal(t, Chase, h.tick(wolf, wolfProfile))
}

func TestArbitrator_ShareFoodOneShot(t *testing.T) {
	h := newHarness(t)
	mother := h.adult("cow", 0, 0)
	calf := h.baby("cow", mother.ID, 2, 0)

	_, created := h.ctx.Herds.JoinOrCreate(mother)
	require.True(t, created)
	_, created = h.ctx.Herds.JoinOrCreate(calf)
	require.False(t, created)
	require.Equal(t, herd.Alpha, h.ctx.Herds.RankOf(mother.ID))

	assert.Equal(t, Idle, h.tick(mother, cowProfile), "Сытый детёныш не получает еду")

	h.ctx.Needs.Set(calf.ID, 20, needs.Max, needs.Max)
	h.clk.AdvanceTicks(1, tick)
	assert.Equal(t, ShareFood, h.tick(mother, cowProfile))
	assert.Equal(t, Idle, h.arb.Current(mother.ID), "Раздача еды одноразовая")

	items := h.world.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "wheat", items[0].Item)
	assert.Equal(t, calf.Location, items[0].At)
	assert.InDelta(t, 20+ShareAmount, h.ctx.Needs.Get(calf.ID).Hunger, 1e-9)
	assert.Equal(t, 5, h.world.EffectCount(entity.EffectHearts))
}

func TestArbitrator_PlayWithSibling(t *testing.T) {
	h := newHarness(t)
	mother := h.adult("cow", 2, 0)
	a := h.baby("cow", mother.ID, 1, 0)
	h.baby("cow", mother.ID, 3, 0)

	assert.Equal(t, Idle, h.tick(a, cowProfile), "Без удачного броска игра не начинается")

	h.roll = 0
	h.clk.AdvanceTicks(1, tick)
	assert.Equal(t, Play, h.tick(a, cowProfile))
	_, _, moving := h.world.Destination(a.ID)
	assert.True(t, moving)

	h.roll = 1
	h.clk.AdvanceTicks(MaxPlayTicks, tick)
	assert.Equal(t, Idle, h.tick(a, cowProfile), "Игра ограничена по времени")
}

func TestArbitrator_IdleFollowsMother(t *testing.T) {
	h := newHarness(t)
	mother := h.adult("cow", 0, 0)
	calf := h.baby("cow", mother.ID, 10, 0)

	assert.Equal(t, Idle, h.tick(calf, cowProfile))
	dest, speed, moving := h.world.Destination(calf.ID)
	require.True(t, moving)
	assert.Equal(t, mother.Location, dest)
	assert.InDelta(t, lifecycle.SpeedModifier(lifecycle.Baby), speed, 1e-9)
}

func TestChaseSpeed(t *testing.T) {
	assert.InDelta(t, 1.0, ChaseSpeed(1.0, 0), 1e-9)
	assert.InDelta(t, 0.7, ChaseSpeed(1.0, 1), 1e-9)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "protect_kin", ProtectKin.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
