package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/annel0/mmo-fauna/internal/behavior"
	"github.com/annel0/mmo-fauna/internal/clock"
	"github.com/annel0/mmo-fauna/internal/config"
	"github.com/annel0/mmo-fauna/internal/entity"
	"github.com/annel0/mmo-fauna/internal/eventbus"
	"github.com/annel0/mmo-fauna/internal/lifecycle"
	"github.com/annel0/mmo-fauna/internal/memory"
	"github.com/annel0/mmo-fauna/internal/needs"
	"github.com/annel0/mmo-fauna/internal/storage"
	"github.com/annel0/mmo-fauna/internal/vec"
	"github.com/annel0/mmo-fauna/internal/world"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tick = 50 * time.Millisecond

type recordingBus struct {
	mu     sync.Mutex
	events []*eventbus.Envelope
}

func (b *recordingBus) Publish(_ context.Context, ev *eventbus.Envelope) error {
	b.mu.Lock()
	b.events = append(b.events, ev)
	b.mu.Unlock()
	return nil
}

func (b *recordingBus) ofType(t string) []*eventbus.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*eventbus.Envelope
	for _, ev := range b.events {
		if ev.EventType == t {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	clk   *clock.Manual
	world *world.SimWorld
	bus   *recordingBus
	repo  *storage.MemoryCounterRepo
	eng   *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clk := clock.NewManual(time.Unix(1700000000, 0))
	clk.AdvanceTicks(300000, tick)

	h := &harness{
		clk:   clk,
		world: world.NewSimWorld(),
		bus:   &recordingBus{},
		repo:  storage.NewMemoryCounterRepo(),
	}
	h.eng = New(Options{
		Config:     config.Default().Engine,
		Species:    config.DefaultSpecies(),
		World:      h.world,
		Act:        h.world,
		Feedback:   h.world,
		Clock:      clk,
		Events:     h.bus,
		Trust:      h.repo,
		Registerer: prometheus.NewRegistry(),
		Rand:       func() float64 { return 0 },
	})
	t.Cleanup(func() { _ = h.eng.Close() })
	return h
}

func loc(x, z float64) entity.Location {
	return entity.Location{World: "overworld", Pos: vec.Vec3Float{X: x, Y: 64, Z: z}}
}

// adult взрослое существо с тиком рождения 0
func (h *harness) adult(species entity.Species, x, z float64) entity.Creature {
	c := h.world.Spawn(species, loc(x, z), 10, 200000)
	h.eng.Register(c.ID, species, 0)
	return c
}

func (h *harness) tickAll(ids ...entity.ID) {
	for _, id := range ids {
		h.eng.Tick(id, h.clk.Now())
	}
}

func TestEngine_RegisterJoinsHerdOnce(t *testing.T) {
	h := newHarness(t)
	a := h.adult("cow", 0, 0)
	b := h.adult("cow", 2, 0)

	h.eng.Register(a.ID, "cow", 0)
	assert.Equal(t, 2, h.eng.Count())
	assert.True(t, h.eng.Registered(a.ID))

	ha, ok := h.eng.HerdOf(a.ID)
	require.True(t, ok)
	hb, ok := h.eng.HerdOf(b.ID)
	require.True(t, ok)
	assert.Equal(t, ha, hb, "Соседи одного вида в одном стаде")

	info, ok := h.eng.Herd(ha)
	require.True(t, ok)
	assert.Len(t, info.Members, 2)
	assert.Equal(t, lifecycle.Adult, h.eng.LifeStage(a.ID))

	assert.Equal(t, 2.0, testutil.ToFloat64(h.eng.metrics.registered))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.eng.metrics.herds))
}

func TestEngine_TickSkipsUnknownAndDeregistersVanished(t *testing.T) {
	h := newHarness(t)
	h.eng.Tick(entity.NewID(), h.clk.Now())
	assert.Zero(t, testutil.ToFloat64(h.eng.metrics.ticks))

	cow := h.adult("cow", 0, 0)
	h.tickAll(cow.ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.eng.metrics.ticks))
	assert.Equal(t, behavior.Idle, h.eng.Behavior(cow.ID))

	h.world.Remove(cow.ID)
	h.tickAll(cow.ID)
	assert.False(t, h.eng.Registered(cow.ID), "Пропавшее из мира существо забывается")
	_, inHerd := h.eng.HerdOf(cow.ID)
	assert.False(t, inHerd)
}

func TestEngine_TickAdvancesNeedsAndBond(t *testing.T) {
	h := newHarness(t)
	mother := h.adult("cow", 0, 0)
	father := h.adult("cow", 1, 0)
	calf := h.world.Spawn("cow", loc(0, 1), 4, 0)
	h.eng.OnBred(context.Background(), mother.ID, father.ID, calf.ID)

	h.tickAll(calf.ID)
	before := h.eng.needs.Get(calf.ID).Hunger
	bond := h.eng.family.BondStrength(calf.ID)

	h.clk.AdvanceTicks(1200, tick)
	h.tickAll(calf.ID)

	assert.Less(t, h.eng.needs.Get(calf.ID).Hunger, before)
	assert.InDelta(t, bond-1200/lifecycle.InitialBond, h.eng.family.BondStrength(calf.ID), 1e-9)
}

func TestEngine_OnDamagedByPlayer(t *testing.T) {
	h := newHarness(t)
	cow := h.adult("cow", 0, 0)
	mate := h.adult("cow", 2, 0)
	player := h.world.AddPlayer(loc(5, 0))

	h.eng.OnDamaged(context.Background(), cow.ID, player.ID)

	assert.Equal(t, memory.Hostile, h.eng.ThreatLevel(cow.ID, player.ID))
	assert.True(t, h.eng.IsDangerous(cow.ID, cow.Location))
	assert.Equal(t, 5.0, h.eng.DangerSeverity(cow.ID, cow.Location))

	hid, ok := h.eng.HerdOf(cow.ID)
	require.True(t, ok)
	info, _ := h.eng.Herd(hid)
	assert.True(t, info.Panicking)
	assert.Equal(t, player.Location, info.PanicAt)
	assert.Len(t, h.bus.ofType(eventbus.TypeHerdPanic), 1)

	trust, err := h.eng.PlayerTrust(context.Background(), player.ID)
	require.NoError(t, err)
	assert.Equal(t, TrustBaseline-10, trust)

	d, ok := h.eng.memory.DangerAt(mate.ID, player.Location)
	require.True(t, ok, "Паника стада оставляет память об угрозе")
	assert.Equal(t, memory.DangerHerdPanic, d.Type)
	_, ok = h.eng.memory.DangerAt(cow.ID, player.Location)
	assert.False(t, ok, "Пострадавший помнит нападение у себя, а не панику")

	h.tickAll(mate.ID)
	assert.Equal(t, behavior.Flee, h.eng.Behavior(mate.ID), "Паника стада заставляет бежать")
}

func TestEngine_DeregisterLiftsEnrage(t *testing.T) {
	h := newHarness(t)
	mother := h.adult("cow", 0, 0)
	father := h.adult("cow", 1, 0)
	calf := h.world.Spawn("cow", loc(0, 1), 4, 0)
	h.eng.OnBred(context.Background(), mother.ID, father.ID, calf.ID)
	player := h.world.AddPlayer(loc(6, 0))

	h.eng.OnDamaged(context.Background(), calf.ID, player.ID)
	h.tickAll(mother.ID)
	require.Equal(t, behavior.ProtectKin, h.eng.Behavior(mother.ID))
	require.True(t, h.world.HasModifier(mother.ID, behavior.EnrageKey))

	h.eng.Deregister(mother.ID)
	assert.False(t, h.eng.Registered(mother.ID))
	assert.False(t, h.world.HasModifier(mother.ID, behavior.EnrageKey), "Выгруженная мать не остаётся в ярости")

	h.eng.Register(mother.ID, "cow", 0)
	h.tickAll(mother.ID)
	assert.False(t, h.world.HasModifier(mother.ID, behavior.EnrageKey))
}

func TestEngine_DeregisterLeavesNoRecords(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	mother := h.adult("cow", 0, 0)
	father := h.adult("cow", 1, 0)
	calf := h.world.Spawn("cow", loc(0, 1), 4, 0)
	h.eng.OnBred(ctx, mother.ID, father.ID, calf.ID)
	player := h.world.AddPlayer(loc(5, 0))

	h.tickAll(mother.ID, father.ID, calf.ID)
	h.eng.OnDamaged(ctx, mother.ID, player.ID)
	h.eng.OnPlayerInteraction(calf.ID, player.ID, memory.Fed)
	h.tickAll(mother.ID, father.ID, calf.ID)

	require.Equal(t, 3, h.eng.needs.Len())
	require.Positive(t, h.eng.memory.Len())
	require.Equal(t, 1, h.eng.herds.Count())

	for i := 0; i < 2; i++ {
		h.eng.Deregister(mother.ID)
		h.eng.Deregister(father.ID)
		h.eng.Deregister(calf.ID)
	}

	assert.Zero(t, h.eng.Count())
	assert.Zero(t, h.eng.needs.Len())
	assert.Zero(t, h.eng.memory.Len())
	assert.Zero(t, h.eng.arb.Len())
	registered, links := h.eng.family.Len()
	assert.Zero(t, registered)
	assert.Zero(t, links)
	assert.Zero(t, h.eng.herds.Count())
	_, in := h.eng.HerdOf(mother.ID)
	assert.False(t, in)

	// чтение после удаления не воскрешает записи
	_, ok := h.eng.Wellbeing(mother.ID)
	assert.False(t, ok)
	_, ok = h.eng.Describe(calf.ID)
	assert.False(t, ok)
	h.eng.IsDangerous(mother.ID, mother.Location)
	h.eng.ThreatLevel(calf.ID, player.ID)
	assert.Zero(t, h.eng.needs.Len())
	assert.Zero(t, h.eng.memory.Len())
}

func TestEngine_AggressiveRetaliates(t *testing.T) {
	h := newHarness(t)
	wolf := h.adult("wolf", 0, 0)
	player := h.world.AddPlayer(loc(6, 0))

	h.eng.OnDamaged(context.Background(), wolf.ID, player.ID)
	assert.False(t, h.eng.IsDangerous(wolf.ID, wolf.Location), "Агрессивный вид не запоминает опасность")

	h.tickAll(wolf.ID)
	assert.Equal(t, behavior.Chase, h.eng.Behavior(wolf.ID))
	dest, _, ok := h.world.Destination(wolf.ID)
	require.True(t, ok)
	assert.Equal(t, player.Location, dest)
}

func TestEngine_OnBredDomesticationAndEvent(t *testing.T) {
	h := newHarness(t)
	mother := h.adult("cow", 0, 0)
	father := h.adult("cow", 1, 0)
	calf := h.world.Spawn("cow", loc(0, 1), 4, 0)

	h.eng.OnBred(context.Background(), mother.ID, father.ID, calf.ID)

	require.True(t, h.eng.Registered(calf.ID))
	level, ok := h.eng.Domestication(calf.ID)
	require.True(t, ok)
	assert.Equal(t, 1, level)
	assert.Equal(t, lifecycle.Baby, h.eng.LifeStage(calf.ID))
	assert.True(t, h.eng.family.IsMotherOf(mother.ID, calf.ID))

	born := h.bus.ofType(eventbus.TypeCreatureBorn)
	require.Len(t, born, 1)
	var payload eventbus.BornEvent
	require.NoError(t, eventbus.Decode(born[0], &payload))
	assert.Equal(t, calf.ID.String(), payload.Child)
	assert.Equal(t, "cow", payload.Species)
	assert.Equal(t, 1, payload.Domestication)

	rec, _ := h.eng.records.Get(father.ID)
	rec.domestication = MaxDomestication
	second := h.world.Spawn("cow", loc(1, 1), 4, 0)
	h.eng.OnBred(context.Background(), mother.ID, father.ID, second.ID)
	level, _ = h.eng.Domestication(second.ID)
	assert.Equal(t, MaxDomestication, level, "Уровень не превышает максимум")
}

func TestEngine_OnKilledWarnsFamily(t *testing.T) {
	h := newHarness(t)
	mother := h.adult("cow", 0, 0)
	father := h.adult("cow", 1, 0)
	calf := h.world.Spawn("cow", loc(3, 0), 4, 0)
	h.eng.OnBred(context.Background(), mother.ID, father.ID, calf.ID)
	player := h.world.AddPlayer(loc(6, 0))

	h.world.Invalidate(calf.ID)
	h.eng.OnKilled(context.Background(), calf.ID, player.ID)

	assert.False(t, h.eng.Registered(calf.ID))
	assert.Empty(t, h.eng.family.ChildrenOf(mother.ID))
	assert.True(t, h.eng.IsDangerous(mother.ID, calf.Location))
	assert.True(t, h.eng.IsDangerous(father.ID, calf.Location), "Член стада тоже видел смерть")
	assert.Equal(t, memory.Hostile, h.eng.ThreatLevel(mother.ID, player.ID))

	trust, err := h.eng.PlayerTrust(context.Background(), player.ID)
	require.NoError(t, err)
	assert.Equal(t, TrustBaseline-20, trust)
}

func TestEngine_SimWorldHooks(t *testing.T) {
	h := newHarness(t)
	cow := h.adult("cow", 0, 0)
	mate := h.adult("cow", 2, 0)
	player := h.world.AddPlayer(loc(4, 0))

	ctx := context.Background()
	h.world.OnDamage(func(victim, attacker entity.ID) { h.eng.OnDamaged(ctx, victim, attacker) })
	h.world.OnDeath(func(victim, killer entity.ID) { h.eng.OnKilled(ctx, victim, killer) })

	h.world.Damage(cow.ID, player.ID, 100)

	assert.False(t, h.eng.Registered(cow.ID))
	assert.True(t, h.eng.IsDangerous(mate.ID, cow.Location))
	trust, err := h.eng.PlayerTrust(ctx, player.ID)
	require.NoError(t, err)
	assert.Equal(t, TrustBaseline-30, trust)
}

func TestEngine_OnPlayerInteractionFeeds(t *testing.T) {
	h := newHarness(t)
	cow := h.adult("cow", 0, 0)
	player := entity.NewID()
	h.eng.needs.Set(cow.ID, 50, 100, 100)

	for i := 0; i < 4; i++ {
		h.eng.OnPlayerInteraction(cow.ID, player, memory.Fed)
	}

	assert.Equal(t, memory.Friendly, h.eng.ThreatLevel(cow.ID, player))
	assert.Equal(t, needs.Max, h.eng.needs.Get(cow.ID).Hunger)

	trust, err := h.eng.PlayerTrust(context.Background(), player)
	require.NoError(t, err)
	assert.Equal(t, TrustBaseline+32, trust)

	h.eng.OnPlayerInteraction(entity.NewID(), player, memory.Fed)
	trust, _ = h.eng.PlayerTrust(context.Background(), player)
	assert.Equal(t, TrustBaseline+32, trust, "Незарегистрированное существо не влияет на доверие")
}

func TestEngine_PerceivesHostilePlayer(t *testing.T) {
	h := newHarness(t)
	cow := h.adult("cow", 0, 0)
	player := h.world.AddPlayer(loc(4, 0))
	h.eng.OnPlayerInteraction(cow.ID, player.ID, memory.Attacked)
	require.False(t, h.eng.IsDangerous(cow.ID, cow.Location))

	h.tickAll(cow.ID)

	assert.Equal(t, 4.0, h.eng.DangerSeverity(cow.ID, cow.Location))
	assert.Equal(t, behavior.Flee, h.eng.Behavior(cow.ID))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.eng.metrics.transitions.WithLabelValues("idle", "flee")))

	dest, _, ok := h.world.Destination(cow.ID)
	require.True(t, ok)
	assert.Less(t, dest.Pos.X, 0.0, "Бежит от игрока")
}

func TestEngine_PerceivesHostilePlayerBehindWall(t *testing.T) {
	h := newHarness(t)
	cow := h.adult("cow", 0, 0)
	player := h.world.AddPlayer(loc(4, 0))
	h.world.AddWall("overworld", 2, 0)
	h.eng.OnPlayerInteraction(cow.ID, player.ID, memory.Attacked)

	h.tickAll(cow.ID)
	assert.False(t, h.eng.IsDangerous(cow.ID, cow.Location))
	assert.Equal(t, behavior.Idle, h.eng.Behavior(cow.ID))
}

func TestEngine_PeacefulPlayerThrottled(t *testing.T) {
	h := newHarness(t)
	cow := h.adult("cow", 0, 0)
	player := h.world.AddPlayer(loc(4, 0))

	h.tickAll(cow.ID)
	assert.Equal(t, 1, h.eng.memory.Score(cow.ID, player.ID))
	h.tickAll(cow.ID)
	assert.Equal(t, 1, h.eng.memory.Score(cow.ID, player.ID))

	h.clk.AdvanceTicks(PeacefulEveryTicks, tick)
	h.tickAll(cow.ID)
	assert.Equal(t, 2, h.eng.memory.Score(cow.ID, player.ID))

	h.world.Update(player.ID, func(c *entity.Creature) { c.Sprinting = true })
	h.clk.AdvanceTicks(PeacefulEveryTicks, tick)
	h.tickAll(cow.ID)
	assert.Equal(t, 2, h.eng.memory.Score(cow.ID, player.ID), "Бегущий игрок не считается мирным")
}

func TestEngine_PerceivesPredator(t *testing.T) {
	h := newHarness(t)
	cow := h.adult("cow", 0, 0)
	wolf := h.world.Spawn("wolf", loc(5, 0), 8, 200000)

	h.tickAll(cow.ID)

	d, ok := h.eng.memory.DangerAt(cow.ID, cow.Location)
	require.True(t, ok)
	assert.Equal(t, memory.DangerPredator, d.Type)
	threat, ok := h.eng.memory.RecentThreat(cow.ID)
	require.True(t, ok)
	assert.Equal(t, wolf.Location, threat)
	assert.Equal(t, behavior.Flee, h.eng.Behavior(cow.ID))
}

func TestEngine_MaintainPrunesVanished(t *testing.T) {
	h := newHarness(t)
	a := h.adult("cow", 0, 0)
	b := h.adult("cow", 100, 100)

	h.world.Remove(b.ID)
	herds, pruned := h.eng.Maintain()

	assert.Equal(t, 1, pruned)
	assert.Equal(t, 1, herds, "Стадо без живых членов удаляется")
	assert.True(t, h.eng.Registered(a.ID))
	assert.False(t, h.eng.Registered(b.ID))
}

func TestEngine_Describe(t *testing.T) {
	h := newHarness(t)
	mother := h.adult("cow", 0, 0)
	father := h.adult("cow", 1, 0)
	calf := h.world.Spawn("cow", loc(0, 1), 4, 0)
	h.eng.OnBred(context.Background(), mother.ID, father.ID, calf.ID)

	_, ok := h.eng.Describe(entity.NewID())
	assert.False(t, ok)

	v, ok := h.eng.Describe(calf.ID)
	require.True(t, ok)
	assert.Equal(t, "baby", v.Stage)
	assert.Equal(t, "idle", v.Behavior)
	assert.Equal(t, mother.ID.String(), v.Mother)
	assert.Equal(t, 1, v.Domestication)
	assert.Equal(t, 1.0, v.Bond)
	assert.NotEmpty(t, v.Herd)
	assert.Equal(t, calf.Location, v.Location)

	m, ok := h.eng.Describe(mother.ID)
	require.True(t, ok)
	assert.Equal(t, []entity.ID{calf.ID}, m.Children)
	assert.Equal(t, "adult", m.Stage)
}

func TestEngine_CloseFlushesTrust(t *testing.T) {
	h := newHarness(t)
	cow := h.adult("cow", 0, 0)
	player := h.world.AddPlayer(loc(5, 0))
	h.eng.OnDamaged(context.Background(), cow.ID, player.ID)

	require.NoError(t, h.eng.Close())

	v, found, err := h.repo.Load(context.Background(), player.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, TrustBaseline-10, v)
}
