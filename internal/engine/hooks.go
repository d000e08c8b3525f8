package engine

import (
	"context"
	"time"

	"github.com/annel0/mmo-fauna/internal/behavior"
	"github.com/annel0/mmo-fauna/internal/config"
	"github.com/annel0/mmo-fauna/internal/entity"
	"github.com/annel0/mmo-fauna/internal/eventbus"
	"github.com/annel0/mmo-fauna/internal/memory"
	"github.com/annel0/mmo-fauna/internal/needs"
	"github.com/annel0/mmo-fauna/internal/perception"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// PeacefulRadius игрок ближе этого без спринта считается мирным соседом.
	PeacefulRadius = 8.0
	// PeacefulEveryTicks не чаще одного мирного взаимодействия на игрока.
	PeacefulEveryTicks = 1200
	// FedHungerGain насыщение от кормления игроком.
	FedHungerGain = 20.0

	severityHostile = 4
	severityMortal  = 5
	severityAttack  = 5
	severityKinDead = 6
	severityPanic   = 4
)

// panicHerd поднимает панику стада; каждый член, до кого она дошла,
// запоминает место угрозы, если там ещё нет более ранней опасности.
func (e *Engine) panicHerd(hid uuid.UUID, source entity.ID, at entity.Location) {
	e.herds.BroadcastPanic(hid, at, e.panicDuration())
	for _, m := range e.herds.Members(hid) {
		if m.ID == source || !e.Registered(m.ID) || e.memory.IsDangerous(m.ID, at) {
			continue
		}
		e.memory.RememberDanger(m.ID, at, memory.DangerHerdPanic, severityPanic)
	}
}

func (e *Engine) panicDuration() time.Duration {
	s := e.cfg.PanicSeconds
	if s <= 0 {
		s = 10
	}
	return time.Duration(s) * time.Second
}

// perceive обновляет память по тому, что существо заметило в этот тик.
func (e *Engine) perceive(self entity.Creature, sp config.SpeciesConfig, rec *record) {
	for _, other := range e.world.NearbyEntities(self.Location, perception.MaxRange) {
		if other.ID == self.ID || !other.Alive() {
			continue
		}
		if !perception.Detects(e.world, self, other, e.roll()) {
			continue
		}

		if other.IsPlayer {
			e.perceivePlayer(self, sp, rec, other)
			continue
		}

		if sp.Aggressive || other.Species == self.Species {
			continue
		}
		osp, ok := e.species[other.Species]
		if !ok || !osp.Aggressive {
			continue
		}
		if self.Location.DistanceTo(other.Location) <= osp.AggroRadius {
			e.memory.RememberDanger(self.ID, self.Location, memory.DangerPredator, severityHostile)
			e.memory.RememberThreat(self.ID, other.Location)
		}
	}
}

func (e *Engine) perceivePlayer(self entity.Creature, sp config.SpeciesConfig, rec *record, player entity.Creature) {
	level := e.memory.ThreatLevel(self.ID, player.ID)
	dist := self.Location.DistanceTo(player.Location)

	switch {
	case level <= memory.Hostile:
		if sp.Aggressive {
			leash := sp.AggroRadius * behavior.ChaseRangeFactor
			if _, has := e.arb.Assigned(self.ID); !has && dist < leash && e.family.CanAttack(self.ID) {
				e.arb.Assign(self.ID, player.ID)
			}
			return
		}
		severity := severityHostile
		if level == memory.MortalEnemy {
			severity = severityMortal
		}
		e.memory.RememberDanger(self.ID, self.Location, memory.DangerHostilePlayer, severity)
		e.memory.RememberThreat(self.ID, player.Location)

	case level >= memory.Cautious && !player.Sprinting && dist <= PeacefulRadius:
		now := e.clock.Tick()
		rec.mu.Lock()
		if rec.lastPeaceful == nil {
			rec.lastPeaceful = make(map[entity.ID]uint64)
		}
		last, seen := rec.lastPeaceful[player.ID]
		due := !seen || e.clock.ElapsedTicks(last) >= PeacefulEveryTicks
		if due {
			rec.lastPeaceful[player.ID] = now
		}
		rec.mu.Unlock()
		if due {
			e.memory.RememberInteraction(self.ID, player.ID, memory.NearbyPeaceful)
			e.trust.Adjust(player.ID, int64(memory.NearbyPeaceful.Weight()))
		}
	}
}

// OnDamaged вызывается хостом, когда существо получило урон.
func (e *Engine) OnDamaged(ctx context.Context, victim, attacker entity.ID) {
	_, span := e.tracer.Start(ctx, "fauna.OnDamaged", trace.WithAttributes(
		attribute.String("victim", victim.String()),
		attribute.String("attacker", attacker.String()),
	))
	defer span.End()

	rec, ok := e.records.Get(victim)
	if !ok {
		return
	}
	e.arb.RecordDamage(victim, attacker)

	self, ok := e.world.EntityByID(victim)
	if !ok {
		return
	}
	other, otherOK := e.world.EntityByID(attacker)

	if otherOK && other.IsPlayer {
		e.memory.RememberInteraction(victim, attacker, memory.Attacked)
		e.trust.Adjust(attacker, int64(memory.Attacked.Weight()))
	}

	sp := e.speciesOf(rec.species)
	if sp.Aggressive && e.family.CanAttack(victim) {
		e.arb.Assign(victim, attacker)
		span.SetAttributes(attribute.Bool("retaliate", true))
		return
	}

	e.memory.RememberDanger(victim, self.Location, memory.DangerAttack, severityAttack)
	threatAt := self.Location
	if otherOK {
		threatAt = other.Location
		e.memory.RememberThreat(victim, threatAt)
	}
	if hid, in := e.herds.HerdOf(victim); in {
		e.panicHerd(hid, victim, threatAt)
	}
}

// OnBred вызывается при рождении детёныша от двух родителей.
func (e *Engine) OnBred(ctx context.Context, mother, father, child entity.ID) {
	ctx, span := e.tracer.Start(ctx, "fauna.OnBred", trace.WithAttributes(
		attribute.String("mother", mother.String()),
		attribute.String("child", child.String()),
	))
	defer span.End()

	level := 0
	species := entity.Species("")
	if rec, ok := e.records.Get(mother); ok {
		rec.mu.Lock()
		level, species = rec.domestication, rec.species
		rec.mu.Unlock()
	}
	if rec, ok := e.records.Get(father); ok {
		rec.mu.Lock()
		if rec.domestication > level {
			level = rec.domestication
		}
		if species == "" {
			species = rec.species
		}
		rec.mu.Unlock()
	}
	level++
	if level > MaxDomestication {
		level = MaxDomestication
	}
	if species == "" {
		if c, ok := e.world.EntityByID(child); ok {
			species = c.Species
		}
	}

	e.Register(child, species, e.clock.Tick())
	if rec, ok := e.records.Get(child); ok {
		rec.mu.Lock()
		rec.domestication = level
		rec.mu.Unlock()
	}
	e.family.RegisterBirth(mother, child)
	span.SetAttributes(attribute.Int("domestication", level))

	if e.events == nil {
		return
	}
	env, err := eventbus.NewEnvelope(eventbus.TypeCreatureBorn, 2, eventbus.BornEvent{
		Child:         child.String(),
		Mother:        mother.String(),
		Father:        father.String(),
		Species:       string(species),
		Domestication: level,
	})
	if err != nil {
		e.logger.Warn("creature.born: %v", err)
		return
	}
	if err := e.events.Publish(ctx, env); err != nil {
		e.logger.Warn("creature.born publish: %v", err)
	}
}

// OnKilled вызывается при смерти существа; killer может быть Nil.
func (e *Engine) OnKilled(ctx context.Context, id, killer entity.ID) {
	_, span := e.tracer.Start(ctx, "fauna.OnKilled", trace.WithAttributes(
		attribute.String("creature", id.String()),
	))
	defer span.End()

	if !e.Registered(id) {
		return
	}
	at, known := entity.Location{}, false
	if c, ok := e.world.EntityByID(id); ok {
		at, known = c.Location, true
	}

	witnesses := make(map[entity.ID]struct{})
	for _, kin := range e.family.FamilyOf(id) {
		witnesses[kin] = struct{}{}
	}
	hid, inHerd := e.herds.HerdOf(id)
	if inHerd {
		for _, m := range e.herds.Members(hid) {
			if m.ID != id {
				witnesses[m.ID] = struct{}{}
			}
		}
	}

	killerIsPlayer := false
	if killer != entity.Nil {
		if k, ok := e.world.EntityByID(killer); ok && k.IsPlayer {
			killerIsPlayer = true
		}
	}

	for w := range witnesses {
		if !e.Registered(w) {
			continue
		}
		if known {
			e.memory.RememberDanger(w, at, memory.DangerKinDeath, severityKinDead)
			e.memory.RememberThreat(w, at)
		}
		if killerIsPlayer {
			e.memory.RememberInteraction(w, killer, memory.KilledKin)
		}
	}
	if killerIsPlayer {
		e.trust.Adjust(killer, int64(memory.KilledKin.Weight()))
	}
	if inHerd && known {
		e.panicHerd(hid, id, at)
	}
	span.SetAttributes(attribute.Int("witnesses", len(witnesses)))

	e.Deregister(id)
}

// OnPlayerInteraction учитывает действие игрока над существом.
func (e *Engine) OnPlayerInteraction(id, player entity.ID, kind memory.Interaction) {
	if !e.Registered(id) {
		return
	}
	e.memory.RememberInteraction(id, player, kind)
	e.trust.Adjust(player, int64(kind.Weight()))
	if kind == memory.Fed {
		e.needs.Gain(id, needs.Hunger, FedHungerGain)
	}
}
