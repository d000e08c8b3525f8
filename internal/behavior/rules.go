package behavior

import (
	"context"

	"github.com/annel0/mmo-fauna/internal/entity"
	"github.com/annel0/mmo-fauna/internal/eventbus"
	"github.com/annel0/mmo-fauna/internal/lifecycle"
	"github.com/annel0/mmo-fauna/internal/logging"
	"github.com/annel0/mmo-fauna/internal/needs"
	"github.com/annel0/mmo-fauna/internal/vec"
)

const (
	ProtectRadius    = 12.0
	EnrageKey        = "mother_protection_enrage"
	EnrageMultiplier = 2.0
	protectSpeed     = 1.5

	ChaseRangeFactor = 2.5
	MeleeRange       = 2.0
	AttackCooldown   = 20

	FleeDistance = 10.0
	fleeLinger   = 16.0

	ShareRange      = 8.0
	ShareHungerMark = 0.4
	ShareAmount     = 10.0

	PlaymateRange  = 10.0
	PlayBreakRange = PlaymateRange * 1.5
	MaxPlayTicks   = 400
	PlayModeTicks  = 100

	FollowMotherDistance = 6.0
	HerdDriftDistance    = 12.0

	ticksPerSecond = 20
)

type candidate struct {
	target, child, playmate entity.ID
}

type rule struct {
	kind     Kind
	activate func(a *Arbitrator, s *Subject, st *State) (candidate, bool)
	stay     func(a *Arbitrator, s *Subject, st *State) bool
	start    func(a *Arbitrator, s *Subject, st *State)
	tick     func(a *Arbitrator, s *Subject, st *State)
	stop     func(a *Arbitrator, s *Subject, st *State)
	oneShot  bool
}

// table порядок правил задаёт приоритет: первое вытесняет все последующие.
func table() []rule {
	return []rule{
		{kind: ProtectKin, activate: protectActivate, stay: protectStay, start: protectStart, tick: protectTick, stop: protectStop},
		{kind: Flee, activate: fleeActivate, stay: fleeStay, tick: fleeTick},
		{kind: Chase, activate: chaseActivate, stay: chaseStay, tick: chaseTick, stop: chaseStop},
		{kind: ShareFood, activate: shareActivate, stay: never, start: shareStart, oneShot: true},
		{kind: Play, activate: playActivate, stay: playStay, start: playStart, tick: playTick},
		{kind: Idle, activate: always, stay: func(*Arbitrator, *Subject, *State) bool { return true }, start: idleStart, tick: idleTick},
	}
}

func always(*Arbitrator, *Subject, *State) (candidate, bool) { return candidate{}, true }

func never(*Arbitrator, *Subject, *State) bool { return false }

// live возвращает существо, только если оно валидно и живо.
func (a *Arbitrator) live(id entity.ID) (entity.Creature, bool) {
	if id == entity.Nil {
		return entity.Creature{}, false
	}
	c, ok := a.ctx.World.EntityByID(id)
	if !ok || !c.Alive() {
		return entity.Creature{}, false
	}
	return c, true
}

func (a *Arbitrator) speed(s *Subject, base float64) float64 {
	return base * lifecycle.SpeedModifier(a.ctx.Family.LifeStage(s.Self.ID))
}

// drainEverySecond списывает стоимость активности раз в секунду.
func (a *Arbitrator) drainEverySecond(s *Subject, st *State, act needs.Activity) {
	now := a.ctx.Clock.Tick()
	if now-st.lastDrain >= ticksPerSecond {
		a.ctx.Needs.DrainActivity(s.Self.ID, act)
		st.lastDrain = now
	}
}

// strike атакует цель с учётом перезарядки.
func (a *Arbitrator) strike(s *Subject, st *State, target entity.ID) {
	now := a.ctx.Clock.Tick()
	if st.attacked && now-st.lastAttack < AttackCooldown {
		return
	}
	a.ctx.Act.StopMovement(s.Self.ID)
	a.ctx.Act.Attack(s.Self.ID, target)
	a.ctx.Needs.DrainActivity(s.Self.ID, needs.Combat)
	st.attacked = true
	st.lastAttack = now
}

func (a *Arbitrator) effectEvery(s *Subject, n uint64, kind entity.EffectKind, count int) {
	if a.ctx.Feedback != nil && a.ctx.Clock.Tick()%n == 0 {
		a.ctx.Feedback.PlayEffect(s.Self.Location, kind, count)
	}
}

// ==== ProtectKin ====

func protectActivate(a *Arbitrator, s *Subject, st *State) (candidate, bool) {
	for _, childID := range a.ctx.Family.ChildrenOf(s.Self.ID) {
		child, ok := a.ctx.World.EntityByID(childID)
		if !ok || !child.Valid || child.Location.DistanceTo(s.Self.Location) > ProtectRadius {
			continue
		}
		attacker, ok := a.recentAttacker(childID)
		if !ok || attacker == s.Self.ID || a.ctx.Family.IsKin(attacker, childID) {
			continue
		}
		if _, ok := a.live(attacker); !ok {
			continue
		}
		return candidate{target: attacker, child: childID}, true
	}
	return candidate{}, false
}

func protectLeash(s *Subject) float64 {
	r := s.Profile.AggroRadius
	if r < ProtectRadius {
		r = ProtectRadius
	}
	return r * ChaseRangeFactor
}

func protectStay(a *Arbitrator, s *Subject, st *State) bool {
	t, ok := a.live(st.Target)
	return ok && t.Location.DistanceTo(s.Self.Location) <= protectLeash(s)
}

func protectStart(a *Arbitrator, s *Subject, st *State) {
	a.ctx.Act.ApplyAttributeModifier(s.Self.ID, entity.AttrAttackDamage, EnrageKey, EnrageMultiplier, entity.OpMultiply)
	if a.ctx.Feedback != nil {
		a.ctx.Feedback.PlayEffect(s.Self.Location, entity.EffectAngry, 8)
	}
	if a.ctx.Events != nil {
		env, err := eventbus.NewEnvelope(eventbus.TypeCreatureEnraged, 3, eventbus.EnragedEvent{
			Creature: s.Self.ID.String(),
			Attacker: st.Target.String(),
			Child:    st.Child.String(),
		})
		if err == nil {
			err = a.ctx.Events.Publish(context.Background(), env)
		}
		if err != nil {
			logging.Warn("creature.enraged: %v", err)
		}
	}
}

func protectTick(a *Arbitrator, s *Subject, st *State) {
	t, ok := a.live(st.Target)
	if !ok {
		return
	}
	if t.Location.DistanceTo(s.Self.Location) > MeleeRange {
		a.ctx.Act.MoveToward(s.Self.ID, t.Location, protectSpeed)
		a.drainEverySecond(s, st, needs.Chasing)
	} else {
		a.strike(s, st, t.ID)
	}
	a.effectEvery(s, 40, entity.EffectAngry, 2)
}

func protectStop(a *Arbitrator, s *Subject, st *State) {
	a.ctx.Act.RemoveAttributeModifier(s.Self.ID, EnrageKey)
}

// ==== Flee ====

// fleeOrigin точка, от которой надо бежать, если бегство оправдано.
func fleeOrigin(a *Arbitrator, s *Subject) (entity.Location, bool) {
	if at, ok := a.ctx.Herds.PanicOf(s.Self.ID); ok {
		return at, true
	}
	d, ok := a.ctx.Memory.DangerAt(s.Self.ID, s.Self.Location)
	if !ok || d.SeverityAt(a.ctx.Clock.Now()) <= a.ctx.Params.FleeSeverity {
		return entity.Location{}, false
	}
	if threat, ok := a.ctx.Memory.RecentThreat(s.Self.ID); ok {
		return threat, true
	}
	return d.Cell.Center(), true
}

func fleeActivate(a *Arbitrator, s *Subject, st *State) (candidate, bool) {
	_, ok := fleeOrigin(a, s)
	return candidate{}, ok
}

func fleeStay(a *Arbitrator, s *Subject, st *State) bool {
	if _, ok := fleeOrigin(a, s); ok {
		return true
	}
	threat, ok := a.ctx.Memory.RecentThreat(s.Self.ID)
	return ok && threat.DistanceTo(s.Self.Location) < fleeLinger
}

func fleeTick(a *Arbitrator, s *Subject, st *State) {
	origin, ok := fleeOrigin(a, s)
	if !ok {
		if origin, ok = a.ctx.Memory.RecentThreat(s.Self.ID); !ok {
			return
		}
	}
	a.ctx.Act.MoveToward(s.Self.ID, away(s.Self, origin, FleeDistance), a.speed(s, s.Profile.FleeSpeed))
	a.drainEverySecond(s, st, needs.Fleeing)
}

// away точка в dist единицах от origin в сторону от него.
func away(self entity.Creature, origin entity.Location, dist float64) entity.Location {
	dir := self.Location.Pos.Sub(origin.Pos)
	dir.Y = 0
	if dir.IsZero() {
		dir = self.Facing.Mul(-1)
		dir.Y = 0
	}
	if dir.IsZero() {
		dir = vec.Vec3Float{X: 1}
	}
	return entity.Location{
		World: self.Location.World,
		Pos:   self.Location.Pos.Add(dir.Normalized().Mul(dist)),
	}
}

// ==== Chase ====

func chaseLeash(s *Subject) float64 { return s.Profile.AggroRadius * ChaseRangeFactor }

func chaseActivate(a *Arbitrator, s *Subject, st *State) (candidate, bool) {
	// назначить врага может и хост; вид без радиуса агрессии никого не преследует
	if st.Assigned == entity.Nil || !a.ctx.Family.CanAttack(s.Self.ID) {
		return candidate{}, false
	}
	t, ok := a.live(st.Assigned)
	if !ok || t.Location.DistanceTo(s.Self.Location) >= chaseLeash(s) {
		return candidate{}, false
	}
	return candidate{target: t.ID}, true
}

func chaseStay(a *Arbitrator, s *Subject, st *State) bool {
	if st.Assigned != st.Target {
		return false
	}
	t, ok := a.live(st.Target)
	return ok && t.Location.DistanceTo(s.Self.Location) < chaseLeash(s)
}

// ChaseSpeed скорость преследования с учётом одомашнивания.
func ChaseSpeed(base, domestication float64) float64 {
	return base * (1 - 0.3*domestication)
}

func chaseTick(a *Arbitrator, s *Subject, st *State) {
	t, ok := a.live(st.Target)
	if !ok {
		return
	}
	if t.Location.DistanceTo(s.Self.Location) > MeleeRange {
		a.ctx.Act.MoveToward(s.Self.ID, t.Location, ChaseSpeed(s.Profile.ChaseSpeed, s.Domestication))
		a.drainEverySecond(s, st, needs.Chasing)
		return
	}
	a.strike(s, st, t.ID)
}

func chaseStop(a *Arbitrator, s *Subject, st *State) {
	// вытесненная погоня возобновится; потерянная цель забывается
	if st.Assigned != st.Target {
		return
	}
	t, ok := a.live(st.Target)
	if !ok || t.Location.DistanceTo(s.Self.Location) >= chaseLeash(s) {
		st.Assigned = entity.Nil
	}
}

// ==== ShareFood ====

func shareActivate(a *Arbitrator, s *Subject, st *State) (candidate, bool) {
	if s.Profile.FoodItem == "" || !a.ctx.Herds.RankOf(s.Self.ID).Privileged() {
		return candidate{}, false
	}
	for _, id := range a.ctx.Family.FamilyOf(s.Self.ID) {
		m, ok := a.live(id)
		if !ok || m.Location.DistanceTo(s.Self.Location) > ShareRange {
			continue
		}
		if a.ctx.Needs.HungerRatio(id) < ShareHungerMark {
			return candidate{target: id}, true
		}
	}
	return candidate{}, false
}

func shareStart(a *Arbitrator, s *Subject, st *State) {
	m, ok := a.live(st.Target)
	if !ok {
		return
	}
	a.ctx.Act.DropItem(m.Location, s.Profile.FoodItem, 1)
	if a.ctx.Feedback != nil {
		a.ctx.Feedback.PlayEffect(m.Location, entity.EffectHearts, 5)
	}
	a.ctx.Needs.Gain(m.ID, needs.Hunger, ShareAmount)
}

// ==== Play ====

type playMode int

const (
	playChase playMode = iota
	playHop
)

func playActivate(a *Arbitrator, s *Subject, st *State) (candidate, bool) {
	if !a.ctx.Family.ShouldPlay(s.Self.ID) {
		return candidate{}, false
	}
	if a.roll() >= a.ctx.Params.PlayChance {
		return candidate{}, false
	}
	for _, sib := range a.ctx.Family.SiblingsOf(s.Self.ID) {
		m, ok := a.live(sib)
		if !ok || m.Location.DistanceTo(s.Self.Location) > PlaymateRange {
			continue
		}
		if a.ctx.Family.LifeStage(sib) == lifecycle.Baby {
			return candidate{playmate: sib}, true
		}
	}
	return candidate{}, false
}

func playStay(a *Arbitrator, s *Subject, st *State) bool {
	if st.Assigned != entity.Nil || !a.ctx.Family.ShouldPlay(s.Self.ID) {
		return false
	}
	m, ok := a.live(st.Playmate)
	if !ok || m.Location.DistanceTo(s.Self.Location) > PlayBreakRange {
		return false
	}
	return a.elapsed(st) < MaxPlayTicks
}

func playStart(a *Arbitrator, s *Subject, st *State) {
	st.playMode = playChase
	if a.roll() < 0.5 {
		st.playMode = playHop
	}
}

// modeAt режим игры: чередуется каждые PlayModeTicks.
func modeAt(first playMode, elapsed uint64) playMode {
	if (elapsed/PlayModeTicks)%2 == 0 {
		return first
	}
	return 1 - first
}

func playTick(a *Arbitrator, s *Subject, st *State) {
	m, ok := a.live(st.Playmate)
	if !ok {
		return
	}
	elapsed := a.elapsed(st)

	switch modeAt(st.playMode, elapsed) {
	case playChase:
		if elapsed%60 < 30 {
			a.ctx.Act.MoveToward(s.Self.ID, m.Location, 1.3)
		} else {
			a.ctx.Act.MoveToward(s.Self.ID, away(s.Self, m.Location, 3), 1.2)
		}
	case playHop:
		if elapsed%30 == 0 {
			dx := (a.roll() - 0.5) * 4
			dz := (a.roll() - 0.5) * 4
			to := s.Self.Location
			to.Pos = to.Pos.Add(vec.Vec3Float{X: dx, Z: dz})
			a.ctx.Act.MoveToward(s.Self.ID, to, 1.0)
		}
	}
	a.effectEvery(s, 20, entity.EffectPlay, 3)
}

// ==== Idle ====

func idleStart(a *Arbitrator, s *Subject, st *State) {
	a.ctx.Act.StopMovement(s.Self.ID)
}

func idleTick(a *Arbitrator, s *Subject, st *State) {
	if a.ctx.Family.ShouldFollowMother(s.Self.ID) {
		if mother, ok := a.ctx.Family.MotherOf(s.Self.ID); ok {
			if m, ok := a.live(mother); ok && m.Location.DistanceTo(s.Self.Location) > FollowMotherDistance {
				a.ctx.Act.MoveToward(s.Self.ID, m.Location, a.speed(s, 1.0))
				return
			}
		}
	}
	if hid, ok := a.ctx.Herds.HerdOf(s.Self.ID); ok {
		if center, ok := a.ctx.Herds.Centroid(hid); ok && center.DistanceTo(s.Self.Location) > HerdDriftDistance {
			a.ctx.Act.MoveToward(s.Self.ID, center, a.speed(s, 1.0))
		}
	}
}
