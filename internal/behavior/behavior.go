// Package behavior выбирает одно активное поведение существа на каждый тик.
//
// Приоритет задан явной таблицей правил (см. table). Правило с более высоким
// приоритетом вытесняет текущее; текущее держится, пока его stay истинно;
// правила ниже по приоритету никогда не вытесняют текущее.
package behavior

import (
	"github.com/annel0/mmo-fauna/internal/clock"
	"github.com/annel0/mmo-fauna/internal/entity"
	"github.com/annel0/mmo-fauna/internal/eventbus"
	"github.com/annel0/mmo-fauna/internal/herd"
	"github.com/annel0/mmo-fauna/internal/lifecycle"
	"github.com/annel0/mmo-fauna/internal/memory"
	"github.com/annel0/mmo-fauna/internal/needs"
	"github.com/annel0/mmo-fauna/internal/shard"
)

// Kind вид поведения.
type Kind int

const (
	Idle Kind = iota
	Flee
	ProtectKin
	Chase
	Play
	ShareFood
)

func (k Kind) String() string {
	switch k {
	case Idle:
		return "idle"
	case Flee:
		return "flee"
	case ProtectKin:
		return "protect_kin"
	case Chase:
		return "chase"
	case Play:
		return "play"
	case ShareFood:
		return "share_food"
	default:
		return "unknown"
	}
}

// Profile параметры вида, нужные поведению.
type Profile struct {
	AggroRadius float64
	ChaseSpeed  float64
	FleeSpeed   float64
	FoodItem    string
}

// Params настраиваемые пороги арбитра.
type Params struct {
	KinDamageWindow uint64  // сколько тиков помнится урон детёнышу
	FleeSeverity    float64 // порог тяжести опасности для бегства
	PlayChance      float64 // шанс начать игру за подходящий тик
}

// DefaultParams значения по умолчанию.
func DefaultParams() Params {
	return Params{KinDamageWindow: 200, FleeSeverity: 3, PlayChance: 0.05}
}

// Context явный контекст со всеми хранилищами и внешними коллабораторами.
type Context struct {
	World    entity.WorldQuery
	Act      entity.Actuator
	Feedback entity.Feedback
	Clock    clock.Clock
	Needs    *needs.Engine
	Memory   *memory.Engine
	Family   *lifecycle.Graph
	Herds    *herd.Coordinator
	Events   eventbus.Publisher // может быть nil
	Params   Params
	Rand     func() float64 // потокобезопасный источник [0,1)
}

// Subject существо, для которого выполняется тик.
type Subject struct {
	Self          entity.Creature
	Profile       Profile
	Domestication float64 // доля в [0,1]
}

// State состояние арбитра для одного существа.
// Меняется только тиком региона, которому принадлежит существо; снаружи
// читаются лишь копии в Arbitrator.current и Arbitrator.assigned.
type State struct {
	Kind      Kind
	StartedAt uint64

	Target   entity.ID // цель ProtectKin/Chase или получатель ShareFood
	Child    entity.ID
	Playmate entity.ID
	Assigned entity.ID // враг, назначенный извне

	playMode   playMode
	lastAttack uint64
	attacked   bool
	lastDrain  uint64
}

type damage struct {
	attacker entity.ID
	tick     uint64
}

// Arbitrator хранит состояния и выполняет таблицу правил.
type Arbitrator struct {
	ctx    *Context
	rules  []rule
	states *shard.Map[*State]
	damage *shard.Map[damage]

	current  *shard.Map[Kind]
	assigned *shard.Map[entity.ID]

	onTransition func(id entity.ID, from, to Kind)
}

// NewArbitrator создаёт арбитр с таблицей правил по умолчанию.
func NewArbitrator(ctx *Context) *Arbitrator {
	return &Arbitrator{
		ctx:      ctx,
		rules:    table(),
		states:   shard.New[*State](),
		damage:   shard.New[damage](),
		current:  shard.New[Kind](),
		assigned: shard.New[entity.ID](),
	}
}

// OnTransition регистрирует наблюдателя смены поведения.
func (a *Arbitrator) OnTransition(fn func(id entity.ID, from, to Kind)) {
	a.onTransition = fn
}

// Priority порядок видов поведения от высшего к низшему.
func (a *Arbitrator) Priority() []Kind {
	out := make([]Kind, len(a.rules))
	for i, r := range a.rules {
		out[i] = r.kind
	}
	return out
}

func (a *Arbitrator) state(id entity.ID) *State {
	return a.states.GetOrCreate(id, func() *State {
		return &State{Kind: Idle, StartedAt: a.ctx.Clock.Tick()}
	})
}

// Current активное поведение существа.
func (a *Arbitrator) Current(id entity.ID) Kind {
	k, ok := a.current.Get(id)
	if !ok {
		return Idle
	}
	return k
}

// Assign назначает врага для Chase; Nil снимает назначение.
// Безопасна для вызова из обработчиков событий хоста.
func (a *Arbitrator) Assign(id, target entity.ID) {
	if target == entity.Nil {
		a.assigned.Delete(id)
		return
	}
	a.assigned.Set(id, target)
}

// Assigned текущий назначенный враг.
func (a *Arbitrator) Assigned(id entity.ID) (entity.ID, bool) {
	return a.assigned.Get(id)
}

// RecordDamage запоминает последнего обидчика существа.
func (a *Arbitrator) RecordDamage(victim, attacker entity.ID) {
	a.damage.Set(victim, damage{attacker: attacker, tick: a.ctx.Clock.Tick()})
}

// recentAttacker обидчик, если урон был в пределах окна.
func (a *Arbitrator) recentAttacker(victim entity.ID) (entity.ID, bool) {
	d, ok := a.damage.Get(victim)
	if !ok || a.ctx.Clock.ElapsedTicks(d.tick) > a.ctx.Params.KinDamageWindow {
		return entity.Nil, false
	}
	return d.attacker, true
}

// Remove забывает состояние существа, сначала снимая эффекты активного поведения.
func (a *Arbitrator) Remove(id entity.ID) {
	if st, ok := a.states.Get(id); ok {
		if r := a.rules[a.indexOf(st.Kind)]; r.stop != nil {
			self := entity.Creature{ID: id}
			if c, ok := a.ctx.World.EntityByID(id); ok {
				self = c
			}
			r.stop(a, &Subject{Self: self}, st)
		}
	}
	a.states.Delete(id)
	a.damage.Delete(id)
	a.current.Delete(id)
	a.assigned.Delete(id)
}

// Len число существ с состоянием арбитра.
func (a *Arbitrator) Len() int { return a.states.Len() }

// Tick выбирает и выполняет поведение на этот тик; возвращает активный вид.
func (a *Arbitrator) Tick(s *Subject) Kind {
	st := a.state(s.Self.ID)
	before, _ := a.assigned.Get(s.Self.ID)
	st.Assigned = before

	kind := a.tick(s, st)

	if before != entity.Nil && st.Assigned == entity.Nil {
		// снимаем назначение, только если его не заменили за время тика
		a.assigned.Update(s.Self.ID, func(v entity.ID, ok bool) (entity.ID, bool) {
			return v, ok && v != before
		})
	}
	return kind
}

func (a *Arbitrator) tick(s *Subject, st *State) Kind {
	cur := a.indexOf(st.Kind)

	for i := 0; i < cur; i++ {
		if c, ok := a.rules[i].activate(a, s, st); ok {
			a.switchTo(s, st, i, c)
			return a.run(s, st)
		}
	}

	if st.Kind != Idle && !a.rules[cur].stay(a, s, st) {
		next, cand := len(a.rules)-1, candidate{}
		for i := cur + 1; i < len(a.rules); i++ {
			if c, ok := a.rules[i].activate(a, s, st); ok {
				next, cand = i, c
				break
			}
		}
		a.switchTo(s, st, next, cand)
	}

	return a.run(s, st)
}

func (a *Arbitrator) indexOf(k Kind) int {
	for i, r := range a.rules {
		if r.kind == k {
			return i
		}
	}
	return len(a.rules) - 1
}

func (a *Arbitrator) switchTo(s *Subject, st *State, idx int, c candidate) {
	from := st.Kind
	if r := a.rules[a.indexOf(from)]; r.stop != nil {
		r.stop(a, s, st)
	}

	st.Kind = a.rules[idx].kind
	a.current.Set(s.Self.ID, st.Kind)
	st.StartedAt = a.ctx.Clock.Tick()
	st.Target = c.target
	st.Child = c.child
	st.Playmate = c.playmate
	st.attacked = false
	st.lastDrain = st.StartedAt

	if r := a.rules[idx]; r.start != nil {
		r.start(a, s, st)
	}
	if a.onTransition != nil && from != st.Kind {
		a.onTransition(s.Self.ID, from, st.Kind)
	}
}

func (a *Arbitrator) run(s *Subject, st *State) Kind {
	r := a.rules[a.indexOf(st.Kind)]
	if r.tick != nil {
		r.tick(a, s, st)
	}
	if r.oneShot {
		// одноразовое поведение сразу уступает место Idle
		a.switchTo(s, st, len(a.rules)-1, candidate{})
		return r.kind
	}
	return st.Kind
}

// elapsed тиков в текущем поведении.
func (a *Arbitrator) elapsed(st *State) uint64 {
	return a.ctx.Clock.ElapsedTicks(st.StartedAt)
}

func (a *Arbitrator) roll() float64 {
	if a.ctx.Rand == nil {
		return 1
	}
	return a.ctx.Rand()
}
