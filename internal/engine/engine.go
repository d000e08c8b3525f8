// Package engine фасад движка фауны: регистрация существ, тик одного
// существа и обработчики событий хоста поверх всех хранилищ.
package engine

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/annel0/mmo-fauna/internal/behavior"
	"github.com/annel0/mmo-fauna/internal/clock"
	"github.com/annel0/mmo-fauna/internal/config"
	"github.com/annel0/mmo-fauna/internal/entity"
	"github.com/annel0/mmo-fauna/internal/eventbus"
	"github.com/annel0/mmo-fauna/internal/herd"
	"github.com/annel0/mmo-fauna/internal/lifecycle"
	"github.com/annel0/mmo-fauna/internal/logging"
	"github.com/annel0/mmo-fauna/internal/memory"
	"github.com/annel0/mmo-fauna/internal/needs"
	"github.com/annel0/mmo-fauna/internal/shard"
	"github.com/annel0/mmo-fauna/internal/storage"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// MaxDomestication уровень полного одомашнивания.
const MaxDomestication = 5

// Options зависимости движка. Events, Trust, Registerer и Rand необязательны.
type Options struct {
	Config     config.EngineConfig
	Species    map[string]config.SpeciesConfig
	World      entity.WorldQuery
	Act        entity.Actuator
	Feedback   entity.Feedback
	Clock      clock.Clock
	Events     eventbus.Publisher
	Trust      storage.CounterRepo
	Registerer prometheus.Registerer
	Rand       func() float64
}

type record struct {
	mu            sync.Mutex
	species       entity.Species
	domestication int
	lastTick      uint64
	lastPeaceful  map[entity.ID]uint64
}

// Engine владеет вспомогательными записями всех зарегистрированных существ.
type Engine struct {
	cfg     config.EngineConfig
	species map[entity.Species]config.SpeciesConfig
	world   entity.WorldQuery
	clock   clock.Clock
	events  eventbus.Publisher

	needs  *needs.Engine
	memory *memory.Engine
	family *lifecycle.Graph
	herds  *herd.Coordinator
	arb    *behavior.Arbitrator

	records *shard.Map[*record]
	trust   *TrustLedger
	metrics *Metrics
	tracer  trace.Tracer
	logger  *logging.Logger
	roll    func() float64
}

// New собирает движок и запускает фоновый сброс доверия.
func New(opts Options) *Engine {
	roll := opts.Rand
	if roll == nil {
		roll = rand.Float64
	}

	species := make(map[entity.Species]config.SpeciesConfig, len(opts.Species))
	for name, sp := range opts.Species {
		species[entity.Species(name)] = sp
	}

	e := &Engine{
		cfg:     opts.Config,
		species: species,
		world:   opts.World,
		clock:   opts.Clock,
		events:  opts.Events,
		needs:   needs.NewEngine(opts.Clock),
		memory:  memory.NewEngine(opts.Clock),
		family:  lifecycle.NewGraph(opts.Clock),
		herds:   herd.NewCoordinator(opts.World, opts.Clock, opts.Events),
		records: shard.New[*record](),
		tracer:  otel.Tracer("github.com/annel0/mmo-fauna/internal/engine"),
		logger:  logging.GetEngineLogger(),
		roll:    roll,
	}

	params := behavior.DefaultParams()
	if opts.Config.KinDamageWindow > 0 {
		params.KinDamageWindow = opts.Config.KinDamageWindow
	}
	if opts.Config.FleeSeverity > 0 {
		params.FleeSeverity = opts.Config.FleeSeverity
	}
	if opts.Config.PlayChance > 0 {
		params.PlayChance = opts.Config.PlayChance
	}

	e.arb = behavior.NewArbitrator(&behavior.Context{
		World:    opts.World,
		Act:      opts.Act,
		Feedback: opts.Feedback,
		Clock:    opts.Clock,
		Needs:    e.needs,
		Memory:   e.memory,
		Family:   e.family,
		Herds:    e.herds,
		Events:   opts.Events,
		Params:   params,
		Rand:     roll,
	})

	e.metrics = newMetrics(opts.Registerer,
		func() float64 { return float64(e.records.Len()) },
		func() float64 { return float64(e.herds.Count()) },
	)
	e.arb.OnTransition(func(id entity.ID, from, to behavior.Kind) {
		e.metrics.transitions.WithLabelValues(from.String(), to.String()).Inc()
		e.logger.Trace("%s: %s -> %s", id, from, to)
	})

	e.trust = NewTrustLedger(opts.Trust, time.Duration(opts.Config.TrustFlushSeconds)*time.Second)
	e.trust.Start()
	return e
}

// Close останавливает фоновые задачи и сбрасывает доверие в хранилище.
func (e *Engine) Close() error {
	return e.trust.Stop()
}

func (e *Engine) speciesOf(s entity.Species) config.SpeciesConfig {
	return e.species[s]
}

func profileOf(sp config.SpeciesConfig) behavior.Profile {
	flee := sp.FleeSpeed
	if flee <= 0 {
		flee = 1.0
	}
	chase := sp.ChaseSpeed
	if chase <= 0 {
		chase = 1.0
	}
	return behavior.Profile{
		AggroRadius: sp.AggroRadius,
		ChaseSpeed:  chase,
		FleeSpeed:   flee,
		FoodItem:    sp.FoodItem,
	}
}

// Register создаёт записи существа. Повторная регистрация ничего не меняет.
func (e *Engine) Register(id entity.ID, species entity.Species, birthTick uint64) {
	if _, ok := e.records.Get(id); ok {
		return
	}

	maxAge := e.speciesOf(species).MaxAgeTicks
	if maxAge == 0 {
		maxAge = e.cfg.DefaultMaxAgeTicks
	}
	e.family.Register(id, birthTick, maxAge)
	e.records.Set(id, &record{species: species, lastTick: e.clock.Tick()})

	if c, ok := e.world.EntityByID(id); ok && c.Alive() {
		e.herds.JoinOrCreate(c)
	}
}

// Registered true если существо известно движку.
func (e *Engine) Registered(id entity.ID) bool {
	_, ok := e.records.Get(id)
	return ok
}

// Count число зарегистрированных существ.
func (e *Engine) Count() int { return e.records.Len() }

// Deregister удаляет все записи существа. Идемпотентна.
func (e *Engine) Deregister(id entity.ID) {
	e.herds.Leave(id)
	e.family.Deregister(id)
	e.needs.Remove(id)
	e.memory.Remove(id)
	e.arb.Remove(id)
	e.records.Delete(id)
}

// Tick продвигает потребности и арбитр одного существа.
func (e *Engine) Tick(id entity.ID, now time.Time) {
	rec, ok := e.records.Get(id)
	if !ok {
		return
	}
	c, ok := e.world.EntityByID(id)
	if !ok {
		// хост удалил существо без события
		e.Deregister(id)
		return
	}
	if !c.Alive() {
		return
	}

	start := time.Now()

	e.needs.Advance(id, now)

	tick := e.clock.Tick()
	rec.mu.Lock()
	elapsed := e.clock.ElapsedTicks(rec.lastTick)
	rec.lastTick = tick
	species := rec.species
	rec.mu.Unlock()
	e.family.DecayBond(id, elapsed)

	if _, in := e.herds.HerdOf(id); !in {
		e.herds.JoinOrCreate(c)
	}

	sp := e.speciesOf(species)
	e.perceive(c, sp, rec)

	e.arb.Tick(&behavior.Subject{
		Self:          c,
		Profile:       profileOf(sp),
		Domestication: e.domesticationFactor(id, rec),
	})

	e.metrics.ticks.Inc()
	e.metrics.tickDuration.Observe(time.Since(start).Seconds())
}

// domesticationFactor уровень/5 плюс бонус стадии, не больше 1.
func (e *Engine) domesticationFactor(id entity.ID, rec *record) float64 {
	rec.mu.Lock()
	level := rec.domestication
	rec.mu.Unlock()

	f := float64(level)/MaxDomestication + lifecycle.DomesticationBonus(e.family.LifeStage(id))
	if f > 1 {
		f = 1
	}
	return f
}

// Maintain периодическое обслуживание: стада, память, забытые хостом существа.
// Возвращает число удалённых стад и выброшенных записей.
func (e *Engine) Maintain() (herdsRemoved, pruned int) {
	herdsRemoved = e.herds.Maintain()
	e.memory.Cleanup()

	var stale []entity.ID
	e.records.Range(func(id entity.ID, _ *record) bool {
		if _, ok := e.world.EntityByID(id); !ok {
			stale = append(stale, id)
		}
		return true
	})
	for _, id := range stale {
		e.Deregister(id)
	}

	if herdsRemoved > 0 || len(stale) > 0 {
		e.logger.Debug("maintenance: %d herds removed, %d stale creatures pruned", herdsRemoved, len(stale))
	}
	return herdsRemoved, len(stale)
}

// ==== чтение ====

// LifeStage стадия жизни существа.
func (e *Engine) LifeStage(id entity.ID) lifecycle.Stage { return e.family.LifeStage(id) }

// ThreatLevel отношение существа к игроку.
func (e *Engine) ThreatLevel(id, player entity.ID) memory.ThreatLevel {
	return e.memory.ThreatLevel(id, player)
}

// IsDangerous помнит ли существо опасность в этом месте.
func (e *Engine) IsDangerous(id entity.ID, loc entity.Location) bool {
	return e.memory.IsDangerous(id, loc)
}

// DangerSeverity затухшая тяжесть опасности в этом месте.
func (e *Engine) DangerSeverity(id entity.ID, loc entity.Location) float64 {
	return e.memory.DangerSeverity(id, loc)
}

// HerdOf стадо существа.
func (e *Engine) HerdOf(id entity.ID) (uuid.UUID, bool) { return e.herds.HerdOf(id) }

// Herd снимок стада.
func (e *Engine) Herd(hid uuid.UUID) (herd.Info, bool) { return e.herds.Info(hid) }

// Role роль в стаде.
func (e *Engine) Role(id entity.ID) herd.Role { return e.herds.Role(id) }

// Rank ранг в стаде.
func (e *Engine) Rank(id entity.ID) herd.Rank { return e.herds.RankOf(id) }

// Behavior активное поведение.
func (e *Engine) Behavior(id entity.ID) behavior.Kind { return e.arb.Current(id) }

// Wellbeing среднее трёх потребностей зарегистрированного существа.
func (e *Engine) Wellbeing(id entity.ID) (float64, bool) {
	if _, ok := e.records.Get(id); !ok {
		return 0, false
	}
	return e.needs.Wellbeing(id), true
}

// Domestication уровень одомашнивания 0..MaxDomestication.
func (e *Engine) Domestication(id entity.ID) (int, bool) {
	rec, ok := e.records.Get(id)
	if !ok {
		return 0, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.domestication, true
}

// PlayerTrust доверие животных к игроку.
func (e *Engine) PlayerTrust(ctx context.Context, player entity.ID) (int64, error) {
	return e.trust.Value(ctx, player)
}

// CreatureView снимок состояния существа для отладочного слоя.
type CreatureView struct {
	ID            entity.ID       `json:"id"`
	Species       entity.Species  `json:"species"`
	Stage         string          `json:"stage"`
	Behavior      string          `json:"behavior"`
	Hunger        float64         `json:"hunger"`
	Thirst        float64         `json:"thirst"`
	Energy        float64         `json:"energy"`
	Urgency       string          `json:"urgency"`
	Wellbeing     float64         `json:"wellbeing"`
	Domestication int             `json:"domestication"`
	Herd          string          `json:"herd,omitempty"`
	Role          string          `json:"role"`
	Rank          string          `json:"rank"`
	Mother        string          `json:"mother,omitempty"`
	Children      []entity.ID     `json:"children"`
	Bond          float64         `json:"bond"`
	Dangers       int             `json:"dangers"`
	Relations     int             `json:"relations"`
	Location      entity.Location `json:"location"`
}

// Describe собирает CreatureView; false если существо не зарегистрировано.
func (e *Engine) Describe(id entity.ID) (CreatureView, bool) {
	rec, ok := e.records.Get(id)
	if !ok {
		return CreatureView{}, false
	}
	rec.mu.Lock()
	species, dom := rec.species, rec.domestication
	rec.mu.Unlock()

	v := e.needs.Get(id)
	dangers, relations := e.memory.Counts(id)
	view := CreatureView{
		ID:            id,
		Species:       species,
		Stage:         e.family.LifeStage(id).String(),
		Behavior:      e.arb.Current(id).String(),
		Hunger:        v.Hunger,
		Thirst:        v.Thirst,
		Energy:        v.Energy,
		Urgency:       needs.UrgencyOf(v).String(),
		Wellbeing:     e.needs.Wellbeing(id),
		Domestication: dom,
		Role:          e.herds.Role(id).String(),
		Rank:          e.herds.RankOf(id).String(),
		Children:      e.family.ChildrenOf(id),
		Bond:          e.family.BondStrength(id),
		Dangers:       dangers,
		Relations:     relations,
	}
	if hid, ok := e.herds.HerdOf(id); ok {
		view.Herd = hid.String()
	}
	if m, ok := e.family.MotherOf(id); ok {
		view.Mother = m.String()
	}
	if c, ok := e.world.EntityByID(id); ok {
		view.Location = c.Location
	}
	return view, true
}
