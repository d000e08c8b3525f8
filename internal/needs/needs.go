// Package needs хранит потребности существ (голод, жажда, энергия) и их затухание.
package needs

import (
	"sync"
	"time"

	"github.com/annel0/mmo-fauna/internal/clock"
	"github.com/annel0/mmo-fauna/internal/entity"
	"github.com/annel0/mmo-fauna/internal/shard"
)

// Max максимум для каждой потребности.
const Max = 100.0

// Скорость убывания в единицах в секунду.
const (
	HungerRate = 0.02
	ThirstRate = 0.03
	EnergyRate = 0.015
)

// Drive отдельная потребность.
type Drive int

const (
	Hunger Drive = iota
	Thirst
	Energy
)

func (d Drive) String() string {
	switch d {
	case Hunger:
		return "hunger"
	case Thirst:
		return "thirst"
	case Energy:
		return "energy"
	default:
		return "unknown"
	}
}

// Urgency самая срочная неудовлетворённая потребность.
type Urgency int

const (
	UrgencyNone Urgency = iota
	UrgencyTired
	UrgencyHungry
	UrgencyThirsty
	UrgencyExhausted
	UrgencyStarving
	UrgencyDehydrated
)

func (u Urgency) String() string {
	switch u {
	case UrgencyTired:
		return "tired"
	case UrgencyHungry:
		return "hungry"
	case UrgencyThirsty:
		return "thirsty"
	case UrgencyExhausted:
		return "exhaustion_critical"
	case UrgencyStarving:
		return "starvation_critical"
	case UrgencyDehydrated:
		return "dehydration_critical"
	default:
		return "none"
	}
}

// Activity активность с фиксированной стоимостью за секунду.
type Activity int

const (
	Combat Activity = iota
	Fleeing
	Chasing
)

// Cost стоимость активности (голод, жажда, энергия).
type Cost struct {
	Hunger, Thirst, Energy float64
}

var activityCosts = map[Activity]Cost{
	Combat:  {Hunger: 0.5, Thirst: 0.3, Energy: 1.0},
	Fleeing: {Hunger: 0.2, Thirst: 0.4, Energy: 0.8},
	Chasing: {Hunger: 0.3, Thirst: 0.3, Energy: 0.6},
}

// CostOf возвращает стоимость активности.
func CostOf(a Activity) Cost { return activityCosts[a] }

// Values снимок потребностей.
type Values struct {
	Hunger     float64
	Thirst     float64
	Energy     float64
	LastUpdate time.Time
}

type record struct {
	mu sync.Mutex
	v  Values
}

// Engine хранит по одной записи на существо; записи создаются лениво полными.
type Engine struct {
	clock   clock.Clock
	records *shard.Map[*record]
}

// NewEngine создаёт движок потребностей.
func NewEngine(c clock.Clock) *Engine {
	return &Engine{
		clock:   c,
		records: shard.New[*record](),
	}
}

func (e *Engine) get(id entity.ID) *record {
	return e.records.GetOrCreate(id, func() *record {
		return &record{v: Values{Hunger: Max, Thirst: Max, Energy: Max, LastUpdate: e.clock.Now()}}
	})
}

// Get возвращает текущие значения (создаёт запись при первом обращении).
func (e *Engine) Get(id entity.ID) Values {
	r := e.get(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.v
}

// Peek значения без ленивого создания записи.
func (e *Engine) Peek(id entity.ID) (Values, bool) {
	r, ok := e.records.Get(id)
	if !ok {
		return Values{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.v, true
}

// peekOrFull для читателей: отсутствующая запись читается как полная.
func (e *Engine) peekOrFull(id entity.ID) Values {
	if v, ok := e.Peek(id); ok {
		return v
	}
	return Values{Hunger: Max, Thirst: Max, Energy: Max}
}

// Set перезаписывает значения с ограничением в [0, Max].
func (e *Engine) Set(id entity.ID, hunger, thirst, energy float64) {
	r := e.get(id)
	r.mu.Lock()
	r.v.Hunger = clamp(hunger)
	r.v.Thirst = clamp(thirst)
	r.v.Energy = clamp(energy)
	r.mu.Unlock()
}

// Advance уменьшает потребности одного существа на rate * Δt.
func (e *Engine) Advance(id entity.ID, now time.Time) {
	e.get(id).advance(now)
}

// Tick продвигает все записи до момента now.
func (e *Engine) Tick(now time.Time) {
	e.records.Range(func(_ entity.ID, r *record) bool {
		r.advance(now)
		return true
	})
}

func (r *record) advance(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dt := now.Sub(r.v.LastUpdate).Seconds()
	if dt <= 0 {
		return
	}
	r.v.Hunger = clamp(r.v.Hunger - HungerRate*dt)
	r.v.Thirst = clamp(r.v.Thirst - ThirstRate*dt)
	r.v.Energy = clamp(r.v.Energy - EnergyRate*dt)
	r.v.LastUpdate = now
}

// Drain списывает стоимость активности, не опускаясь ниже нуля.
func (e *Engine) Drain(id entity.ID, hunger, thirst, energy float64) {
	r := e.get(id)
	r.mu.Lock()
	r.v.Hunger = clamp(r.v.Hunger - hunger)
	r.v.Thirst = clamp(r.v.Thirst - thirst)
	r.v.Energy = clamp(r.v.Energy - energy)
	r.mu.Unlock()
}

// DrainActivity списывает стоимость одной секунды активности.
func (e *Engine) DrainActivity(id entity.ID, a Activity) {
	c := CostOf(a)
	e.Drain(id, c.Hunger, c.Thirst, c.Energy)
}

// Gain восстанавливает потребность не выше Max.
func (e *Engine) Gain(id entity.ID, d Drive, amount float64) {
	r := e.get(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	switch d {
	case Hunger:
		r.v.Hunger = clamp(r.v.Hunger + amount)
	case Thirst:
		r.v.Thirst = clamp(r.v.Thirst + amount)
	case Energy:
		r.v.Energy = clamp(r.v.Energy + amount)
	}
}

// Urgency возвращает самую срочную потребность по фиксированному приоритету.
func (e *Engine) Urgency(id entity.ID) Urgency {
	return UrgencyOf(e.Get(id))
}

// UrgencyOf чистая функция приоритета потребностей.
func UrgencyOf(v Values) Urgency {
	switch {
	case v.Thirst < 15:
		return UrgencyDehydrated
	case v.Hunger < 20:
		return UrgencyStarving
	case v.Energy < 10:
		return UrgencyExhausted
	case v.Thirst < 0.5*Max:
		return UrgencyThirsty
	case v.Hunger < 0.6*Max:
		return UrgencyHungry
	case v.Energy < 0.4*Max:
		return UrgencyTired
	default:
		return UrgencyNone
	}
}

// HungerRatio доля сытости в [0,1].
func (e *Engine) HungerRatio(id entity.ID) float64 {
	return e.peekOrFull(id).Hunger / Max
}

// Wellbeing среднее трёх потребностей в [0,1].
func (e *Engine) Wellbeing(id entity.ID) float64 {
	v := e.peekOrFull(id)
	return (v.Hunger + v.Thirst + v.Energy) / (3 * Max)
}

// Has true если запись уже существует (без ленивого создания).
func (e *Engine) Has(id entity.ID) bool {
	_, ok := e.records.Get(id)
	return ok
}

// Remove удаляет запись существа.
func (e *Engine) Remove(id entity.ID) {
	e.records.Delete(id)
}

// Len число записей.
func (e *Engine) Len() int { return e.records.Len() }

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > Max {
		return Max
	}
	return v
}
