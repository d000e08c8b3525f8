// Package memory память существ: опасные места и отношения с игроками.
// Всё устаревание ленивое и проверяется при чтении; Cleanup лишь ограничивает объём.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/annel0/mmo-fauna/internal/clock"
	"github.com/annel0/mmo-fauna/internal/entity"
	"github.com/annel0/mmo-fauna/internal/shard"
	"github.com/annel0/mmo-fauna/internal/vec"
)

const (
	// CellSize размер ячейки квантования опасных мест.
	CellSize = 5.0
	// DangerWindow окно линейного затухания опасности.
	DangerWindow = 10 * time.Minute
	// MaxDangers предел записей об опасности на существо.
	MaxDangers = 10

	// RelationWindow окно забывания взаимодействий.
	RelationWindow = 20 * time.Minute
	// MaxInteractions предел журнала на пару (существо, игрок).
	MaxInteractions = 50
	// MaxRelations предел игроков, которых помнит существо.
	MaxRelations = 20

	// RecentThreatWindow сколько помнится последняя угроза.
	RecentThreatWindow = 30 * time.Second
)

// DangerType вид опасности.
type DangerType int

const (
	DangerAttack DangerType = iota
	DangerPredator
	DangerKinDeath
	DangerHostilePlayer
	DangerHerdPanic
)

func (d DangerType) String() string {
	switch d {
	case DangerAttack:
		return "attack"
	case DangerPredator:
		return "predator"
	case DangerKinDeath:
		return "kin_death"
	case DangerHostilePlayer:
		return "hostile_player"
	case DangerHerdPanic:
		return "herd_panic"
	default:
		return "unknown"
	}
}

// Cell квантованная позиция.
type Cell struct {
	World string
	Pos   vec.Vec3
}

// CellOf ячейка позиции.
func CellOf(loc entity.Location) Cell {
	return Cell{World: loc.World, Pos: loc.Pos.Floor(CellSize)}
}

// Center центр ячейки.
func (c Cell) Center() entity.Location {
	return entity.Location{World: c.World, Pos: vec.Vec3Float{
		X: (float64(c.Pos.X) + 0.5) * CellSize,
		Y: (float64(c.Pos.Y) + 0.5) * CellSize,
		Z: (float64(c.Pos.Z) + 0.5) * CellSize,
	}}
}

// Danger запись об опасном месте.
type Danger struct {
	Cell       Cell
	Type       DangerType
	Severity   int
	RecordedAt time.Time
}

// SeverityAt эффективная тяжесть: линейно от Severity до 0 за DangerWindow.
func (d Danger) SeverityAt(now time.Time) float64 {
	age := now.Sub(d.RecordedAt)
	if age < 0 {
		age = 0
	}
	if age >= DangerWindow {
		return 0
	}
	return float64(d.Severity) * (1 - float64(age)/float64(DangerWindow))
}

func (d Danger) expired(now time.Time) bool {
	return now.Sub(d.RecordedAt) >= DangerWindow
}

// Interaction вид взаимодействия с игроком.
type Interaction int

const (
	Attacked Interaction = iota
	KilledKin
	Chased
	Fed
	Bred
	Healed
	NearbyPeaceful
)

func (i Interaction) String() string {
	switch i {
	case Attacked:
		return "attacked"
	case KilledKin:
		return "killed_kin"
	case Chased:
		return "chased"
	case Fed:
		return "fed"
	case Bred:
		return "bred"
	case Healed:
		return "healed"
	case NearbyPeaceful:
		return "nearby_peaceful"
	default:
		return "unknown"
	}
}

// Weight вклад взаимодействия в чистый счёт (положительный дружелюбный).
func (i Interaction) Weight() int {
	switch i {
	case Attacked:
		return -10
	case KilledKin:
		return -20
	case Chased:
		return -3
	case Fed:
		return 8
	case Bred:
		return 15
	case Healed:
		return 12
	case NearbyPeaceful:
		return 1
	default:
		return 0
	}
}

// Friendly true для дружелюбных взаимодействий.
func (i Interaction) Friendly() bool { return i.Weight() > 0 }

// ThreatLevel дискретный уровень угрозы игрока.
type ThreatLevel int

const (
	MortalEnemy ThreatLevel = iota
	Hostile
	Cautious
	Neutral
	Friendly
)

func (t ThreatLevel) String() string {
	switch t {
	case MortalEnemy:
		return "mortal_enemy"
	case Hostile:
		return "hostile"
	case Cautious:
		return "cautious"
	case Neutral:
		return "neutral"
	case Friendly:
		return "friendly"
	default:
		return "unknown"
	}
}

// LevelForScore уровень по чистому счёту; монотонна по score.
func LevelForScore(score int) ThreatLevel {
	switch {
	case score > 30:
		return Friendly
	case score > 10:
		return Neutral
	case score > -10:
		return Cautious
	case score > -30:
		return Hostile
	default:
		return MortalEnemy
	}
}

type event struct {
	kind Interaction
	at   time.Time
}

type relation struct {
	events    []event
	firstSeen time.Time
}

type threat struct {
	loc entity.Location
	at  time.Time
}

type record struct {
	mu        sync.Mutex
	dangers   map[Cell]Danger
	relations map[entity.ID]*relation
	recent    *threat
}

// Engine память всех существ.
type Engine struct {
	clock   clock.Clock
	records *shard.Map[*record]
}

// NewEngine создаёт движок памяти.
func NewEngine(c clock.Clock) *Engine {
	return &Engine{clock: c, records: shard.New[*record]()}
}

func (e *Engine) get(id entity.ID) *record {
	return e.records.GetOrCreate(id, func() *record {
		return &record{
			dangers:   make(map[Cell]Danger),
			relations: make(map[entity.ID]*relation),
		}
	})
}

func (e *Engine) peek(id entity.ID) (*record, bool) {
	return e.records.Get(id)
}

// RememberDanger записывает опасность в ячейке и обновляет последнюю угрозу.
func (e *Engine) RememberDanger(id entity.ID, loc entity.Location, kind DangerType, severity int) {
	now := e.clock.Now()
	r := e.get(id)
	r.mu.Lock()
	defer r.mu.Unlock()

	cell := CellOf(loc)
	r.dangers[cell] = Danger{Cell: cell, Type: kind, Severity: severity, RecordedAt: now}
	r.recent = &threat{loc: loc, at: now}

	if len(r.dangers) <= MaxDangers {
		return
	}
	for c, d := range r.dangers {
		if d.expired(now) {
			delete(r.dangers, c)
		}
	}
	for len(r.dangers) > MaxDangers {
		var oldest Cell
		var oldestAt time.Time
		first := true
		for c, d := range r.dangers {
			if first || d.RecordedAt.Before(oldestAt) {
				oldest, oldestAt, first = c, d.RecordedAt, false
			}
		}
		delete(r.dangers, oldest)
	}
}

func (e *Engine) dangerAt(id entity.ID, loc entity.Location) (Danger, bool) {
	r, ok := e.peek(id)
	if !ok {
		return Danger{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.dangers[CellOf(loc)]
	if !ok || d.expired(e.clock.Now()) {
		return Danger{}, false
	}
	return d, true
}

// IsDangerous true если в ячейке есть непросроченная запись.
func (e *Engine) IsDangerous(id entity.ID, loc entity.Location) bool {
	_, ok := e.dangerAt(id, loc)
	return ok
}

// DangerSeverity тяжесть опасности в ячейке с учётом затухания.
func (e *Engine) DangerSeverity(id entity.ID, loc entity.Location) float64 {
	d, ok := e.dangerAt(id, loc)
	if !ok {
		return 0
	}
	return d.SeverityAt(e.clock.Now())
}

// DangerAt запись об опасности в ячейке.
func (e *Engine) DangerAt(id entity.ID, loc entity.Location) (Danger, bool) {
	return e.dangerAt(id, loc)
}

// NearbyDangerZones непросроченные опасные ячейки, центры которых ближе radius.
func (e *Engine) NearbyDangerZones(id entity.ID, center entity.Location, radius float64) []Danger {
	r, ok := e.peek(id)
	if !ok {
		return nil
	}
	now := e.clock.Now()

	r.mu.Lock()
	var out []Danger
	for _, d := range r.dangers {
		if d.expired(now) {
			continue
		}
		if d.Cell.Center().DistanceTo(center) <= radius {
			out = append(out, d)
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].RecordedAt.After(out[j].RecordedAt) })
	return out
}

// RememberThreat обновляет последнюю угрозу, не трогая карту опасностей.
func (e *Engine) RememberThreat(id entity.ID, at entity.Location) {
	r := e.get(id)
	r.mu.Lock()
	r.recent = &threat{loc: at, at: e.clock.Now()}
	r.mu.Unlock()
}

// RecentThreat последняя угроза за RecentThreatWindow.
func (e *Engine) RecentThreat(id entity.ID) (entity.Location, bool) {
	r, ok := e.peek(id)
	if !ok {
		return entity.Location{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recent == nil || e.clock.Now().Sub(r.recent.at) > RecentThreatWindow {
		return entity.Location{}, false
	}
	return r.recent.loc, true
}

// RememberInteraction добавляет событие в журнал игрока.
func (e *Engine) RememberInteraction(id, player entity.ID, kind Interaction) {
	now := e.clock.Now()
	r := e.get(id)
	r.mu.Lock()
	defer r.mu.Unlock()

	rel, ok := r.relations[player]
	if !ok {
		if len(r.relations) >= MaxRelations {
			evictOldestRelation(r.relations)
		}
		rel = &relation{firstSeen: now}
		r.relations[player] = rel
	}

	rel.events = append(rel.events, event{kind: kind, at: now})
	if n := len(rel.events); n > MaxInteractions {
		rel.events = append(rel.events[:0], rel.events[n-MaxInteractions:]...)
	}
}

func evictOldestRelation(rels map[entity.ID]*relation) {
	var oldest entity.ID
	var oldestAt time.Time
	first := true
	for id, rel := range rels {
		if first || rel.firstSeen.Before(oldestAt) {
			oldest, oldestAt, first = id, rel.firstSeen, false
		}
	}
	delete(rels, oldest)
}

// Score чистый счёт по непросроченным событиям.
func (e *Engine) Score(id, player entity.ID) int {
	score, _ := e.score(id, player)
	return score
}

func (e *Engine) score(id, player entity.ID) (score, alive int) {
	r, ok := e.peek(id)
	if !ok {
		return 0, 0
	}
	now := e.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	rel, ok := r.relations[player]
	if !ok {
		return 0, 0
	}
	for _, ev := range rel.events {
		if now.Sub(ev.at) > RelationWindow {
			continue
		}
		score += ev.kind.Weight()
		alive++
	}
	return score, alive
}

// HasRelation true если существо помнит игрока.
func (e *Engine) HasRelation(id, player entity.ID) bool {
	r, ok := e.peek(id)
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok = r.relations[player]
	return ok
}

// ThreatLevel уровень угрозы игрока для существа; без живой истории Neutral.
func (e *Engine) ThreatLevel(id, player entity.ID) ThreatLevel {
	score, alive := e.score(id, player)
	if alive == 0 {
		return Neutral
	}
	return LevelForScore(score)
}

// Cleanup удаляет просроченные записи у всех существ.
func (e *Engine) Cleanup() {
	now := e.clock.Now()
	e.records.Range(func(_ entity.ID, r *record) bool {
		r.mu.Lock()
		for c, d := range r.dangers {
			if d.expired(now) {
				delete(r.dangers, c)
			}
		}
		for p, rel := range r.relations {
			kept := rel.events[:0]
			for _, ev := range rel.events {
				if now.Sub(ev.at) <= RelationWindow {
					kept = append(kept, ev)
				}
			}
			rel.events = kept
			if len(kept) == 0 {
				delete(r.relations, p)
			}
		}
		if r.recent != nil && now.Sub(r.recent.at) > RecentThreatWindow {
			r.recent = nil
		}
		r.mu.Unlock()
		return true
	})
}

// Counts число опасных мест и отношений существа (для отладки).
func (e *Engine) Counts(id entity.ID) (dangers, relations int) {
	r, ok := e.peek(id)
	if !ok {
		return 0, 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.dangers), len(r.relations)
}

// Remove удаляет всю память существа.
func (e *Engine) Remove(id entity.ID) {
	e.records.Delete(id)
}

// Len число существ с памятью.
func (e *Engine) Len() int { return e.records.Len() }
