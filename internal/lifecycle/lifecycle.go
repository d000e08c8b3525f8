// Package lifecycle возраст, стадии жизни и семейные связи существ.
package lifecycle

import (
	"bytes"
	"sort"
	"sync"

	"github.com/annel0/mmo-fauna/internal/clock"
	"github.com/annel0/mmo-fauna/internal/entity"
)

// Stage стадия жизни.
type Stage int

const (
	Baby Stage = iota
	Juvenile
	Adult
	Elder
)

func (s Stage) String() string {
	switch s {
	case Baby:
		return "baby"
	case Juvenile:
		return "juvenile"
	case Adult:
		return "adult"
	case Elder:
		return "elder"
	default:
		return "unknown"
	}
}

const (
	// DefaultMaxAge максимальный возраст вида в тиках по умолчанию.
	DefaultMaxAge uint64 = 480000
	// InitialBond начальная сила связи с матерью.
	InitialBond = 24000.0
	// BondDecayPerTick убывание связи за тик.
	BondDecayPerTick = 1.0
	// StrongBond порог сильной связи.
	StrongBond = 0.5
)

var (
	speedModifiers  = [...]float64{Baby: 0.7, Juvenile: 0.9, Adult: 1.0, Elder: 0.85}
	combatModifiers = [...]float64{Baby: 0, Juvenile: 0.7, Adult: 1.0, Elder: 0.8}
	domestication   = [...]float64{Baby: 0, Juvenile: 0, Adult: 0, Elder: 0.3}
)

// StageFor стадия по прожитым тикам; границы 20/40/90% максимального возраста.
func StageFor(ticks, maxAge uint64) Stage {
	if maxAge == 0 {
		maxAge = DefaultMaxAge
	}
	if ticks >= maxAge {
		return Elder
	}
	pct := ticks * 100 / maxAge
	switch {
	case pct < 20:
		return Baby
	case pct < 40:
		return Juvenile
	case pct < 90:
		return Adult
	default:
		return Elder
	}
}

func SpeedModifier(s Stage) float64 { return speedModifiers[s] }

// CombatModifier у детёнышей ровно 0: они не дерутся.
func CombatModifier(s Stage) float64 { return combatModifiers[s] }

func DomesticationBonus(s Stage) float64 { return domestication[s] }

type birth struct {
	tick   uint64
	maxAge uint64
}

// Graph возраст и родословная всех зарегистрированных существ.
type Graph struct {
	clock clock.Clock

	mu       sync.RWMutex
	births   map[entity.ID]birth
	mothers  map[entity.ID]entity.ID
	children map[entity.ID]map[entity.ID]struct{}
	bonds    map[entity.ID]float64
}

// NewGraph создаёт пустой граф.
func NewGraph(c clock.Clock) *Graph {
	return &Graph{
		clock:    c,
		births:   make(map[entity.ID]birth),
		mothers:  make(map[entity.ID]entity.ID),
		children: make(map[entity.ID]map[entity.ID]struct{}),
		bonds:    make(map[entity.ID]float64),
	}
}

// Register запоминает тик рождения и максимальный возраст вида.
func (g *Graph) Register(id entity.ID, birthTick, maxAge uint64) {
	if maxAge == 0 {
		maxAge = DefaultMaxAge
	}
	g.mu.Lock()
	g.births[id] = birth{tick: birthTick, maxAge: maxAge}
	g.mu.Unlock()
}

// Registered true если существо известно графу.
func (g *Graph) Registered(id entity.ID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.births[id]
	return ok
}

// AgeTicks прожитые тики с регистрации.
func (g *Graph) AgeTicks(id entity.ID) (uint64, bool) {
	g.mu.RLock()
	b, ok := g.births[id]
	g.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return g.clock.ElapsedTicks(b.tick), true
}

// LifeStage стадия существа; незарегистрированное считается взрослым.
func (g *Graph) LifeStage(id entity.ID) Stage {
	g.mu.RLock()
	b, ok := g.births[id]
	g.mu.RUnlock()
	if !ok {
		return Adult
	}
	return StageFor(g.clock.ElapsedTicks(b.tick), b.maxAge)
}

// RegisterBirth связывает детёныша с матерью и задаёт начальную связь.
func (g *Graph) RegisterBirth(mother, child entity.ID) {
	if mother == child {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if prev, ok := g.mothers[child]; ok && prev != mother {
		g.unlinkChild(prev, child)
	}
	g.mothers[child] = mother
	set, ok := g.children[mother]
	if !ok {
		set = make(map[entity.ID]struct{})
		g.children[mother] = set
	}
	set[child] = struct{}{}
	g.bonds[child] = InitialBond
}

func (g *Graph) unlinkChild(mother, child entity.ID) {
	if set, ok := g.children[mother]; ok {
		delete(set, child)
		if len(set) == 0 {
			delete(g.children, mother)
		}
	}
}

// MotherOf мать существа.
func (g *Graph) MotherOf(id entity.ID) (entity.ID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	m, ok := g.mothers[id]
	return m, ok
}

// ChildrenOf дети матери, отсортированные по id.
func (g *Graph) ChildrenOf(mother entity.ID) []entity.ID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedIDs(g.children[mother], entity.Nil)
}

// SiblingsOf дети той же матери, кроме самого существа.
func (g *Graph) SiblingsOf(id entity.ID) []entity.ID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	m, ok := g.mothers[id]
	if !ok {
		return nil
	}
	return sortedIDs(g.children[m], id)
}

// FamilyOf мать, дети и братья/сёстры без повторов.
func (g *Graph) FamilyOf(id entity.ID) []entity.ID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	set := make(map[entity.ID]struct{})
	if m, ok := g.mothers[id]; ok {
		set[m] = struct{}{}
		for s := range g.children[m] {
			set[s] = struct{}{}
		}
	}
	for c := range g.children[id] {
		set[c] = struct{}{}
	}
	return sortedIDs(set, id)
}

// IsMotherOf true если mother мать child.
func (g *Graph) IsMotherOf(mother, child entity.ID) bool {
	m, ok := g.MotherOf(child)
	return ok && m == mother
}

// IsSiblingOf true если у a и b одна мать.
func (g *Graph) IsSiblingOf(a, b entity.ID) bool {
	if a == b {
		return false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	ma, okA := g.mothers[a]
	mb, okB := g.mothers[b]
	return okA && okB && ma == mb
}

// IsKin мать, ребёнок или брат/сестра.
func (g *Graph) IsKin(a, b entity.ID) bool {
	return g.IsMotherOf(a, b) || g.IsMotherOf(b, a) || g.IsSiblingOf(a, b)
}

// BondStrength доля оставшейся связи с матерью в [0,1].
func (g *Graph) BondStrength(id entity.ID) float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.bonds[id] / InitialBond
}

// DecayBond уменьшает связь на BondDecayPerTick за каждый прошедший тик.
func (g *Graph) DecayBond(id entity.ID, elapsedTicks uint64) {
	if elapsedTicks == 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.bonds[id]
	if !ok {
		return
	}
	b -= BondDecayPerTick * float64(elapsedTicks)
	if b < 0 {
		b = 0
	}
	g.bonds[id] = b
}

// HasStrongBond связь сильнее StrongBond.
func (g *Graph) HasStrongBond(id entity.ID) bool {
	return g.BondStrength(id) > StrongBond
}

// CanAttack стадия существа позволяет драться.
func (g *Graph) CanAttack(id entity.ID) bool {
	return CombatModifier(g.LifeStage(id)) > 0
}

// ShouldFollowMother детёныш или подросток с сильной связью и живой матерью.
func (g *Graph) ShouldFollowMother(id entity.ID) bool {
	stage := g.LifeStage(id)
	if stage != Baby && stage != Juvenile {
		return false
	}
	if _, ok := g.MotherOf(id); !ok {
		return false
	}
	return g.HasStrongBond(id)
}

// ShouldPlay играют только детёныши.
func (g *Graph) ShouldPlay(id entity.ID) bool {
	return g.LifeStage(id) == Baby
}

// Deregister убирает существо из обоих направлений графа. Идемпотентна.
func (g *Graph) Deregister(id entity.ID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if m, ok := g.mothers[id]; ok {
		g.unlinkChild(m, id)
		delete(g.mothers, id)
	}
	for c := range g.children[id] {
		delete(g.mothers, c)
	}
	delete(g.children, id)
	delete(g.bonds, id)
	delete(g.births, id)
}

// Len число зарегистрированных существ и связей мать-ребёнок.
func (g *Graph) Len() (registered, links int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.births), len(g.mothers)
}

func sortedIDs(set map[entity.ID]struct{}, skip entity.ID) []entity.ID {
	out := make([]entity.ID, 0, len(set))
	for id := range set {
		if id != skip {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}
