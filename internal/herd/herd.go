// Package herd объединяет существ одного вида в стада: вступление по радиусу,
// выбор вожака, ранги доминирования и общая паника.
package herd

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/annel0/mmo-fauna/internal/clock"
	"github.com/annel0/mmo-fauna/internal/entity"
	"github.com/annel0/mmo-fauna/internal/eventbus"
	"github.com/annel0/mmo-fauna/internal/logging"
	"github.com/annel0/mmo-fauna/internal/shard"
	"github.com/annel0/mmo-fauna/internal/vec"
	"github.com/google/uuid"
)

const (
	// JoinRadius максимальное расстояние до вожака для вступления.
	JoinRadius = 16.0
	// AgeNormalization возраст в тиках, дающий полный вклад возраста в оценку.
	AgeNormalization = 100000.0

	healthWeight = 0.6
	ageWeight    = 0.4
)

// Role роль в стаде.
type Role int

const (
	None Role = iota
	Follower
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "follower"
	case Leader:
		return "leader"
	default:
		return "none"
	}
}

// Rank ранг доминирования.
type Rank int

const (
	Subordinate Rank = iota
	Beta
	Alpha
)

func (r Rank) String() string {
	switch r {
	case Alpha:
		return "alpha"
	case Beta:
		return "beta"
	default:
		return "subordinate"
	}
}

// Privileged Alpha или Beta.
func (r Rank) Privileged() bool { return r == Alpha || r == Beta }

// Fitness оценка для выбора вожака и рангов.
func Fitness(c entity.Creature) float64 {
	age := float64(c.TicksLived) / AgeNormalization
	if age > 1 {
		age = 1
	}
	return healthWeight*c.HealthRatio() + ageWeight*age
}

type herd struct {
	id         uuid.UUID
	species    entity.Species
	world      string
	members    []entity.ID // порядок вступления
	leader     entity.ID
	panicUntil time.Time
	panicAt    entity.Location
}

func (h *herd) indexOf(id entity.ID) int {
	for i, m := range h.members {
		if m == id {
			return i
		}
	}
	return -1
}

// Info снимок стада для чтения.
type Info struct {
	ID         uuid.UUID
	Species    entity.Species
	World      string
	Leader     entity.ID
	Members    []entity.ID
	Panicking  bool
	PanicUntil time.Time
	PanicAt    entity.Location
}

// Coordinator владеет всеми стадами.
type Coordinator struct {
	world  entity.WorldQuery
	clock  clock.Clock
	events eventbus.Publisher
	log    *logging.Logger

	mu         sync.RWMutex
	herds      map[uuid.UUID]*herd
	order      []uuid.UUID // порядок создания
	membership *shard.Map[uuid.UUID]
}

// NewCoordinator создаёт координатор; events может быть nil.
func NewCoordinator(world entity.WorldQuery, c clock.Clock, events eventbus.Publisher) *Coordinator {
	return &Coordinator{
		world:      world,
		clock:      c,
		events:     events,
		log:        logging.GetHerdLogger(),
		herds:      make(map[uuid.UUID]*herd),
		membership: shard.New[uuid.UUID](),
	}
}

type pending struct {
	kind string
	data eventbus.HerdEvent
}

func (c *Coordinator) emit(evs []pending) {
	if c.events == nil {
		return
	}
	for _, p := range evs {
		env, err := eventbus.NewEnvelope(p.kind, 1, p.data)
		if err != nil {
			c.log.Warn("событие %s: %v", p.kind, err)
			continue
		}
		if err := c.events.Publish(context.Background(), env); err != nil {
			c.log.Warn("публикация %s: %v", p.kind, err)
		}
	}
}

func snapshotEvent(h *herd) eventbus.HerdEvent {
	ev := eventbus.HerdEvent{
		HerdID:  h.id.String(),
		Species: string(h.species),
		World:   h.world,
		Members: len(h.members),
	}
	if h.leader != entity.Nil {
		ev.Leader = h.leader.String()
	}
	return ev
}

// JoinOrCreate добавляет существо в первое подходящее стадо или создаёт новое.
// Стада просматриваются в порядке создания.
func (c *Coordinator) JoinOrCreate(cr entity.Creature) (uuid.UUID, bool) {
	if id, ok := c.membership.Get(cr.ID); ok {
		return id, false
	}

	var evs []pending
	defer func() { c.emit(evs) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, hid := range c.order {
		h := c.herds[hid]
		if h.species != cr.Species || h.world != cr.Location.World {
			continue
		}
		if !c.leaderAliveLocked(h) {
			if ev, changed := c.electLocked(h); changed {
				evs = append(evs, ev)
			}
		}
		leader, ok := c.world.EntityByID(h.leader)
		if !ok || !leader.Alive() {
			continue
		}
		if leader.Location.DistanceTo(cr.Location) <= JoinRadius {
			h.members = append(h.members, cr.ID)
			c.membership.Set(cr.ID, h.id)
			return h.id, false
		}
	}

	h := &herd{
		id:      uuid.New(),
		species: cr.Species,
		world:   cr.Location.World,
		members: []entity.ID{cr.ID},
		leader:  cr.ID,
	}
	c.herds[h.id] = h
	c.order = append(c.order, h.id)
	c.membership.Set(cr.ID, h.id)
	evs = append(evs, pending{eventbus.TypeHerdCreated, snapshotEvent(h)})
	return h.id, true
}

// Leave убирает существо из стада; пустое стадо удаляется, ушедшего вожака переизбирают.
func (c *Coordinator) Leave(id entity.ID) {
	hid, ok := c.membership.Get(id)
	if !ok {
		return
	}

	var evs []pending
	defer func() { c.emit(evs) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.membership.Delete(id)
	h, ok := c.herds[hid]
	if !ok {
		return
	}
	if i := h.indexOf(id); i >= 0 {
		h.members = append(h.members[:i], h.members[i+1:]...)
	}
	if len(h.members) == 0 {
		evs = append(evs, pending{eventbus.TypeHerdRemoved, snapshotEvent(h)})
		c.removeLocked(h.id)
		return
	}
	if h.leader == id {
		if ev, changed := c.electLocked(h); changed {
			evs = append(evs, ev)
		}
	}
}

func (c *Coordinator) removeLocked(hid uuid.UUID) {
	delete(c.herds, hid)
	for i, id := range c.order {
		if id == hid {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// electLocked выбирает вожака среди валидных членов со здоровьем > 0.
// При равенстве побеждает вступивший раньше.
func (c *Coordinator) electLocked(h *herd) (pending, bool) {
	best := entity.Nil
	bestScore := -1.0
	for _, m := range h.members {
		cr, ok := c.world.EntityByID(m)
		if !ok || !cr.Alive() {
			continue
		}
		if s := Fitness(cr); s > bestScore {
			best, bestScore = m, s
		}
	}
	if best == entity.Nil {
		// живых нет; вожак остаётся членом стада до обслуживания
		if h.indexOf(h.leader) < 0 && len(h.members) > 0 {
			h.leader = h.members[0]
		}
		return pending{}, false
	}
	if best == h.leader {
		return pending{}, false
	}
	h.leader = best
	return pending{eventbus.TypeHerdLeaderElected, snapshotEvent(h)}, true
}

// ElectLeader переизбирает вожака и возвращает его.
func (c *Coordinator) ElectLeader(hid uuid.UUID) (entity.ID, bool) {
	var evs []pending
	defer func() { c.emit(evs) }()

	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.herds[hid]
	if !ok {
		return entity.Nil, false
	}
	if ev, changed := c.electLocked(h); changed {
		evs = append(evs, ev)
	}
	return h.leader, true
}

// BroadcastPanic устанавливает общую панику с абсолютным сроком окончания.
func (c *Coordinator) BroadcastPanic(hid uuid.UUID, at entity.Location, d time.Duration) {
	var evs []pending
	defer func() { c.emit(evs) }()

	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.herds[hid]
	if !ok {
		return
	}
	until := c.clock.Now().Add(d)
	if until.After(h.panicUntil) {
		h.panicUntil = until
	}
	h.panicAt = at

	ev := snapshotEvent(h)
	threat := [3]float64{at.Pos.X, at.Pos.Y, at.Pos.Z}
	ev.Threat = &threat
	ev.Until = &h.panicUntil
	evs = append(evs, pending{eventbus.TypeHerdPanic, ev})
}

// PanicOf место угрозы, если стадо существа сейчас в панике.
func (c *Coordinator) PanicOf(id entity.ID) (entity.Location, bool) {
	hid, ok := c.membership.Get(id)
	if !ok {
		return entity.Location{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.herds[hid]
	if !ok || !c.clock.Now().Before(h.panicUntil) {
		return entity.Location{}, false
	}
	return h.panicAt, true
}

// HerdOf стадо существа.
func (c *Coordinator) HerdOf(id entity.ID) (uuid.UUID, bool) {
	return c.membership.Get(id)
}

// Info снимок стада.
func (c *Coordinator) Info(hid uuid.UUID) (Info, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.herds[hid]
	if !ok {
		return Info{}, false
	}
	return Info{
		ID:         h.id,
		Species:    h.species,
		World:      h.world,
		Leader:     h.leader,
		Members:    append([]entity.ID(nil), h.members...),
		Panicking:  c.clock.Now().Before(h.panicUntil),
		PanicUntil: h.panicUntil,
		PanicAt:    h.panicAt,
	}, true
}

// Members живые члены стада (невалидные считаются отсутствующими).
func (c *Coordinator) Members(hid uuid.UUID) []entity.Creature {
	c.mu.RLock()
	h, ok := c.herds[hid]
	var ids []entity.ID
	if ok {
		ids = append(ids, h.members...)
	}
	c.mu.RUnlock()

	out := make([]entity.Creature, 0, len(ids))
	for _, id := range ids {
		if cr, ok := c.world.EntityByID(id); ok && cr.Valid {
			out = append(out, cr)
		}
	}
	return out
}

// Centroid среднее положение валидных членов.
func (c *Coordinator) Centroid(hid uuid.UUID) (entity.Location, bool) {
	members := c.Members(hid)
	if len(members) == 0 {
		return entity.Location{}, false
	}
	var sum vec.Vec3Float
	for _, m := range members {
		sum = sum.Add(m.Location.Pos)
	}
	return entity.Location{
		World: members[0].Location.World,
		Pos:   sum.Mul(1 / float64(len(members))),
	}, true
}

// Role роль существа в стаде.
func (c *Coordinator) Role(id entity.ID) Role {
	hid, ok := c.membership.Get(id)
	if !ok {
		return None
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.herds[hid]
	if !ok {
		return None
	}
	if h.leader == id {
		return Leader
	}
	return Follower
}

// Ranks ранги живых членов: лучший по Fitness Alpha, второй Beta.
func (c *Coordinator) Ranks(hid uuid.UUID) map[entity.ID]Rank {
	members := c.Members(hid)
	alive := members[:0]
	for _, m := range members {
		if m.Alive() {
			alive = append(alive, m)
		}
	}
	sort.SliceStable(alive, func(i, j int) bool {
		fi, fj := Fitness(alive[i]), Fitness(alive[j])
		if fi != fj {
			return fi > fj
		}
		return bytes.Compare(alive[i].ID[:], alive[j].ID[:]) < 0
	})

	ranks := make(map[entity.ID]Rank, len(alive))
	for i, m := range alive {
		switch i {
		case 0:
			ranks[m.ID] = Alpha
		case 1:
			ranks[m.ID] = Beta
		default:
			ranks[m.ID] = Subordinate
		}
	}
	return ranks
}

// RankOf ранг существа; вне стада Subordinate.
func (c *Coordinator) RankOf(id entity.ID) Rank {
	hid, ok := c.membership.Get(id)
	if !ok {
		return Subordinate
	}
	return c.Ranks(hid)[id]
}

// Maintain выбрасывает исчезнувших членов, удаляет пустые стада и
// переизбирает вожаков. Возвращает число удалённых стад.
func (c *Coordinator) Maintain() int {
	var evs []pending
	defer func() { c.emit(evs) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, hid := range append([]uuid.UUID(nil), c.order...) {
		h := c.herds[hid]
		kept := h.members[:0]
		for _, m := range h.members {
			if cr, ok := c.world.EntityByID(m); ok && cr.Valid {
				kept = append(kept, m)
			} else {
				c.membership.Delete(m)
			}
		}
		h.members = kept

		if len(h.members) == 0 {
			c.log.Debug("стадо %s опустело", h.id)
			evs = append(evs, pending{eventbus.TypeHerdRemoved, snapshotEvent(h)})
			c.removeLocked(h.id)
			removed++
			continue
		}
		if !c.leaderAliveLocked(h) {
			if ev, changed := c.electLocked(h); changed {
				evs = append(evs, ev)
			}
		}
	}
	return removed
}

func (c *Coordinator) leaderAliveLocked(h *herd) bool {
	if h.indexOf(h.leader) < 0 {
		return false
	}
	cr, ok := c.world.EntityByID(h.leader)
	return ok && cr.Alive()
}

// Count число стад.
func (c *Coordinator) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.herds)
}
