package world

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/annel0/mmo-fauna/internal/entity"
	"github.com/annel0/mmo-fauna/internal/vec"
)

const (
	// BaseSpeed скорость (единиц в секунду) при множителе скорости 1.0
	BaseSpeed = 4.0
	// BaseAttackDamage урон удара без модификаторов
	BaseAttackDamage = 2.0
	// PlayerHealth здоровье игрока
	PlayerHealth = 20.0

	losStep = 0.5
)

// DroppedItem предмет, брошенный существом
type DroppedItem struct {
	At    entity.Location
	Item  string
	Count int
}

type modifier struct {
	kind  entity.AttributeKind
	value float64
	op    entity.ModifierOp
}

type simCreature struct {
	c         entity.Creature
	dest      *entity.Location
	speed     float64
	modifiers map[string]modifier
}

type wallKey struct {
	world string
	x, z  int
}

// SimWorld встроенный хост симуляции: хранит существ и игроков,
// исполняет запросы движения и атаки и отвечает на запросы о мире.
type SimWorld struct {
	mu        sync.RWMutex
	creatures map[entity.ID]*simCreature
	walls     map[wallKey]struct{}
	items     []DroppedItem
	effects   map[entity.EffectKind]int
	index     *SpatialIndex

	onDamage func(victim, attacker entity.ID)
	onDeath  func(victim, killer entity.ID)
}

// NewSimWorld создаёт пустой мир
func NewSimWorld() *SimWorld {
	return &SimWorld{
		creatures: make(map[entity.ID]*simCreature),
		walls:     make(map[wallKey]struct{}),
		effects:   make(map[entity.EffectKind]int),
		index:     NewSpatialIndex(16),
	}
}

// OnDamage задаёт обработчик урона (вызывается вне блокировки)
func (w *SimWorld) OnDamage(fn func(victim, attacker entity.ID)) { w.onDamage = fn }

// OnDeath задаёт обработчик смерти (вызывается вне блокировки)
func (w *SimWorld) OnDeath(fn func(victim, killer entity.ID)) { w.onDeath = fn }

// Put добавляет или заменяет снимок сущности
func (w *SimWorld) Put(c entity.Creature) entity.Creature {
	if c.ID == entity.Nil {
		c.ID = entity.NewID()
	}
	w.mu.Lock()
	sc, ok := w.creatures[c.ID]
	if !ok {
		sc = &simCreature{modifiers: make(map[string]modifier)}
		w.creatures[c.ID] = sc
	}
	sc.c = c
	w.mu.Unlock()

	w.index.Update(c.ID, c.Location)
	return c
}

// Spawn создаёт живое существо
func (w *SimWorld) Spawn(species entity.Species, at entity.Location, maxHealth float64, ticksLived uint64) entity.Creature {
	return w.Put(entity.Creature{
		Species:    species,
		Location:   at,
		Facing:     vec.Vec3Float{X: 1},
		Health:     maxHealth,
		MaxHealth:  maxHealth,
		TicksLived: ticksLived,
		Valid:      true,
	})
}

// AddPlayer добавляет игрока
func (w *SimWorld) AddPlayer(at entity.Location) entity.Creature {
	return w.Put(entity.Creature{
		Species:   "player",
		Location:  at,
		Facing:    vec.Vec3Float{X: 1},
		Health:    PlayerHealth,
		MaxHealth: PlayerHealth,
		Valid:     true,
		IsPlayer:  true,
	})
}

// Update изменяет снимок сущности под блокировкой
func (w *SimWorld) Update(id entity.ID, fn func(c *entity.Creature)) bool {
	w.mu.Lock()
	sc, ok := w.creatures[id]
	if ok {
		fn(&sc.c)
	}
	var loc entity.Location
	if ok {
		loc = sc.c.Location
	}
	w.mu.Unlock()

	if ok {
		w.index.Update(id, loc)
	}
	return ok
}

// Invalidate помечает сущность невалидной (выгружена или удалена хостом)
func (w *SimWorld) Invalidate(id entity.ID) {
	w.Update(id, func(c *entity.Creature) { c.Valid = false })
}

// Remove удаляет сущность из мира
func (w *SimWorld) Remove(id entity.ID) {
	w.mu.Lock()
	delete(w.creatures, id)
	w.mu.Unlock()
	w.index.Remove(id)
}

// AddWall добавляет непрозрачный блок 1x1
func (w *SimWorld) AddWall(world string, x, z int) {
	w.mu.Lock()
	w.walls[wallKey{world: world, x: x, z: z}] = struct{}{}
	w.mu.Unlock()
}

// ==== entity.WorldQuery ====

// NearbyEntities валидные сущности в радиусе
func (w *SimWorld) NearbyEntities(loc entity.Location, radius float64) []entity.Creature {
	ids := w.index.QueryRange(loc, radius)

	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]entity.Creature, 0, len(ids))
	for _, id := range ids {
		sc, ok := w.creatures[id]
		if !ok || !sc.c.Valid {
			continue
		}
		if sc.c.Location.DistanceTo(loc) <= radius {
			out = append(out, sc.c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Location.DistanceTo(loc) < out[j].Location.DistanceTo(loc)
	})
	return out
}

// LineOfSightClear проверяет отрезок на пересечение со стенами
func (w *SimWorld) LineOfSightClear(from, to entity.Location) bool {
	if from.World != to.World {
		return false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.walls) == 0 {
		return true
	}

	d := to.Pos.Sub(from.Pos)
	steps := int(math.Ceil(d.Length() / losStep))
	for i := 1; i < steps; i++ {
		p := from.Pos.Add(d.Mul(float64(i) / float64(steps)))
		key := wallKey{world: from.World, x: int(math.Floor(p.X)), z: int(math.Floor(p.Z))}
		if _, blocked := w.walls[key]; blocked {
			return false
		}
	}
	return true
}

// EntityByID снимок сущности (в том числе невалидной, пока хост её не удалил)
func (w *SimWorld) EntityByID(id entity.ID) (entity.Creature, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	sc, ok := w.creatures[id]
	if !ok {
		return entity.Creature{}, false
	}
	return sc.c, true
}

// ==== entity.Actuator ====

func (w *SimWorld) MoveToward(id entity.ID, target entity.Location, speed float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if sc, ok := w.creatures[id]; ok && sc.c.Valid {
		dest := target
		sc.dest = &dest
		sc.speed = speed
	}
}

func (w *SimWorld) StopMovement(id entity.ID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if sc, ok := w.creatures[id]; ok {
		sc.dest = nil
	}
}

// Attack наносит удар с учётом модификаторов урона
func (w *SimWorld) Attack(id entity.ID, target entity.ID) {
	w.mu.RLock()
	sc, ok := w.creatures[id]
	dmg := 0.0
	if ok && sc.c.Valid {
		dmg = w.attributeLocked(sc, entity.AttrAttackDamage, BaseAttackDamage)
	}
	w.mu.RUnlock()

	if dmg > 0 {
		w.Damage(target, id, dmg)
	}
}

// Damage уменьшает здоровье жертвы и вызывает обработчики урона и смерти
func (w *SimWorld) Damage(victim, attacker entity.ID, amount float64) {
	w.mu.Lock()
	sc, ok := w.creatures[victim]
	if !ok || !sc.c.Valid {
		w.mu.Unlock()
		return
	}
	sc.c.Health -= amount
	died := sc.c.Health <= 0
	if died {
		sc.c.Health = 0
		sc.c.Valid = false
		sc.dest = nil
	}
	w.mu.Unlock()

	if w.onDamage != nil {
		w.onDamage(victim, attacker)
	}
	if died && w.onDeath != nil {
		w.onDeath(victim, attacker)
	}
}

func (w *SimWorld) ApplyAttributeModifier(id entity.ID, kind entity.AttributeKind, key string, value float64, op entity.ModifierOp) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if sc, ok := w.creatures[id]; ok {
		sc.modifiers[key] = modifier{kind: kind, value: value, op: op}
	}
}

func (w *SimWorld) RemoveAttributeModifier(id entity.ID, key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if sc, ok := w.creatures[id]; ok {
		delete(sc.modifiers, key)
	}
}

// HasModifier true если на сущности висит модификатор key
func (w *SimWorld) HasModifier(id entity.ID, key string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	sc, ok := w.creatures[id]
	if !ok {
		return false
	}
	_, has := sc.modifiers[key]
	return has
}

// AttackDamage текущий урон удара сущности
func (w *SimWorld) AttackDamage(id entity.ID) float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	sc, ok := w.creatures[id]
	if !ok {
		return 0
	}
	return w.attributeLocked(sc, entity.AttrAttackDamage, BaseAttackDamage)
}

// attributeLocked сначала сложение, затем умножение
func (w *SimWorld) attributeLocked(sc *simCreature, kind entity.AttributeKind, base float64) float64 {
	v := base
	for _, m := range sc.modifiers {
		if m.kind == kind && m.op == entity.OpAdd {
			v += m.value
		}
	}
	for _, m := range sc.modifiers {
		if m.kind == kind && m.op == entity.OpMultiply {
			v *= m.value
		}
	}
	return v
}

func (w *SimWorld) DropItem(at entity.Location, item string, count int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.items = append(w.items, DroppedItem{At: at, Item: item, Count: count})
}

// Items брошенные предметы
func (w *SimWorld) Items() []DroppedItem {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]DroppedItem(nil), w.items...)
}

// ==== entity.Feedback ====

func (w *SimWorld) PlayEffect(at entity.Location, kind entity.EffectKind, count int) {
	w.mu.Lock()
	w.effects[kind] += count
	w.mu.Unlock()
}

// EffectCount сколько частиц эффекта было запрошено
func (w *SimWorld) EffectCount(kind entity.EffectKind) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.effects[kind]
}

// Destination текущая цель движения
func (w *SimWorld) Destination(id entity.ID) (entity.Location, float64, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	sc, ok := w.creatures[id]
	if !ok || sc.dest == nil {
		return entity.Location{}, 0, false
	}
	return *sc.dest, sc.speed, true
}

// ==== симуляция ====

// Step продвигает мир на один тик длительностью dt
func (w *SimWorld) Step(dt time.Duration) {
	type moved struct {
		id  entity.ID
		loc entity.Location
	}
	var updates []moved

	w.mu.Lock()
	for id, sc := range w.creatures {
		if !sc.c.Valid {
			continue
		}
		sc.c.TicksLived++
		if sc.dest == nil {
			continue
		}

		delta := sc.dest.Pos.Sub(sc.c.Location.Pos)
		dist := delta.Length()
		step := BaseSpeed * sc.speed * dt.Seconds()
		if dist <= step || dist == 0 {
			sc.c.Location.Pos = sc.dest.Pos
			sc.dest = nil
		} else {
			sc.c.Location.Pos = sc.c.Location.Pos.Add(delta.Mul(step / dist))
			sc.c.Facing = delta.Normalized()
		}
		updates = append(updates, moved{id: id, loc: sc.c.Location})
	}
	w.mu.Unlock()

	for _, u := range updates {
		w.index.Update(u.id, u.loc)
	}
}

// Creatures снимки всех валидных не-игроков
func (w *SimWorld) Creatures() []entity.Creature {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]entity.Creature, 0, len(w.creatures))
	for _, sc := range w.creatures {
		if sc.c.Valid && !sc.c.IsPlayer {
			out = append(out, sc.c)
		}
	}
	return out
}

// Count число сущностей в мире
func (w *SimWorld) Count() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.creatures)
}

// IndexStats статистика пространственного индекса
func (w *SimWorld) IndexStats() string {
	return w.index.GetStats()
}
