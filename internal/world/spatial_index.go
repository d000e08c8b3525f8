package world

import (
	"fmt"
	"math"
	"sync"

	"github.com/annel0/mmo-fauna/internal/entity"
	"github.com/annel0/mmo-fauna/internal/vec"
)

// SpatialIndex сеточный индекс позиций существ по плоскости XZ
type SpatialIndex struct {
	cellSize float64
	cells    map[cellKey]*cellData
	cellsMu  sync.RWMutex
	entities map[entity.ID]*indexedEntity
	entityMu sync.RWMutex
}

// cellKey ключ ячейки в пространственной сетке
type cellKey struct {
	world string
	x, z  int
}

// cellData хранит данные ячейки
type cellData struct {
	entities map[entity.ID]*indexedEntity
}

// indexedEntity индексированная позиция
type indexedEntity struct {
	id  entity.ID
	loc entity.Location
	key cellKey
}

// NewSpatialIndex создаёт новый пространственный индекс
func NewSpatialIndex(cellSize float64) *SpatialIndex {
	if cellSize <= 0 {
		cellSize = 16.0
	}

	return &SpatialIndex{
		cellSize: cellSize,
		cells:    make(map[cellKey]*cellData),
		entities: make(map[entity.ID]*indexedEntity),
	}
}

func (si *SpatialIndex) keyOf(loc entity.Location) cellKey {
	return cellKey{
		world: loc.World,
		x:     int(math.Floor(loc.Pos.X / si.cellSize)),
		z:     int(math.Floor(loc.Pos.Z / si.cellSize)),
	}
}

// Update вставляет или перемещает сущность
func (si *SpatialIndex) Update(id entity.ID, loc entity.Location) {
	key := si.keyOf(loc)

	si.entityMu.Lock()
	defer si.entityMu.Unlock()

	indexed, exists := si.entities[id]
	if !exists {
		indexed = &indexedEntity{id: id, loc: loc, key: key}
		si.entities[id] = indexed
		si.addToCell(key, indexed)
		return
	}

	indexed.loc = loc
	if indexed.key == key {
		return
	}

	// Ячейка изменилась
	si.removeFromCell(indexed.key, id)
	indexed.key = key
	si.addToCell(key, indexed)
}

// Remove удаляет сущность из индекса
func (si *SpatialIndex) Remove(id entity.ID) {
	si.entityMu.Lock()
	defer si.entityMu.Unlock()

	indexed, exists := si.entities[id]
	if !exists {
		return
	}
	delete(si.entities, id)
	si.removeFromCell(indexed.key, id)
}

func (si *SpatialIndex) addToCell(key cellKey, e *indexedEntity) {
	si.cellsMu.Lock()
	defer si.cellsMu.Unlock()

	cell, exists := si.cells[key]
	if !exists {
		cell = &cellData{entities: make(map[entity.ID]*indexedEntity)}
		si.cells[key] = cell
	}
	cell.entities[e.id] = e
}

func (si *SpatialIndex) removeFromCell(key cellKey, id entity.ID) {
	si.cellsMu.Lock()
	defer si.cellsMu.Unlock()

	if cell, exists := si.cells[key]; exists {
		delete(cell.entities, id)
		if len(cell.entities) == 0 {
			delete(si.cells, key)
		}
	}
}

// QueryRange возвращает id сущностей в радиусе от точки (по XZ)
func (si *SpatialIndex) QueryRange(center entity.Location, radius float64) []entity.ID {
	minKey := si.keyOf(entity.Location{World: center.World, Pos: vec.Vec3Float{X: center.Pos.X - radius, Z: center.Pos.Z - radius}})
	maxKey := si.keyOf(entity.Location{World: center.World, Pos: vec.Vec3Float{X: center.Pos.X + radius, Z: center.Pos.Z + radius}})

	si.entityMu.RLock()
	defer si.entityMu.RUnlock()
	si.cellsMu.RLock()
	defer si.cellsMu.RUnlock()

	result := make([]entity.ID, 0)
	for x := minKey.x; x <= maxKey.x; x++ {
		for z := minKey.z; z <= maxKey.z; z++ {
			cell, exists := si.cells[cellKey{world: center.World, x: x, z: z}]
			if !exists {
				continue
			}
			for id, e := range cell.entities {
				dx := e.loc.Pos.X - center.Pos.X
				dz := e.loc.Pos.Z - center.Pos.Z
				if dx*dx+dz*dz <= radius*radius {
					result = append(result, id)
				}
			}
		}
	}
	return result
}

// GetCellCount возвращает количество активных ячеек
func (si *SpatialIndex) GetCellCount() int {
	si.cellsMu.RLock()
	defer si.cellsMu.RUnlock()
	return len(si.cells)
}

// GetEntityCount возвращает количество индексированных сущностей
func (si *SpatialIndex) GetEntityCount() int {
	si.entityMu.RLock()
	defer si.entityMu.RUnlock()
	return len(si.entities)
}

// GetStats возвращает статистику индекса
func (si *SpatialIndex) GetStats() string {
	si.cellsMu.RLock()
	cellCount := len(si.cells)
	maxEntitiesPerCell := 0
	for _, cell := range si.cells {
		if n := len(cell.entities); n > maxEntitiesPerCell {
			maxEntitiesPerCell = n
		}
	}
	si.cellsMu.RUnlock()

	entityCount := si.GetEntityCount()
	avgEntitiesPerCell := 0.0
	if cellCount > 0 {
		avgEntitiesPerCell = float64(entityCount) / float64(cellCount)
	}

	return fmt.Sprintf("SpatialIndex Stats: %d entities, %d cells, avg %.2f entities/cell, max %d entities/cell",
		entityCount, cellCount, avgEntitiesPerCell, maxEntitiesPerCell)
}
