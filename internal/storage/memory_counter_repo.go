package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/annel0/mmo-fauna/internal/entity"
)

// MemoryCounterRepo реализует CounterRepo в памяти.
// Используется, когда внешнее хранилище не настроено, и в тестах.
// ВНИМАНИЕ: Данные теряются при перезапуске сервера!
type MemoryCounterRepo struct {
	mu   sync.RWMutex
	data map[entity.ID]int64
}

// NewMemoryCounterRepo создает новый репозиторий счётчиков в памяти.
func NewMemoryCounterRepo() *MemoryCounterRepo {
	return &MemoryCounterRepo{
		data: make(map[entity.ID]int64),
	}
}

// Save сохраняет значение счётчика в памяти.
func (r *MemoryCounterRepo) Save(ctx context.Context, player entity.ID, value int64) error {
	if err := validID(player); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[player] = value
	return nil
}

// Load загружает значение счётчика из памяти.
func (r *MemoryCounterRepo) Load(ctx context.Context, player entity.ID) (int64, bool, error) {
	if err := validID(player); err != nil {
		return 0, false, err
	}
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	v, exists := r.data[player]
	return v, exists, nil
}

// Delete удаляет счётчик игрока из памяти.
func (r *MemoryCounterRepo) Delete(ctx context.Context, player entity.ID) error {
	if err := validID(player); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.data[player]; !exists {
		return fmt.Errorf("счётчик игрока %s: %w", player, ErrNotFound)
	}
	delete(r.data, player)
	return nil
}

// BatchSave сохраняет несколько счётчиков в памяти.
func (r *MemoryCounterRepo) BatchSave(ctx context.Context, values map[entity.ID]int64) error {
	if len(values) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Валидация всех записей перед сохранением
	for player := range values {
		if err := validID(player); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for player, v := range values {
		r.data[player] = v
	}
	return nil
}

// Count возвращает количество сохранённых счётчиков (для отладки).
func (r *MemoryCounterRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

func (r *MemoryCounterRepo) Close() error { return nil }
