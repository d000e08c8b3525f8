package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/annel0/mmo-fauna/internal/config"
	"github.com/annel0/mmo-fauna/internal/entity"
)

// ErrNotFound счётчик игрока не найден.
var ErrNotFound = errors.New("counter not found")

// CounterRepo определяет интерфейс для сохранения и загрузки целочисленных
// счётчиков игроков между сессиями. Один репозиторий обслуживает один счётчик
// (например, "animal_trust").
type CounterRepo interface {
	// Load загружает значение счётчика.
	// Возвращает:
	//   int64 - значение
	//   bool - false если счётчика ещё нет
	//   error - ошибка хранилища
	Load(ctx context.Context, player entity.ID) (int64, bool, error)

	// Save сохраняет значение счётчика.
	Save(ctx context.Context, player entity.ID, value int64) error

	// Delete удаляет счётчик; ErrNotFound если его не было.
	Delete(ctx context.Context, player entity.ID) error

	// BatchSave сохраняет несколько счётчиков разом (фоновый сброс буфера).
	BatchSave(ctx context.Context, values map[entity.ID]int64) error

	// Close освобождает соединения.
	Close() error
}

// Open создаёт репозиторий по конфигурации хранилища.
func Open(cfg config.StorageConfig, counter string) (CounterRepo, error) {
	if counter == "" {
		return nil, fmt.Errorf("empty counter name")
	}

	switch cfg.Backend {
	case "", "memory":
		return NewMemoryCounterRepo(), nil
	case "redis":
		rc := DefaultRedisConfig()
		if cfg.RedisAddr != "" {
			rc.Addr = cfg.RedisAddr
		}
		return NewRedisCounterRepo(rc, counter)
	case "maria":
		return NewMariaCounterRepo(cfg.MariaDSN, counter)
	case "badger":
		return NewBadgerCounterRepo(cfg.BadgerDir, counter)
	case "mongo":
		return NewMongoCounterRepo(MongoConfig{URI: cfg.MongoURI, Database: cfg.MongoDB}, counter)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func validID(player entity.ID) error {
	if player == entity.Nil {
		return fmt.Errorf("недействительный идентификатор игрока: %s", player)
	}
	return nil
}
