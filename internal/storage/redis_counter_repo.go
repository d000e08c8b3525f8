package storage

import (
	"context"
	"fmt"

	"github.com/annel0/mmo-fauna/internal/entity"
	"github.com/annel0/mmo-fauna/internal/logging"
	"github.com/go-redis/redis/v8"
)

// RedisCounterRepo хранит счётчики игроков в Redis: один ключ на игрока.
type RedisCounterRepo struct {
	client    *redis.Client
	keyPrefix string
}

// RedisConfig содержит настройки подключения к Redis
type RedisConfig struct {
	Addr      string // Адрес Redis сервера
	Password  string // Пароль (пустой если не требуется)
	DB        int    // Номер базы данных
	KeyPrefix string // Префикс для ключей
}

// DefaultRedisConfig возвращает конфигурацию по умолчанию
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "fauna:counter:",
	}
}

// NewRedisCounterRepo создаёт репозиторий и проверяет подключение
func NewRedisCounterRepo(config *RedisConfig, counter string) (*RedisCounterRepo, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.GetStorageLogger().Info("Connected to Redis at %s (counter %s)", config.Addr, counter)
	return &RedisCounterRepo{
		client:    client,
		keyPrefix: config.KeyPrefix + counter + ":",
	}, nil
}

func (r *RedisCounterRepo) key(player entity.ID) string {
	return r.keyPrefix + player.String()
}

// Load получает значение счётчика
func (r *RedisCounterRepo) Load(ctx context.Context, player entity.ID) (int64, bool, error) {
	if err := validID(player); err != nil {
		return 0, false, err
	}

	v, err := r.client.Get(ctx, r.key(player)).Int64()
	if err == redis.Nil {
		return 0, false, nil
	} else if err != nil {
		return 0, false, fmt.Errorf("failed to get counter for %s: %w", player, err)
	}
	return v, true, nil
}

// Save сохраняет значение счётчика без срока жизни
func (r *RedisCounterRepo) Save(ctx context.Context, player entity.ID, value int64) error {
	if err := validID(player); err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(player), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to save counter for %s: %w", player, err)
	}
	return nil
}

// Delete удаляет счётчик игрока
func (r *RedisCounterRepo) Delete(ctx context.Context, player entity.ID) error {
	if err := validID(player); err != nil {
		return err
	}
	n, err := r.client.Del(ctx, r.key(player)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete counter for %s: %w", player, err)
	}
	if n == 0 {
		return fmt.Errorf("счётчик игрока %s: %w", player, ErrNotFound)
	}
	return nil
}

// BatchSave записывает батч счётчиков пайплайном
func (r *RedisCounterRepo) BatchSave(ctx context.Context, values map[entity.ID]int64) error {
	if len(values) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for player, v := range values {
		if err := validID(player); err != nil {
			return err
		}
		pipe.Set(ctx, r.key(player), v, 0)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func (r *RedisCounterRepo) Close() error {
	return r.client.Close()
}
