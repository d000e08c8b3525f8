package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/annel0/mmo-fauna/internal/entity"
	"github.com/dgraph-io/badger/v3"
)

// BadgerCounterRepo хранит счётчики во встроенной BadgerDB.
// Ключ "counter/<имя>/<игрок>", значение 8 байт big-endian.
type BadgerCounterRepo struct {
	db      *badger.DB
	prefix  []byte
	mutex   sync.RWMutex
	isReady bool
}

// NewBadgerCounterRepo открывает BadgerDB в каталоге dir.
// Пустой dir открывает базу в памяти.
func NewBadgerCounterRepo(dir string, counter string) (*BadgerCounterRepo, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	return &BadgerCounterRepo{
		db:      db,
		prefix:  []byte("counter/" + counter + "/"),
		isReady: true,
	}, nil
}

func (r *BadgerCounterRepo) key(player entity.ID) []byte {
	k := make([]byte, 0, len(r.prefix)+36)
	k = append(k, r.prefix...)
	return append(k, player.String()...)
}

func encodeCounter(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v))
	return buf
}

func decodeCounter(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("повреждённое значение счётчика: %d байт", len(b))
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func (r *BadgerCounterRepo) ready() error {
	if !r.isReady {
		return fmt.Errorf("хранилище не готово")
	}
	return nil
}

// Load загружает значение счётчика
func (r *BadgerCounterRepo) Load(ctx context.Context, player entity.ID) (int64, bool, error) {
	if err := validID(player); err != nil {
		return 0, false, err
	}
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if err := r.ready(); err != nil {
		return 0, false, err
	}

	var v int64
	found := true
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(r.key(player))
		if errors.Is(err, badger.ErrKeyNotFound) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			v, err = decodeCounter(val)
			return err
		})
	})
	if err != nil {
		return 0, false, fmt.Errorf("ошибка загрузки счётчика для игрока %s: %w", player, err)
	}
	return v, found, nil
}

// Save сохраняет значение счётчика
func (r *BadgerCounterRepo) Save(ctx context.Context, player entity.ID, value int64) error {
	if err := validID(player); err != nil {
		return err
	}
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if err := r.ready(); err != nil {
		return err
	}

	err := r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(r.key(player), encodeCounter(value))
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения счётчика для игрока %s: %w", player, err)
	}
	return nil
}

// Delete удаляет счётчик игрока
func (r *BadgerCounterRepo) Delete(ctx context.Context, player entity.ID) error {
	if err := validID(player); err != nil {
		return err
	}
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if err := r.ready(); err != nil {
		return err
	}

	err := r.db.Update(func(txn *badger.Txn) error {
		k := r.key(player)
		if _, err := txn.Get(k); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return txn.Delete(k)
	})
	if err != nil {
		return fmt.Errorf("счётчик игрока %s: %w", player, err)
	}
	return nil
}

// BatchSave записывает счётчики через WriteBatch
func (r *BadgerCounterRepo) BatchSave(ctx context.Context, values map[entity.ID]int64) error {
	if len(values) == 0 {
		return nil
	}
	for player := range values {
		if err := validID(player); err != nil {
			return err
		}
	}
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if err := r.ready(); err != nil {
		return err
	}

	wb := r.db.NewWriteBatch()
	defer wb.Cancel()

	for player, v := range values {
		if err := wb.Set(r.key(player), encodeCounter(v)); err != nil {
			return fmt.Errorf("ошибка записи счётчика для игрока %s в batch: %w", player, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("ошибка сброса batch: %w", err)
	}
	return nil
}

// Close закрывает хранилище данных
func (r *BadgerCounterRepo) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !r.isReady {
		return nil
	}
	r.isReady = false
	return r.db.Close()
}
