package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/annel0/mmo-fauna/internal/entity"
	"github.com/annel0/mmo-fauna/internal/logging"
	"github.com/annel0/mmo-fauna/internal/storage"
)

const (
	// TrustCounter имя счётчика доверия животных к игроку.
	TrustCounter = "animal_trust"
	// MaxTrust верхняя граница счётчика.
	MaxTrust int64 = 1000
	// TrustBaseline значение для игрока без сохранённого счётчика.
	TrustBaseline int64 = 500

	trustIOTimeout = 5 * time.Second
)

// ClampTrust приводит значение к [0, MaxTrust].
func ClampTrust(v int64) int64 {
	switch {
	case v < 0:
		return 0
	case v > MaxTrust:
		return MaxTrust
	default:
		return v
	}
}

// TrustLedger копит изменения доверия в памяти и периодически сбрасывает их
// в CounterRepo. Adjust никогда не ходит в хранилище.
type TrustLedger struct {
	repo     storage.CounterRepo
	interval time.Duration

	mu      sync.Mutex
	pending map[entity.ID]int64

	flushMu  sync.Mutex
	shutdown chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   *logging.Logger
}

// NewTrustLedger создаёт буфер поверх repo.
func NewTrustLedger(repo storage.CounterRepo, interval time.Duration) *TrustLedger {
	if repo == nil {
		repo = storage.NewMemoryCounterRepo()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &TrustLedger{
		repo:     repo,
		interval: interval,
		pending:  make(map[entity.ID]int64),
		shutdown: make(chan struct{}),
		logger:   logging.GetStorageLogger(),
	}
}

// Start запускает фоновый сброс.
func (t *TrustLedger) Start() {
	t.wg.Add(1)
	go t.flushLoop()
}

// Stop останавливает фоновый сброс и сбрасывает остаток.
func (t *TrustLedger) Stop() error {
	var err error
	t.stopOnce.Do(func() {
		close(t.shutdown)
		t.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), trustIOTimeout)
		defer cancel()
		err = t.Flush(ctx)
	})
	return err
}

// Adjust добавляет delta к доверию игрока.
func (t *TrustLedger) Adjust(player entity.ID, delta int64) {
	if player == entity.Nil || delta == 0 {
		return
	}
	t.mu.Lock()
	t.pending[player] += delta
	t.mu.Unlock()
}

// Pending число игроков с несброшенными изменениями.
func (t *TrustLedger) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Value текущее доверие: сохранённое значение плюс несброшенная дельта.
func (t *TrustLedger) Value(ctx context.Context, player entity.ID) (int64, error) {
	base, err := t.load(ctx, player)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	delta := t.pending[player]
	t.mu.Unlock()
	return ClampTrust(base + delta), nil
}

func (t *TrustLedger) load(ctx context.Context, player entity.ID) (int64, error) {
	v, found, err := t.repo.Load(ctx, player)
	if err != nil {
		return 0, fmt.Errorf("load %s for %s: %w", TrustCounter, player, err)
	}
	if !found {
		return TrustBaseline, nil
	}
	if c := ClampTrust(v); c != v {
		t.logger.Warn("%s for %s out of range (%d), clamped to %d", TrustCounter, player, v, c)
		return c, nil
	}
	return v, nil
}

// Flush применяет накопленные дельты к хранилищу. При ошибке дельты
// возвращаются в буфер и будут применены следующим сбросом.
func (t *TrustLedger) Flush(ctx context.Context) error {
	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	t.mu.Lock()
	batch := t.pending
	t.pending = make(map[entity.ID]int64)
	t.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	values := make(map[entity.ID]int64, len(batch))
	var failed map[entity.ID]int64
	var firstErr error
	for player, delta := range batch {
		base, err := t.load(ctx, player)
		if err != nil {
			if failed == nil {
				failed = make(map[entity.ID]int64)
			}
			failed[player] = delta
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		values[player] = ClampTrust(base + delta)
	}

	if err := t.repo.BatchSave(ctx, values); err != nil {
		if failed == nil {
			failed = make(map[entity.ID]int64)
		}
		for player := range values {
			failed[player] = batch[player]
		}
		firstErr = fmt.Errorf("save %s batch: %w", TrustCounter, err)
	}

	if len(failed) > 0 {
		t.mu.Lock()
		for player, delta := range failed {
			t.pending[player] += delta
		}
		t.mu.Unlock()
	}
	return firstErr
}

func (t *TrustLedger) flushLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.shutdown:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), trustIOTimeout)
			if err := t.Flush(ctx); err != nil {
				t.logger.Error("trust flush failed: %v", err)
			}
			cancel()
		}
	}
}
