package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/annel0/mmo-fauna/internal/entity"
	"github.com/annel0/mmo-fauna/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingRepo отказывает в пакетной записи, пока fail истинно.
type failingRepo struct {
	*storage.MemoryCounterRepo
	fail bool
}

func (r *failingRepo) BatchSave(ctx context.Context, values map[entity.ID]int64) error {
	if r.fail {
		return errors.New("backend unavailable")
	}
	return r.MemoryCounterRepo.BatchSave(ctx, values)
}

func TestClampTrust(t *testing.T) {
	assert.Equal(t, int64(0), ClampTrust(-5))
	assert.Equal(t, int64(42), ClampTrust(42))
	assert.Equal(t, MaxTrust, ClampTrust(MaxTrust+1))
}

func TestTrustLedger_BaselineAndPending(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemoryCounterRepo()
	l := NewTrustLedger(repo, time.Hour)
	player := entity.NewID()

	v, err := l.Value(ctx, player)
	require.NoError(t, err)
	assert.Equal(t, TrustBaseline, v)

	l.Adjust(player, 8)
	l.Adjust(player, -3)
	l.Adjust(entity.Nil, 100)
	l.Adjust(player, 0)
	assert.Equal(t, 1, l.Pending())

	v, _ = l.Value(ctx, player)
	assert.Equal(t, TrustBaseline+5, v)
	assert.Zero(t, repo.Count(), "До сброса хранилище не трогается")

	require.NoError(t, l.Flush(ctx))
	assert.Zero(t, l.Pending())
	stored, found, err := repo.Load(ctx, player)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, TrustBaseline+5, stored)
}

func TestTrustLedger_ClampsOnFlush(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemoryCounterRepo()
	l := NewTrustLedger(repo, time.Hour)
	friend, foe := entity.NewID(), entity.NewID()

	l.Adjust(friend, 5000)
	l.Adjust(foe, -5000)
	require.NoError(t, l.Flush(ctx))

	v, _, _ := repo.Load(ctx, friend)
	assert.Equal(t, MaxTrust, v)
	v, _, _ = repo.Load(ctx, foe)
	assert.Equal(t, int64(0), v)
}

func TestTrustLedger_MalformedStoredValue(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemoryCounterRepo()
	player := entity.NewID()
	require.NoError(t, repo.Save(ctx, player, 7777))

	l := NewTrustLedger(repo, time.Hour)
	v, err := l.Value(ctx, player)
	require.NoError(t, err)
	assert.Equal(t, MaxTrust, v)
}

func TestTrustLedger_FailedFlushKeepsDeltas(t *testing.T) {
	ctx := context.Background()
	repo := &failingRepo{MemoryCounterRepo: storage.NewMemoryCounterRepo(), fail: true}
	l := NewTrustLedger(repo, time.Hour)
	player := entity.NewID()

	l.Adjust(player, -10)
	assert.Error(t, l.Flush(ctx))
	assert.Equal(t, 1, l.Pending())

	l.Adjust(player, -10)
	repo.fail = false
	require.NoError(t, l.Flush(ctx))

	v, _, _ := repo.Load(ctx, player)
	assert.Equal(t, TrustBaseline-20, v, "Дельта неудачного сброса не теряется")
}

func TestTrustLedger_BackgroundFlushAndStop(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemoryCounterRepo()
	l := NewTrustLedger(repo, 10*time.Millisecond)
	l.Start()
	player := entity.NewID()

	l.Adjust(player, 3)
	assert.Eventually(t, func() bool {
		v, found, _ := repo.Load(ctx, player)
		return found && v == TrustBaseline+3
	}, time.Second, 5*time.Millisecond)

	l.Adjust(player, 4)
	require.NoError(t, l.Stop())
	require.NoError(t, l.Stop())

	v, _, _ := repo.Load(ctx, player)
	assert.Equal(t, TrustBaseline+7, v)
}
