package world

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/mmo-fauna/internal/entity"
	"github.com/annel0/mmo-fauna/internal/logging"
	"github.com/annel0/mmo-fauna/internal/vec"
)

// Ticker обработчик одного тика одного существа
type Ticker interface {
	Tick(id entity.ID, now time.Time)
}

// Source откуда планировщик берёт список существ на тик
type Source interface {
	Creatures() []entity.Creature
}

// RegionScheduler делит существ на регионы и обрабатывает регионы параллельно.
// Внутри одного региона существа обрабатываются последовательно.
type RegionScheduler struct {
	regionSize   int
	workerCount  int
	source       Source
	ticker       Ticker
	preTick      func()
	updateChan   chan *regionJob
	shutdownChan chan struct{}
	workersStop  chan struct{}
	stopOnce     sync.Once
	stopped      bool
	wg           sync.WaitGroup
	loopWG       sync.WaitGroup
	tickMu       sync.Mutex
	stats        RegionSchedulerStats
	logger       *logging.Logger
}

// regionKey ключ региона
type regionKey struct {
	world string
	x, z  int
}

type regionJob struct {
	key  regionKey
	ids  []entity.ID
	now  time.Time
	done *sync.WaitGroup
}

// RegionSchedulerStats счётчики планировщика
type RegionSchedulerStats struct {
	ticks          atomic.Uint64
	regionCount    atomic.Int32
	creatureCount  atomic.Int64
	panics         atomic.Uint64
	updateDuration atomic.Int64 // в наносекундах, последний тик
}

// NewRegionScheduler создаёт планировщик и запускает воркеров
func NewRegionScheduler(source Source, ticker Ticker, regionSize int, workerCount int) *RegionScheduler {
	if regionSize <= 0 {
		regionSize = 64
	}
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}

	rs := &RegionScheduler{
		regionSize:   regionSize,
		workerCount:  workerCount,
		source:       source,
		ticker:       ticker,
		updateChan:   make(chan *regionJob, workerCount*2),
		shutdownChan: make(chan struct{}),
		workersStop:  make(chan struct{}),
		logger:       logging.GetWorldLogger(),
	}

	for i := 0; i < workerCount; i++ {
		rs.wg.Add(1)
		go rs.worker(i)
	}

	return rs
}

// SetPreTick задаёт функцию, вызываемую перед каждым тиком цикла Start
// (шаг физики хоста, продвижение часов)
func (rs *RegionScheduler) SetPreTick(fn func()) {
	rs.preTick = fn
}

// Start запускает цикл тиков с заданным интервалом
func (rs *RegionScheduler) Start(interval time.Duration) {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	rs.loopWG.Add(1)
	go rs.updateLoop(interval)
}

// Stop останавливает цикл и воркеров. Повторный вызов безопасен.
func (rs *RegionScheduler) Stop() {
	rs.stopOnce.Do(func() {
		close(rs.shutdownChan)
		rs.loopWG.Wait()

		rs.tickMu.Lock()
		rs.stopped = true
		rs.tickMu.Unlock()

		close(rs.workersStop)
		rs.wg.Wait()
	})
}

// TickOnce синхронно обрабатывает всех существ источника.
// После Stop ничего не делает.
func (rs *RegionScheduler) TickOnce(now time.Time) {
	rs.tickMu.Lock()
	defer rs.tickMu.Unlock()
	if rs.stopped {
		return
	}

	start := time.Now()
	regions := rs.partition(rs.source.Creatures())

	var done sync.WaitGroup
	total := 0
	for key, ids := range regions {
		total += len(ids)
		done.Add(1)
		rs.updateChan <- &regionJob{key: key, ids: ids, now: now, done: &done}
	}
	done.Wait()

	rs.stats.ticks.Add(1)
	rs.stats.regionCount.Store(int32(len(regions)))
	rs.stats.creatureCount.Store(int64(total))
	rs.stats.updateDuration.Store(time.Since(start).Nanoseconds())
}

// Ticks число завершённых тиков
func (rs *RegionScheduler) Ticks() uint64 { return rs.stats.ticks.Load() }

// Panics число перехваченных паник в обработчиках существ
func (rs *RegionScheduler) Panics() uint64 { return rs.stats.panics.Load() }

// GetStats возвращает статистику планировщика
func (rs *RegionScheduler) GetStats() string {
	return fmt.Sprintf("RegionScheduler: %d ticks, %d regions, %d creatures, %.2fms last tick, %d panics",
		rs.stats.ticks.Load(),
		rs.stats.regionCount.Load(),
		rs.stats.creatureCount.Load(),
		float64(rs.stats.updateDuration.Load())/1e6,
		rs.stats.panics.Load())
}

// Внутренние методы

// partition раскладывает существ по регионам
func (rs *RegionScheduler) partition(creatures []entity.Creature) map[regionKey][]entity.ID {
	out := make(map[regionKey][]entity.ID)
	for _, c := range creatures {
		if !c.Valid {
			continue
		}
		key := rs.getRegionKey(c.Location)
		out[key] = append(out[key], c.ID)
	}
	return out
}

// getRegionKey возвращает ключ региона для позиции
func (rs *RegionScheduler) getRegionKey(loc entity.Location) regionKey {
	cell := loc.Pos.Floor(1)
	r := vec.Vec2{X: cell.X, Y: cell.Z}.ToRegionCoords(rs.regionSize)
	return regionKey{world: loc.World, x: r.X, z: r.Y}
}

// worker обрабатывает регионы
func (rs *RegionScheduler) worker(id int) {
	defer rs.wg.Done()

	for {
		select {
		case <-rs.workersStop:
			return
		case job := <-rs.updateChan:
			rs.updateRegion(job)
		}
	}
}

// updateRegion обрабатывает один регион
func (rs *RegionScheduler) updateRegion(job *regionJob) {
	defer job.done.Done()
	for _, id := range job.ids {
		rs.tickCreature(id, job.now)
	}
}

// tickCreature паника одного существа не останавливает регион
func (rs *RegionScheduler) tickCreature(id entity.ID, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			rs.stats.panics.Add(1)
			rs.logger.Error("panic while ticking creature %s: %v", id, r)
		}
	}()
	rs.ticker.Tick(id, now)
}

// updateLoop основной цикл обновления
func (rs *RegionScheduler) updateLoop(interval time.Duration) {
	defer rs.loopWG.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	statsTicker := time.NewTicker(30 * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-rs.shutdownChan:
			return
		case <-ticker.C:
			if rs.preTick != nil {
				rs.preTick()
			}
			rs.TickOnce(time.Now())
		case <-statsTicker.C:
			rs.logger.Debug("%s", rs.GetStats())
		}
	}
}
