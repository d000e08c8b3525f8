package api

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// EngineStats сводка движка, прочитанная из его коллекторов fauna_*.
type EngineStats struct {
	Creatures      int     `json:"creatures"`
	Herds          int     `json:"herds"`
	Ticks          uint64  `json:"ticks"`
	Transitions    uint64  `json:"transitions"`
	MeanTickMicros float64 `json:"mean_tick_us"`
}

// ProcessStats ресурсы процесса.
type ProcessStats struct {
	Uptime     string  `json:"uptime"`
	CPUPercent float64 `json:"cpu_percent"`
	RSSMB      float64 `json:"rss_mb"`
	HeapMB     float64 `json:"heap_mb"`
	Goroutines int     `json:"goroutines"`
}

// StatsCollector собирает снимок для /health и /api/stats
type StatsCollector struct {
	started  time.Time
	gatherer prometheus.Gatherer
	proc     *process.Process // nil, если gopsutil не видит процесс
}

// NewStatsCollector gatherer должен содержать метрики движка; nil означает дефолтный.
func NewStatsCollector(g prometheus.Gatherer) *StatsCollector {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	sc := &StatsCollector{started: time.Now(), gatherer: g}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		sc.proc = p
	}
	return sc
}

// Engine читает счётчики и гистограмму тиков движка.
func (sc *StatsCollector) Engine() (EngineStats, error) {
	families, err := sc.gatherer.Gather()
	if err != nil {
		return EngineStats{}, fmt.Errorf("gather: %w", err)
	}

	var st EngineStats
	for _, mf := range families {
		metrics := mf.GetMetric()
		if len(metrics) == 0 {
			continue
		}
		switch mf.GetName() {
		case "fauna_creatures_registered":
			st.Creatures = int(metrics[0].GetGauge().GetValue())
		case "fauna_herds":
			st.Herds = int(metrics[0].GetGauge().GetValue())
		case "fauna_ticks_total":
			st.Ticks = uint64(metrics[0].GetCounter().GetValue())
		case "fauna_behavior_transitions_total":
			// по одной серии на пару from/to
			for _, m := range metrics {
				st.Transitions += uint64(m.GetCounter().GetValue())
			}
		case "fauna_tick_duration_seconds":
			h := metrics[0].GetHistogram()
			if n := h.GetSampleCount(); n > 0 {
				st.MeanTickMicros = h.GetSampleSum() / float64(n) * 1e6
			}
		}
	}
	return st, nil
}

// Process ресурсы процесса; недоступные через gopsutil значения остаются нулевыми.
func (sc *StatsCollector) Process() ProcessStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	st := ProcessStats{
		Uptime:     formatUptime(time.Since(sc.started)),
		HeapMB:     float64(m.HeapAlloc) / 1024 / 1024,
		Goroutines: runtime.NumGoroutine(),
	}
	if sc.proc == nil {
		return st
	}
	if mem, err := sc.proc.MemoryInfo(); err == nil {
		st.RSSMB = float64(mem.RSS) / 1024 / 1024
	}
	if pct, err := sc.proc.CPUPercent(); err == nil {
		st.CPUPercent = pct
	} else if all, err := cpu.Percent(0, false); err == nil && len(all) > 0 {
		st.CPUPercent = all[0]
	}
	return st
}

func formatUptime(d time.Duration) string {
	d = d.Truncate(time.Second)
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dд %dч %dм %dс", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dч %dм %dс", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dм %dс", minutes, seconds)
	default:
		return fmt.Sprintf("%dс", seconds)
	}
}
