package world

import "time"

// WorldMetrics is a thread-safe read-only view of key world runtime signals.
// It is updated from the world loop goroutine and read from HTTP handlers/tests.
type WorldMetrics struct {
	Tick uint64 `json:"tick"`

	ActiveChunks  int    `json:"active_chunks"`
	Generating    int    `json:"generating"`
	QueuedJobs    int    `json:"queued_jobs"`
	DirtyLight    int    `json:"dirty_light"`
	LastDrain     int    `json:"last_drain"`
	ObserverChunk [2]int `json:"observer_chunk"`

	ActivatedTotal   uint64 `json:"activated_total"`
	LoadedTotal      uint64 `json:"loaded_total"`
	DeactivatedTotal uint64 `json:"deactivated_total"`
	SaveTotal        uint64 `json:"save_total"`
	SaveFailTotal    uint64 `json:"save_fail_total"`
	LoadFailTotal    uint64 `json:"load_fail_total"`
	JobPanicTotal    uint64 `json:"job_panic_total"`
	SubmitRejects    uint64 `json:"submit_rejects"`
	DigTotal         uint64 `json:"dig_total"`
	BuildTotal       uint64 `json:"build_total"`

	EditQueue int `json:"edit_queue"`
	LastEdits int `json:"last_edits"`

	StepMS float64 `json:"step_ms"`

	Impact *ImpactMetrics `json:"impact,omitempty"`
}

type ImpactMetrics struct {
	Block    [3]int  `json:"block"`
	Normal   string  `json:"normal"`
	Distance float64 `json:"distance"`
}

func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	v := w.metrics.Load()
	if v == nil {
		return WorldMetrics{}
	}
	m, ok := v.(WorldMetrics)
	if !ok {
		return WorldMetrics{}
	}
	return m
}

func (w *World) publishMetrics(step time.Duration) {
	m := WorldMetrics{
		Tick:             w.tick.Load(),
		ActiveChunks:     w.reg.Len(),
		Generating:       len(w.generating),
		QueuedJobs:       w.jobs.Queued(GenerationKind),
		DirtyLight:       w.dirty.Len(),
		LastDrain:        w.counters.lastDrain,
		ObserverChunk:    [2]int{w.obsKey.CX, w.obsKey.CZ},
		ActivatedTotal:   w.counters.activated,
		LoadedTotal:      w.counters.loaded,
		DeactivatedTotal: w.counters.deactivated,
		SaveTotal:        w.counters.saves,
		SaveFailTotal:    w.counters.saveFailures,
		LoadFailTotal:    w.counters.loadFailures,
		JobPanicTotal:    w.counters.jobPanics,
		SubmitRejects:    w.counters.submitRejects,
		DigTotal:         w.counters.digs,
		BuildTotal:       w.counters.builds,
		EditQueue:        len(w.edits),
		LastEdits:        w.counters.lastEdits,
		StepMS:           float64(step.Microseconds()) / 1000.0,
	}
	if w.impact.Hit {
		x, y, z := w.impact.Block.World()
		m.Impact = &ImpactMetrics{
			Block:    [3]int{x, y, z},
			Normal:   w.impact.Normal.String(),
			Distance: w.impact.Distance,
		}
	}
	w.metrics.Store(m)
}
