package main

import (
	"fmt"
	"io"

	"voxelstream.ai/internal/persistence/indexdb"
	"voxelstream.ai/internal/sim/world"
)

type metricsSource struct {
	world        world.WorldMetrics
	viewers      int
	cachedMeshes int
	index        *indexdb.Stats
}

// writeMetrics renders the Prometheus text exposition format.
func writeMetrics(w io.Writer, seed int64, s metricsSource) {
	m := s.world
	gauge := func(name, help string, v any) {
		fmt.Fprintf(w, "# HELP voxelstream_%s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE voxelstream_%s gauge\n", name)
		fmt.Fprintf(w, "voxelstream_%s{seed=\"%d\"} %v\n", name, seed, v)
	}
	counter := func(name, help string, v uint64) {
		fmt.Fprintf(w, "# HELP voxelstream_%s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE voxelstream_%s counter\n", name)
		fmt.Fprintf(w, "voxelstream_%s{seed=\"%d\"} %d\n", name, seed, v)
	}

	gauge("world_tick", "Current world tick.", m.Tick)
	gauge("world_active_chunks", "Chunks in the working set.", m.ActiveChunks)
	gauge("world_generating_chunks", "Chunks with an outstanding generation job.", m.Generating)
	gauge("world_queued_jobs", "Generation jobs waiting for a worker.", m.QueuedJobs)
	gauge("world_dirty_light", "Blocks waiting for light recomputation.", m.DirtyLight)
	gauge("world_last_light_drain", "Light recomputations in the last tick.", m.LastDrain)
	gauge("world_edit_queue", "Edit requests waiting for the next tick.", m.EditQueue)
	gauge("world_last_edits", "Edit requests applied in the last tick.", m.LastEdits)
	gauge("world_step_ms", "Last tick step duration in milliseconds.", fmt.Sprintf("%.3f", m.StepMS))

	counter("world_activated_total", "Chunks activated.", m.ActivatedTotal)
	counter("world_loaded_total", "Chunks activated from saved files.", m.LoadedTotal)
	counter("world_deactivated_total", "Chunks deactivated.", m.DeactivatedTotal)
	counter("world_saves_total", "Chunk files written.", m.SaveTotal)
	counter("world_save_failures_total", "Chunk saves that failed.", m.SaveFailTotal)
	counter("world_load_failures_total", "Chunk files that could not be read.", m.LoadFailTotal)
	counter("world_job_panics_total", "Generation jobs that panicked.", m.JobPanicTotal)
	counter("world_submit_rejects_total", "Generation jobs the pool refused.", m.SubmitRejects)
	counter("world_digs_total", "Blocks removed.", m.DigTotal)
	counter("world_builds_total", "Blocks placed.", m.BuildTotal)

	gauge("viewer_sessions", "Connected viewer sessions.", s.viewers)
	gauge("viewer_cached_meshes", "Chunk meshes cached for new viewers.", s.cachedMeshes)

	if s.index != nil {
		gauge("index_queue_depth", "Chunk-save index writer backlog.", s.index.QueueDepth)
		counter("index_writes_total", "Chunk saves written to the index.", s.index.WriteTotal)
		counter("index_dropped_total", "Chunk saves dropped because the index queue was full.", s.index.DropTotal)
		counter("index_failures_total", "Index writes that failed.", s.index.FailTotal)
	}
}
