package software

import (
	"math"
	"sync"
	"time"
)

// Per-worker statistics from the last dispatch.
type blockStats struct {
	BlockH    uint32
	BlockTime time.Duration
}

// The row scheduler splits a launch into horizontal blocks, one per worker.
// It assumes that the tracing work of two subsequent dispatches is roughly
// the same and sizes each block by the throughput the worker achieved last
// time.
type rowScheduler struct {
	mutex           sync.Mutex
	blockAssignment []uint32
	stats           []blockStats
}

func newRowScheduler() *rowScheduler {
	return &rowScheduler{}
}

// Split frameH rows between at most workers blocks. Returns the block
// heights; they always add up to frameH and none is zero.
//
// With statistics from the previous dispatch the share of worker w is
// (blockH_w / time_w) / Σ(blockH / time).
func (sch *rowScheduler) Schedule(workers int, frameH uint32) []uint32 {
	sch.mutex.Lock()
	defer sch.mutex.Unlock()

	if frameH == 0 || workers <= 0 {
		return nil
	}
	if uint32(workers) > frameH {
		workers = int(frameH)
	}

	// Reset the assignment if this is the first dispatch or the worker
	// count changed; without feedback every worker gets the same share.
	if len(sch.blockAssignment) != workers || !sch.haveStats() {
		sch.blockAssignment = make([]uint32, workers)
		sch.stats = make([]blockStats, workers)
		for idx := range sch.blockAssignment {
			sch.blockAssignment[idx] = frameH / uint32(workers)
		}
		sch.blockAssignment[0] += frameH % uint32(workers)
		return append([]uint32{}, sch.blockAssignment...)
	}

	var total float64
	for _, st := range sch.stats {
		total += float64(st.BlockH) / float64(st.BlockTime)
	}
	scaler := float64(frameH) / total

	var scheduledRows uint32
	for idx, st := range sch.stats {
		sch.blockAssignment[idx] = uint32(math.Max(1.0, math.Floor(float64(st.BlockH)/float64(st.BlockTime)*scaler)))
		scheduledRows += sch.blockAssignment[idx]
	}

	// Rows lost to flooring go to the first block. Rows gained by the
	// one-row minimum are taken back from the largest blocks.
	for scheduledRows > frameH {
		largest := 0
		for idx, rows := range sch.blockAssignment {
			if rows > sch.blockAssignment[largest] {
				largest = idx
			}
		}
		sch.blockAssignment[largest]--
		scheduledRows--
	}
	sch.blockAssignment[0] += frameH - scheduledRows

	return append([]uint32{}, sch.blockAssignment...)
}

func (sch *rowScheduler) haveStats() bool {
	if len(sch.stats) == 0 {
		return false
	}
	for _, st := range sch.stats {
		if st.BlockH == 0 || st.BlockTime <= 0 {
			return false
		}
	}
	return true
}

// Record how long a worker took to trace its block.
func (sch *rowScheduler) Record(worker int, blockH uint32, elapsed time.Duration) {
	sch.mutex.Lock()
	defer sch.mutex.Unlock()

	if worker < 0 || worker >= len(sch.stats) {
		return
	}
	if elapsed <= 0 {
		elapsed = time.Nanosecond
	}
	sch.stats[worker] = blockStats{BlockH: blockH, BlockTime: elapsed}
}
