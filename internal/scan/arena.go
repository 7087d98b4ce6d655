package scan

import (
	"fmt"
	"time"
)

// DefaultArenaBytes bounds the memory a run may commit to retained stack
// volumes when the caller does not set its own limit.
const DefaultArenaBytes = 1 << 30

// Arena holds the full per-node stack volume for every tick of a scan. It is
// allocated in one shot up front so a run that cannot fit fails before any
// work is done rather than mid-scan. The locator borrows the arena from a
// marginal-window scan to marginalise over time.
type Arena struct {
	start    time.Time
	interval time.Duration
	numNodes int
	flat     []float64
}

func newArena(start time.Time, interval time.Duration, numTicks, numNodes int, limitBytes int64) (*Arena, error) {
	if limitBytes <= 0 {
		limitBytes = DefaultArenaBytes
	}
	need := int64(numTicks) * int64(numNodes) * 8
	if numTicks > 0 && need/int64(numTicks)/8 != int64(numNodes) {
		need = limitBytes + 1
	}
	if need > limitBytes {
		return nil, fmt.Errorf("stack volume arena needs %d bytes for %d ticks x %d nodes, limit is %d: shorten the window, decimate the grid, or raise the limit", need, numTicks, numNodes, limitBytes)
	}
	return &Arena{
		start:    start,
		interval: interval,
		numNodes: numNodes,
		flat:     make([]float64, numTicks*numNodes),
	}, nil
}

// NumTicks returns the number of retained volumes.
func (a *Arena) NumTicks() int {
	if a.numNodes == 0 {
		return 0
	}
	return len(a.flat) / a.numNodes
}

// NumNodes returns the grid size of each volume.
func (a *Arena) NumNodes() int { return a.numNodes }

// TimeAt returns the instant of tick i.
func (a *Arena) TimeAt(i int) time.Time {
	return a.start.Add(time.Duration(i) * a.interval)
}

// Volume returns the stack values for tick i, one per grid node. The slice
// aliases the arena's backing array.
func (a *Arena) Volume(i int) []float64 {
	return a.flat[i*a.numNodes : (i+1)*a.numNodes]
}
