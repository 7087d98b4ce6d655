// Package scan implements the migration and stacking engine: it shifts
// per-station onset functions by modelled travel times and stacks them over a
// 3-D grid, producing the continuous coalescence series that triggering and
// location feed on.
package scan

import (
	"fmt"
	"time"
)

// Series is the continuous coalescence output: one row per tick, append-only,
// strictly ordered by time. Raw carries the maximum stack value over the
// grid, Norm the maximum after dividing each node by its contributor count.
// Node is the argmax of the canonical signal (Norm when the run normalises,
// Raw otherwise) with ties broken to the lowest node index, and NContrib the
// contributor count at that node.
type Series struct {
	Start    time.Time
	Interval time.Duration

	Raw      []float64
	Norm     []float64
	Node     []int
	NContrib []int
}

// NewSeries prepares an empty series with the given tick spacing.
func NewSeries(start time.Time, interval time.Duration) *Series {
	return &Series{Start: start, Interval: interval}
}

// Len returns the number of ticks appended.
func (s *Series) Len() int { return len(s.Raw) }

// TimeAt returns the instant of tick i.
func (s *Series) TimeAt(i int) time.Time {
	return s.Start.Add(time.Duration(i) * s.Interval)
}

// End returns the time just past the final tick, or Start when empty.
func (s *Series) End() time.Time {
	return s.TimeAt(s.Len())
}

// IndexOf returns the tick index containing t, or -1 outside the series.
func (s *Series) IndexOf(t time.Time) int {
	if s.Interval <= 0 {
		return -1
	}
	i := int(t.Sub(s.Start) / s.Interval)
	if i < 0 || i >= s.Len() || t.Before(s.Start) {
		return -1
	}
	return i
}

// Append adds one tick row. Rows must be appended in tick order.
func (s *Series) Append(raw, norm float64, node, ncontrib int) {
	s.Raw = append(s.Raw, raw)
	s.Norm = append(s.Norm, norm)
	s.Node = append(s.Node, node)
	s.NContrib = append(s.NContrib, ncontrib)
}

// Canonical returns the detection signal the trigger thresholds: Norm when
// normalise is set, Raw otherwise.
func (s *Series) Canonical(normalise bool) []float64 {
	if normalise {
		return s.Norm
	}
	return s.Raw
}

// Slice returns the sub-series covering tick indices [i, j). The returned
// series shares backing arrays with the receiver.
func (s *Series) Slice(i, j int) (*Series, error) {
	if i < 0 || j > s.Len() || i > j {
		return nil, fmt.Errorf("series slice [%d,%d) out of range [0,%d)", i, j, s.Len())
	}
	return &Series{
		Start:    s.TimeAt(i),
		Interval: s.Interval,
		Raw:      s.Raw[i:j],
		Norm:     s.Norm[i:j],
		Node:     s.Node[i:j],
		NContrib: s.NContrib[i:j],
	}, nil
}

// SliceTime returns the sub-series covering ticks in [t0, t1), clamped to
// the series bounds.
func (s *Series) SliceTime(t0, t1 time.Time) *Series {
	if s.Len() == 0 || s.Interval <= 0 {
		return &Series{Start: s.Start, Interval: s.Interval}
	}
	i := 0
	if t0.After(s.Start) {
		// First tick at or after t0.
		i = int((t0.Sub(s.Start) + s.Interval - 1) / s.Interval)
	}
	j := 0
	if t1.After(s.Start) {
		// First tick at or after t1 is excluded.
		j = int((t1.Sub(s.Start) + s.Interval - 1) / s.Interval)
	}
	if i > s.Len() {
		i = s.Len()
	}
	if j > s.Len() {
		j = s.Len()
	}
	if j < i {
		j = i
	}
	sub, _ := s.Slice(i, j)
	return sub
}
