// Package waveform models continuous single-channel waveform segments as
// handed over by the acquisition collaborator. A segment covers one span of
// one channel at a fixed sample rate; missing samples inside the span are
// NaN, and downstream stages exclude anything computed from them rather than
// aborting.
package waveform

import (
	"fmt"
	"math"
	"time"

	"github.com/glacier-data/quakescan/internal/timeutil"
)

// Segment is one continuous span of samples from one station channel.
type Segment struct {
	Station string
	Channel string // seismic channel code, e.g. HHZ, HHN, HHE
	Rate    float64
	Start   time.Time
	Data    []float64
}

// Validate checks the segment invariants.
func (s *Segment) Validate() error {
	if s.Station == "" {
		return fmt.Errorf("segment has empty station")
	}
	if s.Rate <= 0 {
		return fmt.Errorf("segment %s.%s: sample rate %g must be positive", s.Station, s.Channel, s.Rate)
	}
	if len(s.Data) == 0 {
		return fmt.Errorf("segment %s.%s: no samples", s.Station, s.Channel)
	}
	if s.Start.IsZero() {
		return fmt.Errorf("segment %s.%s: zero start time", s.Station, s.Channel)
	}
	return nil
}

// NumSamples returns the sample count.
func (s *Segment) NumSamples() int { return len(s.Data) }

// End returns the time just past the final sample.
func (s *Segment) End() time.Time {
	return timeutil.SampleTime(s.Start, len(s.Data), s.Rate)
}

// TimeAt returns the instant of sample i.
func (s *Segment) TimeAt(i int) time.Time {
	return timeutil.SampleTime(s.Start, i, s.Rate)
}

// IndexOf returns the fractional sample index of t.
func (s *Segment) IndexOf(t time.Time) float64 {
	return timeutil.SampleIndex(t, s.Start, s.Rate)
}

// Covers reports whether the span [t0, t1) lies inside the segment.
func (s *Segment) Covers(t0, t1 time.Time) bool {
	return !t0.Before(s.Start) && !t1.After(s.End())
}

// GapCount returns the number of NaN samples.
func (s *Segment) GapCount() int {
	n := 0
	for _, v := range s.Data {
		if math.IsNaN(v) {
			n++
		}
	}
	return n
}

// Slice returns the sub-segment covering [t0, t1), sharing the backing
// array. t0 snaps to the containing sample.
func (s *Segment) Slice(t0, t1 time.Time) (*Segment, error) {
	if !s.Covers(t0, t1) {
		return nil, fmt.Errorf("segment %s.%s [%s, %s) does not cover [%s, %s)",
			s.Station, s.Channel,
			s.Start.Format(time.RFC3339Nano), s.End().Format(time.RFC3339Nano),
			t0.Format(time.RFC3339Nano), t1.Format(time.RFC3339Nano))
	}
	i0 := int(math.Floor(s.IndexOf(t0)))
	i1 := int(math.Ceil(s.IndexOf(t1)))
	if i0 < 0 {
		i0 = 0
	}
	if i1 > len(s.Data) {
		i1 = len(s.Data)
	}
	return &Segment{
		Station: s.Station,
		Channel: s.Channel,
		Rate:    s.Rate,
		Start:   s.TimeAt(i0),
		Data:    s.Data[i0:i1],
	}, nil
}

// Set is the per-station channel grouping consumed by the onset generator:
// the vertical component drives P onsets, the horizontals drive S onsets.
type Set struct {
	Vertical    *Segment
	Horizontals []*Segment
}

// Validate checks channel consistency: all present channels must share the
// station, sample rate, and start time. Mismatched rates across a station's
// channels are a configuration error.
func (c *Set) Validate() error {
	var ref *Segment
	all := c.all()
	if len(all) == 0 {
		return fmt.Errorf("channel set is empty")
	}
	for _, seg := range all {
		if err := seg.Validate(); err != nil {
			return err
		}
		if ref == nil {
			ref = seg
			continue
		}
		if seg.Station != ref.Station {
			return fmt.Errorf("channel set mixes stations %s and %s", ref.Station, seg.Station)
		}
		if seg.Rate != ref.Rate {
			return fmt.Errorf("station %s: inconsistent sample rates %g and %g across channels",
				ref.Station, ref.Rate, seg.Rate)
		}
		if !seg.Start.Equal(ref.Start) || seg.NumSamples() != ref.NumSamples() {
			return fmt.Errorf("station %s: channels %s and %s cover different spans",
				ref.Station, ref.Channel, seg.Channel)
		}
	}
	return nil
}

// Station returns the station ID of the set.
func (c *Set) Station() string {
	for _, seg := range c.all() {
		return seg.Station
	}
	return ""
}

func (c *Set) all() []*Segment {
	var out []*Segment
	if c.Vertical != nil {
		out = append(out, c.Vertical)
	}
	for _, h := range c.Horizontals {
		if h != nil {
			out = append(out, h)
		}
	}
	return out
}

// GroupByStation folds a flat segment list into per-station channel sets.
// Channel codes ending in Z are verticals; everything else is a horizontal.
func GroupByStation(segs []*Segment) map[string]*Set {
	out := map[string]*Set{}
	for _, seg := range segs {
		set := out[seg.Station]
		if set == nil {
			set = &Set{}
			out[seg.Station] = set
		}
		if n := len(seg.Channel); n > 0 && seg.Channel[n-1] == 'Z' {
			set.Vertical = seg
		} else {
			set.Horizontals = append(set.Horizontals, seg)
		}
	}
	return out
}
