package waveform

import (
	"math"
	"path/filepath"
	"testing"
	"time"
)

var t0 = time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)

func testSegment(station, channel string, n int) *Segment {
	data := make([]float64, n)
	for i := range data {
		data[i] = float64(i)
	}
	return &Segment{Station: station, Channel: channel, Rate: 100, Start: t0, Data: data}
}

func TestSegmentValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Segment)
		wantErr bool
	}{
		{"valid", func(s *Segment) {}, false},
		{"empty station", func(s *Segment) { s.Station = "" }, true},
		{"zero rate", func(s *Segment) { s.Rate = 0 }, true},
		{"negative rate", func(s *Segment) { s.Rate = -50 }, true},
		{"no samples", func(s *Segment) { s.Data = nil }, true},
		{"zero start", func(s *Segment) { s.Start = time.Time{} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSegment("ST01", "HHZ", 100)
			tt.mutate(s)
			if err := s.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSegmentTimes(t *testing.T) {
	s := testSegment("ST01", "HHZ", 200) // 2s at 100 Hz

	if got := s.End(); !got.Equal(t0.Add(2 * time.Second)) {
		t.Errorf("End = %v", got)
	}
	if got := s.TimeAt(50); !got.Equal(t0.Add(500 * time.Millisecond)) {
		t.Errorf("TimeAt(50) = %v", got)
	}
	if got := s.IndexOf(t0.Add(time.Second)); math.Abs(got-100) > 1e-9 {
		t.Errorf("IndexOf(+1s) = %v", got)
	}
	if !s.Covers(t0, t0.Add(2*time.Second)) {
		t.Error("Covers(full span) = false")
	}
	if s.Covers(t0.Add(-time.Millisecond), t0.Add(time.Second)) {
		t.Error("Covers(before start) = true")
	}
}

func TestSegmentSlice(t *testing.T) {
	s := testSegment("ST01", "HHZ", 200)

	sub, err := s.Slice(t0.Add(500*time.Millisecond), t0.Add(time.Second))
	if err != nil {
		t.Fatalf("Slice: %v", err)
	}
	if sub.NumSamples() != 50 {
		t.Errorf("sub samples = %d, want 50", sub.NumSamples())
	}
	if sub.Data[0] != 50 {
		t.Errorf("sub first sample = %v, want 50", sub.Data[0])
	}
	if !sub.Start.Equal(t0.Add(500 * time.Millisecond)) {
		t.Errorf("sub start = %v", sub.Start)
	}

	if _, err := s.Slice(t0, t0.Add(time.Hour)); err == nil {
		t.Error("Slice past end accepted")
	}
}

func TestGapCount(t *testing.T) {
	s := testSegment("ST01", "HHZ", 10)
	if s.GapCount() != 0 {
		t.Errorf("GapCount = %d on gapless data", s.GapCount())
	}
	s.Data[3] = math.NaN()
	s.Data[7] = math.NaN()
	if s.GapCount() != 2 {
		t.Errorf("GapCount = %d, want 2", s.GapCount())
	}
}

func TestSetValidate(t *testing.T) {
	mk := func() *Set {
		return &Set{
			Vertical:    testSegment("ST01", "HHZ", 100),
			Horizontals: []*Segment{testSegment("ST01", "HHN", 100), testSegment("ST01", "HHE", 100)},
		}
	}

	if err := mk().Validate(); err != nil {
		t.Errorf("valid set rejected: %v", err)
	}

	set := mk()
	set.Horizontals[0].Station = "ST02"
	if err := set.Validate(); err == nil {
		t.Error("mixed stations accepted")
	}

	set = mk()
	set.Horizontals[1].Rate = 50
	if err := set.Validate(); err == nil {
		t.Error("inconsistent sample rates accepted")
	}

	set = mk()
	set.Vertical.Data = set.Vertical.Data[:50]
	if err := set.Validate(); err == nil {
		t.Error("mismatched spans accepted")
	}

	if err := (&Set{}).Validate(); err == nil {
		t.Error("empty set accepted")
	}
}

func TestGroupByStation(t *testing.T) {
	segs := []*Segment{
		testSegment("ST01", "HHZ", 10),
		testSegment("ST01", "HHN", 10),
		testSegment("ST01", "HHE", 10),
		testSegment("ST02", "BHZ", 10),
	}
	groups := GroupByStation(segs)
	if len(groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(groups))
	}
	st01 := groups["ST01"]
	if st01.Vertical == nil || st01.Vertical.Channel != "HHZ" {
		t.Errorf("ST01 vertical = %+v", st01.Vertical)
	}
	if len(st01.Horizontals) != 2 {
		t.Errorf("ST01 horizontals = %d, want 2", len(st01.Horizontals))
	}
	st02 := groups["ST02"]
	if st02.Vertical == nil || len(st02.Horizontals) != 0 {
		t.Errorf("ST02 grouping wrong: %+v", st02)
	}
}

func TestSegmentFileRoundTrip(t *testing.T) {
	segs := []*Segment{
		testSegment("ST01", "HHZ", 500),
		testSegment("ST02", "HHN", 500),
	}
	segs[0].Data[100] = math.NaN() // gaps survive the round-trip

	path := filepath.Join(t.TempDir(), "segs.gob.gz")
	if err := WriteSegments(path, segs); err != nil {
		t.Fatalf("WriteSegments: %v", err)
	}
	got, err := ReadSegments(path)
	if err != nil {
		t.Fatalf("ReadSegments: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("read %d segments, want 2", len(got))
	}
	if got[0].Station != "ST01" || got[0].NumSamples() != 500 {
		t.Errorf("segment 0 = %s/%d samples", got[0].Station, got[0].NumSamples())
	}
	if !math.IsNaN(got[0].Data[100]) {
		t.Error("NaN gap lost in round-trip")
	}
	if got[1].Data[7] != segs[1].Data[7] {
		t.Error("sample values differ after round-trip")
	}

	if _, err := ReadSegments(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("missing file accepted")
	}
}
