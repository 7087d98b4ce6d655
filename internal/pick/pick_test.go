package pick

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/glacier-data/quakescan/internal/event"
	"github.com/glacier-data/quakescan/internal/geom"
	"github.com/glacier-data/quakescan/internal/lut"
	"github.com/glacier-data/quakescan/internal/onset"
	"github.com/glacier-data/quakescan/internal/stations"
)

var pickT0 = time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)

func pickTable(t *testing.T) *lut.Table {
	t.Helper()
	grid, err := geom.NewGrid(
		geom.Vec3{},
		geom.Vec3{X: 400, Y: 400, Z: 200},
		geom.Vec3{X: 100, Y: 100, Z: 100},
	)
	require.NoError(t, err)
	inv, err := stations.NewInventory([]stations.Station{
		{ID: "ST01", Pos: geom.Vec3{X: 0, Y: 0, Z: 0}},
		{ID: "ST02", Pos: geom.Vec3{X: 400, Y: 0, Z: 0}},
		{ID: "ST03", Pos: geom.Vec3{X: 0, Y: 400, Z: 0}},
		{ID: "ST04", Pos: geom.Vec3{X: 400, Y: 400, Z: 0}},
	})
	require.NoError(t, err)
	table, err := lut.ComputeHomogeneous(grid, inv, []string{"P"}, map[string]float64{"P": 3000})
	require.NoError(t, err)
	return table
}

// arrivalSeries synthesises one onset series per station: a unit baseline
// with a Gaussian bump of amplitude 8 and width 50ms at the modelled arrival
// from src.
func arrivalSeries(table *lut.Table, src geom.Vec3, origin time.Time) []*onset.Series {
	var out []*onset.Series
	for _, st := range table.Stations {
		tt := st.Pos.DistanceTo(src) / 3000
		n := 400
		s := &onset.Series{
			Station: st.ID,
			Phase:   "P",
			Start:   origin.Add(-2 * time.Second),
			Rate:    100,
			Values:  make([]float64, n),
			Valid:   make([]bool, n),
		}
		for i := range s.Values {
			dt := s.TimeAt(i).Sub(origin).Seconds() - tt
			s.Values[i] = 1 + 8*math.Exp(-dt*dt/(2*0.05*0.05))
			s.Valid[i] = true
		}
		out = append(out, s)
	}
	return out
}

func pickConfig() Config {
	return Config{
		Window:      500 * time.Millisecond,
		FractionTT:  0.1,
		NoiseWindow: time.Second,
		Noise:       NoiseRMS,
	}
}

func centreEvent(table *lut.Table, origin time.Time) *event.Event {
	return &event.Event{
		ID:         uuid.New(),
		OriginTime: origin,
		Node:       table.Grid.Idx(2, 2, 1),
		Hypocentre: table.Grid.Coords(table.Grid.Idx(2, 2, 1)),
	}
}

func TestPickEventAllStations(t *testing.T) {
	table := pickTable(t)
	ev := centreEvent(table, pickT0)
	series := arrivalSeries(table, ev.Hypocentre, pickT0)

	pk, err := NewPicker(table, series, pickConfig())
	require.NoError(t, err)

	picks := pk.PickEvent(ev)
	require.Len(t, picks, 4)

	// The centre node is 300m from every corner station.
	arrival := pickT0.Add(100 * time.Millisecond)
	for i, p := range picks {
		require.Equal(t, table.Stations[i].ID, p.Station)
		require.Equal(t, "P", p.Phase)
		require.True(t, p.Valid, "pick %s flagged: %s", p.Station, p.Reason)
		dt := p.Time.Sub(arrival)
		require.LessOrEqual(t, dt.Abs(), 2*time.Millisecond, "pick %s off by %v", p.Station, dt)
		require.InDelta(t, 0.05, p.Error, 0.01)
		require.InDelta(t, 8, p.SNR, 2)
	}
}

func TestPickMissingSeriesFlagged(t *testing.T) {
	table := pickTable(t)
	ev := centreEvent(table, pickT0)
	series := arrivalSeries(table, ev.Hypocentre, pickT0)

	pk, err := NewPicker(table, series[:3], pickConfig())
	require.NoError(t, err)

	picks := pk.PickEvent(ev)
	require.Len(t, picks, 4)
	for _, p := range picks[:3] {
		require.True(t, p.Valid)
	}
	require.False(t, picks[3].Valid)
	require.Contains(t, picks[3].Reason, "no onset series")
}

func TestPickFlatSeriesFlagged(t *testing.T) {
	table := pickTable(t)
	ev := centreEvent(table, pickT0)
	series := arrivalSeries(table, ev.Hypocentre, pickT0)

	// A flat onset has no peak above its own floor, so the fit seeds at
	// zero amplitude and cannot converge.
	for i := range series[1].Values {
		series[1].Values[i] = 1
	}

	pk, err := NewPicker(table, series, pickConfig())
	require.NoError(t, err)

	picks := pk.PickEvent(ev)
	require.False(t, picks[1].Valid)
	require.Contains(t, picks[1].Reason, "did not converge")
	require.True(t, picks[0].Valid)
}

func TestPickGapFlagged(t *testing.T) {
	table := pickTable(t)
	ev := centreEvent(table, pickT0)
	series := arrivalSeries(table, ev.Hypocentre, pickT0)

	// Knock out the whole pick window around the arrival at sample 210.
	for i := 150; i < 280; i++ {
		series[2].Valid[i] = false
	}

	pk, err := NewPicker(table, series, pickConfig())
	require.NoError(t, err)

	picks := pk.PickEvent(ev)
	require.False(t, picks[2].Valid)
	require.Contains(t, picks[2].Reason, "valid onset samples")
}

func TestPickMinSNRGate(t *testing.T) {
	table := pickTable(t)
	ev := centreEvent(table, pickT0)
	series := arrivalSeries(table, ev.Hypocentre, pickT0)

	cfg := pickConfig()
	cfg.MinSNR = 20
	pk, err := NewPicker(table, series, cfg)
	require.NoError(t, err)

	arrival := pickT0.Add(100 * time.Millisecond)
	for _, p := range pk.PickEvent(ev) {
		require.False(t, p.Valid)
		require.Contains(t, p.Reason, "below minimum")
		// The measurement survives the gate; only the flag changes.
		require.Greater(t, p.SNR, 0.0)
		require.Greater(t, p.Error, 0.0)
		require.LessOrEqual(t, p.Time.Sub(arrival).Abs(), 2*time.Millisecond)
	}
}

func TestNewPickerValidation(t *testing.T) {
	table := pickTable(t)
	cases := []struct {
		name string
		mut  func(*Config)
	}{
		{"zero window", func(c *Config) { c.Window = 0 }},
		{"negative fraction", func(c *Config) { c.FractionTT = -1 }},
		{"zero noise window", func(c *Config) { c.NoiseWindow = 0 }},
		{"bad noise mode", func(c *Config) { c.Noise = NoiseMode(9) }},
		{"negative iterations", func(c *Config) { c.MaxIter = -1 }},
		{"negative min snr", func(c *Config) { c.MinSNR = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := pickConfig()
			tc.mut(&cfg)
			_, err := NewPicker(table, nil, cfg)
			require.Error(t, err)
		})
	}

	t.Run("nil table", func(t *testing.T) {
		_, err := NewPicker(nil, nil, pickConfig())
		require.Error(t, err)
	})

	t.Run("duplicate series", func(t *testing.T) {
		series := arrivalSeries(table, table.Grid.Coords(37), pickT0)
		_, err := NewPicker(table, append(series, series[0]), pickConfig())
		require.Error(t, err)
		require.Contains(t, err.Error(), "duplicate")
	})

	t.Run("unknown station ignored", func(t *testing.T) {
		series := arrivalSeries(table, table.Grid.Coords(37), pickT0)
		series[0].Station = "NOPE"
		pk, err := NewPicker(table, series, pickConfig())
		require.NoError(t, err)
		picks := pk.PickEvent(centreEvent(table, pickT0))
		require.False(t, picks[0].Valid)
		require.Contains(t, picks[0].Reason, "no onset series")
	})
}

func TestFitGaussianRecoversParameters(t *testing.T) {
	var ts, ys []float64
	for i := 0; i <= 200; i++ {
		x := float64(i) * 0.01
		ts = append(ts, x)
		ys = append(ys, 3*math.Exp(-(x-0.7)*(x-0.7)/(2*0.09*0.09)))
	}
	fit := fitGaussian(ts, ys, 50)
	require.True(t, fit.Converged)
	require.InDelta(t, 3, fit.A, 1e-6)
	require.InDelta(t, 0.7, fit.Mu, 1e-6)
	require.InDelta(t, 0.09, fit.Sigma, 1e-6)
}

func TestFitGaussianDegenerate(t *testing.T) {
	t.Run("too short", func(t *testing.T) {
		fit := fitGaussian([]float64{0, 1, 2}, []float64{0, 1, 0}, 50)
		require.False(t, fit.Converged)
	})
	t.Run("all zero", func(t *testing.T) {
		fit := fitGaussian([]float64{0, 1, 2, 3}, []float64{0, 0, 0, 0}, 50)
		require.False(t, fit.Converged)
	})
	t.Run("mismatched lengths", func(t *testing.T) {
		fit := fitGaussian([]float64{0, 1, 2, 3}, []float64{0, 1}, 50)
		require.False(t, fit.Converged)
	})
	t.Run("negative values", func(t *testing.T) {
		fit := fitGaussian([]float64{0, 1, 2, 3}, []float64{-1, -2, -3, -4}, 50)
		require.False(t, fit.Converged)
	})
}

func TestParseNoiseMode(t *testing.T) {
	m, err := ParseNoiseMode("rms")
	require.NoError(t, err)
	require.Equal(t, NoiseRMS, m)

	m, err = ParseNoiseMode("std")
	require.NoError(t, err)
	require.Equal(t, NoiseSTD, m)

	_, err = ParseNoiseMode("median")
	require.Error(t, err)
}

func TestNoiseLevel(t *testing.T) {
	require.InDelta(t, math.Sqrt(12.5), noiseLevel([]float64{3, 4}, NoiseRMS), 1e-12)
	require.InDelta(t, 1, noiseLevel([]float64{1, 2, 3}, NoiseSTD), 1e-12)
	require.Equal(t, 0.0, noiseLevel(nil, NoiseRMS))
}
