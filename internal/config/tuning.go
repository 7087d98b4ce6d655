package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glacier-data/quakescan/internal/locate"
	"github.com/glacier-data/quakescan/internal/onset"
	"github.com/glacier-data/quakescan/internal/pick"
	"github.com/glacier-data/quakescan/internal/scan"
	"github.com/glacier-data/quakescan/internal/trigger"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig is the root configuration for the detection pipeline. Every
// field is a pointer so a JSON file can override any subset of parameters;
// nil fields fall back to the defaults baked into the Get* methods. Duration
// fields are strings like "200ms" or "5m".
type TuningConfig struct {
	// Scan params
	TickRate  *float64 `json:"tick_rate,omitempty"`  // coalescence ticks per second
	StackMode *string  `json:"stack_mode,omitempty"` // "sum" or "product"
	Normalise *bool    `json:"normalise,omitempty"`
	Workers   *int     `json:"workers,omitempty"`  // 0 = GOMAXPROCS
	Decimate  *int     `json:"decimate,omitempty"` // grid decimation for continuous detection

	// Phase / onset params
	Phases   *string  `json:"phases,omitempty"` // comma separated, e.g. "P,S"
	PSta     *string  `json:"p_sta,omitempty"`
	PLta     *string  `json:"p_lta,omitempty"`
	PLowCut  *float64 `json:"p_lowcut,omitempty"` // Hz, 0 disables the bandpass
	PHighCut *float64 `json:"p_highcut,omitempty"`
	SSta     *string  `json:"s_sta,omitempty"`
	SLta     *string  `json:"s_lta,omitempty"`
	SLowCut  *float64 `json:"s_lowcut,omitempty"`
	SHighCut *float64 `json:"s_highcut,omitempty"`

	// Trigger params
	ThresholdMethod  *string  `json:"threshold_method,omitempty"` // "static" or "mad"
	StaticThreshold  *float64 `json:"static_threshold,omitempty"`
	MADScale         *float64 `json:"mad_scale,omitempty"`
	MinEventInterval *string  `json:"min_event_interval,omitempty"`
	MinContributors  *int     `json:"min_contributors,omitempty"`
	TriggerInterval  *string  `json:"trigger_interval,omitempty"` // worker cadence
	TriggerWindow    *string  `json:"trigger_window,omitempty"`   // worker lookback

	// Locate params
	MarginalWindow *string  `json:"marginal_window,omitempty"`
	CollapseMode   *string  `json:"collapse_mode,omitempty"` // "sum" or "max"
	Upsample       *int     `json:"upsample,omitempty"`
	LocateTickRate *float64 `json:"locate_tick_rate,omitempty"` // 0 inherits tick_rate

	// Pick params
	PickWindow       *string  `json:"pick_window,omitempty"`
	FractionTT       *float64 `json:"fraction_tt,omitempty"`
	NoiseWindow      *string  `json:"noise_window,omitempty"`
	NoiseMeasure     *string  `json:"noise_measure,omitempty"` // "rms" or "std"
	MaxFitIterations *int     `json:"max_fit_iterations,omitempty"`
	MinSNR           *float64 `json:"min_snr,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// DefaultTuningConfig returns a config with every field set to its default.
// The values mirror config/tuning.defaults.json.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		TickRate:  ptrFloat64(50),
		StackMode: ptrString("sum"),
		Normalise: ptrBool(true),
		Workers:   ptrInt(0),
		Decimate:  ptrInt(1),

		Phases:   ptrString("P,S"),
		PSta:     ptrString("200ms"),
		PLta:     ptrString("1s"),
		PLowCut:  ptrFloat64(0),
		PHighCut: ptrFloat64(0),
		SSta:     ptrString("200ms"),
		SLta:     ptrString("1s"),
		SLowCut:  ptrFloat64(0),
		SHighCut: ptrFloat64(0),

		ThresholdMethod:  ptrString("static"),
		StaticThreshold:  ptrFloat64(1.75),
		MADScale:         ptrFloat64(8),
		MinEventInterval: ptrString("4s"),
		MinContributors:  ptrInt(0),
		TriggerInterval:  ptrString("5m"),
		TriggerWindow:    ptrString("15m"),

		MarginalWindow: ptrString("1s"),
		CollapseMode:   ptrString("max"),
		Upsample:       ptrInt(10),
		LocateTickRate: ptrFloat64(0),

		PickWindow:       ptrString("1s"),
		FractionTT:       ptrFloat64(0.1),
		NoiseWindow:      ptrString("5s"),
		NoiseMeasure:     ptrString("rms"),
		MaxFitIterations: ptrInt(50),
		MinSNR:           ptrFloat64(0),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size. Fields omitted from the JSON file retain their default
// values, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into an empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := &TuningConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from
// DefaultConfigPath. It searches for the file in the current directory and
// common parent directories. Panics if the file cannot be loaded, intended
// for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Fingerprint returns a short stable hash of the effective configuration,
// recorded with every pipeline run so stored results can be traced back to
// the parameters that produced them.
func (c *TuningConfig) Fingerprint() string {
	data, err := json.Marshal(c)
	if err != nil {
		return "unknown"
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:12]
}

// Validate checks every field that is set. Nil fields are always valid
// because the getters substitute defaults.
func (c *TuningConfig) Validate() error {
	if c.TickRate != nil && *c.TickRate <= 0 {
		return fmt.Errorf("tick_rate must be positive, got %g", *c.TickRate)
	}
	if c.StackMode != nil {
		if _, err := scan.ParseStackMode(*c.StackMode); err != nil {
			return err
		}
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	if c.Decimate != nil && *c.Decimate < 1 {
		return fmt.Errorf("decimate must be at least 1, got %d", *c.Decimate)
	}

	if c.Phases != nil {
		phases := splitPhases(*c.Phases)
		if len(phases) == 0 {
			return fmt.Errorf("phases must name at least one phase")
		}
		for _, p := range phases {
			if p != "P" && p != "S" {
				return fmt.Errorf("unknown phase %q (want P or S)", p)
			}
		}
	}
	for _, w := range []struct {
		name string
		val  *string
	}{
		{"p_sta", c.PSta}, {"p_lta", c.PLta}, {"s_sta", c.SSta}, {"s_lta", c.SLta},
		{"min_event_interval", c.MinEventInterval},
		{"trigger_interval", c.TriggerInterval}, {"trigger_window", c.TriggerWindow},
		{"marginal_window", c.MarginalWindow},
		{"pick_window", c.PickWindow}, {"noise_window", c.NoiseWindow},
	} {
		if w.val == nil || *w.val == "" {
			continue
		}
		d, err := time.ParseDuration(*w.val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", w.name, *w.val, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %v", w.name, d)
		}
	}
	for _, b := range []struct {
		name      string
		low, high *float64
	}{
		{"p", c.PLowCut, c.PHighCut},
		{"s", c.SLowCut, c.SHighCut},
	} {
		low, high := 0.0, 0.0
		if b.low != nil {
			low = *b.low
		}
		if b.high != nil {
			high = *b.high
		}
		if low == 0 && high == 0 {
			continue
		}
		if low < 0 || high <= low {
			return fmt.Errorf("%s_lowcut/%s_highcut must satisfy 0 <= low < high, got %g/%g", b.name, b.name, low, high)
		}
	}

	if c.ThresholdMethod != nil {
		if _, err := trigger.ParseMethod(*c.ThresholdMethod); err != nil {
			return err
		}
	}
	if c.StaticThreshold != nil && *c.StaticThreshold <= 0 {
		return fmt.Errorf("static_threshold must be positive, got %g", *c.StaticThreshold)
	}
	if c.MADScale != nil && *c.MADScale <= 0 {
		return fmt.Errorf("mad_scale must be positive, got %g", *c.MADScale)
	}
	if c.MinContributors != nil && *c.MinContributors < 0 {
		return fmt.Errorf("min_contributors must be non-negative, got %d", *c.MinContributors)
	}

	if c.CollapseMode != nil {
		if _, err := locate.ParseCollapseMode(*c.CollapseMode); err != nil {
			return err
		}
	}
	if c.Upsample != nil && *c.Upsample < 0 {
		return fmt.Errorf("upsample must be non-negative, got %d", *c.Upsample)
	}
	if c.LocateTickRate != nil && *c.LocateTickRate < 0 {
		return fmt.Errorf("locate_tick_rate must be non-negative, got %g", *c.LocateTickRate)
	}

	if c.FractionTT != nil && *c.FractionTT < 0 {
		return fmt.Errorf("fraction_tt must be non-negative, got %g", *c.FractionTT)
	}
	if c.NoiseMeasure != nil {
		if _, err := pick.ParseNoiseMode(*c.NoiseMeasure); err != nil {
			return err
		}
	}
	if c.MaxFitIterations != nil && *c.MaxFitIterations < 0 {
		return fmt.Errorf("max_fit_iterations must be non-negative, got %d", *c.MaxFitIterations)
	}
	if c.MinSNR != nil && *c.MinSNR < 0 {
		return fmt.Errorf("min_snr must be non-negative, got %g", *c.MinSNR)
	}
	return nil
}

// duration parses p, falling back to def when p is nil, empty, or invalid.
func duration(p *string, def time.Duration) time.Duration {
	if p == nil || *p == "" {
		return def
	}
	d, err := time.ParseDuration(*p)
	if err != nil {
		return def
	}
	return d
}

func splitPhases(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// GetTickRate returns the tick_rate value or the default.
func (c *TuningConfig) GetTickRate() float64 {
	if c.TickRate == nil {
		return 50
	}
	return *c.TickRate
}

// GetStackMode returns the parsed stack_mode value or the default.
func (c *TuningConfig) GetStackMode() scan.StackMode {
	if c.StackMode == nil {
		return scan.StackSum
	}
	m, err := scan.ParseStackMode(*c.StackMode)
	if err != nil {
		return scan.StackSum
	}
	return m
}

// GetNormalise returns the normalise value or the default.
func (c *TuningConfig) GetNormalise() bool {
	if c.Normalise == nil {
		return true
	}
	return *c.Normalise
}

// GetWorkers returns the workers value or the default.
func (c *TuningConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// GetDecimate returns the decimate value or the default.
func (c *TuningConfig) GetDecimate() int {
	if c.Decimate == nil || *c.Decimate < 1 {
		return 1
	}
	return *c.Decimate
}

// GetPhases returns the phase list or the default.
func (c *TuningConfig) GetPhases() []string {
	if c.Phases == nil {
		return []string{"P", "S"}
	}
	phases := splitPhases(*c.Phases)
	if len(phases) == 0 {
		return []string{"P", "S"}
	}
	return phases
}

// GetThresholdMethod returns the parsed threshold_method value or the default.
func (c *TuningConfig) GetThresholdMethod() trigger.Method {
	if c.ThresholdMethod == nil {
		return trigger.Static
	}
	m, err := trigger.ParseMethod(*c.ThresholdMethod)
	if err != nil {
		return trigger.Static
	}
	return m
}

// GetStaticThreshold returns the static_threshold value or the default.
func (c *TuningConfig) GetStaticThreshold() float64 {
	if c.StaticThreshold == nil {
		return 1.75
	}
	return *c.StaticThreshold
}

// GetMADScale returns the mad_scale value or the default.
func (c *TuningConfig) GetMADScale() float64 {
	if c.MADScale == nil {
		return 8
	}
	return *c.MADScale
}

// GetMinEventInterval parses min_event_interval or returns the default.
func (c *TuningConfig) GetMinEventInterval() time.Duration {
	return duration(c.MinEventInterval, 4*time.Second)
}

// GetMinContributors returns the min_contributors value or the default.
func (c *TuningConfig) GetMinContributors() int {
	if c.MinContributors == nil {
		return 0
	}
	return *c.MinContributors
}

// GetTriggerInterval parses trigger_interval or returns the default.
func (c *TuningConfig) GetTriggerInterval() time.Duration {
	return duration(c.TriggerInterval, 5*time.Minute)
}

// GetTriggerWindow parses trigger_window or returns the default.
func (c *TuningConfig) GetTriggerWindow() time.Duration {
	return duration(c.TriggerWindow, 15*time.Minute)
}

// GetMarginalWindow parses marginal_window or returns the default.
func (c *TuningConfig) GetMarginalWindow() time.Duration {
	return duration(c.MarginalWindow, time.Second)
}

// GetCollapseMode returns the parsed collapse_mode value or the default.
// Max keeps the located node on the joint space-time maximum; sum weights
// the whole window, which favours nodes with smaller travel times.
func (c *TuningConfig) GetCollapseMode() locate.CollapseMode {
	if c.CollapseMode == nil {
		return locate.CollapseMax
	}
	m, err := locate.ParseCollapseMode(*c.CollapseMode)
	if err != nil {
		return locate.CollapseMax
	}
	return m
}

// GetUpsample returns the upsample value or the default.
func (c *TuningConfig) GetUpsample() int {
	if c.Upsample == nil || *c.Upsample == 0 {
		return 10
	}
	return *c.Upsample
}

// GetLocateTickRate returns locate_tick_rate, inheriting tick_rate when
// unset or zero.
func (c *TuningConfig) GetLocateTickRate() float64 {
	if c.LocateTickRate == nil || *c.LocateTickRate == 0 {
		return c.GetTickRate()
	}
	return *c.LocateTickRate
}

// GetNoiseMeasure returns the parsed noise_measure value or the default.
func (c *TuningConfig) GetNoiseMeasure() pick.NoiseMode {
	if c.NoiseMeasure == nil {
		return pick.NoiseRMS
	}
	m, err := pick.ParseNoiseMode(*c.NoiseMeasure)
	if err != nil {
		return pick.NoiseRMS
	}
	return m
}

// OnsetParams materialises per-phase STA/LTA windows and bandpass corners
// for every configured phase.
func (c *TuningConfig) OnsetParams() map[string]onset.PhaseParams {
	deref := func(p *float64) float64 {
		if p == nil {
			return 0
		}
		return *p
	}
	params := make(map[string]onset.PhaseParams)
	for _, phase := range c.GetPhases() {
		switch phase {
		case "P":
			params["P"] = onset.PhaseParams{
				STA:     duration(c.PSta, 200*time.Millisecond),
				LTA:     duration(c.PLta, time.Second),
				LowCut:  deref(c.PLowCut),
				HighCut: deref(c.PHighCut),
			}
		case "S":
			params["S"] = onset.PhaseParams{
				STA:     duration(c.SSta, 200*time.Millisecond),
				LTA:     duration(c.SLta, time.Second),
				LowCut:  deref(c.SLowCut),
				HighCut: deref(c.SHighCut),
			}
		}
	}
	return params
}

// ScanConfig materialises the continuous-detection scan configuration.
func (c *TuningConfig) ScanConfig() scan.Config {
	return scan.Config{
		TickRate:  c.GetTickRate(),
		Stack:     c.GetStackMode(),
		Normalise: c.GetNormalise(),
		Workers:   c.GetWorkers(),
	}
}

// TriggerConfig materialises the trigger configuration. Normalise follows
// the scan setting so the trigger thresholds the series the scan made
// canonical.
func (c *TuningConfig) TriggerConfig() trigger.Config {
	return trigger.Config{
		Method:      c.GetThresholdMethod(),
		Static:      c.GetStaticThreshold(),
		MADScale:    c.GetMADScale(),
		Normalise:   c.GetNormalise(),
		MinInterval: c.GetMinEventInterval(),
		MinContrib:  c.GetMinContributors(),
	}
}

// LocateConfig materialises the locator configuration. The marginal re-scan
// may tick finer than the detection scan via locate_tick_rate.
func (c *TuningConfig) LocateConfig() locate.Config {
	return locate.Config{
		MarginalWindow: c.GetMarginalWindow(),
		Collapse:       c.GetCollapseMode(),
		Upsample:       c.GetUpsample(),
		Scan: scan.Config{
			TickRate:  c.GetLocateTickRate(),
			Stack:     c.GetStackMode(),
			Normalise: c.GetNormalise(),
			Workers:   c.GetWorkers(),
		},
	}
}

// PickConfig materialises the picker configuration.
func (c *TuningConfig) PickConfig() pick.Config {
	return pick.Config{
		Window:      c.GetPickWindow(),
		FractionTT:  c.GetFractionTT(),
		NoiseWindow: c.GetNoiseWindow(),
		Noise:       c.GetNoiseMeasure(),
		MaxIter:     c.GetMaxFitIterations(),
		MinSNR:      c.GetMinSNR(),
	}
}

// GetPickWindow parses pick_window or returns the default.
func (c *TuningConfig) GetPickWindow() time.Duration {
	return duration(c.PickWindow, time.Second)
}

// GetFractionTT returns the fraction_tt value or the default.
func (c *TuningConfig) GetFractionTT() float64 {
	if c.FractionTT == nil {
		return 0.1
	}
	return *c.FractionTT
}

// GetNoiseWindow parses noise_window or returns the default.
func (c *TuningConfig) GetNoiseWindow() time.Duration {
	return duration(c.NoiseWindow, 5*time.Second)
}

// GetMaxFitIterations returns the max_fit_iterations value or the default.
func (c *TuningConfig) GetMaxFitIterations() int {
	if c.MaxFitIterations == nil || *c.MaxFitIterations == 0 {
		return 50
	}
	return *c.MaxFitIterations
}

// GetMinSNR returns the min_snr value or the default.
func (c *TuningConfig) GetMinSNR() float64 {
	if c.MinSNR == nil {
		return 0
	}
	return *c.MinSNR
}
