// Package detector classifies metric samples against their rolling
// baseline using a two-tier z-score band with warm-up, consecutive-sample
// confirmation, and per-severity cooldown.
package detector

import (
	"math"
	"time"

	"frameworks/api_lookout/internal/stats"
	"frameworks/api_lookout/pkg/models"
)

// Direction restricts which side of the baseline a detector fires on.
type Direction string

const (
	DirectionBoth      Direction = "both"
	DirectionSpikeOnly Direction = "spike-only"
	DirectionDropOnly  Direction = "drop-only"
)

// Config tunes one metric kind's detector.
type Config struct {
	WarnZ               float64
	CritZ               float64
	WarnAbs             *float64 // absolute warning bound (upper), optional
	CritAbs             *float64 // absolute critical bound (upper), optional
	ConsecutiveRequired int
	Cooldown            time.Duration
	Direction           Direction
}

// DefaultConfig returns the stock detector tuning.
func DefaultConfig() Config {
	return Config{
		WarnZ:               2.0,
		CritZ:               3.0,
		ConsecutiveRequired: 2,
		Cooldown:            30 * time.Second,
		Direction:           DirectionBoth,
	}
}

// Result is a confirmed anomaly candidate ready for event enrichment.
type Result struct {
	Kind      models.AnomalyKind
	Severity  models.Severity
	Value     float64
	Baseline  float64
	Stddev    float64
	ZScore    float64
	Threshold float64 // the z (or absolute bound) that was crossed
}

// Detector holds the confirmation state for one (connection, metric) pair.
// Not safe for concurrent use; the engine serialises per key.
type Detector struct {
	cfg          Config
	consecutive  int
	lastFireAt   time.Time
	lastSeverity models.Severity
}

// New creates a detector. Zero config fields inherit the defaults.
func New(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.WarnZ == 0 {
		cfg.WarnZ = def.WarnZ
	}
	if cfg.CritZ == 0 {
		cfg.CritZ = def.CritZ
	}
	if cfg.ConsecutiveRequired == 0 {
		cfg.ConsecutiveRequired = def.ConsecutiveRequired
	}
	if cfg.Direction == "" {
		cfg.Direction = def.Direction
	}
	return &Detector{cfg: cfg}
}

// Process runs the per-sample pipeline for the latest value against the
// buffer snapshot. Returns nil when no anomaly fires.
func (d *Detector) Process(value float64, st stats.Stats, now time.Time) *Result {
	if !st.IsWarm {
		return nil
	}

	var z float64
	if st.Stddev > 0 {
		z = (value - st.Mean) / st.Stddev
	}

	severity, threshold := d.classify(value, z, st.Stddev)
	if severity == "" {
		// Below both bands: the burst is over.
		d.consecutive = 0
		return nil
	}

	kind := models.KindSpike
	if value < st.Mean {
		kind = models.KindDrop
	}

	if !d.directionAllows(kind) {
		d.consecutive = 0
		return nil
	}

	d.consecutive++
	if d.consecutive < d.cfg.ConsecutiveRequired {
		return nil
	}

	if d.inCooldown(now, severity) {
		return nil
	}

	d.lastFireAt = now
	d.lastSeverity = severity

	return &Result{
		Kind:      kind,
		Severity:  severity,
		Value:     value,
		Baseline:  st.Mean,
		Stddev:    st.Stddev,
		ZScore:    z,
		Threshold: threshold,
	}
}

// classify returns the candidate severity and the threshold that was
// crossed, or ("", 0) when the sample sits below the warning band. With a
// zero stddev only the absolute bounds apply.
func (d *Detector) classify(value, z, stddev float64) (models.Severity, float64) {
	absZ := math.Abs(z)

	if d.cfg.CritAbs != nil && value >= *d.cfg.CritAbs {
		return models.SeverityCritical, *d.cfg.CritAbs
	}
	if stddev > 0 && absZ >= d.cfg.CritZ {
		return models.SeverityCritical, d.cfg.CritZ
	}
	if d.cfg.WarnAbs != nil && value >= *d.cfg.WarnAbs {
		return models.SeverityWarning, *d.cfg.WarnAbs
	}
	if stddev > 0 && absZ >= d.cfg.WarnZ {
		return models.SeverityWarning, d.cfg.WarnZ
	}
	return "", 0
}

func (d *Detector) directionAllows(kind models.AnomalyKind) bool {
	switch d.cfg.Direction {
	case DirectionSpikeOnly:
		return kind == models.KindSpike
	case DirectionDropOnly:
		return kind == models.KindDrop
	default:
		return true
	}
}

// inCooldown suppresses repeat firings of the same or lower severity
// within the cooldown window. A warning → critical escalation bypasses it.
func (d *Detector) inCooldown(now time.Time, severity models.Severity) bool {
	if d.lastFireAt.IsZero() || d.cfg.Cooldown <= 0 {
		return false
	}
	if now.Sub(d.lastFireAt) >= d.cfg.Cooldown {
		return false
	}
	return severity.Rank() <= d.lastSeverity.Rank()
}
