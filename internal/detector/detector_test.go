package detector

import (
	"testing"
	"time"

	"frameworks/api_lookout/internal/stats"
	"frameworks/api_lookout/pkg/models"
)

func warmStats(mean, stddev float64) stats.Stats {
	return stats.Stats{Count: 60, Mean: mean, Stddev: stddev, IsWarm: true}
}

func TestColdBufferNeverFires(t *testing.T) {
	t.Parallel()

	// 29 steady samples then one wild outlier: the window only just became
	// warm and confirmation needs a second hot sample, so nothing fires.
	b := stats.NewBuffer(120, 30)
	d := New(Config{Cooldown: 0})
	now := time.Unix(0, 0)

	for i := 0; i < 29; i++ {
		b.Add(stats.Sample{Value: 100, Timestamp: int64(i)})
		if res := d.Process(100, b.Stats(), now); res != nil {
			t.Fatalf("fired on cold buffer at sample %d: %+v", i, res)
		}
	}

	b.Add(stats.Sample{Value: 10000, Timestamp: 29})
	if res := d.Process(10000, b.Stats(), now); res != nil {
		t.Fatalf("fired on first hot sample without confirmation: %+v", res)
	}
}

func TestConsecutiveConfirmationAndCooldown(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		cooldown  time.Duration
		wantFires int
	}{
		{name: "no cooldown", cooldown: 0, wantFires: 2},
		{name: "10s cooldown", cooldown: 10 * time.Second, wantFires: 1},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := New(Config{WarnZ: 2, CritZ: 3, ConsecutiveRequired: 2, Cooldown: tt.cooldown})
			st := warmStats(100, 5)
			now := time.Unix(1000, 0)

			fires := 0
			for i, v := range []float64{140, 145, 150} {
				if res := d.Process(v, st, now.Add(time.Duration(i)*time.Second)); res != nil {
					fires++
					if res.Severity != models.SeverityCritical {
						t.Fatalf("severity = %s, want critical", res.Severity)
					}
				}
			}
			if fires != tt.wantFires {
				t.Fatalf("fires = %d, want %d", fires, tt.wantFires)
			}
		})
	}
}

func TestWarningThenCriticalBypassesCooldown(t *testing.T) {
	t.Parallel()

	d := New(Config{WarnZ: 2, CritZ: 3, ConsecutiveRequired: 1, Cooldown: 30 * time.Second})
	st := warmStats(100, 10)
	now := time.Unix(1000, 0)

	res := d.Process(125, st, now) // z = 2.5, warning
	if res == nil || res.Severity != models.SeverityWarning {
		t.Fatalf("first sample = %+v, want warning", res)
	}

	// Same severity inside the window is suppressed.
	if res := d.Process(126, st, now.Add(time.Second)); res != nil {
		t.Fatalf("repeat warning fired inside cooldown: %+v", res)
	}

	// Escalation to critical fires immediately.
	res = d.Process(150, st, now.Add(2*time.Second)) // z = 5
	if res == nil || res.Severity != models.SeverityCritical {
		t.Fatalf("escalation = %+v, want critical", res)
	}
}

func TestZeroStddevUsesAbsoluteBoundsOnly(t *testing.T) {
	t.Parallel()

	warn, crit := 1.5, 2.0
	d := New(Config{
		WarnAbs:             &warn,
		CritAbs:             &crit,
		ConsecutiveRequired: 1,
		Cooldown:            0,
	})
	st := warmStats(1.0, 0)

	if res := d.Process(1.2, st, time.Unix(0, 0)); res != nil {
		t.Fatalf("fired below absolute bounds with zero stddev: %+v", res)
	}

	res := d.Process(1.7, st, time.Unix(1, 0))
	if res == nil || res.Severity != models.SeverityWarning {
		t.Fatalf("result = %+v, want warning at absolute bound", res)
	}
	if res.Threshold != warn {
		t.Fatalf("threshold = %v, want %v", res.Threshold, warn)
	}

	res = d.Process(2.5, st, time.Unix(2, 0))
	if res == nil || res.Severity != models.SeverityCritical {
		t.Fatalf("result = %+v, want critical at absolute bound", res)
	}
}

func TestDirectionGate(t *testing.T) {
	t.Parallel()

	d := New(Config{WarnZ: 2, CritZ: 3, ConsecutiveRequired: 1, Direction: DirectionSpikeOnly})
	st := warmStats(100, 5)

	if res := d.Process(60, st, time.Unix(0, 0)); res != nil {
		t.Fatalf("spike-only detector fired on drop: %+v", res)
	}

	res := d.Process(140, st, time.Unix(1, 0))
	if res == nil || res.Kind != models.KindSpike {
		t.Fatalf("result = %+v, want spike", res)
	}
}

func TestBelowBandResetsConfirmation(t *testing.T) {
	t.Parallel()

	d := New(Config{WarnZ: 2, CritZ: 3, ConsecutiveRequired: 2, Cooldown: 0})
	st := warmStats(100, 5)

	if res := d.Process(140, st, time.Unix(0, 0)); res != nil {
		t.Fatalf("unconfirmed sample fired: %+v", res)
	}
	// Normal sample breaks the streak.
	if res := d.Process(101, st, time.Unix(1, 0)); res != nil {
		t.Fatalf("normal sample fired: %+v", res)
	}
	// A fresh excursion needs confirmation again.
	if res := d.Process(140, st, time.Unix(2, 0)); res != nil {
		t.Fatalf("streak survived a normal sample: %+v", res)
	}
	if res := d.Process(141, st, time.Unix(3, 0)); res == nil {
		t.Fatal("confirmed excursion did not fire")
	}
}

func TestDropKindAndZSign(t *testing.T) {
	t.Parallel()

	d := New(Config{WarnZ: 2, CritZ: 3, ConsecutiveRequired: 1})
	st := warmStats(100, 10)

	res := d.Process(65, st, time.Unix(0, 0)) // z = -3.5
	if res == nil {
		t.Fatal("drop excursion did not fire")
	}
	if res.Kind != models.KindDrop {
		t.Fatalf("kind = %s, want drop", res.Kind)
	}
	if res.Severity != models.SeverityCritical {
		t.Fatalf("severity = %s, want critical", res.Severity)
	}
	if res.ZScore >= 0 {
		t.Fatalf("z = %v, want negative", res.ZScore)
	}
}
