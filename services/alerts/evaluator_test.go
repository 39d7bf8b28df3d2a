package alerts

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"rsi-alert-service/models"
)

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func crossingRule(threshold, hysteresis float64, cooldown time.Duration) Rule {
	return Rule{
		Condition:  models.ConditionUnder,
		Threshold:  dec(threshold),
		Hysteresis: dec(hysteresis),
		AlertMode:  models.ModeCrossing,
		Cooldown:   cooldown,
	}
}

func TestEvaluateDoesNotMutateInput(t *testing.T) {
	state := models.NewSubscriptionState(1)
	rule := crossingRule(30, 2, 0)
	now := time.Date(2026, 8, 26, 18, 30, 0, 0, time.UTC)

	_ = Evaluate(state, dec(25), "2026-08-26", rule, now)

	if !state.Armed || state.InZone || state.LastRSI != nil || state.DaysInZone != 0 {
		t.Fatal("Evaluate must not modify the passed state")
	}
}

func TestCrossingFiresOnceUntilRearmed(t *testing.T) {
	rule := crossingRule(30, 2, 0)
	now := time.Date(2026, 8, 26, 18, 30, 0, 0, time.UTC)

	state := models.NewSubscriptionState(1)

	// First evaluation inside the zone fires.
	out := Evaluate(state, dec(25), "2026-08-26", rule, now)
	if !out.Fired {
		t.Fatal("first in-zone evaluation should fire")
	}
	if out.Next.Armed {
		t.Fatal("crossing should disarm after firing")
	}

	// Staying in the zone does not fire again.
	out = Evaluate(out.Next, dec(24), "2026-08-27", rule, now.Add(24*time.Hour))
	if out.Fired {
		t.Fatal("disarmed rule must not fire while still in zone")
	}
}

func TestCrossingHysteresisSequence(t *testing.T) {
	// Threshold 30, hysteresis 2, cooldown 0. The sequence
	// 25, 31, 29, 32, 29 must produce exactly two alerts: 31 and 29 sit
	// inside the hysteresis band, 32 re-arms.
	rule := crossingRule(30, 2, 0)
	now := time.Date(2026, 8, 26, 18, 30, 0, 0, time.UTC)

	steps := []struct {
		rsi      float64
		wantFire bool
	}{
		{25, true},
		{31, false},
		{29, false},
		{32, false},
		{29, true},
	}

	state := models.NewSubscriptionState(1)
	fired := 0
	for i, step := range steps {
		out := Evaluate(state, dec(step.rsi), now.Format("2006-01-02"), rule, now)
		if out.Fired != step.wantFire {
			t.Fatalf("step %d (rsi=%v): fired=%v, want %v", i, step.rsi, out.Fired, step.wantFire)
		}
		if out.Fired {
			fired++
		}
		state = out.Next
		now = now.Add(24 * time.Hour)
	}
	if fired != 2 {
		t.Fatalf("expected exactly 2 alerts, got %d", fired)
	}
}

func TestRearmBoundaryIsInclusive(t *testing.T) {
	rule := crossingRule(30, 2, 0)
	now := time.Date(2026, 8, 26, 18, 30, 0, 0, time.UTC)

	state := models.NewSubscriptionState(1)
	state.Armed = false
	state.InZone = false

	out := Evaluate(state, dec(32), "2026-08-26", rule, now)
	if !out.Next.Armed {
		t.Fatal("rsi exactly at threshold+hysteresis should re-arm")
	}

	state.Armed = false
	out = Evaluate(state, dec(31.99), "2026-08-26", rule, now)
	if out.Next.Armed {
		t.Fatal("rsi inside the hysteresis band must not re-arm")
	}
}

func TestCooldownSuppressedCrossingStillDisarms(t *testing.T) {
	rule := crossingRule(30, 2, 24*time.Hour)
	now := time.Date(2026, 8, 26, 18, 30, 0, 0, time.UTC)

	recent := now.Add(-time.Hour)
	state := models.NewSubscriptionState(1)
	state.LastAlertAt = &recent

	out := Evaluate(state, dec(25), "2026-08-26", rule, now)
	if out.Fired {
		t.Fatal("cooldown should suppress the alert")
	}
	if out.Next.Armed {
		t.Fatal("zone entry must disarm even when the alert was suppressed")
	}

	// After the cooldown expires the rule is still disarmed, so no late
	// fire without leaving the zone first.
	out = Evaluate(out.Next, dec(25), "2026-08-28", rule, now.Add(48*time.Hour))
	if out.Fired {
		t.Fatal("suppressed crossing must not fire later while still in zone")
	}
}

func TestLevelModeRespectsCooldown(t *testing.T) {
	rule := crossingRule(30, 2, 24*time.Hour)
	rule.AlertMode = models.ModeLevel
	now := time.Date(2026, 8, 26, 18, 30, 0, 0, time.UTC)

	state := models.NewSubscriptionState(1)

	out := Evaluate(state, dec(25), "2026-08-26", rule, now)
	if !out.Fired {
		t.Fatal("level mode should fire on first in-zone evaluation")
	}

	// Next day, cooldown not yet elapsed.
	out = Evaluate(out.Next, dec(26), "2026-08-27", rule, now.Add(12*time.Hour))
	if out.Fired {
		t.Fatal("level mode must respect cooldown")
	}

	// Cooldown elapsed, still in zone: fires again without re-arming.
	out = Evaluate(out.Next, dec(26), "2026-08-28", rule, now.Add(25*time.Hour))
	if !out.Fired {
		t.Fatal("level mode should fire again after cooldown while in zone")
	}
}

func TestLevelModeZeroCooldownFiresEveryCycle(t *testing.T) {
	rule := crossingRule(30, 2, 0)
	rule.AlertMode = models.ModeLevel
	now := time.Date(2026, 8, 26, 18, 30, 0, 0, time.UTC)

	state := models.NewSubscriptionState(1)
	for i := 0; i < 3; i++ {
		out := Evaluate(state, dec(25), now.Format("2006-01-02"), rule, now)
		if !out.Fired {
			t.Fatalf("cycle %d: level mode with zero cooldown should fire", i)
		}
		state = out.Next
		now = now.Add(time.Hour)
	}
}

func TestDaysInZoneCountsTradingDays(t *testing.T) {
	rule := crossingRule(30, 2, 0)
	now := time.Date(2026, 8, 24, 18, 30, 0, 0, time.UTC)

	state := models.NewSubscriptionState(1)

	out := Evaluate(state, dec(25), "2026-08-24", rule, now)
	if out.Next.DaysInZone != 1 || out.DayLabel() != "just crossed" {
		t.Fatalf("first day: days=%d label=%q", out.Next.DaysInZone, out.DayLabel())
	}

	// Second scan the same trading day must not increment.
	out = Evaluate(out.Next, dec(26), "2026-08-24", rule, now.Add(time.Hour))
	if out.Next.DaysInZone != 1 {
		t.Fatalf("same data date: days=%d, want 1", out.Next.DaysInZone)
	}

	// New trading day increments.
	out = Evaluate(out.Next, dec(27), "2026-08-25", rule, now.Add(24*time.Hour))
	if out.Next.DaysInZone != 2 || out.DayLabel() != "day 2" {
		t.Fatalf("second day: days=%d label=%q", out.Next.DaysInZone, out.DayLabel())
	}

	// Leaving the zone resets the counter.
	out = Evaluate(out.Next, dec(35), "2026-08-26", rule, now.Add(48*time.Hour))
	if out.Next.DaysInZone != 0 {
		t.Fatalf("out of zone: days=%d, want 0", out.Next.DaysInZone)
	}

	// Re-entering starts at day 1 again.
	out = Evaluate(out.Next, dec(25), "2026-08-27", rule, now.Add(72*time.Hour))
	if out.Next.DaysInZone != 1 {
		t.Fatalf("re-entry: days=%d, want 1", out.Next.DaysInZone)
	}
}

func TestOverConditionZoneAndRearm(t *testing.T) {
	rule := Rule{
		Condition:  models.ConditionOver,
		Threshold:  dec(70),
		Hysteresis: dec(2),
		AlertMode:  models.ModeCrossing,
		Cooldown:   0,
	}
	now := time.Date(2026, 8, 26, 18, 30, 0, 0, time.UTC)

	state := models.NewSubscriptionState(1)

	// Exactly at threshold is not in zone.
	out := Evaluate(state, dec(70), "2026-08-26", rule, now)
	if out.Fired || out.Next.InZone {
		t.Fatal("rsi exactly at threshold must not be in an OVER zone")
	}

	out = Evaluate(out.Next, dec(71), "2026-08-27", rule, now)
	if !out.Fired {
		t.Fatal("rsi above threshold should fire")
	}

	// 69 is inside the hysteresis band, 68 re-arms.
	out = Evaluate(out.Next, dec(69), "2026-08-28", rule, now)
	if out.Next.Armed {
		t.Fatal("69 must not re-arm an OVER 70 rule with hysteresis 2")
	}
	out = Evaluate(out.Next, dec(68), "2026-08-29", rule, now)
	if !out.Next.Armed {
		t.Fatal("68 should re-arm an OVER 70 rule with hysteresis 2")
	}
}
