// Package alerts evaluates RSI readings against subscription rules and
// guild-wide auto-scan bands, and assembles the cycle results handed to the
// notification layer.
package alerts

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"rsi-alert-service/models"
)

// Rule is the resolved alerting rule for one subscription: the stored
// condition plus the guild-level mode, hysteresis and effective cooldown.
type Rule struct {
	Condition  string // UNDER or OVER
	Threshold  decimal.Decimal
	Hysteresis decimal.Decimal
	AlertMode  string // CROSSING or LEVEL
	Cooldown   time.Duration
}

// InZone reports whether an RSI value is inside the rule's alert zone.
// Both boundaries are strict: UNDER means rsi < threshold, OVER means
// rsi > threshold.
func (r Rule) InZone(rsi decimal.Decimal) bool {
	if r.Condition == models.ConditionOver {
		return rsi.GreaterThan(r.Threshold)
	}
	return rsi.LessThan(r.Threshold)
}

// rearms reports whether an RSI value has left the zone far enough to re-arm
// a crossing rule. The re-arm boundary is inclusive: with threshold 30 and
// hysteresis 2, an UNDER rule re-arms at exactly 32.
func (r Rule) rearms(rsi decimal.Decimal) bool {
	if r.Condition == models.ConditionOver {
		return rsi.LessThanOrEqual(r.Threshold.Sub(r.Hysteresis))
	}
	return rsi.GreaterThanOrEqual(r.Threshold.Add(r.Hysteresis))
}

// Outcome is the result of evaluating one reading against one rule.
type Outcome struct {
	Next        models.SubscriptionState
	Fired       bool
	JustCrossed bool
}

// DayLabel renders the in-zone duration for alert text: "just crossed" on
// the first qualifying day, "day N" afterwards.
func (o Outcome) DayLabel() string {
	if o.Next.DaysInZone <= 1 {
		return "just crossed"
	}
	return fmt.Sprintf("day %d", o.Next.DaysInZone)
}

// Evaluate applies one reading to a subscription's stored state under the
// given rule. It is pure: the passed state is not modified, all persistence
// is the caller's job.
//
// In CROSSING mode the rule disarms on zone entry whether or not the alert
// itself was suppressed by cooldown, so a cooldown-suppressed crossing does
// not fire later without leaving the zone first. In LEVEL mode arming is
// ignored and the rule fires on any in-zone evaluation once the cooldown has
// elapsed.
func Evaluate(state models.SubscriptionState, rsi decimal.Decimal, dataDate string, rule Rule, now time.Time) Outcome {
	next := state
	next.LastRSI = &rsi
	next.UpdatedAt = now

	inZone := rule.InZone(rsi)
	wasInZone := state.InZone
	next.InZone = inZone

	if inZone {
		switch {
		case !wasInZone:
			next.DaysInZone = 1
		case dataDate != state.LastDataDate:
			next.DaysInZone = state.DaysInZone + 1
		}
	} else {
		next.DaysInZone = 0
	}
	next.LastDataDate = dataDate

	cooldownOver := state.LastAlertAt == nil || now.Sub(*state.LastAlertAt) >= rule.Cooldown

	fired := false
	if inZone {
		if rule.AlertMode == models.ModeLevel {
			fired = cooldownOver
		} else {
			fired = state.Armed && cooldownOver
			if state.Armed {
				next.Armed = false
			}
		}
	} else if rule.AlertMode != models.ModeLevel && !state.Armed && rule.rearms(rsi) {
		next.Armed = true
	}

	if fired {
		at := now
		next.LastAlertAt = &at
	}

	return Outcome{
		Next:        next,
		Fired:       fired,
		JustCrossed: inZone && next.DaysInZone == 1,
	}
}
