/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"time"

	"github.com/friendsincode/plugin_update_helper/internal/scheduler/interval"
)

// Option keys of the interval variant. OptLegacyUnit is the older name of
// the unit option and is still read when OptUnit is absent.
const (
	OptMultiplier = "multiplier"
	OptUnit       = "unit"
	OptLegacyUnit = "interval"
	OptStart      = "start"
)

// IntervalDefaults are applied before the submitted options.
func IntervalDefaults() Options {
	return Options{
		OptMultiplier: 24,
		OptUnit:       string(interval.UnitHour),
		OptStart:      Options{"date": "", "time": "12:00"},
	}
}

// IntervalTimer fires at every multiple of a fixed interval after its start.
type IntervalTimer struct {
	timerCore
	spec      interval.Spec
	startDate string
	startTime string
}

// NewIntervalTimer validates opts and builds an interval timer. An empty
// start date is materialized relative to now and kept from then on.
func NewIntervalTimer(id string, opts Options, now time.Time) (*IntervalTimer, error) {
	if _, ok := opts[OptUnit]; !ok {
		if legacy, ok := opts[OptLegacyUnit]; ok {
			opts = MergeOptions(opts, Options{OptUnit: legacy})
		}
	}
	merged := MergeOptions(IntervalDefaults(), opts)

	core, err := newTimerCore(id, merged)
	if err != nil {
		return nil, err
	}

	unit, err := interval.ParseUnit(merged.String(OptUnit))
	if err != nil {
		return nil, invalid(OptUnit, merged[OptUnit], "%v", err)
	}

	multiplier, _, err := merged.Int(OptMultiplier)
	if err != nil {
		return nil, invalid(OptMultiplier, merged[OptMultiplier], "%v", err)
	}
	if multiplier < 1 {
		return nil, invalid(OptMultiplier, merged[OptMultiplier], "must be at least 1")
	}
	if int64(multiplier) > interval.MaxMultiplier(unit) {
		return nil, invalid(OptMultiplier, merged[OptMultiplier], "interval too long for unit %s", unit)
	}

	start := merged.Sub(OptStart)
	date, clock := start.String("date"), start.String("time")
	if date != "" && !interval.ValidDate(date) {
		return nil, invalid("start.date", date, "expected YYYY-MM-DD")
	}
	if !interval.ValidClock(clock) {
		return nil, invalid("start.time", clock, "expected HH:MM")
	}

	startAt, date, err := interval.MaterializeStart(date, clock, now)
	if err != nil {
		return nil, invalid(OptStart, nil, "%v", err)
	}

	return &IntervalTimer{
		timerCore: core,
		spec:      interval.Spec{Multiplier: multiplier, Unit: unit, Start: startAt},
		startDate: date,
		startTime: clock,
	}, nil
}

func (t *IntervalTimer) Variant() Variant { return VariantInterval }

// Spec returns the interval definition.
func (t *IntervalTimer) Spec() interval.Spec { return t.spec }

func (t *IntervalTimer) NextRun() (time.Time, bool) {
	return t.spec.NextRun(t.lastRun), true
}

func (t *IntervalTimer) CountRunnable(now time.Time) int {
	return t.spec.CountRunnable(t.lastRun, now)
}

func (t *IntervalTimer) Record() Record {
	rec := t.baseRecord(VariantInterval)
	rec.Multiplier = t.spec.Multiplier
	rec.Unit = string(t.spec.Unit)
	rec.Start = &StartRecord{Date: t.startDate, Time: t.startTime}
	return rec
}

func intervalFields() []Field {
	units := make([]string, 0, 4)
	for _, u := range interval.Units() {
		units = append(units, string(u))
	}
	return []Field{
		{Key: []string{OptMultiplier}, Label: "Every", Type: FieldNumber, Default: "24"},
		{Key: []string{OptUnit}, Label: "Unit", Type: FieldSelect, Choices: units, Default: string(interval.UnitHour)},
		{Key: []string{OptStart, "date"}, Label: "Start date (GMT)", Type: FieldDate},
		{Key: []string{OptStart, "time"}, Label: "Start time (GMT)", Type: FieldTime, Default: "12:00"},
	}
}

// IntervalDefinition registers the interval variant.
func IntervalDefinition() Definition {
	return Definition{
		Variant: VariantInterval,
		Label:   "Interval",
		Fields:  intervalFields(),
		New: func(id string, opts Options, now time.Time) (Timer, error) {
			t, err := NewIntervalTimer(id, opts, now)
			if err != nil {
				return nil, err
			}
			return t, nil
		},
	}
}
