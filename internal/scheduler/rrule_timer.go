/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/friendsincode/plugin_update_helper/internal/scheduler/interval"
)

// OptRule holds an RFC 5545 recurrence rule such as "FREQ=WEEKLY;BYDAY=MO".
const OptRule = "rule"

// RRuleTimer fires on the occurrences of a recurrence rule anchored at its
// start. It is exhausted once the rule yields no further occurrence.
type RRuleTimer struct {
	timerCore
	rule      *rrule.RRule
	ruleText  string
	start     time.Time
	startDate string
	startTime string
}

// NewRRuleTimer validates opts and builds a recurrence rule timer.
func NewRRuleTimer(id string, opts Options, now time.Time) (*RRuleTimer, error) {
	merged := MergeOptions(Options{OptStart: Options{"date": "", "time": "12:00"}}, opts)

	core, err := newTimerCore(id, merged)
	if err != nil {
		return nil, err
	}

	text := strings.TrimPrefix(merged.String(OptRule), "RRULE:")
	if text == "" {
		return nil, invalid(OptRule, nil, "a recurrence rule is required")
	}

	start := merged.Sub(OptStart)
	date, clock := start.String("date"), start.String("time")
	startAt, date, err := interval.MaterializeStart(date, clock, now)
	if err != nil {
		return nil, invalid(OptStart, nil, "%v", err)
	}

	ropt, err := rrule.StrToROption(text)
	if err != nil {
		return nil, invalid(OptRule, text, "%v", err)
	}
	ropt.Dtstart = startAt
	rule, err := rrule.NewRRule(*ropt)
	if err != nil {
		return nil, invalid(OptRule, text, "%v", err)
	}

	return &RRuleTimer{
		timerCore: core,
		rule:      rule,
		ruleText:  text,
		start:     startAt,
		startDate: date,
		startTime: clock,
	}, nil
}

func (t *RRuleTimer) Variant() Variant { return VariantRRule }

// NextRun returns the first occurrence at or after start when the timer never
// ran, and the first occurrence strictly after the last run otherwise.
func (t *RRuleTimer) NextRun() (time.Time, bool) {
	var next time.Time
	if t.lastRun == nil {
		next = t.rule.After(t.start, true)
	} else {
		next = t.rule.After(*t.lastRun, false)
	}
	if next.IsZero() {
		return time.Time{}, false
	}
	return next.UTC(), true
}

func (t *RRuleTimer) CountRunnable(now time.Time) int {
	next, ok := t.NextRun()
	if !ok || next.After(now) {
		return 0
	}
	return len(t.rule.Between(next, now, true))
}

func (t *RRuleTimer) Record() Record {
	rec := t.baseRecord(VariantRRule)
	rec.Rule = t.ruleText
	rec.Start = &StartRecord{Date: t.startDate, Time: t.startTime}
	return rec
}

// RRuleDefinition registers the recurrence rule variant.
func RRuleDefinition() Definition {
	return Definition{
		Variant: VariantRRule,
		Label:   "Recurrence rule",
		Fields: []Field{
			{Key: []string{OptRule}, Label: "Rule", Type: FieldText, Default: "FREQ=DAILY"},
			{Key: []string{OptStart, "date"}, Label: "Start date (GMT)", Type: FieldDate},
			{Key: []string{OptStart, "time"}, Label: "Start time (GMT)", Type: FieldTime, Default: "12:00"},
		},
		New: func(id string, opts Options, now time.Time) (Timer, error) {
			t, err := NewRRuleTimer(id, opts, now)
			if err != nil {
				return nil, err
			}
			return t, nil
		},
	}
}
