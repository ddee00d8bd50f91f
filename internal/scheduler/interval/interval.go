/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package interval computes run instants for start-anchored fixed intervals.
package interval

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
)

// Unit is the base step of an interval.
type Unit string

const (
	UnitMinute Unit = "minute"
	UnitHour   Unit = "hour"
	UnitDay    Unit = "day"
	UnitWeek   Unit = "week"
)

// Date and clock layouts used by stored start values.
const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

var (
	dateRe  = regexp.MustCompile(`^[0-9]{4}-[0-9]{2}-[0-9]{2}$`)
	clockRe = regexp.MustCompile(`^[0-9]{2}:[0-9]{2}$`)
)

var unitSeconds = map[Unit]int64{
	UnitMinute: 60,
	UnitHour:   60 * 60,
	UnitDay:    60 * 60 * 24,
	UnitWeek:   60 * 60 * 24 * 7,
}

// Units returns the recognized units, shortest first.
func Units() []Unit {
	return []Unit{UnitMinute, UnitHour, UnitDay, UnitWeek}
}

// Seconds returns the length of one unit in seconds, or 0 for unknown units.
func (u Unit) Seconds() int64 {
	return unitSeconds[u]
}

// Valid reports whether u is a recognized unit.
func (u Unit) Valid() bool {
	_, ok := unitSeconds[u]
	return ok
}

// ParseUnit validates a unit name.
func ParseUnit(s string) (Unit, error) {
	u := Unit(strings.ToLower(strings.TrimSpace(s)))
	if !u.Valid() {
		names := make([]string, 0, len(unitSeconds))
		for _, known := range Units() {
			names = append(names, string(known))
		}
		return "", fmt.Errorf("unit must be one of (%s), got %q", strings.Join(names, ","), s)
	}
	return u, nil
}

// ValidDate reports whether s has the YYYY-MM-DD shape.
func ValidDate(s string) bool {
	return dateRe.MatchString(s)
}

// ValidClock reports whether s has the HH:MM shape.
func ValidClock(s string) bool {
	return clockRe.MatchString(s)
}

// MaxMultiplier is the largest multiplier of u whose interval still fits a
// time.Duration.
func MaxMultiplier(u Unit) int64 {
	return int64(math.MaxInt64/time.Second) / u.Seconds()
}

// Spec is a fixed interval anchored at Start.
type Spec struct {
	Multiplier int
	Unit       Unit
	Start      time.Time
}

// Seconds returns the interval length in whole seconds.
func (s Spec) Seconds() int64 {
	return int64(s.Multiplier) * s.Unit.Seconds()
}

// Duration returns the interval length.
func (s Spec) Duration() time.Duration {
	return time.Duration(s.Seconds()) * time.Second
}

// NextRun returns the next scheduled instant. With no last run it is Start.
// Otherwise it is the first boundary Start+k*interval strictly after lastRun;
// a run exactly on a boundary has consumed that boundary.
func (s Spec) NextRun(lastRun *time.Time) time.Time {
	start := s.Start.Unix()
	if lastRun == nil {
		return time.Unix(start, 0).UTC()
	}

	step := s.Seconds()
	if step <= 0 {
		return time.Unix(start, 0).UTC()
	}

	diff := lastRun.Unix() - start
	steps := ceilDiv(diff, step)
	if start+steps*step <= lastRun.Unix() {
		steps++
	}
	return time.Unix(start+steps*step, 0).UTC()
}

// CountRunnable returns how many boundaries have been crossed since the
// reference point (the next run, or Start when never run), including the one
// currently due. It is zero while the reference point is in the future.
func (s Spec) CountRunnable(lastRun *time.Time, now time.Time) int {
	step := s.Seconds()
	if step <= 0 {
		return 0
	}

	base := s.NextRun(lastRun)
	missed := floorDiv(now.Unix()-base.Unix(), step)
	if missed >= 0 {
		return int(missed) + 1
	}
	return 0
}

// MaterializeStart resolves a start date and HH:MM clock into an instant in
// UTC. An empty date becomes the next occurrence of clock at or after now.
// The returned string is the resolved YYYY-MM-DD date.
func MaterializeStart(date, clock string, now time.Time) (time.Time, string, error) {
	if !ValidClock(clock) {
		return time.Time{}, "", fmt.Errorf("time must be HH:MM, got %q", clock)
	}
	if date != "" && !ValidDate(date) {
		return time.Time{}, "", fmt.Errorf("date must be YYYY-MM-DD, got %q", date)
	}

	now = now.UTC()
	if date == "" {
		start, err := time.ParseInLocation(DateLayout+" "+ClockLayout, now.Format(DateLayout)+" "+clock, time.UTC)
		if err != nil {
			return time.Time{}, "", fmt.Errorf("parse start: %w", err)
		}
		if start.Before(now.Truncate(time.Second)) {
			start = start.AddDate(0, 0, 1)
		}
		return start, start.Format(DateLayout), nil
	}

	start, err := time.ParseInLocation(DateLayout+" "+ClockLayout, date+" "+clock, time.UTC)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("parse start: %w", err)
	}
	return start, date, nil
}

// ceilDiv divides rounding toward positive infinity. b must be positive.
func ceilDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && a > 0 {
		q++
	}
	return q
}

// floorDiv divides rounding toward negative infinity. b must be positive.
func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && a < 0 {
		q--
	}
	return q
}
