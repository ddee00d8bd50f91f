/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"fmt"
	"time"
)

// Variant identifies the scheduling algorithm of a timer.
type Variant string

const (
	VariantInterval Variant = "interval"
	VariantRRule    Variant = "rrule"
)

// Timer is a perpetual schedule that fires its actions when due.
type Timer interface {
	ID() string
	Variant() Variant

	// LastRun returns the last firing instant, if the timer ever fired.
	LastRun() (time.Time, bool)
	// NextRun returns the next due instant. ok is false when the schedule
	// has no further occurrences.
	NextRun() (next time.Time, ok bool)
	// CountRunnable returns how many occurrences are due at now, counting
	// the current one.
	CountRunnable(now time.Time) int

	Actions() []*Action
	AddAction(action *Action, update bool) bool
	GetAction(id string) (*Action, bool)
	HasAction(id string) bool
	MergeActions(other Timer)

	SetLastRun(t time.Time)
	Record() Record
}

// Record is the persisted shape of a timer.
type Record struct {
	ID         string         `json:"id"`
	Variant    Variant        `json:"variant"`
	LastRun    *int64         `json:"last_run"`
	Multiplier int            `json:"multiplier,omitempty"`
	Unit       string         `json:"unit,omitempty"`
	Start      *StartRecord   `json:"start,omitempty"`
	Rule       string         `json:"rule,omitempty"`
	Actions    []ActionRecord `json:"actions"`
}

// StartRecord is the anchor of interval and rrule timers.
type StartRecord struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

// Options converts the record back into construction options.
func (r Record) Options() Options {
	opts := Options{
		OptActions: append([]ActionRecord(nil), r.Actions...),
	}
	if r.LastRun != nil {
		opts[OptLastRun] = *r.LastRun
	}
	if r.Multiplier != 0 {
		opts[OptMultiplier] = r.Multiplier
	}
	if r.Unit != "" {
		opts[OptUnit] = r.Unit
	}
	if r.Start != nil {
		opts[OptStart] = Options{"date": r.Start.Date, "time": r.Start.Time}
	}
	if r.Rule != "" {
		opts[OptRule] = r.Rule
	}
	return opts
}

// timerCore holds the state shared by every variant. Actions keep the order
// in which they were first added.
type timerCore struct {
	id      string
	lastRun *time.Time
	order   []string
	actions map[string]*Action
}

func newTimerCore(id string, opts Options) (timerCore, error) {
	core := timerCore{id: id, actions: make(map[string]*Action)}
	if id == "" {
		return core, invalid("id", nil, "a timer id is required")
	}

	lastRun, err := opts.Time(OptLastRun)
	if err != nil {
		return core, invalid(OptLastRun, opts[OptLastRun], "%v", err)
	}
	core.lastRun = lastRun

	actions, err := opts.Actions()
	if err != nil {
		return core, err
	}
	for _, a := range actions {
		core.AddAction(a, false)
	}
	return core, nil
}

func (c *timerCore) ID() string { return c.id }

func (c *timerCore) LastRun() (time.Time, bool) {
	if c.lastRun == nil {
		return time.Time{}, false
	}
	return *c.lastRun, true
}

func (c *timerCore) SetLastRun(t time.Time) {
	t = time.Unix(t.Unix(), 0).UTC()
	c.lastRun = &t
}

func (c *timerCore) Actions() []*Action {
	out := make([]*Action, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.actions[id])
	}
	return out
}

// AddAction inserts action unless one with the same id exists. With update
// set an existing action is replaced in place.
func (c *timerCore) AddAction(action *Action, update bool) bool {
	if action == nil || action.ID == "" {
		return false
	}
	if _, exists := c.actions[action.ID]; exists {
		if !update {
			return false
		}
		c.actions[action.ID] = action
		return true
	}
	c.actions[action.ID] = action
	c.order = append(c.order, action.ID)
	return true
}

func (c *timerCore) GetAction(id string) (*Action, bool) {
	a, ok := c.actions[id]
	return a, ok
}

func (c *timerCore) HasAction(id string) bool {
	_, ok := c.actions[id]
	return ok
}

// MergeActions copies every action of other into c, overwriting on conflict.
func (c *timerCore) MergeActions(other Timer) {
	if other == nil {
		return
	}
	for _, a := range other.Actions() {
		c.AddAction(a.clone(), true)
	}
}

func (c *timerCore) baseRecord(variant Variant) Record {
	rec := Record{
		ID:      c.id,
		Variant: variant,
		Actions: make([]ActionRecord, 0, len(c.order)),
	}
	if c.lastRun != nil {
		secs := c.lastRun.Unix()
		rec.LastRun = &secs
	}
	for _, a := range c.Actions() {
		rec.Actions = append(rec.Actions, a.Record())
	}
	return rec
}

// State is the lifecycle position of a timer relative to a clock reading.
type State string

const (
	StatePending   State = "pending"
	StateScheduled State = "scheduled"
	StateDue       State = "due"
	StateExhausted State = "exhausted"
)

// StateOf classifies t at now.
func StateOf(t Timer, now time.Time) State {
	next, ok := t.NextRun()
	if !ok {
		return StateExhausted
	}
	if !next.After(now) {
		return StateDue
	}
	if _, ran := t.LastRun(); !ran {
		return StatePending
	}
	return StateScheduled
}

// Saver persists a timer. *Manager implements it.
type Saver interface {
	Save(ctx context.Context, t Timer, merge bool) (bool, error)
}

// RunResult describes one MaybeRun call.
type RunResult struct {
	TimerID      string            `json:"timer_id"`
	Variant      Variant           `json:"variant"`
	Fired        bool              `json:"fired"`
	DueAt        time.Time         `json:"due_at,omitempty"`
	NextRun      time.Time         `json:"next_run,omitempty"`
	Missed       int               `json:"missed"`
	ActionErrors map[string]string `json:"action_errors,omitempty"`
}

// Failed reports whether at least one action returned an error.
func (r RunResult) Failed() bool {
	return len(r.ActionErrors) > 0
}

// MaybeRun fires t when its next run is at or before now. Every action runs
// in order regardless of earlier failures, then last_run is set to now and
// the timer is saved. Only one firing happens per call even when several
// occurrences were missed.
func MaybeRun(ctx context.Context, t Timer, now time.Time, runner ActionRunner, saver Saver) (RunResult, error) {
	result := RunResult{TimerID: t.ID(), Variant: t.Variant()}

	next, ok := t.NextRun()
	if !ok || next.After(now) {
		if ok {
			result.NextRun = next
		}
		return result, nil
	}

	result.DueAt = next
	result.Missed = t.CountRunnable(now) - 1
	if result.Missed < 0 {
		result.Missed = 0
	}

	for _, action := range t.Actions() {
		if err := action.Execute(ctx, t.ID(), runner); err != nil {
			if result.ActionErrors == nil {
				result.ActionErrors = make(map[string]string)
			}
			result.ActionErrors[action.ID] = err.Error()
		}
	}

	t.SetLastRun(now)
	result.Fired = true
	if next, ok := t.NextRun(); ok {
		result.NextRun = next
	}

	if saver == nil {
		return result, nil
	}
	saved, err := saver.Save(ctx, t, false)
	if err != nil {
		return result, fmt.Errorf("save timer %s: %w", t.ID(), err)
	}
	if !saved {
		return result, fmt.Errorf("save timer %s: write not persisted", t.ID())
	}
	return result, nil
}
