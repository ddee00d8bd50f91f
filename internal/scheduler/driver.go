/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/friendsincode/plugin_update_helper/internal/events"
	"github.com/friendsincode/plugin_update_helper/internal/lock"
	"github.com/friendsincode/plugin_update_helper/internal/telemetry"
)

// Driver defaults.
const (
	DefaultSchedule = "@every 1m"
	DefaultLockTTL  = 5 * time.Minute
)

// Skip reasons reported in a TickReport.
const (
	SkipLocked     = "locked"
	SkipLockFailed = "lock_failed"
	SkipInvalid    = "invalid"
	SkipMissing    = "missing"
	SkipSaveFailed = "save_failed"
)

// Skip records a timer that was not evaluated to completion.
type Skip struct {
	TimerID string `json:"timer_id"`
	Reason  string `json:"reason"`
	Error   string `json:"error,omitempty"`
}

// TickReport summarizes one evaluation pass over every stored timer.
type TickReport struct {
	StartedAt time.Time   `json:"started_at"`
	Duration  string      `json:"duration"`
	Checked   int         `json:"checked"`
	Fired     []RunResult `json:"fired"`
	Skipped   []Skip      `json:"skipped"`
}

// Driver periodically evaluates every stored timer.
type Driver struct {
	manager   *Manager
	runner    ActionRunner
	locker    lock.Locker
	publisher events.Publisher
	logger    zerolog.Logger

	schedule string
	lockTTL  time.Duration
	now      func() time.Time

	// serializes ticks within this process
	tickMu sync.Mutex
}

// NewDriver creates a driver. A nil locker selects an in-process locker.
func NewDriver(manager *Manager, runner ActionRunner, locker lock.Locker, logger zerolog.Logger) *Driver {
	if locker == nil {
		locker = lock.NewLocal()
	}
	return &Driver{
		manager:   manager,
		runner:    runner,
		locker:    locker,
		publisher: events.Nop{},
		logger:    logger.With().Str("component", "scheduler_driver").Logger(),
		schedule:  DefaultSchedule,
		lockTTL:   DefaultLockTTL,
		now:       time.Now,
	}
}

// SetPublisher sets where tick events go.
func (d *Driver) SetPublisher(p events.Publisher) {
	if p == nil {
		p = events.Nop{}
	}
	d.publisher = p
}

// SetSchedule sets the cron spec of the periodic trigger.
func (d *Driver) SetSchedule(spec string) error {
	if spec == "" {
		spec = DefaultSchedule
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("parse driver schedule %q: %w", spec, err)
	}
	d.schedule = spec
	return nil
}

// SetLockTTL sets how long a timer lock is held at most.
func (d *Driver) SetLockTTL(ttl time.Duration) {
	if ttl > 0 {
		d.lockTTL = ttl
	}
}

// Tick evaluates every timer at the current time.
func (d *Driver) Tick(ctx context.Context) (TickReport, error) {
	return d.TickAt(ctx, d.now())
}

// TickAt evaluates every timer at now. A failing timer is reported and the
// remaining timers are still evaluated.
func (d *Driver) TickAt(ctx context.Context, now time.Time) (TickReport, error) {
	d.tickMu.Lock()
	defer d.tickMu.Unlock()

	ctx, span := telemetry.StartSpan(ctx, "scheduler", "scheduler.tick")
	defer span.End()

	started := time.Now()
	report := TickReport{StartedAt: now.UTC(), Fired: []RunResult{}, Skipped: []Skip{}}
	telemetry.SchedulerTicksTotal.Inc()
	defer func() {
		elapsed := time.Since(started)
		report.Duration = elapsed.String()
		telemetry.SchedulerTickDuration.Observe(elapsed.Seconds())
	}()

	ids, err := d.manager.IDs(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return report, fmt.Errorf("list timers: %w", err)
	}
	sort.Strings(ids)

	runner := instrumentedRunner{next: d.runner}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++
		d.evaluate(ctx, id, now, runner, &report)
	}

	telemetry.AddSpanAttributes(span, map[string]any{
		"timers.checked": report.Checked,
		"timers.fired":   len(report.Fired),
		"timers.skipped": len(report.Skipped),
	})

	d.logger.Debug().
		Int("checked", report.Checked).
		Int("fired", len(report.Fired)).
		Int("skipped", len(report.Skipped)).
		Msg("tick complete")

	return report, nil
}

func (d *Driver) evaluate(ctx context.Context, id string, now time.Time, runner ActionRunner, report *TickReport) {
	logger := d.logger.With().Str("timer_id", id).Logger()

	release, acquired, err := d.locker.TryLock(ctx, "timer:"+id, d.lockTTL)
	if err != nil {
		d.skip(report, id, SkipLockFailed, err)
		logger.Error().Err(err).Msg("failed to lock timer")
		return
	}
	if !acquired {
		d.skip(report, id, SkipLocked, nil)
		logger.Debug().Msg("timer locked by another worker")
		return
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			logger.Warn().Err(err).Msg("failed to release timer lock")
		}
	}()

	t, ok, err := d.manager.Load(ctx, id)
	if err != nil {
		d.skip(report, id, SkipInvalid, err)
		logger.Warn().Err(err).Msg("skipping timer that cannot be rebuilt")
		return
	}
	if !ok {
		d.skip(report, id, SkipMissing, nil)
		return
	}

	result, err := MaybeRun(ctx, t, now, runner, d.manager)
	if result.Fired {
		d.fired(logger, result)
		report.Fired = append(report.Fired, result)
	}
	if err != nil {
		d.skip(report, id, SkipSaveFailed, err)
		logger.Error().Err(err).Msg("failed to persist timer after run")
	}
}

func (d *Driver) fired(logger zerolog.Logger, result RunResult) {
	telemetry.TimerFiresTotal.WithLabelValues(string(result.Variant)).Inc()

	event := logger.Info().
		Str("variant", string(result.Variant)).
		Time("due_at", result.DueAt).
		Time("next_run", result.NextRun)
	if result.Missed > 0 {
		telemetry.TimerMissedRuns.WithLabelValues(result.TimerID).Add(float64(result.Missed))
		event = event.Int("missed", result.Missed)
	}
	event.Msg("timer fired")

	d.publisher.Publish(events.EventTimerFired, events.Payload{
		"timer_id": result.TimerID,
		"variant":  string(result.Variant),
		"due_at":   result.DueAt.Unix(),
		"next_run": result.NextRun.Unix(),
		"missed":   result.Missed,
	})
	for actionID, msg := range result.ActionErrors {
		logger.Warn().Str("action_id", actionID).Str("error", msg).Msg("action failed")
		d.publisher.Publish(events.EventActionFailed, events.Payload{
			"timer_id":  result.TimerID,
			"action_id": actionID,
			"error":     msg,
		})
	}
}

func (d *Driver) skip(report *TickReport, id, reason string, err error) {
	s := Skip{TimerID: id, Reason: reason}
	if err != nil {
		s.Error = err.Error()
	}
	report.Skipped = append(report.Skipped, s)
	telemetry.TimerSkipsTotal.WithLabelValues(reason).Inc()
	d.publisher.Publish(events.EventTimerSkipped, events.Payload{
		"timer_id": id,
		"reason":   reason,
		"error":    s.Error,
	})
}

// Run triggers Tick on the configured schedule until ctx is cancelled.
// Ticks that would overlap a running one are dropped.
func (d *Driver) Run(ctx context.Context) error {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(d.schedule, func() {
		if _, err := d.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error().Err(err).Msg("tick failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule driver %q: %w", d.schedule, err)
	}

	c.Start()
	d.logger.Info().Str("schedule", d.schedule).Msg("scheduler driver started")

	<-ctx.Done()
	<-c.Stop().Done()
	d.logger.Info().Msg("scheduler driver stopped")
	return ctx.Err()
}

// instrumentedRunner records action metrics around the host runner.
type instrumentedRunner struct {
	next ActionRunner
}

func (r instrumentedRunner) Run(ctx context.Context, timerID string, action *Action) error {
	typ := action.Type()
	if typ == "" {
		typ = "unknown"
	}
	if r.next == nil {
		telemetry.ActionRunsTotal.WithLabelValues(typ, "error").Inc()
		return errors.New("no action runner configured")
	}

	start := time.Now()
	err := r.next.Run(ctx, timerID, action)
	telemetry.ActionDuration.WithLabelValues(typ).Observe(time.Since(start).Seconds())

	result := "success"
	if err != nil {
		result = "error"
	}
	telemetry.ActionRunsTotal.WithLabelValues(typ, result).Inc()
	return err
}
