/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package seed loads plugins and timers from a YAML file at startup.
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/friendsincode/plugin_update_helper/internal/scheduler"
	"github.com/friendsincode/plugin_update_helper/internal/updates"
)

var now = time.Now

// File is the seed document.
type File struct {
	Plugins []updates.Plugin `yaml:"plugins"`
	Timers  []Timer          `yaml:"timers"`
}

// Timer declares one timer.
type Timer struct {
	ID      string         `yaml:"id"`
	Variant string         `yaml:"variant"`
	Options map[string]any `yaml:"options"`
	Actions []Action       `yaml:"actions"`
}

// Action declares one timer action.
type Action struct {
	ID      string         `yaml:"id"`
	Payload map[string]any `yaml:"payload"`
}

// Result summarizes an Apply.
type Result struct {
	Plugins int      `json:"plugins"`
	Timers  int      `json:"timers"`
	Failed  []string `json:"failed,omitempty"`
}

// Load reads and parses a seed file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return Parse(data)
}

// Parse parses seed YAML and checks required fields.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	for i, p := range f.Plugins {
		if p.Slug == "" || p.URL == "" {
			return nil, fmt.Errorf("plugin %d: slug and url are required", i)
		}
	}
	seen := make(map[string]bool, len(f.Timers))
	for i, t := range f.Timers {
		if t.ID == "" {
			return nil, fmt.Errorf("timer %d: id is required", i)
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("timer %s: declared twice", t.ID)
		}
		seen[t.ID] = true
		for j, a := range t.Actions {
			if a.ID == "" {
				return nil, fmt.Errorf("timer %s action %d: id is required", t.ID, j)
			}
		}
	}
	return &f, nil
}

// Apply registers the plugins with list and upserts the timers through
// manager. Stored actions the seed does not mention are kept, as are the
// stored last run and materialized start date. A timer that fails to build
// or save is logged and reported in Result.Failed; the rest still apply.
func (f *File) Apply(ctx context.Context, manager *scheduler.Manager, list *updates.List, logger zerolog.Logger) (Result, error) {
	logger = logger.With().Str("component", "seed").Logger()
	var res Result

	if list != nil {
		for _, p := range f.Plugins {
			if list.AddPlugin(p) {
				res.Plugins++
			} else {
				logger.Debug().Str("slug", p.Slug).Msg("plugin already registered")
			}
		}
	}

	if manager == nil {
		return res, nil
	}
	for _, t := range f.Timers {
		if err := applyTimer(ctx, manager, t); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return res, err
			}
			logger.Error().Err(err).Str("timer_id", t.ID).Msg("seed timer rejected")
			res.Failed = append(res.Failed, t.ID)
			continue
		}
		res.Timers++
	}

	logger.Info().Int("plugins", res.Plugins).Int("timers", res.Timers).Int("failed", len(res.Failed)).Msg("seed applied")
	return res, nil
}

func applyTimer(ctx context.Context, manager *scheduler.Manager, t Timer) error {
	opts := scheduler.Options(t.Options)
	if opts == nil {
		opts = scheduler.Options{}
	}
	if len(t.Actions) > 0 {
		records := make([]scheduler.ActionRecord, 0, len(t.Actions))
		for _, a := range t.Actions {
			records = append(records, scheduler.ActionRecord{ID: a.ID, Payload: a.Payload})
		}
		opts = scheduler.MergeOptions(opts, scheduler.Options{scheduler.OptActions: records})
	}

	variant := scheduler.Variant(t.Variant)
	stored, ok, err := manager.Get(ctx, t.ID)
	if err != nil {
		return err
	}
	if ok {
		if variant == "" {
			variant = stored.Variant
		}
		if variant == stored.Variant {
			opts = carryState(stored, opts)
		}
	}
	if variant == "" {
		variant = scheduler.VariantInterval
	}

	timer, err := manager.Registry().New(variant, t.ID, opts, now())
	if err != nil {
		return err
	}
	saved, err := manager.Save(ctx, timer, true)
	if err != nil {
		return err
	}
	if !saved {
		return fmt.Errorf("timer %s was not persisted", t.ID)
	}
	return nil
}

// carryState copies the run history and the materialized start date of a
// stored record into seed options that leave them unset.
func carryState(stored scheduler.Record, opts scheduler.Options) scheduler.Options {
	extra := scheduler.Options{}
	if _, set := opts[scheduler.OptLastRun]; !set && stored.LastRun != nil {
		extra[scheduler.OptLastRun] = *stored.LastRun
	}
	if stored.Start != nil && opts.Sub(scheduler.OptStart).String("date") == "" {
		start := scheduler.Options{"date": stored.Start.Date, "time": stored.Start.Time}
		if clock := opts.Sub(scheduler.OptStart).String("time"); clock != "" && clock != stored.Start.Time {
			// a new clock time re-anchors the timer
			start = scheduler.Options{"date": "", "time": clock}
		}
		extra[scheduler.OptStart] = start
	}
	if len(extra) == 0 {
		return opts
	}
	return scheduler.MergeOptions(opts, extra)
}
