/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"errors"
)

// Action is a named unit of work owned by a timer. The payload is opaque to
// the scheduler and interpreted by the ActionRunner.
type Action struct {
	ID      string
	Payload map[string]any
}

// ActionRecord is the storable form of an Action.
type ActionRecord struct {
	ID      string         `json:"id" yaml:"id"`
	Payload map[string]any `json:"payload" yaml:"payload"`
}

// ActionRunner executes actions on behalf of a firing timer.
type ActionRunner interface {
	Run(ctx context.Context, timerID string, action *Action) error
}

// ActionRunnerFunc adapts a function to ActionRunner.
type ActionRunnerFunc func(ctx context.Context, timerID string, action *Action) error

// Run calls f.
func (f ActionRunnerFunc) Run(ctx context.Context, timerID string, action *Action) error {
	return f(ctx, timerID, action)
}

// NewAction creates an action. A nil payload becomes an empty one.
func NewAction(id string, payload map[string]any) *Action {
	if payload == nil {
		payload = map[string]any{}
	}
	return &Action{ID: id, Payload: payload}
}

// Type returns the "type" payload entry used to pick an implementation.
func (a *Action) Type() string {
	return Options(a.Payload).String("type")
}

// Execute hands the action to runner.
func (a *Action) Execute(ctx context.Context, timerID string, runner ActionRunner) error {
	if runner == nil {
		return errors.New("no action runner configured")
	}
	return runner.Run(ctx, timerID, a)
}

// Record returns the storable form.
func (a *Action) Record() ActionRecord {
	return ActionRecord{ID: a.ID, Payload: a.Payload}
}

func (a *Action) clone() *Action {
	payload := make(map[string]any, len(a.Payload))
	for k, v := range a.Payload {
		payload[k] = v
	}
	return &Action{ID: a.ID, Payload: payload}
}
