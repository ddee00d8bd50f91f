/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package actions executes scheduled timer actions. An action's payload
// names its handler under the "type" key.
package actions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/plugin_update_helper/internal/events"
	"github.com/friendsincode/plugin_update_helper/internal/scheduler"
	"github.com/friendsincode/plugin_update_helper/internal/updates"
	"github.com/friendsincode/plugin_update_helper/internal/webhooks"
)

// Built in action types.
const (
	TypeLog         = "log"
	TypeWebhook     = "webhook"
	TypeEvent       = "event"
	TypeUpdateCheck = "update_check"
)

// ErrUnknownType is returned for payloads whose type has no handler.
var ErrUnknownType = errors.New("unknown action type")

// Handler runs one action.
type Handler func(ctx context.Context, timerID string, action *scheduler.Action) error

// UpdateChecker runs an update check.
type UpdateChecker interface {
	Check(ctx context.Context, versions map[string]string) (*updates.Transient, error)
}

// PackageFetcher downloads the packages of available updates.
type PackageFetcher interface {
	FetchAll(ctx context.Context, t *updates.Transient) ([]updates.Package, map[string]error)
}

// WebhookSender posts webhooks.
type WebhookSender interface {
	Send(ctx context.Context, target webhooks.Target, payload webhooks.Payload) error
}

// Deps are the collaborators of the built in handlers. Nil members disable
// the handlers that need them.
type Deps struct {
	Publisher  events.Publisher
	Webhooks   WebhookSender
	Checker    UpdateChecker
	Downloader PackageFetcher
}

// Runner dispatches actions to handlers by type.
type Runner struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	deps     Deps
	logger   zerolog.Logger
}

// NewRunner creates a runner with the built in handlers registered.
func NewRunner(deps Deps, logger zerolog.Logger) *Runner {
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	r := &Runner{
		handlers: make(map[string]Handler),
		deps:     deps,
		logger:   logger.With().Str("component", "actions").Logger(),
	}
	r.Register(TypeLog, r.runLog)
	r.Register(TypeEvent, r.runEvent)
	r.Register(TypeWebhook, r.runWebhook)
	r.Register(TypeUpdateCheck, r.runUpdateCheck)
	return r
}

// Register installs h for typ, replacing any earlier handler.
func (r *Runner) Register(typ string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[typ] = h
}

// Types lists the registered action types.
func (r *Runner) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Run implements scheduler.ActionRunner.
func (r *Runner) Run(ctx context.Context, timerID string, action *scheduler.Action) error {
	typ := action.Type()
	r.mu.RLock()
	h, ok := r.handlers[typ]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownType, typ)
	}
	return h(ctx, timerID, action)
}

func (r *Runner) runLog(_ context.Context, timerID string, action *scheduler.Action) error {
	level, err := zerolog.ParseLevel(stringField(action.Payload, "level"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	msg := stringField(action.Payload, "message")
	if msg == "" {
		msg = "timer action"
	}
	r.logger.WithLevel(level).
		Str("timer_id", timerID).
		Str("action_id", action.ID).
		Msg(msg)
	return nil
}

func (r *Runner) runEvent(_ context.Context, timerID string, action *scheduler.Action) error {
	name := stringField(action.Payload, "name")
	if name == "" {
		return fmt.Errorf("event action %s: name is required", action.ID)
	}
	payload := events.Payload{
		"timer_id":  timerID,
		"action_id": action.ID,
		"name":      name,
	}
	if data, ok := action.Payload["data"].(map[string]any); ok {
		payload["data"] = data
	}
	r.deps.Publisher.Publish(events.EventActionSignal, payload)
	return nil
}

func (r *Runner) runWebhook(ctx context.Context, timerID string, action *scheduler.Action) error {
	if r.deps.Webhooks == nil {
		return fmt.Errorf("webhook action %s: no webhook sender configured", action.ID)
	}
	target := webhooks.Target{
		URL:    stringField(action.Payload, "url"),
		Secret: stringField(action.Payload, "secret"),
	}
	if target.URL == "" {
		return fmt.Errorf("webhook action %s: url is required", action.ID)
	}
	event := stringField(action.Payload, "event")
	if event == "" {
		event = "timer.action"
	}
	data, _ := action.Payload["data"].(map[string]any)

	return r.deps.Webhooks.Send(ctx, target, webhooks.Payload{
		Event:    event,
		TimerID:  timerID,
		ActionID: action.ID,
		Data:     data,
	})
}

func (r *Runner) runUpdateCheck(ctx context.Context, timerID string, action *scheduler.Action) error {
	if r.deps.Checker == nil {
		return fmt.Errorf("update_check action %s: no update checker configured", action.ID)
	}

	var versions map[string]string
	if raw, ok := action.Payload["versions"].(map[string]any); ok {
		versions = make(map[string]string, len(raw))
		for k, v := range raw {
			if s, ok := v.(string); ok {
				versions[k] = s
			}
		}
	}

	result, err := r.deps.Checker.Check(ctx, versions)
	if err != nil {
		return fmt.Errorf("update check: %w", err)
	}
	r.logger.Info().
		Str("timer_id", timerID).
		Int("available", len(result.Response)).
		Msg("update check finished")

	if download, _ := action.Payload["download"].(bool); !download || len(result.Response) == 0 {
		return nil
	}
	if r.deps.Downloader == nil {
		return fmt.Errorf("update_check action %s: download requested but no downloader configured", action.ID)
	}
	_, failures := r.deps.Downloader.FetchAll(ctx, result)
	if len(failures) > 0 {
		plugins := make([]string, 0, len(failures))
		for p := range failures {
			plugins = append(plugins, p)
		}
		sort.Strings(plugins)
		return fmt.Errorf("package download failed for %v: %w", plugins, failures[plugins[0]])
	}
	return nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
