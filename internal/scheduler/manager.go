/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/plugin_update_helper/internal/events"
	"github.com/friendsincode/plugin_update_helper/internal/options"
	"github.com/friendsincode/plugin_update_helper/internal/telemetry"
)

// TimerKeyPrefix prefixes the option key of every stored timer.
const TimerKeyPrefix = "ds_action_scheduler_timer_"

// TimerKey returns the option key of timer id.
func TimerKey(id string) string {
	return TimerKeyPrefix + id
}

// Manager persists timers in an options store.
type Manager struct {
	store     options.Store
	registry  *Registry
	logger    zerolog.Logger
	publisher events.Publisher
	now       func() time.Time
}

// NewManager creates a timer manager over store.
func NewManager(store options.Store, registry *Registry, logger zerolog.Logger) *Manager {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Manager{
		store:     store,
		registry:  registry,
		logger:    logger.With().Str("component", "timer_manager").Logger(),
		publisher: events.Nop{},
		now:       time.Now,
	}
}

// SetPublisher sets where timer.saved and timer.deleted events go.
func (m *Manager) SetPublisher(p events.Publisher) {
	if p == nil {
		p = events.Nop{}
	}
	m.publisher = p
}

// Registry returns the variant registry used to rebuild timers.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Get returns the stored record of id.
func (m *Manager) Get(ctx context.Context, id string) (Record, bool, error) {
	var rec Record
	ok, err := options.GetJSON(ctx, m.store, TimerKey(id), &rec)
	if err != nil || !ok {
		return Record{}, false, err
	}
	if rec.ID == "" {
		rec.ID = id
	}
	return rec, true, nil
}

// Load rebuilds the stored timer of id through the registry.
func (m *Manager) Load(ctx context.Context, id string) (Timer, bool, error) {
	rec, ok, err := m.Get(ctx, id)
	if err != nil || !ok {
		return nil, false, err
	}
	t, err := m.registry.FromRecord(rec, m.now())
	if err != nil {
		return nil, true, fmt.Errorf("rebuild timer %s: %w", id, err)
	}
	return t, true, nil
}

// IDs lists the ids of every stored timer.
func (m *Manager) IDs(ctx context.Context) ([]string, error) {
	keys, err := m.store.Keys(ctx, TimerKeyPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, TimerKeyPrefix))
	}
	return ids, nil
}

// List returns every stored record. Records that cannot be decoded are
// logged and left out.
func (m *Manager) List(ctx context.Context) ([]Record, error) {
	ids, err := m.IDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		rec, ok, err := m.Get(ctx, id)
		if err != nil {
			m.logger.Warn().Err(err).Str("timer_id", id).Msg("skipping unreadable timer record")
			continue
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Save stores t. With merge set, actions of the stored timer that t does
// not have are written too, and t's own actions win on conflict. The merged
// actions are added to t only once the write succeeded.
//
// The store reports false for a write that changed nothing. Save then reads
// the record back and treats an identical stored value as success.
func (m *Manager) Save(ctx context.Context, t Timer, merge bool) (bool, error) {
	if t == nil || t.ID() == "" {
		return false, invalid("id", nil, "a timer id is required")
	}

	rec := t.Record()
	var carried []ActionRecord
	if merge {
		existing, ok, err := m.Get(ctx, t.ID())
		if err != nil {
			return false, err
		}
		if ok {
			for _, a := range existing.Actions {
				if a.ID != "" && !t.HasAction(a.ID) {
					carried = append(carried, a)
				}
			}
			rec.Actions = append(rec.Actions, carried...)
		}
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encode timer %s: %w", t.ID(), err)
	}

	key := TimerKey(t.ID())
	written, err := m.store.Set(ctx, key, raw)
	if err != nil {
		return false, err
	}
	if !written {
		current, ok, err := m.store.Get(ctx, key)
		if err != nil {
			return false, err
		}
		if !ok || !bytes.Equal(current, raw) {
			m.logger.Warn().Str("timer_id", t.ID()).Msg("timer write not persisted")
			return false, nil
		}
		telemetry.OptionNoopWritesTotal.Inc()
		m.logger.Debug().Str("timer_id", t.ID()).Msg("timer record unchanged")
	}

	for _, a := range carried {
		t.AddAction(NewAction(a.ID, a.Payload), false)
	}

	m.publisher.Publish(events.EventTimerSaved, events.Payload{
		"timer_id": t.ID(),
		"variant":  string(t.Variant()),
		"changed":  written,
	})
	return true, nil
}

// Delete removes the stored timer of id.
func (m *Manager) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := m.store.Delete(ctx, TimerKey(id))
	if err != nil {
		return false, err
	}
	if deleted {
		m.publisher.Publish(events.EventTimerDeleted, events.Payload{"timer_id": id})
	}
	return deleted, nil
}
