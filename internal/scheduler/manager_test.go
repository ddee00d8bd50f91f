/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/plugin_update_helper/internal/events"
	"github.com/friendsincode/plugin_update_helper/internal/options"
)

// droppingStore accepts every call and never persists a write.
type droppingStore struct {
	*options.MemoryStore
}

func (droppingStore) Set(context.Context, string, []byte) (bool, error) {
	return false, nil
}

// failingStore reads through to the memory store and rejects every write.
type failingStore struct {
	*options.MemoryStore
}

func (failingStore) Set(context.Context, string, []byte) (bool, error) {
	return false, errors.New("store offline")
}

func newTestManager(store options.Store) *Manager {
	m := NewManager(store, DefaultRegistry(), zerolog.Nop())
	m.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return m
}

func TestManagerRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(options.NewMemoryStore())

	timer, err := NewIntervalTimer("nightly", dailyOptions(), time.Now())
	if err != nil {
		t.Fatalf("NewIntervalTimer: %v", err)
	}
	timer.AddAction(NewAction("check", map[string]any{"type": "update_check"}), false)
	timer.SetLastRun(mustTime(t, "2024-01-03T12:00:05Z"))

	ok, err := m.Save(ctx, timer, false)
	if err != nil || !ok {
		t.Fatalf("Save = %v, %v", ok, err)
	}

	loaded, found, err := m.Load(ctx, "nightly")
	if err != nil || !found {
		t.Fatalf("Load = %v, %v", found, err)
	}
	if !reflect.DeepEqual(loaded.Record(), timer.Record()) {
		t.Fatalf("loaded record = %+v, want %+v", loaded.Record(), timer.Record())
	}
	next, _ := loaded.NextRun()
	if want := mustTime(t, "2024-01-04T12:00:00Z"); !next.Equal(want) {
		t.Fatalf("loaded next run = %v, want %v", next, want)
	}

	ids, err := m.IDs(ctx)
	if err != nil || !reflect.DeepEqual(ids, []string{"nightly"}) {
		t.Fatalf("IDs = %v, %v", ids, err)
	}
}

func TestManagerLoadMissing(t *testing.T) {
	m := newTestManager(options.NewMemoryStore())
	timer, found, err := m.Load(context.Background(), "nope")
	if err != nil || found || timer != nil {
		t.Fatalf("Load missing = %v, %v, %v", timer, found, err)
	}
}

func TestManagerSaveMergeKeepsStoredActions(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(options.NewMemoryStore())

	stored, _ := NewIntervalTimer("weekly", dailyOptions(), time.Now())
	stored.AddAction(NewAction("old", map[string]any{"v": "stored"}), false)
	stored.AddAction(NewAction("shared", map[string]any{"v": "stored"}), false)
	if _, err := m.Save(ctx, stored, false); err != nil {
		t.Fatalf("Save stored: %v", err)
	}

	fresh, _ := NewIntervalTimer("weekly", dailyOptions(), time.Now())
	fresh.AddAction(NewAction("shared", map[string]any{"v": "fresh"}), false)
	fresh.AddAction(NewAction("new", nil), false)
	if ok, err := m.Save(ctx, fresh, true); err != nil || !ok {
		t.Fatalf("Save merge = %v, %v", ok, err)
	}

	rec, _, err := m.Get(ctx, "weekly")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got := map[string]any{}
	for _, a := range rec.Actions {
		got[a.ID] = a.Payload["v"]
	}
	if len(got) != 3 || got["shared"] != "fresh" || got["old"] != "stored" {
		t.Fatalf("merged actions = %v", got)
	}

	// without merge the stored actions are replaced
	replacement, _ := NewIntervalTimer("weekly", dailyOptions(), time.Now())
	replacement.AddAction(NewAction("only", nil), false)
	if _, err := m.Save(ctx, replacement, false); err != nil {
		t.Fatalf("Save replace: %v", err)
	}
	rec, _, _ = m.Get(ctx, "weekly")
	if len(rec.Actions) != 1 || rec.Actions[0].ID != "only" {
		t.Fatalf("replaced actions = %+v", rec.Actions)
	}
}

func TestManagerSaveMergeFailedWriteLeavesTimer(t *testing.T) {
	ctx := context.Background()
	mem := options.NewMemoryStore()

	stored, _ := NewIntervalTimer("weekly", dailyOptions(), time.Now())
	stored.AddAction(NewAction("old", nil), false)
	if _, err := newTestManager(mem).Save(ctx, stored, false); err != nil {
		t.Fatalf("Save stored: %v", err)
	}

	fresh, _ := NewIntervalTimer("weekly", dailyOptions(), time.Now())
	fresh.AddAction(NewAction("new", nil), false)
	ok, err := newTestManager(failingStore{mem}).Save(ctx, fresh, true)
	if err == nil || ok {
		t.Fatalf("Save = %v, %v; want write error", ok, err)
	}
	if fresh.HasAction("old") || len(fresh.Actions()) != 1 {
		t.Fatalf("timer actions after failed save = %+v", fresh.Record().Actions)
	}

	if ok, err := newTestManager(mem).Save(ctx, fresh, true); err != nil || !ok {
		t.Fatalf("Save merge = %v, %v", ok, err)
	}
	if !fresh.HasAction("old") {
		t.Fatal("merged action missing from timer after successful save")
	}
}

func TestManagerSaveUnchangedRecordSucceeds(t *testing.T) {
	ctx := context.Background()
	bus := events.NewBus()
	saved := bus.Subscribe(events.EventTimerSaved)

	m := newTestManager(options.NewMemoryStore())
	m.SetPublisher(bus)

	timer, _ := NewIntervalTimer("same", dailyOptions(), time.Now())
	for i := 0; i < 2; i++ {
		ok, err := m.Save(ctx, timer, false)
		if err != nil || !ok {
			t.Fatalf("Save #%d = %v, %v", i+1, ok, err)
		}
	}

	first, second := <-saved, <-saved
	if first["changed"] != true || second["changed"] != false {
		t.Fatalf("changed flags = %v, %v; want true then false", first["changed"], second["changed"])
	}
}

func TestManagerSaveDroppedWriteFails(t *testing.T) {
	m := newTestManager(droppingStore{options.NewMemoryStore()})
	timer, _ := NewIntervalTimer("lost", dailyOptions(), time.Now())

	ok, err := m.Save(context.Background(), timer, false)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if ok {
		t.Fatal("Save reported success for a write that was never stored")
	}
}

func TestManagerLoadUnknownVariant(t *testing.T) {
	ctx := context.Background()
	store := options.NewMemoryStore()
	m := newTestManager(store)

	if _, err := options.SetJSON(ctx, store, TimerKey("ghost"), Record{ID: "ghost", Variant: "cron"}); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}

	_, found, err := m.Load(ctx, "ghost")
	if !found {
		t.Fatal("Load reported a stored record as missing")
	}
	if !errors.Is(err, ErrUnknownVariant) {
		t.Fatalf("Load error = %v, want ErrUnknownVariant", err)
	}

	recs, err := m.List(ctx)
	if err != nil || len(recs) != 1 || recs[0].Variant != "cron" {
		t.Fatalf("List = %+v, %v", recs, err)
	}
}

func TestManagerDelete(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(options.NewMemoryStore())
	timer, _ := NewIntervalTimer("gone", dailyOptions(), time.Now())
	if _, err := m.Save(ctx, timer, false); err != nil {
		t.Fatalf("Save: %v", err)
	}

	deleted, err := m.Delete(ctx, "gone")
	if err != nil || !deleted {
		t.Fatalf("Delete = %v, %v", deleted, err)
	}
	if _, found, _ := m.Get(ctx, "gone"); found {
		t.Fatal("timer still stored after Delete")
	}
	if deleted, _ := m.Delete(ctx, "gone"); deleted {
		t.Fatal("second Delete reported a deletion")
	}
}
