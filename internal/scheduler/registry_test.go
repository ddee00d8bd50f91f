/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()

	added, err := r.Register(IntervalDefinition())
	if err != nil || !added {
		t.Fatalf("Register = %v, %v", added, err)
	}
	added, err = r.Register(IntervalDefinition())
	if err != nil || added {
		t.Fatalf("second Register = %v, %v; want false, nil", added, err)
	}

	if _, err := r.Register(Definition{Variant: "", New: IntervalDefinition().New}); err == nil {
		t.Fatal("Register accepted an empty variant")
	}
	if _, err := r.Register(Definition{Variant: "nil-ctor"}); err == nil {
		t.Fatal("Register accepted a nil constructor")
	}

	if got := r.Variants(); !reflect.DeepEqual(got, []Variant{VariantInterval}) {
		t.Fatalf("Variants = %v", got)
	}
}

func TestRegistryNew(t *testing.T) {
	r := DefaultRegistry()
	now := time.Now()

	if _, err := r.New("", "x", nil, now); !errors.Is(err, ErrMissingVariant) {
		t.Fatalf("New without variant = %v, want ErrMissingVariant", err)
	}
	if _, err := r.New("lunar", "x", nil, now); !errors.Is(err, ErrUnknownVariant) {
		t.Fatalf("New unknown variant = %v, want ErrUnknownVariant", err)
	}

	timer, err := r.New(VariantInterval, "x", dailyOptions(), now)
	if err != nil {
		t.Fatalf("New interval: %v", err)
	}
	if timer.Variant() != VariantInterval {
		t.Fatalf("variant = %s", timer.Variant())
	}

	// a failed construction never yields a non-nil interface
	timer, err = r.New(VariantInterval, "", dailyOptions(), now)
	if err == nil || timer != nil {
		t.Fatalf("New without id = %v, %v", timer, err)
	}
}

func TestRegistryFromRecordKeepsActions(t *testing.T) {
	r := DefaultRegistry()
	last := mustTime(t, "2024-01-02T12:00:00Z").Unix()
	rec := Record{
		ID:         "rebuilt",
		Variant:    VariantInterval,
		LastRun:    &last,
		Multiplier: 1,
		Unit:       "day",
		Start:      &StartRecord{Date: "2024-01-01", Time: "12:00"},
		Actions: []ActionRecord{
			{ID: "first", Payload: map[string]any{"type": "log"}},
			{ID: "second", Payload: map[string]any{"type": "event"}},
		},
	}

	timer, err := r.FromRecord(rec, time.Now())
	if err != nil {
		t.Fatalf("FromRecord: %v", err)
	}
	if want := []string{"first", "second"}; !reflect.DeepEqual(actionIDs(timer), want) {
		t.Fatalf("actions = %v, want %v", actionIDs(timer), want)
	}
	next, _ := timer.NextRun()
	if want := mustTime(t, "2024-01-03T12:00:00Z"); !next.Equal(want) {
		t.Fatalf("next run = %v, want %v", next, want)
	}
}

func TestOptionsActionsLegacyMapping(t *testing.T) {
	opts := Options{
		OptActionsData: map[string]any{
			"zeta":  map[string]any{"type": "log"},
			"alpha": map[string]any{"type": "event"},
		},
	}
	actions, err := opts.Actions()
	if err != nil {
		t.Fatalf("Actions: %v", err)
	}
	if len(actions) != 2 || actions[0].ID != "alpha" || actions[1].Type() != "log" {
		t.Fatalf("actions = %+v", actions)
	}

	if _, err := (Options{OptActions: []any{map[string]any{"payload": map[string]any{}}}}).Actions(); !IsValidation(err) {
		t.Fatalf("entry without id = %v, want validation error", err)
	}
}
