/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/plugin_update_helper/internal/events"
)

func TestNATSBusWithoutURLDeliversLocally(t *testing.T) {
	nb, err := NewNATSBus(NATSConfig{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewNATSBus: %v", err)
	}
	defer nb.Close()

	if nb.Connected() {
		t.Fatal("bus without URL reports a NATS connection")
	}

	sub := nb.Subscribe(events.EventTimerFired)
	nb.Publish(events.EventTimerFired, events.Payload{"timer_id": "daily"})

	select {
	case got := <-sub:
		if got["timer_id"] != "daily" {
			t.Fatalf("payload = %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestDeliverSkipsOwnMessages(t *testing.T) {
	nb, err := NewNATSBus(NATSConfig{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewNATSBus: %v", err)
	}
	sub := nb.Subscribe(events.EventUpdateAvailable)

	own, err := marshalMessage(events.EventUpdateAvailable, events.Payload{"slug": "own"}, nb.nodeID)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	remote, err := marshalMessage(events.EventUpdateAvailable, events.Payload{"slug": "remote"}, "other-node")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	nb.deliver(own)
	nb.deliver(remote)
	nb.deliver([]byte("not json"))

	select {
	case got := <-sub:
		if got["slug"] != "remote" {
			t.Fatalf("delivered %v, want the remote event", got)
		}
	case <-time.After(time.Second):
		t.Fatal("remote event not delivered")
	}

	select {
	case extra := <-sub:
		t.Fatalf("unexpected extra event %v", extra)
	default:
	}
}

func TestSubjectUsesPrefix(t *testing.T) {
	nb, err := NewNATSBus(NATSConfig{SubjectPrefix: "puh.events."}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewNATSBus: %v", err)
	}
	if got := nb.subject(events.EventTimerSaved); got != "puh.events.timer.saved" {
		t.Fatalf("subject = %q", got)
	}
}
