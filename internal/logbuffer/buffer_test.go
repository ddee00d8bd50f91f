package logbuffer

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
)

func TestBufferWrapsAround(t *testing.T) {
	b := New(2)
	b.Add(Entry{Message: "one"})
	b.Add(Entry{Message: "two"})
	b.Add(Entry{Message: "three"})

	all := b.All()
	if len(all) != 2 || all[0].Message != "two" || all[1].Message != "three" {
		t.Fatalf("unexpected entries: %+v", all)
	}
	if s := b.Stats(); s.Count != 2 || s.Capacity != 2 {
		t.Fatalf("unexpected stats: %+v", s)
	}
}

func TestWriterCapturesZerologFields(t *testing.T) {
	b := New(10)
	var out bytes.Buffer
	logger := zerolog.New(NewWriter(b, &out)).With().Timestamp().Logger()

	logger.Info().Str("component", "driver").Str("timer_id", "nightly").Msg("timer fired")
	logger.Warn().Str("component", "driver").Str("reason", "locked").Msg("timer skipped")
	logger.Debug().Str("component", "api").Msg("request")

	if out.Len() == 0 {
		t.Fatal("fallback writer received nothing")
	}

	tests := []struct {
		name  string
		query Query
		want  []string
	}{
		{name: "all", query: Query{}, want: []string{"timer fired", "timer skipped", "request"}},
		{name: "by timer", query: Query{TimerID: "nightly"}, want: []string{"timer fired"}},
		{name: "by level", query: Query{Level: "warn"}, want: []string{"timer skipped"}},
		{name: "by component", query: Query{Component: "api"}, want: []string{"request"}},
		{name: "search fields", query: Query{Search: "LOCKED"}, want: []string{"timer skipped"}},
		{name: "newest first limited", query: Query{Descending: true, Limit: 1}, want: []string{"request"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := b.Find(tt.query)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d entries, want %d: %+v", len(got), len(tt.want), got)
			}
			for i, msg := range tt.want {
				if got[i].Message != msg {
					t.Fatalf("entry %d = %q, want %q", i, got[i].Message, msg)
				}
			}
		})
	}
}
