package interval

import (
	"testing"
	"time"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return tm
}

func TestParseUnit(t *testing.T) {
	tests := []struct {
		in      string
		want    Unit
		wantErr bool
	}{
		{in: "minute", want: UnitMinute},
		{in: "hour", want: UnitHour},
		{in: "Day", want: UnitDay},
		{in: " week ", want: UnitWeek},
		{in: "fortnight", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseUnit(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseUnit(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseUnit(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNextRunDailyScenario(t *testing.T) {
	spec := Spec{Multiplier: 24, Unit: UnitHour, Start: mustTime(t, "2024-01-01T12:00:00Z")}

	if got := spec.NextRun(nil); !got.Equal(spec.Start) {
		t.Fatalf("NextRun(nil) = %v, want %v", got, spec.Start)
	}

	now := mustTime(t, "2024-01-02T13:00:00Z")
	if got := spec.CountRunnable(nil, now); got != 2 {
		t.Fatalf("CountRunnable = %d, want 2", got)
	}

	fired := mustTime(t, "2024-01-01T12:00:00Z")
	want := mustTime(t, "2024-01-02T12:00:00Z")
	if got := spec.NextRun(&fired); !got.Equal(want) {
		t.Fatalf("NextRun(after fire) = %v, want %v", got, want)
	}
}

func TestNextRunBetweenBoundaries(t *testing.T) {
	spec := Spec{Multiplier: 15, Unit: UnitMinute, Start: mustTime(t, "2024-03-10T00:00:00Z")}

	tests := []struct {
		name    string
		lastRun string
		want    string
	}{
		{name: "just after start", lastRun: "2024-03-10T00:00:01Z", want: "2024-03-10T00:15:00Z"},
		{name: "mid interval", lastRun: "2024-03-10T01:07:00Z", want: "2024-03-10T01:15:00Z"},
		{name: "on boundary", lastRun: "2024-03-10T01:15:00Z", want: "2024-03-10T01:30:00Z"},
		{name: "before start", lastRun: "2024-03-09T23:50:00Z", want: "2024-03-10T00:00:00Z"},
		{name: "far before start", lastRun: "2024-03-09T23:20:00Z", want: "2024-03-09T23:30:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			last := mustTime(t, tt.lastRun)
			got := spec.NextRun(&last)
			if !got.Equal(mustTime(t, tt.want)) {
				t.Errorf("NextRun(%s) = %v, want %s", tt.lastRun, got, tt.want)
			}
		})
	}
}

func TestNextRunIsSmallestCongruentBoundaryAfterLastRun(t *testing.T) {
	start := mustTime(t, "2024-01-01T12:00:00Z")
	for _, unit := range Units() {
		for _, mult := range []int{1, 2, 7, 24} {
			spec := Spec{Multiplier: mult, Unit: unit, Start: start}
			step := spec.Seconds()
			for _, offset := range []int64{0, 1, step - 1, step, step + 1, 5*step + 3, -step - 1} {
				last := start.Add(time.Duration(offset) * time.Second)
				next := spec.NextRun(&last)

				if !next.After(last) {
					t.Fatalf("%d %s offset %d: next %v not after last %v", mult, unit, offset, next, last)
				}
				if (next.Unix()-start.Unix())%step != 0 {
					t.Fatalf("%d %s offset %d: next %v not congruent to start", mult, unit, offset, next)
				}
				if prev := next.Add(-spec.Duration()); prev.After(last) {
					t.Fatalf("%d %s offset %d: earlier boundary %v also after last %v", mult, unit, offset, prev, last)
				}
			}
		}
	}
}

func TestCountRunnableMonotonic(t *testing.T) {
	spec := Spec{Multiplier: 2, Unit: UnitHour, Start: mustTime(t, "2024-05-01T08:00:00Z")}
	last := mustTime(t, "2024-05-01T09:30:00Z")

	prevNever, prevLast := -1, -1
	for minutes := -300; minutes <= 2000; minutes += 7 {
		now := spec.Start.Add(time.Duration(minutes) * time.Minute)

		never := spec.CountRunnable(nil, now)
		if never < prevNever {
			t.Fatalf("CountRunnable(nil) decreased at %v: %d < %d", now, never, prevNever)
		}
		prevNever = never

		withLast := spec.CountRunnable(&last, now)
		if withLast < prevLast {
			t.Fatalf("CountRunnable(last) decreased at %v: %d < %d", now, withLast, prevLast)
		}
		prevLast = withLast
	}
}

func TestCountRunnableFutureIsZero(t *testing.T) {
	spec := Spec{Multiplier: 1, Unit: UnitDay, Start: mustTime(t, "2024-01-10T00:00:00Z")}
	if got := spec.CountRunnable(nil, mustTime(t, "2024-01-09T23:59:59Z")); got != 0 {
		t.Fatalf("CountRunnable before start = %d, want 0", got)
	}
	if got := spec.CountRunnable(nil, spec.Start); got != 1 {
		t.Fatalf("CountRunnable at start = %d, want 1", got)
	}
}

func TestMaterializeStart(t *testing.T) {
	now := mustTime(t, "2024-06-15T10:30:00Z")

	tests := []struct {
		name     string
		date     string
		clock    string
		want     string
		wantDate string
		wantErr  bool
	}{
		{name: "later today", clock: "12:00", want: "2024-06-15T12:00:00Z", wantDate: "2024-06-15"},
		{name: "earlier rolls to tomorrow", clock: "09:00", want: "2024-06-16T09:00:00Z", wantDate: "2024-06-16"},
		{name: "exactly now stays", clock: "10:30", want: "2024-06-15T10:30:00Z", wantDate: "2024-06-15"},
		{name: "explicit date", date: "2023-12-31", clock: "23:59", want: "2023-12-31T23:59:00Z", wantDate: "2023-12-31"},
		{name: "bad clock", clock: "9:00", wantErr: true},
		{name: "bad date", date: "2024/01/01", clock: "09:00", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, date, err := MaterializeStart(tt.date, tt.clock, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("MaterializeStart error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !got.Equal(mustTime(t, tt.want)) {
				t.Errorf("MaterializeStart = %v, want %s", got, tt.want)
			}
			if date != tt.wantDate {
				t.Errorf("MaterializeStart date = %q, want %q", date, tt.wantDate)
			}
		})
	}
}

func TestLongestIntervalRunsOnce(t *testing.T) {
	start := mustTime(t, "2024-01-01T12:00:00Z")
	for _, unit := range Units() {
		spec := Spec{Multiplier: int(MaxMultiplier(unit)), Unit: unit, Start: start}
		if spec.Duration() <= 0 {
			t.Fatalf("%s: duration %v overflowed", unit, spec.Duration())
		}

		last := start
		next := spec.NextRun(&last)
		if !next.After(start) {
			t.Fatalf("%s: next %v not after start", unit, next)
		}
		for minute := 1; minute <= 3; minute++ {
			now := start.Add(time.Duration(minute) * time.Minute)
			if n := spec.CountRunnable(&last, now); n != 0 {
				t.Fatalf("%s: %d runs due %d minutes after the first run", unit, n, minute)
			}
		}
	}
}
