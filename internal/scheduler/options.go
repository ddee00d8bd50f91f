/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Options are the loosely typed construction options of a timer, as they
// arrive from a form submission, a seed file or a stored record.
type Options map[string]any

// Common option keys shared by every variant.
const (
	OptLastRun = "last_run"
	OptActions = "actions"

	// OptActionsData is the legacy id -> payload mapping of actions.
	OptActionsData = "actions_data"
)

// MergeOptions returns base overlaid with over. Nested option maps are merged
// key by key; every other value in over replaces the one in base.
func MergeOptions(base, over Options) Options {
	out := make(Options, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		if sub, ok := asOptions(v); ok {
			if existing, ok := asOptions(out[k]); ok {
				out[k] = MergeOptions(existing, sub)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// Sub returns the nested options stored under key, or nil.
func (o Options) Sub(key string) Options {
	sub, _ := asOptions(o[key])
	return sub
}

// String returns the option under key as a trimmed string.
func (o Options) String(key string) string {
	switch v := o[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case []string:
		if len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Int returns the option under key as an integer. ok is false when the key is
// absent; err is set when a value is present but not a whole number.
func (o Options) Int(key string) (n int, ok bool, err error) {
	raw, present := o[key]
	if !present || raw == nil {
		return 0, false, nil
	}
	switch v := raw.(type) {
	case int:
		return v, true, nil
	case int64:
		if v > math.MaxInt || v < math.MinInt {
			return 0, true, fmt.Errorf("%d is out of range", v)
		}
		return int(v), true, nil
	case float64:
		if v != math.Trunc(v) {
			return 0, true, fmt.Errorf("%v is not a whole number", v)
		}
		// float64(math.MaxInt) rounds up to 2^63, so the upper bound is exclusive
		if v >= float64(math.MaxInt) || v < float64(math.MinInt) {
			return 0, true, fmt.Errorf("%v is out of range", v)
		}
		return int(v), true, nil
	case json.Number:
		parsed, perr := strconv.Atoi(v.String())
		return parsed, true, perr
	default:
		s := o.String(key)
		if s == "" {
			return 0, false, nil
		}
		parsed, perr := strconv.Atoi(s)
		if perr != nil {
			return 0, true, fmt.Errorf("%q is not numeric", s)
		}
		return parsed, true, nil
	}
}

// Time returns the option under key as a Unix-seconds instant.
func (o Options) Time(key string) (*time.Time, error) {
	raw, present := o[key]
	if !present || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case time.Time:
		if v.IsZero() {
			return nil, nil
		}
		t := v.UTC()
		return &t, nil
	case *time.Time:
		if v == nil || v.IsZero() {
			return nil, nil
		}
		t := v.UTC()
		return &t, nil
	case *int64:
		if v == nil {
			return nil, nil
		}
		t := time.Unix(*v, 0).UTC()
		return &t, nil
	}

	secs, ok, err := o.Int(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	t := time.Unix(int64(secs), 0).UTC()
	return &t, nil
}

// Actions decodes the action list. Both the list form
// ([{id, payload}, ...]) and the legacy id -> payload mapping are accepted.
func (o Options) Actions() ([]*Action, error) {
	var out []*Action

	switch v := o[OptActions].(type) {
	case nil:
	case []ActionRecord:
		for _, rec := range v {
			out = append(out, NewAction(rec.ID, rec.Payload))
		}
	case []*Action:
		for _, a := range v {
			out = append(out, a.clone())
		}
	case []any:
		for i, item := range v {
			m, ok := asOptions(item)
			if !ok {
				return nil, invalid(OptActions, nil, "entry %d is not a mapping", i)
			}
			id := m.String("id")
			if id == "" {
				return nil, invalid(OptActions, nil, "entry %d has no id", i)
			}
			out = append(out, NewAction(id, m.Sub("payload")))
		}
	default:
		return nil, invalid(OptActions, nil, "unsupported type %T", v)
	}

	if data, ok := asOptions(o[OptActionsData]); ok {
		ids := make([]string, 0, len(data))
		for id := range data {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			payload, _ := asOptions(data[id])
			out = append(out, NewAction(id, payload))
		}
	}

	return out, nil
}

func asOptions(v any) (Options, bool) {
	switch m := v.(type) {
	case Options:
		return m, true
	case map[string]any:
		return Options(m), true
	case map[string]string:
		out := make(Options, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out, true
	default:
		return nil, false
	}
}
