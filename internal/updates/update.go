/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package updates

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Update is one plugin entry returned by an update server. Fields the
// server sends beyond the known ones are kept in Extra and written back out.
type Update struct {
	Plugin      string `json:"plugin"`
	Slug        string `json:"slug"`
	NewVersion  string `json:"new_version"`
	URL         string `json:"url,omitempty"`
	Package     string `json:"package,omitempty"`
	Token       string `json:"token,omitempty"`
	Tested      string `json:"tested,omitempty"`
	RequiresPHP string `json:"requires_php,omitempty"`

	Extra map[string]any `json:"-"`
}

var knownUpdateFields = []string{"plugin", "slug", "new_version", "url", "package", "token", "tested", "requires_php"}

// UnmarshalJSON accepts numeric versions and keeps unknown fields.
func (u *Update) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	fields := []*string{&u.Plugin, &u.Slug, &u.NewVersion, &u.URL, &u.Package, &u.Token, &u.Tested, &u.RequiresPHP}
	for i, key := range knownUpdateFields {
		*fields[i] = scalarString(raw[key])
		delete(raw, key)
	}
	if len(raw) > 0 {
		u.Extra = raw
	} else {
		u.Extra = nil
	}

	if u.Slug == "" {
		if slug, ok := ParsePluginSlug(u.Plugin); ok {
			u.Slug = slug
		} else if id, ok := u.Extra["id"].(string); ok {
			u.Slug, _ = ParseUpdateID(id)
		}
	}
	return nil
}

// MarshalJSON writes the known fields merged with Extra.
func (u Update) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(u.Extra)+len(knownUpdateFields))
	for k, v := range u.Extra {
		out[k] = v
	}
	out["plugin"] = u.Plugin
	out["slug"] = u.Slug
	out["new_version"] = u.NewVersion
	optional := map[string]string{
		"url": u.URL, "package": u.Package, "token": u.Token,
		"tested": u.Tested, "requires_php": u.RequiresPHP,
	}
	for k, v := range optional {
		if v != "" {
			out[k] = v
		}
	}
	return json.Marshal(out)
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

// decodeUpdates reads a transient response, which servers send either as a
// JSON array or as an object keyed by plugin file.
func decodeUpdates(body []byte) ([]Update, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("empty body")
	}

	switch body[0] {
	case '[':
		var list []Update
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, err
		}
		return list, nil
	case '{':
		var keyed map[string]Update
		if err := json.Unmarshal(body, &keyed); err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(keyed))
		for k := range keyed {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		list := make([]Update, 0, len(keys))
		for _, k := range keys {
			u := keyed[k]
			if u.Plugin == "" {
				u.Plugin = k
			}
			if u.Slug == "" {
				u.Slug, _ = ParsePluginSlug(u.Plugin)
			}
			list = append(list, u)
		}
		return list, nil
	}
	return nil, fmt.Errorf("unexpected transient payload starting with %q", body[0])
}

// Info is the free-form plugin information document served by plugins-api.
type Info map[string]any
