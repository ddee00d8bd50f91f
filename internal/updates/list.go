/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package updates checks self-hosted update servers for newer plugin
// releases and fetches their packages.
package updates

import (
	"fmt"
	"net/url"
	"regexp"
	"sync"
)

// Plugin is one plugin registered for update checks.
type Plugin struct {
	Slug    string `json:"slug" yaml:"slug"`
	URL     string `json:"url" yaml:"url"`
	Version string `json:"version,omitempty" yaml:"version"`
}

// File returns the plugin's main file name, "slug/slug.php".
func (p Plugin) File() string { return PluginFile(p.Slug) }

// PluginFile returns "slug/slug.php".
func PluginFile(slug string) string { return fmt.Sprintf("%[1]s/%[1]s.php", slug) }

var (
	pluginFilePattern = regexp.MustCompile(`^(?:[a-zA-Z0-9-]+)/([a-zA-Z0-9-]+)\.php$`)
	updateIDPattern   = regexp.MustCompile(`^ds-update/plugin/([a-zA-Z0-9-]+)$`)
)

// ParsePluginSlug extracts the slug from a "dir/slug.php" plugin name.
func ParsePluginSlug(name string) (string, bool) {
	m := pluginFilePattern.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ParseUpdateID extracts the slug from a "ds-update/plugin/slug" id.
func ParseUpdateID(id string) (string, bool) {
	m := updateIDPattern.FindStringSubmatch(id)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// List holds the registered plugins in registration order.
type List struct {
	mu      sync.RWMutex
	order   []string
	plugins map[string]Plugin
}

// NewList creates an empty list.
func NewList() *List {
	return &List{plugins: make(map[string]Plugin)}
}

// Add registers slug against an update server URL. The first registration
// of a slug wins; later ones report false.
func (l *List) Add(slug, serverURL string) bool {
	return l.AddPlugin(Plugin{Slug: slug, URL: serverURL})
}

// AddPlugin registers p, keeping an earlier registration of the same slug.
func (l *List) AddPlugin(p Plugin) bool {
	if p.Slug == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.plugins[p.Slug]; ok {
		return false
	}
	l.plugins[p.Slug] = p
	l.order = append(l.order, p.Slug)
	return true
}

// Get returns the registration of slug.
func (l *List) Get(slug string) (Plugin, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.plugins[slug]
	return p, ok
}

// Plugins returns every registration in order.
func (l *List) Plugins() []Plugin {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Plugin, 0, len(l.order))
	for _, slug := range l.order {
		out = append(out, l.plugins[slug])
	}
	return out
}

// Len returns the number of registered plugins.
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

// Versions maps plugin files to the versions recorded at registration.
// Plugins without a version are left out.
func (l *List) Versions() map[string]string {
	versions := make(map[string]string)
	for _, p := range l.Plugins() {
		if p.Version != "" {
			versions[p.File()] = p.Version
		}
	}
	return versions
}

// DomainGroup is the set of slugs served from one scheme://host.
type DomainGroup struct {
	Domain string
	Slugs  []string
}

// GroupByDomain batches registrations by scheme://host so each update
// server is queried once. The scheme defaults to http. Registrations whose
// URL has no host are returned in skipped.
func GroupByDomain(l *List) (groups []DomainGroup, skipped []string) {
	index := make(map[string]int)
	for _, p := range l.Plugins() {
		domain, ok := domainOf(p.URL)
		if !ok {
			skipped = append(skipped, p.Slug)
			continue
		}
		i, seen := index[domain]
		if !seen {
			i = len(groups)
			index[domain] = i
			groups = append(groups, DomainGroup{Domain: domain})
		}
		groups[i].Slugs = append(groups[i].Slugs, p.Slug)
	}
	return groups, skipped
}

func domainOf(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	if u.Host == "" && u.Scheme == "" {
		// "example.com/path" parses as a bare path
		u, err = url.Parse("http://" + raw)
		if err != nil {
			return "", false
		}
	}
	if u.Host == "" {
		return "", false
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return scheme + "://" + u.Host, true
}
