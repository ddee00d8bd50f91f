/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package updates

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/friendsincode/plugin_update_helper/internal/events"
	"github.com/friendsincode/plugin_update_helper/internal/options"
	"github.com/friendsincode/plugin_update_helper/internal/telemetry"
)

// TransientKey is the options key holding the last check result.
const TransientKey = "_site_transient_update_plugins"

// Transient is the stored result of a check.
type Transient struct {
	LastChecked int64             `json:"last_checked"`
	Checked     map[string]string `json:"checked"`
	Response    map[string]Update `json:"response"`
	NoUpdate    map[string]Update `json:"no_update"`
}

// Available returns the updates in Response ordered by plugin file.
func (t *Transient) Available() []Update {
	return sortedUpdates(t.Response)
}

// InfoCache keeps plugin details between requests.
type InfoCache interface {
	GetPluginInfo(ctx context.Context, slug string) (map[string]any, bool)
	SetPluginInfo(ctx context.Context, slug string, info map[string]any)
}

// Checker compares registered plugins against their update servers.
type Checker struct {
	list      *List
	remote    Remote
	store     options.Store
	cache     InfoCache
	publisher events.Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

// NewChecker creates a checker. store may be nil, in which case results are
// not persisted.
func NewChecker(list *List, remote Remote, store options.Store, logger zerolog.Logger) *Checker {
	return &Checker{
		list:      list,
		remote:    remote,
		store:     store,
		publisher: events.Nop{},
		logger:    logger.With().Str("component", "update_checker").Logger(),
		now:       time.Now,
	}
}

// SetPublisher routes update events to p.
func (c *Checker) SetPublisher(p events.Publisher) {
	if p == nil {
		p = events.Nop{}
	}
	c.publisher = p
}

// SetInfoCache sets where plugin details are cached. nil disables caching.
func (c *Checker) SetInfoCache(cache InfoCache) {
	c.cache = cache
}

// List returns the registered plugins.
func (c *Checker) List() *List { return c.list }

// Check queries every update server once and records which plugins have a
// newer version than versions, keyed by plugin file. When versions is empty
// the versions recorded at registration are used. A plugin with no local
// version counts as outdated.
func (c *Checker) Check(ctx context.Context, versions map[string]string) (*Transient, error) {
	ctx, span := telemetry.StartSpan(ctx, "updates", "updates.check")
	defer span.End()

	if len(versions) == 0 {
		versions = c.list.Versions()
	}

	result := &Transient{
		LastChecked: c.now().UTC().Unix(),
		Checked:     versions,
		Response:    make(map[string]Update),
		NoUpdate:    make(map[string]Update),
	}

	groups, skipped := GroupByDomain(c.list)
	for _, slug := range skipped {
		c.logger.Warn().Str("slug", slug).Msg("plugin registered without a usable update server url")
	}

	for _, g := range groups {
		list, ok := c.remote.Transients(ctx, g.Domain, g.Slugs)
		if !ok {
			continue
		}
		for _, u := range list {
			if u.Plugin == "" {
				continue
			}
			if CompareVersions(u.NewVersion, versions[u.Plugin]) == 1 {
				result.Response[u.Plugin] = u
			} else {
				result.NoUpdate[u.Plugin] = u
			}
		}
	}

	span.SetAttributes(
		attribute.Int("updates.domains", len(groups)),
		attribute.Int("updates.available", len(result.Response)),
	)
	telemetry.UpdatesAvailable.Set(float64(len(result.Response)))

	if c.store != nil {
		if _, err := options.SetJSON(ctx, c.store, TransientKey, result); err != nil {
			telemetry.RecordError(span, err)
			return result, fmt.Errorf("store update transient: %w", err)
		}
	}

	for _, u := range result.Available() {
		c.logger.Info().
			Str("plugin", u.Plugin).
			Str("version", versions[u.Plugin]).
			Str("new_version", u.NewVersion).
			Msg("update available")
		c.publisher.Publish(events.EventUpdateAvailable, events.Payload{
			"plugin":      u.Plugin,
			"slug":        u.Slug,
			"version":     versions[u.Plugin],
			"new_version": u.NewVersion,
		})
	}
	return result, nil
}

// Cached returns the stored result of the last check.
func (c *Checker) Cached(ctx context.Context) (*Transient, bool, error) {
	if c.store == nil {
		return nil, false, nil
	}
	var t Transient
	ok, err := options.GetJSON(ctx, c.store, TransientKey, &t)
	if err != nil || !ok {
		return nil, false, err
	}
	return &t, true, nil
}

// Info returns plugin details for a registered slug. Unregistered slugs
// report false without contacting any server.
func (c *Checker) Info(ctx context.Context, slug string) (Info, bool) {
	p, ok := c.list.Get(slug)
	if !ok {
		return nil, false
	}
	if c.cache != nil {
		if info, ok := c.cache.GetPluginInfo(ctx, slug); ok {
			return Info(info), true
		}
	}
	info, ok := c.remote.PluginInfo(ctx, p.URL, slug)
	if ok && c.cache != nil {
		c.cache.SetPluginInfo(ctx, slug, info)
	}
	return info, ok
}
