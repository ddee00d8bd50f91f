/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package updates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/friendsincode/plugin_update_helper/internal/telemetry"
	"github.com/friendsincode/plugin_update_helper/internal/version"
)

// Update server paths.
const (
	TransientPath  = "/wp-json/designink/api/plugin-updates/transients"
	PluginsAPIPath = "/wp-json/designink/api/plugin-updates/plugins-api"
)

// DefaultTimeout bounds each update server request.
const DefaultTimeout = 12 * time.Second

// maxResponseBytes caps what is read from an update server.
const maxResponseBytes = 8 << 20

// Remote is what the checker needs from an update server client.
type Remote interface {
	Transients(ctx context.Context, domain string, slugs []string) ([]Update, bool)
	PluginInfo(ctx context.Context, serverURL, slug string) (Info, bool)
}

// Client talks to update servers. Failures are logged and reported as "no
// data" rather than errors; one broken server never stops a check.
type Client struct {
	http   *http.Client
	logger zerolog.Logger
}

// NewClient creates a client with the given per request timeout.
func NewClient(timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger.With().Str("component", "update_client").Logger(),
	}
}

// Transients asks domain for the update entries of slugs.
func (c *Client) Transients(ctx context.Context, domain string, slugs []string) ([]Update, bool) {
	escaped := make([]string, len(slugs))
	for i, s := range slugs {
		escaped[i] = url.QueryEscape(s)
	}
	target := fmt.Sprintf("%s%s?plugins=%s", strings.TrimRight(domain, "/"), TransientPath, strings.Join(escaped, ","))

	body, ok := c.get(ctx, "transients", target)
	if !ok {
		return nil, false
	}
	list, err := decodeUpdates(body)
	if err != nil {
		c.logger.Warn().Err(err).Str("url", target).Msg("undecodable transient response")
		telemetry.UpdateRequestsTotal.WithLabelValues("transients", "decode_error").Inc()
		return nil, false
	}
	return list, true
}

// PluginInfo fetches the information document of slug from serverURL.
func (c *Client) PluginInfo(ctx context.Context, serverURL, slug string) (Info, bool) {
	target := fmt.Sprintf("%s%s?plugin=%s", strings.TrimRight(serverURL, "/"), PluginsAPIPath, url.QueryEscape(slug))

	body, ok := c.get(ctx, "plugins_api", target)
	if !ok {
		return nil, false
	}
	var info Info
	if err := json.Unmarshal(body, &info); err != nil || info == nil {
		c.logger.Warn().Err(err).Str("url", target).Msg("undecodable plugin info response")
		telemetry.UpdateRequestsTotal.WithLabelValues("plugins_api", "decode_error").Inc()
		return nil, false
	}
	return info, true
}

func (c *Client) get(ctx context.Context, endpoint, target string) ([]byte, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		c.logger.Warn().Err(err).Str("url", target).Msg("invalid update server url")
		telemetry.UpdateRequestsTotal.WithLabelValues(endpoint, "invalid_url").Inc()
		return nil, false
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("url", target).Msg("update server request failed")
		telemetry.UpdateRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		c.logger.Warn().Int("status", resp.StatusCode).Str("url", target).Msg("update server returned non-200")
		telemetry.UpdateRequestsTotal.WithLabelValues(endpoint, "http_"+fmt.Sprint(resp.StatusCode)).Inc()
		return nil, false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.logger.Warn().Err(err).Str("url", target).Msg("reading update server response failed")
		telemetry.UpdateRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, false
	}
	telemetry.UpdateRequestsTotal.WithLabelValues(endpoint, "ok").Inc()
	return body, true
}
