/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Header names sent with every delivery.
const (
	HeaderEvent     = "X-UpdateHelper-Event"
	HeaderTimestamp = "X-UpdateHelper-Timestamp"
	HeaderSignature = "X-UpdateHelper-Signature"
	userAgent       = "Plugin-Update-Helper-Webhook/1.0"
)

// Target is one webhook endpoint.
type Target struct {
	URL    string
	Secret string // signs the body when set
}

// Payload is the JSON body of a delivery.
type Payload struct {
	Event     string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	TimerID   string         `json:"timer_id,omitempty"`
	ActionID  string         `json:"action_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Service delivers webhooks.
type Service struct {
	logger zerolog.Logger
	client *http.Client
	now    func() time.Time
}

// NewService creates a webhook sender.
func NewService(logger zerolog.Logger) *Service {
	return &Service{
		logger: logger.With().Str("component", "webhooks").Logger(),
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		now: time.Now,
	}
}

// Send posts payload to target and fails on transport errors and non-2xx
// responses.
func (s *Service) Send(ctx context.Context, target Target, payload Payload) error {
	if payload.Timestamp.IsZero() {
		payload.Timestamp = s.now().UTC()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(HeaderEvent, payload.Event)
	req.Header.Set(HeaderTimestamp, fmt.Sprintf("%d", payload.Timestamp.Unix()))
	if target.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(body, target.Secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error().Err(err).Str("url", target.URL).Msg("webhook delivery failed")
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.Warn().Str("url", target.URL).Str("event", payload.Event).Int("status", resp.StatusCode).Msg("webhook returned error status")
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	s.logger.Debug().Str("url", target.URL).Str("event", payload.Event).Int("status", resp.StatusCode).Msg("webhook delivered")
	return nil
}

// Sign returns the HMAC-SHA256 signature header value of body.
func Sign(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether signature matches body under secret.
func Verify(body []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}
