/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package updates

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/friendsincode/plugin_update_helper/internal/events"
	"github.com/friendsincode/plugin_update_helper/internal/storage"
	"github.com/friendsincode/plugin_update_helper/internal/telemetry"
	"github.com/friendsincode/plugin_update_helper/internal/version"
)

// DefaultDownloadTimeout bounds a package download.
const DefaultDownloadTimeout = 300 * time.Second

const maxPackageBytes = 512 << 20

var (
	// ErrNoPackage is returned for updates without a package URL.
	ErrNoPackage = errors.New("update has no package url")
	// ErrNoKey is returned when a token must be decrypted but no key is configured.
	ErrNoKey = errors.New("no ssl key configured for package tokens")
)

// Package describes a stored download.
type Package struct {
	Plugin   string `json:"plugin"`
	Version  string `json:"version"`
	Key      string `json:"key"`
	Location string `json:"location"`
	Size     int    `json:"size"`
}

// Downloader fetches update packages into an object store.
type Downloader struct {
	http      *http.Client
	key       []byte
	iv        []byte
	store     storage.ObjectStore
	publisher events.Publisher
	logger    zerolog.Logger
}

// NewDownloader creates a downloader. sslKey and sslIV decrypt package
// tokens; both may be empty when servers send plain package URLs.
func NewDownloader(store storage.ObjectStore, sslKey, sslIV string, timeout time.Duration, logger zerolog.Logger) *Downloader {
	if timeout <= 0 {
		timeout = DefaultDownloadTimeout
	}
	return &Downloader{
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		key:       []byte(sslKey),
		iv:        []byte(sslIV),
		store:     store,
		publisher: events.Nop{},
		logger:    logger.With().Str("component", "update_downloader").Logger(),
	}
}

// SetPublisher routes download events to p.
func (d *Downloader) SetPublisher(p events.Publisher) {
	if p == nil {
		p = events.Nop{}
	}
	d.publisher = p
}

// PackageKey is the object key a package is stored under.
func PackageKey(u Update) string {
	slug := u.Slug
	if slug == "" {
		slug, _ = ParsePluginSlug(u.Plugin)
	}
	return fmt.Sprintf("packages/%s/%s-%s.zip", slug, slug, u.NewVersion)
}

// PackageURL returns the download URL of u, with the decrypted token added
// as access_token when the update carries one.
func (d *Downloader) PackageURL(u Update) (string, error) {
	if u.Package == "" {
		return "", ErrNoPackage
	}
	if u.Token == "" {
		return u.Package, nil
	}
	if len(d.key) == 0 {
		return "", ErrNoKey
	}

	token, err := DecryptToken(u.Token, d.key, d.iv)
	if err != nil {
		return "", fmt.Errorf("decrypt package token: %w", err)
	}
	parsed, err := url.Parse(u.Package)
	if err != nil {
		return "", fmt.Errorf("parse package url: %w", err)
	}
	q := parsed.Query()
	q.Set("access_token", token)
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}

// Fetch downloads the package of u and stores it.
func (d *Downloader) Fetch(ctx context.Context, u Update) (Package, error) {
	ctx, span := telemetry.StartSpan(ctx, "updates", "updates.fetch")
	defer span.End()

	pkg, err := d.fetch(ctx, u)
	if err != nil {
		telemetry.RecordError(span, err)
		telemetry.PackageDownloadsTotal.WithLabelValues("error").Inc()
		d.logger.Warn().Err(err).Str("plugin", u.Plugin).Msg("package download failed")
		return Package{}, err
	}

	telemetry.PackageDownloadsTotal.WithLabelValues("ok").Inc()
	d.logger.Info().
		Str("plugin", pkg.Plugin).
		Str("version", pkg.Version).
		Str("location", pkg.Location).
		Int("bytes", pkg.Size).
		Msg("package stored")
	d.publisher.Publish(events.EventPackageFetched, events.Payload{
		"plugin":   pkg.Plugin,
		"version":  pkg.Version,
		"key":      pkg.Key,
		"location": pkg.Location,
		"size":     pkg.Size,
	})
	return pkg, nil
}

func (d *Downloader) fetch(ctx context.Context, u Update) (Package, error) {
	target, err := d.PackageURL(u)
	if err != nil {
		return Package{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Package{}, fmt.Errorf("build download request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())
	resp, err := d.http.Do(req)
	if err != nil {
		return Package{}, fmt.Errorf("download package: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Package{}, fmt.Errorf("download package: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPackageBytes+1))
	if err != nil {
		return Package{}, fmt.Errorf("read package: %w", err)
	}
	if len(data) > maxPackageBytes {
		return Package{}, fmt.Errorf("package exceeds %d bytes", maxPackageBytes)
	}

	key := PackageKey(u)
	if err := d.store.Put(ctx, key, data); err != nil {
		return Package{}, fmt.Errorf("store package: %w", err)
	}
	return Package{
		Plugin:   u.Plugin,
		Version:  u.NewVersion,
		Key:      key,
		Location: d.store.Location(key),
		Size:     len(data),
	}, nil
}

// FetchAll downloads every available update of t. Failures are collected
// per plugin file and do not stop the remaining downloads.
func (d *Downloader) FetchAll(ctx context.Context, t *Transient) ([]Package, map[string]error) {
	var pkgs []Package
	failures := make(map[string]error)
	for _, u := range t.Available() {
		pkg, err := d.Fetch(ctx, u)
		if err != nil {
			failures[u.Plugin] = err
			continue
		}
		pkgs = append(pkgs, pkg)
	}
	return pkgs, failures
}

// DecryptToken base64 decodes and AES-256-CBC decrypts token. Key and iv
// are NUL padded or truncated to 32 and 16 bytes.
func DecryptToken(token string, key, iv []byte) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return "", fmt.Errorf("token length %d is not a multiple of the block size", len(raw))
	}

	block, err := aes.NewCipher(fitKey(key, 32))
	if err != nil {
		return "", err
	}
	plain := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, fitKey(iv, aes.BlockSize)).CryptBlocks(plain, raw)

	plain, err = pkcs7Unpad(plain)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func fitKey(b []byte, size int) []byte {
	out := make([]byte, size)
	copy(out, b)
	return out
}

func pkcs7Unpad(b []byte) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, errors.New("bad token padding")
	}
	if !bytes.Equal(b[len(b)-n:], bytes.Repeat([]byte{byte(n)}, n)) {
		return nil, errors.New("bad token padding")
	}
	return b[:len(b)-n], nil
}

func sortedUpdates(m map[string]Update) []Update {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Update, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}
