package cache

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestCacheWithoutClientMisses(t *testing.T) {
	ctx := context.Background()
	c := New(ctx, nil, DefaultConfig(), zerolog.Nop())
	if c.IsAvailable() {
		t.Fatal("cache without client reports available")
	}
	c.SetPluginInfo(ctx, "gallery", map[string]any{"name": "Gallery"})
	if _, ok := c.GetPluginInfo(ctx, "gallery"); ok {
		t.Fatal("disabled cache returned a hit")
	}
	c.InvalidateAll(ctx)
}

func TestCachePluginInfoRedis(t *testing.T) {
	addr := os.Getenv("PUH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PUH_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	cfg := DefaultConfig()
	cfg.Prefix = "updatehelper:test:plugin_info:"
	c := New(ctx, client, cfg, zerolog.Nop())
	t.Cleanup(func() { c.InvalidateAll(ctx) })

	c.SetPluginInfo(ctx, "gallery", map[string]any{"name": "Gallery"})
	info, ok := c.GetPluginInfo(ctx, "gallery")
	if !ok || info["name"] != "Gallery" {
		t.Fatalf("cache miss: %v %v", info, ok)
	}

	c.InvalidatePluginInfo(ctx, "gallery")
	if _, ok := c.GetPluginInfo(ctx, "gallery"); ok {
		t.Fatal("invalidated entry still cached")
	}
}
