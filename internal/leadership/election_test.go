package leadership

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func testClient(t *testing.T) redis.UniversalClient {
	t.Helper()
	addr := os.Getenv("PUH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PUH_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func waitLeader(t *testing.T, e *Election, want bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if e.IsLeader() == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("instance %s leader = %v, want %v", e.InstanceID(), e.IsLeader(), want)
}

func TestElectionSingleLeader(t *testing.T) {
	client := testClient(t)
	key := "updatehelper:test:leader:" + uuid.NewString()
	cfg := ElectionConfig{ElectionKey: key, LeaseDuration: time.Second, RenewalInterval: 100 * time.Millisecond}

	first := NewElection(client, withID(cfg, "first"), zerolog.Nop())
	second := NewElection(client, withID(cfg, "second"), zerolog.Nop())

	ctx := context.Background()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("start first: %v", err)
	}
	waitLeader(t, first, true)
	if got := <-first.LeaderCh(); !got {
		t.Fatal("leader channel did not report acquisition")
	}

	if err := second.Start(ctx); err != nil {
		t.Fatalf("start second: %v", err)
	}
	time.Sleep(300 * time.Millisecond)
	if second.IsLeader() {
		t.Fatal("two leaders at once")
	}

	leader, err := second.GetLeader(ctx)
	if err != nil || leader != "first" {
		t.Fatalf("GetLeader = %q, %v", leader, err)
	}

	if err := first.Stop(); err != nil {
		t.Fatalf("stop first: %v", err)
	}
	waitLeader(t, second, true)
	_ = second.Stop()
}

func withID(cfg ElectionConfig, id string) ElectionConfig {
	cfg.InstanceID = id
	return cfg
}

func TestNewElectionDefaults(t *testing.T) {
	e := NewElection(nil, ElectionConfig{LeaseDuration: 9 * time.Second, RenewalInterval: time.Minute}, zerolog.Nop())
	if e.config.ElectionKey != defaultElectionKey {
		t.Fatalf("key = %q", e.config.ElectionKey)
	}
	if e.config.RenewalInterval != 3*time.Second {
		t.Fatalf("renewal = %s, want a third of the lease", e.config.RenewalInterval)
	}
	if e.InstanceID() == "" {
		t.Fatal("instance id not generated")
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("stop before start: %v", err)
	}
}
