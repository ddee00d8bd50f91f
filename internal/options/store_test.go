/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package options

import (
	"context"
	"os"
	"reflect"
	"testing"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/plugin_update_helper/internal/models"
)

func newTestGormStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// every connection to :memory: is a separate database
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.Option{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewGormStore(db)
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	out := map[string]Store{
		"memory": NewMemoryStore(),
		"gorm":   newTestGormStore(t),
	}
	if addr := os.Getenv("PUH_TEST_REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		t.Cleanup(func() { _ = client.Close() })
		ns := "updatehelper:test:" + t.Name() + ":"
		rs := NewRedisStore(client, ns)
		t.Cleanup(func() {
			keys, _ := rs.Keys(context.Background(), "")
			for _, k := range keys {
				_, _ = rs.Delete(context.Background(), k)
			}
		})
		out["redis"] = rs
	}
	return out
}

func TestStoreSetReportsNoopWrites(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			written, err := s.Set(ctx, "alpha", []byte(`{"a":1}`))
			if err != nil || !written {
				t.Fatalf("first Set = %v, %v; want true, nil", written, err)
			}

			written, err = s.Set(ctx, "alpha", []byte(`{"a":1}`))
			if err != nil {
				t.Fatalf("repeat Set: %v", err)
			}
			if written {
				t.Fatal("repeat Set with identical value reported a write")
			}

			written, err = s.Set(ctx, "alpha", []byte(`{"a":2}`))
			if err != nil || !written {
				t.Fatalf("changed Set = %v, %v; want true, nil", written, err)
			}

			got, ok, err := s.Get(ctx, "alpha")
			if err != nil || !ok {
				t.Fatalf("Get = %v, %v", ok, err)
			}
			if string(got) != `{"a":2}` {
				t.Fatalf("Get = %s, want {\"a\":2}", got)
			}
		})
	}
}

func TestStoreGetMissing(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.Get(ctx, "missing")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if ok {
				t.Fatal("Get reported a missing key as present")
			}
		})
	}
}

func TestStoreKeysAndDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"timer_b", "timer_a", "timerXc", "other"} {
				if _, err := s.Set(ctx, k, []byte("1")); err != nil {
					t.Fatalf("Set %s: %v", k, err)
				}
			}

			keys, err := s.Keys(ctx, "timer_")
			if err != nil {
				t.Fatalf("Keys: %v", err)
			}
			if want := []string{"timer_a", "timer_b"}; !reflect.DeepEqual(keys, want) {
				t.Fatalf("Keys = %v, want %v", keys, want)
			}

			deleted, err := s.Delete(ctx, "timer_a")
			if err != nil || !deleted {
				t.Fatalf("Delete = %v, %v", deleted, err)
			}
			deleted, err = s.Delete(ctx, "timer_a")
			if err != nil || deleted {
				t.Fatalf("second Delete = %v, %v; want false, nil", deleted, err)
			}
		})
	}
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	if _, err := SetJSON(ctx, s, "p", payload{Name: "x", Count: 3}); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	var got payload
	ok, err := GetJSON(ctx, s, "p", &got)
	if err != nil || !ok {
		t.Fatalf("GetJSON = %v, %v", ok, err)
	}
	if got != (payload{Name: "x", Count: 3}) {
		t.Fatalf("GetJSON = %+v", got)
	}

	if _, err := s.Set(ctx, "broken", []byte("{")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := GetJSON(ctx, s, "broken", &got); err == nil {
		t.Fatal("GetJSON on malformed value returned no error")
	}
}
