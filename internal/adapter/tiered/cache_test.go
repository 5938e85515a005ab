package tiered

import (
	"context"
	"testing"
	"time"
)

// memCache is a minimal in-memory cache.Cache for exercising the tiers.
type memCache struct {
	m map[string][]byte
}

func newMemCache() *memCache { return &memCache{m: make(map[string][]byte)} }

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.m[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.m[key] = value
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	delete(c.m, key)
	return nil
}

func TestGetL1Hit(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	c := New(l1, l2, time.Minute)
	ctx := context.Background()

	l1.m["graph:m1:3"] = []byte("from-l1")

	val, ok, err := c.Get(ctx, "graph:m1:3")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || string(val) != "from-l1" {
		t.Fatalf("got %q ok=%v, want from-l1", val, ok)
	}
}

func TestGetL2HitBackfillsL1(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	c := New(l1, l2, time.Minute)
	ctx := context.Background()

	l2.m["graph:m1:3"] = []byte("from-l2")

	val, ok, err := c.Get(ctx, "graph:m1:3")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || string(val) != "from-l2" {
		t.Fatalf("got %q ok=%v, want from-l2", val, ok)
	}

	if string(l1.m["graph:m1:3"]) != "from-l2" {
		t.Error("expected L2 hit to backfill L1")
	}
}

func TestGetMissBothLevels(t *testing.T) {
	c := New(newMemCache(), newMemCache(), time.Minute)

	_, ok, err := c.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("expected miss")
	}
}

func TestSetWritesBothLevels(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	c := New(l1, l2, time.Minute)

	if err := c.Set(context.Background(), "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if string(l1.m["k"]) != "v" {
		t.Error("expected L1 write")
	}
	if string(l2.m["k"]) != "v" {
		t.Error("expected L2 write")
	}
}

func TestDeleteRemovesBothLevels(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	c := New(l1, l2, time.Minute)
	ctx := context.Background()

	l1.m["k"] = []byte("v")
	l2.m["k"] = []byte("v")

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, ok := l1.m["k"]; ok {
		t.Error("expected L1 delete")
	}
	if _, ok := l2.m["k"]; ok {
		t.Error("expected L2 delete")
	}
}
