package redisad_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	redisad "review_pipeline/internal/adapters/redis"
	"review_pipeline/internal/domain"
)

func newCache(t *testing.T) (*redisad.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return redisad.New(mr.Addr(), "", 0), mr
}

func TestCache_SetGetDel(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()

	var miss domain.Stats
	ok, err := c.Get(ctx, "stats", &miss)
	if err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	in := domain.Stats{Entities: 7, Raw: map[string]int64{"google": 3}}
	if err := c.Set(ctx, "stats", in, 60); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !mr.Exists("reviews:stats") {
		t.Fatalf("expected prefixed key in redis, keys=%v", mr.Keys())
	}

	var out domain.Stats
	ok, err = c.Get(ctx, "stats", &out)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if out.Entities != 7 || out.Raw["google"] != 3 {
		t.Fatalf("unexpected value: %+v", out)
	}

	if err := c.Del(ctx, "stats"); err != nil {
		t.Fatalf("del: %v", err)
	}
	ok, _ = c.Get(ctx, "stats", &out)
	if ok {
		t.Fatalf("expected miss after del")
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "score:1", domain.EntityScore{EntityID: 1}, 10); err != nil {
		t.Fatalf("set: %v", err)
	}
	mr.FastForward(11 * time.Second)

	var out domain.EntityScore
	ok, err := c.Get(ctx, "score:1", &out)
	if err != nil || ok {
		t.Fatalf("expected expired key, got ok=%v err=%v", ok, err)
	}
}

func TestCache_StaleEntryIsDropped(t *testing.T) {
	c, mr := newCache(t)
	ctx := context.Background()

	if err := mr.Set("reviews:stats", `{"entities":"not a number"}`); err != nil {
		t.Fatal(err)
	}
	var out domain.Stats
	ok, err := c.Get(ctx, "stats", &out)
	if err != nil || ok {
		t.Fatalf("expected miss for stale entry, got ok=%v err=%v", ok, err)
	}
	if mr.Exists("reviews:stats") {
		t.Fatalf("stale entry should be deleted")
	}
}
