package session

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisPathMemory_KeyAndTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	mem := NewRedisPathMemory(rdb)
	ctx := context.Background()

	if p, err := mem.Recall(ctx, "sid-1"); err != nil || p != DefaultLandingPath {
		t.Fatalf("expected default landing path, got %q %v", p, err)
	}
	if err := mem.Remember(ctx, "sid-1", "/agents?tab=all"); err != nil {
		t.Fatalf("remember: %v", err)
	}
	if v, err := mr.Get("vd:lastpath:sid-1"); err != nil || v != "/agents?tab=all" {
		t.Fatalf("expected path under vd:lastpath:sid-1, got %q %v", v, err)
	}
	if ttl := mr.TTL("vd:lastpath:sid-1"); ttl != lastPathTTL {
		t.Fatalf("expected ttl %s, got %s", lastPathTTL, ttl)
	}
	if err := mem.Remember(ctx, "sid-1", "/sign-in"); !errors.Is(err, ErrPathNotRemembered) {
		t.Fatalf("expected sign-in rejected, got %v", err)
	}
	if p, _ := mem.Recall(ctx, "sid-1"); p != "/agents?tab=all" {
		t.Fatalf("expected rejected path to leave the stored one, got %q", p)
	}

	mr.FastForward(lastPathTTL)
	if p, _ := mem.Recall(ctx, "sid-1"); p != DefaultLandingPath {
		t.Fatalf("expected expired path to fall back, got %q", p)
	}
}
