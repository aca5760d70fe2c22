package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultLandingPath is used when no dashboard page was remembered.
const DefaultLandingPath = "/"

var ErrPathNotRemembered = errors.New("session: path cannot be remembered")

// PathMemory remembers the last dashboard page a browser visited so sign-in
// can return there.
type PathMemory interface {
	Remember(ctx context.Context, sid, path string) error
	Recall(ctx context.Context, sid string) (string, error)
}

// Rememberable reports whether path is a dashboard page worth returning to.
func Rememberable(path string) bool {
	if !strings.HasPrefix(path, "/") || strings.HasPrefix(path, "//") {
		return false
	}
	if strings.ContainsAny(path, "\r\n\\") {
		return false
	}
	for _, p := range []string{SignInPath, "/sign-up"} {
		if path == p || strings.HasPrefix(path, p+"/") || strings.HasPrefix(path, p+"?") {
			return false
		}
	}
	return true
}

const lastPathTTL = 24 * time.Hour

// RedisPathMemory stores the path under vd:lastpath:<sid>.
type RedisPathMemory struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisPathMemory(rdb redis.Cmdable) *RedisPathMemory {
	return &RedisPathMemory{rdb: rdb, ttl: lastPathTTL}
}

func lastPathKey(sid string) string { return "vd:lastpath:" + sid }

func (m *RedisPathMemory) Remember(ctx context.Context, sid, path string) error {
	if !Rememberable(path) {
		return ErrPathNotRemembered
	}
	return m.rdb.Set(ctx, lastPathKey(sid), path, m.ttl).Err()
}

func (m *RedisPathMemory) Recall(ctx context.Context, sid string) (string, error) {
	p, err := m.rdb.Get(ctx, lastPathKey(sid)).Result()
	if errors.Is(err, redis.Nil) {
		return DefaultLandingPath, nil
	}
	if err != nil {
		return DefaultLandingPath, err
	}
	return p, nil
}

type MemoryPathMemory struct {
	mu    sync.Mutex
	paths map[string]string
}

func NewMemoryPathMemory() *MemoryPathMemory {
	return &MemoryPathMemory{paths: map[string]string{}}
}

func (m *MemoryPathMemory) Remember(ctx context.Context, sid, path string) error {
	if !Rememberable(path) {
		return ErrPathNotRemembered
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paths[sid] = path
	return nil
}

func (m *MemoryPathMemory) Recall(ctx context.Context, sid string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.paths[sid]; ok {
		return p, nil
	}
	return DefaultLandingPath, nil
}
