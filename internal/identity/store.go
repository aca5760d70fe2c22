package identity

import (
	"context"
	"sync"
	"time"

	"voicedesk/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// TokenStore keeps one session per browser session id.
type TokenStore interface {
	Load(ctx context.Context, sid string) (*Session, bool, error)
	Save(ctx context.Context, sid string, s *Session) error
	Delete(ctx context.Context, sid string) error
}

const defaultTokenTTL = 30 * 24 * time.Hour

// RedisTokenStore persists sessions as JSON under vd:identity:<sid>.
// TTL matches the refresh-token lifetime.
type RedisTokenStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisTokenStore(rdb redis.Cmdable, ttl time.Duration) *RedisTokenStore {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &RedisTokenStore{rdb: rdb, ttl: ttl}
}

// storedSession carries the tokens that Session hides from JSON.
type storedSession struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
}

func tokenKey(sid string) string { return "vd:identity:" + sid }

func (r *RedisTokenStore) Load(ctx context.Context, sid string) (*Session, bool, error) {
	var rec storedSession
	found, err := utils.GetJSON(ctx, r.rdb, tokenKey(sid), &rec)
	if err != nil || !found {
		return nil, false, err
	}
	return &Session{
		UserID:       rec.UserID,
		Email:        rec.Email,
		DisplayName:  rec.DisplayName,
		ExpiresAt:    rec.ExpiresAt,
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
	}, true, nil
}

func (r *RedisTokenStore) Save(ctx context.Context, sid string, s *Session) error {
	return utils.SetJSON(ctx, r.rdb, tokenKey(sid), storedSession{
		UserID:       s.UserID,
		Email:        s.Email,
		DisplayName:  s.DisplayName,
		ExpiresAt:    s.ExpiresAt,
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
	}, r.ttl)
}

func (r *RedisTokenStore) Delete(ctx context.Context, sid string) error {
	return r.rdb.Del(ctx, tokenKey(sid)).Err()
}

// MemoryTokenStore is an in-process TokenStore for tests and local runs.
type MemoryTokenStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{sessions: map[string]*Session{}}
}

func (m *MemoryTokenStore) Load(ctx context.Context, sid string) (*Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sid]
	return s.clone(), ok, nil
}

func (m *MemoryTokenStore) Save(ctx context.Context, sid string, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sid] = s.clone()
	return nil
}

func (m *MemoryTokenStore) Delete(ctx context.Context, sid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sid)
	return nil
}
