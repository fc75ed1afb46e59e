package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// SessionGuard reports whether a key is seen for the first time within its TTL.
type SessionGuard interface {
	Begin(ctx context.Context, key string) (bool, error)
}

// RedisSessionGuard stores session markers in Redis with SETNX.
type RedisSessionGuard struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisSessionGuard(client *redis.Client, ttl time.Duration) *RedisSessionGuard {
	return &RedisSessionGuard{client: client, ttl: ttl, prefix: "timeplanner:session:"}
}

func (g *RedisSessionGuard) Begin(ctx context.Context, key string) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.prefix+key, time.Now().Unix(), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("begin session %s: %w", key, err)
	}
	return ok, nil
}

// MemorySessionGuard keeps markers in process memory. Used when Redis is not configured.
type MemorySessionGuard struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  Clock
	seen map[string]time.Time
}

func NewMemorySessionGuard(ttl time.Duration, clock Clock) *MemorySessionGuard {
	if clock == nil {
		clock = time.Now
	}
	return &MemorySessionGuard{ttl: ttl, now: clock, seen: make(map[string]time.Time)}
}

func (g *MemorySessionGuard) Begin(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for k, exp := range g.seen {
		if !now.Before(exp) {
			delete(g.seen, k)
		}
	}
	if _, ok := g.seen[key]; ok {
		return false, nil
	}
	g.seen[key] = now.Add(g.ttl)
	return true, nil
}

// SessionResult is returned by StartSession.
type SessionResult struct {
	Started     bool `json:"started"`
	Reactivated int  `json:"reactivated"`
}

// SessionService runs the client-side sweep once per user session.
type SessionService struct {
	guard SessionGuard
	sweep *SweepService
	log   *zap.SugaredLogger
}

func NewSessionService(guard SessionGuard, sweep *SweepService, log *zap.SugaredLogger) *SessionService {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &SessionService{guard: guard, sweep: sweep, log: log}
}

// StartSession sweeps the user's recurring tasks unless a session for the same
// user and client is already open. A guard failure does not block the sweep.
func (s *SessionService) StartSession(ctx context.Context, userID uint, client string) (SessionResult, error) {
	if client == "" {
		client = "default"
	}
	first, err := s.guard.Begin(ctx, fmt.Sprintf("%d_%s", userID, client))
	if err != nil {
		s.log.Warnw("session guard unavailable", "userID", userID, "error", err)
		first = true
	}
	if !first {
		return SessionResult{}, nil
	}

	n, err := s.sweep.ProcessRecurringTasks(ctx, userID)
	if err != nil {
		return SessionResult{Started: true}, err
	}
	return SessionResult{Started: true, Reactivated: n}, nil
}
