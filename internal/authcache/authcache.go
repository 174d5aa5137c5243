// Package authcache is the bearer-token cache (§4.E): an in-process L1 map
// guarded by a reader-writer lock, a Redis-backed L2, and an OIDC fallback.
// The raw token is never stored; both tiers are keyed by SHA-256(token).
package authcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fishysoftware/semantic-pipeline/internal/domain"
)

type l1Entry struct {
	user      domain.UserInfo
	insertion time.Time
}

// Cache implements the four-step lookup algorithm: L1, then L2, then the
// caller-supplied OIDC fallback, with async fire-and-forget L2 population.
type Cache struct {
	mu  sync.RWMutex
	l1  map[[32]byte]l1Entry
	ttl time.Duration

	rdb *redis.Client
	log *slog.Logger
}

// New builds a Cache. rdb may be nil to run L1-only (tests, or a deployment
// without Redis configured — L2 lookups and populates are then no-ops).
func New(rdb *redis.Client, ttl time.Duration, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{l1: make(map[[32]byte]l1Entry), ttl: ttl, rdb: rdb, log: log}
}

// TokenHash returns SHA-256(rawToken), stripping a leading "Bearer " if
// present so callers can pass the raw Authorization header value directly.
func TokenHash(authHeader string) [32]byte {
	token := strings.TrimPrefix(authHeader, "Bearer ")
	token = strings.TrimSpace(token)
	return sha256.Sum256([]byte(token))
}

// OIDCFallback calls the identity provider's userinfo endpoint for a token
// that missed both cache tiers.
type OIDCFallback func(ctx context.Context, rawToken string) (domain.UserInfo, error)

// Lookup runs the four-step algorithm: L1, L2, OIDC, with L1 populated
// synchronously and L2 populated asynchronously on an OIDC hit.
func (c *Cache) Lookup(ctx context.Context, authHeader string, fallback OIDCFallback) (domain.UserInfo, error) {
	hash := TokenHash(authHeader)

	if user, ok := c.getL1(hash); ok {
		return user, nil
	}

	if user, ok := c.getL2(ctx, hash); ok {
		c.putL1(hash, user)
		return user, nil
	}

	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	user, err := fallback(ctx, token)
	if err != nil {
		return domain.UserInfo{}, err
	}

	c.putL1(hash, user)
	go c.putL2Async(hash, user)
	return user, nil
}

func (c *Cache) getL1(hash [32]byte) (domain.UserInfo, bool) {
	c.mu.RLock()
	entry, ok := c.l1[hash]
	c.mu.RUnlock()
	if !ok {
		return domain.UserInfo{}, false
	}
	if time.Since(entry.insertion) >= c.ttl {
		return domain.UserInfo{}, false
	}
	return entry.user, true
}

func (c *Cache) putL1(hash [32]byte, user domain.UserInfo) {
	c.mu.Lock()
	c.l1[hash] = l1Entry{user: user, insertion: time.Now()}
	c.mu.Unlock()
}

func l2Key(hash [32]byte) string {
	return "bearer:" + hex.EncodeToString(hash[:])
}

// getL2 fails open: any transport error is treated as a miss so a down
// Redis never blocks a user request.
func (c *Cache) getL2(ctx context.Context, hash [32]byte) (domain.UserInfo, bool) {
	if c.rdb == nil {
		return domain.UserInfo{}, false
	}
	raw, err := c.rdb.Get(ctx, l2Key(hash)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logL2Failure("get", err)
		}
		return domain.UserInfo{}, false
	}
	user, err := decodeUserInfo(raw)
	if err != nil {
		c.logL2Failure("decode", err)
		return domain.UserInfo{}, false
	}
	return user, true
}

// putL2Async populates L2 on its own bounded context; failures are logged,
// never propagated, matching the fire-and-forget contract.
func (c *Cache) putL2Async(hash [32]byte, user domain.UserInfo) {
	if c.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	raw, err := encodeUserInfo(user)
	if err != nil {
		c.logL2Failure("encode", err)
		return
	}
	if err := c.rdb.Set(ctx, l2Key(hash), raw, c.ttl).Err(); err != nil {
		c.logL2Failure("set", err)
	}
}

func (c *Cache) logL2Failure(op string, err error) {
	var netErr net.Error
	if errors.Is(err, redis.ErrClosed) || errors.As(err, &netErr) {
		c.log.Warn("authcache: L2 unreachable, failing open", "op", op, "error", err)
		return
	}
	c.log.Warn("authcache: L2 error, failing open", "op", op, "error", err)
}

func encodeUserInfo(u domain.UserInfo) (string, error) {
	return fmt.Sprintf("%s\x1f%s\x1f%s", u.Subject, u.Email, u.DisplayName), nil
}

func decodeUserInfo(raw string) (domain.UserInfo, error) {
	parts := strings.Split(raw, "\x1f")
	if len(parts) != 3 {
		return domain.UserInfo{}, fmt.Errorf("authcache: malformed l2 entry")
	}
	return domain.UserInfo{Subject: parts[0], Email: parts[1], DisplayName: parts[2]}, nil
}
