package authcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fishysoftware/semantic-pipeline/internal/domain"
)

func TestLookup_L1Hit(t *testing.T) {
	c := New(nil, time.Hour, nil)
	calls := 0
	fallback := func(ctx context.Context, token string) (domain.UserInfo, error) {
		calls++
		return domain.UserInfo{Subject: "u1"}, nil
	}

	u1, err := c.Lookup(context.Background(), "Bearer tok", fallback)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	u2, err := c.Lookup(context.Background(), "Bearer tok", fallback)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u1 != u2 {
		t.Fatalf("expected same user from cache")
	}
	if calls != 1 {
		t.Fatalf("expected fallback called once, got %d", calls)
	}
}

func TestLookup_ExpiredL1FallsThrough(t *testing.T) {
	c := New(nil, time.Nanosecond, nil)
	calls := 0
	fallback := func(ctx context.Context, token string) (domain.UserInfo, error) {
		calls++
		return domain.UserInfo{Subject: "u1"}, nil
	}

	if _, err := c.Lookup(context.Background(), "tok", fallback); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(time.Millisecond)
	if _, err := c.Lookup(context.Background(), "tok", fallback); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected fallback called twice after expiry, got %d", calls)
	}
}

func TestLookup_FallbackError(t *testing.T) {
	c := New(nil, time.Hour, nil)
	wantErr := errors.New("oidc down")
	fallback := func(ctx context.Context, token string) (domain.UserInfo, error) {
		return domain.UserInfo{}, wantErr
	}
	if _, err := c.Lookup(context.Background(), "tok", fallback); !errors.Is(err, wantErr) {
		t.Fatalf("expected fallback error to propagate, got %v", err)
	}
}

func TestTokenHash_StripsBearerPrefix(t *testing.T) {
	a := TokenHash("Bearer abc")
	b := TokenHash("abc")
	if a != b {
		t.Fatalf("expected Bearer-prefixed and bare token to hash the same")
	}
}

func TestEncodeDecodeUserInfo_RoundTrip(t *testing.T) {
	u := domain.UserInfo{Subject: "s1", Email: "e@example.com", DisplayName: "Name"}
	raw, err := encodeUserInfo(u)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := decodeUserInfo(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != u {
		t.Fatalf("expected round trip to preserve user info, got %+v", got)
	}
}
