package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	kit "uenotify/internal/transport"
	logx "uenotify/pkg/logx"
)

func newTestResolver(feed kit.UpdateFeed, ttl time.Duration) (*Resolver, *time.Time) {
	r := NewResolver(feed, ResolverConfig{Timeout: time.Second, CacheTTL: ttl}, logx.Nop())
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	return r, &now
}

func TestResolverMatchesSender(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		handle string
		ups    []kit.Update
		want   ChatID
		wantOK bool
	}{
		{
			name:   "only other senders",
			handle: "alice",
			ups:    []kit.Update{fromUser(1, 100, "bob"), fromUser(2, 200, "carol")},
		},
		{
			name:   "picks sender among others",
			handle: "alice",
			ups:    []kit.Update{fromUser(1, 100, "alice"), fromUser(2, 200, "bob")},
			want:   100, wantOK: true,
		},
		{
			name:   "highest update id wins",
			handle: "alice",
			ups:    []kit.Update{fromUser(7, 700, "alice"), fromUser(3, 300, "alice"), fromUser(9, 900, "bob")},
			want:   700, wantOK: true,
		},
		{
			name:   "case and at sign ignored",
			handle: " @Alice ",
			ups:    []kit.Update{fromUser(1, 100, "ALICE")},
			want:   100, wantOK: true,
		},
		{
			name:   "incomplete records skipped",
			handle: "alice",
			ups: []kit.Update{
				{ID: 5, ChatID: 0, FromUsername: "alice"},
				{ID: 0, ChatID: 500, FromUsername: "alice"},
				fromUser(2, 200, "alice"),
			},
			want: 200, wantOK: true,
		},
		{name: "empty feed", handle: "alice"},
		{name: "empty handle", handle: "  ", ups: []kit.Update{fromUser(1, 100, "alice")}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, _ := newTestResolver(&fakeFeed{ups: tt.ups}, time.Hour)
			got, ok := r.Resolve(context.Background(), tt.handle)
			if got != tt.want || ok != tt.wantOK {
				t.Fatalf("Resolve(%q) = %d, %v, want %d, %v", tt.handle, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestResolverNotOKColdCache(t *testing.T) {
	t.Parallel()
	feed := &fakeFeed{err: fmt.Errorf("getUpdates: %w", kit.ErrNotOK)}
	r, _ := newTestResolver(feed, time.Hour)
	if chat, ok := r.Resolve(context.Background(), "alice"); ok {
		t.Fatalf("expected absent, got %d", chat)
	}
}

func TestResolverCacheSurvivesFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	feed := &fakeFeed{ups: []kit.Update{fromUser(1, 100, "alice")}}
	r, _ := newTestResolver(feed, time.Hour)
	if chat, ok := r.Resolve(ctx, "alice"); !ok || chat != 100 {
		t.Fatalf("first resolve = %d, %v", chat, ok)
	}

	for _, err := range []error{errors.New("connection refused"), kit.ErrMalformedResponse, kit.ErrNotOK} {
		feed.set(nil, err)
		if chat, ok := r.Resolve(ctx, "alice"); !ok || chat != 100 {
			t.Fatalf("after %v: %d, %v", err, chat, ok)
		}
	}

	// feed no longer shows the sender
	feed.set([]kit.Update{fromUser(5, 500, "bob")}, nil)
	if chat, ok := r.Resolve(ctx, "alice"); !ok || chat != 100 {
		t.Fatalf("no match fallback = %d, %v", chat, ok)
	}

	// the cache belongs to one handle
	if _, ok := r.Resolve(ctx, "bob2"); ok {
		t.Fatalf("other handle resolved from cache")
	}
}

func TestResolverCacheUpdatesOnNewMatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	feed := &fakeFeed{ups: []kit.Update{fromUser(1, 100, "alice")}}
	r, _ := newTestResolver(feed, time.Hour)
	r.Resolve(ctx, "alice")

	feed.set([]kit.Update{fromUser(2, 222, "alice")}, nil)
	if chat, ok := r.Resolve(ctx, "alice"); !ok || chat != 222 {
		t.Fatalf("resolve = %d, %v", chat, ok)
	}
	feed.set(nil, errors.New("timeout"))
	if chat, ok := r.Cached("@alice"); !ok || chat != 222 {
		t.Fatalf("cached = %d, %v", chat, ok)
	}
}

func TestResolverCacheExpires(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	feed := &fakeFeed{ups: []kit.Update{fromUser(1, 100, "alice")}}
	r, now := newTestResolver(feed, time.Minute)
	r.Resolve(ctx, "alice")
	feed.set(nil, errors.New("down"))

	*now = now.Add(30 * time.Second)
	if _, ok := r.Resolve(ctx, "alice"); !ok {
		t.Fatalf("cache expired too early")
	}
	*now = now.Add(31 * time.Second)
	if _, ok := r.Resolve(ctx, "alice"); ok {
		t.Fatalf("cache outlived ttl")
	}
}

func TestResolverZeroTTLDisablesFallback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	feed := &fakeFeed{ups: []kit.Update{fromUser(1, 100, "alice")}}
	r, _ := newTestResolver(feed, 0)
	if _, ok := r.Resolve(ctx, "alice"); !ok {
		t.Fatalf("live match must resolve")
	}
	feed.set(nil, errors.New("down"))
	if _, ok := r.Resolve(ctx, "alice"); ok {
		t.Fatalf("fallback used with zero ttl")
	}
}

func TestResolverForget(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	feed := &fakeFeed{ups: []kit.Update{fromUser(1, 100, "alice")}}
	r, _ := newTestResolver(feed, time.Hour)
	r.Resolve(ctx, "alice")
	r.Forget()
	if _, ok := r.Cached("alice"); ok {
		t.Fatalf("cache kept after Forget")
	}
}

type blockingFeed struct {
	release chan struct{}
	mu      sync.Mutex
	calls   int
}

func (f *blockingFeed) FetchUpdates(ctx context.Context) ([]kit.Update, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	select {
	case <-f.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return []kit.Update{fromUser(1, 100, "alice")}, nil
}

func TestResolverCollapsesConcurrentCalls(t *testing.T) {
	t.Parallel()

	feed := &blockingFeed{release: make(chan struct{})}
	r := NewResolver(feed, ResolverConfig{Timeout: 5 * time.Second, CacheTTL: time.Hour}, logx.Nop())

	const n = 8
	var wg sync.WaitGroup
	results := make([]ChatID, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = r.Resolve(context.Background(), "alice")
		}(i)
	}
	// let the callers pile up on the in-flight query
	time.Sleep(50 * time.Millisecond)
	close(feed.release)
	wg.Wait()

	for i, c := range results {
		if c != 100 {
			t.Fatalf("caller %d got %d", i, c)
		}
	}
	feed.mu.Lock()
	calls := feed.calls
	feed.mu.Unlock()
	if calls < 1 || calls > n {
		t.Fatalf("calls = %d", calls)
	}
}

func TestResolverTimeout(t *testing.T) {
	t.Parallel()

	feed := &blockingFeed{release: make(chan struct{})}
	r := NewResolver(feed, ResolverConfig{Timeout: 20 * time.Millisecond, CacheTTL: time.Hour}, logx.Nop())
	start := time.Now()
	if _, ok := r.Resolve(context.Background(), "alice"); ok {
		t.Fatalf("expected absent on timeout")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("timeout not applied")
	}
}
