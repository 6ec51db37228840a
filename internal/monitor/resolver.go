package monitor

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	kit "uenotify/internal/transport"
	logx "uenotify/pkg/logx"
)

// ChatID is the gateway's opaque chat identifier.
type ChatID int64

type ResolverConfig struct {
	// Timeout bounds one update-feed query.
	Timeout time.Duration
	// CacheTTL is how long a resolved chat stays usable when later queries
	// fail or no longer show the sender. Zero disables the fallback.
	CacheTTL time.Duration
}

type cachedChat struct {
	handle string
	chat   ChatID
	at     time.Time
}

// Resolver maps a recipient handle to the chat it last wrote from, using
// the gateway's update feed. The resolved chat is cached per instance.
type Resolver struct {
	feed kit.UpdateFeed
	cfg  ResolverConfig
	log  logx.Logger
	now  func() time.Time

	// One in-flight query per handle; a slow call cannot overwrite a newer result.
	sf singleflight.Group

	mu      sync.Mutex
	cache   cachedChat
	failing bool
}

func NewResolver(feed kit.UpdateFeed, cfg ResolverConfig, log logx.Logger) *Resolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Resolver{feed: feed, cfg: cfg, log: log, now: time.Now}
}

// NormalizeHandle trims a handle, drops a leading "@" and lowercases it;
// Telegram usernames are case-insensitive.
func NormalizeHandle(h string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "@"))
}

type resolution struct {
	chat ChatID
	ok   bool
}

// Resolve queries the update feed for the newest message sent by handle and
// returns its chat. When the feed fails, is malformed or has no message from
// handle, the cached chat for the same handle is returned while it is
// younger than CacheTTL. The cache only changes on a successful match.
func (r *Resolver) Resolve(ctx context.Context, handle string) (ChatID, bool) {
	key := NormalizeHandle(handle)
	if key == "" {
		return 0, false
	}
	v, _, _ := r.sf.Do(key, func() (any, error) {
		chat, ok := r.resolve(ctx, key)
		return resolution{chat: chat, ok: ok}, nil
	})
	res := v.(resolution)
	return res.chat, res.ok
}

func (r *Resolver) resolve(ctx context.Context, key string) (ChatID, bool) {
	if r.feed == nil {
		return r.Cached(key)
	}
	qctx := ctx
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	ups, err := r.feed.FetchUpdates(qctx)
	if err != nil {
		r.noteFailure(key, err)
		return r.Cached(key)
	}

	chat, ok := matchSender(ups, key)
	if !ok {
		r.log.Debug("no update from handle in feed", logx.String("handle", key), logx.Int("updates", len(ups)))
		return r.Cached(key)
	}

	r.mu.Lock()
	prev := r.cache
	r.cache = cachedChat{handle: key, chat: chat, at: r.now()}
	recovered := r.failing
	r.failing = false
	r.mu.Unlock()

	if prev.handle != key || prev.chat != chat {
		r.log.Info("recipient resolved", logx.String("handle", key), logx.Int64("chat_id", int64(chat)))
	} else if recovered {
		r.log.Info("update feed recovered", logx.String("handle", key))
	}
	return chat, true
}

// noteFailure logs the first failure of a streak at warn, repeats at debug.
func (r *Resolver) noteFailure(key string, err error) {
	r.mu.Lock()
	first := !r.failing
	r.failing = true
	r.mu.Unlock()
	if first {
		r.log.Warn("update feed query failed", logx.String("handle", key), logx.Err(err))
		return
	}
	r.log.Debug("update feed query failed", logx.String("handle", key), logx.Err(err))
}

// matchSender returns the chat of the newest complete update sent by key.
func matchSender(ups []kit.Update, key string) (ChatID, bool) {
	var (
		best  kit.Update
		found bool
	)
	for _, u := range ups {
		if !u.Complete() || NormalizeHandle(u.FromUsername) != key {
			continue
		}
		if !found || u.ID > best.ID {
			best, found = u, true
		}
	}
	return ChatID(best.ChatID), found
}

// Cached returns the cached chat for handle if it has not expired.
func (r *Resolver) Cached(handle string) (ChatID, bool) {
	key := NormalizeHandle(handle)
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.cache
	if key == "" || c.handle != key || c.chat == 0 {
		return 0, false
	}
	if r.cfg.CacheTTL <= 0 || r.now().Sub(c.at) > r.cfg.CacheTTL {
		return 0, false
	}
	return c.chat, true
}

// Forget drops the cached chat.
func (r *Resolver) Forget() {
	r.mu.Lock()
	r.cache = cachedChat{}
	r.failing = false
	r.mu.Unlock()
}

// SetCacheTTL updates the fallback window (hot reload).
func (r *Resolver) SetCacheTTL(ttl time.Duration) {
	r.mu.Lock()
	r.cfg.CacheTTL = ttl
	r.mu.Unlock()
}
