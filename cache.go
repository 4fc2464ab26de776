package rbac

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
)

// ============================================================================
// VERDICT CACHE
// ============================================================================

// DefaultBucket is the width of the time buckets mixed into cache keys. It
// bounds how long a verdict can outlive a temporal window boundary.
const DefaultBucket = 60 * time.Second

// VerdictKey identifies one cached decision. Generation counters make
// invalidation O(1): a write bumps the counter, so every key minted before it
// can no longer be produced and the stale entries age out unreferenced. The
// bump happens before the write returns, which is what makes a stale Allow
// impossible; a stale Deny can only survive within one time bucket.
type VerdictKey struct {
	OrgID      string
	UserID     string
	Check      string
	ResourceID string
	Bucket     int64
	UserGen    uint64
	GlobalGen  uint64
}

func (k VerdictKey) encode() string {
	var b strings.Builder
	b.Grow(len(k.OrgID) + len(k.UserID) + len(k.Check) + len(k.ResourceID) + 48)
	b.WriteString(k.OrgID)
	b.WriteByte(0x1f)
	b.WriteString(k.UserID)
	b.WriteByte(0x1f)
	b.WriteString(k.Check)
	b.WriteByte(0x1f)
	b.WriteString(k.ResourceID)
	b.WriteByte(0x1f)
	b.WriteString(strconv.FormatInt(k.Bucket, 10))
	b.WriteByte(0x1f)
	b.WriteString(strconv.FormatUint(k.UserGen, 10))
	b.WriteByte(0x1f)
	b.WriteString(strconv.FormatUint(k.GlobalGen, 10))
	return b.String()
}

type verdictCache interface {
	get(key VerdictKey) (*Verdict, bool)
	set(key VerdictKey, v *Verdict, ttl time.Duration)
	flush()
}

// generations tracks invalidation counters: one per (org, user) pair for
// assignment-level writes, one global for role/permission/resource edits
// whose blast radius spans users.
type generations struct {
	global atomic.Uint64
	users  sync.Map // "org\x1fuser" -> *atomic.Uint64
}

func genKey(orgID, userID string) string { return orgID + "\x1f" + userID }

func (g *generations) user(orgID, userID string) uint64 {
	if v, ok := g.users.Load(genKey(orgID, userID)); ok {
		return v.(*atomic.Uint64).Load()
	}
	return 0
}

func (g *generations) bumpUser(orgID, userID string) {
	v, _ := g.users.LoadOrStore(genKey(orgID, userID), new(atomic.Uint64))
	v.(*atomic.Uint64).Add(1)
}

func (g *generations) bumpGlobal() {
	g.global.Add(1)
}

// ----------------------------------------------------------------------------
// Sharded in-process backend (default)
// ----------------------------------------------------------------------------

const cacheShards = 16

type cacheEntry struct {
	verdict *Verdict
	expires time.Time
}

type shardedCache struct {
	shards [cacheShards]struct {
		mu      sync.RWMutex
		entries map[string]cacheEntry
	}
	maxPerShard int
}

func newShardedCache() *shardedCache {
	c := &shardedCache{maxPerShard: 8192}
	for i := range c.shards {
		c.shards[i].entries = make(map[string]cacheEntry)
	}
	return c
}

func (c *shardedCache) shard(key string) int {
	var h uint32 = 2166136261
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return int(h % cacheShards)
}

func (c *shardedCache) get(key VerdictKey) (*Verdict, bool) {
	k := key.encode()
	s := &c.shards[c.shard(k)]
	s.mu.RLock()
	e, ok := s.entries[k]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expires) {
		s.mu.Lock()
		delete(s.entries, k)
		s.mu.Unlock()
		return nil, false
	}
	return e.verdict, true
}

func (c *shardedCache) set(key VerdictKey, v *Verdict, ttl time.Duration) {
	k := key.encode()
	s := &c.shards[c.shard(k)]
	s.mu.Lock()
	if len(s.entries) >= c.maxPerShard {
		// generation bumps leave dead entries behind; reset the shard rather
		// than growing without bound
		s.entries = make(map[string]cacheEntry)
	}
	s.entries[k] = cacheEntry{verdict: v, expires: time.Now().Add(ttl)}
	s.mu.Unlock()
}

func (c *shardedCache) flush() {
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		s.entries = make(map[string]cacheEntry)
		s.mu.Unlock()
	}
}

// ----------------------------------------------------------------------------
// Ristretto backend (optional, for high-throughput deployments)
// ----------------------------------------------------------------------------

type ristrettoCache struct {
	c *ristretto.Cache
}

func newRistrettoCache(numCounters, maxCost, bufferItems int64) (*ristrettoCache, error) {
	if numCounters <= 0 {
		numCounters = 1e6
	}
	if maxCost <= 0 {
		maxCost = 1 << 26
	}
	if bufferItems <= 0 {
		bufferItems = 64
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: bufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &ristrettoCache{c: c}, nil
}

func (r *ristrettoCache) get(key VerdictKey) (*Verdict, bool) {
	v, ok := r.c.Get(key.encode())
	if !ok {
		return nil, false
	}
	verdict, ok := v.(*Verdict)
	return verdict, ok
}

func (r *ristrettoCache) set(key VerdictKey, v *Verdict, ttl time.Duration) {
	r.c.SetWithTTL(key.encode(), v, 1, ttl)
}

func (r *ristrettoCache) flush() {
	r.c.Clear()
}
