// Package cache implements the forwarder's TTL-aware response cache with
// optimistic-refresh support (§4.3).
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/AdguardTeam/dnsproxy-core/internal/dnsmsg"
	"github.com/bluele/gcache"
	"github.com/miekg/dns"
)

// Key uniquely identifies a cached response.
type Key struct {
	Name  string
	Qtype uint16
	Class uint16
	CD    bool
}

// KeyFor derives the cache Key for req.  It assumes req has exactly one
// question, which the forwarder guarantees by this point in the pipeline.
func KeyFor(req *dns.Msg) (key Key) {
	q := req.Question[0]

	return Key{
		Name:  strings.ToLower(q.Name),
		Qtype: q.Qtype,
		Class: q.Qclass,
		CD:    req.CheckingDisabled,
	}
}

// entry is the value stored in the underlying LRU.
type entry struct {
	resp       *dns.Msg
	storedAt   time.Time
	ttl        time.Duration
	upstreamID string
}

func (e *entry) expiry() (t time.Time) {
	return e.storedAt.Add(e.ttl)
}

// Result is what [Cache.Get] returns.
type Result struct {
	// Response is the cached response, with TTLs aged to reflect time
	// spent in the cache.  Nil on a miss.
	Response *dns.Msg

	// UpstreamID is the id of the upstream that produced Response.
	UpstreamID string

	// Expired is true if Response is past its expiry.  Get returns such
	// entries anyway; the caller decides whether to serve them.
	Expired bool

	// Found reports whether there was any entry for the key at all.
	Found bool
}

// Cache is a thread-safe, TTL-aware LRU cache of DNS responses.
type Cache struct {
	mu sync.Mutex
	lc gcache.Cache
}

// New returns a new Cache with the given capacity.  A capacity of 0
// disables the cache: every Get is a miss and every Put is a no-op.
func New(capacity int) (c *Cache) {
	if capacity <= 0 {
		return &Cache{}
	}

	return &Cache{lc: gcache.New(capacity).LRU().Build()}
}

// Enabled reports whether the cache has non-zero capacity.
func (c *Cache) Enabled() (ok bool) {
	return c.lc != nil
}

// Get looks up key.  If found and fresh, Result.Expired is false; if found
// but past expiry, Result.Expired is true and the caller (the forwarder)
// decides whether to serve it anyway based on the optimistic-cache setting.
func (c *Cache) Get(key Key) (res Result) {
	if c.lc == nil {
		return Result{}
	}

	c.mu.Lock()
	v, err := c.lc.Get(key)
	c.mu.Unlock()
	if err != nil {
		return Result{}
	}

	e, ok := v.(*entry)
	if !ok {
		return Result{}
	}

	resp := e.resp.Copy()
	dnsmsg.AgeTTL(resp, time.Since(e.storedAt))

	res = Result{
		Response:   resp,
		UpstreamID: e.upstreamID,
		Found:      true,
		Expired:    time.Now().After(e.expiry()),
	}

	return res
}

// Put stores resp under key, computing its TTL as the minimum TTL across
// all of its RRs.  upstreamID identifies the upstream that produced resp.
// A resp whose minimum TTL is 0 is not cached.
func (c *Cache) Put(key Key, resp *dns.Msg, upstreamID string) {
	if c.lc == nil {
		return
	}

	ttl := dnsmsg.MinTTL(resp)
	if ttl == 0 {
		return
	}

	e := &entry{
		resp:       resp.Copy(),
		storedAt:   time.Now(),
		ttl:        time.Duration(ttl) * time.Second,
		upstreamID: upstreamID,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.lc.Set(key, e)
}

// Remove evicts key, if present.  Used when an optimistic-cache background
// refresh fails.
func (c *Cache) Remove(key Key) {
	if c.lc == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lc.Remove(key)
}

// Len returns the number of entries currently cached.
func (c *Cache) Len() (n int) {
	if c.lc == nil {
		return 0
	}

	return c.lc.Len(false)
}
