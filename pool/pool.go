// Package pool is the keyed mapping from environment path to backend
// instance: LRU/TTL eviction metadata, warmup state, and a bounded
// capacity. It holds no goroutines of its own; all operations are called
// from the single-threaded dispatcher, so no internal locking is needed.
package pool

import (
	"time"

	"github.com/K-dash/pyright-lsp-proxy/backend"
	"github.com/K-dash/pyright-lsp-proxy/message"
)

// Status is a backend's lifecycle state.
type Status int

const (
	Warming Status = iota
	Ready
)

// Entry is one pool slot: an instance plus the bookkeeping the pool and
// dispatcher need around it.
type Entry struct {
	Instance *backend.Instance
	Status   Status
	LastUsed time.Time

	// WarmupQueue holds outbound messages destined for this backend while
	// it is Warming; drained in order by MarkReady.
	WarmupQueue []*message.RpcMessage

	// PendingClientToBackend / PendingBackendToClient count in-flight
	// requests in each direction, used to protect busy backends from
	// eviction and to gate TTL expiry.
	PendingClientToBackend int
	PendingBackendToClient int
}

// IsWarming reports whether the entry is still warming up.
func (e *Entry) IsWarming() bool { return e.Status == Warming }

// Pool is the environment-keyed backend map.
type Pool struct {
	capacity int
	entries  map[string]*Entry
	sessions uint64
}

// New builds an empty pool bounded to capacity slots.
func New(capacity int) *Pool {
	return &Pool{capacity: capacity, entries: make(map[string]*Entry)}
}

// Capacity returns the configured maximum size.
func (p *Pool) Capacity() int { return p.capacity }

// Len returns the current number of entries, Warming included.
func (p *Pool) Len() int { return len(p.entries) }

// Full reports whether the pool is at capacity.
func (p *Pool) Full() bool { return len(p.entries) >= p.capacity }

// Get returns the entry for env, if any.
func (p *Pool) Get(env string) (*Entry, bool) {
	e, ok := p.entries[env]
	return e, ok
}

// Contains reports whether env has a live entry.
func (p *Pool) Contains(env string) bool {
	_, ok := p.entries[env]
	return ok
}

// NextSession allocates a fresh monotonic session number, unique across the
// whole process regardless of how many times a given environment has been
// evicted and respawned.
func (p *Pool) NextSession() uint64 {
	p.sessions++
	return p.sessions
}

// Insert adds inst to the pool under env in Warming state with an empty
// queue, and marks it most-recently-used. Callers must ensure capacity
// first (evicting if Full()).
func (p *Pool) Insert(env string, inst *backend.Instance) *Entry {
	entry := &Entry{Instance: inst, Status: Warming, LastUsed: time.Now()}
	p.entries[env] = entry
	return entry
}

// Remove deletes and returns the entry for env without shutting it down;
// the caller is responsible for the instance's teardown.
func (p *Pool) Remove(env string) (*Entry, bool) {
	e, ok := p.entries[env]
	if !ok {
		return nil, false
	}
	delete(p.entries, env)
	return e, true
}

// Touch updates env's last-used timestamp. Per the spec this must be called
// uniformly for both client->backend and backend->client traffic; there is
// no exception carved out for either direction.
func (p *Pool) Touch(env string) {
	if e, ok := p.entries[env]; ok {
		e.LastUsed = time.Now()
	}
}

// MarkReady transitions env from Warming to Ready and returns its queued
// messages in FIFO order for the dispatcher to drain. If env is not
// Warming, it returns nil.
func (p *Pool) MarkReady(env string) []*message.RpcMessage {
	e, ok := p.entries[env]
	if !ok || e.Status != Warming {
		return nil
	}
	e.Status = Ready
	queued := e.WarmupQueue
	e.WarmupQueue = nil
	return queued
}

// Enqueue appends msg to env's warmup queue. Callers must only do this while
// the entry is Warming.
func (p *Pool) Enqueue(env string, msg *message.RpcMessage) {
	if e, ok := p.entries[env]; ok {
		e.WarmupQueue = append(e.WarmupQueue, msg)
	}
}

// ExpiredEnvs returns every environment whose last-used time is older than
// ttl as of now.
func (p *Pool) ExpiredEnvs(now time.Time, ttl time.Duration) []string {
	var expired []string
	for env, e := range p.entries {
		if now.Sub(e.LastUsed) >= ttl {
			expired = append(expired, env)
		}
	}
	return expired
}

// LRUEnv selects the least-recently-used environment with zero pending
// requests in either direction; if every entry has pending traffic, it
// falls back to the globally least-recently-used environment regardless of
// pending count. Returns ("", false) only when the pool is empty.
func (p *Pool) LRUEnv() (string, bool) {
	var (
		bestIdle     string
		bestIdleTime time.Time
		haveIdle     bool
		bestAny      string
		bestAnyTime  time.Time
		haveAny      bool
	)

	for env, e := range p.entries {
		if !haveAny || e.LastUsed.Before(bestAnyTime) {
			bestAny = env
			bestAnyTime = e.LastUsed
			haveAny = true
		}

		if e.PendingClientToBackend == 0 && e.PendingBackendToClient == 0 {
			if !haveIdle || e.LastUsed.Before(bestIdleTime) {
				bestIdle = env
				bestIdleTime = e.LastUsed
				haveIdle = true
			}
		}
	}

	if haveIdle {
		return bestIdle, true
	}
	return bestAny, haveAny
}

// MRUEnv returns the most-recently-used environment in the pool, used as
// the routing target for workspace-scoped requests that do not belong to
// any single document. Returns ("", false) when the pool is empty.
func (p *Pool) MRUEnv() (string, bool) {
	var (
		best     string
		bestTime time.Time
		have     bool
	)
	for env, e := range p.entries {
		if !have || e.LastUsed.After(bestTime) {
			best = env
			bestTime = e.LastUsed
			have = true
		}
	}
	return best, have
}

// Envs returns a snapshot of every environment currently in the pool.
func (p *Pool) Envs() []string {
	out := make([]string, 0, len(p.entries))
	for env := range p.entries {
		out = append(out, env)
	}
	return out
}
