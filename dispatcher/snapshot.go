package dispatcher

import "time"

// BackendSnapshot is one pool entry's read-only projection, the unit the
// status/debug surfaces (statusmcp, statusws) are built on. It never
// exposes the instance itself, only the bookkeeping an operator dashboard
// or MCP tool needs to render.
type BackendSnapshot struct {
	Environment            string    `json:"environment"`
	Status                 string    `json:"status"`
	Session                uint64    `json:"session"`
	LastUsed               time.Time `json:"last_used"`
	PendingClientToBackend int       `json:"pending_client_to_backend"`
	PendingBackendToClient int       `json:"pending_backend_to_client"`
	WarmupQueueLen         int       `json:"warmup_queue_len"`
}

// PoolSnapshot is a point-in-time read-only view of every pooled backend.
type PoolSnapshot struct {
	Capacity int               `json:"capacity"`
	Entries  []BackendSnapshot `json:"entries"`
}

// Snapshot asks the event loop for a consistent point-in-time view of the
// pool. Like every other cross-goroutine interaction with dispatcher state,
// this goes through Run's select rather than reading d.pool directly, since
// the pool itself holds no locks of its own.
func (d *Dispatcher) Snapshot() PoolSnapshot {
	reply := make(chan PoolSnapshot, 1)
	d.snapshotRequests <- reply
	return <-reply
}

func (d *Dispatcher) buildSnapshot() PoolSnapshot {
	envs := d.pool.Envs()
	snap := PoolSnapshot{Capacity: d.pool.Capacity(), Entries: make([]BackendSnapshot, 0, len(envs))}

	for _, env := range envs {
		entry, ok := d.pool.Get(env)
		if !ok {
			continue
		}
		status := "ready"
		if entry.IsWarming() {
			status = "warming"
		}
		var session uint64
		if entry.Instance != nil {
			session = entry.Instance.Session
		}
		snap.Entries = append(snap.Entries, BackendSnapshot{
			Environment:            env,
			Status:                 status,
			Session:                session,
			LastUsed:               entry.LastUsed,
			PendingClientToBackend: entry.PendingClientToBackend,
			PendingBackendToClient: entry.PendingBackendToClient,
			WarmupQueueLen:         len(entry.WarmupQueue),
		})
	}
	return snap
}
