package dispatcher

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/K-dash/pyright-lsp-proxy/errs"
	"github.com/K-dash/pyright-lsp-proxy/logger"
	"github.com/K-dash/pyright-lsp-proxy/message"
	"github.com/K-dash/pyright-lsp-proxy/pool"
)

const (
	warmupDeadline     = 60 * time.Second
	initializeDeadline = 10 * time.Second
)

// ensureBackend returns the pool entry for env, spawning and warming one up
// if it is not already present. The returned bool reports whether a fresh
// spawn happened: false means an existing entry (Warming or Ready) was
// reused, which callers use to avoid double-delivering a didOpen that
// warmupSequence's document replay already queued for a brand-new spawn.
func (d *Dispatcher) ensureBackend(env string) (*pool.Entry, bool, error) {
	if entry, ok := d.pool.Get(env); ok {
		return entry, false, nil
	}

	if failedAt, ok := d.spawnFailures[env]; ok && time.Since(failedAt) < d.cfg.SpawnCooldown {
		return nil, false, &errs.SpawnError{Environment: env, Cause: fmt.Errorf("still within spawn cooldown")}
	}

	if d.pool.Full() {
		if victim, ok := d.pool.LRUEnv(); ok {
			logger.Info("evicting LRU backend to make room for " + env + ": " + victim)
			d.evict(victim)
		}
	}

	session := d.pool.NextSession()
	inst, err := d.spawn(d.cfg.PyrightCommand, env, session, d.cfg.DebugProtocol)
	if err != nil {
		d.spawnFailures[env] = time.Now()
		return nil, false, &errs.SpawnError{Environment: env, Cause: err}
	}
	inst.StartReader(d.backendIn)

	entry := d.pool.Insert(env, inst)
	d.warmupSequence(env, entry)
	return entry, true, nil
}

// warmupSequence writes the replayed `initialize` directly, bypassing the
// warmup queue: the queue only starts draining once the backend reaches
// Ready, and it cannot reach Ready without first seeing initialize. It then
// enqueues a replay of every already-open document owned by env (entering
// the warmup queue, drained after readiness per §4.5) and arms the
// forced-ready deadline.
func (d *Dispatcher) warmupSequence(env string, entry *pool.Entry) {
	session := entry.Instance.Session

	if d.state.ClientInitialize != nil && d.state.ClientInitialize.ID != nil {
		proxyID := d.state.AllocProxyID()
		originalID := *d.state.ClientInitialize.ID

		initMsg := d.state.ClientInitialize.Clone()
		initMsg.ID = &proxyID

		d.state.RememberRewrittenPendingRequest(proxyID, originalID, env, session)
		d.initializing[env] = proxyID
		entry.PendingClientToBackend++

		if err := entry.Instance.SendMessage(initMsg); err != nil {
			logger.Warn("failed to send replayed initialize to " + env + ": " + err.Error())
		}
		d.scheduleInitializeDeadline(env, session)
	} else {
		logger.Warn("ensuring backend " + env + " before the client has sent initialize")
	}

	for _, uri := range d.state.DocumentsForEnvironment(env) {
		doc := d.state.OpenDocuments[uri]
		params, _ := json.Marshal(didOpenParams{TextDocument: textDocumentItem{
			URI:        uri,
			LanguageID: doc.LanguageID,
			Version:    doc.Version,
			Text:       doc.Text,
		}})
		d.pool.Enqueue(env, message.NewNotification("textDocument/didOpen", params))
	}

	d.scheduleWarmupDeadline(env, session)
}

func (d *Dispatcher) scheduleWarmupDeadline(env string, session uint64) {
	time.AfterFunc(warmupDeadline, func() {
		d.warmupTimeouts <- warmupTimeout{Env: env, Session: session}
	})
}

func (d *Dispatcher) scheduleInitializeDeadline(env string, session uint64) {
	time.AfterFunc(initializeDeadline, func() {
		d.initializeTimeouts <- warmupTimeout{Env: env, Session: session}
	})
}

// handleInitializeTimeout answers the client's stalled initialize request
// with -32603 and crashes the backend, per the spec's initialize-response
// wait timeout (10s). A no-op if the response already arrived (the
// responding path deletes d.initializing[env] before this can fire) or if
// the environment's occupant has already changed.
func (d *Dispatcher) handleInitializeTimeout(env string, session uint64) {
	proxyID, ok := d.initializing[env]
	if !ok {
		return
	}
	entry, ok := d.pool.Get(env)
	if !ok || entry.Instance.Session != session {
		return
	}

	pending, ok := d.state.PendingRequests[proxyID]
	if ok {
		delete(d.state.PendingRequests, proxyID)
		d.writeToClient(message.NewErrorResponse(pending.OriginalID, message.CodeInternalError,
			"backend initialize timed out after "+initializeDeadline.String()))
	}
	delete(d.initializing, env)

	logger.Warn("initialize response timeout, crashing backend: " + env)
	d.spawnFailures[env] = time.Now()
	d.crash(env)
}

// forceReady marks env Ready even without a `$/progress` end notification,
// once the warmup deadline elapses. A no-op if the backend already became
// Ready, was evicted, or was replaced by a later spawn in the meantime.
func (d *Dispatcher) forceReady(env string, session uint64) {
	entry, ok := d.pool.Get(env)
	if !ok || entry.Instance.Session != session || !entry.IsWarming() {
		return
	}
	logger.Warn("warmup deadline elapsed, forcing backend ready: " + env)
	d.markReady(env, entry)
}

// markReady transitions env to Ready and drains its warmup queue in order.
func (d *Dispatcher) markReady(env string, entry *pool.Entry) {
	queued := d.pool.MarkReady(env)
	logger.Info(fmt.Sprintf("backend %s ready, draining %d queued message(s)", env, len(queued)))

	for _, qm := range queued {
		if qm.IsRequest() {
			entry.PendingClientToBackend++
		}
		if err := entry.Instance.SendMessage(qm); err != nil {
			logger.Warn("draining to backend " + env + " failed: " + err.Error())
		}
	}
}
