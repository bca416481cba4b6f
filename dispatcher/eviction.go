package dispatcher

import (
	"encoding/json"
	"time"

	"github.com/K-dash/pyright-lsp-proxy/logger"
	"github.com/K-dash/pyright-lsp-proxy/message"
)

// evict removes env's backend for capacity or TTL reasons and shuts it down
// gracefully in the background.
func (d *Dispatcher) evict(env string) {
	d.teardown(env, true)
}

// crash tears down env's backend after its reader reported a read error or
// its initialize response timed out. No graceful shutdown is attempted; the
// child is killed, which also reaps one that has already exited.
func (d *Dispatcher) crash(env string) {
	logger.Warn("backend crashed: " + env)
	d.teardown(env, false)
}

func (d *Dispatcher) teardown(env string, graceful bool) {
	entry, ok := d.pool.Remove(env)
	if !ok {
		return
	}
	session := entry.Instance.Session

	cancelled := d.state.CancelPendingForEnvironment(env, session)
	for _, pending := range cancelled {
		d.writeToClient(message.NewErrorResponse(pending.OriginalID, message.CodeRequestCancelled, "Request cancelled due to backend eviction"))
	}
	d.state.DropPendingBackendRequestsForEnvironment(env, session)
	delete(d.initializing, env)

	for _, uri := range d.state.DocumentsForEnvironment(env) {
		d.writeToClient(clearDiagnosticsNotification(uri))
	}

	if !graceful {
		entry.Instance.Kill()
		return
	}

	relay := &shutdownRelay{session: session, ch: make(chan *message.RpcMessage, 8)}
	d.shuttingDown[env] = relay
	inst := entry.Instance
	go func() {
		inst.ShutdownGracefully(relay.ch)
		d.shutdownDone <- shutdownCompletion{Env: env, Session: session}
	}()
}

func clearDiagnosticsNotification(uri string) *message.RpcMessage {
	params, _ := json.Marshal(publishDiagnosticsParams{URI: uri, Diagnostics: []interface{}{}})
	return message.NewNotification("textDocument/publishDiagnostics", params)
}

// tickTTL evicts every environment idle past the configured TTL and free of
// in-flight traffic in either direction; busy entries are skipped until the
// next tick.
func (d *Dispatcher) tickTTL() {
	now := time.Now()
	for _, env := range d.pool.ExpiredEnvs(now, d.cfg.TTL) {
		entry, ok := d.pool.Get(env)
		if !ok {
			continue
		}
		if entry.PendingClientToBackend != 0 || entry.PendingBackendToClient != 0 {
			continue
		}
		logger.Info("evicting idle backend: " + env)
		d.evict(env)
	}
}
