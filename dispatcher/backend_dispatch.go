package dispatcher

import (
	"encoding/json"
	"fmt"

	"github.com/myleshyson/lsprotocol-go/protocol"

	"github.com/K-dash/pyright-lsp-proxy/backend"
	"github.com/K-dash/pyright-lsp-proxy/logger"
	"github.com/K-dash/pyright-lsp-proxy/message"
	"github.com/K-dash/pyright-lsp-proxy/pool"
)

// handleBackendInbound processes one tagged record off the shared backend
// channel: first against any in-progress graceful shutdown waiting on this
// exact (env, session), then against the live pool.
func (d *Dispatcher) handleBackendInbound(inb backend.Inbound) {
	if relay, ok := d.shuttingDown[inb.Env]; ok && relay.session == inb.Session {
		if inb.Err != nil {
			relay.closeOnce.Do(func() { close(relay.ch) })
			return
		}
		select {
		case relay.ch <- inb.Msg:
		default:
			logger.Warn("shutdown relay buffer full for " + inb.Env + ", dropping message")
		}
		return
	}

	entry, ok := d.pool.Get(inb.Env)
	if !ok || entry.Instance.Session != inb.Session {
		// Stale: from a previously evicted or crashed backend.
		return
	}

	if inb.Err != nil {
		d.crash(inb.Env)
		return
	}

	msg := inb.Msg
	switch {
	case msg.IsRequest():
		d.handleBackendRequest(inb.Env, inb.Session, entry, msg)
	case msg.IsResponse():
		d.handleBackendResponse(inb.Env, inb.Session, entry, msg)
	case msg.IsNotification():
		d.handleBackendNotification(inb.Env, entry, msg)
	}

	d.pool.Touch(inb.Env)
}

func (d *Dispatcher) handleBackendRequest(env string, session uint64, entry *pool.Entry, msg *message.RpcMessage) {
	proxyID := d.state.RememberPendingBackendRequest(*msg.ID, env, session)
	entry.PendingBackendToClient++

	rewritten := msg.Clone()
	rewritten.ID = &proxyID
	d.writeToClient(rewritten)
}

func (d *Dispatcher) handleBackendResponse(env string, session uint64, entry *pool.Entry, msg *message.RpcMessage) {
	if msg.ID == nil {
		return
	}

	pending, ok := d.state.PendingRequests[*msg.ID]
	if !ok {
		logger.Debug(fmt.Sprintf("response from %s with no matching pending request: %s", env, msg.ID.String()))
		return
	}

	// The proxy-assigned ID for a replayed initialize also triggers sending
	// `initialized` once its response is seen, checked before the pending
	// entry is deleted below.
	isInitializeResponse := false
	if expected, ok := d.initializing[env]; ok && expected.Equal(*msg.ID) {
		isInitializeResponse = true
	}

	delete(d.state.PendingRequests, *msg.ID)

	if pending.Environment != env || pending.Session != session {
		// Stale: a response for a request owned by a previous occupant of
		// this environment slot.
		return
	}

	if entry.PendingClientToBackend > 0 {
		entry.PendingClientToBackend--
	}

	response := msg
	if !pending.OriginalID.Equal(*msg.ID) {
		response = msg.Clone()
		originalID := pending.OriginalID
		response.ID = &originalID
	}
	d.writeToClient(response)

	if isInitializeResponse {
		delete(d.initializing, env)
		initialized := message.NewNotification("initialized", json.RawMessage(`{}`))
		// Sent straight to the instance, not through deliverToBackend: the
		// entry is still Warming here, and `initialized` must reach pyright
		// before the queued didOpen replays, not behind them in the warmup
		// queue. pyright will not begin workspace analysis - and therefore
		// never emit the $/progress end that drains that queue - until it
		// has seen this notification.
		if err := entry.Instance.SendMessage(initialized); err != nil {
			logger.Warn("write to backend " + env + " failed: " + err.Error())
		}
	}
}

func (d *Dispatcher) handleBackendNotification(env string, entry *pool.Entry, msg *message.RpcMessage) {
	if msg.Method == "$/progress" && entry.IsWarming() && isProgressEnd(msg.Params) {
		d.markReady(env, entry)
	}
	d.writeToClient(msg)
}

// isProgressEnd mirrors lsp/progress.go's ProgressTracker.Update decode: the
// $/progress value is a union over begin/report/end payloads; only the
// "kind" discriminator is needed here to detect the end of the
// workspace-analysis progress stream pyright emits after `initialize`.
func isProgressEnd(params json.RawMessage) bool {
	if len(params) == 0 {
		return false
	}
	var p protocol.ProgressParams
	if err := json.Unmarshal(params, &p); err != nil {
		return false
	}
	raw, err := json.Marshal(p.Value)
	if err != nil {
		return false
	}
	var base struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &base); err != nil {
		return false
	}
	return base.Kind == "end"
}
