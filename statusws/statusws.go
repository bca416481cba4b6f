// Package statusws is the live pool inspector: a gorilla/websocket HTTP
// endpoint that streams pool snapshot deltas to any connected operator
// dashboard. It is purely observational; it never receives LSP traffic and
// has no write path back into the dispatcher.
package statusws

import (
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"time"

	"github.com/gorilla/websocket"

	"github.com/K-dash/pyright-lsp-proxy/dispatcher"
	"github.com/K-dash/pyright-lsp-proxy/logger"
)

// PollInterval is how often the connected dispatcher is polled for a fresh
// snapshot to diff against the last one streamed to each client.
const PollInterval = 1 * time.Second

var upgrader = websocket.Upgrader{
	// The dashboard this serves is an operator tool reached over localhost
	// or an internal network, not a public browser surface, so the usual
	// same-origin check is relaxed the same way it would be for any
	// loopback-only debug endpoint.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Delta is one change pushed to a connected client: either a full snapshot
// (Kind "snapshot", sent once on connect) or a description of what changed
// since the last poll (Kind "delta").
type Delta struct {
	Kind     string                       `json:"kind"`
	Snapshot *dispatcher.PoolSnapshot     `json:"snapshot,omitempty"`
	Added    []dispatcher.BackendSnapshot `json:"added,omitempty"`
	Removed  []string                     `json:"removed,omitempty"`
	Changed  []dispatcher.BackendSnapshot `json:"changed,omitempty"`
}

// Handler serves the websocket endpoint over a *dispatcher.Dispatcher's
// Snapshot method.
type Handler struct {
	d *dispatcher.Dispatcher
}

// New builds a Handler polling d for snapshots.
func New(d *dispatcher.Dispatcher) *Handler {
	return &Handler{d: d}
}

// ServeHTTP upgrades the request to a websocket and streams snapshot deltas
// until the client disconnects or the request context is cancelled.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("statusws: upgrade failed: " + err.Error())
		return
	}
	defer conn.Close()

	h.stream(r.Context(), conn)
}

func (h *Handler) stream(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	last := h.d.Snapshot()
	if err := conn.WriteJSON(Delta{Kind: "snapshot", Snapshot: &last}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := h.d.Snapshot()
			delta := diff(last, cur)
			last = cur
			if delta == nil {
				continue
			}
			if err := conn.WriteJSON(delta); err != nil {
				return
			}
		}
	}
}

// diff reports what changed between two snapshots, or nil if nothing did.
func diff(prev, cur dispatcher.PoolSnapshot) *Delta {
	prevByEnv := make(map[string]dispatcher.BackendSnapshot, len(prev.Entries))
	for _, e := range prev.Entries {
		prevByEnv[e.Environment] = e
	}
	curByEnv := make(map[string]dispatcher.BackendSnapshot, len(cur.Entries))
	for _, e := range cur.Entries {
		curByEnv[e.Environment] = e
	}

	var d Delta
	d.Kind = "delta"

	for env, e := range curByEnv {
		if old, ok := prevByEnv[env]; !ok {
			d.Added = append(d.Added, e)
		} else if !reflect.DeepEqual(old, e) {
			d.Changed = append(d.Changed, e)
		}
	}
	for env := range prevByEnv {
		if _, ok := curByEnv[env]; !ok {
			d.Removed = append(d.Removed, env)
		}
	}

	if len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0 {
		return nil
	}

	data, err := json.Marshal(d)
	if err != nil || len(data) == 0 {
		return nil
	}
	return &d
}
