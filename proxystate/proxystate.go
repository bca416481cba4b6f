// Package proxystate holds the dispatcher's single-owned, non-concurrent
// state: the cached client initialize message, the open-document table, the
// two pending-request tables, and the proxy's own request-ID allocator.
package proxystate

import (
	"github.com/K-dash/pyright-lsp-proxy/message"
)

// OpenDocument is a client-opened document tracked so its content can be
// replayed to a newly-spawned or respawned backend.
type OpenDocument struct {
	LanguageID  string
	Version     int32
	Text        string
	Environment string // "" until resolved
}

// PendingClientRequest records a client->backend request in flight, keyed by
// the ID actually written on the backend's wire. OriginalID is the ID to
// restore when forwarding the eventual response to the client: equal to the
// map key for an ordinary client request (forwarded untranslated), or the
// client's original request ID when the proxy rewrote the key to a
// proxy-assigned ID (the replayed `initialize` sent to a newly-spawned
// backend, which must not collide with a future live client ID).
type PendingClientRequest struct {
	OriginalID  message.ID
	Environment string
	Session     uint64
}

// PendingBackendRequest records a backend-initiated (server->client) request
// relayed to the client, keyed by a proxy-allocated ID distinct from any
// backend's own ID space.
type PendingBackendRequest struct {
	OriginalID  message.ID
	Environment string
	Session     uint64
}

// State is the dispatcher's aggregate state. It is mutated exclusively from
// the single dispatcher goroutine; nothing else may touch it.
type State struct {
	GitToplevel      string
	ClientInitialize *message.RpcMessage

	OpenDocuments map[string]*OpenDocument // URI -> document

	PendingRequests        map[message.ID]*PendingClientRequest
	PendingBackendRequests map[message.ID]*PendingBackendRequest

	nextProxyID int64
}

// New builds an empty State.
func New() *State {
	return &State{
		OpenDocuments:          make(map[string]*OpenDocument),
		PendingRequests:        make(map[message.ID]*PendingClientRequest),
		PendingBackendRequests: make(map[message.ID]*PendingBackendRequest),
		nextProxyID:            1,
	}
}

// AllocProxyID returns a fresh integer ID, unique among every ID the proxy
// itself allocates (for replayed client requests to a backend, and for
// rewritten backend->client requests).
func (s *State) AllocProxyID() message.ID {
	id := s.nextProxyID
	s.nextProxyID++
	return message.NewIntID(id)
}

// RememberPendingRequest records an ordinary client->backend request, whose
// ID is forwarded to the backend untranslated.
func (s *State) RememberPendingRequest(id message.ID, env string, session uint64) {
	s.PendingRequests[id] = &PendingClientRequest{OriginalID: id, Environment: env, Session: session}
}

// RememberRewrittenPendingRequest records a proxy-originated request to a
// backend (currently: the replayed `initialize`) whose wire ID (proxyID)
// differs from the client's originalID. The response's ID is rewritten back
// to originalID before it is forwarded to the client.
func (s *State) RememberRewrittenPendingRequest(proxyID, originalID message.ID, env string, session uint64) {
	s.PendingRequests[proxyID] = &PendingClientRequest{OriginalID: originalID, Environment: env, Session: session}
}

// RememberPendingBackendRequest records a backend->client request under a
// freshly-allocated proxy ID and returns that ID.
func (s *State) RememberPendingBackendRequest(original message.ID, env string, session uint64) message.ID {
	proxyID := s.AllocProxyID()
	s.PendingBackendRequests[proxyID] = &PendingBackendRequest{
		OriginalID:  original,
		Environment: env,
		Session:     session,
	}
	return proxyID
}

// DocumentsForEnvironment returns the URIs of every open document whose
// cached environment equals env.
func (s *State) DocumentsForEnvironment(env string) []string {
	var uris []string
	for uri, doc := range s.OpenDocuments {
		if doc.Environment == env {
			uris = append(uris, uri)
		}
	}
	return uris
}

// CancelPendingForEnvironment removes and returns every pending
// client->backend request tied to (env, session), for the eviction/crash
// cancellation fanout.
func (s *State) CancelPendingForEnvironment(env string, session uint64) map[message.ID]*PendingClientRequest {
	out := make(map[message.ID]*PendingClientRequest)
	for id, pending := range s.PendingRequests {
		if pending.Environment == env && pending.Session == session {
			out[id] = pending
			delete(s.PendingRequests, id)
		}
	}
	return out
}

// DropPendingBackendRequestsForEnvironment removes every pending
// backend->client request tied to (env, session) without returning them;
// per the spec these are dropped silently on eviction/crash.
func (s *State) DropPendingBackendRequestsForEnvironment(env string, session uint64) {
	for id, pending := range s.PendingBackendRequests {
		if pending.Environment == env && pending.Session == session {
			delete(s.PendingBackendRequests, id)
		}
	}
}
