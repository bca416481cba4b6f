package dispatcher

import (
	"encoding/json"

	"github.com/K-dash/pyright-lsp-proxy/logger"
	"github.com/K-dash/pyright-lsp-proxy/message"
	"github.com/K-dash/pyright-lsp-proxy/proxystate"
	"github.com/K-dash/pyright-lsp-proxy/textedit"
	"github.com/K-dash/pyright-lsp-proxy/utils"
)

func (d *Dispatcher) handleClientMessage(msg *message.RpcMessage) error {
	switch msg.Method {
	case "initialize":
		return d.handleInitialize(msg)
	case "textDocument/didOpen":
		return d.handleDidOpen(msg)
	case "textDocument/didChange":
		return d.handleDidChange(msg)
	case "textDocument/didClose":
		return d.handleDidClose(msg)
	}

	switch {
	case msg.IsRequest():
		return d.routeRequest(msg)
	case msg.IsNotification():
		return d.routeNotification(msg)
	case msg.IsResponse():
		return d.routeClientResponse(msg)
	}
	return nil
}

// handleInitialize caches the client's initialize message verbatim. It
// arrives once, before any backend exists in the overwhelming common case;
// every later-spawned backend gets its own replayed copy during warmup (see
// warmupSequence). No LSP client re-initializes against already-warm
// backends, so no broadcast-to-existing-backends path is implemented.
func (d *Dispatcher) handleInitialize(msg *message.RpcMessage) error {
	d.state.ClientInitialize = msg.Clone()
	return nil
}

func (d *Dispatcher) handleDidOpen(msg *message.RpcMessage) error {
	var params didOpenParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		logger.Warn("malformed didOpen, dropping: " + err.Error())
		return nil
	}

	uri := params.TextDocument.URI
	doc := &proxystate.OpenDocument{
		LanguageID: params.TextDocument.LanguageID,
		Version:    params.TextDocument.Version,
		Text:       params.TextDocument.Text,
	}
	d.state.OpenDocuments[uri] = doc
	doc.Environment = d.resolveEnvironmentForURI(uri)

	entry, spawned, err := d.ensureBackend(doc.Environment)
	if err != nil {
		logger.Warn("failed to ensure backend for " + doc.Environment + ": " + err.Error())
		return nil
	}

	if !spawned {
		// A fresh spawn's warmup sequence already replays every open
		// document for this environment, this one included; forwarding it
		// again here would duplicate the didOpen on the wire.
		d.deliverToBackend(doc.Environment, entry, msg, false)
	}
	return nil
}

func (d *Dispatcher) resolveEnvironmentForURI(uri string) string {
	path := utils.URIToFilePath(uri)
	env, ok := d.discoverer.FindForFile(path, d.state.GitToplevel)
	if !ok {
		logger.Warn("no virtual environment found for " + uri)
		return ""
	}
	return env
}

func (d *Dispatcher) handleDidChange(msg *message.RpcMessage) error {
	var params didChangeParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		logger.Warn("malformed didChange, dropping: " + err.Error())
		return nil
	}

	uri := params.TextDocument.URI
	doc, ok := d.state.OpenDocuments[uri]
	if !ok {
		logger.Warn("didChange for unknown document: " + uri)
		return nil
	}

	if len(params.ContentChanges) == 0 {
		logger.Info("empty contentChanges for " + uri + ", no-op")
		return d.forwardDocumentScoped(msg, doc.Environment)
	}

	for _, change := range params.ContentChanges {
		if change.Range == nil {
			doc.Text = change.Text
			continue
		}

		newText, err := textedit.ApplyIncremental(doc.Text, textedit.Range{
			StartLine:      change.Range.Start.Line,
			StartCharacter: change.Range.Start.Character,
			EndLine:        change.Range.End.Line,
			EndCharacter:   change.Range.End.Character,
		}, change.Text)
		if err != nil {
			if msg.IsRequest() {
				return d.respondError(*msg.ID, message.CodeInvalidParams, err.Error())
			}
			logger.Warn("invalid didChange, dropping: " + err.Error())
			return nil
		}
		doc.Text = newText
	}
	doc.Version = params.TextDocument.Version

	return d.forwardDocumentScoped(msg, doc.Environment)
}

// handleDidClose removes the document from the cache unconditionally,
// regardless of whether a backend is currently reachable for its
// environment (Design Note 9(c)).
func (d *Dispatcher) handleDidClose(msg *message.RpcMessage) error {
	var params didCloseParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		logger.Warn("malformed didClose, dropping: " + err.Error())
		return nil
	}

	uri := params.TextDocument.URI
	env := ""
	if doc, ok := d.state.OpenDocuments[uri]; ok {
		env = doc.Environment
	}
	delete(d.state.OpenDocuments, uri)

	return d.forwardDocumentScoped(msg, env)
}

func (d *Dispatcher) forwardDocumentScoped(msg *message.RpcMessage, env string) error {
	if env == "" {
		return nil
	}
	entry, ok := d.pool.Get(env)
	if !ok {
		return nil
	}
	d.deliverToBackend(env, entry, msg, false)
	return nil
}

func (d *Dispatcher) routeRequest(msg *message.RpcMessage) error {
	env, ok := d.resolveRouteEnv(msg.Method, msg.Params)
	if !ok {
		return d.respondError(*msg.ID, message.CodeInternalError, "no backend available to route "+msg.Method)
	}
	entry, ok := d.pool.Get(env)
	if !ok {
		return d.respondError(*msg.ID, message.CodeInternalError, "backend for "+env+" is unavailable")
	}

	d.state.RememberPendingRequest(*msg.ID, env, entry.Instance.Session)
	d.deliverToBackend(env, entry, msg, true)
	return nil
}

func (d *Dispatcher) routeNotification(msg *message.RpcMessage) error {
	env, ok := d.resolveRouteEnv(msg.Method, msg.Params)
	if !ok {
		logger.Debug("dropping notification with no routable backend: " + msg.Method)
		return nil
	}
	entry, ok := d.pool.Get(env)
	if !ok {
		return nil
	}
	d.deliverToBackend(env, entry, msg, false)
	return nil
}

// routeClientResponse forwards the client's response to a backend-initiated
// request back to the backend that asked for it, rewriting the ID back to
// that backend's own ID space. Dropped silently if the originating backend
// is gone.
func (d *Dispatcher) routeClientResponse(msg *message.RpcMessage) error {
	if msg.ID == nil {
		return nil
	}
	pending, ok := d.state.PendingBackendRequests[*msg.ID]
	if !ok {
		logger.Debug("client response with no matching backend request: " + msg.ID.String())
		return nil
	}
	delete(d.state.PendingBackendRequests, *msg.ID)

	entry, ok := d.pool.Get(pending.Environment)
	if !ok || entry.Instance.Session != pending.Session {
		return nil
	}

	rewritten := msg.Clone()
	originalID := pending.OriginalID
	rewritten.ID = &originalID

	if entry.PendingBackendToClient > 0 {
		entry.PendingBackendToClient--
	}
	d.deliverToBackend(pending.Environment, entry, rewritten, false)
	return nil
}

func (d *Dispatcher) respondError(id message.ID, code int64, text string) error {
	d.writeToClient(message.NewErrorResponse(id, code, text))
	return nil
}
