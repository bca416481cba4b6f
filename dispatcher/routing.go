package dispatcher

import (
	"encoding/json"
	"strings"
)

// extractURI pulls params.textDocument.uri out of an arbitrary request or
// notification payload, for methods whose shape the dispatcher does not
// otherwise decode.
func extractURI(params json.RawMessage) (string, bool) {
	if len(params) == 0 {
		return "", false
	}
	var h uriHolder
	if err := json.Unmarshal(params, &h); err != nil {
		return "", false
	}
	if h.TextDocument.URI == "" {
		return "", false
	}
	return h.TextDocument.URI, true
}

// resolveRouteEnv implements the routing policy settled by Design Note
// 9(b): document-scoped methods go to that document's cached environment;
// workspace-scoped methods go to the most-recently-used backend; unknown
// methods go to the backend owning an extractable URI, falling back to
// most-recently-used. No broadcast/merge behavior is implemented.
func (d *Dispatcher) resolveRouteEnv(method string, params json.RawMessage) (string, bool) {
	if strings.HasPrefix(method, "textDocument/") {
		if uri, ok := extractURI(params); ok {
			if doc, ok := d.state.OpenDocuments[uri]; ok && doc.Environment != "" {
				return doc.Environment, true
			}
		}
		return d.pool.MRUEnv()
	}

	if strings.HasPrefix(method, "workspace/") {
		return d.pool.MRUEnv()
	}

	if uri, ok := extractURI(params); ok {
		if doc, ok := d.state.OpenDocuments[uri]; ok && doc.Environment != "" {
			return doc.Environment, true
		}
	}
	return d.pool.MRUEnv()
}
