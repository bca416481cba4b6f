package statusmcp

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/K-dash/pyright-lsp-proxy/dispatcher"
)

// WebsocketSource fetches a snapshot by dialing a running proxy's statusws
// endpoint fresh on every call and reading the initial "snapshot" frame
// statusws always sends right after upgrade. Grounded on the teacher's own
// gorilla/websocket dial helper in lsp/websocket_client.go, adapted from a
// long-lived LSP transport connection to a one-shot status poll.
type WebsocketSource struct {
	URL     string
	Timeout time.Duration
}

// NewWebsocketSource builds a source dialing url (e.g. "ws://127.0.0.1:7777/status").
func NewWebsocketSource(url string) *WebsocketSource {
	return &WebsocketSource{URL: url, Timeout: 10 * time.Second}
}

func (s *WebsocketSource) Snapshot(ctx context.Context) (dispatcher.PoolSnapshot, error) {
	dialer := websocket.Dialer{
		NetDial:          (&net.Dialer{Timeout: s.timeout()}).Dial,
		HandshakeTimeout: s.timeout(),
	}

	conn, _, err := dialer.DialContext(ctx, s.URL, nil)
	if err != nil {
		return dispatcher.PoolSnapshot{}, fmt.Errorf("statusmcp: dial %s: %w", s.URL, err)
	}
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(s.timeout())); err != nil {
		return dispatcher.PoolSnapshot{}, fmt.Errorf("statusmcp: set read deadline: %w", err)
	}

	var frame struct {
		Kind     string                 `json:"kind"`
		Snapshot dispatcher.PoolSnapshot `json:"snapshot"`
	}
	if err := conn.ReadJSON(&frame); err != nil {
		return dispatcher.PoolSnapshot{}, fmt.Errorf("statusmcp: reading snapshot frame: %w", err)
	}
	return frame.Snapshot, nil
}

func (s *WebsocketSource) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return 10 * time.Second
}
