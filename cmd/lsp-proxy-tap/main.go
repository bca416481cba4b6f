// lsp-proxy-tap sits between an editor and the real lsp-proxy binary,
// passing every framed LSP message through unperturbed on stdio while
// mirroring a copy of each message to any debug client connected over TCP,
// using sourcegraph/jsonrpc2's VSCodeObjectCodec. It exists purely so an
// operator can attach a protocol inspector without disturbing the primary
// stdio pipe an editor depends on.
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/K-dash/pyright-lsp-proxy/framing"
	"github.com/K-dash/pyright-lsp-proxy/message"
	"github.com/K-dash/pyright-lsp-proxy/procspawn"
)

func main() {
	command := flag.String("command", "lsp-proxy", "the real proxy binary to spawn and relay to")
	tapAddr := flag.String("tap-addr", "127.0.0.1:7778", "TCP address debug clients can connect to for a mirrored feed")
	flag.Parse()

	child, err := procspawn.Spawn(*command, flag.Args(), "")
	if err != nil {
		log.Fatalf("lsp-proxy-tap: spawning %s: %v", *command, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
		_ = child.Kill()
	}()

	tap := newTapBroadcaster()
	lis, err := net.Listen("tcp", *tapAddr)
	if err != nil {
		log.Fatalf("lsp-proxy-tap: listening on %s: %v", *tapAddr, err)
	}
	defer lis.Close()
	go tap.acceptLoop(ctx, lis)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		relay(ctx, os.Stdin, child.Stdin, "client->backend", tap)
	}()
	go func() {
		defer wg.Done()
		relay(ctx, child.Stdout, os.Stdout, "backend->client", tap)
	}()
	wg.Wait()
}

// relay copies framed messages from src to dst unmodified, mirroring each
// one to tap under label. It returns once src is exhausted (EOF or error),
// which for the stdin leg means the editor disconnected and for the stdout
// leg means the spawned proxy exited.
func relay(ctx context.Context, src io.Reader, dst io.Writer, label string, tap *tapBroadcaster) {
	r := framing.NewReader(src)
	w := framing.NewWriter(dst)

	for {
		msg, err := r.ReadMessage()
		if err != nil {
			return
		}
		if err := w.WriteMessage(msg); err != nil {
			return
		}
		tap.mirror(ctx, label, msg)
	}
}

// tapBroadcaster fans a mirrored copy of every relayed message out to every
// currently-connected debug client. A client is removed once its connection
// reports a disconnect, and a failed send is ignored. Each copy is written to
// each client synchronously under the broadcaster's lock, so a client that
// stops reading can hold up the relay.
type tapBroadcaster struct {
	mu    sync.Mutex
	conns map[*jsonrpc2.Conn]struct{}
}

func newTapBroadcaster() *tapBroadcaster {
	return &tapBroadcaster{conns: make(map[*jsonrpc2.Conn]struct{})}
}

func (t *tapBroadcaster) acceptLoop(ctx context.Context, lis net.Listener) {
	for {
		netConn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		stream := jsonrpc2.NewBufferedStream(netConn, jsonrpc2.VSCodeObjectCodec{})
		conn := jsonrpc2.NewConn(ctx, stream, jsonrpc2.AsyncHandler(noopHandler{}))

		t.mu.Lock()
		t.conns[conn] = struct{}{}
		t.mu.Unlock()

		go func() {
			<-conn.DisconnectNotify()
			t.mu.Lock()
			delete(t.conns, conn)
			t.mu.Unlock()
		}()
	}
}

type tapFrame struct {
	Direction string              `json:"direction"`
	Message   *message.RpcMessage `json:"message"`
}

func (t *tapBroadcaster) mirror(ctx context.Context, direction string, msg *message.RpcMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return
	}
	frame := tapFrame{Direction: direction, Message: msg}
	for conn := range t.conns {
		_ = conn.Notify(ctx, "tap/message", frame)
	}
}

type noopHandler struct{}

func (noopHandler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {}
