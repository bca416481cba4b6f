// lsp-proxy multiplexes a single editor's LSP session across a pool of
// per-virtualenv pyright-langserver backends, spawning and tearing them
// down as the edited files move between Python environments.
//
// Usage: lsp-proxy [--debug-protocol]
//
// The proxy speaks LSP over its own stdin/stdout. Its only network surface
// is the optional status inspector (statusws, served at /status) started
// when LSP_PROXY_STATUS_ADDR is set; see cmd/lsp-proxy-status and
// cmd/lsp-proxy-tap for the separate inspection/debug binaries.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/K-dash/pyright-lsp-proxy/config"
	"github.com/K-dash/pyright-lsp-proxy/dispatcher"
	"github.com/K-dash/pyright-lsp-proxy/envdiscovery"
	"github.com/K-dash/pyright-lsp-proxy/errs"
	"github.com/K-dash/pyright-lsp-proxy/framing"
	"github.com/K-dash/pyright-lsp-proxy/logger"
	"github.com/K-dash/pyright-lsp-proxy/statusws"
	"github.com/K-dash/pyright-lsp-proxy/vcsroot"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		logger.Error("parsing flags: " + err.Error())
		return 1
	}

	cwd, err := os.Getwd()
	if err != nil {
		logger.Error("resolving working directory: " + err.Error())
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gitToplevel := vcsroot.Detect(ctx, cwd)

	disc := envdiscovery.New()
	defer disc.Close()

	clientReader := framing.NewReaderWithDebug(os.Stdin, cfg.DebugProtocol, " client")
	clientWriter := framing.NewWriterWithDebug(os.Stdout, cfg.DebugProtocol, " client")

	clientIn := make(chan dispatcher.ClientMessage)
	go pumpClientMessages(clientReader, clientIn)

	d := dispatcher.New(cfg, disc, clientWriter, clientIn, gitToplevel)

	if cfg.StatusAddr != "" {
		serveStatus(ctx, cfg.StatusAddr, d)
	}

	if err := d.Run(ctx); err != nil {
		logger.Error("dispatcher terminated: " + err.Error())
		return 1
	}
	return 0
}

// serveStatus starts the live pool inspector on addr in the background. A
// listener failure is logged, not fatal: the inspector is observational
// only and must never take down the primary LSP session over it.
func serveStatus(ctx context.Context, addr string, d *dispatcher.Dispatcher) {
	mux := http.NewServeMux()
	mux.Handle("/status", statusws.New(d))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	go func() {
		logger.Info("status inspector listening on " + addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("status inspector stopped: " + err.Error())
		}
	}()
}

// pumpClientMessages is the only goroutine that reads the client pipe; it
// never touches dispatcher state, matching the one-way tagged-record
// discipline every other feeder goroutine follows (see package dispatcher's
// doc comment). When the client closes its pipe (errs.ErrUnexpectedEOF,
// which the framing reader also returns for a frame cut short) it only
// closes clientIn, which Run treats as a clean shutdown; any other read
// error is delivered first. Either way it exits, since nothing further can
// be read from a pipe that is done.
func pumpClientMessages(r *framing.Reader, out chan<- dispatcher.ClientMessage) {
	defer close(out)
	for {
		msg, err := r.ReadMessage()
		if err != nil {
			if errors.Is(err, errs.ErrUnexpectedEOF) {
				return
			}
			out <- dispatcher.ClientMessage{Err: err}
			return
		}
		out <- dispatcher.ClientMessage{Msg: msg}
	}
}
