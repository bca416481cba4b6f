// Package dispatcher is the proxy's single-threaded cooperative core: one
// goroutine owns every mutation of ProxyState and the pool, driven by a
// select over client input, tagged backend output, and a handful of
// internal timer channels. Every other goroutine in the process (backend
// readers, the client reader, per-eviction shutdown waits, warmup
// deadlines) only ever pushes tagged values in; none of them touch state
// directly.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/K-dash/pyright-lsp-proxy/backend"
	"github.com/K-dash/pyright-lsp-proxy/config"
	"github.com/K-dash/pyright-lsp-proxy/framing"
	"github.com/K-dash/pyright-lsp-proxy/logger"
	"github.com/K-dash/pyright-lsp-proxy/message"
	"github.com/K-dash/pyright-lsp-proxy/pool"
	"github.com/K-dash/pyright-lsp-proxy/proxystate"
)

// ClientMessage is one record read off the client pipe: either a parsed
// message or the terminal read error/EOF that ends the loop.
type ClientMessage struct {
	Msg *message.RpcMessage
	Err error
}

// Discoverer resolves the virtual environment that owns a file. Satisfied
// by *envdiscovery.Discoverer; narrowed to the one method the dispatcher
// needs so tests can supply a fake.
type Discoverer interface {
	FindForFile(filePath, gitToplevel string) (string, bool)
}

// shutdownRelay temporarily demultiplexes backendIn records tagged with a
// shutting-down instance's (env, session) into a dedicated channel that
// backend.ShutdownGracefully reads from, since Go cannot cancel a blocked
// pipe read out from under a still-running reader goroutine.
type shutdownRelay struct {
	session   uint64
	ch        chan *message.RpcMessage
	closeOnce sync.Once
}

type shutdownCompletion struct {
	Env     string
	Session uint64
}

type warmupTimeout struct {
	Env     string
	Session uint64
}

// Dispatcher is the event loop and everything it owns.
type Dispatcher struct {
	cfg        config.Config
	state      *proxystate.State
	pool       *pool.Pool
	discoverer Discoverer
	clientOut  *framing.Writer

	clientIn  <-chan ClientMessage
	backendIn chan backend.Inbound

	shutdownDone       chan shutdownCompletion
	warmupTimeouts     chan warmupTimeout
	initializeTimeouts chan warmupTimeout
	snapshotRequests   chan chan PoolSnapshot
	ttlTicker          *time.Ticker

	shuttingDown map[string]*shutdownRelay

	// initializing tracks, per environment currently warming up, the
	// proxy-assigned ID its replayed `initialize` was sent under, so the
	// matching response can trigger sending `initialized` to that backend.
	initializing map[string]message.ID

	// spawnFailures records the last spawn failure time per environment,
	// gating repeated spawn attempts within cfg.SpawnCooldown.
	spawnFailures map[string]time.Time

	// spawn creates a new backend instance. Defaults to backend.Spawn;
	// overridable so tests can stand up a fake backend process instead of a
	// real pyright-langserver binary.
	spawn func(command, envPath string, session uint64, debugProtocol bool) (*backend.Instance, error)
}

// New builds a Dispatcher. gitToplevel is the source-control search ceiling
// resolved once at startup.
func New(cfg config.Config, disc Discoverer, clientOut *framing.Writer, clientIn <-chan ClientMessage, gitToplevel string) *Dispatcher {
	state := proxystate.New()
	state.GitToplevel = gitToplevel

	return &Dispatcher{
		cfg:                cfg,
		state:              state,
		pool:               pool.New(cfg.PoolCapacity),
		discoverer:         disc,
		clientOut:          clientOut,
		clientIn:           clientIn,
		backendIn:          make(chan backend.Inbound, 64),
		shutdownDone:       make(chan shutdownCompletion, 8),
		warmupTimeouts:     make(chan warmupTimeout, 8),
		initializeTimeouts: make(chan warmupTimeout, 8),
		snapshotRequests:   make(chan chan PoolSnapshot),
		ttlTicker:          time.NewTicker(cfg.EvictInterval),
		shuttingDown:       make(map[string]*shutdownRelay),
		initializing:       make(map[string]message.ID),
		spawnFailures:      make(map[string]time.Time),
		spawn:              backend.Spawn,
	}
}

// Run drives the event loop until the client pipe closes, a fatal client
// read error occurs, or ctx is cancelled. On return it kills every backend
// still in the pool.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.ttlTicker.Stop()
	defer func() {
		for _, env := range d.pool.Envs() {
			if entry, ok := d.pool.Get(env); ok && entry.Instance != nil {
				entry.Instance.Kill()
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case rec, ok := <-d.clientIn:
			if !ok {
				logger.Info("client pipe closed, shutting down")
				return nil
			}
			if rec.Err != nil {
				logger.Error("client read failed, terminating: " + rec.Err.Error())
				return rec.Err
			}
			if err := d.handleClientMessage(rec.Msg); err != nil {
				logger.Warn("client message handling failed: " + err.Error())
			}

		case inb := <-d.backendIn:
			d.handleBackendInbound(inb)

		case done := <-d.shutdownDone:
			if relay, ok := d.shuttingDown[done.Env]; ok && relay.session == done.Session {
				delete(d.shuttingDown, done.Env)
			}

		case wt := <-d.warmupTimeouts:
			d.forceReady(wt.Env, wt.Session)

		case it := <-d.initializeTimeouts:
			d.handleInitializeTimeout(it.Env, it.Session)

		case reply := <-d.snapshotRequests:
			reply <- d.buildSnapshot()

		case <-d.ttlTicker.C:
			d.tickTTL()
		}
	}
}

// writeToClient writes msg to the client pipe, logging (never propagating)
// any write failure: a broken client pipe will surface on the next client
// read instead.
func (d *Dispatcher) writeToClient(msg *message.RpcMessage) {
	if err := d.clientOut.WriteMessage(msg); err != nil {
		logger.Error("write to client failed: " + err.Error())
	}
}

// deliverToBackend writes msg to env's backend, or enqueues it on the
// warmup queue if that backend is still Warming. isRequest controls whether
// a pending client->backend slot is counted against the entry (requests
// only; notifications carry no response to wait for).
func (d *Dispatcher) deliverToBackend(env string, entry *pool.Entry, msg *message.RpcMessage, isRequest bool) {
	if entry.IsWarming() {
		d.pool.Enqueue(env, msg)
		d.pool.Touch(env)
		return
	}

	if err := entry.Instance.SendMessage(msg); err != nil {
		logger.Warn("write to backend " + env + " failed: " + err.Error())
		return
	}
	if isRequest {
		entry.PendingClientToBackend++
	}
	d.pool.Touch(env)
}
