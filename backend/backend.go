// Package backend manages a single spawned pyright-langserver child: its
// framed stdio pipes, its inbound-message reader goroutine, and its
// graceful/forceful shutdown sequence.
package backend

import (
	"fmt"
	"time"

	"github.com/K-dash/pyright-lsp-proxy/framing"
	"github.com/K-dash/pyright-lsp-proxy/logger"
	"github.com/K-dash/pyright-lsp-proxy/message"
	"github.com/K-dash/pyright-lsp-proxy/procspawn"
)

const (
	shutdownResponseTimeout = 2 * time.Second
	exitWaitTimeout         = 1 * time.Second
	killWaitTimeout         = 500 * time.Millisecond
)

// Inbound is a single tagged record pushed by a backend's reader goroutine
// onto the dispatcher's shared channel. Exactly one record with a non-nil
// Err is emitted, as the reader's final act before exiting.
type Inbound struct {
	Env     string
	Session uint64
	Msg     *message.RpcMessage
	Err     error
}

// Instance is a single spawned backend: its writer half stays with the
// instance for synchronous outbound writes from the dispatcher; its reader
// half runs on its own goroutine and only ever writes into the shared
// channel passed to StartReader.
type Instance struct {
	Env     string
	Session uint64

	child  *procspawn.Child
	reader *framing.Reader
	writer *framing.Writer

	nextID int64
}

// Spawn starts the backend binary for the given environment (which may be
// empty, meaning "no virtual environment") and wires up framed stdio. It
// invokes command with the `--stdio` flag pyright-langserver expects; use
// SpawnRaw to control the argument list directly (e.g. to stand up a fake
// backend process in tests).
func Spawn(command string, envPath string, session uint64, debugProtocol bool) (*Instance, error) {
	return SpawnRaw(command, []string{"--stdio"}, envPath, session, debugProtocol)
}

// SpawnRaw is Spawn with an explicit argument list.
func SpawnRaw(command string, args []string, envPath string, session uint64, debugProtocol bool) (*Instance, error) {
	child, err := procspawn.Spawn(command, args, envPath)
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", command, err)
	}

	if envPath != "" {
		logger.Info(fmt.Sprintf("spawning %s with venv=%s (session=%d)", command, envPath, session))
	} else {
		logger.Warn(fmt.Sprintf("spawning %s without a virtual environment (session=%d)", command, session))
	}

	tag := fmt.Sprintf(" backend:%s", envPath)
	return &Instance{
		Env:     envPath,
		Session: session,
		child:   child,
		reader:  framing.NewReaderWithDebug(child.Stdout, debugProtocol, tag),
		writer:  framing.NewWriterWithDebug(child.Stdin, debugProtocol, tag),
		nextID:  1,
	}, nil
}

// SendMessage writes one framed message to the backend's stdin.
func (inst *Instance) SendMessage(msg *message.RpcMessage) error {
	return inst.writer.WriteMessage(msg)
}

// AllocID returns a fresh integer ID for proxy-originated messages this
// instance sends to the backend (e.g. its own shutdown request).
func (inst *Instance) AllocID() int64 {
	id := inst.nextID
	inst.nextID++
	return id
}

// StartReader launches the reader goroutine. It reads framed messages until
// EOF or an error, tagging every record with this instance's (env, session)
// and pushing it onto out. It never touches any state shared with the
// dispatcher beyond that channel.
func (inst *Instance) StartReader(out chan<- Inbound) {
	go func() {
		for {
			msg, err := inst.reader.ReadMessage()
			if err != nil {
				out <- Inbound{Env: inst.Env, Session: inst.Session, Err: err}
				return
			}
			out <- Inbound{Env: inst.Env, Session: inst.Session, Msg: msg}
		}
	}()
}

// ShutdownGracefully runs the exact shutdown sequence: send `shutdown`,
// wait up to 2s for its matching response (ignoring unrelated notifications
// and mismatched responses), send `exit`, wait up to 1s for the child to
// exit. Any failure or timeout falls through to Kill. Shutdown is
// best-effort: failures are logged, never returned.
func (inst *Instance) ShutdownGracefully(responses <-chan *message.RpcMessage) {
	shutdownID := inst.AllocID()
	logger.Info(fmt.Sprintf("sending shutdown request to backend %s (id=%d)", inst.Env, shutdownID))

	shutdownMsg := message.NewRequest(message.NewIntID(shutdownID), "shutdown", nil)
	if err := inst.SendMessage(shutdownMsg); err != nil {
		logger.Warn("failed to send shutdown request, killing directly: " + err.Error())
		inst.Kill()
		return
	}

	deadline := time.Now().Add(shutdownResponseTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			logger.Warn("shutdown response timeout")
			break
		}

		select {
		case msg, ok := <-responses:
			if !ok {
				logger.Warn("backend pipe closed while waiting for shutdown response")
				goto sendExit
			}
			if msg.IsResponse() && msg.ID != nil && !msg.ID.IsString() && msg.ID.Int() == shutdownID {
				logger.Info("received shutdown response")
				goto sendExit
			}
			// Ignore unrelated notifications/responses and keep waiting.
		case <-time.After(remaining):
			logger.Warn("shutdown response timeout")
			goto sendExit
		}
	}

sendExit:
	exitMsg := message.NewNotification("exit", nil)
	if err := inst.SendMessage(exitMsg); err != nil {
		logger.Warn("failed to send exit notification: " + err.Error())
	}

	done := make(chan error, 1)
	go func() { done <- inst.child.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			logger.Warn("error waiting for backend exit: " + err.Error())
			return
		}
		logger.Info("backend exited gracefully")
		return
	case <-time.After(exitWaitTimeout):
		logger.Warn("backend exit timeout, killing")
	}

	inst.Kill()
}

// Kill forcibly terminates the child and waits up to 500ms for it to exit.
func (inst *Instance) Kill() {
	logger.Warn("killing backend process " + inst.Env)
	if err := inst.child.Kill(); err != nil {
		logger.Error("failed to kill backend: " + err.Error())
		return
	}

	done := make(chan error, 1)
	go func() { done <- inst.child.Wait() }()

	select {
	case <-done:
		logger.Info("backend killed successfully")
	case <-time.After(killWaitTimeout):
		logger.Error("backend kill timeout")
	}
}
