package backend

import (
	"testing"
	"time"

	"github.com/K-dash/pyright-lsp-proxy/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// spawnEcho stands up a real "cat" process as a harmless stand-in backend:
// whatever framed bytes are written to its stdin come back verbatim on
// stdout, which is enough to exercise the write/reader-goroutine plumbing
// without depending on a real pyright-langserver binary.
func spawnEcho(t *testing.T, session uint64) *Instance {
	t.Helper()
	inst, err := SpawnRaw("cat", nil, "", session, false)
	require.NoError(t, err)
	return inst
}

func TestSpawnRawEchoesFramedMessages(t *testing.T) {
	inst := spawnEcho(t, 1)
	out := make(chan Inbound, 4)
	inst.StartReader(out)

	id := message.NewIntID(1)
	sent := message.NewRequest(id, "initialize", nil)
	require.NoError(t, inst.SendMessage(sent))

	select {
	case rec := <-out:
		require.NoError(t, rec.Err)
		require.NotNil(t, rec.Msg)
		assert.Equal(t, "initialize", rec.Msg.Method)
		assert.Equal(t, uint64(1), rec.Session)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echoed message")
	}

	inst.Kill()
}

func TestStartReaderTagsEnvAndSession(t *testing.T) {
	inst, err := SpawnRaw("cat", nil, "/some/.venv", 7, false)
	require.NoError(t, err)
	out := make(chan Inbound, 4)
	inst.StartReader(out)

	require.NoError(t, inst.SendMessage(message.NewNotification("textDocument/didOpen", nil)))

	select {
	case rec := <-out:
		require.NoError(t, rec.Err)
		assert.Equal(t, "/some/.venv", rec.Env)
		assert.Equal(t, uint64(7), rec.Session)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echoed message")
	}

	inst.Kill()
}

func TestStartReaderReportsErrOnProcessExit(t *testing.T) {
	inst := spawnEcho(t, 1)
	out := make(chan Inbound, 4)
	inst.StartReader(out)

	inst.Kill()

	select {
	case rec := <-out:
		assert.Error(t, rec.Err)
		assert.Nil(t, rec.Msg)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reader to report exit")
	}
}

func TestAllocIDIsMonotonic(t *testing.T) {
	inst := spawnEcho(t, 1)
	first := inst.AllocID()
	second := inst.AllocID()
	assert.Less(t, first, second)
	inst.Kill()
}

// TestShutdownGracefullyFallsBackToKill exercises the full fallback path:
// cat understands neither `shutdown` nor `exit`, so the relay is closed
// immediately (as a real shutdown-path reader would on backend EOF) and the
// sequence must fall through send-exit, the 1s exit wait, and finally Kill.
func TestShutdownGracefullyFallsBackToKill(t *testing.T) {
	inst := spawnEcho(t, 1)
	relay := make(chan *message.RpcMessage)
	close(relay)

	done := make(chan struct{})
	go func() {
		inst.ShutdownGracefully(relay)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("ShutdownGracefully did not return")
	}
}
