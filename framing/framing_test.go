package framing

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/K-dash/pyright-lsp-proxy/errs"
	"github.com/K-dash/pyright-lsp-proxy/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadMessage(t *testing.T) {
	input := "Content-Length: 46\r\n\r\n{\"jsonrpc\":\"2.0\",\"id\":1,\"method\":\"initialize\"}"
	r := NewReader(strings.NewReader(input))

	msg, err := r.ReadMessage()
	require.NoError(t, err)

	method, ok := msg.MethodName()
	require.True(t, ok)
	assert.Equal(t, "initialize", method)
	assert.True(t, msg.IsRequest())
}

func TestWriteMessage(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	id := message.NewIntID(1)
	msg := &message.RpcMessage{Jsonrpc: "2.0", ID: &id, Method: "test"}
	require.NoError(t, w.WriteMessage(msg))

	assert.True(t, strings.HasPrefix(buf.String(), "Content-Length: "))
}

func TestRoundTrip(t *testing.T) {
	id := message.NewStringID("abc")
	original := &message.RpcMessage{Jsonrpc: "2.0", ID: &id, Method: "textDocument/hover"}

	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf).WriteMessage(original))

	decoded, err := NewReader(&buf).ReadMessage()
	require.NoError(t, err)

	assert.Equal(t, original.Jsonrpc, decoded.Jsonrpc)
	assert.True(t, original.ID.Equal(*decoded.ID))
	assert.Equal(t, original.Method, decoded.Method)
}

func TestMissingContentLength(t *testing.T) {
	input := "X-Other: 1\r\n\r\n"
	_, err := NewReader(strings.NewReader(input)).ReadMessage()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrMissingContentLength))
}

func TestInvalidContentLength(t *testing.T) {
	input := "Content-Length: not-a-number\r\n\r\n"
	_, err := NewReader(strings.NewReader(input)).ReadMessage()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrInvalidContentLength))
}

func TestUnexpectedEOFWhileReadingHeaders(t *testing.T) {
	_, err := NewReader(strings.NewReader("")).ReadMessage()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrUnexpectedEOF))
}

func TestUnexpectedEOFMidFrame(t *testing.T) {
	input := "Content-Length: 100\r\n\r\n{\"short\":true}"
	_, err := NewReader(strings.NewReader(input)).ReadMessage()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrUnexpectedEOF))
}

func TestContentLengthZeroYieldsParseError(t *testing.T) {
	input := "Content-Length: 0\r\n\r\n"
	_, err := NewReader(strings.NewReader(input)).ReadMessage()
	require.Error(t, err)
}

func TestIgnoresContentTypeHeader(t *testing.T) {
	body := `{"jsonrpc":"2.0","method":"ping"}`
	input := "Content-Type: application/vscode-jsonrpc; charset=utf-8\r\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n" + body

	msg, err := NewReader(strings.NewReader(input)).ReadMessage()
	require.NoError(t, err)
	method, _ := msg.MethodName()
	assert.Equal(t, "ping", method)
}
