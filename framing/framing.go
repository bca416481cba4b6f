// Package framing reads and writes LSP-framed JSON-RPC messages:
// Content-Length-prefixed, CRLF-terminated header blocks followed by a raw
// UTF-8 JSON body. It is used on both the client-facing pipe and every
// backend pipe.
package framing

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/K-dash/pyright-lsp-proxy/errs"
	"github.com/K-dash/pyright-lsp-proxy/message"
)

const contentLengthHeader = "Content-Length: "

// Reader reads framed LSP messages off an underlying io.Reader.
type Reader struct {
	br    *bufio.Reader
	debug bool
	tag   string
}

// NewReader wraps r with no debug dumping.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r)}
}

// NewReaderWithDebug wraps r, dumping every parsed frame to stderr prefixed
// with tag when debug is true.
func NewReaderWithDebug(r io.Reader, debug bool, tag string) *Reader {
	return &Reader{br: bufio.NewReader(r), debug: debug, tag: tag}
}

// ReadMessage reads one complete framed message.
func (fr *Reader) ReadMessage() (*message.RpcMessage, error) {
	contentLength, err := fr.readHeaders()
	if err != nil {
		return nil, err
	}

	content := make([]byte, contentLength)
	if _, err := io.ReadFull(fr.br, content); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return nil, errs.ErrUnexpectedEOF
		}
		return nil, err
	}

	if fr.debug {
		fmt.Fprintf(os.Stderr, "[DEBUG RX%s] %s\n", fr.tag, string(content))
	}

	var msg message.RpcMessage
	if err := json.Unmarshal(content, &msg); err != nil {
		return nil, fmt.Errorf("framing: parse json: %w", err)
	}
	return &msg, nil
}

func (fr *Reader) readHeaders() (int, error) {
	contentLength := -1

	for {
		line, err := fr.br.ReadString('\n')
		if err != nil {
			if err == io.EOF && line == "" {
				return 0, errs.ErrUnexpectedEOF
			}
			return 0, err
		}

		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			break
		}

		if rest, ok := strings.CutPrefix(trimmed, contentLengthHeader); ok {
			n, err := strconv.Atoi(strings.TrimSpace(rest))
			if err != nil || n < 0 {
				return 0, errs.ErrInvalidContentLength
			}
			contentLength = n
		}
		// Any other header, including Content-Type, is ignored: UTF-8 is assumed.
	}

	if contentLength < 0 {
		return 0, errs.ErrMissingContentLength
	}
	return contentLength, nil
}

// Writer writes framed LSP messages to an underlying io.Writer. Writes are
// serialized with a mutex since a single backend's writer may be shared by
// the dispatcher and warmup-queue drains.
type Writer struct {
	mu    sync.Mutex
	w     io.Writer
	debug bool
	tag   string
}

// NewWriter wraps w with no debug dumping.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// NewWriterWithDebug wraps w, dumping every written frame to stderr prefixed
// with tag when debug is true.
func NewWriterWithDebug(w io.Writer, debug bool, tag string) *Writer {
	return &Writer{w: w, debug: debug, tag: tag}
}

// WriteMessage serializes and writes one framed message, then flushes if the
// underlying writer supports it.
func (fw *Writer) WriteMessage(msg *message.RpcMessage) error {
	content, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("framing: marshal json: %w", err)
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.debug {
		fmt.Fprintf(os.Stderr, "[DEBUG TX%s] %s\n", fw.tag, string(content))
	}

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(content))
	if _, err := io.WriteString(fw.w, header); err != nil {
		return err
	}
	if _, err := fw.w.Write(content); err != nil {
		return err
	}
	if f, ok := fw.w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	if f, ok := fw.w.(interface{ Sync() error }); ok {
		_ = f
	}
	return nil
}
