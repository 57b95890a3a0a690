package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jarsater/toolrpc/internal/mcp"
	"github.com/jarsater/toolrpc/internal/metrics"
)

// PipeConfig holds pipe transport configuration.
type PipeConfig struct {
	// BufferSize is the size of the read and write buffers.
	BufferSize int
	// IdleTimeout bounds each read and write when the stream supports
	// deadlines. Zero disables it.
	IdleTimeout time.Duration
	// MaxMessageSize is the largest accepted line, excluding the newline.
	MaxMessageSize int
}

// DefaultPipeConfig returns the default pipe configuration.
func DefaultPipeConfig() PipeConfig {
	return PipeConfig{
		BufferSize:     8192,
		IdleTimeout:    0,
		MaxMessageSize: 1 << 20,
	}
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// PipeTransport frames messages as newline-delimited JSON over a duplex
// byte stream. One request is in flight at a time.
type PipeTransport struct {
	cfg    PipeConfig
	kind   string
	logger *zap.SugaredLogger

	in     io.Reader
	out    io.Writer
	reader *bufio.Reader
	writer *bufio.Writer

	readMu  sync.Mutex
	writeMu sync.Mutex

	closed    atomic.Bool
	eof       atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewPipe creates a pipe transport reading from in and writing to out.
// Close closes both when they implement io.Closer.
func NewPipe(in io.Reader, out io.Writer, cfg PipeConfig, logger *zap.SugaredLogger) *PipeTransport {
	return newPipe(KindPipe, in, out, cfg, logger)
}

// NewStdio creates a pipe transport over the process's stdin and stdout.
func NewStdio(cfg PipeConfig, logger *zap.SugaredLogger) *PipeTransport {
	return newPipe(KindStdio, os.Stdin, os.Stdout, cfg, logger)
}

func newPipe(kind string, in io.Reader, out io.Writer, cfg PipeConfig, logger *zap.SugaredLogger) *PipeTransport {
	def := DefaultPipeConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	t := &PipeTransport{
		cfg:    cfg,
		kind:   kind,
		logger: logger,
		in:     in,
		out:    out,
		reader: bufio.NewReaderSize(in, cfg.BufferSize),
		writer: bufio.NewWriterSize(out, cfg.BufferSize),
	}
	metrics.SetTransportConnected(kind, true)
	return t
}

// ReceiveRequest reads the next request. Lines that fail to decode are
// answered with an error response and skipped.
func (t *PipeTransport) ReceiveRequest(ctx context.Context) (*mcp.RequestMessage, error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	for {
		line, done, err := t.nextLine(ctx)
		if done || err != nil {
			return nil, err
		}

		msg, err := mcp.DecodeRequest(line)
		if err == nil {
			return msg, nil
		}

		var rpcErr *mcp.Error
		if !errors.As(err, &rpcErr) {
			rpcErr = mcp.NewParseError(err.Error())
		}
		metrics.RecordDecodeError(t.kind, rpcErr.Code.String())

		if msg != nil && msg.IsNotification() {
			t.logger.Debugf("Dropping invalid notification: %v", rpcErr)
			continue
		}
		var id []byte
		if msg != nil {
			id = msg.ID
		}
		if !t.reject(ctx, id, rpcErr) {
			return nil, nil
		}
	}
}

// ReceiveResponse reads the next response. Undecodable lines are logged and
// skipped.
func (t *PipeTransport) ReceiveResponse(ctx context.Context) (*mcp.ResponseMessage, error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	for {
		line, done, err := t.nextLine(ctx)
		if done || err != nil {
			return nil, err
		}

		msg, err := mcp.DecodeResponse(line)
		if err != nil {
			metrics.RecordDecodeError(t.kind, "invalid_response")
			t.logger.Warnf("Skipping undecodable response: %v", err)
			continue
		}
		return msg, nil
	}
}

// nextLine returns the next non-empty line. done is true once the stream
// has closed cleanly or gone idle. Oversized lines are answered and skipped.
func (t *PipeTransport) nextLine(ctx context.Context) (line []byte, done bool, err error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		if t.closed.Load() || t.eof.Load() {
			return nil, true, nil
		}

		t.armReadDeadline()
		line, err := t.readLine()
		switch {
		case err == nil:
		case errors.Is(err, ErrMessageTooLarge):
			metrics.RecordDecodeError(t.kind, "message_too_large")
			t.logger.Warnf("Rejected message over %d bytes", t.cfg.MaxMessageSize)
			if !t.reject(ctx, nil, mcp.NewInvalidRequest(ErrMessageTooLarge.Error())) {
				return nil, true, nil
			}
			continue
		case errors.Is(err, os.ErrDeadlineExceeded):
			t.logger.Infof("Pipe idle for %s, closing", t.cfg.IdleTimeout)
			_ = t.Close()
			return nil, true, nil
		case isClosedErr(err) || t.closed.Load():
			t.markEOF()
			return nil, true, nil
		default:
			return nil, false, fmt.Errorf("pipe read: %w", err)
		}

		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		metrics.RecordMessage(t.kind, "in")
		return line, false, nil
	}
}

// readLine reads one newline-terminated line. Bytes past MaxMessageSize are
// discarded as they are read, so an oversized line never accumulates.
func (t *PipeTransport) readLine() ([]byte, error) {
	var (
		line    []byte
		tooLong bool
	)
	for {
		chunk, err := t.reader.ReadSlice('\n')

		n := len(chunk)
		if n > 0 && chunk[n-1] == '\n' {
			n--
		}
		if !tooLong {
			if len(line)+n > t.cfg.MaxMessageSize {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk[:n]...)
			}
		}

		switch {
		case err == nil:
			if tooLong {
				return nil, ErrMessageTooLarge
			}
			return bytes.TrimSuffix(line, []byte{'\r'}), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if tooLong {
				return nil, ErrMessageTooLarge
			}
			if len(line) > 0 {
				// final line without a terminator
				return bytes.TrimSuffix(line, []byte{'\r'}), nil
			}
			return nil, io.EOF
		default:
			return nil, err
		}
	}
}

// reject answers a message that never reached the server. It returns false
// when the stream is closed.
func (t *PipeTransport) reject(ctx context.Context, id []byte, rpcErr *mcp.Error) bool {
	err := t.SendResponse(ctx, &mcp.ResponseMessage{ID: id, Response: mcp.Failure(rpcErr)})
	if err == nil {
		return true
	}
	if errors.Is(err, ErrClosed) {
		return false
	}
	t.logger.Errorf("Failed to send error response: %v", err)
	return true
}

// SendRequest writes a request line.
func (t *PipeTransport) SendRequest(ctx context.Context, msg *mcp.RequestMessage) error {
	data, err := mcp.EncodeRequest(msg)
	if err != nil {
		return err
	}
	if len(data) > t.cfg.MaxMessageSize {
		return fmt.Errorf("send request: %w", ErrMessageTooLarge)
	}
	return t.writeLine(data)
}

// SendResponse writes a response line. A response too large to frame is
// replaced by an error response so the request is still answered.
func (t *PipeTransport) SendResponse(ctx context.Context, msg *mcp.ResponseMessage) error {
	data, err := mcp.EncodeResponse(msg)
	if err != nil {
		return err
	}
	if len(data) > t.cfg.MaxMessageSize {
		t.logger.Warnf("Response of %d bytes exceeds limit, sending error instead", len(data))
		data, err = mcp.EncodeResponse(&mcp.ResponseMessage{
			ID:       msg.ID,
			Response: mcp.Failure(mcp.NewInternalError("response too large")),
		})
		if err != nil {
			return err
		}
	}
	return t.writeLine(data)
}

func (t *PipeTransport) writeLine(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.closed.Load() {
		return ErrClosed
	}

	t.armWriteDeadline()
	if _, err := t.writer.Write(data); err != nil {
		return t.writeErr(err)
	}
	if err := t.writer.WriteByte('\n'); err != nil {
		return t.writeErr(err)
	}
	if err := t.writer.Flush(); err != nil {
		return t.writeErr(err)
	}
	metrics.RecordMessage(t.kind, "out")
	return nil
}

func (t *PipeTransport) writeErr(err error) error {
	if isClosedErr(err) || t.closed.Load() {
		return ErrClosed
	}
	return fmt.Errorf("pipe write: %w", err)
}

func (t *PipeTransport) armReadDeadline() {
	if t.cfg.IdleTimeout <= 0 {
		return
	}
	if d, ok := t.in.(readDeadliner); ok {
		_ = d.SetReadDeadline(time.Now().Add(t.cfg.IdleTimeout))
	}
}

func (t *PipeTransport) armWriteDeadline() {
	if t.cfg.IdleTimeout <= 0 {
		return
	}
	if d, ok := t.out.(writeDeadliner); ok {
		_ = d.SetWriteDeadline(time.Now().Add(t.cfg.IdleTimeout))
	}
}

func (t *PipeTransport) markEOF() {
	if !t.eof.Swap(true) {
		t.logger.Debug("Pipe reached end of stream")
		metrics.SetTransportConnected(t.kind, false)
	}
}

// Close closes the underlying streams exactly once. Later calls return the
// result of the first.
func (t *PipeTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		metrics.SetTransportConnected(t.kind, false)

		var errs []error
		if c, ok := t.in.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
		if c, ok := t.out.(io.Closer); ok && any(t.out) != any(t.in) {
			errs = append(errs, c.Close())
		}
		t.closeErr = errors.Join(errs...)
	})
	return t.closeErr
}

func (t *PipeTransport) Kind() string { return t.kind }

// IsConnected reports whether the stream is open and has not hit EOF.
func (t *PipeTransport) IsConnected() bool {
	return !t.closed.Load() && !t.eof.Load()
}

// Metadata describes the transport.
func (t *PipeTransport) Metadata() map[string]string {
	return map[string]string{
		"transport":        t.kind,
		"version":          "1.0",
		"bidirectional":    "true",
		"max_message_size": strconv.Itoa(t.cfg.MaxMessageSize),
	}
}

// AllowsConcurrentRequests is false: one reader/writer pair serves one
// request at a time.
func (t *PipeTransport) AllowsConcurrentRequests() bool { return false }
