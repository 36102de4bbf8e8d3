// Package receiver accepts order streams over TCP and forwards each
// newline-terminated line to a Publisher.
package receiver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/erain9/bourse/pkg/otel"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// maxLineBytes bounds a single buffered order line
const maxLineBytes = 64 * 1024

// Publisher forwards one order line downstream
type Publisher interface {
	Publish(ctx context.Context, line string) error
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(ctx context.Context, line string) error

// Publish implements Publisher
func (f PublisherFunc) Publish(ctx context.Context, line string) error {
	return f(ctx, line)
}

// Stats is a snapshot of receiver counters
type Stats struct {
	Connections   uint64
	Lines         uint64
	PublishErrors uint64
}

// Receiver is the placement TCP server. Lines are not validated here; a
// trailing fragment without a newline is discarded when its connection closes.
type Receiver struct {
	publisher Publisher
	logger    zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup

	connections   atomic.Uint64
	lines         atomic.Uint64
	publishErrors atomic.Uint64
}

// New creates a Receiver
func New(publisher Publisher, logger zerolog.Logger) *Receiver {
	return &Receiver{
		publisher: publisher,
		logger:    logger.With().Str("component", "receiver").Logger(),
		conns:     make(map[net.Conn]struct{}),
	}
}

// ListenAndServe listens on addr and serves until ctx ends or Close is called
func (r *Receiver) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return r.Serve(ctx, l)
}

// Serve accepts connections on l. It returns nil after a clean shutdown.
func (r *Receiver) Serve(ctx context.Context, l net.Listener) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = l.Close()
		return nil
	}
	r.listener = l
	r.mu.Unlock()

	r.logger.Info().Str("addr", l.Addr().String()).Msg("Receiving orders")

	stop := context.AfterFunc(ctx, func() { _ = r.Close() })
	defer stop()

	for {
		conn, err := l.Accept()
		if err != nil {
			if r.isClosed() || errors.Is(err, net.ErrClosed) {
				r.wg.Wait()
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		if !r.track(conn) {
			_ = conn.Close()
			continue
		}
		r.wg.Add(1)
		go r.handle(ctx, conn)
	}
}

// Addr returns the listening address, or nil before Serve
func (r *Receiver) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Close stops accepting and closes open connections
func (r *Receiver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var err error
	if r.listener != nil {
		err = r.listener.Close()
	}
	for c := range r.conns {
		_ = c.Close()
	}
	return err
}

// Stats returns a snapshot of the counters
func (r *Receiver) Stats() Stats {
	return Stats{
		Connections:   r.connections.Load(),
		Lines:         r.lines.Load(),
		PublishErrors: r.publishErrors.Load(),
	}
}

func (r *Receiver) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Receiver) track(conn net.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.conns[conn] = struct{}{}
	return true
}

func (r *Receiver) untrack(conn net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, conn)
}

func (r *Receiver) handle(ctx context.Context, conn net.Conn) {
	defer r.wg.Done()
	defer r.untrack(conn)
	defer conn.Close()

	r.connections.Add(1)
	logger := r.logger.With().Str("remote", conn.RemoteAddr().String()).Logger()
	logger.Info().Msg("Connection initiated")

	n, err := ReadLines(conn, func(line string) error {
		r.lines.Add(1)
		ctx, span := otel.StartOrderSpan(ctx, otel.SpanReceiveOrder, attribute.String(otel.AttributeRawOrder, line))
		perr := r.publisher.Publish(ctx, line)
		otel.EndSpan(span, perr)
		if perr != nil {
			r.publishErrors.Add(1)
			logger.Error().Err(perr).Str("line", line).Msg("Failed to publish order")
		}
		return ctx.Err()
	})
	if err != nil && !r.isClosed() {
		logger.Warn().Err(err).Msg("Connection error")
	}
	logger.Info().Int("lines", n).Msg("Connection closed")
}

// ReadLines calls fn for every non-empty newline-terminated line of rd, with
// the line ending removed. Partial lines are buffered across reads; a final
// unterminated fragment is dropped. It stops at EOF or the first error from fn.
func ReadLines(rd io.Reader, fn func(line string) error) (int, error) {
	br := bufio.NewReaderSize(rd, 4096)
	var (
		n       int
		pending strings.Builder
	)
	for {
		chunk, err := br.ReadSlice('\n')
		if len(chunk) > 0 {
			if pending.Len()+len(chunk) > maxLineBytes {
				return n, fmt.Errorf("line exceeds %d bytes", maxLineBytes)
			}
			pending.Write(chunk)
		}

		switch {
		case err == nil:
			line := strings.TrimRight(pending.String(), "\r\n")
			pending.Reset()
			if line == "" {
				continue
			}
			n++
			if ferr := fn(line); ferr != nil {
				return n, ferr
			}
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			return n, nil
		default:
			return n, err
		}
	}
}
