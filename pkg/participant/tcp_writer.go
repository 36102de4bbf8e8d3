package participant

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Ensure TCPWriter implements OrderWriter interface
var _ OrderWriter = (*TCPWriter)(nil)

// TCPWriter writes newline-terminated orders over one TCP connection,
// paced by a token bucket.
type TCPWriter struct {
	mu      sync.Mutex
	conn    net.Conn
	w       *bufio.Writer
	limiter *rate.Limiter
}

// DialTCP connects to the receiver
func DialTCP(ctx context.Context, addr string, timeout time.Duration, ordersPerSecond float64) (*TCPWriter, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to receiver at %s: %w", addr, err)
	}
	return NewTCPWriter(conn, ordersPerSecond), nil
}

// NewTCPWriter wraps an established connection. A non-positive rate leaves
// the writer unpaced.
func NewTCPWriter(conn net.Conn, ordersPerSecond float64) *TCPWriter {
	limit, burst := rate.Inf, 1
	if ordersPerSecond > 0 {
		limit = rate.Limit(ordersPerSecond)
		burst = max(int(ordersPerSecond), 1)
	}
	return &TCPWriter{
		conn:    conn,
		w:       bufio.NewWriter(conn),
		limiter: rate.NewLimiter(limit, burst),
	}
}

// WriteOrder implements OrderWriter
func (t *TCPWriter) WriteOrder(ctx context.Context, line string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.w.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("write order: %w", err)
	}
	if err := t.w.Flush(); err != nil {
		return fmt.Errorf("flush order: %w", err)
	}
	return nil
}

// Close closes the connection
func (t *TCPWriter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.Close()
}
