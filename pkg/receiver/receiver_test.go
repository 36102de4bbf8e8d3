package receiver

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu    sync.Mutex
	lines []string
	err   error
}

func (c *collector) Publish(ctx context.Context, line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.lines = append(c.lines, line)
	return nil
}

func (c *collector) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func TestReadLines(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "single", input: "bid:AAPL:600.0:1:a\n", want: []string{"bid:AAPL:600.0:1:a"}},
		{name: "crlf", input: "bid:AAPL:600.0:1:a\r\nask:KYE:27.0:2:b\r\n", want: []string{"bid:AAPL:600.0:1:a", "ask:KYE:27.0:2:b"}},
		{name: "blank lines skipped", input: "\n\nx\n\n", want: []string{"x"}},
		{name: "unterminated fragment dropped", input: "a\nb", want: []string{"a"}},
		{name: "empty", input: "", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			_, err := ReadLines(strings.NewReader(tt.input), func(line string) error {
				got = append(got, line)
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadLines_PartialReads(t *testing.T) {
	input := "bid:AAPL:600.0:1:cust-A\nask:AAPL:600.0:1:cust-B\n"
	var got []string
	n, err := ReadLines(iotest.OneByteReader(strings.NewReader(input)), func(line string) error {
		got = append(got, line)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"bid:AAPL:600.0:1:cust-A", "ask:AAPL:600.0:1:cust-B"}, got)
}

func TestReadLines_LongLine(t *testing.T) {
	long := strings.Repeat("x", 10000) + "\n"
	var got []string
	_, err := ReadLines(strings.NewReader(long), func(line string) error {
		got = append(got, line)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Len(t, got[0], 10000)

	_, err = ReadLines(strings.NewReader(strings.Repeat("y", maxLineBytes+1)), func(string) error { return nil })
	assert.Error(t, err)
}

func TestReadLines_StopsOnCallbackError(t *testing.T) {
	stop := errors.New("stop")
	n, err := ReadLines(strings.NewReader("a\nb\nc\n"), func(line string) error {
		if line == "b" {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, n)
}

func TestReadLines_ReaderError(t *testing.T) {
	boom := errors.New("reset")
	_, err := ReadLines(io.MultiReader(strings.NewReader("a\n"), iotest.ErrReader(boom)), func(string) error { return nil })
	assert.ErrorIs(t, err, boom)
}

func startReceiver(t *testing.T, pub Publisher) (*Receiver, string) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	r := New(pub, zerolog.Nop())
	done := make(chan error, 1)
	go func() { done <- r.Serve(context.Background(), l) }()
	t.Cleanup(func() {
		require.NoError(t, r.Close())
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("Serve did not return")
		}
	})
	return r, l.Addr().String()
}

func TestReceiver_ForwardsLines(t *testing.T) {
	pub := &collector{}
	r, addr := startReceiver(t, pub)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	_, err = conn.Write([]byte("bid:AAPL:600.0:1:cust-A\nask:AAP"))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = conn.Write([]byte("L:600.0:1:cust-B\n"))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return len(pub.Lines()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"bid:AAPL:600.0:1:cust-A", "ask:AAPL:600.0:1:cust-B"}, pub.Lines())
	require.Eventually(t, func() bool { return r.Stats().Connections == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(2), r.Stats().Lines)
}

func TestReceiver_MultipleConnections(t *testing.T) {
	pub := &collector{}
	_, addr := startReceiver(t, pub)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := net.Dial("tcp", addr)
			if !assert.NoError(t, err) {
				return
			}
			defer conn.Close()
			_, err = conn.Write([]byte("bid:HD:49.0:1:x\nbid:HD:49.0:1:y\n"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return len(pub.Lines()) == 10 }, 2*time.Second, 10*time.Millisecond)
}

func TestReceiver_PublishErrorsAreCounted(t *testing.T) {
	pub := &collector{err: errors.New("pipe full")}
	r, addr := startReceiver(t, pub)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("a\nb\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return r.Stats().PublishErrors == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestReceiver_ContextCancelStops(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	r := New(PublisherFunc(func(context.Context, string) error { return nil }), zerolog.Nop())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx, l) }()

	require.Eventually(t, func() bool { return r.Addr() != nil }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop on cancel")
	}
}
