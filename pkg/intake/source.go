package intake

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
)

// Source delivers raw order messages, one per call. Receive returns io.EOF
// once the stream is exhausted.
type Source interface {
	Receive(ctx context.Context) (string, error)
}

// ChannelSource adapts a channel of messages. Closing the channel ends the stream.
type ChannelSource <-chan string

// Receive implements Source
func (c ChannelSource) Receive(ctx context.Context) (string, error) {
	select {
	case msg, ok := <-c:
		if !ok {
			return "", io.EOF
		}
		return msg, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// maxMessageBytes bounds a single message read by ReaderSource
const maxMessageBytes = 64 * 1024

// ReaderSource reads newline-delimited messages from an io.Reader. Lines longer
// than 64 KiB are skipped whole and counted.
type ReaderSource struct {
	reader  *bufio.Reader
	skipped int
}

// NewReaderSource wraps r
func NewReaderSource(r io.Reader) *ReaderSource {
	return &ReaderSource{reader: bufio.NewReaderSize(r, maxMessageBytes)}
}

// Receive implements Source. It does not observe ctx while blocked in a read.
func (r *ReaderSource) Receive(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		line, err := r.reader.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			for errors.Is(err, bufio.ErrBufferFull) {
				_, err = r.reader.ReadSlice('\n')
			}
			r.skipped++
			if err != nil {
				return "", err
			}
			continue
		}
		if err != nil && (!errors.Is(err, io.EOF) || len(line) == 0) {
			return "", err
		}
		return strings.TrimRight(string(line), "\r\n"), nil
	}
}

// Skipped returns how many over-long lines were discarded
func (r *ReaderSource) Skipped() int {
	return r.skipped
}
