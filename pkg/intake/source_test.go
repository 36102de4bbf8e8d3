package intake

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderSource(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		skipped int
	}{
		{"lines", "a\nb\r\nc\n", []string{"a", "b", "c"}, 0},
		{"unterminated tail", "a\nb", []string{"a", "b"}, 0},
		{"empty line kept", "a\n\nb\n", []string{"a", "", "b"}, 0},
		{"overlong middle", "a\n" + strings.Repeat("x", maxMessageBytes+1) + "\nb\n", []string{"a", "b"}, 1},
		{"overlong tail", "a\n" + strings.Repeat("x", 3*maxMessageBytes), []string{"a"}, 1},
		{"exactly at limit", strings.Repeat("y", maxMessageBytes-1) + "\n", []string{strings.Repeat("y", maxMessageBytes-1)}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewReaderSource(strings.NewReader(tt.input))
			var got []string
			for {
				msg, err := src.Receive(context.Background())
				if err == io.EOF {
					break
				}
				require.NoError(t, err)
				got = append(got, msg)
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.skipped, src.Skipped())
		})
	}
}

func TestReaderSource_HonoursCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewReaderSource(strings.NewReader("a\n")).Receive(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
