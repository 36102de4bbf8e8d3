// Package socket carries raw order lines from the placement receiver to the
// fulfillment pipeline over a mangos PUSH/PULL pipe. Placement binds the push
// end; one or more fulfillment processes dial in and share the load.
package socket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol"
	"go.nanomsg.org/mangos/v3/protocol/pull"
	"go.nanomsg.org/mangos/v3/protocol/push"

	// registered transports for tcp://, ipc:// and inproc:// URLs
	_ "go.nanomsg.org/mangos/v3/transport/inproc"
	_ "go.nanomsg.org/mangos/v3/transport/ipc"
	_ "go.nanomsg.org/mangos/v3/transport/tcp"
)

const (
	dialRetryInterval = 500 * time.Millisecond
	pollInterval      = 100 * time.Millisecond
	sendTimeout       = 5 * time.Second
)

// Publisher pushes order lines into the pipe
type Publisher struct {
	sock   protocol.Socket
	logger zerolog.Logger
}

// NewPublisher binds a push socket on url
func NewPublisher(url string, logger zerolog.Logger) (*Publisher, error) {
	sock, err := push.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("failed to create push socket: %w", err)
	}
	if err := sock.SetOption(mangos.OptionSendDeadline, sendTimeout); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("failed to set send deadline: %w", err)
	}
	if err := sock.Listen(url); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("failed to listen on %v: %w", url, err)
	}
	return &Publisher{
		sock:   sock,
		logger: logger.With().Str("component", "socket-publisher").Str("url", url).Logger(),
	}, nil
}

// Publish sends one order line. It blocks while no fulfillment process is
// connected, up to the send deadline.
func (p *Publisher) Publish(ctx context.Context, line string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.sock.Send([]byte(line)); err != nil {
		return fmt.Errorf("failed to send on socket: %w", err)
	}
	return nil
}

// Close closes the socket
func (p *Publisher) Close() error {
	return p.sock.Close()
}

// Source pulls order lines out of the pipe and implements intake.Source
type Source struct {
	sock   protocol.Socket
	logger zerolog.Logger
}

// Dial connects a pull socket to url, retrying until the publisher is up or ctx ends
func Dial(ctx context.Context, url string, logger zerolog.Logger) (*Source, error) {
	sock, err := pull.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("failed to create pull socket: %w", err)
	}
	if err := sock.SetOption(mangos.OptionRecvDeadline, pollInterval); err != nil {
		_ = sock.Close()
		return nil, fmt.Errorf("failed to set receive deadline: %w", err)
	}

	logger = logger.With().Str("component", "socket-source").Str("url", url).Logger()
	for {
		err = sock.Dial(url)
		if err == nil {
			break
		}
		logger.Warn().Err(err).Msg("Failed to connect, retrying")
		select {
		case <-ctx.Done():
			_ = sock.Close()
			return nil, ctx.Err()
		case <-time.After(dialRetryInterval):
		}
	}

	logger.Info().Msg("Connected")
	return &Source{sock: sock, logger: logger}, nil
}

// Receive blocks until a line arrives, ctx ends, or the socket is closed (io.EOF)
func (s *Source) Receive(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		msg, err := s.sock.Recv()
		switch {
		case err == nil:
			return string(msg), nil
		case errors.Is(err, protocol.ErrRecvTimeout):
			continue
		case errors.Is(err, protocol.ErrClosed):
			return "", io.EOF
		default:
			s.logger.Error().Err(err).Msg("Failed to receive message")
			return "", fmt.Errorf("receive: %w", err)
		}
	}
}

// Close closes the socket; a blocked Receive returns io.EOF
func (s *Source) Close() error {
	return s.sock.Close()
}
