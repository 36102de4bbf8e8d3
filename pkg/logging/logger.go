package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type contextKey string

const (
	// RequestIDKey is the key used to store request IDs in context
	RequestIDKey contextKey = "request_id"

	requestIDHeader = "x-request-id"
)

// Output formats
const (
	FormatJSON   = "json"
	FormatPretty = "pretty"
)

// Config defines logging configuration
type Config struct {
	// Level is the logging level (debug, info, warn, error)
	Level string
	// Format is json or pretty
	Format string
	// Service is attached to every entry when set
	Service string
	// Output is where logs are written (defaults to os.Stdout)
	Output io.Writer
}

// DefaultConfig returns the default logging configuration
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: FormatJSON,
		Output: os.Stdout,
	}
}

// Setup configures the global logger and returns it
func Setup(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if cfg.Format == FormatPretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	logCtx := zerolog.New(output).With().Timestamp()
	if cfg.Service != "" {
		logCtx = logCtx.Str("service", cfg.Service)
	}
	log.Logger = logCtx.Logger()
	return log.Logger
}

// WithRequestID stores a request ID in ctx
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// FromContext extracts a logger with request context
func FromContext(ctx context.Context) zerolog.Logger {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return log.With().Str("request_id", requestID).Logger()
	}

	if md, ok := metadata.FromIncomingContext(ctx); ok {
		logCtx := log.With()
		for k, v := range md {
			if len(v) > 0 {
				logCtx = logCtx.Str(k, v[0])
			}
		}
		return logCtx.Logger()
	}

	return log.Logger
}

// requestContext returns ctx carrying the caller's request ID, or a fresh one
func requestContext(ctx context.Context) (context.Context, string) {
	id := ""
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get(requestIDHeader); len(ids) > 0 {
			id = ids[0]
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	return WithRequestID(ctx, id), id
}

func finish(logger zerolog.Logger, start time.Time, err error, msg string) {
	code := status.Code(err)

	event := logger.Info()
	if code != codes.OK {
		event = logger.Error().Err(err).Str("grpc.code", code.String())
	}
	event.Dur("duration", time.Since(start)).
		Int("grpc.status", int(code)).
		Msg(msg)
}

// UnaryServerInterceptor logs unary calls on the admin server
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		ctx, id := requestContext(ctx)
		logger := log.With().
			Str("grpc.method", info.FullMethod).
			Str("request_id", id).
			Logger()

		logger.Debug().Msg("Request received")
		resp, err := handler(ctx, req)
		finish(logger, start, err, "Request completed")
		return resp, err
	}
}

// StreamServerInterceptor logs streaming calls, such as health Watch
func StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		stream grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()
		ctx, id := requestContext(stream.Context())
		logger := log.With().
			Str("grpc.method", info.FullMethod).
			Str("request_id", id).
			Bool("grpc.stream", true).
			Logger()

		logger.Debug().Msg("Stream started")
		err := handler(srv, &wrappedServerStream{ServerStream: stream, ctx: ctx})
		finish(logger, start, err, "Stream completed")
		return err
	}
}

// wrappedServerStream wraps a grpc.ServerStream with a modified context
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapper's modified context
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
