package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestSetup(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(Config{Level: "warn", Format: FormatJSON, Service: "fulfillment", Output: &buf})
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["message"])
	assert.Equal(t, "fulfillment", entry["service"])
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
}

func TestSetup_BadLevelFallsBackToInfo(t *testing.T) {
	Setup(Config{Level: "loud", Output: &bytes.Buffer{}})
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestFromContext_RequestID(t *testing.T) {
	var buf bytes.Buffer
	Setup(Config{Level: "info", Output: &buf})

	logger := FromContext(WithRequestID(context.Background(), "req-1"))
	logger.Info().Msg("x")
	assert.Contains(t, buf.String(), `"request_id":"req-1"`)
}

func TestUnaryServerInterceptor(t *testing.T) {
	var buf bytes.Buffer
	Setup(Config{Level: "info", Output: &buf})
	interceptor := UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	t.Run("propagates incoming request id", func(t *testing.T) {
		buf.Reset()
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(requestIDHeader, "abc"))
		var seen string
		_, err := interceptor(ctx, nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			seen, _ = ctx.Value(RequestIDKey).(string)
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "abc", seen)
		assert.Contains(t, buf.String(), "Request completed")
	})

	t.Run("generates request id", func(t *testing.T) {
		var seen string
		_, _ = interceptor(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			seen, _ = ctx.Value(RequestIDKey).(string)
			return nil, nil
		})
		assert.NotEmpty(t, seen)
	})

	t.Run("logs failures", func(t *testing.T) {
		buf.Reset()
		_, err := interceptor(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return nil, status.Error(codes.Unavailable, "down")
		})
		require.Error(t, err)
		assert.Contains(t, buf.String(), `"grpc.code":"Unavailable"`)

		buf.Reset()
		_, _ = interceptor(context.Background(), nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
			return nil, errors.New("plain")
		})
		assert.Contains(t, buf.String(), `"grpc.code":"Unknown"`)
	})
}
