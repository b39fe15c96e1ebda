package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewBuildsBothModes(t *testing.T) {
	t.Parallel()

	for _, development := range []bool{true, false} {
		logger, err := New(development)
		require.NoError(t, err)
		require.NotNil(t, logger)
		logger.Info("logger ready")
		_ = logger.Sync()
	}
}

func TestTimestampsRenderInReferenceZone(t *testing.T) {
	t.Parallel()

	cfg := zapcore.EncoderConfig{
		TimeKey:    "ts",
		MessageKey: "msg",
		EncodeTime: encodeTime,
	}
	enc := zapcore.NewJSONEncoder(cfg)
	at := time.Date(2026, 1, 10, 3, 0, 0, 0, time.UTC)
	buf, err := enc.EncodeEntry(zapcore.Entry{Time: at, Message: "tick"}, nil)
	require.NoError(t, err)
	defer buf.Free()

	require.Contains(t, buf.String(), "2026-01-10T12:00:00+09:00")
}
