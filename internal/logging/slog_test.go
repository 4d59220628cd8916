package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(level slog.Level) (*SlogLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level})
	return NewSlogLogger(slog.New(h)), &buf
}

func TestSlogLogger_Levels(t *testing.T) {
	l, buf := newBufferLogger(slog.LevelDebug)
	ctx := context.Background()

	l.Debug(ctx, "dbg", "k", "v")
	l.Info(ctx, "inf")
	l.Warn(ctx, "wrn")
	l.Error(ctx, "err")

	out := buf.String()
	assert.Contains(t, out, "msg=dbg")
	assert.Contains(t, out, "k=v")
	assert.Contains(t, out, "msg=inf")
	assert.Contains(t, out, "msg=wrn")
	assert.Contains(t, out, "msg=err")
}

func TestSlogLogger_With(t *testing.T) {
	l, buf := newBufferLogger(slog.LevelInfo)

	child := l.With("upload_id", "abc")
	require.NotNil(t, child)
	child.Info(context.Background(), "queued")

	assert.Contains(t, buf.String(), "upload_id=abc")
}
