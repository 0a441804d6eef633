package logging

import (
	"bytes"
	"context"
	"log"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *recordingSink) SendLog(line string) {
	s.mu.Lock()
	s.lines = append(s.lines, line)
	s.mu.Unlock()
}

func (s *recordingSink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"0", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"1", slog.LevelInfo},
		{"info", slog.LevelInfo},
		{"2", slog.LevelWarn},
		{"Warning", slog.LevelWarn},
		{"3", slog.LevelError},
		{"error", slog.LevelError},
		{"4", LevelCritical},
		{"crit", LevelCritical},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseLevel("5")
	assert.Error(t, err)
	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestLevelName(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelName(slog.LevelDebug))
	assert.Equal(t, "INFO", LevelName(slog.LevelInfo))
	assert.Equal(t, "WARN", LevelName(slog.LevelWarn))
	assert.Equal(t, "ERROR", LevelName(slog.LevelError))
	assert.Equal(t, "CRIT", LevelName(LevelCritical))
}

func newTestHandler(level slog.Level, max int) (*MQTTHandler, *recordingSink, *time.Time) {
	var buf bytes.Buffer
	inner := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelError})
	h := NewMQTTHandler(inner, level, max)
	now := h.state.start
	h.state.now = func() time.Time { return now }
	sink := &recordingSink{}
	h.SetSink(sink)
	return h, sink, &now
}

func TestMQTTHandlerFormatsLines(t *testing.T) {
	h, sink, now := newTestHandler(slog.LevelInfo, 10)
	*now = now.Add(42 * time.Second)

	logger := slog.New(h).With("component", "detector")
	logger.Info("armed", "sensors", 4)
	logger.Debug("hidden")

	assert.Equal(t, []string{"[INFO][42] armed component=detector sensors=4"}, sink.Lines())
}

func TestMQTTHandlerRateLimit(t *testing.T) {
	h, sink, now := newTestHandler(slog.LevelDebug, 3)
	logger := slog.New(h)

	for i := 0; i < 5; i++ {
		logger.Info("burst")
	}
	require.Len(t, sink.Lines(), 3)

	*now = now.Add(1500 * time.Millisecond)
	logger.Warn("after")

	lines := sink.Lines()
	require.Len(t, lines, 5)
	assert.Equal(t, "[WARN][1] Log rate limited: 2 messages suppressed", lines[3])
	assert.Equal(t, "[WARN][1] after", lines[4])
}

func TestMQTTHandlerNoSink(t *testing.T) {
	h, sink, _ := newTestHandler(slog.LevelInfo, 10)
	h.SetSink(nil)
	slog.New(h).Info("dropped")
	assert.Empty(t, sink.Lines())
}

func TestHandleCommandChangesLevel(t *testing.T) {
	h, sink, _ := newTestHandler(slog.LevelInfo, 10)
	logger := slog.New(h)

	require.NoError(t, h.HandleCommand("3"))
	assert.Equal(t, slog.LevelError, h.Level())
	logger.Warn("quiet now")
	logger.Error("loud")

	assert.Equal(t, []string{
		"[INFO][0] Log level set to ERROR",
		"[ERROR][0] loud",
	}, sink.Lines())

	assert.Error(t, h.HandleCommand("chatty"))
}

func TestEnabledCoversBothOutputs(t *testing.T) {
	h, _, _ := newTestHandler(slog.LevelDebug, 10)
	assert.True(t, h.Enabled(context.Background(), slog.LevelDebug))

	h.state.level.Set(LevelCritical)
	assert.False(t, h.Enabled(context.Background(), slog.LevelWarn))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
}

func TestSetupRoutesStandardLog(t *testing.T) {
	var buf bytes.Buffer
	var level slog.LevelVar
	level.Set(slog.LevelInfo)
	prev := slog.Default()
	t.Cleanup(func() {
		slog.SetDefault(prev)
		log.SetOutput(os.Stderr)
		log.SetFlags(log.LstdFlags)
	})

	Setup(&buf, &level, nil)
	log.Printf("speedcal: hello %d", 7)

	assert.Contains(t, buf.String(), "level=INFO")
	assert.Contains(t, buf.String(), `msg="speedcal: hello 7"`)
}
