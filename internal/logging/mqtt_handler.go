package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Sink receives formatted log lines. It must not block for long.
type Sink interface {
	SendLog(line string)
}

// MQTTHandler passes records to an inner handler and also forwards them,
// formatted as "[LEVEL][uptime_s] message", to a Sink. Forwarding has its
// own level and is limited to Max lines per Period; lines over the limit
// are counted and reported when the next period opens.
type MQTTHandler struct {
	next  slog.Handler
	state *forwardState
	attrs string
}

type forwardState struct {
	sink  atomic.Pointer[sinkBox]
	level slog.LevelVar
	start time.Time
	now   func() time.Time

	mu          sync.Mutex
	max         int
	period      time.Duration
	periodStart time.Time
	count       int
	suppressed  int
}

type sinkBox struct{ s Sink }

// NewMQTTHandler wraps next. max <= 0 disables the rate limit.
func NewMQTTHandler(next slog.Handler, level slog.Level, max int) *MQTTHandler {
	st := &forwardState{
		start:  time.Now(),
		now:    time.Now,
		max:    max,
		period: time.Second,
	}
	st.level.Set(level)
	return &MQTTHandler{next: next, state: st}
}

// SetSink attaches the destination. A nil sink stops forwarding.
func (h *MQTTHandler) SetSink(s Sink) {
	if s == nil {
		h.state.sink.Store(nil)
		return
	}
	h.state.sink.Store(&sinkBox{s: s})
}

// SetLevel changes the forwarding level and announces the change.
func (h *MQTTHandler) SetLevel(l slog.Level) {
	h.state.level.Set(l)
	h.forward(slog.LevelInfo, "Log level set to "+LevelName(l), true)
}

// Level returns the forwarding level.
func (h *MQTTHandler) Level() slog.Level {
	return h.state.level.Level()
}

// HandleCommand applies a level command payload such as "2" or "warn".
func (h *MQTTHandler) HandleCommand(payload string) error {
	l, err := ParseLevel(payload)
	if err != nil {
		return err
	}
	h.SetLevel(l)
	return nil
}

func (h *MQTTHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.next.Enabled(ctx, l) || l >= h.state.level.Level()
}

func (h *MQTTHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.next.Enabled(ctx, r.Level) {
		err = h.next.Handle(ctx, r)
	}
	if r.Level >= h.state.level.Level() {
		var b strings.Builder
		b.WriteString(r.Message)
		b.WriteString(h.attrs)
		r.Attrs(func(a slog.Attr) bool {
			fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
			return true
		})
		h.forward(r.Level, b.String(), false)
	}
	return err
}

func (h *MQTTHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var b strings.Builder
	b.WriteString(h.attrs)
	for _, a := range attrs {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
	}
	return &MQTTHandler{next: h.next.WithAttrs(attrs), state: h.state, attrs: b.String()}
}

func (h *MQTTHandler) WithGroup(name string) slog.Handler {
	return &MQTTHandler{next: h.next.WithGroup(name), state: h.state, attrs: h.attrs}
}

func (h *MQTTHandler) forward(l slog.Level, msg string, always bool) {
	box := h.state.sink.Load()
	if box == nil {
		return
	}
	st := h.state
	now := st.now()
	uptime := int64(now.Sub(st.start) / time.Second)

	var lines []string
	st.mu.Lock()
	if now.Sub(st.periodStart) >= st.period {
		if st.suppressed > 0 {
			lines = append(lines, fmt.Sprintf("[WARN][%d] Log rate limited: %d messages suppressed", uptime, st.suppressed))
		}
		st.periodStart = now
		st.count = 0
		st.suppressed = 0
	}
	if always || st.max <= 0 || st.count < st.max {
		lines = append(lines, fmt.Sprintf("[%s][%d] %s", LevelName(l), uptime, msg))
		st.count++
	} else {
		st.suppressed++
	}
	st.mu.Unlock()

	for _, line := range lines {
		box.s.SendLog(line)
	}
}
