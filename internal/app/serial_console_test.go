package app

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe for the console and the test to share.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// stepInBackground keeps the poll side running until the test ends.
func stepInBackground(t *testing.T, c *Controller) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx, time.Millisecond)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestConsoleCommands(t *testing.T) {
	h := newTrackHarness(t)
	out := &syncBuffer{}
	console := NewConsole(h.ctrl, out, 4)
	stepInBackground(t, h.ctrl)

	in := strings.NewReader("help\nstatus\narm\narm\ndisarm\ndisarm\nbogus\n\n")
	require.NoError(t, console.Serve(context.Background(), in))

	text := out.String()
	assert.Contains(t, text, "Commands:")
	assert.Contains(t, text, "State: idle")
	assert.Contains(t, text, "MQTT: disconnected")
	assert.Contains(t, text, "Armed. Waiting for locomotive pass...")
	assert.Contains(t, text, "Cannot arm while armed.")
	assert.Contains(t, text, "Disarmed.")
	assert.Contains(t, text, "Nothing to disarm (idle).")
	assert.Contains(t, text, "Unknown command: 'bogus' (type 'help')")
	assert.True(t, strings.HasSuffix(text, "> "))
}

func TestConsoleCaseInsensitive(t *testing.T) {
	h := newTrackHarness(t)
	out := &syncBuffer{}
	console := NewConsole(h.ctrl, out, 4)
	stepInBackground(t, h.ctrl)

	console.Execute(context.Background(), "ARM")
	assert.Contains(t, out.String(), "Armed.")
}

func TestConsoleRead(t *testing.T) {
	h := newTrackHarness(t)
	h.bus.Set(0, true)
	h.bus.Set(2, true)
	out := &syncBuffer{}
	console := NewConsole(h.ctrl, out, 4)
	stepInBackground(t, h.ctrl)

	console.Execute(context.Background(), "read")
	assert.Contains(t, out.String(), "Active: 0x0005  [ S0:DET S1:--- S2:DET S3:--- ]")
}

func TestFormatActive(t *testing.T) {
	assert.Equal(t, "Active: 0x0000  [ S0:--- S1:--- ]", FormatActive(0, 2))
	assert.Equal(t, "Active: 0x0002  [ S0:--- S1:DET ]", FormatActive(2, 2))
}

func TestConsolePrintsReport(t *testing.T) {
	h := newTrackHarness(t)
	out := &syncBuffer{}
	console := NewConsole(h.ctrl, out, 4)
	h.ctrl.AddPublisher(console)

	h.armAndSettle(t)
	for ch := 0; ch < 4; ch++ {
		h.fire(ch)
		h.clk.Advance(200 * time.Millisecond)
	}

	text := out.String()
	assert.Contains(t, text, "=== Run Complete ===")
	assert.Contains(t, text, "Direction: A-B")
	assert.Contains(t, text, "Average: 97.4 scale mph")
	assert.Contains(t, text, "Type 'arm' to measure again.")
}

func TestConsolePrintsShortRun(t *testing.T) {
	h := newTrackHarness(t)
	out := &syncBuffer{}
	console := NewConsole(h.ctrl, out, 4)
	h.ctrl.AddPublisher(console)

	h.armAndSettle(t)
	h.fire(1)
	h.clk.Advance(61 * time.Second)
	require.True(t, h.ctrl.Step())

	text := out.String()
	assert.Contains(t, text, "Run ended with fewer than 2 sensors triggered.")
	assert.NotContains(t, text, "=== Run Complete ===")
}
