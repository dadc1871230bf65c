//go:build unix

package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricochet1k/termslots/internal/domain"
	"github.com/ricochet1k/termslots/internal/terminal"
)

const ptyTestTick = 5 * time.Millisecond

func startShellOrSkip(t *testing.T, script string) *Bridge {
	t.Helper()
	profile := domain.NewSlotProfile("shell")
	profile.Executable = "/bin/sh"
	profile.Args = []string{"-c", script}
	profile.Width = 20
	profile.Height = 4

	b, err := StartProfile(profile, WithTick(ptyTestTick))
	if err != nil {
		low := strings.ToLower(err.Error())
		if strings.Contains(low, "operation not permitted") || strings.Contains(low, "/dev/ptmx") {
			t.Skipf("pty not available in this environment: %v", err)
		}
		require.NoError(t, err)
	}
	t.Cleanup(b.Close)
	return b
}

func TestBridgeWithRealProcess(t *testing.T) {
	b := startShellOrSkip(t, `printf 'hello\r'`)

	select {
	case <-b.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("shell did not exit")
	}
	assert.Equal(t, "hello", b.RenderInto(20, 4).Lines()[0])
	assert.False(t, b.Alive())
}

func TestBridgeNoticesRealExitPromptly(t *testing.T) {
	b := startShellOrSkip(t, `read line; printf 'bye'`)
	updates, stop := b.Updates(16)
	defer stop()

	require.NoError(t, b.FeedInput(terminal.KeyEvent{Code: '\n'}))
	var sawOutput time.Time
	for u := range updates {
		if u.Kind == terminal.UpdateOutput && sawOutput.IsZero() {
			sawOutput = time.Now()
		}
		if u.Kind == terminal.UpdateClosed {
			break
		}
	}
	require.False(t, sawOutput.IsZero(), "no output before close")
	assert.Less(t, time.Since(sawOutput), 100*ptyTestTick)
	assert.False(t, b.Alive())
	assert.Contains(t, b.RenderInto(20, 4).String(), "bye")
}

func TestBridgeCloseWhileChildStopsReading(t *testing.T) {
	b := startShellOrSkip(t, `stty raw -echo; sleep 30`)
	time.Sleep(200 * time.Millisecond)

	burst := make([]terminal.KeyEvent, 1024)
	for i := range burst {
		burst[i] = terminal.KeyEvent{Special: terminal.KeyF5}
	}
	// Far more than the pty holds; once the pump blocks the queue fills.
	for range 30 {
		_ = b.FeedInput(burst...)
		time.Sleep(2 * ptyTestTick)
	}

	done := make(chan struct{})
	go func() {
		b.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.False(t, b.Alive())
}

func TestBridgeCloseKillsRealProcess(t *testing.T) {
	b := startShellOrSkip(t, `sleep 30`)
	pid, ok := b.PID()
	require.True(t, ok)
	assert.Positive(t, pid)

	done := make(chan struct{})
	go func() {
		b.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.False(t, b.Alive())
}
