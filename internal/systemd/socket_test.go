package systemd

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetListeners_NotActivated(t *testing.T) {
	t.Setenv("LISTEN_PID", "")
	t.Setenv("LISTEN_FDS", "")

	listeners, err := GetListeners()
	require.NoError(t, err)
	assert.False(t, listeners.Activated)
	assert.Nil(t, listeners.Metrics)
}

func TestNotify_WithoutSocketIsNoop(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")

	assert.NoError(t, NotifyReady())
	assert.NoError(t, NotifyWatchdog())
	assert.NoError(t, NotifyStopping())
}

func TestNotify_SendsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	t.Setenv("NOTIFY_SOCKET", path)

	read := func() string {
		buf := make([]byte, 64)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		n, err := conn.Read(buf)
		require.NoError(t, err)
		return string(buf[:n])
	}

	require.NoError(t, NotifyReady())
	assert.Equal(t, "READY=1", read())

	require.NoError(t, NotifyWatchdog())
	assert.Equal(t, "WATCHDOG=1", read())

	require.NoError(t, NotifyStopping())
	assert.Equal(t, "STOPPING=1", read())
}

func TestWatchdogInterval(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")
	t.Setenv("WATCHDOG_PID", "")
	assert.Zero(t, WatchdogInterval())

	t.Setenv("WATCHDOG_USEC", "10000000")
	assert.Equal(t, 5*time.Second, WatchdogInterval())
}
