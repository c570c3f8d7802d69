package raspa

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBlob(seed int) gpioDataBlob {
	var blob gpioDataBlob
	for i := range blob {
		blob[i] = byte(seed + i)
	}

	return blob
}

func newTestBridge(t *testing.T) (*gpioBridge, *net.UnixConn) {
	t.Helper()

	dir := t.TempDir()
	local := filepath.Join(dir, "l")
	host := filepath.Join(dir, "h")

	hostConn, err := net.ListenUnixgram("unixgram",
		&net.UnixAddr{Name: host, Net: "unixgram"})
	require.NoError(t, err)
	t.Cleanup(func() { hostConn.Close() })

	bridge := newGpioBridge(local, host, newErrorRegistry())
	require.NoError(t, bridge.init())
	t.Cleanup(bridge.deinit)

	return bridge, hostConn
}

func TestGpioBridgeBindFailure(t *testing.T) {
	bridge := newGpioBridge("/nonexistent-dir/raspa-test/sock", "/tmp/none",
		newErrorRegistry())

	err := bridge.init()
	require.Error(t, err)

	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, EInSocketBind, rerr.Code)
}

// Blobs handed over by the RT side must reach the host socket in order.
func TestGpioBridgeRtToHost(t *testing.T) {
	const count = 50

	bridge, hostConn := newTestBridge(t)

	for i := 0; i < count; i++ {
		require.True(t, bridge.sendGpioDataToNrt(testBlob(i)), "blob %d", i)
	}

	var blob gpioDataBlob
	for i := 0; i < count; i++ {
		hostConn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, err := hostConn.Read(blob[:])
		require.NoError(t, err, "blob %d", i)
		require.Equal(t, gpioDataBlobSize, n)
		assert.Equal(t, testBlob(i), blob, "blob %d", i)
	}
}

// Datagrams from the host must show up on the RT side fifo in order.
func TestGpioBridgeHostToRt(t *testing.T) {
	const count = 50

	bridge, _ := newTestBridge(t)

	sender, err := net.DialUnix("unixgram", nil,
		&net.UnixAddr{Name: bridge.localPath, Net: "unixgram"})
	require.NoError(t, err)
	defer sender.Close()

	for i := 0; i < count; i++ {
		blob := testBlob(i)
		_, err := sender.Write(blob[:])
		require.NoError(t, err, "blob %d", i)
	}

	var blob gpioDataBlob
	for i := 0; i < count; i++ {
		require.Eventually(t, func() bool {
			return bridge.getGpioDataFromNrt(&blob)
		}, 2*time.Second, time.Millisecond, "blob %d", i)

		assert.Equal(t, testBlob(i), blob, "blob %d", i)
	}

	assert.False(t, bridge.rxGpioDataAvailable())
}

// A datagram of the wrong size is not a blob and must be discarded.
func TestGpioBridgeRejectsShortDatagrams(t *testing.T) {
	bridge, _ := newTestBridge(t)

	sender, err := net.DialUnix("unixgram", nil,
		&net.UnixAddr{Name: bridge.localPath, Net: "unixgram"})
	require.NoError(t, err)
	defer sender.Close()

	_, err = sender.Write([]byte{1, 2, 3})
	require.NoError(t, err)

	good := testBlob(7)
	_, err = sender.Write(good[:])
	require.NoError(t, err)

	var blob gpioDataBlob
	require.Eventually(t, func() bool {
		return bridge.getGpioDataFromNrt(&blob)
	}, 2*time.Second, time.Millisecond)

	assert.Equal(t, good, blob)
	assert.False(t, bridge.rxGpioDataAvailable())
}

func TestGpioBridgeDeinitIdempotent(t *testing.T) {
	bridge, _ := newTestBridge(t)

	bridge.deinit()
	bridge.deinit()
}
