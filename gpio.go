package raspa

import (
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// Filesystem endpoints for the datagram link to the GPIO host daemon.
	raspaSocketPath    = "/tmp/raspa"
	gpioHostSocketPath = "/tmp/sensei"

	// Size of the fifos between the real time thread and non real time.
	gpioFifoCapacity = 100

	// Blocking timeout of the receive socket.
	gpioSocketTimeout = 250 * time.Millisecond

	// Periodicity of the write worker.
	gpioWriteLoopPeriod = 100 * time.Millisecond

	// Backoff while waiting for the RT thread to drain the to-RT fifo.
	gpioWaitForRtFifo = 10 * time.Millisecond
)

// gpioBridge exchanges GPIO data blobs between the RT thread and an
// external UI daemon over unix datagram sockets. Two non real time workers
// move blobs between the sockets and a pair of SPSC fifos; the RT side only
// ever touches the fifos.
type gpioBridge struct {
	localPath string
	hostPath  string

	in  *net.UnixConn
	out *net.UnixConn

	toRT   *spscFifo[gpioDataBlob]
	fromRT *spscFifo[gpioDataBlob]

	running atomic.Bool
	wg      sync.WaitGroup

	errs *errorRegistry
	log  *slog.Logger
}

func newGpioBridge(localPath, hostPath string, errs *errorRegistry) *gpioBridge {
	return &gpioBridge{
		localPath: localPath,
		hostPath:  hostPath,
		toRT:      newSpscFifo[gpioDataBlob](gpioFifoCapacity),
		fromRT:    newSpscFifo[gpioDataBlob](gpioFifoCapacity),
		errs:      errs,
		log:       slog.Default(),
	}
}

// init binds the local endpoint, attempts an initial connect to the host
// daemon (non fatal if it is not up yet) and starts both workers.
func (g *gpioBridge) init() error {
	// Clear the socket in case raspa crashed the previous time.
	os.Remove(g.localPath)

	in, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: g.localPath, Net: "unixgram"})
	if err != nil {
		return g.errs.set(EInSocketBind, err)
	}
	g.in = in

	// The host daemon may come up after us, the write worker keeps
	// retrying.
	g.out, _ = g.dialHost()

	g.running.Store(true)
	g.wg.Add(2)
	go g.readLoop()
	go g.writeLoop()

	return nil
}

// deinit signals the workers, joins them and unlinks the local endpoint.
func (g *gpioBridge) deinit() {
	if !g.running.Load() {
		return
	}

	g.running.Store(false)
	g.wg.Wait()

	g.in.Close()
	if g.out != nil {
		g.out.Close()
	}
	os.Remove(g.localPath)
}

// RT side operations. None of these allocate or block.

// sendGpioDataToNrt hands a blob received from the companion over to the
// write worker. Returns false when the fifo is full.
func (g *gpioBridge) sendGpioDataToNrt(blob gpioDataBlob) bool {
	return g.fromRT.push(blob)
}

// getGpioDataFromNrt pops one blob destined for the companion. Returns
// false when there is none.
func (g *gpioBridge) getGpioDataFromNrt(blob *gpioDataBlob) bool {
	return g.toRT.pop(blob)
}

// rxGpioDataAvailable reports whether outbound blobs are waiting to be
// packed into a tx packet.
func (g *gpioBridge) rxGpioDataAvailable() bool {
	return !g.toRT.wasEmpty()
}

func (g *gpioBridge) dialHost() (*net.UnixConn, error) {
	return net.DialUnix("unixgram", nil, &net.UnixAddr{Name: g.hostPath, Net: "unixgram"})
}

// readLoop receives blobs from the daemon and pushes them into the to-RT
// fifo. A blob that does not fit is retried after a short sleep, it is
// never dropped.
func (g *gpioBridge) readLoop() {
	defer g.wg.Done()

	var blob gpioDataBlob
	pending := false

	for g.running.Load() {
		if pending {
			// The RT thread is normally faster than the socket, so
			// this is a rare occurrence.
			time.Sleep(gpioWaitForRtFifo)
			pending = !g.toRT.push(blob)
			continue
		}

		g.in.SetReadDeadline(time.Now().Add(gpioSocketTimeout))
		n, _, err := g.in.ReadFromUnix(blob[:])
		if err != nil || n != gpioDataBlobSize {
			continue
		}

		pending = !g.toRT.push(blob)
	}
}

// writeLoop wakes periodically, drains the from-RT fifo and sends each blob
// to the daemon. On a send failure it reconnects and retries the failed
// blob on the next wake.
func (g *gpioBridge) writeLoop() {
	defer g.wg.Done()

	var blob gpioDataBlob
	readyToSend := true

	// Establish the initial connection if init could not.
	for g.running.Load() && g.out == nil {
		g.out, _ = g.dialHost()
		if g.out == nil {
			time.Sleep(gpioWriteLoopPeriod)
		}
	}

	for g.running.Load() {
		if !readyToSend {
			// The previous write failed, likely a disconnect.
			if g.reconnect() {
				readyToSend = g.send(blob)
			}
		} else {
			for g.fromRT.pop(&blob) {
				readyToSend = g.send(blob)
				if !readyToSend {
					g.log.Warn("gpio bridge: send failed, reconnecting",
						"socket", g.hostPath)
					break
				}
			}
		}

		time.Sleep(gpioWriteLoopPeriod)
	}
}

func (g *gpioBridge) send(blob gpioDataBlob) bool {
	g.out.SetWriteDeadline(time.Now().Add(gpioSocketTimeout))
	n, err := g.out.Write(blob[:])

	return err == nil && n == gpioDataBlobSize
}

func (g *gpioBridge) reconnect() bool {
	conn, err := g.dialHost()
	if err != nil {
		return false
	}

	g.out.Close()
	g.out = conn

	return true
}
