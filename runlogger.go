package raspa

import (
	"log/slog"
	"os"
	"sync/atomic"
	"time"
	"unsafe"
)

const (
	runLogBankSizeBits = 13
	runLogBankSize     = 1 << runLogBankSizeBits

	// Writer wakeup period. Small enough that one bank cannot fill between
	// two flushes at realistic period rates.
	runLogWriterSleep = 500 * time.Millisecond

	// DefaultRunLogPath is where the run logger writes when enabled via
	// the DebugEnableRunLogToFile open flag.
	DefaultRunLogPath = "/tmp/raspa_run_log"
)

// runLogItem is the on-disk record: start and end timestamp of one period
// in microseconds.
type runLogItem struct {
	start MicroSec
	end   MicroSec
}

// runLogger receives per-period (start, end) timestamps from the RT loop
// through a two-bank ring and flushes full banks to a file from a non real
// time writer goroutine. The RT side put is wait-free; on saturation it
// raises an overrun flag which the writer records as a (0, 0) sentinel
// pair.
type runLogger struct {
	file  *os.File
	banks [2][runLogBankSize]runLogItem

	writeCount atomic.Int64
	readCount  atomic.Int64
	overrun    atomic.Bool

	running atomic.Bool
	done    chan struct{}

	log *slog.Logger
}

func newRunLogger() *runLogger {
	return &runLogger{log: slog.Default()}
}

// start opens the log file and spawns the writer.
func (l *runLogger) start(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}

	l.file = file
	l.writeCount.Store(0)
	l.readCount.Store(0)
	l.overrun.Store(false)
	l.done = make(chan struct{})
	l.running.Store(true)
	go l.run()

	return nil
}

// terminate flushes any residual bank, joins the writer and closes the
// file. Safe to call on a logger that was never started.
func (l *runLogger) terminate() error {
	if l.running.Load() {
		l.running.Store(false)
		<-l.done
	}

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		if err != nil {
			return err
		}
	}

	return nil
}

// put records one period. Called from the RT loop only.
func (l *runLogger) put(start, end MicroSec) {
	if !l.running.Load() {
		return
	}

	num := l.writeCount.Load() - l.readCount.Load()
	if num >= 2*runLogBankSize-1 {
		l.overrun.Store(true)
		return
	}

	count := l.writeCount.Load()
	item := &l.banks[bankIndex(count)][bankOffset(count)]
	item.start = start
	item.end = end

	l.writeCount.Add(1)
}

func (l *runLogger) run() {
	defer close(l.done)

	for l.running.Load() {
		time.Sleep(runLogWriterSleep)
		l.flush(false)
	}

	// Residual data after the stop request.
	l.flush(true)
}

// flush writes at most one full bank. Outside of the final flush it only
// writes once a complete bank has accumulated, so the RT side always has a
// free bank to fill.
func (l *runLogger) flush(final bool) {
	threshold := int64(runLogBankSize)
	if final {
		threshold = 1
	}

	count := l.writeCount.Load() - l.readCount.Load()
	if count < threshold {
		return
	}

	if count > runLogBankSize {
		count = runLogBankSize
	}

	readCount := l.readCount.Load()
	bank := l.banks[bankIndex(readCount)][:count]

	if l.overrun.Load() {
		// An overrun is stored as a pair of zero timestamps.
		bank[0] = runLogItem{}
		l.overrun.Store(false)
	}

	if _, err := l.file.Write(itemBytes(bank)); err != nil {
		l.log.Error("run logger: file write failed", "err", err)
	}

	l.readCount.Add(count)
}

func bankIndex(count int64) int {
	return int((count >> runLogBankSizeBits) & 0x1)
}

func bankOffset(count int64) int {
	return int(count & (runLogBankSize - 1))
}

// itemBytes reinterprets a run of items as raw bytes for binary output.
func itemBytes(items []runLogItem) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&items[0])),
		len(items)*int(unsafe.Sizeof(runLogItem{})))
}
