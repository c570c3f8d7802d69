package raspa

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Number of kernel memory pages the driver maps for the shared region.
const numPagesKernelMem = 20

// ioctl performs a generic ioctl syscall.
func ioctl(fd uintptr, req uintptr, arg uintptr) (int, error) {
	res, _, errno := syscall.Syscall(syscall.SYS_IOCTL, fd, req, arg)
	if errno != 0 {
		return 0, errno
	}

	return int(res), nil
}

// io builds an ioctl request code for a command with no data transfer.
func io(typ, nr uintptr) uintptr {
	const (
		iocNrbits    = 8
		iocTypebits  = 8
		iocSizebits  = 14
		iocNrshift   = 0
		iocTypeshift = iocNrshift + iocNrbits
		iocSizeshift = iocTypeshift + iocTypebits
		iocDirshift  = iocSizeshift + iocSizebits
		iocNone      = 0
	)

	return ((iocNone) << iocDirshift) | (typ << iocTypeshift) | (nr << iocNrshift) | (0 << iocSizeshift)
}

// iow builds an ioctl request code for a write-only operation.
func iow(typ, nr, size uintptr) uintptr {
	const (
		iocNrbits    = 8
		iocTypebits  = 8
		iocSizebits  = 14
		iocNrshift   = 0
		iocTypeshift = iocNrshift + iocNrbits
		iocSizeshift = iocTypeshift + iocTypebits
		iocDirshift  = iocSizeshift + iocSizebits
		iocWrite     = 1
	)

	return ((iocWrite) << iocDirshift) | (typ << iocTypeshift) | (nr << iocNrshift) | (size << iocSizeshift)
}

// iowr builds a read-write ioctl request code.
func iowr(typ, nr, size uintptr) uintptr {
	const (
		iocNrbits    = 8
		iocTypebits  = 8
		iocSizebits  = 14
		iocNrshift   = 0
		iocTypeshift = iocNrshift + iocNrbits
		iocSizeshift = iocTypeshift + iocTypebits
		iocDirshift  = iocSizeshift + iocSizebits
		iocRead      = 2
		iocWrite     = 1
	)

	return ((iocRead | iocWrite) << iocDirshift) | (typ << iocTypeshift) | (nr << iocNrshift) | (size << iocSizeshift)
}

// rtGpio is the record exchanged with the driver for hardware GPIO control.
type rtGpio struct {
	num int32
	dir int32
	val int32
}

// Driver request codes ('r' for raspa).
var (
	reqIrqWait          uintptr
	reqProcStart        uintptr
	reqUserprocFinished uintptr
	reqProcStop         uintptr
	reqFwTransfer       uintptr
	reqGpioGetPin       uintptr
	reqGpioSetDirOut    uintptr
	reqGpioSetVal       uintptr
	reqGpioRelease      uintptr
)

func init() {
	reqIrqWait = io('r', 1)
	reqProcStart = io('r', 3)
	reqUserprocFinished = iow('r', 4, unsafe.Sizeof(int32(0)))
	reqProcStop = io('r', 5)

	// Hardware GPIO and firmware transfer requests
	reqFwTransfer = iowr('r', 6, unsafe.Sizeof(rtGpio{}))
	reqGpioGetPin = iowr('r', 7, unsafe.Sizeof(rtGpio{}))
	reqGpioSetDirOut = iowr('r', 8, unsafe.Sizeof(rtGpio{}))
	reqGpioSetVal = iowr('r', 9, unsafe.Sizeof(rtGpio{}))
	reqGpioRelease = iowr('r', 10, unsafe.Sizeof(rtGpio{}))
}

// Errnos the driver uses to distinguish open failures.
const (
	driverErrInvalidBufferSize = unix.EINVAL
	driverErrDeviceInactive    = unix.ETIME
	driverErrInvalidFirmware   = unix.EPROTO
)

// deviceIO abstracts the driver character device. The split between ioctl
// and oobIoctl mirrors the two request classes of the RT host runtime:
// setup requests issued from ordinary threads and out-of-band requests
// issued from the RT loop. Tests substitute a deterministic implementation.
type deviceIO interface {
	ioctl(req uintptr, arg unsafe.Pointer) (int, error)
	oobIoctl(req uintptr, arg unsafe.Pointer) (int, error)
	mmap(length int) ([]byte, error)
	munmap() error
	close() error
}

// rtdmDevice is the real driver device.
type rtdmDevice struct {
	fd  int
	mem []byte
}

func openRtdmDevice(path string) (deviceIO, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	return &rtdmDevice{fd: fd}, nil
}

func (d *rtdmDevice) ioctl(req uintptr, arg unsafe.Pointer) (int, error) {
	return ioctl(uintptr(d.fd), req, uintptr(arg))
}

func (d *rtdmDevice) oobIoctl(req uintptr, arg unsafe.Pointer) (int, error) {
	return ioctl(uintptr(d.fd), req, uintptr(arg))
}

func (d *rtdmDevice) mmap(length int) ([]byte, error) {
	mem, err := unix.Mmap(d.fd, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap driver buffers: %w", err)
	}

	d.mem = mem

	return mem, nil
}

func (d *rtdmDevice) munmap() error {
	if d.mem == nil {
		return nil
	}

	mem := d.mem
	d.mem = nil
	if err := unix.Munmap(mem); err != nil {
		return fmt.Errorf("munmap driver buffers: %w", err)
	}

	return nil
}

func (d *rtdmDevice) close() error {
	if err := unix.Close(d.fd); err != nil {
		return fmt.Errorf("close device: %w", err)
	}

	return nil
}
