package fatfs

import (
	"errors"
	"sync"
)

// ErrInjected is the default error returned by a FaultDevice.
var ErrInjected = errors.New("injected device fault")

// FaultDevice wraps a BlockDevice and fails transfers on demand. It is
// meant for exercising error paths of code that sits above a device.
type FaultDevice struct {
	BlockDevice

	mu         sync.Mutex
	readsLeft  int
	writesLeft int
	reads      int
	writes     int
	err        error
}

// NewFaultDevice returns a FaultDevice that passes everything through
// until told otherwise.
func NewFaultDevice(device BlockDevice) *FaultDevice {
	return &FaultDevice{
		BlockDevice: device,
		readsLeft:   -1,
		writesLeft:  -1,
		err:         ErrInjected,
	}
}

// FailReads lets after more reads succeed, then fails every read.
func (d *FaultDevice) FailReads(after int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readsLeft = after
}

// FailWrites lets after more writes succeed, then fails every write.
func (d *FaultDevice) FailWrites(after int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writesLeft = after
}

// Heal stops injecting failures.
func (d *FaultDevice) Heal() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readsLeft = -1
	d.writesLeft = -1
}

// Counts returns the number of reads and writes attempted so far.
func (d *FaultDevice) Counts() (reads, writes int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads, d.writes
}

func consume(left *int) bool {
	switch {
	case *left < 0:
		return false
	case *left == 0:
		return true
	default:
		*left--
		return false
	}
}

func (d *FaultDevice) Read(offset uint64, b []byte) error {
	d.mu.Lock()
	d.reads++
	fail := consume(&d.readsLeft)
	d.mu.Unlock()
	if fail {
		return &DeviceError{Op: "read", Offset: offset, Err: d.err}
	}
	return d.BlockDevice.Read(offset, b)
}

func (d *FaultDevice) Write(offset uint64, b []byte) error {
	d.mu.Lock()
	d.writes++
	fail := consume(&d.writesLeft)
	d.mu.Unlock()
	if fail {
		return &DeviceError{Op: "write", Offset: offset, Err: d.err}
	}
	return d.BlockDevice.Write(offset, b)
}

func (d *FaultDevice) Sync() error {
	if s, ok := d.BlockDevice.(Syncer); ok {
		return s.Sync()
	}
	return nil
}
