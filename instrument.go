package fatfs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// InstrumentedDevice counts the transfers made through a BlockDevice.
type InstrumentedDevice struct {
	BlockDevice

	operations *prometheus.CounterVec
	bytes      *prometheus.CounterVec
}

// NewInstrumentedDevice wraps device and registers its counters with
// reg. A nil reg leaves the counters unregistered.
func NewInstrumentedDevice(device BlockDevice, reg prometheus.Registerer) (*InstrumentedDevice, error) {
	d := &InstrumentedDevice{
		BlockDevice: device,
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fatfs_device_operations_total",
				Help: "Block device transfers by operation and result",
			},
			[]string{"op", "result"},
		),
		bytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fatfs_device_bytes_total",
				Help: "Bytes transferred to and from the block device",
			},
			[]string{"op"},
		),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{d.operations, d.bytes} {
			if err := reg.Register(c); err != nil {
				return nil, Fatal(err)
			}
		}
	}
	return d, nil
}

func (d *InstrumentedDevice) observe(op string, n int, err error) {
	if err != nil {
		d.operations.WithLabelValues(op, "error").Inc()
		return
	}
	d.operations.WithLabelValues(op, "ok").Inc()
	d.bytes.WithLabelValues(op).Add(float64(n))
}

func (d *InstrumentedDevice) Read(offset uint64, b []byte) error {
	err := d.BlockDevice.Read(offset, b)
	d.observe("read", len(b), err)
	return err
}

func (d *InstrumentedDevice) Write(offset uint64, b []byte) error {
	err := d.BlockDevice.Write(offset, b)
	d.observe("write", len(b), err)
	return err
}

func (d *InstrumentedDevice) Sync() error {
	s, ok := d.BlockDevice.(Syncer)
	if !ok {
		return nil
	}
	err := s.Sync()
	d.observe("sync", 0, err)
	return err
}

// Operations returns the transfer counter, labelled by op and result.
func (d *InstrumentedDevice) Operations() *prometheus.CounterVec {
	return d.operations
}

// Bytes returns the byte counter, labelled by op.
func (d *InstrumentedDevice) Bytes() *prometheus.CounterVec {
	return d.bytes
}
