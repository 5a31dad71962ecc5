package fat

import (
	"github.com/rstms/fatfs"
)

// clusterIO moves bytes between a cluster chain and memory. Transfers
// are widened to whole sectors; partial sectors are read, patched and
// written back.
type clusterIO struct {
	device fatfs.BlockDevice
	bs     *BootSector
	fat    *FAT
}

func (c *clusterIO) clusterSize() uint64 {
	return uint64(c.bs.BytesPerCluster())
}

func (c *clusterIO) capacity(chain []uint32) uint64 {
	return uint64(len(chain)) * c.clusterSize()
}

// clustersFor returns how many clusters hold length bytes.
func (c *clusterIO) clustersFor(length uint64) uint32 {
	size := c.clusterSize()
	return uint32((length + size - 1) / size)
}

// span calls fn for each piece of [offset, offset+length) that lies in
// a single cluster, with the device offset of that piece.
func (c *clusterIO) span(chain []uint32, offset, length uint64, fn func(device uint64, pos, n uint64) error) error {
	if offset+length > c.capacity(chain) {
		return Fatalf("%w: %d bytes at %d beyond %d byte chain", fatfs.ErrOutOfRange, length, offset, c.capacity(chain))
	}
	size := c.clusterSize()
	for pos := uint64(0); pos < length; {
		at := offset + pos
		within := at % size
		n := size - within
		if n > length-pos {
			n = length - pos
		}
		cluster := chain[at/size]
		if err := fn(c.bs.ClusterOffset(cluster)+within, pos, n); err != nil {
			return err
		}
		pos += n
	}
	return nil
}

func (c *clusterIO) sectorBounds(device, n uint64) (uint64, uint64) {
	sector := uint64(c.bs.BytesPerSector)
	lo := device / sector * sector
	hi := (device + n + sector - 1) / sector * sector
	return lo, hi
}

func (c *clusterIO) readAt(chain []uint32, offset uint64, dst []byte) error {
	return c.span(chain, offset, uint64(len(dst)), func(device, pos, n uint64) error {
		lo, hi := c.sectorBounds(device, n)
		if lo == device && hi == device+n {
			return Fatal(c.device.Read(device, dst[pos:pos+n]))
		}
		buf := make([]byte, hi-lo)
		if err := c.device.Read(lo, buf); err != nil {
			return Fatal(err)
		}
		copy(dst[pos:pos+n], buf[device-lo:])
		return nil
	})
}

func (c *clusterIO) writeAt(chain []uint32, offset uint64, src []byte) error {
	return c.span(chain, offset, uint64(len(src)), func(device, pos, n uint64) error {
		lo, hi := c.sectorBounds(device, n)
		if lo == device && hi == device+n {
			return Fatal(c.device.Write(device, src[pos:pos+n]))
		}
		buf := make([]byte, hi-lo)
		if err := c.device.Read(lo, buf); err != nil {
			return Fatal(err)
		}
		copy(buf[device-lo:], src[pos:pos+n])
		return Fatal(c.device.Write(lo, buf))
	})
}

// zero fills [offset, offset+length) of chain with zero bytes.
func (c *clusterIO) zero(chain []uint32, offset, length uint64) error {
	chunk := make([]byte, c.clusterSize())
	for length > 0 {
		n := uint64(len(chunk))
		if n > length {
			n = length
		}
		if err := c.writeAt(chain, offset, chunk[:n]); err != nil {
			return Fatal(err)
		}
		offset += n
		length -= n
	}
	return nil
}

// resize grows or shrinks chain to exactly clusters clusters. Grown
// clusters are zeroed when zero is set.
func (c *clusterIO) resize(chain []uint32, clusters uint32, zero bool) ([]uint32, error) {
	have := uint32(len(chain))
	switch {
	case clusters > have:
		grown, err := c.fat.Alloc(chain, clusters-have)
		if err != nil {
			return nil, Fatal(err)
		}
		if zero {
			if err := c.zero(grown, uint64(have)*c.clusterSize(), uint64(clusters-have)*c.clusterSize()); err != nil {
				return nil, Fatal(err)
			}
		}
		return grown, nil
	case clusters < have:
		shrunk, err := c.fat.Free(chain, have-clusters)
		if err != nil {
			return nil, Fatal(err)
		}
		return shrunk, nil
	}
	return chain, nil
}
