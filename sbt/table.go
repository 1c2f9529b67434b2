package sbt

import (
	"github.com/achilleasa/vkrt/device"
	"github.com/achilleasa/vkrt/log"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

var logger = log.New("sbt")

var tableUsage = device.BufferUsage(
	device.BufferUsageShaderBindingTableBit,
	device.BufferUsageShaderDeviceAddressBit,
	vk.BufferUsageTransferSrcBit,
)

// Table is an encoded shader binding table resident in a device buffer.
type Table struct {
	layout  Layout
	buffer  device.Buffer
	offset  uint64
	address device.DeviceAddress
	padded  bool
}

// Encode the table and upload it to a new host-visible buffer. If the
// buffer address is not a multiple of the base alignment the buffer is
// reallocated with enough padding to place the table at the next aligned
// address.
func Build(dev device.Device, l Layout, handles Handles, hitRecords []HitRecord) (*Table, error) {
	data, err := Encode(l, handles, hitRecords)
	if err != nil {
		return nil, err
	}

	base := uint64(l.Params.BaseAlignment)
	t, err := allocTable(dev, l, l.Total, 0)
	if err != nil {
		return nil, err
	}
	if uint64(t.address)%base != 0 {
		logger.Warningf("table buffer address 0x%x is not aligned to the shader group base alignment %d; reallocating with %d bytes of padding", uint64(t.address), base, base-1)
		t.buffer.Release()
		if t, err = allocTable(dev, l, l.Total+base-1, base); err != nil {
			return nil, err
		}
		t.padded = true
		if uint64(t.address)%base != 0 || t.offset+l.Total > t.buffer.Size() {
			t.buffer.Release()
			return nil, errors.Wrapf(ErrMisalignedTable, "padded table at 0x%x (base alignment %d)", uint64(t.address), base)
		}
	}

	if err = t.buffer.Write(t.offset, data); err != nil {
		t.buffer.Release()
		return nil, errors.Wrap(err, "sbt: could not upload table")
	}
	logger.Debugf("uploaded %d byte table at 0x%x (padded: %t)", l.Total, uint64(t.address), t.padded)
	return t, nil
}

// Allocate size bytes and place the table at the first address aligned to
// align. A zero align places it at the start of the buffer.
func allocTable(dev device.Device, l Layout, size, align uint64) (*Table, error) {
	buf, err := dev.CreateBuffer(device.BufferInfo{
		Name:   "shader binding table",
		Size:   size,
		Usage:  tableUsage,
		Memory: device.MemoryProperties(vk.MemoryPropertyHostVisibleBit, vk.MemoryPropertyHostCoherentBit),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "sbt: could not allocate %d bytes", size)
	}
	addr, err := buf.DeviceAddress()
	if err != nil {
		buf.Release()
		return nil, err
	}

	t := &Table{layout: l, buffer: buf, address: addr}
	if align != 0 {
		t.offset = AlignTo(uint64(addr), align) - uint64(addr)
		t.address = addr.Add(t.offset)
	}
	return t, nil
}

func (t *Table) Layout() Layout {
	return t.layout
}

func (t *Table) Buffer() device.Buffer {
	return t.buffer
}

// The device address of the table start.
func (t *Table) Address() device.DeviceAddress {
	return t.address
}

// The offset of the table start within its buffer.
func (t *Table) Offset() uint64 {
	return t.offset
}

// Returns true if the table had to be re-placed at an aligned offset of a
// padded buffer.
func (t *Table) Padded() bool {
	return t.padded
}

// The raygen, miss, hit and callable regions passed to TraceRays. The
// callable region is empty when the layout has no callables.
func (t *Table) Regions() (raygen, miss, hit, callable device.StridedRegion) {
	region := func(r Region) device.StridedRegion {
		if r.Size == 0 {
			return device.StridedRegion{}
		}
		return device.StridedRegion{
			DeviceAddress: t.address.Add(r.Offset),
			Stride:        r.Stride,
			Size:          r.Size,
		}
	}
	return region(t.layout.RayGen), region(t.layout.Miss), region(t.layout.Hit), region(t.layout.Callable)
}

// Read back the table contents.
func (t *Table) Bytes() ([]byte, error) {
	if t.buffer == nil {
		return nil, errors.Wrap(device.ErrReleased, "sbt: table")
	}
	out := make([]byte, t.layout.Total)
	if err := t.buffer.Read(t.offset, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Table) Release() {
	if t.buffer != nil {
		t.buffer.Release()
		t.buffer = nil
	}
}
