package software

import (
	"github.com/achilleasa/vkrt/device"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

type buffer struct {
	dev  *Device
	info device.BufferInfo

	alloc *allocation
	data  []byte
}

// Get buffer name.
func (b *buffer) Name() string {
	return b.info.Name
}

// Get buffer size.
func (b *buffer) Size() uint64 {
	return b.info.Size
}

func (b *buffer) Usage() vk.BufferUsageFlags {
	return b.info.Usage
}

func (b *buffer) Memory() vk.MemoryPropertyFlags {
	return b.info.Memory
}

func (b *buffer) released() bool {
	return b.alloc == nil
}

// Get the buffer device address.
func (b *buffer) DeviceAddress() (device.DeviceAddress, error) {
	if b.released() {
		return 0, errors.Wrapf(device.ErrReleased, "software device (%s): buffer %s", b.dev.name(), b.info.Name)
	}
	if !device.HasBufferUsage(b.info.Usage, device.BufferUsageShaderDeviceAddressBit) {
		return 0, errors.Wrapf(device.ErrNoDeviceAddress, "software device (%s): buffer %s", b.dev.name(), b.info.Name)
	}
	return device.DeviceAddress(b.alloc.Address), nil
}

// The raw address regardless of usage; used by the device itself.
func (b *buffer) address() uint64 {
	return b.alloc.Address
}

func (b *buffer) checkRange(offset uint64, length int) error {
	if b.released() {
		return errors.Wrapf(device.ErrReleased, "software device (%s): buffer %s", b.dev.name(), b.info.Name)
	}
	if offset > b.info.Size || uint64(length) > b.info.Size-offset {
		return errors.Wrapf(device.ErrOutOfRange, "software device (%s): insufficient buffer space (%d) in %s for %d bytes at offset %d", b.dev.name(), b.info.Size, b.info.Name, length, offset)
	}
	return nil
}

func (b *buffer) checkHostVisible() error {
	if !device.HasMemoryProperty(b.info.Memory, vk.MemoryPropertyHostVisibleBit) {
		return errors.Wrapf(device.ErrNotHostVisible, "software device (%s): buffer %s", b.dev.name(), b.info.Name)
	}
	return nil
}

// Copy host data into the buffer.
func (b *buffer) Write(offset uint64, data []byte) error {
	if err := b.checkHostVisible(); err != nil {
		return err
	}
	if err := b.checkRange(offset, len(data)); err != nil {
		return err
	}
	b.dev.memLock.Lock()
	copy(b.data[offset:], data)
	b.dev.memLock.Unlock()
	return nil
}

// Copy buffer contents to host memory.
func (b *buffer) Read(offset uint64, dst []byte) error {
	if err := b.checkHostVisible(); err != nil {
		return err
	}
	return b.read(offset, dst)
}

// Device-side read; ignores the memory type.
func (b *buffer) read(offset uint64, dst []byte) error {
	if err := b.checkRange(offset, len(dst)); err != nil {
		return err
	}
	b.dev.memLock.RLock()
	copy(dst, b.data[offset:])
	b.dev.memLock.RUnlock()
	return nil
}

// Device-side write; ignores the memory type.
func (b *buffer) write(offset uint64, src []byte) error {
	if err := b.checkRange(offset, len(src)); err != nil {
		return err
	}
	b.dev.memLock.Lock()
	copy(b.data[offset:], src)
	b.dev.memLock.Unlock()
	return nil
}

// Release the buffer and its address range.
func (b *buffer) Release() {
	if b.released() {
		return
	}
	b.dev.mem.free(b.alloc)
	b.alloc = nil
	b.data = nil
	b.dev.logger.Debugf("released buffer %s", b.info.Name)
}

// Create a buffer.
func (d *Device) CreateBuffer(info device.BufferInfo) (device.Buffer, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	if info.Size == 0 {
		return nil, errors.Errorf("software device (%s): could not allocate buffer %s of size 0", d.name(), info.Name)
	}
	if info.Usage == 0 {
		return nil, errors.Wrapf(device.ErrInvalidUsage, "software device (%s): buffer %s has no usage flags", d.name(), info.Name)
	}

	b := &buffer{
		dev:  d,
		info: info,
	}
	b.alloc = d.mem.allocate(info.Size, d.profile.BufferPlacement, d.profile.BufferSkew, b)
	if b.alloc == nil {
		return nil, errors.Wrapf(device.ErrOutOfDeviceMemory, "software device (%s): could not allocate buffer %s of size %d", d.name(), info.Name, info.Size)
	}
	b.data = make([]byte, info.Size)

	d.logger.Debugf("allocated buffer %s (%d bytes at 0x%x)", info.Name, info.Size, b.alloc.Address)
	return b, nil
}

// Resolve a device address range to its backing buffer.
func (d *Device) resolve(addr device.DeviceAddress, length uint64) (*buffer, uint64, error) {
	b, offset, ok := d.mem.resolve(uint64(addr))
	if !ok || b == nil {
		return nil, 0, errors.Wrapf(device.ErrUnknownAddress, "software device (%s): address 0x%x", d.name(), uint64(addr))
	}
	if length > b.info.Size-offset {
		return nil, 0, errors.Wrapf(device.ErrOutOfRange, "software device (%s): %d bytes at address 0x%x overrun buffer %s", d.name(), length, uint64(addr), b.info.Name)
	}
	return b, offset, nil
}

// Read device memory through an address.
func (d *Device) readAddress(addr device.DeviceAddress, dst []byte) error {
	b, offset, err := d.resolve(addr, uint64(len(dst)))
	if err != nil {
		return err
	}
	return b.read(offset, dst)
}

func asBuffer(buf device.Buffer) (*buffer, error) {
	b, ok := buf.(*buffer)
	if !ok || b == nil {
		return nil, errors.Errorf("software device: foreign buffer %T", buf)
	}
	return b, nil
}
