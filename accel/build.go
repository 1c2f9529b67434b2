package accel

import (
	"github.com/achilleasa/vkrt/device"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

var (
	storageUsage = device.BufferUsage(
		device.BufferUsageAccelerationStructureStorageBit,
		device.BufferUsageShaderDeviceAddressBit,
	)
	scratchUsage = device.BufferUsage(
		vk.BufferUsageStorageBufferBit,
		device.BufferUsageShaderDeviceAddressBit,
	)
	deviceLocal = device.MemoryProperties(vk.MemoryPropertyDeviceLocalBit)
)

// A scratch allocation whose address has been rounded up to the driver's
// scratch offset alignment.
type scratch struct {
	buffer  device.Buffer
	address device.DeviceAddress
}

func (s *scratch) release() {
	if s != nil && s.buffer != nil {
		s.buffer.Release()
		s.buffer = nil
	}
}

// Round addr up to a power-of-two alignment.
func alignAddress(addr device.DeviceAddress, align uint64) device.DeviceAddress {
	return device.DeviceAddress((uint64(addr) + align - 1) &^ (align - 1))
}

// Allocate a scratch buffer of at least size bytes. The allocation is padded
// by alignment-1 bytes so an aligned address always fits.
func allocScratch(dev device.Device, name string, size uint64) (*scratch, error) {
	align := uint64(dev.Info().AccelerationStructure.MinScratchOffsetAlignment)
	if !device.IsPowerOfTwo(align) {
		return nil, errors.Wrapf(device.ErrInvalidAlignment, "min scratch offset alignment %d", align)
	}

	buf, err := dev.CreateBuffer(device.BufferInfo{
		Name:   name + " scratch",
		Size:   size + align - 1,
		Usage:  scratchUsage,
		Memory: deviceLocal,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "could not allocate %d bytes of scratch for %s", size, name)
	}
	addr, err := buf.DeviceAddress()
	if err != nil {
		buf.Release()
		return nil, err
	}
	return &scratch{buffer: buf, address: alignAddress(addr, align)}, nil
}

// Allocate the storage buffer and bind a new acceleration structure to it.
func allocStructure(dev device.Device, name string, typ device.AccelerationStructureType, size uint64) (device.Buffer, device.AccelerationStructure, error) {
	buf, err := dev.CreateBuffer(device.BufferInfo{
		Name:   name + " storage",
		Size:   size,
		Usage:  storageUsage,
		Memory: deviceLocal,
	})
	if err != nil {
		return nil, nil, errors.Wrapf(err, "could not allocate %d bytes of %s storage for %s", size, typ, name)
	}

	as, err := dev.CreateAccelerationStructure(device.AccelerationStructureInfo{
		Name:   name,
		Type:   typ,
		Buffer: buf,
		Size:   size,
	})
	if err != nil {
		buf.Release()
		return nil, nil, errors.Wrapf(err, "could not create %s structure %s", typ, name)
	}
	return buf, as, nil
}
