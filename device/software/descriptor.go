package software

import (
	"sync"

	"github.com/achilleasa/vkrt/device"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

type descriptorSet struct {
	dev    *Device
	layout device.DescriptorSetLayout

	mutex   sync.RWMutex
	structs map[uint32]*accelStructure
	images  map[uint32]*image
	buffers map[uint32][]*buffer
}

// Allocate a descriptor set for layout.
func (d *Device) AllocateDescriptorSet(layout device.DescriptorSetLayout) (device.DescriptorSet, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	seen := make(map[uint32]bool)
	for _, b := range layout.Bindings {
		if seen[b.Binding] {
			return nil, errors.Wrapf(device.ErrInvalidDescriptor, "software device (%s): layout %s declares binding %d twice", d.name(), layout.Name, b.Binding)
		}
		seen[b.Binding] = true
		if b.Count == 0 {
			return nil, errors.Wrapf(device.ErrInvalidDescriptor, "software device (%s): layout %s binding %d has zero descriptors", d.name(), layout.Name, b.Binding)
		}
	}

	return &descriptorSet{
		dev:     d,
		layout:  layout,
		structs: make(map[uint32]*accelStructure),
		images:  make(map[uint32]*image),
		buffers: make(map[uint32][]*buffer),
	}, nil
}

func asDescriptorSet(set device.DescriptorSet) (*descriptorSet, error) {
	ds, ok := set.(*descriptorSet)
	if !ok || ds == nil {
		return nil, errors.Errorf("software device: foreign descriptor set %T", set)
	}
	return ds, nil
}

// Two layouts are compatible if they declare the same bindings.
func sameLayout(a, b device.DescriptorSetLayout) bool {
	if len(a.Bindings) != len(b.Bindings) {
		return false
	}
	for _, ab := range a.Bindings {
		bb, ok := b.Binding(ab.Binding)
		if !ok || bb.Type != ab.Type || bb.Count != ab.Count {
			return false
		}
	}
	return true
}

func (s *descriptorSet) Layout() device.DescriptorSetLayout {
	return s.layout
}

func (s *descriptorSet) binding(binding uint32, typ vk.DescriptorType) (device.DescriptorBinding, error) {
	b, ok := s.layout.Binding(binding)
	if !ok {
		return b, errors.Wrapf(device.ErrInvalidDescriptor, "layout %s has no binding %d", s.layout.Name, binding)
	}
	if b.Type != typ {
		return b, errors.Wrapf(device.ErrInvalidDescriptor, "layout %s binding %d has type %d; got a write of type %d", s.layout.Name, binding, b.Type, typ)
	}
	return b, nil
}

// Write a TLAS descriptor.
func (s *descriptorSet) WriteAccelerationStructure(binding uint32, as device.AccelerationStructure) error {
	if _, err := s.binding(binding, device.DescriptorTypeAccelerationStructure); err != nil {
		return err
	}
	sas, err := asAccelStructure(as)
	if err != nil {
		return err
	}
	if sas.info.Type != device.TopLevel {
		return errors.Wrapf(device.ErrInvalidDescriptor, "acceleration structure %s is not a top-level structure", sas.info.Name)
	}

	s.mutex.Lock()
	s.structs[binding] = sas
	s.mutex.Unlock()
	return nil
}

// Write a storage image descriptor.
func (s *descriptorSet) WriteStorageImage(binding uint32, img device.Image) error {
	if _, err := s.binding(binding, vk.DescriptorTypeStorageImage); err != nil {
		return err
	}
	si, err := asImage(img)
	if err != nil {
		return err
	}
	if !device.HasImageUsage(si.info.Usage, vk.ImageUsageStorageBit) {
		return errors.Wrapf(device.ErrInvalidUsage, "image %s lacks storage usage", si.info.Name)
	}

	s.mutex.Lock()
	s.images[binding] = si
	s.mutex.Unlock()
	return nil
}

// Write a uniform or storage buffer descriptor.
func (s *descriptorSet) WriteBuffer(binding, arrayElement uint32, buf device.Buffer) error {
	b, ok := s.layout.Binding(binding)
	if !ok {
		return errors.Wrapf(device.ErrInvalidDescriptor, "layout %s has no binding %d", s.layout.Name, binding)
	}
	var usage vk.BufferUsageFlagBits
	switch b.Type {
	case vk.DescriptorTypeUniformBuffer:
		usage = vk.BufferUsageUniformBufferBit
	case vk.DescriptorTypeStorageBuffer:
		usage = vk.BufferUsageStorageBufferBit
	default:
		return errors.Wrapf(device.ErrInvalidDescriptor, "layout %s binding %d is not a buffer binding", s.layout.Name, binding)
	}
	if arrayElement >= b.Count {
		return errors.Wrapf(device.ErrInvalidDescriptor, "layout %s binding %d has %d descriptors; got element %d", s.layout.Name, binding, b.Count, arrayElement)
	}
	sb, err := asBuffer(buf)
	if err != nil {
		return err
	}
	if !device.HasBufferUsage(sb.info.Usage, usage) {
		return errors.Wrapf(device.ErrInvalidUsage, "buffer %s lacks the usage required by binding %d", sb.info.Name, binding)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	elems := s.buffers[binding]
	if elems == nil {
		elems = make([]*buffer, b.Count)
		s.buffers[binding] = elems
	}
	elems[arrayElement] = sb
	return nil
}

func (s *descriptorSet) Release() {}

func (s *descriptorSet) accelerationStructure(binding uint32) (*accelStructure, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	as := s.structs[binding]
	if as == nil {
		return nil, errors.Wrapf(device.ErrInvalidDescriptor, "set %s binding %d has no acceleration structure", s.layout.Name, binding)
	}
	return as, nil
}

func (s *descriptorSet) storageImage(binding uint32) (*image, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	img := s.images[binding]
	if img == nil {
		return nil, errors.Wrapf(device.ErrInvalidDescriptor, "set %s binding %d has no storage image", s.layout.Name, binding)
	}
	return img, nil
}

func (s *descriptorSet) buffer(binding, arrayElement uint32) (*buffer, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	elems := s.buffers[binding]
	if int(arrayElement) >= len(elems) || elems[arrayElement] == nil {
		return nil, errors.Wrapf(device.ErrInvalidDescriptor, "set %s binding %d element %d has no buffer", s.layout.Name, binding, arrayElement)
	}
	return elems[arrayElement], nil
}

// All storage images bound in the set.
func (s *descriptorSet) storageImages() []*image {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	out := make([]*image, 0, len(s.images))
	for _, img := range s.images {
		out = append(out, img)
	}
	return out
}
