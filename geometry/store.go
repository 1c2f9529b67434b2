package geometry

import (
	"context"
	"fmt"
	"sync"

	"github.com/achilleasa/vkrt/device"
	"github.com/achilleasa/vkrt/log"
	"github.com/achilleasa/vkrt/types"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// Usage flags of the device-local geometry buffers. They feed BLAS builds,
// are bound as storage buffers for hit programs and can be copied out for
// inspection.
var residentUsage = device.BufferUsage(
	device.BufferUsageAccelerationStructureBuildInputReadOnlyBit,
	device.BufferUsageShaderDeviceAddressBit,
	vk.BufferUsageStorageBufferBit,
	vk.BufferUsageTransferSrcBit,
	vk.BufferUsageTransferDstBit,
)

// Resident is a geometry whose arrays live in device-local memory.
type Resident struct {
	Name          string
	VertexCount   uint32
	TriangleCount uint32
	Opaque        bool

	VertexBuffer    device.Buffer
	IndexBuffer     device.Buffer
	TransformBuffer device.Buffer

	VertexAddress    device.DeviceAddress
	IndexAddress     device.DeviceAddress
	TransformAddress device.DeviceAddress
}

// The highest vertex index.
func (r *Resident) MaxVertex() uint32 {
	return r.VertexCount - 1
}

func (r *Resident) release() {
	for _, buf := range []device.Buffer{r.VertexBuffer, r.IndexBuffer, r.TransformBuffer} {
		if buf != nil {
			buf.Release()
		}
	}
	r.VertexBuffer, r.IndexBuffer, r.TransformBuffer = nil, nil, nil
}

// Store uploads geometries to device-local buffers through host-visible
// staging buffers and keeps them resident until Release.
type Store struct {
	logger    log.Logger
	dev       device.Device
	submitter *device.Submitter

	mutex    sync.Mutex
	resident []*Resident
	released bool
}

// Create a geometry store.
func NewStore(dev device.Device, submitter *device.Submitter) *Store {
	return &Store{
		logger:    log.New("geometry store"),
		dev:       dev,
		submitter: submitter,
	}
}

// A pending upload of one array.
type staged struct {
	staging device.Buffer
	dst     device.Buffer
	size    uint64
}

// Upload geometries. All copies are recorded into a single submission and
// the call blocks until they complete. Staging buffers are released before
// returning.
func (s *Store) Upload(ctx context.Context, geometries ...*Geometry) ([]*Resident, error) {
	s.mutex.Lock()
	released := s.released
	s.mutex.Unlock()
	if released {
		return nil, ErrReleased
	}

	for _, g := range geometries {
		if err := g.Validate(); err != nil {
			return nil, err
		}
	}

	var (
		out     []*Resident
		uploads []staged
		err     error
	)
	defer func() {
		for _, u := range uploads {
			u.staging.Release()
		}
		if err != nil {
			for _, r := range out {
				r.release()
			}
		}
	}()

	for _, g := range geometries {
		r := &Resident{
			Name:          g.Name,
			VertexCount:   uint32(len(g.Vertices)),
			TriangleCount: g.TriangleCount(),
			Opaque:        g.Opaque,
		}
		out = append(out, r)

		if r.VertexBuffer, r.VertexAddress, err = s.stage(&uploads, g.Name+" vertices", EncodeVertices(g.Vertices)); err != nil {
			return nil, err
		}
		if r.IndexBuffer, r.IndexAddress, err = s.stage(&uploads, g.Name+" indices", EncodeIndices(g.Indices)); err != nil {
			return nil, err
		}
		if g.Transform != nil {
			if r.TransformBuffer, r.TransformAddress, err = s.stage(&uploads, g.Name+" transform", g.Transform.Bytes()); err != nil {
				return nil, err
			}
		}
	}

	err = s.submitter.Run(ctx, fmt.Sprintf("upload %d geometries", len(geometries)), func(cb device.CommandBuffer) error {
		for _, u := range uploads {
			cb.CopyBuffer(u.staging, u.dst, device.BufferCopy{Size: u.size})
		}
		return nil
	})
	if err != nil {
		err = errors.Wrap(err, "geometry store: upload failed")
		return nil, err
	}

	s.mutex.Lock()
	s.resident = append(s.resident, out...)
	s.mutex.Unlock()

	for _, r := range out {
		s.logger.Debugf("uploaded %q: %d vertices, %d triangles (vertices at 0x%x, indices at 0x%x)", r.Name, r.VertexCount, r.TriangleCount, uint64(r.VertexAddress), uint64(r.IndexAddress))
	}
	return out, nil
}

// Allocate a device-local buffer and a staging buffer holding data.
func (s *Store) stage(uploads *[]staged, name string, data []byte) (device.Buffer, device.DeviceAddress, error) {
	size := uint64(len(data))
	dst, err := s.dev.CreateBuffer(device.BufferInfo{
		Name:   name,
		Size:   size,
		Usage:  residentUsage,
		Memory: device.MemoryProperties(vk.MemoryPropertyDeviceLocalBit),
	})
	if err != nil {
		return nil, 0, errors.Wrapf(err, "geometry store: could not allocate %s", name)
	}
	addr, err := dst.DeviceAddress()
	if err != nil {
		dst.Release()
		return nil, 0, err
	}

	staging, err := s.dev.CreateBuffer(device.BufferInfo{
		Name:   name + " (staging)",
		Size:   size,
		Usage:  device.BufferUsage(vk.BufferUsageTransferSrcBit),
		Memory: device.MemoryProperties(vk.MemoryPropertyHostVisibleBit, vk.MemoryPropertyHostCoherentBit),
	})
	if err != nil {
		dst.Release()
		return nil, 0, errors.Wrapf(err, "geometry store: could not allocate staging buffer for %s", name)
	}
	if err = staging.Write(0, data); err != nil {
		staging.Release()
		dst.Release()
		return nil, 0, err
	}

	*uploads = append(*uploads, staged{staging: staging, dst: dst, size: size})
	return dst, addr, nil
}

// List the resident geometries in upload order.
func (s *Store) Resident() []*Resident {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]*Resident{}, s.resident...)
}

// Total bytes held in device-local memory.
func (s *Store) DeviceBytes() uint64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var total uint64
	for _, r := range s.resident {
		total += uint64(r.VertexCount)*VertexStride + uint64(r.TriangleCount)*12
		if r.TransformBuffer != nil {
			total += types.TransformSize
		}
	}
	return total
}

// Release all resident geometries.
func (s *Store) Release() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, r := range s.resident {
		r.release()
	}
	s.resident = nil
	s.released = true
}
