package device

import (
	"context"

	vk "github.com/vulkan-go/vulkan"
)

// A 64-bit GPU virtual address. Zero is never a valid address.
type DeviceAddress uint64

// Offset an address by a number of bytes.
func (a DeviceAddress) Add(offset uint64) DeviceAddress {
	return a + DeviceAddress(offset)
}

// Properties of VK_KHR_ray_tracing_pipeline that the SBT layout depends on.
type RayTracingProperties struct {
	ShaderGroupHandleSize      uint32
	ShaderGroupHandleAlignment uint32
	ShaderGroupBaseAlignment   uint32
	MaxShaderGroupStride       uint32
	MaxRayRecursionDepth       uint32
}

// Properties of VK_KHR_acceleration_structure.
type AccelerationStructureProperties struct {
	MinScratchOffsetAlignment uint32
	MaxGeometryCount          uint64
	MaxInstanceCount          uint64
	MaxPrimitiveCount         uint64
}

// Info describes a device and the limits it reports.
type Info struct {
	Name       string
	Vendor     string
	Type       string
	Extensions []string

	RayTracing            RayTracingProperties
	AccelerationStructure AccelerationStructureProperties
}

// Returns true if the device reports the named extension.
func (i Info) HasExtension(name string) bool {
	for _, ext := range i.Extensions {
		if ext == name {
			return true
		}
	}
	return false
}

// Device is the driver contract used by every other package. Creation
// methods validate their arguments and return wrapped errors; execution
// errors for recorded commands surface through the fence of the submission
// that carried them.
type Device interface {
	Info() Info

	CreateBuffer(info BufferInfo) (Buffer, error)
	CreateImage(info ImageInfo) (Image, error)
	CreateAccelerationStructure(info AccelerationStructureInfo) (AccelerationStructure, error)
	AccelerationStructureBuildSizes(buildType BuildType, info *BuildGeometryInfo, maxPrimitiveCounts []uint32) (BuildSizes, error)

	CreateRayTracingPipeline(info PipelineInfo) (Pipeline, error)
	ShaderGroupHandles(pipeline Pipeline, firstGroup, groupCount uint32) ([]byte, error)
	AllocateDescriptorSet(layout DescriptorSetLayout) (DescriptorSet, error)

	CreateCommandBuffer() (CommandBuffer, error)
	CreateFence(signaled bool) (Fence, error)
	CreateSemaphore() (Semaphore, error)

	Queue() Queue
	WaitIdle(ctx context.Context) error
	Close()
}

// BufferInfo describes a buffer to be created.
type BufferInfo struct {
	Name   string
	Size   uint64
	Usage  vk.BufferUsageFlags
	Memory vk.MemoryPropertyFlags
}

// A linear device allocation.
type Buffer interface {
	Name() string
	Size() uint64
	Usage() vk.BufferUsageFlags
	Memory() vk.MemoryPropertyFlags

	// Returns the buffer device address. It fails unless the buffer was
	// created with BufferUsageShaderDeviceAddressBit.
	DeviceAddress() (DeviceAddress, error)

	// Host access; only valid for host-visible memory.
	Write(offset uint64, data []byte) error
	Read(offset uint64, dst []byte) error

	Release()
}

// ImageInfo describes a 2D image to be created.
type ImageInfo struct {
	Name   string
	Width  uint32
	Height uint32
	Format vk.Format
	Usage  vk.ImageUsageFlags
}

// A 2D device image. Images start in vk.ImageLayoutUndefined and only change
// layout through barriers.
type Image interface {
	Name() string
	Width() uint32
	Height() uint32
	Format() vk.Format
	Usage() vk.ImageUsageFlags
	Layout() vk.ImageLayout
	Release()
}

// CommandBuffer records commands for later submission. Recording methods
// follow the Vulkan convention of not returning errors; the first recording
// error is reported by End.
type CommandBuffer interface {
	Begin() error
	End() error
	Reset() error

	CopyBuffer(src, dst Buffer, regions ...BufferCopy)
	BuildAccelerationStructures(infos []BuildGeometryInfo, ranges [][]BuildRangeInfo)
	MemoryBarrier(srcStage, dstStage vk.PipelineStageFlags, barrier MemoryBarrier)
	PipelineImageBarrier(srcStage, dstStage vk.PipelineStageFlags, barriers ...ImageBarrier)
	BindRayTracingPipeline(pipeline Pipeline)
	BindDescriptorSets(pipeline Pipeline, firstSet uint32, sets ...DescriptorSet)
	TraceRays(raygen, miss, hit, callable StridedRegion, width, height, depth uint32)
	CopyImage(src Image, srcLayout vk.ImageLayout, dst Image, dstLayout vk.ImageLayout)

	Release()
}

// A buffer-to-buffer copy region.
type BufferCopy struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

// A global memory barrier.
type MemoryBarrier struct {
	SrcAccess vk.AccessFlags
	DstAccess vk.AccessFlags
}

// An image layout transition.
type ImageBarrier struct {
	Image     Image
	OldLayout vk.ImageLayout
	NewLayout vk.ImageLayout
	SrcAccess vk.AccessFlags
	DstAccess vk.AccessFlags
}

// A strided device address region as consumed by TraceRays.
type StridedRegion struct {
	DeviceAddress DeviceAddress
	Stride        uint64
	Size          uint64
}

// Returns true for the zero region used for absent tables.
func (r StridedRegion) IsEmpty() bool {
	return r.Size == 0
}

// Returns the address of the record at index.
func (r StridedRegion) RecordAddress(index uint32) DeviceAddress {
	return r.DeviceAddress.Add(r.Stride * uint64(index))
}

// SubmitInfo groups command buffers with the semaphores they wait on and
// signal.
type SubmitInfo struct {
	WaitSemaphores   []Semaphore
	WaitStages       []vk.PipelineStageFlags
	CommandBuffers   []CommandBuffer
	SignalSemaphores []Semaphore
}

// The single queue of a device. Submissions execute in order.
type Queue interface {
	// Enqueue submissions. If fence is not nil it is signaled once all of
	// them complete and carries the first execution error.
	Submit(ctx context.Context, fence Fence, submits ...SubmitInfo) error
	WaitIdle(ctx context.Context) error
}

// A host-waitable completion primitive.
type Fence interface {
	// Block until the fence is signaled or ctx is done. Returns the
	// execution error of the submission that signaled the fence.
	Wait(ctx context.Context) error
	Reset() error
	Signaled() bool
	Release()
}

// A binary device-side semaphore.
type Semaphore interface {
	Release()
}

// Swapchain is the presentation collaborator.
type Swapchain interface {
	Images() []Image
	AcquireNextImage(ctx context.Context, signal Semaphore) (uint32, error)
	Present(ctx context.Context, index uint32, wait Semaphore) error
	Release()
}
