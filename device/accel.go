package device

import (
	vk "github.com/vulkan-go/vulkan"
)

type AccelerationStructureType uint32

const (
	TopLevel    AccelerationStructureType = 0
	BottomLevel AccelerationStructureType = 1
)

func (t AccelerationStructureType) String() string {
	switch t {
	case TopLevel:
		return "top-level"
	case BottomLevel:
		return "bottom-level"
	}
	return "unknown"
}

type GeometryType uint32

const (
	GeometryTypeTriangles GeometryType = 0
	GeometryTypeAABBs     GeometryType = 1
	GeometryTypeInstances GeometryType = 2
)

type GeometryFlags uint32

const (
	GeometryOpaqueBit                      GeometryFlags = 0x1
	GeometryNoDuplicateAnyHitInvocationBit GeometryFlags = 0x2
)

type BuildFlags uint32

const (
	BuildAllowUpdateBit     BuildFlags = 0x01
	BuildAllowCompactionBit BuildFlags = 0x02
	BuildPreferFastTraceBit BuildFlags = 0x04
	BuildPreferFastBuildBit BuildFlags = 0x08
	BuildLowMemoryBit       BuildFlags = 0x10
)

type BuildMode uint32

const (
	BuildModeBuild  BuildMode = 0
	BuildModeUpdate BuildMode = 1
)

// Where a build runs.
type BuildType uint32

const (
	BuildTypeHost         BuildType = 0
	BuildTypeDevice       BuildType = 1
	BuildTypeHostOrDevice BuildType = 2
)

// Triangle geometry read through device addresses.
type TrianglesData struct {
	VertexFormat  vk.Format
	VertexData    DeviceAddress
	VertexStride  uint64
	MaxVertex     uint32
	IndexType     vk.IndexType
	IndexData     DeviceAddress
	TransformData DeviceAddress
}

// Instance geometry; Data points to packed InstanceRecord values.
type InstancesData struct {
	ArrayOfPointers bool
	Data            DeviceAddress
}

type Geometry struct {
	Type      GeometryType
	Flags     GeometryFlags
	Triangles TrianglesData
	Instances InstancesData
}

// BuildGeometryInfo describes one acceleration structure build.
type BuildGeometryInfo struct {
	Type        AccelerationStructureType
	Flags       BuildFlags
	Mode        BuildMode
	Src         AccelerationStructure
	Dst         AccelerationStructure
	Geometries  []Geometry
	ScratchData DeviceAddress
}

// Per-geometry build range.
type BuildRangeInfo struct {
	PrimitiveCount  uint32
	PrimitiveOffset uint32
	FirstVertex     uint32
	TransformOffset uint32
}

// The result of a build size query.
type BuildSizes struct {
	AccelerationStructureSize uint64
	UpdateScratchSize         uint64
	BuildScratchSize          uint64
}

// AccelerationStructureInfo binds a new acceleration structure to a range of
// a storage buffer.
type AccelerationStructureInfo struct {
	Name   string
	Type   AccelerationStructureType
	Buffer Buffer
	Offset uint64
	Size   uint64
}

type AccelerationStructure interface {
	Name() string
	Type() AccelerationStructureType
	Buffer() Buffer
	Size() uint64

	// The address used in instance records and descriptor writes.
	DeviceAddress() DeviceAddress

	// Returns true once a build recorded against this structure completed.
	Built() bool
	Release()
}
