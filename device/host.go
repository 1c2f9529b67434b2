package device

import (
	"github.com/achilleasa/vkrt/types"
)

type RayFlags uint32

const (
	RayFlagNone                     RayFlags = 0x00
	RayFlagOpaque                   RayFlags = 0x01
	RayFlagNoOpaque                 RayFlags = 0x02
	RayFlagTerminateOnFirstHit      RayFlags = 0x04
	RayFlagSkipClosestHitShader     RayFlags = 0x08
	RayFlagCullBackFacingTriangles  RayFlags = 0x10
	RayFlagCullFrontFacingTriangles RayFlags = 0x20
)

// The arguments of a traceRayEXT call.
type Ray struct {
	Flags           RayFlags
	CullMask        uint8
	SBTRecordOffset uint32
	SBTRecordStride uint32
	MissIndex       uint32
	Origin          types.Vec3
	TMin            float32
	Direction       types.Vec3
	TMax            float32
}

// Built-ins and resources visible to a ray generation program.
type RayGenContext interface {
	LaunchID() [3]uint32
	LaunchSize() [3]uint32

	AccelerationStructure(set, binding uint32) (AccelerationStructure, error)
	UniformData(set, binding uint32) ([]byte, error)
	StoreImage(set, binding, x, y uint32, rgba types.Vec4) error

	// Trace a ray; payload is passed to the hit or miss program.
	TraceRay(as AccelerationStructure, ray Ray, payload interface{}) error
}

// Built-ins and resources visible to hit programs.
type HitContext interface {
	InstanceCustomIndex() uint32
	InstanceID() uint32
	PrimitiveID() uint32
	GeometryIndex() uint32
	HitT() float32
	Barycentrics() types.Vec2
	FrontFacing() bool
	WorldRayOrigin() types.Vec3
	WorldRayDirection() types.Vec3

	// The bytes following the group handle in the selected hit record.
	ShaderRecord() []byte
	ReadStorageBuffer(set, binding, arrayElement uint32, offset uint64, dst []byte) error
}

// Built-ins visible to miss programs.
type MissContext interface {
	WorldRayOrigin() types.Vec3
	WorldRayDirection() types.Vec3
	ShaderRecord() []byte
}

// Host program signatures run by the software device.
type (
	RayGenProgram     func(ctx RayGenContext) error
	ClosestHitProgram func(ctx HitContext, payload interface{}) error
	MissProgram       func(ctx MissContext, payload interface{}) error

	// Returns false to ignore the intersection.
	AnyHitProgram func(ctx HitContext, payload interface{}) (bool, error)
)
