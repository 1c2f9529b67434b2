package accel

import (
	"context"
	"math"
	"time"

	"github.com/achilleasa/vkrt/device"
	"github.com/achilleasa/vkrt/log"
	"github.com/achilleasa/vkrt/types"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// Instance places a BLAS in the scene.
type Instance struct {
	BLAS      *BLAS
	Transform types.Transform

	// Exposed to hit programs as the instance custom index (24 bits).
	CustomIndex uint32
	Mask        uint8
	Flags       device.InstanceFlags

	// Base hit record of this instance (24 bits). See AssignHitRecordOffsets.
	SBTRecordOffset uint32
}

// Pack the instance into its device record.
func (in Instance) Record() (device.InstanceRecord, error) {
	if in.BLAS == nil || in.BLAS.Address() == 0 {
		return device.InstanceRecord{}, ErrInvalidBLAS
	}
	rec := device.InstanceRecord{
		Transform:                      in.Transform,
		CustomIndex:                    in.CustomIndex,
		Mask:                           in.Mask,
		SBTRecordOffset:                in.SBTRecordOffset,
		Flags:                          in.Flags,
		AccelerationStructureReference: in.BLAS.Address(),
	}
	if err := rec.Validate(); err != nil {
		return device.InstanceRecord{}, err
	}
	return rec, nil
}

// AssignHitRecordOffsets sets the SBT record offset of each instance to the
// number of hit records used by the instances before it, where each
// instance uses one record per (geometry, ray type) pair. It returns the
// total number of hit records the table must hold.
func AssignHitRecordOffsets(instances []Instance, rayTypes uint32) (uint32, error) {
	if rayTypes == 0 {
		return 0, ErrInvalidRayTypes
	}

	var next uint64
	for i := range instances {
		if instances[i].BLAS == nil {
			return 0, errors.Wrapf(ErrInvalidBLAS, "instance %d", i)
		}
		if next > device.MaxInstanceSBTRecordOffset {
			return 0, errors.Wrapf(device.ErrFieldOverflow, "instance %d: SBT record offset %d exceeds 24 bits", i, next)
		}
		instances[i].SBTRecordOffset = uint32(next)
		next += uint64(instances[i].BLAS.GeometryCount()) * uint64(rayTypes)
	}
	if next > math.MaxUint32 {
		return 0, errors.Wrapf(device.ErrFieldOverflow, "%d hit records exceed the 32-bit record count", next)
	}
	return uint32(next), nil
}

// TLAS is a built top-level acceleration structure. It owns its storage
// buffer and the host-visible buffer holding the packed instance records.
type TLAS struct {
	name      string
	builder   *TLASBuilder
	instances []Instance
	sizes     device.BuildSizes
	buildTime time.Duration

	buffer         device.Buffer
	structure      device.AccelerationStructure
	instanceBuffer device.Buffer
}

func (t *TLAS) Name() string {
	return t.name
}

func (t *TLAS) InstanceCount() uint32 {
	return uint32(len(t.instances))
}

func (t *TLAS) Sizes() device.BuildSizes {
	return t.sizes
}

func (t *TLAS) BuildTime() time.Duration {
	return t.buildTime
}

func (t *TLAS) Address() device.DeviceAddress {
	if t.structure == nil {
		return 0
	}
	return t.structure.DeviceAddress()
}

// The structure to bind to descriptor sets. A Rebuild that outgrows the
// current storage replaces it, so descriptor sets must be rewritten after
// Rebuild.
func (t *TLAS) Structure() device.AccelerationStructure {
	return t.structure
}

// Decode the instance records back from device memory.
func (t *TLAS) Instances() ([]device.InstanceRecord, error) {
	if t.instanceBuffer == nil {
		return nil, ErrReleased
	}
	raw := make([]byte, len(t.instances)*device.InstanceRecordSize)
	if err := t.instanceBuffer.Read(0, raw); err != nil {
		return nil, errors.Wrapf(err, "tlas %q: could not read instance records", t.name)
	}
	return device.DecodeInstanceRecords(raw, len(t.instances))
}

// Rewrite the instance records and rebuild the structure in place. The
// storage, scratch and instance buffers are reallocated only when the new
// instance count needs more room.
func (t *TLAS) Rebuild(ctx context.Context, instances []Instance) error {
	if t.structure == nil {
		return ErrReleased
	}
	return t.builder.build(ctx, t, instances)
}

func (t *TLAS) releaseStorage() {
	if t.structure != nil {
		t.structure.Release()
		t.structure = nil
	}
	if t.buffer != nil {
		t.buffer.Release()
		t.buffer = nil
	}
}

// Release the structure, its storage and the instance buffer. Referenced
// BLAS are not released.
func (t *TLAS) Release() {
	t.releaseStorage()
	if t.instanceBuffer != nil {
		t.instanceBuffer.Release()
		t.instanceBuffer = nil
	}
}

// TLASBuilder builds top-level structures over instances.
type TLASBuilder struct {
	logger    log.Logger
	dev       device.Device
	submitter *device.Submitter
}

// Create a TLAS builder.
func NewTLASBuilder(dev device.Device, submitter *device.Submitter) *TLASBuilder {
	return &TLASBuilder{
		logger:    log.New("tlas builder"),
		dev:       dev,
		submitter: submitter,
	}
}

// Build a TLAS over instances and block until the build completes.
func (b *TLASBuilder) Build(ctx context.Context, name string, instances []Instance) (*TLAS, error) {
	t := &TLAS{name: name, builder: b}
	if err := b.build(ctx, t, instances); err != nil {
		t.Release()
		return nil, err
	}
	return t, nil
}

func (b *TLASBuilder) build(ctx context.Context, t *TLAS, instances []Instance) error {
	if len(instances) == 0 {
		return errors.Wrapf(ErrNoInstances, "tlas %q", t.name)
	}

	records := make([]device.InstanceRecord, len(instances))
	for i, in := range instances {
		rec, err := in.Record()
		if err != nil {
			return errors.Wrapf(err, "tlas %q: instance %d", t.name, i)
		}
		records[i] = rec
	}
	packed, err := device.EncodeInstanceRecords(records)
	if err != nil {
		return errors.Wrapf(err, "tlas %q", t.name)
	}

	// Upload the records.
	if t.instanceBuffer == nil || t.instanceBuffer.Size() < uint64(len(packed)) {
		buf, err := b.dev.CreateBuffer(device.BufferInfo{
			Name: t.name + " instances",
			Size: uint64(len(packed)),
			Usage: device.BufferUsage(
				device.BufferUsageAccelerationStructureBuildInputReadOnlyBit,
				device.BufferUsageShaderDeviceAddressBit,
			),
			Memory: device.MemoryProperties(vk.MemoryPropertyHostVisibleBit, vk.MemoryPropertyHostCoherentBit),
		})
		if err != nil {
			return errors.Wrapf(err, "tlas %q: could not allocate instance buffer", t.name)
		}
		if t.instanceBuffer != nil {
			t.instanceBuffer.Release()
		}
		t.instanceBuffer = buf
	}
	if err = t.instanceBuffer.Write(0, packed); err != nil {
		return errors.Wrapf(err, "tlas %q: could not write instance records", t.name)
	}
	// Track the buffer contents even if the build below fails.
	t.instances = append(t.instances[:0], instances...)
	instanceAddr, err := t.instanceBuffer.DeviceAddress()
	if err != nil {
		return err
	}

	info := device.BuildGeometryInfo{
		Type:  device.TopLevel,
		Flags: device.BuildPreferFastTraceBit,
		Mode:  device.BuildModeBuild,
		Geometries: []device.Geometry{{
			Type:      device.GeometryTypeInstances,
			Instances: device.InstancesData{Data: instanceAddr},
		}},
	}
	count := uint32(len(instances))
	sizes, err := b.dev.AccelerationStructureBuildSizes(device.BuildTypeDevice, &info, []uint32{count})
	if err != nil {
		return errors.Wrapf(err, "tlas %q: size query failed", t.name)
	}

	if t.structure == nil || t.structure.Size() < sizes.AccelerationStructureSize {
		if t.structure != nil {
			b.logger.Debugf("tlas %q: %d instances need %d bytes; reallocating storage", t.name, count, sizes.AccelerationStructureSize)
		}
		t.releaseStorage()
		if t.buffer, t.structure, err = allocStructure(b.dev, t.name, device.TopLevel, sizes.AccelerationStructureSize); err != nil {
			return errors.Wrapf(err, "tlas %q", t.name)
		}
		t.sizes = sizes
	} else {
		// The existing storage is large enough; keep its reported size.
		t.sizes.BuildScratchSize = sizes.BuildScratchSize
		t.sizes.UpdateScratchSize = sizes.UpdateScratchSize
	}

	scr, err := allocScratch(b.dev, t.name, sizes.BuildScratchSize)
	if err != nil {
		return errors.Wrapf(err, "tlas %q", t.name)
	}
	defer scr.release()

	info.Dst = t.structure
	info.ScratchData = scr.address
	start := time.Now()
	err = b.submitter.Run(ctx, "build top-level structure "+t.name, func(cb device.CommandBuffer) error {
		cb.BuildAccelerationStructures(
			[]device.BuildGeometryInfo{info},
			[][]device.BuildRangeInfo{{{PrimitiveCount: count}}},
		)
		cb.MemoryBarrier(
			device.PipelineStages(device.PipelineStageAccelerationStructureBuildBit),
			device.PipelineStages(device.PipelineStageRayTracingShaderBit),
			device.MemoryBarrier{
				SrcAccess: device.Access(device.AccessAccelerationStructureWriteBit),
				DstAccess: device.Access(device.AccessAccelerationStructureReadBit),
			},
		)
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "tlas builder: build of %q failed", t.name)
	}

	t.buildTime = time.Since(start)
	b.logger.Infof("built %q: %d instances, %d bytes at 0x%x in %s", t.name, count, t.structure.Size(), uint64(t.Address()), t.buildTime)
	return nil
}
