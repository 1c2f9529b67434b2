package accel

import (
	"context"
	"fmt"
	"time"

	"github.com/achilleasa/vkrt/device"
	"github.com/achilleasa/vkrt/geometry"
	"github.com/achilleasa/vkrt/log"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// BLAS is a built bottom-level acceleration structure over one or more
// resident geometries.
type BLAS struct {
	name       string
	geometries []*geometry.Resident
	sizes      device.BuildSizes
	buildTime  time.Duration

	buffer    device.Buffer
	structure device.AccelerationStructure
}

func (b *BLAS) Name() string {
	return b.name
}

// The geometries in build order. The position of a geometry in this list is
// the geometry index seen by hit programs.
func (b *BLAS) Geometries() []*geometry.Resident {
	return b.geometries
}

func (b *BLAS) GeometryCount() uint32 {
	return uint32(len(b.geometries))
}

// Total triangles across all geometries.
func (b *BLAS) TriangleCount() uint32 {
	var total uint32
	for _, g := range b.geometries {
		total += g.TriangleCount
	}
	return total
}

// The sizes reported by the driver for this build.
func (b *BLAS) Sizes() device.BuildSizes {
	return b.sizes
}

func (b *BLAS) BuildTime() time.Duration {
	return b.buildTime
}

// The address that instance records use to reference this structure. It is
// zero once the structure is released.
func (b *BLAS) Address() device.DeviceAddress {
	if b.structure == nil {
		return 0
	}
	return b.structure.DeviceAddress()
}

func (b *BLAS) Structure() device.AccelerationStructure {
	return b.structure
}

// Release the structure and its storage buffer. The resident geometries are
// owned by the geometry store.
func (b *BLAS) Release() {
	if b.structure != nil {
		b.structure.Release()
		b.structure = nil
	}
	if b.buffer != nil {
		b.buffer.Release()
		b.buffer = nil
	}
}

// BLASRequest describes one bottom-level build of a batch.
type BLASRequest struct {
	Name       string
	Geometries []*geometry.Resident
	Flags      device.BuildFlags
}

// BLASBuilder builds bottom-level structures using the query, allocate,
// build and await protocol. Scratch buffers are released once the build
// completes.
type BLASBuilder struct {
	logger    log.Logger
	dev       device.Device
	submitter *device.Submitter
}

// Create a BLAS builder.
func NewBLASBuilder(dev device.Device, submitter *device.Submitter) *BLASBuilder {
	return &BLASBuilder{
		logger:    log.New("blas builder"),
		dev:       dev,
		submitter: submitter,
	}
}

// A build that has been allocated but not yet recorded.
type blasBuild struct {
	blas    *BLAS
	info    device.BuildGeometryInfo
	ranges  []device.BuildRangeInfo
	scratch *scratch
}

// Describe each resident geometry as a triangle set.
func describeTriangles(geometries []*geometry.Resident) ([]device.Geometry, []device.BuildRangeInfo, []uint32) {
	geoms := make([]device.Geometry, len(geometries))
	ranges := make([]device.BuildRangeInfo, len(geometries))
	counts := make([]uint32, len(geometries))
	for i, g := range geometries {
		var flags device.GeometryFlags
		if g.Opaque {
			flags |= device.GeometryOpaqueBit
		}
		geoms[i] = device.Geometry{
			Type:  device.GeometryTypeTriangles,
			Flags: flags,
			Triangles: device.TrianglesData{
				VertexFormat:  vk.FormatR32g32b32Sfloat,
				VertexData:    g.VertexAddress,
				VertexStride:  geometry.VertexStride,
				MaxVertex:     g.MaxVertex(),
				IndexType:     vk.IndexTypeUint32,
				IndexData:     g.IndexAddress,
				TransformData: g.TransformAddress,
			},
		}
		ranges[i] = device.BuildRangeInfo{PrimitiveCount: g.TriangleCount}
		counts[i] = g.TriangleCount
	}
	return geoms, ranges, counts
}

// Query sizes and allocate the storage and scratch buffers of one build.
func (b *BLASBuilder) prepare(req BLASRequest) (*blasBuild, error) {
	if len(req.Geometries) == 0 {
		return nil, errors.Wrapf(ErrNoGeometries, "blas %q", req.Name)
	}

	geoms, ranges, counts := describeTriangles(req.Geometries)
	info := device.BuildGeometryInfo{
		Type:       device.BottomLevel,
		Flags:      req.Flags | device.BuildPreferFastTraceBit,
		Mode:       device.BuildModeBuild,
		Geometries: geoms,
	}

	sizes, err := b.dev.AccelerationStructureBuildSizes(device.BuildTypeDevice, &info, counts)
	if err != nil {
		return nil, errors.Wrapf(err, "blas %q: size query failed", req.Name)
	}

	buf, as, err := allocStructure(b.dev, req.Name, device.BottomLevel, sizes.AccelerationStructureSize)
	if err != nil {
		return nil, errors.Wrapf(err, "blas %q", req.Name)
	}
	scr, err := allocScratch(b.dev, req.Name, sizes.BuildScratchSize)
	if err != nil {
		as.Release()
		buf.Release()
		return nil, errors.Wrapf(err, "blas %q", req.Name)
	}

	info.Dst = as
	info.ScratchData = scr.address
	return &blasBuild{
		blas: &BLAS{
			name:       req.Name,
			geometries: append([]*geometry.Resident{}, req.Geometries...),
			sizes:      sizes,
			buffer:     buf,
			structure:  as,
		},
		info:    info,
		ranges:  ranges,
		scratch: scr,
	}, nil
}

// Build a single BLAS over the given geometries and block until the build
// completes.
func (b *BLASBuilder) Build(ctx context.Context, name string, geometries ...*geometry.Resident) (*BLAS, error) {
	out, err := b.BuildBatch(ctx, []BLASRequest{{Name: name, Geometries: geometries}})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// Build several BLAS with a single submission. Each build gets its own
// scratch buffer so the builds do not depend on each other. The call blocks
// until all of them complete.
func (b *BLASBuilder) BuildBatch(ctx context.Context, requests []BLASRequest) ([]*BLAS, error) {
	builds := make([]*blasBuild, 0, len(requests))
	defer func() {
		for _, bb := range builds {
			bb.scratch.release()
		}
	}()
	releaseAll := func() {
		for _, bb := range builds {
			bb.blas.Release()
		}
	}

	for _, req := range requests {
		bb, err := b.prepare(req)
		if err != nil {
			releaseAll()
			return nil, err
		}
		builds = append(builds, bb)
	}

	start := time.Now()
	err := b.submitter.Run(ctx, fmt.Sprintf("build %d bottom-level structures", len(builds)), func(cb device.CommandBuffer) error {
		infos := make([]device.BuildGeometryInfo, len(builds))
		ranges := make([][]device.BuildRangeInfo, len(builds))
		for i, bb := range builds {
			infos[i] = bb.info
			ranges[i] = bb.ranges
		}
		cb.BuildAccelerationStructures(infos, ranges)

		// Make the results visible to subsequent top-level builds.
		cb.MemoryBarrier(
			device.PipelineStages(device.PipelineStageAccelerationStructureBuildBit),
			device.PipelineStages(device.PipelineStageAccelerationStructureBuildBit),
			device.MemoryBarrier{
				SrcAccess: device.Access(device.AccessAccelerationStructureWriteBit),
				DstAccess: device.Access(device.AccessAccelerationStructureReadBit),
			},
		)
		return nil
	})
	if err != nil {
		releaseAll()
		return nil, errors.Wrap(err, "blas builder: build failed")
	}
	elapsed := time.Since(start)

	out := make([]*BLAS, len(builds))
	for i, bb := range builds {
		bb.blas.buildTime = elapsed
		out[i] = bb.blas
		b.logger.Debugf("built %q: %d geometries, %d triangles, %d bytes at 0x%x (scratch %d bytes)",
			bb.blas.name, bb.blas.GeometryCount(), bb.blas.TriangleCount(), bb.blas.sizes.AccelerationStructureSize, uint64(bb.blas.Address()), bb.blas.sizes.BuildScratchSize)
	}
	b.logger.Infof("built %d bottom-level structures in %s", len(out), elapsed)
	return out, nil
}
