package software

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/achilleasa/vkrt/device"
	"github.com/achilleasa/vkrt/types"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

type traceResult struct {
	hit         bool
	missed      bool
	customIndex uint32
	instanceID  uint32
	primitiveID uint32
	t           float32
	front       bool
	bary        types.Vec2
	record      []byte
}

// A device with one triangle BLAS instanced into a TLAS, a pipeline whose
// raygen traces rays[x] for launch ID x and an SBT.
type traceFixture struct {
	t         *testing.T
	dev       *Device
	submitter *device.Submitter

	blas     device.AccelerationStructure
	tlas     device.AccelerationStructure
	pipeline device.Pipeline
	layout   device.DescriptorSetLayout
	set      device.DescriptorSet
	sbt      device.Buffer
	sbtAddr  device.DeviceAddress

	anyHit  device.AnyHitProgram
	rays    []device.Ray
	results []traceResult
}

var fixtureLayout = device.DescriptorSetLayout{
	Name: "scene",
	Bindings: []device.DescriptorBinding{
		{Binding: 0, Type: device.DescriptorTypeAccelerationStructure, Count: 1, Stages: device.ShaderStages(device.ShaderStageRaygenBit)},
		{Binding: 1, Type: vk.DescriptorTypeStorageImage, Count: 1, Stages: device.ShaderStages(device.ShaderStageRaygenBit)},
	},
}

func newTraceFixture(t *testing.T, profile string) *traceFixture {
	f := &traceFixture{
		t:   t,
		dev: newTestDevice(t, profile),
	}
	f.submitter = device.NewSubmitter(f.dev)
	return f
}

func (f *traceFixture) close() {
	f.submitter.Close()
	f.dev.Close()
}

func (f *traceFixture) run(name string, record device.RecordFunc) error {
	return f.submitter.Run(context.Background(), name, record)
}

func putFloats(dst []byte, values ...float32) {
	for i, v := range values {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v))
	}
}

// The triangle (-1,-1,0) (1,-1,0) (0,1,0) is counter-clockwise when seen
// from +z.
func (f *traceFixture) buildBLAS(geometryFlags device.GeometryFlags) {
	t := f.t
	vertices := hostBuffer(t, f.dev, "vertices", 3*32, device.BufferUsageAccelerationStructureBuildInputReadOnlyBit, device.BufferUsageShaderDeviceAddressBit, vk.BufferUsageStorageBufferBit)
	indices := hostBuffer(t, f.dev, "indices", 3*4, device.BufferUsageAccelerationStructureBuildInputReadOnlyBit, device.BufferUsageShaderDeviceAddressBit, vk.BufferUsageStorageBufferBit)

	raw := make([]byte, 3*32)
	putFloats(raw[0:], -1, -1, 0)
	putFloats(raw[32:], 1, -1, 0)
	putFloats(raw[64:], 0, 1, 0)
	if err := vertices.Write(0, raw); err != nil {
		t.Fatal(err)
	}
	idx := make([]byte, 12)
	binary.LittleEndian.PutUint32(idx[4:], 1)
	binary.LittleEndian.PutUint32(idx[8:], 2)
	if err := indices.Write(0, idx); err != nil {
		t.Fatal(err)
	}

	info := device.BuildGeometryInfo{
		Type: device.BottomLevel,
		Mode: device.BuildModeBuild,
		Geometries: []device.Geometry{{
			Type:  device.GeometryTypeTriangles,
			Flags: geometryFlags,
			Triangles: device.TrianglesData{
				VertexFormat: vk.FormatR32g32b32Sfloat,
				VertexData:   mustAddress(t, vertices),
				VertexStride: 32,
				MaxVertex:    2,
				IndexType:    vk.IndexTypeUint32,
				IndexData:    mustAddress(t, indices),
			},
		}},
	}
	f.blas = f.build(&info, []device.BuildRangeInfo{{PrimitiveCount: 1}})
}

// Allocate storage and scratch, then build.
func (f *traceFixture) build(info *device.BuildGeometryInfo, ranges []device.BuildRangeInfo) device.AccelerationStructure {
	t := f.t
	as, scratch := f.allocate(info, ranges)
	info.Dst = as
	info.ScratchData = scratch
	err := f.run("build", func(cb device.CommandBuffer) error {
		cb.BuildAccelerationStructures([]device.BuildGeometryInfo{*info}, [][]device.BuildRangeInfo{ranges})
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return as
}

func (f *traceFixture) allocate(info *device.BuildGeometryInfo, ranges []device.BuildRangeInfo) (device.AccelerationStructure, device.DeviceAddress) {
	t := f.t
	counts := make([]uint32, len(ranges))
	for i, r := range ranges {
		counts[i] = r.PrimitiveCount
	}
	sizes, err := f.dev.AccelerationStructureBuildSizes(device.BuildTypeDevice, info, counts)
	if err != nil {
		t.Fatal(err)
	}

	storage := hostBuffer(t, f.dev, "as storage", sizes.AccelerationStructureSize, device.BufferUsageAccelerationStructureStorageBit, device.BufferUsageShaderDeviceAddressBit)
	as, err := f.dev.CreateAccelerationStructure(device.AccelerationStructureInfo{
		Name:   info.Type.String(),
		Type:   info.Type,
		Buffer: storage,
		Size:   sizes.AccelerationStructureSize,
	})
	if err != nil {
		t.Fatal(err)
	}

	align := uint64(f.dev.Info().AccelerationStructure.MinScratchOffsetAlignment)
	scratch := hostBuffer(t, f.dev, "scratch", sizes.BuildScratchSize+align, vk.BufferUsageStorageBufferBit, device.BufferUsageShaderDeviceAddressBit)
	return as, device.DeviceAddress(alignUp(uint64(mustAddress(t, scratch)), align))
}

func (f *traceFixture) instanceBuffer(records []device.InstanceRecord) device.Buffer {
	t := f.t
	data, err := device.EncodeInstanceRecords(records)
	if err != nil {
		t.Fatal(err)
	}
	buf := hostBuffer(t, f.dev, "instances", uint64(len(data)), device.BufferUsageAccelerationStructureBuildInputReadOnlyBit, device.BufferUsageShaderDeviceAddressBit)
	if err = buf.Write(0, data); err != nil {
		t.Fatal(err)
	}
	return buf
}

func tlasInfo(instances device.DeviceAddress) device.BuildGeometryInfo {
	return device.BuildGeometryInfo{
		Type: device.TopLevel,
		Mode: device.BuildModeBuild,
		Geometries: []device.Geometry{{
			Type:      device.GeometryTypeInstances,
			Instances: device.InstancesData{Data: instances},
		}},
	}
}

// Instance i is translated by 10*i along x.
func (f *traceFixture) buildTLAS(records ...device.InstanceRecord) {
	for i := range records {
		records[i].Transform = types.Compose(types.XYZ(float32(10*i), 0, 0), types.XYZ(0, 1, 0), 0, types.XYZ(1, 1, 1))
		if records[i].Mask == 0 {
			records[i].Mask = 0xff
		}
		records[i].AccelerationStructureReference = f.blas.DeviceAddress()
	}
	buf := f.instanceBuffer(records)
	info := tlasInfo(mustAddress(f.t, buf))
	f.tlas = f.build(&info, []device.BuildRangeInfo{{PrimitiveCount: uint32(len(records))}})
}

func (f *traceFixture) createPipeline() {
	t := f.t
	rayGen := device.RayGenProgram(func(ctx device.RayGenContext) error {
		x := ctx.LaunchID()[0]
		as, err := ctx.AccelerationStructure(0, 0)
		if err != nil {
			return err
		}
		return ctx.TraceRay(as, f.rays[x], &f.results[x])
	})
	miss := device.MissProgram(func(ctx device.MissContext, payload interface{}) error {
		res := payload.(*traceResult)
		res.missed = true
		res.record = append([]byte{}, ctx.ShaderRecord()...)
		return nil
	})
	closestHit := device.ClosestHitProgram(func(ctx device.HitContext, payload interface{}) error {
		res := payload.(*traceResult)
		res.hit = true
		res.customIndex = ctx.InstanceCustomIndex()
		res.instanceID = ctx.InstanceID()
		res.primitiveID = ctx.PrimitiveID()
		res.t = ctx.HitT()
		res.front = ctx.FrontFacing()
		res.bary = ctx.Barycentrics()
		res.record = append([]byte{}, ctx.ShaderRecord()...)
		return nil
	})

	stages := []device.ShaderStage{
		{Stage: device.ShaderStageRaygenBit, Entry: "raygen", Program: rayGen},
		{Stage: device.ShaderStageMissBit, Entry: "miss", Program: miss},
		{Stage: device.ShaderStageClosestHitBit, Entry: "closest-hit", Program: closestHit},
	}
	anyHitIndex := device.ShaderUnused
	if f.anyHit != nil {
		anyHitIndex = uint32(len(stages))
		stages = append(stages, device.ShaderStage{Stage: device.ShaderStageAnyHitBit, Entry: "any-hit", Program: f.anyHit})
	}

	var err error
	f.layout = fixtureLayout
	f.pipeline, err = f.dev.CreateRayTracingPipeline(device.PipelineInfo{
		Name:   "fixture",
		Stages: stages,
		Groups: []device.ShaderGroup{
			device.GeneralGroup(0),
			device.GeneralGroup(1),
			device.TrianglesHitGroup(2, anyHitIndex),
		},
		SetLayouts:        []device.DescriptorSetLayout{f.layout},
		MaxRecursionDepth: 1,
	})
	if err != nil {
		t.Fatal(err)
	}

	if f.set, err = f.dev.AllocateDescriptorSet(f.layout); err != nil {
		t.Fatal(err)
	}
	if err = f.set.WriteAccelerationStructure(0, f.tlas); err != nil {
		t.Fatal(err)
	}
}

// Write an SBT with 64-byte records: raygen at 0, one miss record at 64
// and the hit records from 128. Each hit record carries its data after the
// handle.
func (f *traceFixture) writeSBT(hitData ...[]byte) traceRegions {
	t := f.t
	handles, err := f.dev.ShaderGroupHandles(f.pipeline, 0, 3)
	if err != nil {
		t.Fatal(err)
	}
	const stride = 64
	size := uint64(stride * (2 + len(hitData)))
	f.sbt = hostBuffer(t, f.dev, "sbt", size, device.BufferUsageShaderBindingTableBit, device.BufferUsageShaderDeviceAddressBit)
	f.sbtAddr = mustAddress(t, f.sbt)

	table := make([]byte, size)
	copy(table[0:], handles[0:32])
	copy(table[stride:], handles[32:64])
	copy(table[stride+32:], []byte("miss"))
	for i, data := range hitData {
		copy(table[stride*(2+i):], handles[64:96])
		copy(table[stride*(2+i)+32:], data)
	}
	if err = f.sbt.Write(0, table); err != nil {
		t.Fatal(err)
	}

	return traceRegions{
		raygen: device.StridedRegion{DeviceAddress: f.sbtAddr, Stride: stride, Size: stride},
		miss:   device.StridedRegion{DeviceAddress: f.sbtAddr.Add(stride), Stride: stride, Size: stride},
		hit:    device.StridedRegion{DeviceAddress: f.sbtAddr.Add(2 * stride), Stride: stride, Size: stride * uint64(len(hitData))},
	}
}

func (f *traceFixture) trace(regions traceRegions, rays ...device.Ray) error {
	f.rays = rays
	f.results = make([]traceResult, len(rays))
	return f.run("trace", func(cb device.CommandBuffer) error {
		cb.BindRayTracingPipeline(f.pipeline)
		cb.BindDescriptorSets(f.pipeline, 0, f.set)
		cb.TraceRays(regions.raygen, regions.miss, regions.hit, regions.callable, uint32(len(rays)), 1, 1)
		return nil
	})
}

// A ray travelling down -z towards instance i.
func rayAt(instance int, dx float32) device.Ray {
	return device.Ray{
		CullMask:        0xff,
		SBTRecordStride: 1,
		Origin:          types.XYZ(float32(10*instance)+dx, 0, 2),
		Direction:       types.XYZ(0, 0, -1),
		TMax:            100,
	}
}

func approx(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-5
}

func TestTraceHitAndMiss(t *testing.T) {
	f := newTraceFixture(t, "nvidia-like")
	defer f.close()

	f.buildBLAS(device.GeometryOpaqueBit)
	f.buildTLAS(device.InstanceRecord{CustomIndex: 7})
	f.createPipeline()
	regions := f.writeSBT([]byte("red"))

	if err := f.trace(regions, rayAt(0, 0), rayAt(0, 5)); err != nil {
		t.Fatal(err)
	}

	hit := f.results[0]
	if !hit.hit || hit.missed {
		t.Fatalf("expected the first ray to hit; got %+v", hit)
	}
	if hit.customIndex != 7 || hit.instanceID != 0 || hit.primitiveID != 0 {
		t.Fatalf("expected custom index 7, instance 0 and primitive 0; got %+v", hit)
	}
	if !approx(hit.t, 2) {
		t.Fatalf("expected hit distance 2; got %f", hit.t)
	}
	if !hit.front {
		t.Fatal("expected a counter-clockwise triangle to be front facing")
	}
	if !approx(hit.bary[0], 0.25) || !approx(hit.bary[1], 0.5) {
		t.Fatalf("expected barycentrics (0.25, 0.5); got %v", hit.bary)
	}
	if !bytes.HasPrefix(hit.record, []byte("red")) || len(hit.record) != 32 {
		t.Fatalf("expected a 32 byte shader record starting with %q; got %q", "red", hit.record)
	}

	miss := f.results[1]
	if !miss.missed || miss.hit {
		t.Fatalf("expected the second ray to miss; got %+v", miss)
	}
	if !bytes.HasPrefix(miss.record, []byte("miss")) {
		t.Fatalf("expected the miss shader record; got %q", miss.record)
	}
}

func TestTraceHitGroupIndexing(t *testing.T) {
	f := newTraceFixture(t, "nvidia-like")
	defer f.close()

	f.buildBLAS(device.GeometryOpaqueBit)
	f.buildTLAS(
		device.InstanceRecord{CustomIndex: 0, SBTRecordOffset: 0},
		device.InstanceRecord{CustomIndex: 1, SBTRecordOffset: 1},
	)
	f.createPipeline()
	regions := f.writeSBT([]byte("first"), []byte("second"))

	if err := f.trace(regions, rayAt(0, 0), rayAt(1, 0)); err != nil {
		t.Fatal(err)
	}

	for i, exp := range []string{"first", "second"} {
		res := f.results[i]
		if !res.hit {
			t.Fatalf("[ray %d] expected a hit", i)
		}
		if res.instanceID != uint32(i) {
			t.Fatalf("[ray %d] expected instance %d; got %d", i, i, res.instanceID)
		}
		if !bytes.HasPrefix(res.record, []byte(exp)) {
			t.Fatalf("[ray %d] expected shader record %q; got %q", i, exp, res.record)
		}
	}
}

func TestTraceFacingAndFlags(t *testing.T) {
	specs := []struct {
		instanceFlags device.InstanceFlags
		rayFlags      device.RayFlags
		mask          uint8
		cullMask      uint8
		fromBehind    bool
		expHit        bool
		expFront      bool
	}{
		{0, 0, 0xff, 0xff, false, true, true},
		{0, 0, 0xff, 0xff, true, true, false},
		{0, device.RayFlagCullBackFacingTriangles, 0xff, 0xff, true, false, false},
		{0, device.RayFlagCullFrontFacingTriangles, 0xff, 0xff, false, false, false},
		{device.InstanceTriangleFacingCullDisableBit, device.RayFlagCullBackFacingTriangles, 0xff, 0xff, true, true, false},
		{device.InstanceTriangleFlipFacingBit, 0, 0xff, 0xff, false, true, false},
		{device.InstanceTriangleFlipFacingBit, device.RayFlagCullFrontFacingTriangles, 0xff, 0xff, true, false, false},
		{0, 0, 0x01, 0x02, false, false, false},
		{0, 0, 0x03, 0x02, false, true, true},
	}

	for specIndex, spec := range specs {
		f := newTraceFixture(t, "nvidia-like")
		f.buildBLAS(device.GeometryOpaqueBit)
		f.buildTLAS(device.InstanceRecord{Flags: spec.instanceFlags, Mask: spec.mask})
		f.createPipeline()
		regions := f.writeSBT(nil)

		ray := rayAt(0, 0)
		ray.Flags = spec.rayFlags
		ray.CullMask = spec.cullMask
		if spec.fromBehind {
			ray.Origin = types.XYZ(0, 0, -2)
			ray.Direction = types.XYZ(0, 0, 1)
		}
		if err := f.trace(regions, ray); err != nil {
			t.Fatalf("[spec %d] %v", specIndex, err)
		}

		res := f.results[0]
		if res.hit != spec.expHit {
			t.Fatalf("[spec %d] expected hit to be %t; got %t", specIndex, spec.expHit, res.hit)
		}
		if res.hit && res.front != spec.expFront {
			t.Fatalf("[spec %d] expected front facing to be %t; got %t", specIndex, spec.expFront, res.front)
		}
		f.close()
	}
}

func TestTraceAnyHit(t *testing.T) {
	specs := []struct {
		geometryFlags device.GeometryFlags
		instanceFlags device.InstanceFlags
		rayFlags      device.RayFlags
		expHit        bool
		expCalls      int
	}{
		// Non-opaque geometry runs the any-hit program which ignores it.
		{0, 0, 0, false, 1},
		{device.GeometryOpaqueBit, 0, 0, true, 0},
		{0, device.InstanceForceOpaqueBit, 0, true, 0},
		{device.GeometryOpaqueBit, device.InstanceForceNoOpaqueBit, 0, false, 1},
		{0, 0, device.RayFlagOpaque, true, 0},
		{device.GeometryOpaqueBit, device.InstanceForceOpaqueBit, device.RayFlagNoOpaque, false, 1},
	}

	for specIndex, spec := range specs {
		calls := 0
		f := newTraceFixture(t, "nvidia-like")
		f.anyHit = device.AnyHitProgram(func(ctx device.HitContext, payload interface{}) (bool, error) {
			calls++
			return false, nil
		})
		f.buildBLAS(spec.geometryFlags)
		f.buildTLAS(device.InstanceRecord{Flags: spec.instanceFlags})
		f.createPipeline()
		regions := f.writeSBT(nil)

		ray := rayAt(0, 0)
		ray.Flags = spec.rayFlags
		if err := f.trace(regions, ray); err != nil {
			t.Fatalf("[spec %d] %v", specIndex, err)
		}
		if f.results[0].hit != spec.expHit {
			t.Fatalf("[spec %d] expected hit to be %t; got %t", specIndex, spec.expHit, f.results[0].hit)
		}
		if calls != spec.expCalls {
			t.Fatalf("[spec %d] expected %d any-hit calls; got %d", specIndex, spec.expCalls, calls)
		}
		f.close()
	}
}

func TestTraceSkipClosestHit(t *testing.T) {
	f := newTraceFixture(t, "nvidia-like")
	defer f.close()

	f.buildBLAS(device.GeometryOpaqueBit)
	f.buildTLAS(device.InstanceRecord{})
	f.createPipeline()
	regions := f.writeSBT(nil)

	ray := rayAt(0, 0)
	ray.Flags = device.RayFlagSkipClosestHitShader | device.RayFlagTerminateOnFirstHit
	if err := f.trace(regions, ray); err != nil {
		t.Fatal(err)
	}
	if res := f.results[0]; res.hit || res.missed {
		t.Fatalf("expected neither closest-hit nor miss to run; got %+v", res)
	}
}

func TestTraceSBTValidation(t *testing.T) {
	specs := []struct {
		descr  string
		mutate func(f *traceFixture, r *traceRegions, ray *device.Ray)
		expErr error
	}{
		{
			"misaligned raygen address",
			func(f *traceFixture, r *traceRegions, _ *device.Ray) {
				r.raygen.DeviceAddress = r.raygen.DeviceAddress.Add(32)
			},
			device.ErrInvalidSBT,
		},
		{
			"raygen size differs from stride",
			func(f *traceFixture, r *traceRegions, _ *device.Ray) { r.raygen.Size = 128 },
			device.ErrInvalidSBT,
		},
		{
			"stride not a multiple of the handle alignment",
			func(f *traceFixture, r *traceRegions, _ *device.Ray) { r.hit.Stride = 48 },
			device.ErrInvalidSBT,
		},
		{
			"stride above the device maximum",
			func(f *traceFixture, r *traceRegions, _ *device.Ray) { r.miss.Stride = 8192 },
			device.ErrInvalidSBT,
		},
		{
			"region overruns the buffer",
			func(f *traceFixture, r *traceRegions, _ *device.Ray) { r.hit.Size = 4096 },
			device.ErrInvalidSBT,
		},
		{
			"empty raygen region",
			func(f *traceFixture, r *traceRegions, _ *device.Ray) { r.raygen = device.StridedRegion{} },
			device.ErrInvalidSBT,
		},
		{
			"hit record index beyond the hit region",
			func(f *traceFixture, r *traceRegions, ray *device.Ray) { ray.SBTRecordOffset = 3 },
			device.ErrInvalidSBT,
		},
		{
			"miss index beyond the miss region",
			func(f *traceFixture, r *traceRegions, ray *device.Ray) {
				ray.MissIndex = 1
				ray.Origin = types.XYZ(50, 0, 2)
			},
			device.ErrInvalidSBT,
		},
		{
			"raygen record holds a miss handle",
			func(f *traceFixture, r *traceRegions, _ *device.Ray) { r.raygen.DeviceAddress = r.miss.DeviceAddress },
			device.ErrInvalidSBT,
		},
	}

	for specIndex, spec := range specs {
		f := newTraceFixture(t, "nvidia-like")
		f.buildBLAS(device.GeometryOpaqueBit)
		f.buildTLAS(device.InstanceRecord{})
		f.createPipeline()
		regions := f.writeSBT(nil)

		ray := rayAt(0, 0)
		spec.mutate(f, &regions, &ray)
		err := f.trace(regions, ray)
		if errors.Cause(err) != spec.expErr {
			t.Fatalf("[spec %d] %s: expected error %v; got %v", specIndex, spec.descr, spec.expErr, err)
		}
		f.close()
	}
}

func TestTraceRequiresSBTUsage(t *testing.T) {
	f := newTraceFixture(t, "nvidia-like")
	defer f.close()

	f.buildBLAS(device.GeometryOpaqueBit)
	f.buildTLAS(device.InstanceRecord{})
	f.createPipeline()
	regions := f.writeSBT(nil)

	// Same contents in a buffer without shader binding table usage.
	plain := hostBuffer(t, f.dev, "plain", f.sbt.Size(), device.BufferUsageShaderDeviceAddressBit)
	table := make([]byte, f.sbt.Size())
	if err := f.sbt.Read(0, table); err != nil {
		t.Fatal(err)
	}
	if err := plain.Write(0, table); err != nil {
		t.Fatal(err)
	}
	regions.raygen.DeviceAddress = mustAddress(t, plain)

	if err := f.trace(regions, rayAt(0, 0)); errors.Cause(err) != device.ErrInvalidSBT {
		t.Fatalf("expected ErrInvalidSBT; got %v", err)
	}
}

func TestTraceRequiresGeneralLayout(t *testing.T) {
	f := newTraceFixture(t, "nvidia-like")
	defer f.close()

	f.buildBLAS(device.GeometryOpaqueBit)
	f.buildTLAS(device.InstanceRecord{})
	f.createPipeline()
	regions := f.writeSBT(nil)

	img, err := f.dev.CreateImage(device.ImageInfo{
		Name:   "output",
		Width:  1,
		Height: 1,
		Format: vk.FormatR8g8b8a8Unorm,
		Usage:  device.ImageUsage(vk.ImageUsageStorageBit),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err = f.set.WriteStorageImage(1, img); err != nil {
		t.Fatal(err)
	}

	if err = f.trace(regions, rayAt(0, 0)); errors.Cause(err) != device.ErrInvalidLayout {
		t.Fatalf("expected ErrInvalidLayout for an undefined storage image; got %v", err)
	}
}

func TestDescriptorWrites(t *testing.T) {
	f := newTraceFixture(t, "nvidia-like")
	defer f.close()

	f.buildBLAS(device.GeometryOpaqueBit)
	set, err := f.dev.AllocateDescriptorSet(fixtureLayout)
	if err != nil {
		t.Fatal(err)
	}

	if err = set.WriteAccelerationStructure(0, f.blas); errors.Cause(err) != device.ErrInvalidDescriptor {
		t.Fatalf("expected a bottom-level structure to be rejected; got %v", err)
	}
	if err = set.WriteAccelerationStructure(1, f.blas); errors.Cause(err) != device.ErrInvalidDescriptor {
		t.Fatalf("expected a type mismatch to be rejected; got %v", err)
	}

	img, err := f.dev.CreateImage(device.ImageInfo{
		Name:   "sampled",
		Width:  1,
		Height: 1,
		Format: vk.FormatR8g8b8a8Unorm,
		Usage:  device.ImageUsage(vk.ImageUsageTransferSrcBit),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err = set.WriteStorageImage(1, img); errors.Cause(err) != device.ErrInvalidUsage {
		t.Fatalf("expected an image without storage usage to be rejected; got %v", err)
	}

	buf := hostBuffer(t, f.dev, "uniform", 16, vk.BufferUsageUniformBufferBit)
	if err = set.WriteBuffer(0, 0, buf); errors.Cause(err) != device.ErrInvalidDescriptor {
		t.Fatalf("expected a buffer write to a non-buffer binding to be rejected; got %v", err)
	}

	duplicate := device.DescriptorSetLayout{Name: "dup", Bindings: []device.DescriptorBinding{
		{Binding: 0, Type: vk.DescriptorTypeUniformBuffer, Count: 1},
		{Binding: 0, Type: vk.DescriptorTypeStorageBuffer, Count: 1},
	}}
	if _, err = f.dev.AllocateDescriptorSet(duplicate); errors.Cause(err) != device.ErrInvalidDescriptor {
		t.Fatalf("expected duplicate bindings to be rejected; got %v", err)
	}
}

func TestPipelineValidation(t *testing.T) {
	dev := newTestDevice(t, "nvidia-like")
	defer dev.Close()

	rayGen := device.RayGenProgram(func(device.RayGenContext) error { return nil })
	miss := device.MissProgram(func(device.MissContext, interface{}) error { return nil })

	specs := []struct {
		descr string
		info  device.PipelineInfo
	}{
		{
			"no groups",
			device.PipelineInfo{
				Stages:            []device.ShaderStage{{Stage: device.ShaderStageRaygenBit, Program: rayGen}},
				MaxRecursionDepth: 1,
			},
		},
		{
			"recursion depth above the limit",
			device.PipelineInfo{
				Stages:            []device.ShaderStage{{Stage: device.ShaderStageRaygenBit, Program: rayGen}},
				Groups:            []device.ShaderGroup{device.GeneralGroup(0)},
				MaxRecursionDepth: 32,
			},
		},
		{
			"program type does not match the stage",
			device.PipelineInfo{
				Stages:            []device.ShaderStage{{Stage: device.ShaderStageRaygenBit, Program: miss}},
				Groups:            []device.ShaderGroup{device.GeneralGroup(0)},
				MaxRecursionDepth: 1,
			},
		},
		{
			"hit group referencing a miss stage",
			device.PipelineInfo{
				Stages: []device.ShaderStage{
					{Stage: device.ShaderStageRaygenBit, Program: rayGen},
					{Stage: device.ShaderStageMissBit, Program: miss},
				},
				Groups:            []device.ShaderGroup{device.GeneralGroup(0), device.TrianglesHitGroup(1, device.ShaderUnused)},
				MaxRecursionDepth: 1,
			},
		},
	}

	for specIndex, spec := range specs {
		if _, err := dev.CreateRayTracingPipeline(spec.info); err == nil {
			t.Fatalf("[spec %d] %s: expected an error", specIndex, spec.descr)
		}
	}
}

func TestShaderGroupHandles(t *testing.T) {
	dev := newTestDevice(t, "nvidia-like")
	defer dev.Close()

	rayGen := device.RayGenProgram(func(device.RayGenContext) error { return nil })
	miss := device.MissProgram(func(device.MissContext, interface{}) error { return nil })
	info := device.PipelineInfo{
		Name: "handles",
		Stages: []device.ShaderStage{
			{Stage: device.ShaderStageRaygenBit, Program: rayGen},
			{Stage: device.ShaderStageMissBit, Program: miss},
		},
		Groups:            []device.ShaderGroup{device.GeneralGroup(0), device.GeneralGroup(1)},
		MaxRecursionDepth: 1,
	}
	p1, err := dev.CreateRayTracingPipeline(info)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := dev.CreateRayTracingPipeline(info)
	if err != nil {
		t.Fatal(err)
	}

	h1, err := dev.ShaderGroupHandles(p1, 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(h1) != 64 {
		t.Fatalf("expected 64 bytes of handles; got %d", len(h1))
	}
	if bytes.Equal(h1[:32], h1[32:]) {
		t.Fatal("expected distinct handles for distinct groups")
	}
	h2, err := dev.ShaderGroupHandles(p2, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(h1[:32], h2) {
		t.Fatal("expected distinct handles for distinct pipelines")
	}

	if _, err = dev.ShaderGroupHandles(p1, 1, 2); errors.Cause(err) != device.ErrOutOfRange {
		t.Fatalf("expected ErrOutOfRange; got %v", err)
	}
}

func TestBuildValidation(t *testing.T) {
	specs := []struct {
		descr  string
		mutate func(f *traceFixture, info *device.BuildGeometryInfo)
		expErr error
	}{
		{
			"misaligned scratch",
			func(f *traceFixture, info *device.BuildGeometryInfo) { info.ScratchData = info.ScratchData.Add(8) },
			device.ErrInvalidAlignment,
		},
		{
			"missing scratch",
			func(f *traceFixture, info *device.BuildGeometryInfo) { info.ScratchData = 0 },
			device.ErrInvalidBuild,
		},
		{
			"update without a source",
			func(f *traceFixture, info *device.BuildGeometryInfo) { info.Mode = device.BuildModeUpdate },
			device.ErrInvalidBuild,
		},
		{
			"update of a structure built without allow-update",
			func(f *traceFixture, info *device.BuildGeometryInfo) {
				info.Mode = device.BuildModeUpdate
				info.Src = f.tlas
			},
			device.ErrInvalidBuild,
		},
		{
			"unknown instance reference",
			func(f *traceFixture, info *device.BuildGeometryInfo) {
				buf := f.instanceBuffer([]device.InstanceRecord{{Transform: types.Identity(), Mask: 0xff, AccelerationStructureReference: 0xdead00}})
				info.Geometries[0].Instances.Data = mustAddress(f.t, buf)
			},
			device.ErrInvalidBuild,
		},
	}

	for specIndex, spec := range specs {
		f := newTraceFixture(t, "nvidia-like")
		f.buildBLAS(device.GeometryOpaqueBit)
		f.buildTLAS(device.InstanceRecord{})

		records := []device.InstanceRecord{{Transform: types.Identity(), Mask: 0xff, AccelerationStructureReference: f.blas.DeviceAddress()}}
		info := tlasInfo(mustAddress(t, f.instanceBuffer(records)))
		ranges := []device.BuildRangeInfo{{PrimitiveCount: 1}}
		info.Dst, info.ScratchData = f.allocate(&info, ranges)
		spec.mutate(f, &info)

		err := f.run("build", func(cb device.CommandBuffer) error {
			cb.BuildAccelerationStructures([]device.BuildGeometryInfo{info}, [][]device.BuildRangeInfo{ranges})
			return nil
		})
		if errors.Cause(err) != spec.expErr {
			t.Fatalf("[spec %d] %s: expected error %v; got %v", specIndex, spec.descr, spec.expErr, err)
		}
		f.close()
	}
}

func TestBuildSizes(t *testing.T) {
	dev := newTestDevice(t, "nvidia-like")
	defer dev.Close()

	info := tlasInfo(0)
	sizes, err := dev.AccelerationStructureBuildSizes(device.BuildTypeDevice, &info, []uint32{3})
	if err != nil {
		t.Fatal(err)
	}
	if sizes.AccelerationStructureSize == 0 || sizes.BuildScratchSize == 0 {
		t.Fatalf("expected non-zero sizes; got %+v", sizes)
	}
	if sizes.AccelerationStructureSize%256 != 0 {
		t.Fatalf("expected structure size to be a multiple of 256; got %d", sizes.AccelerationStructureSize)
	}

	if _, err = dev.AccelerationStructureBuildSizes(device.BuildTypeHost, &info, []uint32{3}); errors.Cause(err) != device.ErrInvalidBuild {
		t.Fatalf("expected host builds to be rejected; got %v", err)
	}
	if _, err = dev.AccelerationStructureBuildSizes(device.BuildTypeDevice, &info, nil); errors.Cause(err) != device.ErrInvalidBuild {
		t.Fatalf("expected a primitive count mismatch to be rejected; got %v", err)
	}
}
