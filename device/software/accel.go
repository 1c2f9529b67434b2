package software

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/achilleasa/vkrt/device"
	"github.com/achilleasa/vkrt/device/software/bvh"
	"github.com/achilleasa/vkrt/types"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// Size model used by build size queries. The numbers are loosely based on
// what desktop drivers report and only need to be stable.
const (
	structureHeaderSize   = 256
	blasBytesPerPrimitive = 128
	tlasBytesPerInstance  = 128
	scratchBase           = 256
	scratchPerPrimitive   = 64
	structureOffsetAlign  = 256

	// Triangle count at which the BLAS builder stops splitting.
	blasLeafSize = 4
)

// A triangle captured from device memory during a BLAS build.
type triangle struct {
	v0, v1, v2    types.Vec3
	geometryIndex uint32
	primitiveID   uint32
	opaque        bool
}

func (t *triangle) BBox() types.BBox {
	return types.EmptyBBox().Extend(t.v0).Extend(t.v1).Extend(t.v2)
}

func (t *triangle) Center() types.Vec3 {
	return t.v0.Add(t.v1).Add(t.v2).Mul(1.0 / 3.0)
}

type blasData struct {
	tree          bvh.Tree
	triangles     []*triangle
	geometryCount uint32
}

type tlasInstance struct {
	index    uint32
	record   device.InstanceRecord
	blas     *blasData
	toObject types.Transform
	bbox     types.BBox
}

func (i *tlasInstance) BBox() types.BBox   { return i.bbox }
func (i *tlasInstance) Center() types.Vec3 { return i.bbox.Center() }

type tlasData struct {
	tree      bvh.Tree
	instances []*tlasInstance
}

type accelStructure struct {
	dev     *Device
	info    device.AccelerationStructureInfo
	address device.DeviceAddress

	mutex    sync.RWMutex
	built    bool
	flags    device.BuildFlags
	blas     *blasData
	tlas     *tlasData
	released bool
}

// Create an acceleration structure over a storage buffer range.
func (d *Device) CreateAccelerationStructure(info device.AccelerationStructureInfo) (device.AccelerationStructure, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	b, err := asBuffer(info.Buffer)
	if err != nil {
		return nil, err
	}
	if !device.HasBufferUsage(b.info.Usage, device.BufferUsageAccelerationStructureStorageBit) {
		return nil, errors.Wrapf(device.ErrInvalidUsage, "software device (%s): buffer %s lacks acceleration structure storage usage", d.name(), b.info.Name)
	}
	if info.Offset%structureOffsetAlign != 0 {
		return nil, errors.Wrapf(device.ErrInvalidAlignment, "software device (%s): acceleration structure offset %d is not a multiple of %d", d.name(), info.Offset, structureOffsetAlign)
	}
	if info.Size == 0 || info.Offset+info.Size > b.info.Size {
		return nil, errors.Wrapf(device.ErrOutOfRange, "software device (%s): acceleration structure %s [%d, %d) exceeds buffer %s of size %d", d.name(), info.Name, info.Offset, info.Offset+info.Size, b.info.Name, b.info.Size)
	}
	if b.released() {
		return nil, errors.Wrapf(device.ErrReleased, "software device (%s): buffer %s", d.name(), b.info.Name)
	}

	as := &accelStructure{
		dev:     d,
		info:    info,
		address: device.DeviceAddress(b.address() + info.Offset),
	}

	d.mutex.Lock()
	d.structures[as.address] = as
	d.mutex.Unlock()

	d.logger.Debugf("created %s acceleration structure %s at 0x%x", info.Type, info.Name, uint64(as.address))
	return as, nil
}

func asAccelStructure(as device.AccelerationStructure) (*accelStructure, error) {
	sas, ok := as.(*accelStructure)
	if !ok || sas == nil {
		return nil, errors.Errorf("software device: foreign acceleration structure %T", as)
	}
	return sas, nil
}

func (a *accelStructure) Name() string                           { return a.info.Name }
func (a *accelStructure) Type() device.AccelerationStructureType { return a.info.Type }
func (a *accelStructure) Buffer() device.Buffer                  { return a.info.Buffer }
func (a *accelStructure) Size() uint64                           { return a.info.Size }
func (a *accelStructure) DeviceAddress() device.DeviceAddress    { return a.address }

func (a *accelStructure) Built() bool {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.built
}

func (a *accelStructure) Release() {
	a.mutex.Lock()
	if a.released {
		a.mutex.Unlock()
		return
	}
	a.released = true
	a.built = false
	a.blas = nil
	a.tlas = nil
	a.mutex.Unlock()

	a.dev.mutex.Lock()
	if a.dev.structures[a.address] == a {
		delete(a.dev.structures, a.address)
	}
	a.dev.mutex.Unlock()
}

func (a *accelStructure) blasSnapshot() (*blasData, bool) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.blas, a.built && a.blas != nil
}

func (a *accelStructure) tlasSnapshot() (*tlasData, bool) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.tlas, a.built && a.tlas != nil
}

// Compute sizes for a build with the given primitive counts.
func (d *Device) AccelerationStructureBuildSizes(buildType device.BuildType, info *device.BuildGeometryInfo, maxPrimitiveCounts []uint32) (device.BuildSizes, error) {
	if info == nil {
		return device.BuildSizes{}, errors.Wrap(device.ErrInvalidBuild, "software device: nil build info")
	}
	if buildType == device.BuildTypeHost {
		return device.BuildSizes{}, errors.Wrapf(device.ErrInvalidBuild, "software device (%s): host builds are not supported", d.name())
	}
	if len(maxPrimitiveCounts) != len(info.Geometries) {
		return device.BuildSizes{}, errors.Wrapf(device.ErrInvalidBuild, "software device (%s): %d geometries but %d primitive counts", d.name(), len(info.Geometries), len(maxPrimitiveCounts))
	}
	if err := d.validateGeometryTypes(info); err != nil {
		return device.BuildSizes{}, err
	}

	limits := d.profile.Info.AccelerationStructure
	var total uint64
	for _, count := range maxPrimitiveCounts {
		total += uint64(count)
	}
	if info.Type == device.BottomLevel && total > limits.MaxPrimitiveCount {
		return device.BuildSizes{}, errors.Wrapf(device.ErrInvalidBuild, "software device (%s): %d primitives exceed the limit of %d", d.name(), total, limits.MaxPrimitiveCount)
	}
	if info.Type == device.TopLevel && total > limits.MaxInstanceCount {
		return device.BuildSizes{}, errors.Wrapf(device.ErrInvalidBuild, "software device (%s): %d instances exceed the limit of %d", d.name(), total, limits.MaxInstanceCount)
	}

	return buildSizes(info.Type, total), nil
}

func buildSizes(typ device.AccelerationStructureType, primitives uint64) device.BuildSizes {
	perPrimitive := uint64(blasBytesPerPrimitive)
	if typ == device.TopLevel {
		perPrimitive = tlasBytesPerInstance
	}
	scratch := uint64(scratchBase) + primitives*scratchPerPrimitive
	return device.BuildSizes{
		AccelerationStructureSize: alignUp(structureHeaderSize+primitives*perPrimitive, structureOffsetAlign),
		BuildScratchSize:          scratch,
		UpdateScratchSize:         scratch / 2,
	}
}

func (d *Device) validateGeometryTypes(info *device.BuildGeometryInfo) error {
	switch info.Type {
	case device.BottomLevel:
		if len(info.Geometries) == 0 {
			return errors.Wrapf(device.ErrInvalidBuild, "software device (%s): bottom-level build without geometries", d.name())
		}
		if uint64(len(info.Geometries)) > d.profile.Info.AccelerationStructure.MaxGeometryCount {
			return errors.Wrapf(device.ErrInvalidBuild, "software device (%s): %d geometries exceed the limit", d.name(), len(info.Geometries))
		}
		for i, g := range info.Geometries {
			if g.Type != device.GeometryTypeTriangles {
				return errors.Wrapf(device.ErrInvalidBuild, "software device (%s): geometry %d: only triangle geometries are supported in bottom-level builds", d.name(), i)
			}
		}
	case device.TopLevel:
		if len(info.Geometries) != 1 || info.Geometries[0].Type != device.GeometryTypeInstances {
			return errors.Wrapf(device.ErrInvalidBuild, "software device (%s): top-level builds need exactly one instances geometry", d.name())
		}
		if info.Geometries[0].Instances.ArrayOfPointers {
			return errors.Wrapf(device.ErrInvalidBuild, "software device (%s): arrays of instance pointers are not supported", d.name())
		}
	default:
		return errors.Wrapf(device.ErrInvalidBuild, "software device (%s): unknown acceleration structure type %d", d.name(), info.Type)
	}
	return nil
}

// Execute one recorded build on the queue worker.
func (d *Device) executeBuild(info *device.BuildGeometryInfo, ranges []device.BuildRangeInfo) error {
	if err := d.validateGeometryTypes(info); err != nil {
		return err
	}
	if len(ranges) != len(info.Geometries) {
		return errors.Wrapf(device.ErrInvalidBuild, "%d geometries but %d build ranges", len(info.Geometries), len(ranges))
	}
	if info.Dst == nil {
		return errors.Wrap(device.ErrInvalidBuild, "missing destination acceleration structure")
	}
	dst, err := asAccelStructure(info.Dst)
	if err != nil {
		return err
	}
	if dst.info.Type != info.Type {
		return errors.Wrapf(device.ErrInvalidBuild, "destination %s is %s but build is %s", dst.info.Name, dst.info.Type, info.Type)
	}

	var total uint64
	for _, r := range ranges {
		total += uint64(r.PrimitiveCount)
	}
	sizes := buildSizes(info.Type, total)
	if dst.info.Size < sizes.AccelerationStructureSize {
		return errors.Wrapf(device.ErrInvalidBuild, "destination %s holds %d bytes; build needs %d", dst.info.Name, dst.info.Size, sizes.AccelerationStructureSize)
	}

	scratchSize := sizes.BuildScratchSize
	if info.Mode == device.BuildModeUpdate {
		if err = d.validateUpdate(info); err != nil {
			return err
		}
		scratchSize = sizes.UpdateScratchSize
	}
	if err = d.validateScratch(info.ScratchData, scratchSize); err != nil {
		return err
	}

	switch info.Type {
	case device.BottomLevel:
		data, err := d.buildBottomLevel(info, ranges)
		if err != nil {
			return err
		}
		dst.mutex.Lock()
		dst.blas, dst.tlas, dst.built, dst.flags = data, nil, true, info.Flags
		dst.mutex.Unlock()
		return d.writeHeader(dst, uint32(len(data.triangles)), uint32(len(data.tree)))
	default:
		data, err := d.buildTopLevel(info, ranges[0])
		if err != nil {
			return err
		}
		dst.mutex.Lock()
		dst.tlas, dst.blas, dst.built, dst.flags = data, nil, true, info.Flags
		dst.mutex.Unlock()
		return d.writeHeader(dst, uint32(len(data.instances)), uint32(len(data.tree)))
	}
}

func (d *Device) validateUpdate(info *device.BuildGeometryInfo) error {
	if info.Src == nil {
		return errors.Wrap(device.ErrInvalidBuild, "update build without a source structure")
	}
	src, err := asAccelStructure(info.Src)
	if err != nil {
		return err
	}
	src.mutex.RLock()
	defer src.mutex.RUnlock()
	if !src.built {
		return errors.Wrapf(device.ErrInvalidBuild, "update source %s has not been built", src.info.Name)
	}
	if src.flags&device.BuildAllowUpdateBit == 0 {
		return errors.Wrapf(device.ErrInvalidBuild, "update source %s was not built with the allow-update flag", src.info.Name)
	}
	return nil
}

func (d *Device) validateScratch(scratch device.DeviceAddress, size uint64) error {
	align := uint64(d.profile.Info.AccelerationStructure.MinScratchOffsetAlignment)
	if scratch == 0 {
		return errors.Wrap(device.ErrInvalidBuild, "missing scratch address")
	}
	if uint64(scratch)%align != 0 {
		return errors.Wrapf(device.ErrInvalidAlignment, "scratch address 0x%x is not aligned to %d", uint64(scratch), align)
	}
	b, _, err := d.resolve(scratch, size)
	if err != nil {
		return errors.Wrapf(device.ErrInvalidBuild, "scratch region of %d bytes: %v", size, err)
	}
	if !device.HasBufferUsage(b.info.Usage, vk.BufferUsageStorageBufferBit) {
		return errors.Wrapf(device.ErrInvalidUsage, "scratch buffer %s lacks storage usage", b.info.Name)
	}
	return nil
}

// A structure header written to the start of the storage range so the
// buffer contents reflect the build.
func (d *Device) writeHeader(as *accelStructure, primitives, nodes uint32) error {
	b, err := asBuffer(as.info.Buffer)
	if err != nil {
		return err
	}
	var header [16]byte
	binary.LittleEndian.PutUint32(header[0:], uint32(as.info.Type))
	binary.LittleEndian.PutUint32(header[4:], primitives)
	binary.LittleEndian.PutUint32(header[8:], nodes)
	binary.LittleEndian.PutUint32(header[12:], uint32(as.info.Size))
	return b.write(as.info.Offset, header[:])
}

func (d *Device) readVec3(addr device.DeviceAddress) (types.Vec3, error) {
	var raw [12]byte
	if err := d.readAddress(addr, raw[:]); err != nil {
		return types.Vec3{}, err
	}
	return types.Vec3{
		math.Float32frombits(binary.LittleEndian.Uint32(raw[0:])),
		math.Float32frombits(binary.LittleEndian.Uint32(raw[4:])),
		math.Float32frombits(binary.LittleEndian.Uint32(raw[8:])),
	}, nil
}

// Read triangle data through device addresses and build the BVH.
func (d *Device) buildBottomLevel(info *device.BuildGeometryInfo, ranges []device.BuildRangeInfo) (*blasData, error) {
	data := &blasData{geometryCount: uint32(len(info.Geometries))}

	for gi, g := range info.Geometries {
		tri := g.Triangles
		r := ranges[gi]
		if tri.VertexFormat != vk.FormatR32g32b32Sfloat {
			return nil, errors.Wrapf(device.ErrInvalidBuild, "geometry %d: unsupported vertex format %d", gi, tri.VertexFormat)
		}
		if tri.IndexType != vk.IndexTypeUint32 {
			return nil, errors.Wrapf(device.ErrInvalidBuild, "geometry %d: unsupported index type %d", gi, tri.IndexType)
		}
		if tri.VertexData == 0 || tri.IndexData == 0 {
			return nil, errors.Wrapf(device.ErrInvalidBuild, "geometry %d: missing vertex or index address", gi)
		}
		if tri.VertexStride < 12 {
			return nil, errors.Wrapf(device.ErrInvalidBuild, "geometry %d: vertex stride %d is smaller than a position", gi, tri.VertexStride)
		}

		transform := types.Identity()
		if tri.TransformData != 0 {
			raw := make([]byte, types.TransformSize)
			if err := d.readAddress(tri.TransformData.Add(uint64(r.TransformOffset)), raw); err != nil {
				return nil, errors.Wrapf(err, "geometry %d: transform", gi)
			}
			transform = types.TransformFromBytes(raw)
		}

		indices := make([]byte, uint64(r.PrimitiveCount)*12)
		if err := d.readAddress(tri.IndexData.Add(uint64(r.PrimitiveOffset)), indices); err != nil {
			return nil, errors.Wrapf(err, "geometry %d: indices", gi)
		}

		opaque := g.Flags&device.GeometryOpaqueBit != 0
		for p := uint32(0); p < r.PrimitiveCount; p++ {
			t := &triangle{geometryIndex: uint32(gi), primitiveID: p, opaque: opaque}
			for corner := 0; corner < 3; corner++ {
				index := binary.LittleEndian.Uint32(indices[p*12+uint32(corner)*4:])
				if index > tri.MaxVertex {
					return nil, errors.Wrapf(device.ErrInvalidBuild, "geometry %d: primitive %d references vertex %d beyond max vertex %d", gi, p, index, tri.MaxVertex)
				}
				pos, err := d.readVec3(tri.VertexData.Add((uint64(r.FirstVertex) + uint64(index)) * tri.VertexStride))
				if err != nil {
					return nil, errors.Wrapf(err, "geometry %d: vertex %d", gi, index)
				}
				pos = transform.Apply(pos)
				switch corner {
				case 0:
					t.v0 = pos
				case 1:
					t.v1 = pos
				default:
					t.v2 = pos
				}
			}
			data.triangles = append(data.triangles, t)
		}
	}

	workList := make([]bvh.BoundedVolume, len(data.triangles))
	for i, t := range data.triangles {
		workList[i] = t
	}
	ordered := make([]*triangle, 0, len(data.triangles))
	data.tree, _ = bvh.Build(workList, blasLeafSize, func(leaf *bvh.Node, items []bvh.BoundedVolume) {
		leaf.SetLeaf(uint32(len(ordered)), uint32(len(items)))
		for _, item := range items {
			ordered = append(ordered, item.(*triangle))
		}
	}, bvh.SurfaceAreaHeuristic)
	data.triangles = ordered
	return data, nil
}

// Decode instance records and build the instance BVH.
func (d *Device) buildTopLevel(info *device.BuildGeometryInfo, r device.BuildRangeInfo) (*tlasData, error) {
	inst := info.Geometries[0].Instances
	if r.PrimitiveCount != 0 && inst.Data == 0 {
		return nil, errors.Wrap(device.ErrInvalidBuild, "missing instance data address")
	}

	raw := make([]byte, uint64(r.PrimitiveCount)*device.InstanceRecordSize)
	if r.PrimitiveCount != 0 {
		if err := d.readAddress(inst.Data.Add(uint64(r.PrimitiveOffset)), raw); err != nil {
			return nil, errors.Wrap(err, "instance records")
		}
	}
	records, err := device.DecodeInstanceRecords(raw, int(r.PrimitiveCount))
	if err != nil {
		return nil, err
	}

	data := &tlasData{}
	for index, rec := range records {
		d.mutex.Lock()
		blas := d.structures[rec.AccelerationStructureReference]
		d.mutex.Unlock()
		if blas == nil || blas.info.Type != device.BottomLevel {
			return nil, errors.Wrapf(device.ErrInvalidBuild, "instance %d references unknown bottom-level structure 0x%x", index, uint64(rec.AccelerationStructureReference))
		}
		bd, built := blas.blasSnapshot()
		if !built {
			return nil, errors.Wrapf(device.ErrInvalidBuild, "instance %d references bottom-level structure %s that has not been built", index, blas.info.Name)
		}
		toObject, ok := rec.Transform.Inverse()
		if !ok {
			return nil, errors.Wrapf(device.ErrInvalidBuild, "instance %d has a singular transform", index)
		}
		data.instances = append(data.instances, &tlasInstance{
			index:    uint32(index),
			record:   rec,
			blas:     bd,
			toObject: toObject,
			bbox:     rec.Transform.ApplyBBox(bd.tree.Bounds()),
		})
	}

	workList := make([]bvh.BoundedVolume, len(data.instances))
	for i, inst := range data.instances {
		workList[i] = inst
	}
	ordered := make([]*tlasInstance, 0, len(data.instances))
	data.tree, _ = bvh.Build(workList, 1, func(leaf *bvh.Node, items []bvh.BoundedVolume) {
		leaf.SetLeaf(uint32(len(ordered)), uint32(len(items)))
		for _, item := range items {
			ordered = append(ordered, item.(*tlasInstance))
		}
	}, bvh.SurfaceAreaHeuristic)
	data.instances = ordered
	return data, nil
}
