package software

import (
	"bytes"
	"context"
	"math"
	"time"

	"github.com/achilleasa/vkrt/device"
	"github.com/achilleasa/vkrt/types"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
	"golang.org/x/sync/errgroup"
)

// The four SBT regions of a trace dispatch.
type traceRegions struct {
	raygen, miss, hit, callable device.StridedRegion
}

// State shared by all rays of a dispatch.
type dispatch struct {
	dev        *Device
	pipeline   *pipeline
	sets       map[uint32]*descriptorSet
	regions    traceRegions
	size       [3]uint32
	handleSize uint64
}

// Execute a trace dispatch on the queue worker.
func (d *Device) traceRays(st *execState, regions traceRegions, size [3]uint32) error {
	if st.pipeline == nil {
		return device.ErrNoPipelineBound
	}

	ds := &dispatch{
		dev:        d,
		pipeline:   st.pipeline,
		sets:       st.sets,
		regions:    regions,
		size:       size,
		handleSize: uint64(d.profile.Info.RayTracing.ShaderGroupHandleSize),
	}
	if err := ds.validateRegions(); err != nil {
		return err
	}
	for index, set := range st.sets {
		for _, img := range set.storageImages() {
			if err := img.requireLayout(vk.ImageLayoutGeneral); err != nil {
				return errors.Wrapf(err, "storage image in set %d", index)
			}
		}
	}

	rayGen, err := ds.rayGenProgram()
	if err != nil {
		return err
	}

	start := time.Now()
	for z := uint32(0); z < size[2]; z++ {
		if err := ds.traceSlice(rayGen, z); err != nil {
			return err
		}
	}
	d.logger.Debugf("traced %dx%dx%d launch in %s", size[0], size[1], size[2], time.Since(start))
	return nil
}

// Trace one depth slice, splitting its rows between the device workers.
func (ds *dispatch) traceSlice(rayGen device.RayGenProgram, z uint32) error {
	blocks := ds.dev.scheduler.Schedule(ds.dev.workers, ds.size[1])

	group, ctx := errgroup.WithContext(context.Background())
	var y0 uint32
	for worker, blockH := range blocks {
		worker, rowStart, rowEnd := worker, y0, y0+blockH
		y0 += blockH

		group.Go(func() error {
			start := time.Now()
			for y := rowStart; y < rowEnd; y++ {
				if ctx.Err() != nil {
					return nil
				}
				for x := uint32(0); x < ds.size[0]; x++ {
					rc := &rayGenContext{ds: ds, launchID: [3]uint32{x, y, z}}
					if err := rayGen(rc); err != nil {
						return errors.Wrapf(err, "raygen program at (%d, %d, %d)", x, y, z)
					}
				}
			}
			ds.dev.scheduler.Record(worker, rowEnd-rowStart, time.Since(start))
			return nil
		})
	}
	return group.Wait()
}

func (ds *dispatch) validateRegions() error {
	rt := ds.dev.profile.Info.RayTracing

	check := func(name string, r device.StridedRegion, required bool) error {
		if r.IsEmpty() {
			if required {
				return errors.Wrapf(device.ErrInvalidSBT, "%s region is empty", name)
			}
			return nil
		}
		if r.DeviceAddress == 0 {
			return errors.Wrapf(device.ErrInvalidSBT, "%s region has a null address", name)
		}
		if uint64(r.DeviceAddress)%uint64(rt.ShaderGroupBaseAlignment) != 0 {
			return errors.Wrapf(device.ErrInvalidSBT, "%s region address 0x%x is not aligned to %d", name, uint64(r.DeviceAddress), rt.ShaderGroupBaseAlignment)
		}
		if r.Stride%uint64(rt.ShaderGroupHandleAlignment) != 0 {
			return errors.Wrapf(device.ErrInvalidSBT, "%s region stride %d is not a multiple of %d", name, r.Stride, rt.ShaderGroupHandleAlignment)
		}
		if r.Stride > uint64(rt.MaxShaderGroupStride) {
			return errors.Wrapf(device.ErrInvalidSBT, "%s region stride %d exceeds %d", name, r.Stride, rt.MaxShaderGroupStride)
		}
		if r.Size < ds.handleSize {
			return errors.Wrapf(device.ErrInvalidSBT, "%s region size %d cannot hold a %d byte handle", name, r.Size, ds.handleSize)
		}
		b, _, err := ds.dev.resolve(r.DeviceAddress, r.Size)
		if err != nil {
			return errors.Wrapf(device.ErrInvalidSBT, "%s region: %v", name, err)
		}
		if !device.HasBufferUsage(b.info.Usage, device.BufferUsageShaderBindingTableBit) {
			return errors.Wrapf(device.ErrInvalidSBT, "%s region buffer %s lacks shader binding table usage", name, b.info.Name)
		}
		return nil
	}

	if err := check("raygen", ds.regions.raygen, true); err != nil {
		return err
	}
	if ds.regions.raygen.Size != ds.regions.raygen.Stride {
		return errors.Wrapf(device.ErrInvalidSBT, "raygen region size %d must equal its stride %d", ds.regions.raygen.Size, ds.regions.raygen.Stride)
	}
	if err := check("miss", ds.regions.miss, false); err != nil {
		return err
	}
	if err := check("hit", ds.regions.hit, false); err != nil {
		return err
	}
	return check("callable", ds.regions.callable, false)
}

// Read the record at index of region. Returns the group the handle
// resolves to and the shader record data following the handle.
func (ds *dispatch) record(name string, r device.StridedRegion, index uint32) (groupRef, []byte, error) {
	offset := r.Stride * uint64(index)
	recordSize := r.Stride
	if recordSize == 0 {
		recordSize = r.Size
	}
	if offset+ds.handleSize > r.Size {
		return groupRef{}, nil, errors.Wrapf(device.ErrInvalidSBT, "%s record %d lies outside the %d byte region", name, index, r.Size)
	}
	if offset+recordSize > r.Size {
		recordSize = r.Size - offset
	}

	data := make([]byte, recordSize)
	if err := ds.dev.readAddress(r.DeviceAddress.Add(offset), data); err != nil {
		return groupRef{}, nil, errors.Wrapf(device.ErrInvalidSBT, "%s record %d: %v", name, index, err)
	}
	handle := data[:ds.handleSize]
	ref, ok := ds.dev.lookupHandle(handle)
	if !ok || ref.pipeline != ds.pipeline {
		if isZero(handle) {
			return groupRef{}, nil, errors.Wrapf(device.ErrInvalidSBT, "%s record %d has a zero handle", name, index)
		}
		return groupRef{}, nil, errors.Wrapf(device.ErrInvalidSBT, "%s record %d handle does not belong to pipeline %s", name, index, ds.pipeline.info.Name)
	}
	return ref, data[ds.handleSize:], nil
}

func isZero(b []byte) bool {
	return len(bytes.Trim(b, "\x00")) == 0
}

func (ds *dispatch) rayGenProgram() (device.RayGenProgram, error) {
	ref, _, err := ds.record("raygen", ds.regions.raygen, 0)
	if err != nil {
		return nil, err
	}
	g := ds.pipeline.info.Groups[ref.group]
	if g.Type != device.ShaderGroupTypeGeneral {
		return nil, errors.Wrapf(device.ErrInvalidSBT, "raygen record references %s group %d", g.Type, ref.group)
	}
	prog, ok := ds.pipeline.program(g.General).(device.RayGenProgram)
	if !ok {
		return nil, errors.Wrapf(device.ErrInvalidSBT, "raygen record references group %d which is not a raygen group", ref.group)
	}
	return prog, nil
}

// Resolve the hit group for a candidate.
func (ds *dispatch) hitGroup(ray *device.Ray, hit *hitInfo) (device.ShaderGroup, []byte, error) {
	index := device.HitGroupRecordIndex(hit.instance.record.SBTRecordOffset, hit.triangle.geometryIndex, ray.SBTRecordStride, ray.SBTRecordOffset)
	if ds.regions.hit.IsEmpty() {
		return device.ShaderGroup{}, nil, errors.Wrapf(device.ErrInvalidSBT, "hit record %d requested with an empty hit region", index)
	}
	ref, data, err := ds.record("hit", ds.regions.hit, index)
	if err != nil {
		return device.ShaderGroup{}, nil, err
	}
	g := ds.pipeline.info.Groups[ref.group]
	if g.Type != device.ShaderGroupTypeTrianglesHitGroup {
		return device.ShaderGroup{}, nil, errors.Wrapf(device.ErrInvalidSBT, "hit record %d references %s group %d", index, g.Type, ref.group)
	}
	return g, data, nil
}

// Trace a single ray and invoke the closest-hit or miss program.
func (ds *dispatch) traceRay(as device.AccelerationStructure, ray device.Ray, payload interface{}) error {
	sas, err := asAccelStructure(as)
	if err != nil {
		return err
	}
	tlas, ok := sas.tlasSnapshot()
	if !ok {
		return errors.Wrapf(device.ErrInvalidBuild, "trace against unbuilt or bottom-level structure %s", sas.info.Name)
	}
	if ray.TMin < 0 || ray.TMax < ray.TMin || isNaN(ray.TMin) || isNaN(ray.TMax) {
		return errors.Errorf("invalid ray interval [%f, %f]", ray.TMin, ray.TMax)
	}

	filter := func(cand *hitInfo) (bool, error) {
		g, data, err := ds.hitGroup(&ray, cand)
		if err != nil {
			return false, err
		}
		anyHit, ok := ds.pipeline.program(g.AnyHit).(device.AnyHitProgram)
		if !ok {
			return true, nil
		}
		return anyHit(&hitContext{ds: ds, hit: cand, record: data}, payload)
	}

	hit, err := tlas.trace(&ray, filter)
	if err != nil {
		return err
	}

	if hit == nil {
		return ds.miss(&ray, payload)
	}
	if ray.Flags&device.RayFlagSkipClosestHitShader != 0 {
		return nil
	}
	g, data, err := ds.hitGroup(&ray, hit)
	if err != nil {
		return err
	}
	closestHit, ok := ds.pipeline.program(g.ClosestHit).(device.ClosestHitProgram)
	if !ok {
		return nil
	}
	return closestHit(&hitContext{ds: ds, hit: hit, record: data}, payload)
}

func (ds *dispatch) miss(ray *device.Ray, payload interface{}) error {
	if ds.regions.miss.IsEmpty() {
		return nil
	}
	ref, data, err := ds.record("miss", ds.regions.miss, ray.MissIndex)
	if err != nil {
		return err
	}
	g := ds.pipeline.info.Groups[ref.group]
	miss, ok := ds.pipeline.program(g.General).(device.MissProgram)
	if g.Type != device.ShaderGroupTypeGeneral || !ok {
		return errors.Wrapf(device.ErrInvalidSBT, "miss record %d references group %d which is not a miss group", ray.MissIndex, ref.group)
	}
	return miss(&missContext{origin: ray.Origin, dir: ray.Direction, record: data}, payload)
}

func (ds *dispatch) set(index uint32) (*descriptorSet, error) {
	set := ds.sets[index]
	if set == nil {
		return nil, errors.Wrapf(device.ErrInvalidDescriptor, "no descriptor set bound at %d", index)
	}
	return set, nil
}

func isNaN(v float32) bool {
	return math.IsNaN(float64(v))
}

type rayGenContext struct {
	ds       *dispatch
	launchID [3]uint32
}

func (c *rayGenContext) LaunchID() [3]uint32   { return c.launchID }
func (c *rayGenContext) LaunchSize() [3]uint32 { return c.ds.size }

func (c *rayGenContext) AccelerationStructure(set, binding uint32) (device.AccelerationStructure, error) {
	ds, err := c.ds.set(set)
	if err != nil {
		return nil, err
	}
	return ds.accelerationStructure(binding)
}

func (c *rayGenContext) UniformData(set, binding uint32) ([]byte, error) {
	ds, err := c.ds.set(set)
	if err != nil {
		return nil, err
	}
	buf, err := ds.buffer(binding, 0)
	if err != nil {
		return nil, err
	}
	data := make([]byte, buf.info.Size)
	if err := buf.read(0, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (c *rayGenContext) StoreImage(set, binding, x, y uint32, rgba types.Vec4) error {
	ds, err := c.ds.set(set)
	if err != nil {
		return err
	}
	img, err := ds.storageImage(binding)
	if err != nil {
		return err
	}
	if x >= img.info.Width || y >= img.info.Height {
		return errors.Wrapf(device.ErrOutOfRange, "pixel (%d, %d) outside image %s", x, y, img.info.Name)
	}
	img.store(x, y, rgba)
	return nil
}

func (c *rayGenContext) TraceRay(as device.AccelerationStructure, ray device.Ray, payload interface{}) error {
	return c.ds.traceRay(as, ray, payload)
}

type hitContext struct {
	ds     *dispatch
	hit    *hitInfo
	record []byte
}

func (c *hitContext) InstanceCustomIndex() uint32   { return c.hit.instance.record.CustomIndex }
func (c *hitContext) InstanceID() uint32            { return c.hit.instance.index }
func (c *hitContext) PrimitiveID() uint32           { return c.hit.triangle.primitiveID }
func (c *hitContext) GeometryIndex() uint32         { return c.hit.triangle.geometryIndex }
func (c *hitContext) HitT() float32                 { return c.hit.t }
func (c *hitContext) Barycentrics() types.Vec2      { return types.XY(c.hit.u, c.hit.v) }
func (c *hitContext) FrontFacing() bool             { return c.hit.front }
func (c *hitContext) WorldRayOrigin() types.Vec3    { return c.hit.rayOrigin }
func (c *hitContext) WorldRayDirection() types.Vec3 { return c.hit.rayDir }
func (c *hitContext) ShaderRecord() []byte          { return c.record }

func (c *hitContext) ReadStorageBuffer(set, binding, arrayElement uint32, offset uint64, dst []byte) error {
	ds, err := c.ds.set(set)
	if err != nil {
		return err
	}
	buf, err := ds.buffer(binding, arrayElement)
	if err != nil {
		return err
	}
	return buf.read(offset, dst)
}

type missContext struct {
	origin, dir types.Vec3
	record      []byte
}

func (c *missContext) WorldRayOrigin() types.Vec3    { return c.origin }
func (c *missContext) WorldRayDirection() types.Vec3 { return c.dir }
func (c *missContext) ShaderRecord() []byte          { return c.record }
