package renderer

import (
	"bytes"
	"context"
	"time"

	"github.com/achilleasa/vkrt/accel"
	"github.com/achilleasa/vkrt/device"
	"github.com/achilleasa/vkrt/dispatch"
	"github.com/achilleasa/vkrt/geometry"
	"github.com/achilleasa/vkrt/log"
	"github.com/achilleasa/vkrt/pipeline"
	"github.com/achilleasa/vkrt/sbt"
	"github.com/achilleasa/vkrt/scene"
	"github.com/achilleasa/vkrt/shader"
	"github.com/pkg/errors"
)

// Context owns every device object needed to trace a scene: the resident
// geometries, one BLAS per mesh, the TLAS, the pipeline, the SBT and the
// frame loop. Each object is released by Close in reverse creation order.
type Context struct {
	logger  log.Logger
	options Options
	scene   *scene.Scene

	dev       device.Device
	submitter *device.Submitter
	store     *geometry.Store

	// Resident geometries per mesh, in mesh order.
	resident [][]*geometry.Resident
	blas     []*accel.BLAS

	instances  []accel.Instance
	hitRecords []sbt.HitRecord
	tlas       *accel.TLAS

	pipeline    *pipeline.Pipeline
	table       *sbt.Table
	geometrySet device.DescriptorSet
	dispatcher  *dispatch.Dispatcher

	// Created by the first Render call.
	loop *dispatch.FrameLoop

	stats  FrameStats
	closed bool
}

// Build the acceleration structures, pipeline and SBT of a scene on dev.
// The context does not take ownership of dev.
func NewContext(ctx context.Context, dev device.Device, sc *scene.Scene, opts Options) (*Context, error) {
	if sc == nil {
		return nil, ErrSceneNotDefined
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.FramesInFlight == 0 {
		opts.FramesInFlight = 1
	}
	if err := pipeline.CheckCapabilities(dev.Info()); err != nil {
		return nil, err
	}

	c := &Context{
		logger:    log.New("renderer"),
		options:   opts,
		scene:     sc,
		dev:       dev,
		submitter: device.NewSubmitter(dev),
	}
	c.store = geometry.NewStore(dev, c.submitter)

	start := time.Now()
	for _, step := range []func(context.Context) error{
		c.buildBLAS,
		c.buildTLAS,
		c.buildPipeline,
		c.buildSBT,
	} {
		if err := step(ctx); err != nil {
			c.Close()
			return nil, err
		}
	}
	c.stats.BuildTime = time.Since(start)
	c.logger.Infof("built %d BLAS, %d instances and %d hit records in %s", len(c.blas), len(c.instances), len(c.hitRecords), c.stats.BuildTime)
	return c, nil
}

// Upload the mesh geometries and build one BLAS per mesh.
func (c *Context) buildBLAS(ctx context.Context) error {
	meshes, err := c.scene.LoadMeshes()
	if err != nil {
		return err
	}

	requests := make([]accel.BLASRequest, len(meshes))
	c.resident = make([][]*geometry.Resident, len(meshes))
	for mi, geoms := range meshes {
		if c.resident[mi], err = c.store.Upload(ctx, geoms...); err != nil {
			return errors.Wrapf(err, "renderer: mesh %q", c.scene.Meshes[mi].Name)
		}
		requests[mi] = accel.BLASRequest{
			Name:       c.scene.Meshes[mi].Name,
			Geometries: c.resident[mi],
		}
	}
	c.logger.Debugf("uploaded %d meshes (%d bytes of device memory)", len(meshes), c.store.DeviceBytes())

	c.blas, err = accel.NewBLASBuilder(c.dev, c.submitter).BuildBatch(ctx, requests)
	return err
}

// Place the instances, assign their hit record offsets and build the TLAS.
func (c *Context) buildTLAS(ctx context.Context) error {
	c.instances = make([]accel.Instance, len(c.scene.Instances))
	for i, desc := range c.scene.Instances {
		_, mi, ok := c.scene.Mesh(desc.Mesh)
		if !ok {
			return errors.Wrapf(scene.ErrUnknownMesh, "renderer: instance %d: %q", i, desc.Mesh)
		}
		flags, err := desc.InstanceFlags()
		if err != nil {
			return errors.Wrapf(err, "renderer: instance %d", i)
		}
		c.instances[i] = accel.Instance{
			BLAS:        c.blas[mi],
			Transform:   desc.Transform(),
			CustomIndex: desc.CustomIndex,
			Mask:        desc.InstanceMask(),
			Flags:       flags,
		}
	}

	count, err := accel.AssignHitRecordOffsets(c.instances, shader.RayTypeCount)
	if err != nil {
		return err
	}

	// Record index = instance offset + geometry * ray types + ray type.
	c.hitRecords = make([]sbt.HitRecord, count)
	for i, in := range c.instances {
		desc := c.scene.Instances[i]
		for g := uint32(0); g < in.BLAS.GeometryCount(); g++ {
			for r := uint32(0); r < shader.RayTypeCount; r++ {
				index := device.HitGroupRecordIndex(in.SBTRecordOffset, g, shader.RayTypeCount, r)
				c.hitRecords[index] = sbt.HitRecord{Group: r, Color: desc.Color(int(g), index)}
			}
		}
	}

	c.tlas, err = accel.NewTLASBuilder(c.dev, c.submitter).Build(ctx, "scene", c.instances)
	return err
}

func (c *Context) buildPipeline(_ context.Context) error {
	var geometryCount uint32
	for _, list := range c.resident {
		geometryCount += uint32(len(list))
	}

	var err error
	c.pipeline, err = pipeline.New(c.dev, pipeline.Info{
		Name:          "vkrt",
		RayGen:        shader.RayGen(),
		Miss:          []pipeline.MissShader{{Name: "background", Program: shader.Miss(c.scene.Background)}},
		Hit:           []pipeline.HitGroup{{Name: "inline color", ClosestHit: shader.ClosestHit()}},
		GeometryCount: geometryCount,
	})
	return err
}

// Fetch the group handles, lay out and upload the SBT, and bind the
// geometry buffers to set 1.
func (c *Context) buildSBT(_ context.Context) error {
	handles, err := c.pipeline.Handles()
	if err != nil {
		return err
	}
	params := sbt.ParamsFromDevice(c.dev.Info().RayTracing, c.pipeline.MissCount(), uint32(len(c.hitRecords)), sbt.HitDataSize, 0)
	layout, err := sbt.ComputeLayout(params)
	if err != nil {
		return err
	}
	if c.table, err = sbt.Build(c.dev, layout, handles, c.hitRecords); err != nil {
		return err
	}

	var buffers []pipeline.GeometryBuffers
	for _, list := range c.resident {
		for _, r := range list {
			buffers = append(buffers, pipeline.GeometryBuffers{Vertices: r.VertexBuffer, Indices: r.IndexBuffer})
		}
	}
	if c.geometrySet, err = c.pipeline.AllocateGeometrySet(buffers); err != nil {
		return err
	}
	c.dispatcher = dispatch.NewDispatcher(c.pipeline, c.table, c.geometrySet)
	return nil
}

func (c *Context) BLAS() []*accel.BLAS {
	return c.blas
}

func (c *Context) TLAS() *accel.TLAS {
	return c.tlas
}

func (c *Context) Table() *sbt.Table {
	return c.table
}

func (c *Context) HitRecords() []sbt.HitRecord {
	return c.hitRecords
}

// Tabular summary of the BLAS list, the instance records and the SBT
// layout.
func (c *Context) Summary() (string, error) {
	instances, err := accel.InstanceStats(c.tlas)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	buf.WriteString("bottom-level structures\n")
	buf.WriteString(accel.BLASStats(c.blas))
	buf.WriteString("\ninstances\n")
	buf.WriteString(instances)
	buf.WriteString("\nshader binding table\n")
	buf.WriteString(c.table.Layout().String())
	if c.table.Padded() {
		buf.WriteString("table placed at a padded offset to meet the base alignment\n")
	}
	return buf.String(), nil
}

// Render the configured number of frames. Frame i orbits the scene camera
// by i times the orbit angle. The call returns once every submitted frame
// completed.
func (c *Context) Render(ctx context.Context, swapchain device.Swapchain) error {
	if c.closed {
		return ErrClosed
	}
	if c.loop == nil {
		loop, err := dispatch.NewFrameLoop(ctx, c.dev, c.submitter, c.pipeline, c.dispatcher, c.tlas.Structure(), c.options.FrameW, c.options.FrameH, c.options.FramesInFlight)
		if err != nil {
			return err
		}
		c.loop = loop
	}

	start := time.Now()
	for i := uint32(0); i < c.options.Frames; i++ {
		camera := c.scene.Camera.Orbit(c.options.Orbit * float32(i))
		frameStart := time.Now()
		if err := c.loop.Render(ctx, swapchain, camera.Uniform(c.options.FrameW, c.options.FrameH)); err != nil {
			if waitErr := c.loop.Wait(ctx); waitErr != nil {
				c.logger.Warningf("frame %d: %v", i, waitErr)
			}
			return err
		}
		c.stats.Frames = append(c.stats.Frames, FrameStat{
			Index:      i,
			Camera:     camera.String(),
			RenderTime: time.Since(frameStart),
		})
	}
	if err := c.loop.Wait(ctx); err != nil {
		return err
	}
	c.stats.RenderTime += time.Since(start)
	c.logger.Infof("rendered %d frames in %s", c.options.Frames, time.Since(start))
	return nil
}

func (c *Context) Stats() FrameStats {
	return c.stats
}

// Release every device object owned by the context.
func (c *Context) Close() {
	if c.closed {
		return
	}
	c.closed = true

	if c.loop != nil {
		c.loop.Close()
	}
	if c.geometrySet != nil {
		c.geometrySet.Release()
	}
	if c.table != nil {
		c.table.Release()
	}
	if c.pipeline != nil {
		c.pipeline.Release()
	}
	if c.tlas != nil {
		c.tlas.Release()
	}
	for _, b := range c.blas {
		b.Release()
	}
	c.store.Release()
	c.submitter.Close()
}
