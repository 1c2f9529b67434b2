package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/achilleasa/vkrt/device"
	"github.com/achilleasa/vkrt/log"
	"github.com/achilleasa/vkrt/pipeline"
	"github.com/achilleasa/vkrt/shader"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// The format of the traced output images.
const OutputFormat = vk.FormatR8g8b8a8Unorm

// Resources owned by one frame in flight.
type frame struct {
	index uint32

	inFlight       device.Fence
	imageAvailable device.Semaphore
	renderComplete device.Semaphore
	cb             device.CommandBuffer

	output   device.Image
	camera   device.Buffer
	sceneSet device.DescriptorSet
}

func (f *frame) release() {
	for _, r := range []interface{ Release() }{f.cb, f.inFlight, f.imageAvailable, f.renderComplete, f.sceneSet, f.output, f.camera} {
		if r != nil {
			r.Release()
		}
	}
}

// Frame loop statistics.
type Stats struct {
	Frames        uint64
	LastFrameTime time.Duration
}

// FrameLoop renders frames into a swapchain keeping up to N frames in
// flight. Each frame slot owns a fence, an image-available and a
// render-complete semaphore, a command buffer, an output image, a camera
// uniform buffer and a scene descriptor set.
type FrameLoop struct {
	logger     log.Logger
	dev        device.Device
	dispatcher *Dispatcher

	width, height uint32
	frames        []*frame
	current       int
	stats         Stats
	closed        bool
}

// Create a frame loop with framesInFlight frame slots. The output images are
// transitioned to the General layout before NewFrameLoop returns.
func NewFrameLoop(ctx context.Context, dev device.Device, submitter *device.Submitter, p *pipeline.Pipeline, dispatcher *Dispatcher, tlas device.AccelerationStructure, width, height, framesInFlight uint32) (*FrameLoop, error) {
	if framesInFlight == 0 {
		return nil, errors.New("dispatch: at least one frame in flight is required")
	}
	if width == 0 || height == 0 {
		return nil, errors.Wrapf(ErrFrameSize, "invalid frame size %dx%d", width, height)
	}

	l := &FrameLoop{
		logger:     log.New("frame loop"),
		dev:        dev,
		dispatcher: dispatcher,
		width:      width,
		height:     height,
	}
	for i := uint32(0); i < framesInFlight; i++ {
		f, err := l.newFrame(p, tlas, i)
		if err != nil {
			l.releaseFrames()
			return nil, err
		}
		l.frames = append(l.frames, f)
	}

	err := submitter.Run(ctx, "output layout", func(cb device.CommandBuffer) error {
		barriers := make([]device.ImageBarrier, len(l.frames))
		for i, f := range l.frames {
			barriers[i] = device.ImageBarrier{
				Image:     f.output,
				OldLayout: vk.ImageLayoutUndefined,
				NewLayout: vk.ImageLayoutGeneral,
				DstAccess: device.Access(vk.AccessShaderWriteBit),
			}
		}
		cb.PipelineImageBarrier(
			device.PipelineStages(vk.PipelineStageTopOfPipeBit),
			device.PipelineStages(device.PipelineStageRayTracingShaderBit),
			barriers...,
		)
		return nil
	})
	if err != nil {
		l.releaseFrames()
		return nil, errors.Wrap(err, "dispatch: could not transition output images")
	}

	l.logger.Debugf("created %d frames in flight at %dx%d", framesInFlight, width, height)
	return l, nil
}

func (l *FrameLoop) newFrame(p *pipeline.Pipeline, tlas device.AccelerationStructure, index uint32) (*frame, error) {
	var err error
	f := &frame{index: index}
	fail := func(what string) (*frame, error) {
		f.release()
		return nil, errors.Wrapf(err, "dispatch: frame %d: could not create %s", index, what)
	}

	// The fence starts signaled so the first wait on each slot returns
	// immediately.
	if f.inFlight, err = l.dev.CreateFence(true); err != nil {
		return fail("fence")
	}
	if f.imageAvailable, err = l.dev.CreateSemaphore(); err != nil {
		return fail("image-available semaphore")
	}
	if f.renderComplete, err = l.dev.CreateSemaphore(); err != nil {
		return fail("render-complete semaphore")
	}
	if f.cb, err = l.dev.CreateCommandBuffer(); err != nil {
		return fail("command buffer")
	}
	if f.output, err = l.dev.CreateImage(device.ImageInfo{
		Name:   fmt.Sprintf("output %d", index),
		Width:  l.width,
		Height: l.height,
		Format: OutputFormat,
		Usage:  device.ImageUsage(vk.ImageUsageStorageBit, vk.ImageUsageTransferSrcBit),
	}); err != nil {
		return fail("output image")
	}
	if f.camera, err = l.dev.CreateBuffer(device.BufferInfo{
		Name:   fmt.Sprintf("camera %d", index),
		Size:   shader.CameraUniformSize,
		Usage:  device.BufferUsage(vk.BufferUsageUniformBufferBit),
		Memory: device.MemoryProperties(vk.MemoryPropertyHostVisibleBit, vk.MemoryPropertyHostCoherentBit),
	}); err != nil {
		return fail("camera buffer")
	}
	if f.sceneSet, err = p.AllocateSceneSet(); err != nil {
		return fail("scene set")
	}
	if err = pipeline.WriteSceneSet(f.sceneSet, tlas, f.output, f.camera); err != nil {
		return fail("scene set descriptors")
	}
	return f, nil
}

// Number of frame slots.
func (l *FrameLoop) FramesInFlight() int {
	return len(l.frames)
}

func (l *FrameLoop) Stats() Stats {
	return l.stats
}

// Render a frame into the swapchain:
//  1. wait for the slot fence and reset it
//  2. acquire a swapchain image, signalling image-available
//  3. upload the camera uniform
//  4. record the frame
//  5. submit, waiting on image-available and signalling render-complete and the fence
//  6. present, waiting on render-complete
func (l *FrameLoop) Render(ctx context.Context, swapchain device.Swapchain, camera shader.CameraUniform) error {
	if l.closed {
		return ErrReleased
	}
	start := time.Now()
	f := l.frames[l.current]

	if err := f.inFlight.Wait(ctx); err != nil {
		return errors.Wrapf(err, "dispatch: frame %d", f.index)
	}
	if err := f.inFlight.Reset(); err != nil {
		return errors.Wrapf(err, "dispatch: frame %d: fence reset", f.index)
	}

	submitted := false
	defer func() {
		if !submitted {
			l.recoverFrame(f)
		}
	}()

	imageIndex, err := swapchain.AcquireNextImage(ctx, f.imageAvailable)
	if err != nil {
		return errors.Wrapf(err, "dispatch: frame %d: acquire", f.index)
	}
	images := swapchain.Images()
	if int(imageIndex) >= len(images) {
		return errors.Errorf("dispatch: frame %d: swapchain returned image %d of %d", f.index, imageIndex, len(images))
	}

	if err = f.camera.Write(0, camera.Bytes()); err != nil {
		return errors.Wrapf(err, "dispatch: frame %d: camera upload", f.index)
	}

	if err = f.cb.Reset(); err != nil {
		return errors.Wrapf(err, "dispatch: frame %d", f.index)
	}
	if err = f.cb.Begin(); err != nil {
		return errors.Wrapf(err, "dispatch: frame %d", f.index)
	}
	if err = l.dispatcher.Record(f.cb, Frame{Output: f.output, SceneSet: f.sceneSet}, images[imageIndex], l.width, l.height); err != nil {
		return errors.Wrapf(err, "dispatch: frame %d", f.index)
	}
	if err = f.cb.End(); err != nil {
		return errors.Wrapf(err, "dispatch: frame %d: record", f.index)
	}

	err = l.dev.Queue().Submit(ctx, f.inFlight, device.SubmitInfo{
		WaitSemaphores:   []device.Semaphore{f.imageAvailable},
		WaitStages:       []vk.PipelineStageFlags{device.PipelineStages(vk.PipelineStageTransferBit)},
		CommandBuffers:   []device.CommandBuffer{f.cb},
		SignalSemaphores: []device.Semaphore{f.renderComplete},
	})
	if err != nil {
		return errors.Wrapf(err, "dispatch: frame %d: submit", f.index)
	}
	submitted = true

	if err = swapchain.Present(ctx, imageIndex, f.renderComplete); err != nil {
		return errors.Wrapf(err, "dispatch: frame %d: present", f.index)
	}

	l.current = (l.current + 1) % len(l.frames)
	l.stats.Frames++
	l.stats.LastFrameTime = time.Since(start)
	return nil
}

// Restore the sync objects of a slot whose frame failed before submission.
// The fence was reset without a submission that would signal it, and the
// image-available semaphore may carry a signal nothing will consume.
func (l *FrameLoop) recoverFrame(f *frame) {
	if fence, err := l.dev.CreateFence(true); err == nil {
		f.inFlight.Release()
		f.inFlight = fence
	} else {
		l.logger.Warningf("frame %d: could not recreate fence: %v", f.index, err)
	}
	if sem, err := l.dev.CreateSemaphore(); err == nil {
		f.imageAvailable.Release()
		f.imageAvailable = sem
	} else {
		l.logger.Warningf("frame %d: could not recreate semaphore: %v", f.index, err)
	}
}

// Wait for all frames in flight to complete.
func (l *FrameLoop) Wait(ctx context.Context) error {
	var first error
	for _, f := range l.frames {
		if err := f.inFlight.Wait(ctx); err != nil && first == nil {
			first = errors.Wrapf(err, "dispatch: frame %d", f.index)
		}
	}
	return first
}

func (l *FrameLoop) releaseFrames() {
	for _, f := range l.frames {
		f.release()
	}
	l.frames = nil
}

// Wait for pending frames and release all frame resources.
func (l *FrameLoop) Close() {
	if l.closed {
		return
	}
	if err := l.Wait(context.Background()); err != nil {
		l.logger.Warningf("closing with a failed frame: %v", err)
	}
	l.releaseFrames()
	l.closed = true
}
