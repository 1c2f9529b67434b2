package dispatch

import (
	"github.com/achilleasa/vkrt/device"
	"github.com/achilleasa/vkrt/pipeline"
	"github.com/achilleasa/vkrt/sbt"
	"github.com/achilleasa/vkrt/shader"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

var (
	ErrIncompleteFrame = errors.New("dispatch: frame is missing its output image or scene set")
	ErrFrameSize       = errors.New("dispatch: launch size does not match the frame images")
	ErrReleased        = errors.New("dispatch: frame loop already closed")
)

// Frame holds the per-frame resources a dispatch writes to.
type Frame struct {
	// Storage image the ray generation program writes to. It must be in
	// the General layout whenever a recorded frame starts executing.
	Output   device.Image
	SceneSet device.DescriptorSet
}

// Dispatcher records the commands that trace a frame and copy it into a
// presentable image.
type Dispatcher struct {
	pipeline    *pipeline.Pipeline
	table       *sbt.Table
	geometrySet device.DescriptorSet

	raygen, miss, hit, callable device.StridedRegion
}

// Create a dispatcher for a pipeline, its SBT and the geometry set shared by
// all frames.
func NewDispatcher(p *pipeline.Pipeline, table *sbt.Table, geometrySet device.DescriptorSet) *Dispatcher {
	d := &Dispatcher{
		pipeline:    p,
		table:       table,
		geometrySet: geometrySet,
	}
	d.raygen, d.miss, d.hit, d.callable = table.Regions()
	return d
}

// The SBT regions passed to TraceRays.
func (d *Dispatcher) Regions() (raygen, miss, hit, callable device.StridedRegion) {
	return d.raygen, d.miss, d.hit, d.callable
}

// Record a frame into cb. The output image goes General -> TransferSrc ->
// General and the target goes Undefined -> TransferDst -> PresentSrc.
func (d *Dispatcher) Record(cb device.CommandBuffer, frame Frame, target device.Image, width, height uint32) error {
	if frame.Output == nil || frame.SceneSet == nil {
		return ErrIncompleteFrame
	}
	if target == nil {
		return errors.New("dispatch: nil target image")
	}
	for _, img := range []device.Image{frame.Output, target} {
		if img.Width() != width || img.Height() != height {
			return errors.Wrapf(ErrFrameSize, "image %s is %dx%d; launch is %dx%d", img.Name(), img.Width(), img.Height(), width, height)
		}
	}

	cb.BindRayTracingPipeline(d.pipeline.Device())
	cb.BindDescriptorSets(d.pipeline.Device(), shader.SceneSet, frame.SceneSet, d.geometrySet)
	cb.TraceRays(d.raygen, d.miss, d.hit, d.callable, width, height, 1)

	cb.PipelineImageBarrier(
		device.PipelineStages(device.PipelineStageRayTracingShaderBit, vk.PipelineStageTopOfPipeBit),
		device.PipelineStages(vk.PipelineStageTransferBit),
		device.ImageBarrier{
			Image:     frame.Output,
			OldLayout: vk.ImageLayoutGeneral,
			NewLayout: vk.ImageLayoutTransferSrcOptimal,
			SrcAccess: device.Access(vk.AccessShaderWriteBit),
			DstAccess: device.Access(vk.AccessTransferReadBit),
		},
		device.ImageBarrier{
			Image:     target,
			OldLayout: vk.ImageLayoutUndefined,
			NewLayout: vk.ImageLayoutTransferDstOptimal,
			DstAccess: device.Access(vk.AccessTransferWriteBit),
		},
	)

	cb.CopyImage(frame.Output, vk.ImageLayoutTransferSrcOptimal, target, vk.ImageLayoutTransferDstOptimal)

	cb.PipelineImageBarrier(
		device.PipelineStages(vk.PipelineStageTransferBit),
		device.PipelineStages(device.PipelineStageRayTracingShaderBit, vk.PipelineStageBottomOfPipeBit),
		device.ImageBarrier{
			Image:     frame.Output,
			OldLayout: vk.ImageLayoutTransferSrcOptimal,
			NewLayout: vk.ImageLayoutGeneral,
			SrcAccess: device.Access(vk.AccessTransferReadBit),
			DstAccess: device.Access(vk.AccessShaderWriteBit),
		},
		device.ImageBarrier{
			Image:     target,
			OldLayout: vk.ImageLayoutTransferDstOptimal,
			NewLayout: vk.ImageLayoutPresentSrc,
			SrcAccess: device.Access(vk.AccessTransferWriteBit),
		},
	)
	return nil
}
