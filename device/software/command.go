package software

import (
	"sync"

	"github.com/achilleasa/vkrt/device"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

type cbState uint8

const (
	cbInitial cbState = iota
	cbRecording
	cbExecutable
)

// A recorded command. Commands run on the queue worker in recording order
// and share the bind state of their command buffer.
type command struct {
	name string
	run  func(st *execState) error
}

// Per-execution bind state.
type execState struct {
	pipeline *pipeline
	sets     map[uint32]*descriptorSet
}

type commandBuffer struct {
	dev *Device

	mutex    sync.Mutex
	state    cbState
	pending  bool
	commands []command
	err      error
}

// Allocate a command buffer.
func (d *Device) CreateCommandBuffer() (device.CommandBuffer, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	return &commandBuffer{dev: d}, nil
}

func asCommandBuffer(cb device.CommandBuffer) (*commandBuffer, error) {
	scb, ok := cb.(*commandBuffer)
	if !ok || scb == nil {
		return nil, errors.Errorf("software device: foreign command buffer %T", cb)
	}
	return scb, nil
}

// Begin recording.
func (cb *commandBuffer) Begin() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.pending {
		return errors.New("software device: cannot begin a pending command buffer")
	}
	cb.state = cbRecording
	cb.commands = cb.commands[:0]
	cb.err = nil
	return nil
}

// End recording and report the first recording error.
func (cb *commandBuffer) End() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state != cbRecording {
		return errors.Wrap(device.ErrNotRecording, "software device: end")
	}
	if cb.err != nil {
		cb.state = cbInitial
		return cb.err
	}
	cb.state = cbExecutable
	return nil
}

// Reset to the initial state.
func (cb *commandBuffer) Reset() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.pending {
		return errors.New("software device: cannot reset a pending command buffer")
	}
	cb.state = cbInitial
	cb.commands = cb.commands[:0]
	cb.err = nil
	return nil
}

func (cb *commandBuffer) Release() {
	cb.mutex.Lock()
	cb.commands = nil
	cb.mutex.Unlock()
}

func (cb *commandBuffer) checkExecutable() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state != cbExecutable {
		return errors.New("software device: command buffer is not in the executable state")
	}
	if cb.pending {
		return errors.New("software device: command buffer is already pending execution")
	}
	return nil
}

func (cb *commandBuffer) setPending(pending bool) {
	cb.mutex.Lock()
	cb.pending = pending
	cb.mutex.Unlock()
}

// Record a command; recording errors are latched and reported by End.
func (cb *commandBuffer) record(name string, err error, run func(st *execState) error) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.err != nil {
		return
	}
	if cb.state != cbRecording {
		cb.err = errors.Wrapf(device.ErrNotRecording, "software device: %s", name)
		return
	}
	if err != nil {
		cb.err = errors.Wrapf(err, "software device: %s", name)
		return
	}
	cb.commands = append(cb.commands, command{name: name, run: run})
}

// Run all commands. Called by the queue worker.
func (cb *commandBuffer) execute() error {
	cb.mutex.Lock()
	commands := cb.commands
	cb.mutex.Unlock()

	st := &execState{sets: make(map[uint32]*descriptorSet)}
	for index, cmd := range commands {
		if err := cmd.run(st); err != nil {
			return errors.Wrapf(err, "software device (%s): command %d (%s) failed", cb.dev.name(), index, cmd.name)
		}
	}
	return nil
}

// Copy between buffers.
func (cb *commandBuffer) CopyBuffer(src, dst device.Buffer, regions ...device.BufferCopy) {
	sb, err := asBuffer(src)
	var db *buffer
	if err == nil {
		db, err = asBuffer(dst)
	}
	if err == nil {
		switch {
		case !device.HasBufferUsage(sb.info.Usage, vk.BufferUsageTransferSrcBit):
			err = errors.Wrapf(device.ErrInvalidUsage, "buffer %s lacks transfer src usage", sb.info.Name)
		case !device.HasBufferUsage(db.info.Usage, vk.BufferUsageTransferDstBit):
			err = errors.Wrapf(device.ErrInvalidUsage, "buffer %s lacks transfer dst usage", db.info.Name)
		}
	}

	cb.record("copy buffer", err, func(_ *execState) error {
		for _, region := range regions {
			data := make([]byte, region.Size)
			if err := sb.read(region.SrcOffset, data); err != nil {
				return err
			}
			if err := db.write(region.DstOffset, data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Global memory barriers order work on a single serial queue implicitly.
func (cb *commandBuffer) MemoryBarrier(srcStage, dstStage vk.PipelineStageFlags, barrier device.MemoryBarrier) {
	cb.record("memory barrier", nil, func(_ *execState) error { return nil })
}

// Transition image layouts.
func (cb *commandBuffer) PipelineImageBarrier(srcStage, dstStage vk.PipelineStageFlags, barriers ...device.ImageBarrier) {
	images := make([]*image, len(barriers))
	var err error
	for i, b := range barriers {
		if images[i], err = asImage(b.Image); err != nil {
			break
		}
	}

	cb.record("image barrier", err, func(_ *execState) error {
		for i, b := range barriers {
			if err := images[i].transition(b.OldLayout, b.NewLayout); err != nil {
				return err
			}
		}
		return nil
	})
}

// Bind a ray tracing pipeline.
func (cb *commandBuffer) BindRayTracingPipeline(p device.Pipeline) {
	sp, err := asPipeline(p)
	cb.record("bind pipeline", err, func(st *execState) error {
		if sp.released {
			return errors.Wrapf(device.ErrReleased, "pipeline %s", sp.info.Name)
		}
		st.pipeline = sp
		return nil
	})
}

// Bind descriptor sets starting at firstSet.
func (cb *commandBuffer) BindDescriptorSets(p device.Pipeline, firstSet uint32, sets ...device.DescriptorSet) {
	sp, err := asPipeline(p)
	bound := make([]*descriptorSet, len(sets))
	if err == nil {
		for i, set := range sets {
			if bound[i], err = asDescriptorSet(set); err != nil {
				break
			}
			index := firstSet + uint32(i)
			if int(index) >= len(sp.info.SetLayouts) {
				err = errors.Wrapf(device.ErrInvalidDescriptor, "pipeline %s has no set %d", sp.info.Name, index)
				break
			}
			if !sameLayout(sp.info.SetLayouts[index], bound[i].layout) {
				err = errors.Wrapf(device.ErrInvalidDescriptor, "set %d layout %q is incompatible with pipeline layout %q", index, bound[i].layout.Name, sp.info.SetLayouts[index].Name)
				break
			}
		}
	}

	cb.record("bind descriptor sets", err, func(st *execState) error {
		for i, set := range bound {
			st.sets[firstSet+uint32(i)] = set
		}
		return nil
	})
}

// Copy a whole image into another image of the same size and format.
func (cb *commandBuffer) CopyImage(src device.Image, srcLayout vk.ImageLayout, dst device.Image, dstLayout vk.ImageLayout) {
	si, err := asImage(src)
	var di *image
	if err == nil {
		di, err = asImage(dst)
	}
	if err == nil {
		switch {
		case srcLayout != vk.ImageLayoutTransferSrcOptimal:
			err = errors.Wrapf(device.ErrInvalidLayout, "copy source layout %s", device.LayoutName(srcLayout))
		case dstLayout != vk.ImageLayoutTransferDstOptimal:
			err = errors.Wrapf(device.ErrInvalidLayout, "copy destination layout %s", device.LayoutName(dstLayout))
		case si.info.Width != di.info.Width || si.info.Height != di.info.Height:
			err = errors.Errorf("image size mismatch: %dx%d vs %dx%d", si.info.Width, si.info.Height, di.info.Width, di.info.Height)
		case !device.HasImageUsage(si.info.Usage, vk.ImageUsageTransferSrcBit):
			err = errors.Wrapf(device.ErrInvalidUsage, "image %s lacks transfer src usage", si.info.Name)
		case !device.HasImageUsage(di.info.Usage, vk.ImageUsageTransferDstBit):
			err = errors.Wrapf(device.ErrInvalidUsage, "image %s lacks transfer dst usage", di.info.Name)
		}
	}

	cb.record("copy image", err, func(_ *execState) error {
		return copyImage(si, srcLayout, di, dstLayout)
	})
}

// Record acceleration structure builds.
func (cb *commandBuffer) BuildAccelerationStructures(infos []device.BuildGeometryInfo, ranges [][]device.BuildRangeInfo) {
	var err error
	if len(infos) != len(ranges) {
		err = errors.Wrapf(device.ErrInvalidBuild, "%d build infos but %d range lists", len(infos), len(ranges))
	}

	// Builds capture their inputs at record time like the driver would
	// capture the build info structs.
	infosCopy := make([]device.BuildGeometryInfo, len(infos))
	rangesCopy := make([][]device.BuildRangeInfo, len(ranges))
	for i := range infos {
		infosCopy[i] = infos[i]
		infosCopy[i].Geometries = append([]device.Geometry{}, infos[i].Geometries...)
	}
	for i := range ranges {
		rangesCopy[i] = append([]device.BuildRangeInfo{}, ranges[i]...)
	}

	cb.record("build acceleration structures", err, func(_ *execState) error {
		for i := range infosCopy {
			if err := cb.dev.executeBuild(&infosCopy[i], rangesCopy[i]); err != nil {
				return errors.Wrapf(err, "build %d", i)
			}
		}
		return nil
	})
}

// Record a ray trace dispatch.
func (cb *commandBuffer) TraceRays(raygen, miss, hit, callable device.StridedRegion, width, height, depth uint32) {
	var err error
	if width == 0 || height == 0 || depth == 0 {
		err = errors.Errorf("invalid launch size %dx%dx%d", width, height, depth)
	}
	cb.record("trace rays", err, func(st *execState) error {
		return cb.dev.traceRays(st, traceRegions{raygen, miss, hit, callable}, [3]uint32{width, height, depth})
	})
}
