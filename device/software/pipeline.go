package software

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/achilleasa/vkrt/device"
	"github.com/pkg/errors"
)

type pipeline struct {
	dev      *Device
	id       uint64
	info     device.PipelineInfo
	handles  [][]byte
	released bool
}

// Identifies a shader group by the handle stored in an SBT record.
type groupRef struct {
	pipeline *pipeline
	group    uint32
}

// Create a ray tracing pipeline. Every stage must carry a host program of
// the matching type.
func (d *Device) CreateRayTracingPipeline(info device.PipelineInfo) (device.Pipeline, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	if err := d.validatePipeline(&info); err != nil {
		return nil, errors.Wrapf(err, "software device (%s): pipeline %s", d.name(), info.Name)
	}

	d.mutex.Lock()
	d.pipelineID++
	p := &pipeline{
		dev:  d,
		id:   d.pipelineID,
		info: info,
	}
	handleSize := int(d.profile.Info.RayTracing.ShaderGroupHandleSize)
	for gi := range info.Groups {
		handle := groupHandle(p.id, uint32(gi), handleSize)
		p.handles = append(p.handles, handle)
		d.handles[string(handle)] = groupRef{pipeline: p, group: uint32(gi)}
	}
	d.mutex.Unlock()

	d.logger.Debugf("created pipeline %s with %d stages and %d groups", info.Name, len(info.Stages), len(info.Groups))
	return p, nil
}

// Derive an opaque handle. Handles are unique per (pipeline, group) and
// never all zero.
func groupHandle(pipelineID uint64, group uint32, size int) []byte {
	out := make([]byte, 0, size)
	var seed [16]byte
	binary.LittleEndian.PutUint64(seed[0:], pipelineID)
	binary.LittleEndian.PutUint32(seed[8:], group)
	for block := uint32(0); len(out) < size; block++ {
		binary.LittleEndian.PutUint32(seed[12:], block)
		sum := sha256.Sum256(seed[:])
		out = append(out, sum[:]...)
	}
	return out[:size]
}

func (d *Device) validatePipeline(info *device.PipelineInfo) error {
	if len(info.Groups) == 0 {
		return errors.Wrap(device.ErrInvalidShaderGroups, "no shader groups")
	}
	maxDepth := d.profile.Info.RayTracing.MaxRayRecursionDepth
	if info.MaxRecursionDepth == 0 || info.MaxRecursionDepth > maxDepth {
		return errors.Errorf("max recursion depth %d outside [1, %d]", info.MaxRecursionDepth, maxDepth)
	}

	for si, stage := range info.Stages {
		ok := false
		switch stage.Stage {
		case device.ShaderStageRaygenBit:
			_, ok = stage.Program.(device.RayGenProgram)
		case device.ShaderStageClosestHitBit:
			_, ok = stage.Program.(device.ClosestHitProgram)
		case device.ShaderStageAnyHitBit:
			_, ok = stage.Program.(device.AnyHitProgram)
		case device.ShaderStageMissBit:
			_, ok = stage.Program.(device.MissProgram)
		default:
			return errors.Errorf("stage %d (%s): unsupported shader stage 0x%x", si, stage.Entry, uint32(stage.Stage))
		}
		if !ok {
			return errors.Errorf("stage %d (%s): missing or mismatched host program %T", si, stage.Entry, stage.Program)
		}
	}

	stageIs := func(index uint32, stages ...uint32) bool {
		if index == device.ShaderUnused || int(index) >= len(info.Stages) {
			return false
		}
		for _, s := range stages {
			if uint32(info.Stages[index].Stage) == s {
				return true
			}
		}
		return false
	}

	for gi, g := range info.Groups {
		switch g.Type {
		case device.ShaderGroupTypeGeneral:
			if !stageIs(g.General, uint32(device.ShaderStageRaygenBit), uint32(device.ShaderStageMissBit), uint32(device.ShaderStageCallableBit)) {
				return errors.Wrapf(device.ErrInvalidShaderGroups, "group %d: general shader must be a raygen, miss or callable stage", gi)
			}
			if g.ClosestHit != device.ShaderUnused || g.AnyHit != device.ShaderUnused || g.Intersection != device.ShaderUnused {
				return errors.Wrapf(device.ErrInvalidShaderGroups, "group %d: general groups cannot reference hit shaders", gi)
			}
		case device.ShaderGroupTypeTrianglesHitGroup:
			if g.General != device.ShaderUnused || g.Intersection != device.ShaderUnused {
				return errors.Wrapf(device.ErrInvalidShaderGroups, "group %d: triangle hit groups can only reference closest-hit and any-hit shaders", gi)
			}
			if g.ClosestHit != device.ShaderUnused && !stageIs(g.ClosestHit, uint32(device.ShaderStageClosestHitBit)) {
				return errors.Wrapf(device.ErrInvalidShaderGroups, "group %d: closest-hit index %d is not a closest-hit stage", gi, g.ClosestHit)
			}
			if g.AnyHit != device.ShaderUnused && !stageIs(g.AnyHit, uint32(device.ShaderStageAnyHitBit)) {
				return errors.Wrapf(device.ErrInvalidShaderGroups, "group %d: any-hit index %d is not an any-hit stage", gi, g.AnyHit)
			}
		case device.ShaderGroupTypeProceduralHitGroup:
			return errors.Wrapf(device.ErrInvalidShaderGroups, "group %d: procedural hit groups are not supported", gi)
		default:
			return errors.Wrapf(device.ErrInvalidShaderGroups, "group %d: unknown group type %d", gi, g.Type)
		}
	}
	return nil
}

// Get handles for groupCount groups starting at firstGroup, packed back to
// back.
func (d *Device) ShaderGroupHandles(p device.Pipeline, firstGroup, groupCount uint32) ([]byte, error) {
	sp, err := asPipeline(p)
	if err != nil {
		return nil, err
	}
	if sp.released {
		return nil, errors.Wrapf(device.ErrReleased, "software device (%s): pipeline %s", d.name(), sp.info.Name)
	}
	if uint64(firstGroup)+uint64(groupCount) > uint64(len(sp.handles)) {
		return nil, errors.Wrapf(device.ErrOutOfRange, "software device (%s): groups [%d, %d) exceed the %d groups of pipeline %s", d.name(), firstGroup, firstGroup+groupCount, len(sp.handles), sp.info.Name)
	}

	out := make([]byte, 0, int(groupCount)*int(d.profile.Info.RayTracing.ShaderGroupHandleSize))
	for _, h := range sp.handles[firstGroup : firstGroup+groupCount] {
		out = append(out, h...)
	}
	return out, nil
}

// Map a handle read from an SBT record back to its group.
func (d *Device) lookupHandle(handle []byte) (groupRef, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	ref, ok := d.handles[string(handle)]
	return ref, ok
}

func asPipeline(p device.Pipeline) (*pipeline, error) {
	sp, ok := p.(*pipeline)
	if !ok || sp == nil {
		return nil, errors.Errorf("software device: foreign pipeline %T", p)
	}
	return sp, nil
}

func (p *pipeline) Name() string {
	return p.info.Name
}

func (p *pipeline) GroupCount() uint32 {
	return uint32(len(p.info.Groups))
}

func (p *pipeline) SetLayouts() []device.DescriptorSetLayout {
	return p.info.SetLayouts
}

// Release the pipeline; its handles stop resolving.
func (p *pipeline) Release() {
	p.dev.mutex.Lock()
	defer p.dev.mutex.Unlock()

	if p.released {
		return
	}
	p.released = true
	for _, h := range p.handles {
		delete(p.dev.handles, string(h))
	}
}

// Returns the program a group runs for a stage kind.
func (p *pipeline) program(index uint32) interface{} {
	if index == device.ShaderUnused || int(index) >= len(p.info.Stages) {
		return nil
	}
	return p.info.Stages[index].Program
}
