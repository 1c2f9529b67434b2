package pipeline

import (
	"github.com/achilleasa/vkrt/device"
	"github.com/achilleasa/vkrt/log"
	"github.com/achilleasa/vkrt/sbt"
	"github.com/achilleasa/vkrt/shader"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

var ErrNoGeometries = errors.New("pipeline: geometry set needs at least one geometry")

// The recursion depth of the programs: primary rays only.
const RequiredRecursionDepth = 1

// A hit group. AnyHit is optional.
type HitGroup struct {
	Name       string
	ClosestHit device.ClosestHitProgram
	AnyHit     device.AnyHitProgram
}

// A named miss program.
type MissShader struct {
	Name    string
	Program device.MissProgram
}

// Info describes the programs and resources of a pipeline.
type Info struct {
	Name   string
	RayGen device.RayGenProgram
	Miss   []MissShader
	Hit    []HitGroup

	// Number of entries of each storage buffer array in set 1.
	GeometryCount uint32
}

// The descriptor layout of set 0: the TLAS, the output storage image and
// the camera uniform.
func SceneSetLayout() device.DescriptorSetLayout {
	return device.DescriptorSetLayout{
		Name: "scene",
		Bindings: []device.DescriptorBinding{
			{Binding: shader.BindingTLAS, Type: device.DescriptorTypeAccelerationStructure, Count: 1, Stages: device.ShaderStages(device.ShaderStageRaygenBit)},
			{Binding: shader.BindingOutput, Type: vk.DescriptorTypeStorageImage, Count: 1, Stages: device.ShaderStages(device.ShaderStageRaygenBit)},
			{Binding: shader.BindingCamera, Type: vk.DescriptorTypeUniformBuffer, Count: 1, Stages: device.ShaderStages(device.ShaderStageRaygenBit)},
		},
	}
}

// The descriptor layout of set 1: per-geometry vertex and index storage
// buffers.
func GeometrySetLayout(geometryCount uint32) device.DescriptorSetLayout {
	stages := device.ShaderStages(device.ShaderStageClosestHitBit, device.ShaderStageAnyHitBit)
	return device.DescriptorSetLayout{
		Name: "geometry",
		Bindings: []device.DescriptorBinding{
			{Binding: shader.BindingVertices, Type: vk.DescriptorTypeStorageBuffer, Count: geometryCount, Stages: stages},
			{Binding: shader.BindingIndices, Type: vk.DescriptorTypeStorageBuffer, Count: geometryCount, Stages: stages},
		},
	}
}

// CheckCapabilities verifies that a device can run the pipeline.
func CheckCapabilities(info device.Info) error {
	if err := device.CheckCapabilities(info); err != nil {
		return err
	}
	if info.RayTracing.MaxRayRecursionDepth < RequiredRecursionDepth {
		return errors.Errorf("pipeline: %s supports a recursion depth of %d; %d required", info.Name, info.RayTracing.MaxRayRecursionDepth, RequiredRecursionDepth)
	}
	return nil
}

// Pipeline wraps a device ray tracing pipeline and the mapping of its shader
// groups to SBT regions.
type Pipeline struct {
	logger   log.Logger
	dev      device.Device
	info     Info
	pipeline device.Pipeline
	groups   sbt.Groups
	layouts  []device.DescriptorSetLayout
}

// Create a pipeline. Stages are laid out as [raygen, misses, hit shaders]
// and groups as [raygen, misses, hit groups].
func New(dev device.Device, info Info) (*Pipeline, error) {
	if err := CheckCapabilities(dev.Info()); err != nil {
		return nil, err
	}
	if info.RayGen == nil {
		return nil, errors.Wrap(device.ErrInvalidShaderGroups, "pipeline: missing ray generation program")
	}
	if len(info.Miss) == 0 || len(info.Hit) == 0 {
		return nil, errors.Wrap(device.ErrInvalidShaderGroups, "pipeline: at least one miss program and one hit group are required")
	}
	if info.GeometryCount == 0 {
		return nil, ErrNoGeometries
	}

	var (
		stages []device.ShaderStage
		groups []device.ShaderGroup
		mapped sbt.Groups
	)
	addStage := func(stage vk.ShaderStageFlagBits, entry string, program interface{}) uint32 {
		stages = append(stages, device.ShaderStage{Stage: stage, Entry: entry, Program: program})
		return uint32(len(stages) - 1)
	}

	mapped.RayGen = uint32(len(groups))
	groups = append(groups, device.GeneralGroup(addStage(device.ShaderStageRaygenBit, "raygen", info.RayGen)))
	for _, m := range info.Miss {
		mapped.Miss = append(mapped.Miss, uint32(len(groups)))
		groups = append(groups, device.GeneralGroup(addStage(device.ShaderStageMissBit, m.Name, m.Program)))
	}
	for _, h := range info.Hit {
		if h.ClosestHit == nil {
			return nil, errors.Wrapf(device.ErrInvalidShaderGroups, "pipeline: hit group %q has no closest-hit program", h.Name)
		}
		closestHit := addStage(device.ShaderStageClosestHitBit, h.Name+" closest-hit", h.ClosestHit)
		anyHit := device.ShaderUnused
		if h.AnyHit != nil {
			anyHit = addStage(device.ShaderStageAnyHitBit, h.Name+" any-hit", h.AnyHit)
		}
		mapped.Hit = append(mapped.Hit, uint32(len(groups)))
		groups = append(groups, device.TrianglesHitGroup(closestHit, anyHit))
	}

	layouts := []device.DescriptorSetLayout{SceneSetLayout(), GeometrySetLayout(info.GeometryCount)}
	p, err := dev.CreateRayTracingPipeline(device.PipelineInfo{
		Name:              info.Name,
		Stages:            stages,
		Groups:            groups,
		SetLayouts:        layouts,
		MaxRecursionDepth: RequiredRecursionDepth,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "pipeline: could not create %q", info.Name)
	}

	pl := &Pipeline{
		logger:   log.New("pipeline"),
		dev:      dev,
		info:     info,
		pipeline: p,
		groups:   mapped,
		layouts:  layouts,
	}
	pl.logger.Debugf("created %q: %d stages, %d groups (%d miss, %d hit)", info.Name, len(stages), len(groups), len(mapped.Miss), len(mapped.Hit))
	return pl, nil
}

func (p *Pipeline) Name() string {
	return p.info.Name
}

// The device pipeline to bind.
func (p *Pipeline) Device() device.Pipeline {
	return p.pipeline
}

// The group index of each SBT region entry.
func (p *Pipeline) Groups() sbt.Groups {
	return p.groups
}

func (p *Pipeline) MissCount() uint32 {
	return uint32(len(p.groups.Miss))
}

func (p *Pipeline) GeometryCount() uint32 {
	return p.info.GeometryCount
}

// Retrieve the shader group handles split by SBT region.
func (p *Pipeline) Handles() (sbt.Handles, error) {
	return sbt.FetchHandles(p.dev, p.pipeline, p.groups)
}

// Allocate a set 0 descriptor set.
func (p *Pipeline) AllocateSceneSet() (device.DescriptorSet, error) {
	set, err := p.dev.AllocateDescriptorSet(p.layouts[shader.SceneSet])
	if err != nil {
		return nil, errors.Wrap(err, "pipeline: could not allocate scene set")
	}
	return set, nil
}

// Point a set 0 descriptor set at the per-frame resources.
func WriteSceneSet(set device.DescriptorSet, tlas device.AccelerationStructure, output device.Image, camera device.Buffer) error {
	if err := set.WriteAccelerationStructure(shader.BindingTLAS, tlas); err != nil {
		return errors.Wrap(err, "pipeline: tlas binding")
	}
	if err := set.WriteStorageImage(shader.BindingOutput, output); err != nil {
		return errors.Wrap(err, "pipeline: output image binding")
	}
	if err := set.WriteBuffer(shader.BindingCamera, 0, camera); err != nil {
		return errors.Wrap(err, "pipeline: camera binding")
	}
	return nil
}

// Geometry buffers bound at one element of set 1.
type GeometryBuffers struct {
	Vertices device.Buffer
	Indices  device.Buffer
}

// Allocate and fill set 1. Element i of each binding holds the buffers of
// geometry i.
func (p *Pipeline) AllocateGeometrySet(geometries []GeometryBuffers) (device.DescriptorSet, error) {
	if uint32(len(geometries)) != p.info.GeometryCount {
		return nil, errors.Errorf("pipeline: geometry set of %q expects %d geometries; got %d", p.info.Name, p.info.GeometryCount, len(geometries))
	}
	set, err := p.dev.AllocateDescriptorSet(p.layouts[shader.GeometrySet])
	if err != nil {
		return nil, errors.Wrap(err, "pipeline: could not allocate geometry set")
	}
	for i, g := range geometries {
		if err = set.WriteBuffer(shader.BindingVertices, uint32(i), g.Vertices); err != nil {
			set.Release()
			return nil, errors.Wrapf(err, "pipeline: geometry %d vertices", i)
		}
		if err = set.WriteBuffer(shader.BindingIndices, uint32(i), g.Indices); err != nil {
			set.Release()
			return nil, errors.Wrapf(err, "pipeline: geometry %d indices", i)
		}
	}
	return set, nil
}

func (p *Pipeline) Release() {
	if p.pipeline != nil {
		p.pipeline.Release()
		p.pipeline = nil
	}
}
