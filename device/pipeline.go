package device

import (
	vk "github.com/vulkan-go/vulkan"
)

type ShaderGroupType uint32

const (
	ShaderGroupTypeGeneral            ShaderGroupType = 0
	ShaderGroupTypeTrianglesHitGroup  ShaderGroupType = 1
	ShaderGroupTypeProceduralHitGroup ShaderGroupType = 2
)

func (t ShaderGroupType) String() string {
	switch t {
	case ShaderGroupTypeGeneral:
		return "general"
	case ShaderGroupTypeTrianglesHitGroup:
		return "triangles-hit"
	case ShaderGroupTypeProceduralHitGroup:
		return "procedural-hit"
	}
	return "unknown"
}

// Marks an unused shader slot in a ShaderGroup.
const ShaderUnused = ^uint32(0)

// A shader stage of a ray-tracing pipeline. Hardware drivers consume SPIRV;
// the software device runs Program which must be one of RayGenProgram,
// ClosestHitProgram, AnyHitProgram or MissProgram matching Stage.
type ShaderStage struct {
	Stage   vk.ShaderStageFlagBits
	Entry   string
	SPIRV   []uint32
	Program interface{}
}

// A shader group references stages by index into PipelineInfo.Stages.
type ShaderGroup struct {
	Type         ShaderGroupType
	General      uint32
	ClosestHit   uint32
	AnyHit       uint32
	Intersection uint32
}

// Define a general (raygen, miss or callable) group.
func GeneralGroup(stage uint32) ShaderGroup {
	return ShaderGroup{
		Type:         ShaderGroupTypeGeneral,
		General:      stage,
		ClosestHit:   ShaderUnused,
		AnyHit:       ShaderUnused,
		Intersection: ShaderUnused,
	}
}

// Define a triangles hit group. Use ShaderUnused for an absent any-hit.
func TrianglesHitGroup(closestHit, anyHit uint32) ShaderGroup {
	return ShaderGroup{
		Type:         ShaderGroupTypeTrianglesHitGroup,
		General:      ShaderUnused,
		ClosestHit:   closestHit,
		AnyHit:       anyHit,
		Intersection: ShaderUnused,
	}
}

type DescriptorBinding struct {
	Binding uint32
	Type    vk.DescriptorType
	Count   uint32
	Stages  vk.ShaderStageFlags
}

type DescriptorSetLayout struct {
	Name     string
	Bindings []DescriptorBinding
}

// Find a binding by number.
func (l DescriptorSetLayout) Binding(binding uint32) (DescriptorBinding, bool) {
	for _, b := range l.Bindings {
		if b.Binding == binding {
			return b, true
		}
	}
	return DescriptorBinding{}, false
}

type PipelineInfo struct {
	Name              string
	Stages            []ShaderStage
	Groups            []ShaderGroup
	SetLayouts        []DescriptorSetLayout
	MaxRecursionDepth uint32
}

type Pipeline interface {
	Name() string
	GroupCount() uint32
	SetLayouts() []DescriptorSetLayout
	Release()
}

// A descriptor set allocated against a layout. Writes are validated against
// the layout binding types.
type DescriptorSet interface {
	Layout() DescriptorSetLayout
	WriteAccelerationStructure(binding uint32, as AccelerationStructure) error
	WriteStorageImage(binding uint32, img Image) error
	WriteBuffer(binding, arrayElement uint32, buf Buffer) error
	Release()
}
