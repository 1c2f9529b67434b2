package device

import (
	vk "github.com/vulkan-go/vulkan"
)

// The vulkan-go headers predate the KHR ray-tracing extensions. The values
// below are the registry values of the enums and flag bits this package
// needs, typed against the vulkan-go enum types so they combine with the
// core flags.
const (
	BufferUsageShaderBindingTableBit                      vk.BufferUsageFlagBits = 0x00000400
	BufferUsageShaderDeviceAddressBit                     vk.BufferUsageFlagBits = 0x00020000
	BufferUsageAccelerationStructureBuildInputReadOnlyBit vk.BufferUsageFlagBits = 0x00080000
	BufferUsageAccelerationStructureStorageBit            vk.BufferUsageFlagBits = 0x00100000

	DescriptorTypeAccelerationStructure vk.DescriptorType = 1000150000

	ShaderStageRaygenBit       vk.ShaderStageFlagBits = 0x00000100
	ShaderStageAnyHitBit       vk.ShaderStageFlagBits = 0x00000200
	ShaderStageClosestHitBit   vk.ShaderStageFlagBits = 0x00000400
	ShaderStageMissBit         vk.ShaderStageFlagBits = 0x00000800
	ShaderStageIntersectionBit vk.ShaderStageFlagBits = 0x00001000
	ShaderStageCallableBit     vk.ShaderStageFlagBits = 0x00002000

	PipelineStageRayTracingShaderBit           vk.PipelineStageFlagBits = 0x00200000
	PipelineStageAccelerationStructureBuildBit vk.PipelineStageFlagBits = 0x02000000

	AccessAccelerationStructureReadBit  vk.AccessFlagBits = 0x00200000
	AccessAccelerationStructureWriteBit vk.AccessFlagBits = 0x00400000
)

// Extension names required by the ray-tracing pipeline.
const (
	ExtAccelerationStructure  = "VK_KHR_acceleration_structure"
	ExtRayTracingPipeline     = "VK_KHR_ray_tracing_pipeline"
	ExtBufferDeviceAddress    = "VK_KHR_buffer_device_address"
	ExtDeferredHostOperations = "VK_KHR_deferred_host_operations"
	ExtDescriptorIndexing     = "VK_EXT_descriptor_indexing"
	ExtSpirv14                = "VK_KHR_spirv_1_4"
	ExtShaderFloatControls    = "VK_KHR_shader_float_controls"
	ExtSwapchain              = "VK_KHR_swapchain"
)

// RequiredExtensions lists the device extensions a driver must expose.
var RequiredExtensions = []string{
	ExtAccelerationStructure,
	ExtRayTracingPipeline,
	ExtBufferDeviceAddress,
	ExtDeferredHostOperations,
	ExtDescriptorIndexing,
	ExtSpirv14,
	ExtShaderFloatControls,
}

// Combine buffer usage bits.
func BufferUsage(bits ...vk.BufferUsageFlagBits) vk.BufferUsageFlags {
	var out vk.BufferUsageFlags
	for _, b := range bits {
		out |= vk.BufferUsageFlags(b)
	}
	return out
}

// Combine memory property bits.
func MemoryProperties(bits ...vk.MemoryPropertyFlagBits) vk.MemoryPropertyFlags {
	var out vk.MemoryPropertyFlags
	for _, b := range bits {
		out |= vk.MemoryPropertyFlags(b)
	}
	return out
}

// Combine image usage bits.
func ImageUsage(bits ...vk.ImageUsageFlagBits) vk.ImageUsageFlags {
	var out vk.ImageUsageFlags
	for _, b := range bits {
		out |= vk.ImageUsageFlags(b)
	}
	return out
}

// Combine pipeline stage bits.
func PipelineStages(bits ...vk.PipelineStageFlagBits) vk.PipelineStageFlags {
	var out vk.PipelineStageFlags
	for _, b := range bits {
		out |= vk.PipelineStageFlags(b)
	}
	return out
}

// Combine access bits.
func Access(bits ...vk.AccessFlagBits) vk.AccessFlags {
	var out vk.AccessFlags
	for _, b := range bits {
		out |= vk.AccessFlags(b)
	}
	return out
}

// Combine shader stage bits.
func ShaderStages(bits ...vk.ShaderStageFlagBits) vk.ShaderStageFlags {
	var out vk.ShaderStageFlags
	for _, b := range bits {
		out |= vk.ShaderStageFlags(b)
	}
	return out
}

// Returns true if flags contains bit.
func HasBufferUsage(flags vk.BufferUsageFlags, bit vk.BufferUsageFlagBits) bool {
	return flags&vk.BufferUsageFlags(bit) == vk.BufferUsageFlags(bit)
}

// Returns true if flags contains bit.
func HasMemoryProperty(flags vk.MemoryPropertyFlags, bit vk.MemoryPropertyFlagBits) bool {
	return flags&vk.MemoryPropertyFlags(bit) == vk.MemoryPropertyFlags(bit)
}

// Returns true if flags contains bit.
func HasImageUsage(flags vk.ImageUsageFlags, bit vk.ImageUsageFlagBits) bool {
	return flags&vk.ImageUsageFlags(bit) == vk.ImageUsageFlags(bit)
}

// Returns a short name for the image layouts used by the ray-tracing pass.
func LayoutName(layout vk.ImageLayout) string {
	switch layout {
	case vk.ImageLayoutUndefined:
		return "undefined"
	case vk.ImageLayoutGeneral:
		return "general"
	case vk.ImageLayoutTransferSrcOptimal:
		return "transfer-src"
	case vk.ImageLayoutTransferDstOptimal:
		return "transfer-dst"
	case vk.ImageLayoutPresentSrc:
		return "present-src"
	}
	return "unknown"
}
