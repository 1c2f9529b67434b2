package software

import (
	"strings"

	"github.com/achilleasa/vkrt/device"
	"github.com/pkg/errors"
)

// A Profile describes the limits reported by an emulated device.
type Profile struct {
	Info device.Info

	// Buffers are placed BufferSkew bytes past a multiple of
	// BufferPlacement. Real allocators do not promise SBT buffers at the
	// shader group base alignment; a non-zero skew reproduces that.
	BufferPlacement uint64
	BufferSkew      uint64

	// Total size of the emulated device address space.
	MemorySize uint64
}

const defaultMemorySize = 1 << 30

func baseExtensions() []string {
	return append(append([]string{}, device.RequiredExtensions...), device.ExtSwapchain)
}

var profiles = []Profile{
	{
		Info: device.Info{
			Name:       "nvidia-like",
			Vendor:     "software",
			Type:       "emulated",
			Extensions: baseExtensions(),
			RayTracing: device.RayTracingProperties{
				ShaderGroupHandleSize:      32,
				ShaderGroupHandleAlignment: 32,
				ShaderGroupBaseAlignment:   64,
				MaxShaderGroupStride:       4096,
				MaxRayRecursionDepth:       31,
			},
			AccelerationStructure: device.AccelerationStructureProperties{
				MinScratchOffsetAlignment: 128,
				MaxGeometryCount:          1 << 24,
				MaxInstanceCount:          1 << 24,
				MaxPrimitiveCount:         1 << 29,
			},
		},
		BufferPlacement: 256,
		MemorySize:      defaultMemorySize,
	},
	{
		Info: device.Info{
			Name:       "amd-like",
			Vendor:     "software",
			Type:       "emulated",
			Extensions: baseExtensions(),
			RayTracing: device.RayTracingProperties{
				ShaderGroupHandleSize:      32,
				ShaderGroupHandleAlignment: 32,
				ShaderGroupBaseAlignment:   32,
				MaxShaderGroupStride:       8192,
				MaxRayRecursionDepth:       1,
			},
			AccelerationStructure: device.AccelerationStructureProperties{
				MinScratchOffsetAlignment: 256,
				MaxGeometryCount:          1 << 24,
				MaxInstanceCount:          1 << 24,
				MaxPrimitiveCount:         1 << 29,
			},
		},
		BufferPlacement: 64,
		MemorySize:      defaultMemorySize,
	},
	{
		Info: device.Info{
			Name:       "strict",
			Vendor:     "software",
			Type:       "emulated",
			Extensions: baseExtensions(),
			RayTracing: device.RayTracingProperties{
				ShaderGroupHandleSize:      32,
				ShaderGroupHandleAlignment: 64,
				ShaderGroupBaseAlignment:   256,
				MaxShaderGroupStride:       4096,
				MaxRayRecursionDepth:       1,
			},
			AccelerationStructure: device.AccelerationStructureProperties{
				MinScratchOffsetAlignment: 256,
				MaxGeometryCount:          1 << 16,
				MaxInstanceCount:          1 << 16,
				MaxPrimitiveCount:         1 << 24,
			},
		},
		BufferPlacement: 256,
		BufferSkew:      16,
		MemorySize:      defaultMemorySize,
	},
	{
		Info: device.Info{
			Name:       "legacy",
			Vendor:     "software",
			Type:       "emulated",
			Extensions: baseExtensions(),
			RayTracing: device.RayTracingProperties{
				ShaderGroupHandleSize:      64,
				ShaderGroupHandleAlignment: 64,
				ShaderGroupBaseAlignment:   64,
				MaxShaderGroupStride:       4096,
				MaxRayRecursionDepth:       1,
			},
			AccelerationStructure: device.AccelerationStructureProperties{
				MinScratchOffsetAlignment: 128,
				MaxGeometryCount:          1 << 16,
				MaxInstanceCount:          1 << 16,
				MaxPrimitiveCount:         1 << 24,
			},
		},
		BufferPlacement: 256,
		MemorySize:      defaultMemorySize,
	},
}

// The name of the profile used when none is requested.
const DefaultProfile = "nvidia-like"

// List the available device profiles.
func Profiles() []Profile {
	out := make([]Profile, len(profiles))
	for i, p := range profiles {
		p.Info.Extensions = append([]string{}, p.Info.Extensions...)
		out[i] = p
	}
	return out
}

// Lookup a profile by name.
func ProfileByName(name string) (Profile, error) {
	if name == "" {
		name = DefaultProfile
	}
	for _, p := range Profiles() {
		if strings.EqualFold(p.Info.Name, name) {
			return p, nil
		}
	}
	names := make([]string, len(profiles))
	for i, p := range profiles {
		names[i] = p.Info.Name
	}
	return Profile{}, errors.Errorf("software device: unknown profile %q (available: %s)", name, strings.Join(names, ", "))
}
