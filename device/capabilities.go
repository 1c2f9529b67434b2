package device

import (
	"strings"

	"github.com/pkg/errors"
)

// The only shader group handle size the SBT layout supports.
const RequiredShaderGroupHandleSize = 32

// HitGroupRecordIndex evaluates the hardware hit group addressing formula.
// The hit record used for an intersection lives at
//
//	hit.DeviceAddress + hit.Stride * HitGroupRecordIndex(...)
//
// where instanceOffset is the instance SBT record offset, geometryIndex the
// index of the geometry within its BLAS and sbtRecordStride/sbtRecordOffset
// come from the traceRay call.
func HitGroupRecordIndex(instanceOffset, geometryIndex, sbtRecordStride, sbtRecordOffset uint32) uint32 {
	return instanceOffset + geometryIndex*sbtRecordStride + sbtRecordOffset
}

// Returns true if v is a non-zero power of two.
func IsPowerOfTwo(v uint64) bool {
	return v != 0 && v&(v-1) == 0
}

// CheckCapabilities verifies that a device can run the ray-tracing pipeline.
// The returned error wraps one of ErrMissingExtension,
// ErrUnsupportedHandleSize or ErrInvalidAlignment.
func CheckCapabilities(info Info) error {
	var missing []string
	for _, ext := range RequiredExtensions {
		if !info.HasExtension(ext) {
			missing = append(missing, ext)
		}
	}
	if len(missing) != 0 {
		return errors.Wrapf(ErrMissingExtension, "%s: %s", info.Name, strings.Join(missing, ", "))
	}

	rt := info.RayTracing
	if rt.ShaderGroupHandleSize != RequiredShaderGroupHandleSize {
		return errors.Wrapf(ErrUnsupportedHandleSize, "%s: handle size %d; expected %d", info.Name, rt.ShaderGroupHandleSize, RequiredShaderGroupHandleSize)
	}

	for _, a := range []struct {
		name  string
		value uint32
	}{
		{"shader group handle alignment", rt.ShaderGroupHandleAlignment},
		{"shader group base alignment", rt.ShaderGroupBaseAlignment},
		{"min scratch offset alignment", info.AccelerationStructure.MinScratchOffsetAlignment},
	} {
		if !IsPowerOfTwo(uint64(a.value)) {
			return errors.Wrapf(ErrInvalidAlignment, "%s: %s is %d", info.Name, a.name, a.value)
		}
	}

	if rt.ShaderGroupBaseAlignment < rt.ShaderGroupHandleAlignment {
		return errors.Wrapf(ErrInvalidAlignment, "%s: base alignment %d is smaller than handle alignment %d", info.Name, rt.ShaderGroupBaseAlignment, rt.ShaderGroupHandleAlignment)
	}

	return nil
}
