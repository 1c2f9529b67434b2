package device

import "github.com/pkg/errors"

var (
	// Capability errors. These are fatal at startup.
	ErrMissingExtension      = errors.New("device: required extension not supported")
	ErrUnsupportedHandleSize = errors.New("device: unsupported shader group handle size")
	ErrInvalidAlignment      = errors.New("device: alignment is not a non-zero power of two")

	// Allocation errors.
	ErrOutOfDeviceMemory = errors.New("device: out of device memory")

	ErrDeviceLost          = errors.New("device: device lost")
	ErrNoDeviceAddress     = errors.New("device: buffer was not created with shader device address usage")
	ErrNotHostVisible      = errors.New("device: buffer memory is not host visible")
	ErrOutOfRange          = errors.New("device: access out of buffer range")
	ErrReleased            = errors.New("device: object already released")
	ErrInvalidUsage        = errors.New("device: object used without the required usage flag")
	ErrFieldOverflow       = errors.New("device: value does not fit in its packed field")
	ErrInvalidLayout       = errors.New("device: image is not in the expected layout")
	ErrInvalidSBT          = errors.New("device: invalid shader binding table region")
	ErrNotRecording        = errors.New("device: command buffer is not recording")
	ErrInvalidBuild        = errors.New("device: invalid acceleration structure build")
	ErrUnknownAddress      = errors.New("device: address does not resolve to a live buffer")
	ErrNoPipelineBound     = errors.New("device: no ray tracing pipeline bound")
	ErrInvalidDescriptor   = errors.New("device: invalid descriptor")
	ErrInvalidShaderGroups = errors.New("device: invalid shader group definition")
)
