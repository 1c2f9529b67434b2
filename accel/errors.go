package accel

import "github.com/pkg/errors"

var (
	ErrNoGeometries    = errors.New("accel: bottom-level structure needs at least one geometry")
	ErrNoInstances     = errors.New("accel: top-level structure needs at least one instance")
	ErrInvalidBLAS     = errors.New("accel: instance references a missing or released bottom-level structure")
	ErrInvalidRayTypes = errors.New("accel: ray type count must be at least 1")
	ErrReleased        = errors.New("accel: acceleration structure already released")
)
