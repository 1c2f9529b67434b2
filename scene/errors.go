package scene

import "github.com/pkg/errors"

var (
	ErrInvalidScene = errors.New("scene: invalid scene description")
	ErrUnknownMesh  = errors.New("scene: instance references an unknown mesh")
	ErrEmptyMesh    = errors.New("scene: mesh has no geometries")
)
