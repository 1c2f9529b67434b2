package geometry

import "github.com/pkg/errors"

var (
	ErrInvalidGeometry = errors.New("geometry: invalid geometry")
	ErrReleased        = errors.New("geometry: store already released")
	ErrUnknownBuiltin  = errors.New("geometry: unknown builtin mesh")
)
