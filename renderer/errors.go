package renderer

import "github.com/pkg/errors"

var (
	ErrSceneNotDefined = errors.New("renderer: no scene defined")
	ErrNoFrames        = errors.New("renderer: frame count must be positive")
	ErrInvalidFrame    = errors.New("renderer: frame dimensions must be positive")
	ErrClosed          = errors.New("renderer: context closed")
)
