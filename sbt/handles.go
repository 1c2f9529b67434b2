package sbt

import (
	"github.com/achilleasa/vkrt/device"
	"github.com/pkg/errors"
)

// Groups maps pipeline shader group indices to table regions.
type Groups struct {
	RayGen   uint32
	Miss     []uint32
	Hit      []uint32
	Callable []uint32
}

// Retrieve the handles of every pipeline group with a single query and
// split them by region.
func FetchHandles(dev device.Device, pipeline device.Pipeline, groups Groups) (Handles, error) {
	handleSize := uint64(dev.Info().RayTracing.ShaderGroupHandleSize)
	if handleSize != device.RequiredShaderGroupHandleSize {
		return Handles{}, errors.Wrapf(device.ErrUnsupportedHandleSize, "sbt: handle size %d", handleSize)
	}

	count := pipeline.GroupCount()
	raw, err := dev.ShaderGroupHandles(pipeline, 0, count)
	if err != nil {
		return Handles{}, errors.Wrapf(err, "sbt: could not fetch handles of pipeline %s", pipeline.Name())
	}
	if uint64(len(raw)) != uint64(count)*handleSize {
		return Handles{}, errors.Wrapf(ErrHandleCount, "sbt: got %d bytes of handles for %d groups", len(raw), count)
	}

	handle := func(group uint32) ([]byte, error) {
		if group >= count {
			return nil, errors.Wrapf(ErrHandleCount, "sbt: group %d of pipeline %s with %d groups", group, pipeline.Name(), count)
		}
		out := make([]byte, handleSize)
		copy(out, raw[uint64(group)*handleSize:])
		return out, nil
	}
	list := func(indices []uint32) ([][]byte, error) {
		out := make([][]byte, len(indices))
		for i, g := range indices {
			if out[i], err = handle(g); err != nil {
				return nil, err
			}
		}
		return out, nil
	}

	var h Handles
	if h.RayGen, err = handle(groups.RayGen); err != nil {
		return Handles{}, err
	}
	if h.Miss, err = list(groups.Miss); err != nil {
		return Handles{}, err
	}
	if h.Hit, err = list(groups.Hit); err != nil {
		return Handles{}, err
	}
	if h.Callable, err = list(groups.Callable); err != nil {
		return Handles{}, err
	}
	return h, nil
}
