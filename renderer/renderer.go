package renderer

import (
	"context"

	"github.com/achilleasa/vkrt/device"
)

type Renderer interface {
	// Render the configured frames into the swapchain.
	Render(ctx context.Context, swapchain device.Swapchain) error

	// Release all device resources.
	Close()

	// Get render statistics.
	Stats() FrameStats
}
