package software

import (
	"context"
	"fmt"
	goimage "image"
	"sync"

	"github.com/achilleasa/vkrt/device"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// An offscreen swapchain. Presented images are captured instead of being
// shown on a surface.
type Swapchain struct {
	dev    *Device
	images []*image

	mutex     sync.Mutex
	next      uint32
	acquired  []bool
	lastFrame *goimage.RGBA
	presented uint64
}

// Create an offscreen swapchain with count BGRA8 images.
func NewSwapchain(dev *Device, width, height, count uint32) (*Swapchain, error) {
	if count == 0 {
		return nil, errors.New("software swapchain: image count must be at least 1")
	}

	sc := &Swapchain{
		dev:      dev,
		acquired: make([]bool, count),
	}
	for i := uint32(0); i < count; i++ {
		img, err := dev.CreateImage(device.ImageInfo{
			Name:   fmt.Sprintf("swapchain image %d", i),
			Width:  width,
			Height: height,
			Format: vk.FormatB8g8r8a8Unorm,
			Usage:  device.ImageUsage(vk.ImageUsageTransferDstBit, vk.ImageUsageColorAttachmentBit),
		})
		if err != nil {
			sc.Release()
			return nil, errors.Wrap(err, "software swapchain")
		}
		sc.images = append(sc.images, img.(*image))
	}
	return sc, nil
}

// Get the swapchain images.
func (sc *Swapchain) Images() []device.Image {
	out := make([]device.Image, len(sc.images))
	for i, img := range sc.images {
		out[i] = img
	}
	return out
}

// Acquire the next image in round-robin order and signal the semaphore.
func (sc *Swapchain) AcquireNextImage(ctx context.Context, signal device.Semaphore) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := sc.dev.checkAlive(); err != nil {
		return 0, err
	}

	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	index := sc.next
	if sc.acquired[index] {
		return 0, errors.Errorf("software swapchain: image %d acquired twice without a present", index)
	}
	if signal != nil {
		sem, err := asSemaphore(signal)
		if err != nil {
			return 0, err
		}
		if err := sem.signal(); err != nil {
			return 0, err
		}
	}
	sc.acquired[index] = true
	sc.next = (sc.next + 1) % uint32(len(sc.images))
	return index, nil
}

// Wait for the semaphore and capture the image. The image must be in the
// present layout.
func (sc *Swapchain) Present(ctx context.Context, index uint32, wait device.Semaphore) error {
	if int(index) >= len(sc.images) {
		return errors.Wrapf(device.ErrOutOfRange, "software swapchain: image index %d", index)
	}
	if wait != nil {
		sem, err := asSemaphore(wait)
		if err != nil {
			return err
		}
		if err := sem.wait(ctx, nil); err != nil {
			return errors.Wrap(err, "software swapchain: present")
		}
	}

	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if !sc.acquired[index] {
		return errors.Errorf("software swapchain: image %d presented without being acquired", index)
	}
	sc.acquired[index] = false

	img := sc.images[index]
	if err := img.requireLayout(vk.ImageLayoutPresentSrc); err != nil {
		return errors.Wrap(err, "software swapchain: present")
	}
	sc.lastFrame = img.snapshot()
	sc.presented++
	return nil
}

// Get a copy of the last presented frame or nil if nothing was presented.
func (sc *Swapchain) LastFrame() *goimage.RGBA {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if sc.lastFrame == nil {
		return nil
	}
	out := goimage.NewRGBA(sc.lastFrame.Rect)
	copy(out.Pix, sc.lastFrame.Pix)
	return out
}

// Number of frames presented so far.
func (sc *Swapchain) Presented() uint64 {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	return sc.presented
}

func (sc *Swapchain) Release() {
	for _, img := range sc.images {
		img.Release()
	}
}
