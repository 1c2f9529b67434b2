package software

import (
	goimage "image"
	"image/color"
	"sync"

	"github.com/achilleasa/vkrt/device"
	"github.com/achilleasa/vkrt/types"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// An RGBA8 image with layout tracking.
type image struct {
	dev  *Device
	info device.ImageInfo

	mutex    sync.Mutex
	layout   vk.ImageLayout
	pixels   *goimage.RGBA
	released bool
}

// Create an image. Only RGBA8 formats are supported.
func (d *Device) CreateImage(info device.ImageInfo) (device.Image, error) {
	if err := d.checkAlive(); err != nil {
		return nil, err
	}
	if info.Width == 0 || info.Height == 0 {
		return nil, errors.Errorf("software device (%s): invalid image %s size %dx%d", d.name(), info.Name, info.Width, info.Height)
	}
	switch info.Format {
	case vk.FormatR8g8b8a8Unorm, vk.FormatB8g8r8a8Unorm:
	default:
		return nil, errors.Errorf("software device (%s): unsupported image format %d for %s", d.name(), info.Format, info.Name)
	}
	if info.Usage == 0 {
		return nil, errors.Wrapf(device.ErrInvalidUsage, "software device (%s): image %s has no usage flags", d.name(), info.Name)
	}

	return &image{
		dev:    d,
		info:   info,
		layout: vk.ImageLayoutUndefined,
		pixels: goimage.NewRGBA(goimage.Rect(0, 0, int(info.Width), int(info.Height))),
	}, nil
}

func asImage(img device.Image) (*image, error) {
	si, ok := img.(*image)
	if !ok || si == nil {
		return nil, errors.Errorf("software device: foreign image %T", img)
	}
	return si, nil
}

func (i *image) Name() string              { return i.info.Name }
func (i *image) Width() uint32             { return i.info.Width }
func (i *image) Height() uint32            { return i.info.Height }
func (i *image) Format() vk.Format         { return i.info.Format }
func (i *image) Usage() vk.ImageUsageFlags { return i.info.Usage }

// Get the current layout.
func (i *image) Layout() vk.ImageLayout {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	return i.layout
}

func (i *image) Release() {
	i.mutex.Lock()
	i.released = true
	i.pixels = nil
	i.mutex.Unlock()
}

// Apply a layout transition. The old layout must match the current one
// unless it is Undefined, which discards the contents.
func (i *image) transition(oldLayout, newLayout vk.ImageLayout) error {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	if i.released {
		return errors.Wrapf(device.ErrReleased, "image %s", i.info.Name)
	}
	if oldLayout != vk.ImageLayoutUndefined && oldLayout != i.layout {
		return errors.Wrapf(device.ErrInvalidLayout, "image %s: barrier expects %s but image is in %s", i.info.Name, device.LayoutName(oldLayout), device.LayoutName(i.layout))
	}
	if newLayout == vk.ImageLayoutUndefined {
		return errors.Wrapf(device.ErrInvalidLayout, "image %s: cannot transition to undefined", i.info.Name)
	}
	if oldLayout == vk.ImageLayoutUndefined {
		i.clear()
	}
	i.layout = newLayout
	return nil
}

func (i *image) clear() {
	for p := range i.pixels.Pix {
		i.pixels.Pix[p] = 0
	}
}

// Check the image is in layout.
func (i *image) requireLayout(layout vk.ImageLayout) error {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	if i.released {
		return errors.Wrapf(device.ErrReleased, "image %s", i.info.Name)
	}
	if i.layout != layout {
		return errors.Wrapf(device.ErrInvalidLayout, "image %s: expected %s; got %s", i.info.Name, device.LayoutName(layout), device.LayoutName(i.layout))
	}
	return nil
}

// Store a pixel. The layout is checked once per dispatch rather than per
// pixel.
func (i *image) store(x, y uint32, rgba types.Vec4) {
	i.pixels.SetRGBA(int(x), int(y), toRGBA(rgba))
}

// Snapshot the contents.
func (i *image) snapshot() *goimage.RGBA {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	out := goimage.NewRGBA(i.pixels.Rect)
	copy(out.Pix, i.pixels.Pix)
	return out
}

func toRGBA(c types.Vec4) color.RGBA {
	return color.RGBA{unorm8(c[0]), unorm8(c[1]), unorm8(c[2]), unorm8(c[3])}
}

func unorm8(v float32) uint8 {
	if v <= 0 || v != v {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}

func copyImage(src *image, srcLayout vk.ImageLayout, dst *image, dstLayout vk.ImageLayout) error {
	if err := src.requireLayout(srcLayout); err != nil {
		return err
	}
	if err := dst.requireLayout(dstLayout); err != nil {
		return err
	}

	pixels := src.snapshot()
	dst.mutex.Lock()
	copy(dst.pixels.Pix, pixels.Pix)
	dst.mutex.Unlock()
	return nil
}
