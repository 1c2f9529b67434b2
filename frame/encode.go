package frame

import (
	"bytes"
	"image"
	"image/png"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/HugoSmits86/nativewebp"
	"github.com/ftrvxmtrx/tga"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

var (
	ErrUnsupportedFormat = errors.New("frame: unsupported export format")
	ErrNoFrame           = errors.New("frame: no frame to export")
)

// An export encoding.
type Format uint8

const (
	PNG Format = iota
	WebP
	TGA
)

func (f Format) String() string {
	switch f {
	case PNG:
		return "png"
	case WebP:
		return "webp"
	case TGA:
		return "tga"
	}
	return "unknown"
}

// The MIME type used when uploading.
func (f Format) ContentType() string {
	switch f {
	case PNG:
		return "image/png"
	case WebP:
		return "image/webp"
	case TGA:
		return "image/x-tga"
	}
	return "application/octet-stream"
}

// Select the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return PNG, nil
	case ".webp":
		return WebP, nil
	case ".tga":
		return TGA, nil
	}
	return PNG, errors.Wrapf(ErrUnsupportedFormat, "%q", path)
}

// Encode img to w.
func Encode(w io.Writer, img image.Image, format Format) error {
	var err error
	switch format {
	case PNG:
		err = png.Encode(w, img)
	case WebP:
		err = nativewebp.Encode(w, img, nil)
	case TGA:
		err = tga.Encode(w, img)
	default:
		return errors.Wrapf(ErrUnsupportedFormat, "format %d", format)
	}
	if err != nil {
		return errors.Wrapf(err, "frame: %s encode", format)
	}
	return nil
}

// Resample img to the given width keeping its aspect ratio. A zero width or
// the native width returns img unchanged.
func Scale(img image.Image, width uint) image.Image {
	if width == 0 || int(width) == img.Bounds().Dx() {
		return img
	}
	return resize.Resize(width, 0, img, resize.Bilinear)
}

// An encoded frame.
type Encoded struct {
	Format Format
	Data   []byte
	Width  int
	Height int
}

// Scale and encode img using the format selected by path's extension.
func EncodeForPath(img image.Image, path string, width uint) (*Encoded, error) {
	if img == nil {
		return nil, ErrNoFrame
	}
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	img = Scale(img, width)
	var buf bytes.Buffer
	if err = Encode(&buf, img, format); err != nil {
		return nil, err
	}
	return &Encoded{
		Format: format,
		Data:   buf.Bytes(),
		Width:  img.Bounds().Dx(),
		Height: img.Bounds().Dy(),
	}, nil
}

// Write the encoded frame to path, creating parent dirs.
func (e *Encoded) WriteFile(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "frame: create %s", dir)
		}
	}
	if err := ioutil.WriteFile(path, e.Data, 0644); err != nil {
		return errors.Wrapf(err, "frame: write %s", path)
	}
	return nil
}
