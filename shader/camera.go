package shader

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
)

// Size of the std140 camera uniform block: two column-major mat4 values.
const CameraUniformSize = 128

var ErrShortUniform = errors.New("shader: uniform data too short")

// CameraUniform is the uniform block read by the ray generation program.
type CameraUniform struct {
	ViewInverse mgl32.Mat4
	ProjInverse mgl32.Mat4
}

// Build the uniform from a view and a projection matrix.
func NewCameraUniform(view, proj mgl32.Mat4) CameraUniform {
	return CameraUniform{
		ViewInverse: view.Inv(),
		ProjInverse: proj.Inv(),
	}
}

// Encode the block using the std140 layout.
func (u CameraUniform) Bytes() []byte {
	out := make([]byte, CameraUniformSize)
	for i, v := range u.ViewInverse {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	for i, v := range u.ProjInverse {
		binary.LittleEndian.PutUint32(out[64+i*4:], math.Float32bits(v))
	}
	return out
}

// Decode a std140 camera block.
func DecodeCameraUniform(src []byte) (CameraUniform, error) {
	if len(src) < CameraUniformSize {
		return CameraUniform{}, errors.Wrapf(ErrShortUniform, "camera uniform needs %d bytes; got %d", CameraUniformSize, len(src))
	}
	var u CameraUniform
	for i := range u.ViewInverse {
		u.ViewInverse[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
		u.ProjInverse[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[64+i*4:]))
	}
	return u, nil
}

// Generate the primary ray through the center of pixel (x, y) of a w x h
// image. Row 0 is the top of the image.
func (u CameraUniform) PrimaryRay(x, y, w, h uint32) (origin, dir mgl32.Vec3) {
	ndcX := 2*(float32(x)+0.5)/float32(w) - 1
	ndcY := 1 - 2*(float32(y)+0.5)/float32(h)

	origin = u.ViewInverse.Mul4x1(mgl32.Vec4{0, 0, 0, 1}).Vec3()
	target := u.ProjInverse.Mul4x1(mgl32.Vec4{ndcX, ndcY, 1, 1})
	if target[3] != 0 {
		target = target.Mul(1 / target[3])
	}
	dir = u.ViewInverse.Mul4x1(target.Vec3().Normalize().Vec4(0)).Vec3().Normalize()
	return origin, dir
}
