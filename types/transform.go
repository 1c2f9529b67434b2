package types

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// The size of an encoded Transform in bytes.
const TransformSize = 48

// Transform is an affine 3x4 matrix stored row-major with no projective row.
// This is the layout ray-tracing APIs expect for per-geometry and
// per-instance transforms.
type Transform [12]float32

// Identity transform.
func Identity() Transform {
	return Transform{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
	}
}

// Convert a (column-major) mathgl matrix to a row-major 3x4 transform by
// dropping the last row.
func TransformFromMat4(m mgl32.Mat4) Transform {
	var t Transform
	for row := 0; row < 3; row++ {
		for col := 0; col < 4; col++ {
			t[row*4+col] = m.At(row, col)
		}
	}
	return t
}

// Build a transform that scales, then rotates (around axis by the given
// angle in degrees) and finally translates.
func Compose(translate Vec3, axis Vec3, angleDeg float32, scale Vec3) Transform {
	m := mgl32.Translate3D(translate[0], translate[1], translate[2])
	if angleDeg != 0 && axis.Len() > floatCmpEpsilon {
		m = m.Mul4(mgl32.HomogRotate3D(mgl32.DegToRad(angleDeg), mgl32.Vec3(axis.Normalize())))
	}
	return TransformFromMat4(m.Mul4(mgl32.Scale3D(scale[0], scale[1], scale[2])))
}

// Get element at row r and column c.
func (t Transform) At(r, c int) float32 {
	return t[r*4+c]
}

// Expand to a 4x4 mathgl matrix.
func (t Transform) Mat4() mgl32.Mat4 {
	m := mgl32.Ident4()
	for row := 0; row < 3; row++ {
		for col := 0; col < 4; col++ {
			m.Set(row, col, t[row*4+col])
		}
	}
	return m
}

// Returns t*o.
func (t Transform) Mul(o Transform) Transform {
	return TransformFromMat4(t.Mat4().Mul4(o.Mat4()))
}

// Invert the transform. The second return value is false if the matrix is
// singular.
func (t Transform) Inverse() (Transform, bool) {
	m := t.Mat4()
	if math.Abs(float64(m.Det())) < floatCmpEpsilon {
		return Transform{}, false
	}
	return TransformFromMat4(m.Inv()), true
}

// Transform a point.
func (t Transform) Apply(p Vec3) Vec3 {
	return Vec3{
		t[0]*p[0] + t[1]*p[1] + t[2]*p[2] + t[3],
		t[4]*p[0] + t[5]*p[1] + t[6]*p[2] + t[7],
		t[8]*p[0] + t[9]*p[1] + t[10]*p[2] + t[11],
	}
}

// Transform a direction (ignores translation).
func (t Transform) ApplyVector(v Vec3) Vec3 {
	return Vec3{
		t[0]*v[0] + t[1]*v[1] + t[2]*v[2],
		t[4]*v[0] + t[5]*v[1] + t[6]*v[2],
		t[8]*v[0] + t[9]*v[1] + t[10]*v[2],
	}
}

// Transform all corners of a box and return the box enclosing them.
func (t Transform) ApplyBBox(b BBox) BBox {
	out := EmptyBBox()
	for corner := 0; corner < 8; corner++ {
		p := Vec3{b[corner&1][0], b[(corner>>1)&1][1], b[(corner>>2)&1][2]}
		out = out.Extend(t.Apply(p))
	}
	return out
}

// Encode the transform into dst (little-endian, row-major). dst must be at
// least TransformSize bytes long.
func (t Transform) Put(dst []byte) {
	_ = dst[TransformSize-1]
	for i, v := range t {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v))
	}
}

// Encode the transform into a new byte slice.
func (t Transform) Bytes() []byte {
	out := make([]byte, TransformSize)
	t.Put(out)
	return out
}

// Decode a transform previously encoded with Put.
func TransformFromBytes(src []byte) Transform {
	_ = src[TransformSize-1]
	var t Transform
	for i := range t {
		t[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
	return t
}
