package types

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/image/math/f32"
)

const floatCmpEpsilon = 1e-6

// Vector types share their memory layout with the f32 and mgl32 vectors so
// they convert to either without copying.
type Vec2 f32.Vec2
type Vec3 f32.Vec3
type Vec4 f32.Vec4

func XY(x, y float32) Vec2 {
	return Vec2{x, y}
}

func XYZ(x, y, z float32) Vec3 {
	return Vec3{x, y, z}
}

func XYZW(x, y, z, w float32) Vec4 {
	return Vec4{x, y, z, w}
}

// Extend with a w component.
func (v Vec3) Vec4(w float32) Vec4 {
	return Vec4(mgl32.Vec3(v).Vec4(w))
}

func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3(mgl32.Vec3(v).Add(mgl32.Vec3(o)))
}

func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3(mgl32.Vec3(v).Sub(mgl32.Vec3(o)))
}

// Scale by s.
func (v Vec3) Mul(s float32) Vec3 {
	return Vec3(mgl32.Vec3(v).Mul(s))
}

// Component-wise product.
func (v Vec3) MulVec(o Vec3) Vec3 {
	for i := range v {
		v[i] *= o[i]
	}
	return v
}

func (v Vec3) Len() float32 {
	return mgl32.Vec3(v).Len()
}

// Unit vector along v. Vectors shorter than the comparison epsilon
// normalize to zero.
func (v Vec3) Normalize() Vec3 {
	if v.Len() < floatCmpEpsilon {
		return Vec3{}
	}
	return Vec3(mgl32.Vec3(v).Normalize())
}

func (v Vec3) Dot(o Vec3) float32 {
	return mgl32.Vec3(v).Dot(mgl32.Vec3(o))
}

func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3(mgl32.Vec3(v).Cross(mgl32.Vec3(o)))
}

// Drop the w component.
func (v Vec4) Vec3() Vec3 {
	return Vec3(mgl32.Vec4(v).Vec3())
}

func (v Vec4) Mul(s float32) Vec4 {
	return Vec4(mgl32.Vec4(v).Mul(s))
}

// Per-axis minimum of two vectors.
func MinVec3(a, b Vec3) Vec3 {
	for i := range a {
		if b[i] < a[i] {
			a[i] = b[i]
		}
	}
	return a
}

// Per-axis maximum of two vectors.
func MaxVec3(a, b Vec3) Vec3 {
	for i := range a {
		if b[i] > a[i] {
			a[i] = b[i]
		}
	}
	return a
}

// An axis-aligned box: BBox[0] holds the minimum corner and BBox[1] the
// maximum corner.
type BBox [2]Vec3

// An inverted box; extending it with any point yields that point.
func EmptyBBox() BBox {
	const inf = math.MaxFloat32
	return BBox{XYZ(inf, inf, inf), XYZ(-inf, -inf, -inf)}
}

func (b BBox) Extend(p Vec3) BBox {
	return BBox{MinVec3(b[0], p), MaxVec3(b[1], p)}
}

func (b BBox) Union(o BBox) BBox {
	return BBox{MinVec3(b[0], o[0]), MaxVec3(b[1], o[1])}
}

func (b BBox) Center() Vec3 {
	return b[0].Add(b[1]).Mul(0.5)
}

// True if the box has not been extended by any point.
func (b BBox) IsEmpty() bool {
	for axis := 0; axis < 3; axis++ {
		if b[0][axis] > b[1][axis] {
			return true
		}
	}
	return false
}

// Half the surface area, which is all SAH split scoring needs.
func (b BBox) HalfArea() float32 {
	if b.IsEmpty() {
		return 0
	}
	d := b[1].Sub(b[0])
	return d[0]*d[1] + d[1]*d[2] + d[2]*d[0]
}
