package geometry

import (
	"encoding/binary"
	"math"

	"github.com/achilleasa/vkrt/types"
	"github.com/pkg/errors"
)

// The size of an encoded Vertex.
const VertexStride = 32

// Vertex is the interleaved vertex layout shared by the BLAS builder and the
// per-geometry storage buffers.
type Vertex struct {
	Position types.Vec3
	Normal   types.Vec3
	UV       types.Vec2
}

// Geometry is a triangle mesh in host memory.
type Geometry struct {
	Name     string
	Vertices []Vertex
	Indices  []uint32

	// Optional transform applied to the vertices at BLAS build time.
	Transform *types.Transform

	Opaque bool
}

// Check that the index list describes whole triangles referencing existing
// vertices.
func (g *Geometry) Validate() error {
	if len(g.Vertices) == 0 {
		return errors.Wrapf(ErrInvalidGeometry, "geometry %q has no vertices", g.Name)
	}
	if len(g.Indices) == 0 || len(g.Indices)%3 != 0 {
		return errors.Wrapf(ErrInvalidGeometry, "geometry %q has %d indices; expected a non-zero multiple of 3", g.Name, len(g.Indices))
	}
	for i, index := range g.Indices {
		if int(index) >= len(g.Vertices) {
			return errors.Wrapf(ErrInvalidGeometry, "geometry %q: index %d references vertex %d of %d", g.Name, i, index, len(g.Vertices))
		}
	}
	return nil
}

// Number of triangles.
func (g *Geometry) TriangleCount() uint32 {
	return uint32(len(g.Indices) / 3)
}

// The highest vertex index the index list may reference.
func (g *Geometry) MaxVertex() uint32 {
	return uint32(len(g.Vertices) - 1)
}

// Bounding box of the untransformed vertices.
func (g *Geometry) BBox() types.BBox {
	box := types.EmptyBBox()
	for _, v := range g.Vertices {
		box = box.Extend(v.Position)
	}
	return box
}

// Apply a transform to the vertex positions and normals in place.
func (g *Geometry) Bake(t types.Transform) {
	for i := range g.Vertices {
		g.Vertices[i].Position = t.Apply(g.Vertices[i].Position)
		g.Vertices[i].Normal = t.ApplyVector(g.Vertices[i].Normal).Normalize()
	}
}

// Encode vertices using the interleaved 32-byte layout.
func EncodeVertices(vertices []Vertex) []byte {
	out := make([]byte, len(vertices)*VertexStride)
	for i, v := range vertices {
		dst := out[i*VertexStride:]
		putFloat32s(dst[0:], v.Position[:]...)
		putFloat32s(dst[12:], v.Normal[:]...)
		putFloat32s(dst[24:], v.UV[:]...)
	}
	return out
}

// Decode vertices encoded with EncodeVertices.
func DecodeVertices(src []byte) ([]Vertex, error) {
	if len(src)%VertexStride != 0 {
		return nil, errors.Wrapf(ErrInvalidGeometry, "vertex data length %d is not a multiple of %d", len(src), VertexStride)
	}
	out := make([]Vertex, len(src)/VertexStride)
	for i := range out {
		s := src[i*VertexStride:]
		out[i] = Vertex{
			Position: types.XYZ(getFloat32(s[0:]), getFloat32(s[4:]), getFloat32(s[8:])),
			Normal:   types.XYZ(getFloat32(s[12:]), getFloat32(s[16:]), getFloat32(s[20:])),
			UV:       types.XY(getFloat32(s[24:]), getFloat32(s[28:])),
		}
	}
	return out, nil
}

// Encode indices as little-endian uint32 values.
func EncodeIndices(indices []uint32) []byte {
	out := make([]byte, len(indices)*4)
	for i, index := range indices {
		binary.LittleEndian.PutUint32(out[i*4:], index)
	}
	return out
}

func putFloat32s(dst []byte, values ...float32) {
	for i, v := range values {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v))
	}
}

func getFloat32(src []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(src))
}
