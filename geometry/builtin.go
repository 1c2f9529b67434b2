package geometry

import (
	"sort"

	"github.com/achilleasa/vkrt/types"
	"github.com/pkg/errors"
)

var builtins = map[string]func() *Geometry{
	"quad":     Quad,
	"triangle": Triangle,
	"cube":     Cube,
}

// Lookup a builtin mesh by name.
func Builtin(name string) (*Geometry, error) {
	fn, ok := builtins[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownBuiltin, "%q (available: %v)", name, BuiltinNames())
	}
	return fn(), nil
}

// List the builtin mesh names.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// A unit quad in the z=0 plane facing +z.
func Quad() *Geometry {
	n := types.XYZ(0, 0, 1)
	return &Geometry{
		Name: "quad",
		Vertices: []Vertex{
			{Position: types.XYZ(-1, -1, 0), Normal: n, UV: types.XY(0, 0)},
			{Position: types.XYZ(1, -1, 0), Normal: n, UV: types.XY(1, 0)},
			{Position: types.XYZ(1, 1, 0), Normal: n, UV: types.XY(1, 1)},
			{Position: types.XYZ(-1, 1, 0), Normal: n, UV: types.XY(0, 1)},
		},
		Indices: []uint32{0, 1, 2, 0, 2, 3},
		Opaque:  true,
	}
}

// A single triangle in the z=0 plane facing +z.
func Triangle() *Geometry {
	n := types.XYZ(0, 0, 1)
	return &Geometry{
		Name: "triangle",
		Vertices: []Vertex{
			{Position: types.XYZ(-1, -1, 0), Normal: n, UV: types.XY(0, 0)},
			{Position: types.XYZ(1, -1, 0), Normal: n, UV: types.XY(1, 0)},
			{Position: types.XYZ(0, 1, 0), Normal: n, UV: types.XY(0.5, 1)},
		},
		Indices: []uint32{0, 1, 2},
		Opaque:  true,
	}
}

// A cube spanning [-1, 1] with outward facing triangles.
func Cube() *Geometry {
	faces := []struct {
		normal, u, v types.Vec3
	}{
		{types.XYZ(0, 0, 1), types.XYZ(1, 0, 0), types.XYZ(0, 1, 0)},
		{types.XYZ(0, 0, -1), types.XYZ(-1, 0, 0), types.XYZ(0, 1, 0)},
		{types.XYZ(1, 0, 0), types.XYZ(0, 0, -1), types.XYZ(0, 1, 0)},
		{types.XYZ(-1, 0, 0), types.XYZ(0, 0, 1), types.XYZ(0, 1, 0)},
		{types.XYZ(0, 1, 0), types.XYZ(1, 0, 0), types.XYZ(0, 0, -1)},
		{types.XYZ(0, -1, 0), types.XYZ(1, 0, 0), types.XYZ(0, 0, 1)},
	}

	g := &Geometry{Name: "cube", Opaque: true}
	for _, f := range faces {
		base := uint32(len(g.Vertices))
		corners := [4][2]float32{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}}
		for _, c := range corners {
			pos := f.normal.Add(f.u.Mul(c[0])).Add(f.v.Mul(c[1]))
			g.Vertices = append(g.Vertices, Vertex{
				Position: pos,
				Normal:   f.normal,
				UV:       types.XY((c[0]+1)/2, (c[1]+1)/2),
			})
		}
		g.Indices = append(g.Indices, base, base+1, base+2, base, base+2, base+3)
	}
	return g
}
