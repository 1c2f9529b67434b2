package scene

import (
	"github.com/achilleasa/vkrt/asset"
	"github.com/achilleasa/vkrt/geometry"
	"github.com/achilleasa/vkrt/types"
	"github.com/fogleman/fauxgl"
	"github.com/pkg/errors"
)

// Load the geometries of each mesh, in mesh order.
func (sc *Scene) LoadMeshes() ([][]*geometry.Geometry, error) {
	out := make([][]*geometry.Geometry, len(sc.Meshes))
	for mi, m := range sc.Meshes {
		for gi, desc := range m.Geometries {
			g, err := sc.loadGeometry(desc)
			if err != nil {
				return nil, errors.Wrapf(err, "scene: mesh %q geometry %d", m.Name, gi)
			}
			out[mi] = append(out[mi], g)
		}
	}
	return out, nil
}

func (sc *Scene) loadGeometry(desc GeometryDesc) (*geometry.Geometry, error) {
	var (
		g   *geometry.Geometry
		err error
	)
	if desc.Builtin != "" {
		g, err = geometry.Builtin(desc.Builtin)
	} else {
		g, err = sc.loadOBJ(desc.OBJ, desc.Normalize)
	}
	if err != nil {
		return nil, err
	}

	if desc.Opaque != nil {
		g.Opaque = *desc.Opaque
	}
	if desc.Translate != nil || desc.Scale != nil {
		translate, scale := types.XYZ(0, 0, 0), types.XYZ(1, 1, 1)
		if desc.Translate != nil {
			translate = *desc.Translate
		}
		if desc.Scale != nil {
			scale = *desc.Scale
		}
		t := types.Compose(translate, types.XYZ(0, 1, 0), 0, scale)
		g.Transform = &t
	}
	return g, g.Validate()
}

func (sc *Scene) loadOBJ(path string, normalize bool) (*geometry.Geometry, error) {
	res, err := asset.NewResource(path, sc.source)
	if err != nil {
		return nil, err
	}
	defer res.Close()

	local, cleanup, err := res.LocalFile()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	mesh, err := fauxgl.LoadOBJ(local)
	if err != nil {
		return nil, errors.Wrapf(err, "scene: could not parse %s", res.Path())
	}
	if normalize {
		mesh.BiUnitCube()
	}
	return FromMesh(res.Name(), mesh)
}

type vertexKey struct {
	position, normal, uv fauxgl.Vector
}

// Convert a fauxgl triangle soup into an indexed geometry. Vertices sharing
// position, normal and uv are merged. Triangles without normals get their
// face normal.
func FromMesh(name string, mesh *fauxgl.Mesh) (*geometry.Geometry, error) {
	if mesh == nil || len(mesh.Triangles) == 0 {
		return nil, errors.Wrapf(ErrEmptyMesh, "%s", name)
	}

	g := &geometry.Geometry{Name: name, Opaque: true}
	lookup := make(map[vertexKey]uint32)
	for _, t := range mesh.Triangles {
		face := t.V2.Position.Sub(t.V1.Position).Cross(t.V3.Position.Sub(t.V1.Position)).Normalize()
		for _, v := range []fauxgl.Vertex{t.V1, t.V2, t.V3} {
			normal := v.Normal
			if normal == (fauxgl.Vector{}) {
				normal = face
			}
			key := vertexKey{v.Position, normal, v.Texture}
			index, ok := lookup[key]
			if !ok {
				index = uint32(len(g.Vertices))
				lookup[key] = index
				g.Vertices = append(g.Vertices, geometry.Vertex{
					Position: toVec3(v.Position),
					Normal:   toVec3(normal),
					UV:       types.XY(float32(v.Texture.X), float32(v.Texture.Y)),
				})
			}
			g.Indices = append(g.Indices, index)
		}
	}
	return g, nil
}

func toVec3(v fauxgl.Vector) types.Vec3 {
	return types.XYZ(float32(v.X), float32(v.Y), float32(v.Z))
}
