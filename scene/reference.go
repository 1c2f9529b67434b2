package scene

import "github.com/achilleasa/vkrt/types"

// Reference returns the scene used when no scene file is given: one mesh
// with a quad and a triangle and two instances of it with custom indices
// 100 and 101, which needs four hit records.
func Reference() *Scene {
	left, right := types.XYZ(-1.2, 0, 0), types.XYZ(1.2, 0, 0)
	lift := types.XYZ(0, 2.5, 0.5)
	return &Scene{
		Camera: Camera{
			Eye:  types.XYZ(0, 1, 6),
			Look: types.XYZ(0, 1, 0),
			Up:   types.XYZ(0, 1, 0),
			FOV:  60,
		},
		Background: types.XYZ(0.05, 0.05, 0.1),
		Meshes: []MeshDesc{
			{
				Name: "quad+triangle",
				Geometries: []GeometryDesc{
					{Builtin: "quad"},
					{Builtin: "triangle", Translate: &lift},
				},
			},
		},
		Instances: []InstanceDesc{
			{
				Mesh:        "quad+triangle",
				Translate:   &left,
				CustomIndex: 100,
				Colors:      []types.Vec3{{0.9, 0.2, 0.2}, {0.2, 0.9, 0.2}},
			},
			{
				Mesh:        "quad+triangle",
				Translate:   &right,
				CustomIndex: 101,
				Colors:      []types.Vec3{{0.2, 0.2, 0.9}, {0.9, 0.9, 0.2}},
			},
		},
	}
}
