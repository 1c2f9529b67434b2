package scene

import (
	"encoding/json"
	"io"

	"github.com/achilleasa/vkrt/asset"
	"github.com/achilleasa/vkrt/device"
	"github.com/achilleasa/vkrt/log"
	"github.com/achilleasa/vkrt/types"
	"github.com/pkg/errors"
)

// A geometry of a mesh. Exactly one of Builtin and OBJ must be set.
type GeometryDesc struct {
	Builtin string `json:"builtin,omitempty"`

	// Path or URL of a Wavefront OBJ file, relative to the scene file.
	OBJ string `json:"obj,omitempty"`

	// Fit OBJ meshes into the [-1, 1] cube before applying Translate and
	// Scale.
	Normalize bool `json:"normalize,omitempty"`

	Translate *types.Vec3 `json:"translate,omitempty"`
	Scale     *types.Vec3 `json:"scale,omitempty"`

	// Defaults to true.
	Opaque *bool `json:"opaque,omitempty"`
}

// A mesh is built into one BLAS.
type MeshDesc struct {
	Name       string         `json:"name"`
	Geometries []GeometryDesc `json:"geometries"`
}

// Rotation about an axis.
type Rotation struct {
	Axis  types.Vec3 `json:"axis"`
	Angle float32    `json:"angle"`
}

// An instance of a mesh.
type InstanceDesc struct {
	Mesh      string      `json:"mesh"`
	Translate *types.Vec3 `json:"translate,omitempty"`
	Rotate    *Rotation   `json:"rotate,omitempty"`
	Scale     *types.Vec3 `json:"scale,omitempty"`

	CustomIndex uint32   `json:"custom_index"`
	Mask        *uint8   `json:"mask,omitempty"`
	Flags       []string `json:"flags,omitempty"`

	// One color per mesh geometry. Missing colors come from the default
	// palette.
	Colors []types.Vec3 `json:"colors,omitempty"`
}

// A scene description.
type Scene struct {
	Camera     Camera         `json:"camera"`
	Background types.Vec3     `json:"background"`
	Meshes     []MeshDesc     `json:"meshes"`
	Instances  []InstanceDesc `json:"instances"`

	// Relative OBJ paths are resolved against this resource.
	source *asset.Resource
}

// Parse a JSON scene description.
func Parse(r io.Reader) (*Scene, error) {
	sc := &Scene{Camera: DefaultCamera()}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(sc); err != nil {
		return nil, errors.Wrap(err, "scene: could not decode")
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return sc, nil
}

// Load a scene file from a local path or an http(s) URL.
func Load(path string) (*Scene, error) {
	res, err := asset.NewResource(path, nil)
	if err != nil {
		return nil, err
	}
	defer res.Close()

	sc, err := Parse(res)
	if err != nil {
		return nil, errors.Wrapf(err, "scene: %s", res.Path())
	}
	sc.source = res
	log.New("scene").Infof("loaded %s: %d meshes, %d instances", res.Path(), len(sc.Meshes), len(sc.Instances))
	return sc, nil
}

// Look up a mesh by name.
func (sc *Scene) Mesh(name string) (*MeshDesc, int, bool) {
	for i := range sc.Meshes {
		if sc.Meshes[i].Name == name {
			return &sc.Meshes[i], i, true
		}
	}
	return nil, -1, false
}

// Validate the scene description.
func (sc *Scene) Validate() error {
	if len(sc.Meshes) == 0 {
		return errors.Wrap(ErrInvalidScene, "no meshes")
	}
	if len(sc.Instances) == 0 {
		return errors.Wrap(ErrInvalidScene, "no instances")
	}

	names := make(map[string]bool)
	for mi, m := range sc.Meshes {
		if m.Name == "" {
			return errors.Wrapf(ErrInvalidScene, "mesh %d has no name", mi)
		}
		if names[m.Name] {
			return errors.Wrapf(ErrInvalidScene, "duplicate mesh %q", m.Name)
		}
		names[m.Name] = true
		if len(m.Geometries) == 0 {
			return errors.Wrapf(ErrEmptyMesh, "mesh %q", m.Name)
		}
		for gi, g := range m.Geometries {
			if (g.Builtin == "") == (g.OBJ == "") {
				return errors.Wrapf(ErrInvalidScene, "mesh %q geometry %d must set exactly one of builtin and obj", m.Name, gi)
			}
		}
	}

	for ii, in := range sc.Instances {
		m, _, ok := sc.Mesh(in.Mesh)
		if !ok {
			return errors.Wrapf(ErrUnknownMesh, "instance %d: %q", ii, in.Mesh)
		}
		if len(in.Colors) > len(m.Geometries) {
			return errors.Wrapf(ErrInvalidScene, "instance %d has %d colors for %d geometries", ii, len(in.Colors), len(m.Geometries))
		}
		if in.CustomIndex > device.MaxInstanceCustomIndex {
			return errors.Wrapf(device.ErrFieldOverflow, "instance %d custom index %d", ii, in.CustomIndex)
		}
		if _, err := in.InstanceFlags(); err != nil {
			return errors.Wrapf(err, "instance %d", ii)
		}
	}
	return sc.Camera.Validate()
}

// The instance transform: scale, then rotate, then translate.
func (in InstanceDesc) Transform() types.Transform {
	translate := types.XYZ(0, 0, 0)
	if in.Translate != nil {
		translate = *in.Translate
	}
	axis, angle := types.XYZ(0, 1, 0), float32(0)
	if in.Rotate != nil && in.Rotate.Axis.Len() > 0 {
		axis, angle = in.Rotate.Axis, in.Rotate.Angle
	}
	scale := types.XYZ(1, 1, 1)
	if in.Scale != nil {
		scale = *in.Scale
	}
	return types.Compose(translate, axis, angle, scale)
}

// The instance mask; defaults to 0xff.
func (in InstanceDesc) InstanceMask() uint8 {
	if in.Mask == nil {
		return 0xff
	}
	return *in.Mask
}

// Parse the instance flag names.
func (in InstanceDesc) InstanceFlags() (device.InstanceFlags, error) {
	var flags device.InstanceFlags
	for _, name := range in.Flags {
		f, err := device.ParseInstanceFlag(name)
		if err != nil {
			return 0, err
		}
		flags |= f
	}
	return flags, nil
}

var palette = []types.Vec3{
	{0.9, 0.3, 0.3},
	{0.3, 0.9, 0.3},
	{0.3, 0.3, 0.9},
	{0.9, 0.9, 0.3},
	{0.9, 0.3, 0.9},
	{0.3, 0.9, 0.9},
}

// Color of geometry g of the instance. Geometries without an explicit color
// take a palette entry selected by their hit record index.
func (in InstanceDesc) Color(geometry int, recordIndex uint32) types.Vec3 {
	if geometry < len(in.Colors) {
		return in.Colors[geometry]
	}
	return palette[int(recordIndex)%len(palette)]
}
