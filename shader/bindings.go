package shader

// Descriptor sets and bindings shared by the programs and the pipeline
// layout.
const (
	// Set 0 holds per-frame resources.
	SceneSet      = 0
	BindingTLAS   = 0
	BindingOutput = 1
	BindingCamera = 2

	// Set 1 holds one vertex and one index storage buffer per geometry,
	// indexed by the order in which geometries were uploaded.
	GeometrySet     = 1
	BindingVertices = 0
	BindingIndices  = 1
)

// The number of ray types traced by the programs. Each (instance, geometry)
// pair uses this many consecutive hit records.
const RayTypeCount = 1
