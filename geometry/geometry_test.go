package geometry

import (
	"bytes"
	"context"
	"testing"

	"github.com/achilleasa/vkrt/device"
	"github.com/achilleasa/vkrt/device/software"
	"github.com/achilleasa/vkrt/types"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

func TestValidate(t *testing.T) {
	specs := []struct {
		geom   *Geometry
		expErr bool
	}{
		{Quad(), false},
		{Triangle(), false},
		{Cube(), false},
		{&Geometry{Name: "empty"}, true},
		{&Geometry{Name: "no indices", Vertices: Triangle().Vertices}, true},
		{&Geometry{Name: "partial", Vertices: Triangle().Vertices, Indices: []uint32{0, 1}}, true},
		{&Geometry{Name: "out of range", Vertices: Triangle().Vertices, Indices: []uint32{0, 1, 3}}, true},
	}

	for specIndex, spec := range specs {
		err := spec.geom.Validate()
		if spec.expErr {
			if errors.Cause(err) != ErrInvalidGeometry {
				t.Fatalf("[spec %d] expected ErrInvalidGeometry; got %v", specIndex, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("[spec %d] unexpected error: %v", specIndex, err)
		}
	}
}

func TestBuiltins(t *testing.T) {
	specs := []struct {
		name      string
		vertices  int
		triangles uint32
	}{
		{"quad", 4, 2},
		{"triangle", 3, 1},
		{"cube", 24, 12},
	}

	for specIndex, spec := range specs {
		g, err := Builtin(spec.name)
		if err != nil {
			t.Fatalf("[spec %d] %v", specIndex, err)
		}
		if len(g.Vertices) != spec.vertices {
			t.Fatalf("[spec %d] expected %d vertices; got %d", specIndex, spec.vertices, len(g.Vertices))
		}
		if g.TriangleCount() != spec.triangles {
			t.Fatalf("[spec %d] expected %d triangles; got %d", specIndex, spec.triangles, g.TriangleCount())
		}
		if !g.Opaque {
			t.Fatalf("[spec %d] expected builtin to be opaque", specIndex)
		}
	}

	if _, err := Builtin("teapot"); errors.Cause(err) != ErrUnknownBuiltin {
		t.Fatalf("expected ErrUnknownBuiltin; got %v", err)
	}
}

func TestCubeWinding(t *testing.T) {
	g := Cube()
	for tri := 0; tri < len(g.Indices); tri += 3 {
		v0 := g.Vertices[g.Indices[tri]]
		v1 := g.Vertices[g.Indices[tri+1]]
		v2 := g.Vertices[g.Indices[tri+2]]
		n := v1.Position.Sub(v0.Position).Cross(v2.Position.Sub(v0.Position))
		if n.Dot(v0.Normal) <= 0 {
			t.Fatalf("expected triangle %d to wind counter-clockwise around %v", tri/3, v0.Normal)
		}
	}
}

func TestVertexEncoding(t *testing.T) {
	vertices := Quad().Vertices
	data := EncodeVertices(vertices)
	if len(data) != len(vertices)*VertexStride {
		t.Fatalf("expected %d bytes; got %d", len(vertices)*VertexStride, len(data))
	}

	decoded, err := DecodeVertices(data)
	if err != nil {
		t.Fatal(err)
	}
	for i := range vertices {
		if decoded[i] != vertices[i] {
			t.Fatalf("expected vertex %d to be %v; got %v", i, vertices[i], decoded[i])
		}
	}

	if _, err = DecodeVertices(data[:33]); errors.Cause(err) != ErrInvalidGeometry {
		t.Fatalf("expected ErrInvalidGeometry for a truncated array; got %v", err)
	}

	exp := []byte{1, 0, 0, 0, 0, 1, 0, 0}
	if got := EncodeIndices([]uint32{1, 256}); !bytes.Equal(got, exp) {
		t.Fatalf("expected index bytes %v; got %v", exp, got)
	}
}

func TestBake(t *testing.T) {
	g := Triangle()
	g.Bake(types.Compose(types.XYZ(0, 0, 5), types.XYZ(0, 1, 0), 0, types.XYZ(2, 2, 2)))

	box := g.BBox()
	exp := types.BBox{types.XYZ(-2, -2, 5), types.XYZ(2, 2, 5)}
	if box != exp {
		t.Fatalf("expected baked bbox %v; got %v", exp, box)
	}
	if g.Vertices[0].Normal != types.XYZ(0, 0, 1) {
		t.Fatalf("expected normal to stay normalized; got %v", g.Vertices[0].Normal)
	}
}

func readBack(t *testing.T, dev device.Device, submitter *device.Submitter, src device.Buffer) []byte {
	t.Helper()
	dst, err := dev.CreateBuffer(device.BufferInfo{
		Name:   "readback",
		Size:   src.Size(),
		Usage:  device.BufferUsage(vk.BufferUsageTransferDstBit),
		Memory: device.MemoryProperties(vk.MemoryPropertyHostVisibleBit, vk.MemoryPropertyHostCoherentBit),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer dst.Release()

	err = submitter.Run(context.Background(), "readback", func(cb device.CommandBuffer) error {
		cb.CopyBuffer(src, dst, device.BufferCopy{Size: src.Size()})
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	out := make([]byte, src.Size())
	if err = dst.Read(0, out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestStoreUpload(t *testing.T) {
	dev, err := software.NewByName("nvidia-like")
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()
	submitter := device.NewSubmitter(dev)
	defer submitter.Close()

	store := NewStore(dev, submitter)

	tri := Triangle()
	xform := types.Compose(types.XYZ(1, 2, 3), types.XYZ(0, 1, 0), 0, types.XYZ(1, 1, 1))
	tri.Transform = &xform

	resident, err := store.Upload(context.Background(), Quad(), tri)
	if err != nil {
		t.Fatal(err)
	}
	if len(resident) != 2 {
		t.Fatalf("expected 2 resident geometries; got %d", len(resident))
	}

	quad := resident[0]
	if quad.VertexCount != 4 || quad.TriangleCount != 2 || quad.MaxVertex() != 3 {
		t.Fatalf("expected quad counts (4, 2, 3); got (%d, %d, %d)", quad.VertexCount, quad.TriangleCount, quad.MaxVertex())
	}
	if quad.VertexAddress == 0 || quad.IndexAddress == 0 {
		t.Fatal("expected non-null device addresses")
	}
	if quad.TransformBuffer != nil || quad.TransformAddress != 0 {
		t.Fatal("expected no transform buffer for the quad")
	}
	if device.HasMemoryProperty(quad.VertexBuffer.Memory(), vk.MemoryPropertyHostVisibleBit) {
		t.Fatal("expected vertex buffer to live in device-local memory")
	}
	if !device.HasBufferUsage(quad.VertexBuffer.Usage(), device.BufferUsageAccelerationStructureBuildInputReadOnlyBit) {
		t.Fatal("expected vertex buffer to be usable as a build input")
	}
	for _, buf := range []device.Buffer{quad.VertexBuffer, quad.IndexBuffer, resident[1].TransformBuffer} {
		if !device.HasBufferUsage(buf.Usage(), vk.BufferUsageTransferSrcBit) {
			t.Fatalf("expected resident buffer of size %d to allow transfers out", buf.Size())
		}
	}

	if got := readBack(t, dev, submitter, quad.VertexBuffer); !bytes.Equal(got, EncodeVertices(Quad().Vertices)) {
		t.Fatal("expected uploaded vertex data to match the encoded quad")
	}
	if got := readBack(t, dev, submitter, quad.IndexBuffer); !bytes.Equal(got, EncodeIndices(Quad().Indices)) {
		t.Fatal("expected uploaded index data to match the quad")
	}
	if got := readBack(t, dev, submitter, resident[1].TransformBuffer); !bytes.Equal(got, xform.Bytes()) {
		t.Fatal("expected uploaded transform to match")
	}

	if got := store.Resident(); len(got) != 2 || got[1].Name != "triangle" {
		t.Fatalf("expected store to list both geometries in upload order; got %v", got)
	}
	expBytes := uint64(4*VertexStride+2*12) + uint64(3*VertexStride+12) + types.TransformSize
	if got := store.DeviceBytes(); got != expBytes {
		t.Fatalf("expected %d device bytes; got %d", expBytes, got)
	}

	// Only the resident buffers may remain; staging memory is released.
	var resBytes uint64
	for _, r := range resident {
		for _, buf := range []device.Buffer{r.VertexBuffer, r.IndexBuffer, r.TransformBuffer} {
			if buf != nil {
				resBytes += buf.Size()
			}
		}
	}
	if used := dev.MemoryUsed(); used != resBytes {
		t.Fatalf("expected staging buffers to be released; %d bytes still allocated", used)
	}

	store.Release()
	if used := dev.MemoryUsed(); used != 0 {
		t.Fatalf("expected release to free all device memory; %d bytes still allocated", used)
	}
	if _, err = store.Upload(context.Background(), Quad()); errors.Cause(err) != ErrReleased {
		t.Fatalf("expected ErrReleased; got %v", err)
	}
}

func TestStoreRejectsInvalidGeometry(t *testing.T) {
	dev, err := software.NewByName("nvidia-like")
	if err != nil {
		t.Fatal(err)
	}
	defer dev.Close()
	submitter := device.NewSubmitter(dev)
	defer submitter.Close()

	store := NewStore(dev, submitter)
	bad := &Geometry{Name: "bad", Vertices: Triangle().Vertices, Indices: []uint32{0, 1, 7}}
	if _, err = store.Upload(context.Background(), Quad(), bad); errors.Cause(err) != ErrInvalidGeometry {
		t.Fatalf("expected ErrInvalidGeometry; got %v", err)
	}
	if used := dev.MemoryUsed(); used != 0 {
		t.Fatalf("expected no allocations after a rejected upload; got %d bytes", used)
	}
}
