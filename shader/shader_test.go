package shader

import (
	"math"
	"testing"

	"github.com/achilleasa/vkrt/device"
	"github.com/achilleasa/vkrt/sbt"
	"github.com/achilleasa/vkrt/types"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
)

func approx(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-4
}

func approxVec(a, b mgl32.Vec3) bool {
	return approx(a[0], b[0]) && approx(a[1], b[1]) && approx(a[2], b[2])
}

func testCamera() CameraUniform {
	view := mgl32.LookAtV(mgl32.Vec3{0, 0, 5}, mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 1, 0})
	proj := mgl32.Perspective(mgl32.DegToRad(90), 1, 0.1, 100)
	return NewCameraUniform(view, proj)
}

func TestCameraUniformLayout(t *testing.T) {
	u := testCamera()
	data := u.Bytes()
	if len(data) != CameraUniformSize {
		t.Fatalf("expected %d bytes; got %d", CameraUniformSize, len(data))
	}

	// Column-major: the translation of viewInverse lives in column 3.
	tz := math.Float32frombits(uint32(data[56]) | uint32(data[57])<<8 | uint32(data[58])<<16 | uint32(data[59])<<24)
	if !approx(tz, 5) {
		t.Fatalf("expected viewInverse[3][2] to hold the eye z 5; got %f", tz)
	}

	decoded, err := DecodeCameraUniform(data)
	if err != nil {
		t.Fatal(err)
	}
	if decoded != u {
		t.Fatal("expected decoded uniform to match")
	}
	if _, err = DecodeCameraUniform(data[:64]); errors.Cause(err) != ErrShortUniform {
		t.Fatalf("expected ErrShortUniform; got %v", err)
	}
}

func TestPrimaryRay(t *testing.T) {
	u := testCamera()
	specs := []struct {
		x, y   uint32
		expDir mgl32.Vec3
	}{
		// Center of a 1x1 image.
		{0, 0, mgl32.Vec3{0, 0, -1}},
	}
	for specIndex, spec := range specs {
		origin, dir := u.PrimaryRay(spec.x, spec.y, 1, 1)
		if !approxVec(origin, mgl32.Vec3{0, 0, 5}) {
			t.Fatalf("[spec %d] expected origin at the eye; got %v", specIndex, origin)
		}
		if !approxVec(dir, spec.expDir) {
			t.Fatalf("[spec %d] expected direction %v; got %v", specIndex, spec.expDir, dir)
		}
	}

	// With a 90 degree fov the pixel centers of a 2x2 image sit half way to
	// the frustum edges; row 0 is the top row.
	_, dir := u.PrimaryRay(0, 0, 2, 2)
	half := float32(0.5) / float32(math.Sqrt(1.5))
	exp := mgl32.Vec3{-half, half, -1 / float32(math.Sqrt(1.5))}
	if !approxVec(dir, exp) {
		t.Fatalf("expected top-left direction %v; got %v", exp, dir)
	}
}

type fakeHit struct {
	record []byte
}

func (f *fakeHit) InstanceCustomIndex() uint32   { return 101 }
func (f *fakeHit) InstanceID() uint32            { return 1 }
func (f *fakeHit) PrimitiveID() uint32           { return 0 }
func (f *fakeHit) GeometryIndex() uint32         { return 1 }
func (f *fakeHit) HitT() float32                 { return 4 }
func (f *fakeHit) Barycentrics() types.Vec2      { return types.XY(0.25, 0.25) }
func (f *fakeHit) FrontFacing() bool             { return true }
func (f *fakeHit) WorldRayOrigin() types.Vec3    { return types.XYZ(0, 0, 5) }
func (f *fakeHit) WorldRayDirection() types.Vec3 { return types.XYZ(0, 0, -1) }
func (f *fakeHit) ShaderRecord() []byte          { return f.record }
func (f *fakeHit) ReadStorageBuffer(set, binding, element uint32, offset uint64, dst []byte) error {
	return nil
}

type fakeMiss struct{}

func (fakeMiss) WorldRayOrigin() types.Vec3    { return types.Vec3{} }
func (fakeMiss) WorldRayDirection() types.Vec3 { return types.XYZ(0, 0, -1) }
func (fakeMiss) ShaderRecord() []byte          { return nil }

func TestClosestHit(t *testing.T) {
	color := types.XYZ(0.25, 0.5, 1)
	ctx := &fakeHit{record: append(sbt.HitRecord{Color: color}.Data(), 0, 0, 0, 0)}

	var p Payload
	if err := ClosestHit()(ctx, &p); err != nil {
		t.Fatal(err)
	}
	if !p.Hit || p.Color != color {
		t.Fatalf("expected a hit with color %v; got %+v", color, p)
	}
	if p.CustomIndex != 101 || p.GeometryIndex != 1 || p.T != 4 {
		t.Fatalf("expected hit attributes to be copied; got %+v", p)
	}

	if err := ClosestHit()(&fakeHit{record: []byte{1, 2}}, &p); errors.Cause(err) != sbt.ErrRecordOutOfBounds {
		t.Fatalf("expected ErrRecordOutOfBounds for a short record; got %v", err)
	}
	if err := ClosestHit()(ctx, "payload"); err == nil {
		t.Fatal("expected an error for a foreign payload")
	}
}

func TestMiss(t *testing.T) {
	bg := types.XYZ(0.1, 0.2, 0.3)
	p := Payload{Hit: true, Color: types.XYZ(1, 1, 1)}
	if err := Miss(bg)(fakeMiss{}, &p); err != nil {
		t.Fatal(err)
	}
	if p.Hit || p.Color != bg {
		t.Fatalf("expected background %v without a hit; got %+v", bg, p)
	}
}

// Verify the programs satisfy the host program signatures.
var (
	_ device.RayGenProgram     = RayGen()
	_ device.ClosestHitProgram = ClosestHit()
	_ device.MissProgram       = Miss(types.Vec3{})
)
