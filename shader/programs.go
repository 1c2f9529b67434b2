package shader

import (
	"github.com/achilleasa/vkrt/device"
	"github.com/achilleasa/vkrt/sbt"
	"github.com/achilleasa/vkrt/types"
	"github.com/pkg/errors"
)

// Payload carries the result of a primary ray.
type Payload struct {
	Color types.Vec3
	Hit   bool

	CustomIndex   uint32
	InstanceID    uint32
	GeometryIndex uint32
	PrimitiveID   uint32
	T             float32
}

// Primary ray interval.
const (
	RayTMin = 0.001
	RayTMax = 10000
)

// RayGen returns a program that traces one primary ray per launch ID
// through the camera uniform and stores the payload color in the output
// image.
func RayGen() device.RayGenProgram {
	return func(ctx device.RayGenContext) error {
		id := ctx.LaunchID()
		size := ctx.LaunchSize()

		raw, err := ctx.UniformData(SceneSet, BindingCamera)
		if err != nil {
			return err
		}
		cam, err := DecodeCameraUniform(raw)
		if err != nil {
			return err
		}
		tlas, err := ctx.AccelerationStructure(SceneSet, BindingTLAS)
		if err != nil {
			return err
		}

		origin, dir := cam.PrimaryRay(id[0], id[1], size[0], size[1])
		var payload Payload
		err = ctx.TraceRay(tlas, device.Ray{
			Flags:           device.RayFlagOpaque,
			CullMask:        0xff,
			SBTRecordStride: RayTypeCount,
			Origin:          types.Vec3(origin),
			TMin:            RayTMin,
			Direction:       types.Vec3(dir),
			TMax:            RayTMax,
		}, &payload)
		if err != nil {
			return err
		}

		return ctx.StoreImage(SceneSet, BindingOutput, id[0], id[1], payload.Color.Vec4(1))
	}
}

// ClosestHit returns a program that reports the color stored inline in the
// selected hit record.
func ClosestHit() device.ClosestHitProgram {
	return func(ctx device.HitContext, payload interface{}) error {
		p, ok := payload.(*Payload)
		if !ok {
			return errors.Errorf("shader: closest-hit: unexpected payload %T", payload)
		}
		color, err := sbt.DecodeColor(ctx.ShaderRecord())
		if err != nil {
			return errors.Wrap(err, "shader: closest-hit")
		}
		*p = Payload{
			Color:         color,
			Hit:           true,
			CustomIndex:   ctx.InstanceCustomIndex(),
			InstanceID:    ctx.InstanceID(),
			GeometryIndex: ctx.GeometryIndex(),
			PrimitiveID:   ctx.PrimitiveID(),
			T:             ctx.HitT(),
		}
		return nil
	}
}

// Miss returns a program that reports a constant background color.
func Miss(background types.Vec3) device.MissProgram {
	return func(ctx device.MissContext, payload interface{}) error {
		p, ok := payload.(*Payload)
		if !ok {
			return errors.Errorf("shader: miss: unexpected payload %T", payload)
		}
		*p = Payload{Color: background}
		return nil
	}
}
