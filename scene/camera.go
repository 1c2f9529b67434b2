package scene

import (
	"fmt"

	"github.com/achilleasa/vkrt/shader"
	"github.com/achilleasa/vkrt/types"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
)

// Clip planes of the camera projection.
const (
	zNear = 0.1
	zFar  = 1000
)

// The camera type controls the scene camera.
type Camera struct {
	Eye  types.Vec3 `json:"eye"`
	Look types.Vec3 `json:"look"`
	Up   types.Vec3 `json:"up"`

	// Vertical field of view in degrees.
	FOV float32 `json:"fov"`

	// Rotation about the up vector and the right axis, in degrees.
	Yaw   float32 `json:"yaw,omitempty"`
	Pitch float32 `json:"pitch,omitempty"`
}

func DefaultCamera() Camera {
	return Camera{
		Eye:  types.XYZ(0, 0, 0),
		Look: types.XYZ(0, 0, -1),
		Up:   types.XYZ(0, 1, 0),
		FOV:  45,
	}
}

func (c Camera) String() string {
	return fmt.Sprintf("eye (%3.3f, %3.3f, %3.3f) look (%3.3f, %3.3f, %3.3f) fov %3.1f", c.Eye[0], c.Eye[1], c.Eye[2], c.Look[0], c.Look[1], c.Look[2], c.FOV)
}

func (c Camera) Validate() error {
	if c.FOV <= 0 || c.FOV >= 180 {
		return errors.Wrapf(ErrInvalidScene, "camera fov %f outside (0, 180)", c.FOV)
	}
	if c.Look.Sub(c.Eye).Len() == 0 {
		return errors.Wrap(ErrInvalidScene, "camera eye and look point coincide")
	}
	if c.Up.Len() == 0 {
		return errors.Wrap(ErrInvalidScene, "camera up vector is zero")
	}
	return nil
}

// The view direction after applying yaw and pitch.
func (c Camera) Direction() mgl32.Vec3 {
	dir := mgl32.Vec3(c.Look.Sub(c.Eye)).Normalize()
	up := mgl32.Vec3(c.Up).Normalize()
	pitchAxis := dir.Cross(up)

	orient := mgl32.QuatIdent()
	if pitchAxis.Len() > 0 {
		orient = mgl32.QuatRotate(mgl32.DegToRad(c.Pitch), pitchAxis.Normalize())
	}
	orient = orient.Mul(mgl32.QuatRotate(mgl32.DegToRad(c.Yaw), up)).Normalize()
	return orient.Rotate(dir)
}

// The view matrix.
func (c Camera) View() mgl32.Mat4 {
	eye := mgl32.Vec3(c.Eye)
	return mgl32.LookAtV(eye, eye.Add(c.Direction()), mgl32.Vec3(c.Up))
}

// The projection matrix for an aspect ratio.
func (c Camera) Projection(aspect float32) mgl32.Mat4 {
	return mgl32.Perspective(mgl32.DegToRad(c.FOV), aspect, zNear, zFar)
}

// The uniform block read by the ray generation program.
func (c Camera) Uniform(width, height uint32) shader.CameraUniform {
	return shader.NewCameraUniform(c.View(), c.Projection(float32(width)/float32(height)))
}

// Rotate the eye about the look point around the up vector.
func (c Camera) Orbit(angleDeg float32) Camera {
	up := mgl32.Vec3(c.Up).Normalize()
	q := mgl32.QuatRotate(mgl32.DegToRad(angleDeg), up)
	offset := q.Rotate(mgl32.Vec3(c.Eye.Sub(c.Look)))
	c.Eye = c.Look.Add(types.Vec3(offset))
	return c
}
