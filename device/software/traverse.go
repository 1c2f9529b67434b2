package software

import (
	"github.com/achilleasa/vkrt/device"
	"github.com/achilleasa/vkrt/device/software/bvh"
	"github.com/achilleasa/vkrt/types"
)

const intersectEpsilon = 1e-7

// A candidate or committed intersection.
type hitInfo struct {
	t         float32
	u, v      float32
	front     bool
	instance  *tlasInstance
	triangle  *triangle
	rayOrigin types.Vec3
	rayDir    types.Vec3
}

// Decides whether a non-opaque candidate is accepted. Opaque candidates are
// always accepted.
type candidateFilter func(cand *hitInfo) (bool, error)

// Möller-Trumbore ray/triangle intersection. Returns the distance along dir,
// the barycentrics of v1 and v2 and whether the triangle is front facing.
// Triangles are front facing when their vertices appear counter-clockwise
// from the ray origin.
func intersectTriangle(origin, dir types.Vec3, tri *triangle) (t, u, v float32, front, ok bool) {
	e1 := tri.v1.Sub(tri.v0)
	e2 := tri.v2.Sub(tri.v0)
	p := dir.Cross(e2)
	det := e1.Dot(p)
	if det > -intersectEpsilon && det < intersectEpsilon {
		return 0, 0, 0, false, false
	}
	inv := 1.0 / det
	s := origin.Sub(tri.v0)
	u = s.Dot(p) * inv
	if u < 0 || u > 1 {
		return 0, 0, 0, false, false
	}
	q := s.Cross(e1)
	v = dir.Dot(q) * inv
	if v < 0 || u+v > 1 {
		return 0, 0, 0, false, false
	}
	t = e2.Dot(q) * inv
	return t, u, v, det > 0, true
}

// Resolve the effective opacity of a candidate following the precedence
// ray flags > instance flags > geometry flags.
func candidateOpaque(ray *device.Ray, inst *tlasInstance, tri *triangle) bool {
	switch {
	case ray.Flags&device.RayFlagOpaque != 0:
		return true
	case ray.Flags&device.RayFlagNoOpaque != 0:
		return false
	case inst.record.Flags&device.InstanceForceOpaqueBit != 0:
		return true
	case inst.record.Flags&device.InstanceForceNoOpaqueBit != 0:
		return false
	}
	return tri.opaque
}

// Returns true if the candidate is removed by face culling.
func culled(ray *device.Ray, inst *tlasInstance, front bool) bool {
	if inst.record.Flags&device.InstanceTriangleFacingCullDisableBit != 0 {
		return false
	}
	if ray.Flags&device.RayFlagCullBackFacingTriangles != 0 && !front {
		return true
	}
	if ray.Flags&device.RayFlagCullFrontFacingTriangles != 0 && front {
		return true
	}
	return false
}

// Find the closest accepted intersection in the TLAS.
func (tl *tlasData) trace(ray *device.Ray, filter candidateFilter) (*hitInfo, error) {
	var (
		closest *hitInfo
		tMax    = ray.TMax
		err     error
	)

	terminate := ray.Flags&device.RayFlagTerminateOnFirstHit != 0
	worldRay := bvh.NewRay(ray.Origin, ray.Direction)
	tl.tree.Walk(worldRay, ray.TMin, &tMax, func(first, count uint32) bool {
		for _, inst := range tl.instances[first : first+count] {
			if inst.record.Mask&ray.CullMask == 0 {
				continue
			}

			// Object space ray; the direction is not normalized so
			// distances stay comparable with world space.
			origin := inst.toObject.Apply(ray.Origin)
			dir := inst.toObject.ApplyVector(ray.Direction)
			objectRay := bvh.NewRay(origin, dir)

			inst.blas.tree.Walk(objectRay, ray.TMin, &tMax, func(first, count uint32) bool {
				for _, tri := range inst.blas.triangles[first : first+count] {
					t, u, v, front, ok := intersectTriangle(origin, dir, tri)
					if !ok || t < ray.TMin || t > tMax {
						continue
					}
					if inst.record.Flags&device.InstanceTriangleFlipFacingBit != 0 {
						front = !front
					}
					if culled(ray, inst, front) {
						continue
					}

					cand := &hitInfo{
						t: t, u: u, v: v, front: front,
						instance: inst, triangle: tri,
						rayOrigin: ray.Origin, rayDir: ray.Direction,
					}
					if !candidateOpaque(ray, inst, tri) && filter != nil {
						var accept bool
						if accept, err = filter(cand); err != nil {
							return false
						}
						if !accept {
							continue
						}
					}

					closest = cand
					tMax = t
					if terminate {
						return false
					}
				}
				return true
			})

			if err != nil || (terminate && closest != nil) {
				return false
			}
		}
		return true
	})

	return closest, err
}
