package bvh

import (
	"math"

	"github.com/achilleasa/vkrt/types"
)

// A BVH node. Interior nodes store the indices of their children; leaves
// store a range into the item list assembled by the leaf callback.
type Node struct {
	BBox types.BBox

	left, right uint32
	leaf        bool
}

// Setup node as an interior node.
func (n *Node) SetChildNodes(left, right uint32) {
	n.left = left
	n.right = right
	n.leaf = false
}

// Setup node as a leaf referencing count items starting at first.
func (n *Node) SetLeaf(first, count uint32) {
	n.left = first
	n.right = count
	n.leaf = true
}

func (n *Node) IsLeaf() bool {
	return n.leaf
}

// Get child node indices.
func (n *Node) Children() (left, right uint32) {
	return n.left, n.right
}

// Get the item range of a leaf.
func (n *Node) Items() (first, count uint32) {
	return n.left, n.right
}

// A flattened BVH whose root is stored at index 0.
type Tree []Node

// Root bounding box.
func (t Tree) Bounds() types.BBox {
	if len(t) == 0 {
		return types.EmptyBBox()
	}
	return t[0].BBox
}

// A ray prepared for slab tests.
type Ray struct {
	Origin types.Vec3
	InvDir types.Vec3
}

// Prepare a ray for traversal.
func NewRay(origin, dir types.Vec3) Ray {
	var inv types.Vec3
	for i := 0; i < 3; i++ {
		if dir[i] == 0 {
			inv[i] = float32(math.Inf(1))
		} else {
			inv[i] = 1.0 / dir[i]
		}
	}
	return Ray{Origin: origin, InvDir: inv}
}

// Slab test against box for the interval [tMin, tMax].
func (r Ray) HitsBox(box types.BBox, tMin, tMax float32) bool {
	for i := 0; i < 3; i++ {
		t0 := (box[0][i] - r.Origin[i]) * r.InvDir[i]
		t1 := (box[1][i] - r.Origin[i]) * r.InvDir[i]
		// 0 * inf yields NaN for rays starting on a slab plane; treat
		// those as inside the slab.
		if t0 != t0 || t1 != t1 {
			continue
		}
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		if t0 > tMin {
			tMin = t0
		}
		if t1 < tMax {
			tMax = t1
		}
		if tMax < tMin {
			return false
		}
	}
	return true
}

// Walk visits every leaf whose box the ray enters within [tMin, *tMax].
// The visitor may shrink *tMax to prune the remaining traversal, and
// returns false to stop the walk.
func (t Tree) Walk(ray Ray, tMin float32, tMax *float32, visit func(first, count uint32) bool) {
	if len(t) == 0 {
		return
	}
	t.walkFrom(0, ray, tMin, tMax, visit)
}

func (t Tree) walkFrom(index uint32, ray Ray, tMin float32, tMax *float32, visit func(first, count uint32) bool) bool {
	node := &t[index]
	if !ray.HitsBox(node.BBox, tMin, *tMax) {
		return true
	}
	if node.leaf {
		return visit(node.Items())
	}
	return t.walkFrom(node.left, ray, tMin, tMax, visit) && t.walkFrom(node.right, ray, tMin, tMax, visit)
}
