package bvh

import (
	"math"
	"time"

	"github.com/achilleasa/vkrt/log"
	"github.com/achilleasa/vkrt/types"
)

type Axis uint8

const (
	XAxis Axis = iota
	YAxis
	ZAxis

	// Axes whose centroid extent is below this threshold are not split.
	minSideLength float32 = 1e-3

	// Number of centroid bins evaluated per axis.
	binCount = 16
)

// A split scoring strategy that uses the surface area heuristic (SAH).
var SurfaceAreaHeuristic = surfaceAreaHeuristic{}

// BoundedVolume is implemented by the primitives the builder partitions
// (triangles for a BLAS, instances for a TLAS).
type BoundedVolume interface {
	BBox() types.BBox
	Center() types.Vec3
}

// Called whenever the builder emits a leaf. The callback must record where
// the leaf items live, usually with Node.SetLeaf.
type LeafCallback func(leaf *Node, itemList []BoundedVolume)

// ScoreStrategy scores candidate partitions; lower is better.
type ScoreStrategy interface {
	// Score a split into two non-empty sides.
	ScoreSplit(left types.BBox, leftCount int, right types.BBox, rightCount int) float32

	// Score keeping count items with bounds box in one leaf.
	ScoreLeaf(box types.BBox, count int) float32
}

// Build statistics.
type Stats struct {
	PartitionedItems int
	TotalItems       int
	Nodes            int
	Leafs            int
	MaxDepth         int
}

type bin struct {
	box   types.BBox
	count int
}

type split struct {
	axis  Axis
	bin   int
	score float32
}

type builder struct {
	logger log.Logger
	nodes  []Node

	leafCb        LeafCallback
	minLeafItems  int
	scoreStrategy ScoreStrategy

	stats Stats
}

// Build a BVH over workList.
//
// Each node bins its items by centroid into binCount buckets along every
// axis and evaluates the binCount-1 bucket boundaries with the score
// strategy. The best boundary wins if it scores lower than keeping the items
// in a leaf. Work lists of at most minLeafItems always become leafs. Ties
// resolve to the lowest axis and boundary so the layout is reproducible. The
// root node is always stored at index 0.
func Build(workList []BoundedVolume, minLeafItems int, leafCb LeafCallback, scoreStrategy ScoreStrategy) (Tree, Stats) {
	b := &builder{
		logger:        log.New("bvh builder"),
		leafCb:        leafCb,
		minLeafItems:  minLeafItems,
		scoreStrategy: scoreStrategy,
		stats:         Stats{TotalItems: len(workList)},
	}

	start := time.Now()
	b.partition(workList, 0)
	b.logger.Debugf(
		"built %d items in %s: depth %d, nodes %d, leafs %d",
		len(workList), time.Since(start), b.stats.MaxDepth, b.stats.Nodes, b.stats.Leafs,
	)
	return Tree(b.nodes), b.stats
}

func binIndex(c, min, extent float32) int {
	i := int(float32(binCount) * (c - min) / extent)
	if i >= binCount {
		i = binCount - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}

// Partition the work list and return the index of its node.
func (b *builder) partition(workList []BoundedVolume, depth int) uint32 {
	if depth > b.stats.MaxDepth {
		b.stats.MaxDepth = depth
	}

	node := Node{BBox: types.EmptyBBox()}
	centroids := types.EmptyBBox()
	for _, item := range workList {
		node.BBox = node.BBox.Union(item.BBox())
		centroids = centroids.Extend(item.Center())
	}

	if len(workList) <= b.minLeafItems {
		return b.createLeaf(&node, workList)
	}

	best, ok := b.bestSplit(workList, centroids)
	if !ok || best.score >= b.scoreStrategy.ScoreLeaf(node.BBox, len(workList)) {
		return b.createLeaf(&node, workList)
	}

	var left, right []BoundedVolume
	min, extent := centroids[0][best.axis], centroids[1][best.axis]-centroids[0][best.axis]
	for _, item := range workList {
		if binIndex(item.Center()[best.axis], min, extent) <= best.bin {
			left = append(left, item)
		} else {
			right = append(right, item)
		}
	}

	nodeIndex := len(b.nodes)
	b.nodes = append(b.nodes, node)
	b.stats.Nodes++

	leftIndex := b.partition(left, depth+1)
	rightIndex := b.partition(right, depth+1)
	b.nodes[nodeIndex].SetChildNodes(leftIndex, rightIndex)
	return uint32(nodeIndex)
}

// Find the lowest scoring bin boundary over all axes. Returns false if no
// axis can be split.
func (b *builder) bestSplit(workList []BoundedVolume, centroids types.BBox) (split, bool) {
	best := split{score: math.MaxFloat32}
	found := false

	for axis := XAxis; axis <= ZAxis; axis++ {
		min, extent := centroids[0][axis], centroids[1][axis]-centroids[0][axis]
		if extent < minSideLength {
			continue
		}

		var bins [binCount]bin
		for i := range bins {
			bins[i].box = types.EmptyBBox()
		}
		for _, item := range workList {
			bi := binIndex(item.Center()[axis], min, extent)
			bins[bi].box = bins[bi].box.Union(item.BBox())
			bins[bi].count++
		}

		// Sweep from the right to get the bounds right of each boundary.
		var (
			rightBox   [binCount]types.BBox
			rightCount [binCount]int
		)
		acc, count := types.EmptyBBox(), 0
		for i := binCount - 1; i > 0; i-- {
			acc = acc.Union(bins[i].box)
			count += bins[i].count
			rightBox[i], rightCount[i] = acc, count
		}

		acc, count = types.EmptyBBox(), 0
		for i := 0; i < binCount-1; i++ {
			acc = acc.Union(bins[i].box)
			count += bins[i].count
			if count == 0 || rightCount[i+1] == 0 {
				continue
			}
			score := b.scoreStrategy.ScoreSplit(acc, count, rightBox[i+1], rightCount[i+1])
			if score < best.score {
				best = split{axis: axis, bin: i, score: score}
				found = true
			}
		}
	}
	return best, found
}

// Turn node into a leaf holding every item of the work list and return its
// index.
func (b *builder) createLeaf(node *Node, workList []BoundedVolume) uint32 {
	b.leafCb(node, workList)

	nodeIndex := len(b.nodes)
	b.nodes = append(b.nodes, *node)
	b.stats.Leafs++
	b.stats.PartitionedItems += len(workList)
	return uint32(nodeIndex)
}

// SAH cost: item count times half the box surface area per side.
type surfaceAreaHeuristic struct{}

func (surfaceAreaHeuristic) ScoreSplit(left types.BBox, leftCount int, right types.BBox, rightCount int) float32 {
	if leftCount == 0 || rightCount == 0 {
		return math.MaxFloat32
	}
	return float32(leftCount)*left.HalfArea() + float32(rightCount)*right.HalfArea()
}

func (surfaceAreaHeuristic) ScoreLeaf(box types.BBox, count int) float32 {
	if count == 0 {
		return math.MaxFloat32
	}
	return float32(count) * box.HalfArea()
}
