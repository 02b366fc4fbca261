package recon

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// Neighbor is one result of a spatial query
type Neighbor struct {
	Index    int     // Position of the point in the indexed cloud
	Distance float64 // Euclidean distance to the query
}

// NeighborIndex answers radius-limited neighbour queries over a fixed cloud.
// Results are unordered and may include the query point itself.
type NeighborIndex interface {
	RadiusSearch(query Vec3, radius float64) []Neighbor
}

// IndexBuilder constructs a NeighborIndex over a cloud
type IndexBuilder func(points []Vec3) NeighborIndex

// DefaultIndexBuilder builds a k-d tree index
func DefaultIndexBuilder(points []Vec3) NeighborIndex {
	return NewKDIndex(points)
}

// KDIndex is a k-d tree over Cartesian points
type KDIndex struct {
	tree *kdtree.Tree
	size int
}

// NewKDIndex builds a k-d tree over points. The input slice is not modified.
func NewKDIndex(points []Vec3) *KDIndex {
	pts := make(kdPoints, len(points))
	for i, p := range points {
		pts[i] = kdPoint{pos: p, index: i}
	}
	idx := &KDIndex{size: len(points)}
	if len(pts) > 0 {
		idx.tree = kdtree.New(pts, false)
	}
	return idx
}

// Len returns the number of indexed points
func (k *KDIndex) Len() int {
	return k.size
}

// RadiusSearch returns every indexed point within radius of query
func (k *KDIndex) RadiusSearch(query Vec3, radius float64) []Neighbor {
	if k.tree == nil || radius < 0 {
		return nil
	}
	keeper := kdtree.NewDistKeeper(radius * radius)
	k.tree.NearestSet(keeper, kdPoint{pos: query, index: -1})
	return collectNeighbors(keeper.Heap, radius*radius)
}

// Nearest returns up to n indexed points closest to query
func (k *KDIndex) Nearest(query Vec3, n int) []Neighbor {
	if k.tree == nil || n <= 0 {
		return nil
	}
	keeper := kdtree.NewNKeeper(n)
	k.tree.NearestSet(keeper, kdPoint{pos: query, index: -1})
	return collectNeighbors(keeper.Heap, math.Inf(1))
}

// collectNeighbors unpacks a keeper heap, dropping the sentinel entries the
// keepers are seeded with
func collectNeighbors(heap kdtree.Heap, maxDistSq float64) []Neighbor {
	out := make([]Neighbor, 0, len(heap))
	for _, cd := range heap {
		p, ok := cd.Comparable.(kdPoint)
		if !ok || cd.Dist > maxDistSq {
			continue
		}
		out = append(out, Neighbor{Index: p.index, Distance: math.Sqrt(cd.Dist)})
	}
	return out
}

// kdPoint carries its cloud index through the tree, which reorders storage
type kdPoint struct {
	pos   Vec3
	index int
}

func (p kdPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.pos[d] - c.(kdPoint).pos[d]
}

func (p kdPoint) Dims() int { return 3 }

// Distance is squared Euclidean, as the kdtree keepers expect
func (p kdPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(kdPoint)
	d := p.pos.Sub(q.pos)
	return d.Dot(d)
}

type kdPoints []kdPoint

func (p kdPoints) Index(i int) kdtree.Comparable        { return p[i] }
func (p kdPoints) Len() int                             { return len(p) }
func (p kdPoints) Pivot(d kdtree.Dim) int               { return kdPlane{dim: d, points: p}.Pivot() }
func (p kdPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// kdPlane sorts points along one dimension for median partitioning
type kdPlane struct {
	dim    kdtree.Dim
	points kdPoints
}

func (p kdPlane) Less(i, j int) bool {
	return p.points[i].pos[p.dim] < p.points[j].pos[p.dim]
}

func (p kdPlane) Swap(i, j int) {
	p.points[i], p.points[j] = p.points[j], p.points[i]
}

func (p kdPlane) Len() int { return len(p.points) }

func (p kdPlane) Slice(start, end int) kdtree.SortSlicer {
	p.points = p.points[start:end]
	return p
}

func (p kdPlane) Pivot() int {
	return kdtree.Partition(p, kdtree.MedianOfMedians(p))
}
