package recon

import (
	"fmt"
	"log"
	"math"
	"sort"
)

const (
	densityMaxRounds = 200  // Power iteration cap
	densityTolerance = 1e-6 // Mean squared change that counts as converged
	densityCeiling   = 2.0  // Upper clamp on normalized density
	densityMinScore  = 0.7  // Points scoring below this are dropped during selection
)

// GraphEdge is one stored neighbour of a point
type GraphEdge struct {
	Index  int     // Neighbour index, always lower than the owning point
	Weight float64 // 1 - distance/radius
}

// NeighborGraph is a sparse graph in compressed-row form. Each unordered pair
// is stored once, under the higher index.
type NeighborGraph struct {
	Offsets []int // len N+1; Edges[Offsets[i]:Offsets[i+1]] belong to point i
	Edges   []GraphEdge
}

// BuildNeighborGraph links every pair of points closer than radius
func BuildNeighborGraph(points []Vec3, radius float64, index NeighborIndex) *NeighborGraph {
	g := &NeighborGraph{Offsets: make([]int, len(points)+1)}
	for i, p := range points {
		for _, n := range index.RadiusSearch(p, radius) {
			if n.Index >= i {
				continue
			}
			g.Edges = append(g.Edges, GraphEdge{
				Index:  n.Index,
				Weight: math.Max(0, 1-n.Distance/radius),
			})
		}
		g.Offsets[i+1] = len(g.Edges)
	}
	return g
}

// Len returns the number of points in the graph
func (g *NeighborGraph) Len() int {
	return len(g.Offsets) - 1
}

// Neighbors returns the edges stored under point i
func (g *NeighborGraph) Neighbors(i int) []GraphEdge {
	return g.Edges[g.Offsets[i]:g.Offsets[i+1]]
}

// DensityEstimate is the converged state of the power iteration
type DensityEstimate struct {
	Density []float64 // Normalized density per point, in [0, 2]
	Score   []float64 // Raw aggregate from the final round
	Rounds  int       // Rounds executed
	Change  float64   // Mean squared change in the final round
}

// EstimateDensity runs damped power iteration over the graph. Density starts
// at 1 everywhere; every round each edge feeds both endpoints, the result is
// normalized to total mass N and clamped at 2.
func EstimateDensity(g *NeighborGraph) DensityEstimate {
	n := g.Len()
	est := DensityEstimate{
		Density: make([]float64, n),
		Score:   make([]float64, n),
	}
	for i := range est.Density {
		est.Density[i] = 1
	}
	if n == 0 {
		return est
	}

	dens, score := est.Density, est.Score
	for {
		for i := range score {
			score[i] = 0
		}
		var sum float64
		for i := 0; i < n; i++ {
			for _, e := range g.Neighbors(i) {
				j := e.Index
				score[i] += dens[j] * e.Weight
				score[j] += dens[i] * e.Weight
				sum += (dens[i] + dens[j]) * e.Weight
			}
		}

		var change float64
		for i := range dens {
			next := 0.0
			if sum > 0 {
				next = math.Min(densityCeiling, score[i]*float64(n)/sum)
			}
			d := dens[i] - next
			change += d * d
			dens[i] = next
		}
		est.Change = change / float64(n)
		est.Rounds++
		if est.Change <= densityTolerance || est.Rounds >= densityMaxRounds {
			return est
		}
	}
}

// DensityStats summarizes one filter pass
type DensityStats struct {
	Input      int     `json:"input"`
	Kept       int     `json:"kept"`
	Outliers   int     `json:"outliers"`   // Dropped with a low score before any suppression
	Suppressed int     `json:"suppressed"` // Dropped because an accepted neighbour absorbed their score
	Edges      int     `json:"edges"`
	Rounds     int     `json:"rounds"`
	Change     float64 `json:"change"`
}

// DensityFilter removes outliers and near-duplicate samples from a cloud
type DensityFilter struct {
	Radius    float64      // Neighbourhood radius
	NewIndex  IndexBuilder // Defaults to a k-d tree
	Verbosity int
}

// SelectPoints walks points by descending density and returns the accepted
// indices in ascending order. Each accepted point subtracts its density
// weighted share from the running score of every neighbour it shares an edge
// with, in either direction.
func SelectPoints(g *NeighborGraph, est DensityEstimate) (kept []int, outliers int) {
	n := g.Len()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return est.Density[order[a]] > est.Density[order[b]]
	})

	adj := symmetricAdjacency(g)
	score := append([]float64(nil), est.Score...)
	for _, i := range order {
		if score[i] < densityMinScore {
			if est.Score[i] < densityMinScore {
				outliers++
			}
			continue
		}
		for _, e := range adj[i] {
			score[e.Index] -= est.Density[i] * e.Weight
		}
		kept = append(kept, i)
	}
	sort.Ints(kept)
	return kept, outliers
}

// symmetricAdjacency expands the one-directional graph into full adjacency lists
func symmetricAdjacency(g *NeighborGraph) [][]GraphEdge {
	adj := make([][]GraphEdge, g.Len())
	for i := range adj {
		for _, e := range g.Neighbors(i) {
			adj[i] = append(adj[i], e)
			adj[e.Index] = append(adj[e.Index], GraphEdge{Index: i, Weight: e.Weight})
		}
	}
	return adj
}

// Filter returns the surviving points and normals in their original relative
// order. The inputs are not modified.
func (f *DensityFilter) Filter(points []Point, normals []Vec3) ([]Point, []Vec3, DensityStats) {
	if len(points) != len(normals) {
		panic(fmt.Sprintf("density filter: %d points but %d normals", len(points), len(normals)))
	}
	if len(points) == 0 {
		panic("density filter: empty point cloud")
	}
	newIndex := f.NewIndex
	if newIndex == nil {
		newIndex = DefaultIndexBuilder
	}

	if f.Verbosity >= 1 {
		log.Println("Filtering: preparing neighbor table...")
	}
	cloud := CartesianCloud(points)
	g := BuildNeighborGraph(cloud, f.Radius, newIndex(cloud))
	if f.Verbosity >= 2 {
		log.Printf("Filtering: %d neighbors total", len(g.Edges))
	}

	if f.Verbosity >= 1 {
		log.Println("Filtering: estimating density...")
	}
	est := EstimateDensity(g)
	if f.Verbosity >= 2 {
		log.Printf("Filtering: density converged after %d rounds (change %.3g)", est.Rounds, est.Change)
	}

	if f.Verbosity >= 1 {
		log.Println("Filtering: selecting points...")
	}
	kept, outliers := SelectPoints(g, est)

	outPoints := make([]Point, len(kept))
	outNormals := make([]Vec3, len(kept))
	for k, i := range kept {
		outPoints[k] = points[i]
		outNormals[k] = normals[i]
	}

	stats := DensityStats{
		Input:      len(points),
		Kept:       len(kept),
		Outliers:   outliers,
		Suppressed: len(points) - len(kept) - outliers,
		Edges:      len(g.Edges),
		Rounds:     est.Rounds,
		Change:     est.Change,
	}
	if f.Verbosity >= 1 {
		log.Printf("Filtering: kept %d of %d points (%d outliers, %d suppressed)",
			stats.Kept, stats.Input, stats.Outliers, stats.Suppressed)
	}
	return outPoints, outNormals, stats
}
