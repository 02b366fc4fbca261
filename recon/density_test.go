package recon

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildNeighborGraph_LowerIndicesOnly(t *testing.T) {
	points := []Vec3{{0, 0, 0}, {0.5, 0, 0}, {0.5, 0.5, 0}, {3, 0, 0}}
	g := BuildNeighborGraph(points, 1, NewKDIndex(points))

	require.Equal(t, 4, g.Len())
	require.Len(t, g.Offsets, 5)
	assert.Empty(t, g.Neighbors(0))
	assert.Empty(t, g.Neighbors(3), "isolated point has no edges")
	for i := 0; i < g.Len(); i++ {
		for _, e := range g.Neighbors(i) {
			assert.Less(t, e.Index, i)
			assert.GreaterOrEqual(t, e.Weight, 0.0)
			assert.LessOrEqual(t, e.Weight, 1.0)
		}
	}

	n1 := g.Neighbors(1)
	require.Len(t, n1, 1)
	assert.InDelta(t, 0.5, n1[0].Weight, 1e-12)
	assert.Len(t, g.Neighbors(2), 2)
	assert.Len(t, g.Edges, 3)
}

func TestEstimateDensity_Bounds(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	points := randomCloud(rng, 200, 2)
	g := BuildNeighborGraph(points, 0.4, NewKDIndex(points))
	est := EstimateDensity(g)

	for i, d := range est.Density {
		if d < 0 || d > 2 {
			t.Errorf("density[%d] = %v, want within [0, 2]", i, d)
		}
	}
	if est.Change > densityTolerance && est.Rounds != densityMaxRounds {
		t.Errorf("stopped after %d rounds with change %v", est.Rounds, est.Change)
	}
}

func TestEstimateDensity_NoEdges(t *testing.T) {
	points := []Vec3{{0, 0, 0}, {10, 0, 0}}
	est := EstimateDensity(BuildNeighborGraph(points, 1, NewKDIndex(points)))
	assert.Equal(t, []float64{0, 0}, est.Density)
	assert.Equal(t, 2, est.Rounds, "one round to collapse, one to observe no change")
}

func TestDensityFilter_TwoClusters(t *testing.T) {
	points, normals := twoClusters()
	f := &DensityFilter{Radius: 1.0}

	gotPoints, gotNormals, stats := f.Filter(points, normals)

	// Cluster ends lose to their denser inner neighbours.
	want := []int{1, 2, 3, 4, 5, 6, 7, 8, 11, 12, 13, 14, 15, 16, 17, 18}
	if diff := cmp.Diff(want, rowsOf(gotNormals)); diff != "" {
		t.Errorf("kept rows mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, gotPoints, len(want))
	for k, row := range want {
		assert.Equal(t, points[row], gotPoints[k])
	}
	assert.Equal(t, DensityStats{
		Input:      20,
		Kept:       16,
		Outliers:   0,
		Suppressed: 4,
		Edges:      stats.Edges,
		Rounds:     stats.Rounds,
		Change:     stats.Change,
	}, stats)
	assert.Equal(t, 90, stats.Edges, "45 pairs inside each cluster")
}

func TestDensityFilter_RemovesIsolatedOutlier(t *testing.T) {
	points, normals := twoClusters()
	points = append(points, NewPoint(50, 50, 50))
	normals = append(normals, Vec3{20, 0, 0})

	_, gotNormals, stats := (&DensityFilter{Radius: 1.0}).Filter(points, normals)

	assert.NotContains(t, rowsOf(gotNormals), 20)
	assert.Equal(t, 1, stats.Outliers)
	assert.Equal(t, 4, stats.Suppressed)
	assert.Equal(t, 16, stats.Kept)
}

func TestDensityFilter_NeverGrowsAndKeepsRowsAligned(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for trial := 0; trial < 5; trial++ {
		cloud := randomCloud(rng, 150, 3)
		points := make([]Point, len(cloud))
		normals := make([]Vec3, len(cloud))
		for i, c := range cloud {
			// Scaled homogeneous coordinates exercise the Cartesian conversion.
			points[i] = c.Homogeneous().Scale(2)
			normals[i] = Vec3{float64(i), 0, 0}
		}

		gotPoints, gotNormals, stats := (&DensityFilter{Radius: 0.6}).Filter(points, normals)

		require.Equal(t, len(gotPoints), len(gotNormals))
		assert.LessOrEqual(t, len(gotPoints), len(points))
		assert.Equal(t, stats.Input, stats.Kept+stats.Outliers+stats.Suppressed)
		prev := -1
		for k, n := range gotNormals {
			row := int(n[0])
			assert.Greater(t, row, prev, "relative order preserved")
			assert.Equal(t, points[row], gotPoints[k])
			prev = row
		}
	}
}

func TestDensityFilter_CustomIndex(t *testing.T) {
	points, normals := twoClusters()
	kd := &DensityFilter{Radius: 1.0}
	brute := &DensityFilter{Radius: 1.0, NewIndex: func(p []Vec3) NeighborIndex { return bruteIndex(p) }}

	_, want, _ := kd.Filter(points, normals)
	_, got, _ := brute.Filter(points, normals)
	assert.Equal(t, rowsOf(want), rowsOf(got))
}

func TestDensityFilter_PanicsOnMismatch(t *testing.T) {
	f := &DensityFilter{Radius: 1}
	assert.Panics(t, func() { f.Filter([]Point{NewPoint(0, 0, 0)}, nil) })
	assert.Panics(t, func() { f.Filter(nil, nil) })
}

// ---- helpers ----

// twoClusters returns two lines of 10 points each, 0.1 apart, with clusters
// 100 units apart. Normal rows carry the input index in x.
func twoClusters() ([]Point, []Vec3) {
	var points []Point
	var normals []Vec3
	for c := 0; c < 2; c++ {
		for i := 0; i < 10; i++ {
			points = append(points, NewPoint(float64(c)*100+float64(i)*0.1, 0, 0))
			normals = append(normals, Vec3{float64(len(normals)), 0, 0})
		}
	}
	return points, normals
}

func rowsOf(normals []Vec3) []int {
	rows := make([]int, len(normals))
	for i, n := range normals {
		rows[i] = int(n[0])
	}
	return rows
}

// bruteIndex scans every point on each query
type bruteIndex []Vec3

func (b bruteIndex) RadiusSearch(query Vec3, radius float64) []Neighbor {
	var out []Neighbor
	for i, p := range b {
		if d := p.Sub(query).Norm(); d <= radius {
			out = append(out, Neighbor{Index: i, Distance: d})
		}
	}
	return out
}
