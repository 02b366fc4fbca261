package recon

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// DefaultNormalNeighbors is the k used for PCA normal estimation
const DefaultNormalNeighbors = 20

// EstimateNormals fits a plane to the k nearest neighbours of every point
// and returns its unit normal. Points with fewer than three neighbours, or
// whose neighbourhood is degenerate, get the zero vector. Signs are arbitrary.
func EstimateNormals(points []Vec3, k int) []Vec3 {
	if k <= 0 {
		k = DefaultNormalNeighbors
	}
	idx := NewKDIndex(points)
	normals := make([]Vec3, len(points))
	for i, p := range points {
		hood := idx.Nearest(p, k)
		if len(hood) < 3 {
			continue
		}
		normals[i] = pcaNormal(points, hood)
	}
	return normals
}

// pcaNormal returns the eigenvector of the neighbourhood covariance with the
// smallest eigenvalue
func pcaNormal(points []Vec3, hood []Neighbor) Vec3 {
	var centroid Vec3
	for _, n := range hood {
		centroid = centroid.Add(points[n.Index])
	}
	centroid = centroid.Scale(1 / float64(len(hood)))

	var cov [9]float64
	for _, n := range hood {
		d := points[n.Index].Sub(centroid)
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				cov[r*3+c] += d[r] * d[c]
			}
		}
	}

	var eigen mat.EigenSym
	if !eigen.Factorize(mat.NewSymDense(3, cov[:]), true) {
		return Vec3{}
	}
	var vecs mat.Dense
	eigen.VectorsTo(&vecs)

	// Eigenvalues come back ascending; column 0 is the plane normal.
	return Vec3{vecs.At(0, 0), vecs.At(1, 0), vecs.At(2, 0)}.Normalized()
}

// OrientedNormals estimates unit normals for points, flips each to agree with
// the matching input normal and scales it by the input normal's length, which
// carries the per-point confidence
func OrientedNormals(points []Point, input []Vec3, k int) []Vec3 {
	if len(points) != len(input) {
		panic(fmt.Sprintf("oriented normals: %d points but %d normals", len(points), len(input)))
	}
	estimated := EstimateNormals(CartesianCloud(points), k)
	for i, n := range estimated {
		if n.Dot(input[i]) < 0 {
			n = n.Scale(-1)
		}
		estimated[i] = n.Scale(input[i].Norm())
	}
	return estimated
}
