package recon

import (
	"log"
	"math"
)

// FilterFinest drops every face with an edge longer than maxEdge, then drops
// the vertices no surviving face references. Vertex and face order is
// preserved. The input mesh is not modified.
func FilterFinest(m *Mesh, maxEdge float64) *Mesh {
	goodFace := make([]bool, len(m.Faces))
	goodVertex := make([]bool, len(m.Vertices))
	for f, face := range m.Faces {
		a, b, c := m.Corners(f)
		if b.Sub(a).Norm() > maxEdge || c.Sub(b).Norm() > maxEdge || a.Sub(c).Norm() > maxEdge {
			continue
		}
		goodFace[f] = true
		for _, v := range face {
			goodVertex[v] = true
		}
	}

	remap := make([]int, len(m.Vertices))
	out := &Mesh{}
	for v, ok := range goodVertex {
		if !ok {
			remap[v] = -1
			continue
		}
		remap[v] = len(out.Vertices)
		out.Vertices = append(out.Vertices, m.Vertices[v])
	}
	for f, face := range m.Faces {
		if goodFace[f] {
			out.Faces = append(out.Faces, [3]int{remap[face[0]], remap[face[1]], remap[face[2]]})
		}
	}
	return out
}

// PoissonFilterSize is the edge cutoff for a Poisson surface reconstructed at
// the given octree depth: 1.8 voxels of the finest grid
func PoissonFilterSize(m *Mesh, depth int) float64 {
	return 1.8 * BoundingBoxSize(m.Vertices) / math.Pow(2, float64(depth-3))
}

// logMeshFilter reports how much a post filter removed
func logMeshFilter(before, after *Mesh, maxEdge float64) {
	log.Printf("Filtering mesh at edge %.4g: %d/%d vertices, %d/%d faces kept",
		maxEdge, len(after.Vertices), len(before.Vertices), len(after.Faces), len(before.Faces))
}
