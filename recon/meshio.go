package recon

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ReadOBJ loads a triangle mesh from a Wavefront OBJ file
func ReadOBJ(path string) (*Mesh, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening mesh: %w", err)
	}
	defer func() { _ = f.Close() }()

	m, err := DecodeOBJ(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return m, nil
}

// DecodeOBJ parses vertices ("v x y z [w]") and triangular faces
// ("f a b c", with optional /vt/vn suffixes and negative relative indices).
// Other statements are ignored. Faces with more than three corners are
// rejected with ErrNonTriangularFace.
func DecodeOBJ(r io.Reader) (*Mesh, error) {
	m := &Mesh{}
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(stripComment(scanner.Text()))
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "v":
			p, err := parseOBJVertex(fields[1:])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			m.Vertices = append(m.Vertices, p)
		case "f":
			if len(fields) != 4 {
				return nil, fmt.Errorf("line %d: %d corners: %w", line, len(fields)-1, ErrNonTriangularFace)
			}
			var face [3]int
			for k, ref := range fields[1:] {
				idx, err := parseOBJIndex(ref, len(m.Vertices))
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", line, err)
				}
				face[k] = idx
			}
			m.Faces = append(m.Faces, face)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func parseOBJVertex(fields []string) (Point, error) {
	if len(fields) < 3 || len(fields) > 4 {
		return Point{}, fmt.Errorf("vertex needs 3 or 4 coordinates, got %d", len(fields))
	}
	p := Point{0, 0, 0, 1}
	for k, s := range fields {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Point{}, fmt.Errorf("parsing vertex coordinate %q: %w", s, err)
		}
		p[k] = v
	}
	return p, nil
}

// parseOBJIndex converts a 1-based or negative relative reference to a 0-based index
func parseOBJIndex(ref string, vertexCount int) (int, error) {
	if slash := strings.IndexByte(ref, '/'); slash >= 0 {
		ref = ref[:slash]
	}
	n, err := strconv.Atoi(ref)
	if err != nil {
		return 0, fmt.Errorf("parsing face index %q: %w", ref, err)
	}
	switch {
	case n > 0:
		return n - 1, nil
	case n < 0:
		return vertexCount + n, nil
	default:
		return 0, fmt.Errorf("face index 0: %w", ErrFaceIndexOutOfRange)
	}
}

// WriteOBJ saves a mesh as a Wavefront OBJ file
func WriteOBJ(path string, m *Mesh) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating mesh file: %w", err)
	}
	if err := EncodeOBJ(f, m); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

// EncodeOBJ writes Cartesian vertices and 1-based faces
func EncodeOBJ(w io.Writer, m *Mesh) error {
	bw := bufio.NewWriter(w)
	for _, v := range m.Vertices {
		c := v.Cartesian()
		fmt.Fprintf(bw, "v %s %s %s\n", formatFloat(c[0]), formatFloat(c[1]), formatFloat(c[2]))
	}
	for _, f := range m.Faces {
		fmt.Fprintf(bw, "f %d %d %d\n", f[0]+1, f[1]+1, f[2]+1)
	}
	return bw.Flush()
}

// ReadPoints loads a point cloud from a text file. Each row holds
// "x y z" or "x y z nx ny nz"; rows without a normal get the zero normal.
// Blank lines and "#" comments are skipped.
func ReadPoints(path string) ([]Point, []Vec3, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening point cloud: %w", err)
	}
	defer func() { _ = f.Close() }()

	points, normals, err := DecodePoints(f)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return points, normals, nil
}

// DecodePoints parses the text point format read by ReadPoints
func DecodePoints(r io.Reader) ([]Point, []Vec3, error) {
	var points []Point
	var normals []Vec3
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(stripComment(scanner.Text()))
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 3 && len(fields) != 6 {
			return nil, nil, fmt.Errorf("line %d: expected 3 or 6 values, got %d", line, len(fields))
		}
		var vals [6]float64
		for k, s := range fields {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("line %d: parsing %q: %w", line, s, err)
			}
			vals[k] = v
		}
		points = append(points, NewPoint(vals[0], vals[1], vals[2]))
		normals = append(normals, Vec3{vals[3], vals[4], vals[5]})
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	return points, normals, nil
}

// WritePoints saves a point cloud with normals in the ReadPoints format
func WritePoints(path string, points []Point, normals []Vec3) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating point file: %w", err)
	}
	if err := EncodePoints(f, points, normals); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

// EncodePoints writes one "x y z nx ny nz" row per point
func EncodePoints(w io.Writer, points []Point, normals []Vec3) error {
	if len(points) != len(normals) {
		return fmt.Errorf("%d points but %d normals", len(points), len(normals))
	}
	bw := bufio.NewWriter(w)
	for i, p := range points {
		c, n := p.Cartesian(), normals[i]
		fmt.Fprintf(bw, "%s %s %s %s %s %s\n",
			formatFloat(c[0]), formatFloat(c[1]), formatFloat(c[2]),
			formatFloat(n[0]), formatFloat(n[1]), formatFloat(n[2]))
	}
	return bw.Flush()
}

func stripComment(s string) string {
	if i := strings.IndexByte(s, '#'); i >= 0 {
		return s[:i]
	}
	return s
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
