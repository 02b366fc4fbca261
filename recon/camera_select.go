package recon

import (
	"fmt"
	"log"
	"math"
	"math/rand"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"gonum.org/v1/gonum/floats"
)

// Viewer camera constants. The near and far planes are fixed; scenes far
// larger than the far plane see distant cameras rejected as out of range.
const (
	viewerFocal = 0.5
	viewerNear  = 0.001
	viewerFar   = 10
	shotCount   = 200
)

// CameraLabel describes a candidate camera that can see the current sample
type CameraLabel struct {
	Index         int     // Position in the candidate list
	CosFromViewer float64 // Incidence proxy, 1 when the camera sits on the viewer axis
	Distance      float64 // Depth of the sample along the candidate's axis
	ViewX, ViewY  float64 // Candidate center in the viewer's NDC
}

// pairKey identifies a (main, side) pair; (i, i) marks i as a past main camera
type pairKey struct {
	main, side int
}

// PairMemory accumulates selection progress per camera pair
type PairMemory map[pairKey]float64

func (m PairMemory) markMain(i int) { m[pairKey{i, i}] = 1 }

func (m PairMemory) wasMain(i int) bool { return m[pairKey{i, i}] >= 1 }

func (m PairMemory) progress(main, side int) float64 { return m[pairKey{main, side}] }

// SelectorConfig configures CameraSelector
type SelectorConfig struct {
	Width     int     // Depth buffer width
	Height    int     // Depth buffer height
	Threshold float64 // Camera-pair threshold scalar
	Shots     int     // Sampling shots per call (default 200)
	Verbosity int
}

// DefaultSelectorConfig returns the stock sampling parameters
func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{Width: 640, Height: 480, Threshold: 1.0, Shots: shotCount}
}

// CameraSelector picks (main, side) camera pairs by sampling points on a mesh
// and weighting the cameras that can see each sample
type CameraSelector struct {
	config    SelectorConfig
	renderer  Renderer
	rng       *rand.Rand
	memory    PairMemory
	chosen    *ChosenCameraSet
	lastDepth *DepthBuffer
}

// NewCameraSelector creates a selector drawing from rng and rendering with renderer
func NewCameraSelector(cfg SelectorConfig, renderer Renderer, rng *rand.Rand) *CameraSelector {
	if cfg.Shots <= 0 {
		cfg.Shots = shotCount
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 1.0
	}
	return &CameraSelector{
		config:   cfg,
		renderer: renderer,
		rng:      rng,
		memory:   make(PairMemory),
		chosen:   NewChosenCameraSet(),
	}
}

// Chosen returns the pairs picked by the last ChooseCameras call
func (s *CameraSelector) Chosen() *ChosenCameraSet {
	return s.chosen
}

// LastDepth returns the depth buffer rendered for the most recent shot
func (s *CameraSelector) LastDepth() *DepthBuffer {
	return s.lastDepth
}

// ChooseCameras resets the pair memory and the chosen set, runs every
// sampling shot over mesh and returns the number of pairs committed
func (s *CameraSelector) ChooseCameras(m *Mesh, cameras []Mat4) int {
	s.memory = make(PairMemory)
	s.chosen.Reset()
	s.lastDepth = nil

	areas := areaTable(m)
	total := areas[len(areas)-1]
	if total <= 0 || len(cameras) < 2 {
		if s.config.Verbosity >= 1 {
			log.Printf("Choosing cameras: nothing to sample (area %.4g, %d cameras)", total, len(cameras))
		}
		return 0
	}

	s.renderer.LoadMesh(m)
	resolution := math.Sqrt(float64(len(cameras))) * float64(s.config.Width*s.config.Height) /
		(total * s.config.Threshold)

	pairs := 0
	for shot := 0; shot < s.config.Shots; shot++ {
		face := bisect(areas, s.rng.Float64()*total)
		viewer, ok := s.sampleViewer(m, face)
		if !ok {
			continue
		}

		depth := s.renderer.Depth(viewer)
		s.lastDepth = depth
		labels := filterCameras(viewer, depth, cameras)
		if len(labels) < 2 {
			continue
		}

		main, mainWeight := s.chooseMain(labels, s.config.Threshold)
		threshold := float64(s.config.Shots) * mainWeight / resolution
		side, ok := s.chooseSide(main, labels, threshold, s.config.Threshold/10)
		if !ok {
			continue
		}
		if s.chosen.Add(main.Index, side.Index) {
			pairs++
		}
	}
	s.chosen.Sort()

	if s.config.Verbosity >= 2 {
		log.Printf("Choosing cameras: %d pairs across %d main cameras", pairs, s.chosen.Len())
	}
	return pairs
}

// areaTable returns cumulative face areas with a leading zero
func areaTable(m *Mesh) []float64 {
	cum := make([]float64, len(m.Faces)+1)
	if len(m.Faces) == 0 {
		return cum
	}
	areas := make([]float64, len(m.Faces))
	for f := range m.Faces {
		areas[f] = m.FaceArea(f)
	}
	floats.CumSum(cum[1:], areas)
	return cum
}

// bisect returns the bucket i with cum[i] <= choice < cum[i+1], clamped to
// the last bucket
func bisect(cum []float64, choice float64) int {
	i := sort.Search(len(cum), func(i int) bool { return cum[i] > choice }) - 1
	if i < 0 {
		i = 0
	}
	if last := len(cum) - 2; i > last {
		i = last
	}
	return i
}

// sampleViewer draws a uniform point on face and builds a viewer camera
// there looking along the face normal
func (s *CameraSelector) sampleViewer(m *Mesh, face int) (Mat4, bool) {
	a, b, c := m.Corners(face)
	normal := b.Sub(a).Cross(c.Sub(b))
	if normal.Norm() == 0 {
		return Mat4{}, false
	}

	u1, u2 := s.rng.Float64(), s.rng.Float64()
	if u1+u2 > 1 {
		u1, u2 = 1-u1, 1-u2
	}
	center := a.Scale(u1).Add(b.Scale(u2)).Add(c.Scale(1 - u1 - u2))
	return ViewerCamera(center, normal.Normalized()), true
}

// ViewerCamera returns a projection centered at center whose optical axis
// is the unit normal n
func ViewerCamera(center, n Vec3) Mat4 {
	x, y, z := n[0], n[1], n[2]
	var rows [3]Vec3
	if xy := math.Hypot(x, y); xy > 0 {
		rows = [3]Vec3{
			{z * x / xy, z * y / xy, -xy},
			{-y / xy, x / xy, 0},
			{x, y, z},
		}
	} else {
		s := 1.0
		if z < 0 {
			s = -1
		}
		rows = [3]Vec3{{1, 0, 0}, {0, s, 0}, {0, 0, s}}
	}
	return Perspective(viewerFocal, viewerNear, viewerFar).Mul(RigidTransform(rows, center))
}

// filterCameras keeps the cameras whose centers are in front of the viewer,
// inside its image, unoccluded in depth and that see the viewer center
// inside their own image
func filterCameras(viewer Mat4, depth *DepthBuffer, cameras []Mat4) []CameraLabel {
	viewerCenter := CameraCenter(viewer)
	var labels []CameraLabel
	for i, cam := range cameras {
		cfv := viewer.Apply(CameraCenter(cam))
		if cfv[3] == 0 {
			continue
		}
		cfv = cfv.Scale(1 / cfv[3])
		if cfv[2] < -1 || cfv[2] > 1 {
			continue
		}
		row, col, ok := depth.Pixel(cfv[0], cfv[1])
		if !ok {
			continue
		}
		if obstacle := depth.At(row, col); obstacle != BackgroundDepth && obstacle <= cfv[2] {
			continue
		}

		vfc := cam.Apply(viewerCenter)
		distance := vfc[3] / viewerCenter[3]
		if distance <= 0 {
			continue
		}
		vx, vy := vfc[0]/vfc[3], vfc[1]/vfc[3]
		if vx < -1 || vx > 1 || vy < -1 || vy > 1 {
			continue
		}

		labels = append(labels, CameraLabel{
			Index:         i,
			CosFromViewer: math.Sqrt(1 / (1 + (cfv[0]*cfv[0]+cfv[1]*cfv[1])/(viewerFocal*viewerFocal))),
			Distance:      distance,
			ViewX:         cfv[0],
			ViewY:         cfv[1],
		})
	}
	return labels
}

// chooseMain draws a main camera weighted by cos/distance². Cameras already
// used as main get their weight multiplied by 1 + boost*len(labels). The
// returned sum excludes the boost.
func (s *CameraSelector) chooseMain(labels []CameraLabel, boost float64) (CameraLabel, float64) {
	if len(labels) == 0 {
		panic("chooseMain: no candidate cameras")
	}
	cum := make([]float64, len(labels)+1)
	var sum float64
	for i, l := range labels {
		w := l.CosFromViewer / (l.Distance * l.Distance)
		sum += w
		if s.memory.wasMain(l.Index) {
			w += w * boost * float64(len(labels))
		}
		cum[i+1] = cum[i] + w
	}
	return labels[bisect(cum, s.rng.Float64()*cum[len(labels)])], sum
}

// chooseSide draws a side camera for main weighted by cos*parallax²/distance²
// and advances that pair's progress by its share of the weight over
// threshold. The pair is returned once its progress first reaches 1.
func (s *CameraSelector) chooseSide(main CameraLabel, labels []CameraLabel, threshold, boost float64) (CameraLabel, bool) {
	if len(labels) < 2 {
		panic(fmt.Sprintf("chooseSide: %d candidate cameras, need at least 2", len(labels)))
	}
	others := make([]CameraLabel, 0, len(labels)-1)
	for _, l := range labels {
		if l.Index != main.Index {
			others = append(others, l)
		}
	}

	mainView := orb.Point{main.ViewX, main.ViewY}
	cum := make([]float64, len(others)+1)
	var sum float64
	for i, l := range others {
		parallax := planar.DistanceSquared(orb.Point{l.ViewX, l.ViewY}, mainView) / viewerFocal
		w := l.CosFromViewer * parallax / (l.Distance * l.Distance)
		sum += w
		if s.memory.progress(main.Index, l.Index) >= 1 {
			w += w * boost * float64(len(labels))
		}
		cum[i+1] = cum[i] + w
	}
	if cum[len(others)] <= 0 || sum <= 0 {
		return CameraLabel{}, false
	}

	pick := bisect(cum, s.rng.Float64()*cum[len(others)])
	side := others[pick]
	key := pairKey{main.Index, side.Index}
	if s.memory[key] >= 1 {
		return CameraLabel{}, false
	}
	s.memory.markMain(main.Index)
	s.memory[key] += (cum[pick+1] - cum[pick]) / (threshold * sum)
	if s.memory[key] >= 1 {
		return side, true
	}
	return CameraLabel{}, false
}
