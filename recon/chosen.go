package recon

import (
	"encoding/json"
	"sort"
)

// NoCamera terminates every ChosenCameraSet traversal
const NoCamera = -1

// CameraBundle is a main camera and the side cameras paired with it
type CameraBundle struct {
	Main  int   `json:"main"`
	Sides []int `json:"sides"`
}

// ChosenCameraSet collects the (main, side) pairs picked for one refinement
// phase. Bundles are kept sorted by main index once Sort has run; side lists
// keep insertion order.
type ChosenCameraSet struct {
	bundles []CameraBundle
	byMain  map[int]int // main index -> position in bundles
	mainPos int
	sidePos int
}

// NewChosenCameraSet creates an empty set
func NewChosenCameraSet() *ChosenCameraSet {
	return &ChosenCameraSet{byMain: make(map[int]int)}
}

// ChosenFromBundles rebuilds a sorted set from published bundles
func ChosenFromBundles(bundles []CameraBundle) *ChosenCameraSet {
	c := NewChosenCameraSet()
	for _, b := range bundles {
		for _, side := range b.Sides {
			c.Add(b.Main, side)
		}
	}
	c.Sort()
	return c
}

// Reset removes every bundle and rewinds the cursor
func (c *ChosenCameraSet) Reset() {
	c.bundles = nil
	c.byMain = make(map[int]int)
	c.mainPos, c.sidePos = 0, 0
}

// Add records side under main. It returns false if the pair was already present.
func (c *ChosenCameraSet) Add(main, side int) bool {
	pos, ok := c.byMain[main]
	if !ok {
		pos = len(c.bundles)
		c.byMain[main] = pos
		c.bundles = append(c.bundles, CameraBundle{Main: main})
	}
	for _, s := range c.bundles[pos].Sides {
		if s == side {
			return false
		}
	}
	c.bundles[pos].Sides = append(c.bundles[pos].Sides, side)
	return true
}

// Sort orders bundles by ascending main index
func (c *ChosenCameraSet) Sort() {
	sort.Slice(c.bundles, func(i, j int) bool { return c.bundles[i].Main < c.bundles[j].Main })
	for i, b := range c.bundles {
		c.byMain[b.Main] = i
	}
}

// Len returns the number of main cameras
func (c *ChosenCameraSet) Len() int {
	return len(c.bundles)
}

// Pairs returns the total number of (main, side) pairs
func (c *ChosenCameraSet) Pairs() int {
	n := 0
	for _, b := range c.bundles {
		n += len(b.Sides)
	}
	return n
}

// Bundles returns a copy of the bundles in their current order
func (c *ChosenCameraSet) Bundles() []CameraBundle {
	out := make([]CameraBundle, len(c.bundles))
	for i, b := range c.bundles {
		out[i] = CameraBundle{Main: b.Main, Sides: append([]int(nil), b.Sides...)}
	}
	return out
}

// Sides returns the side list of main, or nil when main was never chosen
func (c *ChosenCameraSet) Sides(main int) []int {
	pos, ok := c.byMain[main]
	if !ok {
		return nil
	}
	return append([]int(nil), c.bundles[pos].Sides...)
}

// BeginMain rewinds the cursor and returns the first main index
func (c *ChosenCameraSet) BeginMain() int {
	c.mainPos = 0
	return c.currentMain()
}

// NextMain advances to the next main index
func (c *ChosenCameraSet) NextMain() int {
	if c.mainPos < len(c.bundles) {
		c.mainPos++
	}
	return c.currentMain()
}

// BeginSide returns the first side of main. It returns NoCamera when main is
// not the main under the cursor.
func (c *ChosenCameraSet) BeginSide(main int) int {
	if c.currentMain() != main || main == NoCamera {
		return NoCamera
	}
	c.sidePos = 0
	return c.currentSide()
}

// NextSide returns the next side of main, or NoCamera when exhausted or
// when main is not the main under the cursor
func (c *ChosenCameraSet) NextSide(main int) int {
	if c.currentMain() != main || main == NoCamera {
		return NoCamera
	}
	if c.sidePos < len(c.bundles[c.mainPos].Sides) {
		c.sidePos++
	}
	return c.currentSide()
}

func (c *ChosenCameraSet) currentMain() int {
	if c.mainPos >= len(c.bundles) {
		return NoCamera
	}
	return c.bundles[c.mainPos].Main
}

func (c *ChosenCameraSet) currentSide() int {
	sides := c.bundles[c.mainPos].Sides
	if c.sidePos >= len(sides) {
		return NoCamera
	}
	return sides[c.sidePos]
}

// MarshalJSON encodes the bundles as a JSON array
func (c *ChosenCameraSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Bundles())
}
