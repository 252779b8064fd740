package toast

import (
	"math"
	"testing"

	"github.com/skytoast/skytoast/pyramid"
)

func TestBaseTiles(t *testing.T) {
	bases := BaseTiles()
	wantPos := [4]pyramid.Pos{
		{N: 1, X: 0, Y: 0},
		{N: 1, X: 1, Y: 0},
		{N: 1, X: 1, Y: 1},
		{N: 1, X: 0, Y: 1},
	}
	wantIncreasing := [4]bool{true, false, true, false}
	for i, base := range bases {
		if base.Pos != wantPos[i] {
			t.Errorf("base tile %d at %s, want %s\n", i, base.Pos, wantPos[i])
		}
		if base.Increasing != wantIncreasing[i] {
			t.Errorf("base tile %d increasing = %v, want %v\n", i, base.Increasing, wantIncreasing[i])
		}
	}

	// The first base tile runs from the south pole (upper left) to the
	// north pole (lower right).
	if bases[0].UL.Lat != -math.Pi/2 {
		t.Errorf("base tile 0 UL latitude = %g, want -pi/2\n", bases[0].UL.Lat)
	}
	if bases[0].LR.Lat != math.Pi/2 {
		t.Errorf("base tile 0 LR latitude = %g, want pi/2\n", bases[0].LR.Lat)
	}
}

func closeTo(a, b float64) bool {
	return math.Abs(a-b) < 1e-12
}

func TestMidpoint(t *testing.T) {
	// Equatorial midpoint halves the longitude difference.
	m := midpoint(LonLat{0, 0}, LonLat{math.Pi / 2, 0})
	if !closeTo(m.Lon, math.Pi/4) || !closeTo(m.Lat, 0) {
		t.Errorf("equatorial midpoint = (%g, %g), want (pi/4, 0)\n", m.Lon, m.Lat)
	}

	// A midpoint across the +-pi seam lands on the seam instead of
	// averaging the angles to zero.
	m = midpoint(deg(170, 0), deg(-170, 0))
	if !closeTo(math.Abs(m.Lon), math.Pi) || !closeTo(m.Lat, 0) {
		t.Errorf("seam midpoint = (%g, %g), want lon +-pi on the equator\n", m.Lon, m.Lat)
	}

	// Meridional midpoint halves the latitude difference.
	m = midpoint(LonLat{0, 0}, LonLat{0, math.Pi / 2})
	if !closeTo(m.Lon, 0) || !closeTo(m.Lat, math.Pi/4) {
		t.Errorf("meridional midpoint = (%g, %g), want (0, pi/4)\n", m.Lon, m.Lat)
	}
}

func TestSubdividePositions(t *testing.T) {
	for _, base := range BaseTiles() {
		children := base.Subdivide()
		wantPos := base.Pos.Children()
		for i, child := range children {
			if child.Pos != wantPos[i] {
				t.Errorf("child %d of %s at %s, want %s\n", i, base.Pos, child.Pos, wantPos[i])
			}
			if child.Increasing != base.Increasing {
				t.Errorf("child %d of %s did not inherit increasing flag\n", i, base.Pos)
			}
		}
	}
}

func TestSubdivideSharedCorners(t *testing.T) {
	tile := BaseTiles()[0]
	children := tile.Subdivide()

	// Siblings share edge midpoints and the center point exactly.
	if children[0].UR != children[1].UL {
		t.Errorf("top edge midpoint differs between top children\n")
	}
	if children[0].LL != children[2].UL {
		t.Errorf("left edge midpoint differs between left children\n")
	}
	if children[0].LR != children[1].LL || children[0].LR != children[2].UR ||
		children[0].LR != children[3].UL {
		t.Errorf("center point differs between children\n")
	}

	// Parent corners carry through unchanged.
	if children[0].UL != tile.UL || children[1].UR != tile.UR ||
		children[3].LR != tile.LR || children[2].LL != tile.LL {
		t.Errorf("parent corners not preserved in children\n")
	}
}

func TestSubdivideCenterDiagonal(t *testing.T) {
	for _, tile := range BaseTiles() {
		children := tile.Subdivide()
		var want LonLat
		if tile.Increasing {
			want = midpoint(tile.LL, tile.UR)
		} else {
			want = midpoint(tile.UL, tile.LR)
		}
		if children[0].LR != want {
			t.Errorf("center of %s = %v, want diagonal midpoint %v\n", tile.Pos, children[0].LR, want)
		}
	}
}

func TestSampleGridResolution(t *testing.T) {
	tile := BaseTiles()[0]
	for _, bad := range []int{0, 3, 100, -4} {
		if _, err := tile.SampleGrid(bad); err == nil {
			t.Errorf("expected error for resolution %d\n", bad)
		}
	}
	g, err := tile.SampleGrid(8)
	if err != nil {
		t.Fatalf("error sampling grid: %v\n", err)
	}
	if g.Size != 8 || len(g.Lon) != 64 || len(g.Lat) != 64 {
		t.Errorf("grid has size %d with %d/%d coords, want 8 with 64 each\n",
			g.Size, len(g.Lon), len(g.Lat))
	}
}

func TestSampleGridMatchesSubdivision(t *testing.T) {
	// A pixel of a resolution-2 grid is the center of the corresponding
	// child tile, which is that child's own resolution-1 grid.
	tile := BaseTiles()[2]
	g2, err := tile.SampleGrid(2)
	if err != nil {
		t.Fatalf("error sampling grid: %v\n", err)
	}
	order := [4][2]int{{0, 0}, {1, 0}, {0, 1}, {1, 1}}
	for i, child := range tile.Subdivide() {
		g1, err := child.SampleGrid(1)
		if err != nil {
			t.Fatalf("error sampling child grid: %v\n", err)
		}
		x, y := order[i][0], order[i][1]
		if g2.At(x, y) != g1.At(0, 0) {
			t.Errorf("grid pixel (%d, %d) = %v, want child center %v\n",
				x, y, g2.At(x, y), g1.At(0, 0))
		}
	}
}
