package toast

import (
	"math"
	"testing"

	"github.com/skytoast/skytoast/pyramid"
)

func TestSubtreeFilterLeaves(t *testing.T) {
	region := pyramid.Pos{N: 2, X: 1, Y: 3}
	tiles := collectTiles(t, TraverseOptions{
		Depth:      3,
		BottomOnly: true,
		Filter:     SubtreeFilter(region),
	})
	want := make(map[pyramid.Pos]bool)
	for _, child := range region.Children() {
		want[child] = true
	}
	if len(tiles) != len(want) {
		t.Errorf("subtree traversal yielded %d leaves, want %d\n", len(tiles), len(want))
	}
	for _, tile := range tiles {
		if !want[tile.Pos] {
			t.Errorf("tile %s is not a descendant of %s\n", tile.Pos, region)
		}
		delete(want, tile.Pos)
	}
	for pos := range want {
		t.Errorf("descendant %s was not yielded\n", pos)
	}
}

func TestSubtreeFilterAncestors(t *testing.T) {
	// Without bottom-only, the traversal also yields the region itself
	// and the ancestors leading down to it.
	region := pyramid.Pos{N: 2, X: 1, Y: 3}
	tiles := collectTiles(t, TraverseOptions{
		Depth:  3,
		Filter: SubtreeFilter(region),
	})
	want := map[pyramid.Pos]bool{
		{N: 1, X: 0, Y: 1}: true,
		region:             true,
	}
	for _, child := range region.Children() {
		want[child] = true
	}
	if len(tiles) != len(want) {
		t.Errorf("subtree traversal yielded %d tiles, want %d\n", len(tiles), len(want))
	}
	for _, tile := range tiles {
		if !want[tile.Pos] {
			t.Errorf("unexpected tile %s in subtree traversal\n", tile.Pos)
		}
	}
}

func TestCoordRangeFilterFullSky(t *testing.T) {
	// Base tile (1,1,1) has non-pole corner longitudes 0 and 3pi/2.
	// That span exceeds pi, so the filter treats it as straddling the
	// RA = 0 seam and applies the inverted overlap test, which rejects
	// any window reaching into the span between its corners.  A
	// full-sky window therefore accepts only the three base tiles
	// whose corner spans stay within pi.
	filter := CoordRangeFilter([2]float64{0, 2 * math.Pi}, [2]float64{-math.Pi / 2, math.Pi / 2})
	want := map[pyramid.Pos]bool{
		{N: 1, X: 0, Y: 0}: true,
		{N: 1, X: 1, Y: 0}: true,
		{N: 1, X: 1, Y: 1}: false,
		{N: 1, X: 0, Y: 1}: true,
	}
	for _, base := range BaseTiles() {
		if got := filter(base); got != want[base.Pos] {
			t.Errorf("full-sky filter on base tile %s = %v, want %v\n", base.Pos, got, want[base.Pos])
		}
	}
}

func TestCoordRangeFilterDec(t *testing.T) {
	// A tile confined to the northern sky is rejected by a southern
	// declination window.
	tile := Tile{
		Pos: pyramid.Pos{N: 3, X: 0, Y: 0},
		UL:  deg(10, 40), UR: deg(20, 40), LR: deg(20, 60), LL: deg(10, 60),
	}
	rad := math.Pi / 180
	north := CoordRangeFilter([2]float64{0, 2 * math.Pi}, [2]float64{30 * rad, 90 * rad})
	south := CoordRangeFilter([2]float64{0, 2 * math.Pi}, [2]float64{-90 * rad, -30 * rad})
	if !north(tile) {
		t.Errorf("northern window rejected a northern tile\n")
	}
	if south(tile) {
		t.Errorf("southern window accepted a northern tile\n")
	}
}

func TestCoordRangeFilterSeam(t *testing.T) {
	// Corner longitudes of -5 and +5 degrees span more than pi once
	// shifted to [0, 2pi), marking a tile that straddles the RA = 0 seam.
	tile := Tile{
		Pos: pyramid.Pos{N: 3, X: 0, Y: 0},
		UL:  deg(-5, -10), UR: deg(5, -10), LR: deg(5, 10), LL: deg(-5, 10),
	}
	rad := math.Pi / 180
	dec := [2]float64{-math.Pi / 2, math.Pi / 2}

	nearSeam := CoordRangeFilter([2]float64{0, 2 * rad}, dec)
	if !nearSeam(tile) {
		t.Errorf("window at the seam rejected a seam-straddling tile\n")
	}
	opposite := CoordRangeFilter([2]float64{170 * rad, 190 * rad}, dec)
	if opposite(tile) {
		t.Errorf("window opposite the seam accepted a seam-straddling tile\n")
	}
}

func TestIsSubtilePrecondition(t *testing.T) {
	if _, err := pyramid.IsSubtile(pyramid.Pos{N: 1, X: 0, Y: 0}, pyramid.Pos{N: 2, X: 0, Y: 0}); err == nil {
		t.Errorf("expected error comparing a shallower tile against a deeper one\n")
	}
}
