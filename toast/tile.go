/*
	Package toast implements the TOAST projection scheme and tile pyramid
	generation: spherical quadtree geometry, pruned deepest-first traversal,
	and the sampling/merge pipeline that materializes tiles on disk.

	TOAST maps the whole sky onto a quadtree.  Depth 1 divides the sphere
	into four tiles along an octahedral decomposition; every deeper level
	splits each tile into four children at the great-circle midpoints of its
	edges.  The diagonal used for the center point alternates between the
	two depth-1 tile families, tracked by the Increasing flag.
*/

package toast

import (
	"fmt"
	"math"

	"github.com/skytoast/skytoast/pyramid"
)

// LonLat is a point on the unit sphere: longitude and latitude in radians.
type LonLat struct {
	Lon float64
	Lat float64
}

// Tile pairs a pyramid position with the spherical coordinates of its
// four corners.  Corners are ordered upper-left, upper-right, lower-right,
// lower-left in tile image orientation.  Increasing records which diagonal
// splits the tile's quad into triangles, and is inherited by children.
type Tile struct {
	Pos            pyramid.Pos
	UL, UR, LR, LL LonLat
	Increasing     bool
}

func deg(lon, lat float64) LonLat {
	return LonLat{lon * math.Pi / 180, lat * math.Pi / 180}
}

// The four depth-1 tiles of the octahedral decomposition.  Corner tables
// give (lon, lat) in degrees for upper-left, upper-right, lower-right,
// lower-left.
var baseTiles = [4]Tile{
	{Pos: pyramid.Pos{N: 1, X: 0, Y: 0}, UL: deg(0, -90), UR: deg(90, 0), LR: deg(0, 90), LL: deg(180, 0), Increasing: true},
	{Pos: pyramid.Pos{N: 1, X: 1, Y: 0}, UL: deg(90, 0), UR: deg(0, -90), LR: deg(0, 0), LL: deg(0, 90), Increasing: false},
	{Pos: pyramid.Pos{N: 1, X: 1, Y: 1}, UL: deg(0, 90), UR: deg(0, 0), LR: deg(0, -90), LL: deg(270, 0), Increasing: true},
	{Pos: pyramid.Pos{N: 1, X: 0, Y: 1}, UL: deg(180, 0), UR: deg(0, 90), LR: deg(270, 0), LL: deg(0, -90), Increasing: false},
}

// BaseTiles returns the four depth-1 TOAST tiles covering the sphere.
func BaseTiles() [4]Tile {
	return baseTiles
}

// midpoint returns the midpoint of two points along their great circle.
func midpoint(a, b LonLat) LonLat {
	x1 := math.Cos(a.Lat) * math.Cos(a.Lon)
	y1 := math.Cos(a.Lat) * math.Sin(a.Lon)
	z1 := math.Sin(a.Lat)
	x2 := math.Cos(b.Lat) * math.Cos(b.Lon)
	y2 := math.Cos(b.Lat) * math.Sin(b.Lon)
	z2 := math.Sin(b.Lat)

	// The sum of the two unit vectors points at the midpoint; atan2 does
	// not care about its length.
	x, y, z := x1+x2, y1+y2, z1+z2
	return LonLat{
		Lon: math.Atan2(y, x),
		Lat: math.Atan2(z, math.Hypot(x, y)),
	}
}

// center returns the tile's central point, using the diagonal selected by
// the increasing flag.
func center(ul, ur, lr, ll LonLat, increasing bool) LonLat {
	if increasing {
		return midpoint(ll, ur)
	}
	return midpoint(ul, lr)
}

// Subdivide returns the four child tiles at the next depth, ordered
// upper-left, upper-right, lower-left, lower-right.  Edge midpoints are
// great-circle midpoints and the center point lies on the diagonal chosen
// by Increasing.
func (t Tile) Subdivide() [4]Tile {
	to := midpoint(t.UL, t.UR)
	ri := midpoint(t.UR, t.LR)
	bo := midpoint(t.LR, t.LL)
	le := midpoint(t.LL, t.UL)
	ce := center(t.UL, t.UR, t.LR, t.LL, t.Increasing)

	n, x, y := t.Pos.N+1, 2*t.Pos.X, 2*t.Pos.Y
	return [4]Tile{
		{Pos: pyramid.Pos{N: n, X: x, Y: y}, UL: t.UL, UR: to, LR: ce, LL: le, Increasing: t.Increasing},
		{Pos: pyramid.Pos{N: n, X: x + 1, Y: y}, UL: to, UR: t.UR, LR: ri, LL: ce, Increasing: t.Increasing},
		{Pos: pyramid.Pos{N: n, X: x, Y: y + 1}, UL: le, UR: ce, LR: bo, LL: t.LL, Increasing: t.Increasing},
		{Pos: pyramid.Pos{N: n, X: x + 1, Y: y + 1}, UL: ce, UR: ri, LR: t.LR, LL: bo, Increasing: t.Increasing},
	}
}

// Grid holds the spherical coordinates of every pixel of a tile, row major
// with the first row at the tile's top edge.
type Grid struct {
	Size int
	Lon  []float64
	Lat  []float64
}

// SampleGrid computes per-pixel coordinates for this tile at the given
// resolution by subdividing the tile's quad down to single pixels with the
// same diagonal convention as Subdivide.  Each pixel takes the center point
// of its smallest containing quad.  Resolution must be a power of two.
func (t Tile) SampleGrid(resolution int) (*Grid, error) {
	if resolution < 1 || resolution&(resolution-1) != 0 {
		return nil, fmt.Errorf("tile resolution must be a power of two, got %d", resolution)
	}
	g := &Grid{
		Size: resolution,
		Lon:  make([]float64, resolution*resolution),
		Lat:  make([]float64, resolution*resolution),
	}
	fillGrid(g, t.UL, t.UR, t.LR, t.LL, 0, 0, resolution, t.Increasing)
	return g, nil
}

func fillGrid(g *Grid, ul, ur, lr, ll LonLat, x0, y0, n int, increasing bool) {
	if n == 1 {
		ce := center(ul, ur, lr, ll, increasing)
		i := y0*g.Size + x0
		g.Lon[i] = ce.Lon
		g.Lat[i] = ce.Lat
		return
	}
	to := midpoint(ul, ur)
	ri := midpoint(ur, lr)
	bo := midpoint(lr, ll)
	le := midpoint(ll, ul)
	ce := center(ul, ur, lr, ll, increasing)

	n2 := n / 2
	fillGrid(g, ul, to, ce, le, x0, y0, n2, increasing)
	fillGrid(g, to, ur, ri, ce, x0+n2, y0, n2, increasing)
	fillGrid(g, le, ce, bo, ll, x0, y0+n2, n2, increasing)
	fillGrid(g, ce, ri, lr, bo, x0+n2, y0+n2, n2, increasing)
}

// At returns the coordinates of pixel (x, y).
func (g *Grid) At(x, y int) LonLat {
	i := y*g.Size + x
	return LonLat{g.Lon[i], g.Lat[i]}
}
