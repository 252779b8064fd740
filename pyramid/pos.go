// Package pyramid defines tile addressing within a TOAST tile pyramid and
// the on-disk layout of generated tiles.
//
// A pyramid is a quadtree of fixed-size tiles.  Depth 0 holds the single
// root tile; each deeper level quadruples the tile count, with 2^n columns
// and rows at depth n.  Tiles are stored one file per tile under
// "{depth}/{row}/{row}_{column}.{ext}".
package pyramid

import "fmt"

// Pos addresses one tile: depth N with column X and row Y.
type Pos struct {
	N int
	X int
	Y int
}

func (p Pos) String() string {
	return fmt.Sprintf("(depth %d, x %d, y %d)", p.N, p.X, p.Y)
}

// Valid returns an error if the coordinates fall outside the depth's grid.
func (p Pos) Valid() error {
	if p.N < 0 {
		return fmt.Errorf("tile depth cannot be negative: %s", p)
	}
	side := 1 << uint(p.N)
	if p.X < 0 || p.X >= side || p.Y < 0 || p.Y >= side {
		return fmt.Errorf("tile coordinates out of range for depth %d: %s", p.N, p)
	}
	return nil
}

// Quadrant identifies a child's position within its parent's 2x2 block.
type Quadrant uint8

const (
	TopLeft Quadrant = iota
	TopRight
	BottomLeft
	BottomRight
)

func (q Quadrant) String() string {
	switch q {
	case TopLeft:
		return "top left"
	case TopRight:
		return "top right"
	case BottomLeft:
		return "bottom left"
	case BottomRight:
		return "bottom right"
	default:
		return "unknown quadrant"
	}
}

// Children returns the four tiles within p at the next depth, ordered
// top-left, top-right, bottom-left, bottom-right.
func (p Pos) Children() [4]Pos {
	n, x, y := p.N+1, 2*p.X, 2*p.Y
	return [4]Pos{
		{n, x, y},
		{n, x + 1, y},
		{n, x, y + 1},
		{n, x + 1, y + 1},
	}
}

// Parent returns the tile containing p at the previous depth along with
// p's quadrant within that parent.  The root tile has no parent.
func (p Pos) Parent() (Pos, Quadrant, error) {
	if p.N < 1 {
		return Pos{}, 0, fmt.Errorf("cannot take parent of tile %s", p)
	}
	parent := Pos{p.N - 1, p.X / 2, p.Y / 2}
	q := Quadrant(p.X%2 + 2*(p.Y%2))
	return parent, q, nil
}

// IsSubtile returns true if deeper lies within the subtree rooted at
// shallower.  Positions at equal depth are subtiles only of themselves.
// It is an error for deeper to be above shallower.
func IsSubtile(deeper, shallower Pos) (bool, error) {
	if deeper.N < shallower.N {
		return false, fmt.Errorf("tile %s is shallower than %s", deeper, shallower)
	}
	for deeper.N > shallower.N {
		deeper = Pos{deeper.N - 1, deeper.X / 2, deeper.Y / 2}
	}
	return deeper == shallower, nil
}

// DepthTiles returns the total number of tiles in a pyramid of the given
// depth, counting every level from the root down: (4^(depth+1) - 1) / 3.
func DepthTiles(depth int) int64 {
	return (int64(1)<<uint(2*(depth+1)) - 1) / 3
}
