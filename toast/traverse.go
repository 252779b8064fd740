package toast

import "context"

// Filter decides whether traversal keeps a tile.  Rejecting a tile prunes
// its whole subtree, so filters must be monotonic: a filter that rejects a
// tile must reject all of its descendants.
type Filter func(Tile) bool

// Visitor processes one tile during traversal.  Returning an error stops
// the traversal and propagates the error.
type Visitor func(Tile) error

// TraverseOptions configure a pyramid walk.
type TraverseOptions struct {
	// Depth is the deepest level to descend to.  Tiles below it are never
	// generated.  The depth-0 root is not part of traversal; a depth of 0
	// therefore visits nothing.
	Depth int

	// BottomOnly suppresses visits for tiles above Depth.  The walk still
	// descends through them.
	BottomOnly bool

	// Filter prunes subtrees.  Nil accepts everything.
	Filter Filter
}

// Generate walks the four base tiles in deepest-first (postfix) order,
// calling visit for every tile that survives depth and filter checks.
// Each such tile is visited exactly once.  Children are visited in the
// fixed order upper-left, upper-right, lower-left, lower-right, all before
// their parent.  Cancellation is checked between visits.
func Generate(ctx context.Context, opts TraverseOptions, visit Visitor) error {
	for _, base := range BaseTiles() {
		if err := generateSubtree(ctx, base, opts, visit); err != nil {
			return err
		}
	}
	return nil
}

type traverseFrame struct {
	tile     Tile
	expanded bool
}

// generateSubtree walks one subtree with an explicit stack, avoiding
// recursion so the walk depth is bounded by Depth regardless of pyramid
// size.
func generateSubtree(ctx context.Context, root Tile, opts TraverseOptions, visit Visitor) error {
	filter := opts.Filter
	if filter == nil {
		filter = func(Tile) bool { return true }
	}

	stack := make([]traverseFrame, 0, 4*opts.Depth+1)
	stack = append(stack, traverseFrame{tile: root})

	for len(stack) > 0 {
		i := len(stack) - 1
		if !stack[i].expanded {
			t := stack[i].tile
			if t.Pos.N > opts.Depth || !filter(t) {
				stack = stack[:i]
				continue
			}
			stack[i].expanded = true
			if t.Pos.N < opts.Depth {
				children := t.Subdivide()
				// Reverse push so the upper-left child pops first.
				for c := 3; c >= 0; c-- {
					stack = append(stack, traverseFrame{tile: children[c]})
				}
			}
			continue
		}

		t := stack[i].tile
		stack = stack[:i]
		if t.Pos.N == opts.Depth || !opts.BottomOnly {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := visit(t); err != nil {
				return err
			}
		}
	}
	return nil
}
