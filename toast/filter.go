package toast

import (
	"math"

	"github.com/skytoast/skytoast/pyramid"
)

// CoordRangeFilter returns a filter that accepts tiles whose corner
// bounding box overlaps the given right ascension and declination ranges,
// each as [min, max] in radians.  The RA extent of a tile ignores corners
// sitting exactly on a pole, where longitude is meaningless.  A corner
// span wider than pi means the tile straddles the RA = 0 seam and the
// overlap test inverts.
func CoordRangeFilter(raRange, decRange [2]float64) Filter {
	return func(t Tile) bool {
		minRa, maxRa := math.Inf(1), math.Inf(-1)
		minDec, maxDec := math.Inf(1), math.Inf(-1)
		for _, c := range [4]LonLat{t.UL, t.UR, t.LR, t.LL} {
			if c.Lat < minDec {
				minDec = c.Lat
			}
			if c.Lat > maxDec {
				maxDec = c.Lat
			}
			if math.Abs(c.Lat) == math.Pi/2 {
				continue
			}
			lon := c.Lon
			if lon < 0 {
				lon += 2 * math.Pi
			}
			if lon < minRa {
				minRa = lon
			}
			if lon > maxRa {
				maxRa = lon
			}
		}

		if decRange[0] > maxDec || decRange[1] < minDec {
			return false
		}
		if maxRa-minRa > math.Pi { // tile crosses the RA seam
			if raRange[0] < maxRa && raRange[1] > minRa {
				return false
			}
		} else {
			if raRange[0] > maxRa || raRange[1] < minRa {
				return false
			}
		}
		return true
	}
}

// SubtreeFilter returns a filter that restricts traversal to the subtree
// rooted at region, plus the ancestors leading down to it.  Tiles at or
// above the region's depth pass only if they contain the region; deeper
// tiles always pass, since traversal pruning already confines them to the
// region's subtree.
func SubtreeFilter(region pyramid.Pos) Filter {
	return func(t Tile) bool {
		if t.Pos.N > region.N {
			return true
		}
		ok, err := pyramid.IsSubtile(region, t.Pos)
		if err != nil {
			return false
		}
		return ok
	}
}
