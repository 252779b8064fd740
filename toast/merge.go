package toast

import (
	"fmt"
	"sync"

	"github.com/DmitriyVTitov/size"

	"github.com/skytoast/skytoast/pyramid"
	"github.com/skytoast/skytoast/skytoast"
)

// MergeFunc reduces a 2Nx2N mosaic of four child tiles into the NxN parent
// tile.  The result must keep the mosaic's dtype and channel count at half
// its resolution.  A panic inside a MergeFunc on a well-formed mosaic is a
// bug in the caller's reducer and is not recovered.
type MergeFunc func(mosaic *skytoast.Array) *skytoast.Array

// DefaultMerge averages each 2x2 pixel group.  uint8 averages truncate
// toward zero; float64 averages propagate NaN.
func DefaultMerge(mosaic *skytoast.Array) *skytoast.Array {
	w, h := mosaic.Width/2, mosaic.Height/2
	switch mosaic.DType {
	case skytoast.Uint8:
		out, err := skytoast.NewUint8Array(w, h, mosaic.Channels)
		if err != nil {
			return nil
		}
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				for c := 0; c < mosaic.Channels; c++ {
					sum := int(mosaic.U8At(2*x, 2*y, c)) +
						int(mosaic.U8At(2*x+1, 2*y, c)) +
						int(mosaic.U8At(2*x, 2*y+1, c)) +
						int(mosaic.U8At(2*x+1, 2*y+1, c))
					out.SetU8(x, y, c, uint8(sum/4))
				}
			}
		}
		return out
	case skytoast.Float64:
		out := skytoast.NewFloat64Array(w, h)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				sum := mosaic.F64At(2*x, 2*y) +
					mosaic.F64At(2*x+1, 2*y) +
					mosaic.F64At(2*x, 2*y+1) +
					mosaic.F64At(2*x+1, 2*y+1)
				out.SetF64(x, y, sum/4)
			}
		}
		return out
	default:
		return nil
	}
}

// quadrants collects the four children of one parent tile.  A child can
// arrive absent (nil array), which is tracked separately from not yet
// arrived.
type quadrants struct {
	imgs    [4]*skytoast.Array
	arrived [4]bool
	count   int
}

// accumulator buffers child tiles until all four quadrants of a parent
// have arrived.  Entries are owned by one pipeline run and all reachable
// parents complete before the run finishes, so a normal run ends with the
// accumulator empty.
type accumulator struct {
	mu      sync.Mutex
	entries map[pyramid.Pos]*quadrants
	slots   int
}

func newAccumulator() *accumulator {
	return &accumulator{entries: make(map[pyramid.Pos]*quadrants)}
}

// add registers a child image under its parent's entry.  When the fourth
// quadrant arrives, the entry is removed from the accumulator and
// returned; otherwise nil.  Each quadrant may arrive only once.
func (a *accumulator) add(parent pyramid.Pos, q pyramid.Quadrant, img *skytoast.Array) (*quadrants, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e := a.entries[parent]
	if e == nil {
		e = &quadrants{}
		a.entries[parent] = e
	}
	if e.arrived[q] {
		return nil, fmt.Errorf("tile %s received its %s child twice", parent, q)
	}
	e.arrived[q] = true
	e.imgs[q] = img
	e.count++
	a.slots++
	if e.count < 4 {
		return nil, nil
	}
	delete(a.entries, parent)
	a.slots -= 4
	return e, nil
}

// slotCount returns the number of buffered child slots across live entries.
func (a *accumulator) slotCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.slots
}

// memoryUsage approximates the bytes held by buffered entries.
func (a *accumulator) memoryUsage() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return size.Of(a.entries)
}

// reduceQuadrants assembles a completed quadrant set into a 2x2 mosaic and
// applies the merge function.  Four absent children produce an absent
// parent; otherwise absent children are zero-filled to match the shape of
// the present ones, which must agree.
func reduceQuadrants(e *quadrants, merge MergeFunc) (*skytoast.Array, error) {
	var template *skytoast.Array
	for _, img := range e.imgs {
		if img != nil {
			template = img
			break
		}
	}
	if template == nil {
		return nil, nil
	}
	for i, img := range e.imgs {
		if img == nil {
			e.imgs[i] = template.ZeroLike()
		} else if !img.SameShape(template) {
			return nil, fmt.Errorf("merge quadrants disagree on shape: %s %dx%dx%d vs %s %dx%dx%d",
				template.DType, template.Width, template.Height, template.Channels,
				img.DType, img.Width, img.Height, img.Channels)
		}
	}
	mosaic, err := assembleMosaic(e.imgs)
	if err != nil {
		return nil, err
	}
	if merge == nil {
		merge = DefaultMerge
	}
	out := merge(mosaic)
	if out == nil {
		return nil, fmt.Errorf("merge function returned no tile")
	}
	if !out.SameShape(template) {
		return nil, fmt.Errorf("merge function returned %s %dx%dx%d tile, want %s %dx%dx%d",
			out.DType, out.Width, out.Height, out.Channels,
			template.DType, template.Width, template.Height, template.Channels)
	}
	return out, nil
}

// assembleMosaic lays four same-shaped child arrays into one 2x2 block:
// top-left and top-right across the top half, bottom-left and bottom-right
// across the bottom.
func assembleMosaic(imgs [4]*skytoast.Array) (*skytoast.Array, error) {
	w, h, ch := imgs[0].Width, imgs[0].Height, imgs[0].Channels
	var mosaic *skytoast.Array
	if imgs[0].DType == skytoast.Uint8 {
		var err error
		mosaic, err = skytoast.NewUint8Array(2*w, 2*h, ch)
		if err != nil {
			return nil, err
		}
	} else {
		mosaic = skytoast.NewFloat64Array(2*w, 2*h)
	}
	offsets := [4][2]int{
		pyramid.TopLeft:     {0, 0},
		pyramid.TopRight:    {w, 0},
		pyramid.BottomLeft:  {0, h},
		pyramid.BottomRight: {w, h},
	}
	for q, img := range imgs {
		ox, oy := offsets[q][0], offsets[q][1]
		for y := 0; y < h; y++ {
			if mosaic.DType == skytoast.Uint8 {
				src := img.U8[y*w*ch : (y+1)*w*ch]
				dst := ((oy+y)*2*w + ox) * ch
				copy(mosaic.U8[dst:dst+w*ch], src)
			} else {
				src := img.F64[y*w : (y+1)*w]
				dst := (oy+y)*2*w + ox
				copy(mosaic.F64[dst:dst+w], src)
			}
		}
	}
	return mosaic, nil
}
