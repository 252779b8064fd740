package toast

import (
	"fmt"
	"math"

	"github.com/skytoast/skytoast/pyramid"
	"github.com/skytoast/skytoast/skytoast"
)

// Sampler produces one tile image from per-pixel spherical coordinates.
// Returning a nil array with a nil error means the sampler has no data for
// any pixel of the tile; the pipeline treats such tiles as absent.
type Sampler func(g *Grid) (*skytoast.Array, error)

// Source supplies leaf tile images to the build pipeline.  Exactly one
// variant is set: a sampler callback, or a directory holding a previously
// built base level, in which case only the merge step runs.
type Source struct {
	sampler Sampler
	store   *pyramid.Store
	ext     string
}

// CallbackSource samples a dataset through the given function.
func CallbackSource(s Sampler) Source {
	return Source{sampler: s}
}

// DirectorySource reads base-level tiles from an existing pyramid
// directory.  Tiles without a file read as absent.
func DirectorySource(store *pyramid.Store, ext string) Source {
	return Source{store: store, ext: ext}
}

func (s Source) valid() bool {
	return s.sampler != nil || s.store != nil
}

// mergeOnly reports whether this source re-reads an existing base level
// instead of sampling.
func (s Source) mergeOnly() bool {
	return s.store != nil
}

// leafImage produces the image for one traversal tile.
func (s Source) leafImage(t Tile, size int) (*skytoast.Array, error) {
	if s.store != nil {
		return s.store.ReadImage(t.Pos, s.ext, pyramid.MissingNone)
	}
	g, err := t.SampleGrid(size)
	if err != nil {
		return nil, err
	}
	return s.sampler(g)
}

// PlateCarreeSampler samples an equirectangular all-sky image by nearest
// pixel.  Longitude 0 maps to the image's right edge and increases
// leftward per the usual sky map convention; latitude +pi/2 maps to the
// top row.  Output tiles share the source's dtype and channel count.
func PlateCarreeSampler(src *skytoast.Array) (Sampler, error) {
	if err := src.CheckShape(); err != nil {
		return nil, fmt.Errorf("bad source image: %v", err)
	}
	sx, sy := src.Width, src.Height
	return func(g *Grid) (*skytoast.Array, error) {
		var out *skytoast.Array
		if src.DType == skytoast.Float64 {
			out = skytoast.NewFloat64Array(g.Size, g.Size)
		} else {
			var err error
			out, err = skytoast.NewUint8Array(g.Size, g.Size, src.Channels)
			if err != nil {
				return nil, err
			}
		}
		for y := 0; y < g.Size; y++ {
			for x := 0; x < g.Size; x++ {
				ll := g.At(x, y)
				lon := math.Mod(ll.Lon, 2*math.Pi)
				if lon < 0 {
					lon += 2 * math.Pi
				}
				ix := int(float64(sx) * (1 - lon/(2*math.Pi)))
				if ix < 0 {
					ix = 0
				} else if ix >= sx {
					ix = sx - 1
				}
				iy := int(float64(sy) * (math.Pi/2 - ll.Lat) / math.Pi)
				if iy < 0 {
					iy = 0
				} else if iy >= sy {
					iy = sy - 1
				}
				if src.DType == skytoast.Float64 {
					out.SetF64(x, y, src.F64At(ix, iy))
				} else {
					for c := 0; c < src.Channels; c++ {
						out.SetU8(x, y, c, src.U8At(ix, iy, c))
					}
				}
			}
		}
		return out, nil
	}, nil
}

// ConstantSampler produces uniform single-channel tiles, useful for tests
// and timing runs.
func ConstantSampler(value uint8) Sampler {
	return func(g *Grid) (*skytoast.Array, error) {
		a, err := skytoast.NewUint8Array(g.Size, g.Size, 1)
		if err != nil {
			return nil, err
		}
		a.Fill(value)
		return a, nil
	}
}

// GradientSampler produces a grayscale latitude gradient, black at the
// south pole and white at the north pole.
func GradientSampler() Sampler {
	return func(g *Grid) (*skytoast.Array, error) {
		a, err := skytoast.NewUint8Array(g.Size, g.Size, 1)
		if err != nil {
			return nil, err
		}
		for y := 0; y < g.Size; y++ {
			for x := 0; x < g.Size; x++ {
				lat := g.At(x, y).Lat
				a.SetU8(x, y, 0, uint8(math.Round((lat+math.Pi/2)/math.Pi*255)))
			}
		}
		return a, nil
	}
}
