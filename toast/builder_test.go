package toast

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"sync/atomic"
	"testing"

	"github.com/skytoast/skytoast/pyramid"
	"github.com/skytoast/skytoast/skytoast"
)

// leafValueSampler returns a float64 sampler whose tiles are uniformly
// valued 100*n + 10*x + y for tile (n, x, y), so aggregated values can be
// checked by direct computation.  Tiles are recognized by their first grid
// coordinate, which is unique per tile.
func leafValueSampler(t *testing.T, depth, tileSize int) Sampler {
	keys := make(map[LonLat]pyramid.Pos)
	err := Generate(context.Background(), TraverseOptions{Depth: depth, BottomOnly: true},
		func(tile Tile) error {
			g, err := tile.SampleGrid(tileSize)
			if err != nil {
				return err
			}
			keys[g.At(0, 0)] = tile.Pos
			return nil
		})
	if err != nil {
		t.Fatalf("error precomputing leaf keys: %v\n", err)
	}
	return func(g *Grid) (*skytoast.Array, error) {
		pos, found := keys[g.At(0, 0)]
		if !found {
			return nil, fmt.Errorf("sampler got a grid for an unknown tile")
		}
		a := skytoast.NewFloat64Array(g.Size, g.Size)
		v := float64(100*pos.N + 10*pos.X + pos.Y)
		for i := range a.F64 {
			a.F64[i] = v
		}
		return a, nil
	}
}

func newTestStore(t *testing.T, tileSize int) *pyramid.Store {
	store, err := pyramid.NewStore(t.TempDir(), tileSize)
	if err != nil {
		t.Fatalf("error creating store: %v\n", err)
	}
	return store
}

func TestEndToEndAggregation(t *testing.T) {
	const tileSize = 4
	store := newTestStore(t, tileSize)
	stats, err := Build(context.Background(), BuildConfig{
		Store:    store,
		Source:   CallbackSource(leafValueSampler(t, 2, tileSize)),
		Depth:    2,
		Merge:    true,
		TileSize: tileSize,
		Ext:      "dat",
	})
	if err != nil {
		t.Fatalf("build error: %v\n", err)
	}
	if want := pyramid.DepthTiles(2); stats.Written != want {
		t.Errorf("build wrote %d tiles, want %d\n", stats.Written, want)
	}

	// Upper-left corner values survive uniform-block averaging, so the
	// level-1 tile (1,0,0) carries its four leaf constants one per
	// quadrant.
	lvl1, err := store.ReadImage(pyramid.Pos{N: 1, X: 0, Y: 0}, "dat", pyramid.MissingNone)
	if err != nil {
		t.Fatalf("error reading level 1 tile: %v\n", err)
	}
	if lvl1 == nil {
		t.Fatalf("level 1 tile missing\n")
	}
	corners := map[[2]int]float64{
		{0, 0}: 200, // leaf (2,0,0)
		{3, 0}: 210, // leaf (2,1,0)
		{0, 3}: 201, // leaf (2,0,1)
		{3, 3}: 211, // leaf (2,1,1)
	}
	for px, want := range corners {
		if got := lvl1.F64At(px[0], px[1]); got != want {
			t.Errorf("level 1 pixel (%d, %d) = %g, want %g\n", px[0], px[1], got, want)
		}
	}

	root, err := store.ReadImage(pyramid.Pos{N: 0, X: 0, Y: 0}, "dat", pyramid.MissingNone)
	if err != nil {
		t.Fatalf("error reading root tile: %v\n", err)
	}
	if root == nil {
		t.Fatalf("root tile missing\n")
	}
	if got := root.F64At(0, 0); got != 200 {
		t.Errorf("root corner pixel = %g, want 200\n", got)
	}

	// The root mean equals the mean of the 16 leaf constants, since all
	// reductions average uniform blocks exactly.
	var sum, wantSum float64
	for _, v := range root.F64 {
		sum += v
	}
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			wantSum += float64(200 + 10*x + y)
		}
	}
	mean := sum / float64(len(root.F64))
	wantMean := wantSum / 16
	if math.Abs(mean-wantMean) > 1e-9 {
		t.Errorf("root mean = %g, want %g\n", mean, wantMean)
	}
}

func TestRestartSkipsSampling(t *testing.T) {
	const tileSize = 4
	store := newTestStore(t, tileSize)

	prior, err := skytoast.NewUint8Array(tileSize, tileSize, 1)
	if err != nil {
		t.Fatalf("error creating array: %v\n", err)
	}
	prior.Fill(77)
	if err := store.WriteImage(pyramid.Pos{N: 2, X: 0, Y: 0}, prior, "png"); err != nil {
		t.Fatalf("error seeding prior tile: %v\n", err)
	}

	var invocations int64
	sampler := func(g *Grid) (*skytoast.Array, error) {
		atomic.AddInt64(&invocations, 1)
		return ConstantSampler(100)(g)
	}
	stats, err := Build(context.Background(), BuildConfig{
		Store:    store,
		Source:   CallbackSource(sampler),
		Depth:    2,
		Merge:    true,
		Restart:  true,
		TileSize: tileSize,
	})
	if err != nil {
		t.Fatalf("build error: %v\n", err)
	}
	if invocations != 15 {
		t.Errorf("sampler invoked %d times, want 15 with one tile preexisting\n", invocations)
	}
	if stats.RestartSkips != 1 {
		t.Errorf("build skipped %d tiles, want 1\n", stats.RestartSkips)
	}

	// The skipped leaf is absent during merging, so its quadrant of the
	// parent is zero-filled while the sampled siblings come through.
	parent, err := store.ReadImage(pyramid.Pos{N: 1, X: 0, Y: 0}, "png", pyramid.MissingNone)
	if err != nil {
		t.Fatalf("error reading parent tile: %v\n", err)
	}
	if got := parent.U8At(0, 0, 0); got != 0 {
		t.Errorf("zero-filled quadrant pixel = %d, want 0\n", got)
	}
	if got := parent.U8At(tileSize-1, tileSize-1, 0); got != 100 {
		t.Errorf("sampled quadrant pixel = %d, want 100\n", got)
	}
}

func TestBaseOnly(t *testing.T) {
	store := newTestStore(t, 4)
	stats, err := Build(context.Background(), BuildConfig{
		Store:    store,
		Source:   CallbackSource(ConstantSampler(50)),
		Depth:    2,
		BaseOnly: true,
		TileSize: 4,
	})
	if err != nil {
		t.Fatalf("build error: %v\n", err)
	}
	if stats.Written != 16 {
		t.Errorf("base-only build wrote %d tiles, want 16\n", stats.Written)
	}
	if store.HasTile(pyramid.Pos{N: 1, X: 0, Y: 0}, "png") {
		t.Errorf("base-only build produced a level 1 tile\n")
	}
	if store.HasTile(pyramid.Pos{N: 0, X: 0, Y: 0}, "png") {
		t.Errorf("base-only build produced a root tile\n")
	}
}

func TestMergeDisabledSamplesEveryLevel(t *testing.T) {
	var invocations int64
	sampler := func(g *Grid) (*skytoast.Array, error) {
		atomic.AddInt64(&invocations, 1)
		return ConstantSampler(50)(g)
	}
	store := newTestStore(t, 4)
	stats, err := Build(context.Background(), BuildConfig{
		Store:    store,
		Source:   CallbackSource(sampler),
		Depth:    2,
		Merge:    false,
		TileSize: 4,
	})
	if err != nil {
		t.Fatalf("build error: %v\n", err)
	}
	// Levels 1 and 2 are sampled directly; only the root is reduced.
	if invocations != 20 {
		t.Errorf("sampler invoked %d times, want 20\n", invocations)
	}
	if want := pyramid.DepthTiles(2); stats.Written != want {
		t.Errorf("build wrote %d tiles, want %d\n", stats.Written, want)
	}
	if !store.HasTile(pyramid.Pos{N: 0, X: 0, Y: 0}, "png") {
		t.Errorf("root tile missing with merging disabled\n")
	}
}

func TestTopStopsAggregation(t *testing.T) {
	store := newTestStore(t, 4)
	stats, err := Build(context.Background(), BuildConfig{
		Store:    store,
		Source:   CallbackSource(ConstantSampler(50)),
		Depth:    2,
		Merge:    true,
		Top:      1,
		TileSize: 4,
	})
	if err != nil {
		t.Fatalf("build error: %v\n", err)
	}
	if stats.Written != 20 {
		t.Errorf("build wrote %d tiles, want 20 with aggregation stopped at level 1\n", stats.Written)
	}
	if store.HasTile(pyramid.Pos{N: 0, X: 0, Y: 0}, "png") {
		t.Errorf("root tile generated past the top level\n")
	}
}

func TestMergeOnlyFromDirectory(t *testing.T) {
	const tileSize = 4
	base := newTestStore(t, tileSize)
	if _, err := Build(context.Background(), BuildConfig{
		Store:    base,
		Source:   CallbackSource(leafValueSampler(t, 2, tileSize)),
		Depth:    2,
		BaseOnly: true,
		TileSize: tileSize,
		Ext:      "dat",
	}); err != nil {
		t.Fatalf("base build error: %v\n", err)
	}

	out := newTestStore(t, tileSize)
	stats, err := Build(context.Background(), BuildConfig{
		Store:    out,
		Source:   DirectorySource(base, "dat"),
		Depth:    2,
		Merge:    true,
		TileSize: tileSize,
		Ext:      "dat",
	})
	if err != nil {
		t.Fatalf("merge build error: %v\n", err)
	}
	if want := pyramid.DepthTiles(2); stats.Written != want {
		t.Errorf("merge build wrote %d tiles, want %d\n", stats.Written, want)
	}
	root, err := out.ReadImage(pyramid.Pos{N: 0, X: 0, Y: 0}, "dat", pyramid.MissingNone)
	if err != nil || root == nil {
		t.Fatalf("root tile missing after merge-only build: %v\n", err)
	}
	if got := root.F64At(0, 0); got != 200 {
		t.Errorf("root corner pixel = %g, want 200\n", got)
	}
}

func TestParallelMatchesSequential(t *testing.T) {
	const tileSize = 8
	sequential := newTestStore(t, tileSize)
	parallel := newTestStore(t, tileSize)
	for _, run := range []struct {
		store   *pyramid.Store
		workers int
	}{
		{sequential, 1},
		{parallel, 4},
	} {
		if _, err := Build(context.Background(), BuildConfig{
			Store:    run.store,
			Source:   CallbackSource(GradientSampler()),
			Depth:    2,
			Merge:    true,
			TileSize: tileSize,
			Workers:  run.workers,
		}); err != nil {
			t.Fatalf("build with %d workers: %v\n", run.workers, err)
		}
	}

	err := Generate(context.Background(), TraverseOptions{Depth: 2}, func(tile Tile) error {
		a, err := os.ReadFile(sequential.TilePath(tile.Pos, "png"))
		if err != nil {
			return fmt.Errorf("sequential tile %s: %v", tile.Pos, err)
		}
		b, err := os.ReadFile(parallel.TilePath(tile.Pos, "png"))
		if err != nil {
			return fmt.Errorf("parallel tile %s: %v", tile.Pos, err)
		}
		if !bytes.Equal(a, b) {
			return fmt.Errorf("tile %s differs between sequential and parallel builds", tile.Pos)
		}
		return nil
	})
	if err != nil {
		t.Errorf("%v\n", err)
	}
}

// TestAccumulatorBound relies on the sequential pipeline's internal check,
// which fails the build if buffered children ever exceed 4 * depth.
func TestAccumulatorBound(t *testing.T) {
	store := newTestStore(t, 4)
	stats, err := Build(context.Background(), BuildConfig{
		Store:    store,
		Source:   CallbackSource(ConstantSampler(10)),
		Depth:    3,
		Merge:    true,
		TileSize: 4,
	})
	if err != nil {
		t.Fatalf("build error: %v\n", err)
	}
	if want := pyramid.DepthTiles(3); stats.Written != want {
		t.Errorf("build wrote %d tiles, want %d\n", stats.Written, want)
	}
}

func TestWTMLWrittenBeforeTiles(t *testing.T) {
	store := newTestStore(t, 4)
	wtmlPath := store.Root() + "/test.wtml"
	failing := func(g *Grid) (*skytoast.Array, error) {
		return nil, fmt.Errorf("no data source")
	}
	_, err := Build(context.Background(), BuildConfig{
		Store:    store,
		Source:   CallbackSource(failing),
		Depth:    1,
		Merge:    true,
		TileSize: 4,
		WTMLPath: wtmlPath,
	})
	if err == nil {
		t.Fatalf("expected build to fail with a failing sampler\n")
	}
	if _, serr := os.Stat(wtmlPath); serr != nil {
		t.Errorf("WTML descriptor not written before processing: %v\n", serr)
	}
}

func TestBuildValidation(t *testing.T) {
	store := newTestStore(t, 4)
	src := CallbackSource(ConstantSampler(1))
	bad := map[string]BuildConfig{
		"no store":           {Source: src, Depth: 1},
		"no source":          {Store: store, Depth: 1},
		"negative depth":     {Store: store, Source: src, Depth: -1},
		"top past depth":     {Store: store, Source: src, Depth: 2, Top: 3},
		"odd tile size":      {Store: store, Source: src, Depth: 1, TileSize: 100},
		"unsupported format": {Store: store, Source: src, Depth: 1, Ext: "jpg"},
	}
	for name, cfg := range bad {
		if _, err := Build(context.Background(), cfg); err == nil {
			t.Errorf("%s: expected validation error\n", name)
		}
	}
}

func TestCancelledBuildStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var invocations int64
	sampler := func(g *Grid) (*skytoast.Array, error) {
		if atomic.AddInt64(&invocations, 1) == 3 {
			cancel()
		}
		return ConstantSampler(5)(g)
	}
	store := newTestStore(t, 4)
	_, err := Build(ctx, BuildConfig{
		Store:    store,
		Source:   CallbackSource(sampler),
		Depth:    3,
		Merge:    true,
		TileSize: 4,
	})
	if err != context.Canceled {
		t.Errorf("canceled build returned %v, want context.Canceled\n", err)
	}
	if n := atomic.LoadInt64(&invocations); n >= 64 {
		t.Errorf("build sampled %d tiles after cancellation\n", n)
	}
}
