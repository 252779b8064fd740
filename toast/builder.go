package toast

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/twinj/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/skytoast/skytoast/pyramid"
	"github.com/skytoast/skytoast/skytoast"
)

// FailurePolicy selects how the builder reacts when writing a tile fails.
type FailurePolicy uint8

const (
	// SkipFailed logs the failure, counts it, and keeps going.
	SkipFailed FailurePolicy = iota

	// AbortOnFailure stops the build with the write error.
	AbortOnFailure
)

// BuildConfig describes one pyramid build.
type BuildConfig struct {
	// Store receives the generated tiles.  Required.
	Store *pyramid.Store

	// Source supplies base-level images.  Required.
	Source Source

	// Depth is the deepest pyramid level to build; level n holds 4^n
	// tiles.  A depth of 0 still samples level 1 and merges it into the
	// root, which is the only tile written.
	Depth int

	// Merge generates tiles above the base level by downsampling their
	// four children.  When false, the source is consulted directly for
	// every level, except the root, which is always downsampled from
	// level 1.
	Merge bool

	// MergeFunc replaces the default block-average reduction and implies
	// Merge.
	MergeFunc MergeFunc

	// BaseOnly builds only the deepest level, with no aggregation.
	BaseOnly bool

	// Top stops upward aggregation at this level instead of at the root.
	Top int

	// Restart skips sampling for tiles whose file already exists in
	// Store, resuming an interrupted build.  Skipped tiles count as
	// absent during merging, so their ancestors should already exist too.
	Restart bool

	// Filter prunes traversal.  Nil builds the whole sky.
	Filter Filter

	// TileSize is the tile resolution in pixels, a power of two.
	// 0 means 256.
	TileSize int

	// Ext selects the tile file format: "png" for uint8 tiles or "dat"
	// for the serialized float64 format.  Empty means "png".
	Ext string

	// Workers above 1 sample the four base subtrees concurrently.
	Workers int

	// OnWriteError selects skip-and-count or abort behavior for tile
	// write failures.
	OnWriteError FailurePolicy

	// WTMLPath, when set, writes the WTML descriptor there before any
	// tile is generated.
	WTMLPath string

	// WTMLBaseURL is the pyramid URL recorded in the descriptor.  Empty
	// means the store's root path.
	WTMLBaseURL string

	// WTML overrides individual descriptor fields.
	WTML WTMLFields
}

// BuildStats reports what a build did.
type BuildStats struct {
	// Written counts tiles stored.
	Written int64

	// WriteFailures counts tiles that failed to write and were skipped
	// under the SkipFailed policy.
	WriteFailures int64

	// RestartSkips counts base tiles whose file already existed.
	RestartSkips int64

	// AbsentTiles counts tiles that produced no image and so were not
	// written, including restart-skipped leaves.
	AbsentTiles int64

	Elapsed time.Duration
}

type emission struct {
	pos pyramid.Pos
	img *skytoast.Array
}

type pipeline struct {
	cfg          BuildConfig
	clampedDepth int
	merging      bool
	tileSize     int
	ext          string
	maxSlots     int // 0 disables the accumulator bound check
	acc          *accumulator
	emit         func(pyramid.Pos, *skytoast.Array) error

	restartSkips int64
	absent       int64
}

// Build generates a tile pyramid per the config.  The context cancels the
// build between tiles; a canceled build's partial output can be resumed
// with the Restart flag.
func Build(ctx context.Context, cfg BuildConfig) (BuildStats, error) {
	var stats BuildStats
	if cfg.Store == nil {
		return stats, fmt.Errorf("build requires a destination store")
	}
	if !cfg.Source.valid() {
		return stats, fmt.Errorf("build requires a tile source")
	}
	if cfg.Depth < 0 {
		return stats, fmt.Errorf("build depth cannot be negative: %d", cfg.Depth)
	}
	clamped := cfg.Depth
	if clamped < 1 {
		clamped = 1
	}
	if cfg.Top < 0 || cfg.Top > clamped {
		return stats, fmt.Errorf("top level %d outside buildable range [0, %d]", cfg.Top, clamped)
	}
	tileSize := cfg.TileSize
	if tileSize == 0 {
		tileSize = skytoast.DefaultTileSize
	}
	if tileSize < 1 || tileSize&(tileSize-1) != 0 {
		return stats, fmt.Errorf("tile size must be a power of two, got %d", tileSize)
	}
	ext := cfg.Ext
	if ext == "" {
		ext = "png"
	}
	if ext != "png" && ext != "dat" {
		return stats, fmt.Errorf("unknown tile format %q, want png or dat", ext)
	}

	runID := uuid.NewV4().String()
	start := time.Now()
	tlog := skytoast.NewTimeLog()
	skytoast.Infof("starting build %s: depth %d pyramid into %s\n", runID, cfg.Depth, cfg.Store.Root())

	if cfg.WTMLPath != "" {
		baseURL := cfg.WTMLBaseURL
		if baseURL == "" {
			baseURL = cfg.Store.Root()
		}
		wtml := GenWTML(baseURL, cfg.Depth, cfg.WTML)
		if err := os.WriteFile(cfg.WTMLPath, []byte(wtml), 0755); err != nil {
			return stats, fmt.Errorf("unable to write WTML file: %v", err)
		}
	}

	p := &pipeline{
		cfg:          cfg,
		clampedDepth: clamped,
		merging:      cfg.Merge || cfg.MergeFunc != nil || cfg.BaseOnly,
		tileSize:     tileSize,
		ext:          ext,
		acc:          newAccumulator(),
	}

	total := pyramid.DepthTiles(cfg.Depth)
	var emitted int64
	writeTile := func(pos pyramid.Pos, img *skytoast.Array) error {
		if err := cfg.Store.WriteImage(pos, img, ext); err != nil {
			if cfg.OnWriteError == AbortOnFailure {
				return err
			}
			skytoast.Errorf("build %s: skipping tile %s: %v\n", runID, pos, err)
			stats.WriteFailures++
			return nil
		}
		stats.Written++
		emitted++
		if emitted%10 == 0 {
			skytoast.Infof("Finished %s of %s tiles\n", humanize.Comma(emitted), humanize.Comma(total))
		}
		if skytoast.Verbose && emitted%1000 == 0 {
			skytoast.Debugf("build %s: %s buffered in merge accumulator\n",
				runID, humanize.Bytes(uint64(p.acc.memoryUsage())))
		}
		return nil
	}

	var err error
	if cfg.Workers <= 1 {
		p.maxSlots = 4 * clamped
		p.emit = writeTile
		err = Generate(ctx, p.traverseOptions(), p.process)
	} else {
		err = p.runParallel(ctx, writeTile)
	}

	stats.RestartSkips = atomic.LoadInt64(&p.restartSkips)
	stats.AbsentTiles = atomic.LoadInt64(&p.absent)
	stats.Elapsed = time.Since(start)
	if err != nil {
		return stats, err
	}
	tlog.Infof("build %s wrote %s tiles", runID, humanize.Comma(stats.Written))
	return stats, nil
}

func (p *pipeline) traverseOptions() TraverseOptions {
	return TraverseOptions{
		Depth:      p.clampedDepth,
		BottomOnly: p.merging,
		Filter:     p.cfg.Filter,
	}
}

// runParallel samples the four base subtrees concurrently.  A single
// writer goroutine owns all store writes; emissions funnel through a
// channel so the workers only block on sampling and channel sends.
func (p *pipeline) runParallel(ctx context.Context, writeTile func(pyramid.Pos, *skytoast.Array) error) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	emissions := make(chan emission, 16)
	p.emit = func(pos pyramid.Pos, img *skytoast.Array) error {
		select {
		case emissions <- emission{pos, img}:
			return nil
		case <-gctx.Done():
			return gctx.Err()
		}
	}

	writerErr := make(chan error, 1)
	go func() {
		var failed error
		for e := range emissions {
			if failed != nil {
				continue // drain remaining emissions after abort
			}
			if err := writeTile(e.pos, e.img); err != nil {
				failed = err
				cancel()
			}
		}
		writerErr <- failed
	}()

	bases := BaseTiles()
	for i := range bases {
		base := bases[i]
		g.Go(func() error {
			return generateSubtree(gctx, base, p.traverseOptions(), p.process)
		})
	}
	err := g.Wait()
	close(emissions)
	if werr := <-writerErr; werr != nil {
		// The write failure is the root cause; workers only saw the
		// cancellation it triggered.
		return werr
	}
	return err
}

// process handles one traversal tile: resolve its image, then either emit
// it directly (base-only mode) or feed it into upward aggregation.
func (p *pipeline) process(t Tile) error {
	img, err := p.resolve(t)
	if err != nil {
		return err
	}
	if p.cfg.BaseOnly {
		if img == nil {
			atomic.AddInt64(&p.absent, 1)
			return nil
		}
		return p.emit(t.Pos, img)
	}
	return p.trickleUp(t.Pos, img)
}

func (p *pipeline) resolve(t Tile) (*skytoast.Array, error) {
	if p.cfg.Source.mergeOnly() {
		return p.cfg.Source.leafImage(t, p.tileSize)
	}
	if p.cfg.Restart && p.cfg.Store.HasTile(t.Pos, p.ext) {
		atomic.AddInt64(&p.restartSkips, 1)
		return nil, nil
	}
	return p.cfg.Source.leafImage(t, p.tileSize)
}

// trickleUp propagates a finished tile toward the root.  The tile is
// emitted if it lies within the requested depth, then registered under its
// parent; the fourth registration completes the parent, which recurses.
// Absent tiles still register so parents complete, and a parent whose four
// children are all absent is itself absent.
func (p *pipeline) trickleUp(pos pyramid.Pos, img *skytoast.Array) error {
	for {
		if p.maxSlots > 0 {
			if n := p.acc.slotCount(); n > p.maxSlots {
				return fmt.Errorf("merge accumulator holds %d children, over the %d limit", n, p.maxSlots)
			}
		}

		if pos.N <= p.cfg.Depth {
			if img != nil {
				if err := p.emit(pos, img); err != nil {
					return err
				}
			} else {
				atomic.AddInt64(&p.absent, 1)
			}
		}

		if pos.N == p.cfg.Top {
			return nil
		}
		if !p.merging && pos.N > 1 {
			return nil
		}

		parent, q, err := pos.Parent()
		if err != nil {
			return err
		}
		done, err := p.acc.add(parent, q, img)
		if err != nil {
			return err
		}
		if done == nil {
			return nil
		}
		merged, err := reduceQuadrants(done, p.mergeFunc())
		if err != nil {
			return err
		}
		pos, img = parent, merged
	}
}

func (p *pipeline) mergeFunc() MergeFunc {
	// A nil MergeFunc selects the default reduction in reduceQuadrants.
	// With merging disabled the root is still reduced from level 1.
	return p.cfg.MergeFunc
}
