// Command-line interface to the skytoast pyramid builder.
// Provides the commands build, merge, wtml, thumbnail, pack, serve, about.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	humanize "github.com/dustin/go-humanize"

	"github.com/skytoast/skytoast/pyramid"
	"github.com/skytoast/skytoast/server"
	"github.com/skytoast/skytoast/skytoast"
	"github.com/skytoast/skytoast/toast"
)

var (
	// Display usage if true.
	showHelp = flag.Bool("help", false, "")

	// Run in verbose mode if true.
	runVerbose = flag.Bool("verbose", false, "")

	// Path to the optional TOML configuration file.
	configFile = flag.String("config", "", "")

	// Address for http communication with the preview server.
	httpAddress = flag.String("http", "", "")

	// WTML descriptor path for builds and serving.
	wtmlFile = flag.String("wtml", "", "")

	// Pyramid depth for commands not driven by a job spec.
	depth = flag.Int("depth", -1, "")

	// Number of concurrent sampling workers.
	workers = flag.Int("workers", 0, "")

	// Resume an interrupted build, skipping existing tiles.
	restart = flag.Bool("restart", false, "")

	// WTML descriptor field overrides.
	folderName = flag.String("folder", "", "")
	bandPass   = flag.String("bandpass", "", "")
	setName    = flag.String("name", "", "")
	credits    = flag.String("credits", "", "")
	creditsURL = flag.String("creditsurl", "", "")
	thumbURL   = flag.String("thumburl", "", "")
)

const helpMessage = `
skytoast builds TOAST tile pyramids of all-sky imagery for WorldWide Telescope

Usage: skytoast [options] <command>

      -config     =string   Path to TOML configuration file.
      -http       =string   Address for the preview web server.
      -wtml       =string   WTML descriptor path to write (build, wtml) or serve.
      -depth      =number   Pyramid depth for merge and wtml commands.
      -workers    =number   Concurrent sampling workers (1 or 4).
      -restart    (flag)    Resume an interrupted build, keeping existing tiles.
      -folder     =string   WTML FolderName field.
      -bandpass   =string   WTML BandPass field.
      -name       =string   WTML Name field.
      -credits    =string   WTML Credits field.
      -creditsurl =string   WTML CreditsUrl field.
      -thumburl   =string   WTML ThumbnailUrl field.
      -verbose    (flag)    Run in verbose mode.
  -h, -help       (flag)    Show help message

Commands:

	about
	help
	build     <job spec JSON file>
	merge     <base pyramid dir> <output pyramid dir>
	wtml      <pyramid URL or dir> <output WTML file>
	thumbnail <pyramid dir> <output image>
	pack      <pyramid dir> <output .tar.gz>
	serve     <pyramid dir>
`

var usage = func() {
	fmt.Printf(helpMessage)
}

func main() {
	flag.BoolVar(showHelp, "h", false, "")
	flag.Usage = usage
	flag.Parse()

	if *showHelp || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(0)
	}

	config := skytoast.DefaultConfig()
	if *configFile != "" {
		var err error
		config, err = skytoast.LoadConfig(*configFile)
		if err != nil {
			fmt.Printf("Unable to load config file %q: %v\n", *configFile, err)
			os.Exit(1)
		}
	}
	config.Logging.SetLogger()
	if *runVerbose {
		skytoast.Verbose = true
		skytoast.SetLogMode(skytoast.DebugMode)
	}
	if *workers > 0 {
		config.Build.Workers = *workers
	}

	command := flag.Arg(0)
	var err error
	switch command {
	case "help":
		flag.Usage()
	case "about":
		fmt.Printf("skytoast version %s\n", skytoast.Version)
		fmt.Printf("pyramid store format %s\n", pyramid.FormatVersion)
	case "build":
		err = doBuild(config, flag.Arg(1))
	case "merge":
		err = doMerge(config, flag.Arg(1), flag.Arg(2))
	case "wtml":
		err = doWTML(flag.Arg(1), flag.Arg(2))
	case "thumbnail":
		err = doThumbnail(flag.Arg(1), flag.Arg(2))
	case "pack":
		err = doPack(flag.Arg(1), flag.Arg(2))
	case "serve":
		err = doServe(config, flag.Arg(1))
	default:
		err = fmt.Errorf("unknown command %q; use 'skytoast help' for usage", command)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

// signalContext returns a context canceled by SIGINT or SIGTERM, so long
// builds stop between tiles and remain resumable with -restart.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func doBuild(config *skytoast.Config, specFile string) error {
	if specFile == "" {
		return fmt.Errorf("build requires a job spec file")
	}
	spec, err := toast.ReadJobSpec(specFile)
	if err != nil {
		return err
	}
	if spec.TileSize == 0 {
		spec.TileSize = config.Build.TileSize
	}
	if spec.Workers == 0 {
		spec.Workers = config.Build.Workers
	}
	if *restart {
		spec.Restart = true
	}
	cfg, err := spec.BuildConfig()
	if err != nil {
		return err
	}
	if config.Build.AbortOnWriteError {
		cfg.OnWriteError = toast.AbortOnFailure
	}
	if *wtmlFile != "" {
		cfg.WTMLPath = *wtmlFile
	}
	applyWTMLFlags(&cfg.WTML)

	ctx, cancel := signalContext()
	defer cancel()
	stats, err := toast.Build(ctx, cfg)
	reportStats(stats)
	return err
}

func doMerge(config *skytoast.Config, baseDir, outDir string) error {
	if baseDir == "" || outDir == "" {
		return fmt.Errorf("merge requires a base pyramid directory and an output directory")
	}
	if *depth < 0 {
		return fmt.Errorf("merge requires -depth, the depth of the existing base level")
	}
	base, err := pyramid.OpenStore(baseDir, config.Build.TileSize)
	if err != nil {
		return err
	}
	store, err := pyramid.NewStore(outDir, config.Build.TileSize)
	if err != nil {
		return err
	}
	cfg := toast.BuildConfig{
		Store:    store,
		Source:   toast.DirectorySource(base, "png"),
		Depth:    *depth,
		Merge:    true,
		TileSize: config.Build.TileSize,
		Workers:  config.Build.Workers,
		WTMLPath: *wtmlFile,
	}
	if config.Build.AbortOnWriteError {
		cfg.OnWriteError = toast.AbortOnFailure
	}
	applyWTMLFlags(&cfg.WTML)

	ctx, cancel := signalContext()
	defer cancel()
	stats, err := toast.Build(ctx, cfg)
	reportStats(stats)
	return err
}

func doWTML(baseURL, outFile string) error {
	if baseURL == "" || outFile == "" {
		return fmt.Errorf("wtml requires a pyramid URL and an output file")
	}
	if *depth < 0 {
		return fmt.Errorf("wtml requires -depth, the pyramid's depth")
	}
	var fields toast.WTMLFields
	applyWTMLFlags(&fields)
	wtml := toast.GenWTML(baseURL, *depth, fields)
	if err := os.WriteFile(outFile, []byte(wtml), 0755); err != nil {
		return fmt.Errorf("unable to write WTML file: %v", err)
	}
	fmt.Printf("Wrote WTML descriptor to %s\n", outFile)
	return nil
}

func doThumbnail(pyramidDir, outFile string) error {
	if pyramidDir == "" || outFile == "" {
		return fmt.Errorf("thumbnail requires a pyramid directory and an output image")
	}
	store, err := pyramid.OpenStore(pyramidDir, 0)
	if err != nil {
		return err
	}
	if err := toast.WriteThumbnail(store, outFile); err != nil {
		return err
	}
	fmt.Printf("Wrote %dx%d thumbnail to %s\n", toast.ThumbWidth, toast.ThumbHeight, outFile)
	return nil
}

func doServe(config *skytoast.Config, pyramidDir string) error {
	if pyramidDir == "" {
		return fmt.Errorf("serve requires a pyramid directory")
	}
	address := config.Serve.Address
	if *httpAddress != "" {
		address = *httpAddress
	}
	return server.Serve(server.Config{
		Address:     address,
		Pyramid:     pyramidDir,
		WTMLPath:    *wtmlFile,
		CorsOrigins: config.Serve.CorsOrigins,
		CacheMB:     config.Serve.CacheMB,
	})
}

func applyWTMLFlags(fields *toast.WTMLFields) {
	if *folderName != "" {
		fields.FolderName = *folderName
	}
	if *bandPass != "" {
		fields.BandPass = *bandPass
	}
	if *setName != "" {
		fields.Name = *setName
	}
	if *credits != "" {
		fields.Credits = *credits
	}
	if *creditsURL != "" {
		fields.CreditsUrl = *creditsURL
	}
	if *thumbURL != "" {
		fields.ThumbnailUrl = *thumbURL
	}
}

func reportStats(stats toast.BuildStats) {
	fmt.Printf("Wrote %s tiles in %s\n", humanize.Comma(stats.Written), stats.Elapsed)
	if stats.RestartSkips > 0 {
		fmt.Printf("Skipped %s tiles already present from an earlier run\n", humanize.Comma(stats.RestartSkips))
	}
	if stats.AbsentTiles > 0 {
		fmt.Printf("%s tiles had no data\n", humanize.Comma(stats.AbsentTiles))
	}
	if stats.WriteFailures > 0 {
		fmt.Printf("WARNING: %s tiles failed to write and were skipped\n", humanize.Comma(stats.WriteFailures))
	}
}
