/*
	Package server provides a small read-only web server for a built tile
	pyramid, so a WorldWide Telescope client can be pointed at a local
	build without staging it anywhere.
*/

package server

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/coocood/freecache"
	humanize "github.com/dustin/go-humanize"
	"github.com/rs/cors"
	"github.com/zenazn/goji/graceful"
	"github.com/zenazn/goji/web"

	"github.com/skytoast/skytoast/pyramid"
	"github.com/skytoast/skytoast/skytoast"
)

// Config describes one preview server.
type Config struct {
	// Address to listen on.  Empty means skytoast.DefaultWebAddress.
	Address string

	// Pyramid is the root directory of the pyramid to serve.  Required.
	Pyramid string

	// WTMLPath, when set, is served at /wtml.
	WTMLPath string

	// CorsOrigins restricts cross-origin access.  Empty allows any
	// origin, which is what a local WWT client needs.
	CorsOrigins []string

	// CacheMB sizes the in-memory tile cache.  0 means 64 MB.
	CacheMB int
}

type tileServer struct {
	store    *pyramid.Store
	wtmlPath string
	cache    *freecache.Cache
}

// Serve runs the preview server until SIGINT or SIGTERM.
func Serve(cfg Config) error {
	if cfg.Pyramid == "" {
		return fmt.Errorf("serve requires a pyramid directory")
	}
	store, err := pyramid.OpenStore(cfg.Pyramid, 0)
	if err != nil {
		return err
	}
	address := cfg.Address
	if address == "" {
		address = skytoast.DefaultWebAddress
	}
	cacheMB := cfg.CacheMB
	if cacheMB <= 0 {
		cacheMB = 64
	}

	ts := &tileServer{
		store:    store,
		wtmlPath: cfg.WTMLPath,
		cache:    freecache.NewCache(cacheMB * humanize.MiByte),
	}
	skytoast.Infof("Created freecache of ~ %d MB for tile serving.\n", cacheMB)

	mux := web.New()
	mux.Get("/wtml", ts.wtmlHandler)
	mux.Get("/:depth/:row/:file", ts.tileHandler)

	corsOptions := cors.Options{AllowedMethods: []string{"GET"}}
	if len(cfg.CorsOrigins) > 0 {
		corsOptions.AllowedOrigins = cfg.CorsOrigins
	} else {
		corsOptions.AllowedOrigins = []string{"*"}
	}
	handler := cors.New(corsOptions).Handler(mux)

	skytoast.Infof("Serving pyramid %s at %s ...\n", store.Root(), address)
	graceful.HandleSignals()
	if err := graceful.ListenAndServe(address, handler); err != nil {
		return fmt.Errorf("preview server stopped: %v", err)
	}
	graceful.Wait()
	return nil
}

func (ts *tileServer) wtmlHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	if ts.wtmlPath == "" {
		http.Error(w, "no WTML file configured", http.StatusNotFound)
		return
	}
	data, err := os.ReadFile(ts.wtmlPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("unable to read WTML: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Write(data)
}

// tileHandler serves one tile file.  The URL must match the pyramid's own
// {depth}/{row}/{row}_{column}.{ext} layout; anything else is rejected, so
// requests cannot escape the pyramid directory.
func (ts *tileServer) tileHandler(c web.C, w http.ResponseWriter, r *http.Request) {
	pos, ext, err := parseTileURL(c.URLParams["depth"], c.URLParams["row"], c.URLParams["file"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	key := []byte(fmt.Sprintf("%d/%d/%d.%s", pos.N, pos.Y, pos.X, ext))
	data, err := ts.cache.Get(key)
	if err != nil {
		if err != freecache.ErrNotFound {
			skytoast.Errorf("tile cache error for %s: %v\n", pos, err)
		}
		data, err = os.ReadFile(ts.store.TilePath(pos, ext))
		if os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			http.Error(w, fmt.Sprintf("unable to read tile: %v", err), http.StatusInternalServerError)
			return
		}
		if err := ts.cache.Set(key, data, 0); err != nil {
			skytoast.Debugf("could not cache tile %s: %v\n", pos, err)
		}
	}

	switch ext {
	case "png":
		w.Header().Set("Content-Type", "image/png")
	default:
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	w.Write(data)
}

func parseTileURL(depthStr, rowStr, file string) (pyramid.Pos, string, error) {
	var pos pyramid.Pos
	n, err := strconv.Atoi(depthStr)
	if err != nil {
		return pos, "", fmt.Errorf("bad tile depth %q", depthStr)
	}
	y, err := strconv.Atoi(rowStr)
	if err != nil {
		return pos, "", fmt.Errorf("bad tile row %q", rowStr)
	}
	ext := strings.TrimPrefix(filepath.Ext(file), ".")
	base := strings.TrimSuffix(file, filepath.Ext(file))
	parts := strings.SplitN(base, "_", 2)
	if len(parts) != 2 || parts[0] != rowStr || ext == "" {
		return pos, "", fmt.Errorf("bad tile filename %q", file)
	}
	x, err := strconv.Atoi(parts[1])
	if err != nil {
		return pos, "", fmt.Errorf("bad tile column in %q", file)
	}
	pos = pyramid.Pos{N: n, X: x, Y: y}
	if err := pos.Valid(); err != nil {
		return pos, "", err
	}
	return pos, ext, nil
}
