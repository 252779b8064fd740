package pyramid

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/blang/semver"
	"github.com/twinj/uuid"

	"github.com/skytoast/skytoast/skytoast"
)

// FormatVersion is the semantic version of the on-disk store layout.
// Stores with a different major version are rejected.
const FormatVersion = "1.0.0"

const metaFilename = "meta.toml"

// MissingPolicy selects what ReadImage returns for a tile with no file.
type MissingPolicy uint8

const (
	// MissingNone returns a nil array for missing tiles.
	MissingNone MissingPolicy = iota

	// MissingZeroRGB returns a zeroed 3-channel uint8 array.
	MissingZeroRGB

	// MissingZeroRGBA returns a zeroed 4-channel uint8 array.
	MissingZeroRGBA

	// MissingNaN returns a NaN-filled float64 array.
	MissingNaN
)

type storeMeta struct {
	Format  string
	Created string
}

// Store is an image-per-tile pyramid rooted at a directory.  Tile files are
// laid out as "{depth}/{row}/{row}_{column}.{ext}" beneath the root, the
// path scheme WorldWide Telescope expects.  Writes go through a temp file
// in the destination directory and a rename, so a tile file is either fully
// present or absent.
type Store struct {
	root     string
	tileSize int
}

// NewStore opens a pyramid directory for writing, creating it if needed.
// A new directory gets a meta.toml recording the layout version; an
// existing one must carry a compatible version.
func NewStore(root string, tileSize int) (*Store, error) {
	if tileSize <= 0 {
		tileSize = skytoast.DefaultTileSize
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("unable to create pyramid directory %q: %v", root, err)
	}
	s := &Store{root: root, tileSize: tileSize}
	metaPath := filepath.Join(root, metaFilename)
	if _, err := os.Stat(metaPath); os.IsNotExist(err) {
		meta := storeMeta{Format: FormatVersion, Created: time.Now().Format(time.RFC3339)}
		f, err := os.OpenFile(metaPath, os.O_WRONLY|os.O_CREATE, 0755)
		if err != nil {
			return nil, fmt.Errorf("unable to write %s: %v", metaFilename, err)
		}
		werr := toml.NewEncoder(f).Encode(meta)
		cerr := f.Close()
		if werr != nil {
			return nil, fmt.Errorf("unable to encode %s: %v", metaFilename, werr)
		}
		if cerr != nil {
			return nil, cerr
		}
		return s, nil
	}
	if err := s.checkFormat(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenStore opens an existing pyramid directory read-only.  Directories
// without a meta.toml are accepted so pyramids produced by other tools can
// be read.
func OpenStore(root string, tileSize int) (*Store, error) {
	if tileSize <= 0 {
		tileSize = skytoast.DefaultTileSize
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("unable to open pyramid directory %q: %v", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("pyramid path %q is not a directory", root)
	}
	s := &Store{root: root, tileSize: tileSize}
	if _, err := os.Stat(filepath.Join(root, metaFilename)); err == nil {
		if err := s.checkFormat(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) checkFormat() error {
	var meta storeMeta
	metaPath := filepath.Join(s.root, metaFilename)
	if _, err := toml.DecodeFile(metaPath, &meta); err != nil {
		return fmt.Errorf("unable to read %s: %v", metaPath, err)
	}
	got, err := semver.Make(meta.Format)
	if err != nil {
		return fmt.Errorf("bad format version %q in %s: %v", meta.Format, metaPath, err)
	}
	want, err := semver.Make(FormatVersion)
	if err != nil {
		return fmt.Errorf("bad store format version %q: %v", FormatVersion, err)
	}
	if got.Major != want.Major {
		return fmt.Errorf("pyramid store %q has incompatible format %s, this build understands %s",
			s.root, got, want)
	}
	return nil
}

// Root returns the pyramid root directory.
func (s *Store) Root() string {
	return s.root
}

// TileSize returns the pixel resolution used for placeholder arrays.
func (s *Store) TileSize() int {
	return s.tileSize
}

// TilePath returns the file path for a tile with the given extension.
func (s *Store) TilePath(p Pos, ext string) string {
	return filepath.Join(s.root, strconv.Itoa(p.N), strconv.Itoa(p.Y),
		fmt.Sprintf("%d_%d.%s", p.Y, p.X, ext))
}

// PathScheme returns the tile layout as the placeholder template used in
// WTML descriptors: {1} is depth, {2} column, {3} row.
func (s *Store) PathScheme() string {
	return "{1}/{3}/{3}_{2}"
}

// HasTile returns true if the tile file already exists.
func (s *Store) HasTile(p Pos, ext string) bool {
	_, err := os.Stat(s.TilePath(p, ext))
	return err == nil
}

// ReadImage loads a tile, applying the missing policy when the file does
// not exist.  PNG files decode to uint8 arrays; "dat" files hold the
// serialized float64 format.
func (s *Store) ReadImage(p Pos, ext string, missing MissingPolicy) (*skytoast.Array, error) {
	path := s.TilePath(p, ext)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return s.missingArray(missing)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to open tile %s: %v", path, err)
	}
	defer f.Close()
	if ext == "dat" {
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("unable to read tile %s: %v", path, err)
		}
		arr, err := skytoast.DeserializeArray(data)
		if err != nil {
			return nil, fmt.Errorf("bad tile data in %s: %v", path, err)
		}
		return arr, nil
	}
	arr, err := skytoast.DecodePNG(f)
	if err != nil {
		return nil, fmt.Errorf("bad tile image in %s: %v", path, err)
	}
	return arr, nil
}

func (s *Store) missingArray(missing MissingPolicy) (*skytoast.Array, error) {
	switch missing {
	case MissingNone:
		return nil, nil
	case MissingZeroRGB:
		return skytoast.NewUint8Array(s.tileSize, s.tileSize, 3)
	case MissingZeroRGBA:
		return skytoast.NewUint8Array(s.tileSize, s.tileSize, 4)
	case MissingNaN:
		return skytoast.NewNaNArray(s.tileSize, s.tileSize), nil
	default:
		return nil, fmt.Errorf("unknown missing tile policy %d", missing)
	}
}

// WriteImage writes a tile atomically, creating directories as needed.
func (s *Store) WriteImage(p Pos, arr *skytoast.Array, ext string) error {
	path := s.TilePath(p, ext)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("unable to create tile directory for %s: %v", path, err)
	}
	var data []byte
	if ext == "dat" {
		var err error
		data, err = arr.Serialize(skytoast.Snappy, skytoast.CRC32)
		if err != nil {
			return fmt.Errorf("unable to serialize tile %s: %v", p, err)
		}
	} else {
		var buf bytes.Buffer
		if err := arr.EncodePNG(&buf); err != nil {
			return fmt.Errorf("unable to encode tile %s: %v", p, err)
		}
		data = buf.Bytes()
	}
	tmp := fmt.Sprintf("%s.%s.tmp", path, uuid.NewV4())
	if err := os.WriteFile(tmp, data, 0755); err != nil {
		return fmt.Errorf("unable to write tile %s: %v", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("unable to finish tile %s: %v", path, err)
	}
	return nil
}
