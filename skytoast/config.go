package skytoast

import (
	"fmt"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultTileSize is the pixel resolution of generated tiles.
	DefaultTileSize = 256

	// DefaultWebAddress is the default address of the preview web server.
	DefaultWebAddress = "localhost:8000"
)

// Config holds the optional TOML configuration shared by the command line
// tools.  All sections may be omitted.
type Config struct {
	Logging LogConfig
	Build   BuildSettings
	Serve   ServeSettings
}

// BuildSettings are tool-level defaults for pyramid builds.
type BuildSettings struct {
	TileSize          int `toml:"tile_size"`
	Workers           int
	AbortOnWriteError bool `toml:"abort_on_write_error"`
}

// ServeSettings configure the preview web server.
type ServeSettings struct {
	Address     string
	CorsOrigins []string `toml:"cors_origins"`
	CacheMB     int      `toml:"cache_mb"`
}

// DefaultConfig returns the configuration used when no TOML file is given.
func DefaultConfig() *Config {
	return &Config{
		Build: BuildSettings{
			TileSize: DefaultTileSize,
			Workers:  1,
		},
		Serve: ServeSettings{
			Address: DefaultWebAddress,
			CacheMB: 64,
		},
	}
}

// LoadConfig loads tool configuration from a TOML file, filling in defaults
// for anything the file does not set.
func LoadConfig(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("no TOML configuration file provided")
	}
	c := DefaultConfig()
	if _, err := toml.DecodeFile(filename, c); err != nil {
		return nil, fmt.Errorf("could not decode TOML config: %v", err)
	}
	if err := c.convertPathsToAbsolute(filename); err != nil {
		return nil, err
	}
	return c, nil
}

// Some settings in the TOML can be given as relative paths.
// This function converts them in-place to absolute paths,
// assuming the given paths were relative to the TOML file's own directory.
func (c *Config) convertPathsToAbsolute(configPath string) error {
	var err error
	configDir := filepath.Dir(configPath)

	// [logging].logfile
	if c.Logging.Logfile != "" {
		c.Logging.Logfile, err = ConvertToAbsolute(c.Logging.Logfile, configDir)
		if err != nil {
			return fmt.Errorf("Error converting logfile setting to absolute path")
		}
	}
	return nil
}

// ConvertToAbsolute converts a path to absolute, resolving relative paths
// against the given directory.
func ConvertToAbsolute(path, dir string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return path, fmt.Errorf("could not get absolute path of %q: %v", dir, err)
	}
	return filepath.Join(absDir, path), nil
}
