/*
	This file supports JSON build job documents, so a whole pyramid build
	can be described in one file handed to the command line tools.
*/

package toast

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/skytoast/skytoast/pyramid"
)

// JobSpec is a pyramid build described as a JSON document.
// An example job:
//
//	{
//	    "out": "pyramids/dss",
//	    "depth": 6,
//	    "sampler": { "kind": "platecarree", "image": "allsky.png" },
//	    "merge": true,
//	    "workers": 4,
//	    "bbox": { "ra": [0, 90], "dec": [-45, 45] },
//	    "wtml": { "path": "dss.wtml", "name": "DSS" }
//	}
//
// Angles in a job document are degrees; the spec is validated against
// jobSchema before decoding.
type JobSpec struct {
	Out     string      `json:"out"`
	Depth   int         `json:"depth"`
	Sampler SamplerSpec `json:"sampler"`

	Merge    bool   `json:"merge"`
	BaseOnly bool   `json:"base_only"`
	Restart  bool   `json:"restart"`
	Top      int    `json:"top"`
	Workers  int    `json:"workers"`
	TileSize int    `json:"tile_size"`
	Format   string `json:"format"`

	Region *RegionSpec `json:"region,omitempty"`
	BBox   *BBoxSpec   `json:"bbox,omitempty"`
	WTML   *WTMLSpec   `json:"wtml,omitempty"`
}

// SamplerSpec selects the tile source for a job.
type SamplerSpec struct {
	// Kind is one of "platecarree", "constant", "gradient" or
	// "directory".
	Kind string `json:"kind"`

	// Image is the source all-sky image for platecarree sampling.
	Image string `json:"image,omitempty"`

	// Value is the fill value for constant sampling.
	Value uint8 `json:"value,omitempty"`

	// Dir is a previously built base level for merge-only jobs.
	Dir string `json:"dir,omitempty"`
}

// RegionSpec restricts a job to the subtree below one tile.
type RegionSpec struct {
	Depth int `json:"depth"`
	X     int `json:"x"`
	Y     int `json:"y"`
}

// BBoxSpec restricts a job to a sky bounding box, in degrees.
type BBoxSpec struct {
	Ra  [2]float64 `json:"ra"`
	Dec [2]float64 `json:"dec"`
}

// WTMLSpec asks a job to write a WTML descriptor.
type WTMLSpec struct {
	Path    string `json:"path"`
	BaseURL string `json:"base_url,omitempty"`
	WTMLFields
}

const jobSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["out", "depth", "sampler"],
	"properties": {
		"out": { "type": "string", "minLength": 1 },
		"depth": { "type": "integer", "minimum": 0 },
		"sampler": {
			"type": "object",
			"required": ["kind"],
			"properties": {
				"kind": { "enum": ["platecarree", "constant", "gradient", "directory"] },
				"image": { "type": "string" },
				"value": { "type": "integer", "minimum": 0, "maximum": 255 },
				"dir": { "type": "string" }
			}
		},
		"merge": { "type": "boolean" },
		"base_only": { "type": "boolean" },
		"restart": { "type": "boolean" },
		"top": { "type": "integer", "minimum": 0 },
		"workers": { "type": "integer", "minimum": 1 },
		"tile_size": { "type": "integer", "minimum": 1 },
		"format": { "enum": ["png", "dat"] },
		"region": {
			"type": "object",
			"required": ["depth", "x", "y"],
			"properties": {
				"depth": { "type": "integer", "minimum": 0 },
				"x": { "type": "integer", "minimum": 0 },
				"y": { "type": "integer", "minimum": 0 }
			}
		},
		"bbox": {
			"type": "object",
			"required": ["ra", "dec"],
			"properties": {
				"ra": { "type": "array", "items": { "type": "number" }, "minItems": 2, "maxItems": 2 },
				"dec": { "type": "array", "items": { "type": "number" }, "minItems": 2, "maxItems": 2 }
			}
		},
		"wtml": {
			"type": "object",
			"required": ["path"],
			"properties": {
				"path": { "type": "string", "minLength": 1 },
				"base_url": { "type": "string" },
				"folder_name": { "type": "string" },
				"band_pass": { "type": "string" },
				"name": { "type": "string" },
				"credits": { "type": "string" },
				"credits_url": { "type": "string" },
				"thumbnail_url": { "type": "string" }
			}
		}
	}
}`

var compiledJobSchema *jsonschema.Schema

func init() {
	var err error
	compiledJobSchema, err = jsonschema.CompileString("jobspec.json", jobSchema)
	if err != nil {
		panic(fmt.Sprintf("bad embedded job schema: %v", err))
	}
}

// LoadJobSpec parses and validates a JSON job document.  Validation errors
// name the offending field.
func LoadJobSpec(jsonBytes []byte) (*JobSpec, error) {
	var doc interface{}
	dec := json.NewDecoder(bytes.NewReader(jsonBytes))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("unable to parse job spec: %v", err)
	}
	if err := compiledJobSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("job spec failed validation: %v", err)
	}
	var spec JobSpec
	if err := json.Unmarshal(jsonBytes, &spec); err != nil {
		return nil, err
	}
	return &spec, nil
}

// ReadJobSpec loads a job from a file, resolving relative paths inside it
// against the file's own directory.
func ReadJobSpec(filename string) (*JobSpec, error) {
	jsonBytes, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("unable to read job spec %q: %v", filename, err)
	}
	spec, err := LoadJobSpec(jsonBytes)
	if err != nil {
		return nil, fmt.Errorf("bad job spec %q: %v", filename, err)
	}
	dir := filepath.Dir(filename)
	spec.Out = absolveTo(spec.Out, dir)
	spec.Sampler.Image = absolveTo(spec.Sampler.Image, dir)
	spec.Sampler.Dir = absolveTo(spec.Sampler.Dir, dir)
	if spec.WTML != nil {
		spec.WTML.Path = absolveTo(spec.WTML.Path, dir)
	}
	return spec, nil
}

func absolveTo(path, dir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// BuildConfig turns a validated job into a runnable build configuration,
// opening the destination store and any source data the job names.
func (spec *JobSpec) BuildConfig() (BuildConfig, error) {
	var cfg BuildConfig

	store, err := pyramid.NewStore(spec.Out, spec.TileSize)
	if err != nil {
		return cfg, err
	}
	cfg.Store = store

	switch spec.Sampler.Kind {
	case "platecarree":
		if spec.Sampler.Image == "" {
			return cfg, fmt.Errorf("platecarree sampler needs an image")
		}
		src, err := LoadImageArray(spec.Sampler.Image)
		if err != nil {
			return cfg, err
		}
		sampler, err := PlateCarreeSampler(src)
		if err != nil {
			return cfg, err
		}
		cfg.Source = CallbackSource(sampler)
	case "constant":
		cfg.Source = CallbackSource(ConstantSampler(spec.Sampler.Value))
	case "gradient":
		cfg.Source = CallbackSource(GradientSampler())
	case "directory":
		if spec.Sampler.Dir == "" {
			return cfg, fmt.Errorf("directory sampler needs a dir")
		}
		base, err := pyramid.OpenStore(spec.Sampler.Dir, spec.TileSize)
		if err != nil {
			return cfg, err
		}
		cfg.Source = DirectorySource(base, spec.tileFormat())
	default:
		return cfg, fmt.Errorf("unknown sampler kind %q", spec.Sampler.Kind)
	}

	cfg.Depth = spec.Depth
	cfg.Merge = spec.Merge
	cfg.BaseOnly = spec.BaseOnly
	cfg.Restart = spec.Restart
	cfg.Top = spec.Top
	cfg.Workers = spec.Workers
	cfg.TileSize = spec.TileSize
	cfg.Ext = spec.tileFormat()

	if spec.Region != nil && spec.BBox != nil {
		return cfg, fmt.Errorf("job spec has both a region and a bbox filter")
	}
	if spec.Region != nil {
		region := pyramid.Pos{N: spec.Region.Depth, X: spec.Region.X, Y: spec.Region.Y}
		if err := region.Valid(); err != nil {
			return cfg, err
		}
		cfg.Filter = SubtreeFilter(region)
	}
	if spec.BBox != nil {
		rad := math.Pi / 180
		cfg.Filter = CoordRangeFilter(
			[2]float64{spec.BBox.Ra[0] * rad, spec.BBox.Ra[1] * rad},
			[2]float64{spec.BBox.Dec[0] * rad, spec.BBox.Dec[1] * rad})
	}

	if spec.WTML != nil {
		cfg.WTMLPath = spec.WTML.Path
		cfg.WTMLBaseURL = spec.WTML.BaseURL
		cfg.WTML = spec.WTML.WTMLFields
	}
	return cfg, nil
}

func (spec *JobSpec) tileFormat() string {
	if spec.Format == "" {
		return "png"
	}
	return spec.Format
}
