package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"gopkg.in/yaml.v3"

	"github.com/roach88/memsched/internal/ir"
)

// LoadResult contains a loaded input graph and, when the input carries one,
// its configuration.
type LoadResult struct {
	Graph     *ir.Graph
	Config    *ir.Config // nil when the input has no config section
	FileCount int        // Number of files read
}

// LoadError represents an error that occurred during input loading.
type LoadError struct {
	Code    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error code constants - unified across all CLI commands. Graph validation
// codes (E1xx) come from depgraph; pass failures use the pass error codes.
const (
	ErrCodeGeneric      = "E001" // Generic/unknown error
	ErrCodeScanError    = "E002" // Directory scan error
	ErrCodeNoFiles      = "E003" // No input files found
	ErrCodeLoadFailed   = "E004" // CUE load failed
	ErrCodeNotFound     = "E005" // Path not found
	ErrCodeBuildFailed  = "E006" // CUE build failed
	ErrCodeWriteFailed  = "E007" // File write error
	ErrCodeDecodeFailed = "E008" // Input does not decode into a graph or config
)

// LoadInput loads a graph from a YAML or JSON file, a CUE file or a
// directory of CUE files.
//
// YAML and JSON files hold a bare graph. CUE inputs hold a graph either at
// the top level or under "graph", plus an optional "config" field.
func LoadInput(path string) (*LoadResult, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("input not found: %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing input: %v", err)}
	}

	if info.IsDir() {
		files, err := FindCUEFiles(path)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
		}
		if len(files) == 0 {
			return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", path)}
		}
		return loadCUE(path, ".", len(files))
	}

	switch filepath.Ext(path) {
	case ".cue":
		return loadCUE(filepath.Dir(path), "./"+filepath.Base(path), 1)
	case ".yaml", ".yml", ".json":
		var g ir.Graph
		if err := decodeYAMLFile(path, &g); err != nil {
			return nil, err
		}
		return &LoadResult{Graph: &g, FileCount: 1}, nil
	default:
		return nil, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("unsupported input type %q (want .yaml, .yml, .json or .cue)", filepath.Ext(path))}
	}
}

// LoadConfig reads a configuration from a YAML, JSON or CUE file. A CUE file
// may hold the config at the top level or under "config".
func LoadConfig(path string) (ir.Config, error) {
	if filepath.Ext(path) == ".cue" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return ir.Config{}, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("config not found: %s", path)}
		}
		value, err := buildCUE(filepath.Dir(path), "./"+filepath.Base(path))
		if err != nil {
			return ir.Config{}, err
		}
		if v := value.LookupPath(cue.ParsePath("config")); v.Exists() {
			value = v
		}
		var cfg ir.Config
		if err := value.Decode(&cfg); err != nil {
			return ir.Config{}, &LoadError{Code: ErrCodeDecodeFailed, Message: fmt.Sprintf("decoding config: %v", err)}
		}
		return cfg, nil
	}

	var cfg ir.Config
	if err := decodeYAMLFile(path, &cfg); err != nil {
		return ir.Config{}, err
	}
	return cfg, nil
}

// decodeYAMLFile decodes a YAML (or JSON) file, rejecting unknown fields.
func decodeYAMLFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("file not found: %s", path)}
	}
	if err != nil {
		return &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("reading %s: %v", path, err)}
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(v); err != nil {
		return &LoadError{Code: ErrCodeDecodeFailed, Message: fmt.Sprintf("decoding %s: %v", path, err)}
	}
	return nil
}

func loadCUE(dir, pkg string, fileCount int) (*LoadResult, error) {
	value, err := buildCUE(dir, pkg)
	if err != nil {
		return nil, err
	}

	graphVal := value
	if v := value.LookupPath(cue.ParsePath("graph")); v.Exists() {
		graphVal = v
	}
	var g ir.Graph
	if err := graphVal.Decode(&g); err != nil {
		return nil, &LoadError{Code: ErrCodeDecodeFailed, Message: fmt.Sprintf("decoding graph: %v", err)}
	}
	result := &LoadResult{Graph: &g, FileCount: fileCount}

	if v := value.LookupPath(cue.ParsePath("config")); v.Exists() {
		var cfg ir.Config
		if err := v.Decode(&cfg); err != nil {
			return nil, &LoadError{Code: ErrCodeDecodeFailed, Message: fmt.Sprintf("decoding config: %v", err)}
		}
		result.Config = &cfg
	}
	return result, nil
}

func buildCUE(dir, pkg string) (cue.Value, error) {
	ctx := cuecontext.New()
	instances := load.Instances([]string{pkg}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return cue.Value{}, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}

	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return cue.Value{}, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}
	return value, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
