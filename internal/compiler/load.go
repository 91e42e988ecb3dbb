package compiler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/jobweave/internal/ir"
)

// Load failures, matched with errors.Is.
var (
	ErrNotFound          = errors.New("module file not found")
	ErrUnsupportedFormat = errors.New("unsupported module format")
	ErrLoadFailed        = errors.New("cue load failed")
	ErrBuildFailed       = errors.New("cue build failed")
)

// LoadFile reads a module from a .cue or .json file and compiles it.
// Errors wrap one of the load sentinels, or are *CompileError.
func LoadFile(path string) (*ir.Module, error) {
	v, err := loadValue(path)
	if err != nil {
		return nil, err
	}
	return CompileModule(v)
}

// LoadBytes compiles a module from in-memory CUE or JSON source. filename
// is used for positions only.
func LoadBytes(filename string, src []byte) (*ir.Module, error) {
	v := cuecontext.New().CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuildFailed, formatCUEError(err))
	}
	return CompileModule(v)
}

func loadValue(path string) (cue.Value, error) {
	info, err := os.Stat(path)
	if err != nil {
		return cue.Value{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if info.IsDir() {
		return cue.Value{}, fmt.Errorf("%w: %s is a directory", ErrUnsupportedFormat, path)
	}

	ctx := cuecontext.New()
	switch filepath.Ext(path) {
	case ".cue":
		cfg := &load.Config{Dir: filepath.Dir(path)}
		instances := load.Instances([]string{filepath.Base(path)}, cfg)
		if len(instances) == 0 {
			return cue.Value{}, fmt.Errorf("%w: no instances in %s", ErrLoadFailed, path)
		}
		if err := instances[0].Err; err != nil {
			return cue.Value{}, fmt.Errorf("%w: %w", ErrLoadFailed, err)
		}
		v := ctx.BuildInstance(instances[0])
		if err := v.Err(); err != nil {
			return cue.Value{}, fmt.Errorf("%w: %w", ErrBuildFailed, formatCUEError(err))
		}
		return v, nil
	case ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return cue.Value{}, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		v := ctx.CompileBytes(data, cue.Filename(path))
		if err := v.Err(); err != nil {
			return cue.Value{}, fmt.Errorf("%w: %w", ErrBuildFailed, formatCUEError(err))
		}
		return v, nil
	default:
		return cue.Value{}, fmt.Errorf("%w: %s (want .cue or .json)", ErrUnsupportedFormat, path)
	}
}
