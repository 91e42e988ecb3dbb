package cli

import (
	"errors"
	"fmt"

	"cuelang.org/go/cue/token"

	"github.com/roach88/jobweave/internal/compiler"
	"github.com/roach88/jobweave/internal/ir"
)

// LoadMode controls how validation errors are reported.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// Error code constants shared by every command. Pass diagnostics (E1xx-E4xx)
// and module validation codes (E5xx) are reported unchanged.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeSchema      = "E002" // Module does not match the IR schema
	ErrCodeUnsupported = "E003" // Not a .cue or .json file
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // File write error
)

// LoadError is a module loading or validation failure.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
	Line    int       // source line of a validation error, 0 if unknown
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s: %s", e.Line, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadModule loads the module at path and validates its structure.
//
// A nil module means loading itself failed and errs holds exactly one
// error. A non-nil module with errors means validation failed; with
// LoadModeFailFast only the first validation error is returned.
func LoadModule(path string, mode LoadMode) (*ir.Module, []error) {
	mod, err := compiler.LoadFile(path)
	if err != nil {
		return nil, []error{convertLoadError(err)}
	}

	var errs []error
	for _, v := range compiler.Validate(mod) {
		errs = append(errs, &LoadError{
			Code:    v.Code,
			Message: fmt.Sprintf("%s: %s", v.Field, v.Message),
			Line:    v.Line,
		})
		if mode == LoadModeFailFast {
			break
		}
	}
	return mod, errs
}

// convertLoadError maps a compiler load error to a LoadError with a CLI code.
func convertLoadError(err error) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    ErrCodeSchema,
			Message: fmt.Sprintf("%s: %s", compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{Code: loadErrorCode(err), Message: err.Error()}
}

func loadErrorCode(err error) string {
	switch {
	case errors.Is(err, compiler.ErrNotFound):
		return ErrCodeNotFound
	case errors.Is(err, compiler.ErrUnsupportedFormat):
		return ErrCodeUnsupported
	case errors.Is(err, compiler.ErrLoadFailed):
		return ErrCodeLoadFailed
	case errors.Is(err, compiler.ErrBuildFailed):
		return ErrCodeBuildFailed
	default:
		return ErrCodeGeneric
	}
}

// errorCode extracts a code and message for output.
func errorCode(err error) (string, string) {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code, loadErr.Message
	}
	return ErrCodeGeneric, err.Error()
}
