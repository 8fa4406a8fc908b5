package shade

import (
	"errors"
	"fmt"
)

// Sentinel errors. All compilation-time failures are recoverable: callers
// match them with errors.Is and decide whether to abort startup or keep a
// previously built object.
var (
	// ErrModuleNotFound reports a module identifier that could not be
	// resolved to source text (typo, missing import, deleted file).
	ErrModuleNotFound = errors.New("shade: module source not found")

	// ErrCycleDetected reports an import graph that loops back on itself.
	ErrCycleDetected = errors.New("shade: import cycle detected")

	// ErrNamedImport reports an #import directive that names a module
	// without quotes. Only quoted path imports are supported.
	ErrNamedImport = errors.New("shade: named module import not supported")

	// ErrEntryPointNotFound reports an entry-point reference that does not
	// match any function of the required stage in the composed module.
	ErrEntryPointNotFound = errors.New("shade: entry point not found")

	// ErrMissingPipeline reports a pipeline handle that was never created
	// by this manager, or a zero handle. This is a programmer error at the
	// call site, not a shader fault.
	ErrMissingPipeline = errors.New("shade: unknown pipeline handle")

	// ErrNilDevice is returned when creating a cache or manager without
	// a device.
	ErrNilDevice = errors.New("shade: device is nil")

	// ErrNilResolver is returned when creating a cache or manager without
	// a source resolver.
	ErrNilResolver = errors.New("shade: resolver is nil")

	// ErrNilCache is returned when creating a pipeline manager without a
	// shader cache.
	ErrNilCache = errors.New("shade: cache is nil")

	// ErrNilDescriptor is returned when creating a pipeline with a nil
	// descriptor.
	ErrNilDescriptor = errors.New("shade: pipeline descriptor is nil")
)

// CompileError reports a failed module compilation. It carries the
// identifier of the offending module, which for a failure deep in an
// import chain is the imported module, not the one the caller asked for.
//
// The wrapped error is one of the sentinels above, a preprocessor
// diagnostic, or a naga parse/lower diagnostic for the composed source.
type CompileError struct {
	// Module is the normalized identifier of the module that failed.
	Module string

	// Err is the underlying cause.
	Err error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile %q: %v", e.Module, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// compileErrorf wraps a formatted cause in a CompileError for module id.
func compileErrorf(id string, format string, args ...any) *CompileError {
	return &CompileError{Module: id, Err: fmt.Errorf(format, args...)}
}
