// Package shade compiles WGSL shader modules, caches the results, and
// hot-reloads the pipelines built from them.
//
// # Overview
//
// shade is a shader module compilation cache and pipeline hot-reload
// engine for the GoGPU ecosystem. Shader source is organized into
// modules that reference each other through a small preprocessor
// (#import, #ifdef); shade composes a module's import graph into one
// WGSL text, validates it with naga, creates the backend shader module,
// and memoizes the result per (module, feature-flag set). The pipeline
// manager builds render and compute pipelines from declarative
// descriptors that name shader entry points by module identifier, and
// rebuilds exactly the affected pipelines when source files change on
// disk.
//
// # Quick Start
//
//	import "github.com/gogpu/shade"
//
//	// The host application provides the GPU device.
//	device, err := shade.HALDeviceFrom(app)
//
//	cache, err := shade.NewCache(device, shade.NewDirResolver("assets/shaders"))
//	manager, err := shade.NewPipelineManager(cache)
//
//	handle, err := manager.CreateRenderPipeline(&shade.RenderPipelineDescriptor{
//	    Label:  "terrain",
//	    Vertex: shade.EntryPointRef{Module: "terrain"},
//	})
//
// # Hot Reload
//
// In development, attach a directory watcher and sweep once per render
// loop tick:
//
//	import "github.com/gogpu/shade/watch"
//
//	watcher, err := watch.New("assets/shaders")
//	manager, err := shade.NewPipelineManager(cache, shade.WithChangeSource(watcher))
//
//	// Per tick:
//	manager.ReloadChanged()
//
// Deployed builds embed their shaders with go:embed, resolve them with
// a StaticResolver, and skip the watcher; ReloadChanged is then a
// no-op.
//
// # Failure Isolation
//
// A broken edit never takes a pipeline away. If a module fails to
// recompile during a reload sweep, every affected pipeline keeps its
// last successfully built object and is marked broken; broken pipelines
// are retried on later sweeps until the fix lands. Handles stay valid
// and drawable throughout.
//
// # Architecture
//
// The package is organized as a compile chain, leaves first:
//   - SourceResolver: module identifier to raw WGSL text (DirResolver,
//     StaticResolver)
//   - Compiler: import composition, conditional expansion, naga
//     validation
//   - Cache: memoized shader variants plus dependent-edge bookkeeping
//     for transitive invalidation
//   - PipelineManager: descriptor-driven pipelines, reload sweeps,
//     broken-set retry
//
// The watch subpackage feeds change events into the manager; cmd/shadewatch
// is a standalone validation loop over a shader directory.
package shade

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 1

	// VersionPatch is the patch version
	VersionPatch = 0
)
