package shade

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gogpu/wgpu/hal"
)

// ShaderHandle identifies one compiled shader variant in a Cache.
//
// Handles are allocated monotonically and never reused. A handle retired
// by invalidation stays retired forever, so a stale handle held across a
// reload misses the lookup instead of silently aliasing a newer shader.
type ShaderHandle uint64

// InvalidShader is the zero ShaderHandle. No compiled shader ever has it.
const InvalidShader ShaderHandle = 0

// recordKey identifies one cached variant: a module composed under one
// feature-flag set. Flags are stored in canonical Key() form so sets that
// differ only in symbol order share a variant.
type recordKey struct {
	id    string
	flags string
}

// variantLabel returns the debug label for a cached variant.
func variantLabel(key recordKey) string {
	if key.flags == "" {
		return key.id
	}
	return key.id + "#" + key.flags
}

// shaderRecord is one cached variant together with its backend module.
type shaderRecord struct {
	handle ShaderHandle
	key    recordKey
	shader *CompiledShader
	module hal.ShaderModule
}

// Cache memoizes compiled shader variants keyed by (module, feature-flag
// set) and tracks the import graph needed to invalidate them.
//
// Shader compilation is expensive because it involves composition,
// parsing and validation. The cache compiles each variant once and hands
// out handles; every module in an import graph is cached individually,
// imports before importers, so shared library modules compile once no
// matter how many shaders pull them in. When a module's source changes,
// Invalidate retires the variants of that module and of every module
// that transitively imports it, so the next request recompiles from
// fresh source.
//
// Thread Safety:
// Cache is safe for concurrent use. It uses RWMutex with double-check
// locking for efficient reads and safe writes.
//
// Usage:
//
//	cache, err := NewCache(device, resolver)
//	if err != nil {
//	    // handle error
//	}
//	handle, err := cache.GetOrCompile("fills/radial", nil)
//	if err != nil {
//	    // handle error
//	}
//	module, _ := cache.ShaderModule(handle)
//	// Use module in a pipeline descriptor
//
// The cache tracks hit/miss statistics for performance monitoring.
type Cache struct {
	// mu protects mutable state.
	mu sync.RWMutex

	// device creates and destroys backend shader modules.
	device Device

	// resolver supplies module source text.
	resolver SourceResolver

	// compiler composes and validates modules, loading sources through
	// the cache so dependent edges are recorded as a side effect.
	compiler *Compiler

	// sources holds the parsed entry for every module loaded so far.
	sources map[string]*SourceEntry

	// records stores compiled variants indexed by (module, flag set).
	records map[recordKey]*shaderRecord

	// byHandle indexes the same records by handle.
	byHandle map[ShaderHandle]*shaderRecord

	// dependents maps a module to the modules that directly import it.
	dependents map[string]map[string]struct{}

	// nextHandle is the last handle issued. Guarded by mu.
	nextHandle ShaderHandle

	// hits counts cache hits (atomic for lock-free reads).
	hits uint64

	// misses counts cache misses (atomic for lock-free reads).
	misses uint64
}

// NewCache creates a shader cache that compiles on device with module
// sources from resolver. The cache starts empty and variants are
// compiled on demand.
func NewCache(device Device, resolver SourceResolver) (*Cache, error) {
	if device == nil {
		return nil, ErrNilDevice
	}
	if resolver == nil {
		return nil, ErrNilResolver
	}
	c := &Cache{
		device:     device,
		resolver:   resolver,
		sources:    make(map[string]*SourceEntry),
		records:    make(map[recordKey]*shaderRecord),
		byHandle:   make(map[ShaderHandle]*shaderRecord),
		dependents: make(map[string]map[string]struct{}),
	}
	c.compiler = NewCompiler(cacheStore{c})
	return c, nil
}

// cacheStore adapts the Cache into the Compiler's ModuleStore. The
// Compiler only runs inside GetOrCompile with the cache write lock
// already held, so it calls the locked variants directly.
type cacheStore struct {
	c *Cache
}

func (s cacheStore) LoadSource(moduleID string) (*SourceEntry, error) {
	return s.c.loadSourceLocked(moduleID)
}

func (s cacheStore) CompiledModule(moduleID string, flags FlagSet) (*CompiledShader, bool) {
	rec, ok := s.c.records[recordKey{id: moduleID, flags: flags.Key()}]
	if !ok {
		return nil, false
	}
	return rec.shader, true
}

func (s cacheStore) StoreModule(moduleID string, flags FlagSet, shader *CompiledShader) error {
	return s.c.storeModuleLocked(recordKey{id: moduleID, flags: flags.Key()}, shader)
}

// GetOrCompile returns the handle for moduleID composed under flags,
// compiling on first request. Compilation is bottom-up: every module in
// the import graph not yet cached under flags is compiled and cached
// with its own handle, imports before importers, so a later request for
// an imported module is a hit.
//
// This method implements the "get or create" pattern with double-check
// locking:
//  1. Fast path: RLock, check cache, return if found
//  2. Slow path: Lock, double-check, compile if needed
//
// On failure the error is a *CompileError naming the module that failed,
// or a device error from shader module creation. Imports compiled before
// the failing module stay cached; no record is stored for the requested
// key itself.
func (c *Cache) GetOrCompile(moduleID string, flags FlagSet) (ShaderHandle, error) {
	key := recordKey{id: NormalizeModuleID(moduleID), flags: flags.Key()}

	// Fast path: read lock
	c.mu.RLock()
	if rec, ok := c.records[key]; ok {
		c.mu.RUnlock()
		atomic.AddUint64(&c.hits, 1)
		return rec.handle, nil
	}
	c.mu.RUnlock()

	// Slow path: write lock with double-check
	c.mu.Lock()
	defer c.mu.Unlock()

	if rec, ok := c.records[key]; ok {
		atomic.AddUint64(&c.hits, 1)
		return rec.handle, nil
	}

	if _, err := c.compiler.Compile(key.id, flags); err != nil {
		return InvalidShader, err
	}
	rec, ok := c.records[key]
	if !ok {
		return InvalidShader, compileErrorf(key.id, "variant not stored after compile")
	}
	atomic.AddUint64(&c.misses, 1)
	return rec.handle, nil
}

// storeModuleLocked wraps a compiled module in a backend shader module,
// allocates its handle and indexes the record. c.mu must be held for
// writing.
func (c *Cache) storeModuleLocked(key recordKey, shader *CompiledShader) error {
	label := variantLabel(key)
	module, err := c.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: hal.ShaderSource{WGSL: shader.WGSL},
	})
	if err != nil {
		return fmt.Errorf("shade: create shader module %q: %w", label, err)
	}

	c.nextHandle++
	rec := &shaderRecord{handle: c.nextHandle, key: key, shader: shader, module: module}
	c.records[key] = rec
	c.byHandle[rec.handle] = rec

	Logger().Debug("compiled shader variant",
		"module", key.id, "flags", key.flags, "handle", uint64(rec.handle),
		"modules", len(shader.Modules))
	return nil
}

// loadSourceLocked returns the parsed entry for moduleID, resolving and
// parsing it on first use. Dependent edges are recorded when an entry
// first loads, so they exist before any variant of the importer is
// cached. c.mu must be held for writing.
func (c *Cache) loadSourceLocked(moduleID string) (*SourceEntry, error) {
	id := NormalizeModuleID(moduleID)
	if entry, ok := c.sources[id]; ok {
		return entry, nil
	}
	text, err := c.resolver.Resolve(id)
	if err != nil {
		return nil, err
	}
	imports, defines, err := parseDirectives(text)
	if err != nil {
		return nil, err
	}
	entry := &SourceEntry{ID: id, Text: text, Imports: imports, Defines: defines}
	c.sources[id] = entry
	for _, imp := range imports {
		set, ok := c.dependents[imp]
		if !ok {
			set = make(map[string]struct{})
			c.dependents[imp] = set
		}
		set[id] = struct{}{}
	}
	return entry, nil
}

// ShaderModule returns the backend shader module behind a handle. The
// second result is false if the handle was never issued or has been
// invalidated.
func (c *Cache) ShaderModule(h ShaderHandle) (hal.ShaderModule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.byHandle[h]
	if !ok {
		return nil, false
	}
	return rec.module, true
}

// Shader returns the composed, validated shader behind a handle. The
// second result is false if the handle was never issued or has been
// invalidated.
func (c *Cache) Shader(h ShaderHandle) (*CompiledShader, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.byHandle[h]
	if !ok {
		return nil, false
	}
	return rec.shader, true
}

// record returns the live record for a handle.
func (c *Cache) record(h ShaderHandle) (*shaderRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.byHandle[h]
	return rec, ok
}

// Invalidate retires every cached variant of moduleID and of each module
// that transitively imports it, across all feature-flag sets. The
// backend modules are destroyed, the affected source entries are dropped
// so the next compile re-reads them, and the retired handles are
// returned in ascending order.
//
// Invalidating a module with no cached variants is a no-op that returns
// no handles, so repeated invalidation is harmless.
func (c *Cache) Invalidate(moduleID string) []ShaderHandle {
	id := NormalizeModuleID(moduleID)

	c.mu.Lock()
	defer c.mu.Unlock()

	affected := make(map[string]struct{})
	c.collectAffected(id, affected)

	var removed []ShaderHandle
	for key, rec := range c.records {
		if _, ok := affected[key.id]; !ok {
			continue
		}
		if rec.module != nil {
			c.device.DestroyShaderModule(rec.module)
		}
		delete(c.records, key)
		delete(c.byHandle, rec.handle)
		removed = append(removed, rec.handle)
	}
	for m := range affected {
		if entry, ok := c.sources[m]; ok {
			for _, imp := range entry.Imports {
				delete(c.dependents[imp], m)
			}
			delete(c.sources, m)
		}
		delete(c.dependents, m)
	}

	slices.Sort(removed)
	if len(removed) > 0 {
		Logger().Debug("invalidated shader variants",
			"module", id, "removed", len(removed))
	}
	return removed
}

// collectAffected gathers id and every module that transitively imports
// it. Dependent edges are recorded per direct import, so walking them
// yields the full importer closure.
func (c *Cache) collectAffected(id string, affected map[string]struct{}) {
	if _, ok := affected[id]; ok {
		return
	}
	affected[id] = struct{}{}
	for dep := range c.dependents[id] {
		c.collectAffected(dep, affected)
	}
}

// Stats returns cache statistics.
//
// Returns the number of cache hits and misses.
// These values are read atomically and may not be perfectly synchronized.
func (c *Cache) Stats() (hits, misses uint64) {
	return atomic.LoadUint64(&c.hits), atomic.LoadUint64(&c.misses)
}

// HitRate returns the cache hit rate as a percentage (0.0 to 1.0).
//
// Returns 0.0 if no requests have been made.
func (c *Cache) HitRate() float64 {
	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)
	total := hits + misses
	if total == 0 {
		return 0.0
	}
	return float64(hits) / float64(total)
}

// Size returns the number of cached shader variants.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// SourceCount returns the number of module sources currently loaded.
func (c *Cache) SourceCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sources)
}

// Destroy destroys every cached backend module and clears the cache.
// Handle allocation is not reset, so handles issued before Destroy are
// never reissued afterwards.
func (c *Cache) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, rec := range c.byHandle {
		if rec.module != nil {
			c.device.DestroyShaderModule(rec.module)
		}
	}

	c.sources = make(map[string]*SourceEntry)
	c.records = make(map[recordKey]*shaderRecord)
	c.byHandle = make(map[ShaderHandle]*shaderRecord)
	c.dependents = make(map[string]map[string]struct{})
	atomic.StoreUint64(&c.hits, 0)
	atomic.StoreUint64(&c.misses, 0)
}
