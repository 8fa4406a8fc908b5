package shade

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga/ir"
	"github.com/gogpu/wgpu/hal"
)

// RenderPipelineHandle identifies one render pipeline owned by a
// PipelineManager. Handles are monotonic and never reused.
type RenderPipelineHandle uint64

// InvalidRenderPipeline is the zero RenderPipelineHandle.
const InvalidRenderPipeline RenderPipelineHandle = 0

// ComputePipelineHandle identifies one compute pipeline owned by a
// PipelineManager. Handles are monotonic and never reused.
type ComputePipelineHandle uint64

// InvalidComputePipeline is the zero ComputePipelineHandle.
const InvalidComputePipeline ComputePipelineHandle = 0

// EntryPointRef names a shader entry point by module rather than by
// object, so the manager can recompile it after the module's source
// changes.
type EntryPointRef struct {
	// Module is the module identifier to compile.
	Module string

	// Function is the entry-point function name. Empty selects the
	// first entry point of the required stage declared in the composed
	// module, which is stable for unchanged source.
	Function string

	// Flags is the feature-flag set the module is composed under.
	Flags FlagSet
}

// RenderPipelineDescriptor describes a render pipeline to create. The
// manager stores an immutable copy, so a descriptor can be reused or
// mutated freely after CreateRenderPipeline returns.
type RenderPipelineDescriptor struct {
	// Label is an optional debug name, also used in reload diagnostics.
	Label string

	// Layout is the pipeline layout object. Opaque to the manager and
	// owned by the caller.
	Layout hal.PipelineLayout

	// Vertex is the vertex stage entry point.
	Vertex EntryPointRef

	// Fragment is the optional fragment stage entry point.
	Fragment *EntryPointRef

	// VertexBuffers describes the vertex buffer layouts.
	VertexBuffers []gputypes.VertexBufferLayout

	// Targets describes the color attachments. Ignored when Fragment
	// is nil.
	Targets []gputypes.ColorTargetState

	// DepthStencil is the optional depth/stencil state.
	DepthStencil *hal.DepthStencilState

	// Primitive is the primitive assembly state.
	Primitive gputypes.PrimitiveState

	// Multisample is the multisample state. A zero Count means 1
	// sample; a zero Mask means all samples.
	Multisample gputypes.MultisampleState
}

// clone returns a deep copy so later caller mutation cannot leak into
// stored descriptors used for rebuilds.
func (d *RenderPipelineDescriptor) clone() *RenderPipelineDescriptor {
	c := *d
	c.Vertex.Flags = d.Vertex.Flags.Clone()
	if d.Fragment != nil {
		f := *d.Fragment
		f.Flags = d.Fragment.Flags.Clone()
		c.Fragment = &f
	}
	if d.VertexBuffers != nil {
		c.VertexBuffers = slices.Clone(d.VertexBuffers)
		for i := range c.VertexBuffers {
			c.VertexBuffers[i].Attributes = slices.Clone(c.VertexBuffers[i].Attributes)
		}
	}
	if d.Targets != nil {
		c.Targets = slices.Clone(d.Targets)
		for i := range c.Targets {
			if b := c.Targets[i].Blend; b != nil {
				bb := *b
				c.Targets[i].Blend = &bb
			}
		}
	}
	if d.DepthStencil != nil {
		ds := *d.DepthStencil
		c.DepthStencil = &ds
	}
	return &c
}

// ComputePipelineDescriptor describes a compute pipeline to create.
type ComputePipelineDescriptor struct {
	// Label is an optional debug name, also used in reload diagnostics.
	Label string

	// Layout is the pipeline layout object. Opaque to the manager and
	// owned by the caller.
	Layout hal.PipelineLayout

	// Compute is the compute stage entry point.
	Compute EntryPointRef
}

func (d *ComputePipelineDescriptor) clone() *ComputePipelineDescriptor {
	c := *d
	c.Compute.Flags = d.Compute.Flags.Clone()
	return &c
}

// ChangeSource supplies the manager with changed module identifiers. A
// drain returns each pending identifier once and must not block; events
// arriving mid-sweep belong to the next drain. The watch package's
// Watcher is the production source; deployed builds with embedded
// sources run without one.
type ChangeSource interface {
	Changed() []string
}

// renderRecord is one registered render pipeline. The descriptor copy
// and the pipeline object are replaced together on successful rebuild
// only, so the handle always resolves to a drawable object.
type renderRecord struct {
	handle   RenderPipelineHandle
	desc     *RenderPipelineDescriptor
	deps     map[string]struct{}
	pipeline hal.RenderPipeline
	broken   bool
}

// computeRecord is one registered compute pipeline.
type computeRecord struct {
	handle   ComputePipelineHandle
	desc     *ComputePipelineDescriptor
	deps     map[string]struct{}
	pipeline hal.ComputePipeline
	broken   bool
}

// PipelineManager builds pipelines from declarative descriptors,
// records which shader modules each pipeline transitively depends on,
// and rebuilds the affected pipelines when module sources change.
//
// A pipeline whose rebuild fails keeps its previous backend object and
// is marked broken; broken pipelines are retried on every subsequent
// reload sweep until one succeeds. A typo in one shared module
// therefore never blanks out the pipelines built from it.
//
// Thread Safety:
// PipelineManager is safe for concurrent use. Handle lookups take a
// read lock; creation and reload sweeps are exclusive.
//
// Usage:
//
//	manager, err := NewPipelineManager(cache, WithChangeSource(watcher))
//	if err != nil {
//	    // handle error
//	}
//	handle, err := manager.CreateRenderPipeline(&desc)
//	if err != nil {
//	    // handle error
//	}
//	// Per render-loop tick:
//	manager.ReloadChanged()
//	pipeline, _ := manager.RenderPipeline(handle)
type PipelineManager struct {
	// mu protects mutable state. Acquired before any cache lock.
	mu sync.RWMutex

	// cache compiles and owns the shader variants.
	cache *Cache

	// device creates and destroys backend pipelines.
	device Device

	// source is drained by ReloadChanged. Nil disables reloading.
	source ChangeSource

	// render and compute index the registered pipelines by handle.
	render  map[RenderPipelineHandle]*renderRecord
	compute map[ComputePipelineHandle]*computeRecord

	// nextRender and nextCompute are the last handles issued.
	nextRender  RenderPipelineHandle
	nextCompute ComputePipelineHandle

	// rebuilds counts rebuild attempts (atomic for lock-free reads).
	rebuilds uint64

	// failures counts failed rebuild attempts (atomic).
	failures uint64
}

// NewPipelineManager creates a pipeline manager on top of cache. The
// manager creates pipelines on the cache's device. Without a
// WithChangeSource option, ReloadChanged is a no-op.
func NewPipelineManager(cache *Cache, opts ...ManagerOption) (*PipelineManager, error) {
	if cache == nil {
		return nil, ErrNilCache
	}
	o := defaultManagerOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &PipelineManager{
		cache:   cache,
		device:  cache.device,
		source:  o.source,
		render:  make(map[RenderPipelineHandle]*renderRecord),
		compute: make(map[ComputePipelineHandle]*computeRecord),
	}, nil
}

// Cache returns the shader cache the manager compiles through.
func (m *PipelineManager) Cache() *Cache {
	return m.cache
}

// CreateRenderPipeline compiles the descriptor's entry points through
// the shader cache, creates the backend pipeline, and registers it
// under a new handle. On failure nothing is registered and the error
// wraps the underlying *CompileError or device error.
func (m *PipelineManager) CreateRenderPipeline(desc *RenderPipelineDescriptor) (RenderPipelineHandle, error) {
	if desc == nil {
		return InvalidRenderPipeline, ErrNilDescriptor
	}
	stored := desc.clone()

	m.mu.Lock()
	defer m.mu.Unlock()

	pipeline, deps, err := m.buildRender(stored)
	if err != nil {
		return InvalidRenderPipeline, fmt.Errorf("shade: create render pipeline %q: %w", stored.Label, err)
	}

	m.nextRender++
	rec := &renderRecord{handle: m.nextRender, desc: stored, deps: deps, pipeline: pipeline}
	m.render[rec.handle] = rec
	return rec.handle, nil
}

// CreateComputePipeline is CreateRenderPipeline for compute pipelines.
func (m *PipelineManager) CreateComputePipeline(desc *ComputePipelineDescriptor) (ComputePipelineHandle, error) {
	if desc == nil {
		return InvalidComputePipeline, ErrNilDescriptor
	}
	stored := desc.clone()

	m.mu.Lock()
	defer m.mu.Unlock()

	pipeline, deps, err := m.buildCompute(stored)
	if err != nil {
		return InvalidComputePipeline, fmt.Errorf("shade: create compute pipeline %q: %w", stored.Label, err)
	}

	m.nextCompute++
	rec := &computeRecord{handle: m.nextCompute, desc: stored, deps: deps, pipeline: pipeline}
	m.compute[rec.handle] = rec
	return rec.handle, nil
}

// RenderPipeline returns the backend pipeline for a handle. The object
// is always drawable, even while the handle is broken; lookups never
// trigger recompilation. Unknown handles report ErrMissingPipeline.
func (m *PipelineManager) RenderPipeline(h RenderPipelineHandle) (hal.RenderPipeline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.render[h]
	if !ok {
		return nil, fmt.Errorf("%w: render pipeline %d", ErrMissingPipeline, uint64(h))
	}
	return rec.pipeline, nil
}

// ComputePipeline is RenderPipeline for compute handles.
func (m *PipelineManager) ComputePipeline(h ComputePipelineHandle) (hal.ComputePipeline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.compute[h]
	if !ok {
		return nil, fmt.Errorf("%w: compute pipeline %d", ErrMissingPipeline, uint64(h))
	}
	return rec.pipeline, nil
}

// resolveEntry compiles the referenced module variant and resolves the
// entry-point name for stage.
func (m *PipelineManager) resolveEntry(ref EntryPointRef, stage ir.ShaderStage) (*shaderRecord, string, error) {
	h, err := m.cache.GetOrCompile(ref.Module, ref.Flags)
	if err != nil {
		return nil, "", err
	}
	rec, ok := m.cache.record(h)
	if !ok {
		return nil, "", fmt.Errorf("shade: module %q: shader retired before pipeline build", NormalizeModuleID(ref.Module))
	}
	name, err := rec.shader.EntryPoint(ref.Function, stage)
	if err != nil {
		return nil, "", fmt.Errorf("shade: module %q: %w", NormalizeModuleID(ref.Module), err)
	}
	return rec, name, nil
}

// buildRender compiles the descriptor's entry points and creates the
// backend pipeline. Nothing is registered here; the caller owns the
// returned object and dependency set.
func (m *PipelineManager) buildRender(desc *RenderPipelineDescriptor) (hal.RenderPipeline, map[string]struct{}, error) {
	vrec, vertexEntry, err := m.resolveEntry(desc.Vertex, ir.StageVertex)
	if err != nil {
		return nil, nil, err
	}
	deps := make(map[string]struct{}, len(vrec.shader.Modules))
	for _, id := range vrec.shader.Modules {
		deps[id] = struct{}{}
	}

	multisample := desc.Multisample
	if multisample.Count == 0 {
		multisample.Count = 1
	}
	if multisample.Mask == 0 {
		multisample.Mask = 0xFFFFFFFF
	}

	halDesc := &hal.RenderPipelineDescriptor{
		Label:  desc.Label,
		Layout: desc.Layout,
		Vertex: hal.VertexState{
			Module:     vrec.module,
			EntryPoint: vertexEntry,
			Buffers:    desc.VertexBuffers,
		},
		DepthStencil: desc.DepthStencil,
		Multisample:  multisample,
		Primitive:    desc.Primitive,
	}
	if desc.Fragment != nil {
		frec, fragmentEntry, err := m.resolveEntry(*desc.Fragment, ir.StageFragment)
		if err != nil {
			return nil, nil, err
		}
		for _, id := range frec.shader.Modules {
			deps[id] = struct{}{}
		}
		halDesc.Fragment = &hal.FragmentState{
			Module:     frec.module,
			EntryPoint: fragmentEntry,
			Targets:    desc.Targets,
		}
	}

	pipeline, err := m.device.CreateRenderPipeline(halDesc)
	if err != nil {
		return nil, nil, fmt.Errorf("create pipeline object: %w", err)
	}
	return pipeline, deps, nil
}

// buildCompute is buildRender for compute pipelines.
func (m *PipelineManager) buildCompute(desc *ComputePipelineDescriptor) (hal.ComputePipeline, map[string]struct{}, error) {
	rec, entry, err := m.resolveEntry(desc.Compute, ir.StageCompute)
	if err != nil {
		return nil, nil, err
	}
	deps := make(map[string]struct{}, len(rec.shader.Modules))
	for _, id := range rec.shader.Modules {
		deps[id] = struct{}{}
	}

	pipeline, err := m.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  desc.Label,
		Layout: desc.Layout,
		Compute: hal.ComputeState{
			Module:     rec.module,
			EntryPoint: entry,
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create pipeline object: %w", err)
	}
	return pipeline, deps, nil
}

// ReloadChanged drains the change source and brings the affected
// pipelines up to date. Duplicate events for one module within a drain
// collapse to one change. Every changed module is invalidated in the
// cache before any pipeline is rebuilt, so rebuilds observe the fully
// refreshed state for this sweep.
//
// A pipeline is rebuilt when its dependency set intersects the changed
// modules or when it is broken from an earlier sweep. Rebuild success
// swaps the backend object and dependency set in place; failure keeps
// the old object, marks the pipeline broken, and logs the diagnostic
// once for the attempt.
//
// Returns the number of rebuild attempts. Without a change source this
// is a no-op.
func (m *PipelineManager) ReloadChanged() int {
	if m.source == nil {
		return 0
	}
	drained := m.source.Changed()
	if len(drained) == 0 {
		return 0
	}

	changed := make(map[string]struct{}, len(drained))
	for _, id := range drained {
		changed[NormalizeModuleID(id)] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id := range changed {
		removed += len(m.cache.Invalidate(id))
	}
	Logger().Debug("reload sweep", "changed", len(changed), "invalidated", removed)

	attempts := 0
	for _, h := range sortedHandles(m.render) {
		rec := m.render[h]
		if !rec.broken && !intersects(rec.deps, changed) {
			continue
		}
		attempts++
		m.rebuildRender(rec)
	}
	for _, h := range sortedHandles(m.compute) {
		rec := m.compute[h]
		if !rec.broken && !intersects(rec.deps, changed) {
			continue
		}
		attempts++
		m.rebuildCompute(rec)
	}
	return attempts
}

// rebuildRender attempts one rebuild of rec from its stored descriptor.
func (m *PipelineManager) rebuildRender(rec *renderRecord) {
	atomic.AddUint64(&m.rebuilds, 1)
	pipeline, deps, err := m.buildRender(rec.desc)
	if err != nil {
		atomic.AddUint64(&m.failures, 1)
		rec.broken = true
		Logger().Warn("render pipeline rebuild failed",
			"pipeline", rec.desc.Label, "handle", uint64(rec.handle), "err", err)
		return
	}
	if rec.pipeline != nil {
		m.device.DestroyRenderPipeline(rec.pipeline)
	}
	recovered := rec.broken
	rec.pipeline = pipeline
	rec.deps = deps
	rec.broken = false
	if recovered {
		Logger().Info("render pipeline recovered",
			"pipeline", rec.desc.Label, "handle", uint64(rec.handle))
	} else {
		Logger().Debug("render pipeline rebuilt",
			"pipeline", rec.desc.Label, "handle", uint64(rec.handle))
	}
}

// rebuildCompute attempts one rebuild of rec from its stored descriptor.
func (m *PipelineManager) rebuildCompute(rec *computeRecord) {
	atomic.AddUint64(&m.rebuilds, 1)
	pipeline, deps, err := m.buildCompute(rec.desc)
	if err != nil {
		atomic.AddUint64(&m.failures, 1)
		rec.broken = true
		Logger().Warn("compute pipeline rebuild failed",
			"pipeline", rec.desc.Label, "handle", uint64(rec.handle), "err", err)
		return
	}
	if rec.pipeline != nil {
		m.device.DestroyComputePipeline(rec.pipeline)
	}
	recovered := rec.broken
	rec.pipeline = pipeline
	rec.deps = deps
	rec.broken = false
	if recovered {
		Logger().Info("compute pipeline recovered",
			"pipeline", rec.desc.Label, "handle", uint64(rec.handle))
	} else {
		Logger().Debug("compute pipeline rebuilt",
			"pipeline", rec.desc.Label, "handle", uint64(rec.handle))
	}
}

// intersects reports whether any changed module is in deps.
func intersects(deps, changed map[string]struct{}) bool {
	for id := range changed {
		if _, ok := deps[id]; ok {
			return true
		}
	}
	return false
}

// sortedHandles returns the map's keys in ascending order so sweeps and
// teardown are deterministic.
func sortedHandles[H ~uint64, R any](records map[H]*R) []H {
	handles := make([]H, 0, len(records))
	for h := range records {
		handles = append(handles, h)
	}
	slices.Sort(handles)
	return handles
}

// BrokenRenderPipelines returns the handles currently in the broken
// set, sorted ascending.
func (m *PipelineManager) BrokenRenderPipelines() []RenderPipelineHandle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var broken []RenderPipelineHandle
	for h, rec := range m.render {
		if rec.broken {
			broken = append(broken, h)
		}
	}
	slices.Sort(broken)
	return broken
}

// BrokenComputePipelines is BrokenRenderPipelines for compute handles.
func (m *PipelineManager) BrokenComputePipelines() []ComputePipelineHandle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var broken []ComputePipelineHandle
	for h, rec := range m.compute {
		if rec.broken {
			broken = append(broken, h)
		}
	}
	slices.Sort(broken)
	return broken
}

// ManagerStats is a snapshot of manager state for host diagnostics.
type ManagerStats struct {
	// RenderPipelines is the number of registered render pipelines.
	RenderPipelines int

	// ComputePipelines is the number of registered compute pipelines.
	ComputePipelines int

	// Broken is the number of pipelines whose last rebuild failed.
	Broken int

	// Rebuilds is the cumulative number of rebuild attempts.
	Rebuilds uint64

	// Failures is the cumulative number of failed rebuild attempts.
	Failures uint64
}

// Stats returns a snapshot of manager state.
func (m *PipelineManager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := ManagerStats{
		RenderPipelines:  len(m.render),
		ComputePipelines: len(m.compute),
		Rebuilds:         atomic.LoadUint64(&m.rebuilds),
		Failures:         atomic.LoadUint64(&m.failures),
	}
	for _, rec := range m.render {
		if rec.broken {
			stats.Broken++
		}
	}
	for _, rec := range m.compute {
		if rec.broken {
			stats.Broken++
		}
	}
	return stats
}

// Destroy destroys all pipeline objects in reverse creation order per
// kind and empties the manager. The shader cache is not touched; its
// owner destroys it separately.
func (m *PipelineManager) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()

	computeHandles := sortedHandles(m.compute)
	for i := len(computeHandles) - 1; i >= 0; i-- {
		rec := m.compute[computeHandles[i]]
		if rec.pipeline != nil {
			m.device.DestroyComputePipeline(rec.pipeline)
		}
	}
	renderHandles := sortedHandles(m.render)
	for i := len(renderHandles) - 1; i >= 0; i-- {
		rec := m.render[renderHandles[i]]
		if rec.pipeline != nil {
			m.device.DestroyRenderPipeline(rec.pipeline)
		}
	}

	m.render = make(map[RenderPipelineHandle]*renderRecord)
	m.compute = make(map[ComputePipelineHandle]*computeRecord)
}
