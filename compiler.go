package shade

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"
)

// ModuleStore supplies module sources to the Compiler and keeps the
// per-module results it produces. The Cache is the production store,
// recording dependent edges on load and allocating a handle for every
// stored module; ResolverStore serves cache-less uses such as one-shot
// validation, where nothing survives the call.
type ModuleStore interface {
	// LoadSource returns the parsed source entry for a module.
	LoadSource(moduleID string) (*SourceEntry, error)

	// CompiledModule returns the stored compilation of a module under a
	// flag set, if present.
	CompiledModule(moduleID string, flags FlagSet) (*CompiledShader, bool)

	// StoreModule records a fresh compilation of a module under a flag
	// set.
	StoreModule(moduleID string, flags FlagSet, shader *CompiledShader) error
}

// ResolverStore adapts a SourceResolver into a ModuleStore with no
// memoization: every load resolves and re-parses the text, and compiled
// modules are not retained between Compile calls.
type ResolverStore struct {
	Resolver SourceResolver
}

func (s ResolverStore) LoadSource(moduleID string) (*SourceEntry, error) {
	id := NormalizeModuleID(moduleID)
	text, err := s.Resolver.Resolve(id)
	if err != nil {
		return nil, err
	}
	imports, defines, err := parseDirectives(text)
	if err != nil {
		return nil, err
	}
	return &SourceEntry{ID: id, Text: text, Imports: imports, Defines: defines}, nil
}

func (s ResolverStore) CompiledModule(moduleID string, flags FlagSet) (*CompiledShader, bool) {
	return nil, false
}

func (s ResolverStore) StoreModule(moduleID string, flags FlagSet, shader *CompiledShader) error {
	return nil
}

// CompiledShader is one module composed with its import graph and
// validated: the single WGSL text produced by inlining the closure, the
// lowered IR it validated into, and the identifiers of every module
// consumed along the way.
type CompiledShader struct {
	// Body is the module's own expanded source, the part it contributes
	// to any composed shader that imports it.
	Body string

	// WGSL is the composed source, ready for a backend shader module.
	WGSL string

	// IR is the lowered module; its EntryPoints are addressable by name
	// and stage.
	IR *ir.Module

	// Modules is the dependency closure in composition order: imports
	// before importers, each module once, the root module last.
	Modules []string
}

// EntryPoint resolves an entry-point reference against the compiled
// module. An empty name selects the first entry point of the required
// stage in declaration order, which is stable for unchanged source. A
// non-empty name must match both the name and the stage.
func (cs *CompiledShader) EntryPoint(name string, stage ir.ShaderStage) (string, error) {
	for i := range cs.IR.EntryPoints {
		ep := &cs.IR.EntryPoints[i]
		if ep.Stage != stage {
			continue
		}
		if name == "" || ep.Name == name {
			return ep.Name, nil
		}
	}
	if name == "" {
		return "", fmt.Errorf("%w: no %s entry point", ErrEntryPointNotFound, stageName(stage))
	}
	return "", fmt.Errorf("%w: %s entry point %q", ErrEntryPointNotFound, stageName(stage), name)
}

// stageName returns a human-readable name for a shader stage.
func stageName(stage ir.ShaderStage) string {
	switch stage {
	case ir.StageVertex:
		return "vertex"
	case ir.StageFragment:
		return "fragment"
	case ir.StageCompute:
		return "compute"
	default:
		return "unknown"
	}
}

// Compiler turns one module plus its import graph into composed shaders,
// one per module visited. Imports are compiled depth-first before their
// importer and each result is handed to the store; the importer is then
// composed from the bodies of its dependency closure, so declarations
// bind by name in the composed text. A visited set caps the recursion
// and turns cyclic imports into an error instead of a stack overflow.
//
// The Compiler itself holds no state between calls and no lock; the
// store decides what survives a call.
type Compiler struct {
	store ModuleStore
}

// NewCompiler returns a Compiler working against store.
func NewCompiler(store ModuleStore) *Compiler {
	return &Compiler{store: store}
}

// compileState accumulates one Compile call's traversal.
type compileState struct {
	flags    FlagSet
	visiting map[string]bool
	done     map[string]*CompiledShader
	stack    []string
}

// Compile resolves, expands and composes moduleID with the given feature
// flags, validating each composed module with the WGSL compiler. Every
// module in the import graph that the store does not already hold is
// compiled and stored, imports before importers; modules stored before a
// failure stay stored. All compilation failures are *CompileError values
// carrying the identifier of the module that failed, which for a broken
// import is the import itself.
func (c *Compiler) Compile(moduleID string, flags FlagSet) (*CompiledShader, error) {
	st := &compileState{
		flags:    flags,
		visiting: make(map[string]bool),
		done:     make(map[string]*CompiledShader),
	}
	return c.compile(st, NormalizeModuleID(moduleID))
}

// compile compiles id, imports first. Each module is compiled at most
// once per call, so diamond imports contribute a single copy to each
// closure.
func (c *Compiler) compile(st *compileState, id string) (*CompiledShader, error) {
	if cs, ok := c.compiled(st, id); ok {
		return cs, nil
	}
	if st.visiting[id] {
		from := slices.Index(st.stack, id)
		cycle := append(slices.Clone(st.stack[from:]), id)
		return nil, compileErrorf(id, "%w: %s", ErrCycleDetected, strings.Join(cycle, " -> "))
	}
	st.visiting[id] = true
	st.stack = append(st.stack, id)

	entry, err := c.store.LoadSource(id)
	if err != nil {
		return nil, &CompileError{Module: id, Err: err}
	}

	closure := make([]string, 0, len(entry.Imports)+1)
	seen := make(map[string]bool, len(entry.Imports)+1)
	for _, imp := range entry.Imports {
		sub, err := c.compile(st, imp)
		if err != nil {
			return nil, err
		}
		for _, m := range sub.Modules {
			if !seen[m] {
				seen[m] = true
				closure = append(closure, m)
			}
		}
	}

	effective := st.flags
	if len(entry.Defines) > 0 {
		effective = st.flags.Clone()
		if effective == nil {
			effective = make(FlagSet, len(entry.Defines))
		}
		for _, d := range entry.Defines {
			effective[d] = struct{}{}
		}
	}
	body, err := expandConditionals(entry.Text, effective)
	if err != nil {
		return nil, &CompileError{Module: id, Err: err}
	}
	closure = append(closure, id)

	parts := make([]string, 0, len(closure))
	for _, m := range closure {
		if m == id {
			parts = append(parts, body)
			continue
		}
		sub, ok := c.compiled(st, m)
		if !ok {
			return nil, compileErrorf(id, "import %q missing from store during composition", m)
		}
		parts = append(parts, sub.Body)
	}
	composed := strings.Join(parts, "\n")

	ast, err := naga.Parse(composed)
	if err != nil {
		return nil, compileErrorf(id, "parse composed source: %w", err)
	}
	mod, err := naga.Lower(ast)
	if err != nil {
		return nil, compileErrorf(id, "lower composed source: %w", err)
	}

	cs := &CompiledShader{Body: body, WGSL: composed, IR: mod, Modules: closure}
	if err := c.store.StoreModule(id, st.flags, cs); err != nil {
		return nil, err
	}

	st.stack = st.stack[:len(st.stack)-1]
	delete(st.visiting, id)
	st.done[id] = cs
	return cs, nil
}

// compiled returns the already-compiled module for id, from this call's
// work or from the store.
func (c *Compiler) compiled(st *compileState, id string) (*CompiledShader, bool) {
	if cs, ok := st.done[id]; ok {
		return cs, true
	}
	return c.store.CompiledModule(id, st.flags)
}
