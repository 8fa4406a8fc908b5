package shade

import (
	"path"
	"slices"
	"strings"
)

// SourceExt is the file extension of shader module source files.
const SourceExt = ".wgsl"

// NormalizeModuleID converts a path-like string into the canonical module
// identifier form: forward slashes, no ".wgsl" suffix, no leading "./",
// redundant separators collapsed. Two identifiers name the same module
// exactly when their normalized forms are equal (comparison is
// case-sensitive).
//
// Identifiers are logical paths relative to a resolver root; they carry no
// information about where the source actually lives. Resolvers, the
// compiler, pipeline descriptors and the change watcher all normalize
// through this single function so that platform path separators never
// cause a spurious cache miss.
func NormalizeModuleID(id string) string {
	id = strings.ReplaceAll(id, `\`, "/")
	id = strings.TrimSuffix(id, SourceExt)
	id = path.Clean(id)
	if id == "." || id == "/" {
		return ""
	}
	return strings.TrimPrefix(id, "/")
}

// FlagSet is a set of feature-flag symbols. Flags select conditional
// compilation branches (#ifdef / #ifndef) when a module is composed,
// producing pipeline-specific variants from shared source.
//
// A nil FlagSet is a valid empty set.
type FlagSet map[string]struct{}

// NewFlagSet builds a FlagSet from the given symbols.
func NewFlagSet(symbols ...string) FlagSet {
	if len(symbols) == 0 {
		return nil
	}
	f := make(FlagSet, len(symbols))
	for _, s := range symbols {
		f[s] = struct{}{}
	}
	return f
}

// Has reports whether the symbol is enabled.
func (f FlagSet) Has(symbol string) bool {
	_, ok := f[symbol]
	return ok
}

// Clone returns an independent copy of the set. Clone of a nil set is nil.
func (f FlagSet) Clone() FlagSet {
	if f == nil {
		return nil
	}
	c := make(FlagSet, len(f))
	for s := range f {
		c[s] = struct{}{}
	}
	return c
}

// Symbols returns the enabled symbols in sorted order.
func (f FlagSet) Symbols() []string {
	if len(f) == 0 {
		return nil
	}
	symbols := make([]string, 0, len(f))
	for s := range f {
		symbols = append(symbols, s)
	}
	slices.Sort(symbols)
	return symbols
}

// Key returns the canonical cache-key form of the set: the sorted symbols
// joined with ",". Two sets with equal members produce the same key
// regardless of construction order; the empty set's key is "".
func (f FlagSet) Key() string {
	if len(f) == 0 {
		return ""
	}
	return strings.Join(f.Symbols(), ",")
}

// SourceEntry is the parsed form of one module's raw source text: the text
// itself plus the preprocessor metadata extracted from it. Entries are
// created when a module is first resolved and destroyed when the module is
// invalidated.
//
// Imports and Defines are flag-independent: an import inside an #ifdef
// block is still a declared import. Dependency edges derived from them may
// over-approximate the modules actually composed for a given flag set,
// which at worst invalidates a little too much, never too little.
type SourceEntry struct {
	// ID is the normalized module identifier.
	ID string

	// Text is the raw source text, directives included.
	Text string

	// Imports lists the declared import identifiers in declaration order,
	// normalized.
	Imports []string

	// Defines lists the feature-flag symbols the module declares with
	// #define, in declaration order.
	Defines []string
}
