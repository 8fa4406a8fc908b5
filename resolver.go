package shade

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// SourceResolver maps a module identifier to raw shader source text.
//
// Resolvers do not cache: memoization of both text and compiled objects is
// the Cache's job. A failed lookup returns an error wrapping
// [ErrModuleNotFound]; resolvers never panic on unknown identifiers.
type SourceResolver interface {
	Resolve(moduleID string) (string, error)
}

// DirResolver is the live filesystem backend: it maps module identifiers
// onto a root directory and reads files on every call, so edits on disk
// are visible immediately. This is the development-time resolver, usually
// paired with a watch.Watcher over the same root.
type DirResolver struct {
	root string
}

// NewDirResolver returns a resolver serving identifiers relative to root.
func NewDirResolver(root string) *DirResolver {
	return &DirResolver{root: root}
}

// Root returns the resolver's root directory.
func (r *DirResolver) Root() string { return r.root }

func (r *DirResolver) Resolve(moduleID string) (string, error) {
	id := NormalizeModuleID(moduleID)
	if id == "" {
		return "", fmt.Errorf("%w: empty module id %q", ErrModuleNotFound, moduleID)
	}
	if id == ".." || strings.HasPrefix(id, "../") {
		return "", fmt.Errorf("%w: %q escapes the resolver root", ErrModuleNotFound, id)
	}
	data, err := os.ReadFile(filepath.Join(r.root, filepath.FromSlash(id)+SourceExt))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %q", ErrModuleNotFound, id)
		}
		return "", fmt.Errorf("read module %q: %w", id, err)
	}
	return string(data), nil
}

// StaticResolver is the embedded snapshot backend: a fixed table of
// (identifier, text) pairs captured once at construction. Lookups never
// touch the filesystem and never reflect changes made after the snapshot
// was taken, which is the behavior deployed builds want.
//
// The usual source is an embed.FS:
//
//	//go:embed shaders
//	var shaderFS embed.FS
//
//	sub, _ := fs.Sub(shaderFS, "shaders")
//	resolver, err := shade.NewStaticResolver(sub)
//
// Identifiers are derived from file paths within fsys, so fs.Sub selects
// the directory that identifiers are relative to.
type StaticResolver struct {
	sources map[string]string
}

// NewStaticResolver walks fsys and snapshots every *.wgsl file into an
// identifier-to-text table.
func NewStaticResolver(fsys fs.FS) (*StaticResolver, error) {
	sources := make(map[string]string)
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, SourceExt) {
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		sources[NormalizeModuleID(p)] = string(data)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("shade: snapshot shader sources: %w", err)
	}
	return &StaticResolver{sources: sources}, nil
}

// Len returns the number of modules in the snapshot.
func (r *StaticResolver) Len() int { return len(r.sources) }

func (r *StaticResolver) Resolve(moduleID string) (string, error) {
	id := NormalizeModuleID(moduleID)
	text, ok := r.sources[id]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrModuleNotFound, id)
	}
	return text, nil
}

var (
	_ SourceResolver = (*DirResolver)(nil)
	_ SourceResolver = (*StaticResolver)(nil)
)
