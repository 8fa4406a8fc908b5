package shade

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
)

// writeShader writes one module source under root, creating parent
// directories as needed.
func writeShader(t *testing.T, root, id, text string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(id)+SourceExt)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", id, err)
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatalf("write %s: %v", id, err)
	}
}

func TestDirResolver_Resolve(t *testing.T) {
	root := t.TempDir()
	writeShader(t, root, "sky", "// sky module\n")
	writeShader(t, root, "fills/radial", "// radial fill\n")

	r := NewDirResolver(root)

	tests := []struct {
		name string
		id   string
		want string
	}{
		{"plain id", "sky", "// sky module\n"},
		{"nested id", "fills/radial", "// radial fill\n"},
		{"id with extension", "fills/radial.wgsl", "// radial fill\n"},
		{"unnormalized id", "./fills//radial", "// radial fill\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(tt.id)
			if err != nil {
				t.Fatalf("Resolve(%q) = %v", tt.id, err)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestDirResolver_NotFound(t *testing.T) {
	r := NewDirResolver(t.TempDir())

	for _, id := range []string{"missing", "deep/missing", ""} {
		_, err := r.Resolve(id)
		if !errors.Is(err, ErrModuleNotFound) {
			t.Errorf("Resolve(%q) = %v, want ErrModuleNotFound", id, err)
		}
	}
}

func TestDirResolver_RejectsRootEscape(t *testing.T) {
	root := t.TempDir()
	// A sibling file outside the resolver root must stay unreachable.
	outside := filepath.Join(filepath.Dir(root), "outside"+SourceExt)
	if err := os.WriteFile(outside, []byte("// outside"), 0o644); err != nil {
		t.Fatalf("write outside file: %v", err)
	}
	t.Cleanup(func() { os.Remove(outside) })

	r := NewDirResolver(root)
	_, err := r.Resolve("../outside")
	if !errors.Is(err, ErrModuleNotFound) {
		t.Errorf("Resolve(../outside) = %v, want ErrModuleNotFound", err)
	}
}

func TestDirResolver_SeesLiveEdits(t *testing.T) {
	root := t.TempDir()
	writeShader(t, root, "live", "v1")

	r := NewDirResolver(root)
	if got, _ := r.Resolve("live"); got != "v1" {
		t.Fatalf("Resolve = %q, want v1", got)
	}

	writeShader(t, root, "live", "v2")
	got, err := r.Resolve("live")
	if err != nil {
		t.Fatalf("Resolve after edit: %v", err)
	}
	if got != "v2" {
		t.Errorf("Resolve after edit = %q, want v2 (resolver must not cache)", got)
	}
}

func TestStaticResolver_Resolve(t *testing.T) {
	fsys := fstest.MapFS{
		"sky.wgsl":          {Data: []byte("// sky")},
		"fills/radial.wgsl": {Data: []byte("// radial")},
		"readme.md":         {Data: []byte("not a shader")},
	}
	r, err := NewStaticResolver(fsys)
	if err != nil {
		t.Fatalf("NewStaticResolver: %v", err)
	}

	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2 (non-shader files excluded)", r.Len())
	}
	if got, err := r.Resolve("sky"); err != nil || got != "// sky" {
		t.Errorf("Resolve(sky) = %q, %v", got, err)
	}
	if got, err := r.Resolve("fills/radial.wgsl"); err != nil || got != "// radial" {
		t.Errorf("Resolve(fills/radial.wgsl) = %q, %v", got, err)
	}
	if _, err := r.Resolve("readme"); !errors.Is(err, ErrModuleNotFound) {
		t.Errorf("Resolve(readme) = %v, want ErrModuleNotFound", err)
	}
}

func TestStaticResolver_SnapshotIsFixed(t *testing.T) {
	file := &fstest.MapFile{Data: []byte("original")}
	fsys := fstest.MapFS{"frozen.wgsl": file}

	r, err := NewStaticResolver(fsys)
	if err != nil {
		t.Fatalf("NewStaticResolver: %v", err)
	}

	// Mutations after construction must not be visible.
	file.Data = []byte("mutated")
	fsys["late.wgsl"] = &fstest.MapFile{Data: []byte("late")}

	if got, _ := r.Resolve("frozen"); got != "original" {
		t.Errorf("Resolve(frozen) = %q, want the snapshot text", got)
	}
	if _, err := r.Resolve("late"); !errors.Is(err, ErrModuleNotFound) {
		t.Errorf("Resolve(late) = %v, want ErrModuleNotFound", err)
	}
}

func TestStaticResolver_WalksNestedDirs(t *testing.T) {
	fsys := fstest.MapFS{
		"a/b/c/deep.wgsl": {Data: []byte("// deep")},
	}
	r, err := NewStaticResolver(fsys)
	if err != nil {
		t.Fatalf("NewStaticResolver: %v", err)
	}
	if got, err := r.Resolve("a/b/c/deep"); err != nil || got != "// deep" {
		t.Errorf("Resolve(a/b/c/deep) = %q, %v", got, err)
	}
}
