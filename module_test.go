package shade

import (
	"slices"
	"testing"
)

func TestNormalizeModuleID(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "terrain", "terrain"},
		{"nested", "fills/radial", "fills/radial"},
		{"extension stripped", "fills/radial.wgsl", "fills/radial"},
		{"backslashes", `fills\radial.wgsl`, "fills/radial"},
		{"mixed separators", `shared\lighting/brdf`, "shared/lighting/brdf"},
		{"leading dot slash", "./sky", "sky"},
		{"leading slash", "/sky", "sky"},
		{"redundant separators", "a//b/./c", "a/b/c"},
		{"inner parent dir", "a/b/../c", "a/c"},
		{"case preserved", "Sky/Atmosphere", "Sky/Atmosphere"},
		{"empty", "", ""},
		{"dot", ".", ""},
		{"root", "/", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeModuleID(tt.in); got != tt.want {
				t.Errorf("NormalizeModuleID(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeModuleID_Idempotent(t *testing.T) {
	for _, in := range []string{`fills\radial.wgsl`, "./a//b", "sky.wgsl"} {
		once := NormalizeModuleID(in)
		twice := NormalizeModuleID(once)
		if once != twice {
			t.Errorf("NormalizeModuleID not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestFlagSet_KeyOrderIndependent(t *testing.T) {
	f1 := NewFlagSet("SHADOWS", "MSAA", "FOG")
	f2 := NewFlagSet("FOG", "SHADOWS", "MSAA")

	if f1.Key() != f2.Key() {
		t.Errorf("keys differ for equal sets: %q != %q", f1.Key(), f2.Key())
	}
	if f1.Key() != "FOG,MSAA,SHADOWS" {
		t.Errorf("Key() = %q, want sorted join", f1.Key())
	}
}

func TestFlagSet_KeyDistinct(t *testing.T) {
	f1 := NewFlagSet("SHADOWS")
	f2 := NewFlagSet("SHADOWS", "MSAA")

	if f1.Key() == f2.Key() {
		t.Errorf("different sets share key %q", f1.Key())
	}
}

func TestFlagSet_Empty(t *testing.T) {
	var nilSet FlagSet
	if nilSet.Key() != "" {
		t.Errorf("nil set Key() = %q, want empty", nilSet.Key())
	}
	if nilSet.Has("ANY") {
		t.Error("nil set should contain nothing")
	}
	if NewFlagSet() != nil {
		t.Error("NewFlagSet() with no symbols should return nil")
	}
	if got := nilSet.Symbols(); got != nil {
		t.Errorf("nil set Symbols() = %v, want nil", got)
	}
}

func TestFlagSet_Has(t *testing.T) {
	f := NewFlagSet("SHADOWS", "MSAA")
	if !f.Has("SHADOWS") {
		t.Error("Has(SHADOWS) = false, want true")
	}
	if f.Has("FOG") {
		t.Error("Has(FOG) = true, want false")
	}
}

func TestFlagSet_Symbols(t *testing.T) {
	f := NewFlagSet("Z_PREPASS", "ALPHA", "MID")
	want := []string{"ALPHA", "MID", "Z_PREPASS"}
	if got := f.Symbols(); !slices.Equal(got, want) {
		t.Errorf("Symbols() = %v, want %v", got, want)
	}
}

func TestFlagSet_CloneIndependent(t *testing.T) {
	orig := NewFlagSet("A", "B")
	clone := orig.Clone()

	clone["C"] = struct{}{}
	if orig.Has("C") {
		t.Error("mutating the clone leaked into the original")
	}
	delete(clone, "A")
	if !orig.Has("A") {
		t.Error("deleting from the clone leaked into the original")
	}

	var nilSet FlagSet
	if nilSet.Clone() != nil {
		t.Error("Clone of nil set should be nil")
	}
}
