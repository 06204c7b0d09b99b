package types

import (
	"testing"
)

// TestSplitJoinPath covers the component codec used by report keys.
func TestSplitJoinPath(t *testing.T) {
	cases := []struct {
		path       string
		components []string
		rejoined   string
	}{
		{".", nil, "."},
		{"", nil, "."},
		{"/", nil, "."},
		{"a", []string{"a"}, "a"},
		{"a/b/c", []string{"a", "b", "c"}, "a/b/c"},
		{"a//b/", []string{"a", "b"}, "a/b"},
		{"/abs/path", []string{"abs", "path"}, "abs/path"},
		{"a/./b", []string{"a", "b"}, "a/b"},
	}
	for _, tc := range cases {
		got := SplitPath(tc.path)
		if len(got) != len(tc.components) {
			t.Errorf("SplitPath(%q) = %v, want %v", tc.path, got, tc.components)
			continue
		}
		for i := range got {
			if got[i] != tc.components[i] {
				t.Errorf("SplitPath(%q) = %v, want %v", tc.path, got, tc.components)
				break
			}
		}
		if rejoined := JoinPath(got); rejoined != tc.rejoined {
			t.Errorf("JoinPath(SplitPath(%q)) = %q, want %q", tc.path, rejoined, tc.rejoined)
		}
	}
}

// TestDigest checks hex rendering and value semantics.
func TestDigest(t *testing.T) {
	d1 := DigestOf([]byte("hello"))
	d2 := DigestOf([]byte("hello"))
	d3 := DigestOf([]byte("world"))
	if d1 != d2 {
		t.Error("equal content produced unequal digests")
	}
	if d1 == d3 {
		t.Error("different content produced equal digests")
	}
	if len(d1.String()) != DigestSize*2 {
		t.Errorf("String() length %d, want %d", len(d1.String()), DigestSize*2)
	}
	if len(d1.Short()) != 12 {
		t.Errorf("Short() length %d, want 12", len(d1.Short()))
	}
}

// TestSignatureResolved checks the unresolved sentinel.
func TestSignatureResolved(t *testing.T) {
	sig := FileSignature{ClassID: ClassUnresolved}
	if sig.Resolved() {
		t.Error("unresolved signature reported resolved")
	}
	sig.ClassID = 0
	if !sig.Resolved() {
		t.Error("class 0 signature reported unresolved")
	}
}
