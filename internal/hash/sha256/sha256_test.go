// Package sha256 includes tests for the SHA-256 hasher adapter.
package sha256

import "testing"

// TestHasherKnownDigest pins the digest format the files service uses as a
// dedup key.
func TestHasherKnownDigest(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("syndicate-upload"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	want := "d4815e1f745186d3a8ab1970d2678c5159543dd16c3799655ddd599ce9606955"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if len(got) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(got))
	}
}

// TestHasherDistinguishesContent ensures different uploads get different keys.
func TestHasherDistinguishesContent(t *testing.T) {
	t.Parallel()

	h := New()
	a, err := h.Hash([]byte("image-a"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	b, err := h.Hash([]byte("image-b"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct digests, both were %s", a)
	}

	empty, err := h.Hash(nil)
	if err != nil {
		t.Fatalf("Hash(nil) error = %v", err)
	}
	if empty != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Fatalf("unexpected empty digest %s", empty)
	}
}
