// Package uuid includes tests for the UUID generator wrapper.
package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
)

// TestGeneratorNewID ensures generated IDs are valid, version 7, and ordered.
func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	first, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	second, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}

	parsed, err := goUUID.Parse(first)
	if err != nil {
		t.Fatalf("first not a valid UUID: %v", err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("expected version 7, got %d", parsed.Version())
	}
	// Listings sort document IDs as strings, so later IDs must compare
	// greater.
	if !(first < second) {
		t.Fatalf("expected %s < %s", first, second)
	}
}

// TestGeneratorNewRawID ensures raw UUIDs match the v7 layout.
func TestGeneratorNewRawID(t *testing.T) {
	t.Parallel()

	gen := New()
	raw, err := gen.NewRawID()
	if err != nil {
		t.Fatalf("NewRawID() error = %v", err)
	}
	if raw == goUUID.Nil {
		t.Fatal("expected a non-nil UUID")
	}
	if raw.Version() != 7 {
		t.Fatalf("expected version 7, got %d", raw.Version())
	}
}
