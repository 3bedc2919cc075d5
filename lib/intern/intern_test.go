// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package intern

import (
	"fmt"
	"sync"
	"testing"
)

func TestInternRoundTrip(t *testing.T) {
	in := New()
	a := in.Intern("bash")
	b := in.Intern("coreutils")
	if a == b {
		t.Fatal("distinct strings interned to the same handle")
	}
	if again := in.Intern("bash"); again != a {
		t.Errorf("re-interning returned %d, want %d", again, a)
	}
	if got := in.Resolve(a); got != "bash" {
		t.Errorf("Resolve(a) = %q, want %q", got, "bash")
	}
	if got := in.Resolve(b); got != "coreutils" {
		t.Errorf("Resolve(b) = %q, want %q", got, "coreutils")
	}
	if in.Len() != 2 {
		t.Errorf("Len = %d, want 2", in.Len())
	}
}

func TestLookupDoesNotAllocate(t *testing.T) {
	in := New()
	if _, ok := in.Lookup("missing"); ok {
		t.Error("Lookup of never-interned string reported ok")
	}
	if in.Len() != 0 {
		t.Errorf("Lookup allocated a handle: Len = %d", in.Len())
	}
	handle := in.Intern("present")
	got, ok := in.Lookup("present")
	if !ok || got != handle {
		t.Errorf("Lookup = (%d, %v), want (%d, true)", got, ok, handle)
	}
}

func TestZeroHandleNeverIssued(t *testing.T) {
	in := New()
	if handle := in.Intern(""); handle == 0 {
		t.Error("empty string interned to the zero handle")
	}
}

func TestResolveInvalidPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Resolve of invalid handle did not panic")
		}
	}()
	New().Resolve(42)
}

func TestConcurrentIntern(t *testing.T) {
	in := New()
	var wg sync.WaitGroup
	results := make([][]Handle, 8)
	for worker := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handles := make([]Handle, 100)
			for i := range handles {
				handles[i] = in.Intern(fmt.Sprintf("pkg-%d", i))
			}
			results[worker] = handles
		}()
	}
	wg.Wait()

	for worker := 1; worker < len(results); worker++ {
		for i := range results[0] {
			if results[worker][i] != results[0][i] {
				t.Fatalf("worker %d got handle %d for pkg-%d, worker 0 got %d",
					worker, results[worker][i], i, results[0][i])
			}
		}
	}
	if in.Len() != 100 {
		t.Errorf("Len = %d, want 100", in.Len())
	}
}

func TestRefTypes(t *testing.T) {
	in := New()
	pkg := InternPackage(in, "linux")
	arch := InternArch(in, "x86_64")
	if pkg.String(in) != "linux" {
		t.Errorf("PackageRef.String = %q", pkg.String(in))
	}
	if arch.String(in) != "x86_64" {
		t.Errorf("ArchRef.String = %q", arch.String(in))
	}
}
