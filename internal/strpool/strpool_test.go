package strpool

import (
	"testing"

	"embervm/internal/heap"
)

func TestInternReturnsSamePointerForEqualBytes(t *testing.T) {
	p := New()
	a := p.Intern("hello")
	b := p.Intern("hello")
	if a != b {
		t.Fatal("Intern returned distinct pointers for the same byte content")
	}
	if p.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", p.Len())
	}
}

func TestInternDistinctContentDistinctPointers(t *testing.T) {
	p := New()
	a := p.Intern("hello")
	b := p.Intern("world")
	if a == b {
		t.Fatal("Intern returned the same pointer for distinct content")
	}
	if p.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", p.Len())
	}
}

func TestInternBytesAgreesWithIntern(t *testing.T) {
	p := New()
	a := p.Intern("same")
	b := p.InternBytes([]byte("same"))
	if a != b {
		t.Fatal("InternBytes did not return the same canonical *heap.String as Intern")
	}
}

func TestSweepFreesOnlyWhiteNonPermanent(t *testing.T) {
	p := New()
	live := p.Intern("live")
	_ = p.Intern("dead")
	perm := p.Intern("permanent")
	perm.IsPermanent = true

	isWhite := func(h *heap.Header) bool { return h != &live.Header }
	freed := p.Sweep(isWhite)

	if freed != 1 {
		t.Fatalf("Sweep freed %d entries, want 1 (only 'dead')", freed)
	}
	if p.Len() != 2 {
		t.Fatalf("Len() after sweep = %d, want 2 (live + permanent)", p.Len())
	}
	if live2 := p.Intern("live"); live2 != live {
		t.Fatal("surviving 'live' string lost its canonical pointer identity after sweep")
	}
}
