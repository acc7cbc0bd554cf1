package batch

import (
	"math"
	"testing"
)

func TestBatchClampsSize(t *testing.T) {
	t.Parallel()
	for _, size := range []int{-5, 0, math.MinInt} {
		b := New(size)
		if b.Size() != 1 || b.Start() != 1 || b.End() != 1 {
			t.Fatalf("New(%d) = size %d start %d end %d, want 1 1 1", size, b.Size(), b.Start(), b.End())
		}
		b.Next()
		if b.Start() != 2 || b.End() != 2 {
			t.Fatalf("after Next: start %d end %d, want 2 2", b.Start(), b.End())
		}
	}
}

func TestBatchWindowArithmetic(t *testing.T) {
	t.Parallel()
	tests := []struct {
		size, start int
	}{
		{1, 1}, {10, 1}, {25, 101}, {7, 3},
	}
	for _, tt := range tests {
		b := NewAt(tt.size, tt.start)
		for i := 0; i < 4; i++ {
			if got, want := b.End(), b.Start()-1+b.Size(); got != want {
				t.Fatalf("End() = %d, want %d", got, want)
			}
			prev := b.Start()
			b.Next()
			if b.Start() != prev+tt.size {
				t.Fatalf("Next(): start = %d, want %d", b.Start(), prev+tt.size)
			}
		}
	}
}

func TestBatchOffsetAndFull(t *testing.T) {
	t.Parallel()
	b := NewAt(50, 0)
	if b.Start() != 1 || b.Offset() != 0 {
		t.Fatalf("start %d offset %d, want 1 0", b.Start(), b.Offset())
	}
	if !b.Full(50) || b.Full(49) {
		t.Fatal("Full() mismatch")
	}
	b.Next()
	if b.Offset() != 50 {
		t.Fatalf("offset = %d, want 50", b.Offset())
	}
}
