// Package batch provides the pagination window bulk jobs use to request
// bounded result pages.
package batch

import "math"

// Batch is a 1-based pagination cursor. There is no upper bound: callers
// stop once a page returns fewer than Size rows.
type Batch struct {
	size  int
	start int
}

// New returns a Batch starting at row 1. A size of zero, a negative size or
// math.MinInt (the unset sentinel of attr.Map.Int) is clamped to 1.
func New(size int) Batch {
	return NewAt(size, 1)
}

// NewAt is New with an explicit first row; start values below 1 become 1.
func NewAt(size, start int) Batch {
	if size <= 0 || size == math.MinInt {
		size = 1
	}
	if start < 1 {
		start = 1
	}
	return Batch{size: size, start: start}
}

func (b Batch) Size() int  { return b.size }
func (b Batch) Start() int { return b.start }

// End is the last row of the current window (inclusive).
func (b Batch) End() int { return b.start - 1 + b.size }

// Offset is the zero-based offset of Start, handy for LIMIT/OFFSET queries.
func (b Batch) Offset() int { return b.start - 1 }

// Next advances the window by Size rows.
func (b *Batch) Next() { b.start += b.size }

// Full reports whether a page of n rows filled the window, i.e. whether
// another page may exist.
func (b Batch) Full(n int) bool { return n >= b.size }
