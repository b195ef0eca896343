// Package chunker splits file text into bounded, overlapping segments
// suitable for embedding. Segments are produced in order of their start
// offsets and adjacent segments share Overlap bytes so statements near a
// boundary appear in both.
package chunker

import (
	"fmt"
	"iter"
	"strings"
	"unicode/utf8"
)

const (
	DefaultSize     = 1000
	DefaultOverlap  = 200
	DefaultMinChunk = 50
	DefaultMaxSize  = 8000
)

// Segment is one contiguous slice of the input. Start and End are byte
// offsets into the original text, half-open [Start, End).
type Segment struct {
	Content string
	Start   int
	End     int
}

// Chunker produces fixed-size overlapping segments. The step between
// consecutive segment starts is Size minus Overlap.
type Chunker struct {
	Size     int
	Overlap  int
	MinChunk int
	MaxSize  int
}

// New validates the parameters and returns a Chunker. Overlap must be
// strictly smaller than Size or the walk would never advance.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("overlap must be non-negative, got %d", overlap)
	}
	if overlap >= size {
		return nil, fmt.Errorf("overlap %d must be smaller than size %d", overlap, size)
	}
	if size > DefaultMaxSize {
		return nil, fmt.Errorf("chunk size %d exceeds maximum %d", size, DefaultMaxSize)
	}
	return &Chunker{
		Size:     size,
		Overlap:  overlap,
		MinChunk: DefaultMinChunk,
		MaxSize:  DefaultMaxSize,
	}, nil
}

// Default returns a chunker with the standard indexing parameters.
func Default() *Chunker {
	c, _ := New(DefaultSize, DefaultOverlap)
	return c
}

// Segments lazily yields the segments of text in start-offset order.
// Empty or whitespace-only input yields nothing; input shorter than
// MinChunk yields a single segment covering all of it.
func (c *Chunker) Segments(text string) iter.Seq[Segment] {
	return func(yield func(Segment) bool) {
		if strings.TrimSpace(text) == "" {
			return
		}
		n := len(text)
		if n < c.MinChunk {
			yield(Segment{Content: text, Start: 0, End: n})
			return
		}
		step := c.Size - c.Overlap
		for start := 0; start < n; start += step {
			s, end := start, start+c.Size
			if end >= n {
				end = n
			} else {
				// Keep segment content valid UTF-8: never cut a
				// multi-byte rune in half. A rune straddling the end
				// moves whole into the next segment, whose start backs
				// off to the same rune boundary.
				for end > s && !utf8.RuneStart(text[end]) {
					end--
				}
			}
			for s > 0 && !utf8.RuneStart(text[s]) {
				s--
			}
			if !yield(Segment{Content: text[s:end], Start: s, End: end}) {
				return
			}
			if end == n {
				return
			}
		}
	}
}

// Split collects all segments of text into a slice.
func (c *Chunker) Split(text string) []Segment {
	var out []Segment
	for s := range c.Segments(text) {
		out = append(out, s)
	}
	return out
}
