package tuple

import (
	"errors"
	"fmt"
	"sort"
)

// ErrMaskOutOfRange is returned when a mask refers to a position beyond the source width.
var ErrMaskOutOfRange = errors.New("mask index out of range")

// Mask is an ordered list of source positions with a declared source width. Applying a mask
// to a tuple yields the projection of the tuple onto the listed positions.
type Mask struct {
	indices     []int
	sourceWidth int
}

// NewMask creates a mask over tuples of the given width.
func NewMask(sourceWidth int, indices ...int) (Mask, error) {
	if sourceWidth < 0 {
		return Mask{}, fmt.Errorf("invalid source width %d: %w", sourceWidth, ErrMaskOutOfRange)
	}
	is := make([]int, len(indices))
	for i, idx := range indices {
		if idx < 0 || idx >= sourceWidth {
			return Mask{}, fmt.Errorf("index %d for source width %d: %w", idx, sourceWidth, ErrMaskOutOfRange)
		}
		is[i] = idx
	}
	return Mask{indices: is, sourceWidth: sourceWidth}, nil
}

// MustMask is like NewMask but panics on error. Meant for static masks in tests and examples.
func MustMask(sourceWidth int, indices ...int) Mask {
	m, err := NewMask(sourceWidth, indices...)
	if err != nil {
		panic(err)
	}
	return m
}

// Identity returns the identity mask of the given width.
func Identity(width int) Mask {
	is := make([]int, width)
	for i := range is {
		is[i] = i
	}
	return Mask{indices: is, sourceWidth: width}
}

// Transform projects a tuple through the mask.
func (m Mask) Transform(t Tuple) (Tuple, error) {
	if t.Width() != m.sourceWidth {
		return Tuple{}, fmt.Errorf("tuple %s has width %d, mask expects %d: %w", t, t.Width(),
			m.sourceWidth, ErrMaskOutOfRange)
	}
	vs := make([]any, len(m.indices))
	for i, idx := range m.indices {
		vs[i] = t.values[idx]
	}
	return New(vs...), nil
}

// Indices returns a copy of the projected positions.
func (m Mask) Indices() []int {
	is := make([]int, len(m.indices))
	copy(is, m.indices)
	return is
}

// SourceWidth returns the width of the tuples the mask applies to.
func (m Mask) SourceWidth() int { return m.sourceWidth }

// Width returns the width of the projected tuples.
func (m Mask) Width() int { return len(m.indices) }

// IsIdentity reports whether the mask keeps every position in order.
func (m Mask) IsIdentity() bool {
	if len(m.indices) != m.sourceWidth {
		return false
	}
	for i, idx := range m.indices {
		if i != idx {
			return false
		}
	}
	return true
}

// IsTrueTrimming reports whether the mask drops some source positions, in which case distinct
// source tuples may collapse into the same projection.
func (m Mask) IsTrueTrimming() bool {
	seen := map[int]bool{}
	for _, idx := range m.indices {
		seen[idx] = true
	}
	return len(seen) != m.sourceWidth
}

// Complement returns the mask of the source positions not covered by m, in ascending order.
func (m Mask) Complement() Mask {
	used := map[int]bool{}
	for _, idx := range m.indices {
		used[idx] = true
	}
	rest := []int{}
	for i := 0; i < m.sourceWidth; i++ {
		if !used[i] {
			rest = append(rest, i)
		}
	}
	sort.Ints(rest)
	return Mask{indices: rest, sourceWidth: m.sourceWidth}
}

func (m Mask) String() string {
	return fmt.Sprintf("mask%v/%d", m.indices, m.sourceWidth)
}
