package batch

import (
	"errors"
	"fmt"
)

// ErrInvalidRange marks malformed index arguments. Range validation happens
// before any host interaction so a bad range never leaves a half-applied
// operation behind.
var ErrInvalidRange = errors.New("invalid track range")

// TargetRange selects the tracks an operation applies to: an explicit index
// list, or an inclusive start/end pair when the list is empty.
type TargetRange struct {
	Indices []int `json:"track_indices,omitempty"`
	Start   *int  `json:"start_index,omitempty"`
	End     *int  `json:"end_index,omitempty"`
}

// Resolve expands the range into the ordered target list.
func (r TargetRange) Resolve() ([]int, error) {
	if len(r.Indices) > 0 {
		out := make([]int, 0, len(r.Indices))
		for _, idx := range r.Indices {
			if idx < 0 {
				return nil, fmt.Errorf("%w: track index %d is negative", ErrInvalidRange, idx)
			}
			out = append(out, idx)
		}
		return out, nil
	}
	if r.Start == nil || r.End == nil {
		return nil, fmt.Errorf("%w: track_indices or start_index/end_index required", ErrInvalidRange)
	}
	start, end := *r.Start, *r.End
	if start < 0 {
		return nil, fmt.Errorf("%w: start_index %d is negative", ErrInvalidRange, start)
	}
	if end < start {
		return nil, fmt.Errorf("%w: start_index %d exceeds end_index %d", ErrInvalidRange, start, end)
	}
	out := make([]int, 0, end-start+1)
	for i := start; i <= end; i++ {
		out = append(out, i)
	}
	return out, nil
}
