// Package paramdiff decides which parameter writes are redundant. Normalized
// values are not comparable across parameter curves, so equality is judged
// on the host's formatted display strings instead.
package paramdiff

// SkipReason is recorded with every write the diff suppressed.
const SkipReason = "displayed_value matches current value"

// ShouldWrite reports whether a value should be sent given the expected
// display string supplied by the caller and the slot's current display
// string. Only a non-empty expectation that exactly matches the current
// string makes the write skippable; absent or differing expectations always
// write.
func ShouldWrite(incoming, current string) bool {
	return incoming == "" || incoming != current
}

// Skip records one suppressed write.
type Skip struct {
	Index   int     `json:"index"`
	Value   float64 `json:"value"`
	Display string  `json:"displayed_value"`
	Reason  string  `json:"reason"`
}

// NewSkip builds the record for a suppressed write of value at index.
func NewSkip(index int, value float64, display string) Skip {
	return Skip{Index: index, Value: value, Display: display, Reason: SkipReason}
}
