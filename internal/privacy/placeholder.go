package privacy

import (
	"fmt"
	"regexp"
	"strconv"
)

// placeholderPattern is the stable wire grammar [PHI_<CATEGORY>_<n>]
var placeholderPattern = regexp.MustCompile(`\[PHI_([A-Z]+(?:_[A-Z]+)*)_([1-9][0-9]*)\]`)

var exactPlaceholderPattern = regexp.MustCompile(`^` + placeholderPattern.String() + `$`)

// FormatPlaceholder renders the placeholder for the n-th match of a category
func FormatPlaceholder(c Category, n int) string {
	return fmt.Sprintf("[PHI_%s_%d]", c, n)
}

// ParsePlaceholder splits a placeholder into its category and index
func ParsePlaceholder(token string) (Category, int, error) {
	parts := exactPlaceholderPattern.FindStringSubmatch(token)
	if parts == nil {
		return "", 0, fmt.Errorf("malformed placeholder: %q", token)
	}

	category := Category(parts[1])
	if !category.Valid() {
		return "", 0, fmt.Errorf("placeholder %q has unknown category", token)
	}

	index, err := strconv.Atoi(parts[2])
	if err != nil || index < 1 {
		return "", 0, fmt.Errorf("placeholder %q has invalid index", token)
	}

	return category, index, nil
}

// PlaceholderSpans returns the [start, end) byte offsets of every well-formed placeholder in text
func PlaceholderSpans(text string) [][]int {
	return placeholderPattern.FindAllStringIndex(text, -1)
}

// splice replaces text[start:end] with a new value
type splice struct {
	start int
	end   int
	with  string
}

// spliceDescending applies ascending, non-overlapping splices to text.
// The output buffer is filled from its tail, walking splices from the highest offset
// to the lowest, so no splice is ever shifted by one applied before it.
func spliceDescending(text string, splices []splice) string {
	if len(splices) == 0 {
		return text
	}

	size := len(text)
	for _, s := range splices {
		size += len(s.with) - (s.end - s.start)
	}

	buf := make([]byte, size)
	w := size
	tail := len(text)
	for i := len(splices) - 1; i >= 0; i-- {
		s := splices[i]
		w -= tail - s.end
		copy(buf[w:], text[s.end:tail])
		w -= len(s.with)
		copy(buf[w:], s.with)
		tail = s.start
	}
	copy(buf[:w], text[:tail])

	return string(buf)
}
