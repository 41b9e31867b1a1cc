package fetch

import (
	"regexp"
	"strconv"
)

var contentRangePattern = regexp.MustCompile(`^bytes (\d+)-(\d+)/(\d+)$`)

// ContentRange is a parsed "bytes <start>-<end>/<size>" header.
type ContentRange struct {
	Start uint64
	End   uint64
	Size  uint64
}

// ParseContentRange accepts only the strict complete-length form. Unsatisfied
// ("bytes */n") and unknown-length ("bytes a-b/*") forms are rejected.
func ParseContentRange(header string) (ContentRange, bool) {
	m := contentRangePattern.FindStringSubmatch(header)
	if m == nil {
		return ContentRange{}, false
	}

	var vals [3]uint64
	for i := range vals {
		v, err := strconv.ParseUint(m[i+1], 10, 64)
		if err != nil {
			return ContentRange{}, false
		}
		vals[i] = v
	}

	return ContentRange{Start: vals[0], End: vals[1], Size: vals[2]}, true
}
