// Package versioning orders the dot-separated numeric versions carried in
// dependency names such as "bonita-event-2.1.3".
package versioning

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Version is a parsed dot-numeric version. The empty string parses to an
// empty Version, which orders below any version with a non-zero component.
type Version []int

// Parse splits s on "." and reads every component as a non-negative integer.
func Parse(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}, nil
	}
	parts := strings.Split(s, ".")
	v := make(Version, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || strings.HasPrefix(p, "+") {
			return nil, fmt.Errorf("invalid version component %q in %q", p, s)
		}
		v[i] = n
	}
	return v, nil
}

func (v Version) String() string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}

// Compare returns -1, 0 or 1. Shared components are compared left to right;
// when one version is a prefix of the other, the longer one is greater only
// if one of its extra components is non-zero, so "2.1" equals "2.1.0".
func (v Version) Compare(other Version) int {
	n := min(len(v), len(other))
	for i := 0; i < n; i++ {
		if c := compareInt(v[i], other[i]); c != 0 {
			return c
		}
	}
	for _, x := range v[n:] {
		if x != 0 {
			return 1
		}
	}
	for _, x := range other[n:] {
		if x != 0 {
			return -1
		}
	}
	return 0
}

func compareInt(a, b int) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// Compare parses and compares two version strings.
func Compare(a, b string) (int, error) {
	va, err := Parse(a)
	if err != nil {
		return 0, err
	}
	vb, err := Parse(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}

// IsUpper reports whether candidate is strictly greater than existing.
// Equal versions are not upper. When either side cannot be parsed the
// candidate wins, so a malformed inventory entry never blocks a deployment.
func IsUpper(candidate, existing string) bool {
	c, err := Compare(candidate, existing)
	if err != nil {
		slog.Default().Warn("unparsable version, treating candidate as upper",
			"component", "versioning",
			"candidate", candidate,
			"existing", existing,
			"error", err,
		)
		return true
	}
	return c > 0
}
