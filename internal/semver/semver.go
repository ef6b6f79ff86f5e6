// Package semver orders semantic version strings.
//
// This is a thin wrapper around github.com/Masterminds/semver/v3. Parsing is
// strict: a missing trailing component is treated as zero ("1.2" == "1.2.0")
// but non-numeric components are rejected rather than silently mis-ordered.
package semver

import (
	"fmt"

	mm "github.com/Masterminds/semver/v3"
)

// Compare compares a and b, returning:
// -1 if a < b
//
//	0 if a == b
//	1 if a > b
//
// Components are compared left-to-right as integers, so "1.10.0" > "1.9.0".
func Compare(a, b string) (int, error) {
	va, err := mm.NewVersion(a)
	if err != nil {
		return 0, fmt.Errorf("semver: parse version %q: %w", a, err)
	}
	vb, err := mm.NewVersion(b)
	if err != nil {
		return 0, fmt.Errorf("semver: parse version %q: %w", b, err)
	}
	return va.Compare(vb), nil
}

// AtLeast reports whether v >= minimum.
func AtLeast(v, minimum string) (bool, error) {
	c, err := Compare(v, minimum)
	if err != nil {
		return false, err
	}
	return c >= 0, nil
}
