// Package regnum formats registration numbers of the form REG<YY><NNNNN>,
// where YY is the two-digit enrollment year and NNNNN a zero-padded
// sequence starting at 00001 each year.
package regnum

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

const (
	marker       = "REG"
	suffixDigits = 5
	maxSequence  = 99999
)

var (
	// ErrExhausted signals that the year's sequence space is used up.
	ErrExhausted = errors.New("registration number sequence exhausted")

	pattern = regexp.MustCompile(`^REG(\d{2})(\d{5})$`)
)

// Prefix returns the year-scoped prefix, e.g. "REG26" in 2026.
func Prefix(t time.Time) string {
	return fmt.Sprintf("%s%02d", marker, t.Year()%100)
}

// Format builds the full number from a prefix and sequence value.
func Format(prefix string, seq int) string {
	return fmt.Sprintf("%s%0*d", prefix, suffixDigits, seq)
}

// First returns the first number of the year, sequence 00001.
func First(t time.Time) string {
	return Format(Prefix(t), 1)
}

// Next returns the number following current. current must be well formed;
// the year prefix is preserved.
func Next(current string) (string, error) {
	m := pattern.FindStringSubmatch(current)
	if m == nil {
		return "", fmt.Errorf("malformed registration number %q", current)
	}
	seq, err := strconv.Atoi(m[2])
	if err != nil {
		return "", fmt.Errorf("malformed registration number %q", current)
	}
	if seq >= maxSequence {
		return "", ErrExhausted
	}
	return Format(marker+m[1], seq+1), nil
}

// Valid reports whether s is a well-formed registration number.
func Valid(s string) bool {
	return pattern.MatchString(s)
}
