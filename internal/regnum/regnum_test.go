package regnum

import (
	"errors"
	"testing"
	"time"
)

func TestPrefixUsesTwoDigitYear(t *testing.T) {
	cases := []struct {
		year int
		want string
	}{
		{2026, "REG26"},
		{2030, "REG30"},
		{2100, "REG00"},
		{2009, "REG09"},
	}
	for _, tc := range cases {
		at := time.Date(tc.year, time.March, 1, 0, 0, 0, 0, time.UTC)
		if got := Prefix(at); got != tc.want {
			t.Fatalf("Prefix(%d) = %q, want %q", tc.year, got, tc.want)
		}
	}
}

func TestFirstStartsAtOne(t *testing.T) {
	at := time.Date(2026, time.September, 1, 0, 0, 0, 0, time.UTC)
	if got := First(at); got != "REG2600001" {
		t.Fatalf("First = %q, want REG2600001", got)
	}
}

func TestNextIncrementsAndPads(t *testing.T) {
	cases := []struct {
		current, want string
	}{
		{"REG2600001", "REG2600002"},
		{"REG2600009", "REG2600010"},
		{"REG2600099", "REG2600100"},
		{"REG2612345", "REG2612346"},
	}
	for _, tc := range cases {
		got, err := Next(tc.current)
		if err != nil {
			t.Fatalf("Next(%q): %v", tc.current, err)
		}
		if got != tc.want {
			t.Fatalf("Next(%q) = %q, want %q", tc.current, got, tc.want)
		}
	}
}

func TestNextRejectsMalformed(t *testing.T) {
	for _, s := range []string{"", "REG26", "REG26123456", "REG26ABCDE", "XYZ2600001", "reg2600001"} {
		if _, err := Next(s); err == nil {
			t.Fatalf("Next(%q) accepted malformed input", s)
		}
	}
}

func TestNextExhaustion(t *testing.T) {
	if _, err := Next("REG2699999"); !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
}

func TestValid(t *testing.T) {
	if !Valid("REG2600001") {
		t.Fatalf("REG2600001 must be valid")
	}
	for _, s := range []string{"REG26001", "REG260000001", "REF2600001", ""} {
		if Valid(s) {
			t.Fatalf("%q must be invalid", s)
		}
	}
}
