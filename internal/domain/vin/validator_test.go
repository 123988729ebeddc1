package vin

import (
	"strings"
	"testing"
)

func TestIsValid(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		want      bool
	}{
		{name: "known good Honda VIN", candidate: "1HGCM82633A004352", want: true},
		{name: "all ones", candidate: "11111111111111111", want: true},
		{name: "wrong check digit", candidate: "1HGCM82634A004352", want: false},
		{name: "too short", candidate: "1HGCM82633A00435", want: false},
		{name: "too long", candidate: "1HGCM82633A0043521", want: false},
		{name: "contains I", candidate: "1HGCM82633A00435I", want: false},
		{name: "contains O", candidate: "1HGCM82633A00435O", want: false},
		{name: "contains Q", candidate: "QHGCM82633A004352", want: false},
		{name: "lowercase rejected", candidate: "1hgcm82633a004352", want: false},
		{name: "empty", candidate: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValid(tt.candidate); got != tt.want {
				t.Errorf("IsValid(%q) = %v, want %v", tt.candidate, got, tt.want)
			}
		})
	}
}

func TestCheckDigit(t *testing.T) {
	got, ok := CheckDigit("1HGCM82633A004352")
	if !ok {
		t.Fatal("CheckDigit returned not ok for a valid VIN")
	}
	if got != '3' {
		t.Errorf("CheckDigit = %c, want 3", got)
	}

	if _, ok := CheckDigit("1HGCM82633A00435"); ok {
		t.Error("CheckDigit accepted a 16-character string")
	}
	if _, ok := CheckDigit("IHGCM82633A004352"); ok {
		t.Error("CheckDigit accepted a string containing I")
	}
}

// WithCheckDigit builds a syntactically complete VIN by overwriting
// position 9 with the computed check digit.
func withCheckDigit(t *testing.T, body string) string {
	t.Helper()
	if len(body) != Length {
		t.Fatalf("body must be %d characters, got %d", Length, len(body))
	}
	b := []byte(body)
	b[CheckDigitPos-1] = '0'
	cd, ok := CheckDigit(string(b))
	if !ok {
		t.Fatalf("cannot compute check digit for %q", body)
	}
	b[CheckDigitPos-1] = cd
	return string(b)
}

func TestCheckDigitRoundTrip(t *testing.T) {
	bodies := []string{
		"WVWZZZ3BZ0E689725",
		"JN1CV6AP0BM503210",
		"5YJSA1DN0DFP14705",
		"KM8JU3AC0BU265432",
		"1FTFW1ET0BFC10312",
	}

	for _, body := range bodies {
		vin := withCheckDigit(t, body)
		if !IsValid(vin) {
			t.Errorf("IsValid(%q) = false after computing check digit", vin)
		}
	}
}

// Flipping a single non-check-digit character should defeat the check
// digit for the large majority of positions. A few flips coincidentally
// revalidate, so only a majority is asserted.
func TestSingleFlipMostlyFails(t *testing.T) {
	vin := "1HGCM82633A004352"
	alphabet := "0123456789ABCDEFGHJKLMNPRSTUVWXYZ"

	flips, failed := 0, 0
	for pos := 0; pos < Length; pos++ {
		if pos == CheckDigitPos-1 {
			continue
		}
		for i := 0; i < len(alphabet); i++ {
			c := alphabet[i]
			if c == vin[pos] {
				continue
			}
			mutated := vin[:pos] + string(c) + vin[pos+1:]
			flips++
			if !IsValid(mutated) {
				failed++
			}
		}
	}

	if failed*2 <= flips {
		t.Errorf("only %d of %d single-character flips failed validation", failed, flips)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1hgcm82633a004352", "1HGCM82633A004352"},
		{" 1HG CM8 2633 A004352 ", "1HGCM82633A004352"},
		{"1HG\tCM82633\nA004352", "1HGCM82633A004352"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHasValidFormat(t *testing.T) {
	if !HasValidFormat("1HGCM82633A004352") {
		t.Error("rejected a well-formed VIN")
	}
	for _, bad := range []string{"1HGCM82633A00435I", "1HGCM82633A00435O", "1HGCM82633A00435Q"} {
		if HasValidFormat(bad) {
			t.Errorf("accepted %q containing an excluded letter", bad)
		}
	}
	if HasValidFormat(strings.Repeat("A", 16)) {
		t.Error("accepted a 16-character string")
	}
}
