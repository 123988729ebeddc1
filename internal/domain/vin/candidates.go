package vin

import (
	"strings"

	"github.com/rs/zerolog/log"
)

// MaxVariants bounds the ambiguous-character expansion. A frame full of
// B/8 confusions would otherwise produce 2^n variants and stall the
// validation sweep.
const MaxVariants = 64

// bodySubstitutions corrects common OCR confusions at every position
// except the check digit.
var bodySubstitutions = map[byte]byte{
	'O': '0',
	'I': '1',
	'L': '1',
	'|': '1',
	'S': '5',
	'Z': '2',
	'G': '6',
	'T': '7',
}

// checkDigitSubstitutions resolves position 9, which only admits [0-9X].
var checkDigitSubstitutions = map[byte]byte{
	'O': '0',
	'I': '1',
	'L': '1',
	'Z': '2',
	'E': '3',
	'A': '4',
	'H': '4',
	'S': '5',
	'G': '6',
	'T': '7',
	'B': '8',
	'Q': '9',
}

// GenerateCandidates turns noisy recognized text into a deduplicated set
// of plausible VIN strings: correct length and alphabet, check digit
// position restricted to [0-9X]. Full check-digit validation is the
// caller's job, so repeated frames can skip candidates they already
// checked. A clean input that already validates short-circuits to a
// single candidate.
func GenerateCandidates(rawText string) []string {
	cleaned := Normalize(rawText)
	if cleaned == "" {
		return nil
	}

	// Fast path: a well-formed string with a valid check digit needs no
	// expansion.
	if len(cleaned) == Length &&
		!strings.ContainsAny(cleaned, "IOQ") &&
		isCheckDigitChar(cleaned[CheckDigitPos-1]) &&
		IsValid(cleaned) {
		return []string{cleaned}
	}

	corrected := applySubstitutions(cleaned)
	variants := expandAmbiguous(corrected)

	seen := make(map[string]struct{}, len(variants))
	candidates := make([]string, 0, len(variants))
	for _, v := range variants {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		if !HasValidFormat(v) {
			continue
		}
		if !isCheckDigitChar(v[CheckDigitPos-1]) {
			continue
		}
		candidates = append(candidates, v)
	}
	return candidates
}

func isCheckDigitChar(c byte) bool {
	return c == 'X' || (c >= '0' && c <= '9')
}

// applySubstitutions rewrites the body with the general confusion map and
// the check digit position with its stricter map.
func applySubstitutions(s string) string {
	out := []byte(s)
	for i := range out {
		if i == CheckDigitPos-1 && len(s) == Length {
			if r, ok := checkDigitSubstitutions[out[i]]; ok {
				out[i] = r
			}
			continue
		}
		if r, ok := bodySubstitutions[out[i]]; ok {
			out[i] = r
		}
	}
	return string(out)
}

// expandAmbiguous produces every B/8 combination over the non-check-digit
// positions holding a B, up to MaxVariants. Combinations are walked
// lowest index first so the retained prefix is deterministic when the
// cap trips.
func expandAmbiguous(s string) []string {
	var positions []int
	for i := 0; i < len(s); i++ {
		if i == CheckDigitPos-1 && len(s) == Length {
			continue
		}
		if s[i] == 'B' {
			positions = append(positions, i)
		}
	}
	if len(positions) == 0 {
		return []string{s}
	}

	total := 1 << len(positions)
	capped := total
	if capped > MaxVariants {
		capped = MaxVariants
		log.Warn().
			Int("ambiguous_positions", len(positions)).
			Int("total_variants", total).
			Int("cap", MaxVariants).
			Msg("capping ambiguous VIN variant expansion")
	}

	variants := make([]string, 0, capped)
	buf := []byte(s)
	for mask := 0; mask < capped; mask++ {
		for bit, pos := range positions {
			if mask&(1<<bit) != 0 {
				buf[pos] = '8'
			} else {
				buf[pos] = 'B'
			}
		}
		variants = append(variants, string(buf))
	}
	return variants
}
