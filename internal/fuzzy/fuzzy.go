// Package fuzzy scores string similarity on a 0-100 scale with the
// ratio family popularised by fuzzywuzzy.
package fuzzy

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// Process lowercases s, turns every non-alphanumeric rune into a space and
// trims the result.
func Process(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.TrimSpace(mapped)
}

// Ratio is the normalised indel similarity of a and b, rounded to an
// integer. Either side empty scores 0.
func Ratio(a, b string) int {
	return ratio([]rune(a), []rune(b))
}

func ratio(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	total := len(a) + len(b)
	// DefaultOptions prices a substitution as a delete plus an insert, which
	// makes the distance the indel distance.
	d := levenshtein.DistanceForStrings(a, b, levenshtein.DefaultOptions)
	return int(math.Round(100 * float64(total-d) / float64(total)))
}

// PartialRatio is the best Ratio of the shorter string against the windows
// of the longer one. Besides every full-length window this includes the
// shorter windows where the shorter string overhangs either end, so "xapp"
// against "apple" aligns "app" with the head of "apple".
func PartialRatio(a, b string) int {
	short, long := []rune(a), []rune(b)
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) == 0 {
		return 0
	}

	best := 0
	try := func(window []rune) bool {
		if r := ratio(short, window); r > best {
			best = r
		}
		return best == 100
	}
	for n := 1; n < len(short); n++ {
		if try(long[:n]) {
			return best
		}
	}
	for i := 0; i+len(short) <= len(long); i++ {
		if try(long[i : i+len(short)]) {
			return best
		}
	}
	for i := len(long) - len(short) + 1; i < len(long); i++ {
		if try(long[i:]) {
			return best
		}
	}
	return best
}

// TokenSetPartialRatio compares the processed token sets of a and b: the
// shared tokens against each side's full sorted set, and the two full sets
// against each other, taking the best partial ratio.
func TokenSetPartialRatio(a, b string) int {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	var sect, onlyA, onlyB []string
	for t := range ta {
		if tb[t] {
			sect = append(sect, t)
		} else {
			onlyA = append(onlyA, t)
		}
	}
	for t := range tb {
		if !ta[t] {
			onlyB = append(onlyB, t)
		}
	}
	sort.Strings(sect)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	s := strings.Join(sect, " ")
	c1 := strings.TrimSpace(s + " " + strings.Join(onlyA, " "))
	c2 := strings.TrimSpace(s + " " + strings.Join(onlyB, " "))

	return max(PartialRatio(s, c1), PartialRatio(s, c2), PartialRatio(c1, c2))
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range strings.Fields(Process(s)) {
		set[t] = true
	}
	return set
}
