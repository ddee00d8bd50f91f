/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package updates

import "strings"

// Ordering of the special version forms. Anything unrecognised sorts below dev.
var specialForms = []struct {
	name  string
	order int
}{
	{"dev", 0},
	{"alpha", 1}, {"a", 1},
	{"beta", 2}, {"b", 2},
	{"RC", 3}, {"rc", 3},
	{"#", 4},
	{"pl", 5}, {"p", 5},
}

// numberForm stands in for a numeric part when compared to a special form.
const numberForm = "#N#"

// CompareVersions orders version strings the way PHP's version_compare does
// and returns -1, 0 or 1. Update servers publish PHP-style versions, so
// "1.0rc1" < "1.0" < "1.0.1" < "1.0pl1".
func CompareVersions(a, b string) int {
	if a == "" || b == "" {
		switch {
		case a == "" && b == "":
			return 0
		case a == "":
			return -1
		default:
			return 1
		}
	}

	pa := splitVersion(canonicalVersion(a))
	pb := splitVersion(canonicalVersion(b))

	i := 0
	for ; i < len(pa) && i < len(pb); i++ {
		if c := comparePart(pa[i], pb[i]); c != 0 {
			return c
		}
	}

	switch {
	case i < len(pa):
		if isDigit(pa[i][0]) {
			return 1
		}
		return CompareVersions(strings.Join(pa[i:], "."), numberForm)
	case i < len(pb):
		if isDigit(pb[i][0]) {
			return -1
		}
		return CompareVersions(numberForm, strings.Join(pb[i:], "."))
	}
	return 0
}

// canonicalVersion turns separators into dots and splits runs of digits
// from runs of letters: "1.0-rc1" becomes "1.0.rc.1".
func canonicalVersion(v string) string {
	var b strings.Builder
	b.Grow(len(v) * 2)
	last := func() byte {
		s := b.String()
		if s == "" {
			return 0
		}
		return s[len(s)-1]
	}

	b.WriteByte(v[0])
	prev := v[0]
	for i := 1; i < len(v); i++ {
		c := v[i]
		switch {
		case c == '-' || c == '_' || c == '+':
			if last() != '.' {
				b.WriteByte('.')
			}
		case (isNonDigit(prev) && isDigit(c)) || (isDigit(prev) && isNonDigit(c)):
			if last() != '.' {
				b.WriteByte('.')
			}
			b.WriteByte(c)
		case !isAlnum(c):
			if last() != '.' {
				b.WriteByte('.')
			}
		default:
			b.WriteByte(c)
		}
		prev = c
	}
	return b.String()
}

func splitVersion(v string) []string {
	return strings.FieldsFunc(v, func(r rune) bool { return r == '.' })
}

func comparePart(a, b string) int {
	da, db := isDigit(a[0]), isDigit(b[0])
	switch {
	case da && db:
		return compareNumeric(a, b)
	case !da && !db:
		return compareSpecial(a, b)
	case da:
		return compareSpecial(numberForm, b)
	default:
		return compareSpecial(a, numberForm)
	}
}

// compareNumeric compares digit strings of any length.
func compareNumeric(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return sign(strings.Compare(a, b))
}

func compareSpecial(a, b string) int {
	return sign(specialOrder(a) - specialOrder(b))
}

func specialOrder(form string) int {
	for _, f := range specialForms {
		if strings.HasPrefix(form, f.name) {
			return f.order
		}
	}
	return -1
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}

func isDigit(c byte) bool    { return c >= '0' && c <= '9' }
func isNonDigit(c byte) bool { return !isDigit(c) && c != '.' }
func isAlnum(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
