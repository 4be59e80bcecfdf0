// Package slug builds URL slugs from business and category names.
package slug

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// MaxLength caps generated slugs in runes, before any numeric suffix.
const MaxLength = 60

// Make lowercases s and joins its letters and digits with single hyphens.
// Latin letters are folded to ASCII, so "Café Déjà Vu & Co." becomes
// "cafe-deja-vu-co". Other scripts are kept with their combining marks:
// "शर्मा टेलर्स" becomes "शर्मा-टेलर्स".
func Make(s string) string {
	var b strings.Builder
	pendingHyphen := false
	// Marks attach to the preceding kept letter; after a folded Latin letter
	// they are dropped.
	keepMarks := false
	emit := func(r rune) {
		if pendingHyphen && b.Len() > 0 {
			b.WriteByte('-')
		}
		pendingHyphen = false
		b.WriteRune(r)
	}

	for _, r := range strings.ToLower(norm.NFC.String(s)) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			emit(r)
			keepMarks = false
		case unicode.Is(unicode.Latin, r):
			// NFD splits off diacritics, which the ASCII check then drops.
			for _, f := range norm.NFD.String(string(r)) {
				if f < unicode.MaxASCII && (unicode.IsLetter(f) || unicode.IsDigit(f)) {
					emit(f)
				}
			}
			keepMarks = false
		case unicode.In(r, unicode.Mn, unicode.Mc):
			if keepMarks && !pendingHyphen {
				b.WriteRune(r)
			}
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			emit(r)
			keepMarks = true
		default:
			pendingHyphen = true
			keepMarks = false
		}
	}

	out := []rune(b.String())
	if len(out) > MaxLength {
		return strings.TrimRight(string(out[:MaxLength]), "-")
	}
	return string(out)
}

// ExistsFunc reports whether a slug is taken.
type ExistsFunc func(ctx context.Context, slug string) (bool, error)

// Unique returns Make(name), or the first of name-2, name-3, ... that exists
// reports as free. fallback is used when name has no usable characters.
func Unique(ctx context.Context, name, fallback string, exists ExistsFunc) (string, error) {
	base := Make(name)
	if base == "" {
		base = Make(fallback)
	}
	if base == "" {
		return "", fmt.Errorf("cannot derive slug from %q", name)
	}

	candidate := base
	for n := 2; n < 1000; n++ {
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("check slug %q: %w", candidate, err)
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, n)
	}
	return "", fmt.Errorf("no free slug for %q", base)
}
