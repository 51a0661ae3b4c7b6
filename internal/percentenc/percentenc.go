// Package percentenc implements the UTF-8 percent-encoding scheme used to
// render string values onto the beacon wire format.
package percentenc

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// isUnreserved reports whether b is in the base unreserved set: A-Z a-z 0-9 - . _ ~
func isUnreserved(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z':
		return true
	case b >= 'a' && b <= 'z':
		return true
	case b >= '0' && b <= '9':
		return true
	case b == '-' || b == '.' || b == '_' || b == '~':
		return true
	default:
		return false
	}
}

const hexDigits = "0123456789ABCDEF"

// Encode percent-encodes s as UTF-8 bytes. A byte is emitted literally when
// it is in the unreserved set and not present in additionalReserved;
// otherwise it is emitted as %XX with upper-case hex digits.
//
// additionalReserved is interpreted as a set of raw bytes the caller wants
// escaped even though they would otherwise be unreserved (the assembler
// always passes {'_'} so that the underscore used as a tag separator is
// unambiguous).
func Encode(s string, additionalReserved string) (string, error) {
	if !utf8.ValidString(s) {
		return "", fmt.Errorf("percentenc: input is not valid UTF-8")
	}

	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) && !strings.ContainsRune(additionalReserved, rune(c)) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}

	return b.String(), nil
}
